// Package derive computes per-record metrics over census estimates.
package derive

import (
	"math"

	"github.com/sells-group/geo-report/internal/census"
)

// Value pairs a record with a derived metric. Metric is NaN when undefined.
type Value struct {
	Record census.Record
	Metric float64
}

// Func computes a metric for one record.
type Func func(census.Record) float64

// Percent returns 100 × raw / summary, or NaN when summary is zero or
// either input is NaN.
func Percent(raw, summary float64) float64 {
	if summary == 0 || math.IsNaN(raw) || math.IsNaN(summary) {
		return math.NaN()
	}
	return 100 * raw / summary
}

// PercentOfSummary is the Func form of Percent over Estimate and Summary.
func PercentOfSummary(r census.Record) float64 {
	return Percent(r.Estimate, r.Summary)
}

// Estimate passes the raw estimate through.
func Estimate(r census.Record) float64 { return r.Estimate }

// Apply maps fn over records, keeping their order. Records are copied.
func Apply(records []census.Record, fn Func) []Value {
	out := make([]Value, len(records))
	for i, r := range records {
		out[i] = Value{Record: r, Metric: fn(r)}
	}
	return out
}

// Stats summarises the finite metrics of one variable.
type Stats struct {
	Variable string
	Count    int
	NoData   int
	Min      float64
	Max      float64
	Mean     float64
}

// Summarize returns per-variable stats in first-appearance order.
func Summarize(values []Value) []Stats {
	var order []string
	byVar := make(map[string]*Stats)
	sums := make(map[string]float64)
	for _, v := range values {
		name := v.Record.Variable
		s, ok := byVar[name]
		if !ok {
			s = &Stats{Variable: name, Min: math.NaN(), Max: math.NaN(), Mean: math.NaN()}
			byVar[name] = s
			order = append(order, name)
		}
		if math.IsNaN(v.Metric) || math.IsInf(v.Metric, 0) {
			s.NoData++
			continue
		}
		if s.Count == 0 {
			s.Min, s.Max = v.Metric, v.Metric
		} else {
			s.Min = math.Min(s.Min, v.Metric)
			s.Max = math.Max(s.Max, v.Metric)
		}
		s.Count++
		sums[name] += v.Metric
	}

	out := make([]Stats, 0, len(order))
	for _, name := range order {
		s := byVar[name]
		if s.Count > 0 {
			s.Mean = sums[name] / float64(s.Count)
		}
		out = append(out, *s)
	}
	return out
}
