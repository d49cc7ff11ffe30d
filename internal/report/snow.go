// Package report runs the Snow and census analyses end to end and writes a
// Markdown report linking their plots.
package report

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/layer"
	"github.com/sells-group/geo-report/internal/render"
	"github.com/sells-group/geo-report/internal/reproject"
	"github.com/sells-group/geo-report/internal/tiles"
)

// Default Snow styles: deaths sized by count in translucent red, pumps blue.
var (
	DefaultDeathStyle = render.Style{Color: "#d62728", Alpha: 0.6, SizeRange: [2]float64{3, 14}}
	DefaultPumpStyle  = render.Style{Color: "#1f4fd6", Size: 7}
)

// SnowOptions configures the cholera map.
type SnowOptions struct {
	RunID      string
	Dataset    string
	DeathLayer string
	PumpLayer  string
	CountField string
	TargetEPSG int
	OutputDir  string
	// Base is the basemap source; nil draws the layers on a blank canvas.
	Base       tiles.Source
	Render     render.Options
	DeathStyle *render.Style
	PumpStyle  *render.Style
}

// PumpTally counts the deaths whose nearest pump is this one. X and Y are
// in the CRS the tally ran in; MeanDist is ground distance in metres.
type PumpTally struct {
	Index    int
	X, Y     float64
	Deaths   int
	MeanDist float64
}

// SnowResult describes one Snow run.
type SnowResult struct {
	RunID  string
	Image  string
	Deaths layer.Summary
	Pumps  layer.Summary
	// Projected summaries after reprojection.
	DeathsProjected layer.Summary
	PumpsProjected  layer.Summary
	TotalDeaths     int
	Marks           int
	Zoom            int
	Tiles           int
	Tallies         []PumpTally
}

func (o SnowOptions) withDefaults() SnowOptions {
	if o.DeathLayer == "" {
		o.DeathLayer = "Cholera_Deaths"
	}
	if o.PumpLayer == "" {
		o.PumpLayer = "Pumps"
	}
	if o.CountField == "" {
		o.CountField = "Count"
	}
	if o.TargetEPSG == 0 {
		o.TargetEPSG = crs.EPSGWebMercator
	}
	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	return o
}

// Snow loads the death and pump layers, reprojects both to the target CRS,
// overlays deaths (sized by count) and then pumps, and writes the PNG.
func Snow(ctx context.Context, opts SnowOptions) (*SnowResult, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "report.snow"), zap.String("run_id", opts.RunID))

	target, err := crs.Lookup(opts.TargetEPSG)
	if err != nil {
		return nil, eris.Wrapf(err, "report: target EPSG:%d", opts.TargetEPSG)
	}

	ds, err := layer.Open(opts.Dataset)
	if err != nil {
		return nil, eris.Wrap(err, "report: open dataset")
	}
	defer ds.Close() //nolint:errcheck

	deaths, err := ds.Layer(opts.DeathLayer)
	if err != nil {
		return nil, err
	}
	pumps, err := ds.Layer(opts.PumpLayer)
	if err != nil {
		return nil, err
	}

	res := &SnowResult{
		RunID:  opts.RunID,
		Deaths: layer.Summarize(deaths),
		Pumps:  layer.Summarize(pumps),
	}

	srcDeaths, srcPumps := deaths, pumps

	deaths, err = reproject.Layer(deaths, target)
	if err != nil {
		return nil, eris.Wrapf(err, "report: reproject %s", opts.DeathLayer)
	}
	pumps, err = reproject.Layer(pumps, target)
	if err != nil {
		return nil, eris.Wrapf(err, "report: reproject %s", opts.PumpLayer)
	}
	res.DeathsProjected = layer.Summarize(deaths)
	res.PumpsProjected = layer.Summarize(pumps)

	deathStyle := DefaultDeathStyle
	if opts.DeathStyle != nil {
		deathStyle = *opts.DeathStyle
	}
	pumpStyle := DefaultPumpStyle
	if opts.PumpStyle != nil {
		pumpStyle = *opts.PumpStyle
	}
	if deaths.HasField(opts.CountField) {
		deathStyle.SizeBy = opts.CountField
		for i := range deaths.Records {
			n, err := deaths.Float(i, opts.CountField)
			if err != nil {
				return nil, eris.Wrapf(err, "report: %s record %d", opts.CountField, i)
			}
			res.TotalDeaths += int(n)
		}
	} else {
		log.Warn("report: death layer has no count field; sizing uniformly", zap.String("field", opts.CountField))
		res.TotalDeaths = deaths.Len()
	}
	if crs.Equal(srcDeaths.CRS, srcPumps.CRS) && !srcDeaths.CRS.Geographic() {
		res.Tallies = tallyNearest(srcDeaths, srcPumps, opts.CountField)
	} else {
		res.Tallies = tallyNearest(deaths, pumps, opts.CountField)
	}

	base := opts.Base
	if base != nil && base.CRS() != target.Code {
		log.Warn("report: basemap CRS differs from target; drawing without tiles",
			zap.Int("basemap", base.CRS()), zap.Int("target", target.Code))
		base = nil
	}
	plot, err := render.Overlay(ctx, base, []render.LayerSpec{
		{Layer: deaths, Style: deathStyle},
		{Layer: pumps, Style: pumpStyle},
	}, opts.Render)
	if err != nil {
		return nil, eris.Wrap(err, "report: overlay")
	}
	res.Marks = len(plot.Marks)
	res.Zoom = plot.Zoom
	res.Tiles = plot.Tiles

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "report: create output dir")
	}
	res.Image = filepath.Join(opts.OutputDir, outputName("snow", opts.RunID, ".png"))
	if err := plot.SavePNG(res.Image); err != nil {
		return nil, err
	}

	log.Info("report: snow map written",
		zap.String("path", res.Image),
		zap.Int("marks", res.Marks),
		zap.Int("deaths", res.TotalDeaths),
	)
	return res, nil
}

// tallyNearest assigns each death record, weighted by count, to the nearest
// pump in the layers' shared CRS.
func tallyNearest(deaths, pumps *layer.Layer, countField string) []PumpTally {
	dist := groundDistance(deaths.CRS)
	tallies := make([]PumpTally, 0, pumps.Len())
	for i, rec := range pumps.Records {
		if p, ok := firstXY(rec); ok {
			tallies = append(tallies, PumpTally{Index: i, X: p[0], Y: p[1]})
		}
	}
	if len(tallies) == 0 {
		return nil
	}

	sums := make([]float64, len(tallies))
	for i, rec := range deaths.Records {
		d, ok := firstXY(rec)
		if !ok {
			continue
		}
		weight := 1
		if n, err := deaths.Float(i, countField); err == nil && n > 0 {
			weight = int(n)
		}
		best, bestDist := 0, math.Inf(1)
		for j, p := range tallies {
			if m := dist(d, [2]float64{p.X, p.Y}); m < bestDist {
				best, bestDist = j, m
			}
		}
		tallies[best].Deaths += weight
		sums[best] += bestDist * float64(weight)
	}
	for j := range tallies {
		if tallies[j].Deaths > 0 {
			tallies[j].MeanDist = sums[j] / float64(tallies[j].Deaths)
		}
	}
	return tallies
}

const (
	meanEarthRadius = 6371008.8
	mercatorRadius  = 6378137.0
)

// groundDistance returns an approximate metre distance for coordinates in
// c. Web Mercator lengths are scaled by cos(φ) at the segment midpoint;
// geographic coordinates use an equirectangular approximation. Other
// projected systems are taken as metric.
func groundDistance(c *crs.CRS) func(a, b [2]float64) float64 {
	switch {
	case c == nil:
		return euclid
	case c.Code == crs.EPSGWebMercator:
		return func(a, b [2]float64) float64 {
			lat := math.Atan(math.Sinh((a[1] + b[1]) / 2 / mercatorRadius))
			return euclid(a, b) * math.Cos(lat)
		}
	case c.Geographic():
		return func(a, b [2]float64) float64 {
			lat := (a[1] + b[1]) / 2 * math.Pi / 180
			dx := (b[0] - a[0]) * math.Pi / 180 * math.Cos(lat)
			dy := (b[1] - a[1]) * math.Pi / 180
			return math.Hypot(dx, dy) * meanEarthRadius
		}
	default:
		return euclid
	}
}

func euclid(a, b [2]float64) float64 { return math.Hypot(a[0]-b[0], a[1]-b[1]) }

func firstXY(rec layer.Record) ([2]float64, bool) {
	if rec.Geom == nil {
		return [2]float64{}, false
	}
	flat := rec.Geom.FlatCoords()
	if len(flat) < 2 {
		return [2]float64{}, false
	}
	return [2]float64{flat[0], flat[1]}, true
}

func outputName(kind, runID, ext string) string {
	if runID == "" {
		return kind + ext
	}
	return kind + "-" + runID + ext
}

// Outputs lists the files a result wrote.
func (r *SnowResult) Outputs() []string { return []string{r.Image} }
