package export

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/geo-report/internal/derive"
	"github.com/sells-group/geo-report/internal/layer"
)

// Sheet names written by CensusXLSX.
const (
	SheetEstimates = "estimates"
	SheetSummary   = "summary"
)

var estimateHeader = []string{"GEOID", "Name", "Variable", "Code", "Estimate", "MOE", "Summary", "Summary MOE", "Value"}

// CensusXLSX writes the derived values, one row per record, plus a
// per-variable summary sheet. Undefined numbers are left blank.
func CensusXLSX(path string, values []derive.Value) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(SheetEstimates)
	if err != nil {
		return eris.Wrap(err, "export: add estimates sheet")
	}
	addStrings(sheet.AddRow(), estimateHeader...)
	for _, v := range values {
		r := v.Record
		row := sheet.AddRow()
		addStrings(row, r.GEOID, r.Name, r.Variable, r.Code)
		addFloats(row, r.Estimate, r.MOE, r.Summary, r.SummaryMOE, v.Metric)
	}

	summary, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	addStrings(summary.AddRow(), "Variable", "Count", "No data", "Min", "Max", "Mean")
	for _, s := range derive.Summarize(values) {
		row := summary.AddRow()
		addStrings(row, s.Variable)
		row.AddCell().SetInt(s.Count)
		row.AddCell().SetInt(s.NoData)
		addFloats(row, s.Min, s.Max, s.Mean)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// LayerXLSX writes a layer's attribute table, one sheet named after it.
func LayerXLSX(path string, l *layer.Layer) error {
	f := xlsx.NewFile()
	name := l.Name
	if len(name) > 31 {
		name = name[:31]
	}
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %s", name)
	}
	addStrings(sheet.AddRow(), l.Fields...)
	for _, rec := range l.Records {
		row := sheet.AddRow()
		for _, field := range l.Fields {
			row.AddCell().SetString(rec.Attrs[field])
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addFloats(row *xlsx.Row, values ...float64) {
	for _, v := range values {
		cell := row.AddCell()
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		cell.SetFloat(v)
	}
}
