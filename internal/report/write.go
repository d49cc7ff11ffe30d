package report

import (
	"io"
	"math"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Report bundles the results rendered into one Markdown document. Either
// result may be nil.
type Report struct {
	RunID     string
	Generated time.Time
	Snow      *SnowResult
	Census    *CensusResult
}

var printer = message.NewPrinter(language.English)

var funcs = template.FuncMap{
	"base": filepath.Base,
	"num": func(v float64) string {
		if math.IsNaN(v) {
			return "n/a"
		}
		return printer.Sprintf("%.1f", v)
	},
	"int":    func(v int) string { return printer.Sprintf("%d", v) },
	"bounds": func(b [4]float64) string { return printer.Sprintf("(%.1f, %.1f) – (%.1f, %.1f)", b[0], b[1], b[2], b[3]) },
	"date":   func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") },
	"upper":  strings.ToUpper,
	"inc":    func(i int) int { return i + 1 },
}

var reportTmpl = template.Must(template.New("report").Funcs(funcs).Parse(`# Geospatial report

Run ` + "`{{.RunID}}`" + `, generated {{date .Generated}}.
{{with .Snow}}
## Cholera deaths and water pumps

Deaths from the 1854 Soho outbreak are drawn as circles sized by the number
of deaths at each address, with the neighbourhood pumps on top. Both layers
were reprojected from {{.Deaths.CRS}} to {{.DeathsProjected.CRS}} so they line up with the
basemap tiles; drawn unprojected, the points would sit far from the streets
they belong to.

![Snow map]({{base .Image}})

| Layer | CRS | Features | Extent |
|---|---|---:|---|
| {{.Deaths.Name}} | {{.Deaths.CRS}} | {{int .Deaths.Count}} | {{bounds .Deaths.Bounds}} |
| {{.Pumps.Name}} | {{.Pumps.CRS}} | {{int .Pumps.Count}} | {{bounds .Pumps.Bounds}} |
| {{.DeathsProjected.Name}} (projected) | {{.DeathsProjected.CRS}} | {{int .DeathsProjected.Count}} | {{bounds .DeathsProjected.Bounds}} |
| {{.PumpsProjected.Name}} (projected) | {{.PumpsProjected.CRS}} | {{int .PumpsProjected.Count}} | {{bounds .PumpsProjected.Bounds}} |

{{int .TotalDeaths}} deaths in total; {{int .Marks}} marks drawn{{if .Tiles}} over {{int .Tiles}} basemap tiles at zoom {{.Zoom}}{{end}}.
{{if .Tallies}}
| Pump | Deaths nearest | Mean distance (m) |
|---:|---:|---:|
{{range .Tallies}}| {{inc .Index}} | {{int .Deaths}} | {{num .MeanDist}} |
{{end}}{{end}}{{end}}{{with .Census}}
## Demographics by {{.Query.Geography.Level}}

ACS {{.Query.Year}} ({{.Query.Dataset}}) estimates for state {{upper .Query.Geography.State}}{{if .Query.Geography.County}}, county {{.Query.Geography.County}}{{end}}.
{{if .Query.SummaryVar}}Values are percentages of {{.Query.SummaryVar}}. {{end}}All panels share one colour scale from {{num .Scale.Min}} to {{num .Scale.Max}}.

![Census facets]({{base .Image}})

| Variable | Units | No data | Min | Max | Mean |
|---|---:|---:|---:|---:|---:|
{{range .Stats}}| {{.Variable}} | {{int .Count}} | {{int .NoData}} | {{num .Min}} | {{num .Max}} | {{num .Mean}} |
{{end}}{{if .Skipped}}
{{int .Skipped}} records had no boundary and were left off the map.
{{end}}{{if .XLSX}}
Table: [{{base .XLSX}}]({{base .XLSX}})
{{end}}{{end}}`))

// Write renders r as Markdown. Image links are relative to the report's
// directory, which is the results' output directory.
func Write(w io.Writer, r Report) error {
	if r.Generated.IsZero() {
		r.Generated = time.Now()
	}
	if err := reportTmpl.Execute(w, r); err != nil {
		return eris.Wrap(err, "report: render markdown")
	}
	return nil
}
