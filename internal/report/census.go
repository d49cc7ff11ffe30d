package report

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/census"
	"github.com/sells-group/geo-report/internal/derive"
	"github.com/sells-group/geo-report/internal/export"
	"github.com/sells-group/geo-report/internal/render"
)

// ACSFetcher is satisfied by *census.Client.
type ACSFetcher interface {
	ACS(ctx context.Context, q census.Query) ([]census.Record, error)
}

// CensusOptions configures the faceted census map.
type CensusOptions struct {
	RunID     string
	Query     census.Query
	OutputDir string
	Facet     render.FacetOptions
	XLSX      bool
	GeoJSON   bool
	// ImagePath and XLSXPath override the generated names under OutputDir.
	// A non-empty XLSXPath implies XLSX.
	ImagePath string
	XLSXPath  string
}

// CensusResult describes one census run.
type CensusResult struct {
	RunID   string
	Query   census.Query
	Image   string
	XLSX    string
	GeoJSON string
	Records int
	Skipped int
	Panels  []render.Panel
	Stats   []derive.Stats
	Scale   render.Scale
}

// Census fetches the query with geometry, derives percentages of the
// summary variable, facets one panel per variable and writes the PNG plus
// any requested tables.
func Census(ctx context.Context, client ACSFetcher, opts CensusOptions) (*CensusResult, error) {
	if client == nil {
		return nil, eris.New("report: nil census client")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	log := zap.L().With(zap.String("component", "report.census"), zap.String("run_id", opts.RunID))

	q := opts.Query
	q.Geometry = true
	records, err := client.ACS(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "report: fetch acs")
	}

	fn := derive.PercentOfSummary
	if q.SummaryVar == "" {
		fn = derive.Estimate
	}
	values := derive.Apply(records, fn)

	facet := opts.Facet
	if facet.LegendLabel == "" && q.SummaryVar != "" {
		facet.LegendLabel = "% of total"
	}
	plot, err := render.Facets(values, facet)
	if err != nil {
		return nil, eris.Wrap(err, "report: facet")
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "report: create output dir")
	}
	if opts.ImagePath == "" {
		opts.ImagePath = filepath.Join(opts.OutputDir, outputName("census", opts.RunID, ".png"))
	}
	res := &CensusResult{
		RunID:   opts.RunID,
		Query:   q,
		Image:   opts.ImagePath,
		Records: len(records),
		Skipped: plot.Skipped,
		Panels:  plot.Panels,
		Stats:   derive.Summarize(values),
		Scale:   plot.Scale,
	}
	if err := plot.SavePNG(res.Image); err != nil {
		return nil, err
	}

	if opts.XLSX || opts.XLSXPath != "" {
		res.XLSX = opts.XLSXPath
		if res.XLSX == "" {
			res.XLSX = filepath.Join(opts.OutputDir, outputName("census", opts.RunID, ".xlsx"))
		}
		if err := export.CensusXLSX(res.XLSX, values); err != nil {
			return nil, err
		}
	}
	if opts.GeoJSON {
		res.GeoJSON = filepath.Join(opts.OutputDir, outputName("census", opts.RunID, ".geojson"))
		if err := export.WriteFile(res.GeoJSON, func(w io.Writer) error {
			return export.CensusGeoJSON(w, values)
		}); err != nil {
			return nil, err
		}
	}

	log.Info("report: census map written",
		zap.String("path", res.Image),
		zap.Int("records", res.Records),
		zap.Int("panels", len(res.Panels)),
	)
	return res, nil
}

// Outputs lists the files a result wrote.
func (r *CensusResult) Outputs() []string {
	out := []string{r.Image}
	for _, p := range []string{r.XLSX, r.GeoJSON} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
