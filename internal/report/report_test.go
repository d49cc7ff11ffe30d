package report

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geo-report/internal/census"
	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/layer"
	"github.com/sells-group/geo-report/internal/layer/layertest"
	"github.com/sells-group/geo-report/internal/render"
	"github.com/sells-group/geo-report/internal/reproject"
	"github.com/sells-group/geo-report/internal/store"
)

// broadStreetMeanDist is the count-weighted mean BNG distance from the
// fixture deaths to the Broad Street pump.
func broadStreetMeanDist() float64 {
	var sum, n float64
	pump := layertest.SnowPumps[0]
	for _, d := range layertest.SnowDeaths {
		sum += math.Hypot(d.X-pump[0], d.Y-pump[1]) * float64(d.Count)
		n += float64(d.Count)
	}
	return sum / n
}

func TestTallyNearest_GroundMetres(t *testing.T) {
	ds, err := layer.Open(layertest.WriteSnow(t, t.TempDir()))
	require.NoError(t, err)
	defer ds.Close() //nolint:errcheck
	deaths, err := ds.Layer("Cholera_Deaths")
	require.NoError(t, err)
	pumps, err := ds.Layer("Pumps")
	require.NoError(t, err)

	want := broadStreetMeanDist()
	bng := tallyNearest(deaths, pumps, "Count")
	require.Len(t, bng, 3)
	assert.InDelta(t, want, bng[0].MeanDist, 1e-6)
	assert.Greater(t, bng[0].MeanDist, 45.0)
	assert.Less(t, bng[0].MeanDist, 90.0)

	for _, code := range []int{crs.EPSGWebMercator, crs.EPSGWGS84} {
		target := crs.MustLookup(code)
		d, err := reproject.Layer(deaths, target)
		require.NoError(t, err)
		p, err := reproject.Layer(pumps, target)
		require.NoError(t, err)

		got := tallyNearest(d, p, "Count")
		require.Len(t, got, 3)
		assert.Equal(t, 26, got[0].Deaths, "EPSG:%d", code)
		// BNG scale error and the spherical approximations stay well under 1%.
		assert.InEpsilon(t, want, got[0].MeanDist, 0.01, "EPSG:%d", code)
	}
}

func TestSnow(t *testing.T) {
	out := t.TempDir()
	res, err := Snow(context.Background(), SnowOptions{
		RunID:     "abc",
		Dataset:   layertest.WriteSnow(t, t.TempDir()),
		OutputDir: out,
		Render:    render.Options{Width: 320, Height: 320},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "snow-abc.png"), res.Image)
	assert.Equal(t, "EPSG:27700", res.Deaths.CRS)
	assert.Equal(t, "EPSG:3857", res.DeathsProjected.CRS)
	assert.Equal(t, 6, res.Deaths.Count)
	assert.Equal(t, 3, res.Pumps.Count)
	assert.Equal(t, 26, res.TotalDeaths)
	assert.Equal(t, 9, res.Marks)
	assert.Zero(t, res.Tiles)

	// Projected extents sit near Soho in Web Mercator metres.
	assert.InDelta(t, -15000, res.DeathsProjected.Bounds[0], 2000)
	assert.InDelta(t, 6712600, res.DeathsProjected.Bounds[1], 2000)

	// Every fixture death is closest to the Broad Street pump.
	require.Len(t, res.Tallies, 3)
	assert.Equal(t, 26, res.Tallies[0].Deaths)
	assert.Zero(t, res.Tallies[1].Deaths)
	assert.Zero(t, res.Tallies[2].Deaths)
	assert.InDelta(t, broadStreetMeanDist(), res.Tallies[0].MeanDist, 1e-6, "tallied in BNG metres")

	f, err := os.Open(res.Image)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
}

func TestSnow_MissingLayer(t *testing.T) {
	_, err := Snow(context.Background(), SnowOptions{
		Dataset:   layertest.WriteSnow(t, t.TempDir()),
		PumpLayer: "Wells",
		OutputDir: t.TempDir(),
	})
	require.Error(t, err)
}

func TestSnow_NoCountField(t *testing.T) {
	res, err := Snow(context.Background(), SnowOptions{
		Dataset:    layertest.WriteSnow(t, t.TempDir()),
		CountField: "Victims",
		OutputDir:  t.TempDir(),
		Render:     render.Options{Width: 128, Height: 128},
	})
	require.NoError(t, err)
	assert.Equal(t, 6, res.TotalDeaths)
	assert.Equal(t, "snow.png", filepath.Base(res.Image))
}

type fakeACS struct {
	records []census.Record
	err     error
	got     census.Query
}

func (f *fakeACS) ACS(_ context.Context, q census.Query) ([]census.Record, error) {
	f.got = q
	return f.records, f.err
}

func tract(x, y float64) *geom.Polygon {
	p := geom.NewPolygonFlat(geom.XY, []float64{
		x, y, x, y + 0.01, x + 0.01, y + 0.01, x + 0.01, y, x, y,
	}, []int{10})
	p.SetSRID(4269)
	return p
}

func censusRecords() []census.Record {
	a, b := tract(-87.70, 41.80), tract(-87.69, 41.80)
	return []census.Record{
		{GEOID: "17031010100", Variable: "white", Code: "B03002_003", Estimate: 400, Summary: 1000, Geometry: a},
		{GEOID: "17031010100", Variable: "black", Code: "B03002_004", Estimate: 500, Summary: 1000, Geometry: a},
		{GEOID: "17031010200", Variable: "white", Code: "B03002_003", Estimate: 50, Summary: 0, Geometry: b},
		{GEOID: "17031010200", Variable: "black", Code: "B03002_004", Estimate: 0, Summary: 0, Geometry: b},
		{GEOID: "17031010300", Variable: "white", Code: "B03002_003", Estimate: 10, Summary: 20},
		{GEOID: "17031010300", Variable: "black", Code: "B03002_004", Estimate: 5, Summary: 20},
	}
}

func TestCensus(t *testing.T) {
	out := t.TempDir()
	client := &fakeACS{records: censusRecords()}
	res, err := Census(context.Background(), client, CensusOptions{
		RunID: "r1",
		Query: census.Query{
			Year:       2019,
			Dataset:    "acs/acs5",
			Geography:  census.Geography{Level: census.LevelTract, State: "IL", County: "031"},
			SummaryVar: "B03002_001",
		},
		OutputDir: out,
		Facet:     render.FacetOptions{PanelWidth: 120, PanelHeight: 90},
		XLSX:      true,
		GeoJSON:   true,
	})
	require.NoError(t, err)

	assert.True(t, client.got.Geometry, "census maps always request boundaries")
	assert.Equal(t, 6, res.Records)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Panels, 2)
	assert.Equal(t, "white", res.Panels[0].Variable)
	assert.Equal(t, 1, res.Panels[0].NoData)

	require.Len(t, res.Stats, 2)
	assert.Equal(t, "white", res.Stats[0].Variable)
	assert.Equal(t, 2, res.Stats[0].Count)
	assert.Equal(t, 1, res.Stats[0].NoData)
	assert.InDelta(t, 40, res.Stats[0].Min, 1e-9)
	assert.InDelta(t, 50, res.Stats[0].Max, 1e-9)

	assert.InDelta(t, 40, res.Scale.Min, 1e-9)
	assert.InDelta(t, 50, res.Scale.Max, 1e-9)

	assert.Equal(t, []string{
		filepath.Join(out, "census-r1.png"),
		filepath.Join(out, "census-r1.xlsx"),
		filepath.Join(out, "census-r1.geojson"),
	}, res.Outputs())
	for _, p := range res.Outputs() {
		assert.FileExists(t, p)
	}
}

func TestCensus_EstimatesWithoutSummary(t *testing.T) {
	client := &fakeACS{records: censusRecords()}
	res, err := Census(context.Background(), client, CensusOptions{
		Query:     census.Query{Geography: census.Geography{Level: census.LevelTract, State: "17"}},
		OutputDir: t.TempDir(),
		Facet:     render.FacetOptions{PanelWidth: 60, PanelHeight: 60},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Scale.Min, 1e-9)
	assert.InDelta(t, 500, res.Scale.Max, 1e-9)
	assert.Equal(t, []string{res.Image}, res.Outputs())
}

func TestCensus_Errors(t *testing.T) {
	_, err := Census(context.Background(), nil, CensusOptions{})
	require.Error(t, err)

	client := &fakeACS{err: census.ErrInvalidKey}
	_, err = Census(context.Background(), client, CensusOptions{OutputDir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, census.ErrInvalidKey))
}

func TestWrite(t *testing.T) {
	out := t.TempDir()
	snow, err := Snow(context.Background(), SnowOptions{
		RunID:     "run-1",
		Dataset:   layertest.WriteSnow(t, t.TempDir()),
		OutputDir: out,
		Render:    render.Options{Width: 128, Height: 128},
	})
	require.NoError(t, err)
	cen, err := Census(context.Background(), &fakeACS{records: censusRecords()}, CensusOptions{
		RunID: "run-1",
		Query: census.Query{
			Year:       2019,
			Dataset:    "acs/acs5",
			Geography:  census.Geography{Level: census.LevelTract, State: "il", County: "031"},
			SummaryVar: "B03002_001",
		},
		OutputDir: out,
		Facet:     render.FacetOptions{PanelWidth: 60, PanelHeight: 60},
		XLSX:      true,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Report{
		RunID:     "run-1",
		Generated: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Snow:      snow,
		Census:    cen,
	}))
	md := buf.String()

	assert.Contains(t, md, "Run `run-1`, generated 2024-03-01 12:00 UTC.")
	assert.Contains(t, md, "![Snow map](snow-run-1.png)")
	assert.Contains(t, md, "![Census facets](census-run-1.png)")
	assert.Contains(t, md, "| Cholera_Deaths | EPSG:27700 | 6 |")
	assert.Contains(t, md, "26 deaths in total; 9 marks drawn.")
	assert.Contains(t, md, "| 1 | 26 |")
	assert.Contains(t, md, "Mean distance (m)")
	assert.Contains(t, md, "## Demographics by tract")
	assert.Contains(t, md, "state IL, county 031")
	assert.Contains(t, md, "| white | 2 | 1 | 40.0 | 50.0 | 45.0 |")
	assert.Contains(t, md, "2 records had no boundary")
	assert.Contains(t, md, "[census-run-1.xlsx](census-run-1.xlsx)")
}

func TestWrite_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Report{RunID: "x"}))
	assert.Contains(t, buf.String(), "# Geospatial report")
	assert.NotContains(t, buf.String(), "Cholera")
	assert.NotContains(t, buf.String(), "Demographics")
}

func newRunStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestTrack(t *testing.T) {
	st := newRunStore(t)
	ctx := context.Background()

	var seen string
	id, err := Track(ctx, st, "snow", func(_ context.Context, runID string) ([]string, error) {
		seen = runID
		return []string{"out/snow.png"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, id, seen)
	assert.Len(t, id, 36)

	run, err := st.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusComplete, run.Status)
	assert.Equal(t, "snow", run.Kind)
	assert.Equal(t, []string{"out/snow.png"}, run.Outputs)
}

func TestTrack_Failure(t *testing.T) {
	st := newRunStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	id, err := Track(ctx, st, "census", func(context.Context, string) ([]string, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	run, err := st.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusFailed, run.Status)
	assert.Equal(t, "boom", run.Error)
}

func TestTrack_NilStore(t *testing.T) {
	called := false
	id, err := Track(context.Background(), nil, "snow", func(context.Context, string) ([]string, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NotEmpty(t, id)
}

func TestCensus_ExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "cook.png")
	table := filepath.Join(dir, "cook.xlsx")
	res, err := Census(context.Background(), &fakeACS{records: censusRecords()}, CensusOptions{
		RunID:     "ignored-for-names",
		Query:     census.Query{SummaryVar: "B03002_001"},
		OutputDir: dir,
		Facet:     render.FacetOptions{PanelWidth: 60, PanelHeight: 60},
		ImagePath: img,
		XLSXPath:  table,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{img, table}, res.Outputs())
	assert.FileExists(t, img)
	assert.FileExists(t, table)
}
