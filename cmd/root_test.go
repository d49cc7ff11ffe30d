package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/geo-report/internal/census"
	"github.com/sells-group/geo-report/internal/config"
	"github.com/sells-group/geo-report/internal/layer"
	"github.com/sells-group/geo-report/internal/layer/layertest"
	"github.com/sells-group/geo-report/internal/render"
	"github.com/sells-group/geo-report/internal/store"
	"github.com/sells-group/geo-report/internal/tiles"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"layers", "reproject", "overlay", "census", "report", "export", "serve", "runs", "cache"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "geo-report", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		flags map[string]string
	}{
		{reprojectCmd, map[string]string{"to": "4326", "output": "out.geojson", "xlsx": ""}},
		{overlayCmd, map[string]string{"layer": "[]", "style": "", "no-tiles": "false", "to": "3857", "zoom": "0", "output": "overlay.png"}},
		{censusCmd, map[string]string{"state": "", "county": "", "level": "tract", "var": "[]", "summary": "", "year": "0", "output": "census.png", "xlsx": ""}},
		{reportCmd, map[string]string{"output": "", "no-tiles": "false", "no-census": "false", "state": ""}},
		{exportPostGISCmd, map[string]string{"table": "", "replace": "false"}},
		{serveCmd, map[string]string{"port": "0", "dataset": "", "style": ""}},
		{runsListCmd, map[string]string{"limit": "20"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Name(), func(t *testing.T) {
			for name, def := range tt.flags {
				f := tt.cmd.Flags().Lookup(name)
				require.NotNil(t, f, "%s should have --%s", tt.cmd.Name(), name)
				assert.Equal(t, def, f.DefValue, "--%s default", name)
			}
		})
	}
}

func TestExportCommand_HasPostGIS(t *testing.T) {
	var names []string
	for _, c := range exportCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "postgis")
}

func withConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{
		Census: config.CensusConfig{Year: 2019, Dataset: "acs/acs5"},
		Report: config.ReportConfig{State: "IL", County: "031"},
		Render: config.RenderConfig{Width: 200, Height: 200, Columns: 2},
		Tiles:  config.TilesConfig{Format: "png"},
		Cache:  config.CacheConfig{Path: filepath.Join(t.TempDir(), "test.db"), TTL: time.Hour},
	}
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"white=B03002_003", " black = B03002_004 ", "B03002_006"})
	require.NoError(t, err)
	assert.Equal(t, []census.Variable{
		{Name: "white", Code: "B03002_003"},
		{Name: "black", Code: "B03002_004"},
		{Name: "B03002_006", Code: "B03002_006"},
	}, vars)

	_, err = parseVars([]string{"white="})
	assert.Error(t, err)
	_, err = parseVars([]string{"a=B1", "a=B2"})
	assert.Error(t, err)
}

func TestCensusQuery_Defaults(t *testing.T) {
	withConfig(t)
	cmd := &cobra.Command{}
	addQueryFlags(cmd.Flags())

	q, err := censusQuery(cmd)
	require.NoError(t, err)
	assert.Equal(t, 2019, q.Year)
	assert.Equal(t, "acs/acs5", q.Dataset)
	assert.Equal(t, census.Geography{Level: census.LevelTract, State: "IL", County: "031"}, q.Geography)
	assert.Equal(t, defaultVars, q.Variables)
	assert.Equal(t, defaultSummaryVar, q.SummaryVar)
}

func TestCensusQuery_Flags(t *testing.T) {
	withConfig(t)
	cmd := &cobra.Command{}
	addQueryFlags(cmd.Flags())

	require.NoError(t, cmd.Flags().Parse([]string{
		"--state", "CA", "--level", "county", "--var", "renters=B25003_003", "--summary", "B25003_001", "--year", "2021",
	}))
	q, err := censusQuery(cmd)
	require.NoError(t, err)
	assert.Equal(t, 2021, q.Year)
	assert.Equal(t, census.Geography{Level: census.LevelCounty, State: "CA"}, q.Geography)
	assert.Equal(t, []census.Variable{{Name: "renters", Code: "B25003_003"}}, q.Variables)
	assert.Equal(t, "B25003_001", q.SummaryVar)
	assert.Equal(t, "ACS 2021 acs/acs5 by county, CA", censusTitle(q))
}

func TestParseLayerSpecs(t *testing.T) {
	stylePath := filepath.Join(t.TempDir(), "styles.yaml")
	require.NoError(t, os.WriteFile(stylePath, []byte("Pumps:\n  color: \"#0000ff\"\n  size: 6\n"), 0o644))

	specs, err := parseLayerSpecs([]string{"Cholera_Deaths:color=red,sizeby=Count", "Pumps"}, stylePath)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "red", specs[0].style.Color)
	assert.Equal(t, "Count", specs[0].style.SizeBy)
	assert.Equal(t, render.Style{Color: "#0000ff", Size: 6}, specs[1].style)

	_, err = parseLayerSpecs(nil, "")
	assert.Error(t, err)
	_, err = parseLayerSpecs([]string{":color=red"}, "")
	assert.Error(t, err)
}

func TestRunOverlay(t *testing.T) {
	dataset := layertest.WriteSnow(t, t.TempDir())
	flags := []layerFlag{
		{name: "Cholera_Deaths", style: render.Style{Color: "red", SizeBy: "Count"}},
		{name: "Pumps", style: render.Style{Color: "blue"}},
	}

	plot, err := runOverlay(context.Background(), dataset, flags, nil, 3857, render.Options{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Len(t, plot.Marks, 9)
	assert.Equal(t, 3857, plot.CRS)

	// Native coordinates cannot sit on Web Mercator tiles.
	_, err = runOverlay(context.Background(), dataset, flags, tiles.NewDirSource(t.TempDir()), 0, render.Options{Width: 100, Height: 100})
	assert.ErrorIs(t, err, render.ErrCRSMismatch)

	_, err = runOverlay(context.Background(), dataset, []layerFlag{{name: "Wells"}}, nil, 0, render.Options{})
	assert.ErrorIs(t, err, layer.ErrLayerNotFound)
}

func TestRunReproject_GeoJSONCRS(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	dataset := layertest.WriteSnow(t, t.TempDir())
	out := filepath.Join(t.TempDir(), "pumps.geojson")

	dst, err := runReproject(dataset, "Pumps", 3857, out, "")
	require.NoError(t, err)
	assert.Equal(t, 3857, dst.CRS.Code)
	require.Equal(t, 1, logs.FilterMessageSnippet("not WGS 84").Len())

	var doc struct {
		CRS struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
	}
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "urn:ogc:def:crs:EPSG::3857", doc.CRS.Properties.Name)

	_, err = runReproject(dataset, "Pumps", 4326, out, "")
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("not WGS 84").Len(), "WGS 84 output does not warn")
	data, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"crs"`)
}

func TestInitBasemap(t *testing.T) {
	withConfig(t)
	cfg.Tiles.Dir = t.TempDir()
	src, err := initBasemap(nil)
	require.NoError(t, err)
	assert.IsType(t, &tiles.DirSource{}, src)

	cfg.Tiles.Dir = ""
	cfg.Tiles.URL = "https://tile.example.com"
	src, err = initBasemap(nil)
	require.NoError(t, err)
	assert.IsType(t, &tiles.HTTPSource{}, src)

	cfg.Tiles.URL = ""
	_, err = initBasemap(nil)
	assert.Error(t, err)
}

func TestInitStore(t *testing.T) {
	withConfig(t)
	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.FileExists(t, cfg.Cache.Path)
}

func TestFormatLayers(t *testing.T) {
	var buf bytes.Buffer
	formatLayers(&buf, []layer.Summary{
		{Name: "Pumps", Kind: "point", CRS: "EPSG:27700", Count: 3, Bounds: [4]float64{1, 2, 3, 4}},
	})
	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Pumps")
	assert.Contains(t, out, "EPSG:27700")
	assert.Contains(t, out, "1.000 2.000 3.000 4.000")
}

func TestFormatRunsList(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatRunsList(&buf, []store.Run{{
		ID:        "r1",
		Kind:      "report",
		Status:    store.RunStatusComplete,
		Outputs:   []string{"a.png", "b.md"},
		CreatedAt: created,
		UpdatedAt: created.Add(1500 * time.Millisecond),
	}})
	out := buf.String()
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "2024-03-01 12:00:00")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "a.png,b.md")
}
