package render

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geo-report/internal/census"
	"github.com/sells-group/geo-report/internal/derive"
)

func square(x, y, size float64) *geom.Polygon {
	p := geom.NewPolygonFlat(geom.XY, []float64{
		x, y, x, y + size, x + size, y + size, x + size, y, x, y,
	}, []int{10})
	p.SetSRID(4269)
	return p
}

func facetValues() []derive.Value {
	tracts := []struct {
		id   string
		geom geom.T
	}{
		{"17031010100", square(-87.70, 41.80, 0.01)},
		{"17031010200", square(-87.69, 41.80, 0.01)},
		{"17031010300", nil},
	}
	metrics := map[string][]float64{
		"white":              {80, 20, 50},
		"hispanic_or_latino": {5, math.NaN(), 10},
	}
	var out []derive.Value
	for i, tr := range tracts {
		for _, v := range []string{"white", "hispanic_or_latino"} {
			out = append(out, derive.Value{
				Record: census.Record{GEOID: tr.id, Variable: v, Geometry: tr.geom},
				Metric: metrics[v][i],
			})
		}
	}
	return out
}

func TestFacets(t *testing.T) {
	opts := FacetOptions{
		Columns:      1,
		PanelWidth:   200,
		PanelHeight:  150,
		TitleHeight:  20,
		LegendHeight: 40,
		Title:        "Cook County",
		NoDataColor:  color.NRGBA{R: 1, G: 2, B: 3, A: 255},
	}
	plot, err := Facets(facetValues(), opts)
	require.NoError(t, err)

	require.Len(t, plot.Panels, 2)
	assert.Equal(t, "white", plot.Panels[0].Variable)
	assert.Equal(t, "White", plot.Panels[0].Title)
	assert.Equal(t, "Hispanic Or Latino", plot.Panels[1].Title)
	assert.Equal(t, 2, plot.Panels[0].Count)
	assert.Equal(t, 0, plot.Panels[0].NoData)
	assert.Equal(t, 1, plot.Panels[1].NoData)
	assert.Equal(t, 2, plot.Skipped)

	// One shared scale across panels over drawn, finite metrics.
	assert.InDelta(t, 5, plot.Scale.Min, 1e-9)
	assert.InDelta(t, 80, plot.Scale.Max, 1e-9)

	header := opts.TitleHeight + 8
	wantH := header + 2*(opts.PanelHeight+opts.TitleHeight) + opts.LegendHeight
	assert.Equal(t, image.Rect(0, 0, 200, wantH), plot.Image.Bounds())
	assert.Equal(t, image.Rect(0, header+20, 200, header+170), plot.Panels[0].Rect)
	assert.Equal(t, plot.Panels[0].Rect.Add(image.Pt(0, 170)), plot.Panels[1].Rect)

	// Panels share one extent, so the same tract sits at the same offset in
	// each panel. The east tract of panel two has no data.
	left := pixelIn(plot, 1, -87.695, 41.805)
	right := pixelIn(plot, 1, -87.685, 41.805)
	assert.Equal(t, toNRGBA(plot.Scale.Color(5)), toNRGBA(plot.Image.At(left.X, left.Y)))
	assert.Equal(t, toNRGBA(opts.NoDataColor), toNRGBA(plot.Image.At(right.X, right.Y)))

	top := pixelIn(plot, 0, -87.695, 41.805)
	assert.Equal(t, toNRGBA(plot.Scale.Color(80)), toNRGBA(plot.Image.At(top.X, top.Y)))
	assert.Equal(t, left.X, top.X)
	assert.Equal(t, left.Y-top.Y, 170)
}

func TestFacets_Grid(t *testing.T) {
	values := facetValues()
	for _, v := range []string{"black", "asian", "other"} {
		values = append(values, derive.Value{
			Record: census.Record{GEOID: "17031010100", Variable: v, Geometry: square(-87.70, 41.80, 0.01)},
			Metric: 1,
		})
	}
	plot, err := Facets(values, FacetOptions{Columns: 2, PanelWidth: 100, PanelHeight: 100})
	require.NoError(t, err)
	require.Len(t, plot.Panels, 5)
	assert.Equal(t, []string{"white", "hispanic_or_latino", "black", "asian", "other"},
		[]string{plot.Panels[0].Variable, plot.Panels[1].Variable, plot.Panels[2].Variable, plot.Panels[3].Variable, plot.Panels[4].Variable})
	assert.Equal(t, 200, plot.Image.Bounds().Dx())
	assert.Equal(t, plot.Panels[0].Rect.Min.Y, plot.Panels[1].Rect.Min.Y)
	assert.Equal(t, 100, plot.Panels[1].Rect.Min.X)
	assert.Equal(t, 0, plot.Panels[4].Rect.Min.X)
	assert.Greater(t, plot.Panels[4].Rect.Min.Y, plot.Panels[2].Rect.Min.Y)
}

func TestFacets_Errors(t *testing.T) {
	_, err := Facets(nil, FacetOptions{})
	assert.Error(t, err)

	_, err = Facets([]derive.Value{{Record: census.Record{Variable: "white"}, Metric: 1}}, FacetOptions{})
	assert.ErrorContains(t, err, "geometry")
}

func TestPanelTitle(t *testing.T) {
	assert.Equal(t, "White", PanelTitle("white"))
	assert.Equal(t, "Hispanic Or Latino", PanelTitle("hispanic_or_latino"))
	assert.Equal(t, "Two Or More", PanelTitle("two-or-more"))
}

// pixelIn maps a lon/lat to the pixel in the given panel.
func pixelIn(plot *FacetPlot, panel int, lon, lat float64) image.Point {
	r := plot.Panels[panel].Rect
	xScale := math.Cos((plot.Extent.Min(1) + plot.Extent.Max(1)) / 2 * math.Pi / 180)
	project, _ := linearProjector(plot.Extent, r.Dx(), r.Dy(), xScale)
	px, py := project(lon, lat)
	return image.Pt(r.Min.X+int(px), r.Min.Y+int(py))
}

func toNRGBA(c color.Color) color.NRGBA {
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}
