package render

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/derive"
)

// FacetOptions controls the small-multiple layout.
type FacetOptions struct {
	Columns      int
	PanelWidth   int
	PanelHeight  int
	TitleHeight  int
	LegendHeight int
	Title        string
	LegendLabel  string
	NoDataColor  color.Color
	Background   color.Color
	Outline      color.Color
}

func (o FacetOptions) withDefaults() FacetOptions {
	if o.Columns <= 0 {
		o.Columns = 2
	}
	if o.PanelWidth <= 0 {
		o.PanelWidth = 400
	}
	if o.PanelHeight <= 0 {
		o.PanelHeight = 400
	}
	if o.TitleHeight <= 0 {
		o.TitleHeight = 24
	}
	if o.LegendHeight <= 0 {
		o.LegendHeight = 56
	}
	if o.NoDataColor == nil {
		o.NoDataColor = color.NRGBA{R: 0xbb, G: 0xbb, B: 0xbb, A: 0xff}
	}
	if o.Background == nil {
		o.Background = color.White
	}
	if o.Outline == nil {
		o.Outline = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0x80}
	}
	return o
}

// Panel describes one facet.
type Panel struct {
	Title    string
	Variable string
	Count    int
	NoData   int
	Rect     image.Rectangle
}

// FacetPlot is a grid of panels sharing one colour scale. Extent is the
// padded data extent every panel is fitted to.
type FacetPlot struct {
	Image   image.Image
	Panels  []Panel
	Scale   Scale
	Extent  *geom.Bounds
	Skipped int
}

// SavePNG writes the facet image to path.
func (f *FacetPlot) SavePNG(path string) error {
	return eris.Wrapf(gg.SavePNG(path, f.Image), "render: save %s", path)
}

var titleCaser = cases.Title(language.English)

// PanelTitle turns a variable label such as "hispanic_or_latino" into
// "Hispanic Or Latino".
func PanelTitle(variable string) string {
	return titleCaser.String(strings.NewReplacer("_", " ", "-", " ").Replace(variable))
}

// Facets renders one panel per variable, in order of first appearance, all
// coloured by one shared scale over the derived metric. Values without
// geometry are skipped and counted; NaN metrics are painted NoDataColor.
func Facets(values []derive.Value, opts FacetOptions) (*FacetPlot, error) {
	if len(values) == 0 {
		return nil, eris.New("render: no values to facet")
	}
	opts = opts.withDefaults()

	var order []string
	groups := make(map[string][]derive.Value)
	metrics := make([]float64, 0, len(values))
	extent := geom.NewBounds(geom.XY)
	srid := 0
	skipped := 0
	for _, v := range values {
		if _, seen := groups[v.Record.Variable]; !seen {
			order = append(order, v.Record.Variable)
			groups[v.Record.Variable] = nil
		}
		if v.Record.Geometry == nil {
			skipped++
			continue
		}
		groups[v.Record.Variable] = append(groups[v.Record.Variable], v)
		metrics = append(metrics, v.Metric)
		extent.Extend(v.Record.Geometry)
		srid = v.Record.Geometry.SRID()
	}
	if extent.IsEmpty() {
		return nil, eris.New("render: no values carry geometry")
	}
	if skipped > 0 {
		zap.L().Warn("render: facet values without geometry skipped", zap.Int("skipped", skipped))
	}

	scale := NewScale(metrics)
	extent = pad(extent, 0.02)

	xScale := 1.0
	if c, err := crs.Lookup(srid); err == nil && c.Geographic() {
		xScale = math.Cos((extent.Min(1) + extent.Max(1)) / 2 * math.Pi / 180)
	}

	cols := min(opts.Columns, len(order))
	rows := (len(order) + cols - 1) / cols
	header := 0
	if opts.Title != "" {
		header = opts.TitleHeight + 8
	}
	cellH := opts.PanelHeight + opts.TitleHeight
	width := cols * opts.PanelWidth
	height := header + rows*cellH + opts.LegendHeight

	dc := gg.NewContext(width, height)
	dc.SetColor(opts.Background)
	dc.Clear()

	if opts.Title != "" {
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(opts.Title, float64(width)/2, float64(header)/2, 0.5, 0.5)
	}

	plot := &FacetPlot{Scale: scale, Extent: extent, Skipped: skipped}
	for i, variable := range order {
		col, row := i%cols, i/cols
		x0 := col * opts.PanelWidth
		y0 := header + row*cellH
		panel := Panel{
			Title:    PanelTitle(variable),
			Variable: variable,
			Rect:     image.Rect(x0, y0+opts.TitleHeight, x0+opts.PanelWidth, y0+cellH),
		}

		dc.SetColor(color.Black)
		dc.DrawStringAnchored(panel.Title, float64(x0)+float64(opts.PanelWidth)/2, float64(y0)+float64(opts.TitleHeight)/2, 0.5, 0.5)

		project, _ := linearProjector(extent, opts.PanelWidth, opts.PanelHeight, xScale)
		shifted := func(x, y float64) (float64, float64) {
			px, py := project(x, y)
			return px + float64(x0), py + float64(panel.Rect.Min.Y)
		}

		dc.Push()
		dc.DrawRectangle(float64(panel.Rect.Min.X), float64(panel.Rect.Min.Y), float64(opts.PanelWidth), float64(opts.PanelHeight))
		dc.Clip()
		for _, v := range groups[variable] {
			fill := opts.NoDataColor
			if math.IsNaN(v.Metric) {
				panel.NoData++
			} else {
				fill = scale.Color(v.Metric)
			}
			if pts := pointCoords(v.Record.Geometry); pts != nil {
				for _, p := range pts {
					px, py := shifted(p[0], p[1])
					dc.DrawCircle(px, py, DefaultSize)
					dc.SetColor(fill)
					dc.Fill()
				}
			} else {
				drawShape(dc, v.Record.Geometry, shifted, fill, opts.Outline, 0.5)
			}
			panel.Count++
		}
		dc.ResetClip()
		dc.Pop()

		plot.Panels = append(plot.Panels, panel)
	}

	drawLegend(dc, scale, opts, header+rows*cellH, width)

	plot.Image = dc.Image()
	return plot, nil
}

var legendPrinter = message.NewPrinter(language.English)

// drawLegend paints the shared scale as a gradient strip with tick labels.
func drawLegend(dc *gg.Context, scale Scale, opts FacetOptions, top, width int) {
	barW := float64(width) * 0.6
	barX := (float64(width) - barW) / 2
	barY := float64(top) + 8
	barH := 12.0

	for i := 0; i < int(barW); i++ {
		v := scale.Min + (scale.Max-scale.Min)*float64(i)/barW
		dc.SetColor(scale.Color(v))
		dc.DrawRectangle(barX+float64(i), barY, 1, barH)
		dc.Fill()
	}

	dc.SetColor(color.Black)
	for i, tick := range scale.Ticks(5) {
		x := barX + barW*float64(i)/4
		dc.DrawLine(x, barY+barH, x, barY+barH+4)
		dc.SetLineWidth(1)
		dc.Stroke()
		dc.DrawStringAnchored(legendPrinter.Sprintf("%.1f", tick), x, barY+barH+6, 0.5, 1)
	}

	if opts.LegendLabel != "" {
		dc.DrawStringAnchored(opts.LegendLabel, barX-8, barY+barH/2, 1, 0.5)
	}

	dc.SetColor(opts.NoDataColor)
	dc.DrawRectangle(barX+barW+16, barY, barH, barH)
	dc.Fill()
	dc.SetColor(color.Black)
	dc.DrawStringAnchored("no data", barX+barW+16+barH+4, barY+barH/2, 0, 0.5)
}
