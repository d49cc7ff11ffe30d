// Package render draws geometry layers over basemap tiles and renders
// faceted choropleths.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/fogleman/gg"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/layer"
	"github.com/sells-group/geo-report/internal/tiles"
)

// ErrCRSMismatch is returned when overlay inputs do not share one CRS.
var ErrCRSMismatch = eris.New("render: coordinate reference systems differ")

// CRSMismatchError names the layer whose CRS differs and both codes. A code
// of 0 means the layer has no CRS.
type CRSMismatchError struct {
	Layer string
	Want  int
	Got   int
}

func (e *CRSMismatchError) Error() string {
	return fmt.Sprintf("render: layer %q is in %s, expected %s; reproject it first",
		e.Layer, codeString(e.Got), codeString(e.Want))
}

func (e *CRSMismatchError) Unwrap() error { return ErrCRSMismatch }

func codeString(code int) string {
	if code == 0 {
		return "<undefined>"
	}
	return fmt.Sprintf("EPSG:%d", code)
}

// LayerSpec pairs a layer with its visual encoding.
type LayerSpec struct {
	Layer *layer.Layer
	Style Style
}

// Options controls the overlay canvas.
type Options struct {
	Width   int
	Height  int
	Padding float64
	// Zoom fixes the basemap zoom; 0 picks the deepest zoom that fits.
	Zoom        int
	Concurrency int
	Background  color.Color
	Attribution string
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.Height <= 0 {
		o.Height = 1024
	}
	if o.Padding < 0 {
		o.Padding = 0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Background == nil {
		o.Background = color.White
	}
	return o
}

// Mark records where one point (or one record's geometry centre) was drawn.
type Mark struct {
	Layer  string
	Index  int
	X, Y   float64
	Radius float64
}

// Plot is a composed overlay. Marks are in draw order.
type Plot struct {
	Image  image.Image
	Extent *geom.Bounds
	CRS    int
	Zoom   int
	Tiles  int
	Marks  []Mark
}

// MarksFor returns the marks drawn for the named layer.
func (p *Plot) MarksFor(name string) []Mark {
	var out []Mark
	for _, m := range p.Marks {
		if m.Layer == name {
			out = append(out, m)
		}
	}
	return out
}

// WritePNG encodes the plot image.
func (p *Plot) WritePNG(w io.Writer) error {
	return eris.Wrap(png.Encode(w, p.Image), "render: encode png")
}

// SavePNG writes the plot image to path.
func (p *Plot) SavePNG(path string) error {
	return eris.Wrapf(gg.SavePNG(path, p.Image), "render: save %s", path)
}

// CheckCRS verifies that every layer, and the base source when given, share
// one CRS, and returns its code. Without a base the first defined layer CRS
// is the reference.
func CheckCRS(base tiles.Source, layers []LayerSpec) (int, error) {
	want := 0
	if base != nil {
		want = base.CRS()
	} else {
		for _, spec := range layers {
			if spec.Layer.CRS != nil {
				want = spec.Layer.CRS.Code
				break
			}
		}
	}
	for _, spec := range layers {
		got := 0
		if spec.Layer.CRS != nil {
			got = spec.Layer.CRS.Code
		}
		if got == 0 || got != want {
			return 0, &CRSMismatchError{Layer: spec.Layer.Name, Want: want, Got: got}
		}
	}
	return want, nil
}

// Overlay draws the base tiles (when base is non-nil) and then each layer
// in order, later layers on top. All layers must already share the base
// source's CRS.
func Overlay(ctx context.Context, base tiles.Source, layers []LayerSpec, opts Options) (*Plot, error) {
	if len(layers) == 0 {
		return nil, eris.New("render: no layers to overlay")
	}
	for _, spec := range layers {
		if spec.Layer == nil {
			return nil, eris.New("render: nil layer")
		}
	}
	code, err := CheckCRS(base, layers)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	extent := geom.NewBounds(geom.XY)
	for _, spec := range layers {
		if b := spec.Layer.Bounds(); !b.IsEmpty() {
			extent.Extend(b.Polygon())
		}
	}
	if extent.IsEmpty() {
		return nil, eris.New("render: layers contain no geometry")
	}
	extent = pad(extent, opts.Padding)

	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetColor(opts.Background)
	dc.Clear()

	plot := &Plot{CRS: code}
	var project projector
	if base != nil {
		project, err = drawBasemap(ctx, dc, base, extent, opts, plot)
		if err != nil {
			return nil, err
		}
	} else {
		xScale := 1.0
		if c, err := crs.Lookup(code); err == nil && c.Geographic() {
			xScale = math.Cos((extent.Min(1) + extent.Max(1)) / 2 * math.Pi / 180)
		}
		project, plot.Extent = linearProjector(extent, opts.Width, opts.Height, xScale)
	}

	for _, spec := range layers {
		marks, err := drawLayer(dc, spec, project)
		if err != nil {
			return nil, err
		}
		plot.Marks = append(plot.Marks, marks...)
	}

	if opts.Attribution != "" {
		dc.SetColor(color.NRGBA{A: 200})
		dc.DrawStringAnchored(opts.Attribution, float64(opts.Width)-4, float64(opts.Height)-4, 1, 0)
	}

	plot.Image = dc.Image()
	zap.L().Debug("render: overlay composed",
		zap.Int("layers", len(layers)),
		zap.Int("marks", len(plot.Marks)),
		zap.Int("zoom", plot.Zoom),
		zap.Int("tiles", plot.Tiles),
	)
	return plot, nil
}

// drawBasemap fetches the tiles covering the canvas concurrently and draws
// them in row order. Missing tiles are left blank.
func drawBasemap(ctx context.Context, dc *gg.Context, base tiles.Source, extent *geom.Bounds, opts Options, plot *Plot) (projector, error) {
	ts := base.TileSize()
	z := opts.Zoom
	if z <= 0 {
		z = tiles.FitZoom(extent, opts.Width, opts.Height, ts)
	}
	z = min(z, tiles.MaxZoom)

	cx, cy := tiles.MercatorToPixel((extent.Min(0)+extent.Max(0))/2, (extent.Min(1)+extent.Max(1))/2, z, ts)
	originX := math.Round(cx - float64(opts.Width)/2)
	originY := math.Round(cy - float64(opts.Height)/2)

	res := tiles.Resolution(z, ts)
	view := geom.NewBounds(geom.XY).Set(
		originX*res-tiles.OriginShift,
		tiles.OriginShift-(originY+float64(opts.Height))*res,
		(originX+float64(opts.Width))*res-tiles.OriginShift,
		tiles.OriginShift-originY*res,
	)
	coords := tiles.Covering(view, z)

	imgs := make([]image.Image, len(coords))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, c := range coords {
		g.Go(func() error {
			img, err := base.Tile(gctx, c.Z, c.X, c.Y)
			if errors.Is(err, tiles.ErrTileNotFound) {
				zap.L().Warn("render: basemap tile missing", zap.Int("z", c.Z), zap.Int("x", c.X), zap.Int("y", c.Y))
				return nil
			}
			if err != nil {
				return eris.Wrapf(err, "render: basemap tile %d/%d/%d", c.Z, c.X, c.Y)
			}
			imgs[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, c := range coords {
		if imgs[i] == nil {
			continue
		}
		dc.DrawImage(imgs[i], c.X*ts-int(originX), c.Y*ts-int(originY))
		plot.Tiles++
	}

	plot.Zoom = z
	plot.Extent = view
	return func(x, y float64) (float64, float64) {
		px, py := tiles.MercatorToPixel(x, y, z, ts)
		return px - originX, py - originY
	}, nil
}

// drawLayer draws one layer and returns its marks.
func drawLayer(dc *gg.Context, spec LayerSpec, project projector) ([]Mark, error) {
	l := spec.Layer
	style := spec.Style.withDefaults()
	fill, err := style.RGBA()
	if err != nil {
		return nil, eris.Wrapf(err, "render: layer %s", l.Name)
	}
	outline := darken(fill, 0.6)
	outline.A = max(outline.A, 160)

	radius := func(int) (float64, error) { return style.Size, nil }
	if style.SizeBy != "" {
		if !l.HasField(style.SizeBy) {
			return nil, eris.Errorf("render: layer %s has no field %q to size by", l.Name, style.SizeBy)
		}
		lo, hi, err := l.Range(style.SizeBy)
		if err != nil {
			return nil, eris.Wrapf(err, "render: size by %s", style.SizeBy)
		}
		r0, r1 := style.SizeRange[0], style.SizeRange[1]
		radius = func(i int) (float64, error) {
			v, err := l.Float(i, style.SizeBy)
			if err != nil {
				return 0, err
			}
			if hi == lo {
				return (r0 + r1) / 2, nil
			}
			return r0 + (v-lo)/(hi-lo)*(r1-r0), nil
		}
	}

	marks := make([]Mark, 0, l.Len())
	for i, rec := range l.Records {
		if rec.Geom == nil {
			continue
		}
		if pts := pointCoords(rec.Geom); pts != nil {
			r, err := radius(i)
			if err != nil {
				return nil, eris.Wrapf(err, "render: layer %s", l.Name)
			}
			for _, p := range pts {
				px, py := project(p[0], p[1])
				dc.DrawCircle(px, py, r)
				dc.SetColor(fill)
				dc.FillPreserve()
				dc.SetColor(outline)
				dc.SetLineWidth(1)
				dc.Stroke()
				if style.Label != "" {
					dc.DrawStringAnchored(rec.Attrs[style.Label], px+r+2, py, 0, 0.5)
				}
				marks = append(marks, Mark{Layer: l.Name, Index: i, X: px, Y: py, Radius: r})
			}
			continue
		}

		drawShape(dc, rec.Geom, project, fill, outline, style.StrokeWidth)
		b := rec.Geom.Bounds()
		px, py := project((b.Min(0)+b.Max(0))/2, (b.Min(1)+b.Max(1))/2)
		marks = append(marks, Mark{Layer: l.Name, Index: i, X: px, Y: py})
	}
	return marks, nil
}
