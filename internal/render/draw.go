package render

import (
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/twpayne/go-geom"
)

// projector maps CRS coordinates to canvas pixels.
type projector func(x, y float64) (px, py float64)

// linearProjector fits extent into a w×h frame keeping aspect, y up. xScale
// stretches x (cos φ for lon/lat extents).
func linearProjector(extent *geom.Bounds, w, h int, xScale float64) (projector, *geom.Bounds) {
	dx := (extent.Max(0) - extent.Min(0)) * xScale
	dy := extent.Max(1) - extent.Min(1)
	scale := math.Min(float64(w)/dx, float64(h)/dy)
	offX := (float64(w) - dx*scale) / 2
	offY := (float64(h) - dy*scale) / 2
	minX, maxY := extent.Min(0), extent.Max(1)

	view := geom.NewBounds(geom.XY).Set(
		minX-offX/scale/xScale,
		maxY-float64(h)/scale+offY/scale,
		minX+(float64(w)-offX)/scale/xScale,
		maxY+offY/scale,
	)
	return func(x, y float64) (float64, float64) {
		return offX + (x-minX)*xScale*scale, offY + (maxY-y)*scale
	}, view
}

// pad grows b by frac of its size on every side. Degenerate extents grow by
// a unit so a single point still frames.
func pad(b *geom.Bounds, frac float64) *geom.Bounds {
	dx := b.Max(0) - b.Min(0)
	dy := b.Max(1) - b.Min(1)
	if dx == 0 && dy == 0 {
		dx, dy = 1, 1
	} else if dx == 0 {
		dx = dy
	} else if dy == 0 {
		dy = dx
	}
	px, py := dx*frac, dy*frac
	if b.Max(0) == b.Min(0) {
		px = dx / 2
	}
	if b.Max(1) == b.Min(1) {
		py = dy / 2
	}
	return geom.NewBounds(geom.XY).Set(b.Min(0)-px, b.Min(1)-py, b.Max(0)+px, b.Max(1)+py)
}

// tracePath appends each part of a flat coordinate run to the current path.
func tracePath(dc *gg.Context, flat []float64, stride int, ends []int, offset int, closed bool, project projector) int {
	for _, end := range ends {
		for i := offset; i+stride <= end; i += stride {
			px, py := project(flat[i], flat[i+1])
			if i == offset {
				dc.MoveTo(px, py)
			} else {
				dc.LineTo(px, py)
			}
		}
		if closed {
			dc.ClosePath()
		}
		dc.NewSubPath()
		offset = end
	}
	return offset
}

// drawShape strokes lines and fills polygons. Points are handled by the
// caller since their radius depends on the style.
func drawShape(dc *gg.Context, g geom.T, project projector, fill, stroke color.Color, lineWidth float64) {
	flat, stride := g.FlatCoords(), g.Stride()
	switch t := g.(type) {
	case *geom.LineString:
		tracePath(dc, flat, stride, []int{len(flat)}, 0, false, project)
		strokePath(dc, stroke, lineWidth)
	case *geom.MultiLineString:
		tracePath(dc, flat, stride, t.Ends(), 0, false, project)
		strokePath(dc, stroke, lineWidth)
	case *geom.Polygon:
		tracePath(dc, flat, stride, t.Ends(), 0, true, project)
		fillPath(dc, fill, stroke, lineWidth)
	case *geom.MultiPolygon:
		offset := 0
		for _, ends := range t.Endss() {
			offset = tracePath(dc, flat, stride, ends, offset, true, project)
		}
		fillPath(dc, fill, stroke, lineWidth)
	}
}

func strokePath(dc *gg.Context, c color.Color, lineWidth float64) {
	dc.SetColor(c)
	dc.SetLineWidth(lineWidth)
	dc.Stroke()
}

func fillPath(dc *gg.Context, fill, stroke color.Color, lineWidth float64) {
	dc.SetFillRuleEvenOdd()
	dc.SetColor(fill)
	if stroke == nil || lineWidth <= 0 {
		dc.Fill()
		return
	}
	dc.FillPreserve()
	strokePath(dc, stroke, lineWidth)
}

// pointCoords returns the x/y pairs of a Point or MultiPoint.
func pointCoords(g geom.T) [][2]float64 {
	switch g.(type) {
	case *geom.Point, *geom.MultiPoint:
	default:
		return nil
	}
	flat, stride := g.FlatCoords(), g.Stride()
	out := make([][2]float64, 0, len(flat)/max(stride, 1))
	for i := 0; i+stride <= len(flat); i += stride {
		out = append(out, [2]float64{flat[i], flat[i+1]})
	}
	return out
}

// darken returns c with its channels scaled by f, keeping alpha.
func darken(c color.NRGBA, f float64) color.NRGBA {
	return color.NRGBA{
		R: uint8(float64(c.R) * f),
		G: uint8(float64(c.G) * f),
		B: uint8(float64(c.B) * f),
		A: c.A,
	}
}
