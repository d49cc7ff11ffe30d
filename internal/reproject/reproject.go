// Package reproject transforms layers between coordinate reference systems.
package reproject

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/layer"
)

// Layer returns a copy of l with every coordinate transformed to target.
// Attributes, record order and geometry layout are preserved. A layer
// already in target is deep-copied unchanged.
func Layer(l *layer.Layer, target *crs.CRS) (*layer.Layer, error) {
	if l == nil {
		return nil, eris.New("reproject: nil layer")
	}
	if l.CRS == nil {
		return nil, eris.Wrapf(crs.ErrUndefinedCRS, "reproject: layer %s", l.Name)
	}
	if target == nil {
		return nil, eris.Wrapf(crs.ErrUnknownCRS, "reproject: layer %s: nil target", l.Name)
	}

	t, err := crs.NewTransform(l.CRS, target)
	if err != nil {
		return nil, eris.Wrapf(err, "reproject: layer %s", l.Name)
	}

	out := l.Clone()
	out.CRS = target
	for i := range out.Records {
		g := out.Records[i].Geom
		if g == nil {
			continue
		}
		if err := Geom(t, g); err != nil {
			return nil, eris.Wrapf(err, "reproject: layer %s record %d", l.Name, i)
		}
		out.Records[i].Geom = layer.SetSRID(g, target.Code)
	}

	zap.L().Debug("reproject: layer transformed",
		zap.String("layer", l.Name),
		zap.String("from", l.CRS.String()),
		zap.String("to", target.String()),
		zap.Int("records", l.Len()),
	)
	return out, nil
}

// Geom transforms g's coordinates in place. A Z ordinate, when the layout
// has one, is carried through as ellipsoidal height; M is left alone.
func Geom(t *crs.Transform, g geom.T) error {
	if t.Identity() {
		return nil
	}
	layout := g.Layout()
	stride := layout.Stride()
	zi := layout.ZIndex()
	flat := g.FlatCoords()

	for i := 0; i+stride <= len(flat); i += stride {
		var z float64
		if zi >= 0 {
			z = flat[i+zi]
		}
		x, y, nz, err := t.Apply(flat[i], flat[i+1], z)
		if err != nil {
			return err
		}
		flat[i], flat[i+1] = x, y
		if zi >= 0 {
			flat[i+zi] = nz
		}
	}
	return nil
}

// Bounds transforms a bounding box by its four corners and returns the
// enclosing box in the target CRS.
func Bounds(b *geom.Bounds, src, dst *crs.CRS) (*geom.Bounds, error) {
	t, err := crs.NewTransform(src, dst)
	if err != nil {
		return nil, err
	}
	corners := []float64{
		b.Min(0), b.Min(1),
		b.Min(0), b.Max(1),
		b.Max(0), b.Min(1),
		b.Max(0), b.Max(1),
	}
	mp := geom.NewMultiPointFlat(geom.XY, corners)
	if err := Geom(t, mp); err != nil {
		return nil, eris.Wrap(err, "reproject: bounds")
	}
	return mp.Bounds(), nil
}
