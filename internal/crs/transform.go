package crs

import (
	"math"

	"github.com/rotisserie/eris"
)

// Transform converts coordinates from one CRS to another.
type Transform struct {
	src, dst  *CRS
	identity  bool
	sameDatum bool
}

// NewTransform prepares a transform between two systems.
func NewTransform(src, dst *CRS) (*Transform, error) {
	if src == nil {
		return nil, ErrUndefinedCRS
	}
	if dst == nil {
		return nil, eris.Wrap(ErrUnknownCRS, "crs: target is nil")
	}
	return &Transform{
		src:       src,
		dst:       dst,
		identity:  Equal(src, dst),
		sameDatum: src.Datum.equivalent(dst.Datum),
	}, nil
}

// Identity reports whether the transform leaves coordinates untouched.
func (t *Transform) Identity() bool { return t.identity }

// Apply transforms one coordinate. z is an ellipsoidal height in metres and
// is only changed by datum shifts.
func (t *Transform) Apply(x, y, z float64) (float64, float64, float64, error) {
	if t.identity {
		return x, y, z, nil
	}

	lon, lat := x, y
	if t.src.Proj != nil {
		var err error
		lon, lat, err = t.src.Proj.Inverse(x, y)
		if err != nil {
			return 0, 0, 0, eris.Wrapf(err, "crs: inverse %s (%f, %f)", t.src, x, y)
		}
	}

	if !t.sameDatum {
		phi, lambda, h := shift(t.src.Datum, t.dst.Datum, lat*math.Pi/180, lon*math.Pi/180, z)
		lat, lon, z = phi*180/math.Pi, lambda*180/math.Pi, h
	}

	if t.dst.Proj != nil {
		px, py, err := t.dst.Proj.Forward(lon, lat)
		if err != nil {
			return 0, 0, 0, eris.Wrapf(err, "crs: forward %s (%f, %f)", t.dst, lon, lat)
		}
		return px, py, z, nil
	}
	return lon, lat, z, nil
}

// ApplyFlat transforms a flat coordinate slice in place. stride is the number
// of ordinates per coordinate; a third ordinate, when present, is treated as
// height.
func (t *Transform) ApplyFlat(flat []float64, stride int) error {
	if t.identity {
		return nil
	}
	if stride < 2 {
		return eris.Errorf("crs: invalid stride %d", stride)
	}
	for i := 0; i+stride <= len(flat); i += stride {
		var z float64
		if stride >= 3 {
			z = flat[i+2]
		}
		x, y, nz, err := t.Apply(flat[i], flat[i+1], z)
		if err != nil {
			return err
		}
		flat[i], flat[i+1] = x, y
		if stride >= 3 {
			flat[i+2] = nz
		}
	}
	return nil
}
