package crs

import "math"

const arcsecToRad = math.Pi / (180 * 3600)

// Helmert is a seven-parameter similarity transform between earth-centred
// frames using the position-vector rotation convention. Translations are in
// metres, scale in parts per million and rotations in arc-seconds.
type Helmert struct {
	Tx, Ty, Tz float64
	S          float64
	Rx, Ry, Rz float64
}

func (h Helmert) matrix() [3][3]float64 {
	s := 1 + h.S*1e-6
	rx := h.Rx * arcsecToRad
	ry := h.Ry * arcsecToRad
	rz := h.Rz * arcsecToRad
	return [3][3]float64{
		{s, -rz, ry},
		{rz, s, -rx},
		{-ry, rx, s},
	}
}

// Apply transforms a cartesian point forward.
func (h Helmert) Apply(x, y, z float64) (float64, float64, float64) {
	m := h.matrix()
	return h.Tx + m[0][0]*x + m[0][1]*y + m[0][2]*z,
		h.Ty + m[1][0]*x + m[1][1]*y + m[1][2]*z,
		h.Tz + m[2][0]*x + m[2][1]*y + m[2][2]*z
}

// Invert transforms a cartesian point backward. It solves the linear system
// exactly rather than negating the parameters, so Apply and Invert round-trip.
func (h Helmert) Invert(x, y, z float64) (float64, float64, float64) {
	inv := invert3(h.matrix())
	dx, dy, dz := x-h.Tx, y-h.Ty, z-h.Tz
	return inv[0][0]*dx + inv[0][1]*dy + inv[0][2]*dz,
		inv[1][0]*dx + inv[1][1]*dy + inv[1][2]*dz,
		inv[2][0]*dx + inv[2][1]*dy + inv[2][2]*dz
}

func invert3(m [3][3]float64) [3][3]float64 {
	a, b, c := m[0][0], m[0][1], m[0][2]
	d, e, f := m[1][0], m[1][1], m[1][2]
	g, h, i := m[2][0], m[2][1], m[2][2]

	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	return [3][3]float64{
		{(e*i - f*h) / det, (c*h - b*i) / det, (b*f - c*e) / det},
		{(f*g - d*i) / det, (a*i - c*g) / det, (c*d - a*f) / det},
		{(d*h - e*g) / det, (b*g - a*h) / det, (a*e - b*d) / det},
	}
}
