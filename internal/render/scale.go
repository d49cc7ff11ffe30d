package render

import (
	"image/color"
	"math"
)

// Viridis is the perceptually uniform ramp used for choropleths.
var Viridis = []color.NRGBA{
	{R: 0x44, G: 0x01, B: 0x54, A: 0xff},
	{R: 0x47, G: 0x2d, B: 0x7b, A: 0xff},
	{R: 0x3b, G: 0x52, B: 0x8b, A: 0xff},
	{R: 0x2c, G: 0x72, B: 0x8e, A: 0xff},
	{R: 0x21, G: 0x91, B: 0x8c, A: 0xff},
	{R: 0x28, G: 0xae, B: 0x80, A: 0xff},
	{R: 0x5e, G: 0xc9, B: 0x62, A: 0xff},
	{R: 0xad, G: 0xdc, B: 0x30, A: 0xff},
	{R: 0xfd, G: 0xe7, B: 0x25, A: 0xff},
}

// Scale maps a numeric domain onto a colour ramp.
type Scale struct {
	Min   float64
	Max   float64
	Stops []color.NRGBA
}

// NewScale spans the finite values. With none the domain is [0, 0].
func NewScale(values []float64) Scale {
	s := Scale{Min: math.Inf(1), Max: math.Inf(-1), Stops: Viridis}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if math.IsInf(s.Min, 1) {
		s.Min, s.Max = 0, 0
	}
	return s
}

// Normalize maps v into [0,1], clamping. A flat domain maps to 0.5.
func (s Scale) Normalize(v float64) float64 {
	if s.Max == s.Min {
		return 0.5
	}
	return math.Max(0, math.Min(1, (v-s.Min)/(s.Max-s.Min)))
}

// Color interpolates the ramp at v.
func (s Scale) Color(v float64) color.NRGBA {
	stops := s.Stops
	if len(stops) == 0 {
		stops = Viridis
	}
	if len(stops) == 1 {
		return stops[0]
	}
	t := s.Normalize(v) * float64(len(stops)-1)
	i := int(math.Floor(t))
	if i >= len(stops)-1 {
		return stops[len(stops)-1]
	}
	f := t - float64(i)
	a, b := stops[i], stops[i+1]
	lerp := func(x, y uint8) uint8 { return uint8(math.Round(float64(x) + (float64(y)-float64(x))*f)) }
	return color.NRGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: lerp(a.A, b.A)}
}

// Ticks returns n evenly spaced values across the domain.
func (s Scale) Ticks(n int) []float64 {
	if n < 2 {
		return []float64{s.Min}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = s.Min + (s.Max-s.Min)*float64(i)/float64(n-1)
	}
	return out
}
