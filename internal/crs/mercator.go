package crs

import "math"

// MaxMercatorLat is the latitude at which the Web Mercator square closes.
const MaxMercatorLat = 85.05112877980659

// WebMercator is the spherical Mercator used by slippy-map tile services
// (EPSG:3857). Geographic input is WGS 84 treated as spherical.
type WebMercator struct {
	R float64
}

// Forward projects lon/lat degrees to metres.
func (m WebMercator) Forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) > MaxMercatorLat+1e-9 || math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, 0, ErrOutOfDomain
	}
	lambda := normalizeLon(lon) * math.Pi / 180
	phi := lat * math.Pi / 180
	return m.R * lambda, m.R * math.Log(math.Tan(math.Pi/4+phi/2)), nil
}

// Inverse converts metres to lon/lat degrees.
func (m WebMercator) Inverse(x, y float64) (float64, float64, error) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, ErrOutOfDomain
	}
	lon := x / m.R * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/m.R)) - math.Pi/2) * 180 / math.Pi
	return lon, lat, nil
}
