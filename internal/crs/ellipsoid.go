package crs

import "math"

// Ellipsoid is a reference ellipsoid defined by semi-major axis and flattening.
type Ellipsoid struct {
	Name string
	A    float64 // semi-major axis, metres
	F    float64 // flattening
}

// Reference ellipsoids used by the registry.
var (
	WGS84Ellipsoid = Ellipsoid{Name: "WGS 84", A: 6378137, F: 1 / 298.257223563}
	GRS80Ellipsoid = Ellipsoid{Name: "GRS 1980", A: 6378137, F: 1 / 298.257222101}
	Airy1830       = Ellipsoid{Name: "Airy 1830", A: 6377563.396, F: 1 - 6356256.909/6377563.396}
)

// B returns the semi-minor axis.
func (e Ellipsoid) B() float64 { return e.A * (1 - e.F) }

// E2 returns the first eccentricity squared.
func (e Ellipsoid) E2() float64 { return e.F * (2 - e.F) }

// ToECEF converts geodetic coordinates (radians, metres) to earth-centred cartesian.
func (e Ellipsoid) ToECEF(lat, lon, h float64) (x, y, z float64) {
	e2 := e.E2()
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	n := e.A / math.Sqrt(1-e2*sinLat*sinLat)
	x = (n + h) * cosLat * cosLon
	y = (n + h) * cosLat * sinLon
	z = (n*(1-e2) + h) * sinLat
	return x, y, z
}

// FromECEF converts earth-centred cartesian coordinates back to geodetic
// latitude, longitude (radians) and ellipsoidal height.
func (e Ellipsoid) FromECEF(x, y, z float64) (lat, lon, h float64) {
	e2 := e.E2()
	lon = math.Atan2(y, x)
	p := math.Hypot(x, y)
	lat = math.Atan2(z, p*(1-e2))

	for range 16 {
		sinLat := math.Sin(lat)
		n := e.A / math.Sqrt(1-e2*sinLat*sinLat)
		h = p/math.Cos(lat) - n
		next := math.Atan2(z, p*(1-e2*n/(n+h)))
		if math.Abs(next-lat) < 1e-15 {
			lat = next
			break
		}
		lat = next
	}

	sinLat := math.Sin(lat)
	n := e.A / math.Sqrt(1-e2*sinLat*sinLat)
	h = p/math.Cos(lat) - n
	return lat, lon, h
}
