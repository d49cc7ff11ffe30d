package crs

// Datum is a geodetic datum. FromWGS84 is the Helmert shift taking WGS 84
// cartesian coordinates into this datum; nil means the datum is treated as
// coincident with WGS 84.
type Datum struct {
	Name      string
	Ellipsoid Ellipsoid
	FromWGS84 *Helmert
}

// Registry datums.
var (
	WGS84 = &Datum{Name: "WGS_1984", Ellipsoid: WGS84Ellipsoid}

	// NAD83 differs from WGS 84 by about a metre; like PROJ's ballpark
	// transformation it is handled as a null shift.
	NAD83 = &Datum{Name: "North_American_Datum_1983", Ellipsoid: GRS80Ellipsoid}

	// OSGB36 uses the Ordnance Survey's published WGS 84 → OSGB36 parameters.
	OSGB36 = &Datum{
		Name:      "OSGB_1936",
		Ellipsoid: Airy1830,
		FromWGS84: &Helmert{
			Tx: -446.448, Ty: 125.157, Tz: -542.060,
			S: 20.4894,
			Rx: -0.1502, Ry: -0.2470, Rz: -0.8421,
		},
	}
)

// equivalent reports whether converting between the datums is a no-op.
func (d *Datum) equivalent(other *Datum) bool {
	if d == other || d.Name == other.Name {
		return true
	}
	return d.FromWGS84 == nil && other.FromWGS84 == nil
}

// shift converts geodetic coordinates (radians, metres) from datum src to dst.
func shift(src, dst *Datum, lat, lon, h float64) (float64, float64, float64) {
	x, y, z := src.Ellipsoid.ToECEF(lat, lon, h)
	if src.FromWGS84 != nil {
		x, y, z = src.FromWGS84.Invert(x, y, z)
	}
	if dst.FromWGS84 != nil {
		x, y, z = dst.FromWGS84.Apply(x, y, z)
	}
	return dst.Ellipsoid.FromECEF(x, y, z)
}
