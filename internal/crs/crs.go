// Package crs implements the coordinate reference systems geo-report can
// reproject between: geographic WGS 84, NAD83 and OSGB36, the British
// National Grid, Web Mercator and the WGS 84 UTM zones.
package crs

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Projection maps geographic degrees on a datum to planar metres.
type Projection interface {
	Forward(lon, lat float64) (x, y float64, err error)
	Inverse(x, y float64) (lon, lat float64, err error)
}

// CRS is a coordinate reference system identified by its EPSG code.
// Geographic systems have a nil Projection and use lon/lat degree axes.
type CRS struct {
	Code  int
	Name  string
	Datum *Datum
	Proj  Projection
}

// Well-known EPSG codes.
const (
	EPSGWGS84       = 4326
	EPSGNAD83       = 4269
	EPSGOSGB36      = 4277
	EPSGBritishGrid = 27700
	EPSGWebMercator = 3857
)

var registry = map[int]*CRS{
	EPSGWGS84:  {Code: EPSGWGS84, Name: "WGS 84", Datum: WGS84},
	EPSGNAD83:  {Code: EPSGNAD83, Name: "NAD83", Datum: NAD83},
	EPSGOSGB36: {Code: EPSGOSGB36, Name: "OSGB36", Datum: OSGB36},
	EPSGBritishGrid: {
		Code:  EPSGBritishGrid,
		Name:  "OSGB36 / British National Grid",
		Datum: OSGB36,
		Proj:  NewTransverseMercator(Airy1830, 49, -2, 0.9996012717, 400000, -100000),
	},
	EPSGWebMercator: {
		Code:  EPSGWebMercator,
		Name:  "WGS 84 / Pseudo-Mercator",
		Datum: WGS84,
		Proj:  WebMercator{R: WGS84Ellipsoid.A},
	},
}

// Lookup returns the CRS for an EPSG code.
func Lookup(code int) (*CRS, error) {
	if c, ok := registry[code]; ok {
		return c, nil
	}
	if c, ok := utm(code); ok {
		return c, nil
	}
	return nil, eris.Wrapf(ErrUnknownCRS, "crs: EPSG:%d", code)
}

// MustLookup is Lookup for codes known to be in the registry.
func MustLookup(code int) *CRS {
	c, err := Lookup(code)
	if err != nil {
		panic(err)
	}
	return c
}

// Codes returns the fixed registry codes (UTM zones excluded).
func Codes() []int {
	return []int{EPSGWGS84, EPSGNAD83, EPSGOSGB36, EPSGBritishGrid, EPSGWebMercator}
}

// utm builds a WGS 84 / UTM zone CRS for EPSG 32601-32660 and 32701-32760.
func utm(code int) (*CRS, bool) {
	var zone int
	var south bool
	switch {
	case code >= 32601 && code <= 32660:
		zone = code - 32600
	case code >= 32701 && code <= 32760:
		zone, south = code-32700, true
	default:
		return nil, false
	}

	fn := 0.0
	hemi := "N"
	if south {
		fn = 10000000
		hemi = "S"
	}
	lon0 := float64(-183 + 6*zone)
	return &CRS{
		Code:  code,
		Name:  fmt.Sprintf("WGS 84 / UTM zone %d%s", zone, hemi),
		Datum: WGS84,
		Proj:  NewTransverseMercator(WGS84Ellipsoid, 0, lon0, 0.9996, 500000, fn),
	}, true
}

// Geographic reports whether coordinates are lon/lat degrees.
func (c *CRS) Geographic() bool { return c.Proj == nil }

// String returns "EPSG:<code>".
func (c *CRS) String() string {
	if c == nil {
		return "<undefined>"
	}
	return fmt.Sprintf("EPSG:%d", c.Code)
}

// Equal reports whether two systems share an EPSG code. Nil never equals anything.
func Equal(a, b *CRS) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Code == b.Code
}
