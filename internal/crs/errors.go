package crs

import "github.com/rotisserie/eris"

var (
	// ErrUnknownCRS is returned for EPSG codes or WKT definitions outside the registry.
	ErrUnknownCRS = eris.New("crs: unknown coordinate reference system")

	// ErrUndefinedCRS is returned when a transform is requested from a layer
	// that carries no coordinate reference system.
	ErrUndefinedCRS = eris.New("crs: source coordinate reference system is undefined")

	// ErrOutOfDomain is returned for coordinates a projection cannot represent.
	ErrOutOfDomain = eris.New("crs: coordinate outside projection domain")
)
