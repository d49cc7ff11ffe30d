// Package tiles provides raster basemap tiles in the Web Mercator tiling
// scheme: the Source interface, HTTP and on-disk sources, an in-memory LRU
// cache and an HTTP proxy.
package tiles

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/rotisserie/eris"
)

// DefaultTileSize is the edge length of a slippy-map tile in pixels.
const DefaultTileSize = 256

var (
	// ErrTileNotFound is returned when a source has no tile at the address.
	ErrTileNotFound = eris.New("tiles: tile not found")

	// ErrTileRange is returned for z/x/y outside the tile pyramid.
	ErrTileRange = eris.New("tiles: tile address out of range")
)

// Source supplies decoded basemap tiles.
type Source interface {
	// CRS returns the EPSG code of the tiling scheme (3857).
	CRS() int
	TileSize() int
	Tile(ctx context.Context, z, x, y int) (image.Image, error)
}

// RawSource supplies encoded tile bytes. Proxy serves any RawSource.
type RawSource interface {
	Fetch(ctx context.Context, z, x, y int) ([]byte, error)
	ContentType() string
}

// Coord addresses one tile.
type Coord struct {
	Z, X, Y int
}

// Valid reports whether c lies inside the pyramid.
func (c Coord) Valid() bool {
	if c.Z < 0 || c.Z > MaxZoom {
		return false
	}
	n := 1 << c.Z
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

func checkCoord(z, x, y int) error {
	if !(Coord{Z: z, X: x, Y: y}).Valid() {
		return eris.Wrapf(ErrTileRange, "tiles: %d/%d/%d", z, x, y)
	}
	return nil
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "tiles: decode tile")
	}
	return img, nil
}

func contentType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
