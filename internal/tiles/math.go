package tiles

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/geo-report/internal/crs"
)

// MaxZoom is the deepest zoom level requested from tile servers.
const MaxZoom = 19

// OriginShift is half the Web Mercator world width in metres.
const OriginShift = math.Pi * 6378137.0

// LonLatToTile returns the tile containing a WGS 84 position at zoom z.
func LonLatToTile(lon, lat float64, z int) (x, y int) {
	lat = math.Max(-crs.MaxMercatorLat, math.Min(crs.MaxMercatorLat, lat))
	n := math.Exp2(float64(z))
	phi := lat * math.Pi / 180
	fx := (lon + 180) / 360 * n
	fy := (1 - math.Log(math.Tan(phi)+1/math.Cos(phi))/math.Pi) / 2 * n
	return clampTile(fx, z), clampTile(fy, z)
}

// Resolution returns metres per pixel at zoom z.
func Resolution(z, tileSize int) float64 {
	return 2 * OriginShift / (float64(tileSize) * math.Exp2(float64(z)))
}

// MercatorToPixel converts Web Mercator metres to global pixel coordinates
// at zoom z, origin top-left.
func MercatorToPixel(mx, my float64, z, tileSize int) (px, py float64) {
	res := Resolution(z, tileSize)
	return (mx + OriginShift) / res, (OriginShift - my) / res
}

// TileBounds returns the Web Mercator extent of a tile.
func TileBounds(c Coord) *geom.Bounds {
	size := 2 * OriginShift / math.Exp2(float64(c.Z))
	minX := -OriginShift + float64(c.X)*size
	maxY := OriginShift - float64(c.Y)*size
	return geom.NewBounds(geom.XY).Set(minX, maxY-size, minX+size, maxY)
}

// Covering returns the tiles intersecting a Web Mercator extent at zoom z,
// row by row from the top-left.
func Covering(b *geom.Bounds, z int) []Coord {
	if b == nil || b.IsEmpty() {
		return nil
	}
	n := math.Exp2(float64(z))
	world := 2 * OriginShift
	x0 := clampTile((b.Min(0)+OriginShift)/world*n, z)
	x1 := clampTile((b.Max(0)+OriginShift)/world*n, z)
	y0 := clampTile((OriginShift-b.Max(1))/world*n, z)
	y1 := clampTile((OriginShift-b.Min(1))/world*n, z)

	coords := make([]Coord, 0, (x1-x0+1)*(y1-y0+1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			coords = append(coords, Coord{Z: z, X: x, Y: y})
		}
	}
	return coords
}

// FitZoom returns the deepest zoom at which the extent fits in a
// width×height pixel frame.
func FitZoom(b *geom.Bounds, width, height, tileSize int) int {
	if b == nil || b.IsEmpty() || width <= 0 || height <= 0 {
		return 0
	}
	dx := b.Max(0) - b.Min(0)
	dy := b.Max(1) - b.Min(1)
	z := MaxZoom
	if dx > 0 {
		z = min(z, int(math.Floor(math.Log2(float64(width)*2*OriginShift/(float64(tileSize)*dx)))))
	}
	if dy > 0 {
		z = min(z, int(math.Floor(math.Log2(float64(height)*2*OriginShift/(float64(tileSize)*dy)))))
	}
	return max(0, z)
}

func clampTile(f float64, z int) int {
	n := 1 << z
	i := int(math.Floor(f))
	return max(0, min(n-1, i))
}
