package tiles

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-report/internal/crs"
)

// DirSource reads pre-rendered tiles laid out as <Dir>/<z>/<x>/<y>.<Ext>.
type DirSource struct {
	Dir string
	Ext string
}

var (
	_ Source    = (*DirSource)(nil)
	_ RawSource = (*DirSource)(nil)
)

// NewDirSource returns a source over dir with png tiles.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir, Ext: "png"}
}

// CRS implements Source.
func (d *DirSource) CRS() int { return crs.EPSGWebMercator }

// TileSize implements Source.
func (d *DirSource) TileSize() int { return DefaultTileSize }

// ContentType implements RawSource.
func (d *DirSource) ContentType() string { return contentType(d.Ext) }

// Path returns the file path of a tile.
func (d *DirSource) Path(z, x, y int) string {
	return filepath.Join(d.Dir, strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)+"."+d.Ext)
}

// Fetch implements RawSource.
func (d *DirSource) Fetch(_ context.Context, z, x, y int) ([]byte, error) {
	if err := checkCoord(z, x, y); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.Path(z, x, y))
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrTileNotFound, "tiles: %s", d.Path(z, x, y))
	}
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: read %s", d.Path(z, x, y))
	}
	return data, nil
}

// Tile implements Source.
func (d *DirSource) Tile(ctx context.Context, z, x, y int) (image.Image, error) {
	data, err := d.Fetch(ctx, z, x, y)
	if err != nil {
		return nil, err
	}
	return decode(data)
}
