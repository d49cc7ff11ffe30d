package census

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/layer"
)

// BoundaryURL returns the cartographic boundary archive for the query. Tract
// files are per state; the county file is national.
func (c *Client) BoundaryURL(year int, level Level, stateFIPS string) string {
	base := strings.TrimRight(c.cfg.BoundaryBaseURL, "/")
	if level == LevelCounty {
		return fmt.Sprintf("%s/GENZ%d/shp/cb_%d_us_county_500k.zip", base, year, year)
	}
	return fmt.Sprintf("%s/GENZ%d/shp/cb_%d_%s_tract_500k.zip", base, year, year, stateFIPS)
}

// boundaries downloads and opens the boundary archive and indexes its
// geometry by GEOID, keeping only units in the queried state and county.
func (c *Client) boundaries(ctx context.Context, q Query, stateFIPS string) (map[string]geom.T, error) {
	u := c.BoundaryURL(q.Year, q.Geography.Level, stateFIPS)
	log := zap.L().With(zap.String("component", "census.boundary"), zap.String("url", u))

	if c.cfg.TempDir != "" {
		if err := os.MkdirAll(c.cfg.TempDir, 0o755); err != nil {
			return nil, eris.Wrap(err, "census: create temp dir")
		}
	}
	dir, err := os.MkdirTemp(c.cfg.TempDir, "census-boundary-*")
	if err != nil {
		return nil, eris.Wrap(err, "census: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	zipPath := filepath.Join(dir, path.Base(u))
	log.Info("census: downloading boundaries")
	if _, err := c.download.DownloadToFile(ctx, u, zipPath); err != nil {
		return nil, classify(ctx, err)
	}

	ds, err := layer.Open(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "census: open boundary archive")
	}
	defer ds.Close() //nolint:errcheck

	names := ds.Names()
	if len(names) == 0 {
		return nil, eris.Errorf("census: boundary archive %s has no layers", path.Base(u))
	}
	l, err := ds.Layer(names[0])
	if err != nil {
		return nil, eris.Wrap(err, "census: read boundary layer")
	}
	if !l.HasField("GEOID") {
		return nil, eris.Errorf("census: boundary layer %s has no GEOID field", l.Name)
	}

	prefix := stateFIPS + q.Geography.County
	shapes := make(map[string]geom.T, l.Len())
	for _, rec := range l.Records {
		id := rec.Attrs["GEOID"]
		if rec.Geom == nil || !strings.HasPrefix(id, prefix) {
			continue
		}
		shapes[id] = rec.Geom
	}
	log.Debug("census: boundaries indexed", zap.String("layer", l.Name), zap.Int("units", len(shapes)))
	return shapes, nil
}
