package layer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/fetcher"
)

// ErrLayerNotFound is returned when a dataset has no layer of the requested name.
var ErrLayerNotFound = eris.New("layer: not found")

// NotFoundError names the missing layer and the layers that do exist.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("layer: %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrLayerNotFound }

// Dataset is an opened shapefile collection. Layers are parsed on demand.
type Dataset struct {
	Path    string
	shps    map[string]string // layer name -> .shp path
	tempDir string
}

// Open scans a directory or .zip archive for shapefiles. Archives are
// extracted to a temporary directory that Close removes.
func Open(path string) (*Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: stat %s", path)
	}

	ds := &Dataset{Path: path, shps: make(map[string]string)}
	root := path

	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(path), ".zip") {
			return nil, eris.Errorf("layer: %s is neither a directory nor a .zip", path)
		}
		tmp, err := os.MkdirTemp("", "geo-report-layer-*")
		if err != nil {
			return nil, eris.Wrap(err, "layer: create temp dir")
		}
		if _, err := fetcher.ExtractZIP(path, tmp); err != nil {
			_ = os.RemoveAll(tmp)
			return nil, eris.Wrapf(err, "layer: extract %s", path)
		}
		ds.tempDir = tmp
		root = tmp
	}

	shps, err := fetcher.FindByExt(root, ".shp")
	if err != nil {
		_ = ds.Close()
		return nil, eris.Wrapf(err, "layer: scan %s", path)
	}
	for _, p := range shps {
		base := filepath.Base(p)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if prev, dup := ds.shps[name]; dup {
			zap.L().Warn("layer: duplicate layer name, keeping first",
				zap.String("layer", name),
				zap.String("kept", prev),
				zap.String("ignored", p),
			)
			continue
		}
		ds.shps[name] = p
	}

	zap.L().Debug("layer: opened dataset",
		zap.String("path", path),
		zap.Int("layers", len(ds.shps)),
	)
	return ds, nil
}

// Close releases any temporary extraction directory.
func (d *Dataset) Close() error {
	if d.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(d.tempDir)
	d.tempDir = ""
	return err
}

// Names returns the sorted layer names.
func (d *Dataset) Names() []string {
	return sortedKeys(d.shps)
}

// Layer loads the named layer. Names match exactly first, then
// case-insensitively.
func (d *Dataset) Layer(name string) (*Layer, error) {
	shpPath, ok := d.shps[name]
	if !ok {
		for _, n := range d.Names() {
			if strings.EqualFold(n, name) {
				name, shpPath, ok = n, d.shps[n], true
				break
			}
		}
	}
	if !ok {
		return nil, &NotFoundError{Name: name, Available: d.Names()}
	}

	fields, records, kind, err := readShapefile(shpPath, name)
	if err != nil {
		return nil, err
	}

	l := &Layer{Name: name, Kind: kind, Fields: fields, Records: records}

	prjPath, err := findCompanion(shpPath, ".prj")
	if err != nil {
		return nil, err
	}
	if prjPath == "" {
		prjPath = strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj"
	}

	c, err := readPRJ(prjPath)
	switch {
	case err == nil:
		l = l.WithCRS(c)
	case errors.Is(err, os.ErrNotExist):
		zap.L().Warn("layer: no .prj, CRS undefined", zap.String("layer", name))
	case errors.Is(err, crs.ErrUnknownCRS):
		zap.L().Warn("layer: unrecognised .prj, CRS undefined", zap.String("layer", name), zap.Error(err))
	default:
		return nil, err
	}

	return l, nil
}

// Layers loads every layer in name order.
func (d *Dataset) Layers() ([]*Layer, error) {
	names := d.Names()
	out := make([]*Layer, 0, len(names))
	for _, n := range names {
		l, err := d.Layer(n)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func readPRJ(path string) (*crs.CRS, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, eris.Wrapf(err, "layer: read %s", path)
	}
	return crs.ParsePRJ(string(data))
}
