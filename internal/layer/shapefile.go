package layer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// readShapefile parses one .shp (with .shx/.dbf companions) into records.
// Null shapes are skipped and counted.
func readShapefile(shpPath, name string) (fields []string, records []Record, kind Kind, err error) {
	openPath, cleanup, err := lowerCompanions(shpPath, name)
	if err != nil {
		return nil, nil, KindUnknown, err
	}
	defer cleanup()

	reader, err := shp.Open(openPath)
	if err != nil {
		return nil, nil, KindUnknown, eris.Wrapf(err, "layer: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	for _, f := range reader.Fields() {
		fields = append(fields, strings.TrimSpace(strings.TrimRight(f.String(), "\x00")))
	}

	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}

		k := KindOf(g)
		switch {
		case kind == KindUnknown:
			kind = k
		case k != kind:
			return nil, nil, KindUnknown, eris.Errorf("layer: %s mixes %s and %s geometries", name, kind, k)
		}

		attrs := make(map[string]string, len(fields))
		for i, f := range fields {
			val := strings.TrimRight(reader.Attribute(i), "\x00")
			attrs[f] = strings.TrimSpace(val)
		}
		records = append(records, Record{Attrs: attrs, Geom: g})
	}
	if err := reader.Err(); err != nil {
		return nil, nil, KindUnknown, eris.Wrapf(err, "layer: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("layer: skipped null shapes",
			zap.String("layer", name),
			zap.Int("skipped", skipped),
		)
	}

	return fields, records, kind, nil
}

// shapeToGeom converts a go-shp shape to a go-geom geometry. Measures are
// dropped; Z values are kept. Null and unsupported shapes return nil.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointM:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XYZ, []float64{s.X, s.Y, s.Z})

	case *shp.MultiPoint:
		return multiPoint(s.Points, nil)
	case *shp.MultiPointM:
		return multiPoint(s.Points, nil)
	case *shp.MultiPointZ:
		return multiPoint(s.Points, s.ZArray)

	case *shp.PolyLine:
		return multiLineString(s.Parts, s.Points, nil)
	case *shp.PolyLineM:
		return multiLineString(s.Parts, s.Points, nil)
	case *shp.PolyLineZ:
		return multiLineString(s.Parts, s.Points, s.ZArray)

	case *shp.Polygon:
		return multiPolygon(s.Parts, s.Points, nil)
	case *shp.PolygonM:
		return multiPolygon(s.Parts, s.Points, nil)
	case *shp.PolygonZ:
		return multiPolygon(s.Parts, s.Points, s.ZArray)

	default:
		return nil
	}
}

func layoutFor(z []float64) geom.Layout {
	if z != nil {
		return geom.XYZ
	}
	return geom.XY
}

// appendFlat appends points[start:end] to flat, with z ordinates when given.
func appendFlat(flat []float64, points []shp.Point, z []float64, start, end int) []float64 {
	for j := start; j < end; j++ {
		flat = append(flat, points[j].X, points[j].Y)
		if z != nil {
			zv := 0.0
			if j < len(z) {
				zv = z[j]
			}
			flat = append(flat, zv)
		}
	}
	return flat
}

// partRange returns the [start, end) point range of part i.
func partRange(parts []int32, numPoints, i int) (int, int) {
	start := int(parts[i])
	end := numPoints
	if i+1 < len(parts) {
		end = int(parts[i+1])
	}
	if start < 0 || end > numPoints || start > end {
		return 0, 0
	}
	return start, end
}

func multiPoint(points []shp.Point, z []float64) geom.T {
	if len(points) == 0 {
		return nil
	}
	layout := layoutFor(z)
	flat := appendFlat(make([]float64, 0, len(points)*layout.Stride()), points, z, 0, len(points))
	return geom.NewMultiPointFlat(layout, flat)
}

func multiLineString(parts []int32, points []shp.Point, z []float64) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}
	layout := layoutFor(z)
	flat := make([]float64, 0, len(points)*layout.Stride())
	var ends []int
	for i := range parts {
		start, end := partRange(parts, len(points), i)
		if end-start < 2 {
			zap.L().Debug("layer: skipping degenerate line part", zap.Int("part", i))
			continue
		}
		flat = appendFlat(flat, points, z, start, end)
		ends = append(ends, len(flat))
	}
	if len(ends) == 0 {
		return nil
	}
	return geom.NewMultiLineStringFlat(layout, flat, ends)
}

// multiPolygon groups shapefile rings into polygons. Outer rings are
// clockwise; each counter-clockwise ring is a hole of the preceding outer
// ring.
func multiPolygon(parts []int32, points []shp.Point, z []float64) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}
	layout := layoutFor(z)
	flat := make([]float64, 0, len(points)*layout.Stride())
	var endss [][]int
	for i := range parts {
		start, end := partRange(parts, len(points), i)
		if end-start < 4 {
			zap.L().Debug("layer: skipping degenerate polygon ring", zap.Int("part", i))
			continue
		}
		hole := signedArea(points[start:end]) > 0
		flat = appendFlat(flat, points, z, start, end)
		if hole && len(endss) > 0 {
			last := len(endss) - 1
			endss[last] = append(endss[last], len(flat))
			continue
		}
		endss = append(endss, []int{len(flat)})
	}
	if len(endss) == 0 {
		return nil
	}
	return geom.NewMultiPolygonFlat(layout, flat, endss)
}

// signedArea is the shoelace area; positive for counter-clockwise rings.
func signedArea(ring []shp.Point) float64 {
	var sum float64
	for i := range ring {
		j := (i + 1) % len(ring)
		sum += ring[i].X*ring[j].Y - ring[j].X*ring[i].Y
	}
	return sum / 2
}

// findCompanion returns the sibling of shpPath with extension ext, matched
// case-insensitively, or "" when there is none.
func findCompanion(shpPath, ext string) (string, error) {
	dir := filepath.Dir(shpPath)
	base := strings.TrimSuffix(filepath.Base(shpPath), filepath.Ext(shpPath))

	exact := filepath.Join(dir, base+ext)
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrapf(err, "layer: read dir %s", dir)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), base+ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

// lowerCompanions checks the .dbf exists and returns a path go-shp can
// open. go-shp only opens lower-case "shp" and "dbf" extensions, so
// upper- or mixed-case files are linked into a temp dir under lower-case
// names; cleanup removes it.
func lowerCompanions(shpPath, name string) (string, func(), error) {
	noop := func() {}

	dbfPath, err := findCompanion(shpPath, ".dbf")
	if err != nil {
		return "", noop, err
	}
	if dbfPath == "" {
		return "", noop, eris.Errorf("layer: %s: missing .dbf", name)
	}

	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	if filepath.Ext(shpPath) == ".shp" && dbfPath == base+".dbf" {
		return shpPath, noop, nil
	}

	tmp, err := os.MkdirTemp("", "geo-report-shp-*")
	if err != nil {
		return "", noop, eris.Wrap(err, "layer: create temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	stem := filepath.Join(tmp, "layer")
	for src, dst := range map[string]string{shpPath: stem + ".shp", dbfPath: stem + ".dbf"} {
		abs, err := filepath.Abs(src)
		if err != nil {
			cleanup()
			return "", noop, eris.Wrapf(err, "layer: resolve %s", src)
		}
		if err := os.Symlink(abs, dst); err != nil {
			cleanup()
			return "", noop, eris.Wrapf(err, "layer: link %s", src)
		}
	}
	return stem + ".shp", cleanup, nil
}
