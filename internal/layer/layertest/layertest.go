// Package layertest writes small shapefile datasets for tests.
package layertest

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

// PRJ strings for the fixtures.
const (
	PRJBritishGrid = `PROJCS["British_National_Grid",GEOGCS["GCS_OSGB_1936",DATUM["D_OSGB_1936",SPHEROID["Airy_1830",6377563.396,299.3249646]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",400000.0],PARAMETER["False_Northing",-100000.0],PARAMETER["Central_Meridian",-2.0],PARAMETER["Scale_Factor",0.9996012717],PARAMETER["Latitude_Of_Origin",49.0],UNIT["Meter",1.0]]`
	PRJWGS84       = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	PRJNAD83       = `GEOGCS["GCS_North_American_1983",DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
)

// Death is one cholera death address in British National Grid metres.
type Death struct {
	X, Y  float64
	Count int
}

// SnowDeaths are a handful of Broad Street addresses.
var SnowDeaths = []Death{
	{X: 529308.741, Y: 181031.352, Count: 3},
	{X: 529312.164, Y: 181025.172, Count: 2},
	{X: 529314.382, Y: 181020.294, Count: 1},
	{X: 529317.380, Y: 181014.259, Count: 1},
	{X: 529320.675, Y: 181007.872, Count: 4},
	{X: 529362.328, Y: 181055.490, Count: 15},
}

// SnowPumps are three of the Soho water pumps, Broad Street first.
var SnowPumps = [][2]float64{
	{529396.539, 181025.063},
	{529192.538, 181079.391},
	{529183.740, 181193.735},
}

// WriteSnow writes Cholera_Deaths and Pumps layers (with BNG .prj files)
// into dir and returns dir.
func WriteSnow(t testing.TB, dir string) string {
	t.Helper()

	deaths := make([]Point, len(SnowDeaths))
	for i, d := range SnowDeaths {
		deaths[i] = Point{X: d.X, Y: d.Y, Attrs: []any{i, d.Count}}
	}
	WritePoints(t, dir, "Cholera_Deaths", PRJBritishGrid,
		[]shp.Field{shp.NumberField("Id", 6), shp.NumberField("Count", 6)}, deaths)

	pumps := make([]Point, len(SnowPumps))
	for i, p := range SnowPumps {
		pumps[i] = Point{X: p[0], Y: p[1], Attrs: []any{i}}
	}
	WritePoints(t, dir, "Pumps", PRJBritishGrid, []shp.Field{shp.NumberField("Id", 6)}, pumps)
	return dir
}

// Point is a fixture point with attribute values in field order.
type Point struct {
	X, Y  float64
	Attrs []any
}

// WritePoints writes a point shapefile named name into dir. prj may be empty.
func WritePoints(t testing.TB, dir, name, prj string, fields []shp.Field, points []Point) {
	t.Helper()

	w, err := shp.Create(filepath.Join(dir, name+".shp"), shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields(fields))
	for _, p := range points {
		n := w.Write(&shp.Point{X: p.X, Y: p.Y})
		for j, v := range p.Attrs {
			require.NoError(t, w.WriteAttribute(int(n), j, v))
		}
	}
	w.Close()
	fixDBFName(t, dir, name)
	writePRJ(t, dir, name, prj)
}

// Polygon is a fixture polygon: rings in shapefile winding (outer rings
// clockwise) plus attribute values in field order.
type Polygon struct {
	Rings [][]shp.Point
	Attrs []any
}

// Square returns a closed clockwise ring with lower-left corner (x, y).
func Square(x, y, size float64) []shp.Point {
	return []shp.Point{
		{X: x, Y: y},
		{X: x, Y: y + size},
		{X: x + size, Y: y + size},
		{X: x + size, Y: y},
		{X: x, Y: y},
	}
}

// WritePolygons writes a polygon shapefile named name into dir.
func WritePolygons(t testing.TB, dir, name, prj string, fields []shp.Field, polys []Polygon) {
	t.Helper()

	w, err := shp.Create(filepath.Join(dir, name+".shp"), shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields(fields))
	for _, p := range polys {
		shape := shp.Polygon(*shp.NewPolyLine(p.Rings))
		n := w.Write(&shape)
		for j, v := range p.Attrs {
			require.NoError(t, w.WriteAttribute(int(n), j, v))
		}
	}
	w.Close()
	fixDBFName(t, dir, name)
	writePRJ(t, dir, name, prj)
}

// WriteLines writes a polyline shapefile named name into dir.
func WriteLines(t testing.TB, dir, name, prj string, fields []shp.Field, lines [][][]shp.Point) {
	t.Helper()

	w, err := shp.Create(filepath.Join(dir, name+".shp"), shp.POLYLINE)
	require.NoError(t, err)
	require.NoError(t, w.SetFields(fields))
	for i, parts := range lines {
		n := w.Write(shp.NewPolyLine(parts))
		require.NoError(t, w.WriteAttribute(int(n), 0, i))
	}
	w.Close()
	fixDBFName(t, dir, name)
	writePRJ(t, dir, name, prj)
}

// fixDBFName renames the attribute table go-shp's writer leaves as
// name+"dbf" (no dot) to name+".dbf".
func fixDBFName(t testing.TB, dir, name string) {
	t.Helper()
	require.NoError(t, os.Rename(filepath.Join(dir, name+"dbf"), filepath.Join(dir, name+".dbf")))
}

// Zip archives every regular file of dir (flat) into zipPath.
func Zip(t testing.TB, dir, zipPath string) {
	t.Helper()

	out, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		w, err := zw.Create(e.Name())
		require.NoError(t, err)
		_, err = io.Copy(w, f)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}

func writePRJ(t testing.TB, dir, name, prj string) {
	t.Helper()
	if prj == "" {
		return
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".prj"), []byte(prj), 0o644))
}
