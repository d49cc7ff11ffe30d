// Package layer loads named geometry layers from shapefile datasets.
//
// A dataset is a directory (or a .zip of one) holding one or more
// shapefiles. Each <base>.shp with its .shx/.dbf companions is a layer named
// <base>; an optional <base>.prj supplies its coordinate reference system.
package layer

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geo-report/internal/crs"
)

// Kind is the geometry family shared by every record of a layer.
type Kind int

// Geometry families.
const (
	KindUnknown Kind = iota
	KindPoint
	KindLine
	KindPolygon
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindPolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// KindOf returns the family of a geometry.
func KindOf(g geom.T) Kind {
	switch g.(type) {
	case *geom.Point, *geom.MultiPoint:
		return KindPoint
	case *geom.LineString, *geom.MultiLineString:
		return KindLine
	case *geom.Polygon, *geom.MultiPolygon:
		return KindPolygon
	default:
		return KindUnknown
	}
}

// Record is one feature: its attribute values keyed by field name and its
// geometry.
type Record struct {
	Attrs map[string]string
	Geom  geom.T
}

// Layer is a named, ordered collection of records sharing one CRS and one
// geometry family. Layers are treated as immutable; transforms return new
// layers.
type Layer struct {
	Name    string
	CRS     *crs.CRS
	Kind    Kind
	Fields  []string
	Records []Record
}

// Len returns the number of records.
func (l *Layer) Len() int { return len(l.Records) }

// Bounds returns the union of all record bounds. An empty layer yields empty
// bounds.
func (l *Layer) Bounds() *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	for _, r := range l.Records {
		if r.Geom == nil {
			continue
		}
		b.Extend(r.Geom)
	}
	return b
}

// HasField reports whether the layer carries the named attribute.
func (l *Layer) HasField(name string) bool {
	for _, f := range l.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Float parses the named attribute of record i as a number.
func (l *Layer) Float(i int, field string) (float64, error) {
	if i < 0 || i >= len(l.Records) {
		return 0, eris.Errorf("layer: %s: record %d out of range", l.Name, i)
	}
	if !l.HasField(field) {
		return 0, eris.Errorf("layer: %s: no field %q", l.Name, field)
	}
	raw := strings.TrimSpace(l.Records[i].Attrs[field])
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "layer: %s: record %d field %s", l.Name, i, field)
	}
	return v, nil
}

// Range returns the min and max of a numeric field over all records.
func (l *Layer) Range(field string) (lo, hi float64, err error) {
	for i := range l.Records {
		v, err := l.Float(i, field)
		if err != nil {
			return 0, 0, err
		}
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	return lo, hi, nil
}

// WithCRS returns a copy of the layer tagged with c. Coordinates are not
// transformed; use it for layers whose dataset lacks a .prj.
func (l *Layer) WithCRS(c *crs.CRS) *Layer {
	out := l.Clone()
	out.CRS = c
	srid := 0
	if c != nil {
		srid = c.Code
	}
	for i := range out.Records {
		out.Records[i].Geom = SetSRID(out.Records[i].Geom, srid)
	}
	return out
}

// Clone deep-copies the layer, its attributes and geometries.
func (l *Layer) Clone() *Layer {
	out := &Layer{
		Name:    l.Name,
		CRS:     l.CRS,
		Kind:    l.Kind,
		Fields:  append([]string(nil), l.Fields...),
		Records: make([]Record, len(l.Records)),
	}
	for i, r := range l.Records {
		attrs := make(map[string]string, len(r.Attrs))
		for k, v := range r.Attrs {
			attrs[k] = v
		}
		out.Records[i] = Record{Attrs: attrs, Geom: CloneGeom(r.Geom)}
	}
	return out
}

// Summary is a one-line description used by listings.
type Summary struct {
	Name   string
	CRS    string
	Kind   string
	Count  int
	Bounds [4]float64
}

// Summarize describes l.
func Summarize(l *Layer) Summary {
	s := Summary{Name: l.Name, CRS: l.CRS.String(), Kind: l.Kind.String(), Count: l.Len()}
	if b := l.Bounds(); !b.IsEmpty() {
		s.Bounds = [4]float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}
	}
	return s
}

// CloneGeom returns an independent copy of g. Unsupported types return nil.
func CloneGeom(g geom.T) geom.T {
	switch t := g.(type) {
	case *geom.Point:
		return t.Clone()
	case *geom.MultiPoint:
		return t.Clone()
	case *geom.LineString:
		return t.Clone()
	case *geom.MultiLineString:
		return t.Clone()
	case *geom.Polygon:
		return t.Clone()
	case *geom.MultiPolygon:
		return t.Clone()
	default:
		return nil
	}
}

// SetSRID sets the SRID on g in place and returns it.
func SetSRID(g geom.T, srid int) geom.T {
	switch t := g.(type) {
	case *geom.Point:
		return t.SetSRID(srid)
	case *geom.MultiPoint:
		return t.SetSRID(srid)
	case *geom.LineString:
		return t.SetSRID(srid)
	case *geom.MultiLineString:
		return t.SetSRID(srid)
	case *geom.Polygon:
		return t.SetSRID(srid)
	case *geom.MultiPolygon:
		return t.SetSRID(srid)
	default:
		return g
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
