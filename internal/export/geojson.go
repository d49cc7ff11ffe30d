// Package export writes layers and census tables to GeoJSON and XLSX.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/derive"
	"github.com/sells-group/geo-report/internal/layer"
)

// LayerGeoJSON writes l as a FeatureCollection. Attribute values stay
// strings; feature IDs are record indexes. Coordinates are written in the
// layer's CRS; a layer not in WGS 84 carries a named "crs" member so
// readers do not take projected metres for degrees.
func LayerGeoJSON(w io.Writer, l *layer.Layer) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, l.Len())}
	for i, rec := range l.Records {
		props := make(map[string]any, len(l.Fields))
		for _, f := range l.Fields {
			props[f] = rec.Attrs[f]
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.Itoa(i),
			Geometry:   rec.Geom,
			Properties: props,
		})
	}
	return encode(w, &fc, crsMember(l.CRS))
}

// NonWGS84 reports whether GeoJSON written for c needs a "crs" member.
func NonWGS84(c *crs.CRS) bool {
	return c != nil && c.Code != crs.EPSGWGS84
}

// crsMember returns the GeoJSON 2008 named CRS object for c, or nil for
// WGS 84 and undefined CRSs.
func crsMember(c *crs.CRS) map[string]any {
	if !NonWGS84(c) {
		return nil
	}
	return map[string]any{
		"crs": map[string]any{
			"type":       "name",
			"properties": map[string]string{"name": fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", c.Code)},
		},
	}
}

// CensusGeoJSON writes one feature per derived value. NaN metrics and
// estimates are written as null.
func CensusGeoJSON(w io.Writer, values []derive.Value) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(values))}
	for _, v := range values {
		r := v.Record
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       r.GEOID + ":" + r.Variable,
			Geometry: r.Geometry,
			Properties: map[string]any{
				"geoid":       r.GEOID,
				"name":        r.Name,
				"variable":    r.Variable,
				"code":        r.Code,
				"estimate":    nullable(r.Estimate),
				"moe":         nullable(r.MOE),
				"summary":     nullable(r.Summary),
				"summary_moe": nullable(r.SummaryMOE),
				"value":       nullable(v.Metric),
			},
		})
	}
	return encode(w, &fc, nil)
}

// WriteFile creates path and hands it to write.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

func encode(w io.Writer, fc *geojson.FeatureCollection, members map[string]any) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "export: marshal geojson")
	}
	if len(members) > 0 {
		obj := make(map[string]json.RawMessage)
		if err := json.Unmarshal(data, &obj); err != nil {
			return eris.Wrap(err, "export: decode geojson")
		}
		for k, v := range members {
			if obj[k], err = json.Marshal(v); err != nil {
				return eris.Wrapf(err, "export: marshal geojson member %s", k)
			}
		}
		if data, err = json.Marshal(obj); err != nil {
			return eris.Wrap(err, "export: marshal geojson")
		}
	}
	var buf json.RawMessage = data
	enc := json.NewEncoder(w)
	if err := enc.Encode(buf); err != nil {
		return eris.Wrap(err, "export: write geojson")
	}
	return nil
}

func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
