package adapters

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
)

// DefaultStemIDProperty names the stem id property in registry exports.
const DefaultStemIDProperty = "tree_id"

// ReadStems parses a GeoJSON FeatureCollection of stem points. The tree id
// is read from idProperty, falling back to the feature id. Features
// without a point geometry or an id are rejected.
func ReadStems(r io.Reader, idProperty string) ([]l5relation.Stem, error) {
	if idProperty == "" {
		idProperty = DefaultStemIDProperty
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse stems: %w", err)
	}

	stems := make([]l5relation.Stem, 0, len(fc.Features))
	seen := make(map[string]int, len(fc.Features))
	for i, f := range fc.Features {
		var pt orb.Point
		switch g := f.Geometry.(type) {
		case orb.Point:
			pt = g
		case orb.MultiPoint:
			if len(g) != 1 {
				return nil, fmt.Errorf("stem feature %d: multipoint with %d points", i, len(g))
			}
			pt = g[0]
		default:
			return nil, fmt.Errorf("stem feature %d: geometry %T is not a point", i, f.Geometry)
		}
		id := idString(f.Properties[idProperty])
		if id == "" {
			id = idString(f.ID)
		}
		if id == "" {
			return nil, fmt.Errorf("stem feature %d: no %q property", i, idProperty)
		}
		if j, dup := seen[id]; dup {
			return nil, fmt.Errorf("stem feature %d: tree id %q already used by feature %d", i, id, j)
		}
		seen[id] = i
		attrs := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			attrs[k] = v
		}
		stems = append(stems, l5relation.Stem{TreeID: id, Point: pt, Attributes: attrs})
	}
	diagf("read %d stems keyed by %q", len(stems), idProperty)
	return stems, nil
}

// ReadPolygons collects every polygon of a GeoJSON FeatureCollection,
// splitting multipolygons. Other geometries are skipped.
func ReadPolygons(r io.Reader) ([]orb.Polygon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse polygons: %w", err)
	}
	var out []orb.Polygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			out = append(out, g)
		case orb.MultiPolygon:
			out = append(out, g...)
		}
	}
	return out, nil
}

func idString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// CrownFeatures converts crowns to GeoJSON features. cases may be nil;
// otherwise each crown carries its relation case.
func CrownFeatures(crowns []l4trees.Crown, cases map[string]l5relation.Case) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range crowns {
		f := geojson.NewFeature(c.Geometry())
		f.ID = c.ID
		f.Properties = geojson.Properties{
			"crown_id":      c.ID,
			"unit":          c.UnitCode,
			"method":        string(c.Method),
			"area":          c.Area,
			"perimeter":     c.Perimeter,
			"hull_area":     c.Attributes.HullArea,
			"crown_diam":    c.Attributes.Diameter,
			"ratio_ca_cha":  c.Attributes.HullRatio,
			"crown_volume":  c.Attributes.Volume,
			"outlier_ca":    int(c.Attributes.AreaOutlier),
			"outlier_ratio": int(c.Attributes.HullRatioOutlier),
		}
		setString(f.Properties, "parent_id", c.ParentID)
		setString(f.Properties, "top_id", c.TopID)
		setFloat(f.Properties, "top_height", c.TopHeight)
		setFloat(f.Properties, "top_altitude", c.TopAltitude)
		if cs, ok := cases[c.ID]; ok {
			f.Properties["case"] = string(cs)
		}
		fc.Append(f)
	}
	return fc
}

// TopFeatures converts tops to GeoJSON point features.
func TopFeatures(tops []l4trees.Top) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, t := range tops {
		f := geojson.NewFeature(t.Point)
		f.ID = t.ID
		f.Properties = geojson.Properties{
			"top_id": t.ID,
			"unit":   t.UnitCode,
			"method": string(t.Method),
		}
		setString(f.Properties, "crown_id", t.CrownID)
		setFloat(f.Properties, "height", t.Height)
		setFloat(f.Properties, "altitude", t.GroundAltitude)
		fc.Append(f)
	}
	return fc
}

// FalsePositiveFeatures converts removed crowns to GeoJSON features with
// the reason they were removed.
func FalsePositiveFeatures(fps []l4trees.FalsePositive) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, fp := range fps {
		c := fp.Crown
		f := geojson.NewFeature(c.Geometry())
		f.ID = c.ID
		f.Properties = geojson.Properties{
			"crown_id":     c.ID,
			"unit":         c.UnitCode,
			"reason":       fp.Reason,
			"area":         c.Area,
			"ratio_ca_cha": c.Attributes.HullRatio,
		}
		setString(f.Properties, "top_id", c.TopID)
		fc.Append(f)
	}
	return fc
}

// StemFeatures writes stems back out with their relation case, keeping
// every input attribute.
func StemFeatures(stems []l5relation.Stem, cases map[string]l5relation.Case) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	sorted := append([]l5relation.Stem(nil), stems...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TreeID < sorted[j].TreeID })
	for _, s := range sorted {
		f := geojson.NewFeature(s.Point)
		f.ID = s.TreeID
		for k, v := range s.Attributes {
			f.Properties[k] = v
		}
		f.Properties[DefaultStemIDProperty] = s.TreeID
		if cs, ok := cases[s.TreeID]; ok {
			f.Properties["case"] = string(cs)
		}
		fc.Append(f)
	}
	return fc
}

// WriteFeatures encodes fc as indented JSON.
func WriteFeatures(w io.Writer, fc *geojson.FeatureCollection) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}

func setString(p geojson.Properties, k, v string) {
	if v != "" {
		p[k] = v
	}
}

// setFloat skips NaN, which JSON cannot carry.
func setFloat(p geojson.Properties, k string, v float64) {
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		p[k] = v
	}
}
