package l4trees

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/treecrown/internal/canopy/l3vector"
)

// AttributeOptions holds the outlier class boundaries for crown attributes.
type AttributeOptions struct {
	AreaMild     float64 // crowns above this area are mild outliers
	AreaExtreme  float64 // and above this one extreme
	RatioMild    float64 // area/hull ratios below this are mild outliers
	RatioExtreme float64 // and below this one extreme
}

// DefaultAttributeOptions returns the standard crown outlier limits.
func DefaultAttributeOptions() AttributeOptions {
	return AttributeOptions{AreaMild: 250, AreaExtreme: 350, RatioMild: 0.7, RatioExtreme: 0.6}
}

// WithAttributes returns copies of crowns with geometry attributes filled.
// Volume treats the crown as a cone of the crown diameter and top height.
func WithAttributes(crowns []Crown, opts AttributeOptions) []Crown {
	out := make([]Crown, len(crowns))
	for i, c := range crowns {
		m := l3vector.Measure(c.Polygon)
		a := Attributes{
			HullArea:  m.HullArea,
			Diameter:  m.Diameter,
			HullRatio: m.HullRatio,
		}
		if h := c.TopHeight; h > 0 && !math.IsNaN(h) {
			r := m.Diameter / 2
			a.Volume = math.Pi * r * r * h / 3
		}
		switch {
		case m.Area <= opts.AreaMild:
			a.AreaOutlier = OutlierNone
		case m.Area <= opts.AreaExtreme:
			a.AreaOutlier = OutlierMild
		default:
			a.AreaOutlier = OutlierExtreme
		}
		switch {
		case m.HullRatio >= opts.RatioMild:
			a.HullRatioOutlier = OutlierNone
		case m.HullRatio >= opts.RatioExtreme:
			a.HullRatioOutlier = OutlierMild
		default:
			a.HullRatioOutlier = OutlierExtreme
		}
		c.Area = m.Area
		c.Perimeter = m.Perimeter
		c.Attributes = a
		out[i] = c
	}
	return out
}

// ClipToUnit keeps trees whose top lies inside the unit boundary and clips
// their crowns to the boundary extent. Crowns and tops must already be
// reconciled; pairs are matched through TopID.
func ClipToUnit(crowns []Crown, tops []Top, boundary orb.Polygon) ([]Crown, []Top) {
	if len(boundary) == 0 {
		return crowns, tops
	}
	keepTop := make(map[string]bool, len(tops))
	for _, t := range tops {
		if planar.PolygonContains(boundary, t.Point) {
			keepTop[t.ID] = true
		}
	}
	bound := boundary.Bound()
	var outCrowns []Crown
	kept := make(map[string]bool, len(crowns))
	for _, c := range crowns {
		if !keepTop[c.TopID] {
			continue
		}
		if !bound.Contains(c.Polygon.Bound().Min) || !bound.Contains(c.Polygon.Bound().Max) {
			clipped := clip.Polygon(bound, c.Polygon.Clone())
			if len(clipped) == 0 {
				opsf("crown %s vanished when clipped to unit extent", c.ID)
				continue
			}
			c.Polygon = clipped
			c.Area = planar.Area(clipped)
			c.Perimeter = planar.Length(clipped)
		}
		outCrowns = append(outCrowns, c)
		kept[c.TopID] = true
	}
	var outTops []Top
	for _, t := range tops {
		if kept[t.ID] {
			outTops = append(outTops, t)
		}
	}
	diagf("clip to unit: kept %d of %d crowns", len(outCrowns), len(crowns))
	return outCrowns, outTops
}
