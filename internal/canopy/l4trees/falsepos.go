package l4trees

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// False-positive reasons, in the order they are tested.
const (
	ReasonAreaOutlier  = "area-outlier"
	ReasonRatioOutlier = "ratio-outlier"
	ReasonMaskedPost   = "masked-post"
)

// FalsePositiveOptions selects crowns that are not trees: geometry outliers
// and small compact crowns touching the mask, typically lamp posts on
// roads.
type FalsePositiveOptions struct {
	Enabled bool
	// Mask holds the road or pavement polygons of the unit.
	Mask []orb.Polygon `json:"-"`
	// PostMinArea and PostMaxArea bound the crown area of a post, exclusive.
	PostMinArea float64
	PostMaxArea float64
	// PostMinHullRatio and PostMinCircleRatio are exclusive lower limits
	// of area/hull area and area/enclosing circle area.
	PostMinHullRatio   float64
	PostMinCircleRatio float64
}

// DefaultFalsePositiveOptions returns the post limits with the filter off.
func DefaultFalsePositiveOptions() FalsePositiveOptions {
	return FalsePositiveOptions{
		PostMinArea:        6.5,
		PostMaxArea:        9,
		PostMinHullRatio:   0.85,
		PostMinCircleRatio: 0.7,
	}
}

// FalsePositive is a crown removed from the tree set, with its top.
type FalsePositive struct {
	Crown  Crown
	Top    *Top
	Reason string
}

// FilterFalsePositives moves outlier crowns and masked posts out of the
// crown set, together with their tops. Crowns need attributes first.
// With the filter disabled the inputs are returned unchanged.
func FilterFalsePositives(crowns []Crown, tops []Top, opts FalsePositiveOptions) ([]Crown, []Top, []FalsePositive) {
	if !opts.Enabled {
		return crowns, tops, nil
	}
	topByID := make(map[string]int, len(tops))
	for i, t := range tops {
		topByID[t.ID] = i
	}

	var (
		kept    []Crown
		fps     []FalsePositive
		dropTop = make(map[string]bool)
	)
	for _, c := range crowns {
		reason := falsePositiveReason(c, opts)
		if reason == "" {
			kept = append(kept, c)
			continue
		}
		fp := FalsePositive{Crown: c, Reason: reason}
		if i, ok := topByID[c.TopID]; ok {
			t := tops[i]
			fp.Top = &t
			dropTop[t.ID] = true
		}
		fps = append(fps, fp)
		tracef("crown %s is a false positive: %s", c.ID, reason)
	}
	var keptTops []Top
	for _, t := range tops {
		if !dropTop[t.ID] {
			keptTops = append(keptTops, t)
		}
	}
	if len(fps) > 0 {
		diagf("false positives: removed %d of %d crowns", len(fps), len(crowns))
	}
	return kept, keptTops, fps
}

func falsePositiveReason(c Crown, opts FalsePositiveOptions) string {
	a := c.Attributes
	switch {
	case a.AreaOutlier != OutlierNone:
		return ReasonAreaOutlier
	case a.HullRatioOutlier != OutlierNone:
		return ReasonRatioOutlier
	}
	if c.Area <= opts.PostMinArea || c.Area >= opts.PostMaxArea {
		return ""
	}
	if a.HullRatio <= opts.PostMinHullRatio || circleRatio(c.Area, a.Diameter) <= opts.PostMinCircleRatio {
		return ""
	}
	for _, m := range opts.Mask {
		if polygonsIntersect(c.Polygon, m) {
			return ReasonMaskedPost
		}
	}
	return ""
}

// circleRatio compares an area with the circle spanning the crown
// diameter.
func circleRatio(area, diameter float64) float64 {
	if diameter <= 0 {
		return 0
	}
	r := diameter / 2
	return area / (math.Pi * r * r)
}

// polygonsIntersect reports whether two polygons share any point: an edge
// crossing, or one outer ring lying inside the other.
func polygonsIntersect(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 || !a.Bound().Intersects(b.Bound()) {
		return false
	}
	if planar.PolygonContains(b, a[0][0]) || planar.PolygonContains(a, b[0][0]) {
		return true
	}
	for _, ra := range a {
		for i := 0; i+1 < len(ra); i++ {
			for _, rb := range b {
				for j := 0; j+1 < len(rb); j++ {
					if segmentsIntersect(ra[i], ra[i+1], rb[j], rb[j+1]) {
						return true
					}
				}
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) || (d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) || (d4 == 0 && onSegment(p1, p2, q2))
}

func cross(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}
