package l3vector

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Explode flattens multi-part regions into single-part polygons in order.
func Explode(mp orb.MultiPolygon) []orb.Polygon {
	out := make([]orb.Polygon, 0, len(mp))
	for _, p := range mp {
		if len(p) == 0 || len(p[0]) < 4 {
			opsf("explode: skipping degenerate part with %d rings", len(p))
			continue
		}
		out = append(out, p)
	}
	return out
}

// InsidePoint returns a point guaranteed to lie inside poly. The area
// centroid is used when it falls inside; otherwise the midpoint of the
// widest horizontal span on the scanline nearest the centroid.
func InsidePoint(poly orb.Polygon) orb.Point {
	if len(poly) == 0 || len(poly[0]) == 0 {
		return orb.Point{}
	}
	centroid, area := planar.CentroidArea(poly)
	if area != 0 && planar.PolygonContains(poly, centroid) && !onBoundary(poly, centroid) {
		return centroid
	}

	ys := vertexYs(poly)
	if len(ys) < 2 {
		return poly[0][0]
	}
	// Scan bands between consecutive vertex rows, nearest the centroid first.
	type band struct{ y, dist float64 }
	bands := make([]band, 0, len(ys)-1)
	for i := 1; i < len(ys); i++ {
		y := (ys[i-1] + ys[i]) / 2
		bands = append(bands, band{y: y, dist: math.Abs(y - centroid[1])})
	}
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].dist < bands[j].dist })

	for _, b := range bands {
		if p, ok := widestSpan(poly, b.y); ok {
			return p
		}
	}
	tracef("inside point fell back to first vertex")
	return poly[0][0]
}

func vertexYs(poly orb.Polygon) []float64 {
	seen := make(map[float64]bool)
	var ys []float64
	for _, ring := range poly {
		for _, p := range ring {
			if !seen[p[1]] {
				seen[p[1]] = true
				ys = append(ys, p[1])
			}
		}
	}
	sort.Float64s(ys)
	return ys
}

func widestSpan(poly orb.Polygon, y float64) (orb.Point, bool) {
	var xs []float64
	for _, ring := range poly {
		for i := 1; i < len(ring); i++ {
			a, b := ring[i-1], ring[i]
			if (a[1] > y) == (b[1] > y) {
				continue
			}
			t := (y - a[1]) / (b[1] - a[1])
			xs = append(xs, a[0]+t*(b[0]-a[0]))
		}
	}
	if len(xs) < 2 {
		return orb.Point{}, false
	}
	sort.Float64s(xs)
	best, bestW := orb.Point{}, 0.0
	for i := 0; i+1 < len(xs); i += 2 {
		if w := xs[i+1] - xs[i]; w > bestW {
			best, bestW = orb.Point{(xs[i] + xs[i+1]) / 2, y}, w
		}
	}
	return best, bestW > 0
}

func onBoundary(poly orb.Polygon, p orb.Point) bool {
	for _, ring := range poly {
		for i := 1; i < len(ring); i++ {
			if segmentDistance(ring[i-1], ring[i], p) < 1e-9 {
				return true
			}
		}
	}
	return false
}

func segmentDistance(a, b, p orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return planar.Distance(a, p)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return planar.Distance(orb.Point{a[0] + t*dx, a[1] + t*dy}, p)
}

// ConvexHull returns the hull of the polygon's outer ring as a closed
// counter-clockwise ring (monotone chain).
func ConvexHull(poly orb.Polygon) orb.Ring {
	if len(poly) == 0 {
		return nil
	}
	pts := make([]orb.Point, 0, len(poly[0]))
	for _, p := range poly[0] {
		pts = append(pts, p)
	}
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})
	uniq := pts[:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			uniq = append(uniq, p)
		}
	}
	pts = uniq
	if len(pts) < 3 {
		ring := append(orb.Ring{}, pts...)
		if len(ring) > 0 {
			ring = append(ring, ring[0])
		}
		return ring
	}

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}
	hull := make([]orb.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// The chain already ends on its first point.
	return orb.Ring(hull)
}

// Diameter returns the largest distance between two hull vertices.
func Diameter(hull orb.Ring) float64 {
	d := 0.0
	for i := 0; i < len(hull); i++ {
		for j := i + 1; j < len(hull); j++ {
			if v := planar.Distance(hull[i], hull[j]); v > d {
				d = v
			}
		}
	}
	return d
}

// Metrics are the planar measurements of one crown polygon.
type Metrics struct {
	Area       float64
	Perimeter  float64
	HullArea   float64
	Diameter   float64
	HullRatio  float64
	Centroid   orb.Point
	InsidePt   orb.Point
	BoundWidth float64
}

// Measure computes Metrics for a single-part polygon.
func Measure(poly orb.Polygon) Metrics {
	hull := ConvexHull(poly)
	centroid, area := planar.CentroidArea(poly)
	m := Metrics{
		Area:      math.Abs(area),
		Perimeter: planar.Length(poly),
		Centroid:  centroid,
		InsidePt:  InsidePoint(poly),
	}
	if len(hull) >= 4 {
		m.HullArea = planar.Area(orb.Polygon{hull})
		m.Diameter = Diameter(hull)
	}
	if m.HullArea > 0 {
		m.HullRatio = m.Area / m.HullArea
	}
	b := poly.Bound()
	m.BoundWidth = math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	return m
}
