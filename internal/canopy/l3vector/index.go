package l3vector

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
)

type indexedPoint struct {
	p orb.Point
	i int
}

func (ip indexedPoint) Point() orb.Point { return ip.p }

// PointIndex answers polygon containment queries over a fixed point set.
type PointIndex struct {
	qt     *quadtree.Quadtree
	points []orb.Point
}

// NewPointIndex indexes points by their position in the slice.
func NewPointIndex(points []orb.Point) *PointIndex {
	idx := &PointIndex{points: append([]orb.Point(nil), points...)}
	if len(points) == 0 {
		return idx
	}
	b := orb.Bound{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	idx.qt = quadtree.New(b.Pad(1))
	for i, p := range points {
		if err := idx.qt.Add(indexedPoint{p: p, i: i}); err != nil {
			opsf("point index: %v", err)
		}
	}
	return idx
}

// Len returns the number of indexed points.
func (x *PointIndex) Len() int { return len(x.points) }

// Within returns the ascending indices of points inside poly.
func (x *PointIndex) Within(poly orb.Polygon) []int {
	if x.qt == nil || len(poly) == 0 {
		return nil
	}
	var out []int
	for _, hit := range x.qt.InBound(nil, poly.Bound()) {
		ip := hit.(indexedPoint)
		if planar.PolygonContains(poly, ip.p) {
			out = append(out, ip.i)
		}
	}
	sort.Ints(out)
	return out
}
