package l3vector

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
)

// Region is the vector form of one label. A label whose cells are not
// edge-connected vectorises to several polygons.
type Region struct {
	ID      int32
	Cells   int
	Polygon orb.MultiPolygon
}

// vertex is a cell-corner position: X is the column line, Y the row line
// (growing southwards).
type vertex struct{ X, Y int }

// edge is one directed cell boundary segment with the labelled cell on its
// left when viewed in map orientation.
type edge struct {
	from, to vertex
	used     bool
}

func (e *edge) dir() (int, int) {
	// Map orientation has Y pointing north.
	return e.to.X - e.from.X, -(e.to.Y - e.from.Y)
}

// Vectorize traces every label of l into polygons. Cells are joined across
// shared edges only; labelled cells touching at a corner become separate
// parts. Regions are returned in id order; parts within a region follow
// raster-scan order of their first boundary edge.
func Vectorize(l l1grid.Labels) []Region {
	rows, cols := l.Rows(), l.Cols()
	edges := make(map[int32][]*edge)
	cells := make(map[int32]int)

	same := func(r, c int, id int32) bool {
		return l.InBounds(r, c) && l.At(r, c) == id
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			id := l.At(r, c)
			if id == 0 {
				continue
			}
			cells[id]++
			if !same(r-1, c, id) {
				edges[id] = append(edges[id], &edge{from: vertex{c + 1, r}, to: vertex{c, r}})
			}
			if !same(r, c-1, id) {
				edges[id] = append(edges[id], &edge{from: vertex{c, r}, to: vertex{c, r + 1}})
			}
			if !same(r+1, c, id) {
				edges[id] = append(edges[id], &edge{from: vertex{c, r + 1}, to: vertex{c + 1, r + 1}})
			}
			if !same(r, c+1, id) {
				edges[id] = append(edges[id], &edge{from: vertex{c + 1, r + 1}, to: vertex{c + 1, r}})
			}
		}
	}

	ids := make([]int32, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	geo := l.Geo()
	out := make([]Region, 0, len(ids))
	for _, id := range ids {
		rings := traceRings(edges[id])
		mp := assemble(rings, geo)
		tracef("label %d: %d cells, %d rings, %d parts", id, cells[id], len(rings), len(mp))
		out = append(out, Region{ID: id, Cells: cells[id], Polygon: mp})
	}
	diagf("vectorized %d regions from %dx%d labels", len(out), rows, cols)
	return out
}

// VectorizeMask labels the cells selected by member with 4-connectivity and
// traces each component as one single-part region.
func VectorizeMask(rows, cols int, geo l1grid.Geotransform, member func(r, c int) bool) ([]Region, l1grid.Labels) {
	labels := l1grid.ConnectedComponents(rows, cols, geo, l1grid.Conn4, member)
	return Vectorize(labels), labels
}

type tracedRing struct {
	verts []vertex
	inner [2]float64 // a point strictly inside the cell right of the first edge
	area2 int        // twice the signed area, positive for outer rings
}

// traceRings links directed edges into closed rings. At a vertex with two
// unused outgoing edges the left-most turn is taken, which keeps corner
// touching cells in separate rings.
func traceRings(edges []*edge) []tracedRing {
	byStart := make(map[vertex][]*edge, len(edges))
	for _, e := range edges {
		byStart[e.from] = append(byStart[e.from], e)
	}

	var rings []tracedRing
	for _, first := range edges {
		if first.used {
			continue
		}
		first.used = true
		verts := []vertex{first.from}
		cur := first
		for {
			v := cur.to
			cands := make([]*edge, 0, 3)
			for _, e := range byStart[v] {
				if !e.used {
					cands = append(cands, e)
				}
			}
			if v == first.from {
				cands = append(cands, first)
			}
			next := pickTurn(cur, cands)
			if next == nil || next == first {
				break
			}
			next.used = true
			verts = append(verts, v)
			cur = next
		}
		verts = dropCollinear(verts)
		dx, dy := first.dir()
		mx := float64(first.from.X+first.to.X) / 2
		my := -float64(first.from.Y+first.to.Y) / 2
		rings = append(rings, tracedRing{
			verts: verts,
			inner: [2]float64{mx + 0.5*float64(dy), my - 0.5*float64(dx)},
			area2: signedArea2(verts),
		})
	}
	return rings
}

// pickTurn prefers a left turn, then straight on, then a right turn.
func pickTurn(in *edge, cands []*edge) *edge {
	if len(cands) == 0 {
		return nil
	}
	if len(cands) == 1 {
		return cands[0]
	}
	ix, iy := in.dir()
	best, bestRank := cands[0], 3
	for _, e := range cands {
		ox, oy := e.dir()
		cross := ix*oy - iy*ox
		rank := 2
		switch {
		case cross > 0:
			rank = 0
		case cross == 0 && ix*ox+iy*oy > 0:
			rank = 1
		}
		if rank < bestRank {
			best, bestRank = e, rank
		}
	}
	return best
}

func dropCollinear(vs []vertex) []vertex {
	n := len(vs)
	if n < 4 {
		return vs
	}
	out := make([]vertex, 0, n)
	for i := 0; i < n; i++ {
		prev := vs[(i+n-1)%n]
		cur := vs[i]
		next := vs[(i+1)%n]
		ax, ay := cur.X-prev.X, cur.Y-prev.Y
		bx, by := next.X-cur.X, next.Y-cur.Y
		if ax*by-ay*bx == 0 && ax*bx+ay*by > 0 {
			continue
		}
		out = append(out, cur)
	}
	return out
}

// signedArea2 uses map orientation (Y north), so counter-clockwise rings
// are positive.
func signedArea2(vs []vertex) int {
	s := 0
	n := len(vs)
	for i := 0; i < n; i++ {
		a, b := vs[i], vs[(i+1)%n]
		s += a.X*(-b.Y) - b.X*(-a.Y)
	}
	return s
}

func toRing(vs []vertex, geo l1grid.Geotransform) orb.Ring {
	ring := make(orb.Ring, 0, len(vs)+1)
	for _, v := range vs {
		ring = append(ring, orb.Point{
			geo.OriginX + float64(v.X)*geo.CellSize,
			geo.OriginY - float64(v.Y)*geo.CellSize,
		})
	}
	return append(ring, ring[0])
}

// assemble groups holes under the smallest outer ring that contains them.
func assemble(rings []tracedRing, geo l1grid.Geotransform) orb.MultiPolygon {
	var outers, holes []int
	for i, r := range rings {
		switch {
		case r.area2 > 0:
			outers = append(outers, i)
		case r.area2 < 0:
			holes = append(holes, i)
		default:
			opsf("dropping zero-area ring with %d vertices", len(r.verts))
		}
	}

	mp := make(orb.MultiPolygon, len(outers))
	index := make(map[int]int, len(outers))
	for k, oi := range outers {
		mp[k] = orb.Polygon{toRing(rings[oi].verts, geo)}
		index[oi] = k
	}
	for _, hi := range holes {
		h := rings[hi]
		inner := orb.Point{
			geo.OriginX + h.inner[0]*geo.CellSize,
			geo.OriginY + h.inner[1]*geo.CellSize,
		}
		owner, ownerArea := -1, 0
		for _, oi := range outers {
			if rings[oi].area2 <= 0 {
				continue
			}
			if !planar.RingContains(mp[index[oi]][0], inner) {
				continue
			}
			if owner < 0 || rings[oi].area2 < ownerArea {
				owner, ownerArea = oi, rings[oi].area2
			}
		}
		if owner < 0 {
			opsf("hole ring with %d vertices has no enclosing outer ring", len(h.verts))
			continue
		}
		k := index[owner]
		mp[k] = append(mp[k], toRing(h.verts, geo))
	}
	return mp
}
