package l5relation

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/treecrown/internal/canopy/l3vector"
)

// halfPlane keeps points p with N·p <= K.
type halfPlane struct {
	N orb.Point
	K float64
}

func (h halfPlane) eval(p orb.Point) float64 {
	return h.N[0]*p[0] + h.N[1]*p[1] - h.K
}

// bisector returns the half-plane of points at least as close to a as to b.
func bisector(a, b orb.Point) halfPlane {
	n := orb.Point{b[0] - a[0], b[1] - a[1]}
	k := (b[0]*b[0] + b[1]*b[1] - a[0]*a[0] - a[1]*a[1]) / 2
	return halfPlane{N: n, K: k}
}

// chain is a stretch of ring boundary inside the half-plane, running from
// an entry crossing to an exit crossing.
type chain struct {
	pts         []orb.Point
	entry, exit float64 // positions along the clip line
}

// clipPolygon intersects a polygon (outer ring counter-clockwise, holes
// clockwise) with h. Pieces separated by the clip line come back as
// separate polygons rather than joined by zero-width bridges.
func clipPolygon(poly orb.Polygon, h halfPlane) (orb.MultiPolygon, bool) {
	// Direction along the line with the kept side on its left.
	dir := orb.Point{-h.N[1], h.N[0]}
	along := func(p orb.Point) float64 { return dir[0]*p[0] + dir[1]*p[1] }

	var whole []orb.Ring
	var chains []chain
	for _, ring := range poly {
		kept, cs, ok := clipRing(ring, h, along)
		if !ok {
			return nil, false
		}
		if kept != nil {
			whole = append(whole, kept)
		}
		chains = append(chains, cs...)
	}

	rings := whole
	if len(chains) > 0 {
		linked, ok := linkChains(chains)
		if !ok {
			return nil, false
		}
		rings = append(rings, linked...)
	}
	return assembleRings(rings), true
}

// clipRing returns the ring unchanged when it lies strictly on the kept
// side, nothing when no vertex does, and its inside chains otherwise.
// Vertices on the line count as outside, as if the line were nudged toward
// the kept side, so a chain always reaches into the kept side and a pinch
// vertex on the line ends one chain and starts the next.
func clipRing(ring orb.Ring, h halfPlane, along func(orb.Point) float64) (orb.Ring, []chain, bool) {
	n := len(ring) - 1
	if n < 3 {
		return nil, nil, true
	}
	d := make([]float64, n)
	start, anyIn := -1, false
	for i := 0; i < n; i++ {
		d[i] = h.eval(ring[i])
		if d[i] < 0 {
			anyIn = true
		} else if start < 0 {
			start = i
		}
	}
	if start < 0 {
		return ring, nil, true
	}
	if !anyIn {
		return nil, nil, true
	}

	var chains []chain
	var cur *chain
	for k := 0; k < n; k++ {
		i := (start + k) % n
		j := (i + 1) % n
		inI, inJ := d[i] < 0, d[j] < 0
		switch {
		case inI && inJ:
			cur.pts = appendDistinct(cur.pts, ring[j])
		case inI && !inJ:
			x := crossing(ring[i], ring[j], d[i], d[j])
			cur.pts = appendDistinct(cur.pts, x)
			cur.exit = along(x)
			chains = append(chains, *cur)
			cur = nil
		case !inI && inJ:
			e := crossing(ring[i], ring[j], d[i], d[j])
			cur = &chain{pts: []orb.Point{e}, entry: along(e)}
			cur.pts = appendDistinct(cur.pts, ring[j])
		}
	}
	if cur != nil {
		// Starting outside guarantees every chain closes.
		return nil, nil, false
	}
	return nil, chains, true
}

// crossing returns the point where segment ab meets the line. A vertex on
// the line is returned as is so that chains meeting there share it exactly.
func crossing(a, b orb.Point, da, db float64) orb.Point {
	if da == 0 {
		return a
	}
	if db == 0 {
		return b
	}
	t := da / (da - db)
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
}

func appendDistinct(pts []orb.Point, p orb.Point) []orb.Point {
	if len(pts) > 0 && pts[len(pts)-1] == p {
		return pts
	}
	return append(pts, p)
}

// linkChains joins chains along the clip line. Walking the line in order,
// each exit continues along the line to the next entry. Where crossings
// share a position, an open exit takes an entry there first; otherwise an
// exit there opens a new stretch.
func linkChains(chains []chain) ([]orb.Ring, bool) {
	type mark struct {
		pos   float64
		exit  bool
		chain int
	}
	marks := make([]mark, 0, 2*len(chains))
	for i, c := range chains {
		marks = append(marks, mark{pos: c.exit, exit: true, chain: i}, mark{pos: c.entry, chain: i})
	}
	sort.SliceStable(marks, func(i, j int) bool { return marks[i].pos < marks[j].pos })

	next := make([]int, len(chains))
	open := -1
	for k := 0; k < len(marks); {
		var exits, entries []int
		j := k
		for ; j < len(marks) && marks[j].pos == marks[k].pos; j++ {
			if marks[j].exit {
				exits = append(exits, marks[j].chain)
			} else {
				entries = append(entries, marks[j].chain)
			}
		}
		for len(exits)+len(entries) > 0 {
			if open >= 0 {
				if len(entries) == 0 {
					return nil, false
				}
				next[open], entries = entries[0], entries[1:]
				open = -1
				continue
			}
			if len(exits) == 0 {
				return nil, false
			}
			open, exits = exits[0], exits[1:]
		}
		k = j
	}
	if open >= 0 {
		return nil, false
	}

	used := make([]bool, len(chains))
	var rings []orb.Ring
	for s := range chains {
		if used[s] {
			continue
		}
		var ring orb.Ring
		for c := s; !used[c]; c = next[c] {
			used[c] = true
			for _, p := range chains[c].pts {
				ring = appendDistinct(ring, p)
			}
		}
		if len(ring) < 3 {
			continue
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		rings = append(rings, ring)
	}
	return rings, true
}

// assembleRings builds polygons from outer rings (positive signed area) and
// attaches each hole to the smallest outer ring enclosing it.
func assembleRings(rings []orb.Ring) orb.MultiPolygon {
	var outers, holes []orb.Ring
	for _, r := range rings {
		a := signedArea(r)
		switch {
		case a > areaEpsilon:
			outers = append(outers, r)
		case a < -areaEpsilon:
			holes = append(holes, r)
		}
	}
	mp := make(orb.MultiPolygon, len(outers))
	areas := make([]float64, len(outers))
	for i, r := range outers {
		mp[i] = orb.Polygon{r}
		areas[i] = signedArea(r)
	}
	for _, hole := range holes {
		rev := append(orb.Ring(nil), hole...)
		rev.Reverse()
		inner := l3vector.InsidePoint(orb.Polygon{rev})
		owner := -1
		for i, r := range outers {
			if !planar.RingContains(r, inner) {
				continue
			}
			if owner < 0 || areas[i] < areas[owner] {
				owner = i
			}
		}
		if owner < 0 {
			opsf("clip: hole with %d vertices has no enclosing ring", len(hole))
			continue
		}
		mp[owner] = append(mp[owner], hole)
	}
	return mp
}

// areaEpsilon filters slivers left by floating-point crossings.
const areaEpsilon = 1e-12

func signedArea(r orb.Ring) float64 {
	s := 0.0
	for i := 0; i+1 < len(r); i++ {
		s += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return s / 2
}

// normalize orients outer rings counter-clockwise and holes clockwise.
func normalize(poly orb.Polygon) orb.Polygon {
	out := poly.Clone()
	for i, r := range out {
		a := signedArea(r)
		if (i == 0 && a < 0) || (i > 0 && a > 0) {
			r.Reverse()
		}
	}
	return out
}

func translate(poly orb.Polygon, dx, dy float64) orb.Polygon {
	out := poly.Clone()
	for _, r := range out {
		for i := range r {
			r[i] = orb.Point{r[i][0] + dx, r[i][1] + dy}
		}
	}
	return out
}

func multiArea(mp orb.MultiPolygon) float64 {
	a := 0.0
	for _, p := range mp {
		a += math.Abs(planar.Area(p))
	}
	return a
}
