package l4trees

import (
	"sort"

	"github.com/paulmach/orb"

	"github.com/banshee-data/treecrown/internal/canopy/l3vector"
)

// Reconciled is the one-to-one crown/top set produced by Reconcile.
type Reconciled struct {
	Crowns        []Crown
	Tops          []Top
	DroppedCrowns []string
	DroppedTops   []string
	// Assigned counts crowns matched by the assignment solver rather than
	// by unique mutual containment.
	Assigned int
}

// Reconcile filters crowns and tops until every crown holds exactly one top
// and every top lies in exactly one crown.
//
// Three containment passes run first: crowns with a top, tops inside a
// surviving crown, crowns with a surviving top. Any group still ambiguous
// afterwards (several tops in a crown, or a top inside several crowns) is
// matched by a min-cost assignment that prefers the tallest top; entities
// left without a partner are dropped. Inputs are not modified.
func Reconcile(crowns []Crown, tops []Top) Reconciled {
	pts := make([]orb.Point, len(tops))
	for i, t := range tops {
		pts[i] = t.Point
	}
	idx := l3vector.NewPointIndex(pts)

	inside := make([][]int, len(crowns))
	for i, c := range crowns {
		inside[i] = idx.Within(c.Polygon)
	}

	crownAlive := make([]bool, len(crowns))
	topAlive := make([]bool, len(tops))

	for i := range crowns {
		crownAlive[i] = len(inside[i]) > 0
	}
	for i := range crowns {
		if !crownAlive[i] {
			continue
		}
		for _, j := range inside[i] {
			topAlive[j] = true
		}
	}
	for i := range crowns {
		if !crownAlive[i] {
			continue
		}
		crownAlive[i] = false
		for _, j := range inside[i] {
			if topAlive[j] {
				crownAlive[i] = true
				break
			}
		}
	}

	// Bipartite adjacency restricted to survivors.
	topCrowns := make([][]int, len(tops))
	for i := range crowns {
		if !crownAlive[i] {
			continue
		}
		for _, j := range inside[i] {
			if topAlive[j] {
				topCrowns[j] = append(topCrowns[j], i)
			}
		}
	}

	crownTop := make([]int, len(crowns))
	for i := range crownTop {
		crownTop[i] = -1
	}
	assigned := 0
	seenCrown := make([]bool, len(crowns))
	for start := range crowns {
		if !crownAlive[start] || seenCrown[start] {
			continue
		}
		cs, ts := component(start, inside, topCrowns, crownAlive, topAlive, seenCrown)
		if len(cs) == 1 && len(ts) == 1 {
			crownTop[cs[0]] = ts[0]
			continue
		}
		assigned += matchComponent(cs, ts, inside, tops, crownTop)
		opsf("ambiguous group of %d crowns and %d tops resolved by assignment", len(cs), len(ts))
	}

	out := Reconciled{Assigned: assigned}
	matchedTop := make(map[int]int, len(crowns))
	for i, c := range crowns {
		j := crownTop[i]
		if j < 0 {
			out.DroppedCrowns = append(out.DroppedCrowns, c.ID)
			continue
		}
		matchedTop[j] = i
		t := tops[j]
		c.TopID = t.ID
		c.TopHeight = t.Height
		c.TopAltitude = t.GroundAltitude
		out.Crowns = append(out.Crowns, c)
	}
	for j, t := range tops {
		i, ok := matchedTop[j]
		if !ok {
			out.DroppedTops = append(out.DroppedTops, t.ID)
			continue
		}
		t.CrownID = crowns[i].ID
		out.Tops = append(out.Tops, t)
	}
	if n := len(out.DroppedCrowns) + len(out.DroppedTops); n > 0 {
		opsf("reconcile dropped %d crowns and %d tops", len(out.DroppedCrowns), len(out.DroppedTops))
	}
	diagf("reconcile: %d pairs, %d via assignment", len(out.Crowns), assigned)
	return out
}

// component collects the connected crowns and tops reachable from start.
func component(start int, inside, topCrowns [][]int, crownAlive, topAlive, seenCrown []bool) ([]int, []int) {
	var cs, ts []int
	seenTop := make(map[int]bool)
	stack := []int{start}
	seenCrown[start] = true
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cs = append(cs, i)
		for _, j := range inside[i] {
			if !topAlive[j] || seenTop[j] {
				continue
			}
			seenTop[j] = true
			ts = append(ts, j)
			for _, k := range topCrowns[j] {
				if crownAlive[k] && !seenCrown[k] {
					seenCrown[k] = true
					stack = append(stack, k)
				}
			}
		}
	}
	sort.Ints(cs)
	sort.Ints(ts)
	return cs, ts
}

// matchComponent assigns tops to crowns inside one ambiguous group. The
// cost favours taller tops; pairs without containment are forbidden.
func matchComponent(cs, ts []int, inside [][]int, tops []Top, crownTop []int) int {
	maxH := 0.0
	for _, j := range ts {
		if tops[j].Height > maxH {
			maxH = tops[j].Height
		}
	}
	col := make(map[int]int, len(ts))
	for k, j := range ts {
		col[j] = k
	}
	cost := make([][]float64, len(cs))
	for r, i := range cs {
		cost[r] = make([]float64, len(ts))
		for k := range cost[r] {
			cost[r][k] = costForbidden
		}
		for _, j := range inside[i] {
			if k, ok := col[j]; ok {
				cost[r][k] = maxH - tops[j].Height + 1
			}
		}
	}
	n := 0
	for r, k := range hungarianAssign(cost) {
		if k < 0 {
			continue
		}
		crownTop[cs[r]] = ts[k]
		n++
	}
	return n
}
