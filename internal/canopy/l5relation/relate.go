package l5relation

import (
	"math"

	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
)

// Relation is the outcome of classifying, splitting Case2 crowns and
// classifying again.
type Relation struct {
	// Crowns is the final crown set with every split crown replaced by
	// its children in place.
	Crowns []l4trees.Crown
	// Tops is the input top set with the tops of split crowns moved to
	// the child that holds them.
	Tops       []l4trees.Top
	Children   []Child
	Initial    Classification
	Final      Classification
	Degenerate []Degenerate
}

// Relate runs the full stem/crown relation stage. Stems merged into a
// neighbour while splitting are left out of the second classification and
// reported as Case2 pairs against the child that absorbed them. The top of
// a split crown is relinked to the child containing it, so every top still
// names a crown in the result.
func Relate(crowns []l4trees.Crown, tops []l4trees.Top, stems []Stem, opts SplitOptions) Relation {
	initial := Classify(crowns, stems)

	byID := make(map[string]Stem, len(stems))
	for _, s := range stems {
		byID[s.TreeID] = s
	}
	topIdx := make(map[string]int, len(tops))
	for i, t := range tops {
		topIdx[t.ID] = i
	}

	rel := Relation{Initial: initial, Tops: append([]l4trees.Top(nil), tops...)}
	merged := make(map[string]Child)
	for _, c := range crowns {
		if initial.Crowns[c.ID] != Case2 {
			rel.Crowns = append(rel.Crowns, c)
			continue
		}
		inside := make([]Stem, 0, len(initial.CrownStems[c.ID]))
		for _, id := range initial.CrownStems[c.ID] {
			inside = append(inside, byID[id])
		}
		res, err := Split(c, inside, opts)
		if err != nil {
			opsf("keeping crown %s unsplit: %v", c.ID, err)
			rel.Degenerate = append(rel.Degenerate, Degenerate{CrownID: c.ID, Kind: "split-failed", Detail: err.Error()})
			rel.Crowns = append(rel.Crowns, c)
			continue
		}
		if i, ok := topIdx[c.TopID]; ok && len(res.Children) > 0 {
			k := childHolding(res.Children, rel.Tops[i], byID)
			res.Children[k].Crown.TopID = rel.Tops[i].ID
			rel.Tops[i].CrownID = res.Children[k].Crown.ID
			tracef("top %s moves to child %s", rel.Tops[i].ID, res.Children[k].Crown.ID)
		}
		rel.Degenerate = append(rel.Degenerate, res.Degenerate...)
		for _, ch := range res.Children {
			rel.Crowns = append(rel.Crowns, ch.Crown)
			rel.Children = append(rel.Children, ch)
			for _, id := range ch.MergedTreeIDs {
				merged[id] = ch
			}
		}
	}

	active := make([]Stem, 0, len(stems))
	for _, s := range stems {
		if _, ok := merged[s.TreeID]; !ok {
			active = append(active, s)
		}
	}
	final := Classify(rel.Crowns, active)
	for _, s := range stems {
		ch, ok := merged[s.TreeID]
		if !ok {
			continue
		}
		final.Stems[s.TreeID] = Case2
		final.Tally.Stems[Case2]++
		final.Pairs = append(final.Pairs, Pair{
			CrownID:    ch.Crown.ID,
			TreeID:     s.TreeID,
			Case:       Case2,
			MergedInto: ch.TreeID,
		})
	}
	rel.Final = final
	diagf("relate: %d crowns split into %d children, %d stems merged, %d degenerate events",
		initial.Tally.Crowns[Case2], len(rel.Children), len(merged), len(rel.Degenerate))
	return rel
}

// childHolding returns the child whose geometry contains the top. A top on
// a cell boundary goes to the child with the nearest stem, which is the
// Voronoi owner of that point.
func childHolding(children []Child, top l4trees.Top, stems map[string]Stem) int {
	for k, ch := range children {
		if planar.PolygonContains(ch.Crown.Polygon, top.Point) {
			return k
		}
		for _, part := range ch.Crown.Extra {
			if planar.PolygonContains(part, top.Point) {
				return k
			}
		}
	}
	best, bestD := 0, math.Inf(1)
	for k, ch := range children {
		if d := planar.Distance(stems[ch.TreeID].Point, top.Point); d < bestD {
			best, bestD = k, d
		}
	}
	return best
}
