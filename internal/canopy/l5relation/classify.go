package l5relation

import (
	"errors"
	"sort"

	"github.com/paulmach/orb"

	"github.com/banshee-data/treecrown/internal/canopy/l3vector"
	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
)

// ErrClassificationAmbiguous marks a stem covered by more than one crown.
var ErrClassificationAmbiguous = errors.New("classification ambiguous")

// Case is the stem/crown multiplicity relation.
type Case string

const (
	Case1        Case = "Case1" // one crown, one stem
	Case2        Case = "Case2" // one crown, several stems
	Case3        Case = "Case3" // stem without a crown
	Case4        Case = "Case4" // crown without a stem
	Unclassified Case = "unclassified"
)

// Cases lists every case in report order.
var Cases = []Case{Case1, Case2, Case3, Case4, Unclassified}

// Stem is a field-surveyed tree position.
type Stem struct {
	TreeID     string
	Point      orb.Point
	Attributes map[string]any
}

// Pair is one relation record. CrownID is empty for Case3 stems and TreeID
// for Case4 crowns. MergedInto names the representative stem when this
// stem was folded into a neighbour during splitting.
type Pair struct {
	CrownID    string
	TreeID     string
	Case       Case
	MergedInto string
}

// Tabulation counts crowns and stems per case.
type Tabulation struct {
	Crowns map[Case]int
	Stems  map[Case]int
}

func newTabulation() Tabulation {
	t := Tabulation{Crowns: make(map[Case]int, len(Cases)), Stems: make(map[Case]int, len(Cases))}
	for _, c := range Cases {
		t.Crowns[c] = 0
		t.Stems[c] = 0
	}
	return t
}

// Classification is the complete result of a containment join.
type Classification struct {
	Crowns     map[string]Case
	Stems      map[string]Case
	CrownStems map[string][]string
	Pairs      []Pair
	Ambiguous  []string
	Tally      Tabulation
}

// Classify joins stems to crowns by containment and assigns every crown and
// every stem exactly one case. For a crown, c is the number of stems inside
// it; for a stem, s is the number of crowns covering it.
//
//	Case1: c == 1 and that stem has s == 1
//	Case2: c > 1 and every contained stem has s == 1
//	Case3: stem with s == 0
//	Case4: crown with c == 0
//
// A stem with s > 1, every crown covering it, and every other stem inside
// those crowns are Unclassified.
func Classify(crowns []l4trees.Crown, stems []Stem) Classification {
	pts := make([]orb.Point, len(stems))
	for i, s := range stems {
		pts[i] = s.Point
	}
	idx := l3vector.NewPointIndex(pts)

	inside := make([][]int, len(crowns))
	cover := make([]int, len(stems))
	for i, c := range crowns {
		inside[i] = within(idx, c)
		for _, j := range inside[i] {
			cover[j]++
		}
	}

	out := Classification{
		Crowns:     make(map[string]Case, len(crowns)),
		Stems:      make(map[string]Case, len(stems)),
		CrownStems: make(map[string][]string, len(crowns)),
		Tally:      newTabulation(),
	}

	for i, c := range crowns {
		n := len(inside[i])
		cs := Case4
		switch {
		case n == 0:
		case anyShared(inside[i], cover):
			cs = Unclassified
		case n == 1:
			cs = Case1
		default:
			cs = Case2
		}
		out.Crowns[c.ID] = cs
		out.Tally.Crowns[cs]++
		if n == 0 {
			out.Pairs = append(out.Pairs, Pair{CrownID: c.ID, Case: Case4})
			continue
		}
		ids := make([]string, 0, n)
		for _, j := range inside[i] {
			ids = append(ids, stems[j].TreeID)
			out.Pairs = append(out.Pairs, Pair{CrownID: c.ID, TreeID: stems[j].TreeID, Case: cs})
			// A stem takes its crown's case; ambiguity wins over any other.
			if prev, ok := out.Stems[stems[j].TreeID]; !ok || prev != Unclassified {
				out.Stems[stems[j].TreeID] = cs
			}
		}
		out.CrownStems[c.ID] = ids
	}

	for j, s := range stems {
		switch {
		case cover[j] == 0:
			out.Stems[s.TreeID] = Case3
			out.Pairs = append(out.Pairs, Pair{TreeID: s.TreeID, Case: Case3})
		case cover[j] > 1:
			out.Stems[s.TreeID] = Unclassified
			out.Ambiguous = append(out.Ambiguous, s.TreeID)
		}
		out.Tally.Stems[out.Stems[s.TreeID]]++
	}

	if len(out.Ambiguous) > 0 {
		opsf("%v: %d stems covered by several crowns", ErrClassificationAmbiguous, len(out.Ambiguous))
	}
	diagf("classified %d crowns and %d stems: crowns %v stems %v",
		len(crowns), len(stems), out.Tally.Crowns, out.Tally.Stems)
	return out
}

// within returns the stems inside any part of the crown.
func within(idx *l3vector.PointIndex, c l4trees.Crown) []int {
	hits := idx.Within(c.Polygon)
	if len(c.Extra) == 0 {
		return hits
	}
	seen := make(map[int]bool, len(hits))
	for _, j := range hits {
		seen[j] = true
	}
	for _, part := range c.Extra {
		for _, j := range idx.Within(part) {
			if !seen[j] {
				seen[j] = true
				hits = append(hits, j)
			}
		}
	}
	sort.Ints(hits)
	return hits
}

func anyShared(stems []int, cover []int) bool {
	for _, j := range stems {
		if cover[j] > 1 {
			return true
		}
	}
	return false
}

// Add folds another tabulation into t.
func (t Tabulation) Add(o Tabulation) {
	for c, n := range o.Crowns {
		t.Crowns[c] += n
	}
	for c, n := range o.Stems {
		t.Stems[c] += n
	}
}

// NewTabulation returns a tabulation with every case present at zero.
func NewTabulation() Tabulation {
	return newTabulation()
}
