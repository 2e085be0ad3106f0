package l5relation

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func crown(id string, poly orb.Polygon) l4trees.Crown {
	return l4trees.Crown{ID: id, UnitCode: "U1", Polygon: poly, Method: l4trees.MethodWatershed}
}

func stem(id string, x, y float64) Stem {
	return Stem{TreeID: id, Point: orb.Point{x, y}}
}

// mixedStand covers every case once: a three-stem crown, a lone stem, an
// empty crown and two overlapping crowns sharing a stem.
func mixedStand() ([]l4trees.Crown, []Stem) {
	crowns := []l4trees.Crown{
		crown("B", square(0, 0, 10, 10)),
		crown("D", square(30, 0, 35, 5)),
		crown("E1", square(50, 0, 56, 6)),
		crown("E2", square(54, 0, 60, 6)),
	}
	stems := []Stem{
		stem("b1", 2, 2),
		stem("b2", 8, 2),
		stem("b3", 5, 8),
		stem("c1", 20, 20),
		stem("e1", 55, 3),
		stem("e2", 51, 3),
	}
	return crowns, stems
}

func TestClassify_MixedStand(t *testing.T) {
	crowns, stems := mixedStand()
	got := Classify(crowns, stems)

	assert.Equal(t, map[string]Case{
		"B":  Case2,
		"D":  Case4,
		"E1": Unclassified,
		"E2": Unclassified,
	}, got.Crowns)
	assert.Equal(t, map[string]Case{
		"b1": Case2,
		"b2": Case2,
		"b3": Case2,
		"c1": Case3,
		"e1": Unclassified,
		"e2": Unclassified,
	}, got.Stems)
	assert.Equal(t, []string{"e1"}, got.Ambiguous)
	assert.Equal(t, []string{"b1", "b2", "b3"}, got.CrownStems["B"])

	assert.Equal(t, 1, got.Tally.Crowns[Case2])
	assert.Equal(t, 1, got.Tally.Crowns[Case4])
	assert.Equal(t, 2, got.Tally.Crowns[Unclassified])
	assert.Equal(t, 0, got.Tally.Crowns[Case1])
	assert.Equal(t, 3, got.Tally.Stems[Case2])
	assert.Equal(t, 1, got.Tally.Stems[Case3])
	assert.Equal(t, 2, got.Tally.Stems[Unclassified])
}

func TestClassify_EveryEntityCountedOnce(t *testing.T) {
	crowns, stems := mixedStand()
	got := Classify(crowns, stems)

	crownTotal, stemTotal := 0, 0
	for _, c := range Cases {
		crownTotal += got.Tally.Crowns[c]
		stemTotal += got.Tally.Stems[c]
	}
	assert.Equal(t, len(crowns), crownTotal)
	assert.Equal(t, len(stems), stemTotal)
	assert.Len(t, got.Crowns, len(crowns))
	assert.Len(t, got.Stems, len(stems))
}

func TestClassify_OneToOne(t *testing.T) {
	crowns := []l4trees.Crown{crown("A", square(0, 0, 4, 4))}
	got := Classify(crowns, []Stem{stem("t1", 1, 1)})

	assert.Equal(t, Case1, got.Crowns["A"])
	assert.Equal(t, Case1, got.Stems["t1"])
	require.Len(t, got.Pairs, 1)
	assert.Equal(t, Pair{CrownID: "A", TreeID: "t1", Case: Case1}, got.Pairs[0])
}

func TestClassify_Empty(t *testing.T) {
	got := Classify(nil, nil)
	assert.Empty(t, got.Pairs)
	for _, c := range Cases {
		assert.Zero(t, got.Tally.Crowns[c])
		assert.Zero(t, got.Tally.Stems[c])
	}
}

func TestClassify_StemInExtraPart(t *testing.T) {
	c := crown("A", square(0, 0, 2, 2))
	c.Extra = []orb.Polygon{square(5, 0, 7, 2)}
	got := Classify([]l4trees.Crown{c}, []Stem{stem("t1", 6, 1)})
	assert.Equal(t, Case1, got.Crowns["A"])
}

func TestTabulation_Add(t *testing.T) {
	a := NewTabulation()
	a.Crowns[Case1] = 2
	b := NewTabulation()
	b.Crowns[Case1] = 3
	b.Stems[Case3] = 1
	a.Add(b)
	assert.Equal(t, 5, a.Crowns[Case1])
	assert.Equal(t, 1, a.Stems[Case3])
}
