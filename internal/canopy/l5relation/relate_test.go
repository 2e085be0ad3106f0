package l5relation

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/treecrown/internal/canopy/l4trees"
)

func TestRelate_SplitsAndReclassifies(t *testing.T) {
	crowns := []l4trees.Crown{
		crown("P", square(0, 0, 10, 10)),
		crown("Q", square(30, 0, 35, 5)),
	}
	stems := []Stem{
		stem("s1", 2, 2),
		stem("s2", 8, 2),
		stem("s3", 5, 8),
		stem("s4", 2.01, 2),
		stem("s5", 50, 50),
	}

	rel := Relate(crowns, nil, stems, DefaultSplitOptions())

	assert.Equal(t, Case2, rel.Initial.Crowns["P"])
	assert.Equal(t, 4, rel.Initial.Tally.Stems[Case2])

	ids := make([]string, 0, len(rel.Crowns))
	for _, c := range rel.Crowns {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"P.1", "P.2", "P.3", "Q"}, ids)
	require.Len(t, rel.Children, 3)

	for _, id := range []string{"P.1", "P.2", "P.3"} {
		assert.Equal(t, Case1, rel.Final.Crowns[id], id)
	}
	assert.Equal(t, Case4, rel.Final.Crowns["Q"])
	assert.Equal(t, Case1, rel.Final.Stems["s1"])
	assert.Equal(t, Case2, rel.Final.Stems["s4"])
	assert.Equal(t, Case3, rel.Final.Stems["s5"])

	assert.Equal(t, 3, rel.Final.Tally.Crowns[Case1])
	assert.Equal(t, 3, rel.Final.Tally.Stems[Case1])
	assert.Equal(t, 1, rel.Final.Tally.Stems[Case2])
	assert.Equal(t, 1, rel.Final.Tally.Stems[Case3])

	assert.Contains(t, rel.Final.Pairs, Pair{CrownID: "P.1", TreeID: "s4", Case: Case2, MergedInto: "s1"})
	require.Len(t, rel.Degenerate, 1)
	assert.Equal(t, "coincident", rel.Degenerate[0].Kind)
}

func TestRelate_NoCase2LeavesCrowns(t *testing.T) {
	crowns := []l4trees.Crown{crown("A", square(0, 0, 4, 4))}
	stems := []Stem{stem("t1", 1, 1)}

	rel := Relate(crowns, nil, stems, DefaultSplitOptions())
	assert.Equal(t, crowns, rel.Crowns)
	assert.Empty(t, rel.Children)
	assert.Equal(t, rel.Initial.Crowns, rel.Final.Crowns)
}

func TestRelate_MovesTopToHoldingChild(t *testing.T) {
	p := crown("P", square(0, 0, 10, 10))
	p.TopID = "TP"
	q := crown("Q", square(30, 0, 35, 5))
	q.TopID = "TQ"
	tops := []l4trees.Top{
		{ID: "TP", CrownID: "P", Point: orb.Point{7, 1}},
		{ID: "TQ", CrownID: "Q", Point: orb.Point{32, 2}},
	}
	stems := []Stem{stem("s1", 2, 2), stem("s2", 8, 2), stem("s3", 5, 8)}

	rel := Relate([]l4trees.Crown{p, q}, tops, stems, DefaultSplitOptions())

	require.Len(t, rel.Tops, 2)
	assert.Equal(t, "P.2", rel.Tops[0].CrownID)
	assert.Equal(t, "Q", rel.Tops[1].CrownID)
	assert.Equal(t, "P", tops[0].CrownID, "input tops are not modified")

	crownByID := make(map[string]l4trees.Crown, len(rel.Crowns))
	for _, c := range rel.Crowns {
		crownByID[c.ID] = c
	}
	for _, top := range rel.Tops {
		c, ok := crownByID[top.CrownID]
		require.True(t, ok, "top %s names missing crown %s", top.ID, top.CrownID)
		assert.Equal(t, top.ID, c.TopID)
	}
	assert.Empty(t, crownByID["P.1"].TopID)
	assert.Empty(t, crownByID["P.3"].TopID)
	for _, ch := range rel.Children {
		if ch.Crown.ID == "P.2" {
			assert.Equal(t, "TP", ch.Crown.TopID)
		}
	}
}

func TestChildHoldingFallsBackToNearestStem(t *testing.T) {
	children := []Child{
		{Crown: crown("P.1", square(0, 0, 5, 10)), TreeID: "a"},
		{Crown: crown("P.2", square(5, 0, 10, 10)), TreeID: "b"},
	}
	stems := map[string]Stem{"a": stem("a", 2, 5), "b": stem("b", 8, 5)}

	assert.Equal(t, 1, childHolding(children, l4trees.Top{Point: orb.Point{7, 5}}, stems))
	// Outside both cells: the nearest stem decides.
	assert.Equal(t, 0, childHolding(children, l4trees.Top{Point: orb.Point{-1, 5}}, stems))
}
