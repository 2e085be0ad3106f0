package adapters

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
)

// WritePairsCSV writes one row per relation record of a unit.
func WritePairsCSV(w io.Writer, unit string, pairs []l5relation.Pair) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"unit", "crown_id", "tree_id", "case", "merged_into"})
	for _, p := range pairs {
		cw.Write([]string{unit, p.CrownID, p.TreeID, string(p.Case), p.MergedInto})
	}
	cw.Flush()
	return cw.Error()
}

// WriteTabulationCSV writes the per-unit case counts in long form, units
// sorted and cases in their canonical order, followed by a TOTAL row per
// entity and case.
func WriteTabulationCSV(w io.Writer, tallies map[string]l5relation.Tabulation) error {
	units := make([]string, 0, len(tallies))
	for u := range tallies {
		units = append(units, u)
	}
	sort.Strings(units)

	total := l5relation.NewTabulation()
	cw := csv.NewWriter(w)
	cw.Write([]string{"unit", "entity", "case", "count"})
	for _, u := range units {
		t := tallies[u]
		total.Add(t)
		writeTally(cw, u, t)
	}
	writeTally(cw, "TOTAL", total)
	cw.Flush()
	return cw.Error()
}

func writeTally(cw *csv.Writer, unit string, t l5relation.Tabulation) {
	for _, entity := range []struct {
		name   string
		counts map[l5relation.Case]int
	}{{"crown", t.Crowns}, {"stem", t.Stems}} {
		for _, c := range l5relation.Cases {
			cw.Write([]string{unit, entity.name, string(c), strconv.Itoa(entity.counts[c])})
		}
	}
}

