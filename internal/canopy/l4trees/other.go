package l4trees

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
	"github.com/banshee-data/treecrown/internal/canopy/l3vector"
)

// OtherOptions controls detection of canopy missed by the watershed pass.
type OtherOptions struct {
	// MinArea drops uncovered patches smaller than this many square units.
	MinArea float64
	Tops    TopOptions
}

// DetectOther turns canopy cells not covered by any crown into extra
// trees. Each 4-connected uncovered patch becomes one crown whose top is
// the patch's inside point carrying the patch's maximum height. Numbering
// continues after the given crown and top counts.
func DetectOther(chm, dtm l1grid.Grid, covered []Crown, opts OtherOptions, unit string, crownN, topN int) ([]Crown, []Top) {
	rows, cols := chm.Rows(), chm.Cols()
	var centres []orb.Point
	var cellIdx []int
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if chm.Valid(r, c) {
				centres = append(centres, chm.CellCenter(r, c))
				cellIdx = append(cellIdx, r*cols+c)
			}
		}
	}
	taken := make([]bool, rows*cols)
	idx := l3vector.NewPointIndex(centres)
	for _, cr := range covered {
		for _, k := range idx.Within(cr.Polygon) {
			taken[cellIdx[k]] = true
		}
	}

	regions, labels := l3vector.VectorizeMask(rows, cols, chm.Geo(), func(r, c int) bool {
		return chm.Valid(r, c) && !taken[r*cols+c]
	})
	zmax := l1grid.ZonalMax(chm, labels)
	hasDTM := dtm.Len() > 0 && dtm.SameShape(chm)

	var crowns []Crown
	var tops []Top
	small := 0
	for _, region := range regions {
		area := float64(region.Cells) * chm.CellArea()
		if area < opts.MinArea {
			small++
			continue
		}
		for _, part := range l3vector.Explode(region.Polygon) {
			m := l3vector.Measure(part)
			crownN++
			topN++
			crownID, topID := CrownID(unit, crownN), TopID(unit, topN)
			h := opts.Tops.decode(zmax[region.ID])
			alt := math.NaN()
			if hasDTM {
				if v, ok := dtm.ValueAt(m.InsidePt[0], m.InsidePt[1]); ok {
					alt = opts.Tops.decode(v)
				}
			}
			tops = append(tops, Top{
				ID:             topID,
				UnitCode:       unit,
				CrownID:        crownID,
				Point:          m.InsidePt,
				Height:         h,
				GroundAltitude: alt,
				Method:         MethodOther,
			})
			crowns = append(crowns, Crown{
				ID:          crownID,
				UnitCode:    unit,
				Polygon:     part,
				Area:        m.Area,
				Perimeter:   m.Perimeter,
				Method:      MethodOther,
				TopID:       topID,
				TopHeight:   h,
				TopAltitude: alt,
			})
		}
	}
	diagf("unit %s: %d other trees, %d patches under %.1f m2 dropped", unit, len(crowns), small, opts.MinArea)
	return crowns, tops
}
