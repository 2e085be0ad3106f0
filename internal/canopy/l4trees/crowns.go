package l4trees

import (
	"github.com/banshee-data/treecrown/internal/canopy/l2watershed"
	"github.com/banshee-data/treecrown/internal/canopy/l3vector"
)

// BuildCrowns vectorises every catchment and emits one crown per
// single-part polygon, numbered in catchment order.
func BuildCrowns(res *l2watershed.Result, unit string) []Crown {
	if res == nil || res.Empty() {
		return nil
	}
	regions := l3vector.Vectorize(res.Catchments)
	crowns := make([]Crown, 0, len(regions))
	n := 0
	for _, region := range regions {
		parts := l3vector.Explode(region.Polygon)
		if len(parts) > 1 {
			diagf("catchment %d split into %d parts", region.ID, len(parts))
		}
		for _, part := range parts {
			m := l3vector.Measure(part)
			if m.Area <= 0 {
				opsf("catchment %d: dropping zero-area part", region.ID)
				continue
			}
			n++
			crowns = append(crowns, Crown{
				ID:        CrownID(unit, n),
				UnitCode:  unit,
				Polygon:   part,
				Area:      m.Area,
				Perimeter: m.Perimeter,
				Method:    MethodWatershed,
			})
		}
	}
	diagf("unit %s: %d crowns from %d catchments", unit, len(crowns), len(regions))
	return crowns
}
