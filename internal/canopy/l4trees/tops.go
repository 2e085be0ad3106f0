package l4trees

import (
	"fmt"
	"math"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
	"github.com/banshee-data/treecrown/internal/canopy/l2watershed"
	"github.com/banshee-data/treecrown/internal/canopy/l3vector"
)

// TopOptions controls tree-top extraction.
type TopOptions struct {
	// Radius is the focal-flow window in map units.
	Radius float64
	// Threshold is how much higher a neighbour must be to count as inflow.
	Threshold float64
	// HeightScale is the integer multiplier used by scaled rasters.
	HeightScale int
	// ScaledInput marks CHM and DTM values as integers in 1/HeightScale.
	ScaledInput bool
}

// DefaultTopOptions returns the standard 1.5 unit window on unscaled input.
func DefaultTopOptions() TopOptions {
	return TopOptions{Radius: 1.5, HeightScale: l1grid.DefaultHeightScale}
}

func (o TopOptions) decode(v float64) float64 {
	if !o.ScaledInput || o.HeightScale <= 0 {
		return v
	}
	return l1grid.DecodeHeight(int32(math.Round(v)), o.HeightScale)
}

// ExtractTops finds one tree top per local-maximum region of the watershed
// sinks. dtm may be the zero Grid when ground altitude is unavailable.
func ExtractTops(res *l2watershed.Result, dtm l1grid.Grid, opts TopOptions, unit string) ([]Top, error) {
	if res == nil {
		return nil, fmt.Errorf("extract tops: nil segmentation result")
	}
	if res.Empty() {
		return nil, nil
	}
	chm := res.Height
	hasDTM := dtm.Len() > 0
	if hasDTM && !dtm.SameShape(chm) {
		return nil, fmt.Errorf("extract tops: dtm %dx%d does not match chm %dx%d: %w",
			dtm.Rows(), dtm.Cols(), chm.Rows(), chm.Cols(), l1grid.ErrMalformedGrid)
	}

	sinkSurface := chm.Map(func(r, c int, v float64) float64 {
		if res.Sinks.At(r, c) == 0 {
			return chm.NoData()
		}
		return v
	})
	inflow := l1grid.FocalFlow(sinkSurface, opts.Radius, opts.Threshold)
	indicator := l1grid.ConnectedComponents(chm.Rows(), chm.Cols(), chm.Geo(), l1grid.Conn8, func(r, c int) bool {
		return inflow.Valid(r, c) && inflow.At(r, c) == 0
	})
	zmax := l1grid.ZonalMax(chm, indicator)

	var tops []Top
	for _, region := range l3vector.Vectorize(indicator) {
		for _, part := range l3vector.Explode(region.Polygon) {
			pt := l3vector.InsidePoint(part)
			h, ok := chm.ValueAt(pt[0], pt[1])
			if !ok {
				h = zmax[region.ID]
				tracef("top in region %d sampled outside chm, using zonal max %.2f", region.ID, h)
			}
			alt := math.NaN()
			if hasDTM {
				if v, ok := dtm.ValueAt(pt[0], pt[1]); ok {
					alt = opts.decode(v)
				} else {
					opsf("unit %s: no ground altitude at (%.2f, %.2f)", unit, pt[0], pt[1])
				}
			}
			tops = append(tops, Top{
				ID:             TopID(unit, len(tops)+1),
				UnitCode:       unit,
				Point:          pt,
				Height:         opts.decode(h),
				GroundAltitude: alt,
				Method:         MethodWatershed,
			})
		}
	}
	diagf("unit %s: %d tops from %d sinks (radius %.2f)", unit, len(tops), res.Sinks.Count(), opts.Radius)
	return tops, nil
}
