package l3vector

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
)

func labelsOf(rows, cols int, originY float64, ids []int32) l1grid.Labels {
	return l1grid.NewLabels(rows, cols, l1grid.Geotransform{OriginX: 0, OriginY: originY, CellSize: 1}, ids)
}

func TestVectorize_SquareBlock(t *testing.T) {
	l := labelsOf(3, 3, 3, []int32{
		0, 0, 0,
		0, 1, 1,
		0, 1, 1,
	})
	regions := Vectorize(l)
	require.Len(t, regions, 1)
	r := regions[0]
	assert.Equal(t, int32(1), r.ID)
	assert.Equal(t, 4, r.Cells)
	require.Len(t, r.Polygon, 1)
	require.Len(t, r.Polygon[0], 1, "no holes expected")
	assert.Len(t, r.Polygon[0][0], 5, "collinear vertices must be dropped")
	assert.InDelta(t, 4.0, planar.Area(r.Polygon[0]), 1e-9)
	assert.Equal(t, orb.Bound{Min: orb.Point{1, 0}, Max: orb.Point{3, 2}}, r.Polygon.Bound())
}

func TestVectorize_HoleAndIsland(t *testing.T) {
	l := labelsOf(5, 5, 5, []int32{
		1, 1, 1, 1, 1,
		1, 0, 0, 0, 1,
		1, 0, 1, 0, 1,
		1, 0, 0, 0, 1,
		1, 1, 1, 1, 1,
	})
	regions := Vectorize(l)
	require.Len(t, regions, 1)
	mp := regions[0].Polygon
	require.Len(t, mp, 2)

	var withHole, island orb.Polygon
	for _, p := range mp {
		if len(p) == 2 {
			withHole = p
		} else {
			island = p
		}
	}
	require.NotNil(t, withHole, "outer frame should carry the hole")
	require.NotNil(t, island)
	assert.InDelta(t, 16.0, planar.Area(withHole), 1e-9)
	assert.InDelta(t, 1.0, planar.Area(island), 1e-9)
}

func TestVectorize_CornerTouchingCellsSplit(t *testing.T) {
	l := labelsOf(2, 2, 2, []int32{
		1, 0,
		0, 1,
	})
	regions := Vectorize(l)
	require.Len(t, regions, 1)
	parts := Explode(regions[0].Polygon)
	require.Len(t, parts, 2)
	for _, p := range parts {
		assert.InDelta(t, 1.0, planar.Area(p), 1e-9)
	}
}

func TestVectorize_MultipleLabelsPartitionArea(t *testing.T) {
	ids := []int32{
		1, 1, 2, 2,
		1, 3, 3, 2,
		3, 3, 0, 2,
	}
	regions := Vectorize(labelsOf(3, 4, 3, ids))
	require.Len(t, regions, 3)
	total := 0.0
	for _, r := range regions {
		area := 0.0
		for _, p := range r.Polygon {
			area += planar.Area(p)
		}
		assert.InDelta(t, float64(r.Cells), area, 1e-9, "label %d", r.ID)
		total += area
	}
	assert.InDelta(t, 11.0, total, 1e-9)
}

func TestInsidePoint_ConcaveShape(t *testing.T) {
	l := labelsOf(3, 3, 3, []int32{
		1, 0, 1,
		1, 0, 1,
		1, 1, 1,
	})
	regions := Vectorize(l)
	require.Len(t, regions, 1)
	poly := regions[0].Polygon[0]

	c, _ := planar.CentroidArea(poly)
	require.False(t, planar.PolygonContains(poly, c), "centroid of a U lies outside")

	p := InsidePoint(poly)
	assert.True(t, planar.PolygonContains(poly, p), "inside point %v", p)
}

func TestInsidePoint_ConvexUsesCentroid(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {4, 0}, {4, 2}, {0, 2}, {0, 0}}}
	assert.Equal(t, orb.Point{2, 1}, InsidePoint(poly))
}

func TestMeasure_LShape(t *testing.T) {
	l := labelsOf(2, 2, 2, []int32{
		1, 0,
		1, 1,
	})
	poly := Vectorize(l)[0].Polygon[0]
	m := Measure(poly)

	assert.InDelta(t, 3.0, m.Area, 1e-9)
	assert.InDelta(t, 8.0, m.Perimeter, 1e-9)
	assert.InDelta(t, 3.5, m.HullArea, 1e-9)
	assert.InDelta(t, math.Sqrt(8), m.Diameter, 1e-9)
	assert.InDelta(t, 3.0/3.5, m.HullRatio, 1e-9)
	assert.True(t, planar.PolygonContains(poly, m.InsidePt))
}

func TestVectorizeMask(t *testing.T) {
	mask := []bool{
		true, false, true,
		true, false, false,
	}
	regions, labels := VectorizeMask(2, 3, l1grid.Geotransform{OriginY: 2, CellSize: 1}, func(r, c int) bool {
		return mask[r*3+c]
	})
	require.Len(t, regions, 2)
	assert.Equal(t, 2, labels.Count())
	assert.Equal(t, 2, regions[0].Cells)
	assert.Equal(t, 1, regions[1].Cells)
}
