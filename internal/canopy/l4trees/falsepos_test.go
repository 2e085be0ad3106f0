package l4trees

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// octagon returns a regular octagon of the given area centred on (x, y).
func octagon(x, y, area float64) orb.Polygon {
	r := math.Sqrt(area / (2 * math.Sqrt2))
	ring := make(orb.Ring, 0, 9)
	for k := 0; k < 8; k++ {
		a := float64(k) * math.Pi / 4
		ring = append(ring, orb.Point{x + r*math.Cos(a), y + r*math.Sin(a)})
	}
	return orb.Polygon{append(ring, ring[0])}
}

func treeAt(id string, poly orb.Polygon, x, y float64) (Crown, Top) {
	return Crown{ID: "C" + id, Polygon: poly, TopID: "T" + id, TopHeight: 8},
		Top{ID: "T" + id, CrownID: "C" + id, Point: orb.Point{x, y}, Height: 8}
}

func TestFilterFalsePositives(t *testing.T) {
	road := square(0, -1, 100, 1)
	trees := []struct {
		id   string
		poly orb.Polygon
		x, y float64
		want string
	}{
		{"post", octagon(10, 1.5, 7.5), 10, 1.5, ReasonMaskedPost},
		{"post-off-road", octagon(30, 20, 7.5), 30, 20, ""},
		{"big-on-road", octagon(50, 3, 40), 50, 3, ""},
		{"huge", square(0, 40, 20, 60), 10, 50, ReasonAreaOutlier},
		{"hollow", orb.Polygon{{{60, 20}, {66, 20}, {66, 26}, {65, 26}, {65, 21}, {61, 21}, {61, 26}, {60, 26}, {60, 20}}}, 63, 20.5, ReasonRatioOutlier},
	}
	var (
		crowns []Crown
		tops   []Top
	)
	for _, tr := range trees {
		c, top := treeAt(tr.id, tr.poly, tr.x, tr.y)
		crowns = append(crowns, c)
		tops = append(tops, top)
	}
	crowns = WithAttributes(crowns, DefaultAttributeOptions())

	opts := DefaultFalsePositiveOptions()
	opts.Enabled = true
	opts.Mask = []orb.Polygon{road}
	kept, keptTops, fps := FilterFalsePositives(crowns, tops, opts)

	reasons := make(map[string]string, len(fps))
	for _, fp := range fps {
		reasons[fp.Crown.ID] = fp.Reason
		require.NotNil(t, fp.Top, fp.Crown.ID)
		assert.Equal(t, fp.Crown.TopID, fp.Top.ID)
	}
	for _, tr := range trees {
		assert.Equal(t, tr.want, reasons["C"+tr.id], tr.id)
	}

	require.Len(t, kept, 2)
	assert.Equal(t, "Cpost-off-road", kept[0].ID)
	assert.Equal(t, "Cbig-on-road", kept[1].ID)
	require.Len(t, keptTops, 2)
	assert.Equal(t, "Tpost-off-road", keptTops[0].ID)
	assert.Equal(t, "Tbig-on-road", keptTops[1].ID)
}

func TestFilterFalsePositives_Disabled(t *testing.T) {
	c, top := treeAt("huge", square(0, 0, 30, 30), 15, 15)
	crowns := WithAttributes([]Crown{c}, DefaultAttributeOptions())
	require.Equal(t, OutlierExtreme, crowns[0].Attributes.AreaOutlier)

	kept, keptTops, fps := FilterFalsePositives(crowns, []Top{top}, DefaultFalsePositiveOptions())
	assert.Equal(t, crowns, kept)
	assert.Equal(t, []Top{top}, keptTops)
	assert.Empty(t, fps)
}

func TestPolygonsIntersect(t *testing.T) {
	a := square(0, 0, 2, 2)
	tests := []struct {
		name string
		b    orb.Polygon
		want bool
	}{
		{"overlap", square(1, 1, 3, 3), true},
		{"inside", square(0.5, 0.5, 1, 1), true},
		{"contains", square(-1, -1, 3, 3), true},
		{"shared edge", square(2, 0, 4, 2), true},
		{"crossing without vertices inside", square(-1, 0.5, 3, 1.5), true},
		{"disjoint", square(3, 3, 4, 4), false},
		{"bounds overlap only", orb.Polygon{{{1.5, 3}, {4, 0.5}, {4, 3}, {1.5, 3}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, polygonsIntersect(a, tt.b))
			assert.Equal(t, tt.want, polygonsIntersect(tt.b, a))
		})
	}
}
