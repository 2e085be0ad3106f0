package l2watershed

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
)

var geo = l1grid.Geotransform{OriginX: 0, OriginY: 5, CellSize: 1}

// twoPeaks returns a 5x5 CHM shaped as two cones with apexes at (1,0) and
// (3,4). The only cells without a higher neighbour are the apexes.
func twoPeaks() l1grid.Grid {
	vals := make([]float64, 25)
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			a := 10 - math.Hypot(float64(r-1), float64(c-0))
			b := 9 - math.Hypot(float64(r-3), float64(c-4))
			vals[r*5+c] = math.Max(a, b)
		}
	}
	return l1grid.MustNew(5, 5, geo, l1grid.DefaultNoData, vals)
}

func TestSegment_TwoSeparatedPeaks(t *testing.T) {
	res, err := Segment(twoPeaks(), Options{})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if got := res.Sinks.Count(); got != 2 {
		t.Fatalf("sinks = %d, want 2", got)
	}
	if got := res.Catchments.Count(); got != 2 {
		t.Fatalf("catchments = %d, want 2", got)
	}
	if res.Sinks.At(1, 0) != 1 || res.Sinks.At(3, 4) != 2 {
		t.Errorf("sink ids not in raster-scan order: %v", res.Sinks.IDs())
	}
	if res.Catchments.At(0, 0) != 1 || res.Catchments.At(4, 4) != 2 {
		t.Errorf("unexpected catchment assignment: %v", res.Catchments.IDs())
	}
}

func TestSegment_TieBreakFollowsNeighbourOrder(t *testing.T) {
	g := l1grid.MustNew(3, 3, geo, l1grid.DefaultNoData, []float64{
		0, 0, 0,
		5, 1, 5,
		0, 0, 0,
	})
	res, err := Segment(g, Options{})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if d := res.Flow.Dir(1, 1); d != 0 {
		t.Errorf("centre direction = %d, want 0 (east)", d)
	}
	if res.Sinks.At(1, 0) != 1 || res.Sinks.At(1, 2) != 2 {
		t.Fatalf("unexpected sink ids %v", res.Sinks.IDs())
	}
	// (0,1) has equal drops towards SE and SW; SE comes first.
	if id := res.Catchments.At(0, 1); id != 2 {
		t.Errorf("(0,1) catchment = %d, want 2", id)
	}
	if id := res.Catchments.At(1, 1); id != 2 {
		t.Errorf("centre catchment = %d, want 2", id)
	}
}

func TestSegment_PlateauRoutedToOutlet(t *testing.T) {
	g := l1grid.MustNew(1, 4, geo, l1grid.DefaultNoData, []float64{2, 2, 2, 5})
	res, err := Segment(g, Options{})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if res.Sinks.Count() != 1 {
		t.Fatalf("sinks = %d, want 1", res.Sinks.Count())
	}
	for c := 0; c < 3; c++ {
		if d := res.Flow.Dir(0, c); d != 0 {
			t.Errorf("plateau cell %d direction = %d, want east", c, d)
		}
	}
	if diff := cmp.Diff([]int32{1, 1, 1, 1}, res.Catchments.IDs()); diff != "" {
		t.Errorf("catchments mismatch (-want +got):\n%s", diff)
	}
}

func TestSegment_FlatTopIsOneSink(t *testing.T) {
	g := l1grid.MustNew(1, 5, geo, l1grid.DefaultNoData, []float64{1, 3, 3, 3, 1})
	res, err := Segment(g, Options{})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if res.Sinks.Count() != 1 {
		t.Errorf("sinks = %d, want 1", res.Sinks.Count())
	}
	if diff := cmp.Diff([]int32{1, 1, 1, 1, 1}, res.Catchments.IDs()); diff != "" {
		t.Errorf("catchments mismatch (-want +got):\n%s", diff)
	}
}

func TestSegment_AllNoDataIsEmpty(t *testing.T) {
	g := l1grid.Filled(4, 4, geo, l1grid.DefaultNoData, l1grid.DefaultNoData)
	res, err := Segment(g, Options{})
	if err != nil {
		t.Fatalf("all no-data must not error: %v", err)
	}
	if !res.Empty() {
		t.Errorf("expected empty result, got %d catchments", res.Catchments.Count())
	}
}

func TestSegment_EdgeOutflowLeavesBorderUnlabelled(t *testing.T) {
	res, err := Segment(twoPeaks(), Options{EdgeOutflow: true})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	for c := 0; c < 5; c++ {
		if res.Catchments.At(0, c) != 0 {
			t.Errorf("border cell (0,%d) labelled %d", c, res.Catchments.At(0, c))
		}
	}
}

func randomCHM(seed int64, rows, cols int) l1grid.Grid {
	rng := rand.New(rand.NewSource(seed))
	vals := make([]float64, rows*cols)
	for i := range vals {
		switch {
		case rng.Float64() < 0.1:
			vals[i] = l1grid.DefaultNoData
		default:
			// Coarse quantisation produces plenty of plateaus and ties.
			vals[i] = math.Floor(rng.Float64()*6) + 2
		}
	}
	return l1grid.MustNew(rows, cols, geo, l1grid.DefaultNoData, vals)
}

func TestSegment_PartitionProperty(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		g := randomCHM(seed, 17, 13)
		res, err := Segment(g, Options{})
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		for r := 0; r < g.Rows(); r++ {
			for c := 0; c < g.Cols(); c++ {
				id := res.Catchments.At(r, c)
				if g.Valid(r, c) && id == 0 {
					t.Fatalf("seed %d: valid cell (%d,%d) unlabelled", seed, r, c)
				}
				if !g.Valid(r, c) && id != 0 {
					t.Fatalf("seed %d: no-data cell (%d,%d) labelled %d", seed, r, c, id)
				}
			}
		}
	}
}

func TestSegment_Deterministic(t *testing.T) {
	g := randomCHM(42, 30, 30)
	a, err := Segment(g, Options{})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	b, err := Segment(g, Options{})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if diff := cmp.Diff(a.Catchments.IDs(), b.Catchments.IDs()); diff != "" {
		t.Errorf("catchments differ between runs:\n%s", diff)
	}
	if diff := cmp.Diff(a.Sinks.IDs(), b.Sinks.IDs()); diff != "" {
		t.Errorf("sinks differ between runs:\n%s", diff)
	}
}
