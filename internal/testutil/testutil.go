// Package testutil provides shared test utilities and fixtures.
//
// Canopy fixtures are small synthetic CHMs built from cones, which give
// well separated maxima with predictable catchments.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
)

// UnitGeo is a one-metre grid whose top-left corner is at (0, rows).
func UnitGeo(rows int) l1grid.Geotransform {
	return l1grid.Geotransform{OriginX: 0, OriginY: float64(rows), CellSize: 1}
}

// Cone describes one synthetic tree: height Peak at (Row, Col) falling by
// Slope per cell of distance.
type Cone struct {
	Row, Col int
	Peak     float64
	Slope    float64
}

// ConeGrid builds a CHM whose cells take the highest of the cones. Cells
// where every cone is below zero are clamped to zero.
func ConeGrid(rows, cols int, geo l1grid.Geotransform, cones ...Cone) l1grid.Grid {
	vals := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := 0.0
			for _, k := range cones {
				slope := k.Slope
				if slope == 0 {
					slope = 1
				}
				h := k.Peak - slope*math.Hypot(float64(r-k.Row), float64(c-k.Col))
				v = math.Max(v, h)
			}
			vals[r*cols+c] = v
		}
	}
	return l1grid.MustNew(rows, cols, geo, l1grid.DefaultNoData, vals)
}

// TwoPeaks is the 5x5 two-cone CHM used across the canopy tests: apexes at
// (1,0) with 10 m and (3,4) with 9 m.
func TwoPeaks() l1grid.Grid {
	return ConeGrid(5, 5, UnitGeo(5), Cone{Row: 1, Col: 0, Peak: 10}, Cone{Row: 3, Col: 4, Peak: 9})
}

// FlatGrid returns a grid filled with v.
func FlatGrid(rows, cols int, geo l1grid.Geotransform, v float64) l1grid.Grid {
	return l1grid.Filled(rows, cols, geo, l1grid.DefaultNoData, v)
}

// WriteFile writes content to name inside a fresh temp dir and returns the path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
