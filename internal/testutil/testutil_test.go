package testutil

import (
	"errors"
	"os"
	"testing"
)

func TestTwoPeaks(t *testing.T) {
	g := TwoPeaks()
	if g.Rows() != 5 || g.Cols() != 5 {
		t.Fatalf("shape = %dx%d, want 5x5", g.Rows(), g.Cols())
	}
	if g.At(1, 0) != 10 || g.At(3, 4) != 9 {
		t.Errorf("apexes = %v, %v", g.At(1, 0), g.At(3, 4))
	}
	if g.ValidCount() != 25 {
		t.Errorf("ValidCount = %d, want 25", g.ValidCount())
	}
}

func TestConeGridClampsAtZero(t *testing.T) {
	g := ConeGrid(3, 30, UnitGeo(3), Cone{Row: 1, Col: 0, Peak: 5, Slope: 2})
	if g.At(1, 29) != 0 {
		t.Errorf("far cell = %v, want 0", g.At(1, 29))
	}
	if g.At(1, 1) != 3 {
		t.Errorf("neighbour = %v, want 3", g.At(1, 1))
	}
}

func TestFlatGrid(t *testing.T) {
	g := FlatGrid(2, 3, UnitGeo(2), 7)
	for _, v := range g.Values() {
		if v != 7 {
			t.Fatalf("value = %v, want 7", v)
		}
	}
}

func TestWriteFile(t *testing.T) {
	p := WriteFile(t, "a.txt", "hello")
	data, err := os.ReadFile(p)
	if err != nil || string(data) != "hello" {
		t.Errorf("read back %q, %v", data, err)
	}
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()
	AssertError(t, errors.New("boom"))
}
