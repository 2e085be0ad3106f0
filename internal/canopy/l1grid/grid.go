package l1grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrMalformedGrid is returned when a grid's dimensions, cell size or value
// buffer are inconsistent.
var ErrMalformedGrid = errors.New("malformed grid")

// DefaultNoData is the sentinel used when an input does not declare one.
const DefaultNoData = -9999.0

// Geotransform maps cell indices to map coordinates. OriginX is the west
// edge and OriginY the north edge of the raster; rows grow southwards.
type Geotransform struct {
	OriginX  float64 `json:"origin_x"`
	OriginY  float64 `json:"origin_y"`
	CellSize float64 `json:"cell_size"`
}

// Grid is an immutable row-major raster of heights. Cells equal to NoData
// (or NaN) carry no value.
type Grid struct {
	rows   int
	cols   int
	geo    Geotransform
	noData float64
	values []float64
}

// New builds a grid from a row-major value buffer. The buffer is copied.
func New(rows, cols int, geo Geotransform, noData float64, values []float64) (Grid, error) {
	if rows < 0 || cols < 0 {
		return Grid{}, fmt.Errorf("%w: negative dimensions %dx%d", ErrMalformedGrid, rows, cols)
	}
	if !(geo.CellSize > 0) {
		return Grid{}, fmt.Errorf("%w: cell size must be positive, got %v", ErrMalformedGrid, geo.CellSize)
	}
	if len(values) != rows*cols {
		return Grid{}, fmt.Errorf("%w: %d values for %dx%d cells", ErrMalformedGrid, len(values), rows, cols)
	}
	buf := make([]float64, len(values))
	copy(buf, values)
	return Grid{rows: rows, cols: cols, geo: geo, noData: noData, values: buf}, nil
}

// MustNew is New for fixtures whose shape is known to be valid.
func MustNew(rows, cols int, geo Geotransform, noData float64, values []float64) Grid {
	g, err := New(rows, cols, geo, noData, values)
	if err != nil {
		panic(err)
	}
	return g
}

// Filled returns a grid with every cell set to v.
func Filled(rows, cols int, geo Geotransform, noData, v float64) Grid {
	buf := make([]float64, rows*cols)
	for i := range buf {
		buf[i] = v
	}
	return Grid{rows: rows, cols: cols, geo: geo, noData: noData, values: buf}
}

func (g Grid) Rows() int              { return g.rows }
func (g Grid) Cols() int              { return g.cols }
func (g Grid) Len() int               { return g.rows * g.cols }
func (g Grid) Geo() Geotransform      { return g.geo }
func (g Grid) NoData() float64        { return g.noData }
func (g Grid) Index(r, c int) int     { return r*g.cols + c }
func (g Grid) InBounds(r, c int) bool { return r >= 0 && r < g.rows && c >= 0 && c < g.cols }

// At returns the raw stored value, including the no-data sentinel.
func (g Grid) At(r, c int) float64 {
	return g.values[r*g.cols+c]
}

// Valid reports whether (r, c) is inside the grid and carries a value.
func (g Grid) Valid(r, c int) bool {
	if !g.InBounds(r, c) {
		return false
	}
	return g.isValue(g.values[r*g.cols+c])
}

func (g Grid) isValue(v float64) bool {
	return v != g.noData && !math.IsNaN(v)
}

// Values returns a copy of the row-major value buffer.
func (g Grid) Values() []float64 {
	out := make([]float64, len(g.values))
	copy(out, g.values)
	return out
}

// ValidCount returns the number of cells that carry a value.
func (g Grid) ValidCount() int {
	n := 0
	for _, v := range g.values {
		if g.isValue(v) {
			n++
		}
	}
	return n
}

// SameShape reports whether two grids share dimensions and geotransform.
func (g Grid) SameShape(o Grid) bool {
	return g.rows == o.rows && g.cols == o.cols && g.geo == o.geo
}

// Map returns a new grid with f applied to every valid cell. No-data cells
// are carried over unchanged; f may return NoData to clear a cell.
func (g Grid) Map(f func(r, c int, v float64) float64) Grid {
	out := make([]float64, len(g.values))
	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			i := r*g.cols + c
			v := g.values[i]
			if !g.isValue(v) {
				out[i] = g.noData
				continue
			}
			out[i] = f(r, c, v)
		}
	}
	return Grid{rows: g.rows, cols: g.cols, geo: g.geo, noData: g.noData, values: out}
}

// Invert negates every valid cell so maxima become minima.
func Invert(g Grid) Grid {
	return g.Map(func(_, _ int, v float64) float64 { return -v })
}

// MinHeightMask clears cells lower than min.
func MinHeightMask(g Grid, min float64) Grid {
	masked := 0
	out := g.Map(func(_, _ int, v float64) float64 {
		if v < min {
			masked++
			return g.noData
		}
		return v
	})
	diagf("min height %.2f masked %d of %d cells", min, masked, g.Len())
	return out
}

// CellCenter returns the map coordinate of the centre of (r, c).
func (g Grid) CellCenter(r, c int) orb.Point {
	cs := g.geo.CellSize
	return orb.Point{
		g.geo.OriginX + (float64(c)+0.5)*cs,
		g.geo.OriginY - (float64(r)+0.5)*cs,
	}
}

// CellAt returns the cell containing map coordinate (x, y). Points on a
// shared edge belong to the cell to the east and south.
func (g Grid) CellAt(x, y float64) (r, c int, ok bool) {
	cs := g.geo.CellSize
	c = int(math.Floor((x - g.geo.OriginX) / cs))
	r = int(math.Floor((g.geo.OriginY - y) / cs))
	return r, c, g.InBounds(r, c)
}

// ValueAt samples the nearest cell to (x, y). No interpolation is applied.
func (g Grid) ValueAt(x, y float64) (float64, bool) {
	r, c, ok := g.CellAt(x, y)
	if !ok || !g.Valid(r, c) {
		return g.noData, false
	}
	return g.At(r, c), true
}

// Bound returns the map extent of the grid.
func (g Grid) Bound() orb.Bound {
	cs := g.geo.CellSize
	return orb.Bound{
		Min: orb.Point{g.geo.OriginX, g.geo.OriginY - float64(g.rows)*cs},
		Max: orb.Point{g.geo.OriginX + float64(g.cols)*cs, g.geo.OriginY},
	}
}

// CellArea returns the map area of one cell.
func (g Grid) CellArea() float64 {
	return g.geo.CellSize * g.geo.CellSize
}
