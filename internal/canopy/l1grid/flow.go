package l1grid

// Flow direction sentinels. Non-negative values index the D8 order.
const (
	DirSink    int8 = -1
	DirNoData  int8 = -2
	DirOutflow int8 = -3
)

// FlowGrid stores one D8 direction per cell.
type FlowGrid struct {
	rows int
	cols int
	dirs []int8
}

// NewFlowGrid wraps a direction buffer (copied).
func NewFlowGrid(rows, cols int, dirs []int8) FlowGrid {
	buf := make([]int8, len(dirs))
	copy(buf, dirs)
	return FlowGrid{rows: rows, cols: cols, dirs: buf}
}

func (f FlowGrid) Rows() int         { return f.rows }
func (f FlowGrid) Cols() int         { return f.cols }
func (f FlowGrid) Dir(r, c int) int8 { return f.dirs[r*f.cols+c] }

// Code returns the ESRI D8 code of (r, c), or 0 for sinks, outflow and
// no-data cells.
func (f FlowGrid) Code(r, c int) uint8 {
	d := f.Dir(r, c)
	if d < 0 {
		return 0
	}
	return d8[d].Code
}

// Downstream returns the cell (r, c) drains into.
func (f FlowGrid) Downstream(r, c int) (int, int, bool) {
	d := f.Dir(r, c)
	if d < 0 {
		return r, c, false
	}
	o := d8[d]
	return r + o.DR, c + o.DC, true
}

// InboundCount returns how many neighbours drain into (r, c), or -1 for a
// no-data cell.
func (f FlowGrid) InboundCount(r, c int) int {
	if f.Dir(r, c) == DirNoData {
		return -1
	}
	n := 0
	for i, o := range d8 {
		nr, nc := r+o.DR, c+o.DC
		if nr < 0 || nr >= f.rows || nc < 0 || nc >= f.cols {
			continue
		}
		if int(f.Dir(nr, nc)) == Opposite(i) {
			n++
		}
	}
	return n
}
