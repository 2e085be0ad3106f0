package l1grid

// Labels is a raster of integer region ids sharing a height grid's
// geometry. Zero means unlabelled.
type Labels struct {
	rows int
	cols int
	geo  Geotransform
	ids  []int32
	n    int32
}

// NewLabels wraps an id buffer (copied). The region count is the maximum id.
func NewLabels(rows, cols int, geo Geotransform, ids []int32) Labels {
	buf := make([]int32, len(ids))
	copy(buf, ids)
	var n int32
	for _, id := range buf {
		if id > n {
			n = id
		}
	}
	return Labels{rows: rows, cols: cols, geo: geo, ids: buf, n: n}
}

func (l Labels) Rows() int              { return l.rows }
func (l Labels) Cols() int              { return l.cols }
func (l Labels) Geo() Geotransform      { return l.geo }
func (l Labels) Count() int             { return int(l.n) }
func (l Labels) At(r, c int) int32      { return l.ids[r*l.cols+c] }
func (l Labels) InBounds(r, c int) bool { return r >= 0 && r < l.rows && c >= 0 && c < l.cols }

// IDs returns a copy of the row-major id buffer.
func (l Labels) IDs() []int32 {
	out := make([]int32, len(l.ids))
	copy(out, l.ids)
	return out
}

// CellCounts returns the number of cells per id; index 0 counts unlabelled
// cells.
func (l Labels) CellCounts() []int {
	counts := make([]int, l.n+1)
	for _, id := range l.ids {
		counts[id]++
	}
	return counts
}

// ConnectedComponents labels maximal groups of cells for which member
// returns true. Ids are assigned 1..n in raster-scan order of each
// component's first cell.
func ConnectedComponents(rows, cols int, geo Geotransform, conn Connectivity, member func(r, c int) bool) Labels {
	ids := make([]int32, rows*cols)
	offsets := Neighbors(conn)
	var next int32
	queue := make([]int, 0, 64)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if ids[i] != 0 || !member(r, c) {
				continue
			}
			next++
			ids[i] = next
			queue = append(queue[:0], i)
			for len(queue) > 0 {
				cur := queue[0]
				queue = queue[1:]
				cr, cc := cur/cols, cur%cols
				for _, o := range offsets {
					nr, nc := cr+o.DR, cc+o.DC
					if nr < 0 || nr >= rows || nc < 0 || nc >= cols {
						continue
					}
					ni := nr*cols + nc
					if ids[ni] != 0 || !member(nr, nc) {
						continue
					}
					ids[ni] = next
					queue = append(queue, ni)
				}
			}
		}
	}
	tracef("connected components (%s): %d regions in %dx%d", conn, next, rows, cols)
	return Labels{rows: rows, cols: cols, geo: geo, ids: ids, n: next}
}
