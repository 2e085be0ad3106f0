package l2watershed

import (
	"fmt"

	"github.com/banshee-data/treecrown/internal/canopy/l1grid"
)

// Options controls segmentation.
type Options struct {
	// EdgeOutflow forces cells on the grid border to drain off the raster.
	// Catchments that reach the border are then left unlabelled.
	EdgeOutflow bool
}

// Result holds every intermediate raster of one segmentation run.
type Result struct {
	Height     l1grid.Grid
	Inverted   l1grid.Grid
	Flow       l1grid.FlowGrid
	Sinks      l1grid.Labels
	Catchments l1grid.Labels
}

// Empty reports whether no catchment was found.
func (r *Result) Empty() bool {
	return r.Catchments.Count() == 0
}

// Segment runs watershed segmentation on a canopy height grid. Every valid
// cell ends up in exactly one catchment unless EdgeOutflow routes it off the
// grid. The result is fully determined by the input and options.
func Segment(height l1grid.Grid, opts Options) (*Result, error) {
	if height.Rows() < 0 || height.Cols() < 0 || height.Len() != len(height.Values()) {
		return nil, fmt.Errorf("segment: %w", l1grid.ErrMalformedGrid)
	}
	inv := l1grid.Invert(height)
	flow := FlowDirection(inv, opts)
	sinks := labelSinks(inv, flow)
	catch := labelCatchments(flow, sinks)

	counts := catch.CellCounts()
	diagf("segment %dx%d: %d valid cells, %d sinks, %d unlabelled",
		height.Rows(), height.Cols(), height.ValidCount(), sinks.Count(), counts[0])
	if height.ValidCount() == 0 {
		opsf("segment: grid has no valid cells, returning empty result")
	}
	return &Result{
		Height:     height,
		Inverted:   inv,
		Flow:       flow,
		Sinks:      sinks,
		Catchments: catch,
	}, nil
}

// FlowDirection assigns a D8 direction to every valid cell of surface z.
// The steepest drop wins; equal drops resolve to the earliest direction in
// the fixed neighbour order. Flat cells are routed towards the nearest
// plateau outlet by breadth-first search. Cells with no outlet are sinks.
func FlowDirection(z l1grid.Grid, opts Options) l1grid.FlowGrid {
	rows, cols := z.Rows(), z.Cols()
	dirs := make([]int8, rows*cols)
	neighbors := l1grid.Neighbors(l1grid.Conn8)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if !z.Valid(r, c) {
				dirs[i] = l1grid.DirNoData
				continue
			}
			if opts.EdgeOutflow && (r == 0 || c == 0 || r == rows-1 || c == cols-1) {
				dirs[i] = l1grid.DirOutflow
				continue
			}
			h := z.At(r, c)
			best := int8(l1grid.DirSink)
			bestDrop := 0.0
			for k, o := range neighbors {
				nr, nc := r+o.DR, c+o.DC
				if !z.Valid(nr, nc) {
					continue
				}
				drop := (h - z.At(nr, nc)) / o.Dist
				if drop > bestDrop {
					bestDrop = drop
					best = int8(k)
				}
			}
			dirs[i] = best
		}
	}

	resolveFlats(z, dirs)
	return l1grid.NewFlowGrid(rows, cols, dirs)
}

// resolveFlats routes unresolved cells that sit on a plateau with a
// draining edge. The BFS starts from every drained cell bordering an equal
// unresolved neighbour, in raster order, so routing is deterministic.
func resolveFlats(z l1grid.Grid, dirs []int8) {
	rows, cols := z.Rows(), z.Cols()
	neighbors := l1grid.Neighbors(l1grid.Conn8)
	unresolved := func(r, c int) bool {
		return dirs[r*cols+c] == l1grid.DirSink
	}

	var queue []int
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d := dirs[r*cols+c]
			if d < 0 && d != l1grid.DirOutflow {
				continue
			}
			h := z.At(r, c)
			for _, o := range neighbors {
				nr, nc := r+o.DR, c+o.DC
				if z.Valid(nr, nc) && unresolved(nr, nc) && z.At(nr, nc) == h {
					queue = append(queue, r*cols+c)
					break
				}
			}
		}
	}

	routed := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		cr, cc := cur/cols, cur%cols
		h := z.At(cr, cc)
		for k, o := range neighbors {
			nr, nc := cr+o.DR, cc+o.DC
			if !z.Valid(nr, nc) || !unresolved(nr, nc) || z.At(nr, nc) != h {
				continue
			}
			dirs[nr*cols+nc] = int8(l1grid.Opposite(k))
			routed++
			queue = append(queue, nr*cols+nc)
		}
	}
	if routed > 0 {
		tracef("resolved %d flat cells towards plateau outlets", routed)
	}
}

// labelSinks groups 8-connected sink cells. Ids follow raster-scan order.
func labelSinks(z l1grid.Grid, flow l1grid.FlowGrid) l1grid.Labels {
	return l1grid.ConnectedComponents(z.Rows(), z.Cols(), z.Geo(), l1grid.Conn8, func(r, c int) bool {
		return flow.Dir(r, c) == l1grid.DirSink
	})
}

// labelCatchments propagates each sink id upstream along reversed flow.
func labelCatchments(flow l1grid.FlowGrid, sinks l1grid.Labels) l1grid.Labels {
	rows, cols := flow.Rows(), flow.Cols()
	ids := sinks.IDs()
	neighbors := l1grid.Neighbors(l1grid.Conn8)

	var queue []int
	for i, id := range ids {
		if id != 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		cr, cc := cur/cols, cur%cols
		for k, o := range neighbors {
			nr, nc := cr+o.DR, cc+o.DC
			if nr < 0 || nr >= rows || nc < 0 || nc >= cols {
				continue
			}
			ni := nr*cols + nc
			if ids[ni] != 0 {
				continue
			}
			if int(flow.Dir(nr, nc)) == l1grid.Opposite(k) {
				ids[ni] = ids[cur]
				queue = append(queue, ni)
			}
		}
	}
	return l1grid.NewLabels(rows, cols, sinks.Geo(), ids)
}
