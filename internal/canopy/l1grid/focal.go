package l1grid

import "math"

// window returns the neighbour offsets whose centre lies within radius map
// units of the origin cell, excluding the origin itself.
func window(radius, cellSize float64) []Offset {
	if radius <= 0 {
		return nil
	}
	reach := int(math.Floor(radius / cellSize))
	var out []Offset
	r2 := radius * radius
	for dr := -reach; dr <= reach; dr++ {
		for dc := -reach; dc <= reach; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			d := math.Hypot(float64(dr), float64(dc))
			if d*d*cellSize*cellSize > r2+1e-9 {
				continue
			}
			out = append(out, Offset{DR: dr, DC: dc, Dist: d})
		}
	}
	return out
}

// FocalFlow counts, for every valid cell, the valid cells within radius map
// units whose value exceeds the centre by more than threshold. Those are
// the neighbours that would drain into the centre. A cell with a zero count
// is a local maximum at that radius. No-data centres stay no-data.
func FocalFlow(g Grid, radius, threshold float64) Grid {
	win := window(radius, g.geo.CellSize)
	out := g.Map(func(r, c int, v float64) float64 {
		n := 0
		for _, o := range win {
			nr, nc := r+o.DR, c+o.DC
			if !g.Valid(nr, nc) {
				continue
			}
			if g.At(nr, nc)-v > threshold {
				n++
			}
		}
		return float64(n)
	})
	diagf("focal flow radius=%.2f threshold=%.3f window=%d cells", radius, threshold, len(win))
	return out
}

// FocalMax replaces each valid cell with the maximum of itself and its
// valid neighbours within radius.
func FocalMax(g Grid, radius float64) Grid {
	win := window(radius, g.geo.CellSize)
	return g.Map(func(r, c int, v float64) float64 {
		m := v
		for _, o := range win {
			nr, nc := r+o.DR, c+o.DC
			if g.Valid(nr, nc) && g.At(nr, nc) > m {
				m = g.At(nr, nc)
			}
		}
		return m
	})
}

// FocalMean replaces each valid cell with the mean of itself and its valid
// neighbours within radius.
func FocalMean(g Grid, radius float64) Grid {
	win := window(radius, g.geo.CellSize)
	return g.Map(func(r, c int, v float64) float64 {
		sum, n := v, 1
		for _, o := range win {
			nr, nc := r+o.DR, c+o.DC
			if g.Valid(nr, nc) {
				sum += g.At(nr, nc)
				n++
			}
		}
		return sum / float64(n)
	})
}

// ZonalMax returns the maximum valid value of g per label id. Index 0 is
// unused; ids with no valid cell get NaN.
func ZonalMax(g Grid, labels Labels) []float64 {
	out := make([]float64, labels.Count()+1)
	for i := range out {
		out[i] = math.NaN()
	}
	for r := 0; r < labels.rows; r++ {
		for c := 0; c < labels.cols; c++ {
			id := labels.At(r, c)
			if id == 0 || !g.Valid(r, c) {
				continue
			}
			v := g.At(r, c)
			if math.IsNaN(out[id]) || v > out[id] {
				out[id] = v
			}
		}
	}
	return out
}
