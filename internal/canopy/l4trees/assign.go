package l4trees

import "math"

// costForbidden marks a crown/top pair that may not be matched.
const costForbidden = 1e9

// hungarianAssign solves the rectangular min-cost assignment for an n×m
// matrix with the Kuhn–Munkres potentials method in O(k³), k = max(n, m).
// It returns assign[i] = column for row i, or -1 when row i is left
// unmatched or only forbidden columns remain.
func hungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	dim := n
	if m > dim {
		dim = m
	}
	at := func(i, j int) float64 {
		if i < n && j < m {
			return cost[i][j]
		}
		return costForbidden
	}

	const inf = math.MaxFloat64 / 2
	// 1-indexed; column 0 is the virtual start column.
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	owner := make([]int, dim+1)
	prev := make([]int, dim+1)
	minv := make([]float64, dim+1)
	visited := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		owner[0] = i
		col := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			visited[j] = false
		}
		for {
			visited[col] = true
			row := owner[col]
			delta, next := inf, -1
			for j := 1; j <= dim; j++ {
				if visited[j] {
					continue
				}
				reduced := at(row-1, j-1) - u[row] - v[j]
				if reduced < minv[j] {
					minv[j] = reduced
					prev[j] = col
				}
				if minv[j] < delta {
					delta, next = minv[j], j
				}
			}
			if next < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if visited[j] {
					u[owner[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			col = next
			if owner[col] == 0 {
				break
			}
		}
		for col != 0 {
			owner[col] = owner[prev[col]]
			col = prev[col]
		}
	}

	for j := 1; j <= dim; j++ {
		i := owner[j] - 1
		if i < 0 || i >= n || j-1 >= m {
			continue
		}
		if cost[i][j-1] >= costForbidden {
			continue
		}
		result[i] = j - 1
	}
	return result
}
