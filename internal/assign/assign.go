// Package assign computes the globally optimal one-to-one pairing between
// two candidate sets from a score matrix.
//
// Greedy nearest-match selection is order-dependent and can lock in a
// mediocre pair that blocks a better pair elsewhere. This package instead
// solves the full assignment problem: costs are 100-score, the matrix is
// padded square with the maximum cost, and a minimum-cost perfect matching
// is found with the Hungarian algorithm in O(n^3). Padded assignments and
// assignments scoring below the acceptance floor are discarded, so the
// result is a bijection between a subset of rows and a subset of columns.
package assign

import "math"

// MaxCost is the cost of a zero-score pairing and of every padded cell.
// Any real pairing with a positive score dominates a phantom one.
const MaxCost = 100

// AcceptFloor is the minimum score for an assignment to be kept. Below it
// a "match" is noise, not signal, and the pair is reported unmatched.
const AcceptFloor = 30

// Pair is one accepted assignment: row i matched to column j with the
// pairing's score.
type Pair struct {
	Row   int
	Col   int
	Score int
}

// Match pairs rows (external records) to columns (ledger entries) from an
// MxN score matrix, maximizing the total score. Scores must be in 0..100.
// Rows and columns left over after padding or scoring below minScore are
// simply absent from the result.
func Match(scores [][]int, minScore int) []Pair {
	m := len(scores)
	if m == 0 {
		return nil
	}
	n := len(scores[0])
	if n == 0 {
		return nil
	}

	size := m
	if n > size {
		size = n
	}

	cost := make([][]int, size)
	for i := range cost {
		cost[i] = make([]int, size)
		for j := range cost[i] {
			if i < m && j < n {
				cost[i][j] = MaxCost - scores[i][j]
			} else {
				cost[i][j] = MaxCost
			}
		}
	}

	assignment := Solve(cost)

	var pairs []Pair
	for i, j := range assignment {
		if i >= m || j >= n {
			continue // padded row or column
		}
		if scores[i][j] < minScore {
			continue
		}
		pairs = append(pairs, Pair{Row: i, Col: j, Score: scores[i][j]})
	}
	return pairs
}

// Solve finds a minimum-cost perfect matching on a square cost matrix and
// returns the assigned column for each row. It is the shortest augmenting
// path formulation of the Hungarian algorithm with row/column potentials.
func Solve(cost [][]int) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}

	const inf = math.MaxInt32

	// Potentials and matching are 1-indexed; p[j] is the row matched to
	// column j, with column 0 as the virtual root of each augmenting path.
	u := make([]int, n+1)
	v := make([]int, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]int, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		// Walk the augmenting path back, flipping the matching.
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	result := make([]int, n)
	for j := 1; j <= n; j++ {
		result[p[j]-1] = j - 1
	}
	return result
}
