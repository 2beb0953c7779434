package assign

import "ap-reconciliation-engine/internal/models"

// solveHungarian computes a minimum-cost assignment over the eligible
// pairs using the Hungarian algorithm with potentials. Profit is the
// pair score; the matrix is padded to square with zero-profit cells so
// leaving a transaction unmatched is always representable. A secondary
// index term breaks cost ties in (source, target) order so dense and
// greedy solves agree on tie handling.
func solveHungarian(numSources, numTargets int, eligible []scoredPair) []scoredPair {
	n := numSources
	if numTargets > n {
		n = numTargets
	}
	if n == 0 {
		return nil
	}

	byCell := make(map[[2]int]scoredPair, len(eligible))
	for _, p := range eligible {
		byCell[[2]int{p.sourceIdx, p.targetIdx}] = p
	}

	// Tie-break scale: must dominate the largest possible sum of index
	// terms across a full assignment.
	scale := int64(n)*int64(n)*int64(n) + 1

	cost := make([][]int64, n)
	for i := range cost {
		cost[i] = make([]int64, n)
		for j := range cost[i] {
			base := int64(models.ScoreCap) // profit 0 for dummy or ineligible cells
			tie := int64(n) * int64(n)     // dummy cells tie-break last
			if p, ok := byCell[[2]int{i, j}]; ok {
				base = int64(models.ScoreCap - p.breakdown.Total)
				tie = int64(i)*int64(n) + int64(j)
			}
			cost[i][j] = base*scale + tie
		}
	}

	assignment := hungarianMinCost(cost)

	var chosen []scoredPair
	for i, j := range assignment {
		if p, ok := byCell[[2]int{i, j}]; ok {
			chosen = append(chosen, p)
		}
	}
	return chosen
}

// hungarianMinCost solves the square min-cost assignment problem in
// O(n^3) using row/column potentials. Returns the assigned column for
// each row.
func hungarianMinCost(cost [][]int64) []int {
	n := len(cost)
	const inf = int64(1) << 62

	u := make([]int64, n+1)
	v := make([]int64, n+1)
	p := make([]int, n+1)   // p[j] = row assigned to column j (1-based)
	way := make([]int, n+1) // alternating path back-pointers

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]int64, n+1)
		used := make([]bool, n+1)
		for j := 0; j <= n; j++ {
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

		// Augment along the alternating path
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	assignment := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			assignment[p[j]-1] = j - 1
		}
	}
	return assignment
}
