package nsw

import "sort"

// pruneCheckLimit bounds how many already-selected neighbors a candidate is
// tested against (spec §4.5). pruneFreshBudget bounds the number of
// uncached distance computations the whole pruning call may perform.
// Deviating from either measurably worsens recall in the reference tuning.
const (
	pruneCheckLimit  = 10
	pruneFreshBudget = 30
)

// prune rewrites n's neighbor map in place to an α-RNG-diverse set of at
// most neighbourhoodSize entries, dropping the reverse edge on every
// neighbor it does not keep. Safe to call on a node at or under capacity —
// the top-up step (3) restores the full set when nothing was genuinely
// dominated.
func (ix *Index[T]) prune(n *node[T]) {
	if len(n.neighbors) == 0 {
		return
	}
	m := ix.neighbourhoodSize

	entries := ix.scratch.pruneEntries[:0]
	for v, d := range n.neighbors {
		entries = append(entries, Candidate[T]{Value: v, Distance: d})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Distance < entries[j].Distance })
	ix.scratch.pruneEntries = entries

	selected := ix.scratch.pruneSelected[:0]
	selectedSet := make(map[T]bool, m)
	freshBudget := pruneFreshBudget

	for _, cand := range entries {
		if len(selected) >= m {
			break
		}
		limit := min(len(selected), pruneCheckLimit)
		rejected := false
		for i := 0; i < limit; i++ {
			e := selected[i]
			dEC, known := ix.cachedOrFreshDistance(e.Value, cand.Value, &freshBudget)
			if !known {
				continue // budget exhausted: treat as "does not disqualify"
			}
			if dEC*ix.pruningAlpha < cand.Distance {
				rejected = true
				break
			}
		}
		if !rejected {
			selected = append(selected, cand)
			selectedSet[cand.Value] = true
		}
	}

	if len(selected) < m {
		for _, cand := range entries {
			if len(selected) >= m {
				break
			}
			if selectedSet[cand.Value] {
				continue
			}
			selected = append(selected, cand)
			selectedSet[cand.Value] = true
		}
	}
	ix.scratch.pruneSelected = selected

	for _, cand := range entries {
		if selectedSet[cand.Value] {
			continue
		}
		if other, ok := ix.nodes[cand.Value]; ok {
			delete(other.neighbors, n.value)
		}
	}

	newNeighbors := make(map[T]float64, len(selected))
	for _, e := range selected {
		newNeighbors[e.Value] = e.Distance
	}
	n.neighbors = newNeighbors
}

// cachedOrFreshDistance resolves the distance between a and b from a's
// cache, then b's cache, then — if the shared fresh-distance budget allows —
// a live computation. Returns ok=false only when all three are exhausted.
func (ix *Index[T]) cachedOrFreshDistance(a, b T, freshBudget *int) (float64, bool) {
	if an, ok := ix.nodes[a]; ok {
		if d, ok := an.neighbors[b]; ok {
			return d, true
		}
	}
	if bn, ok := ix.nodes[b]; ok {
		if d, ok := bn.neighbors[a]; ok {
			return d, true
		}
	}
	if *freshBudget <= 0 {
		return 0, false
	}
	*freshBudget--
	return ix.dist(a, b), true
}
