package nsw

import "sort"

// FindNeighbors returns up to k candidates closest to query, ascending by
// distance. k must be >= 1. An empty index yields an empty Result, not an
// error.
func (ix *Index[T]) FindNeighbors(query T, k int) (Result[T], error) {
	if k < 1 {
		return Result[T]{}, ErrInvalidK
	}
	if ix.Size() == 0 {
		return Result[T]{}, nil
	}

	if n, ok := ix.nodes[query]; ok {
		return ix.exactMatchResult(n, k), nil
	}

	items := ix.search(query, k, ix.runtimeBudget())
	return Result[T]{items: toCandidates(items, k)}, nil
}

// FindNearest is a convenience wrapper for FindNeighbors(query, 1).
func (ix *Index[T]) FindNearest(query T) (Result[T], error) {
	return ix.FindNeighbors(query, 1)
}

// exactMatchResult bypasses the graph walk entirely: the node itself at
// distance 0 plus its cached neighbor edges, sorted ascending.
func (ix *Index[T]) exactMatchResult(n *node[T], k int) Result[T] {
	items := make([]heapItem[T], 0, len(n.neighbors)+1)
	items = append(items, heapItem[T]{value: n.value, dist: 0})
	for v, d := range n.neighbors {
		items = append(items, heapItem[T]{value: v, dist: d})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].dist < items[j].dist })
	return Result[T]{items: toCandidates(items, k)}
}

func toCandidates[T comparable](items []heapItem[T], k int) []Candidate[T] {
	if len(items) > k {
		items = items[:k]
	}
	out := make([]Candidate[T], len(items))
	for i, it := range items {
		out[i] = Candidate[T]{Value: it.value, Distance: it.dist}
	}
	return out
}

// search is the best-first graph-walk kernel shared by FindNeighbors and
// insertion-time construction search. It returns up to max(k, ef)
// candidates sorted ascending by distance; callers truncate to k.
func (ix *Index[T]) search(query T, k, searchLimit int) []heapItem[T] {
	ix.ensureScratch()
	sc := ix.scratch
	n := ix.Size()
	sc.resetForSearch(n)

	ef := max(k, ix.searchSetSize)

	epCount := ix.numEntryPoints
	if epCount <= 0 {
		epCount = max(3, isqrt(n))
	}
	maxEp := searchLimit / 6
	if maxEp < 1 {
		maxEp = 1
	}
	if epCount > maxEp {
		epCount = maxEp
	}
	if epCount > n {
		epCount = n
	}
	step := max(1, n/epCount)

	worst := posInf
	for i := 0; i < epCount; i++ {
		slot := (i * step) % n
		if sc.isVisited(slot) {
			continue
		}
		sc.markVisited(slot)
		v := ix.nodeSlots[slot]
		d := ix.dist(query, v)
		sc.pushCandidate(v, d)
		worst = sc.pushResult(v, d, ef)
	}

	steps := 0
	maxSteps := ix.searchMaxSteps
	if maxSteps != 0 {
		for {
			if maxSteps > 0 && steps >= maxSteps {
				break
			}
			if sc.visitedCount() >= searchLimit {
				break
			}
			c, ok := sc.popCandidate()
			if !ok {
				break
			}
			steps++
			if c.dist > worst {
				break
			}

			nd := ix.nodes[c.value]
			for nb := range nd.neighbors {
				nbSlot, ok := ix.slotOf[nb]
				if !ok || sc.isVisited(nbSlot) {
					continue
				}
				sc.markVisited(nbSlot)
				d := ix.dist(query, nb)
				if d > worst {
					continue
				}
				worst = sc.pushResult(nb, d, ef)
				if d < worst {
					sc.pushCandidate(nb, d)
				}
			}
		}

		ix.refine(query, ef, &worst)
	}

	out := make([]heapItem[T], len(sc.res))
	copy(out, sc.res)
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// refine expands the unvisited neighbors of the top 3 current results with
// a shared budget of 10 fresh distance computations, appending any
// improvements to the result heap.
func (ix *Index[T]) refine(query T, ef int, worst *float64) {
	sc := ix.scratch
	top := make([]heapItem[T], len(sc.res))
	copy(top, sc.res)
	sort.Slice(top, func(i, j int) bool { return top[i].dist < top[j].dist })
	if len(top) > 3 {
		top = top[:3]
	}

	budget := 10
	for _, c := range top {
		if budget <= 0 {
			break
		}
		nd, ok := ix.nodes[c.value]
		if !ok {
			continue
		}
		for nb := range nd.neighbors {
			if budget <= 0 {
				break
			}
			nbSlot, ok := ix.slotOf[nb]
			if !ok || sc.isVisited(nbSlot) {
				continue
			}
			sc.markVisited(nbSlot)
			d := ix.dist(query, nb)
			budget--
			*worst = sc.pushResult(nb, d, ef)
		}
	}
}

// isqrt returns floor(sqrt(n)) for n >= 0 without pulling in math for an
// integer-only caller.
func isqrt(n int) int {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
