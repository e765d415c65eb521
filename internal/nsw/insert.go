package nsw

// Add stores value if it is not already present. It returns true if the
// value was newly stored, false if an equal value already existed (in
// which case the graph is left unmodified). Add returns ErrNilValue for a
// nil pointer/interface/slice/map/chan/func value.
func (ix *Index[T]) Add(value T) (bool, error) {
	if isNil(value) {
		return false, ErrNilValue
	}
	ix.started = true
	ix.ensureScratch()

	if _, exists := ix.nodes[value]; exists {
		return false, nil
	}

	if ix.Size() == 0 {
		n := &node[T]{value: value, neighbors: make(map[T]float64)}
		ix.insertSlot(value, n)
		return true, nil
	}

	m := ix.neighbourhoodSize
	kPrime := min(m+3, ix.Size())
	budget := ix.constructionBudget()
	candidates := ix.search(value, kPrime, budget)
	if len(candidates) > kPrime {
		candidates = candidates[:kPrime]
	}

	n := &node[T]{value: value, neighbors: make(map[T]float64)}
	ix.insertSlot(value, n)

	for i, c := range candidates {
		n.neighbors[c.value] = c.dist
		other := ix.nodes[c.value]
		other.neighbors[value] = c.dist
		// Core neighbors are always re-pruned; an extra is pruned only when
		// the new edge takes it over capacity.
		if i < m || len(other.neighbors) > m {
			ix.prune(other)
		}
	}
	ix.prune(n)

	return true, nil
}
