package nsw

// Remove detaches value from the graph and heals the neighborhoods of its
// former neighbors so the graph stays well-connected. It returns true if
// value was present, false otherwise. Removal is not retried: if it
// returns true, value and its old edges are gone regardless of how healing
// goes.
func (ix *Index[T]) Remove(value T) bool {
	n, ok := ix.nodes[value]
	if !ok {
		return false
	}

	former := make([]T, 0, len(n.neighbors))
	for nb := range n.neighbors {
		former = append(former, nb)
	}

	ix.removeSlot(value)
	for _, nb := range former {
		if other, ok := ix.nodes[nb]; ok {
			delete(other.neighbors, value)
		}
	}

	ix.heal(former)
	return true
}

// heal runs the removal healing pass (spec §4.6): for each surviving
// former neighbor u, consider every other former neighbor v and add a
// fresh bidirectional edge u<->v as long as u is still under capacity —
// checked before every candidate edge, not just once, so healing fills a
// node all the way to capacity rather than leaving avoidable gaps.
func (ix *Index[T]) heal(former []T) {
	m := ix.neighbourhoodSize
	touched := make(map[T]bool)

	for _, u := range former {
		un, ok := ix.nodes[u]
		if !ok {
			continue
		}
		for _, v := range former {
			if u == v {
				continue
			}
			if len(un.neighbors) >= m {
				break
			}
			if _, exists := un.neighbors[v]; exists {
				continue
			}
			vn, ok := ix.nodes[v]
			if !ok {
				continue
			}
			d := ix.dist(u, v)
			un.neighbors[v] = d
			vn.neighbors[u] = d
			touched[u] = true
			touched[v] = true
		}
	}

	for u := range touched {
		if un, ok := ix.nodes[u]; ok {
			ix.prune(un)
		}
	}
}
