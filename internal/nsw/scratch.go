package nsw

import (
	"container/heap"
	"math"
)

var posInf = math.Inf(1)

// heapItem is a (value, distance) pair used by both priority queues during
// search.
type heapItem[T comparable] struct {
	value T
	dist  float64
}

// candHeap is a min-heap by distance — the frontier of candidates still to
// expand. Mirrors the teacher's maxHeap/minHeap pair, generalized over T.
type candHeap[T comparable] []heapItem[T]

func (h candHeap[T]) Len() int            { return len(h) }
func (h candHeap[T]) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h candHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candHeap[T]) Push(x interface{}) { *h = append(*h, x.(heapItem[T])) }
func (h *candHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// resHeap is a max-heap by distance — the current best-ef result set, with
// the worst element always at the root so it can be evicted in O(log ef).
type resHeap[T comparable] []heapItem[T]

func (h resHeap[T]) Len() int            { return len(h) }
func (h resHeap[T]) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h resHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resHeap[T]) Push(x interface{}) { *h = append(*h, x.(heapItem[T])) }
func (h *resHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// scratch holds every container the search kernel and pruner reuse across
// calls, to keep per-query allocation near the size of the result view
// itself. All fields are cleared (not reallocated) between calls.
type scratch[T comparable] struct {
	visited []bool
	touched []int

	cand candHeap[T]
	res  resHeap[T]

	pruneEntries  []Candidate[T]
	pruneSelected []Candidate[T]
}

func newScratch[T comparable]() *scratch[T] {
	return &scratch[T]{}
}

// ensureVisited grows the visited bitset to at least n slots, preserving
// existing (already-cleared) entries.
func (s *scratch[T]) ensureVisited(n int) {
	if len(s.visited) >= n {
		return
	}
	grown := make([]bool, n)
	copy(grown, s.visited)
	s.visited = grown
}

func (s *scratch[T]) isVisited(slot int) bool {
	return slot < len(s.visited) && s.visited[slot]
}

func (s *scratch[T]) markVisited(slot int) {
	s.visited[slot] = true
	s.touched = append(s.touched, slot)
}

// resetVisited clears only the slots touched since the last reset — O(touched)
// rather than O(n), which matters once the graph is tens of thousands of
// nodes.
func (s *scratch[T]) resetVisited() {
	for _, slot := range s.touched {
		s.visited[slot] = false
	}
	s.touched = s.touched[:0]
}

func (s *scratch[T]) resetForSearch(n int) {
	s.ensureVisited(n)
	s.resetVisited()
	s.cand = s.cand[:0]
	s.res = s.res[:0]
}

func (s *scratch[T]) visitedCount() int {
	return len(s.touched)
}

// pushCandidate pushes v onto the candidate frontier.
func (s *scratch[T]) pushCandidate(v T, d float64) {
	heap.Push(&s.cand, heapItem[T]{value: v, dist: d})
}

func (s *scratch[T]) popCandidate() (heapItem[T], bool) {
	if s.cand.Len() == 0 {
		return heapItem[T]{}, false
	}
	return heap.Pop(&s.cand).(heapItem[T]), true
}

// pushResult inserts (v,d) into the bounded result heap, evicting the worst
// element if it overflows ef, and returns the new worst distance (or +Inf
// if the heap is not yet full).
func (s *scratch[T]) pushResult(v T, d float64, ef int) float64 {
	heap.Push(&s.res, heapItem[T]{value: v, dist: d})
	if s.res.Len() > ef {
		heap.Pop(&s.res)
	}
	return s.worst(ef)
}

func (s *scratch[T]) worst(ef int) float64 {
	if s.res.Len() < ef {
		return posInf
	}
	if s.res.Len() == 0 {
		return posInf
	}
	return s.res[0].dist
}
