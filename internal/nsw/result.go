package nsw

import "math"

// Candidate is one scored value in a Result, or a transient entry inside
// the search kernel.
type Candidate[T comparable] struct {
	Value    T
	Distance float64
}

// Result is an ordered, lazy view over the candidates a query returned —
// ascending by distance.
type Result[T comparable] struct {
	items []Candidate[T]
}

// Nearest returns the full ordered sequence of candidates.
func (r Result[T]) Nearest() []Candidate[T] {
	return r.items
}

// Len returns the number of candidates in the result.
func (r Result[T]) Len() int {
	return len(r.items)
}

// Closest returns the first (nearest) value. It errors if the result is
// empty.
func (r Result[T]) Closest() (T, error) {
	var zero T
	if len(r.items) == 0 {
		return zero, ErrEmptyResult
	}
	return r.items[0].Value, nil
}

// Distance returns the first (nearest) candidate's distance, or NaN if the
// result is empty.
func (r Result[T]) Distance() float64 {
	if len(r.items) == 0 {
		return math.NaN()
	}
	return r.items[0].Distance
}
