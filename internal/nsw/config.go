package nsw

import "fmt"

// Spec defaults for the seven tunable parameters (spec §6).
const (
	DefaultNeighbourhoodSize  = 16
	DefaultSearchSetSize      = 100
	DefaultSearchMaxSteps     = -1
	DefaultAdaptiveStepFactor = 1.5
	DefaultNumEntryPoints     = -1
	DefaultConstructionFactor = 4.0
	DefaultPruningAlpha       = 1.0
)

// SetNeighbourhoodSize sets M, the max degree per node. Legal range: >= 1.
func (ix *Index[T]) SetNeighbourhoodSize(m int) error {
	if ix.started {
		return ErrIndexStarted
	}
	if m < 1 {
		return fmt.Errorf("nsw: neighbourhoodSize must be >= 1, got %d", m)
	}
	ix.neighbourhoodSize = m
	return nil
}

// SetSearchSetSize sets ef, the min result-heap capacity. Legal range: >= 1.
func (ix *Index[T]) SetSearchSetSize(ef int) error {
	if ix.started {
		return ErrIndexStarted
	}
	if ef < 1 {
		return fmt.Errorf("nsw: searchSetSize must be >= 1, got %d", ef)
	}
	ix.searchSetSize = ef
	return nil
}

// SetSearchMaxSteps sets the candidate-pop budget for the graph walk.
// -1 means unbounded, 0 means entry-points-only with no refinement, and any
// positive value is an explicit step cap. Legal range: >= -1.
func (ix *Index[T]) SetSearchMaxSteps(steps int) error {
	if ix.started {
		return ErrIndexStarted
	}
	if steps < -1 {
		return fmt.Errorf("nsw: searchMaxSteps must be >= -1, got %d", steps)
	}
	ix.searchMaxSteps = steps
	return nil
}

// SetAdaptiveStepFactor sets the multiplier on searchSetSize used to derive
// the runtime search budget. Legal range: > 0.
func (ix *Index[T]) SetAdaptiveStepFactor(f float64) error {
	if ix.started {
		return ErrIndexStarted
	}
	if f <= 0 {
		return fmt.Errorf("nsw: adaptiveStepFactor must be > 0, got %v", f)
	}
	ix.adaptiveStepFactor = f
	return nil
}

// SetNumEntryPoints sets the explicit entry-point count. -1 selects
// max(3, sqrt(n)) automatically. Legal values: -1 or >= 1.
func (ix *Index[T]) SetNumEntryPoints(n int) error {
	if ix.started {
		return ErrIndexStarted
	}
	if n != -1 && n < 1 {
		return fmt.Errorf("nsw: numEntryPoints must be -1 or >= 1, got %d", n)
	}
	ix.numEntryPoints = n
	return nil
}

// SetConstructionFactor sets the extra budget multiplier applied during
// insert-time search, on top of adaptiveStepFactor. Legal range: >= 1.0.
func (ix *Index[T]) SetConstructionFactor(f float64) error {
	if ix.started {
		return ErrIndexStarted
	}
	if f < 1.0 {
		return fmt.Errorf("nsw: constructionFactor must be >= 1.0, got %v", f)
	}
	ix.constructionFactor = f
	return nil
}

// SetPruningAlpha sets α, the RNG-rule relaxation factor used by the
// pruner. Larger values keep more diverse (longer-range) edges. Legal
// range: > 0.
func (ix *Index[T]) SetPruningAlpha(alpha float64) error {
	if ix.started {
		return ErrIndexStarted
	}
	if alpha <= 0 {
		return fmt.Errorf("nsw: pruningAlpha must be > 0, got %v", alpha)
	}
	ix.pruningAlpha = alpha
	return nil
}

func (ix *Index[T]) runtimeBudget() int {
	return int(float64(ix.searchSetSize) * ix.adaptiveStepFactor)
}

func (ix *Index[T]) constructionBudget() int {
	return int(float64(ix.searchSetSize) * ix.adaptiveStepFactor * ix.constructionFactor)
}
