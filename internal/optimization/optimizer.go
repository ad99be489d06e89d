package optimization

import (
	"context"
	"math"
)

// Objective is the capability every minimizer consumes. Evaluate returns the
// objective value and its gradient at x. Implementations must not retain or
// modify x, and must return a gradient of len(x).
type Objective interface {
	Evaluate(x []float64) (float64, []float64, error)
}

// ObjectiveFunc adapts an ordinary function to the Objective interface.
type ObjectiveFunc func(x []float64) (float64, []float64, error)

// Evaluate calls f(x).
func (f ObjectiveFunc) Evaluate(x []float64) (float64, []float64, error) {
	return f(x)
}

// Minimizer is implemented by the drivers that search over a value/gradient
// objective.
type Minimizer interface {
	// Minimize runs the optimization from x0. The context is checked between
	// iterations only; an in-flight objective evaluation is never interrupted.
	Minimize(ctx context.Context, x0 []float64, obj Objective) (*Result, error)
}

// Result contains the outcome of a minimization run. X is valid whatever the
// status, but only a converged status means it is a minimizer.
type Result struct {
	// X is the final position.
	X []float64
	// F is the objective value at the last evaluated point, NaN if unknown.
	F float64
	// Status is the reason the run stopped.
	Status Status
	// Iterations is the number of accepted steps.
	Iterations int
	// Evaluations counts objective (or gradient) calls made by the run.
	Evaluations int
}

// Converged reports whether the run ended in a converged state.
func (r *Result) Converged() bool {
	return r != nil && r.Status.Converged()
}

// Progress is a read-only snapshot handed to observers once per accepted
// iteration. The slices are copies owned by the observer.
type Progress struct {
	X         []float64
	F         float64
	Gradient  []float64
	Step      []float64
	DeltaF    float64
	Iteration int
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
