// Package optimizationtest holds objectives and assertions shared by the
// optimizer tests.
package optimizationtest

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/minimize/internal/optimization"
)

// ErrInjected is returned by Failing.
var ErrInjected = errors.New("injected objective failure")

// Sphere is f(x) = Σ xᵢ² with gradient 2x.
func Sphere(x []float64) (float64, []float64, error) {
	sum := 0.0
	g := make([]float64, len(x))
	for i, v := range x {
		sum += v * v
		g[i] = 2 * v
	}
	return sum, g, nil
}

// Quadratic returns f(x) = Σ wᵢ (xᵢ - cᵢ)², an ill-conditioned bowl when the
// weights differ by orders of magnitude.
func Quadratic(w, c []float64) optimization.ObjectiveFunc {
	return func(x []float64) (float64, []float64, error) {
		sum := 0.0
		g := make([]float64, len(x))
		for i := range x {
			d := x[i] - c[i]
			sum += w[i] * d * d
			g[i] = 2 * w[i] * d
		}
		return sum, g, nil
	}
}

// Counting wraps an objective and counts its evaluations.
type Counting struct {
	Objective optimization.Objective
	calls     atomic.Int64
}

// Evaluate forwards to the wrapped objective.
func (c *Counting) Evaluate(x []float64) (float64, []float64, error) {
	c.calls.Add(1)
	return c.Objective.Evaluate(x)
}

// Calls returns the number of evaluations so far.
func (c *Counting) Calls() int {
	return int(c.calls.Load())
}

// Failing returns an objective that fails with ErrInjected on call n
// (1-based) and behaves like Sphere before that.
func Failing(n int) optimization.ObjectiveFunc {
	calls := 0
	return func(x []float64) (float64, []float64, error) {
		calls++
		if calls >= n {
			return 0, nil, ErrInjected
		}
		return Sphere(x)
	}
}

// NaNGradientBelow returns Sphere with a NaN gradient component once x[0]
// drops below threshold.
func NaNGradientBelow(threshold float64) optimization.ObjectiveFunc {
	return func(x []float64) (float64, []float64, error) {
		f, g, err := Sphere(x)
		if x[0] < threshold {
			g[0] = math.NaN()
		}
		return f, g, err
	}
}

// RequireInDelta fails the test unless got and want have equal length and
// agree elementwise within tol.
func RequireInDelta(t testing.TB, want, got []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// MaxNorm returns max |vᵢ|.
func MaxNorm(v []float64) float64 {
	return floats.Norm(v, math.Inf(1))
}
