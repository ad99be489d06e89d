// Package numdiff estimates gradients of scalar-only objectives by central
// differences.
package numdiff

import (
	"math"

	"github.com/copyleftdev/minimize/internal/optimization"
)

const component = "numdiff"

// DefaultStep is the relative step used by Objective when none is given.
const DefaultStep = 1e-6

// ScalarFunc is an objective that only exposes its value.
type ScalarFunc func(x []float64) (float64, error)

// Gradient estimates ∇f(x) coordinate by coordinate with
//
//	(f(x + hᵢeᵢ) − f(x − hᵢeᵢ)) / 2hᵢ
//
// where hᵢ = h·|xᵢ| when xᵢ ≠ 0 and hᵢ = h otherwise. It costs 2·len(x)
// evaluations of f. The truncation error is O(h²); round-off grows as h
// shrinks. x is not modified.
func Gradient(f ScalarFunc, x []float64, h float64) ([]float64, error) {
	if err := validateStep(h); err != nil {
		return nil, err
	}
	dst := make([]float64, len(x))
	if err := gradientTo(dst, f, x, h); err != nil {
		return nil, err
	}
	return dst, nil
}

func gradientTo(dst []float64, f ScalarFunc, x []float64, h float64) error {
	probe := append([]float64(nil), x...)
	for i, xi := range x {
		hi := h
		if xi != 0 {
			hi = h * math.Abs(xi)
		}

		probe[i] = xi + hi
		fPlus, err := f(probe)
		if err != nil {
			return optimization.EvaluationFailed(component, err).WithOperation("Gradient")
		}

		probe[i] = xi - hi
		fMinus, err := f(probe)
		if err != nil {
			return optimization.EvaluationFailed(component, err).WithOperation("Gradient")
		}

		probe[i] = xi
		dst[i] = (fPlus - fMinus) / (2 * hi)
	}
	return nil
}

func validateStep(h float64) error {
	if !(h > 0) || !optimization.IsFinite(h) {
		return optimization.InvalidConfig(component, "h", h, "must be positive and finite")
	}
	return nil
}

// Objective adapts a scalar function into an optimization.Objective whose
// gradient is estimated numerically with step h.
func Objective(f ScalarFunc, h float64) (optimization.Objective, error) {
	if err := validateStep(h); err != nil {
		return nil, err
	}
	return optimization.ObjectiveFunc(func(x []float64) (float64, []float64, error) {
		fx, err := f(x)
		if err != nil {
			return 0, nil, optimization.EvaluationFailed(component, err).WithOperation("Objective")
		}
		g := make([]float64, len(x))
		if err := gradientTo(g, f, x, h); err != nil {
			return 0, nil, err
		}
		return fx, g, nil
	}), nil
}

// MustObjective is like Objective but panics on an invalid step.
func MustObjective(f ScalarFunc, h float64) optimization.Objective {
	obj, err := Objective(f, h)
	if err != nil {
		panic(err)
	}
	return obj
}
