package adam

import (
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/minimize/internal/optimization"
)

// BatchGradient is a gradient that decomposes into per-sample contributions.
type BatchGradient interface {
	// Len returns the number of samples.
	Len() int
	// Gradient writes the sum of the per-sample gradients for the samples
	// in batch, evaluated at x, into dst. dst has len(x) and may hold stale
	// data on entry.
	Gradient(dst, x []float64, batch []int) error
}

// TermGradient returns the gradient contribution of a single sample at x.
type TermGradient func(x []float64) ([]float64, error)

// Terms adapts a slice of per-sample gradient functions to BatchGradient.
type Terms []TermGradient

var _ BatchGradient = Terms(nil)

// Len returns the number of terms.
func (t Terms) Len() int { return len(t) }

// Gradient sums the selected terms.
func (t Terms) Gradient(dst, x []float64, batch []int) error {
	for i := range dst {
		dst[i] = 0
	}
	for _, idx := range batch {
		g, err := t[idx](x)
		if err != nil {
			return err
		}
		if len(g) != len(dst) {
			return optimization.NewErrorf("term %d returned gradient of length %d, want %d", idx, len(g), len(dst)).
				WithKind(optimization.ErrDimensionMismatch).
				WithComponent(component)
		}
		floats.Add(dst, g)
	}
	return nil
}

// Full runs SGD-Adam on an ordinary objective as a single sample, so every
// update uses the exact gradient. Full also reports objective values.
type Full struct {
	optimization.Objective
}

var _ BatchGradient = Full{}

// Len returns 1.
func (Full) Len() int { return 1 }

// Gradient writes the objective gradient at x into dst.
func (f Full) Gradient(dst, x []float64, _ []int) error {
	_, g, err := f.Evaluate(x)
	if err != nil {
		return err
	}
	if len(g) != len(dst) {
		return optimization.NewErrorf("objective returned gradient of length %d, want %d", len(g), len(dst)).
			WithKind(optimization.ErrDimensionMismatch).
			WithComponent(component)
	}
	copy(dst, g)
	return nil
}
