package objectives

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/minimize/internal/optimization"
	"github.com/copyleftdev/minimize/internal/optimization/adam"
)

// LeastSquares is the linear regression loss
//
//	f(x) = 1/(2n) Σ (Aᵢ·x − Bᵢ)²
//
// As an adam.BatchGradient each row is one sample with gradient
// (Aᵢ·x − Bᵢ)·Aᵢ.
type LeastSquares struct {
	A [][]float64
	B []float64
}

var (
	_ optimization.Objective = (*LeastSquares)(nil)
	_ adam.BatchGradient     = (*LeastSquares)(nil)
)

// Validate checks that the rows are consistent.
func (ls *LeastSquares) Validate() error {
	if len(ls.A) == 0 {
		return optimization.NewError("least squares needs at least one row").
			WithKind(optimization.ErrDimensionMismatch)
	}
	if len(ls.A) != len(ls.B) {
		return optimization.NewErrorf("%d rows but %d targets", len(ls.A), len(ls.B)).
			WithKind(optimization.ErrDimensionMismatch)
	}
	dim := len(ls.A[0])
	for i, row := range ls.A {
		if len(row) != dim || dim == 0 {
			return optimization.NewErrorf("row %d has %d columns, want %d", i, len(row), dim).
				WithKind(optimization.ErrDimensionMismatch)
		}
	}
	return nil
}

// Dim returns the number of columns.
func (ls *LeastSquares) Dim() int {
	if len(ls.A) == 0 {
		return 0
	}
	return len(ls.A[0])
}

// Len returns the number of rows.
func (ls *LeastSquares) Len() int { return len(ls.A) }

func (ls *LeastSquares) checkDim(x []float64) error {
	if len(x) != ls.Dim() {
		return optimization.NewErrorf("len(x)=%d, want %d", len(x), ls.Dim()).
			WithKind(optimization.ErrDimensionMismatch)
	}
	return nil
}

// Gradient writes Σ_{i∈batch} (Aᵢ·x − Bᵢ)·Aᵢ into dst.
func (ls *LeastSquares) Gradient(dst, x []float64, batch []int) error {
	if err := ls.checkDim(x); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = 0
	}
	for _, i := range batch {
		r := floats.Dot(ls.A[i], x) - ls.B[i]
		floats.AddScaled(dst, r, ls.A[i])
	}
	return nil
}

// Evaluate returns the mean loss and its gradient.
func (ls *LeastSquares) Evaluate(x []float64) (float64, []float64, error) {
	if err := ls.checkDim(x); err != nil {
		return 0, nil, err
	}
	n := float64(len(ls.A))
	f := 0.0
	g := make([]float64, len(x))
	for i, row := range ls.A {
		r := floats.Dot(row, x) - ls.B[i]
		f += r * r
		floats.AddScaled(g, r/n, row)
	}
	return f / (2 * n), g, nil
}

// SyntheticRegression draws n rows of dim standard normal features, random
// true weights, and targets A·w plus Normal(0, noise) noise. The same seed
// always yields the same problem.
func SyntheticRegression(n, dim int, noise float64, seed uint64) (*LeastSquares, []float64) {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	features := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	weights := distuv.Uniform{Min: -2, Max: 2, Src: src}

	w := make([]float64, dim)
	for j := range w {
		w[j] = weights.Rand()
	}

	ls := &LeastSquares{A: make([][]float64, n), B: make([]float64, n)}
	for i := range ls.A {
		row := make([]float64, dim)
		for j := range row {
			row[j] = features.Rand()
		}
		ls.A[i] = row
		ls.B[i] = floats.Dot(row, w)
		if noise > 0 {
			ls.B[i] += distuv.Normal{Mu: 0, Sigma: noise, Src: src}.Rand()
		}
	}
	return ls, w
}
