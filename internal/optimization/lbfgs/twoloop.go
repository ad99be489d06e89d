package lbfgs

import (
	"github.com/copyleftdev/minimize/internal/optimization/vecops"
)

// TwoLoop writes the L-BFGS descent direction d = −H·g into dst and returns
// it, where H is the inverse Hessian approximation implied by h. With an
// empty history d is exactly −g. dst must not alias g.
func TwoLoop(dst, g []float64, h *History) []float64 {
	return twoLoop(vecops.Sequential, dst, g, h, make([]float64, h.Len()))
}

// twoLoop is TwoLoop with caller-owned scratch: alpha needs h.Len() entries.
func twoLoop(vec vecops.Ops, dst, g []float64, h *History, alpha []float64) []float64 {
	if len(dst) != len(g) {
		panic("lbfgs: direction dimension mismatch")
	}
	m := h.Len()

	// q ← g, kept in dst.
	q := dst
	copy(q, g)

	// Newest to oldest.
	for i := m - 1; i >= 0; i-- {
		p := h.At(i)
		alpha[i] = p.Rho * vec.Dot(p.S, q)
		vec.AddScaled(q, -alpha[i], p.Y)
	}

	gamma := 1.0
	if m > 0 {
		p := h.Newest()
		gamma = vec.Dot(p.S, p.Y) / vec.Dot(p.Y, p.Y)
	}
	z := q
	vec.Scale(gamma, z)

	// Oldest to newest.
	for i := 0; i < m; i++ {
		p := h.At(i)
		beta := p.Rho * vec.Dot(p.Y, z)
		vec.AddScaled(z, alpha[i]-beta, p.S)
	}

	vec.Scale(-1, z)
	return z
}
