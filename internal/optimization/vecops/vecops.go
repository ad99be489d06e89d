// Package vecops provides the vector arithmetic used by the optimizers over
// fixed-length []float64 vectors.
//
// Ops with Workers > 1 splits long vectors into contiguous, disjoint index
// ranges and processes them on a bounded goroutine pool. Elementwise kernels
// are bit-identical to the sequential ones. Reductions (Dot, Norm) sum their
// partial results in chunk order, so they are reproducible for a fixed Ops
// value, but they are not guaranteed to match the sequential result bit for
// bit: the summation order differs, and only closeness within floating-point
// tolerance holds across different worker counts.
package vecops

import (
	"math"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
)

// DefaultMinChunk is the smallest range handed to a worker when
// Ops.MinChunk is zero.
const DefaultMinChunk = 4096

// Ops carries the parallelism settings for vector kernels. The zero value
// runs everything sequentially.
type Ops struct {
	// Workers is the maximum number of goroutines. Values below 2 disable
	// parallel execution.
	Workers int
	// MinChunk is the minimum number of elements per worker.
	MinChunk int
}

// Sequential runs every kernel on the calling goroutine.
var Sequential = Ops{}

// Parallel returns Ops using up to workers goroutines with the default chunk
// size.
func Parallel(workers int) Ops {
	return Ops{Workers: workers, MinChunk: DefaultMinChunk}
}

type span struct{ lo, hi int }

// spans partitions [0,n) into contiguous ranges. It returns nil when the
// work should stay on the calling goroutine.
func (o Ops) spans(n int) []span {
	if o.Workers < 2 {
		return nil
	}
	minChunk := o.MinChunk
	if minChunk <= 0 {
		minChunk = DefaultMinChunk
	}
	if n < 2*minChunk {
		return nil
	}
	size := max((n+o.Workers-1)/o.Workers, minChunk)
	out := make([]span, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		out = append(out, span{lo, min(lo+size, n)})
	}
	return out
}

// each runs f over every span on the worker pool and waits for completion.
func (o Ops) each(spans []span, f func(i int, s span)) {
	p := pool.New().WithMaxGoroutines(o.Workers)
	for i, s := range spans {
		p.Go(func() { f(i, s) })
	}
	p.Wait()
}

// Dot returns a·b.
func (o Ops) Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("vecops: slice lengths do not match")
	}
	spans := o.spans(len(a))
	if spans == nil {
		return floats.Dot(a, b)
	}
	partial := make([]float64, len(spans))
	o.each(spans, func(i int, s span) {
		partial[i] = floats.Dot(a[s.lo:s.hi], b[s.lo:s.hi])
	})
	return floats.Sum(partial)
}

// Norm returns the Euclidean norm of a.
func (o Ops) Norm(a []float64) float64 {
	spans := o.spans(len(a))
	if spans == nil {
		return floats.Norm(a, 2)
	}
	partial := make([]float64, len(spans))
	o.each(spans, func(i int, s span) {
		partial[i] = floats.Norm(a[s.lo:s.hi], 2)
	})
	norm := 0.0
	for _, p := range partial {
		norm = math.Hypot(norm, p)
	}
	return norm
}

// MaxNorm returns max |aᵢ|.
func (o Ops) MaxNorm(a []float64) float64 {
	return floats.Norm(a, math.Inf(1))
}

// AddScaled performs dst += alpha * s.
func (o Ops) AddScaled(dst []float64, alpha float64, s []float64) {
	if len(dst) != len(s) {
		panic("vecops: slice lengths do not match")
	}
	spans := o.spans(len(dst))
	if spans == nil {
		floats.AddScaled(dst, alpha, s)
		return
	}
	o.each(spans, func(_ int, r span) {
		floats.AddScaled(dst[r.lo:r.hi], alpha, s[r.lo:r.hi])
	})
}

// AddScaledTo performs dst = y + alpha * s and returns dst.
func (o Ops) AddScaledTo(dst, y []float64, alpha float64, s []float64) []float64 {
	if len(dst) != len(y) || len(dst) != len(s) {
		panic("vecops: slice lengths do not match")
	}
	spans := o.spans(len(dst))
	if spans == nil {
		return floats.AddScaledTo(dst, y, alpha, s)
	}
	o.each(spans, func(_ int, r span) {
		floats.AddScaledTo(dst[r.lo:r.hi], y[r.lo:r.hi], alpha, s[r.lo:r.hi])
	})
	return dst
}

// SubTo performs dst = a - b and returns dst.
func (o Ops) SubTo(dst, a, b []float64) []float64 {
	if len(dst) != len(a) || len(dst) != len(b) {
		panic("vecops: slice lengths do not match")
	}
	spans := o.spans(len(dst))
	if spans == nil {
		return floats.SubTo(dst, a, b)
	}
	o.each(spans, func(_ int, r span) {
		floats.SubTo(dst[r.lo:r.hi], a[r.lo:r.hi], b[r.lo:r.hi])
	})
	return dst
}

// ScaleTo performs dst = c * s and returns dst.
func (o Ops) ScaleTo(dst []float64, c float64, s []float64) []float64 {
	if len(dst) != len(s) {
		panic("vecops: slice lengths do not match")
	}
	spans := o.spans(len(dst))
	if spans == nil {
		return floats.ScaleTo(dst, c, s)
	}
	o.each(spans, func(_ int, r span) {
		floats.ScaleTo(dst[r.lo:r.hi], c, s[r.lo:r.hi])
	})
	return dst
}

// Scale performs dst *= c.
func (o Ops) Scale(c float64, dst []float64) {
	o.ScaleTo(dst, c, dst)
}

// Finite reports whether every element of v is neither NaN nor infinite.
func Finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Clone returns a copy of v.
func Clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
