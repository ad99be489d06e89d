package lbfgs

// Pair is one curvature pair: S = xₖ − xₖ₋₁, Y = gₖ − gₖ₋₁ and
// Rho = 1 / (Y·S). The slices belong to the History and must not be modified.
type Pair struct {
	S   []float64
	Y   []float64
	Rho float64
}

// History is a fixed-capacity FIFO of curvature pairs backed by a ring of
// preallocated vectors. Pushing onto a full history overwrites the oldest
// pair, so Len never exceeds Cap and no allocation happens after NewHistory.
type History struct {
	pairs []Pair
	head  int // index of the oldest pair
	size  int
}

// NewHistory allocates room for memory pairs of dimension n.
func NewHistory(memory, n int) *History {
	if memory < 1 {
		panic("lbfgs: history memory must be positive")
	}
	backing := make([]float64, 2*memory*n)
	pairs := make([]Pair, memory)
	for i := range pairs {
		off := 2 * i * n
		pairs[i] = Pair{
			S: backing[off : off+n : off+n],
			Y: backing[off+n : off+2*n : off+2*n],
		}
	}
	return &History{pairs: pairs}
}

// Cap returns the memory depth.
func (h *History) Cap() int { return len(h.pairs) }

// Len returns the number of stored pairs.
func (h *History) Len() int { return h.size }

// At returns the i-th pair, oldest first.
func (h *History) At(i int) Pair {
	if i < 0 || i >= h.size {
		panic("lbfgs: history index out of range")
	}
	return h.pairs[(h.head+i)%len(h.pairs)]
}

// Newest returns the most recently pushed pair. It panics on an empty
// history.
func (h *History) Newest() Pair {
	return h.At(h.size - 1)
}

// Push copies s and y into the history, evicting the oldest pair when full.
func (h *History) Push(s, y []float64, rho float64) {
	var slot int
	if h.size < len(h.pairs) {
		slot = (h.head + h.size) % len(h.pairs)
		h.size++
	} else {
		slot = h.head
		h.head = (h.head + 1) % len(h.pairs)
	}
	p := &h.pairs[slot]
	if len(s) != len(p.S) || len(y) != len(p.Y) {
		panic("lbfgs: curvature pair dimension mismatch")
	}
	copy(p.S, s)
	copy(p.Y, y)
	p.Rho = rho
}

// Reset empties the history without releasing its storage.
func (h *History) Reset() {
	h.head, h.size = 0, 0
}
