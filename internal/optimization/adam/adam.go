// Package adam implements minibatch stochastic gradient descent with the
// Adam update rule.
//
// Every epoch first checks the full gradient for convergence, then shuffles
// the sample indices with a seeded generator, splits them into contiguous
// minibatches and applies one Adam update per minibatch:
//
//	m = β₁·m + (1−β₁)·g
//	v = β₂·v + (1−β₂)·g²
//	x = x − α·m̂ / (√v̂ + e),  m̂ = m/(1−β₁ᵗ),  v̂ = v/(1−β₂ᵗ)
//
// t counts minibatch updates, so the bias correction matches the number of
// moment updates actually applied. Two runs with the same seed, start and
// gradient source visit identical minibatches and end at identical points.
package adam

import (
	"context"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/copyleftdev/minimize/internal/optimization"
	"github.com/copyleftdev/minimize/internal/optimization/vecops"
)

const component = "adam"

// Config holds the Adam hyperparameters.
type Config struct {
	// Epsilon is the full-gradient norm tolerance.
	Epsilon float64
	// RelativeEpsilon scales Epsilon by max(1, ‖x‖).
	RelativeEpsilon bool
	// MaxIterations caps the number of epochs. Zero means unbounded.
	MaxIterations int

	// Alpha is the base step size.
	Alpha float64
	// Beta1 is the decay rate of the first moment.
	Beta1 float64
	// Beta2 is the decay rate of the second moment.
	Beta2 float64
	// E keeps the update finite when the second moment vanishes.
	E float64

	// BatchSize is the number of samples per minibatch; the last minibatch
	// of an epoch may be smaller.
	BatchSize int
	// Average divides each batch gradient by the batch size.
	Average bool
	// Seed drives the shuffle.
	Seed uint64

	// Progress, if set, is called after every completed epoch.
	Progress func(EpochProgress)

	Vec    vecops.Ops
	Logger *zap.Logger
}

// EpochProgress is the snapshot handed to Config.Progress. X is a copy.
type EpochProgress struct {
	Epoch    int
	X        []float64
	GradNorm float64
	Step     int
}

// DefaultConfig returns the default hyperparameters.
func DefaultConfig() Config {
	return Config{
		Epsilon:         1e-6,
		RelativeEpsilon: true,
		MaxIterations:   0,
		Alpha:           1e-3,
		Beta1:           0.9,
		Beta2:           0.999,
		E:               1e-8,
		BatchSize:       32,
		Average:         true,
		Seed:            1,
	}
}

func positive(v float64) bool {
	return v > 0 && optimization.IsFinite(v)
}

// Validate checks every hyperparameter against its documented range.
func (c Config) Validate() error {
	switch {
	case !positive(c.Epsilon):
		return optimization.InvalidConfig(component, "Epsilon", c.Epsilon, "must be positive and finite")
	case c.MaxIterations < 0:
		return optimization.InvalidConfig(component, "MaxIterations", c.MaxIterations, "must not be negative")
	case !positive(c.Alpha):
		return optimization.InvalidConfig(component, "Alpha", c.Alpha, "must be positive and finite")
	case !(c.Beta1 > 0 && c.Beta1 < 1):
		return optimization.InvalidConfig(component, "Beta1", c.Beta1, "must be in (0, 1)")
	case !(c.Beta2 > 0 && c.Beta2 < 1):
		return optimization.InvalidConfig(component, "Beta2", c.Beta2, "must be in (0, 1)")
	case !positive(c.E):
		return optimization.InvalidConfig(component, "E", c.E, "must be positive and finite")
	case c.BatchSize < 1:
		return optimization.InvalidConfig(component, "BatchSize", c.BatchSize, "must be at least 1")
	}
	return nil
}

// Optimizer runs SGD-Adam. Each Minimize call owns its moments and random
// generator, so an Optimizer may serve concurrent runs.
type Optimizer struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns an Optimizer.
func New(cfg Config) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		cfg:    cfg,
		logger: logger.Named(component),
	}, nil
}

// MustNew is like New but panics on an invalid configuration.
func MustNew(cfg Config) *Optimizer {
	o, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return o
}

// Config returns the validated configuration.
func (o *Optimizer) Config() Config {
	return o.cfg
}

// run is the state of one Minimize call.
type run struct {
	cfg Config
	rng *rand.Rand

	x, m, v, g []float64
	order      []int
	t          int
	evals      int
}

func newRun(cfg Config, x0 []float64, samples int) *run {
	n := len(x0)
	order := make([]int, samples)
	for i := range order {
		order[i] = i
	}
	return &run{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
		x:     vecops.Clone(x0),
		m:     make([]float64, n),
		v:     make([]float64, n),
		g:     make([]float64, n),
		order: order,
	}
}

// gradient evaluates the source over batch into r.g.
func (r *run) gradient(src BatchGradient, batch []int) error {
	r.evals++
	if err := src.Gradient(r.g, r.x, batch); err != nil {
		return err
	}
	if r.cfg.Average {
		r.cfg.Vec.Scale(1/float64(len(batch)), r.g)
	}
	return nil
}

// step applies one Adam update with the gradient in r.g.
func (r *run) step() {
	r.t++
	b1, b2 := r.cfg.Beta1, r.cfg.Beta2
	bc1 := 1 - math.Pow(b1, float64(r.t))
	bc2 := 1 - math.Pow(b2, float64(r.t))

	for i, gi := range r.g {
		r.m[i] = b1*r.m[i] + (1-b1)*gi
		r.v[i] = b2*r.v[i] + (1-b2)*gi*gi

		mHat := r.m[i] / bc1
		vHat := r.v[i] / bc2
		r.x[i] -= r.cfg.Alpha * mHat / (math.Sqrt(vHat) + r.cfg.E)
	}
}

// Minimize runs SGD-Adam from x0 over the samples of src. The context is
// checked between epochs. If src also implements optimization.Objective,
// Result.F holds its value at the final point; otherwise F is NaN.
func (o *Optimizer) Minimize(ctx context.Context, x0 []float64, src BatchGradient) (*optimization.Result, error) {
	const op = "Minimize"

	if len(x0) == 0 {
		return nil, optimization.NewError("x0 must not be empty").
			WithKind(optimization.ErrDimensionMismatch).
			WithComponent(component).
			WithOperation(op)
	}
	samples := src.Len()
	if samples < 1 {
		return nil, optimization.NewError("gradient source has no samples").
			WithKind(optimization.ErrDimensionMismatch).
			WithComponent(component).
			WithOperation(op)
	}

	r := newRun(o.cfg, x0, samples)
	vec := o.cfg.Vec
	res := &optimization.Result{F: math.NaN()}

	for epoch := 0; ; epoch++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if o.cfg.MaxIterations > 0 && epoch >= o.cfg.MaxIterations {
			res.Status = optimization.MaxIterReached
			break
		}

		if err := r.gradient(src, r.order); err != nil {
			return nil, optimization.EvaluationFailed(component, err).WithOperation(op)
		}
		gnorm := vec.Norm(r.g)
		if !optimization.IsFinite(gnorm) {
			res.Status = optimization.NonFinite
			break
		}
		if gnorm < o.epsilon(vec.Norm(r.x)) {
			res.Status = optimization.EpsilonConverged
			break
		}

		r.rng.Shuffle(samples, func(i, j int) {
			r.order[i], r.order[j] = r.order[j], r.order[i]
		})

		nonFinite := false
		for off := 0; off < samples; off += o.cfg.BatchSize {
			end := min(off+o.cfg.BatchSize, samples)
			if err := r.gradient(src, r.order[off:end]); err != nil {
				return nil, optimization.EvaluationFailed(component, err).WithOperation(op)
			}
			r.step()
			if !optimization.IsFinite(vec.Norm(r.x)) {
				nonFinite = true
				break
			}
		}
		if nonFinite {
			o.logger.Debug("non-finite position",
				zap.Int("epoch", epoch),
				zap.Int("step", r.t),
			)
			res.Status = optimization.NonFinite
			break
		}

		res.Iterations++
		o.logger.Debug("epoch",
			zap.Int("epoch", epoch),
			zap.Float64("gnorm", gnorm),
			zap.Int("step", r.t),
		)
		if o.cfg.Progress != nil {
			o.cfg.Progress(EpochProgress{
				Epoch:    epoch,
				X:        vecops.Clone(r.x),
				GradNorm: gnorm,
				Step:     r.t,
			})
		}
	}

	res.X = r.x
	res.Evaluations = r.evals
	if obj, ok := src.(optimization.Objective); ok && res.Status != optimization.NonFinite {
		f, _, err := obj.Evaluate(r.x)
		res.Evaluations++
		if err != nil {
			return nil, optimization.EvaluationFailed(component, err).WithOperation(op)
		}
		res.F = f
	}

	o.logger.Info("SGD-Adam finished",
		zap.Stringer("status", res.Status),
		zap.Int("epochs", res.Iterations),
		zap.Int("updates", r.t),
		zap.Int("evaluations", res.Evaluations),
	)
	return res, nil
}

func (o *Optimizer) epsilon(xnorm float64) float64 {
	if o.cfg.RelativeEpsilon {
		return o.cfg.Epsilon * math.Max(1, xnorm)
	}
	return o.cfg.Epsilon
}
