// Package lbfgs implements the limited-memory BFGS quasi-Newton method for
// smooth unconstrained minimization.
//
// Each iteration evaluates the objective at the current point, tests the
// stopping criteria, folds the newest curvature pair into a bounded history,
// builds a direction with the two-loop recursion and then takes a step chosen
// by a Wolfe line search.
package lbfgs

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/minimize/internal/optimization"
	"github.com/copyleftdev/minimize/internal/optimization/linesearch"
	"github.com/copyleftdev/minimize/internal/optimization/vecops"
)

const component = "lbfgs"

// Config holds the L-BFGS hyperparameters.
type Config struct {
	// Memory is the number of curvature pairs kept.
	Memory int
	// Delta is the relative objective change below which the run stops.
	Delta float64
	// Epsilon is the gradient norm tolerance.
	Epsilon float64
	// RelativeEpsilon scales Epsilon by max(1, ‖x‖).
	RelativeEpsilon bool
	// MaxIterations caps the iteration counter. Zero means unbounded.
	MaxIterations int

	// LineSearch configures the Wolfe line search. A zero Vec or nil Logger
	// is inherited from this Config.
	LineSearch linesearch.Config

	// Progress, if set, is called once per accepted step.
	Progress func(optimization.Progress)

	// Vec controls parallelism of the vector kernels.
	Vec vecops.Ops
	// Logger receives run diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// DefaultConfig returns the default hyperparameters.
func DefaultConfig() Config {
	return Config{
		Memory:          8,
		Delta:           1e-6,
		Epsilon:         1e-6,
		RelativeEpsilon: true,
		MaxIterations:   0,
		LineSearch:      linesearch.DefaultConfig(),
	}
}

// Validate checks every hyperparameter against its documented range.
func (c Config) Validate() error {
	switch {
	case c.Memory < 1:
		return optimization.InvalidConfig(component, "Memory", c.Memory, "must be at least 1")
	case !(c.Delta > 0) || !optimization.IsFinite(c.Delta):
		return optimization.InvalidConfig(component, "Delta", c.Delta, "must be positive and finite")
	case !(c.Epsilon > 0) || !optimization.IsFinite(c.Epsilon):
		return optimization.InvalidConfig(component, "Epsilon", c.Epsilon, "must be positive and finite")
	case c.MaxIterations < 0:
		return optimization.InvalidConfig(component, "MaxIterations", c.MaxIterations, "must not be negative")
	}
	return c.LineSearch.Validate()
}

// Optimizer is an L-BFGS minimizer. It holds no per-run state, so one
// Optimizer may serve concurrent Minimize calls.
type Optimizer struct {
	cfg    Config
	logger *zap.Logger
}

var _ optimization.Minimizer = (*Optimizer)(nil)

// New validates cfg and returns an Optimizer.
func New(cfg Config) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LineSearch.Logger == nil {
		cfg.LineSearch.Logger = logger
	}
	if cfg.LineSearch.Vec == (vecops.Ops{}) {
		cfg.LineSearch.Vec = cfg.Vec
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
	vec  vecops.Ops
	hist *History

	x, xPrev, gPrev []float64
	d, s, y, dx     []float64
	alpha           []float64
	fPrev           float64
}

func newRun(cfg Config, x0 []float64) *run {
	n := len(x0)
	return &run{
		vec:   cfg.Vec,
		hist:  NewHistory(cfg.Memory, n),
		x:     vecops.Clone(x0),
		xPrev: vecops.Clone(x0),
		gPrev: make([]float64, n),
		d:     make([]float64, n),
		s:     make([]float64, n),
		y:     make([]float64, n),
		dx:    make([]float64, n),
		alpha: make([]float64, cfg.Memory),
		fPrev: math.Inf(1),
	}
}

// Minimize runs L-BFGS from x0. The returned Result carries the stopping
// status; an error is returned only for an invalid input, a failing objective
// or a cancelled context, in which case the Result is nil.
func (o *Optimizer) Minimize(ctx context.Context, x0 []float64, obj optimization.Objective) (*optimization.Result, error) {
	const op = "Minimize"

	n := len(x0)
	if n == 0 {
		return nil, optimization.NewError("x0 must not be empty").
			WithKind(optimization.ErrDimensionMismatch).
			WithComponent(component).
			WithOperation(op)
	}

	ls, err := linesearch.New(o.cfg.LineSearch)
	if err != nil {
		return nil, err
	}

	r := newRun(o.cfg, x0)
	vec := r.vec
	res := &optimization.Result{F: math.NaN()}

	for k := 1; ; k++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		f, g, err := obj.Evaluate(r.x)
		res.Evaluations++
		if err != nil {
			return nil, optimization.EvaluationFailed(component, err).WithOperation(op)
		}
		if len(g) != n {
			return nil, optimization.NewErrorf("objective returned gradient of length %d, want %d", len(g), n).
				WithKind(optimization.ErrDimensionMismatch).
				WithComponent(component).
				WithOperation(op)
		}
		res.F = f

		if !optimization.IsFinite(f) || !vecops.Finite(g) {
			res.Status = optimization.NonFinite
			break
		}

		if o.cfg.MaxIterations > 0 && k >= o.cfg.MaxIterations {
			res.Status = optimization.MaxIterReached
			break
		}

		deltaF := f - r.fPrev
		if o.deltaConverged(f, deltaF) {
			res.Status = optimization.DeltaConverged
			break
		}

		gnorm := vec.Norm(g)
		if gnorm < o.epsilon(vec.Norm(r.x)) {
			res.Status = optimization.EpsilonConverged
			break
		}

		// The first iteration has no previous point; its step is steepest
		// descent.
		if k > 1 {
			vec.SubTo(r.s, r.x, r.xPrev)
			vec.SubTo(r.y, g, r.gPrev)
			ys := vec.Dot(r.y, r.s)
			rho := 1 / ys
			if !(ys > 0) || !optimization.IsFinite(rho) {
				if r.hist.Len() == 0 {
					o.logger.Debug("first curvature pair carries no information",
						zap.Int("iteration", k),
						zap.Float64("ys", ys),
					)
					res.Status = optimization.DeltaConverged
					break
				}
				o.logger.Debug("skipping degenerate curvature pair",
					zap.Int("iteration", k),
					zap.Float64("ys", ys),
				)
			} else {
				r.hist.Push(r.s, r.y, rho)
			}
		}

		twoLoop(vec, r.d, g, r.hist, r.alpha)

		step, err := ls.Search(obj, r.x, r.d, f, g)
		res.Evaluations += step.Evaluations
		if err != nil {
			switch {
			case errors.Is(err, linesearch.ErrNonFinite):
				res.Status = optimization.NonFinite
			case errors.Is(err, linesearch.ErrNotConverged), errors.Is(err, linesearch.ErrNotDescent):
				res.Status = optimization.LineSearchFailed
			default:
				return nil, err
			}
			o.logger.Debug("line search stopped the run",
				zap.Int("iteration", k),
				zap.Error(err),
			)
			break
		}

		vec.ScaleTo(r.dx, step.Alpha, r.d)
		if !vecops.Finite(r.dx) {
			res.Status = optimization.NonFinite
			break
		}

		o.logger.Debug("iteration",
			zap.Int("k", k),
			zap.Float64("f", f),
			zap.Float64("gnorm", gnorm),
			zap.Float64("alpha", step.Alpha),
			zap.Int("history", r.hist.Len()),
		)
		if o.cfg.Progress != nil {
			o.cfg.Progress(optimization.Progress{
				X:         vecops.Clone(r.x),
				F:         f,
				Gradient:  vecops.Clone(g),
				Step:      vecops.Clone(r.dx),
				DeltaF:    deltaF,
				Iteration: k,
			})
		}

		copy(r.xPrev, r.x)
		copy(r.gPrev, g)
		r.fPrev = f
		// Same expression the line search used for its trial point, so the
		// next evaluation lands exactly where the step was accepted.
		vec.AddScaledTo(r.x, r.xPrev, step.Alpha, r.d)
		res.Iterations++
	}

	res.X = r.x
	o.logger.Info("L-BFGS finished",
		zap.Stringer("status", res.Status),
		zap.Int("iterations", res.Iterations),
		zap.Int("evaluations", res.Evaluations),
		zap.Float64("f", res.F),
	)
	return res, nil
}

// deltaConverged reports whether the relative objective change is below
// Delta. At f == 0 the absolute change is used instead.
func (o *Optimizer) deltaConverged(f, deltaF float64) bool {
	if math.IsInf(deltaF, 0) {
		return false
	}
	if f == 0 {
		return math.Abs(deltaF) < o.cfg.Delta
	}
	return math.Abs(deltaF)/math.Abs(f) < o.cfg.Delta
}

func (o *Optimizer) epsilon(xnorm float64) float64 {
	if o.cfg.RelativeEpsilon {
		return o.cfg.Epsilon * math.Max(1, xnorm)
	}
	return o.cfg.Epsilon
}
