// Package linesearch implements a multiplicative Wolfe line search.
//
// The search starts from Config.InitialStep and adjusts the step by
// independent multiplicative factors: it shrinks while the sufficient
// decrease (Armijo) condition fails and grows while the curvature condition
// fails. It does not bracket, so a pathological objective can make it
// oscillate; Config.MaxIterations bounds the number of trials and
// ErrNotConverged reports exhaustion.
package linesearch

import (
	"errors"

	"go.uber.org/zap"

	"github.com/copyleftdev/minimize/internal/optimization"
	"github.com/copyleftdev/minimize/internal/optimization/vecops"
)

const component = "linesearch"

var (
	// ErrNotConverged is returned when MaxIterations trials did not satisfy
	// both Wolfe conditions.
	ErrNotConverged = errors.New("line search did not satisfy the Wolfe conditions")

	// ErrNotDescent is returned when the direction is not a descent
	// direction at x.
	ErrNotDescent = errors.New("search direction is not a descent direction")

	// ErrNonFinite is returned when the objective returns a non-finite
	// gradient at a trial point.
	ErrNonFinite = errors.New("non-finite gradient at trial point")
)

// Config holds the line search constants.
type Config struct {
	// InitialStep is the first trial step size.
	InitialStep float64
	// ShrinkRate multiplies the step by (1 - ShrinkRate) on an Armijo failure.
	ShrinkRate float64
	// GrowRate multiplies the step by (1 + GrowRate) on a curvature failure.
	GrowRate float64
	// Armijo is the sufficient decrease constant c1.
	Armijo float64
	// Curvature is the curvature constant c2.
	Curvature float64
	// MaxIterations bounds the number of trial evaluations.
	MaxIterations int

	// Vec controls parallelism of the vector kernels.
	Vec vecops.Ops
	// Logger receives debug output. Nil disables logging.
	Logger *zap.Logger
}

// DefaultConfig returns the default line search constants.
func DefaultConfig() Config {
	return Config{
		InitialStep:   1.0,
		ShrinkRate:    0.1,
		GrowRate:      0.1,
		Armijo:        0.1,
		Curvature:     0.9,
		MaxIterations: 100,
	}
}

// Validate checks every constant against its documented range.
func (c Config) Validate() error {
	switch {
	case !(c.InitialStep > 0) || !optimization.IsFinite(c.InitialStep):
		return optimization.InvalidConfig(component, "InitialStep", c.InitialStep, "must be positive and finite")
	case !(c.ShrinkRate > 0 && c.ShrinkRate < 1):
		return optimization.InvalidConfig(component, "ShrinkRate", c.ShrinkRate, "must be in (0, 1)")
	case !(c.GrowRate > 0) || !optimization.IsFinite(c.GrowRate):
		return optimization.InvalidConfig(component, "GrowRate", c.GrowRate, "must be positive and finite")
	case !(c.Armijo > 0 && c.Armijo < 1):
		return optimization.InvalidConfig(component, "Armijo", c.Armijo, "must be in (0, 1)")
	case !(c.Curvature > c.Armijo && c.Curvature < 1):
		return optimization.InvalidConfig(component, "Curvature", c.Curvature, "must be in (Armijo, 1)")
	case c.MaxIterations <= 0:
		return optimization.InvalidConfig(component, "MaxIterations", c.MaxIterations, "must be positive")
	}
	return nil
}

// Step is an accepted step size along with the objective evaluated there.
type Step struct {
	Alpha       float64
	F           float64
	Grad        []float64
	Evaluations int
}

// LineSearch finds step sizes satisfying the Wolfe conditions. It is safe
// to reuse across calls but not for concurrent use.
type LineSearch struct {
	cfg    Config
	logger *zap.Logger

	trial []float64
}

// New validates cfg and returns a LineSearch.
func New(cfg Config) (*LineSearch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LineSearch{
		cfg:    cfg,
		logger: logger.Named(component),
	}, nil
}

// MustNew is like New but panics on an invalid configuration.
func MustNew(cfg Config) *LineSearch {
	ls, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return ls
}

// Config returns the validated configuration.
func (ls *LineSearch) Config() Config {
	return ls.cfg
}

// Search looks for a step size alpha along d from x such that
//
//	f(x + alpha·d) ≤ f(x) + c1·alpha·(g·d)
//	c2·(g·d) ≤ g(x + alpha·d)·d
//
// fx and g are f(x) and ∇f(x), already known to the caller. Trials are
// evaluated strictly one after another. On ErrNotConverged the returned Step
// holds the last trial.
func (ls *LineSearch) Search(obj optimization.Objective, x, d []float64, fx float64, g []float64) (Step, error) {
	const op = "Search"

	n := len(x)
	if len(d) != n || len(g) != n {
		return Step{}, optimization.NewErrorf("len(x)=%d, len(d)=%d, len(g)=%d", n, len(d), len(g)).
			WithKind(optimization.ErrDimensionMismatch).
			WithComponent(component).
			WithOperation(op)
	}

	vec := ls.cfg.Vec
	gd := vec.Dot(g, d)
	if !(gd < 0) {
		return Step{}, optimization.WrapErrorf(ErrNotDescent, "g·d = %v", gd).
			WithComponent(component).
			WithOperation(op)
	}

	if cap(ls.trial) < n {
		ls.trial = make([]float64, n)
	}
	trial := ls.trial[:n]

	c1, c2 := ls.cfg.Armijo, ls.cfg.Curvature
	alpha := ls.cfg.InitialStep
	var step Step

	for i := 0; i < ls.cfg.MaxIterations; i++ {
		vec.AddScaledTo(trial, x, alpha, d)

		ft, gt, err := obj.Evaluate(trial)
		step.Evaluations++
		if err != nil {
			return step, optimization.EvaluationFailed(component, err).WithOperation(op)
		}
		if len(gt) != n {
			return step, optimization.NewErrorf("objective returned gradient of length %d, want %d", len(gt), n).
				WithKind(optimization.ErrDimensionMismatch).
				WithComponent(component).
				WithOperation(op)
		}
		step.Alpha, step.F, step.Grad = alpha, ft, gt

		// Armijo. A non-finite trial value counts as a violation.
		if !optimization.IsFinite(ft) || ft > fx+c1*alpha*gd {
			alpha *= 1 - ls.cfg.ShrinkRate
			continue
		}

		if !vecops.Finite(gt) {
			return step, optimization.WrapErrorf(ErrNonFinite, "alpha = %v", alpha).
				WithComponent(component).
				WithOperation(op)
		}

		// Curvature.
		if c2*gd > vec.Dot(gt, d) {
			alpha *= 1 + ls.cfg.GrowRate
			continue
		}

		ls.logger.Debug("Wolfe conditions satisfied",
			zap.Float64("alpha", alpha),
			zap.Float64("f", ft),
			zap.Int("evaluations", step.Evaluations),
		)
		return step, nil
	}

	ls.logger.Debug("line search exhausted its retries",
		zap.Float64("alpha", step.Alpha),
		zap.Int("evaluations", step.Evaluations),
	)
	return step, optimization.WrapErrorf(ErrNotConverged, "%d trials", ls.cfg.MaxIterations).
		WithComponent(component).
		WithOperation(op)
}
