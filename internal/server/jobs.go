package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/minimize/internal/objectives"
	"github.com/copyleftdev/minimize/internal/optimization"
	"github.com/copyleftdev/minimize/internal/optimization/adam"
	"github.com/copyleftdev/minimize/internal/optimization/lbfgs"
	"github.com/copyleftdev/minimize/internal/optimization/vecops"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Minimization methods.
const (
	MethodLBFGS = "lbfgs"
	MethodAdam  = "adam"
)

// LeastSquaresObjective is the objective name for jobs that carry samples.
const LeastSquaresObjective = "least_squares"

// JobRequest describes a minimization job.
type JobRequest struct {
	// Method is "lbfgs" or "adam".
	Method string `json:"method"`
	// Objective is a name known to objectives.Lookup or "least_squares".
	Objective string `json:"objective"`
	// X0 is the starting point.
	X0 []float64 `json:"x0"`
	// MaxIter overrides the configured iteration (or epoch) limit.
	MaxIter *int `json:"max_iter,omitempty"`
	// BatchSize overrides the Adam minibatch size.
	BatchSize int `json:"batch_size,omitempty"`
	// Seed overrides the Adam shuffle seed.
	Seed *uint64 `json:"seed,omitempty"`
	// Samples holds least-squares rows as [a₁, …, aₙ, b].
	Samples [][]float64 `json:"samples,omitempty"`
}

// OptimizationState represents the state of an optimization job.
// Fields are guarded by the server's optimizationsMu.
type OptimizationState struct {
	ID          string
	Request     JobRequest
	Status      string // "pending", "running", "completed", "failed", "cancelled"
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Iteration   int
	Result      *optimization.Result
	Err         string
	CancelFunc  context.CancelFunc
}

// job is a validated request ready to run.
type job struct {
	method string
	x0     []float64
	obj    optimization.Objective
	src    adam.BatchGradient
	lbfgs  lbfgs.Config
	adam   adam.Config
}

var errInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, fmt.Sprintf(format, args...))
}

// leastSquares splits sample rows into a least-squares problem.
func leastSquares(samples [][]float64) (*objectives.LeastSquares, error) {
	ls := &objectives.LeastSquares{
		A: make([][]float64, len(samples)),
		B: make([]float64, len(samples)),
	}
	for i, row := range samples {
		if len(row) < 2 {
			return nil, invalid("sample %d needs at least one feature and a target", i)
		}
		ls.A[i] = row[:len(row)-1]
		ls.B[i] = row[len(row)-1]
	}
	if err := ls.Validate(); err != nil {
		return nil, invalid("%v", err)
	}
	return ls, nil
}

// newJob validates req against the configured defaults.
func (s *Server) newJob(req JobRequest) (*job, error) {
	if len(req.X0) == 0 {
		return nil, invalid("x0 is required")
	}
	if !vecops.Finite(req.X0) {
		return nil, invalid("x0 must be finite")
	}
	if req.MaxIter != nil && *req.MaxIter < 0 {
		return nil, invalid("max_iter must not be negative")
	}

	j := &job{method: req.Method, x0: req.X0}

	if req.Objective == LeastSquaresObjective {
		ls, err := leastSquares(req.Samples)
		if err != nil {
			return nil, err
		}
		if ls.Dim() != len(req.X0) {
			return nil, invalid("x0 has %d coordinates, samples have %d features", len(req.X0), ls.Dim())
		}
		j.obj, j.src = ls, ls
	} else {
		obj, ok := objectives.Lookup(req.Objective)
		if !ok {
			return nil, invalid("unknown objective %q", req.Objective)
		}
		j.obj, j.src = obj, adam.Full{Objective: obj}
	}

	maxIter := func(configured int) int {
		if req.MaxIter != nil {
			configured = *req.MaxIter
		}
		if limit := s.cfg.Optimization.MaxIterCap; limit > 0 && (configured == 0 || configured > limit) {
			return limit
		}
		return configured
	}

	switch req.Method {
	case MethodLBFGS:
		j.lbfgs = s.cfg.LBFGSConfig()
		j.lbfgs.MaxIterations = maxIter(j.lbfgs.MaxIterations)
		j.lbfgs.Logger = s.logger
	case MethodAdam:
		j.adam = s.cfg.AdamConfig()
		j.adam.MaxIterations = maxIter(j.adam.MaxIterations)
		if req.BatchSize > 0 {
			j.adam.BatchSize = req.BatchSize
		}
		if req.Seed != nil {
			j.adam.Seed = *req.Seed
		}
		j.adam.Logger = s.logger
	default:
		return nil, invalid("unknown method %q", req.Method)
	}
	return j, nil
}

// run executes j and reports per-iteration progress through progress.
func (j *job) run(ctx context.Context, progress func(iteration int)) (*optimization.Result, error) {
	switch j.method {
	case MethodAdam:
		cfg := j.adam
		cfg.Progress = func(p adam.EpochProgress) { progress(p.Epoch + 1) }
		opt, err := adam.New(cfg)
		if err != nil {
			return nil, err
		}
		return opt.Minimize(ctx, j.x0, j.src)
	default:
		cfg := j.lbfgs
		cfg.Progress = func(p optimization.Progress) { progress(p.Iteration) }
		opt, err := lbfgs.New(cfg)
		if err != nil {
			return nil, err
		}
		return opt.Minimize(ctx, j.x0, j.obj)
	}
}

// startOptimization validates req, registers a job and runs it in the
// background.
func (s *Server) startOptimization(req JobRequest) (*OptimizationState, error) {
	j, err := s.newJob(req)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("opt_%d_%d", time.Now().UnixNano(), s.seq.Add(1))

	// Create a cancellable context bounded by the job timeout
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout := s.cfg.Optimization.JobTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	now := time.Now()
	state := &OptimizationState{
		ID:          id,
		Request:     req,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		CancelFunc:  cancel,
	}

	s.optimizationsMu.Lock()
	s.optimizations[id] = state
	s.optimizationsMu.Unlock()

	s.wg.Add(1)
	go s.runOptimization(ctx, j, state)

	return state, nil
}

// runOptimization executes the optimization process in a goroutine.
func (s *Server) runOptimization(ctx context.Context, j *job, state *OptimizationState) {
	defer s.wg.Done()
	defer state.CancelFunc()

	logger := s.logger.With(
		zap.String("optimization_id", state.ID),
		zap.String("method", j.method),
		zap.String("objective", state.Request.Objective),
	)

	s.optimizationsMu.Lock()
	if state.Status == StatusCancelled {
		s.optimizationsMu.Unlock()
		return
	}
	state.Status = StatusRunning
	s.optimizationsMu.Unlock()

	s.metrics.RunStarted()
	result, err := j.run(ctx, func(iteration int) {
		s.optimizationsMu.Lock()
		state.Iteration = iteration
		state.LastUpdated = time.Now()
		s.optimizationsMu.Unlock()
	})

	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	switch {
	case state.Status == StatusCancelled:
		// Cancelled through the API while running.
		s.metrics.RunAborted(j.method, StatusCancelled)
		logger.Info("Optimization cancelled")
	case err != nil:
		state.Status = StatusFailed
		state.Err = err.Error()
		s.metrics.RunAborted(j.method, StatusFailed)
		logger.Error("Optimization failed", zap.Error(err))
	default:
		state.Status = StatusCompleted
		state.Result = result
		s.metrics.RunFinished(j.method, result)
		logger.Info("Optimization completed",
			zap.Stringer("status", result.Status),
			zap.Int("iterations", result.Iterations),
		)
	}
}

// cancelOptimization cancels a pending or running job.
func (s *Server) cancelOptimization(id string) error {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, exists := s.optimizations[id]
	if !exists {
		return errNotFound
	}

	switch state.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		// Already in a terminal state
		return invalid("cannot cancel optimization with status: %s", state.Status)
	}

	state.CancelFunc()
	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Optimization cancelled", zap.String("optimization_id", id))
	return nil
}
