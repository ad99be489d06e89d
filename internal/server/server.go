package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/minimize/internal/config"
	"github.com/copyleftdev/minimize/internal/metrics"
	"github.com/copyleftdev/minimize/internal/optimization"
	"github.com/copyleftdev/minimize/internal/optimization/vecops"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

var errNotFound = errors.New("optimization not found")

// Server implements the HTTP and JSON-RPC server for the minimization service.
// It manages optimization jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Optimization state management
	optimizations   map[string]*OptimizationState
	optimizationsMu sync.RWMutex // Protects the optimizations map and every state in it
	seq             atomic.Uint64
	wg              sync.WaitGroup
}

// NewServer creates a new server instance with the given config, logger and
// metrics. A nil logger disables logging; nil metrics are created
// unregistered.
func NewServer(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Server{
		cfg:           cfg,
		logger:        logger.Named("server"),
		metrics:       m,
		optimizations: make(map[string]*OptimizationState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// StatusResponse is the public view of a job.
type StatusResponse struct {
	ID         string     `json:"optimization_id"`
	Method     string     `json:"method"`
	Objective  string     `json:"objective"`
	Status     string     `json:"status"`
	Iteration  int        `json:"iteration"`
	StartTime  string     `json:"start_time"`
	LastUpdate string     `json:"last_update"`
	EndTime    string     `json:"end_time,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     *resultDTO `json:"result,omitempty"`
}

type resultDTO struct {
	Termination string    `json:"termination"`
	Converged   bool      `json:"converged"`
	X           []float64 `json:"x,omitempty"`
	F           *float64  `json:"f,omitempty"`
	Iterations  int       `json:"iterations"`
	Evaluations int       `json:"evaluations"`
}

// newResultDTO drops non-finite values, which JSON cannot carry.
func newResultDTO(res *optimization.Result) *resultDTO {
	dto := &resultDTO{
		Termination: res.Status.String(),
		Converged:   res.Converged(),
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
	}
	if vecops.Finite(res.X) {
		dto.X = vecops.Clone(res.X)
	}
	if optimization.IsFinite(res.F) {
		f := res.F
		dto.F = &f
	}
	return dto
}

// snapshot builds the status view of state. The caller holds optimizationsMu.
func snapshot(state *OptimizationState) StatusResponse {
	resp := StatusResponse{
		ID:         state.ID,
		Method:     state.Request.Method,
		Objective:  state.Request.Objective,
		Status:     state.Status,
		Iteration:  state.Iteration,
		StartTime:  state.StartTime.Format(time.RFC3339),
		LastUpdate: state.LastUpdated.Format(time.RFC3339),
		Error:      state.Err,
	}
	if state.EndTime != nil {
		resp.EndTime = state.EndTime.Format(time.RFC3339)
	}
	if state.Result != nil {
		resp.Result = newResultDTO(state.Result)
	}
	return resp
}

// status returns the status view of the job with the given id.
func (s *Server) status(id string) (StatusResponse, error) {
	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, exists := s.optimizations[id]
	if !exists {
		return StatusResponse{}, errNotFound
	}
	return snapshot(state), nil
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	OptimizationID string `json:"optimization_id"`
}

// decodeParam unmarshals the first positional parameter into v.
func decodeParam(params []json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return invalid("missing required parameters")
	}
	if err := json.Unmarshal(params[0], v); err != nil {
		return invalid("invalid parameter format: %v", err)
	}
	return nil
}

func (p idParams) validate() error {
	if p.OptimizationID == "" {
		return invalid("optimization_id is required")
	}
	return nil
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		result, err = s.handleOptimizeStart(request.Params)
	case "optimization.status":
		result, err = s.handleOptimizationStatus(request.Params)
	case "optimization.cancel":
		err = s.handleOptimizationCancel(request.Params)
		result = map[string]string{"status": StatusCancelled}
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		code := codeServerError
		if errors.Is(err, errInvalidRequest) {
			code = codeInvalidParams
		}
		s.respondWithError(w, code, err.Error(), request.ID)
		return
	}

	// Send successful response
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// handleOptimizeStart handles the optimization.start JSON-RPC method.
// Expected parameters: [{"method": "lbfgs", "objective": "rosenbrock", "x0": [-1.2, 1]}]
// Returns: {"optimization_id": "opt_123", "status": "pending"}
func (s *Server) handleOptimizeStart(params []json.RawMessage) (interface{}, error) {
	var req JobRequest
	if err := decodeParam(params, &req); err != nil {
		return nil, err
	}

	state, err := s.startOptimization(req)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"optimization_id": state.ID,
		"status":          StatusPending,
	}, nil
}

// handleOptimizationStatus handles the optimization.status JSON-RPC method.
// Expected parameters: [{"optimization_id": "opt_123"}]
func (s *Server) handleOptimizationStatus(params []json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParam(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return s.status(p.OptimizationID)
}

// handleOptimizationCancel handles the optimization.cancel JSON-RPC method.
// Expected parameters: [{"optimization_id": "opt_123"}]
func (s *Server) handleOptimizationCancel(params []json.RawMessage) error {
	var p idParams
	if err := decodeParam(params, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	return s.cancelOptimization(p.OptimizationID)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("JSON-RPC error",
		zap.Int("code", code),
		zap.String("message", message),
	)

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// Close cancels all running optimizations and waits for them to stop.
func (s *Server) Close() error {
	s.optimizationsMu.Lock()
	for _, opt := range s.optimizations {
		if opt.CancelFunc != nil {
			opt.CancelFunc()
		}
	}
	s.optimizationsMu.Unlock()

	s.wg.Wait()
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errNotFound):
		code = http.StatusNotFound
	case errors.Is(err, errInvalidRequest):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, invalid("invalid request body: %v", err))
		return
	}

	state, err := s.startOptimization(req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"optimization_id": state.ID,
		"status":          StatusPending,
	})
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelOptimization(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": StatusCancelled,
	})
}
