package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/minimize/internal/config"
	"github.com/copyleftdev/minimize/internal/objectives"
)

// testConfig creates a test configuration from the environment defaults
func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Load()
	require.NoError(t, err, "default configuration should load")

	cfg.Environment = "test"
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Optimization.JobTimeout = 30 * time.Second

	return cfg
}

// testLogger creates a test logger that writes through t
func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// newTestRouter creates a server with its routes and closes it on cleanup
func newTestRouter(t *testing.T, cfg *config.Config) (*Server, chi.Router) {
	srv := NewServer(cfg, testLogger(t), nil)
	t.Cleanup(func() { _ = srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func callRPC(t *testing.T, r http.Handler, method string, params ...interface{}) rpcResponse {
	t.Helper()

	rr := doJSON(t, r, http.MethodPost, "/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp rpcResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func startREST(t *testing.T, r http.Handler, req JobRequest) string {
	t.Helper()

	rr := doJSON(t, r, http.MethodPost, "/api/v1/optimize", req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, StatusPending, resp["status"])
	require.NotEmpty(t, resp["optimization_id"])
	return resp["optimization_id"]
}

func getStatus(t *testing.T, r http.Handler, id string) StatusResponse {
	t.Helper()

	rr := doJSON(t, r, http.MethodGet, "/api/v1/status/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

// fetchStatus reads the job status without failing the test, for use in
// polling conditions.
func fetchStatus(r http.Handler, id string) (StatusResponse, bool) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/"+id, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var resp StatusResponse
	if rr.Code != http.StatusOK || json.NewDecoder(rr.Body).Decode(&resp) != nil {
		return resp, false
	}
	return resp, true
}

// waitForStatus polls until the job leaves the pending and running states.
func waitForStatus(t *testing.T, r http.Handler, id string) StatusResponse {
	t.Helper()

	require.Eventually(t, func() bool {
		resp, ok := fetchStatus(r, id)
		return ok && resp.Status != StatusPending && resp.Status != StatusRunning
	}, 10*time.Second, 5*time.Millisecond, "optimization should finish")
	return getStatus(t, r, id)
}

func TestNewServer(t *testing.T) {
	// Create a test logger and config
	logger := testLogger(t)
	cfg := testConfig(t)

	// Test server creation
	srv := NewServer(cfg, logger, nil)
	assert.NotNil(t, srv, "Server should be created")
	assert.NotNil(t, srv.metrics, "Metrics should default to an unregistered set")

	assert.NotNil(t, NewServer(cfg, nil, nil).logger, "A nil logger should be replaced")
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	// Test if routes are registered
	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/optimize", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/optimization/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},     // Not registered by server package
		{"GET", "/nonexistent", false}, // Should not exist
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			// Handlers answer unknown ids with a JSON body, chi with plain text
			isJSON := rr.Header().Get("Content-Type") == "application/json"
			if tt.shouldExist {
				assert.True(t, rr.Code != http.StatusNotFound || isJSON,
					"Route %s %s should exist", tt.method, tt.path)
			} else {
				assert.Equal(t, http.StatusNotFound, rr.Code)
				assert.False(t, isJSON)
			}
		})
	}
}

func TestClose(t *testing.T) {
	// Create a test logger and config
	logger := testLogger(t)
	cfg := testConfig(t)

	// Test server close
	srv := NewServer(cfg, logger, nil)
	err := srv.Close()
	assert.NoError(t, err, "Close should not return an error")
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t), nil)

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
		expectCode int
	}{
		{
			name:       "valid error response",
			code:       codeInvalidParams,
			message:    "invalid input",
			id:         "123",
			expectedID: "123",
			expectCode: http.StatusOK, // Because respondWithError writes 200 with error in body
		},
		{
			name:       "nil id",
			code:       codeServerError,
			message:    "server error",
			id:         nil,
			expectedID: nil,
			expectCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id)

			assert.Equal(t, tt.expectCode, rr.Code, "status code should match")

			// Parse response body to verify error structure
			var response map[string]interface{}
			err := json.NewDecoder(rr.Body).Decode(&response)
			require.NoError(t, err, "should decode response body")

			// Check error object
			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"], "error code should match")
			assert.Equal(t, tt.message, errObj["message"], "error message should match")

			// Check ID
			assert.Equal(t, tt.expectedID, response["id"], "response ID should match")
		})
	}
}

func TestOptimizeRosenbrockREST(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	id := startREST(t, r, JobRequest{
		Method:    MethodLBFGS,
		Objective: "rosenbrock",
		X0:        []float64{-1.2, 1},
	})

	resp := waitForStatus(t, r, id)
	require.Equal(t, StatusCompleted, resp.Status, resp.Error)
	assert.Equal(t, MethodLBFGS, resp.Method)
	assert.Equal(t, "rosenbrock", resp.Objective)
	assert.NotEmpty(t, resp.EndTime)

	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Converged, resp.Result.Termination)
	assert.Positive(t, resp.Result.Iterations)
	assert.GreaterOrEqual(t, resp.Result.Evaluations, resp.Result.Iterations)
	require.Len(t, resp.Result.X, 2)
	assert.InDelta(t, 1, resp.Result.X[0], 1e-2)
	assert.InDelta(t, 1, resp.Result.X[1], 1e-2)
	require.NotNil(t, resp.Result.F)
	assert.Less(t, *resp.Result.F, 1e-4)
}

func TestOptimizeMaxIter(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	maxIter := 3
	id := startREST(t, r, JobRequest{
		Method:    MethodLBFGS,
		Objective: "rosenbrock",
		X0:        []float64{-1.2, 1},
		MaxIter:   &maxIter,
	})

	resp := waitForStatus(t, r, id)
	require.Equal(t, StatusCompleted, resp.Status)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "max_iter_reached", resp.Result.Termination)
	assert.False(t, resp.Result.Converged)
	assert.Equal(t, maxIter-1, resp.Result.Iterations)
}

func TestOptimizeLeastSquaresAdam(t *testing.T) {
	cfg := testConfig(t)
	cfg.Adam.Alpha = 0.01
	_, r := newTestRouter(t, cfg)

	ls, w := objectives.SyntheticRegression(400, 4, 0, 3)
	samples := make([][]float64, len(ls.A))
	for i, row := range ls.A {
		samples[i] = append(append([]float64(nil), row...), ls.B[i])
	}

	maxIter := 200
	id := startREST(t, r, JobRequest{
		Method:    MethodAdam,
		Objective: LeastSquaresObjective,
		X0:        make([]float64, len(w)),
		MaxIter:   &maxIter,
		Samples:   samples,
	})

	resp := waitForStatus(t, r, id)
	require.Equal(t, StatusCompleted, resp.Status, resp.Error)
	require.NotNil(t, resp.Result)
	require.Len(t, resp.Result.X, len(w))
	for i := range w {
		assert.InDelta(t, w[i], resp.Result.X[i], 0.05, "weight %d", i)
	}
	assert.NotNil(t, resp.Result.F, "least squares reports its value")
}

func TestOptimizeInvalidREST(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	negative := -1
	tests := []struct {
		name string
		body interface{}
	}{
		{"not an object", []int{1, 2}},
		{"missing x0", JobRequest{Method: MethodLBFGS, Objective: "sphere"}},
		{"unknown method", JobRequest{Method: "newton", Objective: "sphere", X0: []float64{1}}},
		{"unknown objective", JobRequest{Method: MethodLBFGS, Objective: "himmelblau", X0: []float64{1}}},
		{"negative max_iter", JobRequest{Method: MethodLBFGS, Objective: "sphere", X0: []float64{1}, MaxIter: &negative}},
		{"rosenbrock in one dimension", JobRequest{Method: MethodLBFGS, Objective: "rosenbrock", X0: []float64{1}}},
		{"samples without target", JobRequest{
			Method: MethodAdam, Objective: LeastSquaresObjective, X0: []float64{0},
			Samples: [][]float64{{1}},
		}},
		{"x0 does not match features", JobRequest{
			Method: MethodAdam, Objective: LeastSquaresObjective, X0: []float64{0, 0},
			Samples: [][]float64{{1, 2}},
		}},
		{"no samples", JobRequest{Method: MethodAdam, Objective: LeastSquaresObjective, X0: []float64{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, r, http.MethodPost, "/api/v1/optimize", tt.body)
			if tt.name == "rosenbrock in one dimension" {
				// Accepted, then fails inside the objective
				require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
				var resp map[string]string
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				status := waitForStatus(t, r, resp["optimization_id"])
				assert.Equal(t, StatusFailed, status.Status)
				assert.NotEmpty(t, status.Error)
				assert.Nil(t, status.Result)
				return
			}

			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			var resp map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestUnknownOptimizationREST(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	rr := doJSON(t, r, http.MethodGet, "/api/v1/status/opt_missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, r, http.MethodDelete, "/api/v1/optimization/opt_missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// runForever returns a request that only stops when cancelled. Adam keeps
// oscillating around the Rosenbrock minimum, far above the gradient bound.
func runForever(t *testing.T, cfg *config.Config) JobRequest {
	t.Helper()

	cfg.Adam.Epsilon = 1e-300
	cfg.Adam.MaxIterations = 0
	cfg.Optimization.MaxIterCap = 0
	return JobRequest{
		Method:    MethodAdam,
		Objective: "rosenbrock",
		X0:        []float64{-1.2, 1},
	}
}

func TestCancelRunningREST(t *testing.T) {
	cfg := testConfig(t)
	req := runForever(t, cfg)
	srv, r := newTestRouter(t, cfg)

	id := startREST(t, r, req)

	require.Eventually(t, func() bool {
		resp, ok := fetchStatus(r, id)
		return ok && resp.Iteration > 0
	}, 10*time.Second, time.Millisecond, "optimization should make progress")

	rr := doJSON(t, r, http.MethodDelete, "/api/v1/optimization/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Close waits for the worker to observe the cancellation
	require.NoError(t, srv.Close())

	resp := getStatus(t, r, id)
	assert.Equal(t, StatusCancelled, resp.Status)
	assert.NotEmpty(t, resp.EndTime)
	assert.Nil(t, resp.Result)

	// Cancelling twice is rejected
	rr = doJSON(t, r, http.MethodDelete, "/api/v1/optimization/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestJobTimeout(t *testing.T) {
	cfg := testConfig(t)
	req := runForever(t, cfg)
	cfg.Optimization.JobTimeout = 20 * time.Millisecond
	_, r := newTestRouter(t, cfg)

	id := startREST(t, r, req)

	resp := waitForStatus(t, r, id)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "deadline exceeded")
}

func TestCloseCancelsRunning(t *testing.T) {
	cfg := testConfig(t)
	req := runForever(t, cfg)
	srv, r := newTestRouter(t, cfg)

	id := startREST(t, r, req)

	done := make(chan struct{})
	go func() {
		_ = srv.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close should stop running optimizations")
	}

	status := getStatus(t, r, id).Status
	assert.Contains(t, []string{StatusFailed, StatusCancelled}, status)
}

func TestJSONRPCLifecycle(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	resp := callRPC(t, r, "optimization.start", JobRequest{
		Method:    MethodLBFGS,
		Objective: "sphere",
		X0:        []float64{3, -4, 5},
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, float64(1), resp.ID)

	var started map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &started))
	assert.Equal(t, StatusPending, started["status"])
	id := started["optimization_id"]
	require.NotEmpty(t, id)

	waitForStatus(t, r, id)

	resp = callRPC(t, r, "optimization.status", map[string]string{"optimization_id": id})
	require.Nil(t, resp.Error)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	assert.Equal(t, StatusCompleted, status.Status)

	assert.Equal(t, id, status.ID)
	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Converged)
	for _, v := range status.Result.X {
		assert.InDelta(t, 0, v, 1e-6)
	}

	// A finished optimization cannot be cancelled
	resp = callRPC(t, r, "optimization.cancel", map[string]string{"optimization_id": id})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestJSONRPCCancel(t *testing.T) {
	cfg := testConfig(t)
	req := runForever(t, cfg)
	_, r := newTestRouter(t, cfg)

	resp := callRPC(t, r, "optimization.start", req)
	require.Nil(t, resp.Error)
	var started map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &started))

	resp = callRPC(t, r, "optimization.cancel", map[string]string{"optimization_id": started["optimization_id"]})
	require.Nil(t, resp.Error)

	var cancelled map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &cancelled))
	assert.Equal(t, StatusCancelled, cancelled["status"])
}

func TestJSONRPCErrors(t *testing.T) {
	_, r := newTestRouter(t, testConfig(t))

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"parse error", `{"jsonrpc":`, codeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"optimization.status"}`, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"optimization.pause"}`, codeMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"optimization.start"}`, codeInvalidParams},
		{"malformed params", `{"jsonrpc":"2.0","id":1,"method":"optimization.start","params":["x"]}`, codeInvalidParams},
		{"unknown objective", `{"jsonrpc":"2.0","id":1,"method":"optimization.start","params":[{"method":"lbfgs","objective":"nope","x0":[1]}]}`, codeInvalidParams},
		{"missing id", `{"jsonrpc":"2.0","id":1,"method":"optimization.status","params":[{}]}`, codeInvalidParams},
		{"unknown id", `{"jsonrpc":"2.0","id":1,"method":"optimization.status","params":[{"optimization_id":"opt_missing"}]}`, codeServerError},
		{"cancel unknown id", `{"jsonrpc":"2.0","id":1,"method":"optimization.cancel","params":[{"optimization_id":"opt_missing"}]}`, codeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			require.Equal(t, http.StatusOK, rr.Code)

			var resp rpcResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}
