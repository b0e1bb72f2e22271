package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/token-faucet/internal/captcha"
	"github.com/token-faucet/internal/job"
	"github.com/token-faucet/internal/service"
	"github.com/token-faucet/internal/types"
	"github.com/token-faucet/internal/worker"
)

// Mock collaborators for testing
type mockDripService struct {
	dripFunc func(ctx context.Context, input *service.DripInput) (*types.DripResponse, error)
	calls    int
}

func (m *mockDripService) Drip(ctx context.Context, input *service.DripInput) (*types.DripResponse, error) {
	m.calls++
	if m.dripFunc != nil {
		return m.dripFunc(ctx, input)
	}
	return &types.DripResponse{
		Address:     input.Address,
		TxReference: "0xfeed",
		TokenAmount: "0.5",
		TokenSymbol: "ETH",
		ExplorerURL: "https://explorer.test/tx/0xfeed",
	}, nil
}

type mockVerifier struct {
	approved bool
	err      error
}

func (m *mockVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if token == "" {
		return false, captcha.ErrMissingToken
	}
	return m.approved, nil
}

type mockQueue struct {
	stats *job.Stats
	err   error
}

func (m *mockQueue) Stats(ctx context.Context) (*job.Stats, error) {
	return m.stats, m.err
}

type mockWorker struct {
	status worker.DripWorkerStatus
}

func (m *mockWorker) GetStatus() *worker.DripWorkerStatus {
	s := m.status
	return &s
}

type testServerOptions struct {
	drip    *mockDripService
	captcha *mockVerifier
	queue   *mockQueue
	worker  *mockWorker
	checks  map[string]HealthCheck
	origins []string
	rps     float64
	burst   int
}

// Helper function to create test server
func createTestServer(opts testServerOptions) *Server {
	if opts.drip == nil {
		opts.drip = &mockDripService{}
	}
	if opts.captcha == nil {
		opts.captcha = &mockVerifier{approved: true}
	}
	if opts.queue == nil {
		opts.queue = &mockQueue{stats: &job.Stats{}}
	}
	if opts.worker == nil {
		opts.worker = &mockWorker{status: worker.DripWorkerStatus{Running: true}}
	}
	if opts.rps == 0 {
		opts.rps = 100
	}
	if opts.burst == 0 {
		opts.burst = 100
	}

	config := &ServerConfig{
		Host:           "localhost",
		Port:           "8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		CORSOrigins:    opts.origins,
		RateLimitRPS:   opts.rps,
		RateLimitBurst: opts.burst,
	}

	return NewServer(config, &Dependencies{
		DripService:  opts.drip,
		Captcha:      opts.captcha,
		Queue:        opts.queue,
		Worker:       opts.worker,
		HealthChecks: opts.checks,
	})
}

// TestHealthEndpoint tests the health check endpoint
func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(testServerOptions{
		queue:  &mockQueue{stats: &job.Stats{Pending: 3, Processing: 1}},
		worker: &mockWorker{status: worker.DripWorkerStatus{Running: true, ActiveJobID: "job-1"}},
		checks: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return nil },
		},
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response types.HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", response.Status)
	}
	if response.QueueLength != 3 {
		t.Errorf("Expected queue length 3, got %d", response.QueueLength)
	}
	if !response.JobActive {
		t.Error("Expected an active job")
	}
	if response.Dependencies["postgres"] != "healthy" || response.Dependencies["redis"] != "healthy" {
		t.Errorf("Unexpected dependencies: %v", response.Dependencies)
	}
}

// TestHealthEndpoint_Degraded tests that a failing dependency is reported with 503
func TestHealthEndpoint_Degraded(t *testing.T) {
	server := createTestServer(testServerOptions{
		checks: map[string]HealthCheck{
			"chain": func(context.Context) error { return errors.New("dial tcp: connection refused") },
		},
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}

	var response types.HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Dependencies["chain"] != "unhealthy" {
		t.Errorf("Expected chain unhealthy, got %q", response.Dependencies["chain"])
	}
}

// TestHealthEndpoint_WorkerStopped tests that a stopped worker degrades health
func TestHealthEndpoint_WorkerStopped(t *testing.T) {
	server := createTestServer(testServerOptions{
		worker: &mockWorker{status: worker.DripWorkerStatus{Running: false}},
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

// TestRootEndpoint tests the welcome route
func TestRootEndpoint(t *testing.T) {
	server := createTestServer(testServerOptions{})

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var response types.APIResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !response.Status || response.Message == "" {
		t.Errorf("Unexpected response: %+v", response)
	}
}

// TestCORSHeaders tests that CORS headers are properly set
func TestCORSHeaders(t *testing.T) {
	server := createTestServer(testServerOptions{origins: []string{"https://faucet.example"}})

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://faucet.example")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://faucet.example" {
		t.Errorf("Expected allowed origin to be echoed, got %q", got)
	}

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no allow-origin for unknown origin, got %q", got)
	}
}

// TestCORSPreflight tests OPTIONS on the drip route
func TestCORSPreflight(t *testing.T) {
	drip := &mockDripService{}
	server := createTestServer(testServerOptions{drip: drip, origins: []string{"*"}})

	req := httptest.NewRequest("OPTIONS", "/api/transaction", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected wildcard origin")
	}
	if drip.calls != 0 {
		t.Error("Preflight must not reach the handler")
	}
}

// TestRequestID tests that a request id is issued or echoed
func TestRequestID(t *testing.T) {
	server := createTestServer(testServerOptions{})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected request id to be echoed, got %q", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a generated request id")
	}
}

// TestRecoveryMiddleware tests that a handler panic becomes a 500 envelope
func TestRecoveryMiddleware(t *testing.T) {
	server := createTestServer(testServerOptions{
		drip: &mockDripService{dripFunc: func(context.Context, *service.DripInput) (*types.DripResponse, error) {
			panic("boom")
		}},
	})

	w := postDrip(server, `{"walletAddress":"`+validAddress+`","captchaToken":"tok"}`)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Error.Code != ErrCodeInternalError {
		t.Errorf("Expected INTERNAL_ERROR, got %s", resp.Error.Code)
	}
}
