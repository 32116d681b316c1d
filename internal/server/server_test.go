package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/config"
	"github.com/mbd888/chainwatch/internal/prices"
	"github.com/mbd888/chainwatch/internal/provider/providertest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testRPC = "https://ethereum.rpc.test"

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		EnabledChains: []chains.ID{chains.Ethereum},
		Endpoints:     map[chains.ID]config.Endpoints{chains.Ethereum: {RPCURL: testRPC}},
		SyncTxLimit:   10,
		SyncTimeout:   5 * time.Second,
		HealthTimeout: time.Second,
		RateLimitRPS:  1000,
	}
}

// newTestServer creates a server over a scripted Ethereum endpoint
func newTestServer(t *testing.T) (*Server, *providertest.Account) {
	t.Helper()
	account := providertest.NewAccount()
	dialer := providertest.NewDialer()
	dialer.Set(testRPC, account)

	s, err := New(testConfig(),
		WithDialer(dialer),
		WithPriceSource(prices.Static{"ETH": decimal.NewFromInt(3000)}),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, account
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s, account := newTestServer(t)

	w := serve(s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp.Status)
	}
	if len(resp.Checks) != 1 || resp.Checks[0].Name != "chain:ethereum" {
		t.Errorf("Expected one chain check, got %+v", resp.Checks)
	}

	account.SetDown(true)
	w = serve(s, "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with the chain down, got %d", w.Code)
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	if w := serve(s, "GET", "/health/live", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	// Server hasn't called Run() so ready is false
	if w := serve(s, "GET", "/health/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	serve(s, "GET", "/v1/chains", "")
	w := serve(s, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "chainwatch_http_requests_total") {
		t.Error("Expected HTTP request counter in metrics output")
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s, _ := newTestServer(t)

	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/wallets",
		"GET:/v1/wallets/:id",
		"POST:/v1/wallets/:id/sync",
		"POST:/v1/wallets/:id/assess",
		"GET:/v1/wallets/:id/risk",
		"GET:/v1/risk/high",
		"GET:/v1/chains",
		"GET:/v1/stream/stats",
	}

	routeSet := make(map[string]bool)
	for _, route := range s.router.Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}
	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, "GET", "/health/live", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 32 {
		t.Errorf("Expected generated 32-char request id, got %q", id)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	s.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "upstream-id" {
		t.Errorf("Expected upstream request id to be kept, got %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, "GET", "/health/live", "")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Expected X-Content-Type-Options: nosniff")
	}
}

// ---------------------------------------------------------------------------
// End-to-end wallet flow
// ---------------------------------------------------------------------------

func TestWalletFlow(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"label":"ops","addresses":[{"chain":"ethereum","address":"0x1111111111111111111111111111111111111111"}]}`
	w := serve(s, "POST", "/v1/wallets", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Wallet struct {
			ID string `json:"id"`
		} `json:"wallet"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	w = serve(s, "POST", "/v1/wallets/"+created.Wallet.ID+"/sync", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = serve(s, "POST", "/v1/wallets/"+created.Wallet.ID+"/assess", "")
	if w.Code != http.StatusOK {
		t.Fatalf("assess: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = serve(s, "GET", "/v1/stream/stats", "")
	if w.Code != http.StatusOK {
		t.Errorf("stream stats: expected 200, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s, _ := newTestServer(t)

	if w := serve(s, "GET", "/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestMaskDSN(t *testing.T) {
	got := maskDSN("postgres://chainwatch:secret@db:5432/chainwatch?sslmode=disable")
	if strings.Contains(got, "secret") {
		t.Errorf("password leaked: %s", got)
	}
}
