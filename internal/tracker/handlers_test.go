package tracker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := gin.New()
	NewHandler(f.tracker).RegisterRoutes(r.Group("/v1"))
	return r, f
}

func doRequest(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createViaAPI(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doRequest(r, http.MethodPost, "/v1/wallets", map[string]any{
		"label":     "ops",
		"tags":      []string{"Exchange"},
		"addresses": []map[string]string{{"chain": "ethereum", "address": walletAddr}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode(t, w)
	return resp["wallet"].(map[string]any)["id"].(string)
}

func TestWalletLifecycle(t *testing.T) {
	r, _ := setupRouter(t)
	id := createViaAPI(t, r)

	w := doRequest(r, http.MethodGet, "/v1/wallets/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)["wallet"].(map[string]any)
	assert.Equal(t, "ops", got["label"])
	assert.Equal(t, []any{"exchange"}, got["tags"])

	w = doRequest(r, http.MethodGet, "/v1/wallets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = doRequest(r, http.MethodPost, "/v1/wallets/"+id+"/addresses", map[string]string{"chain": "ethereum", "address": peerAddr})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(r, http.MethodPost, "/v1/wallets/"+id+"/addresses", map[string]string{"chain": "ethereum", "address": peerAddr})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodDelete, "/v1/wallets/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/v1/wallets/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["error"])
}

func TestCreateWalletValidation(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"no addresses", map[string]any{"label": "x"}, "invalid_request"},
		{"bad address", map[string]any{"addresses": []map[string]string{{"chain": "ethereum", "address": "0xnothex"}}}, "invalid_address"},
		{"unknown chain", map[string]any{"addresses": []map[string]string{{"chain": "dogecoin", "address": walletAddr}}}, "unknown_chain"},
		{"label too long", map[string]any{
			"label":     strings.Repeat("x", 201),
			"addresses": []map[string]string{{"chain": "ethereum", "address": walletAddr}},
		}, "validation_failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/v1/wallets", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tc.want, decode(t, w)["error"])
		})
	}
}

func TestSyncAndAssessEndpoints(t *testing.T) {
	r, f := setupRouter(t)
	id := createViaAPI(t, r)
	f.addTransfer("0xd1", walletAddr, peerAddr, eth(1), t0)

	w := doRequest(r, http.MethodGet, "/v1/wallets/"+id+"/risk", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/wallets/"+id+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sync := decode(t, w)["sync"].(map[string]any)
	assert.Equal(t, float64(1), sync["inserted"])

	w = doRequest(r, http.MethodPost, "/v1/wallets/"+id+"/assess", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a := decode(t, w)["assessment"].(map[string]any)
	assert.Equal(t, id, a["walletId"])
	assert.Contains(t, a, "overallScore")

	w = doRequest(r, http.MethodGet, "/v1/wallets/"+id+"/risk", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/wallets/wal_missing/assess", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBalanceEndpoints(t *testing.T) {
	r, f := setupRouter(t)
	id := createViaAPI(t, r)
	f.account.SetBalance(walletAddr, eth(1))

	w := doRequest(r, http.MethodGet, "/v1/wallets/"+id+"/balances", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodPost, "/v1/wallets/"+id+"/balances", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decode(t, w)["balances"].(map[string]any)
	assert.Equal(t, "3000", snap["totalUsd"])

	w = doRequest(r, http.MethodPost, "/v1/balances/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)["result"].(map[string]any)
	assert.Equal(t, float64(1), res["processed"])
}

func TestListHighRisk(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/v1/risk/high", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(60), resp["minScore"])
	assert.Equal(t, []any{}, resp["wallets"])

	w = doRequest(r, http.MethodGet, "/v1/risk/high?minScore=101", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(r, http.MethodGet, "/v1/risk/high?minScore=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateAddressEndpoint(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/v1/addresses/validate?chain=ethereum&address="+walletAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)["result"].(map[string]any)
	assert.Equal(t, true, result["isValid"])

	w = doRequest(r, http.MethodGet, "/v1/addresses/validate?chain=ethereum", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChainEndpoints(t *testing.T) {
	r, f := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/v1/chains", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "fake://", "endpoint URLs must not be exposed")
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = doRequest(r, http.MethodGet, "/v1/chains/ethereum/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.account.SetDown(true)
	w = doRequest(r, http.MethodGet, "/v1/chains/ethereum/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(r, http.MethodGet, "/v1/chains/dogecoin/health", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unknown_chain", decode(t, w)["error"])
}

func TestClassifyBridgeEndpoint(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, http.MethodGet, "/v1/bridge/classify/ethereum/0x1234", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_hash", decode(t, w)["error"])

	w = doRequest(r, http.MethodGet, "/v1/bridge/classify/ethereum/0x"+strings.Repeat("ab", 32), nil)
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}
