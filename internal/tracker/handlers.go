package tracker

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/balance"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/ingest"
	"github.com/mbd888/chainwatch/internal/logging"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/risk"
	"github.com/mbd888/chainwatch/internal/transactions"
	"github.com/mbd888/chainwatch/internal/validation"
	"github.com/mbd888/chainwatch/internal/wallet"
)

// Handler provides HTTP endpoints for wallets, risk and chains.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a new tracker handler.
func NewHandler(t *Tracker) *Handler {
	return &Handler{tracker: t}
}

// RegisterRoutes sets up the /v1 routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/wallets", h.CreateWallet)
	r.GET("/wallets", h.ListWallets)
	r.GET("/wallets/:id", h.GetWallet)
	r.DELETE("/wallets/:id", h.DeleteWallet)
	r.POST("/wallets/:id/addresses", h.AddAddress)
	r.POST("/wallets/:id/sync", h.SyncWallet)
	r.GET("/wallets/:id/balances", h.GetBalances)
	r.POST("/wallets/:id/balances", h.RefreshBalances)
	r.POST("/wallets/:id/assess", h.AssessWallet)
	r.GET("/wallets/:id/risk", h.GetWalletRisk)

	r.GET("/risk/high", h.ListHighRisk)
	r.POST("/balances/refresh", h.RefreshAllBalances)
	r.GET("/addresses/validate", h.ValidateAddress)

	registry := h.tracker.Pool.Registry()
	r.GET("/chains", h.ListChains)
	r.GET("/chains/:chain/health", validation.ChainParamMiddleware(registry), h.ChainHealth)
	r.GET("/bridge/classify/:chain/:hash", validation.ChainParamMiddleware(registry), h.ClassifyBridge)
}

// ---- Wallets ----

// CreateWallet handles POST /v1/wallets
func (h *Handler) CreateWallet(c *gin.Context) {
	var req wallet.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	checks := []func() *validation.ValidationError{
		validation.MaxLength("label", req.Label, validation.MaxLabelLength),
		validation.MaxItems("tags", len(req.Tags), validation.MaxTags),
		validation.MaxItems("addresses", len(req.Addresses), validation.MaxWalletAddrs),
	}
	for _, tag := range req.Tags {
		checks = append(checks, validation.MaxLength("tags", tag, validation.MaxTagLength))
	}
	if errs := validation.Validate(checks...); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}
	req.Label = validation.SanitizeString(req.Label, validation.MaxLabelLength)

	w, err := h.tracker.Wallets.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"wallet": w})
}

// ListWallets handles GET /v1/wallets
func (h *Handler) ListWallets(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 500)
	offset := queryInt(c, "offset", 0, 0)

	ws, err := h.tracker.Wallets.List(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	if ws == nil {
		ws = []*wallet.Wallet{}
	}
	c.JSON(http.StatusOK, gin.H{"wallets": ws, "count": len(ws)})
}

// GetWallet handles GET /v1/wallets/:id
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.tracker.Wallets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// DeleteWallet handles DELETE /v1/wallets/:id
func (h *Handler) DeleteWallet(c *gin.Context) {
	id := c.Param("id")
	if err := h.tracker.Wallets.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "walletId": id})
}

// AddAddress handles POST /v1/wallets/:id/addresses
func (h *Handler) AddAddress(c *gin.Context) {
	var ref transactions.Ref
	if err := c.ShouldBindJSON(&ref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	w, err := h.tracker.Wallets.AddAddress(c.Request.Context(), c.Param("id"), ref)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// ---- Workflows ----

// SyncWallet handles POST /v1/wallets/:id/sync
func (h *Handler) SyncWallet(c *gin.Context) {
	res, err := h.tracker.SyncWalletTransactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sync": res})
}

// GetBalances handles GET /v1/wallets/:id/balances
func (h *Handler) GetBalances(c *gin.Context) {
	snap, err := h.tracker.GetBalances(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": snap})
}

// RefreshBalances handles POST /v1/wallets/:id/balances
func (h *Handler) RefreshBalances(c *gin.Context) {
	report, err := h.tracker.RefreshBalances(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": report.Snapshot, "skipped": report.Skipped, "unpriced": report.Unpriced})
}

// RefreshAllBalances handles POST /v1/balances/refresh
func (h *Handler) RefreshAllBalances(c *gin.Context) {
	res, err := h.tracker.UpdateAllBalances(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// AssessWallet handles POST /v1/wallets/:id/assess
func (h *Handler) AssessWallet(c *gin.Context) {
	a, err := h.tracker.AssessWalletRisk(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// GetWalletRisk handles GET /v1/wallets/:id/risk
func (h *Handler) GetWalletRisk(c *gin.Context) {
	a, err := h.tracker.GetWalletRisk(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// ListHighRisk handles GET /v1/risk/high?minScore=60&limit=50
func (h *Handler) ListHighRisk(c *gin.Context) {
	minScore := 60.0
	if v := c.Query("minScore"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "minScore must be a number between 0 and 100"})
			return
		}
		minScore = parsed
	}
	limit := queryInt(c, "limit", 50, 500)

	rows, err := h.tracker.GetHighRiskWallets(c.Request.Context(), minScore, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallets": rows, "count": len(rows), "minScore": minScore})
}

// ---- Chains ----

// ValidateAddress handles GET /v1/addresses/validate?chain=ethereum&address=0x...
func (h *Handler) ValidateAddress(c *gin.Context) {
	chain, addr := c.Query("chain"), c.Query("address")
	if errs := validation.Validate(validation.Required("chain", chain), validation.Required("address", addr)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chain": chain, "address": addr, "result": h.tracker.ValidateAddress(addr, chains.ID(chain))})
}

type chainView struct {
	ID           chains.ID     `json:"id"`
	Name         string        `json:"name"`
	Family       chains.Family `json:"family"`
	ChainID      int64         `json:"chainId,omitempty"`
	NativeSymbol string        `json:"nativeSymbol"`
	Tokens       []string      `json:"tokens"`
	Fallbacks    int           `json:"fallbacks"`
}

// ListChains handles GET /v1/chains. Endpoint URLs may embed API keys and
// are not exposed.
func (h *Handler) ListChains(c *gin.Context) {
	all := h.tracker.Chains()
	out := make([]chainView, 0, len(all))
	for _, cfg := range all {
		v := chainView{
			ID:           cfg.ID,
			Name:         cfg.Name,
			Family:       cfg.Family,
			ChainID:      cfg.ChainID,
			NativeSymbol: cfg.NativeSymbol,
			Tokens:       make([]string, 0, len(cfg.Tokens)),
			Fallbacks:    len(cfg.FallbackURLs),
		}
		for _, t := range cfg.Tokens {
			v.Tokens = append(v.Tokens, t.Symbol)
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"chains": out, "count": len(out)})
}

// ChainHealth handles GET /v1/chains/:chain/health
func (h *Handler) ChainHealth(c *gin.Context) {
	health, err := h.tracker.ChainHealth(c.Request.Context(), chains.ID(c.Param("chain")))
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"health": health})
}

// ClassifyBridge handles GET /v1/bridge/classify/:chain/:hash
func (h *Handler) ClassifyBridge(c *gin.Context) {
	chain := chains.ID(c.Param("chain"))
	hash := c.Param("hash")
	fam, _ := h.tracker.Pool.Registry().Family(chain)
	if !validation.IsValidTxHash(hash, fam) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_hash", "message": "transaction hash is malformed for " + string(fam) + " chains"})
		return
	}
	cls, err := h.tracker.ClassifyBridge(c.Request.Context(), chain, hash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": hash, "classification": cls})
}

// ---- Helpers ----

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, wallet.ErrNotFound), errors.Is(err, risk.ErrNotFound),
		errors.Is(err, balance.ErrNotFound), errors.Is(err, provider.ErrTxNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, address.ErrInvalidAddress):
		status, code = http.StatusBadRequest, "invalid_address"
	case errors.Is(err, wallet.ErrNoAddresses):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, chains.ErrUnknownChain):
		status, code = http.StatusBadRequest, "unknown_chain"
	case errors.Is(err, wallet.ErrDuplicateAddress):
		status, code = http.StatusConflict, "duplicate_address"
	case errors.Is(err, ingest.ErrParseFailure):
		status, code = http.StatusUnprocessableEntity, "parse_failure"
	case errors.Is(err, provider.ErrProviderUnavailable):
		status, code = http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}
	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// queryInt reads a positive integer query parameter, clamped to max when
// max > 0.
func queryInt(c *gin.Context, key string, def, max int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
