package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/risk"
	"github.com/mbd888/chainwatch/internal/tracker"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleValidateAddress checks an address format.
func (h *Handlers) HandleValidateAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chain := req.GetString("chain", "")
	addr := req.GetString("address", "")
	if chain == "" || addr == "" {
		return mcp.NewToolResultError("chain and address are required"), nil
	}

	res, err := h.client.ValidateAddress(ctx, chain, addr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to validate address: %v", err)), nil
	}
	return mcp.NewToolResultText(formatValidation(chain, addr, res)), nil
}

// HandleSyncWallet pulls new transactions for a wallet.
func (h *Handlers) HandleSyncWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	walletID := req.GetString("wallet_id", "")
	if walletID == "" {
		return mcp.NewToolResultError("wallet_id is required"), nil
	}

	res, err := h.client.SyncWallet(ctx, walletID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to sync wallet: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSync(res)), nil
}

// HandleAssessWallet re-scores a wallet.
func (h *Handlers) HandleAssessWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	walletID := req.GetString("wallet_id", "")
	if walletID == "" {
		return mcp.NewToolResultError("wallet_id is required"), nil
	}

	a, err := h.client.AssessWallet(ctx, walletID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess wallet: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAssessment(a)), nil
}

// HandleGetWalletRisk returns the stored assessment.
func (h *Handlers) HandleGetWalletRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	walletID := req.GetString("wallet_id", "")
	if walletID == "" {
		return mcp.NewToolResultError("wallet_id is required"), nil
	}

	a, err := h.client.GetWalletRisk(ctx, walletID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get wallet risk: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAssessment(a)), nil
}

// HandleListHighRiskWallets lists wallets above a score threshold.
func (h *Handlers) HandleListHighRiskWallets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minScore := req.GetFloat("min_score", 0)
	limit := int(req.GetFloat("limit", 0))
	if minScore < 0 || minScore > 100 {
		return mcp.NewToolResultError("min_score must be between 0 and 100"), nil
	}
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}

	wallets, err := h.client.ListHighRisk(ctx, minScore, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list high-risk wallets: %v", err)), nil
	}
	return mcp.NewToolResultText(formatHighRisk(wallets)), nil
}

// ---- Formatters ----

func formatValidation(chain, addr string, res address.Result) string {
	if !res.Valid {
		return fmt.Sprintf("%s is NOT a valid %s address: %s", addr, chain, res.Reason)
	}
	if res.Normalized != "" && res.Normalized != addr {
		return fmt.Sprintf("%s is a valid %s address.\nCanonical form: %s", addr, chain, res.Normalized)
	}
	return fmt.Sprintf("%s is a valid %s address.", addr, chain)
}

func formatSync(res *tracker.SyncResult) string {
	var sb strings.Builder
	if res.SyncReport != nil {
		fmt.Fprintf(&sb, "Synced wallet %s: %d new transaction(s), %d chain(s) ok, %d failed.\n",
			res.WalletID, res.Inserted, res.Succeeded, res.Failed)
		for _, c := range res.Chains {
			if c.Error != "" {
				fmt.Fprintf(&sb, "- %s %s: unavailable (%s)\n", c.Chain, c.Address, c.Error)
				continue
			}
			fmt.Fprintf(&sb, "- %s %s: fetched %d, new %d, bridge transfers %d\n",
				c.Chain, c.Address, c.Fetched, c.Inserted, c.Transfers)
			if len(c.TxErrors) > 0 {
				fmt.Fprintf(&sb, "  %d transaction(s) skipped\n", len(c.TxErrors))
			}
		}
	}
	fmt.Fprintf(&sb, "Bridge transfers: %d pending, %d completed.", res.Bridges.Pending, res.Bridges.Completed)
	if res.ReconcileError != "" {
		fmt.Fprintf(&sb, "\nBridge reconciliation failed: %s", res.ReconcileError)
	}
	return sb.String()
}

func formatAssessment(a *risk.Assessment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Wallet %s risk: %.0f/100 (%s)\n", a.WalletID, a.Score, a.Level)
	fmt.Fprintf(&sb, "Sub-scores: chain %.0f, bridge %.0f, address reuse %.0f, timing %.0f\n",
		a.SubScores.Chain, a.SubScores.Bridge, a.SubScores.Reuse, a.SubScores.Timing)
	fmt.Fprintf(&sb, "Assessed at: %s\n", a.AssessedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	if len(a.Patterns) > 0 {
		sb.WriteString("\nPatterns:\n")
		for _, p := range a.Patterns {
			fmt.Fprintf(&sb, "- %s (x%d): %s\n", p.Kind, p.Count, p.Description)
		}
	}
	if len(a.Recommendations) > 0 {
		sb.WriteString("\nRecommendations:\n")
		for _, r := range a.Recommendations {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	if len(a.Skipped) > 0 {
		sb.WriteString("\nNot assessed:\n")
		for _, s := range a.Skipped {
			fmt.Fprintf(&sb, "- %s: %s\n", s.Chain, s.Reason)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatHighRisk(wallets []tracker.HighRiskWallet) string {
	if len(wallets) == 0 {
		return "No wallets at or above the threshold."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d high-risk wallet(s):\n\n", len(wallets))
	for i, w := range wallets {
		name := w.WalletID
		if w.Label != "" {
			name = fmt.Sprintf("%s (%s)", w.Label, w.WalletID)
		}
		fmt.Fprintf(&sb, "%d. %s: %.0f/100 %s\n", i+1, name, w.Score, w.Level)
		if w.PrimaryAddress != "" {
			fmt.Fprintf(&sb, "   %s %s\n", w.PrimaryChain, w.PrimaryAddress)
		}
		if len(w.Patterns) > 0 {
			fmt.Fprintf(&sb, "   patterns: %s\n", strings.Join(w.Patterns, ", "))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
