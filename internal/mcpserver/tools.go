package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the chainwatch MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolValidateAddress = mcp.NewTool("validate_address",
	mcp.WithDescription(
		"Check whether an address is well-formed for a blockchain and return its canonical form. "+
			"Use this before adding an address to a wallet."),
	mcp.WithString("chain",
		mcp.Required(),
		mcp.Description("Chain id, e.g. 'ethereum', 'polygon', 'bsc', 'arbitrum', 'optimism', 'base', 'avalanche', 'solana'")),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to check (0x-prefixed hex for EVM chains, base58 for Solana)")),
)

var ToolSyncWallet = mcp.NewTool("sync_wallet",
	mcp.WithDescription(
		"Fetch new transactions for every address of a tracked wallet and advance its open bridge transfers. "+
			"Chains that could not be reached are reported, not fatal. Run this before assess_wallet."),
	mcp.WithString("wallet_id",
		mcp.Required(),
		mcp.Description("The wallet id (e.g. 'wal_...')")),
)

var ToolAssessWallet = mcp.NewTool("assess_wallet",
	mcp.WithDescription(
		"Score a wallet's cross-chain risk from its stored history. "+
			"Returns a 0-100 score, a level (very-low to critical), detected patterns and recommendations."),
	mcp.WithString("wallet_id",
		mcp.Required(),
		mcp.Description("The wallet id (e.g. 'wal_...')")),
)

var ToolGetWalletRisk = mcp.NewTool("get_wallet_risk",
	mcp.WithDescription(
		"Get the most recent stored risk assessment of a wallet without re-scoring it."),
	mcp.WithString("wallet_id",
		mcp.Required(),
		mcp.Description("The wallet id (e.g. 'wal_...')")),
)

var ToolListHighRiskWallets = mcp.NewTool("list_high_risk_wallets",
	mcp.WithDescription(
		"List tracked wallets whose latest risk score is at or above a threshold, highest first."),
	mcp.WithNumber("min_score",
		mcp.Description("Minimum overall score, 0-100 (default 60)")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of wallets to return (default 50)")),
)
