package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all chainwatch tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("chainwatch", "1.0.0")
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolValidateAddress, h.HandleValidateAddress)
	s.AddTool(ToolSyncWallet, h.HandleSyncWallet)
	s.AddTool(ToolAssessWallet, h.HandleAssessWallet)
	s.AddTool(ToolGetWalletRisk, h.HandleGetWalletRisk)
	s.AddTool(ToolListHighRiskWallets, h.HandleListHighRiskWallets)

	return s
}
