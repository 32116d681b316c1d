// Package chains holds the static per-chain configuration every other
// component reads: RPC endpoints, fallbacks, explorer, native currency and the
// chain family that decides how transactions are parsed.
package chains

import (
	"fmt"
	"strings"
)

// ID identifies a chain (e.g. "ethereum", "solana").
type ID string

// Family is the transaction model of a chain.
type Family string

const (
	// AccountModel chains expose explicit sender/receiver/value fields (EVM).
	AccountModel Family = "account-model"
	// InstructionModel chains carry program instructions; transfers are
	// inferred from balance deltas.
	InstructionModel Family = "instruction-model"
)

// Well-known chain identifiers.
const (
	Ethereum  ID = "ethereum"
	Polygon   ID = "polygon"
	BSC       ID = "bsc"
	Arbitrum  ID = "arbitrum"
	Optimism  ID = "optimism"
	Base      ID = "base"
	Avalanche ID = "avalanche"
	Solana    ID = "solana"
)

// Token is a fungible token tracked on a chain. Address is the ERC-20
// contract on account-model chains and the mint on instruction-model chains.
type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
}

// Config is the immutable configuration of one chain.
type Config struct {
	ID             ID       `json:"id"`
	Name           string   `json:"name"`
	Family         Family   `json:"family"`
	ChainID        int64    `json:"chainId,omitempty"`
	RPCURL         string   `json:"rpcUrl"`
	FallbackURLs   []string `json:"fallbackUrls,omitempty"`
	ExplorerURL    string   `json:"explorerUrl"`
	NativeSymbol   string   `json:"nativeSymbol"`
	NativeDecimals int32    `json:"nativeDecimals"`
	Tokens         []Token  `json:"tokens,omitempty"`
}

// IsAccountModel reports whether the chain uses the account model.
func (c Config) IsAccountModel() bool { return c.Family == AccountModel }

// TokenByAddress looks up a tracked token by contract/mint address.
func (c Config) TokenByAddress(addr string) (Token, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Address, addr) {
			return t, true
		}
	}
	return Token{}, false
}

// Validate checks the fields every component relies on.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("chains: missing id")
	}
	if c.Family != AccountModel && c.Family != InstructionModel {
		return fmt.Errorf("chains: %s: unknown family %q", c.ID, c.Family)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("chains: %s: rpc url required", c.ID)
	}
	if c.NativeSymbol == "" {
		return fmt.Errorf("chains: %s: native symbol required", c.ID)
	}
	return nil
}

// clone returns a deep copy so callers can never mutate registry state.
func (c Config) clone() Config {
	out := c
	out.FallbackURLs = append([]string(nil), c.FallbackURLs...)
	out.Tokens = append([]Token(nil), c.Tokens...)
	return out
}

// Defaults returns the built-in mainnet chain table.
func Defaults() []Config {
	return []Config{
		{
			ID: Ethereum, Name: "Ethereum", Family: AccountModel, ChainID: 1,
			RPCURL:       "https://eth.llamarpc.com",
			FallbackURLs: []string{"https://rpc.ankr.com/eth", "https://ethereum-rpc.publicnode.com"},
			ExplorerURL:  "https://etherscan.io", NativeSymbol: "ETH", NativeDecimals: 18,
			Tokens: []Token{
				{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
				{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
				{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
			},
		},
		{
			ID: Polygon, Name: "Polygon", Family: AccountModel, ChainID: 137,
			RPCURL:       "https://polygon-rpc.com",
			FallbackURLs: []string{"https://rpc.ankr.com/polygon", "https://polygon-bor-rpc.publicnode.com"},
			ExplorerURL:  "https://polygonscan.com", NativeSymbol: "POL", NativeDecimals: 18,
			Tokens: []Token{
				{Symbol: "USDC", Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
				{Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
			},
		},
		{
			ID: BSC, Name: "BNB Smart Chain", Family: AccountModel, ChainID: 56,
			RPCURL:       "https://bsc-dataseed.binance.org",
			FallbackURLs: []string{"https://rpc.ankr.com/bsc", "https://bsc-rpc.publicnode.com"},
			ExplorerURL:  "https://bscscan.com", NativeSymbol: "BNB", NativeDecimals: 18,
			Tokens: []Token{
				{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
			},
		},
		{
			ID: Arbitrum, Name: "Arbitrum One", Family: AccountModel, ChainID: 42161,
			RPCURL:       "https://arb1.arbitrum.io/rpc",
			FallbackURLs: []string{"https://rpc.ankr.com/arbitrum"},
			ExplorerURL:  "https://arbiscan.io", NativeSymbol: "ETH", NativeDecimals: 18,
			Tokens: []Token{
				{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
			},
		},
		{
			ID: Optimism, Name: "Optimism", Family: AccountModel, ChainID: 10,
			RPCURL:       "https://mainnet.optimism.io",
			FallbackURLs: []string{"https://rpc.ankr.com/optimism"},
			ExplorerURL:  "https://optimistic.etherscan.io", NativeSymbol: "ETH", NativeDecimals: 18,
			Tokens: []Token{
				{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
			},
		},
		{
			ID: Base, Name: "Base", Family: AccountModel, ChainID: 8453,
			RPCURL:       "https://mainnet.base.org",
			FallbackURLs: []string{"https://base-rpc.publicnode.com"},
			ExplorerURL:  "https://basescan.org", NativeSymbol: "ETH", NativeDecimals: 18,
			Tokens: []Token{
				{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
			},
		},
		{
			ID: Avalanche, Name: "Avalanche C-Chain", Family: AccountModel, ChainID: 43114,
			RPCURL:       "https://api.avax.network/ext/bc/C/rpc",
			FallbackURLs: []string{"https://rpc.ankr.com/avalanche"},
			ExplorerURL:  "https://snowtrace.io", NativeSymbol: "AVAX", NativeDecimals: 18,
			Tokens: []Token{
				{Symbol: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
			},
		},
		{
			ID: Solana, Name: "Solana", Family: InstructionModel,
			RPCURL:       "https://api.mainnet-beta.solana.com",
			FallbackURLs: []string{"https://solana-rpc.publicnode.com"},
			ExplorerURL:  "https://solscan.io", NativeSymbol: "SOL", NativeDecimals: 9,
			Tokens: []Token{
				{Symbol: "USDC", Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
				{Symbol: "USDT", Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
			},
		},
	}
}
