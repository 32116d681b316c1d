// Package prices answers USD quotes for token symbols. Sources compose: an
// HTTP source can sit behind a Redis cache, and a Static source serves tests
// and offline runs.
package prices

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Source returns USD prices keyed by upper-case symbol. Symbols the source
// cannot answer are absent from the map; callers value them at zero. A
// non-nil error may come with a partial map.
type Source interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Static is a fixed price table.
type Static map[string]decimal.Decimal

func (s Static) GetPrices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		if p, ok := s[normalize(sym)]; ok {
			out[normalize(sym)] = p
		}
	}
	return out, nil
}

// DefaultIDs maps native and tracked token symbols to CoinGecko coin ids.
func DefaultIDs() map[string]string {
	return map[string]string{
		"ETH":  "ethereum",
		"WETH": "weth",
		"POL":  "polygon-ecosystem-token",
		"BNB":  "binancecoin",
		"AVAX": "avalanche-2",
		"SOL":  "solana",
		"USDC": "usd-coin",
		"USDT": "tether",
	}
}

func normalize(sym string) string { return strings.ToUpper(strings.TrimSpace(sym)) }

// dedupe normalizes symbols and drops empties and repeats, keeping order.
func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = normalize(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
