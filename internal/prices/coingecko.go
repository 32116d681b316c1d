package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the public CoinGecko API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

type quote struct {
	price   decimal.Decimal
	fetched time.Time
}

// HTTPSource queries a CoinGecko-style simple price endpoint and keeps the
// last answer per symbol for ttl. When the API fails, the last known price
// is served.
type HTTPSource struct {
	baseURL string
	ids     map[string]string
	ttl     time.Duration
	client  *http.Client

	mu    sync.RWMutex
	cache map[string]quote
}

// NewHTTPSource creates a source. ids maps symbols to coin ids; nil uses
// DefaultIDs.
func NewHTTPSource(baseURL string, ids map[string]string, ttl time.Duration) *HTTPSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if ids == nil {
		ids = DefaultIDs()
	}
	norm := make(map[string]string, len(ids))
	for sym, id := range ids {
		norm[normalize(sym)] = id
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		ids:     norm,
		ttl:     ttl,
		client:  &http.Client{Timeout: 5 * time.Second},
		cache:   make(map[string]quote),
	}
}

func (s *HTTPSource) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	var stale []string

	s.mu.RLock()
	for _, sym := range dedupe(symbols) {
		if _, ok := s.ids[sym]; !ok {
			continue
		}
		if q, ok := s.cache[sym]; ok && time.Since(q.fetched) < s.ttl {
			out[sym] = q.price
			continue
		}
		stale = append(stale, sym)
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return out, nil
	}

	fresh, err := s.fetch(ctx, stale)
	if err != nil {
		// fall back to whatever was last known
		s.mu.RLock()
		for _, sym := range stale {
			if q, ok := s.cache[sym]; ok {
				out[sym] = q.price
			}
		}
		s.mu.RUnlock()
		return out, err
	}

	now := time.Now()
	s.mu.Lock()
	for sym, p := range fresh {
		s.cache[sym] = quote{price: p, fetched: now}
		out[sym] = p
	}
	s.mu.Unlock()
	return out, nil
}

// fetch queries the simple price API for the given symbols.
func (s *HTTPSource) fetch(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	bySymbol := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		id := s.ids[sym]
		bySymbol[sym] = id
		ids = append(ids, id)
	}
	sort.Strings(ids)

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var result map[string]struct {
		USD decimal.NullDecimal `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(symbols))
	for sym, id := range bySymbol {
		r, ok := result[id]
		if !ok || !r.USD.Valid || !r.USD.Decimal.IsPositive() {
			continue
		}
		out[sym] = r.USD.Decimal
	}
	return out, nil
}
