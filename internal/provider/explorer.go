package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Explorer lists address history through an Etherscan-compatible (v2,
// multichain) API. JSON-RPC nodes have no address index, so this is the only
// way to enumerate an account-model address's transactions.
type Explorer struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// ExplorerOption configures an Explorer.
type ExplorerOption func(*Explorer)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ExplorerOption {
	return func(e *Explorer) { e.http = c }
}

// NewExplorer creates an explorer client.
func NewExplorer(baseURL, apiKey string, opts ...ExplorerOption) *Explorer {
	e := &Explorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerTx struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
}

// TransactionHashes merges normal and token-transfer history for addr and
// returns up to limit distinct hashes, most recent block first.
func (e *Explorer) TransactionHashes(ctx context.Context, chainID int64, addr string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	normal, err := e.list(ctx, chainID, "txlist", addr, limit)
	if err != nil {
		return nil, err
	}
	tokens, err := e.list(ctx, chainID, "tokentx", addr, limit)
	if err != nil {
		return nil, err
	}

	type item struct {
		hash  string
		block uint64
	}
	seen := make(map[string]bool, len(normal)+len(tokens))
	var items []item
	for _, tx := range append(normal, tokens...) {
		h := strings.ToLower(tx.Hash)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		block, _ := strconv.ParseUint(tx.BlockNumber, 10, 64)
		items = append(items, item{hash: tx.Hash, block: block})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].block > items[j].block })
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.hash
	}
	return out, nil
}

func (e *Explorer) list(ctx context.Context, chainID int64, action, addr string, limit int) ([]explorerTx, error) {
	q := url.Values{}
	q.Set("chainid", strconv.FormatInt(chainID, 10))
	q.Set("module", "account")
	q.Set("action", action)
	q.Set("address", addr)
	q.Set("page", "1")
	q.Set("offset", strconv.Itoa(limit))
	q.Set("sort", "desc")
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer %s: status %d", action, resp.StatusCode)
	}

	var body explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("explorer %s: decode: %w", action, err)
	}

	var txs []explorerTx
	if err := json.Unmarshal(body.Result, &txs); err != nil {
		// Errors come back as status "0" with a string result.
		if strings.HasPrefix(body.Message, "No transactions found") {
			return nil, nil
		}
		var msg string
		_ = json.Unmarshal(body.Result, &msg)
		return nil, fmt.Errorf("explorer %s: %s: %s", action, body.Message, msg)
	}
	return txs, nil
}
