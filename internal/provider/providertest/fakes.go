// Package providertest provides in-memory chain clients for tests.
package providertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/provider"
)

// ErrDown is returned by fakes marked as down.
var ErrDown = errors.New("providertest: endpoint down")

// ErrClosed is returned by every call made after Close.
var ErrClosed = errors.New("providertest: client closed")

// Account is a scripted provider.AccountClient.
type Account struct {
	mu       sync.Mutex
	down     bool
	height   uint64
	balances map[string]*big.Int
	tokens   map[string]*big.Int
	history  map[string][]string
	txs      map[string]*provider.AccountTx

	TxCalls atomic.Int64
	Closed  atomic.Bool
}

// NewAccount returns an empty, healthy account-model fake.
func NewAccount() *Account {
	return &Account{
		height:   100,
		balances: make(map[string]*big.Int),
		tokens:   make(map[string]*big.Int),
		history:  make(map[string][]string),
		txs:      make(map[string]*provider.AccountTx),
	}
}

// SetDown makes every call fail with ErrDown.
func (a *Account) SetDown(down bool) {
	a.mu.Lock()
	a.down = down
	a.mu.Unlock()
}

// SetBalance sets the native balance of addr.
func (a *Account) SetBalance(addr string, v *big.Int) {
	a.mu.Lock()
	a.balances[strings.ToLower(addr)] = v
	a.mu.Unlock()
}

// SetTokenBalance sets the balance of owner in token.
func (a *Account) SetTokenBalance(token, owner string, v *big.Int) {
	a.mu.Lock()
	a.tokens[strings.ToLower(token)+"|"+strings.ToLower(owner)] = v
	a.mu.Unlock()
}

// AddTx records tx and prepends its hash to the history of every address
// listed in parties, keeping most-recent-first order when added oldest first.
func (a *Account) AddTx(tx *provider.AccountTx, parties ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txs[strings.ToLower(tx.Hash)] = tx
	for _, p := range parties {
		key := strings.ToLower(p)
		a.history[key] = append([]string{tx.Hash}, a.history[key]...)
	}
}

// AddHash lists a hash in addr's history without a retrievable transaction.
func (a *Account) AddHash(addr, hash string) {
	a.mu.Lock()
	key := strings.ToLower(addr)
	a.history[key] = append([]string{hash}, a.history[key]...)
	a.mu.Unlock()
}

func (a *Account) check() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Closed.Load() {
		return ErrClosed
	}
	if a.down {
		return ErrDown
	}
	return nil
}

func (a *Account) Height(ctx context.Context) (uint64, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	return a.height, ctx.Err()
}

func (a *Account) Close() { a.Closed.Store(true) }

func (a *Account) NativeBalance(_ context.Context, addr string) (*big.Int, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.balances[strings.ToLower(addr)]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (a *Account) TokenBalance(_ context.Context, token, owner string) (*big.Int, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.tokens[strings.ToLower(token)+"|"+strings.ToLower(owner)]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (a *Account) TransactionHashes(_ context.Context, addr string, limit int) ([]string, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.history[strings.ToLower(addr)]
	if len(h) > limit {
		h = h[:limit]
	}
	return append([]string(nil), h...), nil
}

func (a *Account) Transaction(_ context.Context, hash string) (*provider.AccountTx, error) {
	a.TxCalls.Add(1)
	if err := a.check(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, ok := a.txs[strings.ToLower(hash)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrTxNotFound, hash)
	}
	return tx, nil
}

// Instruction is a scripted provider.InstructionClient.
type Instruction struct {
	mu       sync.Mutex
	down     bool
	slot     uint64
	balances map[string]*big.Int
	holdings map[string][]provider.TokenHolding
	history  map[string][]string
	txs      map[string]*provider.InstructionTx

	Closed atomic.Bool
}

// NewInstruction returns an empty, healthy instruction-model fake.
func NewInstruction() *Instruction {
	return &Instruction{
		slot:     1000,
		balances: make(map[string]*big.Int),
		holdings: make(map[string][]provider.TokenHolding),
		history:  make(map[string][]string),
		txs:      make(map[string]*provider.InstructionTx),
	}
}

// SetDown makes every call fail with ErrDown.
func (s *Instruction) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// SetBalance sets the native balance of addr in base units.
func (s *Instruction) SetBalance(addr string, v *big.Int) {
	s.mu.Lock()
	s.balances[addr] = v
	s.mu.Unlock()
}

// AddHolding adds a token account owned by owner.
func (s *Instruction) AddHolding(owner string, h provider.TokenHolding) {
	s.mu.Lock()
	s.holdings[owner] = append(s.holdings[owner], h)
	s.mu.Unlock()
}

// AddTx records tx and prepends its signature to each party's history.
func (s *Instruction) AddTx(tx *provider.InstructionTx, parties ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.Signature] = tx
	for _, p := range parties {
		s.history[p] = append([]string{tx.Signature}, s.history[p]...)
	}
}

func (s *Instruction) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed.Load() {
		return ErrClosed
	}
	if s.down {
		return ErrDown
	}
	return nil
}

func (s *Instruction) Height(ctx context.Context) (uint64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.slot, ctx.Err()
}

func (s *Instruction) Close() { s.Closed.Store(true) }

func (s *Instruction) NativeBalance(_ context.Context, addr string) (*big.Int, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.balances[addr]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (s *Instruction) TokenBalances(_ context.Context, owner string) ([]provider.TokenHolding, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.TokenHolding(nil), s.holdings[owner]...), nil
}

func (s *Instruction) Signatures(_ context.Context, addr string, limit int) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[addr]
	if len(h) > limit {
		h = h[:limit]
	}
	return append([]string(nil), h...), nil
}

func (s *Instruction) Transaction(_ context.Context, sig string) (*provider.InstructionTx, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[sig]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrTxNotFound, sig)
	}
	return tx, nil
}

// Dialer hands out pre-built clients by URL and counts dials.
type Dialer struct {
	mu      sync.Mutex
	clients map[string]provider.Client
	Dials   atomic.Int64
}

// NewDialer creates a dialer with no endpoints.
func NewDialer() *Dialer {
	return &Dialer{clients: make(map[string]provider.Client)}
}

// Set registers the client returned for url.
func (d *Dialer) Set(url string, c provider.Client) *Dialer {
	d.mu.Lock()
	d.clients[url] = c
	d.mu.Unlock()
	return d
}

func (d *Dialer) Dial(_ context.Context, _ chains.Config, url string) (provider.Client, error) {
	d.Dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[url]
	if !ok {
		return nil, fmt.Errorf("providertest: no endpoint at %s", url)
	}
	return c, nil
}

// Registry builds a registry where each chain's primary RPC URL is
// "fake://<chain>" and fallbacks are "fake://<chain>/fallback-N".
func Registry(fallbacks int, ids ...chains.ID) *chains.Registry {
	var cfgs []chains.Config
	for _, c := range chains.Defaults() {
		if len(ids) > 0 && !contains(ids, c.ID) {
			continue
		}
		c.RPCURL = PrimaryURL(c.ID)
		c.FallbackURLs = nil
		for i := 0; i < fallbacks; i++ {
			c.FallbackURLs = append(c.FallbackURLs, FallbackURL(c.ID, i))
		}
		cfgs = append(cfgs, c)
	}
	r, err := chains.NewRegistry(cfgs)
	if err != nil {
		panic(err)
	}
	return r
}

// PrimaryURL is the primary endpoint Registry assigns to chain.
func PrimaryURL(chain chains.ID) string { return "fake://" + string(chain) }

// FallbackURL is the i-th fallback endpoint Registry assigns to chain.
func FallbackURL(chain chains.ID, i int) string {
	return fmt.Sprintf("fake://%s/fallback-%d", chain, i)
}

func contains(ids []chains.ID, id chains.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
