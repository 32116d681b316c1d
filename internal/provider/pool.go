package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/circuitbreaker"
	"github.com/mbd888/chainwatch/internal/metrics"
	"github.com/mbd888/chainwatch/internal/ratelimit"
	"github.com/mbd888/chainwatch/internal/retry"
)

// Dialer constructs a client for one endpoint of a chain.
type Dialer interface {
	Dial(ctx context.Context, cfg chains.Config, url string) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg chains.Config, url string) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, cfg chains.Config, url string) (Client, error) {
	return f(ctx, cfg, url)
}

// NetDialer dials real endpoints: go-ethereum for account-model chains and
// solana-go for instruction-model chains.
type NetDialer struct {
	History HistorySource
}

func (d NetDialer) Dial(ctx context.Context, cfg chains.Config, url string) (Client, error) {
	switch cfg.Family {
	case chains.AccountModel:
		return DialEVM(ctx, url, d.History, cfg.ChainID)
	case chains.InstructionModel:
		return DialSolana(url), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrWrongFamily, cfg.Family)
	}
}

type cached struct {
	client Client
	url    string
}

// Pool caches one client per chain. Pools are cheap; independent workers may
// each hold their own. The Registry is shared, so a fallback promotion made
// by one pool is seen by every other pool on its next Get.
type Pool struct {
	registry      *chains.Registry
	dialer        Dialer
	breaker       *circuitbreaker.Breaker
	limiter       *ratelimit.Limiter
	policy        retry.Policy
	healthTimeout time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	clients map[chains.ID]*cached
	// retired holds replaced clients. Callers may still be mid-call on
	// them, so they stay open until Close.
	retired []Client
}

// Option configures a Pool.
type Option func(*Pool)

// WithHealthTimeout bounds each height probe.
func WithHealthTimeout(d time.Duration) Option {
	return func(p *Pool) { p.healthTimeout = d }
}

// WithRateLimit limits outbound calls per chain. A non-positive rate disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Pool) {
		p.limiter = ratelimit.New(ratelimit.Config{RequestsPerSecond: perSecond, BurstSize: burst, CleanupInterval: 0})
	}
}

// WithBreaker replaces the per-chain circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(p *Pool) { p.breaker = b }
}

// WithRetryPolicy replaces the retry policy used by Do.
func WithRetryPolicy(rp retry.Policy) Option {
	return func(p *Pool) { p.policy = rp }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates an empty pool over the registry.
func NewPool(registry *chains.Registry, dialer Dialer, opts ...Option) *Pool {
	p := &Pool{
		registry:      registry,
		dialer:        dialer,
		breaker:       circuitbreaker.New(5, 30*time.Second),
		limiter:       ratelimit.New(ratelimit.Config{}),
		policy:        retry.DefaultPolicy(),
		healthTimeout: 5 * time.Second,
		logger:        slog.Default(),
		clients:       make(map[chains.ID]*cached),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "provider_pool")
	return p
}

// Registry returns the chain registry the pool reads.
func (p *Pool) Registry() *chains.Registry { return p.registry }

// Get returns the cached client for a chain, dialing the active URL on first
// use. Two concurrent first calls may both dial; the loser's client is closed
// and the winner's returned, so no reference is ever lost.
func (p *Pool) Get(ctx context.Context, chain chains.ID) (Client, error) {
	cfg, err := p.registry.Get(chain)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if c, ok := p.clients[chain]; ok && c.url == cfg.RPCURL {
		p.mu.Unlock()
		return c.client, nil
	}
	p.mu.Unlock()

	client, err := p.dialer.Dial(ctx, cfg, cfg.RPCURL)
	if err != nil {
		return nil, &UnavailableError{Chain: chain, Err: err}
	}
	return p.store(chain, cfg.RPCURL, client), nil
}

// store publishes a freshly dialed client unless another goroutine already
// published one for the same URL.
func (p *Pool) store(chain chains.ID, url string, client Client) Client {
	p.mu.Lock()
	existing, ok := p.clients[chain]
	if ok && existing.url == url {
		p.mu.Unlock()
		client.Close()
		return existing.client
	}
	p.clients[chain] = &cached{client: client, url: url}
	if ok {
		p.retired = append(p.retired, existing.client)
	}
	p.mu.Unlock()
	return client
}

// Account returns the client of an account-model chain.
func (p *Pool) Account(ctx context.Context, chain chains.ID) (AccountClient, error) {
	c, err := p.Get(ctx, chain)
	if err != nil {
		return nil, err
	}
	ac, ok := c.(AccountClient)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not account-model", ErrWrongFamily, chain)
	}
	return ac, nil
}

// Instruction returns the client of an instruction-model chain.
func (p *Pool) Instruction(ctx context.Context, chain chains.ID) (InstructionClient, error) {
	c, err := p.Get(ctx, chain)
	if err != nil {
		return nil, err
	}
	ic, ok := c.(InstructionClient)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not instruction-model", ErrWrongFamily, chain)
	}
	return ic, nil
}

// TestHealth probes the chain's active endpoint with a bounded height read.
func (p *Pool) TestHealth(ctx context.Context, chain chains.ID) Health {
	client, err := p.Get(ctx, chain)
	if err != nil {
		metrics.ProviderHealth.WithLabelValues(string(chain)).Set(0)
		return Health{Chain: chain, Error: err.Error()}
	}
	cfg, _ := p.registry.Get(chain)
	return p.probe(ctx, chain, cfg.RPCURL, client)
}

func (p *Pool) probe(ctx context.Context, chain chains.ID, url string, client Client) Health {
	ctx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()

	start := time.Now()
	height, err := client.Height(ctx)
	latency := time.Since(start)

	h := Health{Chain: chain, URL: url, LatencyMs: latency.Milliseconds(), Height: height}
	metrics.ProviderLatency.WithLabelValues(string(chain)).Observe(latency.Seconds())
	if err != nil {
		h.Error = err.Error()
		metrics.ProviderHealth.WithLabelValues(string(chain)).Set(0)
		return h
	}
	h.Healthy = true
	metrics.ProviderHealth.WithLabelValues(string(chain)).Set(1)
	return h
}

// SwitchToFallback health-tests each fallback URL in order and promotes the
// first healthy one, replacing the cached client. It returns false when every
// fallback fails; the chain is then unavailable for the current operation.
func (p *Pool) SwitchToFallback(ctx context.Context, chain chains.ID) bool {
	cfg, err := p.registry.Get(chain)
	if err != nil {
		return false
	}

	for _, url := range cfg.FallbackURLs {
		if ctx.Err() != nil {
			break
		}
		client, err := p.dialer.Dial(ctx, cfg, url)
		if err != nil {
			p.logger.Warn("fallback dial failed", "chain", chain, "error", err)
			continue
		}
		if h := p.probe(ctx, chain, url, client); !h.Healthy {
			p.logger.Warn("fallback unhealthy", "chain", chain, "error", h.Error)
			client.Close()
			continue
		}
		if err := p.registry.Promote(chain, url); err != nil {
			client.Close()
			return false
		}

		p.mu.Lock()
		if old := p.clients[chain]; old != nil {
			p.retired = append(p.retired, old.client)
		}
		p.clients[chain] = &cached{client: client, url: url}
		p.mu.Unlock()

		p.breaker.Reset(string(chain))
		metrics.ProviderFallbackSwitches.WithLabelValues(string(chain), "switched").Inc()
		p.logger.Info("switched to fallback endpoint", "chain", chain, "fallback_index", indexOf(cfg.FallbackURLs, url))
		return true
	}

	metrics.ProviderFallbackSwitches.WithLabelValues(string(chain), "exhausted").Inc()
	return false
}

// Ready probes the active endpoint and fails over when it is unhealthy. It
// returns an *UnavailableError when no endpoint answers.
func (p *Pool) Ready(ctx context.Context, chain chains.ID) error {
	h := p.TestHealth(ctx, chain)
	if h.Healthy {
		return nil
	}
	if p.SwitchToFallback(ctx, chain) {
		return nil
	}
	return &UnavailableError{Chain: chain, Err: errors.New(h.Error)}
}

// Do runs one provider call under the chain's breaker, rate limiter and
// retry policy. ErrTxNotFound is treated as an answer, not a failure.
func (p *Pool) Do(ctx context.Context, chain chains.ID, fn func(context.Context) error) error {
	key := string(chain)
	if !p.breaker.Allow(key) {
		return &UnavailableError{Chain: chain, Err: ErrCircuitOpen}
	}

	err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx, key); err != nil {
			return retry.Permanent(err)
		}
		err := fn(ctx)
		if errors.Is(err, ErrTxNotFound) {
			return retry.Permanent(err)
		}
		return err
	})

	switch {
	case err == nil, errors.Is(err, ErrTxNotFound):
		p.breaker.RecordSuccess(key)
	case ctx.Err() == nil:
		p.breaker.RecordFailure(key)
	}
	return err
}

// Refresh drops every cached client; the next Get reconnects. Dropped
// clients keep serving in-flight calls and are released by Close.
func (p *Pool) Refresh() {
	p.mu.Lock()
	for _, c := range p.clients {
		p.retired = append(p.retired, c.client)
	}
	p.clients = make(map[chains.ID]*cached)
	p.mu.Unlock()
}

// Close releases all clients and background resources.
func (p *Pool) Close() {
	p.mu.Lock()
	all := p.retired
	for _, c := range p.clients {
		all = append(all, c.client)
	}
	p.clients = make(map[chains.ID]*cached)
	p.retired = nil
	p.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	p.limiter.Stop()
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
