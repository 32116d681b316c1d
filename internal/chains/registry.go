package chains

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrUnknownChain is returned for chain ids not present in the registry.
var ErrUnknownChain = errors.New("chains: unknown chain")

// Registry is the process-wide chain table. The set of chains is fixed at
// construction; only the active RPC URL of a chain may change, and it does so
// by swapping in a new Config value rather than mutating the old one.
type Registry struct {
	order   []ID
	configs map[ID]*atomic.Pointer[Config]
}

// NewRegistry validates and indexes the given chain configs.
func NewRegistry(cfgs []Config) (*Registry, error) {
	r := &Registry{configs: make(map[ID]*atomic.Pointer[Config], len(cfgs))}
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.configs[c.ID]; dup {
			return nil, fmt.Errorf("chains: duplicate chain %s", c.ID)
		}
		p := &atomic.Pointer[Config]{}
		cp := c.clone()
		p.Store(&cp)
		r.configs[c.ID] = p
		r.order = append(r.order, c.ID)
	}
	return r, nil
}

// MustDefaultRegistry builds a registry from Defaults. It panics only if the
// built-in table is invalid.
func MustDefaultRegistry() *Registry {
	r, err := NewRegistry(Defaults())
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns a copy of the current config for a chain.
func (r *Registry) Get(id ID) (Config, error) {
	p, ok := r.configs[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownChain, id)
	}
	return p.Load().clone(), nil
}

// Has reports whether the chain is registered.
func (r *Registry) Has(id ID) bool {
	_, ok := r.configs[id]
	return ok
}

// IDs returns the registered chain ids in registration order.
func (r *Registry) IDs() []ID {
	return append([]ID(nil), r.order...)
}

// All returns copies of every config in registration order.
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.configs[id].Load().clone())
	}
	return out
}

// Family returns the family of a chain.
func (r *Registry) Family(id ID) (Family, error) {
	c, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return c.Family, nil
}

// Promote makes url the active RPC endpoint of a chain. The previous primary
// is moved to the end of the fallback list so it can be retried later.
func (r *Registry) Promote(id ID, url string) error {
	p, ok := r.configs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, id)
	}
	for {
		old := p.Load()
		if old.RPCURL == url {
			return nil
		}
		next := old.clone()
		fallbacks := make([]string, 0, len(old.FallbackURLs))
		for _, u := range old.FallbackURLs {
			if u != url {
				fallbacks = append(fallbacks, u)
			}
		}
		next.FallbackURLs = append(fallbacks, old.RPCURL)
		next.RPCURL = url
		if p.CompareAndSwap(old, &next) {
			return nil
		}
	}
}
