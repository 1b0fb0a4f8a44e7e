// Package fetch wraps provider adapters with a shared rate limit,
// classification of failures and bounded retries.
package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/marketsync/market"
)

// Fetcher retrieves records for one entity. A nil since asks for the full
// history; otherwise only records strictly after since are wanted.
type Fetcher interface {
	Fetch(ctx context.Context, e market.Entity, since *market.Key) ([]market.Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, e market.Entity, since *market.Key) ([]market.Record, error)

func (f FetcherFunc) Fetch(ctx context.Context, e market.Entity, since *market.Key) ([]market.Record, error) {
	return f(ctx, e, since)
}

// Registry maps provider names to fetchers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Fetcher)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(name string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = f
}

// Lookup returns the fetcher for name or a permanent error.
func (r *Registry) Lookup(name string) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.providers[name]
	if !ok {
		return nil, &Error{Kind: Permanent, Provider: name, Err: fmt.Errorf("unknown provider %q", name)}
	}
	return f, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
