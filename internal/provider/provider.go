// Package provider defines the music-provider port and its registry.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"listenparty/internal/domain"
)

// MusicProvider searches a catalog and resolves playable streams.
// Implementations report failures with the provider sentinels of the
// domain package (ErrNetwork, ErrRateLimit, ErrAuthentication,
// ErrTrackNotFound, ErrProvider).
type MusicProvider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]domain.Track, error)
	GetTrack(ctx context.Context, id string) (domain.Track, error)
	GetStreamURL(ctx context.Context, id string) (domain.StreamInfo, error)
	IsAvailable(ctx context.Context) bool
}

// Registry maps provider tags to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]MusicProvider
}

// NewRegistry returns a registry holding ps.
func NewRegistry(ps ...MusicProvider) *Registry {
	r := &Registry{providers: make(map[string]MusicProvider)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p MusicProvider) {
	if p == nil {
		panic("MusicProvider cannot be nil for Registry")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider tagged name.
func (r *Registry) Get(name string) (MusicProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrProvider, name)
	}
	return p, nil
}

// All returns every provider sorted by name.
func (r *Registry) All() []MusicProvider {
	r.mu.RLock()
	out := make([]MusicProvider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Available returns the providers that currently report themselves usable.
func (r *Registry) Available(ctx context.Context) []MusicProvider {
	all := r.All()
	out := all[:0]
	for _, p := range all {
		if p.IsAvailable(ctx) {
			out = append(out, p)
		}
	}
	return out
}
