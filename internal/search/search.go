// Package search provides the web search backends the researcher uses
// to find pages worth reading.
//
// Each backend implements the [Provider] interface and is registered by
// name on a [Manager], which routes queries to the configured primary.
package search

import (
	"context"
	"fmt"

	"github.com/artifex-labs/artifex/internal/config"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "brave").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend handles queries.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// FromConfig builds a manager with every provider the config enables.
func FromConfig(cfg config.SearchConfig) *Manager {
	m := NewManager(cfg.Provider)
	if cfg.SearXNGURL != "" {
		m.Register(NewSearXNG(cfg.SearXNGURL))
	}
	if cfg.BraveKey != "" {
		m.Register(NewBrave(cfg.BraveKey))
	}
	return m
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[m.primary]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", m.primary)
	}
	return p.Search(ctx, query, opts)
}

// Configured reports whether the primary provider is registered.
func (m *Manager) Configured() bool {
	_, ok := m.providers[m.primary]
	return ok
}

// FirstLink returns the URL of the first result that has one, or empty
// if no result carries a URL. The researcher follows only the top link.
func FirstLink(results []Result) string {
	for _, r := range results {
		if r.URL != "" {
			return r.URL
		}
	}
	return ""
}
