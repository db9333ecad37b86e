package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
)

// Registry maps provider names to completion providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

func (r *Registry) Register(name string, provider Provider) {
	if r == nil || provider == nil {
		return
	}
	key := normalizeProviderName(name)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[key] = provider
}

func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	key := normalizeProviderName(name)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[key]
	return provider, ok
}

// Resolve is Get with an error naming the registered providers.
func (r *Registry) Resolve(name string) (Provider, error) {
	if provider, ok := r.Get(name); ok {
		return provider, nil
	}
	return nil, fmt.Errorf("model provider %q is not registered (available: %s)", name, strings.Join(r.Names(), ", "))
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
