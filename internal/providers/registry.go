package providers

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry resolves llm service ids (from llmservices.json and role
// bindings) to providers, falling back to the default endpoint.
type Registry struct {
	def Provider

	mu   sync.RWMutex
	byID map[string]Provider
	tags map[string][]string // capability tag -> service ids, registration order
}

// NewRegistry creates a registry around the default provider.
func NewRegistry(def Provider) *Registry {
	return &Registry{
		def:  def,
		byID: make(map[string]Provider),
		tags: make(map[string][]string),
	}
}

// Register adds a service under its id with optional capability tags.
func (r *Registry) Register(id string, p Provider, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = p
	for _, tag := range tags {
		r.tags[tag] = append(r.tags[tag], id)
	}
}

// Resolve returns the provider for a service id. Empty ids resolve to the
// default; unknown ids fall back to the default with a warning.
func (r *Registry) Resolve(serviceID string) Provider {
	if serviceID == "" {
		return r.def
	}
	r.mu.RLock()
	p, ok := r.byID[serviceID]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("unknown llm service id, using default endpoint", "service", serviceID)
		return r.def
	}
	return p
}

// ByTag returns the first registered service carrying the capability tag,
// nil when none does.
func (r *Registry) ByTag(tag string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.tags[tag]
	if len(ids) == 0 {
		return nil
	}
	return r.byID[ids[0]]
}

// Default returns the default provider.
func (r *Registry) Default() Provider { return r.def }

// ServiceIDs lists the registered service ids (registration order not
// guaranteed).
func (r *Registry) ServiceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}

// ServiceInfo describes one registered service for prompt rendering.
type ServiceInfo struct {
	ID    string
	Model string
	Tags  []string
}

// Catalog lists all registered services with their capability tags,
// sorted by id so rendered prompts stay stable.
func (r *Registry) Catalog() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byService := make(map[string][]string)
	for tag, ids := range r.tags {
		for _, id := range ids {
			byService[id] = append(byService[id], tag)
		}
	}
	out := make([]ServiceInfo, 0, len(r.byID))
	for id, p := range r.byID {
		tags := byService[id]
		sort.Strings(tags)
		out = append(out, ServiceInfo{ID: id, Model: p.DefaultModel(), Tags: tags})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
