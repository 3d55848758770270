package template

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dmaraujo/recepcionista/kv"
)

// Registry resolves template names to entries. Lookup walks a fallback
// chain so a missing specific variant degrades to the stage default and
// finally to the generic fallback, never to a hard error at send time.
type Registry interface {
	Resolve(ctx context.Context, name Name) (Template, error)
}

// StaticRegistry serves the bundled catalog only.
type StaticRegistry struct {
	catalog map[Name]Template
}

// NewStaticRegistry builds a registry over the bundled pt-BR catalog,
// optionally overlaid with extra entries.
func NewStaticRegistry(extra ...Template) *StaticRegistry {
	catalog := make(map[Name]Template, len(bundledCatalog)+len(extra))
	for _, t := range bundledCatalog {
		catalog[t.Name] = t
	}
	for _, t := range extra {
		catalog[t.Name] = t
	}
	return &StaticRegistry{catalog: catalog}
}

// Resolve implements Registry with the default chain:
// exact name, then {stage}:message:default, then kumon:fallback:message:generic.
func (r *StaticRegistry) Resolve(_ context.Context, name Name) (Template, error) {
	for _, candidate := range fallbackChain(name) {
		if t, ok := r.catalog[candidate]; ok {
			return t, nil
		}
	}
	return Template{}, ErrNotFound
}

func fallbackChain(name Name) []Name {
	chain := []Name{name}
	if stage := name.Stage(); stage != "" {
		chain = append(chain, Name("kumon:"+stage+":message:default"))
	}
	chain = append(chain, Name("kumon:fallback:message:generic"))
	return chain
}

// KVRegistry overlays remote templates (published through the shared
// cache, e.g. Redis) over the bundled catalog, with a short in-process
// TTL so edits propagate without a deploy.
type KVRegistry struct {
	cache    kv.Cache
	fallback Registry
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	local map[Name]cachedEntry
}

type cachedEntry struct {
	template Template
	found    bool
	expires  time.Time
}

const kvTemplatePrefix = "tpl:"

// NewKVRegistry builds a registry reading remote overrides from cache,
// falling back to the bundled catalog.
func NewKVRegistry(cache kv.Cache, fallback Registry) *KVRegistry {
	return &KVRegistry{
		cache:    cache,
		fallback: fallback,
		ttl:      5 * time.Minute,
		now:      time.Now,
		local:    make(map[Name]cachedEntry),
	}
}

// Resolve implements Registry. Remote lookups fail soft: any cache error
// degrades to the bundled catalog.
func (r *KVRegistry) Resolve(ctx context.Context, name Name) (Template, error) {
	for _, candidate := range fallbackChain(name) {
		if t, ok := r.lookupRemote(ctx, candidate); ok {
			return t, nil
		}
	}
	return r.fallback.Resolve(ctx, name)
}

func (r *KVRegistry) lookupRemote(ctx context.Context, name Name) (Template, bool) {
	r.mu.Lock()
	entry, cached := r.local[name]
	if cached && r.now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.template, entry.found
	}
	r.mu.Unlock()

	raw, ok, err := r.cache.Get(ctx, kvTemplatePrefix+string(name))
	if err != nil {
		return Template{}, false
	}
	var t Template
	found := false
	if ok {
		if err := json.Unmarshal([]byte(raw), &t); err == nil && t.Body != "" {
			found = true
		}
	}

	r.mu.Lock()
	r.local[name] = cachedEntry{template: t, found: found, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return t, found
}
