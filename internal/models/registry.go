// Package models implements the Model Registry (spec §4.E): resolving
// (provider, model_alias) to a ModelDescriptor, enforcing restriction
// lists, and surfacing deprecation warnings. Grounded on the teacher's
// internal/provider/model_cache.go alias/catalog conventions, with
// suggestion ranking from github.com/agnivade/levenshtein.
package models

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"gateway/internal/domain"
)

// aliasTokens fall through to the provider's configured default model.
var aliasTokens = map[string]bool{"auto": true, "default": true, "undefined": true}

// Registry is populated during startup and only read afterwards; reads
// take the shared read lock. The one structure written at request time
// is the deprecation-warning map, guarded by its own mutex.
type Registry struct {
	mu sync.RWMutex

	// descriptors is provider -> model id -> descriptor.
	descriptors map[string]map[string]*domain.ModelDescriptor
	// aliases is provider -> canonical alias -> model id.
	aliases map[string]map[string]string
	// defaults is provider -> default model id, used for auto/default/undefined.
	defaults map[string]string
	// prefixes is provider -> prefix required before handing an id to the adapter.
	prefixes map[string]string

	restrictions map[string]domain.ModelRestrictions

	warned   map[string]bool // "provider/id" already warned this process
	warnedMu sync.Mutex
}

func New() *Registry {
	return &Registry{
		descriptors:  make(map[string]map[string]*domain.ModelDescriptor),
		aliases:      make(map[string]map[string]string),
		defaults:     make(map[string]string),
		prefixes:     make(map[string]string),
		restrictions: make(map[string]domain.ModelRestrictions),
		warned:       make(map[string]bool),
	}
}

// Register adds one model descriptor to the catalog. Call only during
// startup, before any Resolve call is reachable from traffic.
func (r *Registry) Register(provider string, d *domain.ModelDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.descriptors[provider] == nil {
		r.descriptors[provider] = make(map[string]*domain.ModelDescriptor)
	}
	r.descriptors[provider][d.ID] = d
}

// RegisterAlias maps a canonical alias to a model id for provider.
func (r *Registry) RegisterAlias(provider, alias, modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aliases[provider] == nil {
		r.aliases[provider] = make(map[string]string)
	}
	r.aliases[provider][alias] = modelID
}

// SetDefault sets the model id used for auto/default/undefined.
func (r *Registry) SetDefault(provider, modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[provider] = modelID
}

// SetPrefix sets a prefix some providers require before the model id
// reaches the adapter (e.g. a "models/" prefix).
func (r *Registry) SetPrefix(provider, prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[provider] = prefix
}

// SetRestrictions installs the allow/pattern/block lists for provider.
func (r *Registry) SetRestrictions(provider string, restrictions domain.ModelRestrictions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restrictions[provider] = restrictions
}

// ResolveResult is the outcome of a successful Resolve.
type ResolveResult struct {
	Descriptor  *domain.ModelDescriptor
	NormalizedID string // the id/alias after prefixing, ready for the adapter
	Deprecated  bool
	Replacement string
	// ShouldWarn is true only the first time this process resolves this
	// (provider, id) pair as deprecated — spec §4.E: "a single warning
	// per process per (provider, id)". Callers log on this, not on
	// Deprecated, which is true on every resolution.
	ShouldWarn bool
}

// Resolve runs alias resolution, restriction enforcement, and
// normalization for one (provider, alias) pair (spec §4.E, used by
// Executor step 4).
func (r *Registry) Resolve(provider, alias string) (*ResolveResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := alias
	if aliasTokens[strings.ToLower(alias)] {
		def, ok := r.defaults[provider]
		if !ok {
			return nil, fmt.Errorf("models: no default configured for provider %q", provider)
		}
		id = def
	} else if canon, ok := r.aliases[provider][alias]; ok {
		id = canon
	}

	if err := r.checkRestrictions(provider, id); err != nil {
		return nil, err
	}

	d := r.descriptors[provider][id]
	if d == nil {
		// Unknown models are allowed through if not blocked — the registry
		// only restricts, it does not require a prior catalog entry.
		d = &domain.ModelDescriptor{Provider: provider, ID: id}
	}

	normalized := id
	if prefix := r.prefixes[provider]; prefix != "" && !strings.HasPrefix(normalized, prefix) {
		normalized = prefix + normalized
	}

	res := &ResolveResult{Descriptor: d, NormalizedID: normalized}
	if d.Deprecated {
		res.Deprecated = true
		res.Replacement = d.Replacement
		res.ShouldWarn = r.warnDeprecatedOnce(provider, id)
	}
	return res, nil
}

func (r *Registry) checkRestrictions(provider, id string) error {
	restr, ok := r.restrictions[provider]
	if !ok {
		return nil
	}
	for _, blocked := range restr.BlockedModels {
		if blocked == id {
			return &domain.ModelNotAllowedError{Provider: provider, Model: id, Suggestions: r.suggest(provider, id, restr)}
		}
	}
	if len(restr.AllowedModels) == 0 && len(restr.AllowedPatterns) == 0 {
		return nil
	}
	for _, allowed := range restr.AllowedModels {
		if allowed == id {
			return nil
		}
	}
	for _, pattern := range restr.AllowedPatterns {
		if ok, _ := path.Match(pattern, id); ok {
			return nil
		}
	}
	return &domain.ModelNotAllowedError{Provider: provider, Model: id, Suggestions: r.suggest(provider, id, restr)}
}

// suggest returns up to three candidates from the allow-list (exact
// entries plus pattern expansions against the known catalog), ranked by
// Levenshtein distance to id (spec §4.E: "up to three suggestions").
func (r *Registry) suggest(provider, id string, restr domain.ModelRestrictions) []string {
	candidates := map[string]bool{}
	for _, a := range restr.AllowedModels {
		candidates[a] = true
	}
	for _, pattern := range restr.AllowedPatterns {
		for known := range r.descriptors[provider] {
			if ok, _ := path.Match(pattern, known); ok {
				candidates[known] = true
			}
		}
	}
	list := make([]string, 0, len(candidates))
	for c := range candidates {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		di := levenshtein.ComputeDistance(id, list[i])
		dj := levenshtein.ComputeDistance(id, list[j])
		if di != dj {
			return di < dj
		}
		return list[i] < list[j]
	})
	if len(list) > 3 {
		list = list[:3]
	}
	return list
}

// warnDeprecatedOnce reports whether this is the first time this process
// has resolved (provider, id) as deprecated. The caller (Executor) owns
// the structured-log emission; Resolve only guards the one-shot-per-
// process contract so callers never need to deduplicate themselves.
func (r *Registry) warnDeprecatedOnce(provider, id string) bool {
	key := provider + "/" + id
	r.warnedMu.Lock()
	defer r.warnedMu.Unlock()
	if r.warned[key] {
		return false
	}
	r.warned[key] = true
	return true
}

// WasWarned reports whether Resolve already emitted the deprecation
// warning for (provider, id) this process, for callers that want to log
// exactly once without a second lock acquisition inside Resolve.
func (r *Registry) WasWarned(provider, id string) bool {
	r.warnedMu.Lock()
	defer r.warnedMu.Unlock()
	return r.warned[provider+"/"+id]
}

// List returns every registered descriptor for provider, for discovery
// endpoints.
func (r *Registry) List(provider string) []*domain.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.ModelDescriptor, 0, len(r.descriptors[provider]))
	for _, d := range r.descriptors[provider] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
