// Package llm is C6's concrete default stream.Client: internal/stream
// treats the model API as an external collaborator (§4.6), and this
// package is the one side of that seam this module actually ships —
// an anthropic.Provider registered against the same factory registry
// the teacher's gateway used for its whole multi-vendor stack. The
// registry itself stays generic so a second vendor can be dropped in
// later without touching Router or ProviderAdapter, but this module
// only wires the one.
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/contextpilot/pilot/internal/domain/service"
	"go.uber.org/zap"
)

// Provider is the infrastructure-layer LLM provider interface.
// Each provider implements service.LLMClient (Generate + GenerateStream).
type Provider interface {
	service.LLMClient

	// Name returns the provider identifier (e.g. "anthropic-primary").
	Name() string

	// Models returns the list of supported model identifiers.
	Models() []string

	// SupportsModel checks if a specific model is supported.
	SupportsModel(model string) bool

	// IsAvailable checks if the provider is reachable.
	IsAvailable(ctx context.Context) bool
}

// ProviderConfig holds configuration for one configured provider
// instance — e.g. two API keys for the same vendor behind a shared
// rate limit, ordered by Priority so Router tries the cheaper/faster
// one first.
type ProviderConfig struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // "anthropic" (only vendor registered by this module)
	BaseURL  string   `json:"base_url"`
	APIKey   string   `json:"api_key"`
	Models   []string `json:"models"`
	Priority int      `json:"priority"` // lower runs first
}

// --- Provider Factory Registry ---
// Providers register themselves via init() in their own package.
// Adding a new provider type = implement Provider + RegisterFactory("type", New).

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package (e.g. llm/anthropic).
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for cfg.Type.
// If Type is empty, defaults to "anthropic", the one vendor this module registers.
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "anthropic"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		available := make([]string, 0, len(factories))
		factoryMu.RLock()
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}

// SortByPriority orders cfgs ascending by Priority in place, so a caller
// that registers them with Router in this order gets Router's
// first-match fallback behaving as the configured priority chain
// (§6's "EXPANDED" config section names a model fallback chain).
func SortByPriority(cfgs []ProviderConfig) {
	sort.SliceStable(cfgs, func(i, j int) bool { return cfgs[i].Priority < cfgs[j].Priority })
}
