// Package panel implements C4: polymorphic dispatch over panel types
// via a capability-set table, not Go interfaces-as-inheritance — every
// panel type is one TypeHandler value registered by PanelType, looked
// up by the registry the way the reference implementation's
// `get_panel(ContextType) -> &dyn Panel` match dispatches, adapted to
// Go's lack of trait objects with a plain map lookup.
package panel

import (
	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
)

// ContextItem is one rendered block the context assembler sends to the
// LLM, formatted with a header/footer banner around the content.
type ContextItem struct {
	ID      string
	Header  string
	Content string
}

// Format renders item the way the reference implementation brackets
// context blocks so the model can cite them by id.
func (i ContextItem) Format() string {
	return "=== [" + i.ID + "] " + i.Header + " ===\n" + i.Content +
		"\n=== End of [" + i.ID + "] " + i.Header + " ==="
}

// Action is an effect a panel's key handler asks the loop to perform
// instead of the default global handling.
type Action struct {
	Kind    string
	Payload interface{}
}

// ActionSubmit is returned by the conversation panel's HandleKey on
// Enter: Payload carries the typed draft text for Loop.SubmitUserMessage.
const ActionSubmit = "submit"

// TypeHandler is the capability set every panel type implements, per
// §4.4. A handler's methods must not block — BuildCacheRequest returns
// a cache.Request whose own Refresh closure does the I/O off-loop.
type TypeHandler interface {
	NeedsCache() bool
	CacheRefreshIntervalMs() (ms int64, ok bool)
	BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool)
	ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool
	Suicide(p *session.Panel, s *session.State) bool
	Refresh(p *session.Panel, s *session.State)
	Title(p *session.Panel, s *session.State) string
	Context(p *session.Panel, s *session.State) []ContextItem
	HandleKey(p *session.Panel, s *session.State, key string) (Action, bool)
}

// Registry maps each PanelType to its TypeHandler. It also implements
// cache.TypeRegistry so C2 can drive scheduling without depending on
// this package's full surface.
type Registry struct {
	handlers map[session.PanelType]TypeHandler
}

// NewRegistry builds a Registry pre-populated with every built-in
// panel type.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[session.PanelType]TypeHandler)}
	registerBuiltins(r)
	return r
}

// Register installs or replaces the handler for t.
func (r *Registry) Register(t session.PanelType, h TypeHandler) {
	r.handlers[t] = h
}

// Get returns the handler for t, or ok=false if no module registered one.
func (r *Registry) Get(t session.PanelType) (TypeHandler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

func (r *Registry) NeedsCache(t session.PanelType) bool {
	h, ok := r.Get(t)
	return ok && h.NeedsCache()
}

func (r *Registry) RefreshIntervalMs(t session.PanelType) (int64, bool) {
	h, ok := r.Get(t)
	if !ok {
		return 0, false
	}
	return h.CacheRefreshIntervalMs()
}

func (r *Registry) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	h, ok := r.Get(p.Type())
	if !ok {
		return cache.Request{}, false
	}
	return h.BuildCacheRequest(p, s)
}

func (r *Registry) Suicide(p *session.Panel, s *session.State) bool {
	h, ok := r.Get(p.Type())
	return ok && h.Suicide(p, s)
}

// ApplyUpdate dispatches a delivered cache.Update to its panel's
// handler, used by the loop's cache-updates step (§4.7 step 6).
func (r *Registry) ApplyUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	h, ok := r.Get(p.Type())
	if !ok {
		return false
	}
	return h.ApplyCacheUpdate(u, p, s)
}

// Title and Context dispatch to the owning handler for rendering and
// LLM context assembly respectively.
func (r *Registry) Title(p *session.Panel, s *session.State) string {
	if h, ok := r.Get(p.Type()); ok {
		return h.Title(p, s)
	}
	return p.Name()
}

func (r *Registry) Context(p *session.Panel, s *session.State) []ContextItem {
	if h, ok := r.Get(p.Type()); ok {
		return h.Context(p, s)
	}
	return nil
}

func (r *Registry) HandleKey(p *session.Panel, s *session.State, key string) (Action, bool) {
	if h, ok := r.Get(p.Type()); ok {
		return h.HandleKey(p, s, key)
	}
	return Action{}, false
}

// Refresh runs the handler's cheap synchronous refresh for every panel
// currently in the context list.
func (r *Registry) Refresh(s *session.State) {
	for _, p := range s.Context {
		if h, ok := r.Get(p.Type()); ok {
			h.Refresh(p, s)
		}
	}
}
