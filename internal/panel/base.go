package panel

import (
	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
)

// BaseHandler supplies the capability set's defaults (mirrors the
// reference trait's default method bodies) so a concrete handler only
// overrides what makes it different from a static, uncached panel.
type BaseHandler struct{}

func (BaseHandler) NeedsCache() bool                           { return false }
func (BaseHandler) CacheRefreshIntervalMs() (int64, bool)      { return 0, false }
func (BaseHandler) BuildCacheRequest(*session.Panel, *session.State) (cache.Request, bool) {
	return cache.Request{}, false
}
func (BaseHandler) ApplyCacheUpdate(cache.Update, *session.Panel, *session.State) bool { return false }
func (BaseHandler) Suicide(*session.Panel, *session.State) bool                       { return false }
func (BaseHandler) Refresh(*session.Panel, *session.State)                            {}
func (BaseHandler) Title(p *session.Panel, _ *session.State) string                   { return p.Name() }
func (BaseHandler) Context(*session.Panel, *session.State) []ContextItem              { return nil }
func (BaseHandler) HandleKey(*session.Panel, *session.State, string) (Action, bool)    { return Action{}, false }

// applyGenericCacheUpdate is the common Content/Unchanged handling
// shared by every cached panel type; ModuleSpecific payloads are
// handled by the individual type since only it knows the payload shape.
func applyGenericCacheUpdate(u cache.Update, p *session.Panel) bool {
	switch u.Kind {
	case cache.UpdateUnchanged:
		p.MarkUnchanged()
		return false
	case cache.UpdateContent:
		return p.ApplyContent(u.Content, u.SourceHash, u.TokenCount, cache.ContentHash, nowMs())
	default:
		return false
	}
}
