package panel

import (
	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
)

// ConsoleHandler backs the `console` panel type: a placeholder surface
// for a tool result blocked on a registered watcher (the
// CONSOLE_WAIT_BLOCKING path of §4.6). No cache participation — the
// tool pipeline writes the sentinel/resolution text directly into
// metadata["status"] and calls Refresh to re-render it.
type ConsoleHandler struct{ BaseHandler }

func (ConsoleHandler) Title(p *session.Panel, _ *session.State) string { return "Console: " + p.Name() }

func (ConsoleHandler) Refresh(p *session.Panel, s *session.State) {
	status, _ := p.Metadata("status")
	p.ApplyContent(status, "", estimateTokens(status), cache.ContentHash, nowMs())
}

func (ConsoleHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Console: " + p.Name(), Content: content}}
}

// CallbackHandler backs the `callback` panel type: a pending
// callback-script invocation record (§6's scripts/{callback_name}.sh).
// No cache participation — the loop's callback dispatch writes the
// invocation's status into metadata directly.
type CallbackHandler struct{ BaseHandler }

func (CallbackHandler) Title(p *session.Panel, _ *session.State) string { return "Callback: " + p.Name() }

func (CallbackHandler) Refresh(p *session.Panel, s *session.State) {
	name, _ := p.Metadata("name")
	status, _ := p.Metadata("status")
	content := name + ": " + status
	p.ApplyContent(content, "", estimateTokens(content), cache.ContentHash, nowMs())
}

func (CallbackHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Callback: " + p.Name(), Content: content}}
}
