package panel

import (
	"context"
	"os"
	"strings"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/persistence"
	"github.com/contextpilot/pilot/internal/session"
)

// TodoItem is one entry on the scratch task list the `todo` panel
// renders. It lives in panel metadata as a serialized list rather than
// its own type, matching the reference panel's "in-memory, synchronous
// refresh only" contract (no cache engine involvement at all).
type TodoItem struct {
	Text string
	Done bool
}

// TodoHandler backs the fixed `todo` panel. No cache participation —
// content is recomputed synchronously from metadata on every Refresh.
type TodoHandler struct{ BaseHandler }

func (TodoHandler) Title(*session.Panel, *session.State) string { return "Todo" }

func (TodoHandler) Refresh(p *session.Panel, s *session.State) {
	raw, _ := p.Metadata("items")
	p.ApplyContent(raw, "", estimateTokens(raw), cache.ContentHash, nowMs())
}

func (TodoHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Todo list", Content: content}}
}

// SpineHandler backs the fixed `spine` panel: the auto-continuation
// subsystem's status/notification surface (C6's Idle/Blocked/Continue
// decisions render here). No cache participation; the spine subsystem
// pushes content directly via Refresh reading module state.
type SpineHandler struct{ BaseHandler }

func (SpineHandler) Title(*session.Panel, *session.State) string { return "Spine" }

func (SpineHandler) Refresh(p *session.Panel, s *session.State) {
	status, _ := p.Metadata("status")
	p.ApplyContent(status, "", estimateTokens(status), cache.ContentHash, nowMs())
}

func (SpineHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Auto-continuation status", Content: content}}
}

// LogsHandler backs the fixed `logs` panel: tail of the chunked log
// files C1 writes, refreshed every 2s.
type LogsHandler struct {
	BaseHandler
	layout persistence.Layout
}

func NewLogsHandler(layout persistence.Layout) *LogsHandler {
	return &LogsHandler{layout: layout}
}

func (h *LogsHandler) NeedsCache() bool                      { return true }
func (h *LogsHandler) CacheRefreshIntervalMs() (int64, bool) { return 2000, true }

func (h *LogsHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	return cache.Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) cache.Update {
			content := tailLatestLogChunk(h.layout)
			return cache.Update{Kind: cache.UpdateContent, Content: content, TokenCount: estimateTokens(content)}
		},
	}, true
}

func (h *LogsHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}

func (h *LogsHandler) Title(*session.Panel, *session.State) string { return "Logs" }

func (h *LogsHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Logs", Content: content}}
}

func tailLatestLogChunk(layout persistence.Layout) string {
	entries, err := os.ReadDir(layout.LogsDir())
	if err != nil || len(entries) == 0 {
		return ""
	}
	var latest string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "chunk_") && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return ""
	}
	data, err := os.ReadFile(layout.LogsDir() + string(os.PathSeparator) + latest)
	if err != nil {
		return ""
	}
	return string(data)
}

// ToolsHandler backs the fixed `tools` panel: a view of the enabled
// vs. disabled tool registry. No cache participation.
type ToolsHandler struct{ BaseHandler }

func (ToolsHandler) Title(*session.Panel, *session.State) string { return "Tools" }

func (ToolsHandler) Refresh(p *session.Panel, s *session.State) {
	var names []string
	for name, enabled := range s.ActiveModules {
		if enabled {
			names = append(names, name)
		}
	}
	content := strings.Join(names, "\n")
	p.ApplyContent(content, "", estimateTokens(content), cache.ContentHash, nowMs())
}

func (ToolsHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Enabled tools", Content: content}}
}

// ScratchpadHandler backs the fixed `scratchpad` panel: a free-form
// user/agent notes buffer, persisted in metadata, no cache participation.
type ScratchpadHandler struct{ BaseHandler }

func (ScratchpadHandler) Title(*session.Panel, *session.State) string { return "Scratchpad" }

func (ScratchpadHandler) Refresh(p *session.Panel, s *session.State) {
	text, _ := p.Metadata("text")
	p.ApplyContent(text, "", estimateTokens(text), cache.ContentHash, nowMs())
}

func (ScratchpadHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Scratchpad", Content: content}}
}
