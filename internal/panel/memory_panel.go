package panel

import (
	"context"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
)

// Recaller is the C8 surface the memory panel needs: top-K semantic
// recall over the most recent conversation query. Kept as a narrow
// interface here so this package doesn't depend on internal/memory's
// embedding/store machinery.
type Recaller interface {
	Recall(ctx context.Context, query string, topK int) ([]string, error)
}

// MemoryHandler backs the fixed `memory` panel: top-K semantic recall,
// refreshed every 10s per the §4.4 table. Recall is query-driven (§8
// scenario S7) — the query is whatever the conversation module last
// set in panel metadata["query"].
type MemoryHandler struct {
	BaseHandler
	recaller Recaller
	topK     int
}

// NewMemoryHandler wires a Recaller implementation (internal/memory's
// Store satisfies this).
func NewMemoryHandler(recaller Recaller, topK int) *MemoryHandler {
	if topK <= 0 {
		topK = 5
	}
	return &MemoryHandler{recaller: recaller, topK: topK}
}

func (h *MemoryHandler) NeedsCache() bool                      { return true }
func (h *MemoryHandler) CacheRefreshIntervalMs() (int64, bool) { return 10000, true }

func (h *MemoryHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	if h.recaller == nil {
		return cache.Request{}, false
	}
	query, _ := p.Metadata("query")
	if query == "" {
		return cache.Request{}, false
	}
	return cache.Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) cache.Update {
			hits, err := h.recaller.Recall(ctx, query, h.topK)
			if err != nil {
				return cache.Update{Kind: cache.UpdateContent, Content: "memory recall failed: " + err.Error()}
			}
			content := joinNumbered(hits)
			return cache.Update{Kind: cache.UpdateContent, Content: content, TokenCount: estimateTokens(content)}
		},
	}, true
}

func (h *MemoryHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}

func (h *MemoryHandler) Title(*session.Panel, *session.State) string { return "Memory" }

func (h *MemoryHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Recalled memory", Content: content}}
}

func joinNumbered(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += "\n"
		}
		out += it
	}
	return out
}
