package panel

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
	"github.com/contextpilot/pilot/internal/watch"
)

// TmuxHandler backs `tmux` panels: a captured pane on a 1500ms
// refresh interval, deduplicated via output-hash (§4.4 table) so an
// idle pane doesn't bump last_refresh_ms every tick.
type TmuxHandler struct {
	BaseHandler
	pollers map[string]*watch.OutputHashPoller
}

func NewTmuxHandler() *TmuxHandler {
	return &TmuxHandler{pollers: make(map[string]*watch.OutputHashPoller)}
}

func (h *TmuxHandler) NeedsCache() bool                      { return true }
func (h *TmuxHandler) CacheRefreshIntervalMs() (int64, bool) { return 1500, true }

func (h *TmuxHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	pane, _ := p.Metadata("pane")
	if pane == "" {
		return cache.Request{}, false
	}
	poller, ok := h.pollers[p.ID()]
	if !ok {
		poller = watch.NewOutputHashPoller(func(ctx context.Context) (string, error) {
			cmd := exec.CommandContext(ctx, "tmux", "capture-pane", "-p", "-t", pane)
			var out bytes.Buffer
			cmd.Stdout = &out
			if err := cmd.Run(); err != nil {
				return "", err
			}
			return out.String(), nil
		})
		h.pollers[p.ID()] = poller
	}
	return cache.Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) cache.Update {
			out, changed, err := poller.Poll(ctx)
			if err != nil {
				return cache.Update{Kind: cache.UpdateContent, Content: "error capturing pane " + pane + ": " + err.Error()}
			}
			if !changed {
				return cache.Update{Kind: cache.UpdateUnchanged}
			}
			return cache.Update{Kind: cache.UpdateContent, Content: out, TokenCount: estimateTokens(out)}
		},
	}, true
}

func (h *TmuxHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}

func (h *TmuxHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Tmux: " + p.Name(), Content: content}}
}
