package panel

import (
	"context"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
	"github.com/contextpilot/pilot/internal/watch"
)

// GithubResultHandler backs `github-result` panels: `gh api`/`gh`
// pass-through results driven by an HTTP-ETag poller rather than the
// generic cache-refresh-interval timer (§4.4 table: "none (HTTP-ETag
// driven)").
type GithubResultHandler struct {
	BaseHandler
	pollers map[string]*watch.ETagPoller
}

// NewGithubResultHandler creates a handler; one ETagPoller is created
// lazily per panel id the first time it's asked to build a request.
func NewGithubResultHandler() *GithubResultHandler {
	return &GithubResultHandler{pollers: make(map[string]*watch.ETagPoller)}
}

func (h *GithubResultHandler) NeedsCache() bool { return true }

func (h *GithubResultHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	url, _ := p.Metadata("api_url")
	if url == "" {
		return cache.Request{}, false
	}
	poller, ok := h.pollers[p.ID()]
	if !ok {
		poller = watch.NewETagPoller(nil, url)
		h.pollers[p.ID()] = poller
	}
	return cache.Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) cache.Update {
			body, changed, err := poller.Poll(ctx)
			if err != nil {
				return cache.Update{Kind: cache.UpdateContent, Content: "error polling " + url + ": " + err.Error()}
			}
			if !changed {
				return cache.Update{Kind: cache.UpdateUnchanged}
			}
			return cache.Update{Kind: cache.UpdateContent, Content: body, TokenCount: estimateTokens(body)}
		},
	}, true
}

func (h *GithubResultHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}

func (h *GithubResultHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "GitHub: " + p.Name(), Content: content}}
}
