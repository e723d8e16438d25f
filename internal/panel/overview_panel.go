package panel

import (
	"context"
	"os"
	"path/filepath"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
)

// OverviewHandler backs the fixed `overview` panel: a repo/project
// summary refreshed every 5s.
type OverviewHandler struct{ BaseHandler }

func (OverviewHandler) NeedsCache() bool                      { return true }
func (OverviewHandler) CacheRefreshIntervalMs() (int64, bool) { return 5000, true }

func (OverviewHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	root, _ := p.Metadata("root")
	if root == "" {
		root = "."
	}
	return cache.Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) cache.Update {
			content := renderOverview(root)
			return cache.Update{Kind: cache.UpdateContent, Content: content, TokenCount: estimateTokens(content)}
		},
	}, true
}

func (OverviewHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}

func (OverviewHandler) Title(*session.Panel, *session.State) string { return "Overview" }

func (OverviewHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Overview", Content: content}}
}

func renderOverview(root string) string {
	var topLevel []string
	entries, err := os.ReadDir(root)
	if err != nil {
		return "unable to read project root: " + err.Error()
	}
	for _, e := range entries {
		name := e.Name()
		if name == ".git" {
			continue
		}
		topLevel = append(topLevel, name)
	}
	readme := ""
	for _, candidate := range []string{"README.md", "Readme.md", "readme.md"} {
		if data, err := os.ReadFile(filepath.Join(root, candidate)); err == nil {
			readme = string(data)
			break
		}
	}
	out := "Project root: " + root + "\nTop-level entries: "
	for i, e := range topLevel {
		if i > 0 {
			out += ", "
		}
		out += e
	}
	if readme != "" {
		out += "\n\nREADME:\n" + readme
	}
	return out
}
