package panel

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
)

// GitHandler backs the single fixed `git` panel: branch + porcelain
// status on a 3s refresh interval, invalidated on any change under the
// repo root (excluding .git).
type GitHandler struct{ BaseHandler }

func (GitHandler) NeedsCache() bool                      { return true }
func (GitHandler) CacheRefreshIntervalMs() (int64, bool) { return 3000, true }

func (GitHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	root, _ := p.Metadata("repo_root")
	if root == "" {
		root = "."
	}
	return cache.Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) cache.Update {
			content := renderGitStatus(ctx, root)
			return cache.Update{Kind: cache.UpdateContent, Content: content, TokenCount: estimateTokens(content)}
		},
	}, true
}

func (GitHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}

func (GitHandler) Title(*session.Panel, *session.State) string { return "Git" }

func (GitHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Git Status", Content: content}}
}

func renderGitStatus(ctx context.Context, root string) string {
	branch, err := runGit(ctx, root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "Not a git repository"
	}
	porcelain, _ := runGit(ctx, root, "status", "--porcelain")

	var b strings.Builder
	b.WriteString("Branch: " + strings.TrimSpace(branch) + "\n")
	if strings.TrimSpace(porcelain) == "" {
		b.WriteString("\nWorking tree clean\n")
	} else {
		b.WriteString("\n" + porcelain)
	}
	return b.String()
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

// GitResultHandler backs `git-result` panels: a one-shot diff/show
// output, computed once and never re-polled.
type GitResultHandler struct{ BaseHandler }

func (GitResultHandler) NeedsCache() bool { return true }

func (GitResultHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	if p.HasContent() {
		return cache.Request{}, false
	}
	root, _ := p.Metadata("repo_root")
	argsStr, _ := p.Metadata("args")
	args := strings.Fields(argsStr)
	return cache.Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) cache.Update {
			out, _ := runGit(ctx, root, args...)
			return cache.Update{Kind: cache.UpdateContent, Content: out, TokenCount: estimateTokens(out)}
		},
	}, true
}

func (GitResultHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}

func (GitResultHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Git: " + p.Name(), Content: content}}
}
