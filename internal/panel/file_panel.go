package panel

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
)

// FileHandler backs the `file` panel type: reads the whole file at path
// and re-renders when the file's mtime+size inputs change.
type FileHandler struct{ BaseHandler }

func (FileHandler) NeedsCache() bool { return true }

func (FileHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	path, _ := p.Metadata("path")
	if path == "" {
		return cache.Request{}, false
	}
	src := fileSourceHash(path)
	if src == "" {
		return cache.Request{}, false
	}
	return cache.Request{
		ContextID:  p.ID(),
		SourceHash: src,
		Refresh: func(ctx context.Context) cache.Update {
			data, err := os.ReadFile(path)
			if err != nil {
				return cache.Update{Kind: cache.UpdateContent, Content: "error reading file: " + err.Error()}
			}
			return cache.Update{Kind: cache.UpdateContent, Content: string(data), TokenCount: estimateTokens(string(data)), SourceHash: src}
		},
	}, true
}

func (FileHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	if u.Kind == cache.UpdateContent && u.SourceHash == p.SourceHash() {
		p.MarkUnchanged()
		return false
	}
	return applyGenericCacheUpdate(u, p)
}

func (FileHandler) Title(p *session.Panel, _ *session.State) string { return p.Name() }

func (FileHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "File: " + p.Name(), Content: content}}
}

func fileSourceHash(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return cache.SourceHash(path, info.ModTime().String(), strconv.FormatInt(info.Size(), 10))
}

// TreeHandler backs the `tree` panel type: a directory listing built
// off a DirRecursive watch.
type TreeHandler struct{ BaseHandler }

func (TreeHandler) NeedsCache() bool { return true }

func (TreeHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	root, _ := p.Metadata("root")
	if root == "" {
		return cache.Request{}, false
	}
	return cache.Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) cache.Update {
			var lines []string
			_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				rel, rerr := filepath.Rel(root, path)
				if rerr == nil && rel != "." {
					lines = append(lines, rel)
				}
				return nil
			})
			content := strings.Join(lines, "\n")
			return cache.Update{Kind: cache.UpdateContent, Content: content, TokenCount: estimateTokens(content)}
		},
	}, true
}

func (TreeHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}

func (TreeHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Tree: " + p.Name(), Content: content}}
}

// GrepHandler and GlobHandler back one-shot search result panels:
// suicide-eligible (zero hits → removed after the 1s grace), refreshed
// only on demand (re-run on command, not event-driven).
type GrepHandler struct{ BaseHandler }

func (GrepHandler) NeedsCache() bool { return true }
func (GrepHandler) Suicide(p *session.Panel, _ *session.State) bool {
	content, _ := p.CachedContent()
	return content == ""
}
func (GrepHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	return searchCacheRequest(p, "grep")
}
func (GrepHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}
func (GrepHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	return searchContext(p, "Grep")
}

type GlobHandler struct{ BaseHandler }

func (GlobHandler) NeedsCache() bool { return true }
func (GlobHandler) Suicide(p *session.Panel, _ *session.State) bool {
	content, _ := p.CachedContent()
	return content == ""
}
func (GlobHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
	return searchCacheRequest(p, "glob")
}
func (GlobHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	return applyGenericCacheUpdate(u, p)
}
func (GlobHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	return searchContext(p, "Glob")
}

// searchCacheRequest is shared by grep/glob: the query arguments live
// in panel metadata; the actual search tool implementation is out of
// scope (§4.6 "Tool surface contracts") — the handler only owns cache
// lifecycle around whatever result string the tool already produced
// and stashed in metadata["pending_result"].
func searchCacheRequest(p *session.Panel, kind string) (cache.Request, bool) {
	if !p.CacheDeprecated() && p.HasContent() {
		return cache.Request{}, false
	}
	result, _ := p.Metadata("pending_result")
	return cache.Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) cache.Update {
			return cache.Update{Kind: cache.UpdateContent, Content: result, TokenCount: estimateTokens(result)}
		},
	}, true
}

func searchContext(p *session.Panel, label string) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: label + ": " + p.Name(), Content: content}}
}

// estimateTokens is a cheap chars/4 heuristic, matching the reference
// implementation's estimate_tokens used for synchronous refresh paths
// where an exact tokenizer call would be too costly to run per tick.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
