package panel

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/session"
)

// markdownToPlainText strips Markdown formatting down to plain text via
// a goldmark AST walk, collecting every text node's bytes. The styled
// rendering stays with the render surface (out of scope here); this is
// only the LLM-visible copy a skill/library panel's Context() sends.
func markdownToPlainText(source []byte) string {
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(source))
	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		if n.Kind() == ast.KindParagraph || n.Kind() == ast.KindHeading {
			if !entering {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// LibraryHandler backs the `library` panel type: the installed
// skill/agent manifest file, watched as File(manifest) and re-rendered
// through goldmark whenever the manifest's mtime+size change.
type LibraryHandler struct{ BaseHandler }

func (LibraryHandler) NeedsCache() bool { return true }

func (LibraryHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
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
				return cache.Update{Kind: cache.UpdateContent, Content: "error reading manifest: " + err.Error()}
			}
			content := markdownToPlainText(data)
			return cache.Update{Kind: cache.UpdateContent, Content: content, TokenCount: estimateTokens(content), SourceHash: src}
		},
	}, true
}

func (LibraryHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	if u.Kind == cache.UpdateContent && u.SourceHash == p.SourceHash() {
		p.MarkUnchanged()
		return false
	}
	return applyGenericCacheUpdate(u, p)
}

func (LibraryHandler) Title(p *session.Panel, _ *session.State) string { return "Library: " + p.Name() }

func (LibraryHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Skill library", Content: content}}
}

// SkillHandler backs the `skill` panel type: one skill's rendered
// SKILL.md instructions, watched as File(SKILL.md) per skill instance.
type SkillHandler struct{ BaseHandler }

func (SkillHandler) NeedsCache() bool { return true }

func (SkillHandler) BuildCacheRequest(p *session.Panel, s *session.State) (cache.Request, bool) {
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
				return cache.Update{Kind: cache.UpdateContent, Content: "error reading skill: " + err.Error()}
			}
			name, desc := parseSkillFrontMatter(data)
			body := markdownToPlainText(data)
			content := "[" + name + "] " + desc + "\n\n" + strings.TrimSpace(body)
			return cache.Update{Kind: cache.UpdateContent, Content: content, TokenCount: estimateTokens(content), SourceHash: src}
		},
	}, true
}

func (SkillHandler) ApplyCacheUpdate(u cache.Update, p *session.Panel, s *session.State) bool {
	if u.Kind == cache.UpdateContent && u.SourceHash == p.SourceHash() {
		p.MarkUnchanged()
		return false
	}
	return applyGenericCacheUpdate(u, p)
}

func (SkillHandler) Title(p *session.Panel, _ *session.State) string { return "Skill: " + p.Name() }

func (SkillHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: "Skill: " + p.Name(), Content: content}}
}

// parseSkillFrontMatter pulls a SKILL.md's name/description from its
// leading "---" front matter block, matching the teacher's skill
// manager's own lightweight parse (no full YAML round-trip needed for
// the two fields a skill panel title/header wants).
func parseSkillFrontMatter(data []byte) (name, description string) {
	lines := strings.Split(string(data), "\n")
	inFrontMatter := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i == 0 && trimmed == "---" {
			inFrontMatter = true
			continue
		}
		if !inFrontMatter {
			break
		}
		if trimmed == "---" {
			break
		}
		if v, ok := strings.CutPrefix(trimmed, "name:"); ok {
			name = strings.Trim(strings.TrimSpace(v), `"`)
		}
		if v, ok := strings.CutPrefix(trimmed, "description:"); ok {
			description = strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(lines[0]), ".md")
	}
	return name, description
}

// SeedHandler backs the `seed` panel type: one-shot content installed at
// creation and never refreshed again (no cache participation at all).
// Whoever creates a seed panel calls ApplyContent directly before
// adding it to state.Context; Refresh/BuildCacheRequest are no-ops.
type SeedHandler struct{ BaseHandler }

func (SeedHandler) Title(p *session.Panel, _ *session.State) string { return p.Name() }

func (SeedHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	content, ok := p.CachedContent()
	if !ok || content == "" {
		return nil
	}
	return []ContextItem{{ID: p.ID(), Header: p.Name(), Content: content}}
}
