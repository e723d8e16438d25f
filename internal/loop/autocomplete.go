// File autocomplete: §4.7 step 1 names "active `@` file autocomplete →
// autocomplete handler" as the routing branch between the question
// form and the global/panel key handlers. Like the palette (palette.go)
// this is plain Loop-owned state, kept outside session.State so Loop
// stays the sole mutator of the persisted session (§5); the draft text
// itself (where the `@token` lives) is still the conversation panel's
// own Metadata, per its existing HandleKey contract.
package loop

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contextpilot/pilot/internal/panel"
	"github.com/contextpilot/pilot/internal/session"
)

const (
	maxAutocompleteMatches = 8
	maxAutocompleteScan    = 4000
)

// Autocomplete holds the `@`-triggered file-path completion state.
type Autocomplete struct {
	Active   bool
	Query    string
	Matches  []string
	Selected int
}

// draftAtToken returns the `@`-prefixed token the cursor is currently
// inside, i.e. the run of non-whitespace characters following the last
// unclosed `@` in draft. ok is false when the draft has no open `@`
// token (a space, or nothing, follows the last `@`).
func draftAtToken(draft string) (query string, ok bool) {
	idx := strings.LastIndexByte(draft, '@')
	if idx == -1 {
		return "", false
	}
	token := draft[idx+1:]
	if strings.ContainsAny(token, " \t\n") {
		return "", false
	}
	return token, true
}

// refreshAutocomplete recomputes Matches for the current Query and opens
// or closes the state to match whether the draft still has a live `@`
// token. Called after every key that mutates the conversation panel's
// draft while no form or palette is in front.
func (l *Loop) refreshAutocomplete(draft string) {
	query, ok := draftAtToken(draft)
	if !ok {
		l.autocomplete = Autocomplete{}
		return
	}
	l.autocomplete.Active = true
	l.autocomplete.Query = query
	l.autocomplete.Matches = matchWorkspaceFiles(query)
	if l.autocomplete.Selected >= len(l.autocomplete.Matches) {
		l.autocomplete.Selected = 0
	}
}

// matchWorkspaceFiles walks the working directory (skipping dot-directories
// and vendor/node_modules dirs; dotfiles themselves can match) and returns up to
// maxAutocompleteMatches paths whose base name contains query,
// case-insensitively, shortest path first.
func matchWorkspaceFiles(query string) []string {
	q := strings.ToLower(query)
	var all []string
	scanned := 0
	_ = filepath.WalkDir(".", func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if scanned > maxAutocompleteScan {
			return filepath.SkipAll
		}
		scanned++
		base := d.Name()
		if d.IsDir() && (base == ".git" || base == "node_modules" || base == "vendor" || strings.HasPrefix(base, ".")) {
			return filepath.SkipDir
		}
		if path == "." {
			return nil
		}
		if q == "" || strings.Contains(strings.ToLower(base), q) {
			all = append(all, path)
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return len(all[i]) < len(all[j]) })
	if len(all) > maxAutocompleteMatches {
		all = all[:maxAutocompleteMatches]
	}
	return all
}

// acceptAutocomplete replaces the draft's trailing `@query` token with
// `@<selected match>` plus a trailing space, leaving the rest of the
// draft untouched.
func acceptAutocomplete(draft, match string) string {
	idx := strings.LastIndexByte(draft, '@')
	if idx == -1 {
		return draft
	}
	return draft[:idx] + "@" + match + " "
}

// AutocompleteOpen reports whether the `@` file autocomplete is live,
// for the renderer to decide whether to draw its suggestion list.
func (l *Loop) AutocompleteOpen() bool { return l.autocomplete.Active }

// AutocompleteView snapshots the autocomplete state for the renderer.
func (l *Loop) AutocompleteView() AutocompleteViewData {
	return AutocompleteViewData{
		Query:    l.autocomplete.Query,
		Matches:  append([]string(nil), l.autocomplete.Matches...),
		Selected: l.autocomplete.Selected,
	}
}

// AutocompleteViewData is the render-only snapshot of Autocomplete.
type AutocompleteViewData struct {
	Query    string
	Matches  []string
	Selected int
}

// handleAutocompleteKey routes one key event while the `@` autocomplete
// is active. Navigation and acceptance are handled here; anything that
// mutates the draft text (runes, backspace) is left for the panel's own
// HandleKey so the draft buffer has one writer, with refreshAutocomplete
// called afterward to keep Matches in sync.
func (l *Loop) handleAutocompleteKey(key string) (consumed bool) {
	switch key {
	case "esc":
		l.autocomplete = Autocomplete{}
		return true
	case "up":
		if l.autocomplete.Selected > 0 {
			l.autocomplete.Selected--
		}
		l.State.Dirty = true
		return true
	case "down":
		if l.autocomplete.Selected < len(l.autocomplete.Matches)-1 {
			l.autocomplete.Selected++
		}
		l.State.Dirty = true
		return true
	case "tab", "enter":
		if len(l.autocomplete.Matches) == 0 {
			l.autocomplete = Autocomplete{}
			return false
		}
		match := l.autocomplete.Matches[l.autocomplete.Selected]
		p := l.selectedConversationPanel()
		if p != nil {
			draft, _ := p.Metadata(panel.DraftKey)
			p.SetMetadata(panel.DraftKey, acceptAutocomplete(draft, match))
			l.State.Dirty = true
		}
		l.autocomplete = Autocomplete{}
		return true
	default:
		return false
	}
}

// selectedConversationPanel returns the currently selected panel if (and
// only if) it is the conversation panel — the only panel type whose
// draft the `@` autocomplete rewrites.
func (l *Loop) selectedConversationPanel() *session.Panel {
	sel := l.State.SelectedPanel
	if sel < 0 || sel >= len(l.State.Context) {
		return nil
	}
	p := l.State.Context[sel]
	if p.Type() != session.PanelConversation {
		return nil
	}
	return p
}
