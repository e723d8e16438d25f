// Command palette: §4.7 step 1 names "open command palette → palette
// handler" as one of the four input routing branches alongside the
// question form, the `@` autocomplete, and the fallback global/panel
// key handlers. The palette itself is plain Loop-owned state — a
// query string plus a static command table — so Loop stays the sole
// mutator of session.State per §5; the TUI (C9) only renders whatever
// FilteredCommands currently returns.
package loop

import "strings"

// Command is one palette entry: a name matched against the query and
// a Run func invoked on selection.
type Command struct {
	Name        string
	Description string
	Run         func(l *Loop)
}

// Palette holds the command palette's open/query/selection state.
type Palette struct {
	Open     bool
	Query    string
	Selected int
}

// paletteCommands is the static command table. Order matters only as
// the no-query default ranking.
func paletteCommands() []Command {
	return []Command{
		{Name: "quit", Description: "Save and exit", Run: func(l *Loop) { l.quitting = true }},
		{Name: "reload", Description: "Save state and hand off to a fresh process", Run: func(l *Loop) {
			l.State.ResumeStream = l.State.Streaming
			l.quitting = true
		}},
		{Name: "next-panel", Description: "Select the next panel", Run: func(l *Loop) { l.cyclePanel(1) }},
		{Name: "prev-panel", Description: "Select the previous panel", Run: func(l *Loop) { l.cyclePanel(-1) }},
		{Name: "next-page", Description: "Advance the selected panel's page", Run: func(l *Loop) { l.pageSelected(1) }},
		{Name: "prev-page", Description: "Go back a page on the selected panel", Run: func(l *Loop) { l.pageSelected(-1) }},
		{Name: "clear-scratchpad", Description: "Clear the scratchpad panel's text", Run: func(l *Loop) { l.clearScratchpad() }},
	}
}

// cyclePanel moves SelectedPanel by delta, wrapping within range.
func (l *Loop) cyclePanel(delta int) {
	n := len(l.State.Context)
	if n == 0 {
		return
	}
	l.State.SelectedPanel = ((l.State.SelectedPanel+delta)%n + n) % n
	l.State.Dirty = true
}

// pageSelected pages the currently-selected panel forward or back,
// reusing GotoPage's clamping so the palette can't drive it out of
// [1, total].
func (l *Loop) pageSelected(delta int) {
	if l.State.SelectedPanel < 0 || l.State.SelectedPanel >= len(l.State.Context) {
		return
	}
	p := l.State.Context[l.State.SelectedPanel]
	current, _ := p.Pagination() // 0-indexed; GotoPage takes 1-indexed pages
	_ = l.GotoPage(p.ID(), current+1+delta)
}

// clearScratchpad empties the scratchpad panel's backing metadata and
// marks it deprecated so the next deprecation tick re-renders it empty.
func (l *Loop) clearScratchpad() {
	for _, p := range l.State.Context {
		if p.Type() == "scratchpad" {
			p.SetMetadata("text", "")
			p.MarkDeprecated()
			l.State.Dirty = true
			return
		}
	}
}

// OpenPalette opens the palette with an empty query.
func (l *Loop) OpenPalette() {
	l.palette.Open = true
	l.palette.Query = ""
	l.palette.Selected = 0
	l.State.Dirty = true
}

// ClosePalette closes the palette without running anything.
func (l *Loop) ClosePalette() {
	l.palette.Open = false
	l.State.Dirty = true
}

// PaletteOpen reports whether the palette is currently open, for the
// renderer to decide whether to draw it.
func (l *Loop) PaletteOpen() bool { return l.palette.Open }

// PaletteQuery returns the current filter text.
func (l *Loop) PaletteQuery() string { return l.palette.Query }

// FilteredCommands returns the commands whose name contains the
// current query (case-insensitive), in table order.
func (l *Loop) FilteredCommands() []Command {
	all := paletteCommands()
	if l.palette.Query == "" {
		return all
	}
	q := strings.ToLower(l.palette.Query)
	out := make([]Command, 0, len(all))
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
		}
	}
	return out
}

// paletteView snapshots the palette for the renderer, stripping each
// Command's Run closure.
func (l *Loop) paletteView() PaletteView {
	cmds := l.FilteredCommands()
	items := make([]PaletteItemView, len(cmds))
	for i, c := range cmds {
		items[i] = PaletteItemView{Name: c.Name, Description: c.Description}
	}
	return PaletteView{Open: l.palette.Open, Query: l.palette.Query, Selected: l.palette.Selected, Items: items}
}

// handlePaletteKey routes one key event while the palette is open.
// Returns true if it consumed the key (always true while open).
func (l *Loop) handlePaletteKey(key string) bool {
	switch key {
	case "esc":
		l.ClosePalette()
	case "enter":
		cmds := l.FilteredCommands()
		if l.palette.Selected >= 0 && l.palette.Selected < len(cmds) {
			cmds[l.palette.Selected].Run(l)
		}
		l.ClosePalette()
	case "up":
		if l.palette.Selected > 0 {
			l.palette.Selected--
		}
		l.State.Dirty = true
	case "down":
		if n := len(l.FilteredCommands()); l.palette.Selected < n-1 {
			l.palette.Selected++
		}
		l.State.Dirty = true
	case "backspace":
		if len(l.palette.Query) > 0 {
			l.palette.Query = l.palette.Query[:len(l.palette.Query)-1]
			l.palette.Selected = 0
			l.State.Dirty = true
		}
	default:
		if len(key) == 1 {
			l.palette.Query += key
			l.palette.Selected = 0
			l.State.Dirty = true
		}
	}
	return true
}
