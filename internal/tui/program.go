// Package tui is C9: the bubbletea-backed front end, grounded on
// internal/interfaces/tui/tui.go's event-to-ANSI rendering vocabulary
// but adapted to a real alt-screen bubbletea.Program instead of plain
// fmt.Printf streaming, per the style the rest of the example pack's
// terminal tools (bubbles/lipgloss) use.
//
// internal/loop.Loop is the single authoritative scheduler (§5's
// shared-resource policy) — Program never mutates session.State and
// never drives its own tick. Its bubbletea Model only buffers raw key
// events for PollEvent to drain and repaints whatever the last Render
// call staged; all state transitions still happen inside Loop.Tick.
// The panel rail is rendered through a bubbles/viewport so a session
// with more panels than fit the terminal height scrolls instead of
// truncating, and the command palette (loop.PaletteView) is rendered
// through a bubbles/list so selection/highlight styling matches the
// rest of the pack's bubbletea tools instead of a hand-rolled ">" cursor.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/contextpilot/pilot/internal/loop"
	"github.com/contextpilot/pilot/internal/panel"
	"github.com/contextpilot/pilot/internal/session"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	paletteBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const (
	viewportWidth  = 72
	viewportHeight = 20
)

// Program implements loop.InputSource and loop.Renderer over a running
// bubbletea.Program.
type Program struct {
	prog *tea.Program
	keys chan string
}

// New starts the bubbletea program in its own goroutine (bubbletea owns
// the terminal's raw-mode lifecycle) and returns the handle Loop drives
// every tick.
func New() *Program {
	vp := viewport.New(viewportWidth, viewportHeight)
	pl := list.New(nil, list.NewDefaultDelegate(), viewportWidth, 10)
	pl.Title = "Commands"
	pl.SetShowStatusBar(false)
	pl.SetShowHelp(false)
	m := &model{keys: make(chan string, 256), panelRail: vp, palette: pl}
	p := &Program{prog: tea.NewProgram(m, tea.WithAltScreen()), keys: m.keys}
	go func() {
		_, _ = p.prog.Run()
	}()
	return p
}

// PollEvent implements loop.InputSource: a non-blocking drain of
// whatever keys bubbletea's Update has buffered since the last tick.
func (p *Program) PollEvent() (string, bool) {
	select {
	case k := <-p.keys:
		return k, true
	default:
		return "", false
	}
}

// Render implements loop.Renderer.
func (p *Program) Render(s *session.State, reg *panel.Registry, pv loop.PaletteView, av loop.AutocompleteViewData) {
	p.prog.Send(renderMsg{body: renderFrame(s, reg, av), palette: pv})
}

// Quit releases the terminal, called from Loop's shutdown path.
func (p *Program) Quit() { p.prog.Quit() }

type renderMsg struct {
	body    string
	palette loop.PaletteView
}

// model is the minimal bubbletea.Model: it has no opinion about
// session state beyond the string Render last staged, plus the two
// bubbles widgets that do its scrolling/list presentation.
type model struct {
	keys      chan string
	panelRail viewport.Model
	palette   list.Model

	paletteOpen bool
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		select {
		case m.keys <- keyName(msg):
		default:
			// Buffer full: the scheduler is behind; dropping a key here
			// is preferable to blocking bubbletea's own event loop.
		}
		if !m.paletteOpen {
			var cmd tea.Cmd
			m.panelRail, cmd = m.panelRail.Update(msg)
			return m, cmd
		}
	case renderMsg:
		m.panelRail.SetContent(msg.body)
		m.paletteOpen = msg.palette.Open
		items := make([]list.Item, len(msg.palette.Items))
		for i, it := range msg.palette.Items {
			items[i] = paletteItem(it)
		}
		m.palette.SetItems(items)
		if msg.palette.Selected < len(items) {
			m.palette.Select(msg.palette.Selected)
		}
	}
	return m, nil
}

func (m *model) View() string {
	if m.paletteOpen {
		return m.panelRail.View() + "\n\n" + paletteBorder.Render(m.palette.View())
	}
	return m.panelRail.View()
}

// paletteItem adapts loop.PaletteItemView to bubbles/list's Item
// interface (FilterValue/Title/Description via the default delegate's
// expectations).
type paletteItem loop.PaletteItemView

func (i paletteItem) FilterValue() string { return i.Name }
func (i paletteItem) Title() string       { return i.Name }
func (i paletteItem) Description() string { return i.Description }

// keyName maps a bubbletea key event onto the short names stepInput
// and the panel TypeHandlers agree on, reusing KeyMsg.String()'s own
// canonical names ("enter", "esc", "backspace", "up", "down", a bare
// rune, ...) the way the pack's own bubbletea TUIs switch on it,
// folding ctrl+c onto this module's "ctrl+q" quit binding.
func keyName(msg tea.KeyMsg) string {
	if s := msg.String(); s == "ctrl+c" {
		return "ctrl+q"
	} else {
		return s
	}
}

// renderFrame builds the full-screen frame for the current tick: the
// panel rail (selection marker + title per panel, per §4.4) and a
// streaming indicator, in the teacher TUI's banner-then-body shape.
// The returned string becomes the viewport's content, not the frame
// itself — scrolling is the viewport's job, not this function's.
func renderFrame(s *session.State, reg *panel.Registry, av loop.AutocompleteViewData) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("context-pilot"))
	b.WriteString("\n\n")
	for i, p := range s.Context {
		line := fmt.Sprintf("  %s", reg.Title(p, s))
		if i == s.SelectedPanel {
			line = selectedStyle.Render("> " + reg.Title(p, s))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if s.Streaming {
		b.WriteString(dimStyle.Render("(streaming...)"))
		b.WriteString("\n")
	}
	if len(av.Matches) > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("@%s", av.Query)))
		b.WriteString("\n")
		for i, m := range av.Matches {
			line := "    " + m
			if i == av.Selected {
				line = selectedStyle.Render("  > " + m)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
