// Package repl is the scripted, non-interactive fallback entrypoint
// (`pilot repl`), adapted from internal/interfaces/cli/app.go's
// chzyer/readline REPL loop onto this module's Loop contract: instead
// of owning its own agent-run loop, it feeds a whole submitted line
// into Loop.InputSource one rune at a time (reusing the same
// draft-buffer/ActionSubmit path the TUI's conversation panel drives)
// and prints new conversation turns as Loop.Renderer hands them over.
package repl

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/contextpilot/pilot/internal/loop"
	"github.com/contextpilot/pilot/internal/panel"
	"github.com/contextpilot/pilot/internal/session"
)

const (
	reset   = "\033[0m"
	bold    = "\033[1m"
	dim     = "\033[2m"
	cyan    = "\033[36m"
	green   = "\033[32m"
)

// Config configures the REPL's banner.
type Config struct {
	Model    string
	UserName string
}

// REPL implements loop.InputSource and loop.Renderer over a readline
// prompt. Each accepted line is replayed as individual rune keys
// followed by "enter", so it reaches Loop.Tick exactly the way a
// keystroke-driven frontend would.
type REPL struct {
	rl      *readline.Instance
	keys    chan string
	printed int
}

// New starts reading lines from stdin in the background.
func New(cfg Config) (*REPL, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\001" + bold + cyan + "\002❯\001" + reset + "\002 ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("readline init: %w", err)
	}
	fmt.Printf("%s%s context-pilot%s — model %s\n\n", bold, cyan, reset, cfg.Model)

	r := &REPL{rl: rl, keys: make(chan string, 1024)}
	go r.run()
	return r, nil
}

func (r *REPL) run() {
	defer close(r.keys)
	for {
		line, err := r.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				r.keys <- "ctrl+q"
				return
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, ch := range line {
			r.keys <- string(ch)
		}
		r.keys <- "enter"
	}
}

// PollEvent implements loop.InputSource.
func (r *REPL) PollEvent() (string, bool) {
	select {
	case k, ok := <-r.keys:
		return k, ok
	default:
		return "", false
	}
}

// Render implements loop.Renderer: print any assistant/tool turns
// appended since the last call. The REPL has no panel rail — it only
// ever surfaces the conversation panel's tail, matching the teacher
// CLI's plain scrollback style.
func (r *REPL) Render(s *session.State, _ *panel.Registry, pv loop.PaletteView, av loop.AutocompleteViewData) {
	if pv.Open {
		fmt.Printf("%s:%s%s ", dim, pv.Query, reset)
		for _, it := range pv.Items {
			fmt.Printf("\n  %s - %s", it.Name, it.Description)
		}
		fmt.Println()
	}
	if len(av.Matches) > 0 {
		fmt.Printf("%s@%s%s", dim, av.Query, reset)
		for _, m := range av.Matches {
			fmt.Printf("\n  %s", m)
		}
		fmt.Println()
	}
	for ; r.printed < len(s.Messages); r.printed++ {
		m := s.Messages[r.printed]
		switch {
		case m.Role() == session.RoleAssistant && m.Type() == session.TextMessage:
			content := m.EffectiveContent()
			if content == "" {
				continue
			}
			fmt.Printf("%s%s%s%s\n%s\n\n", bold, green, "assistant", reset, content)
		case m.Role() == session.RoleAssistant && m.Type() == session.ToolCall:
			for _, use := range m.ToolUses() {
				fmt.Printf("%s  -> %s%s\n", dim, use.Name, reset)
			}
		}
	}
}

// Close releases the readline terminal, called from Loop shutdown.
func (r *REPL) Close() { _ = r.rl.Close() }
