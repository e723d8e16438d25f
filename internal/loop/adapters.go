package loop

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/contextpilot/pilot/internal/session"
	"github.com/contextpilot/pilot/internal/stream"
	"github.com/contextpilot/pilot/internal/watch"
	"github.com/contextpilot/pilot/pkg/safego"
)

// SubmitUserMessage appends a new user TextMessage and arms Streaming so
// the next tick's maybeStartStream begins a turn for it. This is the
// entry point every host (the TUI's conversation panel submit action,
// the scripted CLI) calls on a user's typed input, per §8 scenario S1.
// A submit while a turn is already in flight is ignored — the
// conversation panel's own HandleKey already gates on this, but hosts
// that bypass the panel (e.g. the CLI) rely on this guard instead.
func (l *Loop) SubmitUserMessage(text string) {
	if strings.TrimSpace(text) == "" || l.State.Streaming {
		return
	}
	id, uid := l.State.IDs.Next(session.KindUserMessage)
	m, err := session.NewMessage(id, uid, session.RoleUser, session.TextMessage, text)
	if err != nil {
		return
	}
	l.State.Messages = append(l.State.Messages, m)
	l.State.Retry = session.RetryState{}
	l.State.Streaming = true
	l.State.Dirty = true
}

// Interrupt handles the Esc-during-streaming path (§4.6, scenario S3):
// it synthesizes interrupted tool_results for anything outstanding and
// tears down every piece of in-flight stream/tool state so a stray late
// arrival on the background stream goroutine's done channel cannot
// revive the turn.
func (l *Loop) Interrupt() {
	if l.Pipeline != nil {
		l.Pipeline.Interrupt(l.State, l.pendingTools)
	} else {
		l.State.Streaming = false
	}
	l.pendingTools = nil
	l.pendingDone = nil
	l.streamCh = nil
	l.streamDone = nil
	l.typewriter = nil
	l.retryPending = nil
	l.questionPending = false
	l.pendingAnswer = nil
	l.pendingQuestion = nil
	l.State.Dirty = true
}

// CallbackRule matches an edited path against a configured script,
// per §4.6 step 4 / §6's scripts/{callback_name}.sh layout. Blocking
// rules pause the turn until the script exits; non-blocking ones fire
// and forget.
type CallbackRule struct {
	Pattern  string // matched against filepath.Base(path) with filepath.Match
	Script   string // executable path, invoked as `Script Path`
	Blocking bool
}

// callbackResult is the outcome of a blocking callback script, polled
// by the ConditionRegistry waiter NotifyEdit arms.
type callbackResult struct {
	output string
	err    error
}

// Loop implements tool.CallbackNotifier, tool.QuestionNotifier,
// tool.PanelPager, and tool.ConsoleWatchRegistrar so the default tool
// set can reach back into the scheduler's watcher/condition registries
// and panel list without those tools importing internal/loop.

// NotifyEdit matches path against Callbacks, firing non-blocking
// scripts asynchronously and arming a ConditionRegistry waiter for the
// first blocking match. Returns whether a blocking callback armed.
func (l *Loop) NotifyEdit(path, sentinelID, toolUseID string) bool {
	armed := false
	base := filepath.Base(path)
	for _, rule := range l.Callbacks {
		matched, _ := filepath.Match(rule.Pattern, base)
		if !matched {
			continue
		}
		if !rule.Blocking {
			safego.Go(l.Logger, "callback:"+rule.Script, func() { l.runCallbackScript(rule.Script, path) })
			continue
		}
		if armed {
			// Only the first blocking match owns this sentinel; a
			// second blocking rule on the same edit still runs, just
			// without its own wait gate.
			safego.Go(l.Logger, "callback:"+rule.Script, func() { l.runCallbackScript(rule.Script, path) })
			continue
		}
		armed = true
		l.armBlockingCallback(sentinelID, toolUseID, rule.Script, path)
	}
	return armed
}

func (l *Loop) runCallbackScript(script, path string) {
	cmd := exec.Command(script, path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil && l.Logger != nil {
		l.Logger.Warn("callback script failed", zap.String("script", script), zap.Error(err))
	}
}

func (l *Loop) armBlockingCallback(sentinelID, toolUseID, script, path string) {
	if l.Conditions == nil {
		return
	}
	if l.callbackResults == nil {
		l.callbackResults = make(map[string]callbackResult)
	}
	done := make(chan struct{})
	go func() {
		cmd := exec.Command(script, path)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		err := cmd.Run()
		l.callbackMu.Lock()
		l.callbackResults[sentinelID] = callbackResult{output: out.String(), err: err}
		l.callbackMu.Unlock()
		close(done)
	}()
	l.Conditions.Register(watch.Waiter{
		Key:       "callback:" + sentinelID,
		Kind:      watch.ConditionBlocking,
		ToolUseID: toolUseID,
		Check: func() (interface{}, bool) {
			l.callbackMu.Lock()
			defer l.callbackMu.Unlock()
			res, ok := l.callbackResults[sentinelID]
			if !ok {
				return nil, false
			}
			delete(l.callbackResults, sentinelID)
			if res.err != nil {
				return "callback error: " + res.err.Error(), true
			}
			return res.output, true
		},
	})
}

// NotifyQuestion stages prompt/options for the renderer to display; the
// renderer resolves it by calling AnswerQuestion once the user answers.
func (l *Loop) NotifyQuestion(prompt string, options []string) {
	l.pendingQuestion = &stream.PendingQuestion{Prompt: prompt, Options: options}
}

// PendingQuestion returns the currently staged question form, or nil.
func (l *Loop) PendingQuestionForm() *stream.PendingQuestion {
	return l.pendingQuestion
}

// AnswerQuestion queues the user's answer for the next tick's
// stepQuestionForm to splice into the waiting tool_result.
func (l *Loop) AnswerQuestion(answer string) {
	l.pendingAnswer = &answer
	l.pendingQuestion = nil
}

// GotoPage implements tool.PanelPager: panel_goto_page flips a panel's
// current page, clamped to its known total (§4.4/§9 pagination). page
// is 1-indexed; the panel stores it 0-indexed, as paginate reads it.
func (l *Loop) GotoPage(panelID string, page int) error {
	p, idx := l.State.PanelByID(panelID)
	if idx < 0 {
		return fmt.Errorf("panel %s not found", panelID)
	}
	_, total := p.Pagination()
	if page < 1 {
		page = 1
	}
	if total > 0 && page > total {
		page = total
	}
	p.SetPagination(page-1, total)
	l.State.Dirty = true
	return nil
}

// RegisterWait implements tool.ConsoleWatchRegistrar: Console_wait arms
// a poll on the named tmux session, firing once when the session ends
// or produces new output, per §4.3's named-condition waiter contract
// (fires at most once) applied to a tmux pane.
func (l *Loop) RegisterWait(toolUseID, sessionKey string) error {
	if l.Pollers == nil {
		return fmt.Errorf("no external watcher registry configured")
	}
	poller := watch.NewOutputHashPoller(func(ctx context.Context) (string, error) {
		cmd := exec.CommandContext(ctx, "tmux", "capture-pane", "-p", "-t", sessionKey)
		var out bytes.Buffer
		cmd.Stdout = &out
		_ = cmd.Run()
		return out.String(), nil
	})
	// Record the pane as it is now, so only later output counts as new.
	_, _, _ = poller.Poll(context.Background())
	l.Pollers.Register(toolUseID, func(ctx context.Context) (*watch.WatcherResult, bool) {
		alive := exec.CommandContext(ctx, "tmux", "has-session", "-t", sessionKey).Run() == nil
		out, changed, err := poller.Poll(ctx)
		if err != nil {
			l.Pollers.Close(toolUseID)
			return &watch.WatcherResult{ToolUseID: toolUseID, Description: "error: " + err.Error()}, true
		}
		if !alive {
			l.Pollers.Close(toolUseID)
			return &watch.WatcherResult{ToolUseID: toolUseID, Description: "exit=0\n" + out}, true
		}
		if changed {
			l.Pollers.Close(toolUseID)
			return &watch.WatcherResult{ToolUseID: toolUseID, Description: out}, true
		}
		return nil, false
	})
	return nil
}
