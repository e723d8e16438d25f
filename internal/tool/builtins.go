package tool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/contextpilot/pilot/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// ReadFileTool reads a file's contents, the read half of the file
// panel's source: a panel watches the same path for live display while
// this tool lets the model pull it on demand.
type ReadFileTool struct{}

func (ReadFileTool) Name() string        { return "read_file" }
func (ReadFileTool) Kind() Kind           { return KindRead }
func (ReadFileTool) Description() string {
	return "Read a file from disk and return its contents."
}
func (ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Path to the file"},
		},
		"required": []string{"path"},
	}
}
func (ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return &Result{Success: false, Error: "path is required"}, fmt.Errorf("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Output: string(data)}, nil
}

// CallbackNotifier lets a mutating tool ask the loop to match an edited
// path against configured callback scripts (§4.6 step 4), firing
// non-blocking matches asynchronously and arming a blocking wait for
// the first blocking match under sentinelID/toolUseID. It reports
// whether any blocking callback matched, the signal the caller uses to
// decide whether this result must carry the console-wait sentinel.
type CallbackNotifier interface {
	NotifyEdit(path, sentinelID, toolUseID string) (blocking bool)
}

// WriteFileTool overwrites a file and, when wired with a
// CallbackNotifier, tags its result with the console-wait sentinel so
// the pipeline pauses the turn until the editor callback resolves —
// mirrors execute_open_editor/execute_close_editor in the reference
// callback tool module.
type WriteFileTool struct {
	notifier CallbackNotifier
}

func NewWriteFileTool(notifier CallbackNotifier) *WriteFileTool {
	return &WriteFileTool{notifier: notifier}
}

func (WriteFileTool) Name() string        { return "write_file" }
func (WriteFileTool) Kind() Kind           { return KindEdit }
func (WriteFileTool) Description() string {
	return "Overwrite a file with new content, creating it and parent directories if needed."
}
func (WriteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}
func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return &Result{Success: false, Error: "path is required"}, fmt.Errorf("path is required")
	}
	original, _ := os.ReadFile(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if t.notifier != nil {
		sentinelID := fmt.Sprintf("%d", time.Now().UnixNano())
		toolUseID, _ := ToolUseIDFromContext(ctx)
		if t.notifier.NotifyEdit(path, sentinelID, toolUseID) {
			return &Result{Success: true, Output: ConsoleWaitCallbackSentinel(sentinelID, string(original))}, nil
		}
	}
	return &Result{Success: true, Output: "wrote " + path}, nil
}

// EditFileTool replaces one occurrence of old_text with new_text inside
// an existing file, the narrow patch-style mutator the reference
// gateway's domain tool layer names KindEdit.
type EditFileTool struct{ notifier CallbackNotifier }

func NewEditFileTool(notifier CallbackNotifier) *EditFileTool { return &EditFileTool{notifier: notifier} }

func (EditFileTool) Name() string        { return "edit_file" }
func (EditFileTool) Kind() Kind           { return KindEdit }
func (EditFileTool) Description() string {
	return "Replace the first occurrence of old_text with new_text in path. Fails if old_text is not found or not unique."
}
func (EditFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":     map[string]interface{}{"type": "string"},
			"old_text": map[string]interface{}{"type": "string"},
			"new_text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}
func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	data, err := os.ReadFile(path)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	content := string(data)
	count := strings.Count(content, oldText)
	if count == 0 {
		return &Result{Success: false, Error: "old_text not found"}, nil
	}
	if count > 1 {
		return &Result{Success: false, Error: "old_text is not unique; include more context"}, nil
	}
	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if t.notifier != nil {
		sentinelID := fmt.Sprintf("%d", time.Now().UnixNano())
		toolUseID, _ := ToolUseIDFromContext(ctx)
		if t.notifier.NotifyEdit(path, sentinelID, toolUseID) {
			return &Result{Success: true, Output: ConsoleWaitCallbackSentinel(sentinelID, content)}, nil
		}
	}
	return &Result{Success: true, Output: "edited " + path}, nil
}

// GrepSearchTool runs a regex across a directory tree and returns
// matching lines, feeding the same pattern a grep panel would track.
type GrepSearchTool struct{}

func (GrepSearchTool) Name() string        { return "grep" }
func (GrepSearchTool) Kind() Kind           { return KindSearch }
func (GrepSearchTool) Description() string {
	return "Search files under a root directory for lines matching a regular expression."
}
func (GrepSearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string"},
			"root":    map[string]interface{}{"type": "string"},
		},
		"required": []string{"pattern"},
	}
}
func (GrepSearchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	pattern, _ := args["pattern"].(string)
	root, _ := args["root"].(string)
	if root == "" {
		root = "."
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	var out strings.Builder
	matches := 0
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() || matches >= 200 {
			return nil
		}
		if strings.Contains(path, string(filepath.Separator)+".git"+string(filepath.Separator)) {
			return nil
		}
		f, ferr := os.Open(path)
		if ferr != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if re.MatchString(scanner.Text()) {
				fmt.Fprintf(&out, "%s:%d: %s\n", path, lineNo, scanner.Text())
				matches++
				if matches >= 200 {
					break
				}
			}
		}
		return nil
	})
	return &Result{Success: true, Output: out.String(), Metadata: map[string]interface{}{"matches": matches}}, nil
}

// GlobSearchTool expands a glob pattern against the filesystem, backing
// the glob panel's on-demand counterpart.
type GlobSearchTool struct{}

func (GlobSearchTool) Name() string        { return "glob" }
func (GlobSearchTool) Kind() Kind           { return KindSearch }
func (GlobSearchTool) Description() string { return "List files matching a glob pattern." }
func (GlobSearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string"},
		},
		"required": []string{"pattern"},
	}
}
func (GlobSearchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	pattern, _ := args["pattern"].(string)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Output: strings.Join(matches, "\n")}, nil
}

// BashTool runs a shell command inside the process sandbox, the same
// execution primitive the reference gateway exposes to the model.
type BashTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

func NewBashTool(sb *sandbox.ProcessSandbox, logger *zap.Logger) *BashTool {
	return &BashTool{sandbox: sb, logger: logger}
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Kind() Kind           { return KindExecute }
func (t *BashTool) Description() string {
	return "Execute a shell command in a sandboxed environment with a 60s timeout."
}
func (t *BashTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command":  map[string]interface{}{"type": "string"},
			"work_dir": map[string]interface{}{"type": "string"},
		},
		"required": []string{"command"},
	}
}
func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return &Result{Success: false, Error: "command is required"}, fmt.Errorf("command is required")
	}
	if workDir, ok := args["work_dir"].(string); ok && workDir != "" {
		if err := t.sandbox.SetWorkDir(workDir); err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
	}
	if t.logger != nil {
		t.logger.Info("executing bash command", zap.String("command", command))
	}
	result, err := t.sandbox.ExecuteShell(ctx, command)
	if err != nil {
		res := &Result{Success: false, Error: err.Error()}
		if result != nil {
			res.Output = result.Stderr
			res.Metadata = map[string]interface{}{"exit_code": result.ExitCode, "killed": result.Killed}
		}
		return res, nil
	}
	output := result.Stdout
	if result.Stderr != "" {
		output += "\n[stderr]\n" + result.Stderr
	}
	return &Result{Success: true, Output: output, Metadata: map[string]interface{}{"exit_code": result.ExitCode}}, nil
}

// GitCommitTool is the one mutating git action exposed to the model,
// the reference gateway's "commit" action narrowed to its own tool so
// push/reset/rebase never need to be modeled at all (§2 Non-goals:
// no remote git mutation).
type GitCommitTool struct{}

func (GitCommitTool) Name() string        { return "git_commit" }
func (GitCommitTool) Kind() Kind           { return KindExecute }
func (GitCommitTool) Description() string {
	return "Stage all changes and create a git commit with the given message. No push, reset, or rebase."
}
func (GitCommitTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"repo_path": map[string]interface{}{"type": "string"},
			"message":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"message"},
	}
}
func (GitCommitTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	repoPath, _ := args["repo_path"].(string)
	if repoPath == "" {
		repoPath = "."
	}
	message, _ := args["message"].(string)
	if message == "" {
		return &Result{Success: false, Error: "message is required"}, fmt.Errorf("message is required")
	}
	if err := exec.CommandContext(ctx, "git", "-C", repoPath, "add", "-A").Run(); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	out, err := exec.CommandContext(ctx, "git", "-C", repoPath, "commit", "-m", message).CombinedOutput()
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Output: string(out)}, nil
	}
	return &Result{Success: true, Output: string(out)}, nil
}

// AskUserTool is the KindCommunicate tool that blocks a turn until the
// user answers a question form (§4.6's __QUESTION_PENDING__ sentinel).
type AskUserTool struct{ notifier QuestionNotifier }

// QuestionNotifier lets ask_user push a question form into loop state
// without this package depending on internal/loop.
type QuestionNotifier interface {
	NotifyQuestion(prompt string, options []string)
}

func NewAskUserTool(notifier QuestionNotifier) *AskUserTool { return &AskUserTool{notifier: notifier} }

func (AskUserTool) Name() string        { return "ask_user" }
func (AskUserTool) Kind() Kind           { return KindCommunicate }
func (AskUserTool) Description() string {
	return "Ask the user a clarifying question and block until they answer."
}
func (AskUserTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt":  map[string]interface{}{"type": "string"},
			"options": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"prompt"},
	}
}
func (t *AskUserTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	prompt, _ := args["prompt"].(string)
	var options []string
	if raw, ok := args["options"].([]interface{}); ok {
		for _, o := range raw {
			if s, ok := o.(string); ok {
				options = append(options, s)
			}
		}
	}
	if t.notifier != nil {
		t.notifier.NotifyQuestion(prompt, options)
	}
	return &Result{Success: true, Output: QuestionPendingSentinel}, nil
}

// PanelPager lets panel_goto_page flip a panel's current page without
// this package depending on internal/session directly beyond the id.
type PanelPager interface {
	GotoPage(panelID string, page int) error
}

// PanelGotoPageTool implements §4.4/§9's pagination control surface:
// the model asks to see another page of an over-long panel.
type PanelGotoPageTool struct{ pager PanelPager }

func NewPanelGotoPageTool(pager PanelPager) *PanelGotoPageTool { return &PanelGotoPageTool{pager: pager} }

func (PanelGotoPageTool) Name() string        { return "panel_goto_page" }
func (PanelGotoPageTool) Kind() Kind           { return KindThink }
func (PanelGotoPageTool) Description() string {
	return "Change the current page of a paginated context panel so its next page is rendered into context."
}
func (PanelGotoPageTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"panel_id": map[string]interface{}{"type": "string"},
			"page":     map[string]interface{}{"type": "integer"},
		},
		"required": []string{"panel_id", "page"},
	}
}
func (t *PanelGotoPageTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	panelID, _ := args["panel_id"].(string)
	pageF, _ := args["page"].(float64)
	if panelID == "" {
		return &Result{Success: false, Error: "panel_id is required"}, fmt.Errorf("panel_id is required")
	}
	if err := t.pager.GotoPage(panelID, int(pageF)); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Output: fmt.Sprintf("panel %s now on page %d", panelID, int(pageF))}, nil
}

// ConsoleWatchRegistrar lets Console_wait hand a tool_use_id to
// whatever external watcher subsystem (tmux output hash, fs event,
// condition waiter) the session is a session/key belongs to, without
// this package depending on internal/watch directly.
type ConsoleWatchRegistrar interface {
	RegisterWait(toolUseID, session string) error
}

// ConsoleWaitTool is the model-visible half of §4.6's blocking wait
// path (scenario S2): it registers a watcher for the named session and
// returns the bare sentinel; the pipeline holds this tool_use_id's
// result pending until the watcher fires.
type ConsoleWaitTool struct{ registrar ConsoleWatchRegistrar }

func NewConsoleWaitTool(registrar ConsoleWatchRegistrar) *ConsoleWaitTool {
	return &ConsoleWaitTool{registrar: registrar}
}

func (ConsoleWaitTool) Name() string        { return "Console_wait" }
func (ConsoleWaitTool) Kind() Kind           { return KindThink }
func (ConsoleWaitTool) Description() string {
	return "Block the current turn until the named tmux/console session produces new output or exits."
}
func (ConsoleWaitTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session": map[string]interface{}{"type": "string", "description": "Console/tmux session key to wait on"},
		},
		"required": []string{"session"},
	}
}
func (t *ConsoleWaitTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	session, _ := args["session"].(string)
	if session == "" {
		return &Result{Success: false, Error: "session is required"}, fmt.Errorf("session is required")
	}
	// The registrar call itself is non-blocking: it arms a watcher keyed
	// by this call's own tool_use_id (threaded in by the pipeline via
	// WithToolUseID, not an argument the model supplies) and returns
	// immediately. The actual wait happens in the event loop's
	// external-watcher step.
	toolUseID, _ := ToolUseIDFromContext(ctx)
	if t.registrar != nil {
		if err := t.registrar.RegisterWait(toolUseID, session); err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
	}
	return &Result{Success: true, Output: ConsoleWaitSentinelTag}, nil
}

// RegisterAllTools installs every built-in this module defines into reg,
// the pass-through attachment point §9's expanded tool-surface section
// names for a richer external tool set to extend. Tools needing a
// notifier/pager/registrar collaborator are skipped when that
// collaborator is nil — callers wire those in separately via reg.Register.
func RegisterAllTools(reg Registry, sb *sandbox.ProcessSandbox, logger *zap.Logger, notifier CallbackNotifier, pager PanelPager, watchRegistrar ConsoleWatchRegistrar, questionNotifier QuestionNotifier) error {
	tools := []Tool{
		ReadFileTool{},
		NewWriteFileTool(notifier),
		NewEditFileTool(notifier),
		GrepSearchTool{},
		GlobSearchTool{},
		GitCommitTool{},
	}
	if sb != nil {
		tools = append(tools, NewBashTool(sb, logger))
	}
	if pager != nil {
		tools = append(tools, NewPanelGotoPageTool(pager))
	}
	if watchRegistrar != nil {
		tools = append(tools, NewConsoleWaitTool(watchRegistrar))
	}
	if questionNotifier != nil {
		tools = append(tools, NewAskUserTool(questionNotifier))
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
