package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/contextpilot/pilot/internal/infrastructure/monitoring"
	"github.com/contextpilot/pilot/internal/session"
	"github.com/contextpilot/pilot/internal/tool"
)

// Pipeline runs the tool-execution step of one turn, grounded on the
// reference implementation's run/tool_pipeline.rs sequence: finalize
// the streaming assistant message, kick off its TL;DR in the
// background, append one ToolCall message, execute every requested
// tool, assemble exactly one ToolResult per tool_use_id, route blocking
// sentinels to pending state instead of continuing, and otherwise
// queue a fresh empty assistant message so the next tick re-issues the
// stream.
type Pipeline struct {
	tools      tool.Registry
	summarizer Summarizer
	policy     *tool.PolicyEnforcer
	monitor    *monitoring.Monitor
}

func NewPipeline(tools tool.Registry, summarizer Summarizer) *Pipeline {
	return &Pipeline{tools: tools, summarizer: summarizer}
}

// WithPolicy arms a tool.PolicyEnforcer: FinalizeAndExecute then
// refuses to run any tool call the policy's deny/allow lists reject
// instead of handing it to the registry, per §4.6's "ask mode"/deny
// list enforcement point. Nil disables enforcement (every registered
// tool is callable), matching the zero-value Pipeline's prior behavior.
func (p *Pipeline) WithPolicy(policy *tool.PolicyEnforcer) *Pipeline {
	p.policy = policy
	return p
}

// WithMonitor arms an in-process counter collector: every tool
// execution this pipeline runs increments its total/success/failed
// counters, the ambient-observability substitute for the dropped
// Prometheus exporter (no HTTP server is in scope to expose metrics
// on, so counters are logged from cmd/pilot/main.go's shutdown path
// instead). Nil disables counting.
func (p *Pipeline) WithMonitor(m *monitoring.Monitor) *Pipeline {
	p.monitor = m
	return p
}

// PendingConsoleWait is one tool_use_id whose result is blocked on an
// external watcher, stored on State via SetExt so a restart can resume
// waiting on it (§4.6 step 3's CONSOLE_WAIT_BLOCKING path).
type PendingConsoleWait struct {
	ToolUseID string
	Session   string
}

// pendingWaits is the per-state bag of PendingConsoleWait entries,
// looked up with session.GetExt/SetExt the way every other piece of
// heterogeneous module data is threaded through State.
type pendingWaits struct {
	entries []PendingConsoleWait
}

// FinalizeAndExecute is called once the stream for the current
// assistant message reaches a tool_calls (or stop) finish reason. It
// performs the synchronous portion of the tool-execution step; tools
// themselves run to completion here (the loop's own scheduling keeps
// this off the render path by running in the tool-execution step, not
// inside the stream-polling step).
func (p *Pipeline) FinalizeAndExecute(ctx context.Context, s *session.State, toolCalls []ToolCallInfo) {
	if len(toolCalls) == 0 {
		return
	}

	assistantMsg := currentAssistantMessage(s)
	if assistantMsg != nil {
		assistantMsg.SetStatus(session.StatusFull)
		if p.summarizer != nil {
			go func(m *session.Message) {
				tldr, err := p.summarizer.Summarize(context.Background(), m)
				if err == nil && tldr != "" {
					m.SetTLDR(tldr)
				}
			}(assistantMsg)
		}
	}

	var uses []session.ToolUse
	for _, tc := range toolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		uses = append(uses, session.ToolUse{ID: tc.ID, Name: tc.Name, Arguments: args})
	}
	tcID, tcUID := s.IDs.Next(session.KindToolCall)
	tcMsg, err := session.NewMessage(tcID, tcUID, session.RoleAssistant, session.ToolCall, "")
	if err == nil {
		tcMsg.SetToolUses(uses)
		s.Messages = append(s.Messages, tcMsg)
	}

	var results []session.ToolResultEntry
	blockedAny := false
	var blockedSession string
	var blockedToolUseID string

	for _, use := range uses {
		if p.policy != nil && !p.policy.CanExecute(use.Name) {
			results = append(results, session.ToolResultEntry{
				ToolUseID: use.ID, Content: "tool " + use.Name + " is not permitted by the current tool policy", IsError: true,
			})
			continue
		}
		t, ok := p.tools.Get(use.Name)
		if !ok {
			results = append(results, session.ToolResultEntry{
				ToolUseID: use.ID, Content: "unknown tool: " + use.Name, IsError: true,
			})
			continue
		}
		if p.monitor != nil {
			p.monitor.IncToolCallTotal()
		}
		start := time.Now()
		res, execErr := t.Execute(tool.WithToolUseID(ctx, use.ID), use.Arguments)
		if p.monitor != nil {
			p.monitor.RecordToolLatency(time.Since(start))
		}
		if execErr != nil || res == nil {
			msg := "tool execution failed"
			if execErr != nil {
				msg = execErr.Error()
			}
			if p.monitor != nil {
				p.monitor.IncToolCallFailed()
			}
			results = append(results, session.ToolResultEntry{ToolUseID: use.ID, Content: msg, IsError: true})
			continue
		}
		if p.monitor != nil {
			if res.Success {
				p.monitor.IncToolCallSuccess()
			} else {
				p.monitor.IncToolCallFailed()
			}
		}
		content := res.DisplayOrOutput()
		if tool.IsQuestionPending(content) {
			results = append(results, session.ToolResultEntry{ToolUseID: use.ID, Content: content})
			s.Dirty = true
			persistPendingResults(s, results, toolCalls)
			return
		}
		if tool.IsConsoleWaitBlocking(content) {
			blockedAny = true
			blockedToolUseID = use.ID
			if sess, ok := use.Arguments["session"].(string); ok {
				blockedSession = sess
			}
			results = append(results, session.ToolResultEntry{ToolUseID: use.ID, Content: content})
			continue
		}
		results = append(results, session.ToolResultEntry{ToolUseID: use.ID, Content: content, IsError: !res.Success})
	}

	if blockedAny {
		pw, _ := session.GetExt[pendingWaits](s)
		pw.entries = append(pw.entries, PendingConsoleWait{ToolUseID: blockedToolUseID, Session: blockedSession})
		session.SetExt(s, pw)
		persistPendingResults(s, results, toolCalls)
		s.Dirty = true
		return
	}

	appendToolResultMessage(s, results)
	continueTurn(s)
}

// PendingQuestion is the prompt/options an AskUserTool call staged via
// its QuestionNotifier collaborator, held on State so a renderer can
// pick it up and answer it asynchronously (§4.6 step 3's
// __QUESTION_PENDING__ path).
type PendingQuestion struct {
	Prompt  string
	Options []string
}

// HasPendingQuestion reports whether any ToolResult message still
// carries an unresolved question sentinel — the loop's stepQuestionForm
// gate (§4.7 step 10) consults this instead of a separate counter so
// restart can recover the gate purely from persisted message content.
func HasPendingQuestion(s *session.State) bool {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Type() != session.ToolResult {
			continue
		}
		for _, r := range m.ToolResults() {
			if tool.IsQuestionPending(r.Content) {
				return true
			}
		}
		return false
	}
	return false
}

// ResumeQuestion splices the user's answer into the pending
// __QUESTION_PENDING__ tool_result entry (keyed by the first one found,
// matching FinalizeAndExecute's one-at-a-time gate) and continues the
// turn, mirroring ResumeConsoleWait's resolution shape.
func (p *Pipeline) ResumeQuestion(s *session.State, answer string) {
	for _, m := range s.Messages {
		if m.Type() != session.ToolResult {
			continue
		}
		results := m.ToolResults()
		changed := false
		for i := range results {
			if tool.IsQuestionPending(results[i].Content) {
				results[i].Content = answer
				results[i].IsError = false
				changed = true
			}
		}
		if changed {
			m.SetToolResults(results)
			s.Dirty = true
			continueTurn(s)
			return
		}
	}
}

// ResumeConsoleWait is called by the loop's external-watcher step when a
// registered session produces output, replacing the sentinel with the
// real content and, once every pending wait for this turn has
// resolved, appending the ToolResult message and continuing the turn.
func (p *Pipeline) ResumeConsoleWait(s *session.State, toolUseID, output string) {
	pw, ok := session.GetExt[pendingWaits](s)
	if !ok {
		return
	}
	remaining := pw.entries[:0]
	resolved := false
	for _, e := range pw.entries {
		if e.ToolUseID == toolUseID {
			resolved = true
			continue
		}
		remaining = append(remaining, e)
	}
	if !resolved {
		return
	}
	pw.entries = remaining
	session.SetExt(s, pw)

	for _, m := range s.Messages {
		if m.Type() != session.ToolResult {
			continue
		}
		results := m.ToolResults()
		changed := false
		for i := range results {
			if results[i].ToolUseID == toolUseID {
				results[i].Content = output
				results[i].IsError = false
				changed = true
			}
		}
		if changed {
			m.SetToolResults(results)
		}
	}

	if len(pw.entries) == 0 {
		continueTurn(s)
	}
	s.Dirty = true
}

// persistPendingResults stashes the partial tool-result batch as a
// ToolResult message carrying whichever sentinel blocked it, so a
// restart can find and resume it.
func persistPendingResults(s *session.State, results []session.ToolResultEntry, toolCalls []ToolCallInfo) {
	appendToolResultMessage(s, results)
}

func appendToolResultMessage(s *session.State, results []session.ToolResultEntry) {
	rID, rUID := s.IDs.Next(session.KindToolResult)
	msg, err := session.NewMessage(rID, rUID, session.RoleUser, session.ToolResult, "")
	if err != nil {
		return
	}
	msg.SetToolResults(results)
	s.Messages = append(s.Messages, msg)
}

// continueTurn queues a fresh empty assistant message so the next tick
// re-issues the stream with the updated message list, per §4.6.
func continueTurn(s *session.State) {
	aID, aUID := s.IDs.Next(session.KindAssistantMessage)
	msg, err := session.NewMessage(aID, aUID, session.RoleAssistant, session.TextMessage, "")
	if err != nil {
		return
	}
	s.Messages = append(s.Messages, msg)
	s.Streaming = true
}

// Interrupt resolves §4.6's "Esc during streaming" scenario (S3): every
// outstanding tool_use_id — whether streamed but not yet dispatched
// (pendingNotYetDispatched, still sitting on the loop), or already
// dispatched and blocked on a sentinel inside an existing ToolResult
// message — receives a synthetic "Tool execution interrupted by user."
// result, preserving the "every tool_use has exactly one tool_result"
// invariant (§8 prop 1) the LLM wire protocol requires even when the
// user cancels mid-tool.
func (p *Pipeline) Interrupt(s *session.State, pendingNotYetDispatched []ToolCallInfo) {
	resolvedAny := false
	for _, m := range s.Messages {
		if m.Type() != session.ToolResult {
			continue
		}
		results := m.ToolResults()
		changed := false
		for i := range results {
			if tool.IsConsoleWaitBlocking(results[i].Content) || tool.IsQuestionPending(results[i].Content) {
				results[i].Content = "Tool execution interrupted by user."
				results[i].IsError = true
				changed = true
				resolvedAny = true
			}
		}
		if changed {
			m.SetToolResults(results)
		}
	}
	session.SetExt(s, pendingWaits{})

	if len(pendingNotYetDispatched) > 0 {
		var uses []session.ToolUse
		results := make([]session.ToolResultEntry, 0, len(pendingNotYetDispatched))
		for _, tc := range pendingNotYetDispatched {
			uses = append(uses, session.ToolUse{ID: tc.ID, Name: tc.Name})
			results = append(results, session.ToolResultEntry{
				ToolUseID: tc.ID, Content: "Tool execution interrupted by user.", IsError: true,
			})
		}
		tcID, tcUID := s.IDs.Next(session.KindToolCall)
		if tcMsg, err := session.NewMessage(tcID, tcUID, session.RoleAssistant, session.ToolCall, ""); err == nil {
			tcMsg.SetToolUses(uses)
			s.Messages = append(s.Messages, tcMsg)
		}
		appendToolResultMessage(s, results)
		resolvedAny = true
	}

	if resolvedAny {
		continueTurn(s)
	}
	s.Streaming = false
	s.Dirty = true
}

func currentAssistantMessage(s *session.State) *session.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role() == session.RoleAssistant && m.Type() == session.TextMessage {
			return m
		}
	}
	return nil
}

// StripForLLM strips every blocking sentinel from a ToolResultEntry's
// content before it is serialized into a stream.Message, the
// enforcement point of §9's sentinel design note.
func StripForLLM(entries []session.ToolResultEntry) []session.ToolResultEntry {
	out := make([]session.ToolResultEntry, len(entries))
	for i, e := range entries {
		e.Content = tool.StripSentinel(e.Content)
		out[i] = e
	}
	return out
}

