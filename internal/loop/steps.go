package loop

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/ctxassembler"
	"github.com/contextpilot/pilot/internal/panel"
	"github.com/contextpilot/pilot/internal/persistence"
	"github.com/contextpilot/pilot/internal/session"
	"github.com/contextpilot/pilot/internal/stream"
	"github.com/contextpilot/pilot/internal/tool"
)

// stepInput drains whatever keys arrived since the last tick (step 1).
// The TUI layer owns translating raw terminal escape sequences into the
// short key names this loop and the panel handlers agree on ("enter",
// "ctrl+q", "tab", a literal rune, ...).
func (l *Loop) stepInput(ctx context.Context) {
	if l.Input == nil {
		return
	}
	for {
		key, ok := l.Input.PollEvent()
		if !ok {
			return
		}
		if key == "ctrl+q" {
			l.quitting = true
			return
		}
		if l.palette.Open {
			l.handlePaletteKey(key)
			continue
		}
		if key == "ctrl+k" {
			l.OpenPalette()
			continue
		}
		if l.autocomplete.Active && l.handleAutocompleteKey(key) {
			continue
		}
		if key == "esc" && l.State.Streaming {
			l.Interrupt()
			continue
		}
		if len(l.State.Context) == 0 {
			continue
		}
		sel := l.State.SelectedPanel
		if sel < 0 || sel >= len(l.State.Context) {
			continue
		}
		p := l.State.Context[sel]
		act, handled := l.Registry.HandleKey(p, l.State, key)
		if !handled {
			continue
		}
		l.State.Dirty = true
		if act.Kind == panel.ActionSubmit {
			if text, ok := act.Payload.(string); ok {
				l.SubmitUserMessage(text)
			}
		}
		if p.Type() == session.PanelConversation {
			draft, _ := p.Metadata(panel.DraftKey)
			l.refreshAutocomplete(draft)
		}
	}
}

// stepStreamEvents issues a fresh stream when one is queued but not yet
// running, then drains whatever chunks have arrived without blocking
// (step 2).
func (l *Loop) stepStreamEvents() {
	l.maybeStartStream()

	if l.streamCh == nil {
		return
	}
	for {
		select {
		case chunk, ok := <-l.streamCh:
			if !ok {
				l.streamCh = nil
				return
			}
			l.applyChunk(chunk)
		default:
			return
		}
	}
}

func (l *Loop) applyChunk(chunk stream.Chunk) {
	if chunk.DeltaText != "" {
		l.typewriter = append(l.typewriter, []rune(chunk.DeltaText)...)
		l.State.StreamTokens++
		l.State.Dirty = true
	}
	if d := chunk.DeltaToolCall; d != nil {
		idx := -1
		for i, tc := range l.pendingTools {
			if tc.ID == d.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			l.pendingTools = append(l.pendingTools, stream.ToolCallInfo{ID: d.ID, Name: d.Name})
			idx = len(l.pendingTools) - 1
		}
		if d.Name != "" {
			l.pendingTools[idx].Name = d.Name
		}
		l.pendingTools[idx].Arguments += d.ArgsDelta
	}
}

// maybeStartStream launches GenerateStream in the background when State
// says a turn is queued (Streaming true) and nothing is already
// in-flight, mirroring prepare_stream_context's call site in the
// reference run loop.
func (l *Loop) maybeStartStream() {
	if !l.State.Streaming || l.streamDone != nil || l.pendingDone != nil {
		return
	}
	if l.Client == nil {
		return
	}

	l.pendingTools = nil
	l.typewriter = nil
	l.streamCh = make(chan stream.Chunk, 64)
	l.streamDone = make(chan streamOutcome, 1)

	req := l.buildRequest()

	go func(ch chan stream.Chunk, done chan streamOutcome) {
		resp, err := l.Client.GenerateStream(context.Background(), req, ch)
		close(ch)
		done <- streamOutcome{resp: resp, err: err}
	}(l.streamCh, l.streamDone)
}

func (l *Loop) assembleTurn() ctxassembler.Turn {
	newPanelID := func() (string, string) { return l.State.IDs.Next(session.KindPanel) }
	return ctxassembler.Assemble(l.State, l.Registry, l.Pricing, l.previousPanelOrder, newPanelID, nowMs)
}

func (l *Loop) buildRequest() stream.Request {
	turn := l.assembleTurn()
	l.previousPanelOrder = turn.PanelOrder

	messages := make([]stream.Message, 0, len(turn.Messages)+2)
	if l.SystemPrompt != "" {
		messages = append(messages, stream.Message{Role: "system", Content: l.SystemPrompt})
	}
	for _, item := range turn.ContextItems {
		messages = append(messages, stream.Message{Role: "system", Content: item.Format()})
	}
	for _, m := range turn.Messages {
		messages = append(messages, toStreamMessages(m)...)
	}

	req := stream.Request{Messages: messages, Model: l.Model}
	switch {
	case l.ToolPolicy != nil:
		req.Tools = l.ToolPolicy.FilteredList()
	case l.Tools != nil:
		req.Tools = l.Tools.List()
	}
	return req
}

// stepRetry applies the backoff policy to a classified stream error
// (step 3). Each retry drops the partial assistant reply and re-arms
// Streaming so the next tick's maybeStartStream re-issues the call.
// Exhausting the policy clears the retry state, stops streaming and
// logs a warning with the last error; it sets no spine status and adds
// nothing to the conversation.
func (l *Loop) stepRetry(ctx context.Context) {
	if !l.State.Retry.Pending {
		return
	}
	policy := stream.DefaultRetryPolicy()
	if l.State.Retry.Attempt >= policy.MaxRetries {
		l.State.Retry = session.RetryState{}
		l.State.Streaming = false
		l.Logger.Warn("stream retries exhausted", zap.String("reason", l.retryReason()))
		return
	}
	wait := policy.BackoffFor(l.State.Retry.Attempt + 1)
	time.Sleep(wait)
	if msg := currentAssistantMessage(l.State); msg != nil {
		msg.SetContent("")
	}
	l.typewriter = nil
	l.State.Retry.Attempt++
	l.State.Streaming = true
	l.State.Dirty = true
	_ = ctx
}

func (l *Loop) retryReason() string {
	if l.retryPending != nil {
		return l.retryPending.Message
	}
	return l.State.Retry.Reason
}

// stepTypewriter reveals a few buffered runes per tick onto the live
// assistant message instead of dumping the whole delta at once (step 4).
func (l *Loop) stepTypewriter() {
	if len(l.typewriter) == 0 {
		return
	}
	const charsPerTick = 24
	n := charsPerTick
	if n > len(l.typewriter) {
		n = len(l.typewriter)
	}
	chunk := string(l.typewriter[:n])
	l.typewriter = l.typewriter[n:]

	msg := currentAssistantMessage(l.State)
	if msg == nil {
		aID, aUID := l.State.IDs.Next(session.KindAssistantMessage)
		m, err := session.NewMessage(aID, aUID, session.RoleAssistant, session.TextMessage, "")
		if err != nil {
			return
		}
		l.State.Messages = append(l.State.Messages, m)
		msg = m
	}
	msg.AppendDelta(chunk)
	l.State.Dirty = true
}

// stepTLDRResults has nothing to drain: background summarizer goroutines
// call Message.SetTLDR directly once they finish (step 5).
func (l *Loop) stepTLDRResults() {}

// stepCacheUpdates applies every update the cache engine has ready
// without blocking (step 6).
func (l *Loop) stepCacheUpdates() {
	if l.CacheEngine == nil {
		return
	}
	for {
		select {
		case u := <-l.CacheEngine.Updates():
			p, _ := l.State.PanelByID(u.ContextID)
			if p != nil {
				l.Registry.ApplyUpdate(u, p, l.State)
				l.State.Dirty = true
			}
			l.CacheEngine.Complete(u.ContextID)
		default:
			return
		}
	}
}

// stepWatcherEvents marks panels watching a changed filesystem path as
// deprecated so the next deprecation tick re-requests their content
// (step 7).
func (l *Loop) stepWatcherEvents() {
	if l.FSWatcher == nil {
		return
	}
	for {
		select {
		case ev := <-l.FSWatcher.Events():
			for _, p := range l.State.Context {
				if path, ok := p.Metadata("path"); ok && path == ev.Path {
					p.MarkDeprecated()
					l.State.Dirty = true
				}
			}
		default:
			return
		}
	}
}

// stepWaitForPanels clears WaitingForPanels once every panel the turn
// was blocked on has content, or the 5s ceiling passes (step 8).
func (l *Loop) stepWaitForPanels(now int64) {
	if !l.State.WaitingForPanels {
		return
	}
	if now-l.State.WaitForPanelsSince >= WaitForPanelsLimitMs {
		l.State.WaitingForPanels = false
		l.State.Dirty = true
		return
	}
	for _, p := range l.State.Context {
		if !p.HasContent() && l.Registry != nil {
			return
		}
	}
	l.State.WaitingForPanels = false
	l.State.Dirty = true
}

// stepDeferredSleep wakes a deferred tool sleep once its wall-clock
// deadline passes; it never blocks the tick itself (step 9).
func (l *Loop) stepDeferredSleep(now int64) {
	if l.State.ToolSleepUntilMs == 0 {
		return
	}
	if now >= l.State.ToolSleepUntilMs {
		l.State.ToolSleepUntilMs = 0
		l.State.Dirty = true
	}
}

// stepQuestionForm recomputes the question-pending gate from persisted
// message content and, once AnswerQuestion has queued a reply, splices
// it into the waiting tool_result and continues the turn (step 10).
// While pending, other turn-advancing steps (retry, tool execution)
// stay parked until the user answers.
func (l *Loop) stepQuestionForm() {
	if l.pendingAnswer != nil {
		answer := *l.pendingAnswer
		l.pendingAnswer = nil
		l.Pipeline.ResumeQuestion(l.State, answer)
	}
	l.questionPending = stream.HasPendingQuestion(l.State)
}

// stepExternalWatchers polls every registered external watch and named
// condition once, resolving blocking tool calls they complete (step 11).
func (l *Loop) stepExternalWatchers(ctx context.Context) {
	if l.Pollers != nil {
		for key, result := range l.Pollers.PollAll(ctx) {
			if result.ToolUseID != "" {
				l.Pipeline.ResumeConsoleWait(l.State, result.ToolUseID, result.Description)
			}
			_ = key
		}
	}
	if l.Conditions != nil {
		for _, fired := range l.Conditions.CheckAll() {
			if fired.Waiter.ToolUseID != "" {
				l.Pipeline.ResumeConsoleWait(l.State, fired.Waiter.ToolUseID, formatConditionResult(fired.Result))
			}
		}
	}
}

func formatConditionResult(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// stepRemoteSync throttles git/gh-backed panel refreshes to roughly
// once every 5s instead of every tick (step 12).
func (l *Loop) stepRemoteSync(now int64) {
	if now-l.lastRemoteSyncMs < RemoteSyncIntervalMs {
		return
	}
	l.lastRemoteSyncMs = now
	for _, p := range l.State.Context {
		switch p.Type() {
		case session.PanelGit, session.PanelGitResult, session.PanelGithubResult:
			p.MarkDeprecated()
		}
	}
}

// stepTimerDeprecation runs the §4.2 deprecation/suicide algorithm at
// its own 100ms cadence, seeding fixed panels exactly once on the first
// tick (step 13).
func (l *Loop) stepTimerDeprecation(ctx context.Context, now int64) {
	if l.CacheEngine == nil || l.Registry == nil {
		return
	}
	if !l.seeded {
		l.seeded = true
		cache.SeedInitialCacheRefreshes(ctx, l.CacheEngine, l.Registry, l.State, now)
	}
	if now-l.lastDeprecationMs < DeprecationTickMs {
		return
	}
	l.lastDeprecationMs = now
	cache.CheckTimerBasedDeprecation(ctx, l.CacheEngine, l.Registry, l.State, now)
}

// stepToolExecution runs the synchronous tool-execution pass once a
// stream has finished with pending tool calls and no other gate is
// holding the turn (step 14), per §4.6's gate condition.
func (l *Loop) stepToolExecution(ctx context.Context) {
	if l.pendingDone == nil {
		return
	}
	if l.State.WaitingForPanels || l.State.ToolSleepUntilMs != 0 || l.questionPending {
		return
	}
	if len(l.pendingDone.resp.ToolCalls) == 0 {
		return
	}
	l.Pipeline.FinalizeAndExecute(ctx, l.State, l.pendingDone.resp.ToolCalls)
	l.pendingDone = nil
	l.streamDone = nil
}

// stepStreamFinalization closes out a finished stream that produced no
// tool calls: the assistant message is complete, its tokens are rolled
// into SessionTokens, and the turn goes idle (step 15).
func (l *Loop) stepStreamFinalization() {
	l.drainStreamDone()

	if l.pendingDone == nil {
		return
	}
	if len(l.pendingDone.resp.ToolCalls) > 0 {
		return // left for stepToolExecution
	}

	if l.pendingDone.err != nil {
		se := stream.ClassifyError(l.pendingDone.err, "", l.Model)
		l.retryPending = se
		if se.IsRetryable() {
			l.State.Retry.Pending = true
			l.State.Retry.Reason = se.Message
		} else {
			l.State.Streaming = false
		}
		l.pendingDone = nil
		l.streamDone = nil
		l.State.Dirty = true
		return
	}

	if msg := currentAssistantMessage(l.State); msg != nil {
		msg.SetStatus(session.StatusFull)
	}
	l.State.SessionTokens += int64(l.pendingDone.resp.TokensUsed)
	l.State.Streaming = false
	l.State.Retry = session.RetryState{}
	l.pendingDone = nil
	l.streamDone = nil
	l.State.Dirty = true
}

func (l *Loop) drainStreamDone() {
	if l.streamDone == nil || l.pendingDone != nil {
		return
	}
	select {
	case outcome := <-l.streamDone:
		outcome.resp = mergeStreamedToolCalls(outcome.resp, l.pendingTools)
		l.pendingDone = &outcome
	default:
	}
}

// mergeStreamedToolCalls prefers the provider's own final tool-call list
// when present, falling back to what we accumulated from streamed
// deltas (some providers only emit deltas, never a final summary).
func mergeStreamedToolCalls(resp *stream.Response, accumulated []stream.ToolCallInfo) *stream.Response {
	if resp == nil {
		resp = &stream.Response{}
	}
	if len(resp.ToolCalls) == 0 {
		resp.ToolCalls = accumulated
	}
	return resp
}

// stepSpineCheck runs the auto-continuation decision once a turn has
// gone idle (step 16).
func (l *Loop) stepSpineCheck() {
	if l.State.Streaming || l.pendingDone != nil {
		return
	}
	result := stream.CheckSpine(l.State, decideSpine)
	stream.ApplySpineResult(l.State, result)
}

// decideSpine is the default continuation policy: a Todo panel whose
// pending_count metadata is set and non-zero is worth one more turn.
// The assistant's last message is not inspected.
func decideSpine(s *session.State) stream.SpineResult {
	for _, p := range s.PanelsByType(session.PanelTodo) {
		if pending, ok := p.Metadata("pending_count"); ok && pending != "" && pending != "0" {
			return stream.SpineResult{Decision: stream.SpineContinue, Action: "Continue with the remaining todo items."}
		}
	}
	return stream.SpineResult{Decision: stream.SpineIdle}
}

// stepAPIHealth drains the provider health probe, if one is wired, and
// records its verdict on the overview/api-check panel (step 17).
func (l *Loop) stepAPIHealth() {
	if l.HealthProbe == nil {
		return
	}
	healthy, detail, ok := l.HealthProbe.Poll()
	if !ok {
		return
	}
	for _, p := range l.State.PanelsByType(session.PanelOverview) {
		if healthy {
			p.SetMetadata("api_status", "ok")
		} else {
			p.SetMetadata("api_status", "error: "+detail)
		}
	}
	l.State.Dirty = true
}

// stepOwnershipCheck exits the process cleanly the instant another
// process has taken over the session directory (step 18).
func (l *Loop) stepOwnershipCheck(now int64) {
	if l.Lock == nil {
		return
	}
	if now-l.lastOwnershipCheckMs < OwnershipCheckMs {
		return
	}
	l.lastOwnershipCheckMs = now
	if !l.Lock.StillOwns() {
		l.Logger.Info("ownership lost, exiting")
		l.quitting = true
		return
	}
	if err := l.Lock.Refresh(); err != nil {
		l.Logger.Warn("failed to refresh ownership lock", zap.String("error", err.Error()))
	}
}

// stepSpinnerTick marks the state dirty every 100ms while streaming, so
// the renderer redraws its streaming feedback at least that often even
// when no chunk arrived (step 19).
func (l *Loop) stepSpinnerTick(now int64) {
	if now-l.spinnerTickMs < DeprecationTickMs {
		return
	}
	l.spinnerTickMs = now
	if l.State.Streaming {
		l.State.Dirty = true
	}
}

// stepPersist queues a save of every message/panel/state index changed
// since the last tick, per C1's "persisted asynchronously on every
// mutation" contract (§3/§4.1). It runs just ahead of stepRender so it
// observes Dirty before that step clears it; the Writer's own coalescing
// (§4.1's ≤100ms debounce) absorbs the cost of re-submitting unchanged
// records on a tick where only one field actually moved.
func (l *Loop) stepPersist() {
	if l.Writer == nil || !l.State.Dirty {
		return
	}
	persistence.SaveSnapshot(l.Layout, l.Writer, l.State)
}

// stepRender redraws the UI when dirty and the throttle interval has
// elapsed (step 20).
func (l *Loop) stepRender(now int64) {
	if !l.State.Dirty || l.Renderer == nil {
		return
	}
	if now-l.lastRenderMs < RenderThrottleMs {
		return
	}
	l.lastRenderMs = now
	l.Renderer.Render(l.State, l.Registry, l.paletteView(), l.AutocompleteView())
	l.State.Dirty = false
}

// stepAdaptiveSleep yields the goroutine for a short interval when
// streaming or dirty, longer when fully idle (step 21).
func (l *Loop) stepAdaptiveSleep() {
	if l.State.Streaming || l.State.Dirty || l.pendingDone != nil {
		time.Sleep(AdaptiveSleepBusyMs)
		return
	}
	time.Sleep(AdaptiveSleepIdleMs)
}

// currentAssistantMessage returns the live assistant reply: the last
// message, when it is an assistant text message.
func currentAssistantMessage(s *session.State) *session.Message {
	if n := len(s.Messages); n > 0 {
		m := s.Messages[n-1]
		if m.Role() == session.RoleAssistant && m.Type() == session.TextMessage {
			return m
		}
	}
	return nil
}

// toStreamMessages flattens one session-level assembled message into
// the provider-shaped messages a Client expects: a ToolCall message
// becomes one assistant message carrying the requested calls, a
// ToolResult message becomes one "tool" message per result (sentinels
// stripped per §9's sentinel design note), everything else carries through as a
// single role/content message.
func toStreamMessages(am ctxassembler.AssembledMessage) []stream.Message {
	role := string(am.Role)
	switch am.Type {
	case session.ToolCall:
		if am.Msg == nil {
			return nil
		}
		var calls []stream.ToolCallInfo
		for _, tu := range am.Msg.ToolUses() {
			argsJSON, _ := json.Marshal(tu.Arguments)
			calls = append(calls, stream.ToolCallInfo{ID: tu.ID, Name: tu.Name, Arguments: string(argsJSON)})
		}
		return []stream.Message{{Role: role, ToolCalls: calls}}
	case session.ToolResult:
		if am.Msg == nil {
			return nil
		}
		out := make([]stream.Message, 0, len(am.Msg.ToolResults()))
		for _, r := range am.Msg.ToolResults() {
			out = append(out, stream.Message{Role: "tool", Content: tool.StripSentinel(r.Content), ToolCallID: r.ToolUseID})
		}
		return out
	default:
		return []stream.Message{{Role: role, Content: am.Content}}
	}
}
