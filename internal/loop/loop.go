// Package loop implements C7: the single-threaded cooperative event
// loop that interleaves input, streaming, tool execution, background
// panel refreshes, filesystem watchers, and persistence, per §4.7's
// 21-step tick.
package loop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/ctxassembler"
	"github.com/contextpilot/pilot/internal/infrastructure/monitoring"
	"github.com/contextpilot/pilot/internal/panel"
	"github.com/contextpilot/pilot/internal/persistence"
	"github.com/contextpilot/pilot/internal/session"
	"github.com/contextpilot/pilot/internal/stream"
	"github.com/contextpilot/pilot/internal/tool"
	"github.com/contextpilot/pilot/internal/watch"
)

// Timing constants named directly in §4.7/§5.
const (
	RenderThrottleMs     = 36
	WaitForPanelsLimitMs = 5000
	DeprecationTickMs    = 100
	RemoteSyncIntervalMs = 5000
	OwnershipCheckMs     = 1000
	AdaptiveSleepBusyMs  = 8 * time.Millisecond
	AdaptiveSleepIdleMs  = 50 * time.Millisecond
	MaxAPIRetries        = 4
)

// InputSource is the non-blocking key source the loop polls in step 1.
// The TUI layer (C9) implements this over its own event channel.
type InputSource interface {
	PollEvent() (key string, ok bool)
}

// Renderer draws the current state; the loop only calls it when dirty
// and the throttle has elapsed (step 20). pv carries the command
// palette's read-only view so the renderer can draw it as an overlay
// without reaching back into *Loop.
type Renderer interface {
	Render(s *session.State, reg *panel.Registry, pv PaletteView, av AutocompleteViewData)
}

// PaletteItemView is one palette row, stripped of its Run closure.
type PaletteItemView struct {
	Name        string
	Description string
}

// PaletteView is the palette's render-only snapshot for one tick.
type PaletteView struct {
	Open     bool
	Query    string
	Selected int
	Items    []PaletteItemView
}

// HealthProbe is the one-shot provider health-check channel source
// step 17 drains.
type HealthProbe interface {
	Poll() (healthy bool, detail string, ok bool)
}

// Loop owns every collaborator the scheduler drives. It is the single
// mutator of State, per the shared-resource policy in §5.
type Loop struct {
	State    *session.State
	Registry *panel.Registry

	CacheEngine *cache.Engine
	FSWatcher   *watch.FSWatcher
	Pollers     *watch.Registry
	Conditions  *watch.ConditionRegistry

	Writer *persistence.Writer
	Lock   *persistence.Lock
	Layout persistence.Layout

	Client     stream.Client
	Pipeline   *stream.Pipeline
	Tools      tool.Registry
	ToolPolicy *tool.PolicyEnforcer
	Pricing    ctxassembler.PricingTable
	Monitor    *monitoring.Monitor

	Input       InputSource
	Renderer    Renderer
	HealthProbe HealthProbe

	Logger *zap.Logger

	Model        string
	SystemPrompt string

	// runtime-only scheduling state, never persisted (related flags live
	// on session.State itself: ResumeStream, which the snapshot persists,
	// and WaitingForPanels and ToolSleepUntilMs, which it does not).
	lastRenderMs        int64
	lastDeprecationMs   int64
	lastRemoteSyncMs    int64
	lastOwnershipCheckMs int64
	spinnerTickMs        int64

	streamCh     chan stream.Chunk
	streamDone   chan streamOutcome
	pendingDone  *streamOutcome
	typewriter   []rune
	pendingTools []stream.ToolCallInfo
	retryPending *stream.StreamError
	questionPending bool
	pendingAnswer   *string
	pendingQuestion *stream.PendingQuestion

	// Callbacks configures the edit-triggered scripts NotifyEdit
	// matches paths against (§4.6 step 4); callbackResults/callbackMu
	// back the blocking half of that mechanism.
	Callbacks       []CallbackRule
	callbackResults map[string]callbackResult
	callbackMu      sync.Mutex

	previousPanelOrder []string

	// palette is the command-palette input branch of §4.7 step 1.
	palette Palette

	// autocomplete is the `@` file-autocomplete input branch of §4.7 step 1.
	autocomplete Autocomplete

	// seeded marks that the first-tick fixed-panel seeding (§4.2's
	// schedule_initial_cache_refreshes) has already run.
	seeded bool

	quitting bool
}

// streamOutcome is what a finished (or errored) stream delivers.
type streamOutcome struct {
	resp *stream.Response
	err  error
}

// NewLoop wires a Loop from its collaborators. Nil Renderer/HealthProbe
// are tolerated (headless operation, or a provider with no health
// endpoint); nil Input makes step 1 a no-op, so no key input is read
// while every other step still runs (useful for tests).
func NewLoop(
	state *session.State,
	registry *panel.Registry,
	cacheEngine *cache.Engine,
	fsWatcher *watch.FSWatcher,
	pollers *watch.Registry,
	conditions *watch.ConditionRegistry,
	writer *persistence.Writer,
	lock *persistence.Lock,
	layout persistence.Layout,
	client stream.Client,
	pipeline *stream.Pipeline,
	tools tool.Registry,
	pricing ctxassembler.PricingTable,
	input InputSource,
	renderer Renderer,
	health HealthProbe,
	logger *zap.Logger,
	model, systemPrompt string,
) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		State: state, Registry: registry, CacheEngine: cacheEngine, FSWatcher: fsWatcher,
		Pollers: pollers, Conditions: conditions, Writer: writer, Lock: lock, Layout: layout,
		Client: client, Pipeline: pipeline, Tools: tools, Pricing: pricing,
		Input: input, Renderer: renderer, HealthProbe: health, Logger: logger,
		Model: model, SystemPrompt: systemPrompt,
	}
}

// Run drives Tick until the loop decides to quit (Ctrl-Q/SIGTERM path)
// or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		default:
		}
		if l.quitting {
			l.shutdown()
			return nil
		}
		l.Tick(ctx)
	}
}

// Tick runs the 21-step pass exactly once. Exported so tests and an
// alternative host (e.g. a single-step debug command) can drive it
// directly instead of through Run's infinite loop.
func (l *Loop) Tick(ctx context.Context) {
	now := nowMs()

	l.stepInput(ctx)                // 1
	l.stepStreamEvents()             // 2
	l.stepRetry(ctx)                 // 3
	l.stepTypewriter()                // 4
	l.stepTLDRResults()               // 5 (TL;DR attaches itself via goroutine + SetTLDR; nothing to drain here)
	l.stepCacheUpdates()              // 6
	l.stepWatcherEvents()             // 7
	l.stepWaitForPanels(now)          // 8
	l.stepDeferredSleep(now)          // 9
	l.stepQuestionForm()              // 10
	l.stepExternalWatchers(ctx)       // 11
	l.stepRemoteSync(now)             // 12
	l.stepTimerDeprecation(ctx, now)  // 13
	l.stepToolExecution(ctx)          // 14
	l.stepStreamFinalization()        // 15
	l.stepSpineCheck()                // 16
	l.stepAPIHealth()                 // 17
	l.stepOwnershipCheck(now)         // 18
	l.stepSpinnerTick(now)            // 19
	l.stepPersist()                   // C1, ahead of render's Dirty clear
	l.stepRender(now)                 // 20
	l.stepAdaptiveSleep()             // 21
}

func (l *Loop) shutdown() {
	if l.Monitor != nil {
		stats := l.Monitor.GetStats()
		l.Logger.Info("session stats",
			zap.Float64("uptime_seconds", stats.UptimeSeconds),
			zap.Uint64("tool_calls_total", stats.ToolCallsTotal),
			zap.Uint64("tool_calls_failed", stats.ToolCallsFailed),
			zap.Float64("avg_tool_latency_ms", stats.AvgToolLatencyMs),
			zap.Uint64("model_calls_total", stats.ModelCallsTotal),
			zap.Uint64("model_tokens_used", stats.ModelTokensUsed),
			zap.Uint64("errors_total", stats.ErrorsTotal),
		)
	}
	if l.Writer == nil {
		return
	}
	persistence.SaveSnapshot(l.Layout, l.Writer, l.State)
	l.Writer.Flush()
}

func nowMs() int64 { return time.Now().UnixMilli() }
