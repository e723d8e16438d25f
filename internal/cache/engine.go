// Package cache implements C2: off-loop cache refreshes for panel
// content, delivered back to the event loop over a single channel so
// the loop never blocks on I/O.
package cache

import (
	"context"

	"go.uber.org/zap"
)

// UpdateKind discriminates the three CacheUpdate variants from §4.2.
type UpdateKind int

const (
	UpdateContent UpdateKind = iota
	UpdateModuleSpecific
	UpdateUnchanged
)

// Request is the input snapshot a panel type builds for an off-thread
// refresh (build_cache_request in the panel capability set).
type Request struct {
	ContextID   string
	PanelType   string
	SourceHash  string
	// Refresh does the actual off-loop work (file read, git invocation,
	// HTTP call, ...) and must itself respect ctx cancellation.
	Refresh func(ctx context.Context) Update
}

// Update is one of Content / ModuleSpecific / Unchanged, delivered on
// the engine's single multi-producer channel.
type Update struct {
	Kind       UpdateKind
	ContextID  string
	Content    string
	TokenCount int
	SourceHash string

	// ModuleSpecific payload; the target panel type downcasts it.
	ContextType string
	Payload     interface{}
}

// Engine runs Requests off the event loop and fans their Updates back
// onto a single channel, guarding against duplicate in-flight work per
// context id.
type Engine struct {
	logger  *zap.Logger
	updates chan Update

	inFlight map[string]bool
}

// NewEngine creates an Engine. bufSize sizes the update channel; the
// event loop drains it once per tick.
func NewEngine(logger *zap.Logger, bufSize int) *Engine {
	return &Engine{
		logger:   logger,
		updates:  make(chan Update, bufSize),
		inFlight: make(map[string]bool),
	}
}

// Updates returns the channel the event loop drains each tick.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// InFlight reports whether a refresh for contextID is already running.
func (e *Engine) InFlight(contextID string) bool {
	return e.inFlight[contextID]
}

// Submit spawns req.Refresh in its own goroutine and marks contextID
// in-flight until the result is delivered. Callers must check InFlight
// first per the §4.2 algorithm (step 5: skip entirely if in-flight).
func (e *Engine) Submit(ctx context.Context, req Request) {
	e.inFlight[req.ContextID] = true
	go func() {
		var update Update
		func() {
			defer func() {
				if r := recover(); r != nil {
					update = Update{
						Kind:      UpdateContent,
						ContextID: req.ContextID,
						Content:   "panel refresh panicked",
					}
					if e.logger != nil {
						e.logger.Error("cache refresh panicked",
							zap.String("context_id", req.ContextID),
							zap.Any("recover", r))
					}
				}
			}()
			update = req.Refresh(ctx)
		}()
		if update.ContextID == "" {
			update.ContextID = req.ContextID
		}
		e.updates <- update
	}()
}

// Complete clears the in-flight guard for contextID. The event loop
// calls this once it has consumed an Update for that context.
func (e *Engine) Complete(contextID string) {
	delete(e.inFlight, contextID)
}
