package watch

import "context"

// WatcherResult is what a registered poll function returns when it has
// something to report, per §4.3.
type WatcherResult struct {
	ToolUseID   string // non-empty => resolves a blocking tool call
	Description string

	// DeferredPanelCreate, when non-nil, asks the loop to create a panel
	// once the poll resolves (e.g. a `gh pr view` result panel).
	DeferredPanelCreate *PanelCreateRequest
	ClosePanel          bool
}

// PanelCreateRequest is a deferred instruction to materialize a panel;
// the concrete panel type/content builder lives with the owning module,
// this package only carries the intent through to the loop.
type PanelCreateRequest struct {
	PanelType string
	Name      string
	Content   string
}

// PollFunc is one registered external watch. Implementations may block
// (the registry runs each poll in its own goroutine) or return quickly.
type PollFunc func(ctx context.Context) (*WatcherResult, bool)

// Registry holds keyed external polls, consulted once per tick per
// §4.7 step 11. A poll registered once stays registered until
// explicitly removed (Close) — typically when its owning panel closes.
type Registry struct {
	polls map[string]PollFunc
}

// NewRegistry creates an empty poll registry.
func NewRegistry() *Registry {
	return &Registry{polls: make(map[string]PollFunc)}
}

// Register installs or replaces the poll function for key.
func (r *Registry) Register(key string, fn PollFunc) {
	r.polls[key] = fn
}

// Close removes the poll for key; in-flight polls for it complete but
// their results are discarded by the caller once it notices the key is
// gone.
func (r *Registry) Close(key string) {
	delete(r.polls, key)
}

// Has reports whether key is still registered — callers use this to
// discard results from polls whose panel closed mid-flight.
func (r *Registry) Has(key string) bool {
	_, ok := r.polls[key]
	return ok
}

// PollAll runs every registered poll once, synchronously, and returns
// the keyed results of those that fired. Polls are expected to be
// cheap/non-blocking (HTTP with short timeouts, hash comparisons); a
// poll that blocks indefinitely stalls this tick's registry sweep by
// design — external watches are expected to use ctx for their own
// timeout budget.
func (r *Registry) PollAll(ctx context.Context) map[string]WatcherResult {
	out := make(map[string]WatcherResult)
	for key, fn := range r.polls {
		if !r.Has(key) {
			continue
		}
		if res, fired := fn(ctx); fired && res != nil {
			out[key] = *res
		}
	}
	return out
}
