package cache

import (
	"context"

	"github.com/contextpilot/pilot/internal/session"
)

// TypeRegistry is the subset of the panel capability set (C4) the cache
// engine needs to drive timer-based deprecation without importing the
// panel package directly — the panel registry implements this.
type TypeRegistry interface {
	NeedsCache(t session.PanelType) bool
	RefreshIntervalMs(t session.PanelType) (ms int64, ok bool)
	BuildCacheRequest(p *session.Panel, s *session.State) (Request, bool)
	Suicide(p *session.Panel, s *session.State) bool
}

// SuicideGraceMs is the minimum empty duration before a removable panel
// is dropped from the context list, per §4.2's suicide rule.
const SuicideGraceMs = 1000

// CheckTimerBasedDeprecation implements the per-tick §4.2 algorithm:
// seed panels that need an initial load, re-request deprecated panels,
// honor periodic refresh intervals, and apply the suicide rule to
// long-empty removable panels. It submits at most one Request per
// panel per call and never more than one concurrently per context id.
func CheckTimerBasedDeprecation(ctx context.Context, engine *Engine, registry TypeRegistry, state *session.State, nowMs int64) {
	var toRemove []int

	for i, p := range state.Context {
		if engine.InFlight(p.ID()) {
			continue
		}

		shouldSubmit := false
		switch {
		case !p.HasContent() && registry.NeedsCache(p.Type()):
			shouldSubmit = true
		case p.CacheDeprecated():
			shouldSubmit = true
		default:
			if interval, ok := registry.RefreshIntervalMs(p.Type()); ok {
				if nowMs-p.LastPollMs() >= interval {
					shouldSubmit = true
				}
			}
		}

		if shouldSubmit {
			if req, ok := registry.BuildCacheRequest(p, state); ok {
				p.SetCacheInFlight(true)
				p.SetLastPollMs(nowMs)
				engine.Submit(ctx, req)
			}
		}

		if p.EmptyDuration(nowMs) >= SuicideGraceMs && registry.Suicide(p, state) {
			toRemove = append(toRemove, i)
		}
	}

	// Remove back-to-front so earlier indices stay valid.
	for j := len(toRemove) - 1; j >= 0; j-- {
		state.RemovePanelAt(toRemove[j])
	}
}

// SeedInitialCacheRefreshes implements startup flow control: only
// fixed-type panels are submitted on the very first tick. Dynamic
// panels (file/glob/grep/tmux/git-result/github-result) are picked up
// by the normal CheckTimerBasedDeprecation pass on subsequent ticks, so
// a restored session with many persisted dynamic panels does not
// burst-spawn dozens of concurrent refreshes at once.
func SeedInitialCacheRefreshes(ctx context.Context, engine *Engine, registry TypeRegistry, state *session.State, nowMs int64) {
	for _, p := range state.Context {
		if !p.Type().IsFixed() {
			continue
		}
		if !registry.NeedsCache(p.Type()) || p.HasContent() || engine.InFlight(p.ID()) {
			continue
		}
		if req, ok := registry.BuildCacheRequest(p, state); ok {
			p.SetCacheInFlight(true)
			p.SetLastPollMs(nowMs)
			engine.Submit(ctx, req)
		}
	}
}
