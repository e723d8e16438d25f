// Package monitoring is the in-process counter collector internal/stream's
// tool-execution pipeline (§4.6) reports into. The teacher's gateway used
// the same Monitor to back an HTTP metrics dashboard (request counters,
// a Prometheus exporter, a tracer); this module has no HTTP surface to
// expose that on, so it keeps only the counters a terminal session can
// actually move — tool calls, model calls/tokens, and errors — and
// drops the request/session/dashboard surface that had nothing wired
// to it (see DESIGN.md's note on the dropped prometheus.go/tracer.go).
package monitoring

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics holds the counters a running session accumulates.
type Metrics struct {
	ToolCallsTotal   uint64
	ToolCallsSuccess uint64
	ToolCallsFailed  uint64
	ToolLatencySum   uint64 // nanoseconds
	ToolLatencyCount uint64

	ModelCallsTotal uint64
	ModelTokensUsed uint64

	ErrorsTotal uint64

	StartTime time.Time
}

// Monitor collects Metrics for one session, safe for concurrent use by
// the event loop and its background goroutines.
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewMonitor starts a fresh counter set timestamped from now.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{StartTime: time.Now()},
		logger:  logger,
	}
}

func (m *Monitor) IncToolCallTotal()   { atomic.AddUint64(&m.metrics.ToolCallsTotal, 1) }
func (m *Monitor) IncToolCallSuccess() { atomic.AddUint64(&m.metrics.ToolCallsSuccess, 1) }
func (m *Monitor) IncToolCallFailed()  { atomic.AddUint64(&m.metrics.ToolCallsFailed, 1) }
func (m *Monitor) IncModelCall()       { atomic.AddUint64(&m.metrics.ModelCallsTotal, 1) }
func (m *Monitor) IncError()           { atomic.AddUint64(&m.metrics.ErrorsTotal, 1) }

func (m *Monitor) AddTokensUsed(n int) {
	atomic.AddUint64(&m.metrics.ModelTokensUsed, uint64(n))
}

func (m *Monitor) RecordToolLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.ToolLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.ToolLatencyCount, 1)
}

// Stats is a point-in-time read of Metrics, safe to log or render.
type Stats struct {
	UptimeSeconds    float64
	ToolCallsTotal   uint64
	ToolCallsSuccess uint64
	ToolCallsFailed  uint64
	AvgToolLatencyMs float64
	ModelCallsTotal  uint64
	ModelTokensUsed  uint64
	ErrorsTotal      uint64
}

// GetStats snapshots the current counters, logged once at shutdown
// (internal/loop.Loop.shutdown) as a summary of the session's tool/model
// activity.
func (m *Monitor) GetStats() Stats {
	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.ToolLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.ToolLatencySum)) / float64(count) / 1e6
	}
	return Stats{
		UptimeSeconds:    time.Since(m.metrics.StartTime).Seconds(),
		ToolCallsTotal:   atomic.LoadUint64(&m.metrics.ToolCallsTotal),
		ToolCallsSuccess: atomic.LoadUint64(&m.metrics.ToolCallsSuccess),
		ToolCallsFailed:  atomic.LoadUint64(&m.metrics.ToolCallsFailed),
		AvgToolLatencyMs: avgLatency,
		ModelCallsTotal:  atomic.LoadUint64(&m.metrics.ModelCallsTotal),
		ModelTokensUsed:  atomic.LoadUint64(&m.metrics.ModelTokensUsed),
		ErrorsTotal:      atomic.LoadUint64(&m.metrics.ErrorsTotal),
	}
}
