package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contextpilot/pilot/pkg/safego"
)

// writeJSONAtomic writes data to a temp file in the same directory as
// path and renames it into place, so a crash mid-write never leaves a
// truncated file behind.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// writeRequest is one queued write. Batchable requests with the same
// key coalesce: a newer request for the same key replaces an older,
// still-pending one instead of stacking up.
type writeRequest struct {
	key  string
	path string
	data interface{}
}

// Writer is C1: it absorbs SessionState/Message/Panel writes off the
// event loop's hot path, coalesces bursts within a short debounce
// window, and persists crash-safely. Modeled on the WAL writer in
// internal/infrastructure/eventbus/persistent_bus.go — a mutex-guarded
// buffered writer with an explicit flush and a background flusher,
// adapted here to per-file atomic rename instead of an append log
// since SessionState/messages/panels are whole-document snapshots, not
// an event stream.
type Writer struct {
	layout Layout
	logger *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]writeRequest
	timer   *time.Timer
	closed  bool
	done    chan struct{}
	flushCh chan chan struct{}
}

// NewWriter creates a Writer. debounce is the coalescing window for
// SendBatch (≤100ms per the component contract); 0 disables coalescing.
func NewWriter(layout Layout, logger *zap.Logger, debounce time.Duration) *Writer {
	w := &Writer{
		layout:   layout,
		logger:   logger,
		debounce: debounce,
		pending:  make(map[string]writeRequest),
		done:     make(chan struct{}),
		flushCh:  make(chan chan struct{}),
	}
	safego.Go(logger, "persistence-writer", w.run)
	return w
}

func (w *Writer) run() {
	for {
		select {
		case reply := <-w.flushCh:
			w.flushNow()
			close(reply)
		case <-w.done:
			w.flushNow()
			return
		}
	}
}

// SendBatch enqueues a write that may coalesce with other writes under
// the same key within the debounce window (e.g. repeated SessionState
// saves while streaming). Only the most recent value per key survives.
func (w *Writer) SendBatch(key, path string, v interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[key] = writeRequest{key: key, path: path, data: v}
	if w.debounce <= 0 {
		safego.Go(w.logger, "persistence-writer-flush", w.flushNow)
		return
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, func() {
			reply := make(chan struct{})
			w.flushCh <- reply
			<-reply
		})
	}
}

// SendMessage writes a single Message or Panel document immediately,
// uncoalesced — used for append-only records where losing the most
// recent write (as coalescing would) is unacceptable.
func (w *Writer) SendMessage(path string, v interface{}) {
	if err := writeJSONAtomic(path, v); err != nil {
		w.logError("write message", path, err)
	}
}

// Flush blocks until every currently queued write has been persisted.
// Called only at clean shutdown.
func (w *Writer) Flush() {
	reply := make(chan struct{})
	w.flushCh <- reply
	<-reply
}

// Close flushes and stops the background flusher.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.done)
}

func (w *Writer) flushNow() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	batch := w.pending
	w.pending = make(map[string]writeRequest)
	w.mu.Unlock()

	for _, req := range batch {
		if err := writeJSONAtomic(req.path, req.data); err != nil {
			w.logError("write batch", req.path, err)
		}
	}
}

func (w *Writer) logError(op, path string, err error) {
	if w.logger != nil {
		w.logger.Error("persistence write failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Error(err),
		)
	}
	f, oerr := os.OpenFile(w.layout.ErrorLogFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if oerr != nil {
		return
	}
	defer f.Close()
	line, _ := json.Marshal(map[string]string{
		"time":  time.Now().Format(time.RFC3339),
		"op":    op,
		"path":  path,
		"error": err.Error(),
	})
	f.Write(append(line, '\n'))
}
