// Package persistence implements C1: the debounced, crash-safe writer
// that durably records SessionState without blocking the event loop,
// plus the exclusive-ownership lock file that enables reload/handover.
package persistence

import (
	"path/filepath"
	"strconv"
)

// Layout resolves the filesystem paths rooted at .context-pilot/ per
// SPEC_FULL.md §6.
type Layout struct {
	Root string
}

// NewLayout roots a Layout at dir/.context-pilot.
func NewLayout(dir string) Layout {
	return Layout{Root: filepath.Join(dir, ".context-pilot")}
}

func (l Layout) StateFile() string       { return filepath.Join(l.Root, "state.json") }
func (l Layout) MessagesDir() string     { return filepath.Join(l.Root, "messages") }
func (l Layout) MessageFile(uid string) string {
	return filepath.Join(l.MessagesDir(), uid+".json")
}
func (l Layout) PanelsDir() string { return filepath.Join(l.Root, "panels") }
func (l Layout) PanelFile(uid string) string {
	return filepath.Join(l.PanelsDir(), uid+".json")
}
func (l Layout) LogsDir() string { return filepath.Join(l.Root, "logs") }
func (l Layout) LogChunkFile(n int) string {
	return filepath.Join(l.LogsDir(), "chunk_"+strconv.Itoa(n)+".json")
}
func (l Layout) LogNextIDFile() string { return filepath.Join(l.LogsDir(), "next_id.json") }
func (l Layout) ScriptsDir() string    { return filepath.Join(l.Root, "scripts") }
func (l Layout) ScriptFile(callbackName string) string {
	return filepath.Join(l.ScriptsDir(), callbackName+".sh")
}
func (l Layout) OwnerLockFile() string { return filepath.Join(l.Root, "owner.lock") }
func (l Layout) ErrorLogFile() string  { return filepath.Join(l.Root, "error.log") }
