package session

import (
	"encoding/json"
	"reflect"
)

// RetryState carries the staged-retry bookkeeping for §4.6's retry policy.
type RetryState struct {
	Pending bool
	Attempt int
	Reason  string
}

// State is the single process-wide mutable state described in §3.
// It has exactly one mutator — the event loop (internal/loop) — per the
// ownership rule in §3/§5; every other task only ever sees channel
// messages derived from it, never a pointer into it.
type State struct {
	IDs *IDAllocator

	Messages []*Message
	Context  []*Panel

	ActiveModules map[string]bool

	SelectedPanel int
	Streaming     bool

	TickTokens    int64
	StreamTokens  int64
	SessionTokens int64

	Retry RetryState

	// ResumeStream resolves SPEC_FULL.md §9's reload Open Question: set by
	// the system_reload tool before a final save, cleared by the next
	// process on startup after it decides whether to re-issue the
	// in-flight stream.
	ResumeStream bool

	WaitingForPanels    bool
	WaitForPanelsSince  int64
	ToolSleepUntilMs    int64

	// Dirty marks that SessionState changed since the last render/save;
	// cleared by the render step and (independently) by a successful
	// persistence batch.
	Dirty bool

	moduleData map[reflect.Type]interface{}
}

// NewState creates an empty, fresh session with no persisted history.
func NewState() *State {
	return &State{
		IDs:           NewIDAllocator([5]int64{}),
		ActiveModules: make(map[string]bool),
		moduleData:    make(map[reflect.Type]interface{}),
	}
}

// PanelByID returns the panel with the given id, if present.
func (s *State) PanelByID(id string) (*Panel, int) {
	for i, p := range s.Context {
		if p.ID() == id {
			return p, i
		}
	}
	return nil, -1
}

// PanelsByType returns every panel instance of the given type, in
// context-list order.
func (s *State) PanelsByType(t PanelType) []*Panel {
	var out []*Panel
	for _, p := range s.Context {
		if p.Type() == t {
			out = append(out, p)
		}
	}
	return out
}

// RemovePanelAt removes the panel at index i and fixes up SelectedPanel
// to stay in range, per §4.2's suicide rule.
func (s *State) RemovePanelAt(i int) {
	if i < 0 || i >= len(s.Context) {
		return
	}
	s.Context = append(s.Context[:i], s.Context[i+1:]...)
	if s.SelectedPanel >= len(s.Context) && len(s.Context) > 0 {
		s.SelectedPanel = len(s.Context) - 1
	} else if len(s.Context) == 0 {
		s.SelectedPanel = 0
	}
}

// GetExt retrieves heterogeneous per-module state keyed by T's type
// identity, per §9 "heterogeneous module data". The zero value and false
// are returned when nothing has been stored yet or the stored value does
// not assert to T (in which case the stored value is left untouched).
func GetExt[T any](s *State) (T, bool) {
	var zero T
	key := reflect.TypeFor[T]()
	v, ok := s.moduleData[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// SetExt stores per-module state keyed by T's type identity.
func SetExt[T any](s *State, value T) {
	if s.moduleData == nil {
		s.moduleData = make(map[reflect.Type]interface{})
	}
	key := reflect.TypeFor[T]()
	s.moduleData[key] = value
}

// moduleCodec lets a module_data type opt into persistence under a
// stable string name, since state.json's "per-module module-specific
// JSON blobs" (§6) must survive a restart but moduleData's key is a
// reflect.Type, which does not decode from JSON. Modules that never
// register a codec simply don't survive a restart — acceptable for
// purely in-process scheduling bookkeeping (pending tool waits, the
// spine's consecutive-error counter) that restarts cleanly anyway.
type moduleCodec struct {
	marshal   func(s *State) (json.RawMessage, bool)
	unmarshal func(s *State, raw json.RawMessage) error
}

var moduleCodecs = map[string]moduleCodec{}

// RegisterModuleType lets a package (typically in an init func) declare
// that its GetExt[T]/SetExt[T] extension state should be carried across
// restarts under the given stable name, mirroring how gob.Register
// associates a concrete type with a name for a generic encoder.
func RegisterModuleType[T any](name string) {
	moduleCodecs[name] = moduleCodec{
		marshal: func(s *State) (json.RawMessage, bool) {
			v, ok := GetExt[T](s)
			if !ok {
				return nil, false
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, false
			}
			return raw, true
		},
		unmarshal: func(s *State, raw json.RawMessage) error {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			SetExt(s, v)
			return nil
		},
	}
}

// ModuleDataBlobs marshals every registered module_data value present on
// s, keyed by its registered name, for inclusion in state.json.
func (s *State) ModuleDataBlobs() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for name, codec := range moduleCodecs {
		if raw, ok := codec.marshal(s); ok {
			out[name] = raw
		}
	}
	return out
}

// LoadModuleDataBlobs restores every module_data value state.json carried
// whose name still has a registered codec; unknown names are ignored
// (forward-compatible with blobs written by a newer build).
func (s *State) LoadModuleDataBlobs(blobs map[string]json.RawMessage) {
	for name, raw := range blobs {
		if codec, ok := moduleCodecs[name]; ok {
			_ = codec.unmarshal(s, raw)
		}
	}
}
