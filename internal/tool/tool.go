// Package tool is C6's tool contract: the interface every built-in
// exposes, a policy enforcer gating which ones the model may invoke,
// and the sentinel byte-prefixes the stream pipeline scans for in
// tool_result content (§4.6).
package tool

import (
	"context"
	"strings"
	"sync"

	apperrors "github.com/contextpilot/pilot/pkg/errors"
)

// toolUseIDKey is the context key the pipeline attaches the queued
// tool_use_id under before calling Execute, so a tool that must hand
// its own call identity to a registrar (ConsoleWaitTool) can recover it
// without widening the Tool interface for every other tool.
type toolUseIDKey struct{}

// WithToolUseID returns a context carrying id, retrievable with
// ToolUseIDFromContext.
func WithToolUseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolUseIDKey{}, id)
}

// ToolUseIDFromContext retrieves the tool_use_id the pipeline attached
// to ctx before calling Execute, if any.
func ToolUseIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(toolUseIDKey{}).(string)
	return id, ok
}

// Kind is a tool's operation class, driving automatic policy decisions.
type Kind string

const (
	KindRead        Kind = "read"
	KindEdit        Kind = "edit"
	KindExecute     Kind = "execute"
	KindDelete      Kind = "delete"
	KindSearch      Kind = "search"
	KindFetch       Kind = "fetch"
	KindThink       Kind = "think"
	KindCommunicate Kind = "communicate"
)

// MutatorKinds require user confirmation under AskMode.
var MutatorKinds = map[Kind]bool{
	KindEdit:    true,
	KindDelete:  true,
	KindExecute: true,
}

// SafeKinds are auto-approved even under AskMode.
var SafeKinds = map[Kind]bool{
	KindRead:   true,
	KindSearch: true,
	KindThink:  true,
}

// Tool is the abstraction every invocable tool implements.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	Schema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is what a tool hands back to the pipeline.
type Result struct {
	Output   string
	Display  string
	Success  bool
	Metadata map[string]interface{}
	Error    string
}

// DisplayOrOutput returns Display if set, else Output.
func (r *Result) DisplayOrOutput() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Output
}

// Definition is the wire shape handed to the LLM provider.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry is the tool lookup/listing surface.
type Registry interface {
	Register(t Tool) error
	Unregister(name string) error
	Get(name string) (Tool, bool)
	List() []Definition
	Has(name string) bool
}

// InMemoryRegistry is the default Registry implementation.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

func (r *InMemoryRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return apperrors.NewAlreadyExistsError("tool " + t.Name() + " already registered")
	}
	r.tools[t.Name()] = t
	return nil
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return apperrors.NewNotFoundError("tool " + name + " not found")
	}
	delete(r.tools, name)
	return nil
}

func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *InMemoryRegistry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return defs
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Policy gates which registered tools the model may actually call.
type Policy struct {
	Profile     string
	AllowList   []string
	DenyList    []string
	AskMode     bool
	MaxExecTime int
}

func (p *Policy) IsAllowed(name string) bool {
	for _, denied := range p.DenyList {
		if denied == name {
			return false
		}
	}
	if len(p.AllowList) == 0 {
		return true
	}
	for _, allowed := range p.AllowList {
		if allowed == name {
			return true
		}
	}
	return false
}

func (p *Policy) NeedsConfirmation(k Kind) bool {
	if !p.AskMode {
		return false
	}
	if SafeKinds[k] {
		return false
	}
	return MutatorKinds[k]
}

// PolicyEnforcer pairs a Policy with a Registry.
type PolicyEnforcer struct {
	policy   *Policy
	registry Registry
}

func NewPolicyEnforcer(policy *Policy, registry Registry) *PolicyEnforcer {
	return &PolicyEnforcer{policy: policy, registry: registry}
}

func (e *PolicyEnforcer) FilteredList() []Definition {
	all := e.registry.List()
	filtered := make([]Definition, 0, len(all))
	for _, def := range all {
		if e.policy.IsAllowed(def.Name) {
			filtered = append(filtered, def)
		}
	}
	return filtered
}

func (e *PolicyEnforcer) CanExecute(name string) bool { return e.policy.IsAllowed(name) }
func (e *PolicyEnforcer) NeedsApproval() bool          { return e.policy.AskMode }

// Blocking-result sentinels, per §4.6: literal byte prefixes a
// tool_result's content is tagged with when the pipeline must pause the
// turn instead of handing the result straight back to the model. The
// pipeline strips these before the result is ever serialized for the
// LLM — §9's sentinel design note.
const (
	QuestionPendingSentinel = "__QUESTION_PENDING__"
	ConsoleWaitSentinelTag  = "CONSOLE_WAIT_BLOCKING"
)

// IsBareConsoleWait reports whether content is exactly the Console_wait
// tool's unadorned sentinel (no sentinel id, no original content) — the
// shape the watcher-registration path produces per scenario S2.
func IsBareConsoleWait(content string) bool {
	return content == ConsoleWaitSentinelTag
}

// ConsoleWaitCallbackSentinel tags an Edit/Write result that triggered a
// blocking callback with its sentinel id and the pre-edit content to
// restore if the callback is later rejected, e.g.
// "CONSOLE_WAIT_BLOCKING{42}{original file text}".
func ConsoleWaitCallbackSentinel(id, originalContent string) string {
	return ConsoleWaitSentinelTag + "{" + id + "}{" + originalContent + "}"
}

// ParseConsoleWaitCallbackSentinel extracts the sentinel id and original
// content from a callback-tagged result.
func ParseConsoleWaitCallbackSentinel(content string) (id, original string, ok bool) {
	if !strings.HasPrefix(content, ConsoleWaitSentinelTag+"{") {
		return "", "", false
	}
	rest := content[len(ConsoleWaitSentinelTag):]
	if !strings.HasPrefix(rest, "{") {
		return "", "", false
	}
	idEnd := strings.IndexByte(rest, '}')
	if idEnd < 0 {
		return "", "", false
	}
	id = rest[1:idEnd]
	rest = rest[idEnd+1:]
	if !strings.HasPrefix(rest, "{") || !strings.HasSuffix(rest, "}") {
		return "", "", false
	}
	return id, rest[1 : len(rest)-1], true
}

// IsQuestionPending reports whether content is the question-pending sentinel.
func IsQuestionPending(content string) bool {
	return strings.HasPrefix(content, QuestionPendingSentinel)
}

// IsConsoleWaitBlocking reports whether content carries either shape of
// the console-wait sentinel, per §4.6 step 3's routing check.
func IsConsoleWaitBlocking(content string) bool {
	if IsBareConsoleWait(content) {
		return true
	}
	_, _, ok := ParseConsoleWaitCallbackSentinel(content)
	return ok
}

// StripSentinel removes a leading blocking sentinel from content before
// it is ever sent to the LLM, per §9's sentinel design note.
func StripSentinel(content string) string {
	if IsQuestionPending(content) {
		return strings.TrimPrefix(content, QuestionPendingSentinel)
	}
	if IsBareConsoleWait(content) {
		return ""
	}
	if _, original, ok := ParseConsoleWaitCallbackSentinel(content); ok {
		return original
	}
	return content
}
