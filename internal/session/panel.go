package session

import "time"

// PanelType is the typed kind of a context element, per SPEC_FULL.md §3/§4.4.
type PanelType string

const (
	PanelFile               PanelType = "file"
	PanelTree                PanelType = "tree"
	PanelGrep                PanelType = "grep"
	PanelGlob                PanelType = "glob"
	PanelTmux                PanelType = "tmux"
	PanelGit                 PanelType = "git"
	PanelGitResult           PanelType = "git-result"
	PanelGithubResult        PanelType = "github-result"
	PanelConversation        PanelType = "conversation"
	PanelConversationHistory PanelType = "conversation-history"
	PanelOverview            PanelType = "overview"
	PanelMemory              PanelType = "memory"
	PanelTodo                PanelType = "todo"
	PanelSpine               PanelType = "spine"
	PanelLogs                PanelType = "logs"
	PanelLibrary             PanelType = "library"
	PanelSkill               PanelType = "skill"
	PanelSeed                PanelType = "seed"
	PanelScratchpad          PanelType = "scratchpad"
	PanelConsole             PanelType = "console"
	PanelTools               PanelType = "tools"
	PanelCallback            PanelType = "callback"
)

// fixedTypes are the panel types invariant §3.1 says exist exactly once
// while their owning module is active.
var fixedTypes = map[PanelType]bool{
	PanelOverview:     true,
	PanelMemory:       true,
	PanelTodo:         true,
	PanelSpine:        true,
	PanelLogs:         true,
	PanelGit:          true,
	PanelConversation: true,
	PanelScratchpad:   true,
	PanelTools:        true,
}

// IsFixed reports whether t is one of the singleton panel types.
func (t PanelType) IsFixed() bool { return fixedTypes[t] }

// ChatPanelID is the reserved ID of the live conversation panel.
const ChatPanelID = "chat"

// Panel is one context element instance: identity, metadata, rendering
// and scheduling state, and cost-accounting state, per §3.
type Panel struct {
	id   string
	uid  string
	typ  PanelType
	name string

	metadata map[string]string

	cachedContent   string
	hasContent      bool
	contentHash     string
	sourceHash      string
	tokenCount      int
	fullTokenCount  int
	currentPage     int
	totalPages      int
	historyMessages []*Message

	cacheDeprecated bool
	cacheInFlight   bool
	lastRefreshMs   int64
	lastPollMs      int64
	emptySinceMs    int64 // 0 = not currently empty; set when cachedContent becomes empty, for the suicide rule

	panelCacheHit   bool
	panelTotalCost  float64
}

// NewPanel constructs a fresh, not-yet-refreshed panel instance.
func NewPanel(id, uid string, typ PanelType, name string) *Panel {
	return &Panel{
		id:       id,
		uid:      uid,
		typ:      typ,
		name:     name,
		metadata: make(map[string]string),
	}
}

func (p *Panel) ID() string       { return p.id }
func (p *Panel) UID() string      { return p.uid }
func (p *Panel) Type() PanelType  { return p.typ }
func (p *Panel) Name() string     { return p.name }

func (p *Panel) Metadata(key string) (string, bool) { v, ok := p.metadata[key]; return v, ok }
func (p *Panel) SetMetadata(key, value string)       { p.metadata[key] = value }
func (p *Panel) AllMetadata() map[string]string {
	out := make(map[string]string, len(p.metadata))
	for k, v := range p.metadata {
		out[k] = v
	}
	return out
}

func (p *Panel) CachedContent() (string, bool) { return p.cachedContent, p.hasContent }
func (p *Panel) ContentHash() string           { return p.contentHash }
func (p *Panel) SourceHash() string            { return p.sourceHash }
func (p *Panel) TokenCount() int               { return p.tokenCount }
func (p *Panel) FullTokenCount() int           { return p.fullTokenCount }
func (p *Panel) Pagination() (current, total int) { return p.currentPage, p.totalPages }
func (p *Panel) HistoryMessages() []*Message   { return p.historyMessages }

func (p *Panel) HasContent() bool      { return p.hasContent }
func (p *Panel) CacheDeprecated() bool { return p.cacheDeprecated }
func (p *Panel) CacheInFlight() bool   { return p.cacheInFlight }
func (p *Panel) LastRefreshMs() int64  { return p.lastRefreshMs }
func (p *Panel) LastPollMs() int64     { return p.lastPollMs }
func (p *Panel) EmptySinceMs() int64   { return p.emptySinceMs }
func (p *Panel) SetLastPollMs(ms int64) { p.lastPollMs = ms }

func (p *Panel) PanelCacheHit() bool      { return p.panelCacheHit }
func (p *Panel) PanelTotalCost() float64  { return p.panelTotalCost }

func (p *Panel) MarkDeprecated()        { p.cacheDeprecated = true }
func (p *Panel) SetCacheInFlight(v bool) { p.cacheInFlight = v }

// ApplyContent installs new rendered content, enforcing invariant §3.4
// (contentHash = Hash(content)) and invariant §3.6 (last_refresh_ms only
// advances, and only when content actually changed). Returns whether the
// content changed, which the caller (cache engine) uses to decide
// whether to bump last_refresh_ms.
func (p *Panel) ApplyContent(content, sourceHash string, tokenCount int, hashFn func(string) string, nowMs int64) bool {
	newHash := hashFn(content)
	changed := !p.hasContent || newHash != p.contentHash
	p.cachedContent = content
	p.hasContent = true
	p.contentHash = newHash
	p.sourceHash = sourceHash
	p.tokenCount = tokenCount
	p.fullTokenCount = tokenCount
	p.cacheInFlight = false
	p.cacheDeprecated = false
	if changed && nowMs > p.lastRefreshMs {
		p.lastRefreshMs = nowMs
	}
	if content == "" {
		if p.emptySinceMs == 0 {
			p.emptySinceMs = nowMs
		}
	} else {
		p.emptySinceMs = 0
	}
	return changed
}

// MarkUnchanged clears in-flight/deprecated without touching content or
// last_refresh_ms — the CacheUpdate::Unchanged path of §4.2.
func (p *Panel) MarkUnchanged() {
	p.cacheInFlight = false
	p.cacheDeprecated = false
}

// SetLastRefreshMs forces last_refresh_ms forward; used when detaching a
// ConversationHistory panel (§4.5: "receive last_refresh_ms = now").
func (p *Panel) SetLastRefreshMs(nowMs int64) {
	if nowMs > p.lastRefreshMs {
		p.lastRefreshMs = nowMs
	}
}

// SetHistoryMessages freezes a ConversationHistory panel's transcript.
// Per invariant §3.7 this must only be called once, at creation.
func (p *Panel) SetHistoryMessages(msgs []*Message) {
	p.historyMessages = msgs
}

// SetPagination updates current/total page counters (§4.4/§4.5 pagination).
func (p *Panel) SetPagination(current, total int) {
	p.currentPage, p.totalPages = current, total
}

// SetCostAccounting records whether this turn's prefix-match found this
// panel a cache hit, and accumulates its dollar cost (§4.5).
func (p *Panel) SetCostAccounting(hit bool, addedCost float64) {
	p.panelCacheHit = hit
	p.panelTotalCost += addedCost
}

// ReconstructPanel rehydrates a Panel from persisted fields
// (internal/persistence's state loader), bypassing the zero-value
// construction NewPanel performs for a freshly-created panel.
// cache_in_flight is never part of the persisted shape: per §5 no
// refresh can genuinely be outstanding across a process restart, so
// every reloaded panel starts with cacheInFlight false regardless of
// what was true at the moment of the last snapshot.
func ReconstructPanel(id, uid string, typ PanelType, name string, metadata map[string]string,
	cachedContent string, hasContent bool, contentHash, sourceHash string, tokenCount, fullTokenCount int,
	currentPage, totalPages int, historyMessages []*Message,
	cacheDeprecated bool, lastRefreshMs, lastPollMs, emptySinceMs int64,
	panelCacheHit bool, panelTotalCost float64) *Panel {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &Panel{
		id: id, uid: uid, typ: typ, name: name, metadata: metadata,
		cachedContent: cachedContent, hasContent: hasContent, contentHash: contentHash, sourceHash: sourceHash,
		tokenCount: tokenCount, fullTokenCount: fullTokenCount, currentPage: currentPage, totalPages: totalPages,
		historyMessages: historyMessages,
		cacheDeprecated: cacheDeprecated, cacheInFlight: false,
		lastRefreshMs: lastRefreshMs, lastPollMs: lastPollMs, emptySinceMs: emptySinceMs,
		panelCacheHit: panelCacheHit, panelTotalCost: panelTotalCost,
	}
}

// EmptyDuration reports how long (in ms, relative to nowMs) the panel's
// cached content has been empty — the input to the suicide rule (§4.2).
func (p *Panel) EmptyDuration(nowMs int64) int64 {
	if p.emptySinceMs == 0 {
		return 0
	}
	return nowMs - p.emptySinceMs
}
