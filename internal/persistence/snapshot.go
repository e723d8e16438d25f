package persistence

import (
	"encoding/json"
	"os"
	"time"

	"github.com/contextpilot/pilot/internal/session"
)

// messageDTO is the on-disk shape of messages/{uid}.json (§6). Field
// names are snake_case to match state.json/panels' own convention
// rather than Go's, since this is the one struct in the module whose
// JSON shape is an external contract (a future reader of the session
// directory, not just this binary).
type messageDTO struct {
	ID            string                    `json:"id"`
	UID           string                    `json:"uid"`
	Role          session.Role              `json:"role"`
	Type          session.MessageType       `json:"type"`
	Content       string                    `json:"content"`
	TLDR          string                    `json:"tldr,omitempty"`
	Status        session.Status            `json:"status"`
	ToolUses      []session.ToolUse         `json:"tool_uses,omitempty"`
	ToolResults   []session.ToolResultEntry `json:"tool_results,omitempty"`
	InputTokens   int                       `json:"input_tokens"`
	ContentTokens int                       `json:"content_tokens"`
	TLDRTokens    int                       `json:"tldr_tokens"`
	CreatedAt     time.Time                 `json:"created_at"`
}

func toMessageDTO(m *session.Message) messageDTO {
	in, content, tldr := m.TokenCounts()
	return messageDTO{
		ID: m.ID(), UID: m.UID(), Role: m.Role(), Type: m.Type(), Content: m.Content(), TLDR: m.TLDR(),
		Status: m.Status(), ToolUses: m.ToolUses(), ToolResults: m.ToolResults(),
		InputTokens: in, ContentTokens: content, TLDRTokens: tldr, CreatedAt: m.CreatedAt(),
	}
}

func fromMessageDTO(d messageDTO) (*session.Message, error) {
	return session.ReconstructMessage(d.ID, d.UID, d.Role, d.Type, d.Content, d.TLDR, d.Status,
		d.ToolUses, d.ToolResults, d.InputTokens, d.ContentTokens, d.TLDRTokens, d.CreatedAt)
}

// panelDTO is the on-disk shape of panels/{uid}.json. HistoryMessages
// embeds full message DTOs rather than UID references: per §4.5,
// detached messages are removed from messages/{uid}.json entirely, so a
// ConversationHistory panel's frozen transcript is the only surviving
// copy.
type panelDTO struct {
	ID              string            `json:"id"`
	UID             string            `json:"uid"`
	Type            session.PanelType `json:"type"`
	Name            string            `json:"name"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CachedContent   string            `json:"cached_content"`
	HasContent      bool              `json:"has_content"`
	ContentHash     string            `json:"content_hash"`
	SourceHash      string            `json:"source_hash"`
	TokenCount      int               `json:"token_count"`
	FullTokenCount  int               `json:"full_token_count"`
	CurrentPage     int               `json:"current_page"`
	TotalPages      int               `json:"total_pages"`
	HistoryMessages []messageDTO      `json:"history_messages,omitempty"`
	CacheDeprecated bool              `json:"cache_deprecated"`
	LastRefreshMs   int64             `json:"last_refresh_ms"`
	LastPollMs      int64             `json:"last_poll_ms"`
	EmptySinceMs    int64             `json:"empty_since_ms"`
	PanelCacheHit   bool              `json:"panel_cache_hit"`
	PanelTotalCost  float64           `json:"panel_total_cost"`
}

func toPanelDTO(p *session.Panel) panelDTO {
	content, has := p.CachedContent()
	cur, total := p.Pagination()
	hist := make([]messageDTO, 0, len(p.HistoryMessages()))
	for _, m := range p.HistoryMessages() {
		hist = append(hist, toMessageDTO(m))
	}
	return panelDTO{
		ID: p.ID(), UID: p.UID(), Type: p.Type(), Name: p.Name(), Metadata: p.AllMetadata(),
		CachedContent: content, HasContent: has, ContentHash: p.ContentHash(), SourceHash: p.SourceHash(),
		TokenCount: p.TokenCount(), FullTokenCount: p.FullTokenCount(), CurrentPage: cur, TotalPages: total,
		HistoryMessages: hist, CacheDeprecated: p.CacheDeprecated(), LastRefreshMs: p.LastRefreshMs(),
		LastPollMs: p.LastPollMs(), EmptySinceMs: p.EmptySinceMs(),
		PanelCacheHit: p.PanelCacheHit(), PanelTotalCost: p.PanelTotalCost(),
	}
}

func fromPanelDTO(d panelDTO) (*session.Panel, error) {
	hist := make([]*session.Message, 0, len(d.HistoryMessages))
	for _, hd := range d.HistoryMessages {
		m, err := fromMessageDTO(hd)
		if err != nil {
			return nil, err
		}
		hist = append(hist, m)
	}
	return session.ReconstructPanel(d.ID, d.UID, d.Type, d.Name, d.Metadata,
		d.CachedContent, d.HasContent, d.ContentHash, d.SourceHash, d.TokenCount, d.FullTokenCount,
		d.CurrentPage, d.TotalPages, hist, d.CacheDeprecated, d.LastRefreshMs, d.LastPollMs, d.EmptySinceMs,
		d.PanelCacheHit, d.PanelTotalCost), nil
}

// stateDTO is the on-disk shape of state.json (§6): the global
// snapshot, referencing messages/panels by UID rather than embedding
// them (those live in their own per-file records).
type stateDTO struct {
	ActiveModules map[string]bool            `json:"active_modules"`
	SelectedPanel int                        `json:"selected_panel"`
	TickTokens    int64                      `json:"tick_tokens"`
	StreamTokens  int64                      `json:"stream_tokens"`
	SessionTokens int64                      `json:"session_tokens"`
	ResumeStream  bool                       `json:"resume_stream"`
	IDCounters    [5]int64                   `json:"id_counters"`
	MessageUIDs   []string                   `json:"message_uids"`
	PanelUIDs     []string                   `json:"panel_uids"`
	ModuleData    map[string]json.RawMessage `json:"module_data,omitempty"`
}

// SaveSnapshot queues a full session save: every message and panel
// (each under its own key, so repeated saves within one debounce window
// coalesce into one write per record; every record is re-written on
// each flush whether or not it changed) plus the state.json
// index tying them together by UID, per §4.1/§6.
func SaveSnapshot(layout Layout, writer *Writer, s *session.State) {
	msgUIDs := make([]string, len(s.Messages))
	for i, m := range s.Messages {
		msgUIDs[i] = m.UID()
		writer.SendBatch("msg:"+m.UID(), layout.MessageFile(m.UID()), toMessageDTO(m))
	}
	panelUIDs := make([]string, len(s.Context))
	for i, p := range s.Context {
		panelUIDs[i] = p.UID()
		writer.SendBatch("panel:"+p.UID(), layout.PanelFile(p.UID()), toPanelDTO(p))
	}
	dto := stateDTO{
		ActiveModules: s.ActiveModules,
		SelectedPanel: s.SelectedPanel,
		TickTokens:    s.TickTokens,
		StreamTokens:  s.StreamTokens,
		SessionTokens: s.SessionTokens,
		ResumeStream:  s.ResumeStream,
		IDCounters:    s.IDs.Snapshot(),
		MessageUIDs:   msgUIDs,
		PanelUIDs:     panelUIDs,
		ModuleData:    s.ModuleDataBlobs(),
	}
	writer.SendBatch("state", layout.StateFile(), dto)
}

// LoadState rebuilds a session.State from a prior SaveSnapshot, per
// testable property §8.4 (round-trip of messages/context/active_modules/
// UID counters). A missing state.json means a brand new session, not an
// error. A message or panel file that is missing or fails to parse is
// skipped rather than failing the whole load — §7's persistence I/O
// policy ("log, never surface") extends to the read path: a partially
// recovered session beats refusing to start.
func LoadState(layout Layout) (*session.State, error) {
	data, err := os.ReadFile(layout.StateFile())
	if err != nil {
		if os.IsNotExist(err) {
			return session.NewState(), nil
		}
		return nil, err
	}
	var dto stateDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}

	s := session.NewState()
	s.IDs = session.NewIDAllocator(dto.IDCounters)
	s.ActiveModules = dto.ActiveModules
	if s.ActiveModules == nil {
		s.ActiveModules = make(map[string]bool)
	}
	s.SelectedPanel = dto.SelectedPanel
	s.TickTokens, s.StreamTokens, s.SessionTokens = dto.TickTokens, dto.StreamTokens, dto.SessionTokens
	s.ResumeStream = dto.ResumeStream
	s.LoadModuleDataBlobs(dto.ModuleData)

	for _, uid := range dto.MessageUIDs {
		raw, err := os.ReadFile(layout.MessageFile(uid))
		if err != nil {
			continue
		}
		var md messageDTO
		if err := json.Unmarshal(raw, &md); err != nil {
			continue
		}
		m, err := fromMessageDTO(md)
		if err != nil {
			continue
		}
		s.Messages = append(s.Messages, m)
	}
	for _, uid := range dto.PanelUIDs {
		raw, err := os.ReadFile(layout.PanelFile(uid))
		if err != nil {
			continue
		}
		var pd panelDTO
		if err := json.Unmarshal(raw, &pd); err != nil {
			continue
		}
		p, err := fromPanelDTO(pd)
		if err != nil {
			continue
		}
		s.Context = append(s.Context, p)
	}
	if s.SelectedPanel < 0 || s.SelectedPanel >= len(s.Context) {
		s.SelectedPanel = 0
	}
	return s, nil
}
