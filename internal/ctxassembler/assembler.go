// Package ctxassembler implements C5: the per-turn assembly of
// messages, panel context items, and tools sent to the LLM, including
// conversation detachment and panel cache-cost accounting (§4.5).
package ctxassembler

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/contextpilot/pilot/internal/panel"
	"github.com/contextpilot/pilot/internal/session"
)

// PricingTable carries the prefix-cache hit/miss per-token pricing the
// config layer loads from .context-pilot/config.yaml (§4.5/§6's
// "Configuration file" section). Prices are dollars per million tokens.
type PricingTable struct {
	HitPricePerMillion  float64
	MissPricePerMillion float64
}

// AssembledMessage is one entry of the final ordered list sent to the
// LLM, derived from session.Message the way prepare_stream_context
// flattens conversation turns (tool calls/results collapse into the
// provider's native tool_use/tool_result parts at the stream layer;
// here we keep the session-level shape).
type AssembledMessage struct {
	Role    session.Role
	Type    session.MessageType
	Content string
	Msg     *session.Message
}

// Turn is everything prepare_stream_context hands the stream layer for
// one LLM call: the flattened message list, the ordered, formatted
// panel context items, and this turn's aggregate cache-cost stats.
type Turn struct {
	Messages     []AssembledMessage
	ContextItems []panel.ContextItem
	CacheHitCost float64
	CacheMissCost float64
	PanelOrder   []string // per-panel content hashes in the order sent, for next turn's prefix match
}

// Registry is the narrow surface ctxassembler needs from internal/panel.
type Registry interface {
	Context(p *session.Panel, s *session.State) []panel.ContextItem
	Refresh(s *session.State)
}

// Assemble runs the full per-turn pipeline described in §4.5:
// refresh panel content synchronously, detach old conversation chunks,
// collect and sort panel context items, run the cache-cost accounting
// block against the previous turn's panel hash list, and flatten messages.
//
// newPanelID/newUID/nowMs are injected so this package never calls
// time.Now or the ID allocator directly, keeping it deterministic and
// testable the way the reference implementation's pure context.rs
// functions are.
func Assemble(s *session.State, reg Registry, pricing PricingTable, previousPanelOrder []string, newPanelID func() (id, uid string), nowMs func() int64) Turn {
	reg.Refresh(s)

	DetachConversationChunks(s, newPanelID, nowMs)

	paginate(s)

	var items []panel.ContextItem
	type ordered struct {
		panelID       string
		lastRefreshMs int64
		items         []panel.ContextItem
	}
	var collected []ordered
	for _, p := range s.Context {
		if p.Type() == session.PanelConversation {
			// Conversations are sent to the API as messages, not as
			// context items.
			continue
		}
		pi := reg.Context(p, s)
		if len(pi) == 0 {
			continue
		}
		collected = append(collected, ordered{panelID: p.ID(), lastRefreshMs: p.LastRefreshMs(), items: pi})
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].lastRefreshMs < collected[j].lastRefreshMs
	})

	panelOrder := make([]string, 0, len(collected))
	for _, c := range collected {
		h := sha256.New()
		for _, it := range c.items {
			h.Write([]byte(it.Format()))
		}
		panelOrder = append(panelOrder, hex.EncodeToString(h.Sum(nil)))
		items = append(items, c.items...)
	}

	k := longestCommonPrefix(panelOrder, previousPanelOrder)

	var hitCost, missCost float64
	for i, c := range collected {
		p, _ := s.PanelByID(c.panelID)
		tokens := 0
		if p != nil {
			tokens = p.TokenCount()
		}
		if i < k {
			hitCost += float64(tokens) * pricing.HitPricePerMillion / 1e6
			if p != nil {
				p.SetCostAccounting(true, float64(tokens)*pricing.HitPricePerMillion/1e6)
			}
		} else {
			missCost += float64(tokens) * pricing.MissPricePerMillion / 1e6
			if p != nil {
				p.SetCostAccounting(false, float64(tokens)*pricing.MissPricePerMillion/1e6)
			}
		}
	}

	messages := flattenMessages(s.Messages)

	return Turn{
		Messages:      messages,
		ContextItems:  items,
		CacheHitCost:  hitCost,
		CacheMissCost: missCost,
		PanelOrder:    panelOrder,
	}
}

// longestCommonPrefix returns how many leading elements a and b share.
func longestCommonPrefix(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// flattenMessages converts live (non-deleted, non-detached) messages
// into the flat role/content list the stream layer turns into provider
// wire format. Summarized messages contribute their TL;DR in place of
// full content, per EffectiveContent.
func flattenMessages(messages []*session.Message) []AssembledMessage {
	out := make([]AssembledMessage, 0, len(messages))
	for _, m := range messages {
		if m.Status() == session.StatusDeleted || m.Status() == session.StatusDetached {
			continue
		}
		out = append(out, AssembledMessage{
			Role:    m.Role(),
			Type:    m.Type(),
			Content: m.EffectiveContent(),
			Msg:     m,
		})
	}
	return out
}

// paginate records each panel's page count (PageSizeTokens per page of
// its full token count) and clamps its 0-indexed current page into
// range. It does not slice content: the full content is sent and still
// counts toward token_count and the cache-hit prefix hash.
func paginate(s *session.State) {
	for _, p := range s.Context {
		if !p.HasContent() {
			continue
		}
		total := ComputeTotalPages(p.FullTokenCount())
		current, _ := p.Pagination()
		if current >= total {
			current = total - 1
		}
		if current < 0 {
			current = 0
		}
		p.SetPagination(current, total)
	}
}
