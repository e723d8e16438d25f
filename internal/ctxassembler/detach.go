// Package ctxassembler implements C5: the per-turn assembly of
// messages, panel context items, and tools sent to the LLM, including
// conversation detachment and panel cache-cost accounting (§4.5).
package ctxassembler

import (
	"fmt"
	"strings"

	"github.com/contextpilot/pilot/internal/session"
)

// Detachment thresholds, grounded on the reference implementation's
// DETACH_CHUNK_MIN_MESSAGES/DETACH_CHUNK_MIN_TOKENS/DETACH_KEEP_MIN_*
// constants (infra/constants.rs).
const (
	ChunkMinMessages = 20
	ChunkMinTokens   = 4000
	KeepMinMessages  = 10
	KeepMinTokens    = 2000
)

// activeMessages reports the count and estimated token total of every
// message that is neither Deleted nor Detached.
func activeMessages(messages []*session.Message) (count int, tokens int) {
	for _, m := range messages {
		if m.Status() == session.StatusDeleted || m.Status() == session.StatusDetached {
			continue
		}
		count++
		tokens += estimateMessageTokens(m)
	}
	return
}

// estimateMessageTokens is the cheap chars/4 heuristic applied to a
// message's effective (TL;DR-aware) content.
func estimateMessageTokens(m *session.Message) int {
	return (len(m.EffectiveContent()) + 3) / 4
}

// isTurnBoundary reports whether messages[idx] is a valid place to end
// a detachment chunk, per §4.5: an assistant TextMessage, or a
// ToolResult whose next non-Deleted/non-Detached message is a user
// TextMessage (or there is no such next message at all).
func isTurnBoundary(messages []*session.Message, idx int) bool {
	msg := messages[idx]
	if !msg.IsBoundaryCandidate() {
		return false
	}
	if msg.Role() == session.RoleAssistant && msg.Type() == session.TextMessage {
		return true
	}
	// ToolResult: boundary iff the next live message is a user TextMessage,
	// or there is no next live message at all (this is the tail).
	for _, next := range messages[idx+1:] {
		if next.Status() == session.StatusDeleted || next.Status() == session.StatusDetached {
			continue
		}
		return next.Role() == session.RoleUser && next.Type() == session.TextMessage
	}
	return true
}

// DetachConversationChunks repeatedly carves the oldest satisfying
// prefix of s.Messages into a frozen ConversationHistory panel until no
// further boundary can be found, per §4.5. newPanelID/newUID allocate a
// fresh panel identity per detached chunk; nowMs stamps the new panel's
// last_refresh_ms so it sorts just before the live conversation,
// preserving the prefix-cache of every earlier panel.
func DetachConversationChunks(s *session.State, newPanelID func() (id, uid string), nowMs func() int64) {
	for {
		activeCount, totalTokens := activeMessages(s.Messages)
		if activeCount < ChunkMinMessages+KeepMinMessages {
			return
		}
		if totalTokens < ChunkMinTokens+KeepMinTokens {
			return
		}

		boundary := -1
		activeSeen, tokensSeen := 0, 0
		for idx, m := range s.Messages {
			if m.Status() == session.StatusDeleted || m.Status() == session.StatusDetached {
				continue
			}
			activeSeen++
			tokensSeen += estimateMessageTokens(m)
			if activeSeen >= ChunkMinMessages && tokensSeen >= ChunkMinTokens && isTurnBoundary(s.Messages, idx) {
				boundary = idx + 1
				break
			}
		}
		if boundary <= 0 {
			return
		}

		remainingActive, remainingTokens := activeMessages(s.Messages[boundary:])
		if remainingActive < KeepMinMessages || remainingTokens < KeepMinTokens {
			return
		}

		chunk := s.Messages[:boundary]
		content := formatChunk(chunk)
		if content == "" {
			return
		}

		id, uid := newPanelID()
		p := session.NewPanel(id, uid, session.PanelConversationHistory, chunkName(chunk))
		p.SetHistoryMessages(append([]*session.Message(nil), chunk...))
		tokenCount := (len(content) + 3) / 4
		p.ApplyContent(content, "", tokenCount, func(string) string { return "" }, nowMs())
		p.SetLastRefreshMs(nowMs())

		s.Context = append(s.Context, p)
		s.Messages = append([]*session.Message(nil), s.Messages[boundary:]...)
		// Loop: a single pass may still leave the tip over threshold.
	}
}

// formatChunk renders a frozen transcript the way ConversationHistory
// panels present their content to the LLM (§4.5's "formatted transcript").
func formatChunk(messages []*session.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Status() == session.StatusDeleted || m.Status() == session.StatusDetached {
			continue
		}
		b.WriteString(string(m.Role()))
		b.WriteString(": ")
		b.WriteString(m.EffectiveContent())
		b.WriteString("\n")
	}
	return b.String()
}

// chunkName derives a short human label for the history panel's sidebar
// title, e.g. "Chat 14:02-14:37".
func chunkName(messages []*session.Message) string {
	var first, last int64
	for _, m := range messages {
		if m.Status() == session.StatusDeleted || m.Status() == session.StatusDetached {
			continue
		}
		ms := m.CreatedAt().UnixMilli()
		if first == 0 {
			first = ms
		}
		last = ms
	}
	if first == 0 {
		return "Chat"
	}
	return "Chat " + shortTime(first) + "-" + shortTime(last)
}

func shortTime(ms int64) string {
	secs := ms / 1000
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	return fmt.Sprintf("%02d:%02d", hours, minutes)
}
