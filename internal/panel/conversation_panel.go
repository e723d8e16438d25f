package panel

import (
	"strings"

	"github.com/contextpilot/pilot/internal/session"
)

// ConversationHandler backs the fixed `conversation` panel: the live
// message tail, read directly from session.State.Messages rather than
// cached — §4.4 table marks needs_cache=no for this type.
type ConversationHandler struct{ BaseHandler }

func (ConversationHandler) Title(*session.Panel, *session.State) string { return "Conversation" }

// draftKey is the Panel.Metadata key the in-progress typed message is
// accumulated under between ticks (§4.7 step 1 / §8 scenario S1).
const draftKey = "draft"

// DraftKey exports draftKey for Loop's `@` autocomplete handler, which
// needs to read and rewrite the conversation panel's in-progress draft
// directly when it accepts a suggestion.
const DraftKey = draftKey

// HandleKey accumulates typed runes into the panel's draft metadata and,
// on Enter with a non-empty draft and no turn in flight, hands the text
// back to the loop as an ActionSubmit so SubmitUserMessage can append it
// as a new user message. Enter while streaming, or with an empty draft,
// is ignored — the conversation panel has nothing to submit yet.
func (ConversationHandler) HandleKey(p *session.Panel, s *session.State, key string) (Action, bool) {
	draft, _ := p.Metadata(draftKey)
	switch key {
	case "enter":
		if s.Streaming || strings.TrimSpace(draft) == "" {
			return Action{}, false
		}
		p.SetMetadata(draftKey, "")
		return Action{Kind: ActionSubmit, Payload: draft}, true
	case "backspace":
		if draft == "" {
			return Action{}, false
		}
		runes := []rune(draft)
		p.SetMetadata(draftKey, string(runes[:len(runes)-1]))
		return Action{}, true
	default:
		if len([]rune(key)) != 1 {
			return Action{}, false
		}
		p.SetMetadata(draftKey, draft+key)
		return Action{}, true
	}
}

func (ConversationHandler) Context(_ *session.Panel, s *session.State) []ContextItem {
	var b strings.Builder
	for _, m := range s.Messages {
		if m.Status() == session.StatusDeleted || m.Status() == session.StatusDetached {
			continue
		}
		b.WriteString(string(m.Role()))
		b.WriteString(": ")
		b.WriteString(m.EffectiveContent())
		b.WriteString("\n")
	}
	return []ContextItem{{ID: session.ChatPanelID, Header: "Conversation", Content: b.String()}}
}

// ConversationHistoryHandler backs `conversation-history` panels: a
// frozen, append-only detachment chunk. Content is fixed at creation
// time (SetHistoryMessages) and never re-derived — needs_cache=no.
type ConversationHistoryHandler struct{ BaseHandler }

func (ConversationHistoryHandler) Title(p *session.Panel, _ *session.State) string {
	return "History: " + p.Name()
}

func (ConversationHistoryHandler) Context(p *session.Panel, _ *session.State) []ContextItem {
	var b strings.Builder
	for _, m := range p.HistoryMessages() {
		b.WriteString(string(m.Role()))
		b.WriteString(": ")
		b.WriteString(m.EffectiveContent())
		b.WriteString("\n")
	}
	return []ContextItem{{ID: p.ID(), Header: "Conversation history: " + p.Name(), Content: b.String()}}
}
