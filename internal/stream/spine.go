package stream

import (
	"github.com/contextpilot/pilot/internal/session"
)

// SpineDecision is what the auto-continuation subsystem decides after a
// clean stream Done, per §4.6/Glossary: stay idle, report a blocked
// reason, or synthesize a continuation user message.
type SpineDecision int

const (
	SpineIdle SpineDecision = iota
	SpineBlocked
	SpineContinue
)

// SpineResult pairs a decision with its payload.
type SpineResult struct {
	Decision SpineDecision
	Reason   string // set when Decision == SpineBlocked
	Action   string // set when Decision == SpineContinue: the synthesized user message
}

// spineState is the per-session bookkeeping GetExt/SetExt threads
// through State: consecutive-error and turn-level counters bound
// runaway continuation, per §4.6's closing sentence.
type spineState struct {
	consecutiveErrors int
	turnContinuations int
}

// MaxTurnContinuations bounds how many times Spine may auto-continue
// within a single user-initiated turn before forcing Idle.
const MaxTurnContinuations = 8

// CheckSpine asks the auto-continuation subsystem for a decision. decide
// is the pluggable policy function (e.g. "todo panel has unchecked
// items and the assistant's last message didn't ask a question" →
// Continue); CheckSpine itself only owns the counters and idempotence
// guarantee §8's property 6 names: calling it on an idle state returns
// Idle and mutates no observable counter.
func CheckSpine(s *session.State, decide func(*session.State) SpineResult) SpineResult {
	st, _ := session.GetExt[spineState](s)

	result := decide(s)

	switch result.Decision {
	case SpineIdle:
		// No mutation: repeated Idle checks must be side-effect free.
		return result
	case SpineBlocked:
		st.consecutiveErrors++
		session.SetExt(s, st)
		return result
	case SpineContinue:
		if st.turnContinuations >= MaxTurnContinuations {
			return SpineResult{Decision: SpineBlocked, Reason: "auto-continuation limit reached"}
		}
		st.turnContinuations++
		st.consecutiveErrors = 0
		session.SetExt(s, st)
		return result
	default:
		return SpineResult{Decision: SpineIdle}
	}
}

// ResetSpineTurnCounter clears the per-turn continuation counter when a
// fresh user message starts a new turn.
func ResetSpineTurnCounter(s *session.State) {
	st, _ := session.GetExt[spineState](s)
	st.turnContinuations = 0
	session.SetExt(s, st)
}

// ApplySpineResult renders the decision into the spine panel's
// metadata, read by panel.SpineHandler.Refresh, and — for Continue —
// synthesizes the user message and flags the state to stream again.
func ApplySpineResult(s *session.State, result SpineResult) {
	spinePanels := s.PanelsByType(session.PanelSpine)
	status := ""
	switch result.Decision {
	case SpineIdle:
		status = ""
	case SpineBlocked:
		status = "Blocked: " + result.Reason
	case SpineContinue:
		status = "Continuing: " + result.Action
	}
	for _, p := range spinePanels {
		p.SetMetadata("status", status)
	}
	if result.Decision != SpineContinue {
		return
	}
	uID, uUID := s.IDs.Next(session.KindUserMessage)
	msg, err := session.NewMessage(uID, uUID, session.RoleUser, session.TextMessage, result.Action)
	if err != nil {
		return
	}
	s.Messages = append(s.Messages, msg)
	continueTurn(s)
}
