package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

// State is the full mutable state of one analysis session. It is a pure
// reducer over protocol events: Apply has no I/O and no locking, so the
// same event sequence always produces the same state. The controller owns
// synchronization.
type State struct {
	SessionID     string
	WorkflowID    string
	Status        Status
	StartedAt     time.Time
	CompletedAt   time.Time
	FailureReason string
	Tracker       *Tracker
	Log           *StepLog
	Final         *Report
}

func NewState(sessionID string, now time.Time) *State {
	return &State{
		SessionID: sessionID,
		Status:    StatusInitiating,
		StartedAt: now,
		Tracker:   NewTracker(),
		Log:       &StepLog{},
	}
}

// Outcome reports what applying one event did.
type Outcome struct {
	// Changed is false when the event was discarded (terminal state,
	// duplicate, or regression).
	Changed bool
	// FallbackToPolling asks the controller to abandon the stream and
	// switch to the polling driver.
	FallbackToPolling bool
	// Terminal is true once the session reached Completed, Failed or
	// Cancelled.
	Terminal bool
}

// Apply folds one event into the state. Events arriving after a terminal
// transition are discarded, which makes completion, failure and
// cancellation single-shot.
func (s *State) Apply(ev protocol.Event, now time.Time) Outcome {
	if s.Status.Terminal() {
		return Outcome{Terminal: true}
	}

	switch e := ev.(type) {
	case protocol.SessionStartEvent:
		if e.WorkflowID != "" {
			s.WorkflowID = e.WorkflowID
		}
		content := "analysis session started"
		if len(e.Portfolio) > 0 {
			content = fmt.Sprintf("analysis session started for %s", strings.Join(e.Portfolio, ", "))
		}
		s.Log.Append(Step{Kind: StepSystemMessage, Timestamp: now, Content: content})
		return Outcome{Changed: true}

	case protocol.UserMessageEvent:
		s.Log.Append(Step{Kind: StepUserMessage, Timestamp: now, Content: e.Content})
		return Outcome{Changed: true}

	case protocol.SystemMessageEvent:
		s.Log.Append(Step{Kind: StepSystemMessage, Timestamp: now, Content: e.Content})
		return Outcome{Changed: true}

	case protocol.StatusUpdateEvent:
		content := e.Message
		if content == "" {
			content = e.Status
		}
		s.Log.Append(Step{Kind: StepSystemMessage, Timestamp: now, Content: content})
		return Outcome{Changed: true}

	case protocol.AgentStartEvent:
		a, ok := s.Tracker.Apply(e, now)
		if !ok {
			return Outcome{}
		}
		s.Log.Append(Step{
			Kind:      StepAgentStart,
			Timestamp: now,
			Content:   e.Content,
			AgentID:   a.ID,
		})
		return Outcome{Changed: true}

	case protocol.AgentThinkingEvent:
		s.Tracker.ensure(e.AgentID, "", "")
		s.Log.Append(Step{
			Kind:      StepAgentThinking,
			Timestamp: now,
			Content:   e.Content,
			AgentID:   e.AgentID,
		})
		return Outcome{Changed: true}

	case protocol.AgentCompleteEvent:
		a, ok := s.Tracker.Apply(e, now)
		if !ok {
			return Outcome{}
		}
		s.Log.Append(Step{
			Kind:         StepAgentComplete,
			Timestamp:    now,
			AgentID:      a.ID,
			AnalysisText: a.AnalysisText,
			Confidence:   a.Confidence,
		})
		return Outcome{Changed: true}

	case protocol.FinalResultEvent:
		if s.Final != nil {
			return Outcome{}
		}
		s.Final = s.buildReport(e.Content, e.ConfidenceScore, now)
		s.Log.Append(Step{
			Kind:       StepFinalResult,
			Timestamp:  now,
			Content:    e.Content,
			Confidence: e.ConfidenceScore,
		})
		return Outcome{Changed: true}

	case protocol.SessionCompleteEvent:
		if s.Final == nil {
			// Completion without an explicit final_result: assemble the
			// report from whatever the agents produced.
			s.Final = s.buildReport(e.Message, averageConfidence(s.Tracker), now)
		}
		s.Status = StatusCompleted
		s.CompletedAt = now
		return Outcome{Changed: true, Terminal: true}

	case protocol.ErrorEvent:
		if e.AgentScoped() {
			// An agent failing is local; the orchestrator continues with
			// the remaining agents.
			a, ok := s.Tracker.Apply(e, now)
			if !ok {
				return Outcome{}
			}
			s.Log.Append(Step{
				Kind:      StepSystemMessage,
				Timestamp: now,
				AgentID:   a.ID,
				Content:   fmt.Sprintf("agent %s failed: %s", a.ID, e.Message),
			})
			return Outcome{Changed: true}
		}
		s.Status = StatusFailed
		s.FailureReason = e.Message
		s.CompletedAt = now
		s.Log.Append(Step{Kind: StepSystemMessage, Timestamp: now, Content: e.Message})
		return Outcome{Changed: true, Terminal: true}

	case protocol.CancelledEvent:
		s.Status = StatusCancelled
		s.FailureReason = e.Reason
		s.CompletedAt = now
		s.Log.Append(Step{Kind: StepSystemMessage, Timestamp: now, Content: "analysis cancelled: " + e.Reason})
		return Outcome{Changed: true, Terminal: true}

	case protocol.TransportFailedEvent:
		if s.Status == StatusPolling {
			// Polling was already the fallback; nothing left to try.
			s.Status = StatusFailed
			s.FailureReason = "transport exhausted: " + e.Reason
			s.CompletedAt = now
			s.Log.Append(Step{Kind: StepSystemMessage, Timestamp: now, Content: s.FailureReason})
			return Outcome{Changed: true, Terminal: true}
		}
		s.Log.Append(Step{
			Kind:      StepSystemMessage,
			Timestamp: now,
			Content:   "stream interrupted (" + e.Reason + "), switching to polling",
		})
		return Outcome{Changed: true, FallbackToPolling: true}
	}

	return Outcome{}
}

func (s *State) buildReport(content string, confidence float64, now time.Time) *Report {
	byAgent := make(map[string]AgentFinding)
	for id, a := range s.Tracker.Agents() {
		if a.Status != AgentCompleted {
			continue
		}
		byAgent[id] = AgentFinding{
			DisplayName: a.DisplayName,
			Analysis:    a.AnalysisText,
			Confidence:  a.Confidence,
		}
	}
	return &Report{
		Content:         content,
		ConfidenceScore: confidence,
		ByAgent:         byAgent,
		CreatedAt:       now,
	}
}

func averageConfidence(t *Tracker) float64 {
	var sum float64
	var n int
	for _, a := range t.Agents() {
		if a.Status == AgentCompleted {
			sum += a.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Snapshot deep-copies the state for external consumption.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:     s.SessionID,
		WorkflowID:    s.WorkflowID,
		Status:        s.Status,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		FailureReason: s.FailureReason,
		Agents:        s.Tracker.Agents(),
		Steps:         s.Log.All(),
	}
	if s.Final != nil {
		r := *s.Final
		r.ByAgent = make(map[string]AgentFinding, len(s.Final.ByAgent))
		for id, f := range s.Final.ByAgent {
			r.ByAgent[id] = f
		}
		snap.FinalResult = &r
	}
	return snap
}
