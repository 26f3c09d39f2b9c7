// Package protocol defines the wire vocabulary shared by the analysis
// service and this client: the typed progress events carried on the
// stream endpoint and the request/response payloads of the init and
// status endpoints.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates every progress event the client understands.
type EventType string

const (
	// Server-emitted events (stream endpoint, "data: <json>" frames).
	EventSessionStart    EventType = "session_start"
	EventUserMessage     EventType = "user_message"
	EventSystemMessage   EventType = "system_message"
	EventStatusUpdate    EventType = "status_update"
	EventAgentStart      EventType = "agent_start"
	EventAgentThinking   EventType = "agent_thinking"
	EventAgentComplete   EventType = "agent_complete"
	EventFinalResult     EventType = "final_result"
	EventSessionComplete EventType = "session_complete"
	EventError           EventType = "error"

	// Client-synthesized events. Drivers use these to report into the same
	// vocabulary; they never appear on the wire from the server.
	EventTransportFailed EventType = "transport_failed"
	EventCancelled       EventType = "cancelled"
)

// Event is implemented by every progress event variant.
type Event interface {
	isEvent()
	GetType() EventType
	// When returns the event's own timestamp, or the zero time when the
	// frame carried none or it could not be parsed.
	When() time.Time
}

type eventBase struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp,omitempty"`
}

func (eventBase) isEvent() {}

func (b eventBase) GetType() EventType { return b.Type }

func (b eventBase) When() time.Time { return ParseTimestamp(b.Timestamp) }

// timestampLayouts covers RFC3339 and the naive ISO form the service
// produces (datetime.isoformat() without a zone).
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp best-effort parses a frame timestamp. Returns the zero
// time when the value is empty or unrecognized; callers fall back to
// arrival time.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SessionStartEvent announces the session and workflow identifiers and the
// portfolio symbols under analysis.
type SessionStartEvent struct {
	eventBase
	SessionID  string   `json:"session_id"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	Portfolio  []string `json:"portfolio,omitempty"`
}

// UserMessageEvent echoes the user's request back into the step log.
type UserMessageEvent struct {
	eventBase
	Content string `json:"content"`
}

// SystemMessageEvent carries service-side narration (e.g. "starting
// multi-agent analysis").
type SystemMessageEvent struct {
	eventBase
	Content string `json:"content"`
}

// StatusUpdateEvent reports a coarse job status change.
type StatusUpdateEvent struct {
	eventBase
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// AgentStartEvent marks one worker beginning its analysis.
type AgentStartEvent struct {
	eventBase
	AgentID    string `json:"agent_id"`
	AgentName  string `json:"agent_name"`
	Icon       string `json:"icon,omitempty"`
	Content    string `json:"content,omitempty"`
	Step       int    `json:"step,omitempty"`
	TotalSteps int    `json:"total_steps,omitempty"`
}

// AgentThinkingEvent is interim narration from a running worker.
type AgentThinkingEvent struct {
	eventBase
	AgentID string `json:"agent_id"`
	Content string `json:"content,omitempty"`
}

// AgentCompleteEvent delivers one worker's finished analysis.
type AgentCompleteEvent struct {
	eventBase
	AgentID          string  `json:"agent_id"`
	AgentName        string  `json:"agent_name,omitempty"`
	Icon             string  `json:"icon,omitempty"`
	Content          string  `json:"content,omitempty"`
	Analysis         string  `json:"analysis,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	ProcessingTimeMs int     `json:"processing_time_ms,omitempty"`
}

// FinalResultEvent carries the consolidated result for the whole session.
type FinalResultEvent struct {
	eventBase
	Content         string  `json:"content,omitempty"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// SessionCompleteEvent terminates a successful session.
type SessionCompleteEvent struct {
	eventBase
	Message string `json:"message,omitempty"`
}

// ErrorEvent reports a failure. When AgentID is set the error is scoped to
// that worker and the session continues; otherwise it is fatal to the
// session.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	AgentID string `json:"agent_id,omitempty"`
}

// AgentScoped reports whether the error concerns a single worker.
func (e ErrorEvent) AgentScoped() bool { return e.AgentID != "" }

// TransportFailedEvent is synthesized by a driver when its connection or
// poll loop gives out. It never appears on the wire.
type TransportFailedEvent struct {
	eventBase
	Reason string `json:"reason,omitempty"`
}

// CancelledEvent is synthesized when the caller cancels the session.
type CancelledEvent struct {
	eventBase
	Reason string `json:"reason,omitempty"`
}

// NewSessionStartEvent constructs a session_start event.
func NewSessionStartEvent(sessionID, workflowID string, portfolio []string) SessionStartEvent {
	return SessionStartEvent{
		eventBase:  stamped(EventSessionStart),
		SessionID:  sessionID,
		WorkflowID: workflowID,
		Portfolio:  portfolio,
	}
}

// NewUserMessageEvent constructs a user_message event.
func NewUserMessageEvent(content string) UserMessageEvent {
	return UserMessageEvent{eventBase: stamped(EventUserMessage), Content: content}
}

// NewSystemMessageEvent constructs a system_message event.
func NewSystemMessageEvent(content string) SystemMessageEvent {
	return SystemMessageEvent{eventBase: stamped(EventSystemMessage), Content: content}
}

// NewStatusUpdateEvent constructs a status_update event.
func NewStatusUpdateEvent(status, message string) StatusUpdateEvent {
	return StatusUpdateEvent{eventBase: stamped(EventStatusUpdate), Status: status, Message: message}
}

// NewAgentStartEvent constructs an agent_start event.
func NewAgentStartEvent(agentID, agentName, icon, content string, step, totalSteps int) AgentStartEvent {
	return AgentStartEvent{
		eventBase:  stamped(EventAgentStart),
		AgentID:    agentID,
		AgentName:  agentName,
		Icon:       icon,
		Content:    content,
		Step:       step,
		TotalSteps: totalSteps,
	}
}

// NewAgentThinkingEvent constructs an agent_thinking event.
func NewAgentThinkingEvent(agentID, content string) AgentThinkingEvent {
	return AgentThinkingEvent{eventBase: stamped(EventAgentThinking), AgentID: agentID, Content: content}
}

// NewAgentCompleteEvent constructs an agent_complete event.
func NewAgentCompleteEvent(agentID, agentName, icon, content, analysis string, confidence float64, processingTimeMs int) AgentCompleteEvent {
	return AgentCompleteEvent{
		eventBase:        stamped(EventAgentComplete),
		AgentID:          agentID,
		AgentName:        agentName,
		Icon:             icon,
		Content:          content,
		Analysis:         analysis,
		Confidence:       confidence,
		ProcessingTimeMs: processingTimeMs,
	}
}

// NewFinalResultEvent constructs a final_result event.
func NewFinalResultEvent(content string, confidenceScore float64) FinalResultEvent {
	return FinalResultEvent{eventBase: stamped(EventFinalResult), Content: content, ConfidenceScore: confidenceScore}
}

// NewSessionCompleteEvent constructs a session_complete event.
func NewSessionCompleteEvent(message string) SessionCompleteEvent {
	return SessionCompleteEvent{eventBase: stamped(EventSessionComplete), Message: message}
}

// NewErrorEvent constructs a session-scoped error event.
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{eventBase: stamped(EventError), Message: message}
}

// NewAgentErrorEvent constructs an error event scoped to one worker.
func NewAgentErrorEvent(agentID, message string) ErrorEvent {
	return ErrorEvent{eventBase: stamped(EventError), Message: message, AgentID: agentID}
}

// NewTransportFailedEvent constructs a transport_failed event.
func NewTransportFailedEvent(reason string) TransportFailedEvent {
	return TransportFailedEvent{eventBase: stamped(EventTransportFailed), Reason: reason}
}

// NewCancelledEvent constructs a cancelled event.
func NewCancelledEvent(reason string) CancelledEvent {
	return CancelledEvent{eventBase: stamped(EventCancelled), Reason: reason}
}

func stamped(t EventType) eventBase {
	return eventBase{Type: t, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

// UnknownEventTypeError marks a frame whose type discriminator is not part
// of the closed vocabulary. Callers skip such frames rather than failing.
type UnknownEventTypeError struct {
	Type EventType
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type: %s", e.Type)
}

type rawEvent struct {
	Type EventType `json:"type"`
}

// DecodeEvent converts one JSON frame payload into a strongly typed event.
// Unknown discriminators return *UnknownEventTypeError so streams with newer
// vocabularies degrade to skipping, never to mis-read fields.
func DecodeEvent(data []byte) (Event, error) {
	var base rawEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch base.Type {
	case EventSessionStart:
		var ev SessionStartEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode session_start: %w", err)
		}
		return ev, nil
	case EventUserMessage:
		var ev UserMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode user_message: %w", err)
		}
		return ev, nil
	case EventSystemMessage:
		var ev SystemMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode system_message: %w", err)
		}
		return ev, nil
	case EventStatusUpdate:
		var ev StatusUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode status_update: %w", err)
		}
		return ev, nil
	case EventAgentStart:
		var ev AgentStartEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode agent_start: %w", err)
		}
		return ev, nil
	case EventAgentThinking:
		var ev AgentThinkingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode agent_thinking: %w", err)
		}
		return ev, nil
	case EventAgentComplete:
		var ev AgentCompleteEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode agent_complete: %w", err)
		}
		return ev, nil
	case EventFinalResult:
		var ev FinalResultEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode final_result: %w", err)
		}
		return ev, nil
	case EventSessionComplete:
		var ev SessionCompleteEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode session_complete: %w", err)
		}
		return ev, nil
	case EventError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode error event: %w", err)
		}
		return ev, nil
	case EventTransportFailed:
		var ev TransportFailedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode transport_failed: %w", err)
		}
		return ev, nil
	case EventCancelled:
		var ev CancelledEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode cancelled: %w", err)
		}
		return ev, nil
	default:
		return nil, &UnknownEventTypeError{Type: base.Type}
	}
}

// MarshalEvent serializes an event for the stream wire format.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
