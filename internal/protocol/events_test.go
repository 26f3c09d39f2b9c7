package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantType EventType
		wantErr  bool
	}{
		{
			name:     "session_start",
			payload:  `{"type":"session_start","session_id":"abc","workflow_id":"wf","portfolio":["AAPL","MSFT"]}`,
			wantType: EventSessionStart,
		},
		{
			name:     "agent_start",
			payload:  `{"type":"agent_start","agent_id":"quant_dev","agent_name":"Quant Dev","step":4,"total_steps":5}`,
			wantType: EventAgentStart,
		},
		{
			name:     "agent_complete",
			payload:  `{"type":"agent_complete","agent_id":"quant_dev","analysis":"beta 1.12","confidence":0.9,"processing_time_ms":3500}`,
			wantType: EventAgentComplete,
		},
		{
			name:     "final_result",
			payload:  `{"type":"final_result","content":"all done","confidence_score":0.82}`,
			wantType: EventFinalResult,
		},
		{
			name:     "session_complete",
			payload:  `{"type":"session_complete","message":"Portfolio analysis completed successfully"}`,
			wantType: EventSessionComplete,
		},
		{
			name:     "session error",
			payload:  `{"type":"error","message":"boom"}`,
			wantType: EventError,
		},
		{
			name:    "not json",
			payload: `{"type":"agent_start"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if ev.GetType() != tt.wantType {
				t.Errorf("GetType() = %s, want %s", ev.GetType(), tt.wantType)
			}
		})
	}
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"telemetry","v":1}`))
	var unknown *UnknownEventTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("DecodeEvent() error = %v, want *UnknownEventTypeError", err)
	}
	if unknown.Type != "telemetry" {
		t.Errorf("unknown.Type = %s, want telemetry", unknown.Type)
	}
}

func TestErrorEventScope(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"error","message":"rate limited","agent_id":"finance_guru"}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	agentErr, ok := ev.(ErrorEvent)
	if !ok {
		t.Fatalf("decoded %T, want ErrorEvent", ev)
	}
	if !agentErr.AgentScoped() {
		t.Error("AgentScoped() = false, want true")
	}

	sessionErr := NewErrorEvent("fatal")
	if sessionErr.AgentScoped() {
		t.Error("session error should not be agent scoped")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		zero bool
	}{
		{"rfc3339", "2026-02-11T10:30:00Z", false},
		{"python isoformat", "2026-02-11T10:30:00.123456", false},
		{"empty", "", true},
		{"garbage", "yesterday", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(tt.in)
			if got.IsZero() != tt.zero {
				t.Errorf("ParseTimestamp(%q).IsZero() = %v, want %v", tt.in, got.IsZero(), tt.zero)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	in := NewAgentCompleteEvent("legal_guru", "Legal Guru", "⚖️", "done", "low risk", 0.85, 2500)
	data, err := MarshalEvent(in)
	if err != nil {
		t.Fatalf("MarshalEvent() error = %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	got, ok := out.(AgentCompleteEvent)
	if !ok {
		t.Fatalf("decoded %T, want AgentCompleteEvent", out)
	}
	if got.AgentID != in.AgentID || got.Analysis != in.Analysis || got.Confidence != in.Confidence {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, in)
	}
	if got.When().IsZero() {
		t.Error("constructor-stamped event should carry a parseable timestamp")
	}
	if time.Since(got.When()) > time.Minute {
		t.Error("timestamp should be recent")
	}
}
