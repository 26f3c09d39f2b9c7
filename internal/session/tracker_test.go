package session

import (
	"testing"
	"time"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	a, ok := tr.Apply(protocol.NewAgentStartEvent("finance_guru", "Finance Guru", "🏦", "", 1, 5), now)
	if !ok {
		t.Fatal("agent_start was rejected")
	}
	if a.Status != AgentAnalyzing {
		t.Errorf("status = %q, want %q", a.Status, AgentAnalyzing)
	}
	if a.DisplayName != "Finance Guru" {
		t.Errorf("display name = %q, want %q", a.DisplayName, "Finance Guru")
	}

	a, ok = tr.Apply(protocol.NewAgentCompleteEvent("finance_guru", "", "", "", "hold", 0.8, 900), now)
	if !ok {
		t.Fatal("agent_complete was rejected")
	}
	if a.Status != AgentCompleted || a.AnalysisText != "hold" || a.Confidence != 0.8 {
		t.Errorf("completed state = %+v", a)
	}
}

func TestTrackerRejectsRegressions(t *testing.T) {
	tests := []struct {
		name   string
		events []protocol.Event
		reject protocol.Event
	}{
		{
			name:   "duplicate start",
			events: []protocol.Event{protocol.NewAgentStartEvent("quant_dev", "Quant", "", "", 1, 5)},
			reject: protocol.NewAgentStartEvent("quant_dev", "Quant", "", "", 1, 5),
		},
		{
			name: "start after completion",
			events: []protocol.Event{
				protocol.NewAgentStartEvent("quant_dev", "Quant", "", "", 1, 5),
				protocol.NewAgentCompleteEvent("quant_dev", "", "", "", "done", 0.9, 100),
			},
			reject: protocol.NewAgentStartEvent("quant_dev", "Quant", "", "", 1, 5),
		},
		{
			name: "replayed completion",
			events: []protocol.Event{
				protocol.NewAgentStartEvent("quant_dev", "Quant", "", "", 1, 5),
				protocol.NewAgentCompleteEvent("quant_dev", "", "", "", "done", 0.9, 100),
			},
			reject: protocol.NewAgentCompleteEvent("quant_dev", "", "", "", "other", 0.1, 100),
		},
		{
			name: "error after completion",
			events: []protocol.Event{
				protocol.NewAgentStartEvent("quant_dev", "Quant", "", "", 1, 5),
				protocol.NewAgentCompleteEvent("quant_dev", "", "", "", "done", 0.9, 100),
			},
			reject: protocol.NewAgentErrorEvent("quant_dev", "late failure"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			now := time.Now()
			for _, ev := range tt.events {
				tr.Apply(ev, now)
			}
			before := tr.Agents()["quant_dev"]
			if _, ok := tr.Apply(tt.reject, now); ok {
				t.Fatal("regressing event was applied")
			}
			after := tr.Agents()["quant_dev"]
			if before != after {
				t.Errorf("state changed: before %+v, after %+v", before, after)
			}
		})
	}
}

func TestTrackerCreatesUnknownAgentsAsPending(t *testing.T) {
	tr := NewTracker()
	tr.Apply(protocol.NewAgentErrorEvent("mystery_agent", "exploded"), time.Now())

	a, ok := tr.Agents()["mystery_agent"]
	if !ok {
		t.Fatal("unknown agent was not created")
	}
	if a.Status != AgentError {
		t.Errorf("status = %q, want %q", a.Status, AgentError)
	}
	if a.ErrorMessage != "exploded" {
		t.Errorf("error message = %q, want %q", a.ErrorMessage, "exploded")
	}
}

func TestTrackerFillsRosterNames(t *testing.T) {
	tr := NewTracker()
	tr.Apply(protocol.NewAgentStartEvent("legal_guru", "", "", "", 1, 5), time.Now())

	a := tr.Agents()["legal_guru"]
	if a.DisplayName == "" || a.Icon == "" {
		t.Errorf("roster lookup missed: %+v", a)
	}
}

func TestTrackerSettledIDs(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.Apply(protocol.NewAgentStartEvent("finance_guru", "", "", "", 1, 5), now)
	tr.Apply(protocol.NewAgentCompleteEvent("finance_guru", "", "", "", "done", 0.8, 100), now)
	tr.Apply(protocol.NewAgentStartEvent("quant_dev", "", "", "", 2, 5), now)
	tr.Apply(protocol.NewAgentErrorEvent("legal_guru", "failed"), now)

	got := tr.SettledIDs()
	want := []string{"finance_guru", "legal_guru"}
	if len(got) != len(want) {
		t.Fatalf("settled = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("settled[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
