package session

import (
	"time"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

// Tracker maintains per-agent state. Agent status is monotonic: an event
// that would move an agent backwards (a duplicate agent_start after
// completion, a stale completion replayed by the polling driver) is a no-op.
// Unknown agent ids are created as Pending on first reference.
type Tracker struct {
	agents map[string]*AgentState
	order  []string
}

func NewTracker() *Tracker {
	return &Tracker{agents: make(map[string]*AgentState)}
}

func (t *Tracker) ensure(id, name, icon string) *AgentState {
	if a, ok := t.agents[id]; ok {
		if name != "" && a.DisplayName == "" {
			a.DisplayName = name
		}
		if icon != "" && a.Icon == "" {
			a.Icon = icon
		}
		return a
	}
	if name == "" || icon == "" {
		if info, ok := protocol.AgentByID(id); ok {
			if name == "" {
				name = info.Name
			}
			if icon == "" {
				icon = info.Icon
			}
		}
	}
	a := &AgentState{ID: id, DisplayName: name, Icon: icon, Status: AgentPending}
	t.agents[id] = a
	t.order = append(t.order, id)
	return a
}

// advance moves an agent to next if that is a forward transition.
func advance(a *AgentState, next AgentStatus) bool {
	if agentRank[next] <= agentRank[a.Status] {
		return false
	}
	a.Status = next
	return true
}

// Apply updates agent state from one agent-scoped event. It returns the
// changed state and true, or zero and false when the event names no agent
// or would regress one.
func (t *Tracker) Apply(ev protocol.Event, now time.Time) (AgentState, bool) {
	switch e := ev.(type) {
	case protocol.AgentStartEvent:
		a := t.ensure(e.AgentID, e.AgentName, e.Icon)
		if !advance(a, AgentAnalyzing) {
			return AgentState{}, false
		}
		a.StartedAt = now
		return *a, true
	case protocol.AgentCompleteEvent:
		a := t.ensure(e.AgentID, e.AgentName, e.Icon)
		if !advance(a, AgentCompleted) {
			return AgentState{}, false
		}
		a.AnalysisText = e.Analysis
		a.Confidence = e.Confidence
		a.CompletedAt = now
		return *a, true
	case protocol.ErrorEvent:
		if !e.AgentScoped() {
			return AgentState{}, false
		}
		a := t.ensure(e.AgentID, "", "")
		if !advance(a, AgentError) {
			return AgentState{}, false
		}
		a.ErrorMessage = e.Message
		a.CompletedAt = now
		return *a, true
	}
	return AgentState{}, false
}

// Agents returns a copy of all tracked states keyed by agent id.
func (t *Tracker) Agents() map[string]AgentState {
	out := make(map[string]AgentState, len(t.agents))
	for id, a := range t.agents {
		out[id] = *a
	}
	return out
}

// SettledIDs returns ids of agents that already reached a final status, in
// observation order. Used to seed the polling driver after a stream
// fallback so their results are not replayed.
func (t *Tracker) SettledIDs() []string {
	var ids []string
	for _, id := range t.order {
		if agentRank[t.agents[id].Status] >= agentRank[AgentCompleted] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Counts returns how many agents are in each status.
func (t *Tracker) Counts() map[AgentStatus]int {
	out := make(map[AgentStatus]int, 4)
	for _, a := range t.agents {
		out[a.Status]++
	}
	return out
}
