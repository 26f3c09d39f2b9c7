// Package session owns the lifecycle of one tracked analysis: the state
// machine, the per-agent status tracker, the append-only step log, and the
// controller that funnels transport events into them.
package session

import "time"

// Status is the session lifecycle state. Completed, Failed and Cancelled
// are terminal and absorbing.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusStreaming  Status = "streaming"
	StatusPolling    Status = "polling"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// AgentStatus is one worker's progress. It only ever advances:
// Pending → Analyzing → {Completed, Error}.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentAnalyzing AgentStatus = "analyzing"
	AgentCompleted AgentStatus = "completed"
	AgentError     AgentStatus = "error"
)

// agentRank orders statuses so transitions can be checked for regression.
// Completed and Error share the top rank; neither replaces the other.
var agentRank = map[AgentStatus]int{
	AgentPending:   0,
	AgentAnalyzing: 1,
	AgentCompleted: 2,
	AgentError:     2,
}

// AgentState is one worker's tracked state.
type AgentState struct {
	ID           string
	DisplayName  string
	Icon         string
	Status       AgentStatus
	AnalysisText string
	Confidence   float64
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// StepKind tags a step log entry.
type StepKind string

const (
	StepUserMessage   StepKind = "user_message"
	StepSystemMessage StepKind = "system_message"
	StepAgentStart    StepKind = "agent_start"
	StepAgentThinking StepKind = "agent_thinking"
	StepAgentComplete StepKind = "agent_complete"
	StepFinalResult   StepKind = "final_result"
)

// Step is one entry of the append-only audit log. Timestamp is assigned at
// application time, so the log is non-decreasing in arrival order.
type Step struct {
	Kind         StepKind
	Timestamp    time.Time
	Content      string
	AgentID      string
	AnalysisText string
	Confidence   float64
}

// AgentFinding is one worker's contribution inside the final report.
type AgentFinding struct {
	DisplayName string
	Analysis    string
	Confidence  float64
}

// Report is the consolidated result, created once when the session reaches
// Completed and never partially overwritten.
type Report struct {
	Content         string
	ConfidenceScore float64
	ByAgent         map[string]AgentFinding
	CreatedAt       time.Time
}

// Snapshot is an immutable copy of the session exposed to subscribers.
type Snapshot struct {
	SessionID     string
	WorkflowID    string
	Status        Status
	StartedAt     time.Time
	CompletedAt   time.Time
	FailureReason string
	Agents        map[string]AgentState
	Steps         []Step
	FinalResult   *Report
}
