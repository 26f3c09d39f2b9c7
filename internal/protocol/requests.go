package protocol

// Position is one holding inside an analysis request.
type Position struct {
	Symbol     string  `json:"symbol"`
	Allocation float64 `json:"allocation"`
}

// AnalysisRequest is the payload of the init endpoint. Immutable once
// submitted.
type AnalysisRequest struct {
	UserID        int        `json:"user_id"`
	PortfolioData []Position `json:"portfolio_data"`
	TimeFrequency string     `json:"time_frequency"`
	AnalysisType  string     `json:"analysis_type"`
}

// InitResponse is the init endpoint's answer; SessionID keys the stream and
// status endpoints.
type InitResponse struct {
	SessionID  string `json:"session_id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// Session statuses reported by the status endpoint.
const (
	RemoteStatusPending    = "pending"
	RemoteStatusProcessing = "processing"
	RemoteStatusCompleted  = "completed"
	RemoteStatusFailed     = "failed"
)

// AgentAnalysis is one worker's finished analysis as reported by the status
// endpoint.
type AgentAnalysis struct {
	AgentType        string  `json:"agent_type"`
	AgentName        string  `json:"agent_name"`
	AnalysisText     string  `json:"analysis_text"`
	Confidence       float64 `json:"confidence,omitempty"`
	ProcessingTimeMs int     `json:"processing_time_ms,omitempty"`
}

// StatusResponse is the status endpoint's answer, used by the polling
// driver. AgentAnalyses and ConfidenceScore may be partial while the job is
// still processing.
type StatusResponse struct {
	SessionID       string          `json:"session_id"`
	Status          string          `json:"status"`
	ConfidenceScore *float64        `json:"confidence_score,omitempty"`
	AgentAnalyses   []AgentAnalysis `json:"agent_analyses,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
	CreatedAt       string          `json:"created_at,omitempty"`
	CompletedAt     string          `json:"completed_at,omitempty"`
}

// Terminal reports whether the remote status admits no further progress.
func (r StatusResponse) Terminal() bool {
	return r.Status == RemoteStatusCompleted || r.Status == RemoteStatusFailed
}
