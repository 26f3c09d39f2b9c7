package mockfeed

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

// job is one scripted analysis run. Its goroutine appends events and
// status updates; the stream and status handlers only read.
type job struct {
	id         string
	workflowID string
	request    protocol.AnalysisRequest
	createdAt  time.Time

	mu          sync.Mutex
	events      []protocol.Event
	status      string
	analyses    []protocol.AgentAnalysis
	confidence  *float64
	errors      []string
	completedAt string
}

func newJob(id, workflowID string, req protocol.AnalysisRequest) *job {
	return &job{
		id:         id,
		workflowID: workflowID,
		request:    req,
		createdAt:  time.Now(),
		status:     protocol.RemoteStatusPending,
	}
}

func (j *job) append(ev protocol.Event) {
	j.mu.Lock()
	j.events = append(j.events, ev)
	j.mu.Unlock()
}

func (j *job) eventsFrom(i int) []protocol.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	if i >= len(j.events) {
		return nil
	}
	out := make([]protocol.Event, len(j.events)-i)
	copy(out, j.events[i:])
	return out
}

func (j *job) eventCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

func (j *job) finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status == protocol.RemoteStatusCompleted || j.status == protocol.RemoteStatusFailed
}

func (j *job) setStatus(status string) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

func (j *job) symbols() []string {
	syms := make([]string, len(j.request.PortfolioData))
	for i, p := range j.request.PortfolioData {
		syms[i] = p.Symbol
	}
	return syms
}

func (j *job) statusResponse() protocol.StatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()

	analyses := make([]protocol.AgentAnalysis, len(j.analyses))
	copy(analyses, j.analyses)
	resp := protocol.StatusResponse{
		SessionID:     j.id,
		Status:        j.status,
		AgentAnalyses: analyses,
		CreatedAt:     j.createdAt.UTC().Format(time.RFC3339),
		CompletedAt:   j.completedAt,
	}
	if j.confidence != nil {
		score := *j.confidence
		resp.ConfidenceScore = &score
	}
	if len(j.errors) > 0 {
		resp.Errors = append(resp.Errors, j.errors...)
	}
	return resp
}

// cannedAnalysis returns deterministic per-agent text so tests can assert
// on content.
func cannedAnalysis(agentID string, symbols []string) string {
	basket := strings.Join(symbols, ", ")
	switch agentID {
	case "finance_guru":
		return fmt.Sprintf("Fundamentals for %s look stable; earnings coverage is adequate.", basket)
	case "geopolitics_guru":
		return fmt.Sprintf("No material geopolitical exposure detected for %s.", basket)
	case "legal_guru":
		return fmt.Sprintf("No pending litigation or regulatory actions affecting %s.", basket)
	case "quant_dev":
		return fmt.Sprintf("Volatility metrics for %s are within one standard deviation of the sector mean.", basket)
	case "financial_analyst":
		return fmt.Sprintf("Consensus estimates for %s suggest a hold with modest upside.", basket)
	default:
		return fmt.Sprintf("Analysis of %s complete.", basket)
	}
}

// run drives the scripted lifecycle: session_start, one start/thinking/
// complete triple per agent, then either failure or the final result pair.
func (j *job) run(s Script) {
	syms := j.symbols()
	total := len(s.Agents)

	j.append(protocol.NewSessionStartEvent(j.id, j.workflowID, syms))
	j.append(protocol.NewUserMessageEvent(fmt.Sprintf("Analyze portfolio: %s", strings.Join(syms, ", "))))
	j.append(protocol.NewStatusUpdateEvent(protocol.RemoteStatusProcessing, "starting multi-agent analysis"))
	j.setStatus(protocol.RemoteStatusProcessing)

	var sum float64
	for i, agent := range s.Agents {
		time.Sleep(s.StepDelay)
		j.append(protocol.NewAgentStartEvent(agent.ID, agent.Name, agent.Icon,
			fmt.Sprintf("%s is analyzing your portfolio...", agent.Name), i+1, total))
		j.append(protocol.NewAgentThinkingEvent(agent.ID, agent.Description))

		time.Sleep(s.StepDelay)
		confidence := 0.7 + 0.05*float64(i%4)
		sum += confidence
		analysis := cannedAnalysis(agent.ID, syms)
		j.append(protocol.NewAgentCompleteEvent(agent.ID, agent.Name, agent.Icon,
			fmt.Sprintf("%s finished", agent.Name), analysis, confidence, int(s.StepDelay/time.Millisecond)))

		j.mu.Lock()
		j.analyses = append(j.analyses, protocol.AgentAnalysis{
			AgentType:        agent.ID,
			AgentName:        agent.Name,
			AnalysisText:     analysis,
			Confidence:       confidence,
			ProcessingTimeMs: int(s.StepDelay / time.Millisecond),
		})
		j.mu.Unlock()
	}

	if s.FailMessage != "" {
		j.append(protocol.NewErrorEvent(s.FailMessage))
		j.mu.Lock()
		j.status = protocol.RemoteStatusFailed
		j.errors = append(j.errors, s.FailMessage)
		j.completedAt = time.Now().UTC().Format(time.RFC3339)
		j.mu.Unlock()
		return
	}

	score := s.ConfidenceScore
	if score <= 0 && total > 0 {
		score = sum / float64(total)
	}
	j.append(protocol.NewFinalResultEvent(s.FinalContent, score))
	j.append(protocol.NewSessionCompleteEvent("analysis completed"))
	j.mu.Lock()
	j.status = protocol.RemoteStatusCompleted
	j.confidence = &score
	j.completedAt = time.Now().UTC().Format(time.RFC3339)
	j.mu.Unlock()
}
