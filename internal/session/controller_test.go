package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mzoughi/stockpulse/internal/portfolio"
	"github.com/mzoughi/stockpulse/internal/protocol"
	"github.com/mzoughi/stockpulse/internal/transport"
)

func testRequest(t *testing.T, userID int) protocol.AnalysisRequest {
	t.Helper()
	req, err := portfolio.NewRequest(userID, []protocol.Position{
		{Symbol: "AAPL", Allocation: 60},
		{Symbol: "MSFT", Allocation: 40},
	}, "1M")
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return req
}

func fastPolicy() transport.PollPolicy {
	return transport.PollPolicy{
		Interval:       2 * time.Millisecond,
		MaxFailures:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// testService scripts the remote endpoints for one session id.
type testService struct {
	sessionID string
	stream    func(w http.ResponseWriter, r *http.Request)
	status    func(w http.ResponseWriter, r *http.Request)
}

func (s *testService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze-portfolio-stream-init", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.InitResponse{
			SessionID:  s.sessionID,
			WorkflowID: "w-" + s.sessionID,
			Status:     "initialized",
		})
	})
	mux.HandleFunc("/stream/", func(w http.ResponseWriter, r *http.Request) {
		if s.stream == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		s.stream(w, r)
	})
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if s.status == nil {
			http.NotFound(w, r)
			return
		}
		s.status(w, r)
	})
	return mux
}

func writeFrame(w http.ResponseWriter, ev protocol.Event) {
	data, err := protocol.MarshalEvent(ev)
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish in time")
	}
}

func TestSessionCompletesOverStream(t *testing.T) {
	svc := &testService{
		sessionID: "s-1",
		stream: func(w http.ResponseWriter, r *http.Request) {
			writeFrame(w, protocol.NewSessionStartEvent("s-1", "w-s-1", []string{"AAPL", "MSFT"}))
			writeFrame(w, protocol.NewAgentStartEvent("finance_guru", "Finance Guru", "🏦", "", 1, 2))
			writeFrame(w, protocol.NewAgentCompleteEvent("finance_guru", "Finance Guru", "🏦", "", "hold", 0.8, 900))
			writeFrame(w, protocol.NewAgentStartEvent("quant_dev", "Quant Developer", "📊", "", 2, 2))
			writeFrame(w, protocol.NewAgentCompleteEvent("quant_dev", "Quant Developer", "📊", "", "steady", 0.84, 700))
			writeFrame(w, protocol.NewFinalResultEvent("hold everything", 0.82))
			writeFrame(w, protocol.NewSessionCompleteEvent("analysis completed"))
		},
	}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := NewManager(transport.NewClient(srv.URL), WithPollPolicy(fastPolicy()))
	c, err := m.Start(context.Background(), testRequest(t, 1))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, c)

	if got := c.Status(); got != StatusCompleted {
		t.Fatalf("status = %q, want %q", got, StatusCompleted)
	}
	report, ok := c.FinalResult()
	if !ok {
		t.Fatal("completed session has no report")
	}
	if report.Content != "hold everything" || report.ConfidenceScore != 0.82 {
		t.Errorf("report = %+v", report)
	}
	if len(report.ByAgent) != 2 {
		t.Errorf("report agents = %d, want 2", len(report.ByAgent))
	}

	snap := c.Snapshot()
	if snap.WorkflowID != "w-s-1" {
		t.Errorf("workflow id = %q, want %q", snap.WorkflowID, "w-s-1")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestSessionFallsBackToPollingMidAnalysis(t *testing.T) {
	svc := &testService{
		sessionID: "s-2",
		stream: func(w http.ResponseWriter, r *http.Request) {
			// Two agents finish over the stream, then the connection dies
			// without a terminal event.
			writeFrame(w, protocol.NewSessionStartEvent("s-2", "w-s-2", nil))
			writeFrame(w, protocol.NewAgentStartEvent("finance_guru", "Finance Guru", "🏦", "", 1, 3))
			writeFrame(w, protocol.NewAgentCompleteEvent("finance_guru", "Finance Guru", "🏦", "", "hold", 0.8, 900))
			writeFrame(w, protocol.NewAgentStartEvent("quant_dev", "Quant Developer", "📊", "", 2, 3))
			writeFrame(w, protocol.NewAgentCompleteEvent("quant_dev", "Quant Developer", "📊", "", "steady", 0.84, 700))
		},
		status: func(w http.ResponseWriter, r *http.Request) {
			score := 0.8
			json.NewEncoder(w).Encode(protocol.StatusResponse{
				SessionID:       "s-2",
				Status:          protocol.RemoteStatusCompleted,
				ConfidenceScore: &score,
				AgentAnalyses: []protocol.AgentAnalysis{
					{AgentType: "finance_guru", AnalysisText: "hold", Confidence: 0.8},
					{AgentType: "quant_dev", AnalysisText: "steady", Confidence: 0.84},
					{AgentType: "legal_guru", AnalysisText: "no exposure", Confidence: 0.76},
				},
			})
		},
	}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := NewManager(transport.NewClient(srv.URL), WithPollPolicy(fastPolicy()))
	c, err := m.Start(context.Background(), testRequest(t, 1))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, c)

	if got := c.Status(); got != StatusCompleted {
		t.Fatalf("status = %q, want %q", got, StatusCompleted)
	}

	snap := c.Snapshot()
	if len(snap.Agents) != 3 {
		t.Fatalf("agents tracked = %d, want 3", len(snap.Agents))
	}
	for id, a := range snap.Agents {
		if a.Status != AgentCompleted {
			t.Errorf("agent %s status = %q, want %q", id, a.Status, AgentCompleted)
		}
	}

	// Agents that finished over the stream must not be replayed by the
	// polling driver.
	completions := make(map[string]int)
	for _, step := range snap.Steps {
		if step.Kind == StepAgentComplete {
			completions[step.AgentID]++
		}
	}
	for id, n := range completions {
		if n != 1 {
			t.Errorf("agent %s completed %d times in the step log", id, n)
		}
	}
	if len(completions) != 3 {
		t.Errorf("completions = %v, want 3 agents", completions)
	}
}

func TestSessionCancelMidStream(t *testing.T) {
	svc := &testService{
		sessionID: "s-3",
		stream: func(w http.ResponseWriter, r *http.Request) {
			writeFrame(w, protocol.NewSessionStartEvent("s-3", "w-s-3", nil))
			writeFrame(w, protocol.NewAgentStartEvent("finance_guru", "Finance Guru", "🏦", "", 1, 5))
			<-r.Context().Done()
		},
	}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := NewManager(transport.NewClient(srv.URL), WithPollPolicy(fastPolicy()))
	c, err := m.Start(context.Background(), testRequest(t, 1))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	analyzing := make(chan struct{})
	var once sync.Once
	unsub := c.Subscribe(func(snap Snapshot) {
		if a, ok := snap.Agents["finance_guru"]; ok && a.Status == AgentAnalyzing {
			once.Do(func() { close(analyzing) })
		}
	})
	defer unsub()

	select {
	case <-analyzing:
	case <-time.After(5 * time.Second):
		t.Fatal("never saw the agent start")
	}

	c.Cancel()
	waitDone(t, c)

	if got := c.Status(); got != StatusCancelled {
		t.Fatalf("status = %q, want %q", got, StatusCancelled)
	}
	if _, ok := c.FinalResult(); ok {
		t.Error("cancelled session has a final result")
	}

	// Cancelling again is a no-op.
	before := c.Snapshot()
	c.Cancel()
	after := c.Snapshot()
	if before.Status != after.Status || len(before.Steps) != len(after.Steps) {
		t.Error("second Cancel changed state")
	}
}

func TestManagerCancelsPreviousSessionForSameUser(t *testing.T) {
	svc := &testService{
		sessionID: "s-4",
		stream: func(w http.ResponseWriter, r *http.Request) {
			writeFrame(w, protocol.NewSessionStartEvent("s-4", "", nil))
			<-r.Context().Done()
		},
	}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := NewManager(transport.NewClient(srv.URL), WithPollPolicy(fastPolicy()))
	first, err := m.Start(context.Background(), testRequest(t, 7))
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := m.Start(context.Background(), testRequest(t, 7))
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitDone(t, first)

	if got := first.Status(); got != StatusCancelled {
		t.Errorf("first session status = %q, want %q", got, StatusCancelled)
	}
	active, ok := m.Active(7)
	if !ok || active != second {
		t.Error("second session is not the active one")
	}
	second.Cancel()
	waitDone(t, second)
}

func TestManagerRejectsInvalidRequest(t *testing.T) {
	m := NewManager(transport.NewClient("http://127.0.0.1:0"))
	_, err := m.Start(context.Background(), protocol.AnalysisRequest{})
	if err == nil {
		t.Fatal("empty request was accepted")
	}
}

func TestManagerPollingOnly(t *testing.T) {
	score := 0.9
	svc := &testService{
		sessionID: "s-5",
		status: func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(protocol.StatusResponse{
				SessionID:       "s-5",
				Status:          protocol.RemoteStatusCompleted,
				ConfidenceScore: &score,
				AgentAnalyses: []protocol.AgentAnalysis{
					{AgentType: "finance_guru", AnalysisText: "hold", Confidence: 0.9},
				},
			})
		},
	}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := NewManager(transport.NewClient(srv.URL), WithPollPolicy(fastPolicy()), WithPollingOnly())
	c, err := m.Start(context.Background(), testRequest(t, 1))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, c)

	if got := c.Status(); got != StatusCompleted {
		t.Fatalf("status = %q, want %q", got, StatusCompleted)
	}
	report, ok := c.FinalResult()
	if !ok {
		t.Fatal("no report")
	}
	if report.ConfidenceScore != 0.9 {
		t.Errorf("confidence = %v, want 0.9", report.ConfidenceScore)
	}
}
