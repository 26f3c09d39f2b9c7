// Package mockfeed is an in-process stand-in for the analysis service. It
// speaks the same wire protocol (init, stream, status, health) from a
// scripted five-agent run, with optional fault injection so transport
// fallback paths can be exercised without a flaky network.
package mockfeed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

// Script controls what the feed does for every session it creates.
type Script struct {
	Agents          []protocol.AgentInfo // roster to run; defaults to protocol.Agents
	StepDelay       time.Duration        // pause between scripted events
	FinalContent    string               // consolidated result text
	ConfidenceScore float64              // overall score reported on completion
	FailMessage     string               // non-empty: the job ends failed with this message

	// Fault injection.
	DropStreamAfter int  // >0: close each stream connection after this many frames
	FailInit        bool // init requests answer 503
	FailStatus      int  // number of status requests answered 503 before recovering
}

// DefaultScript runs the full roster to a successful completion.
func DefaultScript() Script {
	return Script{
		Agents:          protocol.Agents,
		StepDelay:       200 * time.Millisecond,
		FinalContent:    "Consolidated recommendation: maintain current allocation with minor rebalancing.",
		ConfidenceScore: 0.82,
	}
}

// Feed is the mock service. Zero or more sessions run concurrently, each
// advanced by its own goroutine so the polling endpoint sees progress even
// when nobody holds a stream open.
type Feed struct {
	echo       *echo.Echo
	script     Script
	failStatus atomic.Int32

	mu   sync.Mutex
	jobs map[string]*job
}

// New builds a feed for the given script.
func New(script Script) *Feed {
	if len(script.Agents) == 0 {
		script.Agents = protocol.Agents
	}
	if script.StepDelay <= 0 {
		script.StepDelay = 10 * time.Millisecond
	}
	if script.FinalContent == "" {
		script.FinalContent = DefaultScript().FinalContent
	}

	f := &Feed{
		echo:   echo.New(),
		script: script,
		jobs:   make(map[string]*job),
	}
	f.failStatus.Store(int32(script.FailStatus))

	f.echo.HideBanner = true
	f.echo.HidePort = true
	f.echo.POST("/analyze-portfolio-stream-init", f.handleInit)
	f.echo.GET("/stream/:id", f.handleStream)
	f.echo.GET("/sessions/:id", f.handleStatus)
	f.echo.GET("/health", f.handleHealth)
	return f
}

// Handler exposes the feed as an http.Handler for httptest servers.
func (f *Feed) Handler() http.Handler { return f.echo }

// Start serves on addr until Shutdown.
func (f *Feed) Start(addr string) error { return f.echo.Start(addr) }

// Shutdown stops the HTTP server. Running jobs finish on their own.
func (f *Feed) Shutdown(ctx context.Context) error { return f.echo.Shutdown(ctx) }

func (f *Feed) lookup(id string) (*job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	return j, ok
}

func (f *Feed) handleInit(c echo.Context) error {
	if f.script.FailInit {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"detail": "service unavailable"})
	}

	var req protocol.AnalysisRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "malformed request body"})
	}
	if req.UserID <= 0 || len(req.PortfolioData) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "user_id and portfolio_data are required"})
	}

	j := newJob(uuid.NewString(), uuid.NewString(), req)
	f.mu.Lock()
	f.jobs[j.id] = j
	f.mu.Unlock()
	go j.run(f.script)

	return c.JSON(http.StatusOK, protocol.InitResponse{
		SessionID:  j.id,
		WorkflowID: j.workflowID,
		Status:     "initialized",
	})
}

func (f *Feed) handleStream(c echo.Context) error {
	j, ok := f.lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "session not found"})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	ctx := c.Request().Context()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	next := 0
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, ev := range j.eventsFrom(next) {
			next++
			data, err := protocol.MarshalEvent(ev)
			if err != nil {
				return fmt.Errorf("marshal scripted event: %w", err)
			}
			if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
				return err
			}
			if flusher, ok := c.Response().Writer.(http.Flusher); ok {
				flusher.Flush()
			}
			sent++
			if f.script.DropStreamAfter > 0 && sent >= f.script.DropStreamAfter {
				// Simulated connection loss mid-analysis.
				return nil
			}
		}

		if j.finished() && next >= j.eventCount() {
			return nil
		}
	}
}

func (f *Feed) handleStatus(c echo.Context) error {
	if f.failStatus.Add(-1) >= 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"detail": "status temporarily unavailable"})
	}

	j, ok := f.lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "session not found"})
	}
	return c.JSON(http.StatusOK, j.statusResponse())
}

func (f *Feed) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
