package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

// PollDriver observes a session by fetching the status endpoint on a fixed
// interval and translating each response into the stream event vocabulary,
// so the controller never special-cases the active transport.
type PollDriver struct {
	client *Client
	policy PollPolicy

	// seen holds agent ids already reported to the controller, seeded at
	// construction when polling takes over from a broken stream so applied
	// steps are not replayed.
	seen       map[string]bool
	lastStatus string
}

// NewPollDriver creates a polling driver. seedAgents lists agent ids whose
// completion was already observed on a previous transport.
func NewPollDriver(client *Client, policy PollPolicy, seedAgents []string) *PollDriver {
	seen := make(map[string]bool, len(seedAgents))
	for _, id := range seedAgents {
		seen[id] = true
	}
	if policy.Interval <= 0 {
		policy = DefaultPollPolicy()
	}
	return &PollDriver{client: client, policy: policy, seen: seen}
}

// Open implements Driver. The loop stops on a terminal status, on ctx
// cancellation, or after the policy's consecutive-failure budget is spent
// (emitting transport_failed); it never polls unbounded in the background.
func (d *PollDriver) Open(ctx context.Context, sessionID string) (<-chan protocol.Event, <-chan error) {
	events := make(chan protocol.Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		failures := 0
		delay := time.Duration(0) // first poll is immediate
		timer := time.NewTimer(delay)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			status, err := d.client.Status(ctx, sessionID)
			if err != nil {
				if KindOf(err) == KindCancelled {
					return
				}
				failures++
				if failures > d.policy.MaxFailures || !IsRetryable(err) {
					errs <- WrapError(fmt.Errorf("polling exhausted after %d failures: %w", failures, err), KindExhausted, 0)
					d.send(ctx, events, protocol.NewTransportFailedEvent(err.Error()))
					return
				}
				timer.Reset(d.policy.backoff(failures))
				continue
			}
			failures = 0

			for _, ev := range d.normalize(status) {
				if !d.send(ctx, events, ev) {
					return
				}
			}
			if status.Terminal() {
				return
			}
			timer.Reset(d.policy.Interval)
		}
	}()

	return events, errs
}

// normalize translates one status response into the events a stream would
// have produced for the same progress, emitting each exactly once.
func (d *PollDriver) normalize(status protocol.StatusResponse) []protocol.Event {
	var out []protocol.Event

	if status.Status != d.lastStatus {
		d.lastStatus = status.Status
		out = append(out, protocol.NewStatusUpdateEvent(status.Status, ""))
	}

	for _, a := range status.AgentAnalyses {
		if d.seen[a.AgentType] {
			continue
		}
		d.seen[a.AgentType] = true
		info, _ := protocol.AgentByID(a.AgentType)
		name := a.AgentName
		if name == "" {
			name = info.Name
		}
		out = append(out,
			protocol.NewAgentStartEvent(a.AgentType, name, info.Icon, "", 0, 0),
			protocol.NewAgentCompleteEvent(a.AgentType, name, info.Icon, "", a.AnalysisText, a.Confidence, a.ProcessingTimeMs),
		)
	}

	switch status.Status {
	case protocol.RemoteStatusCompleted:
		score := 0.0
		if status.ConfidenceScore != nil {
			score = *status.ConfidenceScore
		}
		out = append(out,
			protocol.NewFinalResultEvent("analysis completed", score),
			protocol.NewSessionCompleteEvent("analysis completed"),
		)
	case protocol.RemoteStatusFailed:
		msg := "analysis failed"
		if len(status.Errors) > 0 {
			msg = strings.Join(status.Errors, "; ")
		}
		out = append(out, protocol.NewErrorEvent(msg))
	}

	return out
}

func (d *PollDriver) send(ctx context.Context, events chan<- protocol.Event, ev protocol.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
