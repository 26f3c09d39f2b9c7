package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/mzoughi/stockpulse/internal/portfolio"
	"github.com/mzoughi/stockpulse/internal/protocol"
	"github.com/mzoughi/stockpulse/internal/transport"
)

// Option configures a Manager.
type Option func(*Manager)

// WithPollPolicy overrides the polling fallback policy.
func WithPollPolicy(p transport.PollPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithPollingOnly skips the streaming driver and polls from the start.
func WithPollingOnly() Option {
	return func(m *Manager) { m.pollOnly = true }
}

// Manager starts sessions and enforces one live session per requester:
// starting a new analysis for a user whose previous session is still
// running cancels the old one first.
type Manager struct {
	client   *transport.Client
	policy   transport.PollPolicy
	pollOnly bool

	mu     sync.Mutex
	active map[int]*Controller
}

func NewManager(client *transport.Client, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		policy: transport.DefaultPollPolicy(),
		active: make(map[int]*Controller),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start validates the request, performs the init handshake and launches
// the session goroutine. A handshake failure means no remote session
// exists, so it is returned as an error rather than a failed session.
func (m *Manager) Start(ctx context.Context, req protocol.AnalysisRequest) (*Controller, error) {
	if err := portfolio.Validate(req); err != nil {
		return nil, fmt.Errorf("invalid analysis request: %w", err)
	}

	m.mu.Lock()
	if prev, ok := m.active[req.UserID]; ok {
		select {
		case <-prev.Done():
		default:
			prev.Cancel()
		}
	}
	m.mu.Unlock()

	init, err := m.client.Init(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("session init: %w", err)
	}

	c := newController(ctx, m.client, m.policy, init.SessionID, init.WorkflowID)

	m.mu.Lock()
	m.active[req.UserID] = c
	m.mu.Unlock()

	go c.run(m.pollOnly)
	return c, nil
}

// Active returns the tracked session for a requester, if any.
func (m *Manager) Active(userID int) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[userID]
	return c, ok
}

// CancelAll cancels every tracked session. Terminal sessions are
// unaffected.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.active {
		c.Cancel()
	}
}
