package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mzoughi/stockpulse/internal/protocol"
	"github.com/mzoughi/stockpulse/internal/transport"
)

// SubscribeFunc receives a fresh snapshot after every state change.
// Callbacks run on the session's own goroutine, so they must not block.
type SubscribeFunc func(Snapshot)

// Controller drives one analysis session. A single goroutine consumes the
// active driver's channels and folds events into the reducer, so state
// mutation is serialized; all accessors hand out copies under a mutex.
type Controller struct {
	id     string
	client *transport.Client
	policy transport.PollPolicy

	ctx        context.Context
	cancelCtx  context.CancelFunc
	cancelOnce sync.Once

	mu      sync.Mutex
	state   *State
	subs    map[int]SubscribeFunc
	nextSub int
	err     error

	done chan struct{}
}

func newController(ctx context.Context, client *transport.Client, policy transport.PollPolicy, sessionID, workflowID string) *Controller {
	runCtx, cancel := context.WithCancel(ctx)
	st := NewState(sessionID, time.Now())
	st.WorkflowID = workflowID
	return &Controller{
		id:        sessionID,
		client:    client,
		policy:    policy,
		ctx:       runCtx,
		cancelCtx: cancel,
		state:     st,
		subs:      make(map[int]SubscribeFunc),
		done:      make(chan struct{}),
	}
}

// ID returns the service-assigned session id.
func (c *Controller) ID() string { return c.id }

// Done is closed when the session reaches a terminal state and its
// transport is torn down.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Err returns the first transport error observed, if any. A session can
// still complete successfully after transient errors.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

// Snapshot returns a deep copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// FinalResult returns the report, or false while the session is not
// Completed.
func (c *Controller) FinalResult() (*Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusCompleted || c.state.Final == nil {
		return nil, false
	}
	snap := c.state.Snapshot()
	return snap.FinalResult, true
}

// Cancel requests cancellation. It is idempotent, and a no-op once the
// session is terminal.
func (c *Controller) Cancel() {
	c.cancelOnce.Do(c.cancelCtx)
}

// Subscribe registers a callback and immediately delivers the current
// snapshot so the subscriber does not miss state it joined after.
// The returned function unsubscribes.
func (c *Controller) Subscribe(fn SubscribeFunc) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	snap := c.state.Snapshot()
	c.mu.Unlock()

	fn(snap)
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// run consumes drivers until a terminal state. startPolling skips the
// streaming attempt entirely.
func (c *Controller) run(startPolling bool) {
	defer close(c.done)
	defer c.cancelCtx()

	var driver transport.Driver
	if startPolling {
		c.setTransport(StatusPolling)
		driver = transport.NewPollDriver(c.client, c.policy, nil)
	} else {
		c.setTransport(StatusStreaming)
		driver = transport.NewStreamDriver(c.client)
	}

	driverCtx, cancelDriver := context.WithCancel(c.ctx)
	defer func() { cancelDriver() }()
	events, errs := driver.Open(driverCtx, c.id)

	for {
		select {
		case <-c.ctx.Done():
			cancelDriver()
			c.applyLocal(protocol.NewCancelledEvent("cancelled by caller"))
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				break
			}
			// The caller may have cancelled while events were already
			// queued; those must not be applied.
			if c.ctx.Err() != nil {
				cancelDriver()
				c.applyLocal(protocol.NewCancelledEvent("cancelled by caller"))
				return
			}
			out := c.apply(ev)
			if out.Terminal {
				cancelDriver()
				return
			}
			if out.FallbackToPolling {
				cancelDriver()
				seed := c.settledAgents()
				c.setTransport(StatusPolling)
				driverCtx, cancelDriver = context.WithCancel(c.ctx)
				events, errs = transport.NewPollDriver(c.client, c.policy, seed).Open(driverCtx, c.id)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				break
			}
			c.noteErr(err)
		}

		if events == nil && errs == nil {
			// The driver went away without a terminal event. Treat it as
			// a transport failure so the reducer decides what is next.
			out := c.apply(protocol.NewTransportFailedEvent("event stream ended unexpectedly"))
			if out.Terminal {
				cancelDriver()
				return
			}
			if out.FallbackToPolling {
				cancelDriver()
				seed := c.settledAgents()
				c.setTransport(StatusPolling)
				driverCtx, cancelDriver = context.WithCancel(c.ctx)
				events, errs = transport.NewPollDriver(c.client, c.policy, seed).Open(driverCtx, c.id)
			}
		}
	}
}

// apply folds one event and notifies subscribers on change.
func (c *Controller) apply(ev protocol.Event) Outcome {
	c.mu.Lock()
	out := c.state.Apply(ev, time.Now())
	var snap Snapshot
	var fns []SubscribeFunc
	if out.Changed {
		snap = c.state.Snapshot()
		fns = c.subscribers()
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	return out
}

// applyLocal applies a client-synthesized event, ignoring the outcome.
func (c *Controller) applyLocal(ev protocol.Event) {
	c.apply(ev)
}

func (c *Controller) setTransport(status Status) {
	c.mu.Lock()
	if c.state.Status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state.Status = status
	snap := c.state.Snapshot()
	fns := c.subscribers()
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// subscribers copies the callback set; callers hold c.mu.
func (c *Controller) subscribers() []SubscribeFunc {
	fns := make([]SubscribeFunc, 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	return fns
}

func (c *Controller) settledAgents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Tracker.SettledIDs()
}

func (c *Controller) noteErr(err error) {
	if err == nil {
		return
	}
	log.Printf("session %s: transport error: %v", c.id, err)
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}
