package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/mzoughi/stockpulse/internal/protocol"
	"github.com/mzoughi/stockpulse/internal/stream"
)

// StreamDriver observes a session over one long-lived connection, decoding
// the response body into events as chunks arrive.
type StreamDriver struct {
	client *Client
}

// NewStreamDriver creates a streaming driver backed by client.
func NewStreamDriver(client *Client) *StreamDriver {
	return &StreamDriver{client: client}
}

// Open implements Driver. Connection errors and closes surface as a final
// transport_failed event, never as a panic or an unannounced channel close.
// Cancelling ctx aborts the pending read and ends the stream silently.
func (d *StreamDriver) Open(ctx context.Context, sessionID string) (<-chan protocol.Event, <-chan error) {
	events := make(chan protocol.Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		body, err := d.client.OpenStream(ctx, sessionID)
		if err != nil {
			if KindOf(err) != KindCancelled {
				errs <- err
				d.send(ctx, events, protocol.NewTransportFailedEvent(err.Error()))
			}
			return
		}
		defer body.Close()

		dec := stream.NewDecoder(func(line string, err error) {
			log.Printf("stream %s: dropping malformed frame: %v", sessionID, err)
		})

		buf := make([]byte, 4096)
		for {
			n, readErr := body.Read(buf)
			if n > 0 {
				for _, ev := range dec.Feed(buf[:n]) {
					if !d.send(ctx, events, ev) {
						return
					}
				}
			}
			if readErr == nil {
				continue
			}

			if ctx.Err() != nil {
				// Torn down by the controller; nothing more to report.
				return
			}
			for _, ev := range dec.Flush() {
				if !d.send(ctx, events, ev) {
					return
				}
			}
			reason := "stream closed by service"
			if !errors.Is(readErr, io.EOF) {
				reason = readErr.Error()
				errs <- WrapError(fmt.Errorf("read stream: %w", readErr), KindConnection, 0)
			}
			// The controller decides whether this matters: after a terminal
			// event it is a normal close, before one it triggers fallback.
			d.send(ctx, events, protocol.NewTransportFailedEvent(reason))
			return
		}
	}()

	return events, errs
}

func (d *StreamDriver) send(ctx context.Context, events chan<- protocol.Event, ev protocol.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
