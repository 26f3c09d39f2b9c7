package transport

import (
	"context"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

// Driver is the one capability both transports implement: observe a
// session's progress as a channel of normalized events. The error channel
// carries classified diagnostics; the state machine is driven entirely by
// events (transport failures arrive as transport_failed). Both channels
// close when the driver is done, and cancelling ctx tears the underlying
// connection or timer down.
type Driver interface {
	Open(ctx context.Context, sessionID string) (<-chan protocol.Event, <-chan error)
}
