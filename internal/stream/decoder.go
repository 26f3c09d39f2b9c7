// Package stream turns the raw byte stream of the analysis service's
// long-lived response into an ordered sequence of typed progress events.
package stream

import (
	"bytes"
	"errors"

	"github.com/mzoughi/stockpulse/internal/protocol"
)

// framePrefix marks an event frame line; anything else on the stream
// (comments, keep-alives, blank separators) is ignored.
const framePrefix = "data:"

// DropFunc receives a diagnostic for each line that looked like a frame but
// failed to decode. The stream itself is never aborted by a bad frame.
type DropFunc func(line string, err error)

// Decoder is a pure byte-chunk → event transform. Network reads do not
// align with frame boundaries, so the trailing unterminated fragment of
// each chunk is buffered and prepended to the next one.
type Decoder struct {
	buf    []byte
	onDrop DropFunc
}

// NewDecoder creates a decoder. onDrop may be nil.
func NewDecoder(onDrop DropFunc) *Decoder {
	return &Decoder{onDrop: onDrop}
}

// Feed consumes one chunk and returns every complete event it terminated.
// Splitting a valid frame at any byte offset across two chunks yields
// exactly one event.
func (d *Decoder) Feed(chunk []byte) []protocol.Event {
	d.buf = append(d.buf, chunk...)

	var events []protocol.Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush decodes whatever is left in the buffer after the connection closes.
// A final frame the server never newline-terminated is still recovered.
func (d *Decoder) Flush() []protocol.Event {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := d.decodeLine(line); ok {
		return []protocol.Event{ev}
	}
	return nil
}

func (d *Decoder) decodeLine(line []byte) (protocol.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !bytes.HasPrefix(line, []byte(framePrefix)) {
		return nil, false
	}
	payload := bytes.TrimSpace(line[len(framePrefix):])
	if len(payload) == 0 {
		return nil, false
	}

	ev, err := protocol.DecodeEvent(payload)
	if err != nil {
		var unknown *protocol.UnknownEventTypeError
		if errors.As(err, &unknown) {
			// Newer vocabulary than ours; skip without noise.
			return nil, false
		}
		if d.onDrop != nil {
			d.onDrop(string(line), err)
		}
		return nil, false
	}
	return ev, true
}
