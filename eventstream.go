package netpro

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// SSE Events
// ============================================================================

// DefaultMaxBufferSize caps how much of an unterminated event-stream line
// the parser will hold before discarding it.
const DefaultMaxBufferSize = 1 << 20

// Event is a single Server-Sent Event flushed from the stream.
type Event struct {
	// ID is the value of the event's id field, empty when absent.
	ID string

	// Type is the value of the event field, "message" when absent.
	Type string

	// Data holds the data field lines in input order, joined with "\n".
	Data string

	// Retry is the server's reconnection-delay hint, zero when absent.
	Retry time.Duration

	// Timestamp records when the event was flushed by the parser.
	Timestamp time.Time
}

// ============================================================================
// EventStreamParser
// ============================================================================

// EventStreamParser turns arbitrarily chunked bytes of an SSE stream into
// Events. It performs no I/O; callers feed it whatever the transport
// produced and collect completed events. Splitting the input differently
// never changes the events that come out.
//
// A parser carries the partial line and partially accumulated event
// between Feed calls, so one parser serves exactly one stream.
type EventStreamParser struct {
	maxBuf int
	buf    []byte // unterminated tail of the input

	// accumulator for the event being built
	eventType string
	dataLines []string
	id        string
	retry     time.Duration
}

// NewEventStreamParser returns a parser whose unterminated-line buffer is
// capped at maxBufferSize bytes. Zero or negative selects
// DefaultMaxBufferSize.
func NewEventStreamParser(maxBufferSize int) *EventStreamParser {
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}
	return &EventStreamParser{maxBuf: maxBufferSize}
}

// Feed appends chunk to the stream and returns the events completed by it,
// in stream order. When a line outgrows the buffer cap the buffered
// partial data is discarded and Feed reports ErrParseBufferOverflow along
// with any events completed earlier in the chunk; the stream remains
// usable and later chunks parse normally.
func (p *EventStreamParser) Feed(chunk []byte) ([]Event, error) {
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := string(p.buf[:i])
		p.buf = p.buf[i+1:]
		line = strings.TrimSuffix(line, "\r")

		if ev, ok := p.consumeLine(line); ok {
			events = append(events, ev)
		}
	}

	if len(p.buf) > p.maxBuf {
		p.buf = nil
		return events, ErrParseBufferOverflow
	}
	return events, nil
}

// consumeLine folds one complete line into the accumulator. A blank line
// flushes the accumulated event when it has non-empty data and resets the
// accumulator either way.
func (p *EventStreamParser) consumeLine(line string) (Event, bool) {
	if line == "" {
		ev, ok := p.flush()
		p.resetAccumulator()
		return ev, ok
	}
	if strings.HasPrefix(line, ":") {
		return Event{}, false
	}

	field, value := splitField(line)
	switch field {
	case "event":
		p.eventType = value
	case "data":
		p.dataLines = append(p.dataLines, value)
	case "id":
		p.id = value
	case "retry":
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			p.retry = time.Duration(ms) * time.Millisecond
		}
	default:
		// Unknown fields are ignored per the SSE wire format.
	}
	return Event{}, false
}

func (p *EventStreamParser) flush() (Event, bool) {
	data := strings.Join(p.dataLines, "\n")
	if data == "" {
		return Event{}, false
	}
	typ := p.eventType
	if typ == "" {
		typ = "message"
	}
	return Event{
		ID:        p.id,
		Type:      typ,
		Data:      data,
		Retry:     p.retry,
		Timestamp: time.Now(),
	}, true
}

func (p *EventStreamParser) resetAccumulator() {
	p.eventType = ""
	p.dataLines = nil
	p.id = ""
	p.retry = 0
}

// splitField divides a field line at the first colon. Without a colon the
// whole line is the field name and the value is empty; with one, at most a
// single leading space is stripped from the value.
func splitField(line string) (field, value string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, ""
	}
	field, value = line[:i], line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
