// ABOUTME: Closed tagged union of stream events and the Stream that yields
// ABOUTME: them in decode order with exactly-one-terminal semantics.

package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/parley-sh/parley/internal/conversation"
)

// Event is one decoded unit of streaming push content. The set of
// implementations is closed: WorkingEvent, PartsEvent, DoneEvent, ErrorEvent.
type Event interface {
	isEvent()
}

// WorkingEvent signals the agent acknowledged the turn and is working,
// without content attached.
type WorkingEvent struct{}

// PartsEvent carries content parts surfaced by a status-update,
// artifact-update or message event.
type PartsEvent struct {
	Parts []conversation.Part
}

// DoneEvent is the graceful terminal event. ContextID is the first non-empty
// context identifier observed across the stream, or empty if none appeared.
type DoneEvent struct {
	ContextID string
}

// ErrorEvent is the failing terminal event for a transport failure after the
// stream started.
type ErrorEvent struct {
	Err error
}

func (WorkingEvent) isEvent() {}
func (PartsEvent) isEvent()   {}
func (DoneEvent) isEvent()    {}
func (ErrorEvent) isEvent()   {}

// Stream is one open message/stream exchange. Consume Events until the
// channel closes; exactly one terminal event (Done xor Error) arrives last
// unless the stream is cancelled, in which case the channel closes without
// one.
type Stream struct {
	events  chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	aborted atomic.Bool
	logger  *slog.Logger
}

// Events returns the ordered event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Cancel aborts the underlying transport. No further event is delivered
// after Cancel returns, even if bytes were already in flight.
func (s *Stream) Cancel() {
	s.aborted.Store(true)
	s.cancel()
}

// run reads the response body to completion, decoding blocks into events.
func (s *Stream) run() {
	defer close(s.events)
	defer s.body.Close()

	var dec blockDecoder
	var contextID string
	buf := make([]byte, 4096)

	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			for _, payload := range dec.Feed(buf[:n]) {
				s.handlePayload(payload, &contextID)
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			// A block may end with the stream instead of a blank line.
			if payload, ok := dec.Flush(); ok {
				s.handlePayload(payload, &contextID)
			}
			s.emit(DoneEvent{ContextID: contextID})
			return
		}
		if !s.aborted.Load() && s.ctx.Err() == nil {
			s.emit(ErrorEvent{Err: &NetworkError{Op: "message/stream read", Err: err}})
		}
		return
	}
}

// handlePayload decodes one block payload, unwraps a JSON-RPC envelope if
// present, and emits the matching event. Malformed payloads are logged and
// skipped; the stream continues.
func (s *Stream) handlePayload(payload string, contextID *string) {
	if strings.TrimSpace(payload) == doneSentinel {
		return
	}

	raw := []byte(payload)
	var env rpcResponse
	if err := json.Unmarshal(raw, &env); err == nil && env.JSONRPC == "2.0" && len(env.Result) > 0 {
		raw = []byte(env.Result)
	}

	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.logger.Warn("skipping malformed event block", "error", err)
		return
	}

	captureContextID(contextID, &ev)

	switch ev.Kind {
	case "status-update":
		if ev.Status == nil {
			return
		}
		switch ev.Status.State {
		case stateCompleted, stateCanceled, stateFailed:
			// Terminal task states carry no dispatch of their own; the
			// stream ending signals termination.
		case stateWorking:
			if ev.Status.Message != nil && len(ev.Status.Message.Parts) > 0 {
				s.emitParts(ev.Status.Message.Parts)
				return
			}
			s.emit(WorkingEvent{})
		default:
			s.emit(WorkingEvent{})
		}

	case "artifact-update":
		if ev.Artifact != nil {
			s.emitParts(ev.Artifact.Parts)
		}

	case "message":
		s.emitParts(ev.Parts)

	default:
		// Unrecognized kinds are ignored.
	}
}

func (s *Stream) emitParts(parts []wirePart) {
	converted := domainParts(parts)
	if len(converted) == 0 {
		return
	}
	s.emit(PartsEvent{Parts: converted})
}

// emit delivers an event unless the stream has been cancelled.
func (s *Stream) emit(ev Event) {
	if s.aborted.Load() {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// captureContextID records the first non-empty context identifier seen in a
// decoded event, checking the event itself and any nested message.
func captureContextID(contextID *string, ev *wireEvent) {
	if *contextID != "" {
		return
	}
	if ev.ContextID != "" {
		*contextID = ev.ContextID
		return
	}
	if ev.Status != nil && ev.Status.Message != nil && ev.Status.Message.ContextID != "" {
		*contextID = ev.Status.Message.ContextID
	}
}
