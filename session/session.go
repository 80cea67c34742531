// Package session manages a chat conversation: the ordered turn list, the
// single in-flight response stream, and the event surface consumers watch.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"tracechat/protocol"
	"tracechat/transcript"
	"tracechat/transport"
)

// Sentinel errors for common error conditions.
var (
	ErrTurnInFlight  = errors.New("a turn is already in flight")
	ErrSessionClosed = errors.New("session is closed")
)

// Session owns one conversation. It serializes turns: a new user message is
// refused while a prior response stream is still open, and the turn list is
// mutated only by the stream read loop.
type Session struct {
	id     string
	source transport.Source
	config Config
	events chan Event

	mu         sync.Mutex
	turns      []*transcript.Turn
	inFlight   bool
	closed     bool
	streamDone chan struct{}
	result     *transcript.Turn
}

// New creates a session reading response streams from source.
func New(source transport.Source, opts ...Option) *Session {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Session{
		id:     uuid.NewString(),
		source: source,
		config: config,
		events: make(chan Event, config.EventBufferSize),
	}
}

// ID returns the session identifier sent with every turn request.
func (s *Session) ID() string { return s.id }

// Events returns a read-only channel for receiving session events. Events
// are dropped when the channel is full; consumers needing the full record
// read the turn list instead.
func (s *Session) Events() <-chan Event { return s.events }

// Turns returns a snapshot of the turn list. Earlier turns are immutable
// history; the last turn may still be receiving stream events.
func (s *Session) Turns() []*transcript.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transcript.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Send submits a user message and starts reading its response stream. It
// returns ErrTurnInFlight while a prior stream is still open: the session
// serializes turns, one open stream at a time.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.inFlight {
		s.mu.Unlock()
		return ErrTurnInFlight
	}

	userTurn := transcript.NewUserTurn(text)
	s.turns = append(s.turns, userTurn)
	s.inFlight = true
	streamDone := make(chan struct{})
	s.streamDone = streamDone
	s.result = nil
	s.mu.Unlock()

	s.emit(TurnStartedEvent{Turn: userTurn})
	s.record(userTurn)

	body, err := s.source.Open(ctx, transport.TurnRequest{
		SessionID: s.id,
		AgentID:   s.config.AgentID,
		Message:   text,
	})
	if err != nil {
		s.mu.Lock()
		s.inFlight = false
		s.streamDone = nil
		s.mu.Unlock()
		close(streamDone)
		return err
	}

	go s.stream(body, streamDone)
	return nil
}

// Wait blocks until the in-flight response stream closes and returns the
// agent turn it produced (nil when the stream produced no turn). It returns
// immediately when no stream is open.
func (s *Session) Wait(ctx context.Context) (*transcript.Turn, error) {
	s.mu.Lock()
	streamDone := s.streamDone
	s.mu.Unlock()
	if streamDone == nil {
		return nil, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-streamDone:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, nil
}

// Ask sends a message and blocks until its response stream closes.
func (s *Session) Ask(ctx context.Context, text string) (*transcript.Turn, error) {
	if err := s.Send(ctx, text); err != nil {
		return nil, err
	}
	return s.Wait(ctx)
}

// Clear resets the turn list. It is refused while a stream is open; the
// turn list has a single writer for the duration of stream processing.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.turns = nil
	return nil
}

// Close shuts the session down. In-flight streams are abandoned; cancel
// their context (or close their body) to stop them promptly.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	return nil
}

// stream is the read loop for one response stream: source bytes through the
// frame decoder, the event interpreter, and the transcript reducer, in
// strict arrival order.
func (s *Session) stream(body io.ReadCloser, streamDone chan struct{}) {
	defer close(streamDone)
	defer body.Close()

	reducer := transcript.NewReducer(s.appendTurn)
	decoder := &protocol.FrameDecoder{}
	completed := false

	buf := make([]byte, s.config.ReadBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, frame := range decoder.Feed(string(buf[:n])) {
				if res, ok := s.handleFrame(reducer, frame); ok && res.Finalized {
					completed = true
					s.finishTurn(res.Turn, false)
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("response stream failed", "error", err)
				s.emit(ErrorEvent{Err: err, Context: "read_stream"})
			}
			break
		}
	}

	if decoder.Pending() {
		// A dangling partial frame at end of stream is not a valid message.
		slog.Debug("discarding partial frame at end of stream")
	}

	if !completed {
		// No stream-end event arrived: seal whatever accumulated as an
		// incomplete turn rather than losing it. The completion event fires
		// even when the stream produced no turn at all, so consumers waiting
		// on it never wedge.
		s.finishTurn(reducer.Abort(), true)
	}

	s.mu.Lock()
	s.inFlight = false
	s.streamDone = nil
	s.mu.Unlock()
}

// handleFrame interprets one frame and folds it into the transcript. A
// malformed frame is dropped and logged; the stream continues.
func (s *Session) handleFrame(reducer *transcript.Reducer, frame string) (transcript.ApplyResult, bool) {
	ev, err := protocol.ParseEvent(frame)
	if err != nil {
		slog.Warn("dropping malformed frame", "error", err)
		s.emit(ErrorEvent{Err: err, Context: "parse_event"})
		return transcript.ApplyResult{}, false
	}
	if ev == nil {
		return transcript.ApplyResult{}, false
	}

	res := reducer.Apply(ev)
	if res.Turn == nil {
		return res, true
	}

	switch {
	case res.Finalized:
		// finishTurn emits the completion event.
	case res.Step != nil:
		s.emit(TraceStepEvent{Turn: res.Turn, Step: *res.Step})
	default:
		s.emit(TextEvent{Turn: res.Turn, Delta: res.Delta})
	}
	return res, true
}

func (s *Session) appendTurn(turn *transcript.Turn) {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
}

func (s *Session) finishTurn(turn *transcript.Turn, incomplete bool) {
	s.mu.Lock()
	s.result = turn
	s.mu.Unlock()

	s.record(turn)
	s.emit(TurnCompleteEvent{Turn: turn, Incomplete: incomplete})
}

// record persists a turn when a history store is attached. Store failures
// never fail the turn.
func (s *Session) record(turn *transcript.Turn) {
	if s.config.History == nil || turn == nil {
		return
	}
	if err := s.config.History.SaveTurn(s.id, turn); err != nil {
		slog.Warn("saving turn to history failed", "turn", turn.ID, "error", err)
		s.emit(ErrorEvent{Err: err, Context: "save_history"})
	}
}

// emit sends an event to the events channel, dropping it when the session
// is closed or the consumer has fallen behind. The mutex serializes the
// non-blocking send against Close so the channel is never sent on after it
// closes.
func (s *Session) emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		// Channel full, drop event.
	}
}
