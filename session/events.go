package session

import "tracechat/transcript"

// EventType discriminates between session event kinds.
type EventType int

const (
	// EventTypeTurnStarted fires when a user turn is accepted and its
	// response stream is being opened.
	EventTypeTurnStarted EventType = iota
	// EventTypeText fires for each answer-text delta.
	EventTypeText
	// EventTypeTraceStep fires for each trace step appended to the turn.
	EventTypeTraceStep
	// EventTypeTurnComplete fires when the response stream ends, cleanly or
	// not.
	EventTypeTurnComplete
	// EventTypeError fires for non-fatal stream errors (dropped frames,
	// transport notices).
	EventTypeError
)

// Event is the interface for all session events.
type Event interface {
	Type() EventType
}

// TurnStartedEvent fires when a user turn is accepted.
type TurnStartedEvent struct {
	Turn *transcript.Turn
}

// Type returns the event type.
func (e TurnStartedEvent) Type() EventType { return EventTypeTurnStarted }

// TextEvent carries one answer-text delta and the turn it extended.
type TextEvent struct {
	Turn  *transcript.Turn
	Delta string
}

// Type returns the event type.
func (e TextEvent) Type() EventType { return EventTypeText }

// TraceStepEvent carries one newly appended trace step.
type TraceStepEvent struct {
	Turn *transcript.Turn
	Step transcript.TraceStep
}

// Type returns the event type.
func (e TraceStepEvent) Type() EventType { return EventTypeTraceStep }

// TurnCompleteEvent fires when the response stream for a turn ends.
// Incomplete is set when the stream died before a stream-end event; the
// turn keeps whatever text and trace accumulated. Turn is nil when the
// stream produced no agent turn at all (empty body, failure before the
// first event); the completion event still fires so consumers never wait
// forever.
type TurnCompleteEvent struct {
	Turn       *transcript.Turn
	Incomplete bool
}

// Type returns the event type.
func (e TurnCompleteEvent) Type() EventType { return EventTypeTurnComplete }

// ErrorEvent carries non-fatal stream errors.
type ErrorEvent struct {
	Err     error
	Context string
}

// Type returns the event type.
func (e ErrorEvent) Type() EventType { return EventTypeError }
