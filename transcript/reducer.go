package transcript

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tracechat/protocol"
)

// Reducer folds the interpreted events of one response stream into the
// agent turn receiving it. One reducer serves exactly one stream: its state
// is created fresh at stream start and sealed by the stream-end event (or
// by Abort when the stream dies early).
//
// The highest assigned step index is explicit state rather than something
// recomputed from the trace, so applying a sequence of events is a plain
// deterministic fold.
type Reducer struct {
	open     *Turn
	lastStep int
	sealed   bool
	onCreate func(*Turn)
}

// NewReducer returns a reducer for one stream. onCreate, when non-nil, is
// invoked the moment the agent turn is created lazily; the session uses it
// to append the turn to its list.
func NewReducer(onCreate func(*Turn)) *Reducer {
	return &Reducer{onCreate: onCreate}
}

// ApplyResult describes the effect of folding one event.
type ApplyResult struct {
	// Turn is the turn the event affected; nil when the event changed
	// nothing (duplicate step, end with no open turn, event after seal).
	Turn *Turn
	// Delta is the text fragment appended by a chunk event.
	Delta string
	// Step is the trace step appended by a trace event.
	Step *TraceStep
	// Created reports that this event created the agent turn.
	Created bool
	// Finalized reports that this event sealed the turn.
	Finalized bool
	// Duplicate reports that a trace event was discarded as a redelivery.
	Duplicate bool
}

// Open returns the turn currently receiving stream events, or nil.
func (r *Reducer) Open() *Turn { return r.open }

// Sealed reports whether the stream has been finalized or aborted.
func (r *Reducer) Sealed() bool { return r.sealed }

// Apply folds one event into the transcript state.
//
// Anomalies (events after stream end, an end event with no open turn, a
// step index that breaks monotonic assignment) are logged and degraded
// gracefully rather than returned as errors: the visible transcript never
// disappears because of a backend quirk.
func (r *Reducer) Apply(ev protocol.Event) ApplyResult {
	if r.sealed {
		slog.Warn("event received after stream end", "type", ev.EventType())
		return ApplyResult{}
	}

	switch e := ev.(type) {
	case protocol.TextDeltaEvent:
		return r.applyDelta(e)
	case protocol.TraceEvent:
		return r.applyTrace(e)
	case protocol.StreamEndEvent:
		return r.applyEnd(e)
	default:
		slog.Warn("skipping unhandled event", "type", ev.EventType())
		return ApplyResult{}
	}
}

// Abort seals the open turn as incomplete. It is the well-defined end state
// for a stream that closed without an end event: accumulated text and trace
// stay visible, the trailing placeholder stays in place, and ExpandTrace is
// left as-is. Safe to call when no turn was ever created.
func (r *Reducer) Abort() *Turn {
	if r.sealed {
		return nil
	}
	r.sealed = true
	if r.open == nil {
		return nil
	}
	turn := r.open
	turn.Incomplete = true
	r.open = nil
	return turn
}

func (r *Reducer) applyDelta(e protocol.TextDeltaEvent) ApplyResult {
	created := false
	if r.open == nil {
		// First sign of the response is answer text: install a lone
		// placeholder so the trace view can signal that reasoning detail is
		// still on its way.
		r.create([]TraceStep{newPlaceholder()})
		created = true
	}
	r.open.Text += e.Data
	return ApplyResult{Turn: r.open, Delta: e.Data, Created: created}
}

func (r *Reducer) applyTrace(e protocol.TraceEvent) ApplyResult {
	created := false
	if r.open == nil {
		r.create(nil)
		created = true
	}
	turn := r.open

	step := r.lastStep + 1
	if e.Step != nil {
		step = *e.Step
		if step <= r.lastStep {
			slog.Warn("trace step breaks monotonic ordering, applying anyway",
				"step", step, "last_step", r.lastStep)
		}
	}

	candidate := TraceStep{
		Kind:  stepKind(e.Kind),
		Step:  step,
		Agent: e.Agent,
	}
	if candidate.Agent == "" {
		candidate.Agent = UnknownAgent
	}
	switch e.Kind {
	case protocol.EventTypeTool:
		candidate.ToolName = e.ToolName
		if candidate.ToolName == "" {
			candidate.ToolName = e.APIPath
		}
		candidate.InvocationType = e.ExecutionType
	case protocol.EventTypeCollaborator:
		candidate.TargetAgent = e.Agent
		candidate.Text = e.Text
	default:
		candidate.Text = e.Text
	}

	for _, existing := range turn.Trace {
		if existing.duplicates(candidate) {
			return ApplyResult{Duplicate: true}
		}
	}

	if step > r.lastStep {
		r.lastStep = step
	}

	// The placeholder always trails the latest real step: remove it, append
	// the step, re-append a fresh one.
	turn.stripPlaceholders()
	turn.Trace = append(turn.Trace, candidate)
	turn.Trace = append(turn.Trace, newPlaceholder())
	turn.ExpandTrace = true

	appended := candidate
	return ApplyResult{Turn: turn, Step: &appended, Created: created}
}

func (r *Reducer) applyEnd(e protocol.StreamEndEvent) ApplyResult {
	created := false
	if r.open == nil {
		// The stream produced nothing but an end event carrying a final
		// message: that is still a complete answer, so create the turn for
		// it. An end with no content at all is a protocol violation.
		if e.FinalMessage == "" && len(e.Images) == 0 {
			slog.Warn("stream end received with no open turn")
			r.sealed = true
			return ApplyResult{}
		}
		r.create(nil)
		created = true
	}

	turn := r.open
	if e.FinalMessage != "" {
		// The concatenated deltas are only a best-effort reconstruction;
		// the backend's final value is the source of truth.
		turn.Text = e.FinalMessage
	}
	turn.Images = e.Images
	turn.stripPlaceholders()
	turn.Timestamp = time.Now()

	r.open = nil
	r.sealed = true
	return ApplyResult{Turn: turn, Finalized: true, Created: created}
}

func (r *Reducer) create(trace []TraceStep) {
	r.open = &Turn{
		ID:        uuid.NewString(),
		Sender:    SenderAgent,
		Timestamp: time.Now(),
		Trace:     trace,
	}
	if r.onCreate != nil {
		r.onCreate(r.open)
	}
}

func stepKind(t protocol.EventType) StepKind {
	switch t {
	case protocol.EventTypeRationale:
		return StepRationale
	case protocol.EventTypeTool:
		return StepToolCall
	case protocol.EventTypeObservation:
		return StepObservation
	case protocol.EventTypeCollaborator:
		return StepAgentHandoff
	case protocol.EventTypeKnowledgeBase:
		return StepKnowledgeBase
	default:
		return StepError
	}
}
