// Package transcript holds the per-session conversation record and the
// reducer that folds interpreted stream events into it.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// StepKind identifies the kind of a trace step.
type StepKind string

const (
	StepPlaceholder   StepKind = "placeholder"
	StepRationale     StepKind = "rationale"
	StepToolCall      StepKind = "tool"
	StepObservation   StepKind = "observation"
	StepAgentHandoff  StepKind = "agent-collaborator"
	StepKnowledgeBase StepKind = "knowledge-base"
	StepError         StepKind = "error"
)

// UnknownAgent is recorded for steps whose event omitted the producing agent.
const UnknownAgent = "unknown agent"

// placeholderLabel is the display label of the synthetic in-progress step.
const placeholderLabel = "Working..."

// TraceStep is one unit of agent reasoning surfaced during an agent turn.
type TraceStep struct {
	// Kind discriminates the payload fields below.
	Kind StepKind `json:"kind"`
	// Step orders the step within its turn. Unique among non-placeholder
	// steps; assigned by the reducer when the wire event omitted it.
	Step int `json:"step"`
	// Agent is the identity of the sub-agent that produced the step.
	Agent string `json:"agent"`
	// Text carries the free-text payload of rationale, observation,
	// knowledge-base, error, and hand-off steps.
	Text string `json:"text,omitempty"`
	// ToolName and InvocationType describe tool steps. ToolName holds the
	// function name when present, the API path otherwise.
	ToolName       string `json:"tool_name,omitempty"`
	InvocationType string `json:"invocation_type,omitempty"`
	// TargetAgent names the hand-off target of agent-collaborator steps.
	TargetAgent string `json:"target_agent,omitempty"`
	// Label is the display label of placeholder steps. Placeholders are
	// synthetic and never survive finalization.
	Label string `json:"label,omitempty"`
}

// IsPlaceholder reports whether the step is the synthetic in-progress marker.
func (s TraceStep) IsPlaceholder() bool { return s.Kind == StepPlaceholder }

// payloadEqual reports whether two steps carry the same kind-specific
// payload. Together with Kind and Step equality it defines the duplicate
// check: the orchestrator may redeliver a step when its retry logic fires.
func (s TraceStep) payloadEqual(o TraceStep) bool {
	return s.Text == o.Text &&
		s.ToolName == o.ToolName &&
		s.InvocationType == o.InvocationType &&
		s.TargetAgent == o.TargetAgent
}

// duplicates reports whether o redelivers s.
func (s TraceStep) duplicates(o TraceStep) bool {
	return s.Step == o.Step && s.Kind == o.Kind && s.payloadEqual(o)
}

func newPlaceholder() TraceStep {
	return TraceStep{Kind: StepPlaceholder, Label: placeholderLabel}
}

// Turn is one user message or one agent response within a session.
type Turn struct {
	// ID uniquely identifies the turn within the session.
	ID string `json:"id"`
	// Sender is who authored the turn.
	Sender Sender `json:"sender"`
	// Text is the message content. For user turns it is set once; for agent
	// turns it grows by appended deltas until finalization, when the
	// stream's authoritative final message (if any) replaces it.
	Text string `json:"text"`
	// Timestamp is set at creation and updated to finalization time.
	Timestamp time.Time `json:"timestamp"`
	// Trace is the ordered reasoning trace. Empty for user turns.
	Trace []TraceStep `json:"trace,omitempty"`
	// ExpandTrace is set whenever new trace content arrives, hinting that
	// the trace view should be open.
	ExpandTrace bool `json:"expand_trace,omitempty"`
	// Images holds opaque image references delivered at finalization.
	Images []string `json:"images,omitempty"`
	// Incomplete marks a turn whose stream ended without a stream-end
	// event: whatever text and trace accumulated stays visible.
	Incomplete bool `json:"incomplete,omitempty"`
}

// NewUserTurn creates an immutable user turn.
func NewUserTurn(text string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Sender:    SenderUser,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Steps returns the non-placeholder trace steps in order.
func (t *Turn) Steps() []TraceStep {
	steps := make([]TraceStep, 0, len(t.Trace))
	for _, s := range t.Trace {
		if !s.IsPlaceholder() {
			steps = append(steps, s)
		}
	}
	return steps
}

// stripPlaceholders removes every placeholder step in place, preserving the
// relative order of the remaining steps.
func (t *Turn) stripPlaceholders() {
	kept := t.Trace[:0]
	for _, s := range t.Trace {
		if !s.IsPlaceholder() {
			kept = append(kept, s)
		}
	}
	t.Trace = kept
}
