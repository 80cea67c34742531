package protocol

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// eventMarker prefixes every event line the orchestrator emits. Frames that
// do not begin with the marker are not events and are skipped.
const eventMarker = "data:"

// EventType discriminates between event kinds on the wire.
type EventType string

const (
	EventTypeChunk         EventType = "chunk"
	EventTypeRationale     EventType = "rationale"
	EventTypeTool          EventType = "tool"
	EventTypeObservation   EventType = "observation"
	EventTypeCollaborator  EventType = "agent-collaborator"
	EventTypeKnowledgeBase EventType = "knowledge-base"
	EventTypeError         EventType = "error"
	EventTypeEnd           EventType = "end"
)

// Event is the interface for all interpreted stream events.
type Event interface {
	EventType() EventType
}

// TextDeltaEvent carries one fragment of the streaming answer text.
type TextDeltaEvent struct {
	Data string
}

// EventType returns the event type.
func (e TextDeltaEvent) EventType() EventType { return EventTypeChunk }

// TraceEvent carries one unit of agent reasoning: a rationale, tool
// invocation, observation, sub-agent hand-off, knowledge base lookup, or
// error surfaced by the orchestrator.
//
// Step is nil when the wire event omitted it; assigning an index in that
// case belongs to the transcript reducer, which can see prior steps.
type TraceEvent struct {
	Kind          EventType
	Step          *int
	Agent         string
	Text          string
	ToolName      string
	APIPath       string
	ExecutionType string
}

// EventType returns the event type.
func (e TraceEvent) EventType() EventType { return e.Kind }

// StreamEndEvent terminates a response stream. FinalMessage, when non-empty,
// is the authoritative answer text and replaces the concatenated deltas.
type StreamEndEvent struct {
	FinalMessage string
	Images       []string
}

// EventType returns the event type.
func (e StreamEndEvent) EventType() EventType { return EventTypeEnd }

// wireEvent is the superset of payload fields across all event types, used
// for initial decoding before dispatch.
type wireEvent struct {
	Type          string   `json:"type"`
	Data          string   `json:"data"`
	Text          string   `json:"text"`
	Step          *int     `json:"step"`
	Agent         string   `json:"agent"`
	Function      string   `json:"function"`
	APIPath       string   `json:"apiPath"`
	ExecutionType string   `json:"executionType"`
	FinalMessage  string   `json:"finalMessage"`
	Images        []string `json:"images"`
	Image         string   `json:"image"`
}

// ParseEvent interprets one raw frame into a typed event.
//
// It returns (nil, nil) for frames that are not events (missing marker) and
// for unknown event types; unknown kinds are logged and skipped, never
// fatal, so the client keeps working as the orchestrator evolves. A frame
// that carries the marker but not valid JSON yields a *ParseError; the
// caller logs it and continues with the next frame.
func ParseEvent(frame string) (Event, error) {
	payload, ok := strings.CutPrefix(frame, eventMarker)
	if !ok {
		return nil, nil
	}
	payload = strings.TrimSpace(payload)

	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, &ParseError{
			Message: "malformed event payload",
			Frame:   frame,
			Cause:   err,
		}
	}

	switch EventType(w.Type) {
	case EventTypeChunk:
		return TextDeltaEvent{Data: w.Data}, nil

	case EventTypeRationale, EventTypeObservation, EventTypeKnowledgeBase, EventTypeError:
		return TraceEvent{
			Kind:  EventType(w.Type),
			Step:  w.Step,
			Agent: w.Agent,
			Text:  w.Text,
		}, nil

	case EventTypeTool:
		return TraceEvent{
			Kind:          EventTypeTool,
			Step:          w.Step,
			Agent:         w.Agent,
			ToolName:      w.Function,
			APIPath:       w.APIPath,
			ExecutionType: w.ExecutionType,
		}, nil

	case EventTypeCollaborator:
		// The wire "agent" field names the hand-off target here, not the
		// producing agent.
		return TraceEvent{
			Kind:  EventTypeCollaborator,
			Step:  w.Step,
			Agent: w.Agent,
			Text:  w.Text,
		}, nil

	case EventTypeEnd:
		images := w.Images
		if w.Image != "" {
			if len(images) > 0 {
				slog.Warn("end event carries both images and legacy image field, using images",
					"image", w.Image)
			} else {
				images = []string{w.Image}
			}
		}
		return StreamEndEvent{
			FinalMessage: w.FinalMessage,
			Images:       images,
		}, nil

	default:
		slog.Warn("skipping unknown event type", "type", w.Type)
		return nil, nil
	}
}
