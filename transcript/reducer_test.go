package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracechat/protocol"
)

func intPtr(n int) *int { return &n }

func TestReducer_ChunksAccumulate(t *testing.T) {
	var created *Turn
	r := NewReducer(func(turn *Turn) { created = turn })

	res := r.Apply(protocol.TextDeltaEvent{Data: "Hello, "})
	require.NotNil(t, res.Turn)
	assert.True(t, res.Created)
	assert.Equal(t, "Hello, ", res.Delta)
	assert.Same(t, created, res.Turn)
	assert.Equal(t, SenderAgent, res.Turn.Sender)

	res = r.Apply(protocol.TextDeltaEvent{Data: "world."})
	assert.False(t, res.Created)
	assert.Equal(t, "Hello, world.", res.Turn.Text)
}

func TestReducer_ChunkCreatedTurnCarriesPlaceholder(t *testing.T) {
	r := NewReducer(nil)
	res := r.Apply(protocol.TextDeltaEvent{Data: "hi"})

	require.Len(t, res.Turn.Trace, 1)
	assert.True(t, res.Turn.Trace[0].IsPlaceholder())
	assert.Equal(t, "Working...", res.Turn.Trace[0].Label)
	assert.Empty(t, res.Turn.Steps())
}

func TestReducer_TraceStepsAssignedMonotonically(t *testing.T) {
	r := NewReducer(nil)

	res := r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Agent: "planner", Text: "first"})
	require.NotNil(t, res.Step)
	assert.Equal(t, 1, res.Step.Step)

	res = r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeObservation, Agent: "planner", Text: "second"})
	require.NotNil(t, res.Step)
	assert.Equal(t, 2, res.Step.Step)

	// An explicit wire index advances the assignment base.
	res = r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Step: intPtr(7), Agent: "planner", Text: "jump"})
	require.NotNil(t, res.Step)
	assert.Equal(t, 7, res.Step.Step)

	res = r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Agent: "planner", Text: "after jump"})
	require.NotNil(t, res.Step)
	assert.Equal(t, 8, res.Step.Step)
}

func TestReducer_PlaceholderTrailsLatestStep(t *testing.T) {
	r := NewReducer(nil)

	res := r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Agent: "a", Text: "one"})
	turn := res.Turn
	require.Len(t, turn.Trace, 2)
	assert.Equal(t, StepRationale, turn.Trace[0].Kind)
	assert.True(t, turn.Trace[1].IsPlaceholder())
	assert.True(t, turn.ExpandTrace)

	r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeObservation, Agent: "a", Text: "two"})
	require.Len(t, turn.Trace, 3)
	assert.Equal(t, StepRationale, turn.Trace[0].Kind)
	assert.Equal(t, StepObservation, turn.Trace[1].Kind)
	assert.True(t, turn.Trace[2].IsPlaceholder(), "placeholder must stay at the tail")
}

func TestReducer_DuplicateStepDiscarded(t *testing.T) {
	r := NewReducer(nil)

	ev := protocol.TraceEvent{Kind: protocol.EventTypeRationale, Step: intPtr(1), Agent: "planner", Text: "same"}
	first := r.Apply(ev)
	require.NotNil(t, first.Step)

	second := r.Apply(ev)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Turn)
	assert.Len(t, first.Turn.Steps(), 1)
}

func TestReducer_DuplicateIgnoresAgentField(t *testing.T) {
	r := NewReducer(nil)

	r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Step: intPtr(1), Agent: "planner", Text: "same"})
	res := r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Step: intPtr(1), Agent: "builder", Text: "same"})
	assert.True(t, res.Duplicate, "redelivery with a different agent label is still a duplicate")
}

func TestReducer_SameStepDifferentPayloadKept(t *testing.T) {
	r := NewReducer(nil)

	r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Step: intPtr(1), Agent: "a", Text: "one"})
	res := r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Step: intPtr(1), Agent: "a", Text: "different"})
	assert.False(t, res.Duplicate)
	assert.Len(t, res.Turn.Steps(), 2)
}

func TestReducer_MissingAgentRecordedAsUnknown(t *testing.T) {
	r := NewReducer(nil)
	res := r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Text: "anonymous"})
	require.NotNil(t, res.Step)
	assert.Equal(t, UnknownAgent, res.Step.Agent)
}

func TestReducer_ToolStepFallsBackToAPIPath(t *testing.T) {
	r := NewReducer(nil)

	res := r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeTool, Agent: "builder", ToolName: "search", APIPath: "/v1/search", ExecutionType: "sync"})
	require.NotNil(t, res.Step)
	assert.Equal(t, StepToolCall, res.Step.Kind)
	assert.Equal(t, "search", res.Step.ToolName)
	assert.Equal(t, "sync", res.Step.InvocationType)

	res = r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeTool, Agent: "builder", APIPath: "/v1/lookup"})
	require.NotNil(t, res.Step)
	assert.Equal(t, "/v1/lookup", res.Step.ToolName)
}

func TestReducer_CollaboratorStepRecordsTarget(t *testing.T) {
	r := NewReducer(nil)
	res := r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeCollaborator, Agent: "researcher", Text: "delegating"})
	require.NotNil(t, res.Step)
	assert.Equal(t, StepAgentHandoff, res.Step.Kind)
	assert.Equal(t, "researcher", res.Step.TargetAgent)
	assert.Equal(t, "delegating", res.Step.Text)
}

func TestReducer_FinalMessageReplacesDeltas(t *testing.T) {
	r := NewReducer(nil)

	r.Apply(protocol.TextDeltaEvent{Data: "partial "})
	r.Apply(protocol.TextDeltaEvent{Data: "reconstruction"})
	res := r.Apply(protocol.StreamEndEvent{FinalMessage: "the real answer", Images: []string{"img.png"}})

	require.True(t, res.Finalized)
	assert.Equal(t, "the real answer", res.Turn.Text)
	assert.Equal(t, []string{"img.png"}, res.Turn.Images)
	assert.True(t, r.Sealed())
	assert.Nil(t, r.Open())
}

func TestReducer_EndWithoutFinalMessageKeepsDeltas(t *testing.T) {
	r := NewReducer(nil)

	r.Apply(protocol.TextDeltaEvent{Data: "accumulated"})
	res := r.Apply(protocol.StreamEndEvent{})

	require.True(t, res.Finalized)
	assert.Equal(t, "accumulated", res.Turn.Text)
}

func TestReducer_FinalizationPurgesPlaceholders(t *testing.T) {
	r := NewReducer(nil)

	r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Agent: "a", Text: "step"})
	res := r.Apply(protocol.StreamEndEvent{FinalMessage: "done"})

	require.True(t, res.Finalized)
	for _, step := range res.Turn.Trace {
		assert.False(t, step.IsPlaceholder(), "no placeholder may survive finalization")
	}
	assert.Len(t, res.Turn.Trace, 1)
}

func TestReducer_EndOnlyStreamWithFinalMessageCreatesTurn(t *testing.T) {
	var created *Turn
	r := NewReducer(func(turn *Turn) { created = turn })

	res := r.Apply(protocol.StreamEndEvent{FinalMessage: "complete answer"})
	require.True(t, res.Finalized)
	require.NotNil(t, res.Turn)
	assert.True(t, res.Created)
	assert.Same(t, created, res.Turn)
	assert.Equal(t, "complete answer", res.Turn.Text)
}

func TestReducer_EndOnOpenTurnReportsNotCreated(t *testing.T) {
	r := NewReducer(nil)
	r.Apply(protocol.TextDeltaEvent{Data: "text"})
	res := r.Apply(protocol.StreamEndEvent{})
	require.True(t, res.Finalized)
	assert.False(t, res.Created)
}

func TestReducer_EmptyEndWithNoOpenTurnIsNoOp(t *testing.T) {
	created := false
	r := NewReducer(func(*Turn) { created = true })

	res := r.Apply(protocol.StreamEndEvent{})
	assert.Nil(t, res.Turn)
	assert.False(t, res.Finalized)
	assert.False(t, created)
	assert.True(t, r.Sealed())
}

func TestReducer_EventsAfterSealIgnored(t *testing.T) {
	r := NewReducer(nil)

	r.Apply(protocol.TextDeltaEvent{Data: "text"})
	end := r.Apply(protocol.StreamEndEvent{})
	require.True(t, end.Finalized)
	finalText := end.Turn.Text

	res := r.Apply(protocol.TextDeltaEvent{Data: " more"})
	assert.Nil(t, res.Turn)
	assert.Equal(t, finalText, end.Turn.Text, "sealed turn must not change")
}

func TestReducer_AbortSealsIncomplete(t *testing.T) {
	r := NewReducer(nil)

	r.Apply(protocol.TextDeltaEvent{Data: "partial"})
	r.Apply(protocol.TraceEvent{Kind: protocol.EventTypeRationale, Agent: "a", Text: "reasoning"})

	turn := r.Abort()
	require.NotNil(t, turn)
	assert.True(t, turn.Incomplete)
	assert.Equal(t, "partial", turn.Text)
	assert.Len(t, turn.Steps(), 1)
	// The trailing placeholder stays: the turn still looks in-progress.
	assert.True(t, turn.Trace[len(turn.Trace)-1].IsPlaceholder())
	assert.True(t, r.Sealed())
}

func TestReducer_AbortWithoutTurn(t *testing.T) {
	r := NewReducer(nil)
	assert.Nil(t, r.Abort())
	assert.True(t, r.Sealed())
	assert.Nil(t, r.Abort())
}
