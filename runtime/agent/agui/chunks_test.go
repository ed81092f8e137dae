package agui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func expandAll(t *testing.T, x *ChunkExpander, events ...Event) []Event {
	t.Helper()
	var out []Event
	for _, evt := range events {
		expanded, err := x.Expand(evt)
		require.NoError(t, err)
		out = append(out, expanded...)
	}
	return append(out, x.Flush()...)
}

func TestTextChunksExpandToTriplet(t *testing.T) {
	x := NewChunkExpander()
	finished := &RunFinishedEvent{ThreadID: "t1", RunID: "r1"}
	got := expandAll(t, x,
		&TextMessageChunkEvent{BaseEvent: BaseEvent{Timestamp: 1}, MessageID: "m1", Delta: "Hel"},
		&TextMessageChunkEvent{BaseEvent: BaseEvent{Timestamp: 2}, Delta: "lo"},
		finished,
	)
	require.Equal(t, []Event{
		&TextMessageStartEvent{BaseEvent: BaseEvent{Timestamp: 1}, MessageID: "m1", Role: RoleAssistant},
		&TextMessageContentEvent{BaseEvent: BaseEvent{Timestamp: 1}, MessageID: "m1", Delta: "Hel"},
		&TextMessageContentEvent{BaseEvent: BaseEvent{Timestamp: 2}, MessageID: "m1", Delta: "lo"},
		&TextMessageEndEvent{BaseEvent: BaseEvent{Timestamp: 2}, MessageID: "m1"},
		finished,
	}, got)
}

func TestToolChunksExpandAndCloseText(t *testing.T) {
	x := NewChunkExpander()
	got := expandAll(t, x,
		&TextMessageChunkEvent{MessageID: "m1", Role: RoleAssistant, Delta: "Booking"},
		&ToolCallChunkEvent{ToolCallID: "tc1", ToolCallName: "book_flight", ParentMessageID: "m1", Delta: `{"dest`},
		&ToolCallChunkEvent{Delta: `":"NYC"}`},
	)
	var types []EventType
	for _, evt := range got {
		types = append(types, evt.Type())
	}
	require.Equal(t, []EventType{
		EventTextMessageStart, EventTextMessageContent, EventTextMessageEnd,
		EventToolCallStart, EventToolCallArgs, EventToolCallArgs, EventToolCallEnd,
	}, types)
	start := got[3].(*ToolCallStartEvent)
	require.Equal(t, "m1", start.ParentMessageID)
	require.Equal(t, `":"NYC"}`, got[5].(*ToolCallArgsEvent).Delta)
}

func TestNewChunkIDClosesPrevious(t *testing.T) {
	x := NewChunkExpander()
	got := expandAll(t, x,
		&TextMessageChunkEvent{MessageID: "m1", Delta: "a"},
		&TextMessageChunkEvent{MessageID: "m2", Delta: "b"},
	)
	require.Len(t, got, 6)
	require.Equal(t, &TextMessageEndEvent{MessageID: "m1"}, got[2])
	require.Equal(t, &TextMessageStartEvent{MessageID: "m2", Role: RoleAssistant}, got[3])
}

func TestMixedChunkStylesRejected(t *testing.T) {
	x := NewChunkExpander()
	_, err := x.Expand(&TextMessageStartEvent{MessageID: "m1"})
	require.NoError(t, err)
	_, err = x.Expand(&TextMessageChunkEvent{MessageID: "m1", Delta: "x"})
	require.ErrorIs(t, err, ErrMixedChunkStyle)

	x = NewChunkExpander()
	_, err = x.Expand(&ToolCallChunkEvent{ToolCallID: "tc1", ToolCallName: "lookup"})
	require.NoError(t, err)
	_, err = x.Expand(&ToolCallArgsEvent{ToolCallID: "tc1", Delta: "{}"})
	require.ErrorIs(t, err, ErrMixedChunkStyle)

	x = NewChunkExpander()
	_, err = x.Expand(&ToolCallStartEvent{ToolCallID: "tc2", ToolCallName: "lookup"})
	require.NoError(t, err)
	_, err = x.Expand(&ToolCallChunkEvent{ToolCallID: "tc2", ToolCallName: "lookup"})
	require.ErrorIs(t, err, ErrMixedChunkStyle)
}

func TestChunkWithoutIDRejected(t *testing.T) {
	x := NewChunkExpander()
	_, err := x.Expand(&TextMessageChunkEvent{Delta: "orphan"})
	require.ErrorIs(t, err, ErrChunkMissingID)
	_, err = x.Expand(&ToolCallChunkEvent{ToolCallID: "tc1"})
	require.ErrorIs(t, err, ErrChunkMissingID)
}

func TestMessageAndToolCallIDsAreSeparate(t *testing.T) {
	x := NewChunkExpander()
	got := expandAll(t, x,
		&TextMessageStartEvent{MessageID: "shared", Role: RoleAssistant},
		&TextMessageContentEvent{MessageID: "shared", Delta: "Looking"},
		&TextMessageEndEvent{MessageID: "shared"},
		&ToolCallChunkEvent{ToolCallID: "shared", ToolCallName: "lookup", ParentMessageID: "shared", Delta: "{}"},
	)
	require.Len(t, got, 6)
	require.Equal(t, &ToolCallStartEvent{ToolCallID: "shared", ToolCallName: "lookup", ParentMessageID: "shared"}, got[3])

	x = NewChunkExpander()
	got = expandAll(t, x,
		&TextMessageChunkEvent{MessageID: "id1", Delta: "a"},
		&ToolCallStartEvent{ToolCallID: "id1", ToolCallName: "lookup"},
		&ToolCallEndEvent{ToolCallID: "id1"},
	)
	require.Len(t, got, 5)
}
