package agui

import (
	"errors"
	"fmt"
)

var (
	// ErrMixedChunkStyle indicates that chunk events and explicit start/end
	// events were used for the same message or tool call id.
	ErrMixedChunkStyle = errors.New("chunk and start/end events mixed for the same id")
	// ErrChunkMissingID indicates a chunk that opens a new message or tool call
	// without naming it.
	ErrChunkMissingID = errors.New("chunk does not identify a message or tool call")
)

// ChunkExpander rewrites TEXT_MESSAGE_CHUNK and TOOL_CALL_CHUNK events into the
// equivalent start, content/args and end sequence so consumers only handle one
// form. A chunk sequence stays open until an event arrives that does not
// continue it, or until Flush is called at the end of the stream.
//
// A ChunkExpander is not safe for concurrent use; it is meant to sit on the
// single goroutine that consumes a run stream.
type ChunkExpander struct {
	text     *TextMessageChunkEvent
	tool     *ToolCallChunkEvent
	explicit map[chunkKey]struct{}
	chunked  map[chunkKey]struct{}
}

// chunkKey scopes an id to its namespace: a message and a tool call may share
// the same id.
type chunkKey struct {
	tool bool
	id   string
}

func messageKey(id string) chunkKey  { return chunkKey{id: id} }
func toolCallKey(id string) chunkKey { return chunkKey{tool: true, id: id} }

// NewChunkExpander returns an expander with no open chunk sequence.
func NewChunkExpander() *ChunkExpander {
	return &ChunkExpander{
		explicit: make(map[chunkKey]struct{}),
		chunked:  make(map[chunkKey]struct{}),
	}
}

// Expand returns the events equivalent to evt. Non-chunk events are returned
// unchanged, preceded by the end events of any chunk sequence they close.
func (x *ChunkExpander) Expand(evt Event) ([]Event, error) {
	switch e := evt.(type) {
	case *TextMessageChunkEvent:
		return x.expandText(e)
	case *ToolCallChunkEvent:
		return x.expandTool(e)
	case *TextMessageStartEvent:
		if err := x.markExplicit(messageKey(e.MessageID)); err != nil {
			return nil, err
		}
	case *ToolCallStartEvent:
		if err := x.markExplicit(toolCallKey(e.ToolCallID)); err != nil {
			return nil, err
		}
	case *TextMessageContentEvent:
		if err := x.checkExplicit(messageKey(e.MessageID)); err != nil {
			return nil, err
		}
	case *TextMessageEndEvent:
		if err := x.checkExplicit(messageKey(e.MessageID)); err != nil {
			return nil, err
		}
	case *ToolCallArgsEvent:
		if err := x.checkExplicit(toolCallKey(e.ToolCallID)); err != nil {
			return nil, err
		}
	case *ToolCallEndEvent:
		if err := x.checkExplicit(toolCallKey(e.ToolCallID)); err != nil {
			return nil, err
		}
	}
	return append(x.Flush(), evt), nil
}

// Flush closes any open chunk sequence and returns the generated end events.
func (x *ChunkExpander) Flush() []Event {
	var out []Event
	if x.text != nil {
		out = append(out, &TextMessageEndEvent{
			BaseEvent: BaseEvent{Timestamp: x.text.Timestamp},
			MessageID: x.text.MessageID,
		})
		x.text = nil
	}
	if x.tool != nil {
		out = append(out, &ToolCallEndEvent{
			BaseEvent:  BaseEvent{Timestamp: x.tool.Timestamp},
			ToolCallID: x.tool.ToolCallID,
		})
		x.tool = nil
	}
	return out
}

func (x *ChunkExpander) expandText(e *TextMessageChunkEvent) ([]Event, error) {
	base := BaseEvent{Timestamp: e.Timestamp}
	if x.text != nil && (e.MessageID == "" || e.MessageID == x.text.MessageID) {
		x.text.Timestamp = e.Timestamp
		if e.Delta == "" {
			return nil, nil
		}
		return []Event{&TextMessageContentEvent{BaseEvent: base, MessageID: x.text.MessageID, Delta: e.Delta}}, nil
	}
	if e.MessageID == "" {
		return nil, fmt.Errorf("%w: %s", ErrChunkMissingID, EventTextMessageChunk)
	}
	if _, ok := x.explicit[messageKey(e.MessageID)]; ok {
		return nil, fmt.Errorf("%w: message %q", ErrMixedChunkStyle, e.MessageID)
	}
	out := x.Flush()
	role := e.Role
	if role == "" {
		role = RoleAssistant
	}
	out = append(out, &TextMessageStartEvent{BaseEvent: base, MessageID: e.MessageID, Role: role})
	if e.Delta != "" {
		out = append(out, &TextMessageContentEvent{BaseEvent: base, MessageID: e.MessageID, Delta: e.Delta})
	}
	x.chunked[messageKey(e.MessageID)] = struct{}{}
	open := *e
	x.text = &open
	return out, nil
}

func (x *ChunkExpander) expandTool(e *ToolCallChunkEvent) ([]Event, error) {
	base := BaseEvent{Timestamp: e.Timestamp}
	if x.tool != nil && (e.ToolCallID == "" || e.ToolCallID == x.tool.ToolCallID) {
		x.tool.Timestamp = e.Timestamp
		if e.Delta == "" {
			return nil, nil
		}
		return []Event{&ToolCallArgsEvent{BaseEvent: base, ToolCallID: x.tool.ToolCallID, Delta: e.Delta}}, nil
	}
	if e.ToolCallID == "" || e.ToolCallName == "" {
		return nil, fmt.Errorf("%w: %s", ErrChunkMissingID, EventToolCallChunk)
	}
	if _, ok := x.explicit[toolCallKey(e.ToolCallID)]; ok {
		return nil, fmt.Errorf("%w: tool call %q", ErrMixedChunkStyle, e.ToolCallID)
	}
	// Opening a tool call also ends the text of its parent message.
	out := x.Flush()
	out = append(out, &ToolCallStartEvent{
		BaseEvent:       base,
		ToolCallID:      e.ToolCallID,
		ToolCallName:    e.ToolCallName,
		ParentMessageID: e.ParentMessageID,
	})
	if e.Delta != "" {
		out = append(out, &ToolCallArgsEvent{BaseEvent: base, ToolCallID: e.ToolCallID, Delta: e.Delta})
	}
	x.chunked[toolCallKey(e.ToolCallID)] = struct{}{}
	open := *e
	x.tool = &open
	return out, nil
}

func (x *ChunkExpander) markExplicit(key chunkKey) error {
	if err := x.checkExplicit(key); err != nil {
		return err
	}
	x.explicit[key] = struct{}{}
	return nil
}

func (x *ChunkExpander) checkExplicit(key chunkKey) error {
	if _, ok := x.chunked[key]; ok {
		return fmt.Errorf("%w: %q", ErrMixedChunkStyle, key.id)
	}
	return nil
}
