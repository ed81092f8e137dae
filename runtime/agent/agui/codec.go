package agui

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrMissingType indicates a frame without a string "type" member.
	ErrMissingType = errors.New("missing event type")
	// ErrMissingField indicates a required field is absent or empty.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField indicates a field holds a value outside its domain.
	ErrInvalidField = errors.New("invalid field value")
)

// DecodeError reports a frame that could not be turned into an Event.
type DecodeError struct {
	// Type is the discriminator read from the frame, if any.
	Type EventType
	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("agui: decode: %v", e.Err)
	}
	return fmt.Sprintf("agui: decode %s: %v", e.Type, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

var constructors = map[EventType]func() Event{
	EventRunStarted:         func() Event { return new(RunStartedEvent) },
	EventRunFinished:        func() Event { return new(RunFinishedEvent) },
	EventRunError:           func() Event { return new(RunErrorEvent) },
	EventStepStarted:        func() Event { return new(StepStartedEvent) },
	EventStepFinished:       func() Event { return new(StepFinishedEvent) },
	EventTextMessageStart:   func() Event { return new(TextMessageStartEvent) },
	EventTextMessageContent: func() Event { return new(TextMessageContentEvent) },
	EventTextMessageEnd:     func() Event { return new(TextMessageEndEvent) },
	EventTextMessageChunk:   func() Event { return new(TextMessageChunkEvent) },
	EventToolCallStart:      func() Event { return new(ToolCallStartEvent) },
	EventToolCallArgs:       func() Event { return new(ToolCallArgsEvent) },
	EventToolCallEnd:        func() Event { return new(ToolCallEndEvent) },
	EventToolCallResult:     func() Event { return new(ToolCallResultEvent) },
	EventToolCallChunk:      func() Event { return new(ToolCallChunkEvent) },
	EventStateSnapshot:      func() Event { return new(StateSnapshotEvent) },
	EventStateDelta:         func() Event { return new(StateDeltaEvent) },
	EventMessagesSnapshot:   func() Event { return new(MessagesSnapshotEvent) },
	EventActivitySnapshot:   func() Event { return new(ActivitySnapshotEvent) },
	EventActivityDelta:      func() Event { return new(ActivityDeltaEvent) },
	EventCustom:             func() Event { return new(CustomEvent) },
	EventRaw:                func() Event { return new(RawEvent) },
}

// Decode turns a single JSON frame into an Event. The "type" member is read
// first; unknown types yield a *RawEvent whose Event holds the compacted
// frame. Raw JSON members are compacted too. Malformed frames and frames
// missing a required field yield a *DecodeError.
func Decode(frame []byte) (Event, error) {
	var head struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, &DecodeError{Err: err}
	}
	var tag string
	if len(head.Type) == 0 || json.Unmarshal(head.Type, &tag) != nil || tag == "" {
		return nil, &DecodeError{Err: ErrMissingType}
	}
	t := EventType(tag)
	ctor, ok := constructors[t]
	if !ok {
		raw, err := compactRaw(frame)
		if err != nil {
			return nil, &DecodeError{Type: t, Err: err}
		}
		return &RawEvent{Event: raw}, nil
	}
	evt := ctor()
	if err := json.Unmarshal(frame, evt); err != nil {
		return nil, &DecodeError{Type: t, Err: err}
	}
	if err := compactAll(reflect.ValueOf(evt)); err != nil {
		return nil, &DecodeError{Type: t, Err: err}
	}
	if rf, ok := evt.(*RunFinishedEvent); ok {
		rf.Outcome = NormalizeOutcome(rf.Outcome)
	}
	if err := evt.validate(); err != nil {
		return nil, &DecodeError{Type: t, Err: err}
	}
	return evt, nil
}

// Encode serializes evt as a JSON object whose first member is "type". It is
// the inverse of Decode for every known event type. Events holding strings
// that are not valid UTF-8 or raw JSON values that are not compact are
// rejected with ErrInvalidField.
func Encode(evt Event) ([]byte, error) {
	if evt == nil {
		return nil, errors.New("agui: encode nil event")
	}
	if err := evt.validate(); err != nil {
		return nil, fmt.Errorf("agui: encode %s: %w", evt.Type(), err)
	}
	if err := checkCanonical(reflect.ValueOf(evt), ""); err != nil {
		return nil, fmt.Errorf("agui: encode %s: %w", evt.Type(), err)
	}
	body, err := marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("agui: encode %s: %w", evt.Type(), err)
	}
	tag, err := json.Marshal(evt.Type())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(tag)+9)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return nil
}

func requiredRaw(name string, value json.RawMessage) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return nil
}

func validRole(r Role) error {
	if r != "" && !r.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidField, r)
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *RunStartedEvent) validate() error {
	return firstError(required("threadId", e.ThreadID), required("runId", e.RunID))
}

func (e *RunFinishedEvent) validate() error {
	if err := firstError(required("threadId", e.ThreadID), required("runId", e.RunID)); err != nil {
		return err
	}
	switch e.Outcome {
	case "", OutcomeSuccess, OutcomeError:
	case OutcomeInterrupt:
		if e.Interrupt == nil {
			return fmt.Errorf("%w: interrupt", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: outcome %q", ErrInvalidField, e.Outcome)
	}
	if e.Interrupt != nil {
		return required("interrupt.id", e.Interrupt.ID)
	}
	return nil
}

func (e *RunErrorEvent) validate() error { return required("message", e.Message) }

func (e *StepStartedEvent) validate() error { return required("stepName", e.StepName) }

func (e *StepFinishedEvent) validate() error { return required("stepName", e.StepName) }

func (e *TextMessageStartEvent) validate() error {
	return firstError(required("messageId", e.MessageID), validRole(e.Role))
}

func (e *TextMessageContentEvent) validate() error {
	return firstError(required("messageId", e.MessageID), required("delta", e.Delta))
}

func (e *TextMessageEndEvent) validate() error { return required("messageId", e.MessageID) }

func (e *TextMessageChunkEvent) validate() error { return validRole(e.Role) }

func (e *ToolCallStartEvent) validate() error {
	return firstError(required("toolCallId", e.ToolCallID), required("toolCallName", e.ToolCallName))
}

func (e *ToolCallArgsEvent) validate() error { return required("toolCallId", e.ToolCallID) }

func (e *ToolCallEndEvent) validate() error { return required("toolCallId", e.ToolCallID) }

func (e *ToolCallResultEvent) validate() error {
	return firstError(required("messageId", e.MessageID), required("toolCallId", e.ToolCallID), validRole(e.Role))
}

func (e *ToolCallChunkEvent) validate() error { return nil }

func (e *StateSnapshotEvent) validate() error { return requiredRaw("snapshot", e.Snapshot) }

func (e *StateDeltaEvent) validate() error { return requiredRaw("delta", e.Delta) }

func (e *MessagesSnapshotEvent) validate() error {
	for i, m := range e.Messages {
		if m.ID == "" {
			return fmt.Errorf("%w: messages[%d].id", ErrMissingField, i)
		}
		if !m.Role.Valid() {
			return fmt.Errorf("%w: messages[%d].role %q", ErrInvalidField, i, m.Role)
		}
		if err := m.validateContent(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

func (e *ActivitySnapshotEvent) validate() error {
	return firstError(required("messageId", e.MessageID), required("activityType", e.ActivityType), requiredRaw("content", e.Content))
}

func (e *ActivityDeltaEvent) validate() error {
	return firstError(required("messageId", e.MessageID), required("activityType", e.ActivityType), requiredRaw("patch", e.Patch))
}

func (e *CustomEvent) validate() error { return required("name", e.Name) }

func (e *RawEvent) validate() error { return requiredRaw("event", e.Event) }
