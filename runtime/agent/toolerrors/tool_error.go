// Package toolerrors provides structured error values for frontend tool
// failures. A ToolError preserves the error chain for errors.Is/As and
// serializes to the failure payload placed in a tool result, so the model sees
// what went wrong on its next turn.
package toolerrors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ToolError represents a structured tool failure. Tool errors may be nested via
// Cause to retain diagnostics across wrapping layers.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying tool error.
	Cause *ToolError

	// err is the Go error the ToolError was converted from. It keeps
	// errors.Is/As working against sentinels and typed errors; it is not
	// serialized.
	err error
}

// payload is the JSON shape of a ToolError.
type payload struct {
	Error string   `json:"error"`
	Cause *payload `json:"cause,omitempty"`
}

// New constructs a ToolError with the provided message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewWithCause constructs a ToolError that wraps an underlying error. The cause
// is converted into a ToolError chain so it survives serialization.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{
		Message: message,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
		err:     err,
	}
}

// FromPanic converts a recovered panic value into a ToolError.
func FromPanic(r any) *ToolError {
	if err, ok := r.(error); ok {
		return NewWithCause("tool panicked", err)
	}
	return &ToolError{Message: "tool panicked", Cause: New(fmt.Sprint(r))}
}

// Errorf formats according to a format specifier and returns the string as a
// ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the error e was converted from, or the cause chain.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.err != nil {
		return e.err
	}
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// MarshalJSON encodes the error as {"error": message, "cause": {...}}.
func (e *ToolError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.payload())
}

// UnmarshalJSON decodes the payload produced by MarshalJSON.
func (e *ToolError) UnmarshalJSON(data []byte) error {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = *fromPayload(&p)
	return nil
}

// Payload returns the JSON failure payload for err as a string suitable for a
// tool result.
func Payload(err error) string {
	te := FromError(err)
	if te == nil {
		te = New("")
	}
	b, mErr := json.Marshal(te.payload())
	if mErr != nil {
		// Only reachable with a broken encoder; keep the message readable.
		return fmt.Sprintf(`{"error":%q}`, te.Message)
	}
	return string(b)
}

func (e *ToolError) payload() *payload {
	if e == nil {
		return nil
	}
	return &payload{Error: e.Message, Cause: e.Cause.payload()}
}

func fromPayload(p *payload) *ToolError {
	if p == nil {
		return nil
	}
	return &ToolError{Message: p.Error, Cause: fromPayload(p.Cause)}
}
