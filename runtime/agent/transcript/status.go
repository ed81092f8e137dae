package transcript

// ToolCallStatus is the lifecycle state of a tool call. Status only moves
// forward:
//
//	pending → streaming → (awaiting_approval | executing) → (completed | error)
//
// Intermediate states may be skipped (a call without arguments goes straight
// from pending to executing) but never revisited.
type ToolCallStatus string

const (
	ToolPending          ToolCallStatus = "pending"
	ToolStreaming        ToolCallStatus = "streaming"
	ToolAwaitingApproval ToolCallStatus = "awaiting_approval"
	ToolExecuting        ToolCallStatus = "executing"
	ToolCompleted        ToolCallStatus = "completed"
	ToolError            ToolCallStatus = "error"
)

func (s ToolCallStatus) rank() int {
	switch s {
	case ToolPending:
		return 0
	case ToolStreaming:
		return 1
	case ToolAwaitingApproval:
		return 2
	case ToolExecuting:
		return 3
	case ToolCompleted, ToolError:
		return 4
	}
	return -1
}

// Terminal reports whether s is completed or error.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCompleted || s == ToolError
}

// CanTransition reports whether a tool call may move from one status to
// another.
func CanTransition(from, to ToolCallStatus) bool {
	if from.Terminal() || from.rank() < 0 || to.rank() < 0 {
		return false
	}
	return to.rank() > from.rank()
}
