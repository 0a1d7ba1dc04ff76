// ABOUTME: Event taxonomy emitted by an in-flight completion call
// ABOUTME: Defines the EventSink capability set consumed by the relay

package agency

// Tool call kinds carried on ToolCallCreated/ToolCallDelta notifications.
const (
	ToolTypeCodeInterpreter = "code_interpreter"
	ToolTypeFunction        = "function"
)

// Tool output kinds inside a code interpreter delta.
const (
	ToolOutputLogs = "logs"
)

// ToolOutput is one output fragment of a code interpreter invocation.
type ToolOutput struct {
	Type string
	Logs string
}

// ToolCallDelta is an incremental tool call notification. Input carries the
// next fragment of the tool's input (code for the code interpreter) and
// Outputs carries any output fragments that arrived with this delta.
type ToolCallDelta struct {
	Type    string
	Input   string
	Outputs []ToolOutput
}

// EventSink receives incremental notifications from a completion call running
// on a worker goroutine. Implementations must not block and must not perform
// I/O; they translate each notification and hand it off to the owning
// connection's writer. The agent argument names the agent that initiated the
// exchange ("User" for the entry turn) and recipient names the agent
// producing the output.
type EventSink interface {
	TextCreated(agent, recipient string)
	TextDelta(agent, recipient, delta string)
	TextDone(agent, recipient, text string)
	ToolCallCreated(agent, recipient, toolType string)
	ToolCallDelta(agent, recipient string, delta ToolCallDelta)
	StreamEnd()
}
