// Package claude runs prompts through the Claude CLI and decodes its
// stream-json output.
//
// Chains reach the assistant in two ways: slash-command steps ("/test") are
// sent as the prompt verbatim, and agent steps are sent as a delegation prompt
// naming the agent. Both go through an [Executor].
//
// Key types:
//   - [Executor] runs one prompt and reports events plus an exit code
//   - [Parser] decodes stream-json lines into [Event] values
//   - [Event] is a decoded line with convenience accessors
//
// [MockExecutor] implements [Executor] for tests without spawning processes.
package claude

// StreamEvent is one raw stream-json line.
type StreamEvent struct {
	Type          string          `json:"type"`
	Subtype       string          `json:"subtype,omitempty"`
	Message       *MessageContent `json:"message,omitempty"`
	ToolUseResult *ToolResult     `json:"tool_use_result,omitempty"`

	// Populated on the final result line only.
	Result     string  `json:"result,omitempty"`
	IsError    bool    `json:"is_error,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
	CostUSD    float64 `json:"total_cost_usd,omitempty"`
}

// MessageContent holds the content blocks of an assistant message.
type MessageContent struct {
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is a "text" or "tool_use" block.
type ContentBlock struct {
	Type  string     `json:"type"`
	Text  string     `json:"text,omitempty"`
	Name  string     `json:"name,omitempty"`
	Input *ToolInput `json:"input,omitempty"`
}

// ToolInput carries the fields of a tool invocation that progress output shows.
type ToolInput struct {
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
}

// ToolResult is the output of a tool execution.
type ToolResult struct {
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// EventType is the "type" field of a stream line.
type EventType string

const (
	EventTypeSystem    EventType = "system"
	EventTypeAssistant EventType = "assistant"
	EventTypeUser      EventType = "user"
	EventTypeResult    EventType = "result"
)

// SubtypeInit marks the session-start system event.
const SubtypeInit = "init"

// Event is a decoded stream line.
type Event struct {
	Raw     *StreamEvent
	Type    EventType
	Subtype string

	// Assistant text, or the final result text on a result event.
	Text string

	ToolName        string
	ToolDescription string
	ToolCommand     string
	ToolFilePath    string

	ToolStdout      string
	ToolStderr      string
	ToolInterrupted bool

	SessionStarted  bool
	SessionComplete bool

	// IsError is set on a result event when the session ended in error.
	IsError bool
}

// NewEventFromStream converts a raw line into an [Event].
func NewEventFromStream(raw *StreamEvent) Event {
	e := Event{
		Raw:     raw,
		Type:    EventType(raw.Type),
		Subtype: raw.Subtype,
	}

	switch e.Type {
	case EventTypeSystem:
		e.SessionStarted = raw.Subtype == SubtypeInit

	case EventTypeAssistant:
		if raw.Message == nil {
			break
		}
		for _, block := range raw.Message.Content {
			switch block.Type {
			case "text":
				e.Text = block.Text
			case "tool_use":
				e.ToolName = block.Name
				if block.Input != nil {
					e.ToolDescription = block.Input.Description
					e.ToolCommand = block.Input.Command
					e.ToolFilePath = block.Input.FilePath
				}
			}
		}

	case EventTypeUser:
		if raw.ToolUseResult != nil {
			e.ToolStdout = raw.ToolUseResult.Stdout
			e.ToolStderr = raw.ToolUseResult.Stderr
			e.ToolInterrupted = raw.ToolUseResult.Interrupted
		}

	case EventTypeResult:
		e.SessionComplete = true
		e.Text = raw.Result
		e.IsError = raw.IsError
	}

	return e
}

// IsText reports whether the event is assistant text.
func (e Event) IsText() bool {
	return e.Type == EventTypeAssistant && e.Text != ""
}

// IsToolUse reports whether the event is a tool invocation.
func (e Event) IsToolUse() bool {
	return e.Type == EventTypeAssistant && e.ToolName != ""
}

// IsToolResult reports whether the event carries tool output.
func (e Event) IsToolResult() bool {
	return e.Type == EventTypeUser && (e.ToolStdout != "" || e.ToolStderr != "")
}
