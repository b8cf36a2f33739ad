package agent

// EntryKind tags a conversation history entry.
type EntryKind string

const (
	EntryKindUser               EntryKind = "user"
	EntryKindAssistant          EntryKind = "assistant"
	EntryKindAssistantToolCalls EntryKind = "assistant_tool_calls"
	EntryKindToolResults        EntryKind = "tool_results"
)

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult pairs a tool call id with its output
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// ConversationEntry is one entry in the runtime's history. Exactly the
// fields for its kind are populated; entries other than tool calls and
// tool results are opaque text to consumers.
type ConversationEntry struct {
	Kind        EntryKind    `json:"kind"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// TokenUsage tracks token consumption for one turn
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// DeltaKind tags a streaming delta.
type DeltaKind string

const (
	// DeltaText is verbatim response text.
	DeltaText DeltaKind = "text"
	// DeltaThinking signals the model is preparing a response.
	DeltaThinking DeltaKind = "thinking"
	// DeltaToolStart signals a tool invocation is beginning.
	DeltaToolStart DeltaKind = "tool_start"
	// DeltaToolResult carries the authoritative outcome of a tool call.
	DeltaToolResult DeltaKind = "tool_result"
	// DeltaToolStatus is a status-only success/failure marker. The
	// authoritative outcome arrives via DeltaToolResult.
	DeltaToolStatus DeltaKind = "tool_status"
	// DeltaToolCount reports how many tool calls the model requested.
	DeltaToolCount DeltaKind = "tool_count"
	// DeltaClear signals that accumulated progress output should be
	// discarded; the final answer follows.
	DeltaClear DeltaKind = "clear"
)

// Delta is one incremental fragment of a turn's output.
type Delta struct {
	Kind DeltaKind

	// Text for DeltaText.
	Text string

	// Name and Args for DeltaToolStart; Name, Output and OK for
	// DeltaToolResult; OK for DeltaToolStatus.
	Name   string
	Args   string
	Output string
	OK     bool

	// Count for DeltaToolCount.
	Count int
}

// DeltaSink receives streaming deltas in emission order. Implementations
// must be safe to call from the turn goroutine and may block for
// backpressure.
type DeltaSink func(Delta)

// ToolSpec describes a tool exposed to the model.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolOutcome is the result of executing one tool call.
type ToolOutcome struct {
	Output string
	OK     bool
}

// ToolExecutor is the opaque tool-execution collaborator. A nil executor
// means the runtime runs as plain chat with no tools advertised.
type ToolExecutor interface {
	// Specs lists the tools to advertise to the model.
	Specs() []ToolSpec

	// Execute runs one tool call and returns its outcome. Failures are
	// reported in the outcome, not as an error, so the turn can continue.
	Execute(name string, arguments string) ToolOutcome
}

const (
	maxToolArgChars    = 1000
	maxToolResultChars = 500
)

// Truncate shortens s to max characters, appending an ellipsis marker.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
