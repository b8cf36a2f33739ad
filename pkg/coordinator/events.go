package coordinator

// EventKind tags a UI-facing agent event.
type EventKind string

const (
	EventThinking        EventKind = "thinking"
	EventTextDelta       EventKind = "text_delta"
	EventToolCallStart   EventKind = "tool_call_start"
	EventToolCallEnd     EventKind = "tool_call_end"
	EventMessageComplete EventKind = "message_complete"
	EventError           EventKind = "error"
)

// Event is one entry in the stream delivered to a UI client for a turn.
// For one logical turn, MessageComplete is always last and Error is
// terminal; no events follow an Error.
type Event struct {
	Kind EventKind `json:"kind"`

	// Text for EventTextDelta.
	Text string `json:"text,omitempty"`

	// Name and Args for EventToolCallStart; Name, Result and Success
	// for EventToolCallEnd.
	Name    string `json:"name,omitempty"`
	Args    string `json:"args,omitempty"`
	Result  string `json:"result,omitempty"`
	Success bool   `json:"success,omitempty"`

	// Token counts for EventMessageComplete, when the provider
	// reported usage.
	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens *int `json:"output_tokens,omitempty"`

	// Message for EventError.
	Message string `json:"message,omitempty"`
}

// EventSink receives events for one turn in emission order.
type EventSink func(Event)

func thinkingEvent() Event        { return Event{Kind: EventThinking} }
func textEvent(text string) Event { return Event{Kind: EventTextDelta, Text: text} }

func toolStartEvent(name, args string) Event {
	return Event{Kind: EventToolCallStart, Name: name, Args: args}
}

func toolEndEvent(name, result string, success bool) Event {
	return Event{Kind: EventToolCallEnd, Name: name, Result: result, Success: success}
}

func completeEvent(inputTokens, outputTokens int) Event {
	ev := Event{Kind: EventMessageComplete}
	if inputTokens > 0 || outputTokens > 0 {
		ev.InputTokens = &inputTokens
		ev.OutputTokens = &outputTokens
	}
	return ev
}

func errorEvent(message string) Event {
	return Event{Kind: EventError, Message: message}
}
