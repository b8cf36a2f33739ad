package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrMissingAPIKey indicates the selected provider needs a credential
// and none was configured.
var ErrMissingAPIKey = errors.New("api key is required for this provider")

// ErrMaxIterations indicates the tool loop ran out of iterations before
// the model produced a final answer.
var ErrMaxIterations = errors.New("maximum tool iterations exceeded")

// Options configures a Runtime.
type Options struct {
	Provider          ProviderSettings
	Model             string
	Temperature       float64
	MaxTokens         int
	MaxToolIterations int
	SystemPrompt      string
	Tools             ToolExecutor
	Logger            zerolog.Logger

	// LLM overrides the provider built from Provider settings. Used in tests.
	LLM LLMProvider
}

// Runtime drives conversations against one LLM provider. It owns the
// conversation history for a single session; callers serialize access
// to a turn externally, history reads are safe at any time.
type Runtime struct {
	provider LLMProvider
	opts     Options
	logger   zerolog.Logger

	mu       sync.Mutex
	history  []ConversationEntry
	lastUsed TokenUsage
}

// New builds a runtime from options, constructing the configured
// provider. Providers other than ollama require an API key.
func New(opts Options) (*Runtime, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	provider := opts.LLM
	if provider == nil {
		if opts.Provider.Provider != "ollama" && opts.Provider.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		var err error
		provider, err = NewProvider(opts.Provider)
		if err != nil {
			return nil, err
		}
	}

	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = 10
	}

	return &Runtime{
		provider: provider,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "agent").Str("provider", provider.Provider()).Logger(),
	}, nil
}

// Provider returns the name of the underlying provider.
func (r *Runtime) Provider() string {
	return r.provider.Provider()
}

// History returns a copy of the conversation history in order.
func (r *Runtime) History() []ConversationEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ConversationEntry, len(r.history))
	copy(out, r.history)
	return out
}

// ClearHistory discards the conversation history.
func (r *Runtime) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}

// LastUsage reports token usage accumulated over the most recent turn.
func (r *Runtime) LastUsage() TokenUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsed
}

// Turn executes one buffered conversation turn and returns the final
// response text.
func (r *Runtime) Turn(ctx context.Context, text string) (string, error) {
	return r.run(ctx, text, nil)
}

// TurnStreaming executes one turn, pushing progress deltas to sink as
// the tool loop advances. The final response text is returned as well
// as being emitted through the sink.
func (r *Runtime) TurnStreaming(ctx context.Context, text string, sink DeltaSink) (string, error) {
	return r.run(ctx, text, sink)
}

func (r *Runtime) run(ctx context.Context, text string, sink DeltaSink) (string, error) {
	emit := func(d Delta) {
		if sink != nil {
			sink(d)
		}
	}

	r.mu.Lock()
	r.history = append(r.history, ConversationEntry{Kind: EntryKindUser, Content: text})
	r.lastUsed = TokenUsage{}
	r.mu.Unlock()

	var turnUsage TokenUsage

	for iteration := 0; iteration < r.opts.MaxToolIterations; iteration++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		response, err := r.provider.Call(ctx, LLMRequest{
			Model:        r.opts.Model,
			Messages:     r.buildMessages(),
			Tools:        r.toolSpecs(),
			Temperature:  r.opts.Temperature,
			MaxTokens:    r.opts.MaxTokens,
			SystemPrompt: r.opts.SystemPrompt,
		})
		if err != nil {
			return "", fmt.Errorf("provider call failed: %w", err)
		}

		if response.Usage != nil {
			turnUsage.InputTokens += response.Usage.InputTokens
			turnUsage.OutputTokens += response.Usage.OutputTokens
		}

		if len(response.ToolCalls) == 0 {
			r.mu.Lock()
			r.history = append(r.history, ConversationEntry{Kind: EntryKindAssistant, Content: response.Content})
			r.lastUsed = turnUsage
			r.mu.Unlock()

			emit(Delta{Kind: DeltaClear})
			if response.Content != "" {
				emit(Delta{Kind: DeltaText, Text: response.Content})
			}
			return response.Content, nil
		}

		emit(Delta{Kind: DeltaToolCount, Count: len(response.ToolCalls)})

		results := make([]ToolResult, 0, len(response.ToolCalls))
		for _, call := range response.ToolCalls {
			emit(Delta{
				Kind: DeltaToolStart,
				Name: call.Name,
				Args: Truncate(call.Arguments, maxToolArgChars),
			})

			outcome := r.executeTool(call)

			emit(Delta{Kind: DeltaToolStatus, Name: call.Name, OK: outcome.OK})
			emit(Delta{
				Kind:   DeltaToolResult,
				Name:   call.Name,
				Output: Truncate(outcome.Output, maxToolResultChars),
				OK:     outcome.OK,
			})

			results = append(results, ToolResult{
				ToolCallID: call.ID,
				Content:    outcome.Output,
			})

			r.logger.Debug().
				Str("tool", call.Name).
				Bool("ok", outcome.OK).
				Msg("Tool executed")
		}

		r.mu.Lock()
		r.history = append(r.history,
			ConversationEntry{Kind: EntryKindAssistantToolCalls, Content: response.Content, ToolCalls: response.ToolCalls},
			ConversationEntry{Kind: EntryKindToolResults, ToolResults: results},
		)
		r.mu.Unlock()
	}

	return "", ErrMaxIterations
}

func (r *Runtime) executeTool(call ToolCall) ToolOutcome {
	if r.opts.Tools == nil {
		return ToolOutcome{Output: fmt.Sprintf("tool not available: %s", call.Name), OK: false}
	}
	return r.opts.Tools.Execute(call.Name, call.Arguments)
}

func (r *Runtime) toolSpecs() []ToolSpec {
	if r.opts.Tools == nil {
		return nil
	}
	return r.opts.Tools.Specs()
}

// buildMessages renders the history into provider messages. Caller must
// not hold r.mu.
func (r *Runtime) buildMessages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages := make([]Message, 0, len(r.history))
	for _, entry := range r.history {
		switch entry.Kind {
		case EntryKindUser:
			messages = append(messages, Message{Role: "user", Content: entry.Content})
		case EntryKindAssistant:
			messages = append(messages, Message{Role: "assistant", Content: entry.Content})
		case EntryKindAssistantToolCalls:
			messages = append(messages, Message{
				Role:      "assistant",
				Content:   entry.Content,
				ToolCalls: entry.ToolCalls,
			})
		case EntryKindToolResults:
			for _, result := range entry.ToolResults {
				messages = append(messages, Message{
					Role:       "tool",
					Content:    result.Content,
					ToolCallID: result.ToolCallID,
				})
			}
		}
	}
	return messages
}
