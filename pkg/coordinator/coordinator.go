// Package coordinator orchestrates interactive agent turns: session
// readiness, the exclusive agent handle, and translation of runtime
// output into UI events. Configuration reads and turn execution use
// separate locks so a status query never waits on an in-flight turn.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/deskclaw/deskclaw/internal/config"
	"github.com/deskclaw/deskclaw/pkg/agent"
)

const (
	defaultTurnTimeout = 180 * time.Second
	defaultDrainGrace  = 3 * time.Second

	toolArgPreviewChars    = 1000
	toolResultPreviewChars = 500
)

// ToolFactory builds the tool executor for a freshly constructed
// runtime, given its workspace directory and effective path allowlist.
// A nil factory leaves the runtime without tools.
type ToolFactory func(workspaceDir string, allowlist []string) agent.ToolExecutor

// RuntimeFactory constructs agent runtimes. The default is agent.New;
// tests substitute scripted providers through it.
type RuntimeFactory func(opts agent.Options) (*agent.Runtime, error)

// Options configures a Coordinator.
type Options struct {
	Store   *config.Store
	Logger  zerolog.Logger
	Tools   ToolFactory
	Runtime RuntimeFactory

	// TurnTimeout bounds one streaming turn; DrainGrace bounds the
	// relay flush after the turn settles. Zero values use defaults.
	TurnTimeout time.Duration
	DrainGrace  time.Duration
}

// Coordinator owns the single live agent runtime and runs turns against
// it. The handle lock is held for the duration of one turn; the config
// store is never touched during that span.
type Coordinator struct {
	store       *config.Store
	logger      zerolog.Logger
	tools       ToolFactory
	newRuntime  RuntimeFactory
	turnTimeout time.Duration
	drainGrace  time.Duration

	handleMu   sync.Mutex
	runtime    *agent.Runtime
	sessionID  string
	fileRoots  []string
	generation uint64
}

// New creates a coordinator bound to a config store.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}
	if opts.DrainGrace <= 0 {
		opts.DrainGrace = defaultDrainGrace
	}
	if opts.Runtime == nil {
		opts.Runtime = agent.New
	}
	return &Coordinator{
		store:       opts.Store,
		logger:      opts.Logger.With().Str("component", "coordinator").Logger(),
		tools:       opts.Tools,
		newRuntime:  opts.Runtime,
		turnTimeout: opts.TurnTimeout,
		drainGrace:  opts.DrainGrace,
	}, nil
}

// EnsureSessionReady makes sure a runtime bound to sessionID with the
// given file roots is installed in the handle. Idempotent: identical
// repeated calls construct at most one runtime.
func (c *Coordinator) EnsureSessionReady(ctx context.Context, sessionID string, fileRoots []string) error {
	cfg, ok := c.store.Snapshot()
	if !ok {
		return ErrNotInitialized
	}
	if cfg.RequiresAPIKey() && cfg.APIKey == "" {
		return ErrMissingCredential
	}
	generation := c.store.Generation()

	c.handleMu.Lock()
	current := c.runtime != nil &&
		c.sessionID == sessionID &&
		equalRoots(c.fileRoots, fileRoots) &&
		c.generation == generation
	c.handleMu.Unlock()
	if current {
		return nil
	}

	// Workspace setup and construction happen with no locks held.
	workspaceDir, err := sessionWorkspace(cfg.WorkspaceRoot, cfg.DataDir, sessionID)
	if err != nil {
		return &CreationError{Cause: err}
	}
	allowlist := extendAllowlist(cfg.AutonomyAllowlist, fileRoots)

	var tools agent.ToolExecutor
	if c.tools != nil {
		tools = c.tools(workspaceDir, allowlist)
	}

	runtime, err := c.newRuntime(agent.Options{
		Provider: agent.ProviderSettings{
			Provider: cfg.Provider,
			APIKey:   cfg.APIKey,
			APIBase:  cfg.APIBase,
		},
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		MaxToolIterations: cfg.MaxToolIterations,
		SystemPrompt:      cfg.SystemPrompt,
		Tools:             tools,
		Logger:            c.logger,
	})
	if err != nil {
		return &CreationError{Cause: err}
	}

	c.handleMu.Lock()
	c.runtime = runtime
	c.sessionID = sessionID
	c.fileRoots = append([]string(nil), fileRoots...)
	c.generation = generation
	c.handleMu.Unlock()

	c.store.SetBinding(sessionID, fileRoots)

	c.logger.Info().
		Str("session_id", sessionID).
		Int("file_roots", len(fileRoots)).
		Msg("Agent runtime created")
	return nil
}

// SendMessage runs one buffered turn and returns the event sequence for
// it. On any failure the sequence is a single Error event.
func (c *Coordinator) SendMessage(ctx context.Context, sessionID, text string, files []string) []Event {
	if err := c.EnsureSessionReady(ctx, sessionID, files); err != nil {
		return []Event{errorEvent(err.Error())}
	}

	enriched := enrichMessage(text, files)

	c.handleMu.Lock()
	runtime := c.runtime
	if runtime == nil {
		c.handleMu.Unlock()
		return []Event{errorEvent(ErrAgentUnavailable.Error())}
	}

	before := len(runtime.History())
	response, err := runtime.Turn(ctx, enriched)
	history := runtime.History()
	usage := runtime.LastUsage()
	c.handleMu.Unlock()

	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("Agent turn failed")
		return []Event{errorEvent(err.Error())}
	}

	events := historyDiffEvents(history[before:])
	events = append(events, textEvent(response))
	events = append(events, completeEvent(usage.InputTokens, usage.OutputTokens))
	return events
}

// SendMessageStream runs one streaming turn, relaying runtime deltas to
// sink as typed events. The turn is bounded by the configured timeout;
// the relay gets a short grace period to flush after the turn settles,
// then is abandoned.
func (c *Coordinator) SendMessageStream(ctx context.Context, sessionID, text string, files []string, sink EventSink) {
	gate := newGatedSink(sink)

	if err := c.EnsureSessionReady(ctx, sessionID, files); err != nil {
		gate.emitTerminal(errorEvent(err.Error()))
		return
	}
	gate.emit(thinkingEvent())

	enriched := enrichMessage(text, files)

	turnCtx, cancel := context.WithTimeout(ctx, c.turnTimeout)
	defer cancel()

	deltas := make(chan agent.Delta, relayChannelCap)
	relayDone := make(chan struct{})
	go relay(deltas, gate.emit, relayDone)

	type turnResult struct {
		usage agent.TokenUsage
		err   error
	}
	resultCh := make(chan turnResult, 1)

	go func() {
		defer close(deltas)

		c.handleMu.Lock()
		defer c.handleMu.Unlock()
		runtime := c.runtime
		if runtime == nil {
			resultCh <- turnResult{err: ErrAgentUnavailable}
			return
		}

		_, err := runtime.TurnStreaming(turnCtx, enriched, func(d agent.Delta) {
			select {
			case deltas <- d:
			case <-turnCtx.Done():
			}
		})
		resultCh <- turnResult{usage: runtime.LastUsage(), err: err}
	}()

	var result turnResult
	select {
	case result = <-resultCh:
	case <-turnCtx.Done():
		// The turn is abandoned; the provider call may still be
		// running with no further observers.
		result = turnResult{err: turnCtx.Err()}
	}

	select {
	case <-relayDone:
	case <-time.After(c.drainGrace):
		c.logger.Warn().Str("session_id", sessionID).Msg("Relay did not drain in time, abandoning")
	}

	// A deadline on the turn context is the hard wall-clock limit.
	if errors.Is(result.err, context.DeadlineExceeded) {
		result.err = ErrTurnTimeout
	}

	switch {
	case result.err == nil:
		gate.emitTerminal(completeEvent(result.usage.InputTokens, result.usage.OutputTokens))
	case errors.Is(result.err, ErrTurnTimeout):
		c.logger.Error().Str("session_id", sessionID).Msg("Agent turn timed out")
		gate.emitTerminal(errorEvent(timeoutMessage))
	default:
		c.logger.Error().Err(result.err).Str("session_id", sessionID).Msg("Agent turn failed")
		gate.emitTerminal(errorEvent(result.err.Error()))
	}
}

// ClearSession drops the live runtime and its conversation history.
func (c *Coordinator) ClearSession() {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()
	if c.runtime != nil {
		c.runtime.ClearHistory()
	}
	c.runtime = nil
	c.sessionID = ""
	c.fileRoots = nil

	c.store.ClearBinding()
}

// History returns the live runtime's conversation history, or nil when
// no runtime exists.
func (c *Coordinator) History() []agent.ConversationEntry {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()
	if c.runtime == nil {
		return nil
	}
	return c.runtime.History()
}

// historyDiffEvents reconstructs tool events from the history entries
// appended by one turn. Call ids are matched to names as call-start
// entries are seen; an unmatched result falls back to the raw call id.
func historyDiffEvents(entries []agent.ConversationEntry) []Event {
	events := []Event{}
	names := map[string]string{}

	for _, entry := range entries {
		switch entry.Kind {
		case agent.EntryKindAssistantToolCalls:
			for _, call := range entry.ToolCalls {
				names[call.ID] = call.Name
				events = append(events, toolStartEvent(call.Name, agent.Truncate(call.Arguments, toolArgPreviewChars)))
			}
		case agent.EntryKindToolResults:
			for _, result := range entry.ToolResults {
				name, ok := names[result.ToolCallID]
				if !ok {
					name = result.ToolCallID
				} else {
					delete(names, result.ToolCallID)
				}
				events = append(events, toolEndEvent(name, agent.Truncate(result.Content, toolResultPreviewChars), true))
			}
		}
	}
	return events
}

// enrichMessage prefixes attached file paths as advisory context.
func enrichMessage(text string, files []string) string {
	if len(files) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString("Files attached for context:\n")
	for _, f := range files {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}
