package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskclaw/deskclaw/internal/config"
	"github.com/deskclaw/deskclaw/pkg/agent"
)

// stubProvider answers every call with the scripted responses in order,
// optionally blocking first.
type stubProvider struct {
	mu        sync.Mutex
	responses []*agent.LLMResponse
	delay     time.Duration
	err       error
}

func (p *stubProvider) Provider() string { return "stub" }

func (p *stubProvider) Call(ctx context.Context, _ agent.LLMRequest) (*agent.LLMResponse, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &agent.LLMResponse{Content: "ok"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

type testEnv struct {
	store       *config.Store
	coordinator *Coordinator
	provider    *stubProvider
	builds      *int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Provider = config.ProviderOllama
	cfg.Model = "llama3"
	cfg.DataDir = dataDir
	cfg.WorkspaceRoot = dataDir + "/workspace"

	store := config.NewStore()
	store.Load(cfg)

	provider := &stubProvider{}
	builds := 0
	coord, err := New(Options{
		Store:  store,
		Logger: zerolog.Nop(),
		Runtime: func(opts agent.Options) (*agent.Runtime, error) {
			builds++
			opts.LLM = provider
			return agent.New(opts)
		},
	})
	require.NoError(t, err)

	return &testEnv{store: store, coordinator: coord, provider: provider, builds: &builds}
}

func TestEnsureSessionReady(t *testing.T) {
	ctx := context.Background()

	t.Run("fails when config not loaded", func(t *testing.T) {
		coord, err := New(Options{Store: config.NewStore(), Logger: zerolog.Nop()})
		require.NoError(t, err)
		assert.ErrorIs(t, coord.EnsureSessionReady(ctx, "s1", nil), ErrNotInitialized)
	})

	t.Run("fails without credential for keyed provider", func(t *testing.T) {
		env := newTestEnv(t)
		snapshot, _ := env.store.Snapshot()
		snapshot.Provider = "anthropic"
		snapshot.APIKey = ""
		env.store.Load(snapshot)

		assert.ErrorIs(t, env.coordinator.EnsureSessionReady(ctx, "s1", nil), ErrMissingCredential)
	})

	t.Run("idempotent for identical session and roots", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s1", []string{"/tmp/a.txt"}))
		require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s1", []string{"/tmp/a.txt"}))
		assert.Equal(t, 1, *env.builds)
	})

	t.Run("rebuilds on session switch", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s1", nil))
		require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s2", nil))
		assert.Equal(t, 2, *env.builds)
	})

	t.Run("rebuilds on file root change", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s1", nil))
		require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s1", []string{"/tmp/a.txt"}))
		assert.Equal(t, 2, *env.builds)
	})

	t.Run("rebuilds after config update", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s1", nil))

		model := "llama3.1"
		env.store.Update(config.Patch{Model: &model})

		require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s1", nil))
		assert.Equal(t, 2, *env.builds)
	})

	t.Run("records session binding", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s1", []string{"/tmp/a.txt"}))

		binding := env.store.Binding()
		assert.Equal(t, "s1", binding.SessionID)
		assert.Equal(t, []string{"/tmp/a.txt"}, binding.FileRoots)
	})
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("buffered turn yields tool events then text and complete", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.responses = []*agent.LLMResponse{
			{ToolCalls: []agent.ToolCall{
				{ID: "c1", Name: "read_file", Arguments: `{"path":"a"}`},
				{ID: "c2", Name: "write_file", Arguments: `{"path":"b"}`},
			}},
			{Content: "all done", Usage: &agent.TokenUsage{InputTokens: 7, OutputTokens: 3}},
		}

		events := env.coordinator.SendMessage(ctx, "s1", "do it", nil)

		kinds := []EventKind{}
		for _, ev := range events {
			kinds = append(kinds, ev.Kind)
		}
		assert.Equal(t, []EventKind{
			EventToolCallStart, EventToolCallStart,
			EventToolCallEnd, EventToolCallEnd,
			EventTextDelta, EventMessageComplete,
		}, kinds)

		assert.Equal(t, "read_file", events[0].Name)
		assert.Equal(t, "read_file", events[2].Name)
		assert.True(t, events[2].Success)
		assert.Equal(t, "all done", events[4].Text)
	})

	t.Run("start and end counts match per turn", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.responses = []*agent.LLMResponse{
			{ToolCalls: []agent.ToolCall{{ID: "c1", Name: "echo", Arguments: "{}"}}},
			{Content: "done"},
		}

		events := env.coordinator.SendMessage(ctx, "s1", "go", nil)

		starts, ends := 0, 0
		for _, ev := range events {
			switch ev.Kind {
			case EventToolCallStart:
				starts++
			case EventToolCallEnd:
				ends++
			}
		}
		assert.Equal(t, starts, ends)
		assert.Equal(t, 1, starts)
	})

	t.Run("turn failure yields a single error event", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.err = fmt.Errorf("provider exploded")

		events := env.coordinator.SendMessage(ctx, "s1", "hi", nil)

		require.Len(t, events, 1)
		assert.Equal(t, EventError, events[0].Kind)
		assert.Contains(t, events[0].Message, "provider exploded")
	})

	t.Run("attached files are prefixed as context", func(t *testing.T) {
		assert.Equal(t, "hi", enrichMessage("hi", nil))

		enriched := enrichMessage("hi", []string{"/tmp/a.txt"})
		assert.Contains(t, enriched, "/tmp/a.txt")
		assert.Contains(t, enriched, "hi")
	})
}

func TestSendMessageStream(t *testing.T) {
	ctx := context.Background()

	collect := func(env *testEnv, text string) []Event {
		var mu sync.Mutex
		var events []Event
		env.coordinator.SendMessageStream(ctx, "s1", text, nil, func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		})
		return events
	}

	t.Run("thinking first, complete last", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.responses = []*agent.LLMResponse{{Content: "streamed answer"}}

		events := collect(env, "hi")

		require.NotEmpty(t, events)
		assert.Equal(t, EventThinking, events[0].Kind)
		assert.Equal(t, EventMessageComplete, events[len(events)-1].Kind)
	})

	t.Run("final text arrives chunked", func(t *testing.T) {
		env := newTestEnv(t)
		long := ""
		for i := 0; i < 10; i++ {
			long += "0123456789"
		}
		env.provider.responses = []*agent.LLMResponse{{Content: long}}

		events := collect(env, "hi")

		rebuilt := ""
		textEvents := 0
		for _, ev := range events {
			if ev.Kind == EventTextDelta {
				textEvents++
				rebuilt += ev.Text
			}
		}
		assert.Equal(t, long, rebuilt)
		assert.Greater(t, textEvents, 1)
	})

	t.Run("timeout yields one error and no complete", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.delay = 500 * time.Millisecond
		env.coordinator.turnTimeout = 50 * time.Millisecond
		env.coordinator.drainGrace = 50 * time.Millisecond

		events := collect(env, "hi")

		errorCount := 0
		for _, ev := range events {
			assert.NotEqual(t, EventMessageComplete, ev.Kind)
			if ev.Kind == EventError {
				errorCount++
			}
		}
		assert.Equal(t, 1, errorCount)
		assert.Equal(t, timeoutMessage, events[len(events)-1].Message)
	})

	t.Run("deadline from the provider surfaces as timeout", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.err = fmt.Errorf("provider call failed: %w", context.DeadlineExceeded)

		events := collect(env, "hi")

		last := events[len(events)-1]
		assert.Equal(t, EventError, last.Kind)
		assert.Equal(t, timeoutMessage, last.Message)
	})

	t.Run("turn failure yields error with cause", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.err = fmt.Errorf("stream broke")

		events := collect(env, "hi")

		last := events[len(events)-1]
		assert.Equal(t, EventError, last.Kind)
		assert.Contains(t, last.Message, "stream broke")
	})
}

func TestConfigReadNeverBlocksOnTurn(t *testing.T) {
	env := newTestEnv(t)
	env.provider.delay = 300 * time.Millisecond

	ctx := context.Background()
	require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s1", nil))

	turnDone := make(chan struct{})
	go func() {
		defer close(turnDone)
		env.coordinator.SendMessage(ctx, "s1", "slow", nil)
	}()

	// Give the turn time to enter the provider call.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	_, ok := env.store.Snapshot()
	elapsed := time.Since(start)

	assert.True(t, ok)
	assert.Less(t, elapsed, 100*time.Millisecond, "config read must not wait for the turn")

	<-turnDone
}

func TestSessionSwitchClearsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.provider.responses = []*agent.LLMResponse{{Content: "first"}}
	events := env.coordinator.SendMessage(ctx, "s1", "hello", nil)
	require.NotEmpty(t, events)
	require.NotEmpty(t, env.coordinator.History())

	require.NoError(t, env.coordinator.EnsureSessionReady(ctx, "s2", nil))
	assert.Empty(t, env.coordinator.History(), "new session starts with empty history")
}

func TestWorkspaceHelpers(t *testing.T) {
	t.Run("session workspace is provisioned with memory link", func(t *testing.T) {
		root := t.TempDir()
		data := t.TempDir()

		dir, err := sessionWorkspace(root, data, "sess/../01")
		require.NoError(t, err)
		assert.DirExists(t, dir)

		// Idempotent.
		again, err := sessionWorkspace(root, data, "sess/../01")
		require.NoError(t, err)
		assert.Equal(t, dir, again)
	})

	t.Run("allowlist extension adds files and parents deduplicated", func(t *testing.T) {
		out := extendAllowlist(
			[]string{"/srv/base"},
			[]string{"/tmp/docs/a.txt", "/tmp/docs/b.txt"},
		)
		assert.Equal(t, []string{"/srv/base", "/tmp/docs/a.txt", "/tmp/docs", "/tmp/docs/b.txt"}, out)
	})
}
