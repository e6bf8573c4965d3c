// Package helpers provides shared fixtures for engine tests: an
// in-process engine wired to a mock reasoning provider and adapter
// registry, plus definition factories
package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapter"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/api"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine   *engine.Engine
	Store    store.Store
	Provider *MockProvider
	Adapters *adapter.Registry
	Hub      *events.Loopback
	Config   *config.Config
	Cleanup  func()
}

// DefaultWaitTimeout bounds how long tests wait for async dispatch
const DefaultWaitTimeout = 5 * time.Second

// NewTestEngineEnv creates an engine over the in-memory store with
// fast retry timings suitable for tests
func NewTestEngineEnv(t *testing.T) *TestEngineEnv {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.AgentTimeout = time.Second
	cfg.AdapterTimeout = time.Second
	cfg.Retry = api.RetryPolicy{
		MaxRetries:  2,
		InitBackoff: 1,
		MaxBackoff:  10,
		BackoffType: api.BackoffTypeFixed,
	}
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second

	st := store.NewMemory()
	p := NewMockProvider()
	adapters := adapter.NewRegistry(nil)
	hub := events.NewLoopback()

	eng := engine.New(st, p, adapters, hub, cfg)
	eng.Start()

	env := &TestEngineEnv{
		Engine:   eng,
		Store:    st,
		Provider: p,
		Adapters: adapters,
		Hub:      hub,
		Config:   cfg,
	}
	env.Cleanup = func() {
		require.NoError(t, eng.Stop())
		_ = hub.Close()
		_ = st.Close()
	}
	return env
}

// Submit submits an execution, failing the test on error
func (env *TestEngineEnv) Submit(
	t *testing.T, req *api.SubmitRequest,
) *api.Execution {
	t.Helper()
	x, err := env.Engine.Submit(context.Background(), req)
	require.NoError(t, err)
	return x
}

// WaitTerminal polls until the execution reaches a terminal status and
// returns the final record
func (env *TestEngineEnv) WaitTerminal(
	t *testing.T, id api.ExecutionID,
) *api.Execution {
	t.Helper()

	deadline := time.Now().Add(DefaultWaitTimeout)
	for time.Now().Before(deadline) {
		x, err := env.Store.GetExecution(context.Background(), id)
		require.NoError(t, err)
		if x.Status.Terminal() {
			return x
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("execution %s did not reach a terminal status", id)
	return nil
}

// PutFlow stores a flow definition, failing the test on error
func (env *TestEngineEnv) PutFlow(t *testing.T, def *api.FlowDefinition) {
	t.Helper()
	require.NoError(t, env.Store.PutFlow(context.Background(), def))
}

// PutOrchestration stores an orchestration definition, failing the test
// on error
func (env *TestEngineEnv) PutOrchestration(
	t *testing.T, def *api.OrchestrationDefinition,
) {
	t.Helper()
	require.NoError(t,
		env.Store.PutOrchestration(context.Background(), def))
}
