package defload_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/assert"
	"github.com/loomworks/loom/internal/defload"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/api"
)

const flowYAML = `
id: greeter
name: Greeter
trigger: manual
nodes:
  - id: start
    kind: trigger
  - id: greet
    kind: agentCall
    model: greet-model
    prompt: "say hello to ${input.name}"
edges:
  - from: start
    to: greet
`

const orchestrationYAML = `
id: panel
agents:
  - role: alpha
    model: alpha-model
    position: 1
  - role: beta
    model: beta-model
    position: 2
strategy: parallel
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t,
		os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDefinitions(t *testing.T) {
	as := assert.New(t)
	ctx := context.Background()

	st := store.NewMemory()
	defer func() { _ = st.Close() }()

	dir := t.TempDir()
	writeFile(t, dir, "greeter.yaml", flowYAML)
	writeFile(t, dir, "panel.yml", orchestrationYAML)
	writeFile(t, dir, "notes.txt", "not a definition")

	count, err := defload.Load(ctx, st, dir)
	as.NoError(err)
	as.Equal(2, count)

	flow, err := st.GetFlow(ctx, "greeter")
	as.NoError(err)
	as.Len(flow.Nodes, 2)
	as.Equal(api.NodeAgentCall, flow.Nodes[1].Kind)

	orch, err := st.GetOrchestration(ctx, "panel")
	as.NoError(err)
	as.Equal(api.StrategyParallel, orch.Strategy)
	as.Equal(api.DefinitionActive, orch.Status, "status defaults to active")
}

func TestLoadRejectsBadInput(t *testing.T) {
	as := assert.New(t)
	ctx := context.Background()

	t.Run("missing_directory", func(t *testing.T) {
		st := store.NewMemory()
		defer func() { _ = st.Close() }()

		_, err := defload.Load(ctx, st, "/nonexistent/definitions")
		as.ErrorIs(err, defload.ErrLoadDefinition)
	})

	t.Run("unrecognized_document", func(t *testing.T) {
		st := store.NewMemory()
		defer func() { _ = st.Close() }()

		dir := t.TempDir()
		writeFile(t, dir, "odd.yaml", "id: odd\nkind: mystery\n")

		_, err := defload.Load(ctx, st, dir)
		as.ErrorIs(err, defload.ErrUnknownDefinition)
	})

	t.Run("invalid_flow", func(t *testing.T) {
		st := store.NewMemory()
		defer func() { _ = st.Close() }()

		dir := t.TempDir()
		writeFile(t, dir, "broken.yaml", "id: broken\nnodes: []\n")

		_, err := defload.Load(ctx, st, dir)
		as.ErrorIs(err, defload.ErrLoadDefinition)

		_, err = st.GetFlow(ctx, "broken")
		as.ErrorIs(err, store.ErrFlowNotFound)
	})

	t.Run("malformed_yaml", func(t *testing.T) {
		st := store.NewMemory()
		defer func() { _ = st.Close() }()

		dir := t.TempDir()
		writeFile(t, dir, "mangled.yaml", "{{ not yaml")

		_, err := defload.Load(ctx, st, dir)
		as.ErrorIs(err, defload.ErrLoadDefinition)
	})
}
