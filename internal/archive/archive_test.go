package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/assert"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/api"
)

func terminalExecution(
	t *testing.T, st store.Store, id api.ExecutionID, completed time.Time,
) {
	ctx := context.Background()
	require.NoError(t, st.CreateExecution(ctx, &api.Execution{
		ID:        id,
		Mode:      api.ModeFlow,
		Status:    api.ExecutionPending,
		StartedAt: completed.Add(-time.Minute),
	}))
	_, err := st.UpdateExecution(ctx, id,
		func(x *api.Execution) (*api.Execution, error) {
			return x.
				SetStatus(api.ExecutionRunning), nil
		},
	)
	require.NoError(t, err)
	_, err = st.UpdateExecution(ctx, id,
		func(x *api.Execution) (*api.Execution, error) {
			return x.
				SetStatus(api.ExecutionCompleted).
				SetOutput("done").
				SetCompletedAt(completed), nil
		},
	)
	require.NoError(t, err)
}

func TestSweepArchivesAgedTerminal(t *testing.T) {
	as := assert.New(t)
	ctx := context.Background()

	st := store.NewMemory()
	defer func() { _ = st.Close() }()
	bucket := memblob.OpenBucket(nil)

	a := archive.NewWithBucket(st, bucket, time.Hour, time.Minute)
	defer func() { _ = a.Stop() }()

	terminalExecution(t, st, "old", time.Now().Add(-2*time.Hour))
	terminalExecution(t, st, "fresh", time.Now())

	// Still pending; never eligible regardless of age
	require.NoError(t, st.CreateExecution(ctx, &api.Execution{
		ID:        "live",
		Mode:      api.ModeFlow,
		Status:    api.ExecutionPending,
		StartedAt: time.Now().Add(-3 * time.Hour),
	}))

	a.Sweep(ctx)

	got, err := a.ReadExecution(ctx, "old")
	as.NoError(err)
	as.Equal(api.ExecutionID("old"), got.ID)
	as.Equal(api.ExecutionCompleted, got.Status)
	as.Equal("done", got.Output)

	_, err = a.ReadExecution(ctx, "fresh")
	as.ErrorIs(err, store.ErrExecutionNotFound)

	_, err = a.ReadExecution(ctx, "live")
	as.ErrorIs(err, store.ErrExecutionNotFound)

	// The record stays readable from the hot store after archival
	hot, err := st.GetExecution(ctx, "old")
	as.NoError(err)
	as.Equal(api.ExecutionCompleted, hot.Status)
}

func TestSweepIsIdempotent(t *testing.T) {
	as := assert.New(t)
	ctx := context.Background()

	st := store.NewMemory()
	defer func() { _ = st.Close() }()
	bucket := memblob.OpenBucket(nil)

	a := archive.NewWithBucket(st, bucket, time.Hour, time.Minute)
	defer func() { _ = a.Stop() }()

	terminalExecution(t, st, "stable", time.Now().Add(-2*time.Hour))

	a.Sweep(ctx)
	first, err := a.ReadExecution(ctx, "stable")
	require.NoError(t, err)

	a.Sweep(ctx)
	second, err := a.ReadExecution(ctx, "stable")
	require.NoError(t, err)
	as.Equal(first, second)
}

func TestReadExecutionMissing(t *testing.T) {
	as := assert.New(t)

	st := store.NewMemory()
	defer func() { _ = st.Close() }()

	a := archive.NewWithBucket(
		st, memblob.OpenBucket(nil), time.Hour, time.Minute,
	)
	defer func() { _ = a.Stop() }()

	_, err := a.ReadExecution(context.Background(), "nowhere")
	as.ErrorIs(err, store.ErrExecutionNotFound)
}
