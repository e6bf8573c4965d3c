// Package archive copies terminal execution records into blob storage so
// the hot store can be bounded. The archiver is write-behind: records
// remain readable from the store and the copy is idempotent
package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

// Archiver periodically copies aged-out terminal executions to a bucket,
// supporting S3, GCS, Azure Blob Storage, and local files
type Archiver struct {
	store    store.Store
	bucket   *blob.Bucket
	after    time.Duration
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New opens the bucket and creates an archiver. Records whose completion
// is older than after are copied on each interval tick
func New(
	ctx context.Context, st store.Store, bucketURL string,
	after, interval time.Duration,
) (*Archiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewWithBucket(st, bucket, after, interval), nil
}

// NewWithBucket creates an archiver over an already opened bucket
func NewWithBucket(
	st store.Store, bucket *blob.Bucket, after, interval time.Duration,
) *Archiver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		store:    st,
		bucket:   bucket,
		after:    after,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the background archival loop
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop halts the loop and closes the bucket
func (a *Archiver) Stop() error {
	a.cancel()
	a.wg.Wait()
	return a.bucket.Close()
}

// ReadExecution fetches an archived record back out of the bucket
func (a *Archiver) ReadExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.Execution, error) {
	data, err := a.bucket.ReadAll(ctx, keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, store.ErrExecutionNotFound
		}
		return nil, err
	}

	var x api.Execution
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

func (a *Archiver) loop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(a.ctx)
		}
	}
}

// Sweep performs one archival pass, copying every aged-out terminal
// execution. Exposed for tests and manual triggering
func (a *Archiver) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-a.after)

	terminal, err := a.store.ListExecutions(ctx, store.Filter{
		TerminalOnly: true,
	})
	if err != nil {
		slog.Error("Archive listing failed", log.Error(err))
		return
	}

	for _, x := range terminal {
		if x.CompletedAt == nil || x.CompletedAt.After(cutoff) {
			continue
		}
		if err := a.put(ctx, x); err != nil {
			slog.Error("Failed to archive execution",
				log.ExecutionID(x.ID),
				log.Error(err))
		}
	}
}

func (a *Archiver) put(ctx context.Context, x *api.Execution) error {
	exists, err := a.bucket.Exists(ctx, keyFor(x.ID))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	data, err := json.Marshal(x)
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, keyFor(x.ID), data, nil)
}

func keyFor(id api.ExecutionID) string {
	return "executions/" + string(id) + ".json"
}
