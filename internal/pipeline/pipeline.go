// Package pipeline turns storage events into image derivatives. Each
// uploaded original fans out into a fixed matrix of resized, re-encoded
// copies which are published back to the blob store and merged into the
// owning shop or product record. Deletion events mirror the matrix by
// removing every derivative the original could have produced.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/shopforge/shopforge/internal/blobstore"
	"github.com/shopforge/shopforge/internal/derivative"
	"github.com/shopforge/shopforge/internal/locator"
	"github.com/shopforge/shopforge/internal/queue"
)

// Failure classes of a pipeline run. Each wraps the underlying cause so
// callers can branch on the stage with errors.Is.
var (
	ErrDownload  = errors.New("download original")
	ErrGenerate  = errors.New("generate derivative")
	ErrPublish   = errors.New("publish derivative")
	ErrReconcile = errors.New("reconcile owning record")
)

// BlobStore is the slice of object storage the pipeline needs.
type BlobStore interface {
	DownloadTo(ctx context.Context, key, dest string) error
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	ListPrefix(ctx context.Context, prefix string) ([]blobstore.ObjectInfo, error)
}

// Reconciler merges a run's derivative set into the owning record.
type Reconciler interface {
	Apply(ctx context.Context, originalKey string, target locator.Target, set derivative.Set) error
}

// Options tune one worker's pipeline behaviour.
type Options struct {
	// Parallelism bounds how many matrix cells encode and publish at once.
	Parallelism int
	// TempRetention is how long scratch uploads under temp/ may live
	// before the sweep removes them.
	TempRetention time.Duration
}

// Pipeline is plugged into the asynq worker loop.
type Pipeline struct {
	blobs         BlobStore
	reconciler    Reconciler
	log           *slog.Logger
	parallelism   int
	tempRetention time.Duration
}

// New constructs a Pipeline.
func New(blobs BlobStore, reconciler Reconciler, log *slog.Logger, opts Options) *Pipeline {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	retention := opts.TempRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Pipeline{
		blobs:         blobs,
		reconciler:    reconciler,
		log:           log,
		parallelism:   parallelism,
		tempRetention: retention,
	}
}

// Handler registers the storage event handlers.
func (p *Pipeline) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ObjectFinalizedTask, p.HandleObjectFinalized)
	mux.HandleFunc(queue.ObjectDeletedTask, p.HandleObjectDeleted)
	mux.HandleFunc(queue.TempSweepTask, p.HandleTempSweep)
	return mux
}

// HandleObjectFinalized runs the derivative pipeline for one uploaded
// object. Keys the locator does not recognize, including the pipeline's
// own processed/ output, end the run successfully with no side effects.
func (p *Pipeline) HandleObjectFinalized(ctx context.Context, task *asynq.Task) error {
	var payload queue.ObjectFinalizedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	target := locator.Classify(payload.ObjectKey, payload.ContentType)
	if target.Kind == locator.KindUnrecognized {
		p.log.Debug("object outside the pipeline, skipping",
			"object_key", payload.ObjectKey, "content_type", payload.ContentType)
		return nil
	}
	started := time.Now()
	set, err := p.process(ctx, payload, target)
	if err != nil {
		p.log.Error("pipeline run failed",
			"object_key", payload.ObjectKey, "kind", string(target.Kind), "error", err)
		return err
	}
	p.log.Info("pipeline run complete",
		"object_key", payload.ObjectKey, "kind", string(target.Kind),
		"derivatives", len(set), "elapsed", time.Since(started))
	return nil
}

func (p *Pipeline) process(ctx context.Context, payload queue.ObjectFinalizedPayload, target locator.Target) (derivative.Set, error) {
	scratch, err := os.MkdirTemp("", "shopforge-run-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	original := filepath.Join(scratch, target.FileName)
	if err := p.blobs.DownloadTo(ctx, payload.ObjectKey, original); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	src, err := derivative.Open(original)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerate, err)
	}

	// Fan the matrix out over a bounded group. Cells only read the decoded
	// original, so they are independent; the Wait below is the join barrier
	// in front of reconciliation.
	specs := derivative.Matrix()
	results := make([]derivative.Locator, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, spec := range specs {
		g.Go(func() error {
			data, err := derivative.Generate(src, spec)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrGenerate, err)
			}
			key := derivative.Key(payload.ObjectKey, spec)
			if err := p.blobs.Upload(gctx, key, data, derivative.ContentType(spec.Format)); err != nil {
				return fmt.Errorf("%w: %w", ErrPublish, err)
			}
			results[i] = derivative.Locator{
				SizeLabel: spec.SizeLabel,
				Format:    spec.Format,
				Key:       key,
				URL:       p.blobs.PublicURL(key),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := make(derivative.Set, len(results))
	for _, loc := range results {
		set[derivative.SetKey(loc.SizeLabel, loc.Format)] = loc
	}
	if err := p.reconciler.Apply(ctx, payload.ObjectKey, target, set); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReconcile, err)
	}
	return set, nil
}

// HandleObjectDeleted mirrors a deletion by removing every derivative the
// original key maps to. The key set is computed, never listed, so this
// works even when some derivatives were never written; per-key failures
// are logged and do not stop the remaining deletions.
func (p *Pipeline) HandleObjectDeleted(ctx context.Context, task *asynq.Task) error {
	var payload queue.ObjectDeletedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if locator.Reserved(payload.ObjectKey) {
		return nil
	}
	failed := 0
	for _, key := range derivative.Keys(payload.ObjectKey) {
		if err := p.blobs.Delete(ctx, key); err != nil {
			failed++
			p.log.Warn("derivative delete failed", "key", key, "error", err)
		}
	}
	p.log.Info("derivatives removed",
		"object_key", payload.ObjectKey, "failed", failed)
	return nil
}

// HandleTempSweep removes scratch uploads under temp/ that outlived the
// retention window.
func (p *Pipeline) HandleTempSweep(ctx context.Context, task *asynq.Task) error {
	cutoff := time.Now().Add(-p.tempRetention)
	objects, err := p.blobs.ListPrefix(ctx, locator.TempSegment+"/")
	if err != nil {
		return fmt.Errorf("list temp objects: %w", err)
	}
	swept := 0
	for _, obj := range objects {
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := p.blobs.Delete(ctx, obj.Key); err != nil {
			p.log.Warn("temp object delete failed", "key", obj.Key, "error", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		p.log.Info("temp objects swept", "count", swept)
	}
	return nil
}
