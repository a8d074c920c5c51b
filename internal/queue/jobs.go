// Package queue defines the storage events exchanged between the API
// server and the pipeline worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ObjectFinalizedTask fires after an object write completes.
	ObjectFinalizedTask = "storage:object_finalized"
	// ObjectDeletedTask fires after an object is removed.
	ObjectDeletedTask = "storage:object_deleted"
	// TempSweepTask runs on a schedule and clears stale scratch uploads.
	TempSweepTask = "storage:temp_sweep"
)

// ObjectFinalizedPayload is serialized into the task payload so the worker
// knows which object landed in the bucket.
type ObjectFinalizedPayload struct {
	Bucket      string `json:"bucket"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
}

// ObjectDeletedPayload describes a removed object. Deletion events carry
// no content type.
type ObjectDeletedPayload struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

// EnqueueObjectFinalized enqueues a finalized event for the worker.
func EnqueueObjectFinalized(ctx context.Context, client *asynq.Client, payload ObjectFinalizedPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ObjectFinalizedTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue finalized event: %w", err)
	}
	return nil
}

// EnqueueObjectDeleted enqueues a deleted event for the worker.
func EnqueueObjectDeleted(ctx context.Context, client *asynq.Client, payload ObjectDeletedPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ObjectDeletedTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue deleted event: %w", err)
	}
	return nil
}
