// Package jobqueue implements the §6 job-queue contract: enqueue, claim,
// mark_succeeded, mark_failed over persistent job records, with
// idempotency keyed by (job_type, idempotency_key) and skip-locked claim
// semantics so concurrent workers never execute the same job twice.
package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// Status is a job record's lifecycle state (§4.B glossary "Job record").
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is the persistent row for a background command.
type Job struct {
	ID             string
	JobType        string
	ReferenceID    string
	IdempotencyKey string
	Payload        []byte
	Status         Status
	Attempts       int
	MaxRetries     int
	Priority       int
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// Store is the storage contract a Queue is built on.
type Store interface {
	// Insert inserts a new pending job. If a job with the same
	// (job_type, idempotency_key) already exists and is not terminal
	// (succeeded/failed), Insert is a no-op and returns the existing job's
	// ID (§4.B "re-enqueueing a live key is a no-op").
	Insert(ctx context.Context, j Job) (id string, err error)
	// Claim atomically selects one pending job of one of the given types
	// (or any type if types is empty), marks it running, and returns it.
	// Implementations use "FOR UPDATE SKIP LOCKED"-equivalent semantics so
	// two concurrent Claim calls never return the same job.
	Claim(ctx context.Context, workerID string, types []string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string) error
	// MarkFailed records the failure. If retryable and attempts remain
	// under max_retries, the job returns to pending for another claim;
	// otherwise it becomes terminal (StatusFailed).
	MarkFailed(ctx context.Context, id string, errMsg string, retryable bool) error
}

// Queue is the job-queue façade used by the dispatcher (as a
// dispatch.JobEnqueuer) and by worker processes (as a claim loop driver).
type Queue struct {
	store Store
}

// New constructs a Queue over store.
func New(store Store) *Queue {
	return &Queue{store: store}
}

// Enqueue serializes cmd's job_spec into a Job row. It satisfies
// pkg/seesaw/dispatch.JobEnqueuer.
func (q *Queue) Enqueue(ctx context.Context, cmd core.Command) error {
	if cmd.Job == nil {
		return core.NewError(core.CategoryFatal, "jobqueue: command has no job_spec")
	}
	payload, err := encodePayload(cmd.Payload)
	if err != nil {
		return core.Wrap(core.CategoryFatal, "jobqueue: encode payload", err)
	}
	_, err = q.store.Insert(ctx, Job{
		JobType:        cmd.Job.JobType,
		ReferenceID:    string(cmd.CorrelationId),
		IdempotencyKey: cmd.Job.IdempotencyKey,
		Payload:        payload,
		Status:         StatusPending,
		MaxRetries:     cmd.Job.MaxRetries,
		Priority:       cmd.Job.Priority,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return core.Wrap(core.CategoryTransient, "jobqueue: insert", err)
	}
	return nil
}

// Claim hands the next eligible job of one of types to workerID.
func (q *Queue) Claim(ctx context.Context, workerID string, types []string) (*Job, error) {
	job, err := q.store.Claim(ctx, workerID, types)
	if err != nil {
		return nil, core.Wrap(core.CategoryTransient, "jobqueue: claim", err)
	}
	return job, nil
}

// MarkSucceeded records a successful completion.
func (q *Queue) MarkSucceeded(ctx context.Context, id string) error {
	if err := q.store.MarkSucceeded(ctx, id); err != nil {
		return core.Wrap(core.CategoryTransient, "jobqueue: mark succeeded", err)
	}
	return nil
}

// MarkFailed records a failure, retrying if retryable and attempts remain.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error, retryable bool) error {
	if err := q.store.MarkFailed(ctx, id, cause.Error(), retryable); err != nil {
		return core.Wrap(core.CategoryTransient, "jobqueue: mark failed", err)
	}
	return nil
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	if b, ok := payload.([]byte); ok {
		return b, nil
	}
	return json.Marshal(payload)
}
