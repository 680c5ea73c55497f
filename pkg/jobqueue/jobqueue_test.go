package jobqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

func TestEnqueueAndClaimRoundTrip(t *testing.T) {
	q := New(NewInmemStore())
	cmd := core.NewBackgroundCommand("reindex", map[string]any{"resource_id": "r1"}, "corr-1",
		core.JobSpec{JobType: "reindex", MaxRetries: 2})

	require.NoError(t, q.Enqueue(context.Background(), cmd))

	job, err := q.Claim(context.Background(), "worker-1", []string{"reindex"})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "reindex", job.JobType)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, StatusRunning, job.Status)
}

func TestClaimReturnsNilWhenNoEligibleJob(t *testing.T) {
	q := New(NewInmemStore())
	job, err := q.Claim(context.Background(), "worker-1", []string{"reindex"})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestReenqueueingLiveIdempotencyKeyIsNoOp(t *testing.T) {
	store := NewInmemStore()
	q := New(store)
	cmd := core.NewBackgroundCommand("crawl", nil, "corr-1", core.JobSpec{JobType: "crawl", IdempotencyKey: "site-1"})

	require.NoError(t, q.Enqueue(context.Background(), cmd))
	require.NoError(t, q.Enqueue(context.Background(), cmd))

	var count int
	for id := range store.jobs {
		_ = id
		count++
	}
	assert.Equal(t, 1, count, "re-enqueueing a live idempotency key must not create a second row")
}

func TestMarkFailedRetriesWhenRetryableAndAttemptsRemain(t *testing.T) {
	store := NewInmemStore()
	q := New(store)
	require.NoError(t, q.Enqueue(context.Background(), core.NewBackgroundCommand(
		"fetch", nil, "corr-1", core.JobSpec{JobType: "fetch", MaxRetries: 3})))

	job, err := q.Claim(context.Background(), "w1", nil)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(context.Background(), job.ID, errors.New("timeout"), true))

	again, err := q.Claim(context.Background(), "w1", nil)
	require.NoError(t, err)
	require.NotNil(t, again, "a retryable failure under max_retries must return to pending")
	assert.Equal(t, 2, again.Attempts)
}

func TestMarkFailedIsTerminalWhenRetriesExhausted(t *testing.T) {
	store := NewInmemStore()
	q := New(store)
	require.NoError(t, q.Enqueue(context.Background(), core.NewBackgroundCommand(
		"fetch", nil, "corr-1", core.JobSpec{JobType: "fetch", MaxRetries: 1})))

	job, err := q.Claim(context.Background(), "w1", nil)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(context.Background(), job.ID, errors.New("boom"), true))

	again, err := q.Claim(context.Background(), "w1", nil)
	require.NoError(t, err)
	assert.Nil(t, again, "once attempts reach max_retries the job must become terminal, not retry forever")
}

func TestMarkSucceededSetsTerminalStatus(t *testing.T) {
	store := NewInmemStore()
	q := New(store)
	require.NoError(t, q.Enqueue(context.Background(), core.NewBackgroundCommand(
		"fetch", nil, "corr-1", core.JobSpec{JobType: "fetch"})))

	job, err := q.Claim(context.Background(), "w1", nil)
	require.NoError(t, err)
	require.NoError(t, q.MarkSucceeded(context.Background(), job.ID))

	again, err := q.Claim(context.Background(), "w1", nil)
	require.NoError(t, err)
	assert.Nil(t, again)
}
