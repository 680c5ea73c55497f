package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventWithCorrelationPreservesRestOfEvent(t *testing.T) {
	e := NewEvent("resource.submitted", 1, map[string]string{"url": "https://example.org"}, "corr-1")
	e2 := e.WithCorrelation("corr-2")

	assert.Equal(t, CorrelationId("corr-2"), e2.CorrelationId)
	assert.Equal(t, e.Kind, e2.Kind)
	assert.Equal(t, e.Payload, e2.Payload)
	assert.Equal(t, CorrelationId("corr-1"), e.CorrelationId, "original event must not mutate")
}

func TestNewBackgroundCommandCarriesJobSpec(t *testing.T) {
	cmd := NewBackgroundCommand("crawl.discover", nil, "corr-1", JobSpec{
		JobType:        "discover_resource",
		IdempotencyKey: "resource-42",
		MaxRetries:     3,
	})

	assert.Equal(t, ExecutionBackground, cmd.Mode)
	if assert.NotNil(t, cmd.Job) {
		assert.Equal(t, "discover_resource", cmd.Job.JobType)
		assert.Equal(t, "resource-42", cmd.Job.IdempotencyKey)
	}
}

func TestCorrelationIdEmpty(t *testing.T) {
	var c CorrelationId
	assert.True(t, c.Empty())
	assert.False(t, CorrelationId("x").Empty())
}
