package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	resp    Response
	err     error
	lastReq Request
	calls   int
}

func (f *fakeService) Complete(_ context.Context, req Request) (Response, error) {
	f.calls++
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeService) StructuredOutput(_ context.Context, req Request, _ json.RawMessage, out any) error {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.resp.Text), out)
}

func TestAdaptiveLimiterPassesThroughSuccessfulCall(t *testing.T) {
	fake := &fakeService{resp: Response{Text: "ok"}}
	limiter := NewAdaptiveLimiter(60000, 120000)
	svc := limiter.Wrap(fake)

	resp, err := svc.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 1, fake.calls)
}

func TestAdaptiveLimiterHalvesBudgetOnRateLimitedError(t *testing.T) {
	fake := &fakeService{err: ErrRateLimited}
	limiter := NewAdaptiveLimiter(1000, 2000)
	svc := limiter.Wrap(fake)

	_, err := svc.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	assert.ErrorIs(t, err, ErrRateLimited)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Less(t, limiter.currentTPM, 1000.0, "a rate-limited response must shrink the effective budget")
}

func TestAdaptiveLimiterProbesUpAfterSuccessBelowCeiling(t *testing.T) {
	fake := &fakeService{resp: Response{Text: "ok"}}
	limiter := NewAdaptiveLimiter(1000, 2000)
	limiter.mu.Lock()
	limiter.currentTPM = 500
	limiter.mu.Unlock()
	svc := limiter.Wrap(fake)

	_, err := svc.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	require.NoError(t, err)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Greater(t, limiter.currentTPM, 500.0, "a successful response must probe the budget back up")
}

func TestAdaptiveLimiterNeverExceedsConfiguredCeiling(t *testing.T) {
	fake := &fakeService{resp: Response{Text: "ok"}}
	limiter := NewAdaptiveLimiter(1000, 1050)
	svc := limiter.Wrap(fake)

	for i := 0; i < 20; i++ {
		_, _ = svc.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.LessOrEqual(t, limiter.currentTPM, 1050.0)
}

func TestEstimateTokensHasAFloorForEmptyMessages(t *testing.T) {
	assert.Equal(t, 500, estimateTokens(Request{}))
}

func TestEstimateTokensScalesWithCharacterCount(t *testing.T) {
	short := estimateTokens(Request{Messages: []Message{{Text: "hi"}}})
	long := estimateTokens(Request{Messages: []Message{{Text: string(make([]byte, 3000))}}})
	assert.Greater(t, long, short)
}
