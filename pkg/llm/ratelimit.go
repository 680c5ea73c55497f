package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"
)

// AdaptiveLimiter applies an AIMD-style adaptive token bucket in front of a
// Service, grounded directly on the teacher's
// features/model/middleware.AdaptiveRateLimiter: it estimates the token
// cost of each request, blocks until budget is available, halves its
// effective tokens-per-minute budget on ErrRateLimited, and otherwise
// recovers linearly. Unlike pkg/crawler/ingestor's fixed-rate per-host
// limiter, the LLM provider client legitimately needs this adaptive
// behavior since providers signal their own backoff pressure back to the
// caller.
type AdaptiveLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// clusterMap is the subset of rmap.Map the cluster-aware constructor needs,
// kept narrow so tests can substitute a fake instead of a live Pulse map.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
	Subscribe() <-chan rmap.EventKind
}

type rmapClusterMap struct{ m *rmap.Map }

func (m *rmapClusterMap) Get(key string) (string, bool) { return m.m.Get(key) }
func (m *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}
func (m *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}
func (m *rmapClusterMap) Subscribe() <-chan rmap.EventKind { return m.m.Subscribe() }

// NewAdaptiveLimiter constructs a process-local AdaptiveLimiter with the
// given tokens-per-minute budget and ceiling.
func NewAdaptiveLimiter(initialTPM, maxTPM float64) *AdaptiveLimiter {
	return newClusterAdaptiveLimiter(context.Background(), nil, "", initialTPM, maxTPM)
}

// NewClusterAdaptiveLimiter constructs an AdaptiveLimiter that coordinates
// its effective budget across processes via a Pulse replicated map keyed by
// key, so every worker sharing one LLM provider account backs off together
// rather than each discovering the provider's limit independently.
func NewClusterAdaptiveLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveLimiter {
	var cm clusterMap
	if m != nil {
		cm = &rmapClusterMap{m: m}
	}
	return newClusterAdaptiveLimiter(ctx, cm, key, initialTPM, maxTPM)
}

func newClusterAdaptiveLimiter(ctx context.Context, m clusterMap, key string, initialTPM, maxTPM float64) *AdaptiveLimiter {
	l := newLocalLimiter(initialTPM, maxTPM)
	if m == nil || key == "" {
		return l
	}

	if _, ok := m.Get(key); !ok {
		_, _ = m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM)))
	}
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			l.replaceTPM(v)
		}
	}

	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(cur, 64)
			if err != nil || v <= 0 {
				continue
			}
			l.replaceTPM(v)
		}
	}()

	return l
}

func newLocalLimiter(initialTPM, maxTPM float64) *AdaptiveLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a Service that enforces this limiter in front of next.
func (l *AdaptiveLimiter) Wrap(next Service) Service {
	return &limitedService{next: next, limiter: l}
}

type limitedService struct {
	next    Service
	limiter *AdaptiveLimiter
}

func (s *limitedService) Complete(ctx context.Context, req Request) (Response, error) {
	if err := s.limiter.wait(ctx, req); err != nil {
		return Response{}, err
	}
	resp, err := s.next.Complete(ctx, req)
	s.limiter.observe(err)
	return resp, err
}

func (s *limitedService) StructuredOutput(ctx context.Context, req Request, schema json.RawMessage, out any) error {
	if err := s.limiter.wait(ctx, req); err != nil {
		return err
	}
	err := s.next.StructuredOutput(ctx, req, schema, out)
	s.limiter.observe(err)
	return err
}

func (l *AdaptiveLimiter) wait(ctx context.Context, req Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM * 0.5
	if next < l.minTPM {
		next = l.minTPM
	}
	l.setTPMLocked(next)
}

func (l *AdaptiveLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM + l.recoveryRate
	if next > l.maxTPM {
		next = l.maxTPM
	}
	l.setTPMLocked(next)
}

func (l *AdaptiveLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	l.setTPMLocked(tpm)
}

func (l *AdaptiveLimiter) setTPMLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens is a cheap character-count heuristic, grounded on the
// teacher's identical estimateTokens in features/model/middleware.
func estimateTokens(req Request) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Text)
	}
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
