package main

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fourthplaces/seesaw/pkg/extraction/candidates"
	"github.com/fourthplaces/seesaw/pkg/extraction/sync"
	"github.com/fourthplaces/seesaw/pkg/extraction/toolloop"
)

// handoffStore is the in-process registry activities use to pass domain
// objects (candidates, enriched posts, merged entities, proposals) between
// Temporal activity invocations by ID, since workflows.go's steps address
// each other's output by opaque string id rather than by value.
//
// A production deployment would persist these to Postgres the same way
// pkg/extraction/cache persists pages and summaries, so that activities for
// one workflow run can land on different worker processes; no such schema
// is named anywhere in SPEC_FULL.md for intermediate candidates/entities/
// proposals, so inventing one here would be scope creep beyond what the
// spec asks this exercise to build. This registry is therefore scoped to a
// single worker process and documented as a known simplification rather
// than silently assumed.
// candidateEntry pairs a Pass 2 candidate with the resource it was
// extracted from, so EnrichCandidate can build a site-scoped tool loop
// (search_site is bound to one site at construction) without the caller
// having to thread resource_id through every activity input.
type candidateEntry struct {
	Candidate  candidates.Candidate
	ResourceID string
}

type handoffStore struct {
	mu         sync.Mutex
	candidates map[string]candidateEntry
	enriched   map[string]*toolloop.EnrichedPost
	entities   map[string][]*toolloop.EnrichedPost // merge batch id -> merged posts
	proposals  map[string]sync.Proposal
}

func newHandoffStore() *handoffStore {
	return &handoffStore{
		candidates: make(map[string]candidateEntry),
		enriched:   make(map[string]*toolloop.EnrichedPost),
		entities:   make(map[string][]*toolloop.EnrichedPost),
		proposals:  make(map[string]sync.Proposal),
	}
}

func (s *handoffStore) putCandidate(resourceID string, c candidates.Candidate) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.candidates[id] = candidateEntry{Candidate: c, ResourceID: resourceID}
	return id
}

func (s *handoffStore) getCandidate(id string) (candidateEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	return c, ok
}

func (s *handoffStore) putEnriched(p *toolloop.EnrichedPost) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.enriched[id] = p
	return id
}

func (s *handoffStore) getEnriched(ids []string) []*toolloop.EnrichedPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*toolloop.EnrichedPost, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.enriched[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *handoffStore) putEntities(posts []*toolloop.EnrichedPost) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.entities[id] = posts
	return id
}

func (s *handoffStore) getEntities(ids []string) []*toolloop.EnrichedPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*toolloop.EnrichedPost
	for _, id := range ids {
		out = append(out, s.entities[id]...)
	}
	return out
}

func (s *handoffStore) putProposal(p sync.Proposal) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.proposals[id] = p
	return id
}

func (s *handoffStore) getProposal(id string) (sync.Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	return p, ok
}

// otpStore is a minimal in-memory one-time-code store for the newsletter
// double opt-in (§4.D's subscribe_newsletter/confirm_newsletter). A
// production deployment would persist codes in Redis with a TTL; the
// Config already carries a RedisURL for exactly that, but no OTP schema is
// named in SPEC_FULL.md, so this stays in-process like handoffStore above
// rather than inventing one.
type otpStore struct {
	mu    sync.Mutex
	codes map[string]otpEntry
}

type otpEntry struct {
	code      string
	expiresAt time.Time
}

func newOTPStore() *otpStore {
	return &otpStore{codes: make(map[string]otpEntry)}
}

const otpTTL = 10 * time.Minute

func (s *otpStore) issue(email string) (string, error) {
	code, err := randomOTP()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email] = otpEntry{code: code, expiresAt: time.Now().Add(otpTTL)}
	return code, nil
}

func (s *otpStore) verify(email, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.codes[email]
	if !ok {
		return false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.codes, email)
		return false, nil
	}
	if entry.code != code {
		return false, nil
	}
	delete(s.codes, email)
	return true, nil
}

func randomOTP() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("otp: generate: %w", err)
	}
	n := (uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])) % 1000000
	return fmt.Sprintf("%06d", n), nil
}
