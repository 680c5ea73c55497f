// Package sync implements Pass 5 of the extraction pipeline (§4.F.5): an
// LLM-driven diff between a scope's freshly extracted posts and its
// existing non-deleted posts, producing an ordered list of SyncProposals
// over four operations (INSERT/UPDATE/MERGE/DELETE), grounded on
// original_source/packages/server/src/domains/crawling/actions/sync_posts.rs's
// sync_and_deduplicate_posts (a single LLM-powered pass handling all four
// operations) and
// original_source/packages/server/src/domains/sync/models/sync_proposal_merge_source.rs's
// MERGE-proposal draft-row pattern (a proposal names the source entities it
// absorbs rather than mutating them directly).
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fourthplaces/seesaw/pkg/extraction/toolloop"
	"github.com/fourthplaces/seesaw/pkg/llm"
)

// Operation is one of the four proposal kinds §4.F.5 names.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpMerge  Operation = "MERGE"
	OpDelete Operation = "DELETE"
)

// Status is the proposal lifecycle state named in spec.md's glossary entry
// for Sync proposal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusRevised  Status = "revised"
)

func (s Status) terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ExistingPost is one row of a scope's current non-deleted post store, the
// "existing set" side of Pass 5's diff input.
type ExistingPost struct {
	ID                   string
	OrganizationIdentity string
	ServiceIdentity      string
	AudienceIdentity     string
	Post                 *toolloop.EnrichedPost
	CreatedAt            time.Time
}

// Evidence backs every proposal per §4.F.5's "every proposal carries
// evidence (source URLs + one-sentence reasoning)" invariant.
type Evidence struct {
	SourceURLs []string `json:"source_urls"`
	Reasoning  string   `json:"reasoning"`
}

// Proposal is the glossary's Sync proposal.
type Proposal struct {
	Operation      Operation
	TargetEntityID string          // existing post this proposal acts on (UPDATE, DELETE, MERGE survivor)
	DraftEntityID  string          // draft revision row for UPDATE, assigned by the caller once persisted
	DraftPost      *toolloop.EnrichedPost
	MergeSources   []string // existing post IDs absorbed into TargetEntityID (MERGE)
	Evidence       Evidence
	Status         Status
	RevisionNumber int
	CreatedAt      time.Time
}

// Apply reports whether applying the proposal against its current status
// would have any effect, per §4.F.5's "applying a proposal is idempotent:
// re-applying it when status is already terminal is a no-op."
func (p *Proposal) Apply() bool {
	return !p.Status.terminal()
}

const syncPrompt = `You are reconciling a freshly extracted set of community-resource
posts against a scope's existing, currently-published posts. For each
fresh post, decide: INSERT (no existing post matches), UPDATE (exactly one
existing post matches by organization/service/audience identity but some
field differs), or part of a MERGE (two or more existing posts describe
the same thing and should collapse into one, absorbing their sources).
Existing posts with no fresh counterpart should be proposed for DELETE
only when they are stale, old enough to retire, and clearly superseded,
never a currently accurate listing. Every proposal must carry source_urls
and a one-sentence reasoning. Never propose deleting a published post
inline — a DELETE proposal only retires it; it does not replace it with a
revision.`

const syncSchema = `{
  "type": "object",
  "properties": {
    "proposals": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "operation": {"type": "string", "enum": ["INSERT", "UPDATE", "MERGE", "DELETE"]},
          "target_entity_id": {"type": "string"},
          "merge_sources": {"type": "array", "items": {"type": "string"}},
          "draft_post": {"type": "object"},
          "source_urls": {"type": "array", "items": {"type": "string"}},
          "reasoning": {"type": "string"}
        },
        "required": ["operation", "source_urls", "reasoning"]
      }
    }
  },
  "required": ["proposals"]
}`

type proposalDraft struct {
	Operation      Operation              `json:"operation"`
	TargetEntityID string                 `json:"target_entity_id"`
	MergeSources   []string               `json:"merge_sources"`
	DraftPost      *toolloop.EnrichedPost `json:"draft_post"`
	SourceURLs     []string               `json:"source_urls"`
	Reasoning      string                 `json:"reasoning"`
}

type syncResponse struct {
	Proposals []proposalDraft `json:"proposals"`
}

// Engine runs Pass 5 for one scope.
type Engine struct {
	llm           llm.Service
	promptHash    string
	maxRevision   int
	retirementAge time.Duration
}

// New constructs an Engine. maxRevisions<=0 defaults to DefaultMaxRevisions
// (also used by pkg/extraction/refine, which shares the same bound).
// retirementAge<=0 defaults to DefaultRetirementAge; it is the floor Sync
// enforces on every DELETE proposal regardless of what the LLM diff
// suggests (§4.F.5 "emits DELETE proposals only for posts older than the
// retirement threshold; never deletes posts younger than it").
func New(service llm.Service, maxRevisions int, retirementAge time.Duration) *Engine {
	if maxRevisions <= 0 {
		maxRevisions = DefaultMaxRevisions
	}
	if retirementAge <= 0 {
		retirementAge = DefaultRetirementAge
	}
	return &Engine{llm: service, promptHash: promptHash(syncPrompt), maxRevision: maxRevisions, retirementAge: retirementAge}
}

// DefaultMaxRevisions is the implementation-defined small bound §4.F.6
// names for refinement rounds; recorded here too since Pass 5's output
// proposals start at RevisionNumber 0 against the same bound.
const DefaultMaxRevisions = 3

// DefaultRetirementAge is the implementation-defined floor below which an
// existing post can never be proposed for DELETE (§4.F.5).
const DefaultRetirementAge = 90 * 24 * time.Hour

// Sync produces the ordered list of proposals diffing fresh against
// existing. Deterministic given the same (fresh, existing, prompt,
// model) per §4.F.5's final invariant, since PromptHash is recorded on
// the request and the model/messages are a pure function of the inputs.
func (e *Engine) Sync(ctx context.Context, fresh []*toolloop.EnrichedPost, existing []ExistingPost) ([]Proposal, error) {
	freshJSON, err := json.Marshal(fresh)
	if err != nil {
		return nil, fmt.Errorf("sync: encode fresh posts: %w", err)
	}
	existingJSON, err := json.Marshal(existing)
	if err != nil {
		return nil, fmt.Errorf("sync: encode existing posts: %w", err)
	}

	req := llm.Request{
		ModelClass: llm.ModelClassHighReasoning,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: syncPrompt},
			{Role: llm.RoleUser, Text: fmt.Sprintf("Fresh posts:\n%s\n\nExisting posts:\n%s", freshJSON, existingJSON)},
		},
		PromptHash: e.promptHash,
	}

	var resp syncResponse
	if err := e.llm.StructuredOutput(ctx, req, json.RawMessage(syncSchema), &resp); err != nil {
		return nil, fmt.Errorf("sync: classify: %w", err)
	}

	byID := make(map[string]ExistingPost, len(existing))
	for _, p := range existing {
		byID[p.ID] = p
	}

	proposals := make([]Proposal, 0, len(resp.Proposals))
	for _, d := range resp.Proposals {
		if d.Operation == OpDelete && !e.retireable(byID[d.TargetEntityID]) {
			continue
		}
		proposals = append(proposals, Proposal{
			Operation:      d.Operation,
			TargetEntityID: d.TargetEntityID,
			DraftPost:      d.DraftPost,
			MergeSources:   d.MergeSources,
			Evidence:       Evidence{SourceURLs: d.SourceURLs, Reasoning: d.Reasoning},
			Status:         StatusPending,
			RevisionNumber: 0,
		})
	}
	return proposals, nil
}

// retireable reports whether an existing post is old enough for a DELETE
// proposal to survive (§4.F.5's retirement-threshold invariant). A post
// with no recorded CreatedAt (the caller never supplied an existing set,
// e.g. an unwired post store) is never retireable, since age cannot be
// established.
func (e *Engine) retireable(post ExistingPost) bool {
	if post.CreatedAt.IsZero() {
		return false
	}
	return time.Since(post.CreatedAt) >= e.retirementAge
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
