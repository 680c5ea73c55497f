// Package refine implements Pass 6, the bounded proposal refinement loop
// (§4.F.6): an admin comment on a pending sync.Proposal triggers an LLM
// call that revises the proposal given the comment, the proposal/draft
// diff, and every prior comment, grounded on
// original_source/packages/server/src/domains/curator/restate/workflows/refine_proposal.rs's
// RefineProposalWorkflow (refine_proposal_from_comment returning
// RefineResult::{Revised, MaxRevisionsReached}). The durable-workflow
// wrapper itself belongs to pkg/workflow and cmd/worker, whose
// RefineProposal activity calls this package's Refiner.Refine; this package holds only the
// bounded-loop decision logic, mirroring how pkg/extraction/sync holds
// Pass 5's decision logic independent of any workflow engine.
package refine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fourthplaces/seesaw/pkg/extraction/sync"
	"github.com/fourthplaces/seesaw/pkg/llm"
)

// DefaultMaxRevisions mirrors sync.DefaultMaxRevisions: the same
// implementation-defined small bound gates both Pass 5's initial
// RevisionNumber and Pass 6's regeneration count.
const DefaultMaxRevisions = sync.DefaultMaxRevisions

// Result is the outcome of one refinement attempt.
type Result string

const (
	ResultRevised             Result = "revised"
	ResultMaxRevisionsReached Result = "max_revisions_reached"
)

// Comment is one admin comment in a proposal's refinement history. The
// comment that triggers a given Refine call is always the last entry in
// PriorComments passed to it.
type Comment struct {
	Author         string
	Text           string
	RevisionNumber int // the ordinal of the regeneration this comment caused, per §4.F.6
}

const refinePrompt = `You are revising a pending sync proposal for a community-resources
directory in response to admin feedback. You are given the current
proposal, a diff against what it would change, and every comment left on
it so far, oldest first. Produce a revised draft post that addresses the
most recent comment while remaining consistent with all prior ones. Do
not invent facts not supported by the proposal's evidence.`

const refineSchema = `{
  "type": "object",
  "properties": {
    "draft_post": {"type": "object"},
    "reasoning": {"type": "string"}
  },
  "required": ["draft_post", "reasoning"]
}`

type refineResponse struct {
	DraftPost json.RawMessage `json:"draft_post"`
	Reasoning string          `json:"reasoning"`
}

// Refiner runs Pass 6 for one proposal at a time.
type Refiner struct {
	llm          llm.Service
	maxRevisions int
}

// New constructs a Refiner. maxRevisions<=0 defaults to DefaultMaxRevisions.
func New(service llm.Service, maxRevisions int) *Refiner {
	if maxRevisions <= 0 {
		maxRevisions = DefaultMaxRevisions
	}
	return &Refiner{llm: service, maxRevisions: maxRevisions}
}

// Refine attempts to revise proposal given the full comment history.
// comments must be ordered oldest-first; the last entry is the comment
// that triggered this call. When proposal.RevisionNumber has already
// reached the bound, Refine makes no LLM call and reports
// ResultMaxRevisionsReached, per §4.F.6's "produces a revised proposal or
// signals max_revisions_reached."
func (r *Refiner) Refine(ctx context.Context, proposal sync.Proposal, diff string, comments []Comment) (sync.Proposal, Result, error) {
	if proposal.RevisionNumber >= r.maxRevisions {
		return proposal, ResultMaxRevisionsReached, nil
	}

	history, err := json.Marshal(comments)
	if err != nil {
		return proposal, "", fmt.Errorf("refine: encode comment history: %w", err)
	}
	currentDraft, err := json.Marshal(proposal.DraftPost)
	if err != nil {
		return proposal, "", fmt.Errorf("refine: encode current draft: %w", err)
	}

	req := llm.Request{
		ModelClass: llm.ModelClassDefault,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: refinePrompt},
			{Role: llm.RoleUser, Text: fmt.Sprintf("Current draft:\n%s\n\nDiff:\n%s\n\nComments (oldest first):\n%s", currentDraft, diff, history)},
		},
	}

	var resp refineResponse
	if err := r.llm.StructuredOutput(ctx, req, json.RawMessage(refineSchema), &resp); err != nil {
		return proposal, "", fmt.Errorf("refine: revise: %w", err)
	}

	revised := proposal
	if err := json.Unmarshal(resp.DraftPost, &revised.DraftPost); err != nil {
		return proposal, "", fmt.Errorf("refine: decode revised draft: %w", err)
	}
	revised.RevisionNumber = proposal.RevisionNumber + 1
	revised.Status = sync.StatusRevised
	revised.Evidence.Reasoning = resp.Reasoning

	return revised, ResultRevised, nil
}
