// Package notes implements Pass 7, post-pipeline best-effort notes
// attachment (§4.F.7): after a successful extract + sync, a separate scan
// of each source page looks for free-form operational notes ("closed
// Thursdays", "bring photo ID") and attaches any it finds to the matching
// post. Grounded on
// original_source/packages/server/src/domains/curator/activities/note_proposal_handler.rs's
// NoteProposalHandler, whose "note" entity type is approved/rejected the
// same draft-row way any other sync proposal is; this package narrows that
// down to the extraction-time half of the lifecycle (producing the draft
// notes), since approval/rejection is an admin-review concern shared with
// every other ProposalHandler and belongs with pkg/extraction/sync's
// proposal surface, not duplicated here.
package notes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fourthplaces/seesaw/internal/telemetry"
	"github.com/fourthplaces/seesaw/pkg/llm"
)

// Note is one free-form operational note scanned off a source page and
// proposed for attachment to a post.
type Note struct {
	PostID    string
	SourceURL string
	Text      string
}

// Page is the minimal page shape Scan needs: enough to know which post a
// note found on it should attach to.
type Page struct {
	URL     string
	Content string
	PostID  string // the post this page was a source for
}

const scanPrompt = `You scan a single web page for short, free-form operational notes
relevant to the resource or program it describes: unusual hours, required
documents, temporary closures, eligibility caveats, anything a visitor
would need to know that is not already a structured field. Return each
note as a short, standalone sentence. If the page has none, return an
empty list. Never invent a note not directly stated on the page.`

const scanSchema = `{
  "type": "object",
  "properties": {
    "notes": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["notes"]
}`

type scanResponse struct {
	Notes []string `json:"notes"`
}

// Scanner runs Pass 7 over a scope's source pages.
type Scanner struct {
	llm    llm.Service
	logger telemetry.Logger
}

// New constructs a Scanner. A nil logger defaults to a no-op one.
func New(service llm.Service, logger telemetry.Logger) *Scanner {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Scanner{llm: service, logger: logger}
}

// Scan scans every page for operational notes and returns every note
// found, attached to that page's PostID. A failure scanning one page is
// logged and skipped; it never aborts the rest of the batch and never
// returns an error, per §4.F.7's "failures here are logged, never fatal."
func (s *Scanner) Scan(ctx context.Context, pages []Page) []Note {
	var notes []Note
	for _, page := range pages {
		if page.Content == "" {
			continue
		}
		found, err := s.scanOne(ctx, page)
		if err != nil {
			s.logger.Error(ctx, "notes: scan failed, skipping page", "url", page.URL, "error", err)
			continue
		}
		for _, text := range found {
			notes = append(notes, Note{PostID: page.PostID, SourceURL: page.URL, Text: text})
		}
	}
	return notes
}

func (s *Scanner) scanOne(ctx context.Context, page Page) ([]string, error) {
	req := llm.Request{
		ModelClass: llm.ModelClassSmall,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: scanPrompt},
			{Role: llm.RoleUser, Text: page.Content},
		},
	}

	var resp scanResponse
	if err := s.llm.StructuredOutput(ctx, req, json.RawMessage(scanSchema), &resp); err != nil {
		return nil, fmt.Errorf("notes: scan %s: %w", page.URL, err)
	}
	return resp.Notes, nil
}
