// Package summarize implements Pass 1 of the extraction pipeline (§4.F.1):
// turn raw cached page content into short, LLM-produced summaries, cached
// by content hash so unchanged content never re-summarizes.
package summarize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fourthplaces/seesaw/pkg/extraction/cache"
	"github.com/fourthplaces/seesaw/pkg/llm"
)

// maxPrefilterChars is the "first 2,000 characters of raw content" bound
// §4.F.1 applies before the LLM call.
const maxPrefilterChars = 2000

// PageToSummarize is one input to Pass 1.
type PageToSummarize struct {
	SnapshotID  string
	URL         string
	RawContent  string
	ContentHash string
}

// SummarizedPage is Pass 1's output for one input page.
type SummarizedPage struct {
	SnapshotID string
	URL        string
	Content    string
}

// summarizePrompt is the deterministic system instruction Pass 1 sends with
// every summarization call. Its text must never change silently: a change
// here changes PromptHash, which invalidates every cached summary.
const summarizePrompt = `You summarize web page content for a community-resources directory.
Produce a dense, factual summary (3-6 sentences) of any services, events,
organizations, schedules, eligibility rules, or contact information present
in the page. Omit navigation chrome, ads, and boilerplate. If the page has
no such content, respond with exactly: NO_RELEVANT_CONTENT.`

var summarizePromptHash = promptHash(summarizePrompt)

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Summarizer runs Pass 1 over a batch of pages.
type Summarizer struct {
	summaries cache.SummaryStore
	llm       llm.Service
}

// New constructs a Summarizer.
func New(summaries cache.SummaryStore, service llm.Service) *Summarizer {
	return &Summarizer{summaries: summaries, llm: service}
}

// Summarize runs Pass 1 over pages, skipping empty content and reusing a
// cached summary by content hash wherever one already exists.
func (s *Summarizer) Summarize(ctx context.Context, pages []PageToSummarize) ([]SummarizedPage, error) {
	out := make([]SummarizedPage, 0, len(pages))
	for _, page := range pages {
		if page.RawContent == "" {
			continue
		}

		cached, err := s.summaries.GetSummary(ctx, page.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("summarize: lookup cached summary for %s: %w", page.URL, err)
		}
		if cached != nil && cached.PromptHash == summarizePromptHash {
			out = append(out, SummarizedPage{SnapshotID: page.SnapshotID, URL: page.URL, Content: cached.Content})
			continue
		}

		content, err := s.summarizeOne(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("summarize: %s: %w", page.URL, err)
		}
		out = append(out, SummarizedPage{SnapshotID: page.SnapshotID, URL: page.URL, Content: content})
	}
	return out, nil
}

func (s *Summarizer) summarizeOne(ctx context.Context, page PageToSummarize) (string, error) {
	trimmed := page.RawContent
	if len(trimmed) > maxPrefilterChars {
		trimmed = trimmed[:maxPrefilterChars]
	}

	resp, err := s.llm.Complete(ctx, llm.Request{
		ModelClass: llm.ModelClassSmall,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: summarizePrompt},
			{Role: llm.RoleUser, Text: trimmed},
		},
		PromptHash: summarizePromptHash,
	})
	if err != nil {
		return "", err
	}

	content := resp.Text
	if content == "NO_RELEVANT_CONTENT" {
		content = ""
	}

	if err := s.summaries.PutSummary(ctx, cache.PageSummary{
		ContentHash: page.ContentHash,
		SnapshotID:  page.SnapshotID,
		URL:         page.URL,
		Content:     content,
		PromptHash:  summarizePromptHash,
	}); err != nil {
		return "", fmt.Errorf("persist summary: %w", err)
	}

	return content, nil
}
