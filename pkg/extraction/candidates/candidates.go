// Package candidates implements Pass 2 of the extraction pipeline
// (§4.F.2): a cheap, non-enriching pass that identifies what looks
// extractable across a scope's summarized pages, plus the strategy
// classification and large-scope partitioning the original Rust pipeline
// (original_source/packages/extraction/src/pipeline/strategy.rs,
// partition.rs) applies before enrichment. Candidate extraction is
// deliberately a single structured-output call per page batch, not a tool
// loop — Pass 3 owns enrichment.
package candidates

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fourthplaces/seesaw/pkg/extraction/summarize"
	"github.com/fourthplaces/seesaw/pkg/llm"
)

// SynthesisInput is Pass 2's input (§4.F.2).
type SynthesisInput struct {
	WebsiteDomain string
	Pages         []summarize.SummarizedPage
}

// Candidate is a lightweight, non-enriched descriptor of something that
// looks extractable.
type Candidate struct {
	Kind          string   `json:"kind"`
	Title         string   `json:"title"`
	TentativeType string   `json:"tentative_type"`
	SourceURLs    []string `json:"source_urls"`
}

// Strategy classifies how a scope should be extracted, carried forward
// from the original pipeline's Collection/Singular/Narrative split: a
// Collection scope (a directory-style page listing many services) needs
// partitioning before Pass 3 can enrich each sub-group independently; a
// Singular scope (one clear subject) or Narrative scope (a single
// free-form write-up) does not.
type Strategy string

const (
	StrategyCollection Strategy = "collection"
	StrategySingular   Strategy = "singular"
	StrategyNarrative  Strategy = "narrative"
)

// QueryAnalysis is the result of classifying a scope.
type QueryAnalysis struct {
	Strategy Strategy
	Reason   string
}

// DefaultMaxPartitionPages is the implementation-defined bound (default 40)
// above which an organization-scope Collection is split into partitions
// before Pass 3, since `extract_org_posts` pools all pages across all
// sources for one organization and a single tool-loop candidate batch
// covering every page would blow the context budget.
const DefaultMaxPartitionPages = 40

const candidatesPrompt = `You scan summarized web pages for a community-resources
directory and list every distinct extractable item: a service, event,
program, or opportunity mentioned anywhere in the pages. Do not enrich or
verify; just identify {kind, title, tentative_type, source_urls}. kind is
one of "service", "event", "program". Return an empty list if nothing
qualifies.`

const candidatesSchema = `{
  "type": "object",
  "properties": {
    "candidates": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "kind": {"type": "string"},
          "title": {"type": "string"},
          "tentative_type": {"type": "string"},
          "source_urls": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["kind", "title", "source_urls"]
      }
    }
  },
  "required": ["candidates"]
}`

type candidatesResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Extractor runs Pass 2.
type Extractor struct {
	llm llm.Service
}

// New constructs an Extractor.
func New(service llm.Service) *Extractor {
	return &Extractor{llm: service}
}

// Extract identifies candidates across input.Pages. Pages with empty
// content (skipped at Pass 1) are ignored.
func (e *Extractor) Extract(ctx context.Context, input SynthesisInput) ([]Candidate, error) {
	var body string
	for _, p := range input.Pages {
		if p.Content == "" {
			continue
		}
		body += fmt.Sprintf("URL: %s\n%s\n\n", p.URL, p.Content)
	}
	if body == "" {
		return nil, nil
	}

	var resp candidatesResponse
	req := llm.Request{
		ModelClass: llm.ModelClassDefault,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: candidatesPrompt},
			{Role: llm.RoleUser, Text: fmt.Sprintf("Domain: %s\n\n%s", input.WebsiteDomain, body)},
		},
	}
	if err := e.llm.StructuredOutput(ctx, req, json.RawMessage(candidatesSchema), &resp); err != nil {
		return nil, fmt.Errorf("candidates: extract: %w", err)
	}
	return resp.Candidates, nil
}

// Classify decides a scope's Strategy. A Collection is any scope whose
// page count exceeds DefaultMaxPartitionPages, since the original
// pipeline's heuristic ties partitioning directly to scope size for
// organization-wide scopes; smaller scopes default to Singular, and
// callers that already know a page is a single free-form write-up (e.g. a
// blog post ingested via resource_link) should pass Narrative explicitly
// rather than rely on this classifier.
func Classify(pageCount int, maxPartitionPages int) QueryAnalysis {
	if maxPartitionPages <= 0 {
		maxPartitionPages = DefaultMaxPartitionPages
	}
	if pageCount > maxPartitionPages {
		return QueryAnalysis{Strategy: StrategyCollection, Reason: "scope exceeds max_partition_pages"}
	}
	return QueryAnalysis{Strategy: StrategySingular, Reason: "scope within max_partition_pages"}
}

// Partition splits pages into groups no larger than maxPartitionPages,
// preserving input order, so Pass 3 enrichment can run each partition
// independently without exceeding the per-candidate context budget.
func Partition(pages []summarize.SummarizedPage, maxPartitionPages int) [][]summarize.SummarizedPage {
	if maxPartitionPages <= 0 {
		maxPartitionPages = DefaultMaxPartitionPages
	}
	if len(pages) <= maxPartitionPages {
		return [][]summarize.SummarizedPage{pages}
	}

	var partitions [][]summarize.SummarizedPage
	for i := 0; i < len(pages); i += maxPartitionPages {
		end := i + maxPartitionPages
		if end > len(pages) {
			end = len(pages)
		}
		partitions = append(partitions, pages[i:end])
	}
	return partitions
}
