// Package pipeline orchestrates Passes 1-7 of the extraction pipeline for
// one scope (§4.F's overall responsibility: "Turn a set of cached pages
// for one scope (site or organization) into structured ExtractedPost
// records, then into SyncProposals against the existing store"). It wires
// together pkg/extraction/{summarize,candidates,toolloop,merge,sync,notes}
// in pass order; pkg/extraction/refine is deliberately not part of this
// orchestrator's Run, since refinement is triggered later by an admin
// comment on an already-produced proposal, not by the initial pipeline
// pass — grounded on spec.md's own pass numbering treating 4.F.6 as a
// follow-on loop rather than a stage every scope run goes through.
package pipeline

import (
	"context"
	"fmt"

	"github.com/fourthplaces/seesaw/internal/telemetry"
	"github.com/fourthplaces/seesaw/pkg/extraction/cache"
	"github.com/fourthplaces/seesaw/pkg/extraction/candidates"
	"github.com/fourthplaces/seesaw/pkg/extraction/merge"
	"github.com/fourthplaces/seesaw/pkg/extraction/notes"
	"github.com/fourthplaces/seesaw/pkg/extraction/summarize"
	"github.com/fourthplaces/seesaw/pkg/extraction/sync"
	"github.com/fourthplaces/seesaw/pkg/extraction/toolloop"
)

// Scope is one pipeline run's unit of work: a site's worth of cached
// pages, or an organization's pooled pages across sites (§4.D's
// extract_org_posts "pools all pages across all sources for one
// organization").
type Scope struct {
	WebsiteDomain string
	Pages         []cache.CachedPage
	Existing      []sync.ExistingPost
}

// Result is the output of one scope's Run.
type Result struct {
	Posts     []*toolloop.EnrichedPost
	Proposals []sync.Proposal
	Notes     []notes.Note
	Traces    []toolloop.Result // per-candidate enrichment traces, for debugging/audit
}

// Pipeline wires every pass together. Each field may be constructed and
// substituted independently (e.g. a fake Summarizer in a test) because
// every pass lives in its own package behind its own narrow type.
type Pipeline struct {
	Summaries  *summarize.Summarizer
	Candidates *candidates.Extractor
	Loop       *toolloop.Loop
	Merger     *merge.Merger
	Sync       *sync.Engine
	Notes      *notes.Scanner

	PreFilter toolloop.PreFilter // optional; nil accepts every candidate
	Logger    telemetry.Logger
}

// New constructs a Pipeline from its component passes. logger may be nil.
func New(summaries *summarize.Summarizer, extractor *candidates.Extractor, loop *toolloop.Loop, merger *merge.Merger, syncEngine *sync.Engine, notesScanner *notes.Scanner, preFilter toolloop.PreFilter, logger telemetry.Logger) *Pipeline {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Pipeline{
		Summaries:  summaries,
		Candidates: extractor,
		Loop:       loop,
		Merger:     merger,
		Sync:       syncEngine,
		Notes:      notesScanner,
		PreFilter:  preFilter,
		Logger:     logger,
	}
}

// Run executes Passes 1-5 and 7 over one scope and returns the resulting
// proposals, merged posts, and notes. Pass 6 refinement is not run here.
func (p *Pipeline) Run(ctx context.Context, scope Scope) (Result, error) {
	toSummarize := make([]summarize.PageToSummarize, 0, len(scope.Pages))
	byHash := make(map[string]cache.CachedPage, len(scope.Pages))
	for _, page := range scope.Pages {
		toSummarize = append(toSummarize, summarize.PageToSummarize{
			SnapshotID:  page.ContentHash,
			URL:         page.URL,
			RawContent:  page.Content,
			ContentHash: page.ContentHash,
		})
		byHash[page.ContentHash] = page
	}

	summarized, err := p.Summaries.Summarize(ctx, toSummarize)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: pass 1 summarize: %w", err)
	}

	candidateList, err := p.Candidates.Extract(ctx, candidates.SynthesisInput{
		WebsiteDomain: scope.WebsiteDomain,
		Pages:         summarized,
	})
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: pass 2 candidates: %w", err)
	}

	seedContext := renderSeedContext(summarized)
	// EnrichAll never aborts the batch on one candidate's LLM failure; a
	// failed candidate comes back with Err set and a nil Post, so the only
	// error this call can still return is a pre-filter/setup problem
	// affecting every candidate.
	traces, err := p.Loop.EnrichAll(ctx, candidateList, seedContext, p.PreFilter)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: pass 3 enrich: %w", err)
	}

	grounding := toolloop.NewGrounding()
	posts := make([]*toolloop.EnrichedPost, 0, len(traces))
	for _, trace := range traces {
		if trace.Err != "" {
			p.Logger.Info(ctx, "pipeline: skipping candidate after LLM failure", "title", trace.Candidate.Title, "err", trace.Err)
			continue
		}
		if trace.Post == nil {
			continue
		}
		if grounded, _ := grounding.Score(trace.Post); !grounded {
			p.Logger.Info(ctx, "pipeline: dropping ungrounded candidate", "title", trace.Candidate.Title)
			continue
		}
		posts = append(posts, trace.Post)
	}

	merged, err := p.Merger.Merge(ctx, posts)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: pass 4 merge: %w", err)
	}

	// With no fresh posts and no existing posts there is nothing to diff.
	var proposals []sync.Proposal
	if len(merged) > 0 || len(scope.Existing) > 0 {
		proposals, err = p.Sync.Sync(ctx, merged, scope.Existing)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: pass 5 sync: %w", err)
		}
	}

	notesPages := make([]notes.Page, 0, len(scope.Pages))
	for _, page := range scope.Pages {
		notesPages = append(notesPages, notes.Page{
			URL:     page.URL,
			Content: page.Content,
			PostID:  matchingPostID(merged, page.URL),
		})
	}
	foundNotes := p.Notes.Scan(ctx, notesPages)

	return Result{Posts: merged, Proposals: proposals, Notes: foundNotes, Traces: traces}, nil
}

func renderSeedContext(pages []summarize.SummarizedPage) string {
	var out string
	for _, page := range pages {
		if page.Content == "" {
			continue
		}
		out += fmt.Sprintf("- %s: %s\n", page.URL, page.Content)
	}
	return out
}

// matchingPostID returns the title of the first merged post whose
// source_urls includes url, used as a stand-in identity for notes
// attachment before the scope's proposals are persisted and assigned real
// post IDs; a caller persisting proposals is expected to remap notes by
// title once durable IDs exist.
func matchingPostID(posts []*toolloop.EnrichedPost, url string) string {
	for _, post := range posts {
		for _, src := range post.SourceURLs {
			if src == url {
				return post.Title
			}
		}
	}
	return ""
}
