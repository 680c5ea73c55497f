package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fourthplaces/seesaw/internal/telemetry"
	crawlermachine "github.com/fourthplaces/seesaw/pkg/crawler/machine"
	"github.com/fourthplaces/seesaw/pkg/crawler/ingestor"
	"github.com/fourthplaces/seesaw/pkg/extraction/cache"
	"github.com/fourthplaces/seesaw/pkg/extraction/candidates"
	"github.com/fourthplaces/seesaw/pkg/extraction/merge"
	"github.com/fourthplaces/seesaw/pkg/extraction/notes"
	"github.com/fourthplaces/seesaw/pkg/extraction/refine"
	"github.com/fourthplaces/seesaw/pkg/extraction/summarize"
	"github.com/fourthplaces/seesaw/pkg/extraction/sync"
	"github.com/fourthplaces/seesaw/pkg/extraction/toolloop"
	"github.com/fourthplaces/seesaw/pkg/llm"
	"github.com/fourthplaces/seesaw/pkg/scrape"
	seesawbus "github.com/fourthplaces/seesaw/pkg/seesaw/bus"
	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
	"github.com/fourthplaces/seesaw/pkg/websearch"
	"github.com/fourthplaces/seesaw/pkg/workflow"
)

// worker bundles every dependency an activity body needs. One worker
// struct backs all nineteen registered activities (workflow.Activity*
// constants); its methods are the bodies workflows.go's step() calls
// invoke by name.
type worker struct {
	logger telemetry.Logger

	ingestor  ingestor.Ingestor
	pages     cache.PageStore
	summaries *summarize.Summarizer
	extractor *candidates.Extractor
	merger    *merge.Merger
	sync      *sync.Engine
	refiner   *refine.Refiner
	notes     *notes.Scanner

	llmService   llm.Service
	searcher     websearch.Searcher
	scraper      scrape.Scraper
	maxToolCalls int

	handoff *handoffStore
	otp     *otpStore
	orgs    *orgStore
	nexus   *nexusPublisher

	// bus carries resource/page lifecycle events to crawlermachine.Coordinator
	// (wired up in buildWorker). nil is tolerated (e.g. in unit tests that
	// construct a worker directly) by skipping the lifecycle events
	// DiscoverResource/IngestPage would otherwise emit.
	bus seesawbus.Bus
}

// loopFor builds a tool loop scoped to one resource's site: search_page and
// search_site need the resource's cached pages to search over, which the
// shared worker has no single fixed value for across every resource it
// processes. EnrichCandidate/RunWebResearch build one of these per call
// rather than the worker holding one *toolloop.Loop for its whole
// lifetime.
func (w *worker) loopFor(ctx context.Context, resourceID string) (*toolloop.Loop, error) {
	cached, err := w.pages.ListPages(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("loop for %s: list pages: %w", resourceID, err)
	}
	index := make(map[string]cache.CachedPage, len(cached))
	for _, p := range cached {
		index[p.ContentHash] = p
	}

	tools := []toolloop.Tool{
		toolloop.NewSearchPageTool(w.pages, index),
		toolloop.NewSearchSiteTool(w.pages, resourceID),
		toolloop.NewWebSearchTool(w.searcher),
		toolloop.NewFetchURLTool(w.scraper),
	}
	return toolloop.NewLoop(w.llmService, tools, w.maxToolCalls)
}

// --- crawl_website_full / extract_org_posts / regenerate_posts activities ---

// DiscoverResource submits the resource to crawlermachine.Coordinator over
// the bus rather than calling the ingestor inline: EventResourceSubmitted
// drives ResourceMachine into Discovering and emits CommandDiscoverResource,
// which the registered DiscoverEffect executes, reporting
// EventDiscoveryCompleted/Failed back onto the bus for this call to await.
// Falls back to calling the ingestor directly when no bus is wired (tests,
// or a deployment that never called crawlermachine.Subscribe).
func (w *worker) DiscoverResource(ctx context.Context, in workflow.CrawlWebsiteFullInput) (*discoverResourceResult, error) {
	if w.bus == nil {
		return w.discoverResourceInline(ctx, in)
	}

	event := core.NewEvent(crawlermachine.EventResourceSubmitted, 1, crawlermachine.ResourceSubmittedPayload{
		ResourceID:     in.ResourceID,
		SiteURL:        in.SiteURL,
		MaxDepth:       in.MaxDepth,
		SameDomainOnly: in.SameDomainOnly,
	}, "")

	result, err := w.bus.DispatchRequest(ctx, event, func(e core.Event) (any, bool) {
		switch p := e.Payload.(type) {
		case crawlermachine.DiscoveryCompletedPayload:
			if p.ResourceID == in.ResourceID {
				return p, true
			}
		case crawlermachine.DiscoveryFailedPayload:
			if p.ResourceID == in.ResourceID {
				return p, true
			}
		}
		return nil, false
	})
	if err != nil {
		return nil, fmt.Errorf("discover_resource: %w", err)
	}

	switch p := result.(type) {
	case crawlermachine.DiscoveryCompletedPayload:
		return &discoverResourceResult{PageURLs: p.PageURLs}, nil
	case crawlermachine.DiscoveryFailedPayload:
		return nil, fmt.Errorf("discover_resource: %s", p.Reason)
	default:
		return nil, fmt.Errorf("discover_resource: unexpected matched event payload %T", result)
	}
}

func (w *worker) discoverResourceInline(ctx context.Context, in workflow.CrawlWebsiteFullInput) (*discoverResourceResult, error) {
	pages, err := w.ingestor.Discover(ctx, ingestor.DiscoverConfig{
		URL:      in.SiteURL,
		MaxDepth: in.MaxDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("discover_resource: %w", err)
	}
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.URL)
	}
	return &discoverResourceResult{PageURLs: urls}, nil
}

type discoverResourceResult struct {
	PageURLs []string
}

type crawlSiteResult struct {
	PageIDs []string
}

// CrawlSite discovers and ingests an entire site in one activity call,
// rather than the per-page journaled loop crawl_website_full drives.
// No workflow in this package calls it as a step today (the journaled loop
// gives finer crash-resume granularity for a full crawl); it is wired and
// registered for direct invocation, e.g. from an operator tool that wants a
// single bulk crawl without per-page step overhead.
func (w *worker) CrawlSite(ctx context.Context, in workflow.CrawlWebsiteFullInput) (*crawlSiteResult, error) {
	discovered, err := w.ingestor.Discover(ctx, ingestor.DiscoverConfig{
		URL:      in.SiteURL,
		MaxDepth: in.MaxDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("crawl_site: discover: %w", err)
	}

	ids := make([]string, 0, len(discovered))
	for _, p := range discovered {
		fetched, err := w.ingestor.FetchSpecific(ctx, []string{p.URL})
		if err != nil || len(fetched) == 0 {
			continue
		}
		raw := fetched[0]
		page := cache.CachedPage{
			SiteURL:     in.ResourceID,
			URL:         raw.URL,
			ContentHash: raw.ContentHash(),
			Content:     raw.Content,
			Title:       raw.Title,
			ContentType: raw.ContentType,
			FetchedAt:   raw.FetchedAt,
		}
		if _, err := w.pages.WritePage(ctx, page); err != nil {
			return nil, fmt.Errorf("crawl_site: write %s: %w", raw.URL, err)
		}
		ids = append(ids, page.ContentHash)
	}
	return &crawlSiteResult{PageIDs: ids}, nil
}

type ingestPageInput struct {
	ResourceID string `json:"resource_id"`
	URL        string `json:"url"`
}

type ingestPageResult struct {
	PageID string
}

func (w *worker) IngestPage(ctx context.Context, in ingestPageInput) (*ingestPageResult, error) {
	fetched, err := w.ingestor.FetchSpecific(ctx, []string{in.URL})
	if err != nil {
		return nil, fmt.Errorf("ingest_page %s: %w", in.URL, err)
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("ingest_page %s: no content returned", in.URL)
	}
	raw := fetched[0]
	page := cache.CachedPage{
		SiteURL:     in.ResourceID,
		URL:         raw.URL,
		ContentHash: raw.ContentHash(),
		Content:     raw.Content,
		Title:       raw.Title,
		ContentType: raw.ContentType,
		FetchedAt:   raw.FetchedAt,
	}
	if _, err := w.pages.WritePage(ctx, page); err != nil {
		return nil, fmt.Errorf("ingest_page %s: write: %w", in.URL, err)
	}

	// Best-effort: drives the page-lifecycle machine (flag on content change,
	// then straight to extraction-started, since the actual extraction work
	// is this same workflow's own later steps, not something this activity
	// waits on). A worker with no bus wired (tests) just skips this.
	if w.bus != nil {
		w.bus.Emit(core.NewEvent(crawlermachine.EventPageContentChanged, 1, crawlermachine.PageContentChangedPayload{
			PageID:      page.ContentHash,
			ContentHash: page.ContentHash,
		}, ""))
		w.bus.Emit(core.NewEvent(crawlermachine.EventPageExtractionStarted, 1, crawlermachine.PageExtractionStartedPayload{
			PageID: page.ContentHash,
		}, ""))
	}

	return &ingestPageResult{PageID: page.ContentHash}, nil
}

type summarizePagesInput struct {
	ResourceID string   `json:"resource_id"`
	PageIDs    []string `json:"page_ids"`
}

type summarizePagesResult struct {
	SnapshotIDs []string
}

func (w *worker) SummarizePages(ctx context.Context, in summarizePagesInput) (*summarizePagesResult, error) {
	cached, err := w.pages.ListPages(ctx, in.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("summarize_pages: list pages: %w", err)
	}

	toSummarize := make([]summarize.PageToSummarize, 0, len(cached))
	for _, p := range cached {
		toSummarize = append(toSummarize, summarize.PageToSummarize{
			SnapshotID:  p.ContentHash,
			URL:         p.URL,
			RawContent:  p.Content,
			ContentHash: p.ContentHash,
		})
	}

	summarized, err := w.summaries.Summarize(ctx, toSummarize)
	if err != nil {
		return nil, fmt.Errorf("summarize_pages: %w", err)
	}
	ids := make([]string, 0, len(summarized))
	for _, s := range summarized {
		ids = append(ids, s.SnapshotID)
	}
	return &summarizePagesResult{SnapshotIDs: ids}, nil
}

type extractCandidatesInput struct {
	ResourceID  string   `json:"resource_id"`
	SnapshotIDs []string `json:"snapshot_ids,omitempty"`
	PageIDs     []string `json:"page_ids,omitempty"`
}

type extractCandidatesResult struct {
	CandidateIDs []string
}

func (w *worker) ExtractCandidates(ctx context.Context, in extractCandidatesInput) (*extractCandidatesResult, error) {
	cached, err := w.pages.ListPages(ctx, in.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("extract_candidates: list pages: %w", err)
	}

	pages := make([]summarize.SummarizedPage, 0, len(cached))
	for _, p := range cached {
		pages = append(pages, summarize.SummarizedPage{SnapshotID: p.ContentHash, URL: p.URL, Content: p.Content})
	}

	found, err := w.extractor.Extract(ctx, candidates.SynthesisInput{WebsiteDomain: in.ResourceID, Pages: pages})
	if err != nil {
		return nil, fmt.Errorf("extract_candidates: %w", err)
	}

	ids := make([]string, 0, len(found))
	for _, c := range found {
		ids = append(ids, w.handoff.putCandidate(in.ResourceID, c))
	}
	return &extractCandidatesResult{CandidateIDs: ids}, nil
}

type enrichCandidateInput struct {
	CandidateID string `json:"candidate_id"`
}

type enrichCandidateResult struct {
	EnrichedID string
}

func (w *worker) EnrichCandidate(ctx context.Context, in enrichCandidateInput) (*enrichCandidateResult, error) {
	entry, ok := w.handoff.getCandidate(in.CandidateID)
	if !ok {
		return nil, fmt.Errorf("enrich_candidate: unknown candidate %q", in.CandidateID)
	}

	loop, err := w.loopFor(ctx, entry.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("enrich_candidate: %w", err)
	}
	result, err := loop.Enrich(ctx, entry.Candidate, "")
	if err != nil {
		return nil, fmt.Errorf("enrich_candidate: %w", err)
	}
	if result.Post == nil {
		return &enrichCandidateResult{}, nil
	}

	grounded, reason := toolloop.NewGrounding().Score(result.Post)
	if !grounded {
		w.logger.Info(ctx, "enrich_candidate: dropping ungrounded post", "title", result.Post.Title, "reason", reason)
		return &enrichCandidateResult{}, nil
	}
	return &enrichCandidateResult{EnrichedID: w.handoff.putEnriched(result.Post)}, nil
}

type mergeCandidatesInput struct {
	ResourceID   string   `json:"resource_id"`
	CandidateIDs []string `json:"candidate_ids"`
}

type mergeCandidatesResult struct {
	EntityIDs []string
}

func (w *worker) MergeCandidates(ctx context.Context, in mergeCandidatesInput) (*mergeCandidatesResult, error) {
	posts := w.handoff.getEnriched(in.CandidateIDs)
	merged, err := w.merger.Merge(ctx, posts)
	if err != nil {
		return nil, fmt.Errorf("merge_candidates: %w", err)
	}
	return &mergeCandidatesResult{EntityIDs: []string{w.handoff.putEntities(merged)}}, nil
}

type syncProposalsInput struct {
	ResourceID string   `json:"resource_id"`
	EntityIDs  []string `json:"entity_ids"`
}

type syncProposalsResult struct {
	ProposalIDs []string
}

func (w *worker) SyncProposals(ctx context.Context, in syncProposalsInput) (*syncProposalsResult, error) {
	merged := w.handoff.getEntities(in.EntityIDs)
	// No durable post store is wired into this worker (see handoffStore's
	// doc comment); every sync run therefore sees an empty existing set,
	// which degrades every proposal to an INSERT rather than
	// UPDATE/MERGE/DELETE until a real ExistingPost source is wired.
	proposals, err := w.sync.Sync(ctx, merged, nil)
	if err != nil {
		return nil, fmt.Errorf("sync_proposals: %w", err)
	}
	ids := make([]string, 0, len(proposals))
	for _, p := range proposals {
		ids = append(ids, w.handoff.putProposal(p))
	}
	return &syncProposalsResult{ProposalIDs: ids}, nil
}

type refineProposalInput struct {
	ProposalID string `json:"proposal_id"`
}

type refineProposalResult struct {
	Accepted bool
}

// RefineProposal runs Refiner.Refine on the proposal with an empty comment
// and no prior comments; runExtractionPipeline calls it for every proposal.
// The revised proposal is discarded, so the stored proposal is unchanged;
// Accepted reports whether Refine returned ResultRevised.
func (w *worker) RefineProposal(ctx context.Context, in refineProposalInput) (*refineProposalResult, error) {
	proposal, ok := w.handoff.getProposal(in.ProposalID)
	if !ok {
		return nil, fmt.Errorf("refine_proposal: unknown proposal %q", in.ProposalID)
	}
	_, result, err := w.refiner.Refine(ctx, proposal, "", nil)
	if err != nil {
		return nil, fmt.Errorf("refine_proposal: %w", err)
	}
	return &refineProposalResult{Accepted: result == refine.ResultRevised}, nil
}

type attachNotesInput struct {
	ProposalID string `json:"proposal_id"`
}

type attachNotesResult struct {
	Attached bool
}

func (w *worker) AttachNotes(ctx context.Context, in attachNotesInput) (*attachNotesResult, error) {
	proposal, ok := w.handoff.getProposal(in.ProposalID)
	if !ok || proposal.DraftPost == nil {
		return &attachNotesResult{}, nil
	}
	pages := make([]notes.Page, 0, len(proposal.DraftPost.SourceURLs))
	for _, srcURL := range proposal.DraftPost.SourceURLs {
		cached, err := w.pages.GetPage(ctx, hostOf(srcURL), srcURL)
		if err != nil || cached == nil {
			continue
		}
		pages = append(pages, notes.Page{URL: cached.URL, Content: cached.Content, PostID: in.ProposalID})
	}
	found := w.notes.Scan(ctx, pages)
	return &attachNotesResult{Attached: len(found) > 0}, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// --- newsletter / resource_link / website_research activities ---

type sendOTPResult struct {
	RequestID string
}

func (w *worker) SendOTP(ctx context.Context, in workflow.SubscribeNewsletterInput) (*sendOTPResult, error) {
	code, err := w.otp.issue(in.Email)
	if err != nil {
		return nil, fmt.Errorf("send_otp: %w", err)
	}
	// Delivery (SMTP/SES/etc.) is out of scope for this activity body; the
	// issued code is neither delivered nor logged, and only the email is
	// logged at debug level.
	w.logger.Debug(ctx, "send_otp: issued code", "email", in.Email)
	_ = code
	return &sendOTPResult{RequestID: in.Email}, nil
}

type verifyOTPResult struct {
	Valid bool
}

func (w *worker) VerifyOTP(ctx context.Context, in workflow.ConfirmNewsletterInput) (*verifyOTPResult, error) {
	ok, err := w.otp.verify(in.Email, in.Code)
	if err != nil {
		return nil, fmt.Errorf("verify_otp: %w", err)
	}
	return &verifyOTPResult{Valid: ok}, nil
}

type publishResourceLinkResult struct {
	Linked bool
}

func (w *worker) PublishResourceLink(ctx context.Context, in workflow.ResourceLinkInput) (*publishResourceLinkResult, error) {
	if w.nexus == nil {
		return nil, fmt.Errorf("publish_resource_link: no nexus publisher configured")
	}
	if err := w.nexus.Publish(ctx, in); err != nil {
		return nil, fmt.Errorf("publish_resource_link: %w", err)
	}
	return &publishResourceLinkResult{Linked: true}, nil
}

func (w *worker) RunWebResearch(ctx context.Context, in workflow.WebsiteResearchInput) (*workflow.WebsiteResearchResult, error) {
	loop, err := w.loopFor(ctx, in.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("run_web_research: %w", err)
	}
	candidate := candidates.Candidate{Kind: "service", Title: in.Query, TentativeType: "research"}
	result, err := loop.Enrich(ctx, candidate, "")
	if err != nil {
		return nil, fmt.Errorf("run_web_research: %w", err)
	}
	var findings []string
	for _, entry := range result.Trace {
		if entry.Tool == toolloop.ToolWebSearch {
			findings = append(findings, string(entry.Output))
		}
	}
	return &workflow.WebsiteResearchResult{Findings: findings}, nil
}

// registerActivities binds every workflow.Activity* name to its worker
// method.
func registerActivities(e *workflow.Engine, w *worker) error {
	activities := map[string]any{
		workflow.ActivityDiscoverResource:    w.DiscoverResource,
		workflow.ActivityCrawlSite:           w.CrawlSite,
		workflow.ActivityIngestPage:          w.IngestPage,
		workflow.ActivitySummarizePages:      w.SummarizePages,
		workflow.ActivityExtractCandidates:   w.ExtractCandidates,
		workflow.ActivityEnrichCandidate:     w.EnrichCandidate,
		workflow.ActivityMergeCandidates:     w.MergeCandidates,
		workflow.ActivitySyncProposals:       w.SyncProposals,
		workflow.ActivityRefineProposal:      w.RefineProposal,
		workflow.ActivityAttachNotes:         w.AttachNotes,
		workflow.ActivitySendOTP:             w.SendOTP,
		workflow.ActivityVerifyOTP:           w.VerifyOTP,
		workflow.ActivityPublishResourceLink: w.PublishResourceLink,
		workflow.ActivityRunWebResearch:      w.RunWebResearch,

		workflow.ActivityAutoCreateOrganization: w.AutoCreateOrganization,
		workflow.ActivityExtractNarratives:      w.ExtractNarratives,
		workflow.ActivityInvestigateContacts:    w.InvestigateContacts,
		workflow.ActivityPoolOrganizationPages:  w.PoolOrganizationPages,
		workflow.ActivityUpdateOrgLastExtracted: w.UpdateOrgLastExtracted,
	}
	for name, fn := range activities {
		if err := e.RegisterActivity(name, "", fn); err != nil {
			return fmt.Errorf("register activity %s: %w", name, err)
		}
	}
	return nil
}
