package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// step wraps workflow.ExecuteActivity with a uniform timeout/retry policy
// and decodes the result into out. Using one helper for every activity call
// keeps the per-step journal entries (Temporal's event history) uniform
// across workflows, mirroring the teacher's activityOptionsFor default.
func step(ctx workflow.Context, name string, input any, out any) error {
	ao := workflow.ActivityOptions{
		ScheduleToStartTimeout: time.Minute,
		StartToCloseTimeout:    10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
	actx := workflow.WithActivityOptions(ctx, ao)
	return workflow.ExecuteActivity(actx, name, input).Get(actx, out)
}

// cancelled reports whether ctx was cancelled, for the "abort at the next
// step boundary" behavior §4.D requires between steps.
func cancelled(ctx workflow.Context) bool {
	return ctx.Err() != nil
}

// Activity names. Workers register concrete implementations under these
// names via Engine.RegisterActivity; the pipeline/crawler packages supply
// the implementations once built, so this file only names the journaled
// steps, not their bodies.
const (
	ActivityDiscoverResource    = "discover_resource"
	ActivityCrawlSite           = "crawl_site"
	ActivityIngestPage          = "ingest_page"
	ActivitySummarizePages      = "summarize_pages"
	ActivityExtractCandidates   = "extract_candidates"
	ActivityEnrichCandidate     = "enrich_candidate"
	ActivityMergeCandidates     = "merge_candidates"
	ActivitySyncProposals       = "sync_proposals"
	ActivityRefineProposal      = "refine_proposal"
	ActivityAttachNotes         = "attach_notes"
	ActivitySendOTP             = "send_otp"
	ActivityVerifyOTP           = "verify_otp"
	ActivityPublishResourceLink = "publish_resource_link"
	ActivityRunWebResearch      = "run_web_research"

	ActivityAutoCreateOrganization = "auto_create_organization"
	ActivityExtractNarratives      = "extract_narratives"
	ActivityInvestigateContacts    = "investigate_contacts"
	ActivityPoolOrganizationPages  = "pool_organization_pages"
	ActivityUpdateOrgLastExtracted = "update_org_last_extracted"
)

// CrawlWebsiteFullInput starts the full site crawl -> ingest -> extraction
// pipeline for one organization's site.
type CrawlWebsiteFullInput struct {
	ResourceID     string
	SiteURL        string
	MaxDepth       int
	SameDomainOnly bool
}

type CrawlWebsiteFullResult struct {
	PagesIngested int
	ProposalIDs   []string
}

// CrawlWebsiteFull runs resource discovery, page ingestion, and the full
// seven-pass extraction pipeline, in that order; each is a journaled step so
// a crash resumes at the next unexecuted step rather than from scratch.
func CrawlWebsiteFull(ctx workflow.Context, in CrawlWebsiteFullInput) (*CrawlWebsiteFullResult, error) {
	var discovered struct {
		PageURLs []string
	}
	if err := step(ctx, ActivityDiscoverResource, in, &discovered); err != nil {
		return nil, fmt.Errorf("crawl_website_full: discover: %w", err)
	}

	if cancelled(ctx) {
		return nil, ctx.Err()
	}

	var pageIDs []string
	for _, url := range discovered.PageURLs {
		if cancelled(ctx) {
			return nil, ctx.Err()
		}
		var ingested struct{ PageID string }
		if err := step(ctx, ActivityIngestPage, map[string]any{"resource_id": in.ResourceID, "url": url}, &ingested); err != nil {
			return nil, fmt.Errorf("crawl_website_full: ingest %s: %w", url, err)
		}
		pageIDs = append(pageIDs, ingested.PageID)
	}

	// Organization auto-create, narrative extraction, and contact
	// investigation are each best-effort: none of the three ever fails the
	// crawl, matching crawl_full.rs's own "organization linking is
	// best-effort" step, which runs after ingest and before the sync pass.
	var org struct{ OrganizationID string }
	_ = step(ctx, ActivityAutoCreateOrganization, map[string]any{"resource_id": in.ResourceID}, &org)

	if cancelled(ctx) {
		return nil, ctx.Err()
	}

	var narratives struct{ Narrative string }
	_ = step(ctx, ActivityExtractNarratives, map[string]any{"resource_id": in.ResourceID, "page_ids": pageIDs}, &narratives)

	var contacts struct{ ContactsFound int }
	_ = step(ctx, ActivityInvestigateContacts, map[string]any{"resource_id": in.ResourceID, "page_ids": pageIDs}, &contacts)

	proposalIDs, err := runExtractionPipeline(ctx, in.ResourceID, pageIDs)
	if err != nil {
		return nil, err
	}

	return &CrawlWebsiteFullResult{PagesIngested: len(pageIDs), ProposalIDs: proposalIDs}, nil
}

// ExtractOrgPostsInput re-runs the extraction pipeline over already-ingested
// pages, e.g. on a schedule or after a manual admin trigger. When
// OrganizationID is set, the pipeline runs at organization scope: pages from
// every resource folded into that organization are pooled first, mirroring
// extract_org_posts.rs's "query pages across all site_urls" step, and
// ResourceID/PageIDs are ignored in favor of the pooled set.
type ExtractOrgPostsInput struct {
	ResourceID     string
	PageIDs        []string
	OrganizationID string
}

// ExtractOrgPosts runs passes 1-7 over an explicit page set without a
// preceding crawl, optionally pooling an entire organization's pages first
// and recording the organization's last-extracted timestamp afterward.
func ExtractOrgPosts(ctx workflow.Context, in ExtractOrgPostsInput) (*CrawlWebsiteFullResult, error) {
	resourceID, pageIDs := in.ResourceID, in.PageIDs

	if in.OrganizationID != "" {
		var pooled struct {
			PageIDs     []string
			ResourceIDs []string
		}
		if err := step(ctx, ActivityPoolOrganizationPages, map[string]any{"organization_id": in.OrganizationID}, &pooled); err != nil {
			return nil, fmt.Errorf("extract_org_posts: pool pages: %w", err)
		}
		pageIDs = pooled.PageIDs
		if len(pooled.ResourceIDs) > 0 {
			resourceID = pooled.ResourceIDs[0]
		}
	}

	if cancelled(ctx) {
		return nil, ctx.Err()
	}

	proposalIDs, err := runExtractionPipeline(ctx, resourceID, pageIDs)
	if err != nil {
		return nil, err
	}

	if in.OrganizationID != "" {
		var updated struct{ Updated bool }
		// Best-effort, matching crawl_website_full's organization steps
		// above: a failure to record last_extracted_at never fails an
		// otherwise-successful extraction run.
		_ = step(ctx, ActivityUpdateOrgLastExtracted, map[string]any{"organization_id": in.OrganizationID}, &updated)
	}

	return &CrawlWebsiteFullResult{PagesIngested: len(pageIDs), ProposalIDs: proposalIDs}, nil
}

// runExtractionPipeline drives passes 1-7 (summarize, candidates, tool-loop
// enrichment, merge, sync, refine, notes) as journaled steps, bailing out at
// the next step boundary on cancellation.
func runExtractionPipeline(ctx workflow.Context, resourceID string, pageIDs []string) ([]string, error) {
	var summaries struct{ SnapshotIDs []string }
	if err := step(ctx, ActivitySummarizePages, map[string]any{"resource_id": resourceID, "page_ids": pageIDs}, &summaries); err != nil {
		return nil, fmt.Errorf("extraction: summarize: %w", err)
	}
	if cancelled(ctx) {
		return nil, ctx.Err()
	}

	var candidates struct{ CandidateIDs []string }
	if err := step(ctx, ActivityExtractCandidates, map[string]any{"resource_id": resourceID, "snapshot_ids": summaries.SnapshotIDs}, &candidates); err != nil {
		return nil, fmt.Errorf("extraction: candidates: %w", err)
	}
	if cancelled(ctx) {
		return nil, ctx.Err()
	}

	enriched := make([]string, 0, len(candidates.CandidateIDs))
	for _, cid := range candidates.CandidateIDs {
		if cancelled(ctx) {
			return nil, ctx.Err()
		}
		var result struct{ EnrichedID string }
		if err := step(ctx, ActivityEnrichCandidate, map[string]any{"candidate_id": cid}, &result); err != nil {
			return nil, fmt.Errorf("extraction: enrich %s: %w", cid, err)
		}
		enriched = append(enriched, result.EnrichedID)
	}

	var merged struct{ EntityIDs []string }
	if err := step(ctx, ActivityMergeCandidates, map[string]any{"resource_id": resourceID, "candidate_ids": enriched}, &merged); err != nil {
		return nil, fmt.Errorf("extraction: merge: %w", err)
	}
	if cancelled(ctx) {
		return nil, ctx.Err()
	}

	var proposals struct{ ProposalIDs []string }
	if err := step(ctx, ActivitySyncProposals, map[string]any{"resource_id": resourceID, "entity_ids": merged.EntityIDs}, &proposals); err != nil {
		return nil, fmt.Errorf("extraction: sync: %w", err)
	}

	for _, pid := range proposals.ProposalIDs {
		if cancelled(ctx) {
			return nil, ctx.Err()
		}
		var refined struct{ Accepted bool }
		if err := step(ctx, ActivityRefineProposal, map[string]any{"proposal_id": pid}, &refined); err != nil {
			return nil, fmt.Errorf("extraction: refine %s: %w", pid, err)
		}
		var notesResult struct{ Attached bool }
		// Notes attachment is best-effort (§4.F.7): its failure does not
		// fail the pipeline run.
		_ = step(ctx, ActivityAttachNotes, map[string]any{"proposal_id": pid}, &notesResult)
	}

	return proposals.ProposalIDs, nil
}

// RegeneratePosts recomputes proposals for a resource from its already
// cached pages, without a fresh crawl and without a summarize step:
// candidates, tool-loop enrichment, merge, then sync.
func RegeneratePosts(ctx workflow.Context, in ExtractOrgPostsInput) (*CrawlWebsiteFullResult, error) {
	var candidates struct{ CandidateIDs []string }
	if err := step(ctx, ActivityExtractCandidates, map[string]any{"resource_id": in.ResourceID, "page_ids": in.PageIDs}, &candidates); err != nil {
		return nil, fmt.Errorf("regenerate_posts: candidates: %w", err)
	}

	enriched := make([]string, 0, len(candidates.CandidateIDs))
	for _, cid := range candidates.CandidateIDs {
		var result struct{ EnrichedID string }
		if err := step(ctx, ActivityEnrichCandidate, map[string]any{"candidate_id": cid}, &result); err != nil {
			return nil, fmt.Errorf("regenerate_posts: enrich %s: %w", cid, err)
		}
		enriched = append(enriched, result.EnrichedID)
	}

	var merged struct{ EntityIDs []string }
	if err := step(ctx, ActivityMergeCandidates, map[string]any{"resource_id": in.ResourceID, "candidate_ids": enriched}, &merged); err != nil {
		return nil, fmt.Errorf("regenerate_posts: merge: %w", err)
	}

	var proposals struct{ ProposalIDs []string }
	if err := step(ctx, ActivitySyncProposals, map[string]any{"resource_id": in.ResourceID, "entity_ids": merged.EntityIDs}, &proposals); err != nil {
		return nil, fmt.Errorf("regenerate_posts: sync: %w", err)
	}
	return &CrawlWebsiteFullResult{PagesIngested: len(in.PageIDs), ProposalIDs: proposals.ProposalIDs}, nil
}

// SubscribeNewsletterInput starts the double opt-in flow.
type SubscribeNewsletterInput struct {
	Email string
}

// SubscribeNewsletter sends an OTP and suspends until either the matching
// ConfirmNewsletter workflow sends the "newsletter.confirmed" signal or a
// 24-hour timer elapses.
func SubscribeNewsletter(ctx workflow.Context, in SubscribeNewsletterInput) (bool, error) {
	var sent struct{ RequestID string }
	if err := step(ctx, ActivitySendOTP, in, &sent); err != nil {
		return false, fmt.Errorf("subscribe_newsletter: send otp: %w", err)
	}

	var confirmed bool
	confirmCh := workflow.GetSignalChannel(ctx, "newsletter.confirmed")
	selector := workflow.NewSelector(ctx)
	selector.AddReceive(confirmCh, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &confirmed)
	})
	timer := workflow.NewTimer(ctx, 24*time.Hour)
	selector.AddFuture(timer, func(workflow.Future) {
		confirmed = false
	})
	selector.Select(ctx)
	return confirmed, nil
}

// ConfirmNewsletterInput carries the OTP a subscriber typed back in.
type ConfirmNewsletterInput struct {
	Email string
	Code  string
}

// ConfirmNewsletter verifies the OTP and, when it is valid, signals the
// waiting SubscribeNewsletter workflow via its workflow ID ("subscribe-"
// followed by Email, the ID admin-cli starts it under), completing the
// double opt-in.
func ConfirmNewsletter(ctx workflow.Context, in ConfirmNewsletterInput) (bool, error) {
	var verified struct{ Valid bool }
	if err := step(ctx, ActivityVerifyOTP, in, &verified); err != nil {
		return false, fmt.Errorf("confirm_newsletter: verify otp: %w", err)
	}
	if verified.Valid {
		signal := workflow.SignalExternalWorkflow(ctx, "subscribe-"+in.Email, "", "newsletter.confirmed", true)
		if err := signal.Get(ctx, nil); err != nil {
			return false, fmt.Errorf("confirm_newsletter: signal subscribe_newsletter: %w", err)
		}
	}
	return verified.Valid, nil
}

// ResourceLinkInput publishes a cross-reference between two resources once
// both sides' extraction has produced stable entities.
type ResourceLinkInput struct {
	FromResourceID string
	ToResourceID   string
	Relation       string
}

func ResourceLink(ctx workflow.Context, in ResourceLinkInput) (bool, error) {
	var published struct{ Linked bool }
	if err := step(ctx, ActivityPublishResourceLink, in, &published); err != nil {
		return false, fmt.Errorf("resource_link: %w", err)
	}
	return published.Linked, nil
}

// WebsiteResearchInput drives an ad hoc, bounded web-research pass for a
// resource that is not yet (or no longer) a crawl target, using the same
// tool loop the extraction pipeline's enrichment pass uses.
type WebsiteResearchInput struct {
	ResourceID string
	Query      string
}

type WebsiteResearchResult struct {
	Findings []string
}

func WebsiteResearch(ctx workflow.Context, in WebsiteResearchInput) (*WebsiteResearchResult, error) {
	var result WebsiteResearchResult
	if err := step(ctx, ActivityRunWebResearch, in, &result); err != nil {
		return nil, fmt.Errorf("website_research: %w", err)
	}
	return &result, nil
}
