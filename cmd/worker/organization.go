package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fourthplaces/seesaw/pkg/llm"
)

// organizationEntry is the in-process stand-in for a durable organization
// row: the resources folded into it and the last time its pooled pages were
// extracted (extract_org_posts.rs's "update organizations.last_extracted_at"
// step). No durable Organization schema is named anywhere in SPEC_FULL.md,
// so this follows handoffStore's precedent (store.go) of staying
// process-local rather than inventing a persistence layer nothing else
// requires.
type organizationEntry struct {
	id              string
	resourceIDs     []string
	lastExtractedAt time.Time
}

// orgStore is the one-process registry crawl_website_full and
// extract_org_posts use to auto-create organizations from resources, pool
// an organization's resources back out, and record its last extraction
// time.
type orgStore struct {
	mu         sync.Mutex
	byResource map[string]string
	orgs       map[string]*organizationEntry
}

func newOrgStore() *orgStore {
	return &orgStore{
		byResource: make(map[string]string),
		orgs:       make(map[string]*organizationEntry),
	}
}

// autoCreate returns the organization already associated with resourceID,
// or folds resourceID into a freshly minted single-resource organization.
// Mirrors crawl_full.rs's "auto-create an organization for this resource if
// one doesn't already exist" best-effort step.
func (s *orgStore) autoCreate(resourceID string) (id string, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byResource[resourceID]; ok {
		return id, false
	}
	id = uuid.NewString()
	s.orgs[id] = &organizationEntry{id: id, resourceIDs: []string{resourceID}}
	s.byResource[resourceID] = id
	return id, true
}

func (s *orgStore) resourcesFor(organizationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[organizationID]
	if !ok {
		return nil
	}
	return append([]string(nil), org.resourceIDs...)
}

func (s *orgStore) touchLastExtracted(organizationID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[organizationID]
	if !ok {
		return false
	}
	org.lastExtractedAt = at
	return true
}

// --- organization-scoped activities (auto-create, narrative, contacts, pooling) ---

type autoCreateOrganizationInput struct {
	ResourceID string `json:"resource_id"`
}

type autoCreateOrganizationResult struct {
	OrganizationID string
	Created        bool
}

// AutoCreateOrganization folds a resource into an organization, creating one
// if the resource has never been seen before. Best-effort by design
// (crawl_full.rs): crawl_website_full ignores this activity's error rather
// than failing the crawl over it.
func (w *worker) AutoCreateOrganization(ctx context.Context, in autoCreateOrganizationInput) (*autoCreateOrganizationResult, error) {
	id, created := w.orgs.autoCreate(in.ResourceID)
	if created {
		w.logger.Info(ctx, "auto_create_organization: created", "resource_id", in.ResourceID, "organization_id", id)
	}
	return &autoCreateOrganizationResult{OrganizationID: id, Created: created}, nil
}

type extractNarrativesInput struct {
	ResourceID string   `json:"resource_id"`
	PageIDs    []string `json:"page_ids"`
}

type extractNarrativesResult struct {
	Narrative string
}

const narrativePrompt = `Summarize, in two to four sentences, the organization's overall mission
and the kinds of programs or services it runs, based only on the page
content given below. State only what the text supports; never invent a
mission statement or program the pages don't mention.`

// ExtractNarratives runs the organization-level narrative pass
// extract_org_posts.rs calls before post deduplication: a short
// mission/programs summary grounded in the resource's already-ingested
// pages, used to give later passes organizational context beyond any one
// page. Best-effort: an LLM failure here should never fail the crawl.
func (w *worker) ExtractNarratives(ctx context.Context, in extractNarrativesInput) (*extractNarrativesResult, error) {
	cached, err := w.pages.ListPages(ctx, in.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("extract_narratives: list pages: %w", err)
	}
	if len(cached) == 0 {
		return &extractNarrativesResult{}, nil
	}

	var content strings.Builder
	for _, p := range cached {
		content.WriteString(p.Content)
		content.WriteString("\n\n")
	}

	resp, err := w.llmService.Complete(ctx, llm.Request{
		ModelClass: llm.ModelClassDefault,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: narrativePrompt},
			{Role: llm.RoleUser, Text: content.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract_narratives: %w", err)
	}
	return &extractNarrativesResult{Narrative: resp.Text}, nil
}

type investigateContactsInput struct {
	ResourceID string   `json:"resource_id"`
	PageIDs    []string `json:"page_ids"`
}

type investigateContactsResult struct {
	ContactsFound int
}

type contactFound struct {
	ContactType  string `json:"contact_type"`
	ContactValue string `json:"contact_value"`
}

type investigateContactsResponse struct {
	Contacts []contactFound `json:"contacts"`
}

const contactInvestigationPrompt = `Scan the page content for the organization's publicly listed contact
details: phone numbers, email addresses, a primary website, a street
address, an online booking link, or social profile URLs. Return only
values that literally appear in the text; never infer or invent one.`

const contactSchema = `{
  "type": "object",
  "properties": {
    "contacts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "contact_type": {"type": "string", "enum": ["phone", "email", "website", "address", "booking_url", "social"]},
          "contact_value": {"type": "string"}
        },
        "required": ["contact_type", "contact_value"]
      }
    }
  },
  "required": ["contacts"]
}`

// InvestigateContacts runs extract_org_posts.rs's contact-investigation
// pass: per page, ask the model for the organization's publicly listed
// contact details (§ contacts.rs's contact_type/contact_value/contact_label
// shape, narrowed here to type+value since label/display_order are a
// presentation concern no module in this system owns). A page whose
// investigation call fails is skipped and logged rather than failing the
// whole activity, the same per-item-tolerant discipline toolloop.EnrichAll
// uses for candidate enrichment.
func (w *worker) InvestigateContacts(ctx context.Context, in investigateContactsInput) (*investigateContactsResult, error) {
	cached, err := w.pages.ListPages(ctx, in.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("investigate_contacts: list pages: %w", err)
	}

	found := 0
	for _, p := range cached {
		var resp investigateContactsResponse
		req := llm.Request{
			ModelClass: llm.ModelClassDefault,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Text: contactInvestigationPrompt},
				{Role: llm.RoleUser, Text: p.Content},
			},
		}
		if err := w.llmService.StructuredOutput(ctx, req, json.RawMessage(contactSchema), &resp); err != nil {
			w.logger.Info(ctx, "investigate_contacts: skipping page after LLM failure", "url", p.URL, "err", err.Error())
			continue
		}
		found += len(resp.Contacts)
	}
	return &investigateContactsResult{ContactsFound: found}, nil
}

type poolOrganizationPagesInput struct {
	OrganizationID string `json:"organization_id"`
}

type poolOrganizationPagesResult struct {
	PageIDs     []string
	ResourceIDs []string
}

// PoolOrganizationPages gathers the cached pages of every resource folded
// into an organization, the Go shape of extract_org_posts.rs's "resolve
// site_urls, then query pages across all of them" step.
func (w *worker) PoolOrganizationPages(ctx context.Context, in poolOrganizationPagesInput) (*poolOrganizationPagesResult, error) {
	resourceIDs := w.orgs.resourcesFor(in.OrganizationID)
	if len(resourceIDs) == 0 {
		return nil, fmt.Errorf("pool_organization_pages: unknown organization %q", in.OrganizationID)
	}

	var pageIDs []string
	for _, resourceID := range resourceIDs {
		cached, err := w.pages.ListPages(ctx, resourceID)
		if err != nil {
			return nil, fmt.Errorf("pool_organization_pages: list pages for %s: %w", resourceID, err)
		}
		for _, p := range cached {
			pageIDs = append(pageIDs, p.ContentHash)
		}
	}
	return &poolOrganizationPagesResult{PageIDs: pageIDs, ResourceIDs: resourceIDs}, nil
}

type updateOrgLastExtractedInput struct {
	OrganizationID string `json:"organization_id"`
}

type updateOrgLastExtractedResult struct {
	Updated bool
}

// UpdateOrgLastExtracted records the organization's last extraction run,
// extract_org_posts.rs's final "update organizations.last_extracted_at"
// step.
func (w *worker) UpdateOrgLastExtracted(ctx context.Context, in updateOrgLastExtractedInput) (*updateOrgLastExtractedResult, error) {
	ok := w.orgs.touchLastExtracted(in.OrganizationID, time.Now())
	return &updateOrgLastExtractedResult{Updated: ok}, nil
}
