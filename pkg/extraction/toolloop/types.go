// Package toolloop implements Pass 3 of the extraction pipeline (§4.F.3):
// for each candidate, a bounded LLM loop over a closed tool vocabulary that
// enriches a lightweight candidate into a fully-detailed EnrichedPost,
// grounded on the teacher's runtime/agent/planner PlanStart/PlanResume
// (tool-call-or-final-response) decision loop and
// runtime/agent/runtime/workflow_loop.go's bounded-iteration control flow,
// narrowed to this system's five fixed tools and a single provider-agnostic
// llm.Service instead of a streaming multi-provider model.Client.
package toolloop

import (
	"context"
	"encoding/json"

	"github.com/fourthplaces/seesaw/pkg/extraction/candidates"
)

// ToolName is the closed vocabulary of §4.F.3. Of its five names, finalize
// is handled by the loop itself and the other four are supplied as Tool
// implementations; the loop has no notion of a dynamically registered
// tool.
type ToolName string

const (
	ToolSearchPage ToolName = "search_page"
	ToolSearchSite ToolName = "search_site"
	ToolWebSearch  ToolName = "web_search"
	ToolFetchURL   ToolName = "fetch_url"
	ToolFinalize   ToolName = "finalize"
)

// Confidence is the EnrichedPost.Confidence enum of §4.F.3.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Audience is the EnrichedPost.PrimaryAudience enum of §4.F.3.
type Audience string

const (
	AudienceRecipient   Audience = "recipient"
	AudienceVolunteer   Audience = "volunteer"
	AudienceDonor       Audience = "donor"
	AudienceJobSeeker   Audience = "job_seeker"
	AudienceParticipant Audience = "participant"
)

// Contact is the EnrichedPost.Contact sub-record.
type Contact struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

// Tag is one EnrichedPost.Tags entry.
type Tag struct {
	Kind        string `json:"kind"`
	Value       string `json:"value"`
	DisplayName string `json:"display_name,omitempty"`
}

// EnrichedPost is the output of a single candidate's enrichment loop,
// exactly the shape §4.F.3 names.
type EnrichedPost struct {
	Title           string     `json:"title"`
	Summary         string     `json:"summary"`
	Description     string     `json:"description"`
	PrimaryAudience Audience   `json:"primary_audience,omitempty"`
	PostType        string     `json:"post_type"`
	Category        string     `json:"category"`
	Urgency         string     `json:"urgency,omitempty"`
	Confidence      Confidence `json:"confidence,omitempty"`
	Contact         *Contact   `json:"contact,omitempty"`
	Location        string     `json:"location,omitempty"`
	SourceURLs      []string   `json:"source_urls"`
	Evidence        []string   `json:"evidence"`
	Tags            []Tag      `json:"tags"`
	AudienceRoles   []string   `json:"audience_roles"`
}

// maxSummaryChars is the "≤250 chars; truncate with '...'" bound §4.F.3
// names for EnrichedPost.Summary.
const maxSummaryChars = 250

// TruncateSummary enforces the 250-character bound, truncating with "..."
// when the input exceeds it.
func TruncateSummary(summary string) string {
	if len(summary) <= maxSummaryChars {
		return summary
	}
	return summary[:maxSummaryChars-3] + "..."
}

// TraceEntry records one tool call's input and output for a candidate's
// enrichment trace (§4.F.3 "every tool call's input and output is recorded
// in a per-candidate trace").
type TraceEntry struct {
	Tool   ToolName
	Input  json.RawMessage
	Output json.RawMessage
	Err    string
}

// Result is the outcome of enriching one candidate.
type Result struct {
	Candidate   candidates.Candidate
	Post        *EnrichedPost
	Trace       []TraceEntry
	ForcedFinal bool   // true if the loop hit MaxToolCalls before the model finalized
	Err         string // set when the LLM itself failed and this candidate was skipped; Post is nil
}

// Tool is one entry in the closed vocabulary. Schema returns the JSON
// Schema the tool's input must validate against; Call executes it.
// Tools are read-only: §4.F.3 "the model MUST NOT be given the ability to
// mutate state."
type Tool interface {
	Name() ToolName
	Schema() json.RawMessage
	Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}
