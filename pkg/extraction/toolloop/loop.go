package toolloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fourthplaces/seesaw/pkg/extraction/candidates"
	"github.com/fourthplaces/seesaw/pkg/llm"
)

// DefaultMaxToolCalls is the implementation-defined per-candidate bound
// §4.F.3 names ("typically 6-10").
const DefaultMaxToolCalls = 8

const loopSystemPrompt = `You enrich a single candidate listing for a community-resources
directory into a complete, evidence-backed post. You have access to a
fixed set of read-only tools: search_page, search_site, web_search,
fetch_url. Use them to gather the details you need (contact info,
schedule, eligibility, location). When you have enough evidence, call
finalize with your best structured answer. Never invent facts you cannot
point to an excerpt for; every claim in "evidence" must be a verbatim
excerpt you actually retrieved.`

// decisionSchema constrains every non-final turn to either another tool
// call from the closed vocabulary or a finalize action.
const decisionSchema = `{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["tool", "finalize"]},
    "tool": {"type": "string", "enum": ["search_page", "search_site", "web_search", "fetch_url"]},
    "tool_input": {"type": "object"},
    "post": {"type": "object"}
  },
  "required": ["action"]
}`

type decision struct {
	Action    string          `json:"action"`
	Tool      ToolName        `json:"tool"`
	ToolInput json.RawMessage `json:"tool_input"`
	Post      *EnrichedPost   `json:"post"`
}

// Loop runs Pass 3's bounded tool loop over one candidate at a time.
type Loop struct {
	llm          llm.Service
	tools        map[ToolName]Tool
	compiled     map[ToolName]*jsonschema.Schema
	grounding    *Grounding
	maxToolCalls int
}

// NewLoop constructs a Loop. tools must cover the full closed vocabulary
// minus finalize (which the loop itself terminates on).
func NewLoop(service llm.Service, tools []Tool, maxToolCalls int) (*Loop, error) {
	if maxToolCalls <= 0 {
		maxToolCalls = DefaultMaxToolCalls
	}

	byName := make(map[ToolName]Tool, len(tools))
	compiled := make(map[ToolName]*jsonschema.Schema, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t

		var schemaDoc any
		if err := json.Unmarshal(t.Schema(), &schemaDoc); err != nil {
			return nil, fmt.Errorf("toolloop: unmarshal schema for %s: %w", t.Name(), err)
		}
		resourceName := string(t.Name()) + ".json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(resourceName, schemaDoc); err != nil {
			return nil, fmt.Errorf("toolloop: add schema resource for %s: %w", t.Name(), err)
		}
		schema, err := c.Compile(resourceName)
		if err != nil {
			return nil, fmt.Errorf("toolloop: compile schema for %s: %w", t.Name(), err)
		}
		compiled[t.Name()] = schema
	}

	return &Loop{llm: service, tools: byName, compiled: compiled, grounding: NewGrounding(), maxToolCalls: maxToolCalls}, nil
}

// Enrich runs the bounded tool loop for one candidate. context is
// arbitrary prior knowledge to seed the conversation (e.g. the candidate's
// originating page summaries); it may be empty.
func (l *Loop) Enrich(ctx context.Context, candidate candidates.Candidate, seedContext string) (Result, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Text: loopSystemPrompt},
		{Role: llm.RoleUser, Text: fmt.Sprintf("Candidate: %+v\n\nContext:\n%s", candidate, seedContext)},
	}

	var trace []TraceEntry
	for i := 0; i < l.maxToolCalls; i++ {
		var d decision
		if err := l.llm.StructuredOutput(ctx, llm.Request{ModelClass: llm.ModelClassDefault, Messages: messages}, json.RawMessage(decisionSchema), &d); err != nil {
			return Result{Candidate: candidate, Trace: trace}, fmt.Errorf("toolloop: decide: %w", err)
		}

		if d.Action == "finalize" {
			post := finalizePost(d.Post)
			return Result{Candidate: candidate, Post: post, Trace: trace}, nil
		}

		tool, ok := l.tools[d.Tool]
		if !ok {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Text: fmt.Sprintf("tool error: unknown tool %q; choose one of search_page, search_site, web_search, fetch_url, or finalize", d.Tool)})
			continue
		}

		var inputDoc any
		if err := json.Unmarshal(d.ToolInput, &inputDoc); err == nil {
			if verr := l.compiled[d.Tool].Validate(inputDoc); verr != nil {
				entry := TraceEntry{Tool: d.Tool, Input: d.ToolInput, Err: verr.Error()}
				trace = append(trace, entry)
				messages = append(messages, llm.Message{Role: llm.RoleUser, Text: fmt.Sprintf("tool error calling %s: invalid input: %v", d.Tool, verr)})
				continue
			}
		}

		output, err := tool.Call(ctx, d.ToolInput)
		entry := TraceEntry{Tool: d.Tool, Input: d.ToolInput, Output: output}
		if err != nil {
			entry.Err = err.Error()
			trace = append(trace, entry)
			messages = append(messages, llm.Message{Role: llm.RoleUser, Text: fmt.Sprintf("tool error calling %s: %v", d.Tool, err)})
			continue
		}
		trace = append(trace, entry)
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Text: fmt.Sprintf("called %s(%s)", d.Tool, d.ToolInput)})
		messages = append(messages, llm.Message{Role: llm.RoleUser, Text: fmt.Sprintf("tool result for %s: %s", d.Tool, output)})
	}

	// §4.F.3 "Exceeding N forces a finalize with whatever evidence was
	// gathered": ask once more, this time constrained directly to the
	// EnrichedPost schema so the model has no option but to answer.
	messages = append(messages, llm.Message{Role: llm.RoleUser, Text: "You have used all available tool calls. Finalize now with your best answer given the evidence gathered so far."})
	var forced EnrichedPost
	if err := l.llm.StructuredOutput(ctx, llm.Request{ModelClass: llm.ModelClassDefault, Messages: messages}, json.RawMessage(enrichedPostSchema), &forced); err != nil {
		return Result{Candidate: candidate, Trace: trace, ForcedFinal: true}, fmt.Errorf("toolloop: forced finalize: %w", err)
	}
	post := finalizePost(&forced)
	return Result{Candidate: candidate, Post: post, Trace: trace, ForcedFinal: true}, nil
}

// PreFilter decides whether a candidate is worth enriching at all (§4.F.3
// "reject candidates whose pre-filter predicate is false"). A nil PreFilter
// accepts every candidate.
type PreFilter func(candidates.Candidate) bool

// EnrichAll runs Enrich over every candidate that passes preFilter,
// skipping the rest without spending a single tool call on them. A
// candidate whose Enrich call itself fails (the LLM errors, not a tool)
// is skipped rather than aborting the batch: its Result carries Err and a
// nil Post, and the loop continues with the remaining candidates.
func (l *Loop) EnrichAll(ctx context.Context, batch []candidates.Candidate, seedContext string, preFilter PreFilter) ([]Result, error) {
	results := make([]Result, 0, len(batch))
	for _, c := range batch {
		if preFilter != nil && !preFilter(c) {
			continue
		}
		result, err := l.Enrich(ctx, c, seedContext)
		if err != nil {
			results = append(results, Result{Candidate: c, Err: err.Error()})
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func finalizePost(post *EnrichedPost) *EnrichedPost {
	if post == nil {
		return nil
	}
	post.Summary = TruncateSummary(post.Summary)
	return post
}

const enrichedPostSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "summary": {"type": "string"},
    "description": {"type": "string"},
    "primary_audience": {"type": "string"},
    "post_type": {"type": "string"},
    "category": {"type": "string"},
    "urgency": {"type": "string"},
    "confidence": {"type": "string"},
    "contact": {"type": "object"},
    "location": {"type": "string"},
    "source_urls": {"type": "array", "items": {"type": "string"}},
    "evidence": {"type": "array", "items": {"type": "string"}},
    "tags": {"type": "array"},
    "audience_roles": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["title", "source_urls", "evidence"]
}`
