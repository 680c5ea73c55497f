package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/extraction/cache"
	"github.com/fourthplaces/seesaw/pkg/extraction/candidates"
	"github.com/fourthplaces/seesaw/pkg/llm"
)

func TestFindExcerptsReturnsEachMatchWithSurroundingContext(t *testing.T) {
	content := "The food pantry is open Tuesdays and Thursdays from 9am to 5pm for anyone in need."
	excerpts := findExcerpts(content, "pantry")
	require.Len(t, excerpts, 1)
	assert.Contains(t, excerpts[0], "pantry")
}

func TestFindExcerptsReturnsNilForNoMatch(t *testing.T) {
	assert.Nil(t, findExcerpts("hello world", "xyz"))
}

func TestSearchPageToolReturnsExcerptsForKnownSnapshot(t *testing.T) {
	index := map[string]cache.CachedPage{
		"h1": {URL: "https://a.org", Content: "open tuesdays for the food pantry"},
	}
	tool := NewSearchPageTool(nil, index)

	input, _ := json.Marshal(searchPageInput{SnapshotID: "h1", Query: "pantry"})
	out, err := tool.Call(context.Background(), input)
	require.NoError(t, err)
	assert.Contains(t, string(out), "pantry")
}

func TestSearchPageToolErrorsForUnknownSnapshot(t *testing.T) {
	tool := NewSearchPageTool(nil, map[string]cache.CachedPage{})
	input, _ := json.Marshal(searchPageInput{SnapshotID: "missing", Query: "pantry"})
	_, err := tool.Call(context.Background(), input)
	assert.Error(t, err)
}

func TestGroundingRejectsPostWithNoQualifyingEvidence(t *testing.T) {
	g := NewGrounding()
	grounded, count := g.Score(&EnrichedPost{Evidence: []string{"ok"}})
	assert.False(t, grounded)
	assert.Zero(t, count)
}

func TestGroundingAcceptsPostWithOneQualifyingExcerpt(t *testing.T) {
	g := NewGrounding()
	grounded, count := g.Score(&EnrichedPost{Evidence: []string{"open every tuesday for walk-ins"}})
	assert.True(t, grounded)
	assert.Equal(t, 1, count)
}

func TestTruncateSummaryLeavesShortSummaryUnchanged(t *testing.T) {
	assert.Equal(t, "short", TruncateSummary("short"))
}

func TestTruncateSummaryTruncatesLongSummaryWithEllipsis(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	out := TruncateSummary(string(long))
	assert.Len(t, out, maxSummaryChars)
	assert.Contains(t, out, "...")
}

// fakeLLM drives the loop deterministically through a scripted sequence of
// decisions, one per call to StructuredOutput.
type fakeLoopLLM struct {
	decisions []decision
	calls     int
}

func (f *fakeLoopLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, nil
}

func (f *fakeLoopLLM) StructuredOutput(ctx context.Context, req llm.Request, schema json.RawMessage, out any) error {
	d := f.decisions[f.calls]
	f.calls++
	// A forced finalize asks for a bare EnrichedPost rather than a decision.
	var v any = d
	if _, ok := out.(*EnrichedPost); ok {
		v = d.Post
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

type noopTool struct{ name ToolName }

func (n noopTool) Name() ToolName          { return n.name }
func (n noopTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (n noopTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"excerpts":["the pantry is open every tuesday for walk-ins"]}`), nil
}

func TestLoopFinalizesAfterOneToolCall(t *testing.T) {
	toolInput, _ := json.Marshal(map[string]string{"snapshot_id": "h1", "query": "pantry"})
	backend := &fakeLoopLLM{decisions: []decision{
		{Action: "tool", Tool: ToolSearchPage, ToolInput: toolInput},
		{Action: "finalize", Post: &EnrichedPost{
			Title:      "Food Pantry",
			SourceURLs: []string{"https://a.org"},
			Evidence:   []string{"the pantry is open every tuesday for walk-ins"},
		}},
	}}

	loop, err := NewLoop(backend, []Tool{noopTool{name: ToolSearchPage}}, 8)
	require.NoError(t, err)

	result, err := loop.Enrich(context.Background(), candidates.Candidate{Title: "Food Pantry"}, "")
	require.NoError(t, err)
	require.NotNil(t, result.Post)
	assert.Equal(t, "Food Pantry", result.Post.Title)
	assert.Len(t, result.Trace, 1)
	assert.False(t, result.ForcedFinal)
}

func TestLoopForcesFinalizeAfterExceedingMaxToolCalls(t *testing.T) {
	toolInput, _ := json.Marshal(map[string]string{"snapshot_id": "h1", "query": "pantry"})
	decisions := []decision{
		{Action: "tool", Tool: ToolSearchPage, ToolInput: toolInput},
		{Action: "tool", Tool: ToolSearchPage, ToolInput: toolInput},
	}
	backend := &fakeLoopLLM{decisions: append(decisions, decision{
		Post: &EnrichedPost{Title: "Forced", SourceURLs: []string{"https://a.org"}, Evidence: []string{"evidence here"}},
	})}

	loop, err := NewLoop(backend, []Tool{noopTool{name: ToolSearchPage}}, 2)
	require.NoError(t, err)

	result, err := loop.Enrich(context.Background(), candidates.Candidate{Title: "Food Pantry"}, "")
	require.NoError(t, err)
	require.NotNil(t, result.Post)
	assert.True(t, result.ForcedFinal)
	assert.Equal(t, "Forced", result.Post.Title)
}

// erroringLoopLLM fails its first call (so the first candidate's Enrich
// call itself fails) then drives the rest of the batch deterministically.
type erroringLoopLLM struct {
	calls     int
	failUntil int
	decisions []decision
}

func (f *erroringLoopLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, nil
}

func (f *erroringLoopLLM) StructuredOutput(ctx context.Context, req llm.Request, schema json.RawMessage, out any) error {
	f.calls++
	if f.calls <= f.failUntil {
		return fmt.Errorf("llm unavailable")
	}
	d := f.decisions[f.calls-f.failUntil-1]
	encoded, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

func TestEnrichAllSkipsCandidateAfterLLMFailureAndContinuesBatch(t *testing.T) {
	backend := &erroringLoopLLM{
		failUntil: 1,
		decisions: []decision{
			{Action: "finalize", Post: &EnrichedPost{Title: "Second", SourceURLs: []string{"https://a.org"}, Evidence: []string{"evidence here"}}},
		},
	}
	loop, err := NewLoop(backend, nil, 8)
	require.NoError(t, err)

	batch := []candidates.Candidate{{Title: "First"}, {Title: "Second"}}
	results, err := loop.EnrichAll(context.Background(), batch, "", nil)
	require.NoError(t, err, "a per-candidate LLM failure must not abort the batch")
	require.Len(t, results, 2)

	assert.Nil(t, results[0].Post)
	assert.NotEmpty(t, results[0].Err)

	require.NotNil(t, results[1].Post)
	assert.Equal(t, "Second", results[1].Post.Title)
}

func TestEnrichAllSkipsCandidatesRejectedByPreFilter(t *testing.T) {
	backend := &fakeLoopLLM{decisions: []decision{
		{Action: "finalize", Post: &EnrichedPost{Title: "Kept", SourceURLs: []string{"https://a.org"}, Evidence: []string{"evidence here"}}},
	}}
	loop, err := NewLoop(backend, nil, 8)
	require.NoError(t, err)

	batch := []candidates.Candidate{{Title: "Skip Me"}, {Title: "Kept"}}
	results, err := loop.EnrichAll(context.Background(), batch, "", func(c candidates.Candidate) bool {
		return c.Title != "Skip Me"
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Kept", results[0].Post.Title)
}
