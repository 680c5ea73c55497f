package summarize

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/pkg/extraction/cache"
	"github.com/fourthplaces/seesaw/pkg/llm"
)

type fakeLLM struct {
	responses map[string]string
	calls     int
	lastReq   llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	f.lastReq = req
	text := req.Messages[len(req.Messages)-1].Text
	if resp, ok := f.responses[text]; ok {
		return llm.Response{Text: resp}, nil
	}
	return llm.Response{Text: "a summary"}, nil
}

func (f *fakeLLM) StructuredOutput(ctx context.Context, req llm.Request, schema json.RawMessage, out any) error {
	return nil
}

func TestSummarizeSkipsEmptyContent(t *testing.T) {
	summaries := cache.NewInmemSummaryStore()
	s := New(summaries, &fakeLLM{})

	out, err := s.Summarize(context.Background(), []PageToSummarize{
		{SnapshotID: "s1", URL: "https://a.org", RawContent: "", ContentHash: "h1"},
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSummarizeCallsLLMOnFirstEncounterAndCachesByHash(t *testing.T) {
	summaries := cache.NewInmemSummaryStore()
	backend := &fakeLLM{}
	s := New(summaries, backend)

	pages := []PageToSummarize{
		{SnapshotID: "s1", URL: "https://a.org", RawContent: "pantry open tuesdays", ContentHash: "h1"},
	}

	out1, err := s.Summarize(context.Background(), pages)
	require.NoError(t, err)
	require.Len(t, out1, 1)
	assert.Equal(t, "a summary", out1[0].Content)
	assert.Equal(t, 1, backend.calls)

	out2, err := s.Summarize(context.Background(), pages)
	require.NoError(t, err)
	require.Len(t, out2, 1)
	assert.Equal(t, "a summary", out2[0].Content)
	assert.Equal(t, 1, backend.calls, "second pass with same hash must not call the LLM again")
}

func TestSummarizeTreatsNoRelevantContentMarkerAsEmptySummary(t *testing.T) {
	summaries := cache.NewInmemSummaryStore()
	backend := &fakeLLM{responses: map[string]string{"just a nav bar": "NO_RELEVANT_CONTENT"}}
	s := New(summaries, backend)

	out, err := s.Summarize(context.Background(), []PageToSummarize{
		{SnapshotID: "s1", URL: "https://a.org", RawContent: "just a nav bar", ContentHash: "h2"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Content)
}

func TestSummarizeTrimsContentTo2000CharsBeforeCallingLLM(t *testing.T) {
	summaries := cache.NewInmemSummaryStore()
	backend := &fakeLLM{}
	s := New(summaries, backend)

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}

	_, err := s.Summarize(context.Background(), []PageToSummarize{
		{SnapshotID: "s1", URL: "https://a.org", RawContent: string(long), ContentHash: "h3"},
	})
	require.NoError(t, err)
	assert.Len(t, backend.lastReq.Messages[len(backend.lastReq.Messages)-1].Text, maxPrefilterChars)
}
