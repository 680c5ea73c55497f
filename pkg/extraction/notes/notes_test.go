package notes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/seesaw/internal/telemetry"
	"github.com/fourthplaces/seesaw/pkg/llm"
)

type fakeLLM struct {
	byURL map[string]scanResponse
	err   error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, nil
}

func (f *fakeLLM) StructuredOutput(ctx context.Context, req llm.Request, schema json.RawMessage, out any) error {
	if f.err != nil {
		return f.err
	}
	text := req.Messages[len(req.Messages)-1].Text
	encoded, err := json.Marshal(f.byURL[text])
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

func TestScanAttachesNotesFoundOnEachPage(t *testing.T) {
	backend := &fakeLLM{byURL: map[string]scanResponse{
		"closed thursdays": {Notes: []string{"Closed Thursdays"}},
	}}
	s := New(backend, telemetry.NewNoopLogger())

	notes := s.Scan(context.Background(), []Page{
		{URL: "https://a.org", Content: "closed thursdays", PostID: "post-1"},
	})
	require.Len(t, notes, 1)
	assert.Equal(t, "post-1", notes[0].PostID)
	assert.Equal(t, "Closed Thursdays", notes[0].Text)
}

func TestScanSkipsEmptyPageContent(t *testing.T) {
	s := New(&fakeLLM{}, telemetry.NewNoopLogger())
	notes := s.Scan(context.Background(), []Page{{URL: "https://a.org", Content: "", PostID: "post-1"}})
	assert.Empty(t, notes)
}

func TestScanSkipsPageOnFailureWithoutAborting(t *testing.T) {
	backend := &fakeLLM{err: errors.New("provider down")}
	s := New(backend, telemetry.NewNoopLogger())

	notes := s.Scan(context.Background(), []Page{
		{URL: "https://a.org", Content: "some content", PostID: "post-1"},
	})
	assert.Empty(t, notes)
}
