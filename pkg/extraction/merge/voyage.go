package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPDoer is the subset of *http.Client VoyageEmbedder needs, mirroring
// websearch.HTTPDoer's shape.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// VoyageEmbedder is a thin adapter over Voyage AI's embeddings endpoint,
// grounded on original_source/packages/server/src/common/utils/embeddings.rs's
// EmbeddingService: POST {model, input: [text]} to
// https://api.voyageai.com/v1/embeddings with a Bearer API key, read back
// one 1024-dimension float vector per input. Unlike websearch's search
// provider, this wire contract is fully specified in the original
// implementation, so it is grounded directly rather than picked as an
// arbitrary stand-in.
type VoyageEmbedder struct {
	http    HTTPDoer
	baseURL string
	apiKey  string
	model   string
}

// NewVoyageEmbedder constructs a VoyageEmbedder. baseURL and model default
// to Voyage AI's production endpoint and the voyage-3-large model the
// original service used.
func NewVoyageEmbedder(httpClient HTTPDoer, baseURL, apiKey, model string) *VoyageEmbedder {
	if baseURL == "" {
		baseURL = "https://api.voyageai.com/v1/embeddings"
	}
	if model == "" {
		model = "voyage-3-large"
	}
	return &VoyageEmbedder{http: httpClient, baseURL: baseURL, apiKey: apiKey, model: model}
}

type voyageRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(voyageRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("merge: encode voyage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("merge: build voyage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("merge: voyage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("merge: voyage provider returned status %d", resp.StatusCode)
	}

	var decoded voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("merge: decode voyage response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("merge: voyage response had no embeddings")
	}
	return decoded.Data[0].Embedding, nil
}
