// Package llm is the provider-agnostic LLM service contract every
// extraction pass calls through: summarization (§4.F.1), the agentic tool
// loop (§4.F.3), merge classification (§4.F.4), and sync/refine (§4.F.5,
// §4.F.6). It narrows the teacher's much larger streaming/multimodal
// model.Client surface to the two capabilities this system actually uses —
// a free-text completion and a schema-constrained structured output — since
// nothing here streams to a UI or needs image/document parts.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Role mirrors model.ConversationRole, narrowed to the three roles a
// prompt-based extraction pass ever constructs.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a request transcript.
type Message struct {
	Role Role
	Text string
}

// ModelClass selects a model family without pinning a concrete provider
// model id, mirrors model.ModelClass.
type ModelClass string

const (
	ModelClassDefault       ModelClass = "default"
	ModelClassHighReasoning ModelClass = "high-reasoning"
	ModelClassSmall         ModelClass = "small"
)

// Request is a single LLM invocation.
type Request struct {
	ModelClass  ModelClass
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// PromptHash, when set, is recorded alongside a cached result (§4.F.1
	// "a deterministic summarize prompt whose stable hash is recorded
	// alongside the summary").
	PromptHash string
}

// TokenUsage mirrors model.TokenUsage.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the result of Complete.
type Response struct {
	Text  string
	Usage TokenUsage
}

// ErrRateLimited mirrors model.ErrRateLimited: the provider rejected the
// call due to rate limiting. AdaptiveLimiter treats this as a backoff
// signal.
var ErrRateLimited = errors.New("llm: rate limited")

// Service is the narrow contract every extraction pass depends on.
type Service interface {
	// Complete performs a free-text completion.
	Complete(ctx context.Context, req Request) (Response, error)
	// StructuredOutput performs a completion constrained to the given JSON
	// Schema and decodes the result into out, which must be a pointer.
	StructuredOutput(ctx context.Context, req Request, schema json.RawMessage, out any) error
}
