package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient captures the subset of the official OpenAI SDK this adapter
// needs, matching the Chat Completions service's New signature.
type ChatClient interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// OpenAIOptions configures the OpenAI-backed Service.
type OpenAIOptions struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float64
}

// OpenAIService implements Service over the OpenAI Chat Completions API.
type OpenAIService struct {
	chat ChatClient
	opts OpenAIOptions
}

// NewOpenAIService builds an OpenAI-backed Service.
func NewOpenAIService(chat ChatClient, opts OpenAIOptions) (*OpenAIService, error) {
	if chat == nil {
		return nil, errors.New("llm: openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llm: openai default model is required")
	}
	return &OpenAIService{chat: chat, opts: opts}, nil
}

func (s *OpenAIService) modelFor(class ModelClass) string {
	switch class {
	case ModelClassHighReasoning:
		if s.opts.HighModel != "" {
			return s.opts.HighModel
		}
	case ModelClassSmall:
		if s.opts.SmallModel != "" {
			return s.opts.SmallModel
		}
	}
	return s.opts.DefaultModel
}

func (s *OpenAIService) buildParams(req Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Text))
		case RoleUser:
			messages = append(messages, oai.UserMessage(m.Text))
		case RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Text))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    s.modelFor(req.ModelClass),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(req.MaxTokens))
	} else if s.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(s.opts.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = oai.Float(req.Temperature)
	} else if s.opts.Temperature > 0 {
		params.Temperature = oai.Float(s.opts.Temperature)
	}
	return params
}

func (s *OpenAIService) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := s.chat.New(ctx, s.buildParams(req))
	if err != nil {
		if isOpenAIRateLimitErr(err) {
			return Response{}, ErrRateLimited
		}
		return Response{}, fmt.Errorf("llm: openai complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("llm: openai complete: no choices returned")
	}
	return Response{
		Text: resp.Choices[0].Message.Content,
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// StructuredOutput uses the Chat Completions JSON-object response format,
// appending the schema as an explicit instruction since this adapter
// targets the broadly available json_object mode rather than a
// model-family-specific strict-schema mode.
func (s *OpenAIService) StructuredOutput(ctx context.Context, req Request, schema json.RawMessage, out any) error {
	params := s.buildParams(req)
	params.Messages = append(params.Messages, oai.UserMessage(
		fmt.Sprintf("Respond with JSON only, conforming exactly to this JSON Schema:\n%s", string(schema)),
	))
	params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &oai.ResponseFormatJSONObjectParam{},
	}

	resp, err := s.chat.New(ctx, params)
	if err != nil {
		if isOpenAIRateLimitErr(err) {
			return ErrRateLimited
		}
		return fmt.Errorf("llm: openai structured output: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("llm: openai structured output: no choices returned")
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("llm: openai structured output: decode model response: %w", err)
	}
	return nil
}

func isOpenAIRateLimitErr(err error) bool {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
