package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK client this
// adapter needs, matching *sdk.MessageService's New signature so tests can
// substitute a fake (mirrors the teacher's anthropic.MessagesClient).
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicOptions configures the Anthropic-backed Service.
type AnthropicOptions struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float64
}

// AnthropicService implements Service over the Anthropic Claude Messages
// API.
type AnthropicService struct {
	msg  MessagesClient
	opts AnthropicOptions
}

// NewAnthropicService builds an Anthropic-backed Service.
func NewAnthropicService(msg MessagesClient, opts AnthropicOptions) (*AnthropicService, error) {
	if msg == nil {
		return nil, errors.New("llm: anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llm: anthropic default model is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &AnthropicService{msg: msg, opts: opts}, nil
}

func (s *AnthropicService) modelFor(class ModelClass) string {
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

func (s *AnthropicService) buildParams(req Request) sdk.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.opts.MaxTokens
	}

	var system string
	var messages []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = m.Text
		case RoleUser:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(s.modelFor(req.ModelClass)),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	return params
}

func (s *AnthropicService) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := s.msg.New(ctx, s.buildParams(req))
	if err != nil {
		if isRateLimitErr(err) {
			return Response{}, ErrRateLimited
		}
		return Response{}, fmt.Errorf("llm: anthropic complete: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return Response{
		Text: text,
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// StructuredOutput asks the model to respond with JSON conforming to
// schema, appending the schema to the prompt as an explicit instruction
// since the Anthropic Messages API has no first-class structured-output
// mode equivalent to OpenAI's response_format.
func (s *AnthropicService) StructuredOutput(ctx context.Context, req Request, schema json.RawMessage, out any) error {
	augmented := req
	augmented.Messages = append(append([]Message{}, req.Messages...), Message{
		Role: RoleUser,
		Text: fmt.Sprintf("Respond with JSON only, conforming exactly to this JSON Schema:\n%s", string(schema)),
	})

	resp, err := s.Complete(ctx, augmented)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp.Text), out); err != nil {
		return fmt.Errorf("llm: anthropic structured output: decode model response: %w", err)
	}
	return nil
}

func isRateLimitErr(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
