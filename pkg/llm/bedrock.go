package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client this
// adapter needs, matching *bedrockruntime.Client (teacher's
// bedrock.RuntimeClient, narrowed to Converse since nothing here streams).
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions configures the Bedrock-backed Service.
type BedrockOptions struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float32
}

// BedrockService implements Service over the AWS Bedrock Converse API.
type BedrockService struct {
	runtime RuntimeClient
	opts    BedrockOptions
}

// NewBedrockService builds a Bedrock-backed Service.
func NewBedrockService(runtime RuntimeClient, opts BedrockOptions) (*BedrockService, error) {
	if runtime == nil {
		return nil, errors.New("llm: bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llm: bedrock default model is required")
	}
	return &BedrockService{runtime: runtime, opts: opts}, nil
}

func (s *BedrockService) modelFor(class ModelClass) string {
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

func (s *BedrockService) buildInput(req Request) *bedrockruntime.ConverseInput {
	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		block := &brtypes.ContentBlockMemberText{Value: m.Text}
		switch m.Role {
		case RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
		case RoleUser:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: []brtypes.ContentBlock{block}})
		case RoleAssistant:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: []brtypes.ContentBlock{block}})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.opts.MaxTokens
	}
	inferenceConfig := &brtypes.InferenceConfiguration{}
	if maxTokens > 0 {
		inferenceConfig.MaxTokens = aws.Int32(int32(maxTokens))
	}
	temp := float32(req.Temperature)
	if temp == 0 {
		temp = s.opts.Temperature
	}
	if temp > 0 {
		inferenceConfig.Temperature = aws.Float32(temp)
	}

	return &bedrockruntime.ConverseInput{
		ModelId:         aws.String(s.modelFor(req.ModelClass)),
		Messages:        messages,
		System:          system,
		InferenceConfig: inferenceConfig,
	}
}

func (s *BedrockService) Complete(ctx context.Context, req Request) (Response, error) {
	out, err := s.runtime.Converse(ctx, s.buildInput(req))
	if err != nil {
		if isBedrockRateLimitErr(err) {
			return Response{}, ErrRateLimited
		}
		return Response{}, fmt.Errorf("llm: bedrock complete: %w", err)
	}

	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Response{}, errors.New("llm: bedrock complete: unexpected output shape")
	}

	var text string
	for _, block := range msgOutput.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}

	usage := TokenUsage{}
	if out.Usage != nil {
		usage.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return Response{Text: text, Usage: usage}, nil
}

// StructuredOutput appends the schema as an explicit instruction, since
// Converse has no first-class structured-output mode; this mirrors the
// Anthropic adapter's approach (both are "prompt for JSON, then parse").
func (s *BedrockService) StructuredOutput(ctx context.Context, req Request, schema json.RawMessage, out any) error {
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
		return fmt.Errorf("llm: bedrock structured output: decode model response: %w", err)
	}
	return nil
}

func isBedrockRateLimitErr(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 429
	}
	return false
}
