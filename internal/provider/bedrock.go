package provider

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"gateway/internal/domain"
)

// BedrockAdapter talks to AWS Bedrock's unified Converse API, which
// normalizes the per-vendor request/response shape across Claude, Nova,
// Llama and Mistral models in one call — grounded on the teacher's
// internal/provider/bedrock.go family, collapsed to the one API surface
// that does not require a model-specific payload.
type BedrockAdapter struct {
	client *bedrockruntime.Client
}

func NewBedrockAdapter(ctx context.Context, region, accessKeyID, secretAccessKey string) (*BedrockAdapter, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	if accessKeyID != "" && secretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("provider: load aws config: %w", err)
	}
	return &BedrockAdapter{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (a *BedrockAdapter) Name() string                 { return "bedrock" }
func (a *BedrockAdapter) SupportsNativeWebSearch() bool { return false }

func (a *BedrockAdapter) Generate(ctx context.Context, model string, messages []domain.Message, opts domain.GenerateOptions) (*domain.GenerateResult, error) {
	var system []types.SystemContentBlock
	var turns []types.Message

	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == domain.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		turns = append(turns, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}

	inferCfg := &types.InferenceConfiguration{}
	if opts.MaxTokens > 0 {
		maxTokens := int32(opts.MaxTokens)
		inferCfg.MaxTokens = &maxTokens
	}
	if opts.Temperature > 0 {
		temp := float32(opts.Temperature)
		inferCfg.Temperature = &temp
	}

	out, err := a.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         &model,
		Messages:        turns,
		System:          system,
		InferenceConfig: inferCfg,
	})
	if err != nil {
		return nil, &VendorError{Kind: classifyBedrockError(err), Provider: a.Name(), Message: err.Error()}
	}

	result := &domain.GenerateResult{FinishReason: domain.FinishStop}
	if out.Usage != nil {
		result.Usage = domain.Usage{
			PromptTokens:     int(derefI32(out.Usage.InputTokens)),
			CompletionTokens: int(derefI32(out.Usage.OutputTokens)),
			TotalTokens:      int(derefI32(out.Usage.TotalTokens)),
		}
	}
	result.Usage.Normalize()

	if msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				result.Text += text.Value
			}
		}
	}

	switch out.StopReason {
	case types.StopReasonMaxTokens:
		result.FinishReason = domain.FinishLength
	case types.StopReasonToolUse:
		result.FinishReason = domain.FinishToolCalls
	case types.StopReasonContentFiltered:
		result.FinishReason = domain.FinishContentFilter
	}
	return result, nil
}

func derefI32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}

// classifyBedrockError maps the SDK's typed exceptions to the shared
// vendor-error taxonomy (spec §4.F). The AWS SDK's modeled errors satisfy
// the smithy APIError interface with a stable ErrorCode().
func classifyBedrockError(err error) ErrorKind {
	type apiError interface {
		ErrorCode() string
	}
	ae, ok := err.(apiError)
	if !ok {
		return ErrTransport
	}
	switch ae.ErrorCode() {
	case "AccessDeniedException", "UnrecognizedClientException":
		return ErrUnauthorized
	case "ResourceNotFoundException":
		return ErrNotFound
	case "ThrottlingException", "ServiceQuotaExceededException":
		return ErrRateLimited
	case "ValidationException", "ModelErrorException":
		return ErrBadRequest
	case "ModelTimeoutException", "InternalServerException", "ServiceUnavailableException":
		return ErrUpstream
	default:
		return ErrTransport
	}
}
