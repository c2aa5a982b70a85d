package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/capability"
	"github.com/wolfman30/leadqual/pkg/logging"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockGenerator calls the Bedrock Converse API with tool use.
type BedrockGenerator struct {
	api     bedrockConverseAPI
	modelID string
	logger  *logging.Logger
}

var _ Generator = (*BedrockGenerator)(nil)

// NewBedrockGenerator builds a generator for modelID.
func NewBedrockGenerator(api bedrockConverseAPI, modelID string, logger *logging.Logger) *BedrockGenerator {
	if api == nil {
		panic("generation: bedrock converse client cannot be nil")
	}
	if strings.TrimSpace(modelID) == "" {
		panic("generation: bedrock model id cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BedrockGenerator{api: api, modelID: modelID, logger: logger}
}

// Generate sends the request and decodes text and tool-use blocks.
func (g *BedrockGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages := bedrockMessages(req.History, req.Message)
	if len(messages) == 0 {
		return Reply{}, errors.New("generation: bedrock requires at least one message")
	}

	var inference *brtypes.InferenceConfiguration
	if req.MaxTokens > 0 || req.Temperature > 0 {
		inference = &brtypes.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			inference.MaxTokens = aws.Int32(req.MaxTokens)
		}
		if req.Temperature > 0 {
			inference.Temperature = aws.Float32(req.Temperature)
		}
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(g.modelID),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: inference,
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = bedrockToolConfig(req.Tools)
	}

	out, err := g.api.Converse(ctx, input)
	if err != nil {
		return Reply{}, &apperrors.ExternalServiceError{
			Service:    "bedrock",
			Op:         "converse",
			StatusCode: awsStatusCode(err),
			Err:        err,
		}
	}

	reply := Reply{Provider: "bedrock", StopReason: string(out.StopReason)}
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		var text strings.Builder
		for _, block := range msg.Value.Content {
			switch b := block.(type) {
			case *brtypes.ContentBlockMemberText:
				text.WriteString(b.Value)
			case *brtypes.ContentBlockMemberToolUse:
				name := aws.ToString(b.Value.Name)
				action, err := decodeToolUse(name, b.Value.Input)
				if err != nil {
					g.logger.Warn("generation: dropping tool call", "tool", name, "error", err)
					reply.Rejected = append(reply.Rejected, name)
					continue
				}
				reply.Actions = append(reply.Actions, action)
			}
		}
		reply.Text = strings.TrimSpace(text.String())
	} else {
		return Reply{}, &apperrors.ExternalServiceError{Service: "bedrock", Op: "converse", Err: errors.New("response contained no message")}
	}
	if out.Usage != nil {
		reply.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return reply, nil
}

// bedrockMessages folds the transcript into alternating user/assistant
// messages starting with a user turn, as Converse requires.
func bedrockMessages(history []Turn, message string) []brtypes.Message {
	turns := append(append([]Turn{}, history...), Turn{Role: RoleUser, Content: message})
	var out []brtypes.Message
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := brtypes.ConversationRoleUser
		if turn.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		if len(out) == 0 && role != brtypes.ConversationRoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, &brtypes.ContentBlockMemberText{Value: content})
			continue
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
		})
	}
	return out
}

func bedrockToolConfig(specs []capability.ToolSpec) *brtypes.ToolConfiguration {
	tools := make([]brtypes.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(string(spec.Name)),
			Description: aws.String(spec.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(spec.JSONSchema())},
		}})
	}
	return &brtypes.ToolConfiguration{
		Tools:      tools,
		ToolChoice: &brtypes.ToolChoiceMemberAuto{Value: brtypes.AutoToolChoice{}},
	}
}

func decodeToolUse(name string, input document.Interface) (capability.Action, error) {
	raw := json.RawMessage("{}")
	if input != nil {
		data, err := input.MarshalSmithyDocument()
		if err != nil {
			return nil, fmt.Errorf("generation: read tool input: %w", err)
		}
		raw = data
	}
	return capability.Decode(name, raw)
}

func awsStatusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
