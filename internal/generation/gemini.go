package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/capability"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// GeminiGenerator calls Google Gemini with function declarations.
type GeminiGenerator struct {
	client  *genai.Client
	modelID string
	logger  *logging.Logger
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, apiKey, modelID string, logger *logging.Logger) (*GeminiGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("generation: gemini api key is required")
	}
	if modelID == "" {
		modelID = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = logging.Default()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("generation: create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, modelID: modelID, logger: logger}, nil
}

// Close releases the underlying client.
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// Generate runs one chat turn with the transcript as history.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	model := g.client.GenerativeModel(g.modelID)
	if req.Temperature > 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if system := joinSystem(req.System); system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	if len(req.Tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(req.Tools)}}
	}

	cs := model.StartChat()
	cs.History = geminiHistory(req.History)

	resp, err := cs.SendMessage(ctx, genai.Text(req.Message))
	if err != nil {
		return Reply{}, &apperrors.ExternalServiceError{
			Service:    "gemini",
			Op:         "send_message",
			StatusCode: googleStatusCode(err),
			Err:        err,
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Reply{}, &apperrors.ExternalServiceError{Service: "gemini", Op: "send_message", Err: errors.New("no candidates in response")}
	}

	candidate := resp.Candidates[0]
	reply := Reply{Provider: "gemini", StopReason: fmt.Sprint(candidate.FinishReason)}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			g.appendCall(&reply, p.Name, p.Args)
		case *genai.FunctionCall:
			g.appendCall(&reply, p.Name, p.Args)
		}
	}
	reply.Text = strings.TrimSpace(text.String())
	if resp.UsageMetadata != nil {
		reply.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return reply, nil
}

func (g *GeminiGenerator) appendCall(reply *Reply, name string, args map[string]any) {
	action, err := decodeFunctionCall(name, args)
	if err != nil {
		g.logger.Warn("generation: dropping function call", "tool", name, "error", err)
		reply.Rejected = append(reply.Rejected, name)
		return
	}
	reply.Actions = append(reply.Actions, action)
}

func decodeFunctionCall(name string, args map[string]any) (capability.Action, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("generation: encode function args: %w", err)
	}
	return capability.Decode(name, raw)
}

func geminiDeclarations(specs []capability.ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		for _, p := range spec.Params {
			schema.Properties[p.Name] = &genai.Schema{
				Type:        genai.TypeString,
				Description: p.Description,
				Enum:        p.Enum,
			}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decl := &genai.FunctionDeclaration{
			Name:        string(spec.Name),
			Description: spec.Description,
		}
		if len(spec.Params) > 0 {
			decl.Parameters = schema
		}
		decls = append(decls, decl)
	}
	return decls
}

func geminiHistory(history []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		role := "user"
		if turn.Role == RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(turn.Content)}})
	}
	return out
}

func joinSystem(blocks []string) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, "\n\n")
}

func googleStatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
