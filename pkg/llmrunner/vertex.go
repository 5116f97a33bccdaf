package llmrunner

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/llmtypes"
)

const defaultVertexModel = "gemini-1.5-pro"

type vertexModel struct {
	client  *genai.Client
	modelID string
	log     logging.ExtendedLogger
}

func newVertexModel(ctx context.Context, modelID string, log logging.ExtendedLogger) (llmtypes.Model, error) {
	apiKey := os.Getenv("VERTEX_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: VERTEX_API_KEY or GOOGLE_API_KEY is not set", ErrUnavailable)
	}
	if modelID == "" {
		modelID = defaultVertexModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %v", ErrUnavailable, err)
	}
	return &vertexModel{client: client, modelID: modelID, log: log}, nil
}

func (v *vertexModel) ModelID() string { return v.modelID }

func (v *vertexModel) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.Response, error) {
	opts := llmtypes.ApplyOptions(v.modelID, options...)

	var contents []*genai.Content
	for _, m := range messages {
		role := "user"
		text := m.Text
		switch m.Role {
		case llmtypes.RoleAI:
			role = "model"
		case llmtypes.RoleSystem:
			role = "user"
			text = "[system instruction] " + text
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(text)},
		})
	}

	config := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		temp := float32(opts.Temperature)
		config.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.JSONMode {
		config.ResponseMIMEType = "application/json"
	}

	v.log.Debugf("vertex: calling model %s with %d contents", opts.Model, len(contents))

	result, err := v.client.Models.GenerateContent(ctx, opts.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("%w: genai generate content: %v", ErrUnavailable, err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: genai returned no candidates", ErrUnavailable)
	}

	var text string
	for _, part := range result.Candidates[0].Content.Parts {
		text += part.Text
	}

	usage := llmtypes.Usage{}
	if result.UsageMetadata != nil {
		usage.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(result.UsageMetadata.TotalTokenCount)
	}

	return &llmtypes.Response{
		Text:       text,
		StopReason: string(result.Candidates[0].FinishReason),
		Usage:      usage,
	}, nil
}
