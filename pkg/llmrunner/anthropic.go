package llmrunner

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/llmtypes"
)

const defaultAnthropicModel = "claude-3-5-sonnet-latest"

type anthropicModel struct {
	client  anthropic.Client
	modelID string
	log     logging.ExtendedLogger
}

func newAnthropicModel(modelID string, log logging.ExtendedLogger) (llmtypes.Model, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ErrUnavailable)
	}
	if modelID == "" {
		modelID = defaultAnthropicModel
	}
	client := anthropic.NewClient(anthropicoption.WithAPIKey(apiKey))
	return &anthropicModel{client: client, modelID: modelID, log: log}, nil
}

func (a *anthropicModel) ModelID() string { return a.modelID }

func (a *anthropicModel) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.Response, error) {
	opts := llmtypes.ApplyOptions(a.modelID, options...)

	var system string
	var msgs []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case llmtypes.RoleSystem:
			system += m.Text + "\n"
		case llmtypes.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case llmtypes.RoleAI:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		}
	}

	if opts.JSONMode {
		system += "\nYou must respond with valid JSON only, no other text."
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  msgs,
		MaxTokens: int64(opts.MaxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	a.log.Debugf("anthropic: calling model %s with %d messages", opts.Model, len(msgs))

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic call failed: %v", ErrUnavailable, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &llmtypes.Response{
		Text:       text,
		StopReason: string(msg.StopReason),
		Usage: llmtypes.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}
