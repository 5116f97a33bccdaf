package llmrunner

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/llmtypes"
)

const defaultOpenAIModel = "gpt-4o"

type openaiModel struct {
	client  *openai.Client
	modelID string
	log     logging.ExtendedLogger
}

func newOpenAIModel(modelID string, log logging.ExtendedLogger) (llmtypes.Model, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrUnavailable)
	}
	if modelID == "" {
		modelID = defaultOpenAIModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiModel{client: &client, modelID: modelID, log: log}, nil
}

func (o *openaiModel) ModelID() string { return o.modelID }

func (o *openaiModel) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.Response, error) {
	opts := llmtypes.ApplyOptions(o.modelID, options...)

	var oaiMessages []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case llmtypes.RoleSystem:
			oaiMessages = append(oaiMessages, openai.SystemMessage(m.Text))
		case llmtypes.RoleUser:
			oaiMessages = append(oaiMessages, openai.UserMessage(m.Text))
		case llmtypes.RoleAI:
			oaiMessages = append(oaiMessages, openai.AssistantMessage(m.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(opts.Model),
		Messages: oaiMessages,
	}
	if opts.Temperature > 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.JSONMode {
		jsonObjParam := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &jsonObjParam}
	}

	o.log.Debugf("openai: calling model %s with %d messages", opts.Model, len(oaiMessages))

	result, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: openai call failed: %v", ErrUnavailable, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", ErrUnavailable)
	}

	choice := result.Choices[0]
	return &llmtypes.Response{
		Text:       choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: llmtypes.Usage{
			InputTokens:  int(result.Usage.PromptTokens),
			OutputTokens: int(result.Usage.CompletionTokens),
			TotalTokens:  int(result.Usage.TotalTokens),
		},
	}, nil
}
