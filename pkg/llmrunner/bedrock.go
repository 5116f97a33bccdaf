package llmrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/llmtypes"
)

const defaultBedrockModel = "us.anthropic.claude-3-sonnet-20240229-v1:0"

type bedrockModel struct {
	client  *bedrockruntime.Client
	modelID string
	log     logging.ExtendedLogger
}

func newBedrockModel(ctx context.Context, modelID string, log logging.ExtendedLogger) (llmtypes.Model, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrUnavailable, err)
	}
	if modelID == "" {
		modelID = defaultBedrockModel
	}
	client := bedrockruntime.NewFromConfig(cfg)
	return &bedrockModel{client: client, modelID: modelID, log: log}, nil
}

func (b *bedrockModel) ModelID() string { return b.modelID }

// bedrock message/response shapes for the Anthropic-on-Bedrock "messages" API.
type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	Messages         []bedrockMessage `json:"messages"`
	System           string           `json:"system,omitempty"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockResponse struct {
	Content    []bedrockContentBlock `json:"content"`
	StopReason string                `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *bedrockModel) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.Response, error) {
	opts := llmtypes.ApplyOptions(b.modelID, options...)

	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        opts.MaxTokens,
		Temperature:      opts.Temperature,
	}
	for _, m := range messages {
		switch m.Role {
		case llmtypes.RoleSystem:
			req.System += m.Text + "\n"
		case llmtypes.RoleUser:
			req.Messages = append(req.Messages, bedrockMessage{Role: "user", Content: m.Text})
		case llmtypes.RoleAI:
			req.Messages = append(req.Messages, bedrockMessage{Role: "assistant", Content: m.Text})
		}
	}
	if opts.JSONMode {
		req.System += "\nYou must respond with valid JSON only, no other text."
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	b.log.Debugf("bedrock: invoking model %s with %d messages", opts.Model, len(req.Messages))

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(opts.Model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bedrock invoke model: %v", ErrUnavailable, err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal bedrock response: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &llmtypes.Response{
		Text:       text,
		StopReason: resp.StopReason,
		Usage: llmtypes.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}
