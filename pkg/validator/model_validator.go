package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/forgecore/engine/pkg/job"
	"github.com/forgecore/engine/pkg/llmtypes"
)

// modelVerdict is the shape a ModelValidator asks its model to emit. The
// schema is reflected once via invopop/jsonschema and embedded in the prompt
// so every provider, regardless of native structured-output support, is
// steered toward the same wire shape.
type modelVerdict struct {
	Score  int           `json:"score" jsonschema:"minimum=0,maximum=10,description=Overall quality score out of 10"`
	Issues []modelIssue  `json:"issues"`
}

type modelIssue struct {
	Severity   string `json:"severity" jsonschema:"enum=critical,enum=high,enum=medium,enum=low,enum=info"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	FilePath   string `json:"file_path,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
}

var (
	verdictSchemaOnce sync.Once
	verdictSchemaJSON string
)

func verdictSchema() string {
	verdictSchemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{DoNotReference: true}
		schema := reflector.Reflect(&modelVerdict{})
		b, err := json.Marshal(schema)
		if err == nil {
			verdictSchemaJSON = string(b)
		}
	})
	return verdictSchemaJSON
}

// ModelValidator asks an llmtypes.Model to critique a Candidate's files
// against the task and returns its verdict as one PerModelValidation.
type ModelValidator struct {
	model llmtypes.Model
}

// NewModelValidator wraps model as a Validator.
func NewModelValidator(model llmtypes.Model) *ModelValidator {
	return &ModelValidator{model: model}
}

func (v *ModelValidator) Name() string { return v.model.ModelID() }

func (v *ModelValidator) Validate(ctx context.Context, candidate job.Candidate, genCtx job.GenerationContext) (job.PerModelValidation, error) {
	start := time.Now()

	var files strings.Builder
	for _, f := range candidate.Files {
		fmt.Fprintf(&files, "--- %s (%s) ---\n%s\n\n", f.Path, f.ChangeType, f.Content)
	}

	system := fmt.Sprintf(
		"You are a strict code reviewer. Score the proposed changes from 0-10 and list concrete issues. "+
			"Respond with JSON matching this schema exactly:\n%s", verdictSchema())

	prompt := fmt.Sprintf(
		"Codebase summary: %d files, languages: %v\n\nProposed changes:\n%s",
		genCtx.CodebaseSummary.FileCount, genCtx.CodebaseSummary.DetectedLanguages, files.String())

	resp, err := v.model.GenerateContent(ctx,
		[]llmtypes.Message{llmtypes.SystemMessage(system), llmtypes.UserMessage(prompt)},
		llmtypes.WithJSONMode(), llmtypes.WithTemperature(0))
	if err != nil {
		return job.PerModelValidation{}, fmt.Errorf("model validator %s: %w", v.Name(), err)
	}

	verdict, err := parseVerdict(resp.Text)
	if err != nil {
		return job.PerModelValidation{}, fmt.Errorf("model validator %s: %w", v.Name(), err)
	}

	issues := make([]job.Issue, 0, len(verdict.Issues))
	for _, i := range verdict.Issues {
		issues = append(issues, job.Issue{
			Severity:   job.Severity(i.Severity),
			Kind:       i.Kind,
			Message:    i.Message,
			FilePath:   i.FilePath,
			LineNumber: i.LineNumber,
		})
	}

	return job.PerModelValidation{
		Model:      v.Name(),
		Score:      clampScore(verdict.Score),
		Issues:     issues,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// parseVerdict tolerates a model wrapping its JSON in a fenced code block,
// which some providers do even when asked for raw JSON.
func parseVerdict(text string) (modelVerdict, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var v modelVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return modelVerdict{}, fmt.Errorf("parse validator verdict: %w", err)
	}
	return v, nil
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}
