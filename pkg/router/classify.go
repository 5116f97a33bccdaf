package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/forgecore/engine/pkg/llmtypes"
)

// Classifier turns a free-form request into a Classification. ModelClassifier
// is tried first; the Router falls back to classifyByKeyword on any error
// (spec.md §4.7 failure semantics: "entirely failed classification falls
// back to a deterministic keyword classifier before giving up").
type Classifier interface {
	Classify(ctx context.Context, request string) (Classification, error)
}

// ModelClassifier asks a small model for the classification, grounded on
// the same structured-output convention pkg/validator.ModelValidator uses:
// invopop/jsonschema reflects the wire shape into the prompt so providers
// without native structured output still converge on it.
type ModelClassifier struct {
	model llmtypes.Model
}

// NewModelClassifier wraps model as a Classifier.
func NewModelClassifier(model llmtypes.Model) *ModelClassifier {
	return &ModelClassifier{model: model}
}

var (
	classificationSchemaOnce sync.Once
	classificationSchemaJSON string
)

func classificationSchema() string {
	classificationSchemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{DoNotReference: true}
		schema := reflector.Reflect(&Classification{})
		if b, err := json.Marshal(schema); err == nil {
			classificationSchemaJSON = string(b)
		}
	})
	return classificationSchemaJSON
}

func (c *ModelClassifier) Classify(ctx context.Context, request string) (Classification, error) {
	system := "You classify a user's request for a code-generation platform's router. " +
		"Respond with JSON matching this schema exactly:\n" + classificationSchema()

	resp, err := c.model.GenerateContent(ctx,
		[]llmtypes.Message{llmtypes.SystemMessage(system), llmtypes.UserMessage(request)},
		llmtypes.WithJSONMode(), llmtypes.WithTemperature(0))
	if err != nil {
		return Classification{}, err
	}

	text := strings.TrimSpace(resp.Text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var cl Classification
	if err := json.Unmarshal([]byte(text), &cl); err != nil {
		return Classification{}, err
	}
	return cl, nil
}

// keywordRules is the deterministic fallback classifier: an enumerated,
// ordered set of substring rules, tried top to bottom (spec.md §4.7).
var keywordRules = []struct {
	intent   string
	keywords []string
	steps    int
}{
	{"generate_code", []string{"create", "generate", "build", "implement", "write"}, 1},
	{"cancel_job", []string{"cancel", "stop", "abort"}, 1},
	{"get_status", []string{"status", "progress"}, 1},
	{"list_jobs", []string{"list"}, 1},
	{"search_memory", []string{"search", "find", "lookup"}, 1},
}

// KeywordClassifier implements Classifier with the deterministic fallback
// rules, used both as the last resort after ModelClassifier fails and as
// the sole classifier when no classification model is configured.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (k *KeywordClassifier) Classify(ctx context.Context, request string) (Classification, error) {
	return classifyByKeyword(request), nil
}

func classifyByKeyword(request string) Classification {
	lower := strings.ToLower(request)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return Classification{Intent: rule.intent, Entities: extractEntities(request), EstimatedSteps: rule.steps}
			}
		}
	}
	return Classification{Intent: "unknown", Entities: extractEntities(request), EstimatedSteps: 1}
}

// extractEntities is a deliberately simple heuristic: quoted substrings and
// path-like tokens are the entities most router-driven tool calls need
// (file paths, task names); anything fancier is a classification-model
// concern, not the deterministic fallback's job.
func extractEntities(request string) []string {
	var entities []string

	var cur strings.Builder
	inQuotes := false
	for _, r := range request {
		if r == '"' {
			if inQuotes && cur.Len() > 0 {
				entities = append(entities, cur.String())
				cur.Reset()
			}
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			cur.WriteRune(r)
		}
	}

	for _, field := range strings.Fields(request) {
		if strings.Contains(field, "/") || strings.Contains(field, "\\") {
			entities = append(entities, field)
		}
	}
	return entities
}

// FallbackClassifier tries primary, falling back to the keyword classifier
// on any error.
type FallbackClassifier struct {
	primary  Classifier
	fallback Classifier
}

func NewFallbackClassifier(primary Classifier) *FallbackClassifier {
	return &FallbackClassifier{primary: primary, fallback: NewKeywordClassifier()}
}

func (f *FallbackClassifier) Classify(ctx context.Context, request string) (Classification, error) {
	if f.primary != nil {
		if cl, err := f.primary.Classify(ctx, request); err == nil {
			return cl, nil
		}
	}
	return f.fallback.Classify(ctx, request)
}
