// Package llmrunner instantiates provider-specific llmtypes.Model adapters
// and offers a tiktoken-based token estimator (tokencount.go), grounded on
// the teacher's internal/llm package (InitializeLLM, the per-provider
// initializeXWithFallback helpers, ProviderAwareLLM wrapper). New builds one
// adapter per Spec and does not fall back to another provider; no adapter
// applies the token estimator to its responses.
package llmrunner

import (
	"context"
	"errors"
	"fmt"

	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/llmtypes"
)

// Provider names a supported model backend.
type Provider string

const (
	ProviderBedrock   Provider = "bedrock"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderVertex    Provider = "vertex"
)

// ErrUnavailable wraps any adapter construction/call failure so callers can
// classify it as job.ErrModelUnavailable without caring which SDK failed.
var ErrUnavailable = errors.New("model runner unavailable")

// Spec identifies one entry of the escalation ladder (internal/config
// EngineConfig.EscalationLadder), resolved to a live llmtypes.Model by New.
type Spec struct {
	Provider Provider
	ModelID  string
}

func (s Spec) String() string {
	return fmt.Sprintf("%s:%s", s.Provider, s.ModelID)
}

// New constructs the llmtypes.Model for spec, wiring real provider SDK
// clients. Each constructor reads its credentials from the process
// environment the way the teacher's initializeX functions do.
func New(ctx context.Context, spec Spec, log logging.ExtendedLogger) (llmtypes.Model, error) {
	switch spec.Provider {
	case ProviderBedrock:
		return newBedrockModel(ctx, spec.ModelID, log)
	case ProviderOpenAI:
		return newOpenAIModel(spec.ModelID, log)
	case ProviderAnthropic:
		return newAnthropicModel(spec.ModelID, log)
	case ProviderVertex:
		return newVertexModel(ctx, spec.ModelID, log)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrUnavailable, spec.Provider)
	}
}
