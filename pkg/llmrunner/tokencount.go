package llmrunner

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/forgecore/engine/pkg/llmtypes"
)

// fallbackEncoding is shared across calls; cl100k_base approximates token
// counts well enough across providers when a response omits real usage data.
var (
	fallbackOnce sync.Once
	fallbackEnc  *tiktoken.Tiktoken
	fallbackErr  error
)

func loadFallbackEncoding() (*tiktoken.Tiktoken, error) {
	fallbackOnce.Do(func() {
		fallbackEnc, fallbackErr = tiktoken.GetEncoding("cl100k_base")
	})
	return fallbackEnc, fallbackErr
}

// EstimateTokens counts text with tiktoken's cl100k_base encoding, or
// approximates it as len(text)/4 when the encoding cannot be loaded. The
// adapters in this package call neither it nor FillMissingUsage, so a
// response's Usage is whatever the provider reported (possibly zero).
func EstimateTokens(text string) int {
	enc, err := loadFallbackEncoding()
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// FillMissingUsage backstops a Response whose provider omitted token counts.
func FillMissingUsage(resp *llmtypes.Response, promptText string) {
	if resp.Usage.TotalTokens > 0 {
		return
	}
	resp.Usage.InputTokens = EstimateTokens(promptText)
	resp.Usage.OutputTokens = EstimateTokens(resp.Text)
	resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
}
