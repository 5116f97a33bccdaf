package retry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/forgecore/engine/pkg/job"
)

// ErrParseFailed marks a model response that could not be turned into a
// file set, surfaced to the caller as job.ErrParserError (spec.md §4.2
// step e).
var ErrParseFailed = fmt.Errorf("could not parse model output into file changes")

// fencedJSON strips a ```json ... ``` or ``` ... ``` fence if the model
// wrapped its JSON in one despite being asked not to.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

type rawFileChange struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	ChangeType string `json:"change_type"`
	Reason     string `json:"reason"`
}

type rawGeneration struct {
	Files []rawFileChange `json:"files"`
}

// parseGeneration extracts the file set a generation call proposed. It
// tolerates a markdown code fence around the JSON, normalizes every path,
// and rejects an empty/whitespace-only response outright so the caller can
// fast-fail without spending a validation pass on it (spec.md §4.2).
func parseGeneration(raw string) ([]job.FileChange, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty response", ErrParseFailed)
	}

	body := trimmed
	if m := fencedJSON.FindStringSubmatch(trimmed); m != nil {
		body = strings.TrimSpace(m[1])
	}

	var parsed rawGeneration
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	if len(parsed.Files) == 0 {
		return nil, fmt.Errorf("%w: no files in response", ErrParseFailed)
	}

	out := make([]job.FileChange, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		path, err := job.NormalizePath(f.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
		}
		ct := job.ChangeType(f.ChangeType)
		switch ct {
		case job.ChangeAdd, job.ChangeModify, job.ChangeDelete:
		default:
			ct = job.ChangeAdd
		}
		out = append(out, job.FileChange{
			Path:       path,
			Content:    f.Content,
			ChangeType: ct,
			Reason:     f.Reason,
		})
	}
	return out, nil
}
