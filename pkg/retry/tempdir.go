package retry

import (
	"fmt"
	"os"
)

// scaffoldTempDir returns a fresh, isolated directory the TemplateExecutor
// can render a scaffold into, keeping scaffold writes off the job's real
// workspace (spec.md §5).
func scaffoldTempDir(jobID string) (string, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("engine-scaffold-%s-*", jobID))
	if err != nil {
		return "", fmt.Errorf("creating scaffold temp dir: %w", err)
	}
	return dir, nil
}
