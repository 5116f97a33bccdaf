package validator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgecore/engine/pkg/job"
)

// CompileValidator materializes a Candidate's files into a scratch directory
// layered on top of the job's existing workspace files and shells out to `go
// build` (and `go vet` when the build succeeds), grounded on planner/utils/git.go's
// exec.Command usage pattern. Its CompileOk verdict is mandatory per spec.md
// §4.4: no attempt is ever accepted without it passing.
type CompileValidator struct {
	workspacePath string
}

// NewCompileValidator targets the given workspace root.
func NewCompileValidator(workspacePath string) *CompileValidator {
	return &CompileValidator{workspacePath: workspacePath}
}

func (v *CompileValidator) Name() string { return "compile" }

func (v *CompileValidator) Validate(ctx context.Context, candidate job.Candidate, genCtx job.GenerationContext) (job.PerModelValidation, error) {
	start := time.Now()

	scratch, err := os.MkdirTemp("", "engine-compile-*")
	if err != nil {
		return job.PerModelValidation{}, fmt.Errorf("compile validator: create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	workspacePath := genCtx.WorkspacePath
	if workspacePath == "" {
		workspacePath = v.workspacePath
	}
	if err := copyDir(workspacePath, scratch); err != nil {
		return job.PerModelValidation{}, fmt.Errorf("compile validator: seed scratch dir: %w", err)
	}
	if err := materialize(scratch, candidate.Files); err != nil {
		return job.PerModelValidation{}, fmt.Errorf("compile validator: materialize candidate: %w", err)
	}

	var issues []job.Issue
	compileOk := true

	if out, err := runGoTool(ctx, scratch, "build", "./..."); err != nil {
		compileOk = false
		issues = append(issues, parseGoToolIssues("build", out)...)
	} else if out, err := runGoTool(ctx, scratch, "vet", "./..."); err != nil {
		issues = append(issues, parseGoToolIssues("vet", out)...)
	}

	score := 10
	if !compileOk {
		score = 0
	} else if len(issues) > 0 {
		score = 7
	}

	return job.PerModelValidation{
		Model:      v.Name(),
		Score:      score,
		Issues:     issues,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func runGoTool(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// parseGoToolIssues turns `go build`/`go vet`'s `path:line:col: message` lines
// into Issues. Unparseable lines still surface as a single generic issue
// rather than being silently dropped.
func parseGoToolIssues(tool, output string) []job.Issue {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil
	}

	var issues []job.Issue
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 4)
		if len(parts) == 4 {
			issues = append(issues, job.Issue{
				Severity: job.SeverityCritical,
				Kind:     "go_" + tool,
				Message:  strings.TrimSpace(parts[3]),
				FilePath: parts[0],
			})
			continue
		}
		issues = append(issues, job.Issue{
			Severity: job.SeverityCritical,
			Kind:     "go_" + tool,
			Message:  line,
		})
	}
	return issues
}

func materialize(root string, files []job.FileChange) error {
	for _, f := range files {
		normalized, err := job.NormalizePath(f.Path)
		if err != nil {
			return err
		}
		dest := filepath.Join(root, normalized)

		if f.ChangeType == job.ChangeDelete {
			os.Remove(dest)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0644); err != nil {
			return err
		}
	}
	return nil
}

func copyDir(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
