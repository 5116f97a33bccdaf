package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgecore/engine/pkg/job"
)

// TemplateExecutor renders projectType's template into targetDir and
// reports the resulting files (spec.md §6: `TemplateExecutor.scaffold`).
type TemplateExecutor interface {
	Scaffold(ctx context.Context, projectType ProjectType, targetDir string) (job.ScaffoldManifest, error)
}

// templateFile is one file in a built-in template; IsKey marks the files
// that get embedded inline in the generation prompt (entrypoint, manifest,
// top-level configuration) rather than merely listed by path (spec.md §4.8).
type templateFile struct {
	path  string
	body  string
	isKey bool
}

// LocalTemplateExecutor materializes a fixed set of built-in templates
// into an isolated temp directory. It never touches the job's real
// workspace directly — the caller copies files out of targetDir as
// needed, keeping scaffold writes isolated per §5.
type LocalTemplateExecutor struct{}

// NewLocalTemplateExecutor returns the built-in TemplateExecutor.
func NewLocalTemplateExecutor() *LocalTemplateExecutor {
	return &LocalTemplateExecutor{}
}

func (e *LocalTemplateExecutor) Scaffold(ctx context.Context, projectType ProjectType, targetDir string) (job.ScaffoldManifest, error) {
	files, ok := templates[projectType]
	if !ok {
		files = templates[ProjectGeneric]
	}

	manifest := job.ScaffoldManifest{ProjectType: string(projectType)}
	for _, tf := range files {
		if ctx.Err() != nil {
			return job.ScaffoldManifest{}, ctx.Err()
		}

		dest := filepath.Join(targetDir, tf.path)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return job.ScaffoldManifest{}, fmt.Errorf("scaffold: create dir for %s: %w", tf.path, err)
		}
		if err := os.WriteFile(dest, []byte(tf.body), 0644); err != nil {
			return job.ScaffoldManifest{}, fmt.Errorf("scaffold: write %s: %w", tf.path, err)
		}

		manifest.Files = append(manifest.Files, job.ScaffoldFile{
			Path:    tf.path,
			Content: tf.body,
			IsKey:   tf.isKey,
		})
	}
	return manifest, nil
}

var templates = map[ProjectType][]templateFile{
	ProjectConsole: {
		{path: "go.mod", body: "module scaffold\n\ngo 1.24\n", isKey: true},
		{path: "main.go", body: "package main\n\nfunc main() {\n}\n", isKey: true},
		{path: ".gitignore", body: "/bin\n"},
	},
	ProjectWebAPI: {
		{path: "go.mod", body: "module scaffold\n\ngo 1.24\n\nrequire github.com/gin-gonic/gin v1.10.1\n", isKey: true},
		{path: "main.go", body: "package main\n\nimport \"github.com/gin-gonic/gin\"\n\nfunc main() {\n\tr := gin.Default()\n\tr.Run()\n}\n", isKey: true},
		{path: "internal/handlers/health.go", body: "package handlers\n"},
		{path: "config.yaml", body: "port: 8080\n", isKey: true},
	},
	ProjectBlazor: {
		{path: "Program.cs", body: "var builder = WebApplication.CreateBuilder(args);\nvar app = builder.Build();\napp.Run();\n", isKey: true},
		{path: "App.razor", body: "<Router AppAssembly=\"@typeof(Program).Assembly\" />\n"},
		{path: "Pages/Index.razor", body: "@page \"/\"\n<h1>Hello, Blazor!</h1>\n"},
		{path: "appsettings.json", body: "{}\n", isKey: true},
	},
	ProjectGeneric: {
		{path: "README.md", body: "# Project\n", isKey: true},
	},
}
