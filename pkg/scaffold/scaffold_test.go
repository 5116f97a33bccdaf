package scaffold

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldScaffoldNewEmptyWorkspace(t *testing.T) {
	assert.True(t, ShouldScaffold("create a new console app", true))
	assert.True(t, ShouldScaffold("create a new console app", false))
}

func TestShouldScaffoldFalseForModification(t *testing.T) {
	assert.False(t, ShouldScaffold("add a new endpoint to the project", true))
}

func TestShouldScaffoldFalseWhenNotEmptyAndNotForced(t *testing.T) {
	assert.False(t, ShouldScaffold("new reporting module", false))
}

func TestInferProjectType(t *testing.T) {
	assert.Equal(t, ProjectBlazor, InferProjectType("create a Blazor admin dashboard"))
	assert.Equal(t, ProjectWebAPI, InferProjectType("create a web api for orders"))
	assert.Equal(t, ProjectConsole, InferProjectType("create a console tool"))
	assert.Equal(t, ProjectGeneric, InferProjectType("create a library"))
}

func TestLocalTemplateExecutorWritesFilesAndMarksKeys(t *testing.T) {
	dir := t.TempDir()
	exec := NewLocalTemplateExecutor()

	manifest, err := exec.Scaffold(context.Background(), ProjectConsole, dir)
	require.NoError(t, err)
	assert.Equal(t, "console", manifest.ProjectType)
	assert.NotEmpty(t, manifest.Files)

	var sawKey bool
	for _, f := range manifest.Files {
		if f.IsKey {
			sawKey = true
		}
		content, err := os.ReadFile(filepath.Join(dir, f.Path))
		require.NoError(t, err)
		assert.Equal(t, f.Content, string(content))
	}
	assert.True(t, sawKey)
}

func TestLocalTemplateExecutorFallsBackToGeneric(t *testing.T) {
	dir := t.TempDir()
	exec := NewLocalTemplateExecutor()
	manifest, err := exec.Scaffold(context.Background(), ProjectType("unknown"), dir)
	require.NoError(t, err)
	assert.Equal(t, "unknown", manifest.ProjectType)
	assert.NotEmpty(t, manifest.Files)
}
