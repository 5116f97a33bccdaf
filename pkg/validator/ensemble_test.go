package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/engine/pkg/job"
	"github.com/forgecore/engine/pkg/llmtypes"
)

// fakeModel is a hand-written stand-in for llmtypes.Model; the engine avoids
// a mocking framework in favor of small purpose-built fakes.
type fakeModel struct {
	id   string
	text string
	err  error
}

func (f *fakeModel) ModelID() string { return f.id }

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmtypes.Response{Text: f.text}, nil
}

func TestDedupeIssuesAggregatesAgreement(t *testing.T) {
	issues := []job.Issue{
		{FilePath: "main.go", LineNumber: 10, Kind: "nil_deref", Message: "a"},
		{FilePath: "main.go", LineNumber: 10, Kind: "nil_deref", Message: "b"},
		{FilePath: "other.go", LineNumber: 3, Kind: "unused", Message: "c"},
	}
	out := dedupeIssues(issues)
	require.Len(t, out, 2)
	assert.Equal(t, 2, out[0].AgreementCount)
	assert.Equal(t, 1, out[1].AgreementCount)
}

func TestConfidenceFromScoresPerfectAgreement(t *testing.T) {
	assert.InDelta(t, 1.0, confidenceFromScores([]float64{8, 8, 8}), 1e-9)
}

func TestConfidenceFromScoresDisagreement(t *testing.T) {
	c := confidenceFromScores([]float64{10, 0, 10, 0})
	assert.Less(t, c, 0.5)
}

func TestEnsembleValidateMergesScoresAndCompileGate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module scratch\n\ngo 1.21\n"), 0644))

	compile := NewCompileValidator(dir)
	models := []*ModelValidator{
		NewModelValidator(&fakeModel{id: "model-a", text: `{"score":9,"issues":[]}`}),
		NewModelValidator(&fakeModel{id: "model-b", text: `{"score":7,"issues":[{"severity":"medium","kind":"style","message":"nit"}]}`}),
	}

	ens, err := NewEnsemble(compile, models, nil)
	require.NoError(t, err)

	candidate := job.Candidate{Files: []job.FileChange{
		{Path: "main.go", Content: "package main\n\nfunc main() {}\n", ChangeType: job.ChangeAdd},
	}}

	v, err := ens.Validate(context.Background(), candidate, job.GenerationContext{}, 2, 6)
	require.NoError(t, err)
	assert.True(t, v.CompileOk)
	assert.Len(t, v.ModelsUsed, 2)
	assert.Len(t, v.Issues, 1)
	assert.Greater(t, v.Score, 0)
	assert.True(t, v.Passed)
}

func TestEnsembleValidateFailsCompileForcesZeroScore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module scratch\n\ngo 1.21\n"), 0644))

	compile := NewCompileValidator(dir)
	models := []*ModelValidator{
		NewModelValidator(&fakeModel{id: "model-a", text: `{"score":9,"issues":[]}`}),
	}
	ens, err := NewEnsemble(compile, models, nil)
	require.NoError(t, err)

	candidate := job.Candidate{Files: []job.FileChange{
		{Path: "main.go", Content: "package main\n\nfunc main() { undefinedSymbol() }\n", ChangeType: job.ChangeAdd},
	}}

	v, err := ens.Validate(context.Background(), candidate, job.GenerationContext{}, 1, 6)
	require.NoError(t, err)
	assert.False(t, v.CompileOk)
	assert.Equal(t, 0, v.Score)
	assert.False(t, v.Passed)
}

func TestActiveModelCountBands(t *testing.T) {
	assert.Equal(t, 2, ActiveModelCount(1, 5))
	assert.Equal(t, 2, ActiveModelCount(2, 5))
	assert.Equal(t, 3, ActiveModelCount(3, 5))
	assert.Equal(t, 3, ActiveModelCount(4, 5))
	assert.Equal(t, 5, ActiveModelCount(5, 5))
	assert.Equal(t, 5, ActiveModelCount(99, 5))
	assert.Equal(t, 1, ActiveModelCount(1, 1))
}

func TestNewEnsembleRejectsWrongWeightCount(t *testing.T) {
	models := []*ModelValidator{NewModelValidator(&fakeModel{id: "a"})}
	_, err := NewEnsemble(NewCompileValidator("."), models, []float64{0.3, 0.7})
	assert.Error(t, err)
}
