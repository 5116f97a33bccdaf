package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/engine/pkg/llmtypes"
)

// fakeModel is a hand-written stand-in for llmtypes.Model, matching the
// convention established in pkg/retry/retry_test.go.
type fakeModel struct {
	text string
	err  error
}

func (f *fakeModel) ModelID() string { return "fake" }

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmtypes.Response{Text: f.text}, nil
}

// fakeHandler is a hand-written ToolHandler.
type fakeHandler struct {
	name  string
	delay time.Duration
	err   error
	out   interface{}
	calls int
}

func (h *fakeHandler) Name() string { return h.name }

func (h *fakeHandler) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	h.calls++
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h.err != nil {
		return nil, h.err
	}
	return h.out, nil
}

// fakeBackground is a hand-written BackgroundCreator.
type fakeBackground struct {
	nextID string
	err    error
	calls  int
}

func (b *fakeBackground) CreateAndEnqueue(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return b.nextID, nil
}

func TestFallbackClassifierUsesKeywordsWhenModelFails(t *testing.T) {
	primary := &fakeModel{err: errors.New("provider unavailable")}
	classifier := NewFallbackClassifier(NewModelClassifier(primary))

	cl, err := classifier.Classify(context.Background(), "please create a new service")
	require.NoError(t, err)
	assert.Equal(t, "generate_code", cl.Intent)
}

func TestFallbackClassifierPrefersModelOnSuccess(t *testing.T) {
	primary := &fakeModel{text: `{"intent":"custom_intent","entities":[],"estimated_steps":1}`}
	classifier := NewFallbackClassifier(NewModelClassifier(primary))

	cl, err := classifier.Classify(context.Background(), "do something")
	require.NoError(t, err)
	assert.Equal(t, "custom_intent", cl.Intent)
}

func TestClassifyByKeywordOrdersRulesTopToBottom(t *testing.T) {
	cl := classifyByKeyword(`cancel the job with id "abc-123"`)
	assert.Equal(t, "cancel_job", cl.Intent)
	assert.Contains(t, cl.Entities, "abc-123")
}

func TestClassifyByKeywordFallsBackToUnknown(t *testing.T) {
	cl := classifyByKeyword("xyzzy plugh")
	assert.Equal(t, "unknown", cl.Intent)
}

func TestShouldRunInBackgroundMatchesSlowKeywords(t *testing.T) {
	assert.True(t, ShouldRunInBackground("index_workspace", DurationFast))
	assert.True(t, ShouldRunInBackground("generate_code", DurationFast))
	assert.False(t, ShouldRunInBackground("get_status", DurationFast))
	assert.True(t, ShouldRunInBackground("anything", DurationSlow))
}

func TestShouldRunInBackgroundExcludesStatusAndPlainList(t *testing.T) {
	assert.False(t, ShouldRunInBackground("get_status", DurationFast))
	assert.False(t, ShouldRunInBackground("list_jobs", DurationFast))
}

func TestDispatchRunsIndependentStepsConcurrently(t *testing.T) {
	registry := NewRegistry()
	a := &fakeHandler{name: "a", out: "a-result", delay: 50 * time.Millisecond}
	b := &fakeHandler{name: "b", out: "b-result", delay: 50 * time.Millisecond}
	registry.Register(a, toolSchema{Name: "a"})
	registry.Register(b, toolSchema{Name: "b"})

	dispatcher := NewDispatcher(registry, nil)
	plan := WorkflowPlan{Steps: []Step{
		{ID: "s1", Tool: "a", ExpectedDurationClass: DurationFast},
		{ID: "s2", Tool: "b", ExpectedDurationClass: DurationFast},
	}}

	start := time.Now()
	results := dispatcher.Dispatch(context.Background(), plan)
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	assert.Equal(t, "s1", results[0].StepID)
	assert.Equal(t, "s2", results[1].StepID)
	assert.Equal(t, "a-result", results[0].Result)
	assert.Equal(t, "b-result", results[1].Result)
	assert.Less(t, elapsed, 90*time.Millisecond)
}

func TestDispatchWaitsForDependsOn(t *testing.T) {
	registry := NewRegistry()
	var secondSawFirst bool
	first := &fakeHandler{name: "first", out: "done"}
	second := &fakeHandler{name: "second", out: "done"}
	registry.Register(first, toolSchema{Name: "first"})
	registry.Register(second, toolSchema{Name: "second"})

	dispatcher := NewDispatcher(registry, nil)
	plan := WorkflowPlan{Steps: []Step{
		{ID: "s1", Tool: "first", ExpectedDurationClass: DurationFast},
		{ID: "s2", Tool: "second", DependsOn: []string{"s1"}, ExpectedDurationClass: DurationFast},
	}}

	results := dispatcher.Dispatch(context.Background(), plan)
	require.Len(t, results, 2)
	secondSawFirst = first.calls == 1 && second.calls == 1
	assert.True(t, secondSawFirst)
	assert.False(t, results[1].Skipped)
}

func TestDispatchSkipsStepDependingOnFailedStep(t *testing.T) {
	registry := NewRegistry()
	first := &fakeHandler{name: "first", err: errors.New("boom")}
	second := &fakeHandler{name: "second", out: "done"}
	registry.Register(first, toolSchema{Name: "first"})
	registry.Register(second, toolSchema{Name: "second"})

	dispatcher := NewDispatcher(registry, nil)
	plan := WorkflowPlan{Steps: []Step{
		{ID: "s1", Tool: "first", ExpectedDurationClass: DurationFast},
		{ID: "s2", Tool: "second", DependsOn: []string{"s1"}, ExpectedDurationClass: DurationFast},
	}}

	results := dispatcher.Dispatch(context.Background(), plan)
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].Error)
	assert.True(t, results[1].Skipped)
	assert.Equal(t, 0, second.calls)
}

func TestDispatchSkipsStepWithUnknownDependency(t *testing.T) {
	registry := NewRegistry()
	handler := &fakeHandler{name: "only", out: "done"}
	registry.Register(handler, toolSchema{Name: "only"})

	dispatcher := NewDispatcher(registry, nil)
	plan := WorkflowPlan{Steps: []Step{
		{ID: "s1", Tool: "only", DependsOn: []string{"missing"}, ExpectedDurationClass: DurationFast},
	}}

	results := dispatcher.Dispatch(context.Background(), plan)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Contains(t, results[0].SkipReason, "missing")
}

func TestDispatchFailureDoesNotCancelUnrelatedStep(t *testing.T) {
	registry := NewRegistry()
	failing := &fakeHandler{name: "failing", err: errors.New("boom")}
	unrelated := &fakeHandler{name: "unrelated", out: "fine"}
	registry.Register(failing, toolSchema{Name: "failing"})
	registry.Register(unrelated, toolSchema{Name: "unrelated"})

	dispatcher := NewDispatcher(registry, nil)
	plan := WorkflowPlan{Steps: []Step{
		{ID: "s1", Tool: "failing", ExpectedDurationClass: DurationFast},
		{ID: "s2", Tool: "unrelated", ExpectedDurationClass: DurationFast},
	}}

	results := dispatcher.Dispatch(context.Background(), plan)
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].Error)
	assert.Equal(t, "fine", results[1].Result)
}

func TestDispatchPromotesSlowStepToBackground(t *testing.T) {
	registry := NewRegistry()
	background := &fakeBackground{nextID: "job-123"}
	dispatcher := NewDispatcher(registry, background)

	plan := WorkflowPlan{Steps: []Step{
		{ID: "s1", Tool: "generate_code", ExpectedDurationClass: DurationSlow},
	}}

	results := dispatcher.Dispatch(context.Background(), plan)
	require.Len(t, results, 1)
	assert.Equal(t, "job-123", results[0].JobID)
	assert.Equal(t, "queued", results[0].State)
	assert.Equal(t, 1, background.calls)
}

func TestHandleRequestInitializeAndToolsList(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeHandler{name: "echo", out: "ok"}, toolSchema{Name: "echo", Description: "echoes input"})
	r := New(nil, registry, nil)

	resp := r.HandleRequest(context.Background(), Request{JSONRPC: "2.0", ID: []byte(`1`), Method: "initialize"})
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)

	resp = r.HandleRequest(context.Background(), Request{JSONRPC: "2.0", ID: []byte(`2`), Method: "tools/list"})
	assert.Nil(t, resp.Error)
}

func TestHandleRequestNotificationCarriesNoID(t *testing.T) {
	req := Request{JSONRPC: "2.0", Method: "notifications/initialized"}
	assert.True(t, req.IsNotification())
}

func TestHandleRequestToolsCallDispatchesRegisteredTool(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeHandler{name: "echo", out: "ok"}, toolSchema{Name: "echo"})
	r := New(nil, registry, nil)

	params := []byte(`{"name":"echo","arguments":{}}`)
	resp := r.HandleRequest(context.Background(), Request{JSONRPC: "2.0", ID: []byte(`3`), Method: "tools/call", Params: params})
	assert.Nil(t, resp.Error)
	assert.Equal(t, "ok", resp.Result)
}

func TestHandleRequestUnknownMethod(t *testing.T) {
	r := New(nil, NewRegistry(), nil)
	resp := r.HandleRequest(context.Background(), Request{JSONRPC: "2.0", ID: []byte(`4`), Method: "bogus"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestRouteEndToEndWithKeywordFallbackPromotesSlowIntentToBackground(t *testing.T) {
	registry := NewRegistry()
	background := &fakeBackground{nextID: "job-456"}
	r := New(nil, registry, background)

	result, err := r.Route(context.Background(), "please create a hello world app", nil)
	require.NoError(t, err)
	assert.Equal(t, "generate_code", result.Classification.Intent)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "job-456", result.Results[0].JobID)
	assert.Equal(t, "queued", result.Results[0].State)
}

func TestRouteEndToEndWithFastIntentDispatchesDirectly(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeHandler{name: "get_status", out: "running"}, toolSchema{Name: "get_status"})
	r := New(nil, registry, nil)

	result, err := r.Route(context.Background(), "what is the status of my job", nil)
	require.NoError(t, err)
	assert.Equal(t, "get_status", result.Classification.Intent)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "running", result.Results[0].Result)
}
