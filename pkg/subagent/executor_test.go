package subagent_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/interrupt"
	"github.com/delegate-dev/delegate/pkg/subagent"
	"github.com/delegate-dev/delegate/pkg/tools"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

// scriptStep is one scripted model turn.
type scriptStep struct {
	chunks []ai.StreamChunk
	result *ai.GenerateResult
	err    error
	stall  bool // block in wait() until ctx dies, then return its cause
}

// scriptStreamer plays back scripted turns in order and records every request
// it saw, the summarizer's included.
type scriptStreamer struct {
	mu    sync.Mutex
	steps []scriptStep
	reqs  []ai.GenerateRequest
}

func (s *scriptStreamer) Name() string { return "script" }

func (s *scriptStreamer) StreamGenerate(ctx context.Context, _ string, req ai.GenerateRequest) (<-chan ai.StreamChunk, func() (*ai.GenerateResult, error)) {
	s.mu.Lock()
	idx := len(s.reqs)
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()

	if idx >= len(s.steps) {
		ch := make(chan ai.StreamChunk)
		close(ch)
		return ch, func() (*ai.GenerateResult, error) {
			return nil, fmt.Errorf("unscripted model call %d", idx+1)
		}
	}

	step := s.steps[idx]
	if step.stall {
		ch := make(chan ai.StreamChunk)
		close(ch)
		return ch, func() (*ai.GenerateResult, error) {
			<-ctx.Done()
			return nil, context.Cause(ctx)
		}
	}

	ch := make(chan ai.StreamChunk, len(step.chunks))
	for _, c := range step.chunks {
		ch <- c
	}
	close(ch)
	return ch, func() (*ai.GenerateResult, error) {
		if step.err != nil {
			return nil, step.err
		}
		return step.result, nil
	}
}

func (s *scriptStreamer) request(t *testing.T, i int) ai.GenerateRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.reqs) {
		t.Fatalf("only %d requests recorded, want index %d", len(s.reqs), i)
	}
	return s.reqs[i]
}

func (s *scriptStreamer) requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

// modelTurn scripts a successful stream that settles with the given parts.
func modelTurn(parts ...ai.Part) scriptStep {
	return scriptStep{result: &ai.GenerateResult{Parts: parts, FinishReason: ai.FinishStop}}
}

// lastUserParts returns the parts of the final user message in a request.
func lastUserParts(t *testing.T, req ai.GenerateRequest) []ai.Part {
	t.Helper()
	for i := len(req.Contents) - 1; i >= 0; i-- {
		if req.Contents[i].Role == ai.RoleUser {
			return req.Contents[i].Parts
		}
	}
	t.Fatal("request has no user message")
	return nil
}

// probeTool is a scriptable tool: fixed payload, optional failure, optional
// blocking until the turn is cancelled.
type probeTool struct {
	name    string
	payload string
	fail    string
	block   bool
	started chan struct{} // closed on first Execute when non-nil

	mu    sync.Mutex
	calls int
}

func (p *probeTool) Declaration() ai.FunctionDeclaration {
	return ai.FunctionDeclaration{
		Name:        p.name,
		Description: "probes things",
		ParametersJSONSchema: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{"target": {Type: "string"}},
		}),
	}
}

func (p *probeTool) Execute(ctx context.Context, _ string, _ map[string]any, onOutput tools.OutputFn) (tools.Result, error) {
	p.mu.Lock()
	p.calls++
	if p.started != nil && p.calls == 1 {
		close(p.started)
	}
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return tools.Result{}, ctx.Err()
	}
	if p.fail != "" {
		return tools.Result{}, errors.New(p.fail)
	}
	if onOutput != nil {
		onOutput(p.payload)
	}
	return tools.TextResult(p.payload), nil
}

// activityLog records the run's activity stream.
type activityLog struct {
	mu   sync.Mutex
	acts []subagent.Activity
}

func (l *activityLog) sink() subagent.Sink {
	return func(a subagent.Activity) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.acts = append(l.acts, a)
	}
}

func (l *activityLog) ofType(typ subagent.ActivityType) []subagent.Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []subagent.Activity
	for _, a := range l.acts {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func (l *activityLog) errorMessages() []string {
	var out []string
	for _, a := range l.ofType(subagent.ActivityError) {
		msg, _ := a.Data["message"].(string)
		out = append(out, msg)
	}
	return out
}

// telemetryLog records lifecycle events.
type telemetryLog struct {
	mu         sync.Mutex
	finishes   []subagent.TerminationReason
	recoveries []recoveryRecord
}

type recoveryRecord struct {
	reason  subagent.TerminationReason
	success bool
	turns   int
}

func (l *telemetryLog) AgentStart(string, string) {}

func (l *telemetryLog) AgentFinish(_, _ string, _ time.Duration, _ int, reason subagent.TerminationReason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finishes = append(l.finishes, reason)
}

func (l *telemetryLog) RecoveryAttempt(_, _ string, reason subagent.TerminationReason, _ time.Duration, success bool, turns int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recoveries = append(l.recoveries, recoveryRecord{reason: reason, success: success, turns: turns})
}

// remoteDef is a minimal remote-model definition with one required input.
func remoteDef(refs ...subagent.ToolRef) *subagent.Definition {
	return &subagent.Definition{
		Name:  "researcher",
		Model: subagent.ModelConfig{Remote: &subagent.RemoteModel{Model: "gemini-2.5-flash"}},
		Tools: refs,
		Run:   subagent.RunConfig{MaxTurns: 5, MaxTimeMinutes: 5},
		Inputs: map[string]subagent.InputSpec{
			"topic": {Description: "what to research", Required: true},
		},
		Prompt: subagent.PromptConfig{
			SystemPrompt:  "Research ${topic} thoroughly.",
			QueryTemplate: "Topic: ${topic}",
		},
	}
}

func testHost(t *testing.T, streamer ai.ModelStreamer) subagent.HostContext {
	t.Helper()
	return subagent.HostContext{
		WorkDir:        t.TempDir(),
		RemoteStreamer: streamer,
		Interrupts:     new(interrupt.Manager),
		RecoveryGrace:  5 * time.Second,
	}
}

var topicInputs = map[string]string{"topic": "caching"}

// ── Remote runs ──────────────────────────────────────────────────────────────

func TestRun_ToolCallThenComplete(t *testing.T) {
	probe := &probeTool{name: "probe", payload: "probe-data"}
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(ai.FunctionCall{ID: "c1", Name: "probe", Args: map[string]any{"target": "x"}}),
		modelTurn(ai.FunctionCall{ID: "c2", Name: subagent.CompleteTaskName}),
	}}
	log := &activityLog{}
	tel := &telemetryLog{}
	host := testHost(t, streamer)
	host.Telemetry = tel

	exec, err := subagent.New(remoteDef(subagent.ToolRef{Instance: probe}), host, log.sink())
	if err != nil {
		t.Fatal(err)
	}
	res, err := exec.Run(context.Background(), topicInputs)
	if err != nil {
		t.Fatal(err)
	}

	if res.Reason != subagent.ReasonGoal {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.Result != "Task completed successfully." {
		t.Errorf("result = %q", res.Result)
	}
	if res.Turns != 2 {
		t.Errorf("turns = %d, want 2", res.Turns)
	}
	if !strings.HasPrefix(res.AgentID, "researcher-") || len(res.AgentID) != len("researcher-")+6 {
		t.Errorf("agent id = %q", res.AgentID)
	}

	// First request: assembled prompt, query, and the declaration set.
	req := streamer.request(t, 0)
	for _, want := range []string{"Research caching thoroughly.", "# Environment Context", "# Important Rules"} {
		if !strings.Contains(req.SystemInstruction, want) {
			t.Errorf("system instruction missing %q", want)
		}
	}
	if got := ai.TextOf(lastUserParts(t, req)); got != "Topic: caching" {
		t.Errorf("query = %q", got)
	}
	if len(req.Tools) == 0 {
		t.Fatal("no tool declarations sent")
	}
	completions := 0
	for _, d := range req.Tools {
		if d.Name == subagent.CompleteTaskName {
			completions++
		}
	}
	if completions != 1 {
		t.Errorf("complete_task declared %d times, want 1", completions)
	}
	if req.Tools[len(req.Tools)-1].Name != subagent.CompleteTaskName {
		t.Errorf("complete_task should be the last declaration, got %q", req.Tools[len(req.Tools)-1].Name)
	}

	// Second request feeds the probe result back.
	var fr *ai.FunctionResponse
	for _, p := range lastUserParts(t, streamer.request(t, 1)) {
		if r, ok := p.(ai.FunctionResponse); ok {
			fr = &r
		}
	}
	if fr == nil {
		t.Fatal("second request carries no function response")
	}
	if fr.Name != "probe" || fr.ID != "c1" || fr.Response["output"] != "probe-data" {
		t.Errorf("function response = %+v", fr)
	}

	// Activity stream: probe start/end plus the completion pair, all tagged.
	starts := log.ofType(subagent.ActivityToolCallStart)
	if len(starts) != 2 || starts[0].Data["name"] != "probe" || starts[1].Data["name"] != subagent.CompleteTaskName {
		t.Errorf("tool_call_start sequence = %+v", starts)
	}
	for _, a := range starts {
		if !a.IsSubagentActivity || a.AgentName != "researcher" {
			t.Errorf("activity not tagged: %+v", a)
		}
	}
	if chunks := log.ofType(subagent.ActivityToolOutputChunk); len(chunks) != 1 || chunks[0].Data["chunk"] != "probe-data" {
		t.Errorf("tool_output_chunk = %+v", chunks)
	}
	if msgs := log.ofType(subagent.ActivityUserMessage); len(msgs) != 2 {
		t.Errorf("user_message count = %d, want 2", len(msgs))
	}

	if len(tel.finishes) != 1 || tel.finishes[0] != subagent.ReasonGoal {
		t.Errorf("telemetry finishes = %v", tel.finishes)
	}
	if len(tel.recoveries) != 0 {
		t.Errorf("unexpected recovery records: %+v", tel.recoveries)
	}
}

func TestRun_OutputSpec(t *testing.T) {
	def := remoteDef()
	def.Output = &subagent.OutputSpec{Name: "Response", Schema: json.RawMessage(`{"type":"string"}`)}
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(ai.FunctionCall{ID: "c1", Name: subagent.CompleteTaskName, Args: map[string]any{"Response": "done"}}),
	}}

	exec, err := subagent.New(def, testHost(t, streamer), nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := exec.Run(context.Background(), topicInputs)
	if err != nil {
		t.Fatal(err)
	}

	if res.Reason != subagent.ReasonGoal || res.Turns != 1 {
		t.Errorf("reason = %q, turns = %d", res.Reason, res.Turns)
	}
	want := "{\n  \"Response\": \"done\"\n}"
	if res.Result != want {
		t.Errorf("result = %q, want %q", res.Result, want)
	}
}

func TestRun_ValidationRetry(t *testing.T) {
	def := remoteDef()
	def.Output = &subagent.OutputSpec{Name: "Response", Schema: json.RawMessage(`{"type":"string"}`)}
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(ai.FunctionCall{ID: "c1", Name: subagent.CompleteTaskName, Args: map[string]any{"Response": 42}}),
		modelTurn(ai.FunctionCall{ID: "c2", Name: subagent.CompleteTaskName, Args: map[string]any{"Response": "all good"}}),
	}}
	log := &activityLog{}

	exec, err := subagent.New(def, testHost(t, streamer), log.sink())
	if err != nil {
		t.Fatal(err)
	}
	res, err := exec.Run(context.Background(), topicInputs)
	if err != nil {
		t.Fatal(err)
	}

	if res.Reason != subagent.ReasonGoal || res.Turns != 2 {
		t.Fatalf("reason = %q, turns = %d", res.Reason, res.Turns)
	}
	if want := "{\n  \"Response\": \"all good\"\n}"; res.Result != want {
		t.Errorf("result = %q", res.Result)
	}

	// The rejected call goes back to the model as an error response.
	var rejection string
	for _, p := range lastUserParts(t, streamer.request(t, 1)) {
		if r, ok := p.(ai.FunctionResponse); ok {
			rejection = r.Error
		}
	}
	if !strings.Contains(rejection, "failed validation") {
		t.Errorf("rejection fed back = %q", rejection)
	}

	found := false
	for _, msg := range log.errorMessages() {
		if strings.Contains(msg, "failed validation") {
			found = true
		}
	}
	if !found {
		t.Errorf("no validation error activity; errors = %v", log.errorMessages())
	}
}

func TestRun_ParentAgentID(t *testing.T) {
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(ai.FunctionCall{ID: "c1", Name: subagent.CompleteTaskName}),
	}}
	host := testHost(t, streamer)
	host.ParentAgentID = "orchestrator-9a1b2c"

	exec, err := subagent.New(remoteDef(), host, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := exec.Run(context.Background(), topicInputs)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.AgentID, "orchestrator-9a1b2c.researcher-") {
		t.Errorf("agent id = %q", res.AgentID)
	}
}

// ── Dispatch edge cases ──────────────────────────────────────────────────────

func TestRun_UnauthorizedTool(t *testing.T) {
	probe := &probeTool{name: "probe", payload: "ok"}
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(
			ai.FunctionCall{ID: "c1", Name: "writer", Args: map[string]any{}},
			ai.FunctionCall{ID: "c2", Name: "probe", Args: map[string]any{}},
		),
		modelTurn(ai.FunctionCall{ID: "c3", Name: subagent.CompleteTaskName}),
	}}
	log := &activityLog{}

	exec, err := subagent.New(remoteDef(subagent.ToolRef{Instance: probe}), testHost(t, streamer), log.sink())
	if err != nil {
		t.Fatal(err)
	}
	res, err := exec.Run(context.Background(), topicInputs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != subagent.ReasonGoal {
		t.Fatalf("reason = %q", res.Reason)
	}

	// Responses stay in invocation order: rejected writer first, probe second.
	var frs []ai.FunctionResponse
	for _, p := range lastUserParts(t, streamer.request(t, 1)) {
		if r, ok := p.(ai.FunctionResponse); ok {
			frs = append(frs, r)
		}
	}
	if len(frs) != 2 {
		t.Fatalf("responses = %d, want 2", len(frs))
	}
	if frs[0].Name != "writer" || frs[0].Error != "Unauthorized tool call" {
		t.Errorf("writer response = %+v", frs[0])
	}
	if frs[1].Name != "probe" || frs[1].Error != "" {
		t.Errorf("probe response = %+v", frs[1])
	}

	// The unauthorized name never reached a tool.
	if probe.calls != 1 {
		t.Errorf("probe ran %d times, want 1", probe.calls)
	}
	found := false
	for _, msg := range log.errorMessages() {
		if msg == "Unauthorized tool call" {
			found = true
		}
	}
	if !found {
		t.Errorf("no unauthorized error activity; errors = %v", log.errorMessages())
	}
}

func TestRun_DoubleCompletion(t *testing.T) {
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(
			ai.FunctionCall{ID: "c1", Name: subagent.CompleteTaskName},
			ai.FunctionCall{ID: "c2", Name: subagent.CompleteTaskName},
		),
	}}
	log := &activityLog{}

	exec, err := subagent.New(remoteDef(), testHost(t, streamer), log.sink())
	if err != nil {
		t.Fatal(err)
	}
	res, err := exec.Run(context.Background(), topicInputs)
	if err != nil {
		t.Fatal(err)
	}

	if res.Reason != subagent.ReasonGoal || res.Turns != 1 {
		t.Errorf("reason = %q, turns = %d", res.Reason, res.Turns)
	}
	if res.Result != "Task completed successfully." {
		t.Errorf("result = %q", res.Result)
	}
	found := false
	for _, msg := range log.errorMessages() {
		if msg == "Task already marked complete in this turn." {
			found = true
		}
	}
	if !found {
		t.Errorf("second completion not rejected; errors = %v", log.errorMessages())
	}
}

func TestRun_AllFailedNudge(t *testing.T) {
	probe := &probeTool{name: "probe", fail: "boom"}
	streamer := &scriptStreamer{steps: []scriptStep{
		modelTurn(ai.FunctionCall{ID: "c1", Name: "probe", Args: map[string]any{}}),
		modelTurn(ai.FunctionCall{ID: "c2", Name: subagent.CompleteTaskName}),
	}}

	exec, err := subagent.New(remoteDef(subagent.ToolRef{Instance: probe}), testHost(t, streamer), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Run(context.Background(), topicInputs); err != nil {
		t.Fatal(err)
	}

	parts := lastUserParts(t, streamer.request(t, 1))
	var gotError, gotNudge bool
	for _, p := range parts {
		switch part := p.(type) {
		case ai.FunctionResponse:
			gotError = part.Error == "boom"
		case ai.TextPart:
			gotNudge = strings.Contains(part.Text, "try an alternative approach")
		}
	}
	if !gotError || !gotNudge {
		t.Errorf("next message parts = %+v, want error response plus nudge", parts)
	}
}

func TestRun_StreamError(t *testing.T) {
	streamer := &scriptStreamer{steps: []scriptStep{
		{err: errors.New("backend exploded")},
	}}
	log := &activityLog{}
	tel := &telemetryLog{}
	host := testHost(t, streamer)
	host.Telemetry = tel

	exec, err := subagent.New(remoteDef(), host, log.sink())
	if err != nil {
		t.Fatal(err)
	}
	res, err := exec.Run(context.Background(), topicInputs)
	if err != nil {
		t.Fatal(err)
	}

	if res.Reason != subagent.ReasonError {
		t.Errorf("reason = %q", res.Reason)
	}
	if !strings.Contains(res.Result, "Agent run failed: backend exploded") {
		t.Errorf("result = %q", res.Result)
	}
	if res.Turns != 1 {
		t.Errorf("turns = %d", res.Turns)
	}
	// Stream errors are not budget overruns; no recovery turn runs.
	if streamer.requests() != 1 {
		t.Errorf("model calls = %d, want 1", streamer.requests())
	}
	if len(tel.recoveries) != 0 {
		t.Errorf("unexpected recoveries: %+v", tel.recoveries)
	}
}

// ── Construction ─────────────────────────────────────────────────────────────

func TestNew_Rejections(t *testing.T) {
	streamer := &scriptStreamer{}

	t.Run("disallowed tool name", func(t *testing.T) {
		def := remoteDef(subagent.ToolRef{Name: "write"})
		_, err := subagent.New(def, testHost(t, streamer), nil)
		if err == nil || !strings.Contains(err.Error(), "not allowed") {
			t.Errorf("err = %v", err)
		}
		if subagent.KindOf(err) != subagent.KindConfiguration {
			t.Errorf("kind = %q", subagent.KindOf(err))
		}
	})

	t.Run("allowed name missing from host registry", func(t *testing.T) {
		def := remoteDef(subagent.ToolRef{Name: "read_file"})
		host := testHost(t, streamer)
		host.Registry = tools.NewRegistry()
		_, err := subagent.New(def, host, nil)
		if err == nil || !strings.Contains(err.Error(), "not found in host registry") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("complete_task cannot be listed", func(t *testing.T) {
		def := remoteDef(subagent.ToolRef{Instance: &probeTool{name: subagent.CompleteTaskName}})
		_, err := subagent.New(def, testHost(t, streamer), nil)
		if err == nil || !strings.Contains(err.Error(), "injected automatically") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("remote model needs a streamer", func(t *testing.T) {
		host := testHost(t, streamer)
		host.RemoteStreamer = nil
		_, err := subagent.New(remoteDef(), host, nil)
		if err == nil || !strings.Contains(err.Error(), "remote streamer") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("summarization rejected for remote models", func(t *testing.T) {
		def := remoteDef()
		def.Run.SummarizeToolOutput = true
		_, err := subagent.New(def, testHost(t, streamer), nil)
		if !errors.Is(err, subagent.ErrSummarizerNotImplemented) {
			t.Errorf("err = %v", err)
		}
		if subagent.KindOf(err) != subagent.KindConfiguration {
			t.Errorf("kind = %q", subagent.KindOf(err))
		}
	})
}

func TestRun_MissingRequiredInput(t *testing.T) {
	streamer := &scriptStreamer{}
	exec, err := subagent.New(remoteDef(), testHost(t, streamer), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = exec.Run(context.Background(), map[string]string{})
	if err == nil || !strings.Contains(err.Error(), "topic") {
		t.Errorf("err = %v", err)
	}
	if streamer.requests() != 0 {
		t.Errorf("model called %d times before input validation", streamer.requests())
	}
}
