// Package subagent — the run loop.
//
// An Executor drives one agent definition. Each run walks the same cycle:
//  1. Guard the budgets (external cancel, wall clock, turn count).
//  2. Send the pending user message to the model and stream the reply.
//  3. Dispatch the reply's tool calls: complete_task synchronously first,
//     everything else concurrently through the run's registry view.
//  4. Feed the tool responses back as the next user message and repeat.
//
// The run ends when complete_task is accepted, a budget runs out, the
// operator interrupts twice (hard), or the host cancels. Budget overruns get
// one recovery turn to salvage a final result before the run reports.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/ai/local"
	"github.com/delegate-dev/delegate/pkg/chat"
	"github.com/delegate-dev/delegate/pkg/interrupt"
	"github.com/delegate-dev/delegate/pkg/toolcall"
	"github.com/delegate-dev/delegate/pkg/tools"
	"github.com/delegate-dev/delegate/pkg/tools/builtin"
)

// defaultRecoveryGrace is how long a recovery turn may run after the main
// budgets are spent.
const defaultRecoveryGrace = 60 * time.Second

// allFailedNudge is appended to the next user message when every call in a
// turn failed and nothing completed, so the model does not retry the same
// thing verbatim.
const allFailedNudge = "All tool calls in the previous turn failed. Analyze the errors above and try an alternative approach. Remember to call complete_task once the task is done."

// errWallClock marks cancellation by the run's wall-clock budget, so it can
// be told apart from a host cancellation of the same context tree.
var errWallClock = fmt.Errorf("subagent: wall clock budget exhausted")

// HostContext is everything an executor borrows from the embedding host.
// The zero value works for local-model definitions: missing pieces fall back
// to package defaults.
type HostContext struct {
	// WorkDir is the working directory reported to the model and handed to
	// tools. Empty uses the process working directory.
	WorkDir string

	// Registry resolves ToolRef.Name references. Only needed when the
	// definition names tools.
	Registry *tools.Registry

	// RemoteStreamer backs remote-model definitions. Required for those.
	RemoteStreamer ai.ModelStreamer

	// LocalStreamer overrides the Ollama client built from the definition's
	// local host URL. Tests use this; production leaves it nil.
	LocalStreamer ai.ModelStreamer

	// Compressor, when set, lets remote sessions compress their history
	// instead of dying on context overflow.
	Compressor *chat.Compressor

	// Interrupts routes operator interrupts. Nil uses the process-wide
	// manager.
	Interrupts *interrupt.Manager

	// OperatorInput supplies the follow-up text after a soft interrupt.
	// Nil means soft interrupts abort the run.
	OperatorInput func(ctx context.Context) (string, bool)

	// AllowedTools is the allow-list for ToolRef.Name and ToolRef.Instance
	// resolution. Nil uses builtin.DelegatableNames.
	AllowedTools []string

	// ParentAgentID prefixes the ids of this executor's runs, tying nested
	// runs to the run that spawned them.
	ParentAgentID string

	Telemetry     Telemetry     // nil drops records
	Logger        *slog.Logger  // nil discards
	Environment   EnvFunc       // nil uses DefaultEnvironment
	RecoveryGrace time.Duration // 0 uses defaultRecoveryGrace

	// DebugDir makes local sessions dump their wire traffic for inspection.
	DebugDir string
}

// RunResult is the terminal outcome of one run.
type RunResult struct {
	// AgentID identifies the run, e.g. "web-researcher-a3f9c1".
	AgentID string

	// Result is the final text: the accepted output, or an explanatory line
	// when the run ended any other way.
	Result string

	// Reason says how the run ended.
	Reason TerminationReason

	// Turns is the number of model calls made, recovery included.
	Turns int
}

// Executor runs one agent definition. Construct with New, then call Run once
// per task; executors hold no per-run state and may be reused.
type Executor struct {
	def  *Definition
	host HostContext
	sink Sink

	registry   *tools.Registry // this run's filtered view
	decls      []ai.FunctionDeclaration
	summarizer *Summarizer
	local      bool

	interrupts *interrupt.Manager
	telemetry  Telemetry
	logger     *slog.Logger
	env        EnvFunc
	grace      time.Duration
}

// New validates def, resolves its tool list against host, and returns an
// executor ready to run. Definition problems (unknown or disallowed tools,
// missing prompt, bad budgets) fail here, before any model call.
func New(def *Definition, host HostContext, sink Sink) (*Executor, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.Model.Remote != nil && host.RemoteStreamer == nil {
		return nil, configErrorf("agent %q: remote model %q needs a remote streamer", def.Name, def.Model.ID())
	}

	e := &Executor{
		def:        def,
		host:       host,
		sink:       sink,
		local:      def.Model.Local != nil,
		interrupts: host.Interrupts,
		telemetry:  host.Telemetry,
		logger:     host.Logger,
		env:        host.Environment,
		grace:      host.RecoveryGrace,
	}
	if e.interrupts == nil {
		e.interrupts = interrupt.Default()
	}
	if e.telemetry == nil {
		e.telemetry = nopTelemetry{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.env == nil {
		e.env = DefaultEnvironment
	}
	if e.grace <= 0 {
		e.grace = defaultRecoveryGrace
	}

	if err := e.resolveTools(); err != nil {
		return nil, err
	}

	if def.Run.SummarizeToolOutput {
		var streamer ai.ModelStreamer
		if e.local {
			streamer = e.localStreamer()
		}
		sum, err := NewSummarizer(def.Model, streamer, def.Run.SummarizerPrompt)
		if err != nil {
			return nil, &Error{Kind: KindConfiguration, Msg: fmt.Sprintf("agent %q: summarize_tool_output", def.Name), Err: err}
		}
		e.summarizer = sum
	}

	return e, nil
}

// resolveTools builds the run's private registry view from the definition's
// tool refs and assembles the declaration list the model will see. The
// complete_task declaration is always present, exactly once, last.
func (e *Executor) resolveTools() error {
	allowed := e.allowSet()
	reg := tools.NewRegistry()
	seen := make(map[string]bool)
	var names []string

	add := func(name string) error {
		if name == CompleteTaskName {
			return configErrorf("agent %q: %s is injected automatically and cannot be listed", e.def.Name, CompleteTaskName)
		}
		if seen[name] {
			return configErrorf("agent %q: tool %q listed twice", e.def.Name, name)
		}
		seen[name] = true
		names = append(names, name)
		return nil
	}

	for _, ref := range e.def.Tools {
		switch {
		case ref.Name != "":
			if !allowed[ref.Name] {
				return configErrorf("agent %q: tool %q is not allowed in non-interactive runs", e.def.Name, ref.Name)
			}
			if e.host.Registry == nil || !e.host.Registry.Has(ref.Name) {
				return configErrorf("agent %q: tool %q not found in host registry", e.def.Name, ref.Name)
			}
			if err := add(ref.Name); err != nil {
				return err
			}
			if t := e.host.Registry.Get(ref.Name); t != nil {
				reg.Register(t)
			} else {
				// Declaration-only in the host registry too.
				for _, d := range e.host.Registry.Declarations(ref.Name) {
					reg.RegisterDeclaration(d)
				}
			}

		case ref.Instance != nil:
			decl := ref.Instance.Declaration()
			if err := add(decl.Name); err != nil {
				return err
			}
			reg.Register(ref.Instance)

		case ref.Declaration != nil:
			if err := add(ref.Declaration.Name); err != nil {
				return err
			}
			reg.RegisterDeclaration(*ref.Declaration)
		}
	}

	e.registry = reg
	e.decls = append(reg.Declarations(names...), completionDeclaration(e.def.Output))
	return nil
}

func (e *Executor) allowSet() map[string]bool {
	names := e.host.AllowedTools
	if names == nil {
		names = builtin.DelegatableNames()
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func (e *Executor) localStreamer() ai.ModelStreamer {
	if e.host.LocalStreamer != nil {
		return e.host.LocalStreamer
	}
	return local.New(e.def.Model.Local.Host)
}

// buildSession assembles the system prompt and first user message, then
// opens the matching chat session.
func (e *Executor) buildSession(inputs map[string]string) (chat.Session, string, error) {
	var envBlock string
	if e.def.Prompt.SystemPrompt != "" {
		envBlock = e.env(e.host.WorkDir, e.def.Model.ID())
	}
	system, err := buildSystemPrompt(e.def, inputs, envBlock, e.decls, e.local)
	if err != nil {
		return nil, "", err
	}
	query, err := buildQuery(e.def, inputs)
	if err != nil {
		return nil, "", err
	}

	if e.local {
		sess := chat.NewLocal(e.localStreamer(), e.def.Model.Local.Model, chat.LocalConfig{
			SystemInstruction: system,
			InitialMessages:   e.def.Prompt.InitialMessages,
			Reminder:          e.def.Prompt.Reminder,
			DebugDir:          e.host.DebugDir,
		})
		return sess, query, nil
	}
	sess := chat.NewRemote(e.host.RemoteStreamer, e.def.Model.Remote.Model, chat.RemoteConfig{
		SystemInstruction: system,
		InitialMessages:   e.def.Prompt.InitialMessages,
		Compressor:        e.host.Compressor,
	})
	return sess, query, nil
}

// Run executes the agent until completion or a budget runs out. The returned
// error covers pre-flight problems only (missing required inputs, template
// typos); once the loop starts, failures surface as the result's Reason.
func (e *Executor) Run(ctx context.Context, inputs map[string]string) (*RunResult, error) {
	if err := e.def.validateInputs(inputs); err != nil {
		return nil, err
	}

	session, query, err := e.buildSession(inputs)
	if err != nil {
		return nil, err
	}

	wall := time.Duration(e.def.Run.MaxTimeMinutes * float64(time.Minute))
	runCtx, cancelRun := context.WithTimeoutCause(ctx, wall, errWallClock)
	defer cancelRun()

	r := &run{
		e:        e,
		em:       &emitter{sink: e.sink, agent: e.def.Name},
		id:       newAgentID(e.host.ParentAgentID, e.def.Name),
		session:  session,
		external: ctx,
		runCtx:   runCtx,
		start:    time.Now(),
	}

	e.telemetry.AgentStart(r.id, e.def.Name)
	e.logger.Info("agent run starting",
		"agent_id", r.id, "agent", e.def.Name, "model", e.def.Model.ID(),
		"max_turns", e.def.Run.MaxTurns, "max_time_minutes", e.def.Run.MaxTimeMinutes)

	res := r.loop(query)

	e.telemetry.AgentFinish(r.id, e.def.Name, time.Since(r.start), r.turn, res.Reason)
	e.logger.Info("agent run finished",
		"agent_id", r.id, "reason", string(res.Reason), "turns", r.turn,
		"elapsed_ms", time.Since(r.start).Milliseconds())
	return res, nil
}

// newAgentID returns "{parent.}{name}-{suffix}" with a six-character random
// suffix, enough to tell concurrent runs of the same agent apart in logs.
func newAgentID(parentID, name string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	if parentID != "" {
		return fmt.Sprintf("%s.%s-%s", parentID, name, suffix)
	}
	return fmt.Sprintf("%s-%s", name, suffix)
}

// ---------------------------------------------------------------------------
// Per-run state
// ---------------------------------------------------------------------------

// interruption classifies why a turn stopped early.
type interruption int

const (
	interruptNone interruption = iota
	interruptSoft              // single operator interrupt: pause for input
	interruptHard              // double operator interrupt: abort
	interruptExternal          // host cancelled the run context
	interruptWallClock         // the run's own time budget fired
)

type run struct {
	e        *Executor
	em       *emitter
	id       string
	session  chat.Session
	external context.Context // host-controlled
	runCtx   context.Context // external + wall clock
	start    time.Time

	turn         int
	next         []ai.Part // pending user message
	terminalText string    // last model text, drives local result shaping
	reason       TerminationReason
	result       string
}

// turnResult is the outcome of one full turn (model call + tool dispatch).
type turnResult struct {
	parts     []ai.Part // next user message when the run continues
	completed bool
	result    string
	noCalls   bool
	intr      interruption
	err       error
}

// loop is the run's main cycle. It returns only through finish().
func (r *run) loop(query string) *RunResult {
	r.next = []ai.Part{ai.TextPart{Text: query}}

runLoop:
	for {
		// ── Budget guards, checked before every model call ──────────────
		switch {
		case r.external.Err() != nil:
			r.reason = ReasonAborted
			break runLoop
		case r.wallExpired():
			r.reason = ReasonTimeout
			break runLoop
		case r.turn >= r.e.def.Run.MaxTurns:
			r.reason = ReasonMaxTurns
			break runLoop
		}

		tr := r.doTurn(r.runCtx, r.next)
		switch {
		case tr.intr == interruptSoft:
			r.em.emit(ActivityInterrupted, map[string]any{"hard": false})
			text, ok := r.awaitOperator()
			if !ok {
				r.reason = ReasonAborted
				break runLoop
			}
			r.next = []ai.Part{ai.TextPart{Text: text}}

		case tr.intr == interruptHard:
			r.em.emit(ActivityInterrupted, map[string]any{"hard": true})
			r.reason = ReasonAborted
			break runLoop

		case tr.intr == interruptExternal:
			r.reason = ReasonAborted
			break runLoop

		case tr.intr == interruptWallClock:
			r.reason = ReasonTimeout
			break runLoop

		case tr.err != nil:
			r.em.emit(ActivityError, map[string]any{"message": tr.err.Error()})
			r.e.logger.Error("model turn failed", "agent_id", r.id, "error", tr.err)
			r.reason = ReasonError
			r.result = fmt.Sprintf("Agent run failed: %v", tr.err)
			break runLoop

		case tr.completed:
			r.reason = ReasonGoal
			r.result = tr.result
			break runLoop

		case tr.noCalls:
			r.reason = ReasonNoCompletion
			break runLoop

		default:
			r.next = tr.parts
		}
	}

	return r.finish()
}

// doTurn runs one turn under its own cancellation handle, registered with
// the interrupt manager so a single Ctrl-C cancels exactly this turn.
func (r *run) doTurn(parent context.Context, parts []ai.Part) turnResult {
	turnCtx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	r.e.interrupts.SetCurrentTurnController(cancel)

	outcome, intr, err := r.streamModel(turnCtx, parts)
	if intr != interruptNone {
		return turnResult{intr: intr}
	}
	if err != nil {
		return turnResult{err: err}
	}
	if len(outcome.calls) == 0 {
		return turnResult{noCalls: true}
	}

	responses, st, intr := r.dispatchCalls(turnCtx, outcome.calls)
	if st.accepted {
		return turnResult{completed: true, result: r.goalResult(st)}
	}
	if intr != interruptNone {
		return turnResult{intr: intr}
	}

	next := make([]ai.Part, 0, len(responses)+1)
	allFailed := true
	for _, resp := range responses {
		if resp.Error == "" {
			allFailed = false
		}
		next = append(next, resp)
	}
	if allFailed {
		next = append(next, ai.TextPart{Text: allFailedNudge})
	}
	return turnResult{parts: next}
}

// streamModel sends parts as the next user message and consumes the reply
// stream, emitting thought activity as it arrives. It returns the reply's
// tool calls (parsed from text on the local path) and terminal text.
func (r *run) streamModel(turnCtx context.Context, parts []ai.Part) (*turnOutcome, interruption, error) {
	r.turn++
	promptID := fmt.Sprintf("%s#%d", r.id, r.turn)
	r.em.emit(ActivityUserMessage, map[string]any{"text": partsText(parts)})

	cfg := chat.TurnConfig{Params: r.e.def.Model.params()}
	if !r.e.local {
		cfg.Tools = r.e.decls
	}
	chunks, wait := r.session.SendStream(turnCtx, parts, cfg)

	for chunk := range chunks {
		if chunk.Err != nil {
			continue // wait() reports it
		}
		for _, p := range chunk.Parts {
			tp, ok := p.(ai.TextPart)
			if !ok {
				continue
			}
			// Remote reasoning arrives flagged; local sessions re-send the
			// whole accumulated text, which doubles as the live reasoning
			// view. Plain remote text stays silent and lands in the result.
			if !tp.Thought && !r.e.local {
				continue
			}
			th := ParseThought(tp.Text)
			r.em.emit(ActivityThoughtChunk, map[string]any{
				"subject":     th.Subject,
				"description": th.Description,
			})
		}
	}

	result, err := wait()
	if intr := r.checkInterruption(turnCtx); intr != interruptNone {
		return nil, intr, nil
	}
	if err != nil {
		return nil, interruptNone, err
	}

	text := ai.TextOf(result.Parts)
	r.terminalText = text

	var calls []ai.FunctionCall
	if r.e.local {
		calls = toolcall.Parse(text, promptID)
		if len(calls) == 0 && r.e.def.Output != nil && strings.TrimSpace(text) != "" {
			// Local models routinely answer in prose instead of calling
			// complete_task; treat the terminal text as the completion.
			calls = []ai.FunctionCall{r.fallbackCompletion(text, promptID)}
		}
	} else {
		calls = append(calls, ai.CallsOf(result.Parts)...)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = fmt.Sprintf("%s-%d", promptID, i)
			}
		}
	}
	return &turnOutcome{calls: calls, text: text}, interruptNone, nil
}

type turnOutcome struct {
	calls []ai.FunctionCall
	text  string
}

// fallbackCompletion synthesizes the complete_task call local models tend to
// skip. A terminal text that parses as a JSON object is taken as the
// argument map itself; anything else becomes the output field's value.
func (r *run) fallbackCompletion(text, promptID string) ai.FunctionCall {
	args := map[string]any{}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err == nil {
		args = parsed
	} else {
		args[r.e.def.Output.Name] = text
	}
	return ai.FunctionCall{ID: promptID + "-0", Name: CompleteTaskName, Args: args}
}

// dispatchCalls executes one turn's calls. complete_task is decided
// synchronously first so its first-wins state is settled before anything
// else runs; the rest run concurrently under the turn context. The returned
// responses are in invocation order, exactly one per call.
func (r *run) dispatchCalls(turnCtx context.Context, calls []ai.FunctionCall) ([]ai.FunctionResponse, completionState, interruption) {
	responses := make([]ai.FunctionResponse, len(calls))
	var st completionState

	for i, call := range calls {
		if call.Name != CompleteTaskName {
			continue
		}
		r.em.emit(ActivityToolCallStart, map[string]any{"name": call.Name, "call_id": call.ID, "args": call.Args})
		resp := handleCompletion(r.e.def, call, &st)
		responses[i] = resp
		if resp.Error != "" {
			r.em.emit(ActivityError, map[string]any{"name": call.Name, "call_id": call.ID, "message": resp.Error})
		} else {
			r.em.emit(ActivityToolCallEnd, map[string]any{"name": call.Name, "call_id": call.ID, "display": st.result})
		}
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		if call.Name == CompleteTaskName {
			continue
		}
		r.em.emit(ActivityToolCallStart, map[string]any{"name": call.Name, "call_id": call.ID, "args": call.Args})

		// Names outside this run's registry view never reach the tool
		// layer, whatever the host registry holds.
		if !r.e.registry.Has(call.Name) {
			responses[i] = ai.FunctionResponse{ID: call.ID, Name: call.Name, Error: "Unauthorized tool call"}
			r.em.emit(ActivityError, map[string]any{"name": call.Name, "call_id": call.ID, "message": "Unauthorized tool call"})
			continue
		}

		wg.Add(1)
		go func(i int, call ai.FunctionCall) {
			defer wg.Done()
			onOutput := func(chunk string) {
				r.em.emit(ActivityToolOutputChunk, map[string]any{"name": call.Name, "call_id": call.ID, "chunk": chunk})
			}
			resp := r.e.registry.Execute(turnCtx, tools.Request{CallID: call.ID, Name: call.Name, Args: call.Args}, onOutput)
			responses[i] = r.finishCall(turnCtx, call, resp)
		}(i, call)
	}
	wg.Wait()

	return responses, st, r.checkInterruption(turnCtx)
}

// finishCall converts a registry response into the function response the
// model sees, summarizing successful output when configured.
func (r *run) finishCall(ctx context.Context, call ai.FunctionCall, resp tools.Response) ai.FunctionResponse {
	out := ai.FunctionResponse{ID: call.ID, Name: call.Name}
	if resp.Err != nil {
		out.Error = resp.Err.Message
		r.em.emit(ActivityError, map[string]any{"name": call.Name, "call_id": call.ID, "message": resp.Err.Message})
		return out
	}

	content := ai.TextOf(resp.Parts)
	if r.e.summarizer != nil {
		summary, err := r.e.summarizer.Summarize(ctx, content)
		if err != nil {
			r.e.logger.Warn("tool output summarization failed", "agent_id", r.id, "tool", call.Name, "error", err)
		} else {
			content = summary
		}
	}
	out.Response = map[string]any{"output": content}
	r.em.emit(ActivityToolCallEnd, map[string]any{"name": call.Name, "call_id": call.ID, "display": resp.Display})
	return out
}

// goalResult picks the final result for an accepted completion. Local agents
// without an output spec report their terminal text, minus the tool-call
// fragment the parser consumed.
func (r *run) goalResult(st completionState) string {
	if r.e.local && r.e.def.Output == nil {
		if stripped := strings.TrimSpace(toolcall.StripCall(r.terminalText, CompleteTaskName)); stripped != "" {
			return stripped
		}
	}
	return st.result
}

// awaitOperator blocks until the operator supplies follow-up text after a
// soft interrupt. false aborts the run.
func (r *run) awaitOperator() (string, bool) {
	if r.e.host.OperatorInput == nil {
		return "", false
	}
	return r.e.host.OperatorInput(r.external)
}

// checkInterruption classifies how (and whether) the turn context died.
// Operator interrupts are recorded as the cancel cause by the interrupt
// manager; the wall clock leaves its own cause on the run context.
func (r *run) checkInterruption(turnCtx context.Context) interruption {
	if hard, ok := interrupt.Interrupted(turnCtx); ok {
		if hard {
			return interruptHard
		}
		return interruptSoft
	}
	if r.wallExpired() {
		return interruptWallClock
	}
	if r.external.Err() != nil {
		return interruptExternal
	}
	return interruptNone
}

func (r *run) wallExpired() bool {
	return context.Cause(r.runCtx) == errWallClock
}

// finish runs the recovery turn when the reason allows one, fills in the
// default result line, and reports.
func (r *run) finish() *RunResult {
	if r.reason.Recoverable() {
		r.recover()
	}
	if r.result == "" {
		r.result = r.defaultResult()
	}
	return &RunResult{AgentID: r.id, Result: r.result, Reason: r.reason, Turns: r.turn}
}

// recover gives the model one last turn to call complete_task after a
// budget ran out. The grace window hangs off the external context because
// the run's own clock may already be spent. Success flips the outcome to
// GOAL; failure keeps the original reason.
func (r *run) recover() {
	trigger := r.reason
	graceCtx, cancelGrace := context.WithTimeout(r.external, r.e.grace)
	defer cancelGrace()

	turnCtx, cancel := context.WithCancelCause(graceCtx)
	defer cancel(nil)
	r.e.interrupts.SetCurrentTurnController(cancel)

	r.e.logger.Info("attempting recovery turn", "agent_id", r.id, "reason", string(trigger))
	outcome, intr, err := r.streamModel(turnCtx, []ai.Part{ai.TextPart{Text: recoveryMessage(trigger, r.e.def)}})

	success := false
	if intr == interruptNone && err == nil {
		var st completionState
		for _, call := range outcome.calls {
			if call.Name != CompleteTaskName {
				continue
			}
			r.em.emit(ActivityToolCallStart, map[string]any{"name": call.Name, "call_id": call.ID, "args": call.Args})
			resp := handleCompletion(r.e.def, call, &st)
			if resp.Error != "" {
				r.em.emit(ActivityError, map[string]any{"name": call.Name, "call_id": call.ID, "message": resp.Error})
			} else {
				r.em.emit(ActivityToolCallEnd, map[string]any{"name": call.Name, "call_id": call.ID, "display": st.result})
			}
		}
		if st.accepted {
			success = true
			r.reason = ReasonGoal
			r.result = r.goalResult(st)
		}
	}

	r.e.telemetry.RecoveryAttempt(r.id, r.e.def.Name, trigger, time.Since(r.start), success, r.turn)
	if !success {
		r.em.emit(ActivityError, map[string]any{
			"message": fmt.Sprintf("Recovery attempt failed; run ends with reason %s.", trigger),
		})
		r.e.logger.Warn("recovery attempt failed", "agent_id", r.id, "reason", string(trigger))
	}
}

// recoveryMessage is the synthesized user message that opens the recovery
// turn.
func recoveryMessage(reason TerminationReason, def *Definition) string {
	switch reason {
	case ReasonTimeout:
		return fmt.Sprintf("You have exceeded the time limit of %g minutes. Call complete_task immediately with the best result you can produce from the work done so far. Do not call any other tool.", def.Run.MaxTimeMinutes)
	case ReasonMaxTurns:
		return fmt.Sprintf("You have used all %d available turns. Call complete_task immediately with the best result you can produce from the work done so far. Do not call any other tool.", def.Run.MaxTurns)
	default:
		return "Your previous reply did not call any tool. Call complete_task immediately with your final result. Do not reply with plain text."
	}
}

// defaultResult is the explanatory line for runs that never accepted a
// completion.
func (r *run) defaultResult() string {
	switch r.reason {
	case ReasonGoal:
		return genericResult
	case ReasonTimeout:
		return fmt.Sprintf("Agent timed out after %g minutes.", r.e.def.Run.MaxTimeMinutes)
	case ReasonMaxTurns:
		return fmt.Sprintf("Agent reached the maximum number of turns (%d).", r.e.def.Run.MaxTurns)
	case ReasonNoCompletion:
		return "Agent stopped producing tool calls and never called complete_task."
	case ReasonAborted:
		return "Agent was aborted."
	default:
		return "Agent run failed."
	}
}

// partsText flattens the text content of a message's parts for activity
// reporting.
func partsText(parts []ai.Part) string {
	var sb strings.Builder
	for _, p := range parts {
		switch part := p.(type) {
		case ai.TextPart:
			sb.WriteString(part.Text)
		case ai.FunctionResponse:
			fmt.Fprintf(&sb, "[%s result]", part.Name)
		}
	}
	return sb.String()
}
