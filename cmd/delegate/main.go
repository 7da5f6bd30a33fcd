// Binary delegate runs bounded, non-interactive agents from a YAML config.
//
// Usage:
//
//	delegate [flags]
//
// Flags:
//
//	-config   path to YAML config file (default: delegate.yaml)
//	-agent    name of the agent definition to run (default: first in config)
//	-input    task input as key=value; repeat for multiple inputs
//	-cwd      override the working directory for file tools
//	-verbose  log executor internals to stderr
//
// The activity stream renders to stderr; the run's final text goes to
// stdout. The exit status is zero only when the agent completed its task.
//
// A first Ctrl-C pauses the run and reads one follow-up line from stdin
// (an empty line aborts); pressing again before the run resumes aborts
// outright.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/ai/bedrock"
	"github.com/delegate-dev/delegate/pkg/ai/gemini"
	"github.com/delegate-dev/delegate/pkg/ai/models"
	"github.com/delegate-dev/delegate/pkg/chat"
	"github.com/delegate-dev/delegate/pkg/interrupt"
	"github.com/delegate-dev/delegate/pkg/subagent"
	"github.com/delegate-dev/delegate/pkg/tools"
	"github.com/delegate-dev/delegate/pkg/tools/builtin"
)

func main() {
	configPath := flag.String("config", "delegate.yaml", "path to delegate config file")
	agentName := flag.String("agent", "", "agent definition to run (default: first in config)")
	cwdFlag := flag.String("cwd", "", "override working directory for file tools")
	verbose := flag.Bool("verbose", false, "log executor internals to stderr")
	var inputs inputFlags
	flag.Var(&inputs, "input", "task input as key=value (repeatable)")
	flag.Parse()

	cfg, defs, err := subagent.LoadFile(*configPath)
	if err != nil {
		fatalf("%v", err)
	}

	def := defs[0]
	if *agentName != "" {
		def = nil
		for _, d := range defs {
			if d.Name == *agentName {
				def = d
				break
			}
		}
		if def == nil {
			fatalf("agent %q not in %s (have: %s)", *agentName, *configPath, strings.Join(agentNames(defs), ", "))
		}
	}

	// Resolve working directory
	cwd := cfg.WorkDir
	if *cwdFlag != "" {
		cwd = *cwdFlag
	}
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			fatalf("getwd: %v", err)
		}
	}

	logger := slog.New(slog.DiscardHandler)
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	remote, err := buildRemote(cfg, defs)
	if err != nil {
		fatalf("%v", err)
	}

	// Built-in tools, then the allow-list: every sibling definition is a
	// legal delegation target for the one we run.
	registry := tools.NewRegistry()
	builtin.Register(registry, builtin.PresetSubAgent, cwd, cfg.MemoryPath)

	allowed := builtin.DelegatableNames()
	for _, d := range defs {
		if d.Name != def.Name {
			allowed = append(allowed, d.Name)
		}
	}

	var compressor *chat.Compressor
	if cfg.Compression.Enabled && remote != nil {
		compressor = buildCompressor(cfg, def, remote, logger)
	}

	interrupts := interrupt.Default()
	rdv := subagent.NewRendezvous()
	printer := newActivityPrinter(os.Stderr)

	host := subagent.HostContext{
		WorkDir:        cwd,
		Registry:       registry,
		RemoteStreamer: remote,
		Compressor:     compressor,
		Interrupts:     interrupts,
		OperatorInput:  rdv.Await,
		AllowedTools:   allowed,
		Logger:         logger,
		DebugDir:       cfg.DebugDir,
	}
	if *verbose {
		host.Telemetry = subagent.LogTelemetry{Logger: logger}
	}

	// Sibling agents become tools only after host is fully populated:
	// AgentTool captures it by value.
	for _, d := range defs {
		if d.Name != def.Name {
			registry.Register(subagent.NewAgentTool(d, host, nil, printer.print))
		}
	}

	exec, err := subagent.New(def, host, printer.print)
	if err != nil {
		fatalf("%v", err)
	}

	stop := routeOperatorSignals(interrupts, rdv)
	defer stop()

	boundary := &subagent.Boundary{Interrupts: interrupts}
	res, err := boundary.Run(context.Background(), exec, map[string]string(inputs))
	if err != nil {
		fatalf("%v", err)
	}

	printer.flush()
	fmt.Println(res.Result)
	if res.Reason != subagent.ReasonGoal {
		fmt.Fprintf(os.Stderr, "delegate: %s ended without completing its task (%s after %d turns)\n",
			def.Display(), res.Reason, res.Turns)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Backend wiring
// ---------------------------------------------------------------------------

// buildRemote picks the remote transport for the configured backend. Returns
// nil without error when no definition needs one.
func buildRemote(cfg *subagent.FileConfig, defs []*subagent.Definition) (ai.ModelStreamer, error) {
	needed := false
	for _, d := range defs {
		if d.Model.Remote != nil {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	switch cfg.Backend {
	case "bedrock":
		return bedrock.New(cfg.Region, cfg.Profile), nil
	default: // gemini
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("gemini backend needs api_key in the config or GEMINI_API_KEY in the environment")
		}
		return gemini.New(cfg.BaseURL, key), nil
	}
}

// buildCompressor wires history compression over the same transport. The
// trigger threshold comes from the running agent's model; an unknown model
// leaves only overflow-forced compression active.
func buildCompressor(cfg *subagent.FileConfig, def *subagent.Definition, remote ai.ModelStreamer, logger *slog.Logger) *chat.Compressor {
	model := cfg.Compression.Model
	window := 0
	if def.Model.Remote != nil {
		window = models.ContextWindowFor(def.Model.Remote.Model)
		if model == "" {
			model = def.Model.Remote.Model
		}
	}
	if model == "" {
		return nil
	}
	return &chat.Compressor{
		Streamer: remote,
		Model:    model,
		Config: chat.CompressionConfig{
			ContextWindow:    window,
			ReserveTokens:    cfg.Compression.ReserveTokens,
			KeepRecentTokens: cfg.Compression.KeepRecentTokens,
		},
		Logger: logger,
	}
}

// ---------------------------------------------------------------------------
// Operator signals
// ---------------------------------------------------------------------------

// routeOperatorSignals binds SIGINT/SIGTERM to the interrupt manager. The
// first SIGINT of a pause cycle cancels the current turn softly and collects
// one follow-up line from stdin; any further signal before the run resumes
// escalates to a hard abort. A single goroutine owns the press count, so
// hardness can never race the cancellation it belongs to.
func routeOperatorSignals(m *interrupt.Manager, rdv *subagent.Rendezvous) (stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	resumed := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		presses := 0
		stdin := bufio.NewReader(os.Stdin)
		for {
			select {
			case <-done:
				return
			case <-resumed:
				presses = 0
			case sig := <-sigCh:
				presses++
				if sig == syscall.SIGTERM || presses > 1 {
					m.SetHardAbort(true)
					m.AbortCurrent()
					rdv.Abort()
					continue
				}
				m.SetHardAbort(false)
				m.AbortCurrent()
				go collectFollowUp(stdin, rdv, resumed)
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// collectFollowUp reads one line from the operator. An empty line or a closed
// stdin turns the pause into an abort.
func collectFollowUp(stdin *bufio.Reader, rdv *subagent.Rendezvous, resumed chan<- struct{}) {
	fmt.Fprint(os.Stderr, "\n[interrupted] follow-up (empty line aborts): ")
	line, err := stdin.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil || line == "" {
		rdv.Abort()
	} else {
		rdv.Resolve(line)
	}
	select {
	case resumed <- struct{}{}:
	default:
	}
}

// ---------------------------------------------------------------------------
// Activity renderer
// ---------------------------------------------------------------------------

// activityPrinter renders the activity stream as terminal lines, one entry
// per tool call keyed by call id. Output chunks stream through verbatim.
//
// A chunk whose call id was never announced still opens an entry. Only
// tool_call_start records names, so that entry's header carries an empty
// name.
type activityPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	open    map[string]string // call id → tool name
	subject string
	midLine bool
}

func newActivityPrinter(w io.Writer) *activityPrinter {
	return &activityPrinter{w: w, open: make(map[string]string)}
}

func (p *activityPrinter) print(a subagent.Activity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch a.Type {
	case subagent.ActivityThoughtChunk:
		subject, _ := a.Data["subject"].(string)
		if subject != "" && subject != p.subject {
			p.subject = subject
			p.line("* %s", subject)
		}

	case subagent.ActivityToolCallStart:
		name, _ := a.Data["name"].(string)
		callID, _ := a.Data["call_id"].(string)
		args, _ := a.Data["args"].(map[string]any)
		p.open[callID] = name
		p.line("[%s] %s(%s)", a.AgentName, name, formatArgs(args))

	case subagent.ActivityToolOutputChunk:
		callID, _ := a.Data["call_id"].(string)
		name, tracked := p.open[callID]
		if !tracked {
			p.open[callID] = name
			p.line("[%s] %s", a.AgentName, name)
		}
		chunk, _ := a.Data["chunk"].(string)
		if chunk != "" {
			fmt.Fprint(p.w, chunk)
			p.midLine = !strings.HasSuffix(chunk, "\n")
		}

	case subagent.ActivityToolCallEnd:
		name, _ := a.Data["name"].(string)
		callID, _ := a.Data["call_id"].(string)
		display, _ := a.Data["display"].(string)
		delete(p.open, callID)
		if display != "" {
			p.line("[%s] %s → %s", a.AgentName, name, display)
		} else {
			p.line("[%s] %s → ok", a.AgentName, name)
		}

	case subagent.ActivityError:
		msg, _ := a.Data["message"].(string)
		p.line("[%s] error: %s", a.AgentName, msg)

	case subagent.ActivityInterrupted:
		if hard, _ := a.Data["hard"].(bool); hard {
			p.line("[%s] aborted", a.AgentName)
		} else {
			p.line("[%s] paused", a.AgentName)
		}

	case subagent.ActivityUserMessage:
		text, _ := a.Data["text"].(string)
		p.line("[%s] » %s", a.AgentName, truncate(text, 120))
	}
}

// line prints one full entry line, closing any half-written chunk first.
func (p *activityPrinter) line(format string, args ...any) {
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}

// flush terminates a trailing unfinished chunk line.
func (p *activityPrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}

// ---------------------------------------------------------------------------
// Flag and formatting helpers
// ---------------------------------------------------------------------------

// inputFlags collects repeated -input key=value pairs.
type inputFlags map[string]string

func (f *inputFlags) String() string {
	if f == nil || *f == nil {
		return ""
	}
	pairs := make([]string, 0, len(*f))
	for k, v := range *f {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (f *inputFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("want key=value, got %q", s)
	}
	if *f == nil {
		*f = make(map[string]string)
	}
	(*f)[k] = v
	return nil
}

func agentNames(defs []*subagent.Definition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, truncate(fmt.Sprintf("%v", args[k]), 60)))
	}
	return strings.Join(parts, ", ")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
