// Package subagent — the parent/child boundary.
//
// A Boundary runs a child agent underneath a parent conversation. It pushes
// an interrupt frame for the child's lifetime (so Ctrl-C reaches the child,
// not the parent), caps delegation depth, and always pops the frame on the
// way out. AgentTool packages a Definition as a callable tool behind a
// Boundary, which is how a conversational model delegates work.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/interrupt"
	"github.com/delegate-dev/delegate/pkg/tools"
)

// DefaultMaxDepth caps agent-under-agent nesting. Hitting it means a
// definition delegates to itself, directly or through a cycle.
const DefaultMaxDepth = 4

// ErrDepthLimit is returned when a delegation would nest deeper than the
// boundary allows.
var ErrDepthLimit = errors.New("subagent: delegation depth limit reached")

// Boundary nests child runs under a parent conversation.
type Boundary struct {
	// Interrupts is the manager frames are pushed onto. Nil uses the
	// process-wide manager.
	Interrupts *interrupt.Manager

	// MaxDepth caps nesting. 0 uses DefaultMaxDepth; negative disables the
	// cap.
	MaxDepth int
}

func (b *Boundary) manager() *interrupt.Manager {
	if b != nil && b.Interrupts != nil {
		return b.Interrupts
	}
	return interrupt.Default()
}

func (b *Boundary) maxDepth() int {
	if b == nil || b.MaxDepth == 0 {
		return DefaultMaxDepth
	}
	return b.MaxDepth
}

// Run executes the agent inside a fresh interrupt frame. The frame is popped
// whatever happens, so a parent's interrupt handling resumes exactly where
// it left off.
func (b *Boundary) Run(ctx context.Context, exec *Executor, inputs map[string]string) (*RunResult, error) {
	m := b.manager()
	if max := b.maxDepth(); max > 0 && m.Depth() >= max {
		return nil, fmt.Errorf("%w (%d)", ErrDepthLimit, max)
	}

	m.StartAgentSession()
	defer m.EndAgentSession()
	return exec.Run(ctx, inputs)
}

// ---------------------------------------------------------------------------
// Rendezvous — soft-interrupt handoff
// ---------------------------------------------------------------------------

// Rendezvous hands the operator's follow-up text to a paused run. One side
// resolves (the UI, once it has collected input), the other awaits (the
// executor, after cancelling the interrupted turn). Delivery is pre-emptive:
// resolving before anyone waits parks the value for the next Await.
//
// Wire it up by setting HostContext.OperatorInput to the Await method.
type Rendezvous struct {
	mu sync.Mutex
	ch chan rendezvousValue
}

type rendezvousValue struct {
	text string
	ok   bool
}

func NewRendezvous() *Rendezvous {
	return &Rendezvous{ch: make(chan rendezvousValue, 1)}
}

// Resolve delivers the operator's text. It never blocks; if nothing consumed
// the previous delivery yet, the new one is dropped.
func (r *Rendezvous) Resolve(text string) {
	r.deliver(rendezvousValue{text: text, ok: true})
}

// Abort tells the waiting run that no follow-up is coming.
func (r *Rendezvous) Abort() {
	r.deliver(rendezvousValue{})
}

func (r *Rendezvous) deliver(v rendezvousValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case r.ch <- v:
	default:
	}
}

// Await blocks until a delivery arrives or ctx ends. false means abort.
func (r *Rendezvous) Await(ctx context.Context) (string, bool) {
	select {
	case v := <-r.ch:
		return v.text, v.ok
	case <-ctx.Done():
		return "", false
	}
}

// ---------------------------------------------------------------------------
// AgentTool — a Definition as a callable tool
// ---------------------------------------------------------------------------

// AgentTool exposes an agent definition as a tool. The tool's name and
// description come from the definition, its parameters from the definition's
// inputs, and invoking it runs the agent through a Boundary to completion.
//
// The run's final text becomes the tool result whatever the termination
// reason; the reason itself goes in the display line, so the parent model
// sees timeout and abort explanations inline.
type AgentTool struct {
	def      *Definition
	host     HostContext
	boundary *Boundary
	sink     Sink
}

// NewAgentTool wraps def for delegation. sink (optional) receives the
// child's activity stream; pass the same sink the parent UI consumes to get
// live forwarding.
func NewAgentTool(def *Definition, host HostContext, boundary *Boundary, sink Sink) *AgentTool {
	if boundary == nil {
		boundary = &Boundary{Interrupts: host.Interrupts}
	}
	return &AgentTool{def: def, host: host, boundary: boundary, sink: sink}
}

func (t *AgentTool) Declaration() ai.FunctionDeclaration {
	props := make(map[string]tools.Property, len(t.def.Inputs))
	var required []string
	for _, name := range sortedInputNames(t.def.Inputs) {
		in := t.def.Inputs[name]
		props[name] = tools.Property{Type: "string", Description: in.Description}
		if in.Required {
			required = append(required, name)
		}
	}

	desc := t.def.Description
	if desc == "" {
		desc = fmt.Sprintf("Delegate a task to the %s agent.", t.def.Display())
	}
	return ai.FunctionDeclaration{
		Name:                 t.def.Name,
		Description:          desc,
		ParametersJSONSchema: tools.MustSchema(tools.SimpleSchema{Properties: props, Required: required}),
	}
}

func (t *AgentTool) Execute(ctx context.Context, callID string, args map[string]any, onOutput tools.OutputFn) (tools.Result, error) {
	inputs := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			inputs[k] = s
		} else {
			inputs[k] = fmt.Sprintf("%v", v)
		}
	}

	exec, err := New(t.def, t.host, t.forwardingSink(onOutput))
	if err != nil {
		return tools.Result{}, err
	}

	res, err := t.boundary.Run(ctx, exec, inputs)
	if err != nil {
		return tools.Result{}, err
	}

	return tools.Result{
		Content: []ai.Part{ai.TextPart{Text: res.Result}},
		Display: fmt.Sprintf("%s finished (%s, %d turns)", t.def.Display(), res.Reason, res.Turns),
	}, nil
}

// forwardingSink fans the child's activity out to the configured sink and,
// as a lightweight progress feed, streams thought subjects and tool names to
// the parent's tool-output channel.
func (t *AgentTool) forwardingSink(onOutput tools.OutputFn) Sink {
	if onOutput == nil {
		return t.sink
	}
	var lastSubject string
	return func(a Activity) {
		if t.sink != nil {
			t.sink(a)
		}
		switch a.Type {
		case ActivityThoughtChunk:
			if s, _ := a.Data["subject"].(string); s != "" && s != lastSubject {
				lastSubject = s
				onOutput(s + "\n")
			}
		case ActivityToolCallStart:
			if name, _ := a.Data["name"].(string); name != "" {
				onOutput(fmt.Sprintf("[%s]\n", name))
			}
		}
	}
}
