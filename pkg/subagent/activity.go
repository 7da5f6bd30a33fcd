package subagent

import (
	"regexp"
	"strings"
	"sync"
)

// ActivityType enumerates the events an executor emits while running.
type ActivityType string

const (
	// ActivityThoughtChunk carries streamed reasoning. Data: "subject",
	// "description".
	ActivityThoughtChunk ActivityType = "thought_chunk"
	// ActivityToolCallStart fires before a tool runs. Data: "name", "args",
	// "call_id".
	ActivityToolCallStart ActivityType = "tool_call_start"
	// ActivityToolCallEnd fires after a tool succeeds. Data: "name",
	// "call_id", "display".
	ActivityToolCallEnd ActivityType = "tool_call_end"
	// ActivityToolOutputChunk streams incremental tool output. Data: "name",
	// "call_id", "chunk". Chunks from concurrent tools interleave.
	ActivityToolOutputChunk ActivityType = "tool_output_chunk"
	// ActivityError reports a failed or rejected call, or a run-level
	// failure. Data: "message", plus "name"/"call_id" when tied to a call.
	ActivityError ActivityType = "error"
	// ActivityInterrupted fires when an operator interrupt is observed.
	// Data: "hard".
	ActivityInterrupted ActivityType = "interrupted"
	// ActivityUserMessage reports a user-role message entering the
	// conversation, including synthesized ones. Data: "text".
	ActivityUserMessage ActivityType = "user_message"
)

// Activity is one event on the executor's outbound stream. Hosts route on
// IsSubagentActivity to keep child events distinct from their own.
type Activity struct {
	IsSubagentActivity bool
	AgentName          string
	Type               ActivityType
	Data               map[string]any
}

// Sink receives activities. The executor serializes emissions, but tool
// output chunks arrive while tools run concurrently, so a sink must not
// assume it is called from a single goroutine over the whole run.
type Sink func(Activity)

// emitter serializes activity emission for one run.
type emitter struct {
	mu    sync.Mutex
	sink  Sink
	agent string
}

func (em *emitter) emit(typ ActivityType, data map[string]any) {
	if em.sink == nil {
		return
	}
	em.mu.Lock()
	defer em.mu.Unlock()
	em.sink(Activity{
		IsSubagentActivity: true,
		AgentName:          em.agent,
		Type:               typ,
		Data:               data,
	})
}

// thoughtSubjectRe matches the "**Subject** rest" convention providers use
// for reasoning summaries.
var thoughtSubjectRe = regexp.MustCompile(`(?s)^\s*\*\*(.*?)\*\*\s*(.*)$`)

// Thought is a parsed reasoning fragment.
type Thought struct {
	Subject     string
	Description string
}

// ParseThought splits provider thought text into a bolded subject line and
// the remaining description. Text without the **Subject** marker becomes a
// description with an empty subject.
func ParseThought(raw string) Thought {
	m := thoughtSubjectRe.FindStringSubmatch(raw)
	if m == nil {
		return Thought{Description: strings.TrimSpace(raw)}
	}
	return Thought{
		Subject:     strings.TrimSpace(m[1]),
		Description: strings.TrimSpace(m[2]),
	}
}
