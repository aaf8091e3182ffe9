package agent

// Trace entry types.
const (
	TracePlan       = "plan"
	TraceToolCall   = "tool_call"
	TraceValidation = "validation"
	TraceReprompt   = "reprompt"
	TraceFinal      = "final"
	TraceError      = "error"
)

// TraceEntry is a single event in the execution trace. Empty fields are
// omitted to keep the serialized trace minimal.
type TraceEntry struct {
	Type             string         `json:"type"`
	Tool             string         `json:"tool,omitempty"`
	Input            map[string]any `json:"input,omitempty"`
	OutputSummary    string         `json:"outputSummary,omitempty"`
	Steps            []string       `json:"steps,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	Error            string         `json:"error,omitempty"`
	ValidationErrors []string       `json:"validationErrors,omitempty"`
}

// Sink receives trace entries as they occur. Streaming callers use it to
// forward events to the client mid-run; it also receives pseudo-entries
// ("thinking", "synthesizing") that are never appended to the stored trace.
type Sink func(entry TraceEntry)
