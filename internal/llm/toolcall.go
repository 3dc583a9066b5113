package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall is a fully assembled function invocation extracted from the stream.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Prompt returns the "prompt" argument, if present and non-empty.
func (t *ToolCall) Prompt() (string, bool) {
	s, ok := t.Args["prompt"].(string)
	return s, ok && s != ""
}

// ToolCallAssembler reconstructs a single tool call from streamed fragments.
// The upstream protocol splits one JSON argument payload across many chunks at
// arbitrary byte boundaries, so accumulation is concatenation, never
// replacement. At most one call is tracked: a fragment carrying a new call id
// resets the buffer, so a later parallel call replaces an earlier one.
type ToolCallAssembler struct {
	id   string
	name string
	args strings.Builder
	seen bool
}

// Observe feeds one fragment, in arrival order.
func (a *ToolCallAssembler) Observe(f ToolCallFragment) {
	if f.ID != "" && f.ID != a.id {
		a.id = f.ID
		a.name = ""
		a.args.Reset()
	}
	if f.Name != "" {
		a.name = f.Name
	}
	a.args.WriteString(f.Arguments)
	a.seen = true
}

// Finalize parses the accumulated argument buffer. It is valid only once the
// upstream stream has completed. It returns (nil, nil) when no fragments were
// observed. A parse error means the call is dropped by the caller after
// logging; it never fails the surrounding response.
func (a *ToolCallAssembler) Finalize() (*ToolCall, error) {
	if !a.seen {
		return nil, nil
	}
	if a.name == "" {
		return nil, fmt.Errorf("tool call %q arrived without a function name", a.id)
	}

	args := map[string]any{}
	if raw := a.args.String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("tool call %s: malformed arguments %q: %w", a.name, raw, err)
		}
	}

	return &ToolCall{Name: a.name, Args: args}, nil
}
