package llm

import (
	"encoding/json"
	"sort"
	"strings"
)

// toolCallAccumulator assembles streamed tool-call fragments into finalized
// calls. Fragments with the same index concatenate their name and argument
// text regardless of how the stream chunked them; the id is set once.
type toolCallAccumulator struct {
	byIndex map[int]*pendingToolCall
	order   []int
}

type pendingToolCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*pendingToolCall)}
}

func (a *toolCallAccumulator) Add(fragment *ToolCallFragment) {
	if fragment == nil {
		return
	}
	pending, ok := a.byIndex[fragment.Index]
	if !ok {
		pending = &pendingToolCall{}
		a.byIndex[fragment.Index] = pending
		a.order = append(a.order, fragment.Index)
	}
	if fragment.ID != "" && pending.id == "" {
		pending.id = fragment.ID
	}
	pending.name.WriteString(fragment.Name)
	pending.args.WriteString(fragment.Args)
}

func (a *toolCallAccumulator) HasAny() bool {
	return len(a.byIndex) > 0
}

// Finalize returns the assembled calls in index order. Argument text parses
// as JSON, defaulting to an empty object when no fragments carried any.
// A call without an id falls back to its tool name, which keeps upstream
// correlation working for servers that never assign ids.
func (a *toolCallAccumulator) Finalize() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	sort.Ints(a.order)
	calls := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		pending := a.byIndex[idx]
		if pending == nil {
			continue
		}
		name := pending.name.String()
		id := pending.id
		if id == "" {
			id = name
		}
		calls = append(calls, ToolCall{
			ID:        id,
			Name:      name,
			Arguments: normalizeArguments(pending.args.String()),
		})
	}
	return calls
}

// Reset clears all state. Required between loop rounds so stale calls from
// a prior round are never replayed as if the model repeated them.
func (a *toolCallAccumulator) Reset() {
	a.byIndex = make(map[int]*pendingToolCall)
	a.order = nil
}

// normalizeArguments parses accumulated argument text into a JSON object.
// Empty text and unparseable text both become an empty object so a garbled
// argument stream degrades to a tool error rather than a wire error.
func normalizeArguments(text string) json.RawMessage {
	text = strings.TrimSpace(text)
	if text == "" {
		return json.RawMessage("{}")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(text)
}
