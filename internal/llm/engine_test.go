package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

// sliceStream replays a fixed event sequence.
type sliceStream struct {
	events []Event
	pos    int
}

func (s *sliceStream) Recv() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}

func (s *sliceStream) Close() error { return nil }

// fakeProvider returns one scripted stream per call, recording each request.
type fakeProvider struct {
	mu       sync.Mutex
	turns    [][]Event
	requests []Request
	calls    int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.calls >= len(p.turns) {
		return nil, fmt.Errorf("unexpected stream call %d", p.calls)
	}
	events := p.turns[p.calls]
	p.calls++
	return &sliceStream{events: events}, nil
}

// fakeTool records its invocations and returns a canned result.
type fakeTool struct {
	spec   ToolSpec
	result string
	err    error
	mu     sync.Mutex
	calls  []json.RawMessage
}

func (t *fakeTool) Spec() ToolSpec { return t.spec }

func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, args)
	t.mu.Unlock()
	return t.result, t.err
}

func (t *fakeTool) Preview(args json.RawMessage) string { return "" }

func toolCallTurn(id, name, args string) []Event {
	return []Event{
		{Type: EventToolCallDelta, Fragment: &ToolCallFragment{Index: 0, ID: id, Name: name, Args: args}},
		{Type: EventDone},
	}
}

func textTurn(texts ...string) []Event {
	var events []Event
	for _, text := range texts {
		events = append(events, Event{Type: EventTextDelta, Text: text})
	}
	return append(events, Event{Type: EventDone})
}

func TestEngine_WeatherExchange(t *testing.T) {
	provider := &fakeProvider{turns: [][]Event{
		{
			{Type: EventThinkingDelta, Text: "Need current data, searching."},
			{Type: EventToolCallDelta, Fragment: &ToolCallFragment{Index: 0, ID: "c1", Name: "web_search", Args: `{"query":"weather X"}`}},
			{Type: EventDone},
		},
		{
			{Type: EventTextDelta, Text: "It's sunny"},
			{Type: EventUsage, Use: &Usage{InputTokens: 10, OutputTokens: 5}},
			{Type: EventDone},
		},
	}}
	tool := &fakeTool{spec: WebSearchToolSpec(), result: "- [Weather X](https://example.com) - sunny, 22C"}

	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)

	result, err := engine.Run(context.Background(), Request{
		Messages:     []Message{UserText("weather in X")},
		Think:        ThinkHigh,
		ToolsEnabled: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "<think>\nNeed current data, searching.\n</think>\n\nIt's sunny"
	if result.Text != want {
		t.Errorf("transcript = %q, want %q", result.Text, want)
	}
	if result.WasTruncated {
		t.Error("exchange must not be truncated")
	}
	if result.Usage == nil || result.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", result.Usage)
	}

	if len(tool.calls) != 1 {
		t.Fatalf("tool called %d times, want 1", len(tool.calls))
	}
	var args map[string]string
	if err := json.Unmarshal(tool.calls[0], &args); err != nil {
		t.Fatalf("tool args: %v", err)
	}
	if args["query"] != "weather X" {
		t.Errorf("query = %q", args["query"])
	}

	// The resubmitted conversation carries the call and its result.
	second := provider.requests[1]
	if len(second.Messages) != 3 {
		t.Fatalf("resubmitted messages = %d, want 3", len(second.Messages))
	}
	toolMsg := second.Messages[2]
	if toolMsg.Role != RoleTool {
		t.Errorf("last message role = %s", toolMsg.Role)
	}
	if toolMsg.Parts[0].ToolResult.ID != "c1" {
		t.Errorf("tool result ID = %q, want the call's ID echoed", toolMsg.Parts[0].ToolResult.ID)
	}
}

func TestEngine_ToolRoundCeiling(t *testing.T) {
	// A model that requests a tool every turn must be cut off after three
	// executed rounds, with the partial transcript returned.
	provider := &fakeProvider{turns: [][]Event{
		toolCallTurn("c1", "loop", "{}"),
		toolCallTurn("c2", "loop", "{}"),
		toolCallTurn("c3", "loop", "{}"),
		toolCallTurn("c4", "loop", "{}"),
	}}
	tool := &fakeTool{
		spec:   ToolSpec{Name: "loop", Schema: map[string]interface{}{"type": "object"}},
		result: "again",
	}
	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)

	result, err := engine.Run(context.Background(), Request{
		Messages:     []Message{UserText("go")},
		ToolsEnabled: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.WasTruncated {
		t.Error("hitting the round ceiling must mark the result truncated")
	}
	if len(tool.calls) != 3 {
		t.Errorf("tool executed %d times, want exactly 3", len(tool.calls))
	}
	if provider.calls != 4 {
		t.Errorf("provider streamed %d turns, want 4", provider.calls)
	}
}

func TestEngine_ToolErrorBecomesStructuredResult(t *testing.T) {
	provider := &fakeProvider{turns: [][]Event{
		toolCallTurn("c1", "web_search", `{"query":"x"}`),
		textTurn("recovered"),
	}}
	tool := &fakeTool{spec: WebSearchToolSpec(), err: fmt.Errorf("backend unreachable")}
	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)

	result, err := engine.Run(context.Background(), Request{
		Messages:     []Message{UserText("x")},
		ToolsEnabled: true,
	})
	if err != nil {
		t.Fatalf("tool errors must not fail the exchange: %v", err)
	}
	if result.Text != "recovered" {
		t.Errorf("transcript = %q", result.Text)
	}

	toolMsg := provider.requests[1].Messages[2]
	res := toolMsg.Parts[0].ToolResult
	if !res.IsError {
		t.Error("result must be marked as an error")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		t.Fatalf("error payload is not JSON: %q", res.Content)
	}
	if !strings.Contains(payload["error"], "backend unreachable") {
		t.Errorf("payload = %v", payload)
	}
}

func TestEngine_UnknownToolIsReportedToModel(t *testing.T) {
	provider := &fakeProvider{turns: [][]Event{
		toolCallTurn("c1", "nonexistent", "{}"),
		textTurn("ok"),
	}}
	engine := NewEngine(provider, nil)

	result, err := engine.Run(context.Background(), Request{
		Messages: []Message{UserText("x")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "ok" {
		t.Errorf("transcript = %q", result.Text)
	}
	res := provider.requests[1].Messages[2].Parts[0].ToolResult
	if !res.IsError || !strings.Contains(res.Content, "not registered") {
		t.Errorf("result = %+v", res)
	}
}

func TestEngine_AccumulatorResetsBetweenRounds(t *testing.T) {
	provider := &fakeProvider{turns: [][]Event{
		toolCallTurn("c1", "first", `{"a":1}`),
		toolCallTurn("c2", "second", `{"b":2}`),
		textTurn("done"),
	}}
	first := &fakeTool{spec: ToolSpec{Name: "first", Schema: map[string]interface{}{"type": "object"}}, result: "r1"}
	second := &fakeTool{spec: ToolSpec{Name: "second", Schema: map[string]interface{}{"type": "object"}}, result: "r2"}
	engine := NewEngine(provider, nil)
	engine.RegisterTool(first)
	engine.RegisterTool(second)

	if _, err := engine.Run(context.Background(), Request{Messages: []Message{UserText("x")}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Round two must see only the second call; stale fragments from round
	// one would corrupt it.
	if len(first.calls) != 1 || len(second.calls) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(first.calls), len(second.calls))
	}
	secondCallMsg := provider.requests[2].Messages[3]
	calls := secondCallMsg.Parts
	if len(calls) != 1 || calls[0].ToolCall.Name != "second" {
		t.Errorf("round-two call message = %+v", calls)
	}
}

func TestEngine_CancellationIsGraceful(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &fakeProvider{turns: [][]Event{
		textTurn("never seen"),
	}}
	engine := NewEngine(provider, nil)

	result, err := engine.Run(ctx, Request{Messages: []Message{UserText("x")}})
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}
	if !result.WasTruncated {
		t.Error("cancelled exchange must be marked truncated")
	}
}

func TestEngine_CancellationSkipsRemainingTools(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	provider := &fakeProvider{turns: [][]Event{
		{
			{Type: EventToolCallDelta, Fragment: &ToolCallFragment{Index: 0, ID: "c1", Name: "slow", Args: "{}"}},
			{Type: EventToolCallDelta, Fragment: &ToolCallFragment{Index: 1, ID: "c2", Name: "slow", Args: "{}"}},
			{Type: EventDone},
		},
	}}
	tool := &fakeTool{spec: ToolSpec{Name: "slow", Schema: map[string]interface{}{"type": "object"}}, result: "ok"}
	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)

	// Cancel after the stream has been fully consumed but before the second
	// tool runs by cancelling from inside the first execution.
	cancelling := &cancelOnExecute{inner: tool, cancel: cancel}
	engine.Tools().Register(cancelling)

	result, err := engine.Run(ctx, Request{Messages: []Message{UserText("x")}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.WasTruncated {
		t.Error("result must be truncated after mid-round cancellation")
	}
	if len(tool.calls) != 1 {
		t.Errorf("tool executed %d times, want 1", len(tool.calls))
	}
}

// cancelOnExecute wraps a tool and cancels the exchange after its first run.
type cancelOnExecute struct {
	inner  *fakeTool
	cancel context.CancelFunc
}

func (t *cancelOnExecute) Spec() ToolSpec { return t.inner.Spec() }

func (t *cancelOnExecute) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	out, err := t.inner.Execute(ctx, args)
	t.cancel()
	return out, err
}

func (t *cancelOnExecute) Preview(args json.RawMessage) string { return "" }

func TestEngine_RepairProducesMergedTranscript(t *testing.T) {
	reasoning := strings.Repeat("thinking hard about the question. ", 20)
	provider := &fakeProvider{turns: [][]Event{
		{
			{Type: EventThinkingDelta, Text: reasoning},
			{Type: EventDone},
		},
		textTurn("The answer is 42."),
	}}
	engine := NewEngine(provider, nil)

	result, err := engine.Run(context.Background(), Request{
		Messages: []Message{UserText("deep question")},
		Think:    ThinkHigh,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasSuffix(result.Text, "\n\nThe answer is 42.") {
		t.Errorf("repair text not appended: %q", result.Text)
	}
	if !strings.Contains(result.Text, reasoning) {
		t.Error("original reasoning must be preserved")
	}

	// The repair sub-turn carries the transcript so far plus a nudge, and
	// must not offer tools.
	repairReq := provider.requests[1]
	if len(repairReq.Tools) != 0 {
		t.Errorf("repair request offered tools: %+v", repairReq.Tools)
	}
	last := repairReq.Messages[len(repairReq.Messages)-1]
	if last.Role != RoleUser || last.Parts[0].Text != repairPrompt {
		t.Errorf("repair request must end with the repair prompt, got %+v", last)
	}
}

func TestEngine_TinyRepairIsDiscarded(t *testing.T) {
	reasoning := strings.Repeat("reasoning without conclusion. ", 20)
	provider := &fakeProvider{turns: [][]Event{
		{
			{Type: EventThinkingDelta, Text: reasoning},
			{Type: EventDone},
		},
		textTurn("42"),
	}}
	engine := NewEngine(provider, nil)

	result, err := engine.Run(context.Background(), Request{
		Messages: []Message{UserText("q")},
		Think:    ThinkHigh,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "<think>\n" + reasoning + "\n</think>\n\n"
	if result.Text != want {
		t.Errorf("tiny repair must leave the transcript untouched:\ngot  %q\nwant %q", result.Text, want)
	}
}

func TestEngine_NoRepairAfterToolRounds(t *testing.T) {
	reasoning := strings.Repeat("still thinking. ", 40)
	provider := &fakeProvider{turns: [][]Event{
		toolCallTurn("c1", "web_search", `{"query":"x"}`),
		{
			{Type: EventThinkingDelta, Text: reasoning},
			{Type: EventDone},
		},
	}}
	tool := &fakeTool{spec: WebSearchToolSpec(), result: "found"}
	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)

	result, err := engine.Run(context.Background(), Request{
		Messages:     []Message{UserText("x")},
		Think:        ThinkHigh,
		ToolsEnabled: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider streamed %d turns, want 2 (no repair after tool use)", provider.calls)
	}
	if !strings.Contains(result.Text, reasoning) {
		t.Errorf("transcript = %q", result.Text)
	}
}

func TestEngine_NoRepairWhenThinkingOff(t *testing.T) {
	provider := &fakeProvider{turns: [][]Event{
		textTurn("short"),
	}}
	engine := NewEngine(provider, nil)

	if _, err := engine.Run(context.Background(), Request{
		Messages: []Message{UserText("q")},
		Think:    ThinkOff,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider streamed %d turns, want 1", provider.calls)
	}
}

func TestEngine_OnUpdateGrowsAcrossRepair(t *testing.T) {
	reasoning := strings.Repeat("mulling it over again. ", 30)
	provider := &fakeProvider{turns: [][]Event{
		{
			{Type: EventThinkingDelta, Text: reasoning},
			{Type: EventDone},
		},
		textTurn("Final answer here."),
	}}
	engine := NewEngine(provider, nil)

	var updates []string
	_, err := engine.Run(context.Background(), Request{
		Messages: []Message{UserText("q")},
		Think:    ThinkHigh,
		OnUpdate: func(text string) { updates = append(updates, text) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 1; i < len(updates); i++ {
		if !strings.HasPrefix(updates[i], updates[i-1]) {
			t.Fatalf("update %d shrank:\nprev %q\nnext %q", i, updates[i-1], updates[i])
		}
	}
}

func TestEngine_ToolsEnabledFillsSpecs(t *testing.T) {
	provider := &fakeProvider{turns: [][]Event{textTurn("hi")}}
	tool := &fakeTool{spec: WebSearchToolSpec(), result: "r"}
	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)

	if _, err := engine.Run(context.Background(), Request{
		Messages:     []Message{UserText("q")},
		ToolsEnabled: true,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sent := provider.requests[0].Tools
	if len(sent) != 1 || sent[0].Name != WebSearchToolName {
		t.Errorf("tools sent = %+v", sent)
	}
}
