package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// maxToolRounds is the hard ceiling on tool-execution rounds per
	// exchange. Reaching it terminates with whatever transcript exists.
	maxToolRounds = 3

	// minRepairChars is the least new content a repair sub-turn must
	// produce to be kept; repair must never make output shorter or emptier.
	minRepairChars = 10

	repairPrompt = "Please provide your final answer based on your reasoning above."
)

// Engine orchestrates one full exchange: stream a turn, classify it,
// execute any tool calls, resubmit, and repair reasoning-only turns.
type Engine struct {
	provider Provider
	tools    *ToolRegistry
}

func NewEngine(provider Provider, tools *ToolRegistry) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Engine{provider: provider, tools: tools}
}

// RegisterTool adds a tool to the engine's registry.
func (e *Engine) RegisterTool(tool Tool) {
	e.tools.Register(tool)
}

// Tools returns the engine's tool registry.
func (e *Engine) Tools() *ToolRegistry {
	return e.tools
}

// Run drives a complete exchange and returns the merged transcript.
// Cancellation is not an error: the partial transcript is returned with
// WasTruncated set. Only transport errors on the primary stream propagate.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.ToolsEnabled && len(req.Tools) == 0 {
		req.Tools = e.tools.AllSpecs()
	}

	classifier := newThinkClassifier(req.OnUpdate, req.HideThinking)
	acc := newToolCallAccumulator()
	var usage *Usage
	truncated := false
	toolRounds := 0
	messages := append([]Message(nil), req.Messages...)

	for {
		streamReq := req
		streamReq.Messages = messages

		stream, err := e.provider.Stream(ctx, streamReq)
		if err != nil {
			return nil, err
		}
		streamErr := consumeStream(ctx, stream, classifier, acc, &usage)
		stream.Close()
		if streamErr != nil {
			if isCancellation(ctx, streamErr) {
				truncated = true
				break
			}
			return nil, streamErr
		}

		if !acc.HasAny() {
			break
		}
		if toolRounds >= maxToolRounds {
			// Calls still pending at the ceiling: partial results win.
			truncated = true
			break
		}

		calls := acc.Finalize()
		messages = append(messages, toolCallMessage(calls))

		cancelled := false
		// Sequential on purpose: results must reach the model in the same
		// order the calls were emitted.
		for _, call := range calls {
			if ctx.Err() != nil {
				truncated = true
				cancelled = true
				break
			}
			DebugToolCall(req.Debug, call)
			output, err := e.executeToolCall(ctx, call)
			if err != nil {
				output = toolErrorPayload(err)
				messages = append(messages, ToolErrorMessage(call.ID, call.Name, output))
			} else {
				messages = append(messages, ToolResultMessage(call.ID, call.Name, output))
			}
			DebugToolResult(req.Debug, call.ID, call.Name, output)
		}

		acc.Reset()
		toolRounds++
		if cancelled || ctx.Err() != nil {
			truncated = true
			break
		}
	}

	classifier.Finish()
	transcript := classifier.Transcript()

	if req.Think != ThinkOff && toolRounds == 0 && !truncated {
		thinkLen, answerLen := classifier.Stats()
		transcript = e.maybeRepair(ctx, req, messages, transcript, thinkLen, answerLen, &usage)
	}

	return &Result{Text: transcript, WasTruncated: truncated, Usage: usage}, nil
}

// consumeStream routes every event to the classifier and the accumulator
// until the stream ends. The cancellation token is checked between frames;
// once observed the stream stops yielding without error.
func consumeStream(ctx context.Context, stream Stream, classifier *thinkClassifier, acc *toolCallAccumulator, usage **Usage) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		event, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch event.Type {
		case EventError:
			if event.Err != nil {
				return event.Err
			}
		case EventUsage:
			if event.Use != nil {
				if *usage == nil {
					*usage = &Usage{}
				}
				(*usage).InputTokens += event.Use.InputTokens
				(*usage).OutputTokens += event.Use.OutputTokens
			}
		case EventToolCallDelta:
			acc.Add(event.Fragment)
			classifier.Feed(event)
		case EventDone:
			// Terminal marker; nothing follows.
		default:
			classifier.Feed(event)
		}
	}
}

func (e *Engine) executeToolCall(ctx context.Context, call ToolCall) (string, error) {
	tool, ok := e.tools.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("tool not registered: %s", call.Name)
	}
	return tool.Execute(ctx, call.Arguments)
}

// maybeRepair runs the completeness heuristic and at most one repair
// sub-turn. Any failure during repair keeps the pre-repair transcript.
func (e *Engine) maybeRepair(ctx context.Context, req Request, messages []Message, transcript string, thinkLen, answerLen int, usage **Usage) string {
	analysis := analyzeCompleteness(thinkLen, answerLen)
	if !analysis.needsRepair(thresholdsForLevel(req.Think)) {
		return transcript
	}

	repairMessages := make([]Message, 0, len(messages)+2)
	repairMessages = append(repairMessages, messages...)
	repairMessages = append(repairMessages, AssistantText(transcript), UserText(repairPrompt))

	subReq := req
	subReq.Messages = repairMessages
	subReq.Tools = nil
	subReq.ToolsEnabled = false
	subReq.OnUpdate = chainUpdate(req.OnUpdate, transcript)

	stream, err := e.provider.Stream(ctx, subReq)
	if err != nil {
		return transcript
	}
	repairClassifier := newThinkClassifier(subReq.OnUpdate, req.HideThinking)
	streamErr := consumeStream(ctx, stream, repairClassifier, newToolCallAccumulator(), usage)
	stream.Close()
	repairClassifier.Finish()

	if streamErr != nil && !isCancellation(ctx, streamErr) {
		return transcript
	}
	repairText := repairClassifier.Transcript()
	if len(repairText) < minRepairChars {
		return transcript
	}
	return transcript + "\n\n" + repairText
}

func toolCallMessage(calls []ToolCall) Message {
	parts := make([]Part, 0, len(calls))
	for i := range calls {
		call := calls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

func toolErrorPayload(err error) string {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return `{"error": "tool execution failed"}`
	}
	return string(payload)
}

// chainUpdate prefixes repair-turn updates with the pre-repair transcript
// so the callback always sees the full, monotonically growing text.
func chainUpdate(onUpdate func(string), prefix string) func(string) {
	if onUpdate == nil {
		return nil
	}
	return func(text string) {
		onUpdate(prefix + "\n\n" + text)
	}
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
