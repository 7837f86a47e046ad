package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpClientTimeout is the default timeout for chat requests. Local models
// can be slow to load, so this is generous; cancellation comes from ctx.
const httpClientTimeout = 10 * time.Minute

var defaultHTTPClient = &http.Client{
	Timeout: httpClientTimeout,
}

// OllamaProvider implements Provider for Ollama-style servers speaking the
// native /api/chat NDJSON protocol, including thinking models.
type OllamaProvider struct {
	baseURL string
	apiKey  string // Optional, most local servers ignore it
	model   string
	client  *http.Client
}

func NewOllamaProvider(baseURL, apiKey, model string) *OllamaProvider {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &OllamaProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  defaultHTTPClient,
	}
}

func (p *OllamaProvider) Name() string {
	return fmt.Sprintf("Ollama (%s)", p.model)
}

// Wire request/response structures for the native chat endpoint.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Think    string        `json:"think,omitempty"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	Index    *int `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string          `json:"name,omitempty"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	} `json:"function"`
}

// chatFrame is one decoded NDJSON object from the response body.
type chatFrame struct {
	Model           string       `json:"model"`
	Message         frameMessage `json:"message"`
	Done            bool         `json:"done"`
	DoneReason      string       `json:"done_reason"`
	EvalCount       int          `json:"eval_count"`
	PromptEvalCount int          `json:"prompt_eval_count"`
}

// frameMessage carries whichever of the upstream thinking encodings this
// server uses: a dedicated thinking field, an incremental reasoning delta,
// typed content segments, or inline <think> tags inside content (those are
// left intact here; the classifier extracts them).
type frameMessage struct {
	Role      string         `json:"role"`
	Content   frameContent   `json:"content"`
	Thinking  string         `json:"thinking"`
	Reasoning string         `json:"reasoning"`
	ToolCalls []wireToolCall `json:"tool_calls"`
}

// frameContent accepts content as either a plain string or a list of typed
// segments. Resolved once at decode time; nothing downstream re-inspects
// the raw shape.
type frameContent struct {
	Text     string
	Segments []frameSegment
}

type frameSegment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c *frameContent) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	if data[0] == '[' {
		return json.Unmarshal(data, &c.Segments)
	}
	return fmt.Errorf("unsupported content shape: %s", previewBytes(data))
}

func (p *OllamaProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		messages := buildWireMessages(req.Messages)
		if len(messages) == 0 {
			return fmt.Errorf("no messages provided")
		}

		chatReq := chatRequest{
			Model:    chooseModel(req.Model, p.model),
			Messages: messages,
			Stream:   true,
			Think:    string(req.Think),
		}
		tools, err := buildWireTools(req.Tools)
		if err != nil {
			return err
		}
		chatReq.Tools = tools

		body, err := json.Marshal(chatReq)
		if err != nil {
			return fmt.Errorf("marshal chat request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("ollama request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			return fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		// The body is newline-delimited JSON. The scanner retains any
		// incomplete trailing fragment across reads, so frames are only
		// ever parsed at line boundaries.
		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var frame chatFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				// A corrupt line must never lose subsequent frames.
				DebugFrameSkipped(req.Debug, line, err)
				continue
			}

			for _, event := range frameEvents(frame) {
				if !emit(ctx, events, event) {
					return nil
				}
			}

			if frame.Done {
				if frame.EvalCount > 0 || frame.PromptEvalCount > 0 {
					use := &Usage{
						InputTokens:  frame.PromptEvalCount,
						OutputTokens: frame.EvalCount,
					}
					if !emit(ctx, events, Event{Type: EventUsage, Use: use}) {
						return nil
					}
				}
				emit(ctx, events, Event{Type: EventDone})
				return nil
			}
		}

		if err := scanner.Err(); err != nil {
			return fmt.Errorf("ollama streaming error: %w", err)
		}

		// Upstream closed without a done marker; end the turn anyway.
		emit(ctx, events, Event{Type: EventDone})
		return nil
	}), nil
}

// frameEvents maps one decoded frame to normalized events. Each of the
// thinking encodings is matched exactly once here; inline <think> tags ride
// along inside text deltas for the classifier to split.
func frameEvents(frame chatFrame) []Event {
	var events []Event

	msg := frame.Message
	if msg.Thinking != "" {
		events = append(events, Event{Type: EventThinkingDelta, Text: msg.Thinking})
	}
	if msg.Reasoning != "" {
		events = append(events, Event{Type: EventThinkingDelta, Text: msg.Reasoning})
	}
	for _, seg := range msg.Content.Segments {
		switch seg.Type {
		case "reasoning", "thinking":
			if seg.Text != "" {
				events = append(events, Event{Type: EventThinkingDelta, Text: seg.Text})
			}
		default:
			if seg.Text != "" {
				events = append(events, Event{Type: EventTextDelta, Text: seg.Text})
			}
		}
	}
	if msg.Content.Text != "" {
		events = append(events, Event{Type: EventTextDelta, Text: msg.Content.Text})
	}
	// Tool-call fragments come last so the classifier sees any thinking or
	// text from the same frame before a non-thinking event closes the block.
	for i, call := range msg.ToolCalls {
		events = append(events, Event{Type: EventToolCallDelta, Fragment: fragmentFromWire(call, i)})
	}

	return events
}

func fragmentFromWire(call wireToolCall, position int) *ToolCallFragment {
	index := position
	if call.Index != nil {
		index = *call.Index
	}
	return &ToolCallFragment{
		Index: index,
		ID:    call.ID,
		Name:  call.Function.Name,
		Args:  argumentsText(call.Function.Arguments),
	}
}

// argumentsText flattens a streamed arguments value to text for
// accumulation. Servers send either raw JSON fragments or a JSON string
// wrapping a fragment.
func argumentsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// buildWireMessages flattens structured messages into the wire shape. The
// wire format rejects structured content, so text parts are concatenated in
// order and non-text parts dropped. Tool results must carry tool_call_id
// and tool_name or multi-turn tool context breaks upstream.
func buildWireMessages(messages []Message) []wireMessage {
	var result []wireMessage
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			text, toolCalls := splitParts(msg.Parts)
			if msg.Role == RoleAssistant && len(toolCalls) > 0 {
				result = append(result, wireMessage{
					Role:      "assistant",
					Content:   text,
					ToolCalls: toolCalls,
				})
				continue
			}
			if text == "" {
				continue
			}
			result = append(result, wireMessage{Role: string(msg.Role), Content: text})
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, wireMessage{
					Role:       "tool",
					Content:    part.ToolResult.Content,
					ToolCallID: part.ToolResult.ID,
					ToolName:   part.ToolResult.Name,
				})
			}
		}
	}
	return result
}

func splitParts(parts []Part) (string, []wireToolCall) {
	var textParts []string
	var toolCalls []wireToolCall
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				textParts = append(textParts, part.Text)
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			call := wireToolCall{
				ID:   part.ToolCall.ID,
				Type: "function",
			}
			call.Function.Name = part.ToolCall.Name
			call.Function.Arguments = part.ToolCall.Arguments
			if len(call.Function.Arguments) == 0 {
				call.Function.Arguments = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, call)
		}
	}
	return strings.Join(textParts, ""), toolCalls
}

func buildWireTools(specs []ToolSpec) ([]wireTool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]wireTool, 0, len(specs))
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema %s: %w", spec.Name, err)
		}
		tools = append(tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func previewBytes(data []byte) string {
	const max = 64
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
