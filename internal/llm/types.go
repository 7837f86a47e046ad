package llm

import (
	"context"
	"encoding/json"
)

// Provider streams model output events for a single chat turn.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// ThinkLevel controls how much deliberation the model is asked for.
// An empty level disables thinking entirely.
type ThinkLevel string

const (
	ThinkOff    ThinkLevel = ""
	ThinkLow    ThinkLevel = "low"
	ThinkMedium ThinkLevel = "medium"
	ThinkHigh   ThinkLevel = "high"
)

// Request represents a single model exchange.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolSpec
	Think    ThinkLevel

	// ToolsEnabled asks the engine to offer its registered tools when the
	// caller did not supply an explicit tool list.
	ToolsEnabled bool

	// HideThinking discards deliberation text from the transcript while
	// still tracking think-block state so answer text interleaves correctly.
	HideThinking bool

	// OnUpdate receives the full transcript so far after every processed
	// event. May be nil.
	OnUpdate func(text string)

	Debug bool
}

// Result is the outcome of a full exchange.
type Result struct {
	Text         string
	WasTruncated bool
	Usage        *Usage
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCall is a finalized model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the output from executing a tool call. ID must echo the
// call's ID verbatim so the upstream service can correlate them.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// ToolCallFragment is one streamed piece of a tool call, keyed by Index.
// Name and Args concatenate across fragments; ID is set once.
type ToolCallFragment struct {
	Index int
	ID    string
	Name  string
	Args  string
}

// EventType describes streaming events.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventThinkingDelta EventType = "thinking_delta"
	EventToolCallDelta EventType = "tool_call_delta"
	EventUsage         EventType = "usage"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event represents a streamed output update.
type Event struct {
	Type     EventType
	Text     string
	Fragment *ToolCallFragment
	Use      *Usage
	Err      error
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func SystemText(text string) Message {
	return Message{
		Role:  RoleSystem,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func UserText(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func ToolResultMessage(id, name, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: content,
			},
		}},
	}
}

// ToolErrorMessage creates a tool result message that indicates an error.
// The error is passed back to the model so it can react instead of the
// whole exchange failing.
func ToolErrorMessage(id, name, errorText string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: errorText,
				IsError: true,
			},
		}},
	}
}
