package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DebugToolCall prints a tool call in debug mode with readable formatting.
func DebugToolCall(enabled bool, call ToolCall) {
	if !enabled {
		return
	}
	body := fmt.Sprintf("name: %s\nid: %s\nargs:\n%s", call.Name, call.ID, formatJSON(call.Arguments))
	debugSection("Tool Call", body)
}

// DebugToolResult prints a tool result in debug mode.
func DebugToolResult(enabled bool, id, name, content string) {
	if !enabled {
		return
	}
	result := content
	if result == "" {
		result = "(empty)"
	}
	body := fmt.Sprintf("name: %s\nid: %s\nresult:\n%s", name, id, result)
	debugSection("Tool Result", body)
}

// DebugFrameSkipped reports a malformed NDJSON line that was skipped.
func DebugFrameSkipped(enabled bool, line []byte, err error) {
	if !enabled {
		return
	}
	debugSection("Frame Skipped", fmt.Sprintf("error: %v\nline: %s", err, truncateForDebug(string(line), 512)))
}

func debugSection(title, body string) {
	fmt.Fprintf(os.Stderr, "=== DEBUG: %s ===\n%s\n===\n", title, strings.TrimRight(body, "\n"))
}

func formatJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "(none)"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func truncateForDebug(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
