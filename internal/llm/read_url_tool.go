package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/avhult/thinkterm/internal/search"
)

const maxReadURLChars = 50000

// ReadURLTool fetches web pages through a Fetcher.
type ReadURLTool struct {
	fetcher search.Fetcher
}

func NewReadURLTool(fetcher search.Fetcher) *ReadURLTool {
	return &ReadURLTool{fetcher: fetcher}
}

func (t *ReadURLTool) Spec() ToolSpec {
	return ReadURLToolSpec()
}

func (t *ReadURLTool) Preview(args json.RawMessage) string {
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &payload); err != nil || payload.URL == "" {
		return ""
	}
	return payload.URL
}

func (t *ReadURLTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return "", fmt.Errorf("parse read_url args: %w", err)
	}
	if payload.URL == "" {
		return "", fmt.Errorf("url is required")
	}

	url := payload.URL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	content, err := t.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}

	if len(content) > maxReadURLChars {
		content = content[:maxReadURLChars] + "\n\n[Content truncated at 50,000 characters]"
	}
	return content, nil
}
