// Package search talks to the HTTP search and page-fetch backends used by
// the web tools.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Fetcher retrieves a page's content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Client implements Searcher and Fetcher against a backend exposing
// /search and /fetch POST endpoints with bearer authentication.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	payload := map[string]interface{}{
		"query":       query,
		"max_results": maxResults,
	}
	var response struct {
		Results []Result `json:"results"`
	}
	if err := c.post(ctx, "/search", payload, &response); err != nil {
		return nil, err
	}
	return response.Results, nil
}

func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	payload := map[string]interface{}{
		"url": url,
	}
	var response struct {
		Content string `json:"content"`
	}
	if err := c.post(ctx, "/fetch", payload, &response); err != nil {
		return "", err
	}
	return response.Content, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s API error (status %d): %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
