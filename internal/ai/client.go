// Package ai talks to the Gemini generateContent API to summarize notes and
// suggest tags for them.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.0-flash"
	DefaultMaxTags = 5

	noSummary       = "No summary generated."
	maxResponseBody = 1 << 20
)

var (
	// ErrNotConfigured is returned when no API key was supplied.
	ErrNotConfigured = errors.New("ai assistant not configured")
	// ErrUpstream wraps transport failures and non-2xx replies from the model API.
	ErrUpstream = errors.New("ai upstream error")
)

// Assistant produces summaries and tag suggestions for note text.
type Assistant interface {
	Summarize(ctx context.Context, text string) (string, error)
	SuggestTags(ctx context.Context, text string, maxTags int) ([]string, error)
}

// Recorder receives AI call outcomes. The metrics package implements it.
type Recorder interface {
	AIRequest(op, outcome string)
	AICache(op, result string)
}

type nopRecorder struct{}

func (nopRecorder) AIRequest(string, string) {}
func (nopRecorder) AICache(string, string)   {}

// Client calls the Gemini API. It never retries.
type Client struct {
	apiKey   string
	baseURL  string
	model    string
	http     *http.Client
	recorder Recorder
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewClient creates a client. An empty apiKey yields a client whose calls
// fail with ErrNotConfigured.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		baseURL:  DefaultBaseURL,
		model:    DefaultModel,
		http:     &http.Client{Timeout: 20 * time.Second},
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool { return c.apiKey != "" }

func (c *Client) Model() string { return c.model }

// Summarize asks the model for a two to three sentence summary.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	prompt := "Summarize the following note in 2-3 concise sentences, preserving key points and tone.\n\nNote:\n" + text

	out, err := c.generate(ctx, "summarize", prompt)
	if err != nil {
		return "", err
	}
	if out = strings.TrimSpace(out); out == "" {
		return noSummary, nil
	}
	return out, nil
}

// SuggestTags asks the model for up to maxTags short lowercase tags. Zero or
// less means DefaultMaxTags.
func (c *Client) SuggestTags(ctx context.Context, text string, maxTags int) ([]string, error) {
	if maxTags <= 0 {
		maxTags = DefaultMaxTags
	}
	prompt := fmt.Sprintf(
		"Read the note below and return a JSON array of %d short, lowercase tags (single or double words).\n"+
			"Only return the JSON array, no explanation.\n\nNote:\n%s", maxTags, text)

	out, err := c.generate(ctx, "tags", prompt)
	if err != nil {
		return nil, err
	}
	return ParseTags(out, maxTags), nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Text returns the first part of the first candidate, or "".
func (r generateResponse) Text() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

func (c *Client) generate(ctx context.Context, op, prompt string) (string, error) {
	if !c.Configured() {
		c.recorder.AIRequest(op, "not_configured")
		return "", ErrNotConfigured
	}

	out, err := c.post(ctx, prompt)
	if err != nil {
		c.recorder.AIRequest(op, "error")
		return "", err
	}
	c.recorder.AIRequest(op, "ok")
	return out, nil
}

func (c *Client) post(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var gr generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&gr); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	return gr.Text(), nil
}
