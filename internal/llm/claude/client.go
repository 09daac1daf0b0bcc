// Package claude implements the detector.Provider interface against the
// Claude messages API.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/pulse/internal/detector"
)

const (
	defaultAPIURL  = "https://api.anthropic.com/v1/messages"
	maxTokens      = 1024
	maxTranscript  = 24000
	requestTimeout = 30 * time.Second
)

const systemPrompt = `You are a clinical safety screener reviewing a live encounter transcript.
Identify concerns a clinician should see immediately that simple keyword rules would miss.
Respond with a JSON array only, no prose. Each element:
{"key": "stable_snake_case_identifier", "summary": "one sentence", "severity": "info|warning|critical", "suggestion": "optional next step"}
Use the same key for the same underlying concern on every call. Return [] when there is nothing noteworthy.`

// Client screens transcripts through the Claude API.
type Client struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

// New creates a new Claude client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: defaultAPIURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type response struct {
	ID      string         `json:"id"`
	Content []contentBlock `json:"content"`
}

// Screen sends the transcript to the model and parses its findings. When the
// text exceeds the request budget the tail is kept: the newest utterances
// are the ones earlier cycles have not screened yet.
func (c *Client) Screen(ctx context.Context, transcript string) ([]detector.Finding, error) {
	if len(transcript) > maxTranscript {
		transcript = transcript[len(transcript)-maxTranscript:]
	}

	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: "Transcript:\n\n" + transcript}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("claude api error %d: %s", resp.StatusCode, string(respBody))
	}

	var out response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return parseFindings(text.String())
}

// parseFindings extracts the findings array from the model's reply. The
// model is told to reply with bare JSON but occasionally wraps it in fences
// or prose, so parsing tolerates surrounding text.
func parseFindings(text string) ([]detector.Finding, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no findings array in model reply: %q", truncateForError(text))
	}

	var findings []detector.Finding
	if err := json.Unmarshal([]byte(text[start:end+1]), &findings); err != nil {
		return nil, fmt.Errorf("parse findings: %w", err)
	}
	return findings, nil
}

func truncateForError(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
