// Package inference talks to the LLM completion server over plain HTTP,
// classifying failures into the pipeline's retry taxonomy rather than
// leaking raw transport errors to callers.
package inference

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

	"github.com/open-meetsum/meetsum/pkg/apperr"
)

// Client calls a single inference server's /v1/completions endpoint.
type Client struct {
	baseURL         string
	apiKey          string
	model           string
	httpClient      *http.Client
	timeout         time.Duration
	maxPromptTokens int
	charsPerToken   int
}

// New constructs a Client. timeout bounds a single completion call and is
// applied via context.WithTimeout around each request. maxPromptTokens and
// charsPerToken together cap the request size: a prompt estimated above
// maxPromptTokens is rejected before any network I/O.
func New(baseURL, apiKey, model string, timeout time.Duration, maxPromptTokens, charsPerToken int) *Client {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout:         timeout,
		maxPromptTokens: maxPromptTokens,
		charsPerToken:   charsPerToken,
	}
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// Complete sends prompt to the inference server and returns the first
// choice's trimmed text.
//
// Errors are classified per this pipeline's retry taxonomy: a context
// deadline or client-side timeout wraps apperr.ErrTransient so the job
// engine retries it, a non-2xx HTTP status below 500 is treated as fatal
// misconfiguration (wrapped with apperr.ErrFatal), and a 5xx or network
// error wraps apperr.ErrTransient. A response that parses as JSON but is
// missing the expected "choices" shape wraps apperr.ErrMalformedLLM.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64, stop []string) (string, error) {
	if c.maxPromptTokens > 0 && len(prompt) > c.maxPromptTokens*c.charsPerToken {
		return "", apperr.WrapFatal(fmt.Errorf("prompt of %d chars exceeds MAX_PROMPT_TOKENS (%d at %d chars/token)",
			len(prompt), c.maxPromptTokens, c.charsPerToken))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := completionRequest{
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stop:        stop,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	url := c.baseURL + "/v1/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.WrapTransient(fmt.Errorf("inference request timed out after %s: %w", c.timeout, err))
		}
		return "", apperr.WrapTransient(fmt.Errorf("inference request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.WrapTransient(fmt.Errorf("read inference response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return "", apperr.WrapTransient(fmt.Errorf("inference server returned %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return "", apperr.WrapFatal(fmt.Errorf("inference request rejected with %d: %s", resp.StatusCode, respBody))
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperr.WrapMalformedLLM(fmt.Errorf("inference response is not valid JSON: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.WrapMalformedLLM(fmt.Errorf("inference response has no choices"))
	}

	return strings.TrimSpace(parsed.Choices[0].Text), nil
}

// Healthy probes the inference server's health endpoint. Any 2xx response
// counts as healthy; everything else (including transport failure) is
// returned as an error for the caller to report.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build inference health request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("inference server health returned %d", resp.StatusCode)
	}
	return nil
}
