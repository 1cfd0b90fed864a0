// Package llm wraps the Implementation (Drafter) and Testing/Reviewer LLMs
// at the "string in, string out" contract spec §6 requires. Grounded
// directly on the teacher's cursor/client.go: functional ClientOptions, a
// Logger injected the same way, and the same exponential-backoff retry on
// 429/5xx in doRequest.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/nickmisasi/governance-engine/logging"
)

// Request is the opaque request the core hands to either wrapper: prompt
// text and an optional system prompt. Nothing about tool-calling or
// structured envelopes is visible at this layer — the wrapper may disable
// its own tool-calling and force a structured reply internally, but the
// core only ever sees plain text in, plain text out (spec §6).
type Request struct {
	Prompt       string
	SystemPrompt string
}

// Response is the wrapper's opaque output. ModelIdentity is populated only
// by Reviewer wrappers (spec §6: "additionally reports a self-declared
// model identity string used by the Verdict Parser's warning rule").
type Response struct {
	Text          string
	ModelIdentity string
}

// Client is the uniform contract for both the Drafter and the Reviewer.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

const (
	maxRetries     = 3
	retryBaseDelay = time.Second
)

// APIError mirrors the teacher's cursor.APIError: carries the HTTP status
// and raw body so the caller can fall back to the raw body when the
// structured message is empty.
type APIError struct {
	StatusCode int
	Message    string
	RawBody    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.RawBody != "" {
		msg = e.RawBody
	}
	return fmt.Sprintf("llm API error (HTTP %d): %s", e.StatusCode, msg)
}

// httpClient implements Client against an HTTP completion endpoint.
type httpClient struct {
	baseURL       string
	apiKey        string
	http          *http.Client
	logger        logging.Logger
	zeroRetention bool
}

// ClientOption configures an httpClient, mirroring cursor.ClientOption.
type ClientOption func(*httpClient)

func WithLogger(l logging.Logger) ClientOption {
	return func(c *httpClient) { c.logger = l }
}

func WithBaseURL(url string) ClientOption {
	return func(c *httpClient) { c.baseURL = url }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *httpClient) { c.http = h }
}

// WithZeroRetention marks every request as requiring a zero-retention
// configuration when the backend supports it — required for Reviewer calls
// per spec §6 ("Calls must use a 'zero-retention' configuration when
// available").
func WithZeroRetention() ClientOption {
	return func(c *httpClient) { c.zeroRetention = true }
}

// NewClient builds an httpClient. Returns nil if apiKey is empty, matching
// the teacher's cursor.NewClient nil-on-empty-token convention.
func NewClient(apiKey, baseURL string, opts ...ClientOption) Client {
	if apiKey == "" {
		return nil
	}
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 0}, // per-call timeout applied via context
		logger:  logging.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completionRequest struct {
	Prompt        string `json:"prompt"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
	ZeroRetention bool   `json:"zero_retention,omitempty"`
}

type completionResponse struct {
	Text          string `json:"text"`
	ModelIdentity string `json:"model_identity,omitempty"`
}

func (c *httpClient) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:        req.Prompt,
		SystemPrompt:  req.SystemPrompt,
		ZeroRetention: c.zeroRetention,
	})
	if err != nil {
		return Response{}, errors.Wrap(err, "marshal completion request")
	}

	raw, err := c.doRequest(ctx, http.MethodPost, "/v0/complete", body)
	if err != nil {
		return Response{}, err
	}

	var resp completionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, errors.Wrap(err, "unmarshal completion response")
	}
	return Response{Text: resp.Text, ModelIdentity: resp.ModelIdentity}, nil
}

// doRequest performs an HTTP call with exponential backoff retry on 429 and
// 5xx responses, mirroring the teacher's cursor.clientImpl.doRequest.
func (c *httpClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * retryBaseDelay
			c.logger.Debug("retrying llm request", "attempt", attempt, "delay", delay.String())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "build llm request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.apiKey, "")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &APIError{StatusCode: resp.StatusCode, RawBody: string(respBody)}
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, RawBody: string(respBody)}
		}

		return respBody, nil
	}
	return nil, errors.Wrap(lastErr, "llm request failed after retries")
}

// Mock is a Client that returns a fixed response and never makes a network
// call. The stage nodes do not use it in mock_mode; they short-circuit with
// their own fixtures (stage.callDrafter / stage.callReviewer).
type Mock struct {
	Text          string
	ModelIdentity string
	Err           error
}

func (m Mock) Complete(context.Context, Request) (Response, error) {
	if m.Err != nil {
		return Response{}, m.Err
	}
	return Response{Text: m.Text, ModelIdentity: m.ModelIdentity}, nil
}
