// Package generator implements GeneratorPort: a narrow, mockable interface
// over a text-generation model used by the context synthesizer.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docvault/docvault/internal/errors"
)

// Options configures a single generate call.
type Options struct {
	Temperature float64
	TopP        float64
	NumPredict  int
}

// Port is the core's view of a text-generation backend: generate(model,
// prompt, opts) -> string, non-streaming.
type Port interface {
	Generate(ctx context.Context, model, prompt string, opts Options) (string, error)
	Available(ctx context.Context) bool
	Close() error
}

// OllamaPort implements Port against an Ollama /api/generate endpoint.
type OllamaPort struct {
	client  *http.Client
	host    string
	breaker *errors.CircuitBreaker
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateResponse is the Ollama /api/generate response body.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaPort creates a Port backed by the given Ollama host
// (e.g. "http://localhost:11434"), using timeout for each generate call.
func NewOllamaPort(host string, timeout time.Duration) *OllamaPort {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OllamaPort{
		client: &http.Client{Timeout: timeout},
		host:   host,
		breaker: errors.NewCircuitBreaker("generator-ollama",
			errors.WithMaxFailures(5), errors.WithResetTimeout(30*time.Second)),
	}
}

// generatorRetryConfig retries transport-level failures (connection
// refused, DNS, timeout) a couple of times; it never retries an
// application-level non-200 response, since that's the model rejecting
// the request rather than the backend being transiently unreachable.
var generatorRetryConfig = errors.RetryConfig{
	MaxRetries:   2,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     1 * time.Second,
	Multiplier:   2.0,
}

// Generate issues a non-streaming generate request and returns the raw
// model output, uncleaned.
func (o *OllamaPort) Generate(ctx context.Context, model, prompt string, opts Options) (string, error) {
	reqBody := generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.NumPredict,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.GeneratorFailure("marshal generate request", err)
	}

	if !o.breaker.Allow() {
		return "", errors.GeneratorFailure("generator circuit open", errors.ErrCircuitOpen)
	}

	url := o.host + "/api/generate"
	resp, err := errors.RetryWithResult(ctx, generatorRetryConfig, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		return o.client.Do(req)
	})
	if err != nil {
		o.breaker.RecordFailure()
		return "", errors.GeneratorFailure("execute generate request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		o.breaker.RecordFailure()
		respBody, _ := io.ReadAll(resp.Body)
		return "", errors.GeneratorFailure(
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(respBody)), nil)
	}
	o.breaker.RecordSuccess()

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", errors.GeneratorFailure("decode generate response", err)
	}

	return genResp.Response, nil
}

// Available reports whether the Ollama host is reachable.
func (o *OllamaPort) Available(ctx context.Context) bool {
	url := o.host + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections held by the underlying transport.
func (o *OllamaPort) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
