package llm

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

	"skb/internal/config"
	"skb/internal/logging"
	"skb/internal/skberr"
)

const maxResponseBytes = 10 << 20

// Client sends chat completions to the endpoint pool with retries.
// Each attempt rotates to the next pool member, so a single bad
// endpoint cannot consume the whole retry budget.
type Client struct {
	pool   *Pool
	policy RetryPolicy
	http   *http.Client
	logger *logging.Logger

	// sleep is swapped out in tests for deterministic retry timing
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client from configuration
func NewClient(cfg config.LlmConfig, logger *logging.Logger) *Client {
	return &Client{
		pool:   NewPool(cfg.Endpoints),
		policy: NewRetryPolicy(cfg.Retry),
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		logger: logger.With("llm"),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pool exposes the endpoint pool, for status reporting
func (c *Client) Pool() *Pool {
	return c.pool
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends a system+user prompt and returns the raw model output.
// It retries transient failures up to the policy's budget, rotating
// endpoints between attempts.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			kind := classify(lastErr)
			delay := c.policy.Delay(kind, attempt)
			c.logger.Warn("retrying LLM call", map[string]interface{}{
				"attempt": attempt,
				"delayMs": delay.Milliseconds(),
				"error":   lastErr.Error(),
			})
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}

		ep, err := c.pool.Next()
		if err != nil {
			return "", err
		}

		content, err := c.call(ctx, ep, system, user)
		if err == nil {
			ep.markSuccess()
			return content, nil
		}

		kind := classify(err)
		if kind == failurePermanent {
			return "", err
		}
		if ep.Healthy() {
			c.logger.Warn("endpoint entered cooldown", map[string]interface{}{
				"endpoint": ep.Name,
				"error":    err.Error(),
			})
		}
		ep.markFailure(err.Error())
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", skberr.Wrap(skberr.LlmExhausted,
		fmt.Sprintf("gave up after %d retries", c.policy.MaxRetries), lastErr)
}

// CompleteJSON sends a prompt whose answer must be a JSON document and
// runs the extraction cascade over the raw output.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	raw, err := c.Complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	doc, ok := ExtractJSON(raw)
	if !ok {
		return "", skberr.Newf(skberr.FragmentParse,
			"model output contains no JSON document (%d bytes)", len(raw))
	}
	return doc, nil
}

// httpError carries the status code for retry classification
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	body := e.body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("HTTP %d: %s", e.status, body)
}

// parseError marks a response body that was not the expected shape
type parseError struct {
	cause error
}

func (e *parseError) Error() string {
	return fmt.Sprintf("unexpected response body: %v", e.cause)
}

func (c *Client) call(ctx context.Context, ep *Endpoint, system, user string) (string, error) {
	payload := chatRequest{
		Model:       ep.Model,
		MaxTokens:   ep.MaxTokens,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", skberr.Wrap(skberr.Internal, "failed to marshal chat request", err)
	}

	url := strings.TrimSuffix(ep.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", skberr.Wrap(skberr.Internal, "failed to build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to %s failed: %w", ep.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response from %s: %w", ep.Name, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", skberr.Newf(skberr.LlmAuth, "endpoint %s rejected credentials (HTTP %d)", ep.Name, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httpError{status: resp.StatusCode, body: string(data)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &parseError{cause: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &parseError{cause: errors.New("response has no choices")}
	}

	c.logger.Debug("LLM call completed", map[string]interface{}{
		"endpoint":         ep.Name,
		"elapsedMs":        time.Since(start).Milliseconds(),
		"promptTokens":     parsed.Usage.PromptTokens,
		"completionTokens": parsed.Usage.CompletionTokens,
		"totalTokens":      parsed.Usage.TotalTokens,
	})

	return parsed.Choices[0].Message.Content, nil
}

// classify maps an error to its retry behavior. Timeouts, network
// errors, rate limits, server errors and malformed response bodies are
// worth retrying; auth failures and other 4xx are not.
func classify(err error) failureKind {
	if err == nil {
		return failureNone
	}

	var he *httpError
	if errors.As(err, &he) {
		switch {
		case he.status == http.StatusTooManyRequests:
			return failureRateLimit
		case he.status >= 500:
			return failureTransient
		default:
			return failurePermanent
		}
	}

	var pe *parseError
	if errors.As(err, &pe) {
		return failureTransient
	}

	if skberr.HasCode(err, skberr.LlmAuth) || skberr.HasCode(err, skberr.EndpointPoolEmpty) {
		return failurePermanent
	}

	// Anything left is a transport failure: DNS, refused connection,
	// client timeout. All transient.
	return failureTransient
}
