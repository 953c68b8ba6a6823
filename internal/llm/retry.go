package llm

import (
	"time"

	"skb/internal/config"
)

// failureKind classifies an LLM call failure for retry purposes
type failureKind int

const (
	failureNone failureKind = iota
	// failureRateLimit is HTTP 429; retried with exponential backoff
	failureRateLimit
	// failureTransient covers timeouts, network errors, 5xx responses
	// and unparseable response bodies; retried with the base delay
	failureTransient
	// failurePermanent covers auth rejections and other client errors;
	// never retried
	failurePermanent
)

// RetryPolicy bounds the retry loop around a single logical LLM call
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NewRetryPolicy builds a policy from configuration
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.MaxDelayMs) * time.Millisecond,
	}
}

// Delay returns how long to wait before retry number retry (1-based).
// Rate limits back off exponentially; everything else retries after the
// flat base delay because the next attempt lands on a different
// endpoint anyway.
func (p RetryPolicy) Delay(kind failureKind, retry int) time.Duration {
	if kind != failureRateLimit {
		return p.BaseDelay
	}
	delay := p.BaseDelay * time.Duration(1<<uint(retry-1))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
