// Package llm implements the resilient LLM client: a round-robin
// endpoint pool, a bounded retry policy and a JSON extraction cascade
// for model output that only approximates JSON.
package llm

import (
	"sync"
	"sync/atomic"

	"skb/internal/config"
	"skb/internal/skberr"
)

// Endpoint is one member of the LLM pool
type Endpoint struct {
	Name      string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int

	// healthy is advisory only. A failing endpoint stays in the
	// rotation; the flag just changes how failures are logged.
	healthy atomic.Bool

	mu          sync.Mutex
	failures    int
	lastFailure string
}

// NewEndpoint builds an endpoint from configuration
func NewEndpoint(cfg config.EndpointConfig) *Endpoint {
	ep := &Endpoint{
		Name:      cfg.Name,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	}
	ep.healthy.Store(true)
	return ep
}

// Healthy reports the advisory health flag
func (e *Endpoint) Healthy() bool {
	return e.healthy.Load()
}

// markFailure records a failure and flips the advisory flag
func (e *Endpoint) markFailure(reason string) {
	e.healthy.Store(false)
	e.mu.Lock()
	e.failures++
	e.lastFailure = reason
	e.mu.Unlock()
}

// markSuccess restores the advisory flag
func (e *Endpoint) markSuccess() {
	e.healthy.Store(true)
}

// Stats returns the failure count and last failure reason
func (e *Endpoint) Stats() (int, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures, e.lastFailure
}

// Pool rotates requests across endpoints. Every enabled endpoint stays
// in the rotation regardless of its health flag, so a recovered service
// is picked up again without any probing.
type Pool struct {
	endpoints []*Endpoint
	next      atomic.Uint64
}

// NewPool builds a pool from the enabled endpoints in the configuration
func NewPool(cfgs []config.EndpointConfig) *Pool {
	p := &Pool{}
	for _, c := range cfgs {
		if c.Enabled {
			p.endpoints = append(p.endpoints, NewEndpoint(c))
		}
	}
	return p
}

// Next returns the next endpoint in round-robin order
func (p *Pool) Next() (*Endpoint, error) {
	if len(p.endpoints) == 0 {
		return nil, skberr.New(skberr.EndpointPoolEmpty, "no enabled LLM endpoints configured")
	}
	n := p.next.Add(1) - 1
	return p.endpoints[n%uint64(len(p.endpoints))], nil
}

// Size returns the number of endpoints in the rotation
func (p *Pool) Size() int {
	return len(p.endpoints)
}

// Endpoints returns the pool members, for status reporting
func (p *Pool) Endpoints() []*Endpoint {
	return p.endpoints
}
