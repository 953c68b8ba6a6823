package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"skb/internal/config"
	"skb/internal/logging"
	"skb/internal/skberr"
)

func chatOK(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestClient(t *testing.T, endpoints ...config.EndpointConfig) *Client {
	t.Helper()
	cfg := config.LlmConfig{
		Endpoints: endpoints,
		Retry:     config.RetryConfig{MaxRetries: 3, BaseDelayMs: 10, MaxDelayMs: 100},
		TimeoutMs: 5000,
	}
	c := NewClient(cfg, logging.Discard())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func endpoint(name, url string) config.EndpointConfig {
	return config.EndpointConfig{Name: name, BaseURL: url, Model: "glm-4", Enabled: true}
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(chatOK("the handler validates input"))
	defer srv.Close()

	c := newTestClient(t, endpoint("a", srv.URL))
	got, err := c.Complete(context.Background(), "sys", "describe")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "the handler validates input" {
		t.Errorf("content = %q", got)
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream overloaded", http.StatusBadGateway)
			return
		}
		chatOK("recovered")(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, endpoint("a", srv.URL))
	got, err := c.Complete(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "recovered" {
		t.Errorf("content = %q", got)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestCompleteDoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, endpoint("a", srv.URL))
	_, err := c.Complete(context.Background(), "sys", "usr")
	if err == nil {
		t.Fatal("expected error")
	}
	if !skberr.HasCode(err, skberr.LlmAuth) {
		t.Errorf("code = %v, want LLM_AUTH", skberr.CodeOf(err))
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry)", calls.Load())
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, endpoint("a", srv.URL))
	_, err := c.Complete(context.Background(), "sys", "usr")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !skberr.HasCode(err, skberr.LlmExhausted) {
		t.Errorf("code = %v, want LLM_EXHAUSTED", skberr.CodeOf(err))
	}
}

func TestCompleteRotatesEndpoints(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	// a always fails, b always succeeds; round-robin must reach b on
	// the second attempt even though a never recovers.
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aCalls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bCalls.Add(1)
		chatOK("from b")(w, r)
	}))
	defer srvB.Close()

	c := newTestClient(t, endpoint("a", srvA.URL), endpoint("b", srvB.URL))
	got, err := c.Complete(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "from b" {
		t.Errorf("content = %q", got)
	}
	if aCalls.Load() != 1 || bCalls.Load() != 1 {
		t.Errorf("calls a=%d b=%d, want 1 each", aCalls.Load(), bCalls.Load())
	}
}

func TestUnhealthyEndpointStaysInRotation(t *testing.T) {
	p := NewPool([]config.EndpointConfig{
		{Name: "a", BaseURL: "http://a", Enabled: true},
		{Name: "b", BaseURL: "http://b", Enabled: true},
	})
	first, _ := p.Next()
	first.markFailure("simulated outage")

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		ep, err := p.Next()
		if err != nil {
			t.Fatal(err)
		}
		seen[ep.Name]++
	}
	if seen["a"] != 2 || seen["b"] != 2 {
		t.Errorf("rotation = %v, unhealthy endpoint must keep its turns", seen)
	}
}

func TestEmptyPool(t *testing.T) {
	c := newTestClient(t, config.EndpointConfig{Name: "off", BaseURL: "http://x", Enabled: false})
	_, err := c.Complete(context.Background(), "sys", "usr")
	if !skberr.HasCode(err, skberr.EndpointPoolEmpty) {
		t.Errorf("code = %v, want ENDPOINT_POOL_EMPTY", skberr.CodeOf(err))
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Second, MaxDelay: 60 * time.Second}

	tests := []struct {
		kind  failureKind
		retry int
		want  time.Duration
	}{
		{failureTransient, 1, 10 * time.Second},
		{failureTransient, 3, 10 * time.Second},
		{failureRateLimit, 1, 10 * time.Second},
		{failureRateLimit, 2, 20 * time.Second},
		{failureRateLimit, 3, 40 * time.Second},
		{failureRateLimit, 4, 60 * time.Second}, // capped
	}
	for _, tc := range tests {
		if got := p.Delay(tc.kind, tc.retry); got != tc.want {
			t.Errorf("Delay(%v, %d) = %v, want %v", tc.kind, tc.retry, got, tc.want)
		}
	}
}

func TestCompleteJSON(t *testing.T) {
	srv := httptest.NewServer(chatOK("Sure! ```json\n{\"summary\": \"ok\"}\n```"))
	defer srv.Close()

	c := newTestClient(t, endpoint("a", srv.URL))
	doc, err := c.CompleteJSON(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("CompleteJSON() error: %v", err)
	}
	if doc != `{"summary": "ok"}` {
		t.Errorf("doc = %q", doc)
	}
}

func TestCompleteJSONNoDocument(t *testing.T) {
	srv := httptest.NewServer(chatOK("I cannot answer that."))
	defer srv.Close()

	c := newTestClient(t, endpoint("a", srv.URL))
	_, err := c.CompleteJSON(context.Background(), "sys", "usr")
	if err == nil {
		t.Fatal("expected error for prose-only output")
	}
	if !skberr.HasCode(err, skberr.FragmentParse) {
		t.Errorf("code = %v, want FRAGMENT_PARSE", skberr.CodeOf(err))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want failureKind
	}{
		{&httpError{status: 429}, failureRateLimit},
		{&httpError{status: 500}, failureTransient},
		{&httpError{status: 400}, failurePermanent},
		{&parseError{cause: fmt.Errorf("bad json")}, failureTransient},
		{skberr.New(skberr.LlmAuth, "rejected"), failurePermanent},
		{fmt.Errorf("dial tcp: connection refused"), failureTransient},
	}
	for _, tc := range tests {
		if got := classify(tc.err); got != tc.want {
			t.Errorf("classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
