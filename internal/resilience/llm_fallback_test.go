package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm"
	llmmock "github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `[]`},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `[{"original":"x","corrected":"y"}]`},
	}

	fb := NewLLMFallback(primary, "dify", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `[]` {
		t.Fatalf("content = %q, want the primary's answer", resp.Content)
	}
	if len(primary.CompleteCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.CompleteCalls))
	}
	if len(secondary.CompleteCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.CompleteCalls))
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("dify: status 502")}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from openai"},
	}

	fb := NewLLMFallback(primary, "dify", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	req := llm.CompletionRequest{SystemPrompt: "check grammar", User: "u1"}
	resp, err := fb.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from openai" {
		t.Fatalf("content = %q, want %q", resp.Content, "from openai")
	}
	if got := secondary.CompleteCalls[0].Req; got.SystemPrompt != req.SystemPrompt || got.User != req.User {
		t.Errorf("fallback received %+v, want the original request", got)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errTest}, "a", FallbackConfig{})
	fb.AddFallback("b", &llmmock.Provider{CompleteErr: errTest})

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8192}}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 1}})

	if got := fb.Capabilities().ContextWindow; got != 8192 {
		t.Errorf("ContextWindow = %d, want 8192", got)
	}
}

func TestLLMFallback_Ready(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errTest}, "only", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})

	if err := fb.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() before failures = %v, want nil", err)
	}
	_, _ = fb.Complete(context.Background(), llm.CompletionRequest{})

	err := fb.Ready(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Ready() = %v, want ErrCircuitOpen", err)
	}
	if states := fb.States(); len(states) != 1 || states[0].State != StateOpen {
		t.Errorf("States() = %+v, want one open entry", states)
	}
}
