package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several model
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends req to the first healthy backend. A backend that fails is
// skipped in favour of the next one.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, f.group, func(ctx context.Context, _ string, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the primary's capabilities.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// States returns each backend's breaker state, primary first.
func (f *LLMFallback) States() []EntryState { return f.group.States() }

// Ready returns an error when every backend's breaker is open. It suits a
// readiness probe.
func (f *LLMFallback) Ready(context.Context) error {
	if f.group.Available() {
		return nil
	}
	var errs []error
	for _, s := range f.group.States() {
		errs = append(errs, fmt.Errorf("%s: %s", s.Name, s.State))
	}
	return fmt.Errorf("%w: %w", ErrCircuitOpen, errors.Join(errs...))
}
