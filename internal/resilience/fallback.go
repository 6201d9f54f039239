package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker. The per-entry errors are joined to it.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Its Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// OnError, if set, is called for every entry that returns an error,
	// including [ErrCircuitOpen].
	OnError func(name string, err error)
}

// EntryState reports one entry's breaker state.
type EntryState struct {
	Name  string
	State State
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallbacks of the same type,
// each behind its own circuit breaker. Calls go to the first entry whose
// breaker admits them.
//
// Entries must all be added before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Primary returns the first entry's value.
func (fg *FallbackGroup[T]) Primary() T { return fg.entries[0].value }

// States returns each entry's breaker state in order.
func (fg *FallbackGroup[T]) States() []EntryState {
	out := make([]EntryState, len(fg.entries))
	for i := range fg.entries {
		out[i] = EntryState{Name: fg.entries[i].name, State: fg.entries[i].breaker.State()}
	}
	return out
}

// Available reports whether at least one entry's breaker would admit a call.
func (fg *FallbackGroup[T]) Available() bool {
	for i := range fg.entries {
		if fg.entries[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute calls fn with each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := Do(ctx, fg, func(ctx context.Context, _ string, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// Do calls fn with each entry of fg in order until one succeeds and returns
// that result. fn receives the entry name. Entries with an open breaker are
// skipped. Do stops early, returning the context error, once ctx is done.
// When every entry fails the error wraps [ErrAllFailed] and each entry's
// error.
func Do[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, string, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]

		var result R
		err := entry.breaker.Execute(ctx, func(ctx context.Context) error {
			var innerErr error
			result, innerErr = fn(ctx, entry.name, entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if fg.cfg.OnError != nil {
			fg.cfg.OnError(entry.name, err)
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
