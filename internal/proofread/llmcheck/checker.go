// Package llmcheck runs grammar checks through a language model.
//
// The [Checker] frames the text for its content type, sends it to an
// [llm.Provider] and feeds the raw answer through a [proofread.Engine]. A
// transport failure is an error; an answer that holds no usable error list is
// not, and yields a result with no corrections.
package llmcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liutong011025-cloud/CwritevV7/internal/observe"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 2048
)

var (
	// ErrEmptyText is returned when the text to check is blank.
	ErrEmptyText = errors.New("llmcheck: text is empty")

	// ErrCompletion wraps every failure to get an answer from the provider.
	ErrCompletion = errors.New("llmcheck: completion failed")
)

// Request is one piece of writing to check.
type Request struct {
	Text        string
	ContentType ContentType

	// Letter context.
	Recipient string
	Occasion  string

	// Review context.
	BookTitle  string
	ReviewType string

	// User is forwarded to providers that attribute requests per user.
	User string
}

// Result is the outcome of one model-backed check.
type Result struct {
	proofread.Result

	// Answer is the model's raw reply.
	Answer string

	// Usage is the token accounting reported by the provider.
	Usage llm.Usage

	// Duration covers the model call and the engine pass.
	Duration time.Duration
}

// Option is a functional option for configuring a [Checker].
type Option func(*Checker)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Checker) {
		c.temperature = temp
	}
}

// WithMaxTokens caps the answer length. Default: 2048.
func WithMaxTokens(n int) Option {
	return func(c *Checker) {
		c.maxTokens = n
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithProviderName sets the provider label used in metrics. Default: "llm".
func WithProviderName(name string) Option {
	return func(c *Checker) {
		c.providerName = name
	}
}

// Checker is safe for concurrent use.
type Checker struct {
	llm          llm.Provider
	engine       *proofread.Engine
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
	providerName string
}

// New returns a Checker that asks provider for errors and locates them with
// engine.
func New(provider llm.Provider, engine *proofread.Engine, opts ...Option) *Checker {
	c := &Checker{
		llm:          provider,
		engine:       engine,
		temperature:  defaultTemperature,
		maxTokens:    defaultMaxTokens,
		providerName: "llm",
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Engine returns the engine that locates the model's records.
func (c *Checker) Engine() *proofread.Engine { return c.engine }

// BuildRequest returns the completion request sent for req. The content type
// defaults to [DefaultContentType].
func (c *Checker) BuildRequest(req Request) llm.CompletionRequest {
	if req.ContentType == "" {
		req.ContentType = DefaultContentType
	}
	return llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildUserMessage(req)},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		User:        req.User,
		Metadata:    inputs(req),
	}
}

// Check asks the model for errors in req.Text and returns the corrections
// located in it. Offsets in the result index req.Text.
func (c *Checker) Check(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, ErrEmptyText
	}
	if req.ContentType == "" {
		req.ContentType = DefaultContentType
	}

	ctx, span := observe.StartSpan(ctx, "llmcheck.Check",
		trace.WithAttributes(
			observe.Attr("content_type", string(req.ContentType)),
			observe.Attr("provider", c.providerName),
		),
	)
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	resp, err := c.llm.Complete(ctx, c.BuildRequest(req))
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, c.providerName, "error")
		c.metrics.RecordProviderError(ctx, c.providerName)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return Result{}, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, "ok")

	var out Result
	if resp != nil {
		out.Answer = resp.Content
		out.Usage = resp.Usage
	}
	out.Result = c.engine.CheckAnswer(req.Text, out.Answer)
	out.Duration = time.Since(start)

	if !out.Stats.Parsed {
		c.metrics.RecordDropped(ctx, "extract", 1)
		log.Debug("llmcheck: answer holds no error list", "answer", truncate(out.Answer, 200))
	}
	for stage, n := range out.Stats.Dropped() {
		c.metrics.RecordDropped(ctx, stage, n)
	}
	c.metrics.CorrectionsFound.Add(ctx, int64(len(out.Corrections)))

	span.SetAttributes(
		attribute.Int("raw_records", out.Stats.Raw),
		attribute.Int("corrections", len(out.Corrections)),
	)
	log.Debug("llmcheck: check done",
		"content_type", req.ContentType,
		"raw", out.Stats.Raw,
		"corrections", len(out.Corrections),
		"duration", out.Duration,
	)
	return out, nil
}

// truncate returns at most n bytes of s, cut on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
