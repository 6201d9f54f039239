package llmcheck_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/liutong011025-cloud/CwritevV7/internal/observe"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread/llmcheck"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm/mock"
)

func newChecker(t *testing.T, p llm.Provider, opts ...llmcheck.Option) (*llmcheck.Checker, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	n := 0
	engine := proofread.NewEngine(proofread.WithIDGenerator(func() string {
		n++
		return "c" + string(rune('0'+n))
	}))
	opts = append([]llmcheck.Option{llmcheck.WithMetrics(m)}, opts...)
	return llmcheck.New(p, engine, opts...), reader
}

func answer(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestBuildRequest_ContextBlocks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     llmcheck.Request
		want    []string
		wantNot []string
	}{
		{
			name: "letter defaults",
			req:  llmcheck.Request{Text: "Dear Sam", ContentType: llmcheck.Letter},
			want: []string{"Letter to: Recipient\nOccasion: General", "Letter content:\nDear Sam"},
		},
		{
			name: "letter with context",
			req:  llmcheck.Request{Text: "Dear Sam", ContentType: llmcheck.Letter, Recipient: "Sam", Occasion: "Birthday"},
			want: []string{"Letter to: Sam\nOccasion: Birthday"},
		},
		{
			name: "empty type means letter",
			req:  llmcheck.Request{Text: "Dear Sam"},
			want: []string{"Review the following letter.", "Letter content:"},
		},
		{
			name: "story",
			req:  llmcheck.Request{Text: "Once", ContentType: llmcheck.Story},
			want: []string{"This is a creative story.", "Story content:\nOnce"},
		},
		{
			name: "review defaults",
			req:  llmcheck.Request{Text: "Good book", ContentType: llmcheck.Review},
			want: []string{"Book Review Type: General\nBook Title: Unknown", "Review content:"},
		},
		{
			name: "review with context",
			req:  llmcheck.Request{Text: "Good book", ContentType: llmcheck.Review, BookTitle: "Holes", ReviewType: "Opinion"},
			want: []string{"Book Review Type: Opinion\nBook Title: Holes"},
		},
		{
			name:    "unknown type has no context",
			req:     llmcheck.Request{Text: "Hello", ContentType: "poem"},
			want:    []string{"Poem content:\nHello"},
			wantNot: []string{"Letter to:", "Book Title:", "creative story"},
		},
	}

	c, _ := newChecker(t, answer("[]"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := c.BuildRequest(tt.req)
			if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
				t.Fatalf("messages = %+v, want one user message", req.Messages)
			}
			msg := req.Messages[0].Content
			for _, w := range tt.want {
				if !strings.Contains(msg, w) {
					t.Errorf("message missing %q\ngot:\n%s", w, msg)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(msg, w) {
					t.Errorf("message unexpectedly contains %q", w)
				}
			}
			if !strings.Contains(req.SystemPrompt, "JSON array") {
				t.Error("system prompt does not describe the answer format")
			}
		})
	}
}

func TestBuildRequest_InputsAndSettings(t *testing.T) {
	t.Parallel()

	c, _ := newChecker(t, answer("[]"), llmcheck.WithTemperature(0.3), llmcheck.WithMaxTokens(512))
	req := c.BuildRequest(llmcheck.Request{
		Text:        "Dear Sam",
		ContentType: llmcheck.Letter,
		Recipient:   "Sam",
		User:        "u-1",
	})

	if req.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", req.Temperature)
	}
	if req.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d, want 512", req.MaxTokens)
	}
	if req.User != "u-1" {
		t.Errorf("User = %q, want u-1", req.User)
	}
	want := map[string]string{
		"content_type": "letter",
		"recipient":    "Sam",
		"occasion":     "",
		"bookTitle":    "",
		"reviewType":   "",
		"content":      "Dear Sam",
	}
	for k, v := range want {
		got, ok := req.Metadata[k]
		if !ok || got != v {
			t.Errorf("Metadata[%q] = %q (present %v), want %q", k, got, ok, v)
		}
	}
}

func TestCheck_LocatesReportedWords(t *testing.T) {
	t.Parallel()

	p := answer("Here you go:\n```json\n" +
		`[{"start":0,"end":0,"original":"go","corrected":"goes","issue":"Subject-verb agreement"},` +
		`{"start":0,"end":0,"original":"tresure","corrected":"treasure","issue":"Spelling error"}]` +
		"\n```")
	c, _ := newChecker(t, p)

	text := "She go to find tresure. They go home."
	res, err := c.Check(context.Background(), llmcheck.Request{Text: text, ContentType: llmcheck.Story})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(p.CompleteCalls))
	}
	if got := len(res.Records); got != 2 {
		t.Errorf("records = %d, want 2", got)
	}
	if got := len(res.Corrections); got != 3 {
		t.Fatalf("corrections = %d, want 3", got)
	}
	for _, cr := range res.Corrections {
		if text[cr.Start:cr.End] != cr.Original {
			t.Errorf("span [%d,%d) = %q, want %q", cr.Start, cr.End, text[cr.Start:cr.End], cr.Original)
		}
	}
	if res.Answer == "" {
		t.Error("raw answer not kept")
	}
}

func TestCheck_UnparseableAnswerDegrades(t *testing.T) {
	t.Parallel()

	c, reader := newChecker(t, answer("I could not find any problems worth reporting."))
	res, err := c.Check(context.Background(), llmcheck.Request{Text: "Fine text."})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Stats.Parsed {
		t.Error("Parsed = true, want false")
	}
	if len(res.Corrections) != 0 {
		t.Errorf("corrections = %d, want 0", len(res.Corrections))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !hasDataPoint(rm, "cwrite.proofread.dropped", "stage", "extract") {
		t.Error("extract drop not recorded")
	}
}

func TestCheck_ReasoningBlockIgnored(t *testing.T) {
	t.Parallel()

	c, _ := newChecker(t, answer(`<think>Maybe [x] is wrong?</think>[{"original":"recieve","corrected":"receive"}]`))
	res, err := c.Check(context.Background(), llmcheck.Request{Text: "I recieve mail."})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(res.Corrections) != 1 || res.Corrections[0].Corrected != "receive" {
		t.Fatalf("corrections = %+v, want one receive correction", res.Corrections)
	}
}

func TestCheck_EmptyText(t *testing.T) {
	t.Parallel()

	p := answer("[]")
	c, _ := newChecker(t, p)
	_, err := c.Check(context.Background(), llmcheck.Request{Text: "  \n\t"})
	if !errors.Is(err, llmcheck.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
	if len(p.CompleteCalls) != 0 {
		t.Errorf("Complete called %d times for empty text", len(p.CompleteCalls))
	}
}

func TestCheck_ProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	p := &mock.Provider{CompleteErr: boom}
	c, reader := newChecker(t, p, llmcheck.WithProviderName("dify"))

	_, err := c.Check(context.Background(), llmcheck.Request{Text: "Some text."})
	if !errors.Is(err, boom) || !errors.Is(err, llmcheck.ErrCompletion) {
		t.Fatalf("err = %v, want %v wrapped in ErrCompletion", err, boom)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !hasDataPoint(rm, "cwrite.provider.errors", "provider", "dify") {
		t.Error("provider error not recorded")
	}
}

func TestCheck_NilResponse(t *testing.T) {
	t.Parallel()

	c, _ := newChecker(t, &mock.Provider{})
	res, err := c.Check(context.Background(), llmcheck.Request{Text: "Some text."})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(res.Corrections) != 0 {
		t.Errorf("corrections = %d, want 0", len(res.Corrections))
	}
}

func hasDataPoint(rm metricdata.ResourceMetrics, name, key, value string) bool {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return false
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value && dp.Value > 0 {
					return true
				}
			}
		}
	}
	return false
}
