package proofread

import (
	"log/slog"

	"github.com/google/uuid"
)

// Stats counts what each pipeline stage kept and dropped for one check.
type Stats struct {
	// Parsed reports whether an array was recovered from the answer. It is
	// always true for [Engine.Check].
	Parsed bool

	Raw        int
	Malformed  int
	Duplicates int
	Unlocated  int
	Collisions int
	Accepted   int
}

// Dropped returns the number of records or occurrences discarded by each
// stage, keyed by stage name.
func (s Stats) Dropped() map[string]int {
	return map[string]int{
		"normalize": s.Malformed,
		"dedupe":    s.Duplicates,
		"locate":    s.Unlocated,
		"arbitrate": s.Collisions,
	}
}

// Result is the outcome of a check against one buffer.
type Result struct {
	// Records are the validated, deduplicated records in first-seen order.
	Records []Record

	// Corrections holds one entry per accepted occurrence, grouped by record
	// and left to right within a record.
	Corrections []Correction

	Stats Stats
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithPolicy sets the token-boundary policy. Default: [NewPolicy] with
// [DefaultPunctuation].
func WithPolicy(p *Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithIssueClassifier fills empty issue fields using fn, typically
// [ClassifyIssue]. Default: issues are passed through unchanged.
func WithIssueClassifier(fn func(original, corrected string) string) Option {
	return func(e *Engine) {
		e.classify = fn
	}
}

// WithIDGenerator overrides the correction ID source. Default: random UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// WithLogger sets the logger used for the debug trail of dropped records.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// Engine chains Normalize, Dedupe, Locate and Arbitrate. It holds no
// per-check state and is safe for concurrent use.
type Engine struct {
	policy   *Policy
	classify func(original, corrected string) string
	newID    func() string
	log      *slog.Logger
}

// NewEngine returns an Engine configured by opts.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		policy: NewPolicy(DefaultPunctuation),
		newID:  uuid.NewString,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Policy returns the engine's boundary policy.
func (e *Engine) Policy() *Policy { return e.policy }

// CheckAnswer extracts records from a raw model answer and checks them
// against text. An answer without a recoverable array yields an empty result.
func (e *Engine) CheckAnswer(text, answer string) Result {
	raw, ok := Extract(answer)
	if !ok {
		e.log.Debug("proofread: no error list in answer", "answer_len", len(answer))
		return Result{}
	}
	return e.Check(text, raw)
}

// Check turns raw records into pending corrections over text. Records that
// are malformed, duplicated or cannot be found are dropped, as are
// occurrences that collide with an earlier claim. Check never fails.
func (e *Engine) Check(text string, raw []RawRecord) Result {
	res := Result{Stats: Stats{Parsed: true, Raw: len(raw)}}

	normalized := Normalize(raw)
	res.Stats.Malformed = len(raw) - len(normalized)

	records := Dedupe(normalized)
	res.Stats.Duplicates = len(normalized) - len(records)

	if e.classify != nil {
		for i := range records {
			if records[i].Issue == "" {
				records[i].Issue = e.classify(records[i].Original, records[i].Corrected)
			}
		}
	}
	res.Records = records

	located := make([][]Span, len(records))
	for i, r := range records {
		located[i] = e.policy.Locate(text, r.Original)
		if len(located[i]) == 0 {
			res.Stats.Unlocated++
			e.log.Debug("proofread: word not found", "original", r.Original)
		}
	}

	occurrences, collisions := Arbitrate(located)
	res.Stats.Collisions = collisions

	res.Corrections = make([]Correction, 0, len(occurrences))
	for _, occ := range occurrences {
		r := records[occ.Record]
		c := Correction{
			ID:        e.newID(),
			Start:     occ.Start,
			End:       occ.End,
			Original:  text[occ.Start:occ.End],
			Corrected: r.Corrected,
			Issue:     r.Issue,
		}
		if c.Original != r.Original {
			c.Reported = r.Original
		}
		res.Corrections = append(res.Corrections, c)
	}
	res.Stats.Accepted = len(res.Corrections)

	if res.Stats.Malformed+res.Stats.Duplicates+res.Stats.Unlocated+res.Stats.Collisions > 0 {
		e.log.Debug("proofread: records dropped",
			"raw", res.Stats.Raw,
			"malformed", res.Stats.Malformed,
			"duplicates", res.Stats.Duplicates,
			"unlocated", res.Stats.Unlocated,
			"collisions", res.Stats.Collisions,
		)
	}
	return res
}
