// Package proofread turns loosely specified grammar-error reports into
// non-overlapping spans over the exact source text and applies them one at a
// time to a mutable buffer.
//
// A language model names only the offending word and its replacement. Any
// offsets it returns are ignored: the [Engine] finds every occurrence of the
// word itself (exact first, then with surrounding punctuation stripped),
// expands each match to the full token, and lets the first claim on a region
// of text win. The resulting [Correction] values are owned by a [Session],
// which keeps all remaining spans valid as corrections are applied.
//
// Every stage before the [Session] is a pure function over immutable input
// and may run on any goroutine.
package proofread

import (
	"errors"
	"strings"
)

var (
	// ErrUnknownCorrection is returned when a correction ID is not pending in
	// the session.
	ErrUnknownCorrection = errors.New("proofread: unknown correction")

	// ErrSpanDrift is returned when a correction's span no longer covers the
	// token it was located on. It means an offset was shifted incorrectly
	// somewhere upstream; the buffer is left untouched.
	ErrSpanDrift = errors.New("proofread: span no longer matches buffer")

	// ErrStaleRequest is returned when a check result arrives for a request
	// that has since been superseded.
	ErrStaleRequest = errors.New("proofread: stale request")
)

// RawRecord is one entry of a model answer before validation. Start and End
// are carried for logging only and are never used to locate text.
type RawRecord struct {
	Original  string
	Corrected string
	Issue     string
	Start     float64
	End       float64
}

// Record is a validated error report with trimmed, non-empty fields.
type Record struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Issue     string `json:"issue"`
}

// Phrase reports whether the record targets a multi-word phrase. Phrases are
// matched as literal substrings and never expanded to token boundaries.
func (r Record) Phrase() bool {
	return strings.Contains(r.Original, " ")
}

// Span is a half-open byte range [Start, End) into a buffer.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Occurrence is a located, boundary-expanded match of a record.
type Occurrence struct {
	// Record is the index of the source record in the deduplicated list.
	Record int
	Span
}

// Correction is a located error awaiting application. ID is stable for the
// lifetime of the correction; Start and End move as earlier corrections in
// the same buffer are applied.
type Correction struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`

	// Original is the buffer token the span covers.
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Issue     string `json:"issue"`

	// Reported is the word as the model reported it, when it differs from
	// the located token.
	Reported string `json:"reported,omitempty"`
}

// Span returns the correction's current span.
func (c Correction) Span() Span {
	return Span{Start: c.Start, End: c.End}
}
