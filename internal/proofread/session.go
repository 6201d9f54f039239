package proofread

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Request identifies one outstanding check. It captures the buffer the check
// ran against so that a result can be rejected once the buffer has moved on.
type Request struct {
	// Token increases monotonically per session.
	Token uint64

	// Revision is the buffer revision the check was issued against.
	Revision uint64

	// Text is the buffer content at issue time.
	Text string
}

// Snapshot is a consistent view of a session.
type Snapshot struct {
	Text        string       `json:"text"`
	Revision    uint64       `json:"revision"`
	Corrections []Correction `json:"corrections"`
}

// Session owns one document's text buffer and its pending corrections. All
// mutation goes through its methods, which serialize against each other, so
// readers never observe a buffer whose spans have not been shifted yet.
type Session struct {
	mu       sync.Mutex
	buffer   string
	revision uint64
	latest   uint64
	pending  []Correction
}

// NewSession returns a session over text with no pending corrections.
func NewSession(text string) *Session {
	return &Session{buffer: text}
}

// Text returns the current buffer.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// Pending returns a copy of the pending corrections.
func (s *Session) Pending() []Correction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// Snapshot returns the buffer, its revision and the pending corrections.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Text:        s.buffer,
		Revision:    s.revision,
		Corrections: slices.Clone(s.pending),
	}
}

// Begin issues a new request token. Any request issued earlier becomes
// stale.
func (s *Session) Begin() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	return Request{Token: s.latest, Revision: s.revision, Text: s.buffer}
}

// Resolve replaces the whole pending set with corrections computed for req.
// It returns [ErrStaleRequest] when a newer request was issued or the buffer
// changed after req was issued, and [ErrSpanDrift] when a correction does
// not match req's text; in both cases the pending set is left as it was.
func (s *Session) Resolve(req Request, corrections []Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Token != s.latest || req.Revision != s.revision {
		return fmt.Errorf("proofread: resolve request %d (latest %d, revision %d/%d): %w",
			req.Token, s.latest, req.Revision, s.revision, ErrStaleRequest)
	}
	if err := validate(s.buffer, corrections); err != nil {
		return fmt.Errorf("proofread: resolve request %d: %w", req.Token, err)
	}
	s.pending = slices.Clone(corrections)
	return nil
}

// SetText replaces the buffer, discards all pending corrections and
// invalidates in-flight requests.
func (s *Session) SetText(text string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = text
	s.revision++
	s.pending = nil
	return s.snapshotLocked()
}

// Apply replaces the span of the pending correction id with its trimmed
// replacement, shifts every pending span that starts at or after the end of
// the edit by the length difference, and removes the correction from the
// pending set. In-flight requests become stale.
//
// Apply returns [ErrUnknownCorrection] if id is not pending and
// [ErrSpanDrift] if the span no longer covers the correction's token.
func (s *Session) Apply(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyLocked(id); err != nil {
		return Snapshot{}, err
	}
	return s.snapshotLocked(), nil
}

// ApplyAll applies every pending correction, right to left, and returns the
// resulting snapshot and the number applied. It stops at the first failure.
func (s *Session) ApplyAll() (Snapshot, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := slices.Clone(s.pending)
	slices.SortFunc(order, func(a, b Correction) int { return b.Start - a.Start })

	applied := 0
	for _, c := range order {
		if err := s.applyLocked(c.ID); err != nil {
			return s.snapshotLocked(), applied, err
		}
		applied++
	}
	return s.snapshotLocked(), applied, nil
}

// Dismiss removes a pending correction without editing the buffer.
func (s *Session) Dismiss(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return Snapshot{}, fmt.Errorf("proofread: dismiss %s: %w", id, ErrUnknownCorrection)
	}
	s.pending = slices.Delete(s.pending, i, i+1)
	return s.snapshotLocked(), nil
}

func (s *Session) applyLocked(id string) error {
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("proofread: apply %s: %w", id, ErrUnknownCorrection)
	}
	c := s.pending[i]
	if !covers(s.buffer, c) {
		return fmt.Errorf("proofread: apply %s at [%d,%d): %w", id, c.Start, c.End, ErrSpanDrift)
	}

	replacement := strings.TrimSpace(c.Corrected)
	s.buffer = s.buffer[:c.Start] + replacement + s.buffer[c.End:]
	delta := len(replacement) - (c.End - c.Start)

	s.pending = slices.Delete(s.pending, i, i+1)
	if delta != 0 {
		for j := range s.pending {
			if s.pending[j].Start >= c.End {
				s.pending[j].Start += delta
				s.pending[j].End += delta
			}
		}
	}
	s.revision++
	return nil
}

func (s *Session) indexLocked(id string) int {
	return slices.IndexFunc(s.pending, func(c Correction) bool { return c.ID == id })
}

// covers reports whether c's span is in range and still holds c's token.
func covers(buffer string, c Correction) bool {
	if c.Start < 0 || c.End < c.Start || c.End > len(buffer) {
		return false
	}
	return buffer[c.Start:c.End] == c.Original
}

// validate checks that every correction covers its token and that no two
// spans overlap.
func validate(buffer string, corrections []Correction) error {
	for i, c := range corrections {
		if !covers(buffer, c) {
			return fmt.Errorf("correction %s at [%d,%d): %w", c.ID, c.Start, c.End, ErrSpanDrift)
		}
		for _, o := range corrections[:i] {
			if c.Span().Overlaps(o.Span()) {
				return fmt.Errorf("corrections %s and %s overlap: %w", o.ID, c.ID, ErrSpanDrift)
			}
		}
	}
	return nil
}
