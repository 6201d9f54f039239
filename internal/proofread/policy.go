package proofread

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultPunctuation is the set of punctuation marks that end a token.
const DefaultPunctuation = ".,!?;:"

// Policy holds the token-boundary rules shared by the exact and the fuzzy
// location passes. The zero value is not usable; construct with [NewPolicy].
//
// A Policy is immutable and safe for concurrent use.
type Policy struct {
	punctuation string
}

// NewPolicy returns a Policy that treats whitespace and every rune in
// punctuation as a token boundary. An empty punctuation set selects
// [DefaultPunctuation].
func NewPolicy(punctuation string) *Policy {
	if punctuation == "" {
		punctuation = DefaultPunctuation
	}
	return &Policy{punctuation: punctuation}
}

// Punctuation returns the boundary punctuation set.
func (p *Policy) Punctuation() string { return p.punctuation }

// IsBoundary reports whether r separates tokens.
func (p *Policy) IsBoundary(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(p.punctuation, r)
}

// Strip removes leading and trailing boundary punctuation from word.
func (p *Policy) Strip(word string) string {
	return strings.Trim(word, p.punctuation)
}

// Expand grows s outward, one rune at a time, until the neighbouring rune on
// each side is a boundary or the buffer ends.
func (p *Policy) Expand(text string, s Span) Span {
	for s.Start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:s.Start])
		if p.IsBoundary(r) {
			break
		}
		s.Start -= size
	}
	for s.End < len(text) {
		r, size := utf8.DecodeRuneInString(text[s.End:])
		if p.IsBoundary(r) {
			break
		}
		s.End += size
	}
	return s
}

// Locate returns every occurrence of target in text, left to right.
//
// A single word is matched case-insensitively between word boundaries. When
// that finds nothing, the search is repeated with boundary punctuation
// stripped from the ends of target. Each match is then expanded to the full
// token it sits in. A target containing a space is a phrase: it is matched as
// a literal case-insensitive substring and never expanded.
//
// Locate returns nil when the target cannot be found.
func (p *Policy) Locate(text, target string) []Span {
	target = strings.TrimSpace(target)
	if target == "" || text == "" {
		return nil
	}
	phrase := strings.Contains(target, " ")

	spans := find(text, target, phrase)
	if len(spans) == 0 {
		stripped := p.Strip(target)
		if stripped == "" || stripped == target {
			return nil
		}
		spans = find(text, stripped, strings.Contains(stripped, " "))
	}
	if phrase {
		return spans
	}
	for i := range spans {
		spans[i] = p.Expand(text, spans[i])
	}
	return spans
}

// find returns the non-overlapping matches of target in text.
func find(text, target string, phrase bool) []Span {
	pattern := regexp.QuoteMeta(target)
	if !phrase {
		pattern = `\b` + pattern + `\b`
	}
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return nil
	}
	idx := re.FindAllStringIndex(text, -1)
	if len(idx) == 0 {
		return nil
	}
	spans := make([]Span, 0, len(idx))
	for _, m := range idx {
		if m[1] == m[0] {
			continue
		}
		spans = append(spans, Span{Start: m[0], End: m[1]})
	}
	return spans
}
