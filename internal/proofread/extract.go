package proofread

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// reasoningBlockRe matches the scratchpad blocks some models emit before
// their answer. Brackets inside them must not be mistaken for the result.
var reasoningBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>|<thinking>.*?</thinking>|<reasoning>.*?</reasoning>`)

// fenceLineRe matches a Markdown code fence line such as "```json".
var fenceLineRe = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_-]*[ \t]*$")

// Extract recovers the raw error records from a model answer that may wrap
// a JSON array in prose. Candidates are tried in order:
//
//  1. every balanced [...] substring, leftmost first;
//  2. the span from the first '[' to the last ']';
//  3. the whole answer.
//
// The first candidate that decodes as a JSON array holding at least one
// object wins. An array without objects, such as "[]" or a citation like
// "[1]" in the prose, is kept only as a fallback for when no later candidate
// holds records. Each candidate is also retried with trailing commas
// removed. Extract never fails: the boolean reports whether any array was
// recovered, and an answer without one yields no records.
func Extract(answer string) ([]RawRecord, bool) {
	s := cleanAnswer(answer)

	var (
		fallback    []RawRecord
		hasFallback bool
	)
	// try reports the records of candidate when it holds any objects, and
	// remembers the first object-free array as the fallback.
	try := func(candidate string) ([]RawRecord, bool) {
		recs, objects, ok := decodeArray(candidate)
		if !ok {
			return nil, false
		}
		if objects {
			return recs, true
		}
		if !hasFallback {
			fallback, hasFallback = recs, true
		}
		return nil, false
	}

	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		end := matchBracket(s, i)
		if end < 0 {
			continue
		}
		if recs, ok := try(s[i : end+1]); ok {
			return recs, true
		}
	}

	if first, last := strings.IndexByte(s, '['), strings.LastIndexByte(s, ']'); first >= 0 && last > first {
		if recs, ok := try(s[first : last+1]); ok {
			return recs, true
		}
	}

	if recs, ok := try(s); ok {
		return recs, true
	}
	return fallback, hasFallback
}

// cleanAnswer removes reasoning blocks and Markdown fence lines.
func cleanAnswer(s string) string {
	s = reasoningBlockRe.ReplaceAllString(s, "")
	s = fenceLineRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// matchBracket returns the index of the ']' closing the '[' at open, or -1.
// Brackets and braces inside JSON string literals are not counted.
func matchBracket(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeArray decodes s as a JSON array of records. objects reports whether
// any element is a JSON object.
func decodeArray(s string) (recs []RawRecord, objects bool, ok bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(s), &elems); err != nil {
		repaired := stripTrailingCommas(s)
		if repaired == s {
			return nil, false, false
		}
		if err := json.Unmarshal([]byte(repaired), &elems); err != nil {
			return nil, false, false
		}
	}
	if elems == nil {
		// A literal null is not an array.
		return nil, false, false
	}

	recs = make([]RawRecord, 0, len(elems))
	for _, e := range elems {
		if isObject(e) {
			objects = true
		}
		recs = append(recs, decodeRecord(e))
	}
	return recs, objects, true
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimLeft(raw, " \t\r\n")
	return len(t) > 0 && t[0] == '{'
}

// decodeRecord converts one array element. Elements that are not objects,
// and fields of the wrong type, decode to zero values so that normalization
// drops them instead of failing the whole answer.
func decodeRecord(raw json.RawMessage) RawRecord {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return RawRecord{}
	}
	return RawRecord{
		Original:  stringField(fields, "original"),
		Corrected: stringField(fields, "corrected"),
		Issue:     stringField(fields, "issue"),
		Start:     numberField(fields, "start"),
		End:       numberField(fields, "end"),
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

// stripTrailingCommas removes commas that directly precede a closing
// bracket or brace, outside string literals.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\r' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == ']' || s[j] == '}') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
