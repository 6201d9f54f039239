package proofread

import "strings"

// Normalize validates raw records. A record whose original or corrected text
// is empty after trimming is dropped; both fields are trimmed on the ones
// that survive. Offsets are discarded.
func Normalize(raw []RawRecord) []Record {
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		original := strings.TrimSpace(r.Original)
		corrected := strings.TrimSpace(r.Corrected)
		if original == "" || corrected == "" {
			continue
		}
		out = append(out, Record{
			Original:  original,
			Corrected: corrected,
			Issue:     r.Issue,
		})
	}
	return out
}

// Dedupe collapses records reporting the same (original, corrected) pair,
// compared case-insensitively. The first record for a pair is kept and the
// first-seen order is preserved.
func Dedupe(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		key := dedupeKey(r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func dedupeKey(r Record) string {
	return strings.ToLower(r.Original) + "\x00" + strings.ToLower(r.Corrected)
}
