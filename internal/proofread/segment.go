package proofread

import (
	"cmp"
	"slices"
)

// Segment is one piece of a highlighted buffer. Correction is nil for plain
// text between error spans.
type Segment struct {
	Text       string      `json:"text"`
	Correction *Correction `json:"correction,omitempty"`
}

// Segments splits text into plain and error pieces ordered by position.
// Concatenating the Text of all segments reproduces text. Corrections that
// fall outside text or overlap an earlier one are rendered as plain text.
func Segments(text string, corrections []Correction) []Segment {
	sorted := slices.Clone(corrections)
	slices.SortStableFunc(sorted, func(a, b Correction) int { return cmp.Compare(a.Start, b.Start) })

	var segs []Segment
	pos := 0
	for i := range sorted {
		c := &sorted[i]
		if c.Start < pos || c.End > len(text) || c.End <= c.Start {
			continue
		}
		if c.Start > pos {
			segs = append(segs, Segment{Text: text[pos:c.Start]})
		}
		segs = append(segs, Segment{Text: text[c.Start:c.End], Correction: c})
		pos = c.End
	}
	if pos < len(text) {
		segs = append(segs, Segment{Text: text[pos:]})
	}
	return segs
}
