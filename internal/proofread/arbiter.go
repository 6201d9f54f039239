package proofread

// Arbiter hands out non-overlapping spans. The first occurrence to claim a
// region of text wins; any later occurrence that overlaps a claimed span is
// rejected, whichever record it came from.
//
// An Arbiter is not safe for concurrent use.
type Arbiter struct {
	claimed []Span
}

// Claim records s and reports true if it overlaps no earlier claim.
func (a *Arbiter) Claim(s Span) bool {
	if s.Start < 0 || s.End <= s.Start {
		return false
	}
	for _, c := range a.claimed {
		if c.Overlaps(s) {
			return false
		}
	}
	a.claimed = append(a.claimed, s)
	return true
}

// Arbitrate filters located occurrences down to a pairwise-disjoint set.
// located[i] holds the occurrences of record i in left-to-right order;
// records are visited in index order. It returns the accepted occurrences
// and the number rejected.
func Arbitrate(located [][]Span) ([]Occurrence, int) {
	var (
		a        Arbiter
		accepted []Occurrence
		rejected int
	)
	for i, spans := range located {
		for _, s := range spans {
			if !a.Claim(s) {
				rejected++
				continue
			}
			accepted = append(accepted, Occurrence{Record: i, Span: s})
		}
	}
	return accepted, rejected
}
