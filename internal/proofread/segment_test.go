package proofread_test

import (
	"strings"
	"testing"

	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
)

func TestSegments(t *testing.T) {
	t.Parallel()

	text := "The cat sat. She go home."
	cs := []proofread.Correction{
		{ID: "b", Start: 17, End: 19, Original: "go"},
		{ID: "a", Start: 4, End: 7, Original: "cat"},
		{ID: "bad", Start: 5, End: 9, Original: "at s"},
		{ID: "out", Start: 20, End: 99},
	}

	segs := proofread.Segments(text, cs)

	var sb strings.Builder
	var marked []string
	for _, s := range segs {
		sb.WriteString(s.Text)
		if s.Correction != nil {
			marked = append(marked, s.Correction.ID)
		}
	}
	if sb.String() != text {
		t.Errorf("segments join to %q, want %q", sb.String(), text)
	}
	if len(marked) != 2 || marked[0] != "a" || marked[1] != "b" {
		t.Errorf("marked = %v, want [a b]", marked)
	}
	if len(segs) != 5 {
		t.Errorf("got %d segments, want 5", len(segs))
	}
}

func TestSegments_NoCorrections(t *testing.T) {
	t.Parallel()

	segs := proofread.Segments("plain", nil)
	if len(segs) != 1 || segs[0].Text != "plain" || segs[0].Correction != nil {
		t.Errorf("segments = %+v", segs)
	}
	if got := proofread.Segments("", nil); len(got) != 0 {
		t.Errorf("empty text produced %d segments", len(got))
	}
}
