package proofread_test

import (
	"testing"

	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	raw := []proofread.RawRecord{
		{Original: "  go ", Corrected: " goes", Issue: "agreement", Start: 12, End: 14},
		{Original: "", Corrected: "x"},
		{Original: "x", Corrected: "   "},
		{Original: "\t", Corrected: "\n"},
		{Original: "tresure", Corrected: "treasure"},
	}

	got := proofread.Normalize(raw)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(got), got)
	}
	if got[0].Original != "go" || got[0].Corrected != "goes" {
		t.Errorf("record 0 = %q -> %q, want %q -> %q", got[0].Original, got[0].Corrected, "go", "goes")
	}
	if got[0].Issue != "agreement" {
		t.Errorf("record 0 issue = %q, want %q", got[0].Issue, "agreement")
	}
	if got[1].Original != "tresure" {
		t.Errorf("record 1 original = %q, want %q", got[1].Original, "tresure")
	}
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	records := []proofread.Record{
		{Original: "Go", Corrected: "goes", Issue: "first"},
		{Original: "cat", Corrected: "kitten"},
		{Original: "go", Corrected: "GOES", Issue: "second"},
		{Original: "go", Corrected: "went"},
	}

	got := proofread.Dedupe(records)
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3: %+v", len(got), got)
	}
	if got[0].Issue != "first" {
		t.Errorf("kept issue %q, want the first-seen record", got[0].Issue)
	}
	wantOrder := []string{"Go", "cat", "go"}
	for i, w := range wantOrder {
		if got[i].Original != w {
			t.Errorf("got[%d].Original = %q, want %q", i, got[i].Original, w)
		}
	}
}

func TestDedupe_KeyDoesNotCollideAcrossFields(t *testing.T) {
	t.Parallel()

	records := []proofread.Record{
		{Original: "a b", Corrected: "c"},
		{Original: "a", Corrected: "b c"},
	}
	if got := proofread.Dedupe(records); len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
}
