package proofread

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Issue labels assigned by [ClassifyIssue].
const (
	IssueCapitalization = "Capitalization"
	IssuePunctuation    = "Punctuation"
	IssueSpelling       = "Spelling error"
	IssueWordChoice     = "Word choice"
)

// spellingThreshold is the Jaro-Winkler similarity above which two words
// are treated as spelling variants of each other.
const spellingThreshold = 0.85

// ClassifyIssue guesses a short label for a correction the model left
// unexplained. Case-only edits are capitalization, edits that only touch
// punctuation are punctuation, words that sound alike or are near
// misspellings of each other are spelling errors, and anything else is a
// word choice.
func ClassifyIssue(original, corrected string) string {
	if original != corrected && strings.EqualFold(original, corrected) {
		return IssueCapitalization
	}

	o, c := lettersOnly(original), lettersOnly(corrected)
	if strings.EqualFold(o, c) {
		return IssuePunctuation
	}

	lo, lc := strings.ToLower(o), strings.ToLower(c)
	if lo == "" || lc == "" {
		return IssueWordChoice
	}

	op, _ := matchr.DoubleMetaphone(lo)
	cp, _ := matchr.DoubleMetaphone(lc)
	if op != "" && op == cp {
		return IssueSpelling
	}
	if matchr.JaroWinkler(lo, lc, false) >= spellingThreshold {
		return IssueSpelling
	}
	return IssueWordChoice
}

func lettersOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}
