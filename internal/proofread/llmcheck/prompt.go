package llmcheck

import (
	"cmp"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ContentType names the kind of writing being checked. It selects the
// context block placed in front of the text.
type ContentType string

const (
	Letter ContentType = "letter"
	Story  ContentType = "story"
	Review ContentType = "review"
)

// DefaultContentType is used when a request names none.
const DefaultContentType = Letter

// systemPrompt describes the answer format. The model reports words, not
// positions; the engine finds every occurrence itself.
const systemPrompt = `You are an English grammar checker. Identify ALL grammar, spelling, and punctuation errors in the text you are given.

Return a JSON array of errors in exactly this format:
[
  {
    "start": 0,
    "end": 0,
    "original": "<the incorrect word>",
    "corrected": "<the corrected word>",
    "issue": "<brief description of the error>"
  }
]

Rules:
1. Only include actual errors (grammar, spelling, punctuation).
2. Identify the PROBLEM WORD only, not its position.
   - original: the incorrect word ONLY (no spaces, no punctuation)
   - corrected: the corrected word ONLY (no spaces, no punctuation)
   - For example: in "She go to the library", original is "go" and corrected is "goes".
   - For example: in "I are happy", original is "are" and corrected is "am".
   - For example: if "tresure" is misspelled, original is "tresure" and corrected is "treasure".
3. Set start and end to 0. They are recalculated automatically.
4. issue is a brief explanation, e.g. "Subject-verb agreement", "Missing comma", "Spelling error".
5. If there are no errors, return an empty array: []
6. Return ONLY the JSON array, with no other text before or after it.`

// contextBlock returns the lines describing the piece of writing. Unknown
// content types get none.
func contextBlock(req Request) string {
	switch req.ContentType {
	case Letter:
		return fmt.Sprintf("Letter to: %s\nOccasion: %s",
			cmp.Or(req.Recipient, "Recipient"), cmp.Or(req.Occasion, "General"))
	case Story:
		return "This is a creative story."
	case Review:
		return fmt.Sprintf("Book Review Type: %s\nBook Title: %s",
			cmp.Or(req.ReviewType, "General"), cmp.Or(req.BookTitle, "Unknown"))
	default:
		return ""
	}
}

// buildUserMessage frames the text with its content type and context.
func buildUserMessage(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Review the following %s.\n\n", req.ContentType)
	if ctx := contextBlock(req); ctx != "" {
		sb.WriteString(ctx)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "%s content:\n%s", cases.Title(language.English).String(string(req.ContentType)), req.Text)
	return sb.String()
}

// inputs returns the structured fields application backends receive
// alongside the prompt.
func inputs(req Request) map[string]string {
	return map[string]string{
		"content_type": string(req.ContentType),
		"recipient":    req.Recipient,
		"occasion":     req.Occasion,
		"bookTitle":    req.BookTitle,
		"reviewType":   req.ReviewType,
		"content":      req.Text,
	}
}
