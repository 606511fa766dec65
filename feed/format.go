package feed

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/RBWare/rss2mastodon/models"
)

const ellipsis = "…"

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags removes markup tags from a string. No entity decoding is done.
func StripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

// Format renders an entry as a status of at most maxChars runes:
// title, blank line, as much summary as fits, then the link on its own
// line. The summary is truncated at a word boundary with a trailing
// ellipsis. A title that would not leave room for the link is itself
// truncated, so the budget holds for any input.
func Format(entry models.Entry, maxChars int) string {
	title := strings.TrimSpace(StripTags(entry.Title))
	summary := strings.TrimSpace(StripTags(entry.Summary))
	link := strings.TrimSpace(entry.Link)

	linkPart := "\n" + link

	// Keep title+link inside the budget before considering the summary.
	if maxTitle := maxChars - utf8.RuneCountInString(linkPart); utf8.RuneCountInString(title) > maxTitle {
		if truncated, ok := truncateAtWord(title, maxTitle); ok {
			title = truncated
		} else {
			title = hardCut(title, maxTitle)
		}
	}

	staticPart := title + "\n\n"
	available := maxChars - utf8.RuneCountInString(staticPart) - utf8.RuneCountInString(linkPart)

	text := title + linkPart
	if summary != "" && available > 0 {
		if utf8.RuneCountInString(summary) > available {
			// A summary that is a single unbroken word is dropped rather
			// than split mid-word.
			summary, _ = truncateAtWord(summary, available)
		}
		if summary != "" {
			text = staticPart + summary + linkPart
		}
	}

	text = strings.TrimSpace(text)

	// The link itself may exceed the whole budget.
	if utf8.RuneCountInString(text) > maxChars {
		text = hardCut(text, maxChars)
	}

	return text
}

// truncateAtWord shortens s to at most limit runes, cutting at the last
// whitespace boundary inside the window and appending an ellipsis. Returns
// false when no boundary exists within the window.
func truncateAtWord(s string, limit int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= limit {
		return s, true
	}
	if limit <= 1 {
		return "", false
	}

	window := runes[:limit-1]
	boundary := -1
	for i, r := range window {
		if unicode.IsSpace(r) {
			boundary = i
		}
	}
	if boundary < 0 {
		return "", false
	}

	return strings.TrimRightFunc(string(window[:boundary]), unicode.IsSpace) + ellipsis, true
}

func hardCut(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
