// Package markup turns HTML fragments from feeds and APIs into plain text.
package markup

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// StripHTML returns the text content of an HTML fragment with runs of
// whitespace collapsed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Snippet returns the first n characters of the plain text of s.
func Snippet(s string, n int) string {
	text := StripHTML(s)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n]))
}
