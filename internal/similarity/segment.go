// Package similarity scores plain text against a reference corpus sentence by sentence.
package similarity

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MinSentenceLength is the trimmed rune count a sentence must exceed to be compared.
const MinSentenceLength = 20

var (
	terminators = regexp.MustCompile(`[.!?]+`)
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['\-][\p{L}\p{N}]+)*`)
)

// Sentences splits text on runs of sentence-terminal punctuation and keeps the
// trimmed pieces longer than MinSentenceLength, in order of appearance.
func Sentences(text string) []string {
	var out []string
	for _, s := range splitTrimmed(text) {
		if utf8.RuneCountInString(s) > MinSentenceLength {
			out = append(out, s)
		}
	}
	return out
}

func splitTrimmed(text string) []string {
	parts := terminators.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Tokens returns the case-folded, NFKC-normalized words of s.
func Tokens(s string) []string {
	folded := cases.Fold().String(norm.NFKC.String(s))
	return wordPattern.FindAllString(folded, -1)
}
