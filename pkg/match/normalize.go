// Package match normalizes transcribed text and checks it for wake and
// stop vocabulary hits.
package match

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// deletedRunes is the literal punctuation set stripped during
// normalization.
var deletedRunes = map[rune]struct{}{
	'、': {}, '。': {}, ',': {}, '.': {}, '!': {}, '！': {}, '?': {}, '？': {},
	'「': {}, '」': {}, '『': {}, '』': {}, '（': {}, '）': {}, '(': {}, ')': {},
	'[': {}, ']': {}, '{': {}, '}': {}, '"': {}, '\'': {}, '`': {},
}

// Normalize applies NFKC, lowercasing, katakana->hiragana folding, and
// whitespace/punctuation stripping, in that order.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x30A1 && r <= 0x30F6 {
			r -= 0x60
		}
		if isStrippedWhitespace(r) {
			continue
		}
		if _, deleted := deletedRunes[r]; deleted {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isStrippedWhitespace(r rune) bool {
	return r == '　' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Hit is the result of a vocabulary match: the matched original
// (un-normalized) vocabulary word, or empty if no match was found.
type Hit struct {
	Matched bool
	Word    string
}

// Match returns the first vocabulary word whose normalized form is a
// non-empty substring of the normalized text.
func Match(text string, vocabulary []string) Hit {
	normText := Normalize(text)
	for _, word := range vocabulary {
		normWord := Normalize(word)
		if normWord == "" {
			continue
		}
		if strings.Contains(normText, normWord) {
			return Hit{Matched: true, Word: word}
		}
	}
	return Hit{}
}

// StripAll removes every occurrence of each vocabulary word's
// normalized form from the normalized text, returning the residue. Used
// for the anti-self-wake loop guard: a transcription that normalizes to
// only wake-word tokens leaves an empty residue.
func StripAll(text string, vocabulary []string) string {
	residue := Normalize(text)
	for _, word := range vocabulary {
		normWord := Normalize(word)
		if normWord == "" {
			continue
		}
		residue = strings.ReplaceAll(residue, normWord, "")
	}
	return residue
}
