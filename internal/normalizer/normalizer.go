// Package normalizer turns raw text into index-eligible tokens. Words are
// lower-cased, stripped of one trailing possessive 's and reduced to the
// letters a-z. Noise words are dropped.
package normalizer

import (
	"strings"
	"unicode/utf8"
)

const possessive = "'s"

// Normalize lower-cases word, strips a single trailing 's and removes every
// character outside [a-z]. ok is false when nothing is left.
func Normalize(word string) (token string, ok bool) {
	word = strings.ToLower(word)
	word = strings.TrimSuffix(word, possessive)
	var b strings.Builder
	b.Grow(len(word))
	for i := 0; i < len(word); i++ {
		c := word[i]
		if c >= 'a' && c <= 'z' {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// Tokenize splits line on whitespace and returns the normalized, non-noise
// tokens in order of appearance.
func Tokenize(line string, noise *NoiseSet) []string {
	words := strings.Fields(line)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		token, ok := Normalize(word)
		if !ok || noise.Contains(token) {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// QueryTerms turns free query text into the term list expected by
// index.Find. Duplicate terms are kept once, in first-seen order.
func QueryTerms(query string, noise *NoiseSet) []string {
	tokens := Tokenize(query, noise)
	seen := make(map[string]struct{}, len(tokens))
	terms := tokens[:0]
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		terms = append(terms, token)
	}
	return terms
}

// LastWord returns the normalized form of the last whitespace-delimited word
// of text, for completion. ok is false when text is empty, when its last
// character is not an ASCII letter, or when normalization leaves nothing. Noise
// words are not excluded: completion works on text as typed.
func LastWord(text string) (prefix string, ok bool) {
	if text == "" {
		return "", false
	}
	last, _ := utf8.DecodeLastRuneInString(text)
	if !('a' <= last && last <= 'z' || 'A' <= last && last <= 'Z') {
		return "", false
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return "", false
	}
	return Normalize(words[len(words)-1])
}
