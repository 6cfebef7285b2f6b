package normalizer

import (
	"sort"
	"strings"
)

// NoiseSet is an immutable set of words excluded from indexing. A nil
// *NoiseSet is empty.
type NoiseSet struct {
	words map[string]struct{}
}

// ParseNoiseWords builds a NoiseSet from whitespace-separated entries. With
// normalize false the entries are only lower-cased and then compared against
// normalized tokens as raw strings, so "it's" never matches anything; with
// normalize true each entry goes through Normalize first.
func ParseNoiseWords(text string, normalize bool) *NoiseSet {
	fields := strings.Fields(text)
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if normalize {
			token, ok := Normalize(f)
			if !ok {
				continue
			}
			f = token
		}
		words[f] = struct{}{}
	}
	return &NoiseSet{words: words}
}

// NewNoiseSet returns a set holding exactly words.
func NewNoiseSet(words []string) *NoiseSet {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return &NoiseSet{words: set}
}

// Contains reports whether token is a noise word.
func (s *NoiseSet) Contains(token string) bool {
	if s == nil {
		return false
	}
	_, ok := s.words[token]
	return ok
}

// Len returns the number of noise words.
func (s *NoiseSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.words)
}

// Words returns the noise words in ascending order.
func (s *NoiseSet) Words() []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, 0, len(s.words))
	for w := range s.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same words.
func (s *NoiseSet) Equal(other *NoiseSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	if s == nil || other == nil {
		return true
	}
	for w := range s.words {
		if _, ok := other.words[w]; !ok {
			return false
		}
	}
	return true
}
