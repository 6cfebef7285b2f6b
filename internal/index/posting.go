package index

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/normalizer"
)

// Posting records how often a token occurs in one document and the line of
// its first occurrence. FirstLine never changes once the posting exists.
type Posting struct {
	Doc       string `json:"d"`
	Count     int    `json:"c"`
	FirstLine int    `json:"l"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string      `json:"t"`
	Postings PostingList `json:"p"`
}

// Document is a fully tokenized document ready to be published into a
// MemoryIndex. It is built off to the side so that a publish swaps all of a
// document's postings at once.
type Document struct {
	Name     string
	Content  string
	Lines    []string
	Postings map[string]*Posting
}

// BuildDocument splits content into lines and derives one posting per
// non-noise token.
func BuildDocument(name, content string, noise *normalizer.NoiseSet) *Document {
	lines := SplitLines(content)
	postings := make(map[string]*Posting)
	for j, line := range lines {
		for _, token := range normalizer.Tokenize(line, noise) {
			p, exists := postings[token]
			if !exists {
				p = &Posting{Doc: name, FirstLine: j}
				postings[token] = p
			}
			p.Count++
		}
	}
	return &Document{
		Name:     name,
		Content:  content,
		Lines:    lines,
		Postings: postings,
	}
}

// Terms returns the document's tokens in ascending order.
func (d *Document) Terms() []string {
	terms := make([]string, 0, len(d.Postings))
	for term := range d.Postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// SplitLines breaks content on newlines. A trailing carriage return is
// dropped from every line, and a final newline does not open an extra
// empty line.
func SplitLines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
