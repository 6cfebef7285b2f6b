package engine

import (
	"regexp"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/normalizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
)

// DefaultPageCount is the page size used when none is given.
const DefaultPageCount = 5

// Page is one window over a find result list. Next and Previous are the
// start positions of the neighbouring pages, or -1 when there is none.
type Page struct {
	Results  []index.Result `json:"results"`
	Start    int            `json:"start"`
	Count    int            `json:"count"`
	Total    int            `json:"totalCount"`
	Next     int            `json:"next"`
	Previous int            `json:"previous"`
}

// Paginate cuts results into the page starting at start. count 0 means
// DefaultPageCount. A negative value, or a start past the last result,
// is InvalidInput.
func Paginate(results []index.Result, start, count int) (Page, error) {
	if start < 0 || (start > 0 && start >= len(results)) {
		return Page{}, apperrors.Newf(apperrors.ErrInvalidInput, "bad start %d for %d results", start, len(results))
	}
	if count < 0 {
		return Page{}, apperrors.Newf(apperrors.ErrInvalidInput, "bad count %d", count)
	}
	if count == 0 {
		count = DefaultPageCount
	}
	end := min(start+count, len(results))
	p := Page{
		Results:  results[start:end],
		Start:    start,
		Count:    count,
		Total:    len(results),
		Next:     -1,
		Previous: -1,
	}
	if end < len(results) {
		p.Next = end
	}
	if start > 0 {
		p.Previous = max(0, start-count)
	}
	return p, nil
}

var wordPattern = regexp.MustCompile(`\S+`)

// Highlight wraps every word of line whose normalized form is one of terms
// in square brackets.
func Highlight(line string, terms []string) string {
	if len(terms) == 0 {
		return line
	}
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}
	return wordPattern.ReplaceAllStringFunc(line, func(word string) string {
		token, ok := normalizer.Normalize(word)
		if !ok {
			return word
		}
		if _, hit := want[token]; !hit {
			return word
		}
		return "[" + word + "]"
	})
}
