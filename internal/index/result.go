package index

import (
	"fmt"
	"strings"
)

// Result is one document matched by Find.
type Result struct {
	Name  string   `json:"name"`
	Score int      `json:"score"`
	Lines []string `json:"lines"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %d\n%s", r.Name, r.Score, strings.Join(r.Lines, ""))
}

// CompareResults orders higher scores first and breaks ties by ascending
// document name.
func CompareResults(a, b Result) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	default:
		return strings.Compare(a.Name, b.Name)
	}
}
