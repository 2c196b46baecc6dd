// Package resolver runs the fetch-search-fill-submit loop over an answerable
// paper: pluggable question-bank searchers feed an engine that fills answers,
// submits them one by one and decides between handing in and saving.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"coursepilot/core"
)

// Searcher result codes. Zero means the answer field is usable.
const (
	SearchOK       = 0
	SearchNotFound = -404
	SearchFailed   = -500
)

// SearcherResp is the common reply protocol of every searcher backend.
type SearcherResp struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Searcher string `json:"searcher"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (r SearcherResp) String() string {
	if r.Code == SearchOK {
		return fmt.Sprintf("%s Ok -> %s", r.Searcher, r.Answer)
	}
	return fmt.Sprintf("%s Err %d:%s", r.Searcher, r.Code, r.Message)
}

// Searcher looks one question up in a backing question bank. Backends report
// misses and backend failures through the response code, never through the
// error channel.
type Searcher interface {
	Name() string
	Invoke(ctx context.Context, question *core.QuestionModel) SearcherResp
}

// MultiSearcher fans one question out to every registered backend.
type MultiSearcher struct {
	slot []Searcher
}

func NewMultiSearcher(searchers ...Searcher) *MultiSearcher {
	return &MultiSearcher{slot: searchers}
}

func (m *MultiSearcher) Add(s Searcher) {
	m.slot = append(m.slot, s)
}

func (m *MultiSearcher) Len() int { return len(m.slot) }

func (m *MultiSearcher) Invoke(ctx context.Context, question *core.QuestionModel) ([]SearcherResp, error) {
	if len(m.slot) == 0 {
		return nil, core.ErrNoSearcher
	}
	results := make([]SearcherResp, 0, len(m.slot))
	for _, s := range m.slot {
		results = append(results, s.Invoke(ctx, question))
	}
	return results, nil
}

// textRatio is the character-level similarity of two strings.
func textRatio(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}

// filterSuffix strips the ornament characters banks disagree on.
func filterSuffix(text string) string {
	return strings.Trim(text, "()（）.。?？")
}
