package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"coursepilot/core"
)

// JSONFileSearcher matches against a local map of question text to answer.
// Lookups are fuzzy so cached banks survive small punctuation drift.
type JSONFileSearcher struct {
	db    map[string]string
	ratio float64
}

func NewJSONFileSearcher(path string) (*JSONFileSearcher, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open json question bank: %v", err)
	}
	db := map[string]string{}
	if err := json.Unmarshal(raw, &db); err != nil {
		return nil, fmt.Errorf("parse json question bank: %v", err)
	}
	return &JSONFileSearcher{db: db, ratio: 0.9}, nil
}

func (s *JSONFileSearcher) Name() string { return "JSONFileSearcher" }

func (s *JSONFileSearcher) Invoke(_ context.Context, question *core.QuestionModel) SearcherResp {
	needle := filterSuffix(question.Value)
	for q, a := range s.db {
		if textRatio(filterSuffix(q), needle) >= s.ratio {
			return SearcherResp{Code: SearchOK, Message: "ok", Searcher: s.Name(), Question: q, Answer: a}
		}
	}
	return SearcherResp{Code: SearchNotFound, Message: "question not matched", Searcher: s.Name(), Question: question.Value}
}
