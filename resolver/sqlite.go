package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"coursepilot/core"
)

// SQLiteSearcher queries a local question bank database by exact question
// text. Table and column names come from configuration.
type SQLiteSearcher struct {
	db       *sql.DB
	table    string
	reqField string
	rspField string
}

func NewSQLiteSearcher(path, table, reqField, rspField string) (*SQLiteSearcher, error) {
	if table == "" {
		table = "question"
	}
	if reqField == "" {
		reqField = "question"
	}
	if rspField == "" {
		rspField = "answer"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite question bank: %v", err)
	}
	return &SQLiteSearcher{db: db, table: table, reqField: reqField, rspField: rspField}, nil
}

func (s *SQLiteSearcher) Name() string { return "SQLiteSearcher" }

func (s *SQLiteSearcher) Close() error { return s.db.Close() }

func (s *SQLiteSearcher) Invoke(ctx context.Context, question *core.QuestionModel) SearcherResp {
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = ?",
		s.reqField, s.rspField, s.table, s.reqField)
	var q, a string
	err := s.db.QueryRowContext(ctx, query, question.Value).Scan(&q, &a)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return SearcherResp{Code: SearchNotFound, Message: "question not matched", Searcher: s.Name(), Question: question.Value}
	case err != nil:
		return SearcherResp{Code: SearchFailed, Message: err.Error(), Searcher: s.Name(), Question: question.Value}
	default:
		return SearcherResp{Code: SearchOK, Message: "ok", Searcher: s.Name(), Question: q, Answer: a}
	}
}
