package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"coursepilot/core"
)

type fakePaper struct {
	questions []*core.QuestionModel
	committed bool
	submitted []int
	finals    int
	saves     int
}

func (f *fakePaper) Title() string { return "fake paper" }

func (f *fakePaper) Fetch(_ context.Context, index int) (*core.QuestionModel, core.FetchStatus, error) {
	if f.committed {
		return nil, core.FetchCommitted, nil
	}
	if index >= len(f.questions) {
		return nil, core.FetchEnd, nil
	}
	return f.questions[index], core.FetchOK, nil
}

func (f *fakePaper) Submit(_ context.Context, index int, _ *core.QuestionModel) error {
	f.submitted = append(f.submitted, index)
	return nil
}

func (f *fakePaper) FinalSubmit(context.Context) error {
	f.finals++
	return nil
}

func (f *fakePaper) FallbackSave(context.Context) error {
	f.saves++
	return nil
}

type mapSearcher struct {
	answers map[int64]string
}

func (m mapSearcher) Name() string { return "mapSearcher" }

func (m mapSearcher) Invoke(_ context.Context, q *core.QuestionModel) SearcherResp {
	if a, ok := m.answers[q.ID]; ok {
		return SearcherResp{Code: SearchOK, Message: "ok", Searcher: m.Name(), Question: q.Value, Answer: a}
	}
	return SearcherResp{Code: SearchNotFound, Message: "question not matched", Searcher: m.Name(), Question: q.Value}
}

func okResp(answer string) []SearcherResp {
	return []SearcherResp{{Code: SearchOK, Message: "ok", Searcher: "test", Answer: answer}}
}

func singleChoice() *core.QuestionModel {
	return &core.QuestionModel{
		ID:    1,
		Type:  core.QuestionSingleChoice,
		Value: "首都是哪里",
		Options: map[string]string{
			"A": "北京",
			"B": "上海",
			"C": "广州",
		},
		OptionOrder: []string{"A", "B", "C"},
	}
}

func TestFillSingleChoice(t *testing.T) {
	e := NewEngine(nil, nil)
	q := singleChoice()
	require.True(t, e.Fill(q, okResp("北京")))
	require.Equal(t, "A", q.Answer)

	q = singleChoice()
	require.False(t, e.Fill(q, okResp("南京南京南京")))
	require.False(t, q.Answered)
}

func TestFillJudgementNegativeBeforePositive(t *testing.T) {
	e := NewEngine(nil, nil)
	q := &core.QuestionModel{ID: 2, Type: core.QuestionJudgement, Value: "判断"}
	// Contains a positive token inside a negative phrasing.
	require.True(t, e.Fill(q, okResp("这是错误的")))
	require.Equal(t, "false", q.Answer)

	q = &core.QuestionModel{ID: 2, Type: core.QuestionJudgement, Value: "判断"}
	require.True(t, e.Fill(q, okResp("正确")))
	require.Equal(t, "true", q.Answer)
}

func TestFillMultiChoiceSortsKeys(t *testing.T) {
	e := NewEngine(nil, nil)
	q := &core.QuestionModel{
		ID:   3,
		Type: core.QuestionMultiChoice,
		Options: map[string]string{
			"A": "甲",
			"B": "乙",
			"C": "丙",
		},
		OptionOrder: []string{"A", "B", "C"},
	}
	require.True(t, e.Fill(q, okResp("丙#甲")))
	require.Equal(t, "AC", q.Answer)
}

func TestCacheTextReplaysThroughFill(t *testing.T) {
	e := NewEngine(nil, nil)

	q := singleChoice()
	require.True(t, e.Fill(q, okResp("北京")))
	require.Equal(t, "北京", cacheText(q))
	replay := singleChoice()
	require.True(t, e.Fill(replay, okResp(cacheText(q))))
	require.Equal(t, "A", replay.Answer)

	multi := func() *core.QuestionModel {
		return &core.QuestionModel{
			ID:   3,
			Type: core.QuestionMultiChoice,
			Options: map[string]string{
				"A": "甲",
				"B": "乙",
				"C": "丙",
			},
			OptionOrder: []string{"A", "B", "C"},
		}
	}
	q = multi()
	require.True(t, e.Fill(q, okResp("丙#甲")))
	require.Equal(t, "甲#丙", cacheText(q))
	replay = multi()
	require.True(t, e.Fill(replay, okResp(cacheText(q))))
	require.Equal(t, "AC", replay.Answer)

	q = &core.QuestionModel{ID: 4, Type: core.QuestionJudgement, Value: "判断"}
	require.True(t, e.Fill(q, okResp("错误")))
	require.Equal(t, "false", cacheText(q))
	replay = &core.QuestionModel{ID: 4, Type: core.QuestionJudgement, Value: "判断"}
	require.True(t, e.Fill(replay, okResp(cacheText(q))))
	require.Equal(t, "false", replay.Answer)
}

func TestFillMultiChoiceSemicolonFallback(t *testing.T) {
	e := NewEngine(nil, nil)
	q := &core.QuestionModel{
		ID:          3,
		Type:        core.QuestionMultiChoice,
		Options:     map[string]string{"A": "甲", "B": "乙"},
		OptionOrder: []string{"A", "B"},
	}
	require.True(t, e.Fill(q, okResp("乙;甲")))
	require.Equal(t, "AB", q.Answer)
}

func TestFillBlanks(t *testing.T) {
	e := NewEngine(nil, nil)
	q := &core.QuestionModel{ID: 4, Type: core.QuestionFillBlank, Blanks: []string{"", ""}}
	require.True(t, e.Fill(q, okResp("北京#2020")))
	require.Equal(t, []string{"北京", "2020"}, q.BlankAnswers)
}

func TestFuzzerSkipsBlanks(t *testing.T) {
	e := NewEngine(nil, nil, WithFuzzer(true))

	q := singleChoice()
	require.True(t, e.Fill(q, nil))
	require.Contains(t, []string{"A", "B", "C"}, q.Answer)

	blank := &core.QuestionModel{ID: 5, Type: core.QuestionFillBlank, Blanks: []string{""}}
	require.False(t, e.Fill(blank, nil))
	require.Empty(t, blank.BlankAnswers)
}

func TestExecuteFinalSubmitsWhenComplete(t *testing.T) {
	paper := &fakePaper{questions: []*core.QuestionModel{
		singleChoice(),
		{ID: 2, Type: core.QuestionJudgement, Value: "判断"},
	}}
	searcher := NewMultiSearcher(mapSearcher{answers: map[int64]string{
		1: "北京",
		2: "正确",
	}})

	e := NewEngine(searcher, paper, WithSubmitDelay(0), WithExportDir(t.TempDir()))
	outcome, err := e.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Completed)
	require.Zero(t, outcome.Missed)
	require.True(t, outcome.FinalSubmitted)
	require.Equal(t, []int{0, 1}, paper.submitted)
	require.Equal(t, 1, paper.finals)
	require.Zero(t, paper.saves)
}

func TestExecuteFallbackSavesOnMiss(t *testing.T) {
	dir := t.TempDir()
	paper := &fakePaper{questions: []*core.QuestionModel{
		singleChoice(),
		{ID: 99, Type: core.QuestionJudgement, Value: "无人知晓"},
	}}
	searcher := NewMultiSearcher(mapSearcher{answers: map[int64]string{1: "北京"}})

	e := NewEngine(searcher, paper, WithSubmitDelay(0), WithExportDir(dir))
	outcome, err := e.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Completed)
	require.Equal(t, 1, outcome.Missed)
	require.False(t, outcome.FinalSubmitted)
	require.True(t, outcome.FallbackSaved)
	require.Zero(t, paper.finals)
	require.Equal(t, 1, paper.saves)

	exports, err := filepath.Glob(filepath.Join(dir, "mistakes_*.json"))
	require.NoError(t, err)
	require.Len(t, exports, 1)
	data, err := os.ReadFile(exports[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "无人知晓")
}

func TestExecuteConfirmVeto(t *testing.T) {
	paper := &fakePaper{questions: []*core.QuestionModel{singleChoice()}}
	searcher := NewMultiSearcher(mapSearcher{answers: map[int64]string{1: "北京"}})

	e := NewEngine(searcher, paper, WithSubmitDelay(0),
		WithConfirm(func(int, int, []Mistake) bool { return false }))
	outcome, err := e.Execute(context.Background())
	require.NoError(t, err)
	require.False(t, outcome.FinalSubmitted)
	require.Zero(t, paper.finals)
}

func TestExecuteAlreadyCommitted(t *testing.T) {
	paper := &fakePaper{committed: true}
	searcher := NewMultiSearcher(mapSearcher{})

	e := NewEngine(searcher, paper, WithSubmitDelay(0))
	outcome, err := e.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, outcome.AlreadyCommitted)
	require.Empty(t, paper.submitted)
}

func TestMultiSearcherRequiresBackend(t *testing.T) {
	_, err := NewMultiSearcher().Invoke(context.Background(), singleChoice())
	require.ErrorIs(t, err, core.ErrNoSearcher)
}

func TestJSONFileSearcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"首都是哪里？":"北京"}`), 0o644))

	s, err := NewJSONFileSearcher(path)
	require.NoError(t, err)

	// Punctuation suffix differs between the bank and the page.
	resp := s.Invoke(context.Background(), &core.QuestionModel{Value: "首都是哪里"})
	require.Equal(t, SearchOK, resp.Code)
	require.Equal(t, "北京", resp.Answer)

	resp = s.Invoke(context.Background(), &core.QuestionModel{Value: "完全无关的题目文本"})
	require.Equal(t, SearchNotFound, resp.Code)
}
