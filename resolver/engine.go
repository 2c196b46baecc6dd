package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"coursepilot/core"
)

// Judgement token tables. Negatives are checked first: bank answers like
// "这是错误的" contain positive characters too.
var (
	judgeNegative = regexp.MustCompile(`(错|否|错误|false|×)`)
	judgePositive = regexp.MustCompile(`(对|是|正确|true|√)`)
)

// questionCap bounds the fetch loop against a paper that never reports its
// end marker.
const questionCap = 500

// Mistake is one question no searcher could fill, with every raw answer the
// backends proposed.
type Mistake struct {
	Question *core.QuestionModel
	Answers  string
}

// Outcome summarizes one engine run.
type Outcome struct {
	Completed        int
	Missed           int
	Mistakes         []Mistake
	FinalSubmitted   bool
	FallbackSaved    bool
	AlreadyCommitted bool
}

// ConfirmFunc decides whether a fully answered paper is handed in.
type ConfirmFunc func(completed, missed int, mistakes []Mistake) bool

// Engine drives one answerable paper to completion: fetch each question,
// fan out to the searchers, fill, submit, then hand in or save.
type Engine struct {
	searcher *MultiSearcher
	qaq      core.QAQ

	fallbackSave    bool
	fallbackFuzzer  bool
	autoFinalSubmit bool
	submitDelay     time.Duration
	singleRatio     float64
	exportDir       string
	confirm         ConfirmFunc
	cache           *RedisSearcher

	sleep func(context.Context, time.Duration) error
}

type EngineOption func(*Engine)

func WithFallbackSave(v bool) EngineOption    { return func(e *Engine) { e.fallbackSave = v } }
func WithFuzzer(v bool) EngineOption          { return func(e *Engine) { e.fallbackFuzzer = v } }
func WithAutoFinalSubmit(v bool) EngineOption { return func(e *Engine) { e.autoFinalSubmit = v } }
func WithExportDir(dir string) EngineOption   { return func(e *Engine) { e.exportDir = dir } }
func WithConfirm(cb ConfirmFunc) EngineOption { return func(e *Engine) { e.confirm = cb } }

func WithSubmitDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.submitDelay = d }
}

func WithSingleChoiceRatio(r float64) EngineOption {
	return func(e *Engine) { e.singleRatio = r }
}

func WithAnswerCache(c *RedisSearcher) EngineOption {
	return func(e *Engine) { e.cache = c }
}

func NewEngine(searcher *MultiSearcher, qaq core.QAQ, opts ...EngineOption) *Engine {
	e := &Engine{
		searcher:        searcher,
		qaq:             qaq,
		fallbackSave:    true,
		autoFinalSubmit: true,
		submitDelay:     time.Second,
		singleRatio:     0.95,
		exportDir:       ".",
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fill picks an answer for question from the search results. False means no
// backend produced a usable answer and the fuzzer (when enabled) could not
// stand in either.
func (e *Engine) Fill(question *core.QuestionModel, results []SearcherResp) bool {
	for _, result := range results {
		if result.Code != SearchOK || result.Answer == "" {
			continue
		}
		answer := strings.TrimSpace(result.Answer)
		switch question.Type {
		case core.QuestionSingleChoice:
			for _, k := range optionKeys(question) {
				if textRatio(question.Options[k], answer) >= e.singleRatio {
					question.Answer = k
					question.Answered = true
					return true
				}
			}
		case core.QuestionJudgement:
			switch {
			case judgeNegative.MatchString(answer):
				question.Answer = "false"
				question.Answered = true
				return true
			case judgePositive.MatchString(answer):
				question.Answer = "true"
				question.Answered = true
				return true
			}
		case core.QuestionMultiChoice:
			parts := strings.Split(answer, "#")
			if len(parts) <= 1 {
				parts = strings.Split(answer, ";")
			}
			var keys []string
			for _, part := range parts {
				for _, k := range optionKeys(question) {
					if question.Options[k] == part {
						keys = append(keys, k)
					}
				}
			}
			// Unsorted keys are rejected server side.
			sort.Strings(keys)
			if len(keys) > 0 {
				question.Answer = strings.Join(keys, "")
				question.Answered = true
				return true
			}
		case core.QuestionFillBlank:
			if blanks := strings.Split(answer, "#"); len(blanks) > 0 {
				question.BlankAnswers = blanks
				question.Answered = true
				return true
			}
		default:
			log.Printf("question type %s not fillable", question.Type)
			return false
		}
	}

	if e.fallbackFuzzer {
		switch question.Type {
		case core.QuestionSingleChoice, core.QuestionMultiChoice:
			if keys := optionKeys(question); len(keys) > 0 {
				question.Answer = keys[rand.Intn(len(keys))]
				question.Answered = true
				log.Printf("fuzzer filled choice question %d", question.ID)
				return true
			}
		case core.QuestionJudgement:
			question.Answer = "false"
			if rand.Intn(2) == 1 {
				question.Answer = "true"
			}
			question.Answered = true
			log.Printf("fuzzer filled judgement question %d", question.ID)
			return true
		}
		// Fill blanks stay unanswered: synthesized text is worse than an
		// empty blank on graded papers.
	}
	return false
}

// cacheText maps a filled answer back to the bank form Fill matches against.
// Choice answers hold option keys, which no option text would ever match on
// replay; the cache has to carry the option texts instead.
func cacheText(question *core.QuestionModel) string {
	switch question.Type {
	case core.QuestionSingleChoice:
		return question.Options[question.Answer]
	case core.QuestionMultiChoice:
		var parts []string
		for _, k := range optionKeys(question) {
			if strings.Contains(question.Answer, k) {
				parts = append(parts, question.Options[k])
			}
		}
		return strings.Join(parts, "#")
	default:
		return question.Answer
	}
}

func optionKeys(question *core.QuestionModel) []string {
	if len(question.OptionOrder) > 0 {
		return question.OptionOrder
	}
	keys := make([]string, 0, len(question.Options))
	for k := range question.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Execute runs the full loop. Backend misses degrade to mistakes, never to
// errors: the loop always reaches the end of the paper before deciding
// between final submit and fallback save.
func (e *Engine) Execute(ctx context.Context) (*Outcome, error) {
	log.Printf("resolving paper [%s]", e.qaq.Title())
	outcome := &Outcome{}

loop:
	for index := 0; index < questionCap; index++ {
		question, status, err := e.qaq.Fetch(ctx, index)
		if err != nil {
			return nil, err
		}
		switch status {
		case core.FetchEnd:
			break loop
		case core.FetchCommitted:
			if index == 0 {
				outcome.AlreadyCommitted = true
				return outcome, nil
			}
			return nil, fmt.Errorf("paper committed mid-iteration at question %d", index)
		case core.FetchDenied:
			return nil, core.ErrWorkAccessDenied
		}

		results, err := e.searcher.Invoke(ctx, question)
		if err != nil {
			return nil, err
		}
		if e.Fill(question, results) {
			outcome.Completed++
			if e.cache != nil && question.Type != core.QuestionFillBlank {
				if text := cacheText(question); text != "" {
					if err := e.cache.Store(ctx, question.Value, text); err != nil {
						log.Printf("answer cache write failed: %v", err)
					}
				}
			}
		} else {
			outcome.Missed++
			outcome.Mistakes = append(outcome.Mistakes, Mistake{
				Question: question,
				Answers:  joinAnswers(results),
			})
		}

		if err := e.sleep(ctx, e.submitDelay); err != nil {
			return nil, err
		}
		if err := e.qaq.Submit(ctx, index, question); err != nil {
			var apiErr *core.APIError
			if !errors.As(err, &apiErr) {
				return nil, err
			}
			log.Printf("question %d submit failed: %v [%s]", index, err, e.qaq.Title())
		} else {
			log.Printf("question %d submitted [%s]", index, e.qaq.Title())
		}
	}

	if outcome.Missed == 0 {
		if !e.autoFinalSubmit {
			return outcome, nil
		}
		if e.confirm != nil && !e.confirm(outcome.Completed, outcome.Missed, outcome.Mistakes) {
			return outcome, nil
		}
		if err := e.qaq.FinalSubmit(ctx); err != nil {
			return nil, err
		}
		outcome.FinalSubmitted = true
		log.Printf("paper handed in [%s]", e.qaq.Title())
		return outcome, nil
	}

	log.Printf("%d questions unmatched [%s]", outcome.Missed, e.qaq.Title())
	e.logMistakes(outcome.Mistakes)
	if err := e.saveMistakes(outcome.Mistakes); err != nil {
		log.Printf("mistake export failed: %v", err)
	}
	if e.fallbackSave {
		if err := e.qaq.FallbackSave(ctx); err != nil {
			return nil, err
		}
		outcome.FallbackSaved = true
		log.Printf("paper saved incomplete [%s]", e.qaq.Title())
	}
	return outcome, nil
}

func (e *Engine) logMistakes(mistakes []Mistake) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n-----* %d unmatched *-----\n", len(mistakes))
	for i, m := range mistakes {
		fmt.Fprintf(&sb, "%d.\tq(%s): %s\n", i+1, m.Question.Type, m.Question.Value)
		if len(m.Question.Options) > 0 {
			sb.WriteString("\to:")
			for _, k := range optionKeys(m.Question) {
				fmt.Fprintf(&sb, " %s=%s", k, m.Question.Options[k])
			}
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "\ta: %s\n", m.Answers)
	}
	sb.WriteString("------------")
	log.Print(sb.String())
}

// saveMistakes writes the unmatched questions next to the other exports so
// they can be filled by hand and fed back into a bank.
func (e *Engine) saveMistakes(mistakes []Mistake) error {
	questions := make([]*core.QuestionModel, 0, len(mistakes))
	for _, m := range mistakes {
		questions = append(questions, m.Question)
	}
	export := core.ExportQuestions("0", e.qaq.Title(), core.ExportMistakes, questions)
	data, err := json.Marshal(export)
	if err != nil {
		return err
	}
	path := filepath.Join(e.exportDir, fmt.Sprintf("mistakes_%d.json", time.Now().Unix()))
	return os.WriteFile(path, data, 0o644)
}

func joinAnswers(results []SearcherResp) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Answer)
	}
	return strings.Join(parts, "/")
}
