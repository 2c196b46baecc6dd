package core

import (
	"context"
	"fmt"
)

// AccountInfo holds the profile of the logged-in user.
type AccountInfo struct {
	PUID   int64  `json:"puid"`
	Name   string `json:"name"`
	Sex    string `json:"sex"`
	Phone  string `json:"phone"`
	School string `json:"school"`
	StuID  string `json:"stu_id"`
}

// ClassModule is one course entry from the class list.
type ClassModule struct {
	CourseID    int64  `json:"courseid"`
	ClassID     int64  `json:"clazzid"`
	CPI         int64  `json:"cpi"`
	Key         int64  `json:"key"`
	Name        string `json:"name"`
	TeacherName string `json:"teacher_name"`
	State       int    `json:"state"`
}

// ChapterModel is one chapter row of a course.
type ChapterModel struct {
	ChapterID     int64  `json:"chapter_id"`
	Jobs          int    `json:"jobs"`
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Label         string `json:"label"`
	Layer         int    `json:"layer"`
	Status        string `json:"status"`
	PointTotal    int    `json:"point_total"`
	PointFinished int    `json:"point_finish"`
}

// QuestionType is the platform's numeric question-type tag.
type QuestionType int

const (
	QuestionSingleChoice QuestionType = 0
	QuestionMultiChoice  QuestionType = 1
	QuestionFillBlank    QuestionType = 2
	QuestionJudgement    QuestionType = 3
	QuestionShortAnswer  QuestionType = 4
	QuestionTermExplain  QuestionType = 5
	QuestionEssay        QuestionType = 6
	QuestionCalculation  QuestionType = 7
	QuestionOther        QuestionType = 8
	QuestionLedger       QuestionType = 9
	QuestionMaterial     QuestionType = 10
	QuestionMatching     QuestionType = 11
	QuestionOrdering     QuestionType = 13
	QuestionCloze        QuestionType = 14
	QuestionReading      QuestionType = 15
	QuestionSpeaking     QuestionType = 18
	QuestionListening    QuestionType = 19
)

func (t QuestionType) String() string {
	switch t {
	case QuestionSingleChoice:
		return "single-choice"
	case QuestionMultiChoice:
		return "multi-choice"
	case QuestionFillBlank:
		return "fill-blank"
	case QuestionJudgement:
		return "judgement"
	case QuestionShortAnswer:
		return "short-answer"
	case QuestionTermExplain:
		return "term-explain"
	case QuestionEssay:
		return "essay"
	case QuestionCalculation:
		return "calculation"
	case QuestionLedger:
		return "ledger"
	case QuestionMaterial:
		return "material"
	case QuestionMatching:
		return "matching"
	case QuestionOrdering:
		return "ordering"
	case QuestionCloze:
		return "cloze"
	case QuestionReading:
		return "reading"
	case QuestionSpeaking:
		return "speaking"
	case QuestionListening:
		return "listening"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// PlatformName returns the Chinese type label the exam submit form carries.
func (t QuestionType) PlatformName() string {
	switch t {
	case QuestionSingleChoice:
		return "单选题"
	case QuestionMultiChoice:
		return "多选题"
	case QuestionFillBlank:
		return "填空题"
	case QuestionJudgement:
		return "判断题"
	case QuestionShortAnswer:
		return "简答题"
	case QuestionTermExplain:
		return "名词解释"
	case QuestionEssay:
		return "论述题"
	case QuestionCalculation:
		return "计算题"
	case QuestionLedger:
		return "分录题"
	case QuestionMaterial:
		return "资料题"
	case QuestionMatching:
		return "连线题"
	case QuestionOrdering:
		return "排序题"
	case QuestionCloze:
		return "完形填空"
	case QuestionReading:
		return "阅读理解"
	case QuestionSpeaking:
		return "口语题"
	case QuestionListening:
		return "听力题"
	default:
		return "其它"
	}
}

// QuestionModel is one parsed question. Options holds option-key to text for
// choice questions; Blanks holds the ordered blank prompts for fill-blank
// questions. The answer fields are filled in place by the resolution engine.
type QuestionModel struct {
	ID      int64
	Value   string
	Type    QuestionType
	Options map[string]string
	// OptionOrder preserves document order of option keys; map iteration
	// order is not stable and matching must be deterministic.
	OptionOrder []string

	Blanks []string

	// Answer is the option key (single-choice), the lexically sorted joined
	// option keys (multi-choice) or "true"/"false" (judgement).
	Answer string
	// BlankAnswers binds positionally to Blanks.
	BlankAnswers []string
	Answered     bool
}

func (q *QuestionModel) String() string {
	return fmt.Sprintf("Question(id=%d type=%s value=%.32q)", q.ID, q.Type, q.Value)
}

// OptionText returns the option text for a key, in document order lookups.
func (q *QuestionModel) OptionText(key string) string {
	if q.Options == nil {
		return ""
	}
	return q.Options[key]
}

// ExportType tags an exported question-set record.
type ExportType int

const (
	ExportWork ExportType = iota
	ExportExam
	ExportMistakes
)

func (t ExportType) String() string {
	switch t {
	case ExportWork:
		return "work"
	case ExportExam:
		return "exam"
	case ExportMistakes:
		return "mistakes"
	default:
		return "unknown"
	}
}

// QuestionsExport is the serializable form of a question set, written to disk
// for mistake records and whole-paper export.
type QuestionsExport struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Type      string             `json:"type"`
	Questions []ExportedQuestion `json:"questions"`
}

type ExportedQuestion struct {
	ID           int64             `json:"id"`
	Value        string            `json:"value"`
	Type         int               `json:"type"`
	Options      map[string]string `json:"options,omitempty"`
	Blanks       []string          `json:"blanks,omitempty"`
	Answer       string            `json:"answer,omitempty"`
	BlankAnswers []string          `json:"blank_answers,omitempty"`
}

// ExportQuestions converts parsed questions to their export form.
func ExportQuestions(id, title string, typ ExportType, questions []*QuestionModel) *QuestionsExport {
	out := &QuestionsExport{
		ID:    id,
		Title: title,
		Type:  typ.String(),
	}
	for _, q := range questions {
		out.Questions = append(out.Questions, ExportedQuestion{
			ID:           q.ID,
			Value:        q.Value,
			Type:         int(q.Type),
			Options:      q.Options,
			Blanks:       q.Blanks,
			Answer:       q.Answer,
			BlankAnswers: q.BlankAnswers,
		})
	}
	return out
}

// FetchStatus is the outcome of fetching one question from a QAQ endpoint.
// Expected negative outcomes (paper already handed in, no permission) are
// statuses rather than errors; errors are reserved for unexpected responses.
type FetchStatus int

const (
	FetchOK FetchStatus = iota
	// FetchEnd means the index is past the last question.
	FetchEnd
	// FetchCommitted means the paper was already handed in.
	FetchCommitted
	// FetchDenied means the account has no access to the paper.
	FetchDenied
)

func (s FetchStatus) String() string {
	switch s {
	case FetchOK:
		return "ok"
	case FetchEnd:
		return "end"
	case FetchCommitted:
		return "committed"
	case FetchDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// QAQ is the question-answer-query surface shared by the work and exam
// protocols. Submit buffers or transmits a single answered question;
// FinalSubmit hands the paper in; FallbackSave preserves an incomplete paper.
type QAQ interface {
	Title() string
	Fetch(ctx context.Context, index int) (*QuestionModel, FetchStatus, error)
	Submit(ctx context.Context, index int, question *QuestionModel) error
	FinalSubmit(ctx context.Context) error
	FallbackSave(ctx context.Context) error
}
