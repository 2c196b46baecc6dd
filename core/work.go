package core

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	apiWorkCommit  = "https://mooc1-api.chaoxing.com/work/addStudentWorkNew"
	pageMobileWork = "https://mooc1-api.chaoxing.com/android/mworkspecial"
)

// WorkPoint drives one chapter work paper over the mobile client protocol.
// Per-question answers are buffered locally; only FinalSubmit and
// FallbackSave talk to the platform.
type WorkPoint struct {
	session *Session
	meta    PointMeta

	WorkID   string
	SchoolID string
	jobID    string

	ktoken string
	enc    string

	title            string
	workAnswerID     string
	workRelationID   string
	totalQuestionNum string
	fullScore        string
	encWork          string

	questions []*QuestionModel
	status    FetchStatus
	fetched   bool
}

func NewWorkPoint(session *Session, meta PointMeta, workID, jobID, schoolID string) *WorkPoint {
	return &WorkPoint{
		session:  session,
		meta:     meta,
		WorkID:   workID,
		SchoolID: schoolID,
		jobID:    jobID,
	}
}

func (w *WorkPoint) Kind() string { return "work" }
func (w *WorkPoint) JobID() string { return w.jobID }
func (w *WorkPoint) Title() string { return w.title }

func (w *WorkPoint) String() string {
	return fmt.Sprintf("Work(title=%s jobid=%s workid=%s)", w.title, w.jobID, w.WorkID)
}

// PreFetch locates this work in the card attachment and captures the tokens
// the paper page demands.
func (w *WorkPoint) PreFetch(ctx context.Context) (bool, error) {
	setting, err := fetchAttachment(ctx, w.session, w.meta)
	if err != nil {
		return false, err
	}
	entry := setting.findByWorkID(w.WorkID)
	if entry == nil {
		log.Printf("work %s not present in card attachment", w.WorkID)
		return false, nil
	}
	w.ktoken = setting.Defaults.KToken
	w.enc = entry.Enc
	return entry.Job, nil
}

// Fetch returns the question at index, pulling and caching the whole paper
// on first use.
func (w *WorkPoint) Fetch(ctx context.Context, index int) (*QuestionModel, FetchStatus, error) {
	if !w.fetched {
		if err := w.fetchAll(ctx); err != nil {
			return nil, w.status, err
		}
	}
	if w.status != FetchOK {
		return nil, w.status, nil
	}
	if index >= len(w.questions) {
		return nil, FetchEnd, nil
	}
	return w.questions[index], FetchOK, nil
}

func (w *WorkPoint) fetchAll(ctx context.Context) error {
	w.fetched = true
	w.status = FetchOK
	workID := w.WorkID
	if w.SchoolID != "" {
		workID = w.SchoolID + "-" + w.WorkID
	}
	resp, err := w.session.Get(ctx, pageMobileWork, url.Values{
		"courseid":     {fmt.Sprint(w.meta.CourseID)},
		"workid":       {workID},
		"jobid":        {w.jobID},
		"needRedirect": {"true"},
		"knowledgeid":  {fmt.Sprint(w.meta.KnowledgeID)},
		"userid":       {fmt.Sprint(w.session.Acc.PUID)},
		"ut":           {"s"},
		"clazzId":      {fmt.Sprint(w.meta.ClassID)},
		"cpi":          {fmt.Sprint(w.meta.CPI)},
		"ktoken":       {w.ktoken},
		"enc":          {w.enc},
	})
	if err != nil {
		return err
	}
	root, err := html.Parse(strings.NewReader(resp.Text()))
	if err != nil {
		return fmt.Errorf("parse work page: %v", err)
	}

	if tips := findNode(root, byTagClass("p", "blankTips")); tips != nil {
		msg := CleanText(nodeText(tips))
		log.Printf("work %s unavailable: %s", w.WorkID, msg)
		w.status = FetchDenied
		return nil
	}
	if title := findNode(root, byTag("title")); title != nil && strings.Contains(nodeText(title), "已批阅") {
		log.Printf("work %s already graded", w.WorkID)
		w.status = FetchCommitted
		return nil
	}

	form := findNode(root, func(n *html.Node) bool {
		return n.Data == "form" && attrVal(n, "id") == "form1"
	})
	if form == nil {
		return &APIError{Op: "fetch work", Status: resp.StatusCode, Msg: "paper not materialized"}
	}
	titleNode := findNode(root, byTagClass("h3", "py-Title"))
	if titleNode == nil {
		titleNode = findNode(root, byTagClass("h3", "chapter-title"))
	}
	if titleNode != nil {
		w.title = CleanText(nodeText(titleNode))
	}
	w.workAnswerID = inputValue(form, "workAnswerId")
	w.totalQuestionNum = inputValue(form, "totalQuestionNum")
	w.workRelationID = inputValue(form, "workRelationId")
	w.fullScore = inputValue(form, "fullScore")
	w.encWork = inputValue(form, "enc_work")

	w.questions = nil
	for _, node := range findAll(root, byTagClass("div", "Py-mian1")) {
		q, err := parseWorkQuestion(node)
		if err != nil {
			return fmt.Errorf("parse work question: %v", err)
		}
		w.questions = append(w.questions, q)
	}
	log.Printf("work fetched [%s] %d questions", w.title, len(w.questions))
	return nil
}

func inputValue(form *html.Node, id string) string {
	n := findNode(form, func(n *html.Node) bool {
		return n.Data == "input" && attrVal(n, "id") == id
	})
	if n == nil {
		return ""
	}
	return attrVal(n, "value")
}

// parseWorkQuestion lifts one div.Py-mian1 block into a question model.
func parseWorkQuestion(node *html.Node) (*QuestionModel, error) {
	typeInput := findNode(node, func(n *html.Node) bool {
		return n.Data == "input" && strings.HasPrefix(attrVal(n, "id"), "answertype")
	})
	if typeInput == nil {
		return nil, fmt.Errorf("question block without answertype input")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(attrVal(typeInput, "id"), "answertype"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad question id: %v", err)
	}
	typeCode, err := strconv.Atoi(attrVal(typeInput, "value"))
	if err != nil {
		return nil, fmt.Errorf("bad question type: %v", err)
	}

	q := &QuestionModel{ID: id, Type: QuestionType(typeCode)}
	if titleNode := findNode(node, byTagClass("div", "Py-m1-title")); titleNode != nil {
		q.Value = questionTitleText(titleNode)
	}

	switch q.Type {
	case QuestionSingleChoice, QuestionMultiChoice:
		q.Options = map[string]string{}
		if ans := findNode(node, byTagClass("input", "answerInput")); ans != nil {
			q.Answer = attrVal(ans, "value")
			q.Answered = q.Answer != ""
		}
		for _, item := range findAll(node, byTagClass("li", "more-choose-item")) {
			keyNode := findNode(item, byTagClass("em", "choose-opt"))
			descNode := findNode(item, byTagClass("div", "choose-desc"))
			if keyNode == nil || descNode == nil {
				continue
			}
			// The option text sits inside a nonstandard <cc> wrapper.
			textNode := findNode(descNode, byTag("cc"))
			if textNode == nil {
				textNode = descNode
			}
			key := attrVal(keyNode, "id-param")
			q.Options[key] = CleanText(nodeText(textNode))
			q.OptionOrder = append(q.OptionOrder, key)
		}
	case QuestionFillBlank:
		if list := findNode(node, byTagClass("ul", "blankList2")); list != nil {
			for _, item := range findAll(list, byTag("li")) {
				span := findNode(item, byTag("span"))
				if span == nil {
					continue
				}
				q.Blanks = append(q.Blanks, CleanText(nodeText(span)))
				answer := ""
				if inp := findNode(item, byTagClass("input", "blankInp2")); inp != nil {
					answer = attrVal(inp, "value")
				}
				q.BlankAnswers = append(q.BlankAnswers, answer)
				if answer != "" {
					q.Answered = true
				}
			}
		}
	case QuestionJudgement:
		if ans := findNode(node, byTagClass("input", "answerInput")); ans != nil {
			switch attrVal(ans, "value") {
			case "true", "false":
				q.Answer = attrVal(ans, "value")
				q.Answered = true
			}
		}
	default:
		// Other question kinds are carried through for export but get no
		// structured option parsing.
	}
	return q, nil
}

// questionTitleText extracts the question text from its title block,
// dropping the leading number and type badges.
func questionTitleText(titleNode *html.Node) string {
	var parts []string
	skipped := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if skipped < 2 {
				skipped++
				return
			}
			parts = append(parts, n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(titleNode)
	return CleanText(strings.Join(parts, ""))
}

// Submit buffers an answered question for the eventual paper submission.
func (w *WorkPoint) Submit(ctx context.Context, index int, question *QuestionModel) error {
	if index < 0 || index >= len(w.questions) {
		return fmt.Errorf("work submit: index %d out of range", index)
	}
	w.questions[index] = question
	return nil
}

// answerForm builds the per-question answer fields for a commit call.
func answerForm(questions []*QuestionModel) url.Values {
	form := url.Values{}
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, strconv.FormatInt(q.ID, 10))
	}
	form.Set("answerwqbid", strings.Join(ids, ","))
	for _, q := range questions {
		qid := strconv.FormatInt(q.ID, 10)
		form.Set("answertype"+qid, strconv.Itoa(int(q.Type)))
		switch q.Type {
		case QuestionFillBlank:
			form.Set("tiankongsize"+qid, strconv.Itoa(len(q.BlankAnswers)))
			for i, blank := range q.BlankAnswers {
				form.Set(fmt.Sprintf("answer%s%d", qid, i+1), blank)
			}
		default:
			form.Set("answer"+qid, q.Answer)
		}
	}
	return form
}

func (w *WorkPoint) commitForm(pyFlag string) url.Values {
	form := answerForm(w.questions)
	form.Set("pyFlag", pyFlag)
	form.Set("courseId", fmt.Sprint(w.meta.CourseID))
	form.Set("classId", fmt.Sprint(w.meta.ClassID))
	form.Set("api", "1")
	form.Set("mooc", "0")
	form.Set("workAnswerId", w.workAnswerID)
	form.Set("totalQuestionNum", w.totalQuestionNum)
	form.Set("fullScore", w.fullScore)
	form.Set("knowledgeid", fmt.Sprint(w.meta.KnowledgeID))
	form.Set("oldSchoolId", "")
	form.Set("oldWorkId", w.WorkID)
	form.Set("jobid", w.jobID)
	form.Set("workRelationId", w.workRelationID)
	form.Set("enc_work", w.encWork)
	form.Set("isphone", "true")
	form.Set("userId", fmt.Sprint(w.session.Acc.PUID))
	form.Set("workTimesEnc", "")
	return form
}

// FinalSubmit hands the buffered paper in.
func (w *WorkPoint) FinalSubmit(ctx context.Context) error {
	resp, err := w.session.Do(ctx, Request{
		Method: "POST",
		URL:    apiWorkCommit,
		Params: url.Values{
			"keyboardDisplayRequiresUserAction": {"1"},
			"_classId":                          {fmt.Sprint(w.meta.ClassID)},
			"courseid":                          {fmt.Sprint(w.meta.CourseID)},
			"token":                             {w.encWork},
			"workAnswerId":                      {w.workAnswerID},
			"workid":                            {w.workRelationID},
			// The stray colon is part of the wire contract.
			"cpi:":        {fmt.Sprint(w.meta.CPI)},
			"jobid":       {w.jobID},
			"knowledgeid": {fmt.Sprint(w.meta.KnowledgeID)},
			"ua":          {"app"},
		},
		Form: w.commitForm(""),
	})
	if err != nil {
		return err
	}
	return w.commitStatus(resp, "submit")
}

// FallbackSave preserves the buffered answers without handing the paper in.
func (w *WorkPoint) FallbackSave(ctx context.Context) error {
	resp, err := w.session.Do(ctx, Request{
		Method: "POST",
		URL:    apiWorkCommit,
		Params: url.Values{
			"_classId":     {fmt.Sprint(w.meta.ClassID)},
			"courseid":     {fmt.Sprint(w.meta.CourseID)},
			"token":        {w.encWork},
			"workAnswerId": {w.workAnswerID},
			"ua":           {"app"},
			"formType2":    {"post"},
			"saveStatus":   {"1"},
			"version":      {"1"},
			"tempsave":     {"1"},
		},
		Form: w.commitForm("1"),
	})
	if err != nil {
		return err
	}
	return w.commitStatus(resp, "save")
}

func (w *WorkPoint) commitStatus(resp *Response, op string) error {
	var body struct {
		Status bool   `json:"status"`
		Msg    string `json:"msg"`
	}
	if err := resp.JSON(&body); err != nil {
		return err
	}
	if !body.Status {
		return &TaskPointError{Kind: "work", JobID: w.jobID,
			Err: &APIError{Op: op, Status: resp.StatusCode, Msg: body.Msg}}
	}
	log.Printf("work %s ok [%s]", op, w.title)
	return nil
}

// Export snapshots the paper for the question archive.
func (w *WorkPoint) Export() *QuestionsExport {
	return ExportQuestions(w.WorkID, w.title, ExportWork, w.questions)
}
