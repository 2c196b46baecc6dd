package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	pageExamCover    = "https://mooc1-api.chaoxing.com/exam-ans/exam/phone/task-exam"
	pageExamQuestion = "https://mooc1-api.chaoxing.com/exam-ans/exam/test/reVersionTestStartNew"
	pageExamPreview  = "https://mooc1-api.chaoxing.com/exam-ans/exam/phone/preview"
	apiExamStart     = "https://mooc1-api.chaoxing.com/exam-ans/exam/phone/start"
	apiExamSubmit    = "https://mooc1.chaoxing.com/exam-ans/exam/test/reVersionSubmitTestNew"
	apiExamSheet     = "https://mooc1-api.chaoxing.com/exam-ans/exam/phone/loadAnswerStatic"
)

type examState int

const (
	examInit examState = iota
	examCoverFetched
	examStarted
	examSubmitted
	examFallbackSaved
)

func (s examState) String() string {
	switch s {
	case examInit:
		return "init"
	case examCoverFetched:
		return "cover-fetched"
	case examStarted:
		return "started"
	case examSubmitted:
		return "submitted"
	case examFallbackSaved:
		return "fallback-saved"
	default:
		return "unknown"
	}
}

var needCodePattern = regexp.MustCompile(`var *needcode *= *(\d+);`)

// Exam drives one exam session over the mobile client protocol. The flow is
// strictly ordered: FetchCover resolves any face or captcha gate and loads
// the cover tokens, Start opens the paper, then questions are fetched and
// submitted one at a time with every response refreshing the anti-replay
// token triple before the next call.
type Exam struct {
	session *Session

	ExamID   int64
	CourseID int64
	ClassID  int64
	CPI      int64
	EncTask  string

	state examState

	title        string
	examStudent  string
	examAnswerID string
	monitorEnc   string

	needCode    bool
	needFace    bool
	needCaptcha bool
	captchaID   string

	captchaValidate string
	faceKey         string
	faceResult      string

	// Anti-replay triple, refreshed on every fetch and submit.
	enc            string
	remainTime     int64
	encRemainTime  int64
	lastUpdateTime int64
}

func NewExam(session *Session, examID, courseID, classID, cpi int64, encTask string) *Exam {
	return &Exam{
		session:  session,
		ExamID:   examID,
		CourseID: courseID,
		ClassID:  classID,
		CPI:      cpi,
		EncTask:  encTask,
	}
}

func (e *Exam) Title() string { return e.title }

// RemainTime formats the server-side countdown as mm:ss.
func (e *Exam) RemainTime() string {
	return fmt.Sprintf("%02d:%02d", e.encRemainTime/60, e.encRemainTime%60)
}

func (e *Exam) String() string {
	return fmt.Sprintf("Exam(id=%d title=%s remain=%s)", e.ExamID, e.title, e.RemainTime())
}

// SlideSolver resolves a slide captcha image pair to a horizontal offset in
// pixels relative to the background width.
type SlideSolver func(shade, cutout []byte) (offset int, width int, err error)

// FetchCover loads the exam cover page, resolving the face compare and the
// slide captcha when the exam demands them. Must run before Start.
func (e *Exam) FetchCover(ctx context.Context, slideSolver SlideSolver) error {
	if e.state != examInit {
		return fmt.Errorf("exam cover fetch in state %s", e.state)
	}
	resp, err := e.session.Do(ctx, Request{
		URL: pageExamCover,
		Params: url.Values{
			// Forces past the redo redirect and the pledge page.
			"redo":       {"1"},
			"examsignal": {"1"},
			"taskrefId":  {fmt.Sprint(e.ExamID)},
			"courseId":   {fmt.Sprint(e.CourseID)},
			"classId":    {fmt.Sprint(e.ClassID)},
			"userId":     {fmt.Sprint(e.session.Acc.PUID)},
			"role":       {""},
			"source":     {"0"},
			"enc_task":   {e.EncTask},
			"cpi":        {fmt.Sprint(e.CPI)},
			"vx":         {"0"},
		},
		NoRedirect: true,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == 302 {
		loc, _ := url.Parse(resp.Header.Get("Location"))
		if loc != nil && loc.Path == "/exam-ans/exam/phone/look" {
			return ErrExamCompleted
		}
		return &APIError{Op: "exam cover", Status: resp.StatusCode, Msg: "unexpected redirect"}
	}

	root, err := html.Parse(strings.NewReader(resp.Text()))
	if err != nil {
		return fmt.Errorf("parse exam cover: %v", err)
	}
	if banner := findNode(root, byTagClass("h2", "fs36")); banner != nil {
		return examCoverError(CleanText(nodeText(banner)))
	}

	e.examAnswerID = inputValue(root, "testUserRelationId")
	e.monitorEnc = inputValue(root, "monitorEnc")
	if t := findNode(root, byTagClass("span", "overHidden2")); t != nil {
		e.title = CleanText(nodeText(t))
	}
	if script := findNode(root, byTag("script")); script != nil {
		if m := needCodePattern.FindStringSubmatch(nodeText(script)); m != nil {
			e.needCode = m[1] != "0"
		}
	}
	e.needFace = inputValue(root, "faceRecognitionCompare") != ""
	e.needCaptcha = inputValue(root, "captchaCheck") != ""
	e.captchaID = inputValue(root, "captchaCaptchaId")
	log.Printf("exam cover fetched [%s(I.%d)] face=%v captcha=%v code=%v",
		e.title, e.ExamID, e.needFace, e.needCaptcha, e.needCode)

	if e.needFace {
		if err := e.resolveFace(ctx); err != nil {
			return err
		}
	}
	if e.needCaptcha {
		coverURL := ""
		if resp.URL != nil {
			coverURL = resp.URL.String()
		}
		if err := e.resolveCaptcha(ctx, coverURL, slideSolver); err != nil {
			return err
		}
	}
	e.state = examCoverFetched
	return nil
}

func examCoverError(msg string) error {
	switch {
	case msg == "考试尚未开始":
		return ErrExamNotStarted
	case strings.HasPrefix(msg, "章节任务点未完成"):
		return fmt.Errorf("%w: %s", ErrExamChaptersIncomplete, msg)
	case msg == "请使用指定的IP环境进行考试。":
		return ErrExamIPBlocked
	case msg == "该试卷只允许在电脑考试客户端考试,完成考试后可在手机端查看":
		return ErrExamPCOnly
	default:
		return fmt.Errorf("exam entry rejected: %s", msg)
	}
}

// resolveFace runs the exam face compare and synthesizes the liveness
// payload the start call wants.
func (e *Exam) resolveFace(ctx context.Context) error {
	if e.session.facePath == nil {
		return fmt.Errorf("%w: no face image source configured", ErrExamFaceRequired)
	}
	path, ok := e.session.facePath(e.session.Acc.PUID)
	if !ok {
		return fmt.Errorf("%w: no face image for puid %d", ErrExamFaceRequired, e.session.Acc.PUID)
	}
	resolver := NewFaceResolver(e.session)
	if err := resolver.FetchUploadToken(ctx); err != nil {
		return err
	}
	// The client uploads the photo twice, once for the compare call and
	// once referenced from the liveness extra data.
	objectID, err := resolver.UploadFace(ctx, path)
	if err != nil {
		return err
	}
	objectID2, err := resolver.UploadFace(ctx, path)
	if err != nil {
		return err
	}
	compare, err := resolver.SubmitExam(ctx, e.ExamID, e.CourseID, e.ClassID, e.CPI, objectID)
	if err != nil {
		return err
	}
	e.faceKey = compare.FaceKey

	aEye := 0
	if rand.Float64() < 0.2 {
		aEye = -1
	}
	result := map[string]any{
		"collectedFaceId":           compare.CollectObjectID,
		"currentFaceId":             compare.FaceObjectID,
		"collectStatus":             1,
		"LiveDetectionStatus":       1,
		"ignoreLiveDetectionStatus": 1,
		"extraData": map[string]any{
			"a_eye":      aEye,
			"a_score":    0,
			"f_extra":    fmt.Sprintf("%d_0_-1_1_0", 5000+rand.Intn(5001)),
			"ret":        100 + rand.Intn(6),
			"s_objectId": objectID2,
			"s_score":    float64(80000000+rand.Intn(19000001)) / 1e8,
		},
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	e.faceResult = string(data)
	return nil
}

// resolveCaptcha clears the slide captcha the cover demands, retrying a few
// rounds with fresh images.
func (e *Exam) resolveCaptcha(ctx context.Context, referer string, solve SlideSolver) error {
	if solve == nil {
		return &CaptchaError{Attempts: 0, Last: fmt.Errorf("no slide solver configured")}
	}
	captcha := NewImageCaptcha(e.session, e.captchaID, CaptchaSlide)
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := captcha.FetchServerTime(ctx); err != nil {
			lastErr = err
			continue
		}
		shade, cutout, err := captcha.FetchImages(ctx, referer)
		if err != nil {
			lastErr = err
			continue
		}
		offset, width, err := solve(shade, cutout)
		if err != nil {
			lastErr = err
			continue
		}
		validate, err := captcha.SubmitSlide(ctx, float64(offset)/float64(width)*320)
		if err != nil {
			lastErr = err
			continue
		}
		e.captchaValidate = validate
		return nil
	}
	return &CaptchaError{Attempts: 3, Last: lastErr}
}

// Start opens the paper. code carries the exam access code when required.
func (e *Exam) Start(ctx context.Context, code string) error {
	if e.state != examCoverFetched {
		return fmt.Errorf("exam start in state %s", e.state)
	}
	faceDetection := "0"
	if e.needFace {
		faceDetection = "1"
	}
	resp, err := e.session.Do(ctx, Request{
		URL: apiExamStart,
		Params: url.Values{
			"courseId":                          {fmt.Sprint(e.CourseID)},
			"classId":                           {fmt.Sprint(e.ClassID)},
			"examId":                            {fmt.Sprint(e.ExamID)},
			"source":                            {"0"},
			"examAnswerId":                      {e.examAnswerID},
			"cpi":                               {fmt.Sprint(e.CPI)},
			"keyboardDisplayRequiresUserAction": {"1"},
			"imei":                              {IMEI()},
			"faceDetection":                     {faceDetection},
			"facekey":                           {e.faceKey},
			"faceDetectionResult":               {e.faceResult},
			"captchavalidate":                   {e.captchaValidate},
			"jt":                                {"0"},
			"code":                              {code},
		},
		NoRedirect: true,
	})
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case 200:
		root, err := html.Parse(strings.NewReader(resp.Text()))
		if err != nil {
			return fmt.Errorf("parse exam start: %v", err)
		}
		tip := findNode(root, byTagClass("p", "blankTips"))
		if tip == nil {
			tip = findNode(root, byTagClass("li", "msg"))
		}
		if tip != nil {
			msg := CleanText(nodeText(tip))
			switch msg {
			case "验证码错误！":
				return ErrExamCodeDenied
			case "人脸识别对比不通过，不允许进入考试":
				return &FaceError{Stage: "compare", Err: fmt.Errorf("%s", msg)}
			default:
				return fmt.Errorf("exam entry rejected: %s", msg)
			}
		}
		return &APIError{Op: "exam start", Status: resp.StatusCode}
	case 302:
		redirect, err := url.Parse(resp.Header.Get("Location"))
		if err != nil {
			return fmt.Errorf("exam start redirect: %v", err)
		}
		e.enc = redirect.Query().Get("enc")
		e.state = examStarted
		log.Printf("exam started [%s(I.%d)]", e.title, e.ExamID)
		return nil
	default:
		return &APIError{Op: "exam start", Status: resp.StatusCode}
	}
}

// Fetch pulls the question at index. The anti-replay triple is refreshed
// from the page before it is handed back.
func (e *Exam) Fetch(ctx context.Context, index int) (*QuestionModel, FetchStatus, error) {
	if e.state != examStarted {
		return nil, FetchOK, fmt.Errorf("exam fetch in state %s", e.state)
	}
	tag := "0"
	if e.encRemainTime == 0 {
		tag = "1"
	}
	resp, err := e.session.Get(ctx, pageExamQuestion, url.Values{
		"courseId":                          {fmt.Sprint(e.CourseID)},
		"classId":                           {fmt.Sprint(e.ClassID)},
		"tId":                               {fmt.Sprint(e.ExamID)},
		"id":                                {e.examAnswerID},
		"source":                            {"0"},
		"p":                                 {"1"},
		"isphone":                           {"true"},
		"tag":                               {tag},
		"cpi":                               {fmt.Sprint(e.CPI)},
		"imei":                              {IMEI()},
		"start":                             {strconv.Itoa(index)},
		"enc":                               {e.enc},
		"keyboardDisplayRequiresUserAction": {"1"},
		"monitorStatus":                     {"0"},
		"monitorOp":                         {"-1"},
		"remainTimeParam":                   {fmt.Sprint(e.encRemainTime)},
		"relationAnswerLastUpdateTime":      {fmt.Sprint(e.lastUpdateTime)},
	})
	if err != nil {
		return nil, FetchOK, err
	}
	root, err := html.Parse(strings.NewReader(resp.Text()))
	if err != nil {
		return nil, FetchOK, fmt.Errorf("parse exam question: %v", err)
	}
	if status, err := examPageStatus(root); status != FetchOK || err != nil {
		return nil, status, err
	}

	e.examStudent = inputValue(root, "ExamWaterMark")
	form := findNode(root, func(n *html.Node) bool {
		return n.Data == "form" && attrVal(n, "id") == "submitTest"
	})
	if form == nil {
		return nil, FetchOK, &APIError{Op: "exam fetch", Status: resp.StatusCode, Msg: "submit form missing"}
	}
	e.refreshTokens(form)

	qNode := findNode(form, func(n *html.Node) bool {
		return n.Data == "div" && hasClass(n, "questionWrap") && hasClass(n, "singleQuesId") && hasClass(n, "ans-cc-exam")
	})
	if qNode == nil {
		return nil, FetchOK, &APIError{Op: "exam fetch", Status: resp.StatusCode, Msg: "question block missing"}
	}
	q, err := parseExamQuestion(qNode)
	if err != nil {
		return nil, FetchOK, err
	}
	return q, FetchOK, nil
}

// examPageStatus maps the blankTips banner of an exam page to a fetch
// status. Invalid params marks the index running past the last question.
func examPageStatus(root *html.Node) (FetchStatus, error) {
	tip := findNode(root, byTagClass("p", "blankTips"))
	if tip == nil {
		return FetchOK, nil
	}
	msg := CleanText(nodeText(tip))
	switch msg {
	case "考试已经提交":
		return FetchCommitted, nil
	case "无权限访问！", "当前用户账号发生异常，无法进行考试", "当前班级发生异常，无法进行考试":
		return FetchDenied, nil
	case "无效参数！":
		return FetchEnd, nil
	default:
		return FetchOK, fmt.Errorf("exam page rejected: %s", msg)
	}
}

func (e *Exam) refreshTokens(form *html.Node) {
	e.enc = inputValue(form, "enc")
	e.encRemainTime, _ = strconv.ParseInt(inputValue(form, "encRemainTime"), 10, 64)
	e.remainTime, _ = strconv.ParseInt(inputValue(form, "remainTime"), 10, 64)
	e.lastUpdateTime, _ = strconv.ParseInt(inputValue(form, "encLastUpdateTime"), 10, 64)
}

// FetchAll pulls the whole-paper preview, mostly for export.
func (e *Exam) FetchAll(ctx context.Context) ([]*QuestionModel, error) {
	if e.state != examStarted {
		return nil, fmt.Errorf("exam preview in state %s", e.state)
	}
	resp, err := e.session.Get(ctx, pageExamPreview, url.Values{
		"courseId":                     {fmt.Sprint(e.CourseID)},
		"classId":                      {fmt.Sprint(e.ClassID)},
		"source":                       {"0"},
		"imei":                         {IMEI()},
		"start":                        {"0"},
		"cpi":                          {fmt.Sprint(e.CPI)},
		"examRelationId":               {fmt.Sprint(e.ExamID)},
		"examRelationAnswerId":         {e.examAnswerID},
		"monitorStatus":                {"0"},
		"monitorOp":                    {"-1"},
		"remainTimeParam":              {fmt.Sprint(e.encRemainTime)},
		"relationAnswerLastUpdateTime": {fmt.Sprint(e.lastUpdateTime)},
		"enc":                          {e.enc},
	})
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(strings.NewReader(resp.Text()))
	if err != nil {
		return nil, fmt.Errorf("parse exam preview: %v", err)
	}
	if status, err := examPageStatus(root); err != nil {
		return nil, err
	} else if status == FetchCommitted {
		return nil, fmt.Errorf("exam already handed in")
	} else if status == FetchDenied {
		return nil, fmt.Errorf("exam preview denied")
	}

	form := findNode(root, func(n *html.Node) bool {
		return n.Data == "form" && attrVal(n, "id") == "submitTest"
	})
	if form == nil {
		return nil, &APIError{Op: "exam preview", Status: resp.StatusCode, Msg: "submit form missing"}
	}
	e.refreshTokens(form)

	var questions []*QuestionModel
	for _, qNode := range findAll(form, func(n *html.Node) bool {
		return n.Data == "div" && hasClass(n, "questionWrap") && hasClass(n, "singleQuesId") && hasClass(n, "ans-cc-exam")
	}) {
		q, err := parseExamQuestion(qNode)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// Submit sends one answered question as a temporary save.
func (e *Exam) Submit(ctx context.Context, index int, question *QuestionModel) error {
	if e.state != examStarted {
		return fmt.Errorf("exam submit in state %s", e.state)
	}
	return e.submit(ctx, index, question, false)
}

// FinalSubmit hands the paper in using the answers saved server side.
func (e *Exam) FinalSubmit(ctx context.Context) error {
	if e.state != examStarted {
		return fmt.Errorf("exam final submit in state %s", e.state)
	}
	if err := e.submit(ctx, 0, nil, true); err != nil {
		return err
	}
	e.state = examSubmitted
	return nil
}

// FallbackSave is a terminal no-op: the exam protocol keeps every Submit
// server side already, so an incomplete paper is preserved by just stopping.
func (e *Exam) FallbackSave(ctx context.Context) error {
	if e.state != examStarted {
		return fmt.Errorf("exam fallback save in state %s", e.state)
	}
	e.state = examFallbackSaved
	return nil
}

func (e *Exam) submit(ctx context.Context, index int, question *QuestionModel, final bool) error {
	tempSave := "true"
	if final {
		tempSave = "false"
	}
	var qid int64
	if question != nil {
		qid = question.ID
	}
	sig := NewExamSignature(e.session.Acc.PUID, qid, 100+rand.Intn(901), 100+rand.Intn(901))

	params := url.Values{
		"classId":            {fmt.Sprint(e.ClassID)},
		"courseId":           {fmt.Sprint(e.CourseID)},
		"cpi":                {fmt.Sprint(e.CPI)},
		"testPaperId":        {fmt.Sprint(e.ExamID)},
		"testUserRelationId": {e.examAnswerID},
		"tempSave":           {tempSave},
		"version":            {"1"},
	}
	if question != nil {
		params.Set("qid", strconv.FormatInt(question.ID, 10))
	} else {
		params.Set("qid", "")
	}
	sig.Fill(params)

	form := url.Values{
		"courseId":           {fmt.Sprint(e.CourseID)},
		"testPaperId":        {fmt.Sprint(e.ExamID)},
		"testUserRelationId": {e.examAnswerID},
		"classId":            {fmt.Sprint(e.ClassID)},
		"type":               {"0"},
		"isphone":            {"true"},
		"imei":               {IMEI()},
		"subCount":           {""},
		"remainTime":         {fmt.Sprint(e.remainTime)},
		"tempSave":           {tempSave},
		"timeOver":           {"false"},
		"encRemainTime":      {fmt.Sprint(e.encRemainTime)},
		"encLastUpdateTime":  {fmt.Sprint(e.lastUpdateTime)},
		"enc":                {e.enc},
		"userId":             {fmt.Sprint(e.session.Acc.PUID)},
		"source":             {"0"},
		"start":              {strconv.Itoa(index)},
		"enterPageTime":      {fmt.Sprint(e.lastUpdateTime)},
		"monitorforcesubmit": {"0"},
		"answeredView":       {"0"},
		"exitdtime":          {"0"},
	}
	if question != nil {
		examAnswerForm(form, question)
	}

	resp, err := e.session.Do(ctx, Request{
		Method: "POST",
		URL:    apiExamSubmit,
		Params: params,
		Form:   form,
	})
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
		Msg    string `json:"msg"`
		Data   string `json:"data"`
	}
	if err := resp.JSON(&body); err != nil {
		return err
	}
	if body.Status != "success" {
		switch {
		case body.Msg == "考试时间已用完,不允许提交答案!":
			return ErrExamTimeout
		case strings.HasSuffix(body.Msg, "分钟内不允许提交考试"):
			return ErrExamSubmitTooEarly
		default:
			return &APIError{Op: "exam submit", Status: resp.StatusCode, Msg: body.Msg}
		}
	}
	if !final {
		// Refresh the anti-replay triple from "lastUpdate|remainTime|enc".
		parts := strings.Split(body.Data, "|")
		if len(parts) == 3 {
			e.lastUpdateTime, _ = strconv.ParseInt(parts[0], 10, 64)
			e.encRemainTime, _ = strconv.ParseInt(parts[1], 10, 64)
			e.enc = parts[2]
		}
		log.Printf("exam question %d saved [%s(I.%d)]", index, e.title, e.ExamID)
	} else {
		log.Printf("exam handed in [%s(I.%d)]", e.title, e.ExamID)
	}
	return nil
}

// examAnswerForm merges one question's answer fields into the submit form.
func examAnswerForm(form url.Values, q *QuestionModel) {
	qid := strconv.FormatInt(q.ID, 10)
	form.Set("type"+qid, strconv.Itoa(int(q.Type)))
	form.Set("questionId", qid)
	form.Set("typeName"+qid, q.Type.PlatformName())
	form.Set("hidetext", "")
	switch q.Type {
	case QuestionMultiChoice:
		form.Set("answers"+qid, q.Answer)
	case QuestionFillBlank:
		var nums strings.Builder
		for i, blank := range q.BlankAnswers {
			form.Set(fmt.Sprintf("answer%s%d", qid, i+1), blank)
			fmt.Fprintf(&nums, "%d,", i+1)
		}
		form.Set("blankNum"+qid, nums.String())
	default:
		form.Set("answer"+qid, q.Answer)
	}
}

// AnswerSheet reports per-question answered flags grouped by type label.
func (e *Exam) AnswerSheet(ctx context.Context) (map[string]map[int]bool, error) {
	resp, err := e.session.Get(ctx, apiExamSheet, url.Values{
		"courseId":                     {fmt.Sprint(e.CourseID)},
		"classId":                      {fmt.Sprint(e.ClassID)},
		"source":                       {"0"},
		"start":                        {"0"},
		"cpi":                          {fmt.Sprint(e.CPI)},
		"examRelationId":               {fmt.Sprint(e.ExamID)},
		"imei":                         {IMEI()},
		"examRelationAnswerId":         {e.examAnswerID},
		"remainTimeParam":              {fmt.Sprint(e.encRemainTime)},
		"relationAnswerLastUpdateTime": {fmt.Sprint(e.lastUpdateTime)},
		"enc":                          {e.enc},
	})
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(strings.NewReader(resp.Text()))
	if err != nil {
		return nil, fmt.Errorf("parse answer sheet: %v", err)
	}
	sheet := map[string]map[int]bool{}
	for _, group := range findAll(root, byTag("ul")) {
		titleNode := findNode(group, byTagClass("h4", "cardTit"))
		if titleNode == nil {
			continue
		}
		label := CleanText(nodeText(titleNode))
		if i := strings.Index(label, "、"); i >= 0 {
			label = strings.TrimSpace(label[i+len("、"):])
		}
		entries := map[int]bool{}
		for _, item := range findAll(group, byTag("li")) {
			idx, err := strconv.Atoi(attrVal(item, "data"))
			if err != nil {
				continue
			}
			entries[idx] = hasClass(item, "complated")
		}
		sheet[label] = entries
	}
	return sheet, nil
}

// parseExamQuestion lifts one exam question block into a question model.
// Single-question pages and whole-paper previews share option markup but
// differ in how the title block is laid out.
func parseExamQuestion(node *html.Node) (*QuestionModel, error) {
	idInput := findNode(node, func(n *html.Node) bool {
		return n.Data == "input" && attrVal(n, "name") == "questionId"
	})
	typeInput := findNode(node, func(n *html.Node) bool {
		return n.Data == "input" && strings.HasPrefix(attrVal(n, "name"), "type")
	})
	if idInput == nil || typeInput == nil {
		return nil, fmt.Errorf("exam question block missing id or type input")
	}
	id, err := strconv.ParseInt(attrVal(idInput, "value"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad exam question id: %v", err)
	}
	typeCode, err := strconv.Atoi(attrVal(typeInput, "value"))
	if err != nil {
		return nil, fmt.Errorf("bad exam question type: %v", err)
	}
	q := &QuestionModel{ID: id, Type: QuestionType(typeCode)}

	if titleNode := findNode(node, byTagClass("div", "tit")); titleNode != nil {
		q.Value = examTitleText(titleNode, hasClass(node, "allAnswerList"))
	}

	switch q.Type {
	case QuestionSingleChoice, QuestionMultiChoice:
		q.Options = map[string]string{}
		if ans := findNode(node, func(n *html.Node) bool {
			return n.Data == "input" && strings.HasPrefix(attrVal(n, "id"), "answer")
		}); ans != nil {
			q.Answer = attrVal(ans, "value")
			q.Answered = q.Answer != ""
		}
		for _, option := range findAll(node, func(n *html.Node) bool {
			return n.Data == "div" && hasClass(n, "answerList") && hasClass(n, "radioList")
		}) {
			key := attrVal(option, "name")
			textNode := findNode(option, byTag("cc"))
			if textNode == nil {
				textNode = option
			}
			q.Options[key] = CleanText(nodeText(textNode))
			q.OptionOrder = append(q.OptionOrder, key)
		}
	case QuestionFillBlank:
		for _, blank := range findAll(node, func(n *html.Node) bool {
			return n.Data == "div" && hasClass(n, "completionList") && hasClass(n, "objectAuswerList")
		}) {
			prompt := ""
			if span := findNode(blank, byTagClass("span", "grayTit")); span != nil {
				prompt = CleanText(nodeText(span))
			}
			answer := ""
			if area := findNode(blank, byTagClass("textarea", "blanktextarea")); area != nil {
				answer = CleanText(nodeText(area))
			}
			q.Blanks = append(q.Blanks, prompt)
			q.BlankAnswers = append(q.BlankAnswers, answer)
			if answer != "" {
				q.Answered = true
			}
		}
	case QuestionJudgement:
		if ans := findNode(node, func(n *html.Node) bool {
			return n.Data == "input" && strings.HasPrefix(attrVal(n, "id"), "answer")
		}); ans != nil {
			switch attrVal(ans, "value") {
			case "true", "false":
				q.Answer = attrVal(ans, "value")
				q.Answered = true
			}
		}
	}
	return q, nil
}

var leadingNumberPattern = regexp.MustCompile(`^\d+\.`)

// examTitleText extracts the question text from a div.tit block. The single
// question layout prefixes a group heading, a number and a score span; the
// preview layout inlines the number into the first text run.
func examTitleText(titleNode *html.Node, preview bool) string {
	skip := 4
	if preview {
		skip = 2
	}
	var sb strings.Builder
	i := 0
	first := true
	for c := titleNode.FirstChild; c != nil; c = c.NextSibling {
		if i < skip {
			i++
			continue
		}
		i++
		switch {
		case c.Type == html.TextNode:
			text := strings.TrimSpace(c.Data)
			if preview && first {
				first = false
				if leadingNumberPattern.MatchString(text) {
					_, rest, _ := strings.Cut(text, ".")
					if rest != "" {
						sb.WriteString(rest)
						return CleanText(sb.String())
					}
					continue
				}
			}
			sb.WriteString(text)
		case c.Type == html.ElementNode && c.Data == "p":
			sb.WriteString("\n")
			sb.WriteString(strings.TrimSpace(nodeText(c)))
		}
	}
	return CleanText(sb.String())
}

// Export snapshots the full paper for the question archive.
func (e *Exam) Export(ctx context.Context) (*QuestionsExport, error) {
	questions, err := e.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return ExportQuestions(fmt.Sprint(e.ExamID), e.title, ExportExam, questions), nil
}
