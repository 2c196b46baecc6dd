package core

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExamCoverError(t *testing.T) {
	require.ErrorIs(t, examCoverError("考试尚未开始"), ErrExamNotStarted)
	require.ErrorIs(t, examCoverError("章节任务点未完成5个"), ErrExamChaptersIncomplete)
	require.ErrorIs(t, examCoverError("请使用指定的IP环境进行考试。"), ErrExamIPBlocked)
	require.ErrorIs(t, examCoverError("该试卷只允许在电脑考试客户端考试,完成考试后可在手机端查看"), ErrExamPCOnly)

	err := examCoverError("服务器开小差了")
	require.Error(t, err)
	require.Contains(t, err.Error(), "服务器开小差了")
}

func TestExamPageStatus(t *testing.T) {
	cases := []struct {
		body   string
		status FetchStatus
		ok     bool
	}{
		{`<p class="blankTips">考试已经提交</p>`, FetchCommitted, true},
		{`<p class="blankTips">无权限访问！</p>`, FetchDenied, true},
		{`<p class="blankTips">当前用户账号发生异常，无法进行考试</p>`, FetchDenied, true},
		{`<p class="blankTips">无效参数！</p>`, FetchEnd, true},
		{`<p class="blankTips">服务器繁忙</p>`, FetchOK, false},
		{`<div>normal page</div>`, FetchOK, true},
	}
	for _, tc := range cases {
		root := parseFixture(t, tc.body)
		status, err := examPageStatus(root)
		require.Equal(t, tc.status, status, tc.body)
		if tc.ok {
			require.NoError(t, err, tc.body)
		} else {
			require.Error(t, err, tc.body)
		}
	}
}

const examSinglePage = `<div class="questionWrap singleQuesId ans-cc-exam">
<input type="hidden" name="questionId" value="201"/>
<input type="hidden" name="type201" value="0"/>
<input type="hidden" id="answer201" value=""/>
<div class="tit"><span>一、单选题</span><i>1</i><span>(2分)</span><em></em>长江发源于哪里</div>
<div class="answerList radioList" name="A"><cc>青藏高原</cc></div>
<div class="answerList radioList" name="B"><cc>云贵高原</cc></div>
</div>`

func TestParseExamSingleChoice(t *testing.T) {
	root := parseFixture(t, examSinglePage)
	node := findNode(root, byTagClass("div", "questionWrap"))
	require.NotNil(t, node)

	q, err := parseExamQuestion(node)
	require.NoError(t, err)
	require.EqualValues(t, 201, q.ID)
	require.Equal(t, QuestionSingleChoice, q.Type)
	require.Equal(t, "长江发源于哪里", q.Value)
	require.Equal(t, map[string]string{"A": "青藏高原", "B": "云贵高原"}, q.Options)
	require.Equal(t, []string{"A", "B"}, q.OptionOrder)
	require.False(t, q.Answered)
}

const examBlankPage = `<div class="questionWrap singleQuesId ans-cc-exam">
<input type="hidden" name="questionId" value="202"/>
<input type="hidden" name="type202" value="2"/>
<div class="tit"><span>二、填空题</span><i>2</i><span>(4分)</span><em></em>黄河流经__个省</div>
<div class="completionList objectAuswerList"><span class="grayTit">第1空</span><textarea class="blanktextarea">九</textarea></div>
<div class="completionList objectAuswerList"><span class="grayTit">第2空</span><textarea class="blanktextarea"></textarea></div>
</div>`

func TestParseExamFillBlank(t *testing.T) {
	root := parseFixture(t, examBlankPage)
	q, err := parseExamQuestion(findNode(root, byTagClass("div", "questionWrap")))
	require.NoError(t, err)
	require.Equal(t, QuestionFillBlank, q.Type)
	require.Equal(t, []string{"第1空", "第2空"}, q.Blanks)
	require.Equal(t, []string{"九", ""}, q.BlankAnswers)
	require.True(t, q.Answered)
}

func TestExamTitleTextPreview(t *testing.T) {
	page := `<div class="questionWrap allAnswerList"><div class="tit"><span>一、单选题</span><i></i>3.首都是哪里</div></div>`
	root := parseFixture(t, page)
	node := findNode(root, byTagClass("div", "tit"))
	require.Equal(t, "首都是哪里", examTitleText(node, true))
}

func TestExamAnswerForm(t *testing.T) {
	form := url.Values{}
	examAnswerForm(form, &QuestionModel{ID: 11, Type: QuestionMultiChoice, Answer: "AC"})
	require.Equal(t, "1", form.Get("type11"))
	require.Equal(t, "多选题", form.Get("typeName11"))
	require.Equal(t, "AC", form.Get("answers11"))
	require.Equal(t, "11", form.Get("questionId"))

	form = url.Values{}
	examAnswerForm(form, &QuestionModel{ID: 12, Type: QuestionFillBlank, BlankAnswers: []string{"甲", "乙"}})
	require.Equal(t, "甲", form.Get("answer121"))
	require.Equal(t, "乙", form.Get("answer122"))
	require.Equal(t, "1,2,", form.Get("blankNum12"))

	form = url.Values{}
	examAnswerForm(form, &QuestionModel{ID: 13, Type: QuestionJudgement, Answer: "false"})
	require.Equal(t, "false", form.Get("answer13"))
}

func TestResolveFaceWithoutImage(t *testing.T) {
	s := testSession(t)
	e := NewExam(s, 1, 2, 3, 4, "enc_task")
	require.ErrorIs(t, e.resolveFace(context.Background()), ErrExamFaceRequired)

	s = testSession(t, WithFaceImages(func(puid int64) (string, bool) { return "", false }))
	e = NewExam(s, 1, 2, 3, 4, "enc_task")
	require.ErrorIs(t, e.resolveFace(context.Background()), ErrExamFaceRequired)
}

func TestRefreshTokens(t *testing.T) {
	page := `<form id="submitTest">
<input id="enc" value="abc123"/>
<input id="encRemainTime" value="3600"/>
<input id="remainTime" value="3590"/>
<input id="encLastUpdateTime" value="1700000000000"/>
</form>`
	root := parseFixture(t, page)
	form := findNode(root, byTag("form"))

	e := NewExam(nil, 1, 2, 3, 4, "enc_task")
	e.refreshTokens(form)
	require.Equal(t, "abc123", e.enc)
	require.EqualValues(t, 3600, e.encRemainTime)
	require.EqualValues(t, 3590, e.remainTime)
	require.EqualValues(t, 1700000000000, e.lastUpdateTime)
}
