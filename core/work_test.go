package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parseFixture(t *testing.T, page string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)
	return root
}

const workSinglePage = `<div class="Py-mian1">
<input type="hidden" id="answertype101" value="0"/>
<input type="hidden" class="answerInput" id="answer101" value=""/>
<div class="Py-m1-title"><span>1.</span><span>(单选题)</span>首都是哪里</div>
<ul>
<li class="more-choose-item"><em class="choose-opt" id-param="A">A</em><div class="choose-desc"><cc>北京</cc></div></li>
<li class="more-choose-item"><em class="choose-opt" id-param="B">B</em><div class="choose-desc"><cc>上海</cc></div></li>
</ul>
</div>`

func TestParseWorkSingleChoice(t *testing.T) {
	root := parseFixture(t, workSinglePage)
	node := findNode(root, byTagClass("div", "Py-mian1"))
	require.NotNil(t, node)

	q, err := parseWorkQuestion(node)
	require.NoError(t, err)
	require.EqualValues(t, 101, q.ID)
	require.Equal(t, QuestionSingleChoice, q.Type)
	require.Equal(t, "首都是哪里", q.Value)
	require.Equal(t, map[string]string{"A": "北京", "B": "上海"}, q.Options)
	require.Equal(t, []string{"A", "B"}, q.OptionOrder)
	require.False(t, q.Answered)
}

const workJudgementPage = `<div class="Py-mian1">
<input type="hidden" id="answertype102" value="3"/>
<input type="hidden" class="answerInput" id="answer102" value="true"/>
<div class="Py-m1-title"><span>2.</span><span>(判断题)</span>地球是圆的</div>
</div>`

func TestParseWorkJudgementCarriesAnswer(t *testing.T) {
	root := parseFixture(t, workJudgementPage)
	q, err := parseWorkQuestion(findNode(root, byTagClass("div", "Py-mian1")))
	require.NoError(t, err)
	require.Equal(t, QuestionJudgement, q.Type)
	require.Equal(t, "true", q.Answer)
	require.True(t, q.Answered)
}

const workBlankPage = `<div class="Py-mian1">
<input type="hidden" id="answertype103" value="2"/>
<div class="Py-m1-title"><span>3.</span><span>(填空题)</span>中国的首都是__</div>
<ul class="blankList2">
<li><span>第1空</span><input class="blankInp2" value=""/></li>
<li><span>第2空</span><input class="blankInp2" value="2020"/></li>
</ul>
</div>`

func TestParseWorkFillBlank(t *testing.T) {
	root := parseFixture(t, workBlankPage)
	q, err := parseWorkQuestion(findNode(root, byTagClass("div", "Py-mian1")))
	require.NoError(t, err)
	require.Equal(t, QuestionFillBlank, q.Type)
	require.Equal(t, []string{"第1空", "第2空"}, q.Blanks)
	require.Equal(t, []string{"", "2020"}, q.BlankAnswers)
	require.True(t, q.Answered)
}

func TestParseWorkQuestionRejectsStray(t *testing.T) {
	root := parseFixture(t, `<div class="Py-mian1"><p>no inputs here</p></div>`)
	_, err := parseWorkQuestion(findNode(root, byTagClass("div", "Py-mian1")))
	require.Error(t, err)
}

func TestInputValue(t *testing.T) {
	root := parseFixture(t, `<form><input id="enc" value="token123"/><input id="other" value="x"/></form>`)
	form := findNode(root, byTag("form"))
	require.Equal(t, "token123", inputValue(form, "enc"))
	require.Equal(t, "", inputValue(form, "missing"))
}
