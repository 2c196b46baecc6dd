package resolver

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/thedevsaddam/gojsonq/v2"

	"coursepilot/core"
)

// RestAPISearcher queries a third-party answer service over HTTP. The answer
// is plucked from the JSON reply by a configurable dot path, so one searcher
// type covers the common hosted banks.
type RestAPISearcher struct {
	client     tls_client.HttpClient
	url        string
	method     string
	qField     string
	oField     string
	answerPath string
	headers    map[string]string
	extParams  map[string]string
}

func NewRestAPISearcher(endpoint, method, qField, oField, answerPath string, headers, extParams map[string]string) (*RestAPISearcher, error) {
	if method == "" {
		method = "POST"
	}
	if qField == "" {
		qField = "question"
	}
	if answerPath == "" {
		answerPath = "data"
	}
	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithCookieJar(jar),
	}
	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("build searcher client: %v", err)
	}
	return &RestAPISearcher{
		client:     client,
		url:        endpoint,
		method:     strings.ToUpper(method),
		qField:     qField,
		oField:     oField,
		answerPath: answerPath,
		headers:    headers,
		extParams:  extParams,
	}, nil
}

func (s *RestAPISearcher) Name() string { return "RestAPISearcher" }

func (s *RestAPISearcher) Invoke(ctx context.Context, question *core.QuestionModel) SearcherResp {
	params := url.Values{}
	params.Set(s.qField, question.Value)
	for k, v := range s.extParams {
		params.Set(k, v)
	}
	if s.oField != "" && len(question.Options) > 0 {
		params.Set(s.oField, joinOptions(question))
	}

	body, err := s.request(ctx, params)
	if err != nil {
		return SearcherResp{Code: SearchFailed, Message: err.Error(), Searcher: s.Name(), Question: question.Value}
	}
	answer := gojsonq.New().FromString(body).Find(s.answerPath)
	if answer == nil {
		return SearcherResp{Code: SearchFailed, Message: "answer field not matched", Searcher: s.Name(), Question: question.Value}
	}
	return SearcherResp{
		Code:     SearchOK,
		Message:  "ok",
		Searcher: s.Name(),
		Question: question.Value,
		Answer:   fmt.Sprint(answer),
	}
}

func (s *RestAPISearcher) request(ctx context.Context, params url.Values) (string, error) {
	var req *fhttp.Request
	var err error
	if s.method == "GET" {
		req, err = fhttp.NewRequestWithContext(ctx, "GET", s.url+"?"+params.Encode(), nil)
	} else {
		req, err = fhttp.NewRequestWithContext(ctx, "POST", s.url, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return "", err
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("searcher endpoint status %d", resp.StatusCode)
	}
	return string(data), nil
}

// joinOptions renders options as "text#text" in option-key order.
func joinOptions(question *core.QuestionModel) string {
	keys := question.OptionOrder
	if len(keys) == 0 {
		keys = make([]string, 0, len(question.Options))
		for k := range question.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	texts := make([]string, 0, len(keys))
	for _, k := range keys {
		texts = append(texts, question.Options[k])
	}
	return strings.Join(texts, "#")
}
