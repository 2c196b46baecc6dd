package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

const (
	apiCaptchaImage  = "https://mooc1-api.chaoxing.com/processVerifyPng.ac"
	apiCaptchaCommit = "https://mooc1-api.chaoxing.com/html/processVerify.ac"
)

func init() {
	log.SetFlags(0)
}

// Response is a fully drained HTTP response.
type Response struct {
	StatusCode int
	Header     fhttp.Header
	Body       []byte
	URL        *url.URL
}

func (r *Response) Text() string { return string(r.Body) }

func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %v", err)
	}
	return nil
}

// Request describes one call through the session.
type Request struct {
	Method string
	URL    string
	Params url.Values
	Form   url.Values
	JSON   any
	// Body with ContentType carries a preassembled payload, multipart
	// uploads mostly.
	Body        io.Reader
	ContentType string
	Header      map[string]string

	// NoRedirect keeps the raw 3xx so the caller can inspect it.
	NoRedirect bool
	// NoChallenge skips challenge classification. Used by the endpoints
	// that clear challenges, which must never recurse into themselves.
	NoChallenge bool
}

// Observer receives progress notifications while the session clears
// anti-bot challenges. All methods are optional via NopObserver embedding.
type Observer interface {
	OnCaptchaAttempt(attempt int)
	OnCaptchaResult(ok bool, code string)
	OnFaceUpload()
	OnFaceDone()
}

// NopObserver implements Observer with no behavior.
type NopObserver struct{}

func (NopObserver) OnCaptchaAttempt(int) {}

func (NopObserver) OnCaptchaResult(bool, string) {}

func (NopObserver) OnFaceUpload() {}

func (NopObserver) OnFaceDone() {}

// TextSolver turns a captcha PNG into its text.
type TextSolver func(img []byte) (string, error)

// Session wraps an impersonated HTTP client with connection retry, cookie
// persistence and transparent clearing of the captcha and face walls the
// platform may substitute for any response.
type Session struct {
	client tls_client.HttpClient
	jar    tls_client.CookieJar

	Acc AccountInfo

	observer   Observer
	textSolver TextSolver
	facePath   func(puid int64) (string, bool)

	captchaMaxRetry int
	requestMaxRetry int
	retryDelay      time.Duration
	captchaDelay    time.Duration

	userAgent string
	sleep     func(context.Context, time.Duration) error

	captchaImageURL  string
	captchaCommitURL string
}

type SessionOption func(*Session)

func WithObserver(o Observer) SessionOption {
	return func(s *Session) { s.observer = o }
}

func WithTextSolver(solver TextSolver) SessionOption {
	return func(s *Session) { s.textSolver = solver }
}

// WithFaceImages registers the lookup from account puid to the face image
// file to present when a face wall appears.
func WithFaceImages(lookup func(puid int64) (string, bool)) SessionOption {
	return func(s *Session) { s.facePath = lookup }
}

func WithCaptchaMaxRetry(n int) SessionOption {
	return func(s *Session) { s.captchaMaxRetry = n }
}

func WithRequestMaxRetry(n int) SessionOption {
	return func(s *Session) { s.requestMaxRetry = n }
}

func WithRetryDelay(d time.Duration) SessionOption {
	return func(s *Session) { s.retryDelay = d }
}

// NewSession builds a session with the in-app identity. Some endpoints are
// app only, so the mobile user agent is the default.
func NewSession(proxy string, opts ...SessionOption) (*Session, error) {
	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithCookieJar(jar),
		tls_client.WithRandomTLSExtensionOrder(),
	}
	if proxy != "" {
		options = append(options, tls_client.WithProxyUrl(proxy))
	}
	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("create client: %v", err)
	}

	s := &Session{
		client:           client,
		jar:              jar,
		observer:         NopObserver{},
		captchaMaxRetry:  6,
		requestMaxRetry:  5,
		retryDelay:       5 * time.Second,
		captchaDelay:     5 * time.Second,
		userAgent:        MobileUA(),
		sleep:            sleepCtx,
		captchaImageURL:  apiCaptchaImage,
		captchaCommitURL: apiCaptchaCommit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do issues a request, retrying dropped connections and clearing any
// challenge wall before handing back the real response.
func (s *Session) Do(ctx context.Context, req Request) (*Response, error) {
	// A cleared challenge re-issues the original request. The platform may
	// chain walls (captcha then face), so allow a few rounds.
	for round := 0; round < 3; round++ {
		resp, err := s.doRetry(ctx, req)
		if err != nil {
			return nil, err
		}
		if req.NoChallenge {
			return resp, nil
		}
		switch Classify(resp) {
		case ChallengeNone:
			return resp, nil
		case ChallengeCaptcha:
			if err := s.resolveCaptcha(ctx); err != nil {
				return nil, err
			}
		case ChallengeFace:
			if err := s.resolveFace(ctx, resp); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%s: challenge wall persisted after clearing", req.URL)
}

// doRetry runs the raw request with a bounded connection-retry loop.
func (s *Session) doRetry(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < s.requestMaxRetry; attempt++ {
		if attempt > 0 {
			log.Printf("connection error, retrying (%d/%d): %v", attempt, s.requestMaxRetry-1, lastErr)
			if err := s.sleep(ctx, s.retryDelay); err != nil {
				return nil, err
			}
		}
		resp, err := s.doOnce(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %v", s.requestMaxRetry, lastErr)
}

func (s *Session) doOnce(ctx context.Context, req Request) (*Response, error) {
	target := req.URL
	if len(req.Params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Params.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.Body != nil:
		body = req.Body
		contentType = req.ContentType
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	method := req.Method
	if method == "" {
		method = "GET"
	}
	hreq, err := fhttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("User-Agent", s.userAgent)
	hreq.Header.Set("X-Requested-With", "com.chaoxing.mobile")
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Header {
		hreq.Header.Set(k, v)
	}

	s.client.SetFollowRedirect(!req.NoRedirect)
	hresp, err := s.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()
	data, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: hresp.StatusCode,
		Header:     hresp.Header,
		Body:       data,
		URL:        hresp.Request.URL,
	}, nil
}

// Get is shorthand for a challenge-checked GET.
func (s *Session) Get(ctx context.Context, url string, params url.Values) (*Response, error) {
	return s.Do(ctx, Request{URL: url, Params: params})
}

// PostForm is shorthand for a challenge-checked form POST.
func (s *Session) PostForm(ctx context.Context, url string, form url.Values) (*Response, error) {
	return s.Do(ctx, Request{Method: "POST", URL: url, Form: form})
}

// resolveCaptcha clears the anti-spider captcha wall with a bounded solve
// and commit loop.
func (s *Session) resolveCaptcha(ctx context.Context) error {
	if s.textSolver == nil {
		return &CaptchaError{Attempts: 0, Last: fmt.Errorf("no text solver configured")}
	}
	log.Printf("captcha wall hit, solving")
	var lastErr error
	for attempt := 1; attempt <= s.captchaMaxRetry; attempt++ {
		s.observer.OnCaptchaAttempt(attempt)

		// Fetching too fast makes the endpoint serve a stale image.
		if err := s.sleep(ctx, s.captchaDelay); err != nil {
			return err
		}
		img, err := s.fetchCaptchaImage(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		code, err := s.textSolver(img)
		if err != nil {
			lastErr = err
			continue
		}
		ok, err := s.commitCaptcha(ctx, code)
		if err != nil {
			lastErr = err
			continue
		}
		s.observer.OnCaptchaResult(ok, code)
		if ok {
			log.Printf("captcha cleared (%s)", code)
			return nil
		}
		lastErr = fmt.Errorf("code %q rejected", code)
		if err := s.sleep(ctx, s.captchaDelay); err != nil {
			return err
		}
	}
	return &CaptchaError{Attempts: s.captchaMaxRetry, Last: lastErr}
}

func (s *Session) fetchCaptchaImage(ctx context.Context) ([]byte, error) {
	resp, err := s.Do(ctx, Request{
		URL:         s.captchaImageURL,
		Params:      url.Values{"t": {Timestamp()}},
		NoChallenge: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "image/png" {
		return nil, fmt.Errorf("captcha image fetch failed (status %d)", resp.StatusCode)
	}
	return resp.Body, nil
}

// commitCaptcha submits a solution. The endpoint answers 302 on a correct
// code and 202 on a wrong one.
func (s *Session) commitCaptcha(ctx context.Context, code string) (bool, error) {
	resp, err := s.Do(ctx, Request{
		Method:      "POST",
		URL:         s.captchaCommitURL,
		Form:        url.Values{"app": {"0"}, "ucode": {code}},
		NoRedirect:  true,
		NoChallenge: true,
	})
	if err != nil {
		return false, err
	}
	return resp.StatusCode == 302, nil
}

// DumpCookies flattens the jar into a name to value map.
func (s *Session) DumpCookies() map[string]string {
	out := map[string]string{}
	for _, cookies := range s.jar.GetAllCookies() {
		for _, c := range cookies {
			out[c.Name] = c.Value
		}
	}
	return out
}

// LoadCookies installs a saved cookie map for the whole platform domain.
func (s *Session) LoadCookies(ck map[string]string) {
	base, _ := url.Parse("https://chaoxing.com/")
	var cookies []*fhttp.Cookie
	for k, v := range ck {
		cookies = append(cookies, &fhttp.Cookie{
			Name:   k,
			Value:  v,
			Domain: ".chaoxing.com",
			Path:   "/",
		})
	}
	s.jar.SetCookies(base, cookies)
}
