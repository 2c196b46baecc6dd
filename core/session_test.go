package core

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T, opts ...SessionOption) *Session {
	t.Helper()
	s, err := NewSession("", opts...)
	require.NoError(t, err)
	s.retryDelay = time.Millisecond
	s.captchaDelay = 0
	return s
}

func dropConnection(t *testing.T, w http.ResponseWriter) {
	t.Helper()
	hj, ok := w.(http.Hijacker)
	require.True(t, ok)
	conn, _, err := hj.Hijack()
	require.NoError(t, err)
	conn.Close()
}

func TestDoRecoversFromDroppedConnections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 4 {
			dropConnection(t, w)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := testSession(t)
	resp, err := s.Do(context.Background(), Request{URL: srv.URL, NoChallenge: true})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text())
	require.EqualValues(t, 5, calls.Load())
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		dropConnection(t, w)
	}))
	defer srv.Close()

	s := testSession(t, WithRequestMaxRetry(3))
	_, err := s.Do(context.Background(), Request{URL: srv.URL, NoChallenge: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.EqualValues(t, 3, calls.Load())
}

func TestCaptchaLoopExhausts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/img", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("not really a png"))
	})
	var commits atomic.Int32
	mux.HandleFunc("/commit", func(w http.ResponseWriter, r *http.Request) {
		commits.Add(1)
		w.WriteHeader(202)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	solver := func(img []byte) (string, error) { return "abcd", nil }
	s := testSession(t, WithTextSolver(solver), WithCaptchaMaxRetry(3))
	s.captchaImageURL = srv.URL + "/img"
	s.captchaCommitURL = srv.URL + "/commit"

	err := s.resolveCaptcha(context.Background())
	var cerr *CaptchaError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 3, cerr.Attempts)
	require.EqualValues(t, 3, commits.Load())
}

func TestCaptchaRequiresSolver(t *testing.T) {
	s := testSession(t)
	err := s.resolveCaptcha(context.Background())
	var cerr *CaptchaError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 0, cerr.Attempts)
}

func TestDoClearsCaptchaWall(t *testing.T) {
	var walled atomic.Bool
	walled.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		if walled.Load() {
			http.Redirect(w, r, "/antispiderShowVerify.ac", http.StatusFound)
			return
		}
		w.Write([]byte("content"))
	})
	mux.HandleFunc("/antispiderShowVerify.ac", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("please verify"))
	})
	mux.HandleFunc("/img", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png bytes"))
	})
	mux.HandleFunc("/commit", func(w http.ResponseWriter, r *http.Request) {
		walled.Store(false)
		w.WriteHeader(302)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var solved atomic.Int32
	solver := func(img []byte) (string, error) {
		solved.Add(1)
		return "wxyz", nil
	}
	s := testSession(t, WithTextSolver(solver))
	s.captchaImageURL = srv.URL + "/img"
	s.captchaCommitURL = srv.URL + "/commit"

	resp, err := s.Do(context.Background(), Request{URL: srv.URL + "/resource"})
	require.NoError(t, err)
	require.Equal(t, "content", resp.Text())
	require.EqualValues(t, 1, solved.Load())
}

func TestCaptchaObserverSeesAttempts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/img", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	})
	var commits atomic.Int32
	mux.HandleFunc("/commit", func(w http.ResponseWriter, r *http.Request) {
		if commits.Add(1) < 2 {
			w.WriteHeader(202)
			return
		}
		w.WriteHeader(302)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	obs := &recordingObserver{}
	s := testSession(t,
		WithTextSolver(func([]byte) (string, error) { return "code", nil }),
		WithObserver(obs),
	)
	s.captchaImageURL = srv.URL + "/img"
	s.captchaCommitURL = srv.URL + "/commit"

	require.NoError(t, s.resolveCaptcha(context.Background()))
	require.Equal(t, []int{1, 2}, obs.attempts)
	require.Equal(t, []bool{false, true}, obs.results)
}

type recordingObserver struct {
	NopObserver
	attempts []int
	results  []bool
}

func (o *recordingObserver) OnCaptchaAttempt(attempt int) { o.attempts = append(o.attempts, attempt) }

func (o *recordingObserver) OnCaptchaResult(ok bool, code string) { o.results = append(o.results, ok) }

func TestDumpLoadCookiesRoundTrip(t *testing.T) {
	s := testSession(t)
	s.LoadCookies(map[string]string{"UID": "12345", "fid": "abc"})
	ck := s.DumpCookies()
	require.Equal(t, "12345", ck["UID"])
	require.Equal(t, "abc", ck["fid"])
}

func TestSleepCtxHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepCtx(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRequestFormEncoding(t *testing.T) {
	var gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := testSession(t)
	_, err := s.PostForm(context.Background(), srv.URL, url.Values{"a": {"1"}})
	require.NoError(t, err)
	require.Equal(t, "application/x-www-form-urlencoded", gotType)
	require.Equal(t, "a=1", gotBody)
}
