// File: internal/portal/fakeportal_test.go
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendant/internal/network"
)

// -- Test Helpers --

// fakePortal is an in-process imitation of the StarASN endpoints. Every login
// page load issues a new token pair (csrf-N / tkv-N) and a new session cookie.
type fakePortal struct {
	server *httptest.Server

	mu sync.Mutex
	// loginPage renders the login page for the Nth load (1-based).
	loginPage func(n int) string
	// loginResponses are returned in order; the last one repeats.
	loginResponses   []string
	captchaImage     []byte
	statisticPage    string
	presenceResponse string

	loginGets     int
	captchaGets   int
	loginPosts    []url.Values
	loginHeaders  []http.Header
	presencePosts []url.Values
	presenceHdrs  []http.Header
	captchaQuery  []string
}

func defaultLoginPage(n int) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><head>
<meta charset="utf-8">
<meta content="csrf-%d" name="csrf-token">
</head><body><form id="login">
<input type="hidden" name="tkv" value="tkv-%d">
<input name="username"><input type="password" name="password">
<img src="/authentication/captcha">
</form></body></html>`, n, n)
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	fp := &fakePortal{
		loginPage:        defaultLoginPage,
		loginResponses:   []string{`{"status":"success","message":"Login berhasil"}`},
		captchaImage:     []byte("\x89PNG fake image"),
		statisticPage:    `<html><body><h3>PRESENSI MASUK</h3><h3>PRESENSI PULANG</h3></body></html>`,
		presenceResponse: `{"status":"success","message":"Presensi berhasil disimpan"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(LoginPath, fp.handleLogin)
	mux.HandleFunc(CaptchaPath, fp.handleCaptcha)
	mux.HandleFunc(StatusPath, func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		_, _ = io.WriteString(w, fp.statisticPage)
	})
	mux.HandleFunc(PresencePath, fp.handlePresence)

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		fp.loginGets++
		http.SetCookie(w, &http.Cookie{Name: "ci_session", Value: fmt.Sprintf("sess-%d", fp.loginGets), Path: "/"})
		_, _ = io.WriteString(w, fp.loginPage(fp.loginGets))
	case http.MethodPost:
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		fp.loginPosts = append(fp.loginPosts, r.MultipartForm.Value)
		fp.loginHeaders = append(fp.loginHeaders, r.Header.Clone())

		idx := len(fp.loginPosts) - 1
		if idx >= len(fp.loginResponses) {
			idx = len(fp.loginResponses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, fp.loginResponses[idx])
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (fp *fakePortal) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.captchaGets++
	fp.captchaQuery = append(fp.captchaQuery, r.URL.Query().Get("t"))
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(fp.captchaImage)
}

func (fp *fakePortal) handlePresence(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	fp.presencePosts = append(fp.presencePosts, r.PostForm)
	fp.presenceHdrs = append(fp.presenceHdrs, r.Header.Clone())
	_, _ = io.WriteString(w, fp.presenceResponse)
}

func (fp *fakePortal) set(fn func(fp *fakePortal)) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fn(fp)
}

// portalCalls is a copy of what the fake portal has recorded so far.
type portalCalls struct {
	loginGets     int
	captchaGets   int
	loginPosts    []url.Values
	loginHeaders  []http.Header
	presencePosts []url.Values
	presenceHdrs  []http.Header
	captchaQuery  []string
}

func (fp *fakePortal) calls() portalCalls {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return portalCalls{
		loginGets:     fp.loginGets,
		captchaGets:   fp.captchaGets,
		loginPosts:    append([]url.Values(nil), fp.loginPosts...),
		loginHeaders:  append([]http.Header(nil), fp.loginHeaders...),
		presencePosts: append([]url.Values(nil), fp.presencePosts...),
		presenceHdrs:  append([]http.Header(nil), fp.presenceHdrs...),
		captchaQuery:  append([]string(nil), fp.captchaQuery...),
	}
}

const testUserAgent = "attendant-test/1.0"

// newTestSession builds a Session against the fake portal through the real client stack.
func newTestSession(t *testing.T, fp *fakePortal) *Session {
	t.Helper()
	cfg := network.NewDefaultClientConfig()
	cfg.CookieJar = NewMemoryJar()
	s, err := NewSession(fp.server.URL, testUserAgent, network.NewClient(cfg), zap.NewNop())
	require.NoError(t, err)
	return s
}

// staticSolver returns a fixed sequence of captcha results; the last repeats.
type staticSolver struct {
	mu      sync.Mutex
	results []solverResult
	calls   int
}

type solverResult struct {
	text string
	err  error
}

func (s *staticSolver) Acquire(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx].text, s.results[idx].err
}
