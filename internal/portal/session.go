// File: internal/portal/session.go
package portal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Portal paths.
const (
	LoginPath    = "/authentication/login"
	CaptchaPath  = "/authentication/captcha"
	StatusPath   = "/statistic"
	PresencePath = "/presence/save"
)

const (
	headerAntiForgery = "KV-TOKEN"
	headerRequestedBy = "X-Requested-With"

	// maxBodyBytes caps how much of any portal response is buffered.
	maxBodyBytes = 8 << 20
)

// State is a snapshot of everything the session carries between calls.
// It is a value: the Session replaces it whenever a new token or cookie set
// is observed and never mutates a published State.
type State struct {
	AntiForgeryToken  string
	VerificationToken string
	Cookies           []*http.Cookie
}

// withTokens returns a copy carrying any non-empty token from t.
func (s State) withTokens(t Tokens) State {
	next := s
	if t.AntiForgery != "" {
		next.AntiForgeryToken = t.AntiForgery
	}
	if t.Verification != "" {
		next.VerificationToken = t.Verification
	}
	return next
}

// withCookies returns a copy carrying cookies.
func (s State) withCookies(cookies []*http.Cookie) State {
	next := s
	next.Cookies = append([]*http.Cookie(nil), cookies...)
	return next
}

func sameCookies(a, b []*http.Cookie) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Value != b[i].Value {
			return false
		}
	}
	return true
}

// Response is a fully buffered portal response. Non-2xx statuses are
// ordinary responses; callers judge success from the body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// URL is the final URL after redirects.
	URL string
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// FormField is one ordered multipart field.
type FormField struct {
	Name  string
	Value string
}

// Session owns the HTTP client, the cookie jar and the current State for one run.
type Session struct {
	client    *http.Client
	base      *url.URL
	userAgent string
	logger    *zap.Logger

	mu    sync.RWMutex
	state State
}

// NewSession creates a Session against baseURL. The client must carry a cookie jar.
func NewSession(baseURL, userAgent string, client *http.Client, logger *zap.Logger) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid portal base URL %q", baseURL)
	}
	if client == nil || client.Jar == nil {
		return nil, fmt.Errorf("session requires an http.Client with a cookie jar")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		client:    client,
		base:      base,
		userAgent: userAgent,
		logger:    logger.Named("session"),
	}
	// Cookies restored from a persisted jar are part of the initial state.
	s.state = State{}.withCookies(client.Jar.Cookies(base))
	return s, nil
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Observe folds freshly extracted tokens into the session, replacing the State
// if anything changed. It reports whether a replacement happened.
func (s *Session) Observe(t Tokens) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.withTokens(t)
	if next.AntiForgeryToken == s.state.AntiForgeryToken && next.VerificationToken == s.state.VerificationToken {
		return false
	}
	s.state = next
	return true
}

// URL resolves a portal path against the base URL.
func (s *Session) URL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return s.base.String() + path
	}
	return s.base.ResolveReference(ref).String()
}

// Get performs a GET against a portal path.
func (s *Session) Get(ctx context.Context, path string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return s.do(req, false)
}

// PostForm sends an urlencoded POST carrying the anti-forgery header.
func (s *Session) PostForm(ctx context.Context, path string, values url.Values, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL(path), strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	copyHeaders(req.Header, headers)
	return s.do(req, true)
}

// PostMultipart sends a multipart/form-data POST carrying the anti-forgery header.
// Fields are written in order.
func (s *Session) PostMultipart(ctx context.Context, path string, fields []FormField, headers http.Header) (*Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL(path), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	copyHeaders(req.Header, headers)
	return s.do(req, true)
}

func (s *Session) do(req *http.Request, mutating bool) (*Response, error) {
	req.Header.Set("User-Agent", s.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	}
	if mutating {
		req.Header.Set(headerRequestedBy, "XMLHttpRequest")
		if token := s.State().AntiForgeryToken; token != "" {
			req.Header.Set(headerAntiForgery, token)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	s.syncCookies()
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	}

	s.logger.Debug("Portal call completed.",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL.String(),
	}, nil
}

// syncCookies replaces the State when the jar's view of the portal changed.
func (s *Session) syncCookies() {
	cookies := s.client.Jar.Cookies(s.base)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sameCookies(s.state.Cookies, cookies) {
		return
	}
	s.state = s.state.withCookies(cookies)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
