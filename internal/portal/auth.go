// File: internal/portal/auth.go
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// AttemptOutcome is how a single login attempt ended.
type AttemptOutcome int

const (
	LoginSuccess AttemptOutcome = iota
	LoginRejected
	CaptchaUnreadable
)

func (o AttemptOutcome) String() string {
	switch o {
	case LoginSuccess:
		return "login_success"
	case LoginRejected:
		return "login_rejected"
	case CaptchaUnreadable:
		return "captcha_unreadable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// AttemptRecord describes one pass through the login cycle.
type AttemptRecord struct {
	Attempt       int
	Outcome       AttemptOutcome
	ServerMessage string
	Err           error
}

// AuthResult collects every attempt made by one Authenticate call.
type AuthResult struct {
	Attempts []AttemptRecord
}

// Authenticated reports whether the last attempt logged in.
func (r AuthResult) Authenticated() bool {
	return len(r.Attempts) > 0 && r.Attempts[len(r.Attempts)-1].Outcome == LoginSuccess
}

// CaptchaSolver yields the recognized text of a fresh challenge.
type CaptchaSolver interface {
	Acquire(ctx context.Context) (string, error)
}

// Credentials for the single portal account.
type Credentials struct {
	Username string
	Password string
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Authenticator runs the bounded login cycle:
// fetch login page, solve captcha, submit, and retry on rejection.
type Authenticator struct {
	session     *Session
	captcha     CaptchaSolver
	creds       Credentials
	maxAttempts int
	retryDelay  time.Duration
	sleep       Sleeper
	logger      *zap.Logger
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithSleeper replaces the inter-attempt wait.
func WithSleeper(s Sleeper) AuthOption {
	return func(a *Authenticator) { a.sleep = s }
}

// NewAuthenticator creates an Authenticator. maxAttempts below 1 is treated as 1.
func NewAuthenticator(session *Session, captcha CaptchaSolver, creds Credentials, maxAttempts int, retryDelay time.Duration, logger *zap.Logger, opts ...AuthOption) *Authenticator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authenticator{
		session:     session,
		captcha:     captcha,
		creds:       creds,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		sleep:       SleepContext,
		logger:      logger.Named("auth"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type loginResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Authenticate logs in. On success the session holds an authenticated cookie
// set. When every attempt fails it returns ErrAuthenticationExhausted wrapping
// the last attempt's cause. Context cancellation is returned as is.
func (a *Authenticator) Authenticate(ctx context.Context) (AuthResult, error) {
	var result AuthResult

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		rec := a.attempt(ctx, attempt)
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempts = append(result.Attempts, rec)
		a.logAttempt(rec)

		if rec.Outcome == LoginSuccess {
			return result, nil
		}
		if attempt == a.maxAttempts {
			return result, fmt.Errorf("%w after %d attempts: %w", ErrAuthenticationExhausted, attempt, rec.Err)
		}
		// A fresh page always brings a fresh challenge, so an unreadable
		// image is retried at once. Rejections wait for the portal to settle.
		if rec.Outcome == LoginRejected {
			if err := a.sleep(ctx, a.retryDelay); err != nil {
				return result, err
			}
		}
	}
	return result, fmt.Errorf("%w: no attempts made", ErrAuthenticationExhausted)
}

func (a *Authenticator) attempt(ctx context.Context, n int) AttemptRecord {
	rec := AttemptRecord{Attempt: n}

	// FetchingLoginPage
	page, err := a.session.Get(ctx, LoginPath)
	if err != nil {
		rec.Outcome = LoginRejected
		rec.Err = fmt.Errorf("%w: login page: %w", ErrAuthenticationRejected, err)
		return rec
	}
	tokens := ExtractTokens(page.Text())
	a.session.Observe(tokens)

	// Only tokens issued by this iteration's page are trusted; the portal
	// rotates both with every challenge. The check precedes the captcha so a
	// doomed attempt never spends a recognition call.
	if tokens.AntiForgery == "" || tokens.Verification == "" {
		a.logger.Warn("Login page is missing a token.",
			zap.Int("attempt", n),
			zap.Bool("anti_forgery", tokens.AntiForgery != ""),
			zap.Bool("verification", tokens.Verification != ""))
		rec.Outcome = LoginRejected
		rec.Err = fmt.Errorf("%w: %w", ErrAuthenticationRejected, ErrMissingToken)
		return rec
	}

	// SolvingCaptcha
	text, err := a.captcha.Acquire(ctx)
	if err != nil {
		rec.Outcome = CaptchaUnreadable
		rec.Err = err
		return rec
	}

	// Submitting
	resp, err := a.session.PostMultipart(ctx, LoginPath, []FormField{
		{Name: "tkv", Value: tokens.Verification},
		{Name: "username", Value: a.creds.Username},
		{Name: "password", Value: a.creds.Password},
		{Name: "kv-captcha", Value: text},
	}, nil)
	if err != nil {
		rec.Outcome = LoginRejected
		rec.Err = fmt.Errorf("%w: %w", ErrAuthenticationRejected, err)
		return rec
	}

	var lr loginResponse
	if err := json.Unmarshal(resp.Body, &lr); err != nil {
		rec.Outcome = LoginRejected
		rec.ServerMessage = snippet(resp.Text(), 200)
		rec.Err = fmt.Errorf("%w: unparseable response (status %d)", ErrAuthenticationRejected, resp.StatusCode)
		return rec
	}
	if lr.Status == "success" {
		rec.Outcome = LoginSuccess
		rec.ServerMessage = lr.Message
		return rec
	}

	rec.Outcome = LoginRejected
	rec.ServerMessage = lr.Message
	msg := lr.Message
	if msg == "" {
		msg = fmt.Sprintf("status %q", lr.Status)
	}
	rec.Err = fmt.Errorf("%w: %s", ErrAuthenticationRejected, msg)
	return rec
}

func (a *Authenticator) logAttempt(rec AttemptRecord) {
	fields := []zap.Field{
		zap.Int("attempt", rec.Attempt),
		zap.Int("max_attempts", a.maxAttempts),
		zap.Stringer("outcome", rec.Outcome),
	}
	if rec.ServerMessage != "" {
		fields = append(fields, zap.String("server_message", rec.ServerMessage))
	}
	switch {
	case rec.Outcome == LoginSuccess:
		a.logger.Info("Session established.", fields...)
	case errors.Is(rec.Err, ErrCaptchaFailure):
		a.logger.Warn("Captcha unreadable, fetching a new one.", append(fields, zap.Error(rec.Err))...)
	default:
		a.logger.Warn("Login rejected.", append(fields, zap.Error(rec.Err))...)
	}
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
