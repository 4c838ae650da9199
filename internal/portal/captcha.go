// File: internal/portal/captcha.go
package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Recognizer turns a challenge image into raw text. Implementations live in
// internal/recognition.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, image []byte) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// CaptchaChallenge is one downloaded challenge image.
type CaptchaChallenge struct {
	Image      []byte
	AcquiredAt time.Time
}

// NormalizeCaptcha keeps only ASCII letters and digits.
func NormalizeCaptcha(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CaptchaAcquirer downloads a fresh challenge for the current session and
// asks a Recognizer to read it.
type CaptchaAcquirer struct {
	session    *Session
	recognizer Recognizer
	logger     *zap.Logger
	now        func() time.Time
	saveDir    string
}

// CaptchaOption configures a CaptchaAcquirer.
type CaptchaOption func(*CaptchaAcquirer)

// WithCaptchaClock replaces time.Now, which feeds the cache-busting parameter.
func WithCaptchaClock(now func() time.Time) CaptchaOption {
	return func(a *CaptchaAcquirer) { a.now = now }
}

// WithCaptchaSaveDir keeps a copy of every challenge image in dir.
func WithCaptchaSaveDir(dir string) CaptchaOption {
	return func(a *CaptchaAcquirer) { a.saveDir = dir }
}

// NewCaptchaAcquirer creates an acquirer over session.
func NewCaptchaAcquirer(session *Session, recognizer Recognizer, logger *zap.Logger, opts ...CaptchaOption) *CaptchaAcquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &CaptchaAcquirer{
		session:    session,
		recognizer: recognizer,
		logger:     logger.Named("captcha"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fetch downloads a new challenge image. The millisecond timestamp parameter
// makes the portal issue a fresh image bound to the session cookie.
func (a *CaptchaAcquirer) Fetch(ctx context.Context) (CaptchaChallenge, error) {
	acquiredAt := a.now()
	path := CaptchaPath + "?t=" + strconv.FormatInt(acquiredAt.UnixMilli(), 10)

	resp, err := a.session.Get(ctx, path)
	if err != nil {
		return CaptchaChallenge{}, fmt.Errorf("%w: %w", ErrCaptchaFailure, err)
	}
	if len(resp.Body) == 0 {
		return CaptchaChallenge{}, fmt.Errorf("%w: empty challenge image (status %d)", ErrCaptchaFailure, resp.StatusCode)
	}
	return CaptchaChallenge{Image: resp.Body, AcquiredAt: acquiredAt}, nil
}

// Acquire fetches a challenge and returns its normalized text. Every failure,
// recognizer errors included, is reported as ErrCaptchaFailure.
func (a *CaptchaAcquirer) Acquire(ctx context.Context) (string, error) {
	challenge, err := a.Fetch(ctx)
	if err != nil {
		return "", err
	}
	a.save(challenge)

	raw, err := a.recognizer.Recognize(ctx, challenge.Image)
	if err != nil {
		return "", fmt.Errorf("%w: recognizer: %w", ErrCaptchaFailure, err)
	}

	text := NormalizeCaptcha(strings.TrimSpace(raw))
	if text == "" {
		return "", fmt.Errorf("%w: recognizer returned no usable characters", ErrCaptchaFailure)
	}
	a.logger.Debug("Challenge recognized.", zap.Int("length", len(text)))
	return text, nil
}

func (a *CaptchaAcquirer) save(c CaptchaChallenge) {
	if a.saveDir == "" {
		return
	}
	if err := os.MkdirAll(a.saveDir, 0o755); err != nil {
		a.logger.Warn("Could not create captcha directory.", zap.Error(err))
		return
	}
	name := filepath.Join(a.saveDir, fmt.Sprintf("captcha-%d.png", c.AcquiredAt.UnixMilli()))
	if err := os.WriteFile(name, c.Image, 0o644); err != nil {
		a.logger.Warn("Could not save challenge image.", zap.Error(err))
		return
	}
	a.logger.Debug("Challenge image saved.", zap.String("path", name))
}
