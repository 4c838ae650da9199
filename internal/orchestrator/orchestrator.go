// File: internal/orchestrator/orchestrator.go
// Description: Runs one presence report end to end. It is injected with fully
// configured portal components via interfaces, making it decoupled and testable.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendant/internal/notify"
	"github.com/xkilldash9x/attendant/internal/observability"
	"github.com/xkilldash9x/attendant/internal/portal"
)

// Status is the terminal state of a run, as written to the "Run finished" log line.
type Status string

const (
	StatusReported          Status = "reported"
	StatusReportFailed      Status = "report_failed"
	StatusNonWorkday        Status = "non_workday"
	StatusAuthExhausted     Status = "auth_exhausted"
	StatusModuleUnavailable Status = "module_unavailable"
	StatusDryRun            Status = "dry_run"
	StatusCancelled         Status = "cancelled"
	StatusError             Status = "error"
)

// Authenticator establishes an authenticated portal session.
type Authenticator interface {
	Authenticate(ctx context.Context) (portal.AuthResult, error)
}

// Prober tells whether the presence module is open.
type Prober interface {
	Check(ctx context.Context) (bool, error)
}

// Reporter submits a presence report and returns the raw response.
type Reporter interface {
	Submit(ctx context.Context, req portal.PresenceRequest) (string, error)
}

// Dispatcher delivers notifications without blocking the run.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg notify.Message)
}

// Components are the collaborators of a run.
type Components struct {
	Auth     Authenticator
	Probe    Prober
	Reporter Reporter
	Notifier Dispatcher
}

// Settings holds the run policy.
type Settings struct {
	Location                   *time.Location
	Latitude                   float64
	Longitude                  float64
	ProceedOnUnavailableModule bool
	NotifyOnAuthFailure        bool

	// Force skips the workday gate.
	Force bool
	// ReportType, when set, overrides the time-of-day choice.
	ReportType *portal.ReportType
	// DryRun stops before submitting.
	DryRun bool
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID       string
	Status      Status
	ReportType  portal.ReportType
	Succeeded   bool
	RawResponse string
	Attempts    int
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         error
}

// Orchestrator sequences a single run.
type Orchestrator struct {
	components Components
	settings   Settings
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunIDs replaces the run ID generator.
func WithRunIDs(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// New creates an Orchestrator. Every component is required.
func New(components Components, settings Settings, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if components.Auth == nil ||
		components.Probe == nil ||
		components.Reporter == nil ||
		components.Notifier == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil components")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Location == nil {
		settings.Location = time.Local
	}
	o := &Orchestrator{
		components: components,
		settings:   settings,
		logger:     logger.Named("orchestrator"),
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// IsWorkday reports whether t falls Monday through Friday.
func IsWorkday(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// Run executes one run and always returns an Outcome.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	started := o.now().In(o.settings.Location)
	out := Outcome{RunID: o.newID(), StartedAt: started}
	logger := o.logger.With(zap.String(observability.FieldRunID, out.RunID))

	defer func() {
		out.FinishedAt = o.now().In(o.settings.Location)
		o.logFinished(logger, &out)
	}()

	out.ReportType = o.reportType(started)

	if !o.settings.Force && !IsWorkday(started) {
		logger.Info("Not a workday, nothing to do.", zap.String("weekday", started.Weekday().String()))
		out.Status = StatusNonWorkday
		return out
	}

	logger.Info("Starting run.",
		zap.String(observability.FieldReportType, out.ReportType.String()),
		zap.Bool("dry_run", o.settings.DryRun))

	// -- Authentication --
	auth, err := o.components.Auth.Authenticate(ctx)
	out.Attempts = len(auth.Attempts)
	if err != nil {
		out.Err = err
		switch {
		case ctx.Err() != nil:
			out.Status = StatusCancelled
		case errors.Is(err, portal.ErrAuthenticationExhausted):
			out.Status = StatusAuthExhausted
			if o.settings.NotifyOnAuthFailure {
				o.notify(ctx, &out, fmt.Sprintf("Login failed after %d attempts: %v", out.Attempts, err))
			}
		default:
			out.Status = StatusError
			o.notify(ctx, &out, fmt.Sprintf("Run aborted during login: %v", err))
		}
		return out
	}

	// -- Module probe --
	available, err := o.components.Probe.Check(ctx)
	if err != nil {
		if ctx.Err() != nil {
			out.Status, out.Err = StatusCancelled, err
			return out
		}
		logger.Warn("Module probe failed.", zap.Error(err))
	}
	if !available {
		if !o.settings.ProceedOnUnavailableModule {
			out.Status = StatusModuleUnavailable
			out.Err = portal.ErrModuleUnavailable
			if err != nil {
				out.Err = fmt.Errorf("%w: %w", portal.ErrModuleUnavailable, err)
			}
			o.notify(ctx, &out, "The presence module was not available; no report was submitted.")
			return out
		}
		logger.Warn("Presence module marker not found, submitting anyway.")
	}

	req := portal.PresenceRequest{
		Latitude:  o.settings.Latitude,
		Longitude: o.settings.Longitude,
		Type:      out.ReportType,
	}

	if o.settings.DryRun {
		logger.Info("Dry run, skipping submission.",
			zap.String(observability.FieldReportType, req.Type.String()),
			zap.Float64("latitude", req.Latitude),
			zap.Float64("longitude", req.Longitude))
		out.Status = StatusDryRun
		return out
	}

	// -- Submission --
	raw, err := o.components.Reporter.Submit(ctx, req)
	out.RawResponse = raw
	if err != nil {
		out.Err = err
		if ctx.Err() != nil {
			out.Status = StatusCancelled
			return out
		}
		out.Status = StatusReportFailed
		o.notify(ctx, &out, fmt.Sprintf("Submission failed: %v", err))
		return out
	}

	verdict := portal.ClassifyOutcome(raw)
	out.Succeeded = verdict.Succeeded()
	switch verdict {
	case portal.VerdictSuccess:
		out.Status = StatusReported
	case portal.VerdictAmbiguous:
		out.Status = StatusReportFailed
		out.Err = portal.ErrReportAmbiguous
	default:
		out.Status = StatusReportFailed
	}
	logger.Info("Presence report submitted.",
		zap.String(observability.FieldReportType, out.ReportType.String()),
		zap.String("verdict", verdict.String()))

	o.notify(ctx, &out, "")
	return out
}

func (o *Orchestrator) reportType(t time.Time) portal.ReportType {
	if o.settings.ReportType != nil {
		return *o.settings.ReportType
	}
	return portal.DetermineReportType(t.Hour())
}

// notify sends the single notification of a run.
func (o *Orchestrator) notify(ctx context.Context, out *Outcome, detail string) {
	o.components.Notifier.Dispatch(ctx, BuildMessage(*out, o.now().In(o.settings.Location), detail))
}

// BuildMessage renders the notification for an outcome.
func BuildMessage(out Outcome, at time.Time, detail string) notify.Message {
	verb := "failed"
	if out.Succeeded {
		verb = "success"
	}
	subject := fmt.Sprintf("Presence report %s: %s", verb, out.ReportType)

	body := fmt.Sprintf("Presence report (%s) %s at %s.\nRun: %s\nStatus: %s\n",
		out.ReportType, verb, at.Format("2006-01-02 15:04:05 MST"), out.RunID, out.Status)
	if detail != "" {
		body += "\n" + detail + "\n"
	}
	if !out.Succeeded && out.RawResponse != "" {
		body += "\nServer response:\n" + out.RawResponse + "\n"
	}

	return notify.Message{
		Subject:    subject,
		Body:       body,
		RunID:      out.RunID,
		Status:     string(out.Status),
		ReportType: out.ReportType.String(),
		Succeeded:  out.Succeeded,
		Timestamp:  at,
	}
}

func (o *Orchestrator) logFinished(logger *zap.Logger, out *Outcome) {
	fields := []zap.Field{
		zap.String(observability.FieldStatus, string(out.Status)),
		zap.String(observability.FieldReportType, out.ReportType.String()),
		zap.Int(observability.FieldAttempts, out.Attempts),
		zap.Bool(observability.FieldSucceeded, out.Succeeded),
		zap.Duration("duration", out.FinishedAt.Sub(out.StartedAt)),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	logger.Info(observability.RunFinishedMessage, fields...)
}
