// File: internal/portal/presence.go
package portal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ReportType is the kind of presence report.
type ReportType int

const (
	Arrival ReportType = iota
	Departure
)

// String returns the human name used in notifications and logs.
func (t ReportType) String() string {
	if t == Departure {
		return "Departure"
	}
	return "Arrival"
}

// WireValue is the portal's form value for t.
func (t ReportType) WireValue() string {
	if t == Departure {
		return "pulang"
	}
	return "masuk"
}

// ParseReportType accepts the English names and the portal's wire values.
func ParseReportType(s string) (ReportType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arrival", "masuk", "in":
		return Arrival, nil
	case "departure", "pulang", "out":
		return Departure, nil
	default:
		return Arrival, fmt.Errorf("unknown report type %q (want arrival or departure)", s)
	}
}

// DetermineReportType maps the hour of day onto a report: before noon is an
// arrival, noon onwards a departure.
func DetermineReportType(hour int) ReportType {
	if hour < 12 {
		return Arrival
	}
	return Departure
}

// PresenceRequest is the single report a run submits.
type PresenceRequest struct {
	Latitude  float64
	Longitude float64
	Type      ReportType
}

// Verdict classifies a presence response.
type Verdict int

const (
	VerdictFailure Verdict = iota
	VerdictSuccess
	// VerdictAmbiguous means no marker was found. It never counts as success.
	VerdictAmbiguous
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictAmbiguous:
		return "ambiguous"
	default:
		return "failure"
	}
}

// Succeeded reports whether the report was accepted.
func (v Verdict) Succeeded() bool { return v == VerdictSuccess }

// ClassifyOutcome judges a raw presence response. A JSON body with a status
// field is judged by that field. Anything else falls back to the portal's
// historical contract: the body contains "success" (case-sensitive).
func ClassifyOutcome(raw string) Verdict {
	if gjson.Valid(raw) {
		if status := gjson.Get(raw, "status"); status.Exists() {
			if status.String() == "success" || (status.Type == gjson.True) {
				return VerdictSuccess
			}
			return VerdictFailure
		}
	}
	if strings.Contains(raw, "success") {
		return VerdictSuccess
	}
	lower := strings.ToLower(raw)
	for _, marker := range []string{"fail", "error", "gagal"} {
		if strings.Contains(lower, marker) {
			return VerdictFailure
		}
	}
	return VerdictAmbiguous
}

// PresenceReporter submits presence reports over the session.
type PresenceReporter struct {
	session *Session
	logger  *zap.Logger
}

// NewPresenceReporter creates a reporter.
func NewPresenceReporter(session *Session, logger *zap.Logger) *PresenceReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceReporter{session: session, logger: logger.Named("presence")}
}

// Submit posts req and returns the raw response body. HTTP error statuses are
// not errors; the caller classifies the body.
func (r *PresenceReporter) Submit(ctx context.Context, req PresenceRequest) (string, error) {
	if r.session.State().AntiForgeryToken == "" {
		return "", ErrMissingToken
	}

	form := url.Values{}
	form.Set("latitude", strconv.FormatFloat(req.Latitude, 'f', -1, 64))
	form.Set("longitude", strconv.FormatFloat(req.Longitude, 'f', -1, 64))
	form.Set("type", req.Type.WireValue())

	r.logger.Info("Submitting presence report.", zap.Stringer("report_type", req.Type))
	resp, err := r.session.PostForm(ctx, PresencePath, form, nil)
	if err != nil {
		return "", err
	}
	r.logger.Debug("Presence response received.", zap.Int("status", resp.StatusCode))
	return resp.Text(), nil
}
