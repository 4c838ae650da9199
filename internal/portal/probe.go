// File: internal/portal/probe.go
package portal

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// ProbeResult is what the module probe saw.
type ProbeResult struct {
	Available  bool
	StatusCode int
	// Page is the raw page, kept for `attendant probe --dump`.
	Page string
}

// ModuleProbe checks that the authenticated session can see the presence
// module. It is a heuristic: it looks for a marker string on an HTML page
// because the portal exposes no structured endpoint for this.
type ModuleProbe struct {
	session *Session
	path    string
	marker  string
	logger  *zap.Logger
}

// NewModuleProbe creates a probe looking for marker on the statistics page.
func NewModuleProbe(session *Session, marker string, logger *zap.Logger) *ModuleProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModuleProbe{session: session, path: StatusPath, marker: marker, logger: logger.Named("probe")}
}

// Check reports whether the marker is present. An absent marker is false with
// a nil error; only transport failures return an error.
func (p *ModuleProbe) Check(ctx context.Context) (bool, error) {
	res, err := p.Inspect(ctx)
	if err != nil {
		return false, err
	}
	return res.Available, nil
}

// Inspect fetches the probe page and returns it along with the verdict.
// A page that re-issues an anti-forgery token refreshes the session.
func (p *ModuleProbe) Inspect(ctx context.Context) (ProbeResult, error) {
	resp, err := p.session.Get(ctx, p.path)
	if err != nil {
		return ProbeResult{}, err
	}
	page := resp.Text()

	if p.session.Observe(ExtractTokens(page)) {
		p.logger.Debug("Probe page re-issued a token; session state refreshed.")
	}

	res := ProbeResult{
		Available:  p.marker != "" && strings.Contains(page, p.marker),
		StatusCode: resp.StatusCode,
		Page:       page,
	}
	if res.Available {
		p.logger.Info("Presence module is available.")
	} else {
		p.logger.Warn("Presence module marker not found.", zap.String("marker", p.marker), zap.Int("status", resp.StatusCode))
	}
	return res, nil
}
