// File: cmd/wiring.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/attendant/internal/config"
	"github.com/xkilldash9x/attendant/internal/network"
	"github.com/xkilldash9x/attendant/internal/portal"
	"github.com/xkilldash9x/attendant/internal/recognition"
)

// portalComponents holds everything a command needs to talk to the portal.
type portalComponents struct {
	Session  *portal.Session
	Auth     *portal.Authenticator
	Probe    *portal.ModuleProbe
	Reporter *portal.PresenceReporter

	jar    *portal.FileJar
	logger *zap.Logger
}

// Shutdown persists the cookie jar, when there is one, and releases its lock.
func (c *portalComponents) Shutdown() {
	if c == nil || c.jar == nil {
		return
	}
	if err := c.jar.Save(); err != nil {
		c.logger.Warn("Failed to persist cookie jar.", zap.Error(err))
	}
	if err := c.jar.Close(); err != nil {
		c.logger.Warn("Failed to release cookie jar lock.", zap.Error(err))
	}
}

// initializePortalComponents wires the session stack from cfg. The console is
// only used by the manual recognizer.
func initializePortalComponents(ctx context.Context, cfg config.Interface, console recognition.Console, logger *zap.Logger) (*portalComponents, error) {
	pc := cfg.Portal()
	if err := pc.RequireCredentials(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(pc.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid portal base URL: %w", err)
	}

	components := &portalComponents{logger: logger}

	var jar http.CookieJar = portal.NewMemoryJar()
	if pc.CookieJar != "" {
		fj, err := portal.OpenFileJar(pc.CookieJar, base, portal.WithJarMaxAge(pc.CookieMaxAge))
		if err != nil {
			if errors.Is(err, portal.ErrJarLocked) {
				return nil, fmt.Errorf("another run is in progress: %w", err)
			}
			return nil, err
		}
		components.jar = fj
		jar = fj
	}

	cc, err := network.ClientConfigFromConfig(cfg.Network(), jar, logger.Named("network"))
	if err != nil {
		components.Shutdown()
		return nil, err
	}
	client := network.NewClient(cc)

	session, err := portal.NewSession(pc.BaseURL, pc.UserAgent, client, logger)
	if err != nil {
		components.Shutdown()
		return nil, err
	}

	recognizer, err := recognition.New(ctx, cfg.Recognition(), newRecognitionClient(cfg, logger), console, logger)
	if err != nil {
		components.Shutdown()
		return nil, fmt.Errorf("failed to initialize captcha recognition: %w", err)
	}

	var captchaOpts []portal.CaptchaOption
	if dir := cfg.Captcha().SaveDir; dir != "" {
		captchaOpts = append(captchaOpts, portal.WithCaptchaSaveDir(dir))
	}
	acquirer := portal.NewCaptchaAcquirer(session, recognizer, logger, captchaOpts...)

	components.Session = session
	components.Auth = portal.NewAuthenticator(session, acquirer,
		portal.Credentials{Username: pc.Username, Password: pc.Password},
		pc.MaxAttempts, pc.RetryDelay, logger)
	components.Probe = portal.NewModuleProbe(session, pc.ModuleMarker, logger)
	components.Reporter = portal.NewPresenceReporter(session, logger)
	return components, nil
}

// newRecognitionClient returns a client for the recognition service. It shares
// the portal's proxy and TLS policy but neither its cookies nor its pacing.
func newRecognitionClient(cfg config.Interface, logger *zap.Logger) *http.Client {
	nc := cfg.Network()
	nc.RequestsPerSecond = 0
	cc, err := network.ClientConfigFromConfig(nc, nil, logger.Named("recognition.network"))
	if err != nil {
		cc = network.NewDefaultClientConfig()
	}
	if t := cfg.Recognition().Timeout; t > 0 {
		cc.RequestTimeout = t
	}
	return network.NewClient(cc)
}

// consoleFor returns the operator console for the manual recognizer.
func consoleFor(in io.Reader, out io.Writer, cfg config.Interface) recognition.Console {
	return recognition.Console{In: in, Out: out, Dir: cfg.Captcha().SaveDir}
}
