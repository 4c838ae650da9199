// File: internal/recognition/recognizer.go
package recognition

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/attendant/internal/config"
	"github.com/xkilldash9x/attendant/internal/portal"
)

// Console is where the manual recognizer talks to the operator.
type Console struct {
	In  io.Reader
	Out io.Writer
	Dir string
}

// New builds the recognizer selected by cfg.Provider. The HTTP client is shared
// by the remote providers and should carry cfg.Timeout.
func New(ctx context.Context, cfg config.RecognitionConfig, client *http.Client, console Console, logger *zap.Logger) (portal.Recognizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	switch cfg.Provider {
	case config.ProviderOCRSpace, "":
		return NewOCRSpace(cfg.APIKey, cfg.Endpoint, client, logger)
	case config.ProviderGemini:
		return NewGemini(ctx, GeminiOptions{
			APIKey:     cfg.Gemini.APIKey,
			Model:      cfg.Gemini.Model,
			BaseURL:    cfg.Gemini.BaseURL,
			HTTPClient: client,
		}, logger)
	case config.ProviderManual:
		if console.In == nil || console.Out == nil {
			return nil, fmt.Errorf("manual recognition needs an interactive console")
		}
		return NewManual(console.Dir, console.In, console.Out), nil
	default:
		return nil, fmt.Errorf("unknown recognition provider %q", cfg.Provider)
	}
}
