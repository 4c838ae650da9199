// File: internal/recognition/gemini.go
package recognition

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const geminiPrompt = "This image is a login captcha. Reply with only the characters shown, " +
	"letters and digits, no spaces and no explanation."

// Gemini reads challenges with a Gemini vision model.
type Gemini struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// GeminiOptions configures NewGemini.
type GeminiOptions struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint (used by tests and proxies).
	BaseURL    string
	HTTPClient *http.Client
}

// NewGemini creates a Gemini recognizer against the Gemini Developer API.
func NewGemini(ctx context.Context, opts GeminiOptions, logger *zap.Logger) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini requires an API key (set GEMINI_API_KEY)")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: opts.Model, logger: logger.Named("gemini")}, nil
}

// Recognize sends the image with a transcription prompt and returns the reply text.
func (g *Gemini) Recognize(ctx context.Context, image []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, sniffImageType(image)),
			genai.NewPartFromText(geminiPrompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned an empty reply", ErrNoText)
	}
	g.logger.Debug("Gemini replied.", zap.String("model", g.model))
	return text, nil
}

// sniffImageType returns the MIME type of the image, defaulting to PNG.
func sniffImageType(image []byte) string {
	ct := http.DetectContentType(image)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/png"
}
