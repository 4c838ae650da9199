// File: internal/recognition/ocrspace.go
package recognition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// DefaultOCRSpaceEndpoint is the public OCR.space parse API.
const DefaultOCRSpaceEndpoint = "https://api.ocr.space/parse/image"

// ErrNoText means the service answered but found nothing to read.
var ErrNoText = errors.New("no text recognized")

// OCRSpace reads challenges with the OCR.space API. The options mirror what
// works on the portal's captcha: English, upscaling on, table mode off,
// engine 2.
type OCRSpace struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewOCRSpace creates an OCR.space recognizer.
func NewOCRSpace(apiKey, endpoint string, client *http.Client, logger *zap.Logger) (*OCRSpace, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ocr.space requires an API key (set OCR_SPACE_API_KEY)")
	}
	if endpoint == "" {
		endpoint = DefaultOCRSpaceEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OCRSpace{apiKey: apiKey, endpoint: endpoint, client: client, logger: logger.Named("ocrspace")}, nil
}

// Recognize returns the text of the first parsed region.
func (o *OCRSpace) Recognize(ctx context.Context, image []byte) (string, error) {
	body, contentType, err := o.encode(image)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to build ocr.space request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr.space request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read ocr.space response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr.space returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return o.parse(raw)
}

func (o *OCRSpace) encode(image []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"apikey", o.apiKey},
		{"isOverlayRequired", "false"},
		{"language", "eng"},
		{"scale", "true"},
		{"isTable", "false"},
		{"OCREngine", "2"},
		{"filetype", "PNG"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to encode ocr.space field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "captcha.png")
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode ocr.space image: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, "", fmt.Errorf("failed to encode ocr.space image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize ocr.space request: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func (o *OCRSpace) parse(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("ocr.space returned a non-JSON body")
	}
	doc := gjson.ParseBytes(raw)

	if doc.Get("IsErroredOnProcessing").Bool() {
		return "", fmt.Errorf("ocr.space processing error: %s", errorMessage(doc))
	}

	text := doc.Get("ParsedResults.0.ParsedText")
	if !text.Exists() {
		return "", fmt.Errorf("%w: response has no parsed results", ErrNoText)
	}
	o.logger.Debug("Parsed challenge text.",
		zap.Int("regions", int(doc.Get("ParsedResults.#").Int())),
		zap.Int64("exit_code", doc.Get("OCRExitCode").Int()))
	return strings.TrimSpace(text.String()), nil
}

// errorMessage flattens ErrorMessage, which the API sends as a string or an array.
func errorMessage(doc gjson.Result) string {
	msg := doc.Get("ErrorMessage")
	if msg.IsArray() {
		var parts []string
		for _, m := range msg.Array() {
			parts = append(parts, m.String())
		}
		return strings.Join(parts, "; ")
	}
	if s := msg.String(); s != "" {
		return s
	}
	return "unknown error"
}
