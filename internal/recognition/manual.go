// File: internal/recognition/manual.go
package recognition

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Manual asks an operator to read the challenge. The image is written to disk
// so it can be opened while the prompt waits.
type Manual struct {
	dir string
	in  *bufio.Reader
	out io.Writer
}

// NewManual creates a manual recognizer. Images land in dir (the OS temp dir if empty).
func NewManual(dir string, in io.Reader, out io.Writer) *Manual {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Manual{dir: dir, in: bufio.NewReader(in), out: out}
}

// Recognize saves the image, prompts, and returns the typed line.
func (m *Manual) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create captcha directory: %w", err)
	}
	path := filepath.Join(m.dir, "captcha-manual.png")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		return "", fmt.Errorf("failed to write captcha image: %w", err)
	}
	fmt.Fprintf(m.out, "Captcha saved to %s\nEnter the characters shown: ", path)

	type line struct {
		text string
		err  error
	}
	// The read itself cannot be interrupted; on cancellation the goroutine
	// finishes once stdin delivers a line or closes.
	ch := make(chan line, 1)
	go func() {
		text, err := m.in.ReadString('\n')
		ch <- line{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-ch:
		if l.err != nil && (l.err != io.EOF || l.text == "") {
			return "", fmt.Errorf("failed to read captcha input: %w", l.err)
		}
		return strings.TrimSpace(l.text), nil
	}
}
