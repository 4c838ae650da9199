// File: internal/portal/jar.go
package portal

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	json "github.com/json-iterator/go"
	"golang.org/x/net/publicsuffix"
)

// NewMemoryJar returns an in-memory jar using the public suffix list.
func NewMemoryJar() http.CookieJar {
	// Only invalid options make cookiejar.New fail.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

type storedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

type jarFile struct {
	URL     string         `json:"url"`
	SavedAt time.Time      `json:"saved_at"`
	Cookies []storedCookie `json:"cookies"`
}

// DefaultJarMaxAge bounds how long saved cookies are trusted. cookiejar hides
// the server's expiry and Secure attributes, so the save time stands in for them.
const DefaultJarMaxAge = 12 * time.Hour

// FileJar is a cookie jar persisted to a JSON file between runs. The file is
// held under an exclusive lock from OpenFileJar until Close, so two runs can
// never share it.
type FileJar struct {
	*cookiejar.Jar
	path   string
	base   *url.URL
	lock   *flock.Flock
	maxAge time.Duration
	now    func() time.Time
}

// JarOption configures a FileJar.
type JarOption func(*FileJar)

// WithJarMaxAge sets how old a saved jar may be before it is ignored. Zero or
// negative keeps DefaultJarMaxAge.
func WithJarMaxAge(d time.Duration) JarOption {
	return func(j *FileJar) {
		if d > 0 {
			j.maxAge = d
		}
	}
}

func withJarClock(now func() time.Time) JarOption {
	return func(j *FileJar) { j.now = now }
}

// OpenFileJar locks path and loads any cookies saved for base. It fails fast
// with ErrJarLocked when another process holds the lock. A missing or corrupt
// file yields an empty jar, since the next login re-establishes the session.
func OpenFileJar(path string, base *url.URL, opts ...JarOption) (*FileJar, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cookie jar directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock cookie jar: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrJarLocked, path)
	}

	inner, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	j := &FileJar{Jar: inner, path: path, base: base, lock: lock, maxAge: DefaultJarMaxAge, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}

	if err := j.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		// Stale or hand-edited file. Start clean.
		_ = os.Remove(path)
	}
	return j, nil
}

func (j *FileJar) load() error {
	data, err := os.ReadFile(j.path)
	if err != nil {
		return err
	}
	var f jarFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to decode cookie jar: %w", err)
	}
	if f.URL != j.base.String() {
		return nil
	}
	now := j.now()
	if f.SavedAt.IsZero() || now.Sub(f.SavedAt) > j.maxAge {
		return nil
	}

	cookies := make([]*http.Cookie, 0, len(f.Cookies))
	for _, c := range f.Cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		// Expiry was enforced above; the restored cookie lives for this run only.
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: path})
	}
	j.SetCookies(j.base, cookies)
	return nil
}

// Save writes the cookies currently visible for the portal, each stamped to
// expire maxAge from now. The write goes to a temporary file first so a killed
// run never leaves a torn jar.
func (j *FileJar) Save() error {
	savedAt := j.now().UTC()
	f := jarFile{URL: j.base.String(), SavedAt: savedAt}
	for _, c := range j.Cookies(j.base) {
		f.Cookies = append(f.Cookies, storedCookie{Name: c.Name, Value: c.Value, Expires: savedAt.Add(j.maxAge)})
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookie jar: %w", err)
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie jar: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("failed to replace cookie jar: %w", err)
	}
	return nil
}

// Close releases the file lock.
func (j *FileJar) Close() error {
	return j.lock.Unlock()
}
