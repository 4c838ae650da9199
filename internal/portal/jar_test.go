// File: internal/portal/jar_test.go
package portal

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendant/internal/network"
)

func TestFileJar_PersistsAcrossRuns(t *testing.T) {
	fp := newFakePortal(t)
	base, err := url.Parse(fp.server.URL)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "state", "cookies.json")

	// First run logs in and saves.
	jar, err := OpenFileJar(path, base)
	require.NoError(t, err)
	cfg := network.NewDefaultClientConfig()
	cfg.CookieJar = jar
	s, err := NewSession(fp.server.URL, testUserAgent, network.NewClient(cfg), zap.NewNop())
	require.NoError(t, err)
	_, err = s.Get(context.Background(), LoginPath)
	require.NoError(t, err)
	require.NoError(t, jar.Save())
	require.NoError(t, jar.Close())

	// Second run starts with the saved cookie in its initial state.
	jar2, err := OpenFileJar(path, base)
	require.NoError(t, err)
	defer jar2.Close()
	cfg2 := network.NewDefaultClientConfig()
	cfg2.CookieJar = jar2
	s2, err := NewSession(fp.server.URL, testUserAgent, network.NewClient(cfg2), nil)
	require.NoError(t, err)

	cookies := s2.State().Cookies
	require.Len(t, cookies, 1)
	assert.Equal(t, "ci_session", cookies[0].Name)
	assert.Equal(t, "sess-1", cookies[0].Value)
}

func TestFileJar_ExclusiveLock(t *testing.T) {
	base, _ := url.Parse("https://portal.example")
	path := filepath.Join(t.TempDir(), "cookies.json")

	first, err := OpenFileJar(path, base)
	require.NoError(t, err)

	_, err = OpenFileJar(path, base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJarLocked))

	require.NoError(t, first.Close())
	second, err := OpenFileJar(path, base)
	require.NoError(t, err, "lock is released on Close")
	require.NoError(t, second.Close())
}

func TestFileJar_CorruptOrForeignFile(t *testing.T) {
	base, _ := url.Parse("https://portal.example")
	dir := t.TempDir()

	t.Run("corrupt file is discarded", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		jar, err := OpenFileJar(path, base)
		require.NoError(t, err)
		defer jar.Close()
		assert.Empty(t, jar.Cookies(base))
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("cookies for another portal are ignored", func(t *testing.T) {
		path := filepath.Join(dir, "foreign.json")
		other, _ := url.Parse("https://other.example")
		jar, err := OpenFileJar(path, other)
		require.NoError(t, err)
		jar.SetCookies(other, []*http.Cookie{{Name: "a", Value: "b", Path: "/"}})
		require.NoError(t, jar.Save())
		require.NoError(t, jar.Close())

		mine, err := OpenFileJar(path, base)
		require.NoError(t, err)
		defer mine.Close()
		assert.Empty(t, mine.Cookies(base))
	})
}

func TestFileJar_StaleJarIsIgnored(t *testing.T) {
	base, _ := url.Parse("https://portal.example")
	path := filepath.Join(t.TempDir(), "cookies.json")
	saved := time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)

	jar, err := OpenFileJar(path, base, WithJarMaxAge(time.Hour), withJarClock(func() time.Time { return saved }))
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{{Name: "ci_session", Value: "old", Path: "/"}})
	require.NoError(t, jar.Save())
	require.NoError(t, jar.Close())

	t.Run("within max age", func(t *testing.T) {
		j, err := OpenFileJar(path, base, WithJarMaxAge(time.Hour), withJarClock(func() time.Time { return saved.Add(30 * time.Minute) }))
		require.NoError(t, err)
		defer j.Close()
		require.Len(t, j.Cookies(base), 1)
	})

	t.Run("past max age", func(t *testing.T) {
		j, err := OpenFileJar(path, base, WithJarMaxAge(time.Hour), withJarClock(func() time.Time { return saved.Add(2 * time.Hour) }))
		require.NoError(t, err)
		defer j.Close()
		assert.Empty(t, j.Cookies(base))
	})
}
