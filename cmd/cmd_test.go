// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/attendant/internal/observability"
	"github.com/xkilldash9x/attendant/internal/orchestrator"
	"github.com/xkilldash9x/attendant/internal/portal"
)

// -- Test Helpers --

// testPortal serves the portal endpoints plus an OCR.space stand-in.
type testPortal struct {
	server *httptest.Server

	mu            sync.Mutex
	loginResponse string
	loginPosts    int
	presenceForms []url.Values
}

func newTestPortal(t *testing.T) *testPortal {
	t.Helper()
	tp := &testPortal{loginResponse: `{"status":"success","message":"ok"}`}

	mux := http.NewServeMux()
	mux.HandleFunc(portal.LoginPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "ci_session", Value: "abc", Path: "/"})
			io.WriteString(w, `<meta name="csrf-token" content="csrf-1"><input name="tkv" value="tkv-1">`)
			return
		}
		tp.mu.Lock()
		defer tp.mu.Unlock()
		tp.loginPosts++
		io.WriteString(w, tp.loginResponse)
	})
	mux.HandleFunc(portal.CaptchaPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\x89PNG captcha"))
	})
	mux.HandleFunc(portal.StatusPath, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<h3>PRESENSI MASUK</h3>`)
	})
	mux.HandleFunc(portal.PresencePath, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		tp.mu.Lock()
		tp.presenceForms = append(tp.presenceForms, r.PostForm)
		tp.mu.Unlock()
		io.WriteString(w, `{"status":"success","message":"Presensi berhasil"}`)
	})
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ParsedResults":[{"ParsedText":"AB12"}],"IsErroredOnProcessing":false}`)
	})

	tp.server = httptest.NewServer(mux)
	t.Cleanup(tp.server.Close)
	return tp
}

// isolate points every config source at the test's temp dir and fake servers.
func isolate(t *testing.T, tp *testPortal) string {
	t.Helper()
	dir := t.TempDir()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	env := map[string]string{
		"ATTENDANT_LOGGER_LOG_FILE":                      filepath.Join(dir, "attendant.log"),
		"ATTENDANT_LOGGER_FORMAT":                        "json",
		"ATTENDANT_NETWORK_REQUESTS_PER_SECOND":          "0",
		"ATTENDANT_PORTAL_RETRY_DELAY":                   "1ms",
		"ATTENDANT_PORTAL_COOKIE_JAR":                    "",
		"ATTENDANT_NOTIFY_WEBHOOK_URL":                   "",
		"ATTENDANT_SCHEDULE_TIMEZONE":                    "UTC",
		"STARASN_USERNAME":                               "199001012020011001",
		"STARASN_PASSWORD":                               "hunter2",
		"OCR_SPACE_API_KEY":                              "test-key",
		"LATITUDE":                                       "-0.5022",
		"LONGITUDE":                                      "117.1536",
		"EMAIL_FROM":                                     "",
		"EMAIL_TO":                                       "",
		"ATTENDANT_RECOGNITION_PROVIDER":                 "ocrspace",
		"ATTENDANT_POLICY_PROCEED_ON_UNAVAILABLE_MODULE": "true",
	}
	if tp != nil {
		env["ATTENDANT_PORTAL_BASE_URL"] = tp.server.URL
		env["ATTENDANT_RECOGNITION_ENDPOINT"] = tp.server.URL + "/ocr"
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	return dir
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--env-file", filepath.Join(dir, "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// -- Test Cases --

func TestVersion(t *testing.T) {
	dir := isolate(t, nil)
	out, err := execute(t, dir, "version")
	require.NoError(t, err)
	assert.Equal(t, "attendant version dev\n", out)

	out, err = execute(t, dir, "--version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestConfigShow_OmitsSecrets(t *testing.T) {
	dir := isolate(t, nil)
	out, err := execute(t, dir, "config", "show")
	require.NoError(t, err)

	assert.Contains(t, out, "base_url: https://star-asn.kemenimipas.go.id")
	assert.Contains(t, out, "max_attempts: 5")
	assert.Contains(t, out, "retry_delay: 1ms")
	assert.Contains(t, out, "# credentials: set")
	assert.Contains(t, out, "username: \"199001012020011001\"")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "test-key")
}

func TestEnvFile_LoadsLegacyNames(t *testing.T) {
	dir := isolate(t, nil)
	t.Setenv("STARASN_USERNAME", "")
	os.Unsetenv("STARASN_USERNAME")

	envFile := filepath.Join(dir, "creds.env")
	require.NoError(t, os.WriteFile(envFile, []byte("STARASN_USERNAME=from-dotenv\n"), 0o600))

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--env-file", envFile, "config", "show"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "username: from-dotenv")
}

func TestConfig_InvalidFileIsAnError(t *testing.T) {
	dir := isolate(t, nil)
	_, err := execute(t, dir, "--config", filepath.Join(dir, "nope.yaml"), "config", "show")
	assert.Error(t, err)
}

func TestRun_EndToEnd(t *testing.T) {
	tp := newTestPortal(t)
	dir := isolate(t, tp)
	jarPath := filepath.Join(dir, "state", "cookies.json")
	t.Setenv("ATTENDANT_PORTAL_COOKIE_JAR", jarPath)
	t.Setenv("LATITUDE", "-6.2")
	t.Setenv("LONGITUDE", "106.8")

	out, err := execute(t, dir, "run", "--force", "--type", "departure")
	require.NoError(t, err)
	assert.Contains(t, out, "reported Departure")

	tp.mu.Lock()
	require.Len(t, tp.presenceForms, 1)
	form := tp.presenceForms[0]
	tp.mu.Unlock()
	assert.Equal(t, "pulang", form.Get("type"))
	assert.Equal(t, "-6.2", form.Get("latitude"))
	assert.Equal(t, "106.8", form.Get("longitude"))

	saved, err := os.ReadFile(jarPath)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "ci_session")

	observability.Sync()
	hist, err := execute(t, dir, "history", "--file", filepath.Join(dir, "attendant.log"))
	require.NoError(t, err)
	assert.Contains(t, hist, "reported")
	assert.Contains(t, hist, "Departure")
}

func TestRun_DryRunDoesNotSubmit(t *testing.T) {
	tp := newTestPortal(t)
	dir := isolate(t, tp)

	out, err := execute(t, dir, "run", "--force", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry_run")
	tp.mu.Lock()
	defer tp.mu.Unlock()
	assert.Empty(t, tp.presenceForms)
}

func TestRun_AuthExhaustedFails(t *testing.T) {
	tp := newTestPortal(t)
	tp.loginResponse = `{"status":"failed","message":"Captcha salah"}`
	dir := isolate(t, tp)
	t.Setenv("ATTENDANT_PORTAL_MAX_ATTEMPTS", "2")

	out, err := execute(t, dir, "run", "--force")
	assert.ErrorIs(t, err, errRunFailed)
	assert.ErrorIs(t, err, portal.ErrAuthenticationExhausted)
	assert.Contains(t, out, "auth_exhausted")

	tp.mu.Lock()
	defer tp.mu.Unlock()
	assert.Equal(t, 2, tp.loginPosts)
	assert.Empty(t, tp.presenceForms)
}

func TestRun_RejectsBadInput(t *testing.T) {
	tp := newTestPortal(t)

	t.Run("unknown report type", func(t *testing.T) {
		dir := isolate(t, tp)
		_, err := execute(t, dir, "run", "--type", "lunch")
		assert.ErrorContains(t, err, "lunch")
	})

	t.Run("missing credentials", func(t *testing.T) {
		dir := isolate(t, tp)
		t.Setenv("STARASN_PASSWORD", "")
		_, err := execute(t, dir, "run", "--force")
		assert.ErrorContains(t, err, "credentials")
	})

	t.Run("missing coordinates", func(t *testing.T) {
		dir := isolate(t, tp)
		t.Setenv("LONGITUDE", "")
		_, err := execute(t, dir, "run", "--force")
		assert.ErrorContains(t, err, "coordinates")

		tp.mu.Lock()
		defer tp.mu.Unlock()
		assert.Empty(t, tp.presenceForms, "no report is filed without a location")
	})

	t.Run("cookie jar held by another run", func(t *testing.T) {
		dir := isolate(t, tp)
		jarPath := filepath.Join(dir, "cookies.json")
		t.Setenv("ATTENDANT_PORTAL_COOKIE_JAR", jarPath)

		base, _ := url.Parse(tp.server.URL)
		held, err := portal.OpenFileJar(jarPath, base)
		require.NoError(t, err)
		defer held.Close()

		_, err = execute(t, dir, "run", "--force")
		assert.ErrorIs(t, err, portal.ErrJarLocked)
		assert.ErrorContains(t, err, "another run is in progress")
	})
}

func TestProbe_DumpsPage(t *testing.T) {
	tp := newTestPortal(t)
	dir := isolate(t, tp)
	dump := filepath.Join(dir, "statistic.html")

	out, err := execute(t, dir, "probe", "--dump", dump)
	require.NoError(t, err)
	assert.Contains(t, out, "module available: true")

	page, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Contains(t, string(page), "PRESENSI MASUK")

	tp.mu.Lock()
	defer tp.mu.Unlock()
	assert.Empty(t, tp.presenceForms, "probe never submits")
}

func TestRunResult(t *testing.T) {
	cases := []struct {
		status orchestrator.Status
		ok     bool
	}{
		{orchestrator.StatusReported, true},
		{orchestrator.StatusNonWorkday, true},
		{orchestrator.StatusDryRun, true},
		{orchestrator.StatusReportFailed, false},
		{orchestrator.StatusAuthExhausted, false},
		{orchestrator.StatusModuleUnavailable, false},
		{orchestrator.StatusError, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			err := runResult(orchestrator.Outcome{Status: tc.status})
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, errRunFailed)
		})
	}
	assert.ErrorIs(t, runResult(orchestrator.Outcome{Status: orchestrator.StatusCancelled}), context.Canceled)
}
