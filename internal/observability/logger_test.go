// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/attendant/internal/config"
)

// -- Test Helper Functions --

// lockedBuffer is a goroutine-safe zapcore.WriteSyncer backed by a bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Sync() error { return nil }

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// resetGlobalLogger is critical for ensuring test isolation, as the logger
// is a global singleton. We must reset it before each test.
func resetGlobalLogger(t *testing.T) {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
}

// -- Test Cases --

func TestInitialize(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		resetGlobalLogger(t)
		out := &lockedBuffer{}

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "attendant",
			Colors:      config.ColorConfig{Info: "green"},
		}, zapcore.AddSync(out))

		GetLogger().Named("portal").Info("Login page fetched.")
		Sync()

		output := out.String()
		assert.Contains(t, output, "Login page fetched.")
		assert.Contains(t, output, colorGreen+"INFO"+colorReset)
		assert.Contains(t, output, "attendant.portal.")
	})

	t.Run("json logger", func(t *testing.T) {
		resetGlobalLogger(t)
		out := &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "attendant"}, zapcore.AddSync(out))
		GetLogger().Warn("Captcha unreadable.", zap.Int(FieldAttempt, 2))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out.String()), &entry), "Log output should be valid JSON")
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "attendant", entry["logger"])
		assert.Equal(t, "Captcha unreadable.", entry["msg"])
		assert.EqualValues(t, 2, entry[FieldAttempt])
	})

	t.Run("writes json to the configured log file", func(t *testing.T) {
		resetGlobalLogger(t)
		logFile := filepath.Join(t.TempDir(), "attendant.log")

		Initialize(config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: logFile,
			MaxSize: 1,
		}, zapcore.AddSync(&lockedBuffer{}))
		GetLogger().Info(RunFinishedMessage, zap.String(FieldStatus, "reported"))
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		line := strings.TrimSpace(string(content))
		assert.True(t, json.Valid([]byte(line)), "file core must always be JSON")
		assert.Contains(t, line, `"status":"reported"`)
	})

	t.Run("only initializes once", func(t *testing.T) {
		resetGlobalLogger(t)
		out := &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, zapcore.AddSync(out))
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, zapcore.AddSync(out))
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()
		assert.Contains(t, out.String(), "First")
		assert.NotContains(t, out.String(), "Second")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		resetGlobalLogger(t)
		out := &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "chatty", Format: "json"}, zapcore.AddSync(out))
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		Sync()

		assert.NotContains(t, out.String(), "hidden")
		assert.Contains(t, out.String(), "shown")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		resetGlobalLogger(t)
		require.NotNil(t, GetLogger())
	})

	t.Run("global logger after initialization", func(t *testing.T) {
		resetGlobalLogger(t)
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&lockedBuffer{}))
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
