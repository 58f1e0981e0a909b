package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestRotatingWriterAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "swapd.log")
	writer, err := newRotatingWriter(path, RotationConfig{})
	require.NoError(t, err)
	defer writer.Close()

	assert.Equal(t, 100, writer.MaxSize)
	assert.Equal(t, 7, writer.MaxBackups)
	assert.Equal(t, 30, writer.MaxAge)

	_, err = writer.Write([]byte("{\"msg\":\"hello\"}\n"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestBuildAuditLoggerRequiresPath(t *testing.T) {
	_, err := buildAuditLogger(AuditConfig{Enabled: true})
	assert.Error(t, err)
}

func TestOpenWriterStdStreams(t *testing.T) {
	w, c, err := openWriter("stdout", RotationConfig{})
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, w)
	assert.Nil(t, c)

	w, c, err = openWriter("STDERR", RotationConfig{})
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	assert.Nil(t, c)
}

func TestRedactHidesSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: redact}))
	log.Info("swap", slog.String("private_key", "b71c71a6"), slog.String("token", "0xabc"))

	out := buf.String()
	assert.NotContains(t, out, "b71c71a6")
	assert.Contains(t, out, `"private_key":"[REDACTED]"`)
	assert.Contains(t, out, `"token":"0xabc"`)
}

func TestNamedAddsComponent(t *testing.T) {
	require.NotNil(t, L())
	require.NotNil(t, Audit())
	assert.NotNil(t, Named("engine"))
}
