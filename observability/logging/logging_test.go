package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsCanonicalKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendd", "test", Options{Level: "debug", Output: &buf})
	logger.Debug("call rejected", slog.String("method", "borrow"), slog.Int("code", 44))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "call rejected", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "lendd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 44, line["code"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendd", "", Options{Level: "warn", Output: &buf})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestFileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "lendd.log")
	logger := SetupWithOptions("lendd", "", Options{Output: &buf, File: path, MaxSizeMB: 1})
	logger.Info("hello")
	require.FileExists(t, path)
}

func TestMasking(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("note", "hunter2").Value.String())
	require.Equal(t, "", MaskField("signature", "").Value.String())
	require.Equal(t, "Bearer "+RedactedValue, MaskBearer("Bearer abc.def"))
	require.Equal(t, RedactedValue, MaskBearer("opaque"))
	require.True(t, IsSensitive("Private-Key"))
	require.False(t, IsSensitive("method"))
	require.Contains(t, SensitiveKeys(), "passphrase")
}

func TestHandlerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendd", "", Options{Output: &buf})
	logger.Info("call",
		slog.String("method", "borrow"),
		slog.String("passphrase", "hunter2"),
		slog.String("authorization", "Bearer abc.def"))

	line := buf.String()
	require.NotContains(t, line, "hunter2")
	require.NotContains(t, line, "abc.def")
	require.Contains(t, line, `"method":"borrow"`)
	require.Contains(t, line, `"authorization":"Bearer [REDACTED]"`)
}
