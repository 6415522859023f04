package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected logrus.Level
		wantErr  bool
	}{
		{"DEBUG", logrus.DebugLevel, false},
		{"info", logrus.InfoLevel, false},
		{"", logrus.InfoLevel, false},
		{"WARNING", logrus.WarnLevel, false},
		{"error", logrus.ErrorLevel, false},
		{"loud", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, &buf, FormatJSON)

	logger.WithField("component", "disk").Info("saved")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, `"component":"disk"`)
	assert.Contains(t, out, `"msg":"saved"`)
	assert.NotContains(t, out, "hidden")
}

func TestSetupLoggingToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iconcache.log")

	logger, closer, err := SetupLogging(LogOptions{Level: "debug", File: path, Format: "text"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.Info("written")
	require.NoError(t, closer.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")

	_, _, err = SetupLogging(LogOptions{Level: "nope"})
	assert.Error(t, err)
}

func TestSetupLoggingRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iconcache.log")

	logger, closer, err := SetupLogging(LogOptions{File: path, MaxSize: 1 << 20, MaxBackups: 2})
	require.NoError(t, err)

	line := strings.Repeat("x", 1024)
	for i := 0; i < 1500; i++ {
		logger.Info(line)
	}
	require.NoError(t, closer.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2, "expected the log to be rotated")
	assert.LessOrEqual(t, len(entries), 3)
}

func TestRotationMegabytes(t *testing.T) {
	assert.Equal(t, 0, rotationMegabytes(0))
	assert.Equal(t, 0, rotationMegabytes(-5))
	assert.Equal(t, 1, rotationMegabytes(1))
	assert.Equal(t, 1, rotationMegabytes(1<<20))
	assert.Equal(t, 10, rotationMegabytes(10<<20))
	assert.Equal(t, 11, rotationMegabytes(10<<20+1))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "128.0 MB", FormatBytes(128<<20))
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"128MB", 128 << 20, false},
		{"64k", 64 << 10, false},
		{"1.5G", 3 << 29, false},
		{"512MiB", 512 << 20, false},
		{"4096", 4096, false},
		{"", 0, true},
		{"lots", 0, true},
		{"-1MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBytes(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateIconName(t *testing.T) {
	for _, ok := range []string{"document-open", "text-plain", "mail@home"} {
		assert.NoError(t, ValidateIconName(ok), ok)
	}
	for _, bad := range []string{"", "..", "a/b", `a\b`, "x..y", "/etc/passwd"} {
		assert.Error(t, ValidateIconName(bad), bad)
	}
}

func TestSecureJoin(t *testing.T) {
	base := t.TempDir()

	p, err := SecureJoin(base, "hicolor", "24x24", "apps")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "hicolor", "24x24", "apps"), p)

	_, err = SecureJoin(base, "..", "etc")
	assert.Error(t, err)

	_, err = SecureJoin("", "x")
	assert.Error(t, err)
}

func TestCacheRoot(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg-test")
	root := CacheRoot()
	assert.Equal(t, "iconcache", filepath.Base(root))
}
