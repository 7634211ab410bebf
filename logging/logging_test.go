package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_RotatesPastCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.log")

	rw, err := OpenRotating(path, 16)
	require.NoError(t, err)
	defer rw.Close()

	_, err = rw.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("abcdefghij"))
	require.NoError(t, err)

	backup, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdefghij", string(backup))

	_, err = rw.Write([]byte("xyz"))
	require.NoError(t, err)
	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(current))
}

func TestOpenRotating_TruncatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 64)), 0644))

	rw, err := OpenRotating(path, 32)
	require.NoError(t, err)
	defer rw.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.log")

	logger, rw, err := Setup(path, "debug")
	require.NoError(t, err)
	defer rw.Close()

	logger.Debug("console only")
	logger.Info("harvest started")
	require.NoError(t, rw.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"harvest started"`)
	assert.NotContains(t, string(data), "console only")
}

func TestSetup_RejectsUnknownLevel(t *testing.T) {
	_, _, err := Setup(filepath.Join(t.TempDir(), "x.log"), "loud")
	require.Error(t, err)
}
