package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf)

	log.With("component", "tracker").Info("flushed", "domain", "a.com", "seconds", 10)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "flushed", line["message"])
	assert.Equal(t, "tracker", line["component"])
	assert.Equal(t, "a.com", line["domain"])
	assert.EqualValues(t, 10, line["seconds"])
}

func TestNew_FileWriterRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	log, closer, err := New(Options{Level: "warn", File: path, Writer: []string{"file"}, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hidden"))
	assert.Contains(t, string(data), "shown")
}

func TestNew_UnknownWriter(t *testing.T) {
	_, _, err := New(Options{Writer: []string{"syslog"}})
	assert.Error(t, err)
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Error("nothing", "k", 1)
	log.With("a", "b").Debug("still nothing")
}
