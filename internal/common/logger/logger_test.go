package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapWrapper_WithFieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := NewZapAdapter(zap.New(core))

	log.With(map[string]interface{}{"requestId": "r-1"}).
		WithError(errors.New("upstream 502")).
		Warn("source degraded", map[string]interface{}{"source": "bing"})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "source degraded", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "r-1", fields["requestId"])
	assert.Equal(t, "bing", fields["source"])
	assert.Equal(t, "upstream 502", fields["error"])
}

func TestMapToZapFields_ErrorValues(t *testing.T) {
	fields := mapToZapFields(map[string]interface{}{"cause": errors.New("boom")})
	require.Len(t, fields, 1)
	assert.Equal(t, "cause", fields[0].Key)

	assert.Nil(t, mapToZapFields(nil))
}

func TestBuild_FileOutputRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	zl := Build(Options{
		Level:  "info",
		Format: "json",
		Output: "file",
		File:   FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1},
	})

	NewZapAdapter(zl).Info("research completed", map[string]interface{}{"durationMs": 1200})
	_ = zl.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "research completed")
	assert.Contains(t, string(data), `"durationMs":1200`)
}

func TestBuild_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	zl := Build(Options{Level: "warn", Format: "json", Output: "file", File: FileOptions{Path: path}})

	log := NewZapAdapter(zl)
	log.Info("hidden", nil)
	log.Warn("shown", nil)
	_ = zl.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}
