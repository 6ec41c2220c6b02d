package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesNestedFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("model", "gaze").Debug("[Model] loaded")
	out := buf.String()
	assert.Contains(t, out, "[DEBU]")
	assert.Contains(t, out, "[model:gaze]")
	assert.Contains(t, out, "[Model] loaded")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gazepointer.log")
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", File: path, Output: &buf})
	require.NoError(t, err)

	logger.Info("[Pipeline] Run finished")
	logger.Debug("not written at info level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Pipeline] Run finished")
	assert.NotContains(t, string(data), "not written")
}
