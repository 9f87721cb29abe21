package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/config"
)

func TestNewParsesLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.Logging{Level: "DEBUG", Format: "json"}, &buf)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("lead_id", "l1").Debug("hello")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "l1", line["lead_id"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	log := New(config.Logging{Level: "loud"}, &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	_, ok := log.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestReportErrorLogsContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.Logging{Level: "info", Format: "json"}, &buf)
	ReportError(log, "overdue_pass", errors.New("boom"), map[string]any{"actor_id": "u1"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "overdue_pass", line["error_type"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "u1", line["actor_id"])
	assert.Equal(t, "error", line["level"])
}

func TestReportErrorIgnoresNil(t *testing.T) {
	var buf bytes.Buffer
	ReportError(New(config.Logging{}, &buf), "x", nil, nil)
	assert.Zero(t, buf.Len())
}

func TestInitSentryWithoutDSN(t *testing.T) {
	flush, err := InitSentry(config.Sentry{}, "dev")
	require.NoError(t, err)
	flush()
}
