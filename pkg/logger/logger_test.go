package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_FormatsComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("debug", &buf).WithComponent("motion")

	log.Warn("settle timeout", WithField("joint", "D"), WithField("error", 4.2))

	line := buf.String()
	assert.Contains(t, line, "WARNING: [motion] settle timeout")
	assert.Contains(t, line, "{error=4.2, joint=D}")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("warn", &buf)

	log.Debug("hidden")
	log.Info("hidden")
	log.Error("shown", WithError(errors.New("boom")))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "ERROR: shown {error=boom}")
}

func TestLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := CreateLoggerWithOutput("loud", &buf)

	log.Debug("hidden")
	log.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "INFO: shown")
}
