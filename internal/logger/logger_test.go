package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelGatesOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer func() {
		SetOutput(nil)
		SetLevel("info")
	}()

	SetLevel("warn")
	Infof("suppressed %s", "line")
	Warnf("kept %s", "line")

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "kept line")
	assert.Contains(t, out, "level=WARN")
}

func TestDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer func() {
		SetOutput(nil)
		SetLevel("info")
	}()

	SetLevel("debug")
	Debugf("bar %d evaluated", 42)
	assert.Contains(t, buf.String(), "bar 42 evaluated")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer func() {
		SetOutput(nil)
		SetLevel("info")
	}()

	SetLevel("chatty")
	Debugf("hidden")
	Infof("shown")

	lines := strings.TrimSpace(buf.String())
	assert.NotContains(t, lines, "hidden")
	assert.Contains(t, lines, "shown")
}
