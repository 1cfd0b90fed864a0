package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewWritesMessageAndFieldsToOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.InfoLevel)

	l.Info("instance finalized", "external_id", "42", "stage", "issue")

	out := buf.String()
	assert.Contains(t, out, "instance finalized")
	assert.Contains(t, out, "external_id=42")
	assert.Contains(t, out, "stage=issue")
}

func TestNewSuppressesDebugBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.InfoLevel)

	l.Debug("should not appear")

	assert.Empty(t, strings.TrimSpace(buf.String()))
}

func TestNewEmitsDebugAtDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.DebugLevel)

	l.Debug("debug is on")

	assert.Contains(t, buf.String(), "debug is on")
}

func TestNopDiscardsEverythingWithoutPanicking(t *testing.T) {
	var n Nop
	assert.NotPanics(t, func() {
		n.Debug("x")
		n.Info("x")
		n.Warn("x")
		n.Error("x")
	})
}
