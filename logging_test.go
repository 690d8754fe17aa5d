package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	logger.WithPrefix("MQTT").Info("connected", "broker", "tcp://localhost:1883")
	logger.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "connected", line["msg"])
	assert.Equal(t, "MQTT", line["prefix"])
	assert.Equal(t, "tcp://localhost:1883", line["broker"])
}

func TestNewLoggerRejectsBadSettings(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, LoggingConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(&bytes.Buffer{}, LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
