package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "file", c.Source.Type)
	assert.Equal(t, "cu8", c.Source.Format)
	assert.Equal(t, 4000000, c.Source.SampleRate)
	assert.Equal(t, []int{4, 2}, c.Decimation.Stages)
	assert.Equal(t, 500000, c.Frontend.SampleRate)
	assert.Equal(t, ":8080", c.Server.Listen)
	assert.Equal(t, 64, c.Recent.MaxEntries)
	assert.Equal(t, "subcar", c.MQTT.TopicPrefix)

	// a file source needs a path
	assert.ErrorContains(t, c.Validate(), "source.path")
	c.Source.Path = "capture.cu8"
	assert.NoError(t, c.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
source:
  type: rtltcp
  address: 10.0.0.2:1234
  sample_rate: 2000000
  frequency: 315000000
decimation:
  stages: [4]
  window: blackman
log:
  level: debug
  format: json
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 1
prometheus:
  enabled: true
  allowed_hosts: ["127.0.0.1", "10.0.0.0/8"]
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "rtltcp", c.Source.Type)
	assert.Equal(t, uint32(315000000), c.Source.Frequency)
	assert.Equal(t, 500000, c.Frontend.SampleRate)
	assert.Equal(t, "blackman", c.Decimation.Window)
	assert.Equal(t, "json", c.Logging.Format)
	assert.Equal(t, byte(1), c.MQTT.QoS)
	assert.Equal(t, 60, c.MQTT.PublishInterval)

	assert.True(t, c.Prometheus.IsIPAllowed("127.0.0.1"))
	assert.True(t, c.Prometheus.IsIPAllowed("10.20.30.40"))
	assert.False(t, c.Prometheus.IsIPAllowed("192.168.1.1"))
	assert.False(t, c.Prometheus.IsIPAllowed("not-an-ip"))
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadConfig(writeConfig(t, "source: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = LoadConfig(writeConfig(t, "prometheus:\n  enabled: true\n  allowed_hosts: [\"300.1.1.1\"]\n"))
	assert.ErrorContains(t, err, "allowed_hosts")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"source type", func(c *Config) { c.Source.Type = "soundcard" }, "source.type"},
		{"format", func(c *Config) { c.Source.Format = "f32" }, "source.format"},
		{"window", func(c *Config) { c.Decimation.Window = "kaiser" }, "decimation"},
		{"rate multiple", func(c *Config) { c.Source.SampleRate = 4000001 }, "multiple"},
		{"decimated too far", func(c *Config) {
			c.Decimation.Stages = []int{8, 8}
			c.applyDefaults()
		}, "below 100 kHz"},
		{"frontend rate", func(c *Config) { c.Frontend.SampleRate = 250000 }, "does not match"},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }, "log.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "log.format"},
		{"ws rate", func(c *Config) { c.WebSocket.ConnectionsPerMinute = -1 }, "connections_per_minute"},
		{"mqtt broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
		{"mqtt qos", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker = "tcp://b:1883"
			c.MQTT.QoS = 3
		}, "mqtt.qos"},
		{"pushgateway url", func(c *Config) { c.Prometheus.Pushgateway.Enabled = true }, "pushgateway.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			c.Source.Path = "capture.cu8"
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestIsIPAllowedEmptyListAllowsAll(t *testing.T) {
	var pc PrometheusConfig
	require.NoError(t, pc.parseAllowedHosts())
	assert.True(t, pc.IsIPAllowed("203.0.113.9"))

	pc.AllowedHosts = []string{"::1"}
	require.NoError(t, pc.parseAllowedHosts())
	assert.True(t, pc.IsIPAllowed("::1"))
	assert.False(t, pc.IsIPAllowed("::2"))
}
