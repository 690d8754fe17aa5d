package main

import (
	"fmt"
	"net"
	"os"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/cwsl/ubersdr_subcar/ook"
	"github.com/cwsl/ubersdr_subcar/subcar"
)

// Config represents the application configuration
type Config struct {
	Source     SourceConfig         `yaml:"source"`
	Frontend   ook.Config           `yaml:"frontend"`
	Decimation ook.DecimationConfig `yaml:"decimation"`
	Server     ServerConfig         `yaml:"server"`
	Logging    LoggingConfig        `yaml:"log"`
	PacketLog  PacketLogConfig      `yaml:"packet_log"`
	Recent     RecentConfig         `yaml:"recent"`
	MQTT       MQTTConfig           `yaml:"mqtt"`
	Prometheus PrometheusConfig     `yaml:"prometheus"`
	WebSocket  WebSocketConfig      `yaml:"websocket"`
}

// SourceConfig selects where IQ samples come from
type SourceConfig struct {
	Type       string `yaml:"type"`        // "file" or "rtltcp"
	Path       string `yaml:"path"`        // capture file, .zst is decompressed
	Format     string `yaml:"format"`      // cu8, cs8 or cs16
	SampleRate int    `yaml:"sample_rate"` // input sample rate in Hz
	Realtime   bool   `yaml:"realtime"`    // pace file playback at the sample rate
	Loop       bool   `yaml:"loop"`        // restart the file at EOF
	Address    string `yaml:"address"`     // rtl_tcp host:port
	Frequency  uint32 `yaml:"frequency"`   // rtl_tcp center frequency in Hz
	Gain       int    `yaml:"gain"`        // rtl_tcp gain in tenths of dB, 0 for auto
	BlockSize  int    `yaml:"block_size"`  // samples per read
	QueueSize  int    `yaml:"queue_size"`  // packet queue capacity
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig sets the log level and output format
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json or logfmt
}

// PacketLogConfig controls the CSV packet log
type PacketLogConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Directory       string `yaml:"directory"`
	FilenamePattern string `yaml:"filename_pattern"` // strftime pattern
}

// RecentConfig sizes the recent-entries table
type RecentConfig struct {
	MaxEntries int `yaml:"max_entries"`
	MaxAge     int `yaml:"max_age"` // seconds before an entry is dropped, 0 keeps entries until evicted
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`          // Enable/disable MQTT publishing
	Broker          string        `yaml:"broker"`           // MQTT broker URL (e.g., tcp://mqtt.example.com:1883)
	Username        string        `yaml:"username"`         // MQTT authentication username
	Password        string        `yaml:"password"`         // MQTT authentication password
	TopicPrefix     string        `yaml:"topic_prefix"`     // Topic prefix for packets and stats
	PublishInterval int           `yaml:"publish_interval"` // Stats publishing interval in seconds
	QoS             byte          `yaml:"qos"`              // MQTT Quality of Service level (0, 1, or 2)
	Retain          bool          `yaml:"retain"`           // Retain flag for stats messages
	TLS             MQTTTLSConfig `yaml:"tls"`              // TLS/SSL settings
}

// MQTTTLSConfig contains MQTT TLS/SSL settings
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Enable/disable TLS
	CACert     string `yaml:"ca_cert"`     // Path to CA certificate file
	ClientCert string `yaml:"client_cert"` // Path to client certificate file (optional)
	ClientKey  string `yaml:"client_key"`  // Path to client key file (optional)
}

// PrometheusConfig contains Prometheus metrics settings
type PrometheusConfig struct {
	Enabled      bool              `yaml:"enabled"`       // Enable/disable Prometheus metrics endpoint
	AllowedHosts []string          `yaml:"allowed_hosts"` // List of IPs/CIDRs allowed to access metrics (empty = allow all)
	Pushgateway  PushgatewayConfig `yaml:"pushgateway"`   // Pushgateway configuration

	allowedNets []*net.IPNet // Parsed CIDR networks (internal use)
}

// PushgatewayConfig contains Prometheus Pushgateway settings
type PushgatewayConfig struct {
	Enabled  bool   `yaml:"enabled"`  // Enable/disable pushing to Pushgateway
	URL      string `yaml:"url"`      // Pushgateway URL (e.g., http://pushgateway:9091)
	Job      string `yaml:"job"`      // Job name
	Instance string `yaml:"instance"` // Instance grouping label and basic auth user (optional)
	Token    string `yaml:"token"`    // Basic auth password (optional)
	Interval int    `yaml:"interval"` // Push interval in seconds
}

// WebSocketConfig contains live packet stream settings
type WebSocketConfig struct {
	ReplaySize  int  `yaml:"replay_size"` // packets sent to a client on connect
	Compression bool `yaml:"compression"`

	// ConnectionsPerMinute limits new connections per client IP, 0 disables
	ConnectionsPerMinute int `yaml:"connections_per_minute"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Parse Prometheus allowed hosts IPs/CIDRs
	if config.Prometheus.Enabled {
		if err := config.Prometheus.parseAllowedHosts(); err != nil {
			return nil, fmt.Errorf("failed to parse prometheus.allowed_hosts: %w", err)
		}
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills every unset field
func (c *Config) applyDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = "file"
	}
	if c.Source.Format == "" {
		c.Source.Format = "cu8"
	}
	if c.Source.SampleRate == 0 {
		c.Source.SampleRate = 4000000
	}
	if c.Source.Address == "" {
		c.Source.Address = "127.0.0.1:1234"
	}
	if c.Source.Frequency == 0 {
		c.Source.Frequency = 433920000
	}
	if c.Source.BlockSize == 0 {
		c.Source.BlockSize = 16384
	}
	if c.Source.QueueSize == 0 {
		c.Source.QueueSize = subcar.DefaultQueueSize
	}

	if c.Decimation.Stages == nil {
		c.Decimation.Stages = ook.DefaultDecimation().Stages
	}
	if c.Decimation.Window == "" {
		c.Decimation.Window = ook.DefaultDecimation().Window
	}

	// the front-end always runs at the decimated rate
	if f := c.Decimation.Factor(); f > 0 {
		c.Frontend.SampleRate = c.Source.SampleRate / f
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.PacketLog.Directory == "" {
		c.PacketLog.Directory = "."
	}
	if c.PacketLog.FilenamePattern == "" {
		c.PacketLog.FilenamePattern = "SubCarLOG_%Y%m%d_%H%M%S.CSV"
	}
	if c.Recent.MaxEntries == 0 {
		c.Recent.MaxEntries = 64
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "subcar"
	}
	if c.MQTT.PublishInterval == 0 {
		c.MQTT.PublishInterval = 60
	}
	if c.Prometheus.Pushgateway.Job == "" {
		c.Prometheus.Pushgateway.Job = "ubersdr_subcar"
	}
	if c.Prometheus.Pushgateway.Interval == 0 {
		c.Prometheus.Pushgateway.Interval = 60
	}
	if c.WebSocket.ReplaySize == 0 {
		c.WebSocket.ReplaySize = 20
	}
}

// checkRates verifies that the decimation chain divides the source rate
// evenly and leaves the front-end at its own rate, no lower than 100 kHz.
// Receiver.Reconfigure runs the same checks against the running source.
func checkRates(inputRate, factor, frontendRate int) error {
	if factor < 1 || inputRate%factor != 0 {
		return fmt.Errorf("source.sample_rate %d is not a multiple of the decimation factor %d",
			inputRate, factor)
	}
	if frontendRate < 100000 {
		return fmt.Errorf("decimated sample rate %d Hz is below 100 kHz", frontendRate)
	}
	if frontendRate != inputRate/factor {
		return fmt.Errorf("front-end sample rate %d Hz does not match %d Hz / %d",
			frontendRate, inputRate, factor)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Source.Type {
	case "file":
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for a file source")
		}
	case "rtltcp":
		if c.Source.Address == "" {
			return fmt.Errorf("source.address is required for an rtltcp source")
		}
	default:
		return fmt.Errorf("source.type must be file or rtltcp, got %q", c.Source.Type)
	}
	if _, err := ook.ParseFormat(c.Source.Format); err != nil {
		return fmt.Errorf("source.format: %w", err)
	}
	if c.Source.SampleRate <= 0 {
		return fmt.Errorf("source.sample_rate must be positive")
	}
	if c.Source.BlockSize < 256 {
		return fmt.Errorf("source.block_size must be at least 256")
	}
	if c.Source.QueueSize < 1 {
		return fmt.Errorf("source.queue_size must be at least 1")
	}
	if err := c.Decimation.Validate(); err != nil {
		return fmt.Errorf("decimation: %w", err)
	}
	if err := checkRates(c.Source.SampleRate, c.Decimation.Factor(), c.Frontend.SampleRate); err != nil {
		return err
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("log.format must be text, json or logfmt")
	}
	if c.Recent.MaxEntries < 1 {
		return fmt.Errorf("recent.max_entries must be at least 1")
	}
	if c.WebSocket.ConnectionsPerMinute < 0 {
		return fmt.Errorf("websocket.connections_per_minute must not be negative")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if c.MQTT.PublishInterval < 1 {
			return fmt.Errorf("mqtt.publish_interval must be at least 1")
		}
	}
	if c.Prometheus.Pushgateway.Enabled && c.Prometheus.Pushgateway.URL == "" {
		return fmt.Errorf("prometheus.pushgateway.url is required when pushgateway is enabled")
	}
	return nil
}

// parseAllowedHosts parses the allowed_hosts list into CIDR networks
func (pc *PrometheusConfig) parseAllowedHosts() error {
	pc.allowedNets = make([]*net.IPNet, 0, len(pc.AllowedHosts))

	for _, ipStr := range pc.AllowedHosts {
		// Check if it's a CIDR notation
		if _, ipNet, err := net.ParseCIDR(ipStr); err == nil {
			pc.allowedNets = append(pc.allowedNets, ipNet)
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return fmt.Errorf("invalid IP or CIDR: %s", ipStr)
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		pc.allowedNets = append(pc.allowedNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}

	return nil
}

// IsIPAllowed checks if an IP address may read the metrics endpoint.
// An empty allow list admits everyone.
func (pc *PrometheusConfig) IsIPAllowed(ipStr string) bool {
	if len(pc.allowedNets) == 0 {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	for _, ipNet := range pc.allowedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}

	return false
}
