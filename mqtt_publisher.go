package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

// mqttPacketBuffer bounds the packets waiting for the broker
const mqttPacketBuffer = 256

// MQTTPublisher publishes packets and receiver statistics to a broker
type MQTTPublisher struct {
	client  mqtt.Client
	config  *MQTTConfig
	metrics *PrometheusMetrics
	stats   func() ReceiverStats
	packets chan PacketEvent
	logger  *log.Logger
	wg      sync.WaitGroup
}

// MetricPayload represents a stats message for MQTT
type MetricPayload struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
	Labels    map[string]string  `json:"labels,omitempty"`
}

// generateClientID creates a random client ID for MQTT connection
func generateClientID() string {
	return "ubersdr_subcar_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// loadTLSConfig loads TLS configuration from files
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	config := &tls.Config{}

	// Load CA certificate if provided
	if tlsConfig.CACert != "" {
		caCert, err := os.ReadFile(tlsConfig.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = pool
	}

	// Load client certificate and key if provided
	if tlsConfig.ClientCert != "" && tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.ClientCert, tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// NewMQTTPublisher connects to the broker. stats is polled for the
// periodic stats message.
func NewMQTTPublisher(config *MQTTConfig, metrics *PrometheusMetrics, stats func() ReceiverStats, logger *log.Logger) (*MQTTPublisher, error) {
	logger = logger.WithPrefix("MQTT")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warn("connection lost", "err", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		logger.Info("attempting to reconnect...")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("successfully connected", "broker", config.Broker)
	return newMQTTPublisher(client, config, metrics, stats, logger), nil
}

func newMQTTPublisher(client mqtt.Client, config *MQTTConfig, metrics *PrometheusMetrics, stats func() ReceiverStats, logger *log.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:  client,
		config:  config,
		metrics: metrics,
		stats:   stats,
		packets: make(chan PacketEvent, mqttPacketBuffer),
		logger:  logger,
	}
}

// PacketTopic is where packets of protocol id are published
func (mp *MQTTPublisher) PacketTopic(id subcar.ProtocolID) string {
	return mp.config.TopicPrefix + "/" + topicSafe(id.String())
}

// HandlePacket queues ev for publishing. It never waits for the broker;
// when the backlog is full the packet is dropped.
func (mp *MQTTPublisher) HandlePacket(ev PacketEvent) {
	select {
	case mp.packets <- ev:
	default:
		mp.metrics.RecordMQTTPublish(fmt.Errorf("backlog full"))
		mp.logger.Warn("backlog full, packet dropped", "protocol", ev.Packet.Protocol.String())
	}
}

// StartPublisher starts the packet and stats goroutines. The client
// disconnects once ctx is done and both have returned.
func (mp *MQTTPublisher) StartPublisher(ctx context.Context) {
	mp.wg.Add(2)
	go mp.runPackets(ctx)
	go mp.runStats(ctx)

	go func() {
		mp.wg.Wait()
		mp.client.Disconnect(250)
		mp.logger.Info("publisher stopped")
	}()
}

// Wait blocks until the publisher goroutines have returned
func (mp *MQTTPublisher) Wait() {
	mp.wg.Wait()
}

func (mp *MQTTPublisher) runPackets(ctx context.Context) {
	defer mp.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-mp.packets:
			data, err := json.Marshal(ev)
			if err != nil {
				mp.logger.Error("failed to marshal packet", "err", err)
				continue
			}
			mp.send(mp.PacketTopic(ev.Packet.Protocol), false, data)
		}
	}
}

func (mp *MQTTPublisher) runStats(ctx context.Context) {
	defer mp.wg.Done()

	interval := time.Duration(mp.config.PublishInterval) * time.Second
	mp.logger.Info("publishing stats", "topic", mp.config.TopicPrefix+"/stats", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start
	mp.publishStats()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mp.publishStats()
		}
	}
}

// publishStats sends the receiver counters and every subcar_ metric
func (mp *MQTTPublisher) publishStats() {
	payload := MetricPayload{
		Timestamp: time.Now().Unix(),
		Metrics:   make(map[string]float64),
	}

	if mp.stats != nil {
		s := mp.stats()
		mp.metrics.UpdateReceiverStats(s)
		payload.Labels = map[string]string{"state": s.State}
	}

	families, err := mp.metrics.Gatherer().Gather()
	if err != nil {
		mp.logger.Error("failed to gather metrics", "err", err)
		return
	}
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, "subcar_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			value, ok := extractMetricValue(m)
			if !ok {
				continue
			}
			payload.Metrics[metricKey(name, m.GetLabel())] = value
		}
	}

	if len(payload.Metrics) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		mp.logger.Error("failed to marshal stats", "err", err)
		return
	}
	mp.send(mp.config.TopicPrefix+"/stats", mp.config.Retain, data)
}

// metricKey flattens labels into the key: name_label_value...
func metricKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"_"+topicSafe(l.GetValue()))
	}
	sort.Strings(parts)
	return name + "_" + strings.Join(parts, "_")
}

// topicSafe turns a name into a topic level: "Kia V3/V4" -> "kia_v3_v4"
func topicSafe(s string) string {
	return strings.NewReplacer(" ", "_", "/", "_").Replace(strings.ToLower(s))
}

// extractMetricValue extracts the numeric value from a Prometheus metric
func extractMetricValue(m *dto.Metric) (float64, bool) {
	if m.GetGauge() != nil {
		return m.GetGauge().GetValue(), true
	}
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue(), true
	}
	if m.GetHistogram() != nil {
		return m.GetHistogram().GetSampleSum(), true
	}
	if m.GetSummary() != nil {
		return m.GetSummary().GetSampleSum(), true
	}
	if m.GetUntyped() != nil {
		return m.GetUntyped().GetValue(), true
	}
	return 0, false
}

func (mp *MQTTPublisher) send(topic string, retain bool, data []byte) {
	token := mp.client.Publish(topic, mp.config.QoS, retain, data)
	if token.Wait() && token.Error() != nil {
		mp.metrics.RecordMQTTPublish(token.Error())
		mp.logger.Error("failed to publish", "topic", topic, "err", token.Error())
		return
	}
	mp.metrics.RecordMQTTPublish(nil)
}
