package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

// PrometheusMetrics holds all Prometheus metric collectors for the receiver
type PrometheusMetrics struct {
	registry *prometheus.Registry
	snapshot atomic.Pointer[ReceiverStats] // read by the CounterFuncs

	// Decoder output
	packetsTotal     *prometheus.CounterVec // Packets decoded, by protocol
	lastPacketTime   *prometheus.GaugeVec   // Unix timestamp of the last packet, by protocol
	uniqueKeys       prometheus.Gauge       // Distinct keys in the recent table
	queueDepth       prometheus.Gauge       // Packets waiting in the hand-off queue
	packetLogWritten prometheus.Counter     // Lines written to the packet log

	// Front-end levels; sample, pulse and drop counts are CounterFuncs over snapshot
	thresholdLow  prometheus.Gauge // Noise floor estimate
	thresholdHigh prometheus.Gauge // Pulse level estimate

	// Source
	sourceBytes    prometheus.Counter     // Raw bytes read from the source
	sourceErrors   *prometheus.CounterVec // Read/connect failures, by source type
	sourceRestarts prometheus.Counter     // Source reopen attempts

	// Consumers
	wsConnectionsTotal  prometheus.Counter
	wsActiveConnections prometheus.Gauge
	wsMessagesSent      prometheus.Counter
	mqttPublishedTotal  prometheus.Counter
	mqttErrorsTotal     prometheus.Counter

	// Pushgateway
	pushgatewayPushesTotal   prometheus.Counter
	pushgatewayFailuresTotal prometheus.Counter
	pushgatewaySuccessTotal  prometheus.Counter
	pushgatewayLastPushTime  prometheus.Gauge

	// Runtime
	goroutineCount   prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
	memoryHeapBytes  prometheus.Gauge
}

// NewPrometheusMetrics registers every collector on reg
func NewPrometheusMetrics(reg *prometheus.Registry) *PrometheusMetrics {
	f := promauto.With(reg)
	pm := &PrometheusMetrics{
		registry: reg,

		packetsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subcar_packets_total",
			Help: "Key fob packets decoded",
		}, []string{"protocol"}),
		lastPacketTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "subcar_last_packet_timestamp_seconds",
			Help: "Unix timestamp of the last packet decoded",
		}, []string{"protocol"}),
		uniqueKeys: f.NewGauge(prometheus.GaugeOpts{
			Name: "subcar_recent_keys",
			Help: "Distinct keys in the recent entries table",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "subcar_queue_depth",
			Help: "Packets waiting to be dispatched",
		}),
		packetLogWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_packet_log_lines_total",
			Help: "Lines written to the CSV packet log",
		}),

		thresholdLow: f.NewGauge(prometheus.GaugeOpts{
			Name: "subcar_threshold_low",
			Help: "Noise floor magnitude estimate",
		}),
		thresholdHigh: f.NewGauge(prometheus.GaugeOpts{
			Name: "subcar_threshold_high",
			Help: "Pulse magnitude estimate",
		}),

		sourceBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_source_bytes_total",
			Help: "Raw IQ bytes read from the source",
		}),
		sourceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subcar_source_errors_total",
			Help: "Source open and read failures",
		}, []string{"type"}),
		sourceRestarts: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_source_restarts_total",
			Help: "Times the IQ source was reopened",
		}),

		wsConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_ws_connections_total",
			Help: "WebSocket clients accepted",
		}),
		wsActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "subcar_ws_clients",
			Help: "WebSocket clients currently connected",
		}),
		wsMessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_ws_messages_sent_total",
			Help: "Packets written to WebSocket clients",
		}),
		mqttPublishedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_mqtt_published_total",
			Help: "MQTT messages published",
		}),
		mqttErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_mqtt_errors_total",
			Help: "MQTT publish failures",
		}),

		pushgatewayPushesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_pushgateway_pushes_total",
			Help: "Pushgateway push attempts",
		}),
		pushgatewayFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_pushgateway_failures_total",
			Help: "Failed Pushgateway pushes",
		}),
		pushgatewaySuccessTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "subcar_pushgateway_success_total",
			Help: "Successful Pushgateway pushes",
		}),
		pushgatewayLastPushTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "subcar_pushgateway_last_push_timestamp_seconds",
			Help: "Unix timestamp of the last successful push",
		}),

		goroutineCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "subcar_goroutines",
			Help: "Number of goroutines",
		}),
		memoryAllocBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "subcar_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		}),
		memoryHeapBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "subcar_memory_heap_bytes",
			Help: "Bytes in in-use heap spans",
		}),
	}

	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "subcar_samples_total",
		Help: "IQ samples processed by the OOK demodulator",
	}, pm.snapshotValue(func(s *ReceiverStats) uint64 { return s.Frontend.Samples }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "subcar_pulses_total",
		Help: "Pulse events emitted by the OOK demodulator",
	}, pm.snapshotValue(func(s *ReceiverStats) uint64 { return s.Frontend.Pulses }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "subcar_glitches_total",
		Help: "Level changes shorter than the settle time",
	}, pm.snapshotValue(func(s *ReceiverStats) uint64 { return s.Frontend.Glitches }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "subcar_packets_dropped_total",
		Help: "Packets dropped because the queue was full",
	}, pm.snapshotValue(func(s *ReceiverStats) uint64 { return s.QueueDropped }))

	// Every protocol shows up at zero before its first packet
	for _, id := range subcar.Protocols() {
		pm.packetsTotal.WithLabelValues(id.String())
	}

	return pm
}

func (pm *PrometheusMetrics) snapshotValue(get func(*ReceiverStats) uint64) func() float64 {
	return func() float64 {
		s := pm.snapshot.Load()
		if s == nil {
			return 0
		}
		return float64(get(s))
	}
}

// Gatherer returns the registry the collectors live in
func (pm *PrometheusMetrics) Gatherer() prometheus.Gatherer {
	if pm == nil {
		return prometheus.NewRegistry()
	}
	return pm.registry
}

// RecordPacket counts one decoded packet
func (pm *PrometheusMetrics) RecordPacket(p subcar.Packet, at time.Time) {
	if pm == nil {
		return
	}
	pm.packetsTotal.WithLabelValues(p.Protocol.String()).Inc()
	pm.lastPacketTime.WithLabelValues(p.Protocol.String()).Set(float64(at.Unix()))
}

// UpdateReceiverStats copies a receiver snapshot into the gauges
func (pm *PrometheusMetrics) UpdateReceiverStats(s ReceiverStats) {
	if pm == nil {
		return
	}
	pm.snapshot.Store(&s)
	pm.thresholdLow.Set(float64(s.Frontend.Threshold.Low))
	pm.thresholdHigh.Set(float64(s.Frontend.Threshold.High))
	pm.queueDepth.Set(float64(s.QueueDepth))
}

func (pm *PrometheusMetrics) SetRecentKeys(n int) {
	if pm == nil {
		return
	}
	pm.uniqueKeys.Set(float64(n))
}

func (pm *PrometheusMetrics) RecordPacketLogLine() {
	if pm == nil {
		return
	}
	pm.packetLogWritten.Inc()
}

func (pm *PrometheusMetrics) RecordSourceBytes(n int) {
	if pm == nil {
		return
	}
	pm.sourceBytes.Add(float64(n))
}

func (pm *PrometheusMetrics) RecordSourceError(sourceType string) {
	if pm == nil {
		return
	}
	pm.sourceErrors.WithLabelValues(sourceType).Inc()
}

func (pm *PrometheusMetrics) RecordSourceRestart() {
	if pm == nil {
		return
	}
	pm.sourceRestarts.Inc()
}

// WebSocket connection tracking methods
func (pm *PrometheusMetrics) RecordWSConnection() {
	if pm == nil {
		return
	}
	pm.wsConnectionsTotal.Inc()
	pm.wsActiveConnections.Inc()
}

func (pm *PrometheusMetrics) RecordWSDisconnect() {
	if pm == nil {
		return
	}
	pm.wsActiveConnections.Dec()
}

func (pm *PrometheusMetrics) RecordWSMessageSent() {
	if pm == nil {
		return
	}
	pm.wsMessagesSent.Inc()
}

func (pm *PrometheusMetrics) RecordMQTTPublish(err error) {
	if pm == nil {
		return
	}
	if err != nil {
		pm.mqttErrorsTotal.Inc()
		return
	}
	pm.mqttPublishedTotal.Inc()
}

// updateResourceMetrics updates runtime resource metrics
func (pm *PrometheusMetrics) updateResourceMetrics() {
	if pm == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	pm.goroutineCount.Set(float64(runtime.NumGoroutine()))
	pm.memoryAllocBytes.Set(float64(m.Alloc))
	pm.memoryHeapBytes.Set(float64(m.HeapAlloc))
}

// Handler serves the registry, refusing clients outside allowed_hosts
func (pm *PrometheusMetrics) Handler(cfg *PrometheusConfig, logger *log.Logger) http.Handler {
	inner := promhttp.HandlerFor(pm.Gatherer(), promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !cfg.IsIPAllowed(host) {
			logger.Debug("metrics request refused", "remote", host)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		pm.updateResourceMetrics()
		inner.ServeHTTP(w, r)
	})
}

// StartPushgatewayWorker starts a goroutine that periodically pushes metrics to Pushgateway
func (pm *PrometheusMetrics) StartPushgatewayWorker(ctx context.Context, config *Config, logger *log.Logger) {
	if pm == nil || !config.Prometheus.Pushgateway.Enabled {
		return
	}

	pgConfig := config.Prometheus.Pushgateway
	logger = logger.WithPrefix("Pushgateway")
	logger.Info("starting worker", "url", pgConfig.URL, "job", pgConfig.Job, "interval", pgConfig.Interval)

	pushOnce := func() {
		pm.pushgatewayPushesTotal.Inc()
		pm.updateResourceMetrics()
		if err := pm.pushToGateway(pgConfig); err != nil {
			pm.pushgatewayFailuresTotal.Inc()
			logger.Error("failed to push metrics", "err", err)
			return
		}
		pm.pushgatewaySuccessTotal.Inc()
		pm.pushgatewayLastPushTime.Set(float64(time.Now().Unix()))
		logger.Debug("pushed metrics")
	}

	go func() {
		ticker := time.NewTicker(time.Duration(pgConfig.Interval) * time.Second)
		defer ticker.Stop()

		// Push immediately on start
		pushOnce()

		for {
			select {
			case <-ctx.Done():
				logger.Info("worker stopped")
				return
			case <-ticker.C:
				pushOnce()
			}
		}
	}()
}

// pushToGateway pushes all metrics to the Pushgateway
func (pm *PrometheusMetrics) pushToGateway(pgConfig PushgatewayConfig) error {
	if pm == nil {
		return fmt.Errorf("prometheus metrics not initialized")
	}

	pusher := push.New(pgConfig.URL, pgConfig.Job).Gatherer(pm.registry)
	if pgConfig.Instance != "" {
		pusher = pusher.Grouping("instance", pgConfig.Instance)
		if pgConfig.Token != "" {
			pusher = pusher.BasicAuth(pgConfig.Instance, pgConfig.Token)
		}
	}
	pusher = pusher.Grouping("version", Version)

	if err := pusher.Push(); err != nil {
		return fmt.Errorf("failed to push to gateway: %w", err)
	}
	return nil
}
