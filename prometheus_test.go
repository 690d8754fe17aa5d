package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/ubersdr_subcar/ook"
	"github.com/cwsl/ubersdr_subcar/subcar"
)

func newTestMetrics() *PrometheusMetrics {
	return NewPrometheusMetrics(prometheus.NewRegistry())
}

func TestRecordPacket(t *testing.T) {
	pm := newTestMetrics()
	at := time.Unix(1700000000, 0)

	pm.RecordPacket(subcar.Packet{Protocol: subcar.ProtoVW}, at)
	pm.RecordPacket(subcar.Packet{Protocol: subcar.ProtoVW}, at)
	pm.RecordPacket(subcar.Packet{Protocol: subcar.ProtoFordV0}, at)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.packetsTotal.WithLabelValues("VW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.packetsTotal.WithLabelValues("Ford V0")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.packetsTotal.WithLabelValues("Suzuki")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(pm.lastPacketTime.WithLabelValues("VW")))

	// every protocol is exported before its first packet
	assert.Equal(t, len(subcar.Protocols()), testutil.CollectAndCount(pm.packetsTotal))
}

func TestUpdateReceiverStats(t *testing.T) {
	pm := newTestMetrics()
	pm.UpdateReceiverStats(ReceiverStats{
		Frontend: ook.Stats{
			Samples:   5000,
			Pulses:    42,
			Threshold: ook.ThresholdEstimator{Low: 12, High: 8000},
		},
		QueueDepth:   3,
		QueueDropped: 7,
	})

	assert.Equal(t, 12.0, testutil.ToFloat64(pm.thresholdLow))
	assert.Equal(t, 8000.0, testutil.ToFloat64(pm.thresholdHigh))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.queueDepth))

	families, err := pm.Gatherer().Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if v, ok := extractMetricValue(m); ok && len(m.GetLabel()) == 0 {
				values[mf.GetName()] = v
			}
		}
	}
	assert.Equal(t, 5000.0, values["subcar_samples_total"])
	assert.Equal(t, 42.0, values["subcar_pulses_total"])
	assert.Equal(t, 7.0, values["subcar_packets_dropped_total"])
}

func TestNilMetricsAreSafe(t *testing.T) {
	var pm *PrometheusMetrics
	assert.NotPanics(t, func() {
		pm.RecordPacket(subcar.Packet{Protocol: subcar.ProtoVW}, time.Now())
		pm.UpdateReceiverStats(ReceiverStats{})
		pm.RecordWSConnection()
		pm.RecordWSDisconnect()
		pm.RecordMQTTPublish(nil)
		pm.RecordSourceBytes(10)
		pm.SetRecentKeys(1)
	})
}

func TestMetricsHandlerAllowList(t *testing.T) {
	pm := newTestMetrics()
	pm.RecordPacket(subcar.Packet{Protocol: subcar.ProtoSubaru}, time.Now())

	cfg := &PrometheusConfig{Enabled: true, AllowedHosts: []string{"127.0.0.1"}}
	require.NoError(t, cfg.parseAllowedHosts())
	handler := pm.Handler(cfg, log.New(io.Discard))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `subcar_packets_total{protocol="Subaru"} 1`)
	assert.Contains(t, rec.Body.String(), "subcar_goroutines")

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "192.0.2.10:50000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPushToGateway(t *testing.T) {
	var gotPath, gotUser string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	pm := newTestMetrics()
	err := pm.pushToGateway(PushgatewayConfig{
		URL:      gateway.URL,
		Job:      "subcar_test",
		Instance: "station-1",
		Token:    "secret",
	})
	require.NoError(t, err)
	assert.Contains(t, gotPath, "/metrics/job/subcar_test")
	assert.Contains(t, gotPath, "/instance/station-1")
	assert.Equal(t, "station-1", gotUser)
}
