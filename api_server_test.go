package main

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/ubersdr_subcar/ook"
	"github.com/cwsl/ubersdr_subcar/subcar"
)

// stubReceiver stands in for Receiver
type stubReceiver struct {
	stats      ReceiverStats
	frontend   ook.Config
	decimation ook.DecimationConfig
}

func (s *stubReceiver) Stats() ReceiverStats { return s.stats }

func (s *stubReceiver) Reconfigure(frontend ook.Config, decimation ook.DecimationConfig) error {
	if err := decimation.Validate(); err != nil {
		return err
	}
	if err := checkRates(s.stats.SampleRate*s.stats.Decimation, decimation.Factor(), frontend.SampleRate); err != nil {
		return err
	}
	s.frontend, s.decimation = frontend, decimation
	return nil
}

func newTestAPI(t *testing.T) (*APIServer, *stubReceiver, *RecentEntries) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Prometheus.Enabled = true
	metrics := newTestMetrics()
	rx := &stubReceiver{stats: ReceiverStats{
		SampleRate: 500000,
		Decimation: 8,
		State:      "idle",
		Bank:       subcar.BankStats{Pulses: 99, Decoded: map[subcar.ProtocolID]uint64{subcar.ProtoVW: 3}},
	}}
	recent := NewRecentEntries(cfg.Recent, metrics)
	ws := NewPacketWebSocketHandler(cfg.WebSocket, metrics, quiet)
	return NewAPIServer(cfg, rx, recent, ws, metrics, quiet), rx, recent
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rec := get(t, api.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProtocolsEndpoint(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rec := get(t, api.Handler(), "/api/protocols")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []ProtocolInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, len(subcar.Protocols()))
	assert.Equal(t, subcar.ProtoSuzuki, list[0].ID)
	assert.Equal(t, "Suzuki", list[0].Name)
	assert.Equal(t, "BMW V0", list[len(list)-1].Name)
	for _, p := range list {
		assert.NotZero(t, p.MinBits, p.Name)
		assert.NotZero(t, p.Timing.Short, p.Name)
	}
}

func TestRecentEndpoint(t *testing.T) {
	api, _, recent := newTestAPI(t)
	recent.HandlePacket(PacketEvent{Time: time.Unix(1700000000, 0).UTC(), Packet: subcar.Packet{Protocol: subcar.ProtoSubaru, BitCount: 64, Data: 0xAB}})

	rec := get(t, api.Handler(), "/api/recent")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []struct {
		Count  int `json:"count"`
		Packet struct {
			Name    string `json:"name"`
			DataHex string `json:"data_hex"`
		} `json:"packet"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Subaru", entries[0].Packet.Name)
	assert.Equal(t, "00000000000000AB", entries[0].Packet.DataHex)
	assert.Equal(t, 1, entries[0].Count)
}

func TestStatsEndpointCompressed(t *testing.T) {
	api, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body io.Reader = rec.Body
	if rec.Header().Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		body = zr
	}
	var stats struct {
		Receiver ReceiverStats     `json:"receiver"`
		Decoded  map[string]uint64 `json:"decoded"`
	}
	require.NoError(t, json.NewDecoder(body).Decode(&stats))
	assert.Equal(t, uint64(99), stats.Receiver.Bank.Pulses)
	assert.Equal(t, uint64(3), stats.Decoded["VW"])
	assert.Equal(t, "idle", stats.Receiver.State)
}

func TestFrontendEndpoint(t *testing.T) {
	api, rx, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/frontend",
		strings.NewReader(`{"frontend":{"settle":4},"decimation":{"stages":[2,2]}}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 4, rx.frontend.Settle)
	assert.Equal(t, "hamming", rx.decimation.Window)
	// input stays at 4 MHz, so the decimated rate follows the new chain
	assert.Equal(t, 1000000, rx.frontend.SampleRate)

	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/frontend",
		strings.NewReader(`{"decimation":{"window":"kaiser"}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/frontend", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFrontendEndpointRejectsBadRates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"rate mismatch", `{"frontend":{"sample_rate":250000},"decimation":{"stages":[2,2]}}`},
		{"not a multiple", `{"decimation":{"stages":[3]}}`},
		{"below 100 kHz", `{"decimation":{"stages":[8,8]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, rx, _ := newTestAPI(t)
			rec := httptest.NewRecorder()
			api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/frontend",
				strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_config")
			assert.Empty(t, rx.decimation.Stages)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	api, _, _ := newTestAPI(t)
	rec := get(t, api.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subcar_packets_total")

	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
