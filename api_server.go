package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"

	"github.com/cwsl/ubersdr_subcar/ook"
	"github.com/cwsl/ubersdr_subcar/subcar"
)

// receiverControl is the part of Receiver the API needs
type receiverControl interface {
	Stats() ReceiverStats
	Reconfigure(frontend ook.Config, decimation ook.DecimationConfig) error
}

// ProtocolInfo describes one decoder for /api/protocols
type ProtocolInfo struct {
	ID      subcar.ProtocolID    `json:"id"`
	Name    string               `json:"name"`
	Timing  subcar.TimingProfile `json:"timing"`
	MinBits int                  `json:"min_bits"`
	Policy  string               `json:"bit_count_policy"`
}

// FrontendRequest is the body of POST /api/frontend
type FrontendRequest struct {
	Frontend   ook.Config           `json:"frontend"`
	Decimation ook.DecimationConfig `json:"decimation"`
}

// APIServer serves the HTTP API, the metrics endpoint and the packet stream
type APIServer struct {
	router    *mux.Router
	server    *http.Server
	receiver  receiverControl
	recent    *RecentEntries
	ws        *PacketWebSocketHandler
	metrics   *PrometheusMetrics
	protocols []ProtocolInfo
	started   time.Time
	logger    *log.Logger
}

// NewAPIServer wires the routes
func NewAPIServer(config *Config, receiver receiverControl, recent *RecentEntries, ws *PacketWebSocketHandler, metrics *PrometheusMetrics, logger *log.Logger) *APIServer {
	router := mux.NewRouter()
	s := &APIServer{
		router:   router,
		receiver: receiver,
		recent:   recent,
		ws:       ws,
		metrics:  metrics,
		started:  time.Now(),
		logger:   logger.WithPrefix("HTTP"),
		server: &http.Server{
			Addr:              config.Server.Listen,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}

	for _, d := range subcar.NewBank(nil).Decoders() {
		s.protocols = append(s.protocols, ProtocolInfo{
			ID:      d.Protocol(),
			Name:    d.Protocol().String(),
			Timing:  d.Timing(),
			MinBits: d.MinBits(),
			Policy:  d.Policy().String(),
		})
	}

	s.setupRoutes(config)
	return s
}

// setupRoutes configures all routes
func (s *APIServer) setupRoutes(config *Config) {
	s.router.HandleFunc("/health", handleHealth).Methods("GET")
	if config.Prometheus.Enabled {
		s.router.Handle("/metrics", s.metrics.Handler(&config.Prometheus, s.logger)).Methods("GET")
	}
	s.router.Handle("/ws", s.ws).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })
	api.HandleFunc("/recent", s.handleRecent).Methods("GET")
	api.HandleFunc("/protocols", s.handleProtocols).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/frontend", s.handleFrontend).Methods("POST")
}

// Handler exposes the router, mainly for tests
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Stop is called
func (s *APIServer) Start() error {
	s.logger.Info("listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *APIServer) Stop(ctx context.Context) error {
	s.ws.Close()
	return s.server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *APIServer) handleRecent(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.recent.Snapshot())
}

func (s *APIServer) handleProtocols(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.protocols)
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.receiver.Stats()
	s.metrics.UpdateReceiverStats(stats)

	decoded := make(map[string]uint64, len(stats.Bank.Decoded))
	for id, n := range stats.Bank.Decoded {
		decoded[id.String()] = n
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"receiver":       stats,
		"decoded":        decoded,
		"recent_keys":    s.recent.Len(),
		"ws_clients":     s.ws.ClientCount(),
	})
}

func (s *APIServer) handleFrontend(w http.ResponseWriter, r *http.Request) {
	var req FrontendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	current := s.receiver.Stats()
	if req.Decimation.Window == "" {
		req.Decimation.Window = ook.DefaultDecimation().Window
	}
	if req.Decimation.Stages == nil {
		req.Decimation.Stages = []int{current.Decimation}
	}
	// the input rate is fixed by the source
	if req.Frontend.SampleRate == 0 && req.Decimation.Factor() > 0 {
		req.Frontend.SampleRate = current.SampleRate * current.Decimation / req.Decimation.Factor()
	}
	if err := s.receiver.Reconfigure(req.Frontend, req.Decimation); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	respondJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
