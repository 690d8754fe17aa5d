package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

// PacketLog appends every packet to a CSV file named from a strftime
// pattern when the log is opened
type PacketLog struct {
	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	path    string
	metrics *PrometheusMetrics
	logger  *log.Logger
}

// OpenPacketLog creates the log file and writes the header line
func OpenPacketLog(cfg PacketLogConfig, now time.Time, metrics *PrometheusMetrics, logger *log.Logger) (*PacketLog, error) {
	pattern, err := strftime.New(cfg.FilenamePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid packet_log.filename_pattern: %w", err)
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create packet log directory: %w", err)
	}

	path := filepath.Join(cfg.Directory, pattern.FormatString(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open packet log: %w", err)
	}

	pl := &PacketLog{
		file:    f,
		w:       bufio.NewWriter(f),
		path:    path,
		metrics: metrics,
		logger:  logger.WithPrefix("PacketLog"),
	}

	// A file reopened within the same second keeps its single header
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		pl.w.WriteString(subcar.CSVHeader + "\n")
		if err := pl.w.Flush(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write packet log header: %w", err)
		}
	}

	pl.logger.Info("logging packets", "path", path)
	return pl, nil
}

// Path returns the file being written
func (pl *PacketLog) Path() string {
	return pl.path
}

// HandlePacket writes one CSV line
func (pl *PacketLog) HandlePacket(ev PacketEvent) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file == nil {
		return
	}
	pl.w.WriteString(ev.Packet.CSV())
	pl.w.WriteByte('\n')
	if err := pl.w.Flush(); err != nil {
		pl.logger.Error("failed to write packet", "err", err)
		return
	}
	pl.metrics.RecordPacketLogLine()
}

// Close flushes and closes the file
func (pl *PacketLog) Close() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file == nil {
		return nil
	}
	err := pl.w.Flush()
	if cerr := pl.file.Close(); err == nil {
		err = cerr
	}
	pl.file = nil
	return err
}
