package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/cwsl/ubersdr_subcar/ook"
)

// NewIQSource opens the source described by cfg
func NewIQSource(ctx context.Context, cfg SourceConfig, metrics *PrometheusMetrics, logger *log.Logger) (IQSource, error) {
	format, err := ook.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "file":
		return OpenFileSource(cfg.Path, format, cfg.SampleRate, cfg.Realtime, cfg.Loop, metrics, logger)
	case "rtltcp":
		if format != ook.FormatCU8 {
			return nil, fmt.Errorf("rtl_tcp streams cu8, not %s", format)
		}
		return DialRTLTCP(ctx, cfg, metrics, logger)
	}
	return nil, fmt.Errorf("unknown source type %q", cfg.Type)
}

// FileSource plays a raw IQ capture. Names ending in .zst are
// decompressed on the fly.
type FileSource struct {
	path       string
	format     ook.Format
	sampleRate int
	realtime   bool
	loop       bool

	file *os.File
	zr   *zstd.Decoder
	r    *bufio.Reader
	raw  []byte

	fresh bool // nothing read since the last open

	// pacing
	start     time.Time
	delivered uint64

	metrics *PrometheusMetrics
	logger  *log.Logger
}

// OpenFileSource opens path for playback
func OpenFileSource(path string, format ook.Format, sampleRate int, realtime, loop bool, metrics *PrometheusMetrics, logger *log.Logger) (*FileSource, error) {
	s := &FileSource{
		path:       path,
		format:     format,
		sampleRate: sampleRate,
		realtime:   realtime,
		loop:       loop,
		metrics:    metrics,
		logger:     logger.WithPrefix("Source"),
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	s.logger.Info("playing capture", "path", path, "format", format, "rate", sampleRate, "realtime", realtime, "loop", loop)
	return s, nil
}

func (s *FileSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open IQ file: %w", err)
	}
	var r io.Reader = f
	if strings.HasSuffix(s.path, ".zst") {
		if s.zr == nil {
			s.zr, err = zstd.NewReader(f)
		} else {
			err = s.zr.Reset(f)
		}
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to open zstd stream: %w", err)
		}
		r = s.zr
	}
	s.file = f
	s.fresh = true
	if s.r == nil {
		s.r = bufio.NewReaderSize(r, 1<<16)
	} else {
		s.r.Reset(r)
	}
	return nil
}

// ReadIQ reads up to len(dst) samples. A trailing partial sample at the
// end of the file is discarded.
func (s *FileSource) ReadIQ(ctx context.Context, dst []ook.IQ) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	bps := s.format.BytesPerSample()
	want := len(dst) * bps
	if cap(s.raw) < want {
		s.raw = make([]byte, want)
	}
	raw := s.raw[:want]

	n, err := io.ReadFull(s.r, raw)
	s.metrics.RecordSourceBytes(n)
	samples := s.format.Decode(dst, raw[:n-n%bps])
	empty := s.fresh && n == 0
	if n > 0 {
		s.fresh = false
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	if errors.Is(err, io.EOF) && s.loop && !empty {
		s.file.Close()
		if rerr := s.open(); rerr != nil {
			s.metrics.RecordSourceError("file")
			return samples, rerr
		}
		s.metrics.RecordSourceRestart()
		s.logger.Debug("capture restarted")
		err = nil
	} else if err != nil && !errors.Is(err, io.EOF) {
		s.metrics.RecordSourceError("file")
		err = fmt.Errorf("failed to read IQ file: %w", err)
	}

	if s.realtime && samples > 0 {
		if werr := s.pace(ctx, samples); werr != nil {
			return samples, werr
		}
	}
	return samples, err
}

// pace sleeps until the wall clock catches up with the samples delivered
func (s *FileSource) pace(ctx context.Context, n int) error {
	if s.start.IsZero() {
		s.start = time.Now()
	}
	s.delivered += uint64(n)
	due := s.start.Add(time.Duration(s.delivered * uint64(time.Second) / uint64(s.sampleRate)))
	wait := time.Until(due)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close releases the file
func (s *FileSource) Close() error {
	if s.zr != nil {
		s.zr.Close()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// rtl_tcp command bytes
const (
	rtlCmdFrequency  = 0x01
	rtlCmdSampleRate = 0x02
	rtlCmdGainMode   = 0x03
	rtlCmdGain       = 0x04
)

// rtlHeaderSize is the dongle info block sent by the server on connect:
// "RTL0", tuner type, gain count
const rtlHeaderSize = 12

// RTLTCPSource streams cu8 samples from an rtl_tcp server
type RTLTCPSource struct {
	conn  net.Conn
	r     *bufio.Reader
	raw   []byte
	tuner uint32
	gains uint32
	stop  func() bool

	metrics *PrometheusMetrics
	logger  *log.Logger
}

// DialRTLTCP connects, checks the dongle header and tunes the receiver
func DialRTLTCP(ctx context.Context, cfg SourceConfig, metrics *PrometheusMetrics, logger *log.Logger) (*RTLTCPSource, error) {
	logger = logger.WithPrefix("rtl_tcp")

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", cfg.Address)
	if err != nil {
		metrics.RecordSourceError("rtltcp")
		return nil, fmt.Errorf("failed to connect to rtl_tcp at %s: %w", cfg.Address, err)
	}

	s := &RTLTCPSource{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 1<<16),
		metrics: metrics,
		logger:  logger,
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var hdr [rtlHeaderSize]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		conn.Close()
		metrics.RecordSourceError("rtltcp")
		return nil, fmt.Errorf("failed to read rtl_tcp header: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if string(hdr[:4]) != "RTL0" {
		conn.Close()
		return nil, fmt.Errorf("unexpected rtl_tcp magic %q", hdr[:4])
	}
	s.tuner = binary.BigEndian.Uint32(hdr[4:8])
	s.gains = binary.BigEndian.Uint32(hdr[8:12])

	manual := uint32(0)
	if cfg.Gain != 0 {
		manual = 1
	}
	cmds := []struct {
		cmd byte
		arg uint32
	}{
		{rtlCmdSampleRate, uint32(cfg.SampleRate)},
		{rtlCmdFrequency, cfg.Frequency},
		{rtlCmdGainMode, manual},
	}
	if manual == 1 {
		cmds = append(cmds, struct {
			cmd byte
			arg uint32
		}{rtlCmdGain, uint32(int32(cfg.Gain))})
	}
	for _, c := range cmds {
		if err := s.command(c.cmd, c.arg); err != nil {
			conn.Close()
			metrics.RecordSourceError("rtltcp")
			return nil, err
		}
	}

	// unblock a pending read when the caller gives up
	s.stop = context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})

	logger.Info("connected", "address", cfg.Address, "tuner", s.tuner, "gains", s.gains,
		"frequency", cfg.Frequency, "rate", cfg.SampleRate, "gain", cfg.Gain)
	return s, nil
}

// command sends one 5-byte big-endian control message
func (s *RTLTCPSource) command(cmd byte, arg uint32) error {
	var buf [5]byte
	buf[0] = cmd
	binary.BigEndian.PutUint32(buf[1:], arg)
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := s.conn.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to send rtl_tcp command 0x%02x: %w", cmd, err)
	}
	return nil
}

// SetFrequency retunes the dongle
func (s *RTLTCPSource) SetFrequency(hz uint32) error {
	return s.command(rtlCmdFrequency, hz)
}

// ReadIQ blocks until len(dst) samples arrived or the stream ends
func (s *RTLTCPSource) ReadIQ(ctx context.Context, dst []ook.IQ) (int, error) {
	want := len(dst) * 2
	if cap(s.raw) < want {
		s.raw = make([]byte, want)
	}
	raw := s.raw[:want]

	n, err := io.ReadFull(s.r, raw)
	s.metrics.RecordSourceBytes(n)
	samples := ook.FormatCU8.Decode(dst, raw[:n&^1])
	if err != nil {
		if ctx.Err() != nil {
			return samples, ctx.Err()
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		if !errors.Is(err, io.EOF) {
			s.metrics.RecordSourceError("rtltcp")
			err = fmt.Errorf("rtl_tcp read failed: %w", err)
		}
	}
	return samples, err
}

// Close drops the connection
func (s *RTLTCPSource) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return s.conn.Close()
}
