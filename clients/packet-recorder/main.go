// Command packet-recorder subscribes to the binary packet stream of one or
// more ubersdr_subcar receivers and records every packet. Records are the
// 19-byte little-endian packet layout; files ending in .zst are
// compressed.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

var (
	hosts     = pflag.StringArrayP("host", "H", []string{"localhost:8080"}, "Receiver host:port. Repeat for several receivers.")
	ssl       = pflag.Bool("ssl", false, "Use wss:// for all receivers.")
	outputDir = pflag.StringP("output-dir", "o", ".", "Directory for the recordings.")
	compress  = pflag.BoolP("zstd", "z", true, "Compress recordings with zstd.")
	duration  = pflag.IntP("duration", "t", 0, "Recording duration in seconds, 0 for unlimited.")
	printCSV  = pflag.BoolP("print", "p", false, "Also print each packet as a CSV log line.")
	verbose   = pflag.BoolP("verbose", "v", false, "Debug logging.")
	help      = pflag.BoolP("help", "h", false, "Display help text.")
)

// PacketRecorder records the stream of one receiver
type PacketRecorder struct {
	host   string
	path   string
	file   *os.File
	zw     *zstd.Encoder
	w      *bufio.Writer
	conn   *websocket.Conn
	count  int
	logger *log.Logger

	mu   sync.Mutex
	done chan struct{}
}

// NewPacketRecorder creates the output file for host
func NewPacketRecorder(host, dir string, compressed bool, logger *log.Logger) (*PacketRecorder, error) {
	name := fmt.Sprintf("packets_%s_%s_%s.bin",
		strings.NewReplacer(":", "_", "/", "_").Replace(host),
		time.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
	if compressed {
		name += ".zst"
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	r := &PacketRecorder{
		host:   host,
		path:   path,
		file:   f,
		logger: logger.WithPrefix(host),
		done:   make(chan struct{}),
	}
	var out io.Writer = f
	if compressed {
		if r.zw, err = zstd.NewWriter(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out = r.zw
	}
	r.w = bufio.NewWriter(out)
	return r, nil
}

// Start connects and begins recording in the background
func (r *PacketRecorder) Start(secure bool) error {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: r.host, Path: "/ws", RawQuery: "format=binary"}

	r.logger.Info("connecting", "url", u.String())
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}
	r.conn = conn
	r.logger.Info("connected, recording", "file", r.path)

	go r.receive()
	return nil
}

func (r *PacketRecorder) receive() {
	defer close(r.done)
	for {
		kind, message, err := r.conn.ReadMessage()
		if err != nil {
			r.logger.Debug("read ended", "err", err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		var p subcar.Packet
		if err := p.UnmarshalBinary(message); err != nil {
			r.logger.Warn("skipping malformed record", "err", err)
			continue
		}

		r.mu.Lock()
		_, err = r.w.Write(message)
		r.count++
		r.mu.Unlock()
		if err != nil {
			r.logger.Error("write failed", "err", err)
			return
		}

		if *printCSV {
			fmt.Println(p.CSV())
		}
		r.logger.Debug("packet", "protocol", p.Protocol.String(), "bits", p.BitCount)
	}
}

// Done is closed when the connection ends
func (r *PacketRecorder) Done() <-chan struct{} {
	return r.done
}

// Stop closes the connection and finishes the file
func (r *PacketRecorder) Stop() {
	if r.conn != nil {
		r.conn.Close()
		<-r.done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	if err := r.w.Flush(); err != nil {
		r.logger.Warn("flush failed", "err", err)
	}
	if r.zw != nil {
		if err := r.zw.Close(); err != nil {
			r.logger.Warn("zstd close failed", "err", err)
		}
	}
	r.file.Close()
	r.file = nil
	r.logger.Info("recording saved", "file", r.path, "packets", r.count)
}

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Records the binary packet stream of ubersdr_subcar receivers.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "packet-recorder", ReportTimestamp: true})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatal("cannot create output directory", "err", err)
	}

	var recorders []*PacketRecorder
	for _, host := range *hosts {
		r, err := NewPacketRecorder(host, *outputDir, *compress, logger)
		if err != nil {
			logger.Error("skipping receiver", "host", host, "err", err)
			continue
		}
		if err := r.Start(*ssl); err != nil {
			logger.Error("skipping receiver", "host", host, "err", err)
			r.Stop()
			continue
		}
		recorders = append(recorders, r)
	}
	if len(recorders) == 0 {
		logger.Fatal("no receiver could be recorded")
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(time.Duration(*duration) * time.Second)
	}

	// all streams ended
	allDone := make(chan struct{})
	go func() {
		for _, r := range recorders {
			<-r.Done()
		}
		close(allDone)
	}()

	select {
	case <-sigChan:
		logger.Info("interrupted, stopping")
	case <-timeout:
		logger.Info("duration reached")
	case <-allDone:
		logger.Info("all streams closed")
	}

	var wg sync.WaitGroup
	for _, r := range recorders {
		wg.Add(1)
		go func(r *PacketRecorder) {
			defer wg.Done()
			r.Stop()
		}(r)
	}
	wg.Wait()
}
