package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

var (
	configFile  = pflag.StringP("config", "c", "", "Configuration file. Built-in defaults are used when omitted.")
	inputFile   = pflag.StringP("input", "i", "", "IQ capture to play, overriding the configured source.")
	inputFormat = pflag.StringP("format", "f", "", "Sample format of the input: cu8, cs8 or cs16.")
	listenAddr  = pflag.StringP("listen", "l", "", "HTTP listen address, e.g. :8080.")
	debug       = pflag.BoolP("debug", "d", false, "Enable debug logging.")
	showVersion = pflag.Bool("version", false, "Print the version and exit.")
	help        = pflag.BoolP("help", "h", false, "Display help text.")
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ubersdr_subcar %s - decodes 433/315 MHz car key fob transmissions\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Println(Version)
		os.Exit(0)
	}

	config, err := loadConfiguration()
	if err != nil {
		log.Fatal("failed to load configuration", "err", err)
	}

	logger, err := NewLogger(os.Stderr, config.Logging)
	if err != nil {
		log.Fatal("failed to set up logging", "err", err)
	}

	if err := run(config, logger); err != nil {
		logger.Fatal("exiting", "err", err)
	}
}

// loadConfiguration reads the config file, then applies command line overrides
func loadConfiguration() (*Config, error) {
	config := DefaultConfig()
	if *configFile != "" {
		var err error
		if config, err = LoadConfig(*configFile); err != nil {
			return nil, err
		}
	}

	if *inputFile != "" {
		config.Source.Type = "file"
		config.Source.Path = *inputFile
	}
	if *inputFormat != "" {
		config.Source.Format = *inputFormat
	}
	if *listenAddr != "" {
		config.Server.Listen = *listenAddr
	}

	// Environment variable takes precedence
	debugMode := *debug
	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		debugMode = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}
	if debugMode {
		config.Logging.Level = "debug"
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func run(config *Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting ubersdr_subcar", "version", Version, "source", config.Source.Type,
		"input_rate", config.Source.SampleRate, "decimation", config.Decimation.Factor(),
		"frontend_rate", config.Frontend.SampleRate)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewPrometheusMetrics(registry)

	source, err := NewIQSource(ctx, config.Source, metrics, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	queue := subcar.NewPacketQueue(config.Source.QueueSize)
	receiver, err := NewReceiver(source, config, queue, logger)
	if err != nil {
		return err
	}

	recent := NewRecentEntries(config.Recent, metrics)
	go recent.Run(ctx)

	wsHandler := NewPacketWebSocketHandler(config.WebSocket, metrics, logger)
	go wsHandler.Limiter().Run(ctx)

	dispatcher := NewDispatcher(queue, logger,
		PacketHandlerFunc(func(ev PacketEvent) { metrics.RecordPacket(ev.Packet, ev.Time) }),
		recent,
		wsHandler,
	)

	if config.PacketLog.Enabled {
		packetLog, err := OpenPacketLog(config.PacketLog, time.Now(), metrics, logger)
		if err != nil {
			return err
		}
		defer packetLog.Close()
		dispatcher.Add(packetLog)
	}

	// MQTT problems are logged and the receiver keeps running
	if config.MQTT.Enabled {
		publisher, err := NewMQTTPublisher(&config.MQTT, metrics, receiver.Stats, logger)
		if err != nil {
			logger.Error("MQTT disabled", "err", err)
		} else {
			dispatcher.Add(publisher)
			publisher.StartPublisher(ctx)
		}
	}

	metrics.StartPushgatewayWorker(ctx, config, logger)
	go updateReceiverMetrics(ctx, receiver, metrics)

	api := NewAPIServer(config, receiver, recent, wsHandler, metrics, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- api.Start()
	}()

	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run()
		close(dispatcherDone)
	}()

	receiverErr := make(chan error, 1)
	go func() {
		receiverErr <- receiver.Run(ctx)
	}()

	select {
	case err = <-receiverErr:
	case err = <-serverErr:
		if err != nil {
			err = fmt.Errorf("HTTP server failed: %w", err)
		}
		stop()
		<-receiverErr
	}

	// Run closed the queue; let the sinks see the last packets
	<-dispatcherDone
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := api.Stop(shutdownCtx); serr != nil {
		logger.Warn("HTTP shutdown", "err", serr)
	}

	final := receiver.Stats()
	logger.Info("stopped", "samples", final.Frontend.Samples, "pulses", final.Frontend.Pulses,
		"packets", final.QueuePushed, "dropped", final.QueueDropped)
	return err
}

// updateReceiverMetrics refreshes the snapshot gauges every few seconds
func updateReceiverMetrics(ctx context.Context, receiver *Receiver, metrics *PrometheusMetrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		metrics.UpdateReceiverStats(receiver.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
