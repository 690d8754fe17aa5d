package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/cwsl/ubersdr_subcar/ook"
	"github.com/cwsl/ubersdr_subcar/subcar"
)

// IQSource delivers blocks of complex samples at the configured input rate
type IQSource interface {
	// ReadIQ fills dst and returns the number of samples written. It
	// returns io.EOF once the source is exhausted.
	ReadIQ(ctx context.Context, dst []ook.IQ) (int, error)
	Close() error
}

// ReceiverStats is a snapshot of the receive chain counters
type ReceiverStats struct {
	SampleRate   int              `json:"sample_rate"`
	Decimation   int              `json:"decimation"`
	State        string           `json:"state"`
	Frontend     ook.Stats        `json:"frontend"`
	Bank         subcar.BankStats `json:"bank"`
	QueueDepth   int              `json:"queue_depth"`
	QueuePushed  uint64           `json:"queue_pushed"`
	QueueDropped uint64           `json:"queue_dropped"`
}

// frontendUpdate is a pending Reconfigure
type frontendUpdate struct {
	frontend ook.Config
	dec      *ook.Decimator
}

// Receiver owns the sample path: source, decimator, demodulator and the
// decoder bank. Everything except Stats and Reconfigure runs on the
// goroutine that calls Run.
type Receiver struct {
	source IQSource
	dec    *ook.Decimator
	demod  *ook.Demodulator
	bank   *subcar.Bank
	queue  *subcar.PacketQueue

	blockSize int
	inputRate int
	updates   chan frontendUpdate
	logger    *log.Logger

	state      atomic.Value // ook.State as string
	sampleRate atomic.Int64
	factor     atomic.Int64
}

// NewReceiver wires the decode chain. Decoded packets land on queue.
func NewReceiver(source IQSource, cfg *Config, queue *subcar.PacketQueue, logger *log.Logger) (*Receiver, error) {
	dec, err := ook.NewDecimator(cfg.Decimation)
	if err != nil {
		return nil, fmt.Errorf("failed to build decimator: %w", err)
	}

	r := &Receiver{
		source:    source,
		dec:       dec,
		queue:     queue,
		blockSize: cfg.Source.BlockSize,
		inputRate: cfg.Source.SampleRate,
		updates:   make(chan frontendUpdate, 1),
		logger:    logger.WithPrefix("Receiver"),
	}
	r.bank = subcar.NewBank(queue)
	r.demod = ook.NewDemodulator(cfg.Frontend, r.bank)
	r.publish()
	return r, nil
}

// Bank exposes the decoder bank for introspection
func (r *Receiver) Bank() *subcar.Bank {
	return r.bank
}

// Reconfigure replaces the front-end and decimation settings. The change
// is applied between two blocks; the demodulator returns to Idle and every
// decoder is reset. A second call before the first is applied replaces it.
// A zero front-end sample rate follows the source rate over the new factor.
func (r *Receiver) Reconfigure(frontend ook.Config, decimation ook.DecimationConfig) error {
	dec, err := ook.NewDecimator(decimation)
	if err != nil {
		return fmt.Errorf("failed to build decimator: %w", err)
	}
	if frontend.SampleRate == 0 {
		frontend.SampleRate = r.inputRate / dec.Factor()
	}
	if err := checkRates(r.inputRate, dec.Factor(), frontend.SampleRate); err != nil {
		return err
	}
	u := frontendUpdate{frontend: frontend, dec: dec}
	for {
		select {
		case r.updates <- u:
			return nil
		default:
		}
		// drop the stale pending update
		select {
		case <-r.updates:
		default:
		}
	}
}

func (r *Receiver) apply(u frontendUpdate) {
	r.dec = u.dec
	r.demod.Configure(u.frontend)
	r.bank.Reset()
	r.publish()
	r.logger.Info("front-end reconfigured",
		"sample_rate", r.demod.Config().SampleRate, "decimation", r.dec.Factor())
}

func (r *Receiver) publish() {
	r.state.Store(r.demod.State().String())
	r.sampleRate.Store(int64(r.demod.Config().SampleRate))
	r.factor.Store(int64(r.dec.Factor()))
}

// Stats may be called from any goroutine
func (r *Receiver) Stats() ReceiverStats {
	state, _ := r.state.Load().(string)
	return ReceiverStats{
		SampleRate:   int(r.sampleRate.Load()),
		Decimation:   int(r.factor.Load()),
		State:        state,
		Frontend:     r.demod.Stats(),
		Bank:         r.bank.Stats(),
		QueueDepth:   r.queue.Len(),
		QueuePushed:  r.queue.Pushed(),
		QueueDropped: r.queue.Dropped(),
	}
}

// Run reads the source until it is exhausted or ctx is cancelled. The
// packet queue is closed on return so the dispatcher can drain it.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.queue.Close()

	buf := make([]ook.IQ, r.blockSize)
	r.logger.Info("receiver started", "block_size", r.blockSize)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("receiver stopped")
			return nil
		case u := <-r.updates:
			r.apply(u)
		default:
		}

		n, err := r.source.ReadIQ(ctx, buf)
		if n > 0 {
			r.demod.Process(r.dec.Process(buf[:n]))
			r.state.Store(r.demod.State().String())
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Info("source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				r.logger.Info("receiver stopped")
				return nil
			}
			return fmt.Errorf("failed to read IQ samples: %w", err)
		}
	}
}
