// Package ook turns complex baseband samples into (level, duration) pulse
// events for on-off keyed transmitters.
package ook

import "sync/atomic"

// PulseSink receives every pulse the demodulator classifies.
// Durations are in microseconds.
type PulseSink interface {
	Feed(level bool, duration uint32)
}

// State is the envelope detector state
type State uint8

const (
	StateIdle State = iota
	StatePulse
	StateGapStart
	StateGap
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulse:
		return "pulse"
	case StateGapStart:
		return "gap_start"
	case StateGap:
		return "gap"
	}
	return "invalid"
}

// Config holds the demodulator parameters
type Config struct {
	// SampleRate is the rate of the samples given to Process, in Hz
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`
	// LowRatio and HighRatio are the smoothing divisors of the noise
	// floor and pulse level estimates
	LowRatio  int32 `yaml:"low_ratio" json:"low_ratio"`
	HighRatio int32 `yaml:"high_ratio" json:"high_ratio"`
	// MinHigh and MaxHigh clamp the pulse level estimate
	MinHigh int32 `yaml:"min_high" json:"min_high"`
	MaxHigh int32 `yaml:"max_high" json:"max_high"`
	// NoiseMargin keeps the pulse level at least this many times the
	// noise floor
	NoiseMargin int32 `yaml:"noise_margin" json:"noise_margin"`
	// Settle is how many samples a level change must hold
	Settle int `yaml:"settle" json:"settle"`
	// MaxDuration caps a single event, in µs
	MaxDuration uint32 `yaml:"max_duration_us" json:"max_duration_us"`
}

// DefaultConfig returns the parameters used for a 500 kHz decimated stream
func DefaultConfig() Config {
	return Config{
		SampleRate:  500000,
		LowRatio:    64,
		HighRatio:   3,
		MinHigh:     100,
		MaxHigh:     1 << 21,
		NoiseMargin: 10,
		Settle:      3,
		MaxDuration: 30000,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.LowRatio <= 0 {
		c.LowRatio = d.LowRatio
	}
	if c.HighRatio <= 0 {
		c.HighRatio = d.HighRatio
	}
	if c.MinHigh <= 0 {
		c.MinHigh = d.MinHigh
	}
	if c.MaxHigh <= 0 {
		c.MaxHigh = d.MaxHigh
	}
	if c.MaxHigh < c.MinHigh {
		c.MaxHigh = c.MinHigh
	}
	if c.NoiseMargin <= 0 {
		c.NoiseMargin = d.NoiseMargin
	}
	if c.Settle <= 0 {
		c.Settle = d.Settle
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = d.MaxDuration
	}
	return c
}

// ThresholdEstimator tracks the noise floor and the pulse level
type ThresholdEstimator struct {
	Low  int32 `json:"low"`
	High int32 `json:"high"`
}

// Threshold is the midpoint between the two estimates
func (t ThresholdEstimator) Threshold() int32 {
	return (t.Low + t.High) / 2
}

// Hysteresis is the dead band around the threshold
func (t ThresholdEstimator) Hysteresis() int32 {
	return t.Threshold() / 8
}

// Stats is a snapshot of the demodulator counters
type Stats struct {
	Samples   uint64             `json:"samples"`
	Pulses    uint64             `json:"pulses"`
	Glitches  uint64             `json:"glitches"`
	Threshold ThresholdEstimator `json:"threshold"`
}

// Demodulator is the OOK envelope detector.
//
// It is driven by a single goroutine; Stats may be read from any other.
type Demodulator struct {
	// Configuration
	cfg       Config
	nsPerSamp uint64
	maxNS     uint64
	lowRatio  int32
	highRatio int32
	sink      PulseSink

	// Estimator
	est   ThresholdEstimator
	state State
	numg  int

	// Noise floor in 1/256 magnitude units, and how many samples it has
	// seen up to LowRatio
	lowAcc  int64
	lowSeen int32

	// High estimate before the current pulse started
	savedHigh int32

	// Current event
	level    bool
	duration uint64 // ns

	// Candidate level change waiting to settle
	pending int

	// Statistics
	samples  atomic.Uint64
	pulses   atomic.Uint64
	glitches atomic.Uint64
	low      atomic.Int32
	high     atomic.Int32
}

// NewDemodulator creates a demodulator that feeds sink
func NewDemodulator(cfg Config, sink PulseSink) *Demodulator {
	d := &Demodulator{sink: sink}
	d.Configure(cfg)
	return d
}

// Configure applies cfg and returns to Idle. The estimator is re-seeded
// and any pulse being measured is discarded without an event.
func (d *Demodulator) Configure(cfg Config) {
	cfg = cfg.withDefaults()
	d.cfg = cfg
	d.nsPerSamp = 1_000_000_000 / uint64(cfg.SampleRate)
	d.maxNS = uint64(cfg.MaxDuration) * 1000
	d.lowRatio = cfg.LowRatio
	d.highRatio = cfg.HighRatio

	d.est = ThresholdEstimator{Low: 0, High: cfg.MinHigh}
	d.lowAcc = 0
	d.lowSeen = 0
	d.savedHigh = cfg.MinHigh
	d.state = StateIdle
	d.numg = 0
	d.level = false
	d.duration = 0
	d.pending = 0
	d.publishEstimate()
}

// Config returns the active configuration with defaults applied
func (d *Demodulator) Config() Config {
	return d.cfg
}

// State returns the detector state
func (d *Demodulator) State() State {
	return d.state
}

// Estimate returns the current threshold estimator
func (d *Demodulator) Estimate() ThresholdEstimator {
	return d.est
}

// Stats returns the counters
func (d *Demodulator) Stats() Stats {
	return Stats{
		Samples:  d.samples.Load(),
		Pulses:   d.pulses.Load(),
		Glitches: d.glitches.Load(),
		Threshold: ThresholdEstimator{
			Low:  d.low.Load(),
			High: d.high.Load(),
		},
	}
}

// Process runs a buffer of samples through the detector
func (d *Demodulator) Process(samples []IQ) {
	for _, s := range samples {
		d.step(magnitude(s))
	}
	d.samples.Add(uint64(len(samples)))
	d.publishEstimate()
}

func (d *Demodulator) publishEstimate() {
	d.low.Store(d.est.Low)
	d.high.Store(d.est.High)
}

// magnitude is the scaled instantaneous power
func magnitude(s IQ) int32 {
	i, q := int64(s.I), int64(s.Q)
	return int32((i*i + q*q) >> 10)
}

// floor is the lowest pulse level the estimator accepts
func (d *Demodulator) floor() int32 {
	f := int64(d.est.Low) * int64(d.cfg.NoiseMargin)
	if f < int64(d.cfg.MinHigh) {
		f = int64(d.cfg.MinHigh)
	}
	if f > int64(d.cfg.MaxHigh) {
		f = int64(d.cfg.MaxHigh)
	}
	return int32(f)
}

func (d *Demodulator) clampHigh() {
	if f := d.floor(); d.est.High < f {
		d.est.High = f
	}
	if d.est.High > d.cfg.MaxHigh {
		d.est.High = d.cfg.MaxHigh
	}
}

// trackLow folds a sample measured as low into the noise floor. Until
// LowRatio samples have been seen the floor is their plain mean.
func (d *Demodulator) trackLow(mag int32) {
	ratio := d.lowRatio
	if d.lowSeen < ratio {
		d.lowSeen++
		ratio = d.lowSeen
	}
	d.lowAcc += (int64(mag)<<8 - d.lowAcc) / int64(ratio)
	d.est.Low = int32(d.lowAcc >> 8)
}

// startPulse enters Pulse, remembering the high estimate so a rejected
// spike can be undone
func (d *Demodulator) startPulse() bool {
	d.savedHigh = d.est.High
	d.numg = 0
	d.state = StatePulse
	return true
}

// classify advances the envelope state machine by one magnitude sample
// and returns the level it measures. The noise floor follows every low
// sample in Idle and Gap, and the pulse level never drops below
// NoiseMargin times the floor.
func (d *Demodulator) classify(mag int32) bool {
	threshold := d.est.Threshold()
	hysteresis := d.est.Hysteresis()
	settle := d.cfg.Settle

	switch d.state {
	case StateIdle:
		// the first sample after Configure seeds the floor
		if d.lowSeen > 0 && mag > threshold+hysteresis {
			return d.startPulse()
		}
		d.trackLow(mag)
		d.est.High = d.floor()
		return false

	case StatePulse:
		if d.numg < 100 {
			d.numg++
		}
		if mag < threshold-hysteresis {
			if d.numg < settle {
				// too short to be a pulse
				d.est.High = d.savedHigh
				d.clampHigh()
				d.state = StateGap
			} else {
				d.numg = 0
				d.state = StateGapStart
			}
			return false
		}
		d.est.High += mag/d.highRatio - d.est.High/d.highRatio
		d.clampHigh()
		return true

	case StateGapStart:
		d.numg++
		if mag > threshold+hysteresis {
			d.state = StatePulse
			return true
		}
		if d.numg >= settle {
			d.state = StateGap
		}
		return false

	case StateGap:
		if mag > threshold+hysteresis {
			return d.startPulse()
		}
		d.trackLow(mag)
		d.clampHigh()
		return false
	}
	return d.level
}

// step classifies one sample and emits an event when the level has
// changed for at least Settle samples. Shorter excursions are folded
// back into the current level.
func (d *Demodulator) step(mag int32) {
	measured := d.classify(mag)

	if measured == d.level {
		if d.pending > 0 {
			d.glitches.Add(1)
			d.duration += uint64(d.pending) * d.nsPerSamp
			d.pending = 0
		}
		d.duration += d.nsPerSamp
	} else {
		d.pending++
		if d.pending >= d.cfg.Settle {
			d.emit(d.level, d.duration)
			d.level = measured
			d.duration = uint64(d.pending) * d.nsPerSamp
			d.pending = 0
		}
	}

	if d.duration >= d.maxNS {
		d.emit(d.level, d.duration)
		d.duration = 0
		if !d.level {
			d.state = StateIdle
		}
	}
}

func (d *Demodulator) emit(level bool, ns uint64) {
	if ns == 0 {
		return
	}
	d.pulses.Add(1)
	if d.sink != nil {
		d.sink.Feed(level, uint32(ns/1000))
	}
}
