package ook

import (
	"fmt"
	"math"
	"sort"

	"github.com/mjibson/go-dsp/window"
)

// Windows maps the accepted filter window names to their generators
var Windows = map[string]func(int) []float64{
	"hamming":     window.Hamming,
	"hann":        window.Hann,
	"blackman":    window.Blackman,
	"bartlett":    window.Bartlett,
	"flattop":     window.FlatTop,
	"rectangular": window.Rectangular,
}

// WindowNames lists the keys of Windows in sorted order
func WindowNames() []string {
	names := make([]string, 0, len(Windows))
	for n := range Windows {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// tapsPerFactor sets the FIR length relative to the decimation factor
const tapsPerFactor = 8

// DecimationConfig describes the decimation chain
type DecimationConfig struct {
	Stages []int  `yaml:"stages" json:"stages"`
	Window string `yaml:"window" json:"window"`
}

// DefaultDecimation takes a 4 MHz capture down to 500 kHz
func DefaultDecimation() DecimationConfig {
	return DecimationConfig{Stages: []int{4, 2}, Window: "hamming"}
}

// Factor is the total decimation
func (c DecimationConfig) Factor() int {
	f := 1
	for _, s := range c.Stages {
		f *= s
	}
	return f
}

// Validate checks the stage factors and window name
func (c DecimationConfig) Validate() error {
	for i, s := range c.Stages {
		if s < 1 {
			return fmt.Errorf("decimation stage %d factor must be at least 1, got %d", i, s)
		}
	}
	if _, ok := Windows[c.Window]; !ok {
		return fmt.Errorf("unknown decimation window %q", c.Window)
	}
	return nil
}

// LowPassTaps designs a windowed-sinc low-pass filter with n taps and a
// cutoff of cutoff cycles per sample, scaled to unity gain at DC.
func LowPassTaps(n int, cutoff float64, win func(int) []float64) []float64 {
	w := win(n)
	taps := make([]float64, n)
	mid := float64(n-1) / 2
	var sum float64
	for k := range taps {
		x := float64(k) - mid
		h := 2 * cutoff
		if x != 0 {
			h = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		taps[k] = h * w[k]
		sum += taps[k]
	}
	for k := range taps {
		taps[k] /= sum
	}
	return taps
}

// firStage is one low-pass and downsample step in Q15 fixed point
type firStage struct {
	factor int
	taps   []int32

	// line holds the delay line twice so the window is always contiguous
	line  []IQ
	pos   int
	phase int
}

func newFIRStage(factor int, win func(int) []float64) *firStage {
	n := tapsPerFactor*factor + 1
	if factor == 1 {
		n = 1
	}
	var taps []int32
	if n == 1 {
		taps = []int32{1 << 15}
	} else {
		for _, t := range LowPassTaps(n, 0.4/float64(factor), win) {
			taps = append(taps, int32(math.Round(t*(1<<15))))
		}
	}
	return &firStage{
		factor: factor,
		taps:   taps,
		line:   make([]IQ, 2*len(taps)),
	}
}

func (s *firStage) reset() {
	clear(s.line)
	s.pos = 0
	s.phase = 0
}

func sat16(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// process appends the decimated output of in to out
func (s *firStage) process(out, in []IQ) []IQ {
	n := len(s.taps)
	for _, x := range in {
		s.pos--
		if s.pos < 0 {
			s.pos = n - 1
		}
		s.line[s.pos] = x
		s.line[s.pos+n] = x

		s.phase++
		if s.phase < s.factor {
			continue
		}
		s.phase = 0

		var i, q int64
		for k, t := range s.taps {
			v := s.line[s.pos+k]
			i += int64(t) * int64(v.I)
			q += int64(t) * int64(v.Q)
		}
		out = append(out, IQ{I: sat16(i >> 15), Q: sat16(q >> 15)})
	}
	return out
}

// Decimator is a chain of FIR decimation stages
type Decimator struct {
	stages []*firStage
	bufs   [][]IQ
	factor int
}

// NewDecimator builds the chain described by cfg
func NewDecimator(cfg DecimationConfig) (*Decimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	win := Windows[cfg.Window]
	d := &Decimator{factor: cfg.Factor()}
	for _, f := range cfg.Stages {
		d.stages = append(d.stages, newFIRStage(f, win))
		d.bufs = append(d.bufs, nil)
	}
	return d, nil
}

// Factor is the overall decimation
func (d *Decimator) Factor() int {
	return d.factor
}

// Reset clears the filter history
func (d *Decimator) Reset() {
	for _, s := range d.stages {
		s.reset()
	}
}

// Process decimates in and returns the output. The returned slice is
// owned by the Decimator and is valid until the next call. Once the
// internal buffers have grown to the block size, Process does not
// allocate.
func (d *Decimator) Process(in []IQ) []IQ {
	cur := in
	for i, s := range d.stages {
		d.bufs[i] = s.process(d.bufs[i][:0], cur)
		cur = d.bufs[i]
	}
	return cur
}
