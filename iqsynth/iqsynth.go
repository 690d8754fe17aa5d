// Package iqsynth renders pulse trains as noisy OOK baseband captures.
// The captures are what a receiver front-end would record from a clean
// transmitter, so they can drive the demodulator end to end.
package iqsynth

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cwsl/ubersdr_subcar/ook"
	"github.com/cwsl/ubersdr_subcar/subcar/subcartest"
)

// Options controls rendering
type Options struct {
	SampleRate int     // Hz
	Amplitude  float64 // carrier amplitude in int16 units
	Noise      float64 // standard deviation of the Gaussian noise per component
	Seed       uint64
	LeadIn     uint32 // silence before the train, µs
	Tail       uint32 // silence after the train, µs
}

// DefaultOptions renders at the decimated 500 kHz rate with a strong
// carrier over a quiet floor
func DefaultOptions() Options {
	return Options{
		SampleRate: 500000,
		Amplitude:  8000,
		Noise:      12,
		Seed:       1,
		LeadIn:     2000,
		Tail:       5000,
	}
}

// Render turns the train into IQ samples. The carrier phase rotates
// slowly so both components carry energy.
func Render(train subcartest.Train, opts Options) []ook.IQ {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultOptions().SampleRate
	}
	usToSamples := func(us uint64) int {
		return int(us * uint64(opts.SampleRate) / 1_000_000)
	}

	total := usToSamples(uint64(opts.LeadIn) + train.Duration() + uint64(opts.Tail))
	out := make([]ook.IQ, 0, total)

	var noise func() float64
	if opts.Noise > 0 {
		n := distuv.Normal{Mu: 0, Sigma: opts.Noise, Src: rand.NewPCG(opts.Seed, opts.Seed^0x9E3779B97F4A7C15)}
		noise = n.Rand
	}

	var phase float64
	emit := func(level bool, n int) {
		for i := 0; i < n; i++ {
			var re, im float64
			if level {
				re = opts.Amplitude * math.Cos(phase)
				im = opts.Amplitude * math.Sin(phase)
			}
			phase += 0.01
			if noise != nil {
				re += noise()
				im += noise()
			}
			out = append(out, ook.IQ{I: clamp16(re), Q: clamp16(im)})
		}
	}

	// sample boundaries follow cumulative time so rounding never drifts
	var elapsed uint64
	at := func(level bool, us uint32) {
		start := usToSamples(elapsed)
		elapsed += uint64(us)
		emit(level, usToSamples(elapsed)-start)
	}

	at(false, opts.LeadIn)
	for _, p := range train {
		at(p.Level, p.Duration)
	}
	at(false, opts.Tail)
	return out
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Upsample repeats every sample factor times, producing a capture at a
// rate the decimator can bring back down
func Upsample(in []ook.IQ, factor int) []ook.IQ {
	if factor <= 1 {
		return in
	}
	out := make([]ook.IQ, 0, len(in)*factor)
	for _, s := range in {
		for i := 0; i < factor; i++ {
			out = append(out, s)
		}
	}
	return out
}

// Write encodes samples in format f
func Write(w io.Writer, samples []ook.IQ, f ook.Format) error {
	const chunk = 4096
	buf := make([]byte, 0, chunk*f.BytesPerSample())
	for off := 0; off < len(samples); off += chunk {
		end := min(off+chunk, len(samples))
		buf = f.Encode(buf[:0], samples[off:end])
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("failed to write samples: %w", err)
		}
	}
	return nil
}

// WriteFile writes a capture to path, zstd compressed when the name ends
// in .zst
func WriteFile(path string, samples []ook.IQ, f ook.Format) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriter(file)
	var w io.Writer = bw
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		w = enc
	}

	if err := Write(w, samples, f); err != nil {
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return nil
}
