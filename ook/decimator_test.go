package ook

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n int, cycles float64, amp float64) []IQ {
	var out = make([]IQ, n)
	for k := range out {
		var ph = 2 * math.Pi * cycles * float64(k)
		out[k] = IQ{I: int16(math.Round(amp * math.Cos(ph))), Q: int16(math.Round(amp * math.Sin(ph)))}
	}
	return out
}

func peak(s []IQ) float64 {
	var m float64
	for _, v := range s {
		m = math.Max(m, math.Hypot(float64(v.I), float64(v.Q)))
	}
	return m
}

func TestDecimationConfig(t *testing.T) {
	var cfg = DefaultDecimation()
	assert.Equal(t, 8, cfg.Factor())
	assert.NoError(t, cfg.Validate())

	assert.Error(t, DecimationConfig{Stages: []int{4, 0}, Window: "hamming"}.Validate())
	assert.Error(t, DecimationConfig{Stages: []int{4}, Window: "kaiser"}.Validate())
	assert.Equal(t, 1, DecimationConfig{}.Factor())

	assert.Equal(t, []string{"bartlett", "blackman", "flattop", "hamming", "hann", "rectangular"}, WindowNames())
}

func TestLowPassTapsUnityGain(t *testing.T) {
	for _, name := range WindowNames() {
		var taps = LowPassTaps(33, 0.1, Windows[name])
		var sum float64
		for _, v := range taps {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, name)
		assert.InDelta(t, taps[0], taps[32], 1e-12, "%s taps are symmetric", name)
	}
}

func TestDecimatorPassesDC(t *testing.T) {
	var d, err = NewDecimator(DefaultDecimation())
	require.NoError(t, err)

	var in = make([]IQ, 4000)
	for i := range in {
		in[i] = IQ{I: 8000, Q: -4000}
	}

	var out = d.Process(in)
	require.Len(t, out, 500)
	assert.InDelta(t, 8000, out[len(out)-1].I, 10)
	assert.InDelta(t, -4000, out[len(out)-1].Q, 10)
}

func TestDecimatorRejectsAliases(t *testing.T) {
	var d, err = NewDecimator(DecimationConfig{Stages: []int{4}, Window: "hamming"})
	require.NoError(t, err)

	var out = d.Process(tone(4000, 0.3, 10000))
	assert.Less(t, peak(out[20:]), 100.0)

	d.Reset()
	out = d.Process(tone(4000, 0.01, 10000))
	assert.InDelta(t, 10000, peak(out[20:]), 100)
}

func TestDecimatorStreamsAcrossBlocks(t *testing.T) {
	var whole, _ = NewDecimator(DefaultDecimation())
	var split, _ = NewDecimator(DefaultDecimation())
	var in = tone(4096, 0.002, 12000)

	var want = append([]IQ(nil), whole.Process(in)...)

	var got []IQ
	for off := 0; off < len(in); off += 100 {
		var end = min(off+100, len(in))
		got = append(got, split.Process(in[off:end])...)
	}
	assert.Equal(t, want, got)
}

func TestDecimatorDoesNotAllocate(t *testing.T) {
	var d, _ = NewDecimator(DefaultDecimation())
	var in = tone(2048, 0.01, 5000)
	d.Process(in)

	assert.Zero(t, testing.AllocsPerRun(10, func() {
		d.Process(in)
	}))
}

func TestNewDecimatorRejectsBadConfig(t *testing.T) {
	var _, err = NewDecimator(DecimationConfig{Stages: []int{2}, Window: "nope"})
	assert.Error(t, err)
}
