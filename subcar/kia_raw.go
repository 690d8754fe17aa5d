package subcar

import "math/bits"

type rawStep uint8

const (
	rawReset rawStep = iota
	rawPreamble
	rawSyncLow
	rawCollect
)

// rawManchester collects a whole frame of half-symbols into RawBits and
// Manchester-decodes it once a long pulse ends the frame. The Kia V1, V2
// and V5 decoders differ only in preamble, sync and bit alignment.
type rawManchester struct {
	decoderBase
	step rawStep

	endAbove uint32
	minRaw   int
	maxBits  int
}

func (d *rawManchester) Reset() {
	d.clear()
	d.step = rawReset
}

func (d *rawManchester) atReset() bool { return d.step == rawReset }

// collect handles a pulse in the collect step. It reports true when the
// pulse ended the frame and the caller should decode.
func (d *rawManchester) collect(level bool, duration uint32) (done bool) {
	if duration > d.endAbove {
		return true
	}
	if !d.pushRaw(level, duration) {
		d.Reset()
	}
	return false
}

// bestAlignment decodes from every offset in [0, 8) with 10=1, 01=0 and
// keeps the first offset with the most decoded bits.
func (d *rawManchester) bestAlignment() (value uint64, count int) {
	for off := 0; off < 8; off++ {
		v, n := d.raw.decodeManchesterPairs(off, [2]bool{true, false}, d.maxBits)
		if n > count {
			value, count = v, n
		}
	}
	return value, count
}

// KiaV1 decodes the 56-bit Kia V1 frame (800/1600 µs Manchester).
// The sync high is the first half of the first bit.
type KiaV1 struct {
	rawManchester
}

// NewKiaV1 returns a Kia V1 decoder in its reset state
func NewKiaV1() *KiaV1 {
	return &KiaV1{rawManchester{
		decoderBase: newBase(ProtoKiaV1, TimingProfile{Short: 800, Long: 1600, Delta: 200}, 56, AtLeast),
		endAbove:    2400,
		minRaw:      113,
		maxBits:     56,
	}}
}

func (d *KiaV1) Feed(level bool, duration uint32) {
	t := d.timing
	switch d.step {
	case rawReset:
		if level && t.IsLong(duration) {
			d.Reset()
			d.step = rawPreamble
			d.teLast = duration
			d.header = 1
		}

	case rawPreamble:
		switch {
		case t.IsLong(duration):
			d.header++
			if level {
				d.teLast = duration
			}
		case level && t.IsShort(duration):
			d.teLast = duration
		case !level && t.IsShort(duration) && d.header > 12:
			d.step = rawSyncLow
		default:
			d.Reset()
		}

	case rawSyncLow:
		if level && t.IsShort(duration) {
			d.raw.Clear()
			d.raw.Push(true)
			d.step = rawCollect
			return
		}
		d.Reset()

	case rawCollect:
		if d.collect(level, duration) {
			d.finish()
		}
	}
}

func (d *KiaV1) finish() {
	if d.raw.Len() >= d.minRaw {
		if v, n := d.bestAlignment(); d.enough(n) {
			d.emit(n, v, 0)
		}
	}
	d.Reset()
}

// KiaV2 decodes the Kia V2 frame (500/1000 µs Manchester), 51 to 53 bits.
type KiaV2 struct {
	rawManchester
}

// NewKiaV2 returns a Kia V2 decoder in its reset state
func NewKiaV2() *KiaV2 {
	return &KiaV2{rawManchester{
		decoderBase: newBase(ProtoKiaV2, TimingProfile{Short: 500, Long: 1000, Delta: 160}, 51, AtLeast),
		endAbove:    1500,
		minRaw:      100,
		maxBits:     53,
	}}
}

func (d *KiaV2) Feed(level bool, duration uint32) {
	t := d.timing
	switch d.step {
	case rawReset:
		if level && t.IsLong(duration) {
			d.Reset()
			d.step = rawPreamble
			d.teLast = duration
			d.header = 1
		}

	case rawPreamble:
		switch {
		case t.IsLong(duration):
			d.header++
			if level {
				d.teLast = duration
			}
		case level && t.IsShort(duration):
			d.teLast = duration
		case !level && t.IsShort(duration) && d.header > 10 && t.IsShort(d.teLast):
			d.raw.Clear()
			d.step = rawCollect
		default:
			d.Reset()
		}

	case rawCollect:
		if d.collect(level, duration) {
			if d.raw.Len() >= d.minRaw {
				if v, n := d.bestAlignment(); d.enough(n) {
					d.emit(n, v, 0)
				}
			}
			d.Reset()
		}
	}
}

// KiaV5 decodes the 64-bit Kia V5 frame (400/800 µs Manchester).
// Two filler half-symbols precede the payload, which is coded 01=1, 10=0
// and sent least significant bit first.
type KiaV5 struct {
	rawManchester
}

const kiaV5PreambleMin = 40

// NewKiaV5 returns a Kia V5 decoder in its reset state
func NewKiaV5() *KiaV5 {
	return &KiaV5{rawManchester{
		decoderBase: newBase(ProtoKiaV5, TimingProfile{Short: 400, Long: 800, Delta: 150}, 64, Exact),
		endAbove:    1200,
		minRaw:      130,
		maxBits:     64,
	}}
}

func (d *KiaV5) Feed(level bool, duration uint32) {
	t := d.timing
	switch d.step {
	case rawReset:
		if level && t.IsShort(duration) {
			d.Reset()
			d.step = rawPreamble
			d.teLast = duration
			d.header = 1
		}

	case rawPreamble:
		if level {
			if !t.IsShort(duration) && !t.IsLong(duration) {
				d.Reset()
				return
			}
			d.teLast = duration
			return
		}
		switch {
		case t.IsShort(duration) && t.IsShort(d.teLast):
			d.header++
		case t.IsLong(duration) && t.IsShort(d.teLast):
			if d.header > kiaV5PreambleMin {
				d.raw.Clear()
				d.step = rawCollect
				return
			}
			d.header++
		case t.IsLong(d.teLast):
			d.header++
		default:
			d.Reset()
		}

	case rawCollect:
		if d.collect(level, duration) {
			if d.raw.Len() >= d.minRaw {
				v, n := d.raw.decodeManchesterPairs(2, [2]bool{false, true}, d.maxBits)
				if d.enough(n) {
					d.emit(n, bits.Reverse64(v), 0)
				}
			}
			d.Reset()
		}
	}
}
