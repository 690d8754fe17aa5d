package subcar

const (
	fordGap       = 3500
	fordGapDelta  = 250
	fordKeyBits   = 64
	fordFrameBits = 80 // key plus the 16-bit second key
)

type fordStep uint8

const (
	fordReset fordStep = iota
	fordPreamble
	fordPreambleCheck
	fordGapStep
	fordData
)

// FordV0 decodes the 80-bit Ford frame: a 64-bit key followed by a 16-bit
// second key, both sent inverted and Manchester coded with the line
// polarity swapped. A 3.5 ms low gap precedes the data; the first bit is
// implied by the gap.
type FordV0 struct {
	decoderBase
	step fordStep
	key1 uint64
}

// NewFordV0 returns a Ford V0 decoder in its reset state
func NewFordV0() *FordV0 {
	return &FordV0{
		decoderBase: newBase(ProtoFordV0, TimingProfile{Short: 250, Long: 500, Delta: 100}, fordKeyBits, Exact),
	}
}

func (d *FordV0) Reset() {
	d.clear()
	d.step = fordReset
	d.key1 = 0
}

func (d *FordV0) atReset() bool { return d.step == fordReset }

func (d *FordV0) Feed(level bool, duration uint32) {
	t := d.timing
	switch d.step {
	case fordReset:
		if level && t.IsShort(duration) {
			d.Reset()
			d.teLast = duration
			d.step = fordPreamble
		}

	case fordPreamble:
		if !level && t.IsLong(duration) {
			d.teLast = duration
			d.step = fordPreambleCheck
			return
		}
		d.Reset()

	case fordPreambleCheck:
		switch {
		case level && t.IsLong(duration):
			d.header++
			d.teLast = duration
			d.step = fordPreamble
		case level && t.IsShort(duration):
			d.step = fordGapStep
		default:
			d.Reset()
		}

	case fordGapStep:
		if !level && within(duration, fordGap, fordGapDelta) {
			d.acc.Clear()
			d.acc.Push(true)
			d.manchester = ManchesterMid
			d.step = fordData
			return
		}
		d.Reset()

	case fordData:
		before := d.acc.Count
		if !d.manchesterFeed(level, duration, true) {
			d.Reset()
			return
		}
		d.teLast = duration
		if d.acc.Count == before {
			return
		}
		switch d.acc.Count {
		case fordKeyBits:
			d.key1 = ^d.acc.Lo
			d.acc.Hi, d.acc.Lo = 0, 0
		case fordFrameBits:
			key2 := uint64(^uint16(d.acc.Lo))
			d.emit(fordKeyBits, d.key1, key2)
			d.Reset()
		}
	}
}
