package subcar

const (
	fiatPreambleMin = 150
	fiatGap         = 800
	fiatKeyBits     = 64
	fiatFrameBits   = 71
)

type fiatStep uint8

const (
	fiatReset fiatStep = iota
	fiatPreamble
	fiatData
)

// FiatV0 decodes the 71-bit Fiat frame: a 32-bit hop code, a 32-bit fixed
// code and a trailing 7-bit end field, Manchester coded with the line
// polarity swapped. Data is hop<<32|fix and Data2 the end field; the
// reported bit count is the 64 bits of the key.
type FiatV0 struct {
	decoderBase
	step fiatStep
	key  uint64
}

// NewFiatV0 returns a Fiat V0 decoder in its reset state
func NewFiatV0() *FiatV0 {
	return &FiatV0{
		decoderBase: newBase(ProtoFiatV0, TimingProfile{Short: 200, Long: 400, Delta: 100}, fiatKeyBits, Exact),
	}
}

func (d *FiatV0) Reset() {
	d.clear()
	d.step = fiatReset
	d.key = 0
}

func (d *FiatV0) atReset() bool { return d.step == fiatReset }

func (d *FiatV0) Feed(level bool, duration uint32) {
	t := d.timing
	switch d.step {
	case fiatReset:
		if level && t.IsShort(duration) {
			d.Reset()
			d.teLast = duration
			d.step = fiatPreamble
		}

	case fiatPreamble:
		switch {
		case t.IsShort(duration):
			if d.header < fiatPreambleMin {
				d.header++
			}
			d.teLast = duration
		case !level && d.header >= fiatPreambleMin && t.Match(duration, fiatGap):
			d.acc.Clear()
			d.manchester = ManchesterMid
			d.teLast = duration
			d.step = fiatData
		default:
			d.Reset()
		}

	case fiatData:
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
		case fiatKeyBits:
			d.key = d.acc.Lo
			d.acc.Hi, d.acc.Lo = 0, 0
		case fiatFrameBits:
			d.emit(fiatKeyBits, d.key, d.acc.Lo&0xFF)
			d.Reset()
		}
	}
}
