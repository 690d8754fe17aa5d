package subcar

const (
	suzukiPreambleMin = 257
	suzukiGap         = 2000
	suzukiGapDelta    = 400
	suzukiMaker       = 0xF
)

type suzukiStep uint8

const (
	suzukiReset suzukiStep = iota
	suzukiPreamble
	suzukiData
)

// Suzuki decodes a 64-bit PWM frame behind a long run of short pulses.
// A long high is 1, a short high is 0; the low gaps carry no data.
// The frame ends on a ~2 ms low and is accepted when the top nibble is 0xF.
type Suzuki struct {
	decoderBase
	step suzukiStep
}

// NewSuzuki returns a Suzuki decoder in its reset state
func NewSuzuki() *Suzuki {
	return &Suzuki{
		decoderBase: newBase(ProtoSuzuki, TimingProfile{Short: 250, Long: 500, Delta: 110}, 64, Exact),
	}
}

func (d *Suzuki) Reset() {
	d.clear()
	d.step = suzukiReset
}

func (d *Suzuki) atReset() bool { return d.step == suzukiReset }

func (d *Suzuki) Feed(level bool, duration uint32) {
	switch d.step {
	case suzukiReset:
		if level && d.timing.IsShort(duration) {
			d.Reset()
			d.step = suzukiPreamble
		}

	case suzukiPreamble:
		if !level {
			if !d.timing.IsShort(duration) {
				d.Reset()
				return
			}
			d.teLast = duration
			if d.header < suzukiPreambleMin {
				d.header++
			}
			return
		}
		switch {
		case d.header < suzukiPreambleMin:
			if !d.timing.IsShort(duration) {
				d.Reset()
			}
		case d.timing.IsLong(duration):
			d.acc.Push(true)
			d.step = suzukiData
		case !d.timing.IsShort(duration):
			d.Reset()
		}

	case suzukiData:
		if level {
			switch {
			case d.timing.IsLong(duration):
				d.acc.Push(true)
			case d.timing.IsShort(duration):
				d.acc.Push(false)
			default:
				d.Reset()
				return
			}
			if d.acc.Count > d.minBits {
				d.Reset()
			}
			return
		}
		switch {
		case within(duration, suzukiGap, suzukiGapDelta):
			if d.enough(d.acc.Count) && d.acc.Lo>>60 == suzukiMaker {
				d.emit(d.acc.Count, d.acc.Lo, 0)
			}
			d.Reset()
		case d.timing.IsShort(duration):
			// bit separator
		default:
			d.Reset()
		}
	}
}
