package subcar

const (
	subaruPreambleMin = 20
	subaruGapMin      = 2000
	subaruGapMax      = 3500
	subaruEnd         = 3000
)

type subaruStep uint8

const (
	subaruReset subaruStep = iota
	subaruPreamble
	subaruGap
	subaruSync
	subaruSave
	subaruCheck
)

// Subaru decodes a 64-bit PWM frame carried on the high pulses, short high
// for 1 and long high for 0. Extra bits past 64 are ignored.
type Subaru struct {
	decoderBase
	step subaruStep
}

// NewSubaru returns a Subaru decoder in its reset state
func NewSubaru() *Subaru {
	return &Subaru{
		decoderBase: newBase(ProtoSubaru, TimingProfile{Short: 800, Long: 1600, Delta: 260}, 64, AtLeast),
	}
}

func (d *Subaru) Reset() {
	d.clear()
	d.step = subaruReset
}

func (d *Subaru) atReset() bool { return d.step == subaruReset }

func (d *Subaru) push(bit bool) {
	if d.acc.Count < d.minBits {
		d.acc.Push(bit)
	}
}

func (d *Subaru) finish() {
	if d.enough(d.acc.Count) {
		d.emit(d.acc.Count, d.acc.Lo, 0)
	}
	d.Reset()
}

func (d *Subaru) Feed(level bool, duration uint32) {
	switch d.step {
	case subaruReset:
		if level && d.timing.IsLong(duration) {
			d.Reset()
			d.step = subaruPreamble
			d.teLast = duration
			d.header = 1
		}

	case subaruPreamble:
		switch {
		case d.timing.IsLong(duration):
			d.teLast = duration
			d.header++
		case !level && duration > subaruGapMin && duration < subaruGapMax && d.header > subaruPreambleMin:
			d.step = subaruGap
		default:
			d.Reset()
		}

	case subaruGap:
		if level && duration > subaruGapMin && duration < subaruGapMax {
			d.step = subaruSync
			return
		}
		d.Reset()

	case subaruSync:
		if !level && d.timing.IsLong(duration) {
			d.acc.Clear()
			d.step = subaruSave
			return
		}
		d.Reset()

	case subaruSave:
		if !level {
			d.Reset()
			return
		}
		switch {
		case d.timing.IsShort(duration):
			d.push(true)
		case d.timing.IsLong(duration):
			d.push(false)
		case duration > subaruEnd:
			d.finish()
			return
		default:
			d.Reset()
			return
		}
		d.teLast = duration
		d.step = subaruCheck

	case subaruCheck:
		switch {
		case level:
			d.Reset()
		case d.timing.IsShort(duration) || d.timing.IsLong(duration):
			d.step = subaruSave
		case duration > subaruEnd:
			d.finish()
		default:
			d.Reset()
		}
	}
}
