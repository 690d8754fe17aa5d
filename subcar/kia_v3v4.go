package subcar

const (
	kiaV3V4PreambleMin = 8
	kiaV3V4SyncMin     = 1000
	kiaV3V4SyncMax     = 1500
)

type kiaV3V4Step uint8

const (
	kiaV3V4Reset kiaV3V4Step = iota
	kiaV3V4Preamble
	kiaV3V4Collect
)

// KiaV3V4 decodes the 64-bit Kia V3/V4 key word. Bits ride on the high
// pulses (short 0, long 1). A sync pulse of 1.0-1.5 ms opens a word; its
// level tells the variant apart: high for V4, low for V3, whose bits are
// sent inverted. Every further sync closes the current word and re-arms
// collection, so repeated words in one burst each decode.
//
// Data is the key word, first bit most significant. Data2 is 1 for V3
// and 0 for V4.
type KiaV3V4 struct {
	decoderBase
	step kiaV3V4Step
	v3   bool
}

// NewKiaV3V4 returns a Kia V3/V4 decoder in its reset state
func NewKiaV3V4() *KiaV3V4 {
	return &KiaV3V4{
		decoderBase: newBase(ProtoKiaV3V4, TimingProfile{Short: 400, Long: 800, Delta: 150}, 64, AtLeast),
	}
}

func (d *KiaV3V4) Reset() {
	d.clear()
	d.step = kiaV3V4Reset
	d.v3 = false
}

func (d *KiaV3V4) atReset() bool { return d.step == kiaV3V4Reset }

func isKiaSync(duration uint32) bool {
	return duration > kiaV3V4SyncMin && duration < kiaV3V4SyncMax
}

// arm starts a new word after a sync pulse of the given level
func (d *KiaV3V4) arm(level bool) {
	d.acc.Clear()
	d.v3 = !level
	d.step = kiaV3V4Collect
}

// flush emits the collected word if it is complete
func (d *KiaV3V4) flush() {
	if !d.enough(d.acc.Count) {
		return
	}
	key := d.acc.Lo
	if d.v3 {
		key = ^key
	}
	var variant uint64
	if d.v3 {
		variant = 1
	}
	d.emit(d.minBits, key, variant)
}

func (d *KiaV3V4) Feed(level bool, duration uint32) {
	t := d.timing
	switch d.step {
	case kiaV3V4Reset:
		if level && t.IsShort(duration) {
			d.Reset()
			d.step = kiaV3V4Preamble
			d.teLast = duration
			d.header = 1
		}

	case kiaV3V4Preamble:
		switch {
		case isKiaSync(duration):
			if d.header < kiaV3V4PreambleMin {
				d.Reset()
				return
			}
			d.arm(level)
		case level && t.IsShort(duration):
			d.teLast = duration
		case !level && t.IsShort(duration) && t.IsShort(d.teLast):
			d.header++
		default:
			d.Reset()
		}

	case kiaV3V4Collect:
		switch {
		case isKiaSync(duration):
			d.flush()
			d.arm(level)
		case level && t.IsShort(duration):
			d.push(false)
		case level && t.IsLong(duration):
			d.push(true)
		case !level && duration > kiaV3V4SyncMax:
			d.flush()
			d.Reset()
		case !level && (t.IsShort(duration) || t.IsLong(duration)):
			// separator
		default:
			d.Reset()
		}
	}
}

// push keeps the first 64 bits of a word; later bits are counted only
func (d *KiaV3V4) push(bit bool) {
	switch {
	case d.acc.Count >= rawBitsCap:
		d.Reset()
		return
	case d.acc.Count >= d.minBits:
		d.acc.Count++
		return
	}
	d.acc.Push(bit)
}
