package subcar

type vwStep uint8

const (
	vwReset vwStep = iota
	vwSync
	vwStart1
	vwStart2
	vwStart3
	vwData
)

// VW decodes the 80-bit Manchester frame.
//
// The first byte is the key type, the next eight the payload, the last a
// check byte. Data carries the middle 64 bits; Data2 carries type<<8|check.
type VW struct {
	decoderBase
	step vwStep
}

// NewVW returns a VW decoder in its reset state
func NewVW() *VW {
	return &VW{
		decoderBase: newBase(ProtoVW, TimingProfile{Short: 500, Long: 1000, Delta: 130}, 80, Exact),
	}
}

func (d *VW) Reset() {
	d.clear()
	d.step = vwReset
}

func (d *VW) atReset() bool { return d.step == vwReset }

func (d *VW) teMed() uint32 { return (d.timing.Short + d.timing.Long) / 2 }

// last bit's trailing low may run into the inter-frame silence
func (d *VW) teEnd() uint32 { return d.timing.Long * 5 }

func (d *VW) Feed(level bool, duration uint32) {
	switch d.step {
	case vwReset:
		if d.timing.IsShort(duration) {
			d.Reset()
			d.step = vwSync
		}

	case vwSync:
		switch {
		case d.timing.IsShort(duration):
			d.header++
		case level && d.timing.IsLong(duration):
			d.step = vwStart1
		default:
			d.Reset()
		}

	case vwStart1:
		if !level && d.timing.IsShort(duration) {
			d.step = vwStart2
			return
		}
		d.Reset()

	case vwStart2:
		if level && d.timing.Match(duration, d.teMed()) {
			d.step = vwStart3
			return
		}
		d.Reset()

	case vwStart3:
		switch {
		case d.timing.Match(duration, d.teMed()):
			// medium sync run repeats
		case level && d.timing.IsShort(duration):
			d.acc.Clear()
			d.manchester, _, _ = ManchesterAdvance(ManchesterMid, ManchesterShortHigh)
			d.step = vwData
		default:
			d.Reset()
		}

	case vwData:
		if d.acc.Count == d.minBits-1 && !level && duration > d.teEnd() {
			duration = d.timing.Short
		}
		if !d.manchesterFeed(level, duration, false) {
			d.Reset()
			return
		}
		if d.enough(d.acc.Count) {
			hi, lo := d.acc.Hi, d.acc.Lo
			d.emit(d.acc.Count, hi<<56|lo>>8, hi&0xFF00|lo&0xFF)
			d.Reset()
		}
	}
}
