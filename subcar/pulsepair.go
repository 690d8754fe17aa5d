package subcar

const pairPreambleMin = 15

type pairStep uint8

const (
	pairReset pairStep = iota
	pairPreamble
	pairSave
	pairCheck
)

// pulsePair is the shared FSM for protocols that code each bit as a high
// pulse followed by a low of the same length: short/short for 0,
// long/long for 1. A run of short pairs is the preamble, a long pair the
// sync, and a high of at least long+2*delta ends the frame.
type pulsePair struct {
	decoderBase
	step pairStep

	// syncBit pushes a 1 for the sync pair
	syncBit  bool
	validate func(acc *Accumulator) bool
}

func (d *pulsePair) Reset() {
	d.clear()
	d.step = pairReset
}

func (d *pulsePair) atReset() bool { return d.step == pairReset }

func (d *pulsePair) Feed(level bool, duration uint32) {
	t := d.timing
	switch d.step {
	case pairReset:
		if level && t.IsShort(duration) {
			d.Reset()
			d.step = pairPreamble
			d.teLast = duration
		}

	case pairPreamble:
		switch {
		case level:
			if !t.IsShort(duration) && !t.IsLong(duration) {
				d.Reset()
				return
			}
			d.teLast = duration
		case t.IsShort(duration) && t.IsShort(d.teLast):
			d.header++
		case t.IsLong(duration) && t.IsLong(d.teLast) && d.header > pairPreambleMin:
			d.acc.Clear()
			if d.syncBit {
				d.acc.Push(true)
			}
			d.step = pairSave
		default:
			d.Reset()
		}

	case pairSave:
		if !level {
			d.Reset()
			return
		}
		if duration >= t.EndGap() {
			if d.enough(d.acc.Count) && (d.validate == nil || d.validate(&d.acc)) {
				d.emit(d.acc.Count, d.acc.Lo, d.acc.Hi)
			}
			d.Reset()
			return
		}
		d.teLast = duration
		d.step = pairCheck

	case pairCheck:
		switch {
		case level:
			d.Reset()
			return
		case t.IsShort(d.teLast) && t.IsShort(duration):
			d.acc.Push(false)
		case t.IsLong(d.teLast) && t.IsLong(duration):
			d.acc.Push(true)
		default:
			d.Reset()
			return
		}
		if d.acc.Count > 128 || (d.policy == Exact && d.acc.Count > d.minBits) {
			d.Reset()
			return
		}
		d.step = pairSave
	}
}

// KiaV0 decodes the 61-bit Kia pulse-pair frame. The sync pair counts as
// the first bit. No checksum is carried.
type KiaV0 struct {
	pulsePair
}

// NewKiaV0 returns a Kia V0 decoder in its reset state
func NewKiaV0() *KiaV0 {
	return &KiaV0{pulsePair{
		decoderBase: newBase(ProtoKiaV0, TimingProfile{Short: 250, Long: 500, Delta: 100}, 61, Exact),
		syncBit:     true,
	}}
}

// BMWV0 decodes the BMW pulse-pair frame and accepts it when either a
// trailing CRC-8 or a trailing CRC-16 matches.
type BMWV0 struct {
	pulsePair
}

// NewBMWV0 returns a BMW V0 decoder in its reset state
func NewBMWV0() *BMWV0 {
	return &BMWV0{pulsePair{
		decoderBase: newBase(ProtoBMWV0, TimingProfile{Short: 350, Long: 700, Delta: 120}, 61, AtLeast),
		validate:    bmwCRCValid,
	}}
}

// bmwCRCValid checks the frame bytes, most significant first, against a
// trailing CRC-8 (poly 0x31, init 0) and then a trailing CRC-16
// (poly 0x1021, init 0xFFFF).
func bmwCRCValid(acc *Accumulator) bool {
	var buf [16]byte
	n := (acc.Count + 7) / 8
	if n < 3 {
		return false
	}
	raw := acc.Bytes(buf[:], n)

	if CRC8(raw[:n-1], 0x31, 0x00) == raw[n-1] {
		return true
	}
	rx := uint16(raw[n-2])<<8 | uint16(raw[n-1])
	return CRC16(raw[:n-2], 0x1021, 0xFFFF) == rx
}
