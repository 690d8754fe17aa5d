package subcar

// BitCountPolicy says how a decoder compares its collected bit count
// with MinBits at end of frame.
type BitCountPolicy uint8

const (
	// Exact requires count == MinBits
	Exact BitCountPolicy = iota
	// AtLeast requires count >= MinBits
	AtLeast
)

func (p BitCountPolicy) String() string {
	if p == AtLeast {
		return "at_least"
	}
	return "exact"
}

// Decoder is a protocol FSM fed with every pulse event.
//
// Feed never blocks or allocates. Any input that does not fit the grammar
// returns the decoder to its reset state and clears everything it has
// collected. The callback runs synchronously from Feed, once per
// validated frame.
type Decoder interface {
	Protocol() ProtocolID
	Timing() TimingProfile
	MinBits() int
	Policy() BitCountPolicy

	Feed(level bool, duration uint32)
	Reset()
	SetCallback(cb func(Packet))
}

// inspector exposes reset-state internals to tests
type inspector interface {
	atReset() bool
	collected() (Accumulator, int)
}

// decoderBase is the state shared by every protocol decoder
type decoderBase struct {
	id       ProtocolID
	timing   TimingProfile
	minBits  int
	policy   BitCountPolicy
	callback func(Packet)

	acc        Accumulator
	raw        RawBits
	header     uint16
	teLast     uint32
	manchester ManchesterState
}

func newBase(id ProtocolID, t TimingProfile, minBits int, policy BitCountPolicy) decoderBase {
	return decoderBase{id: id, timing: t, minBits: minBits, policy: policy}
}

func (b *decoderBase) Protocol() ProtocolID        { return b.id }
func (b *decoderBase) Timing() TimingProfile       { return b.timing }
func (b *decoderBase) MinBits() int                { return b.minBits }
func (b *decoderBase) Policy() BitCountPolicy      { return b.policy }
func (b *decoderBase) SetCallback(cb func(Packet)) { b.callback = cb }

func (b *decoderBase) collected() (Accumulator, int) {
	return b.acc, b.raw.Len()
}

// clear drops all collected state; each decoder's reset() calls it
// before moving its FSM back to the reset step.
func (b *decoderBase) clear() {
	b.acc.Clear()
	b.raw.Clear()
	b.header = 0
	b.teLast = 0
	b.manchester = ManchesterMid
}

// enough applies the bit-count policy to n
func (b *decoderBase) enough(n int) bool {
	if b.policy == AtLeast {
		return n >= b.minBits
	}
	return n == b.minBits
}

func (b *decoderBase) emit(bitCount int, data, data2 uint64) {
	if b.callback == nil {
		return
	}
	b.callback(Packet{
		Protocol: b.id,
		BitCount: uint16(bitCount),
		Data:     data,
		Data2:    data2,
	})
}

// manchesterFeed runs one classified pulse through the helper and pushes
// any decoded bit. invert swaps the level first, for transmitters whose
// line polarity is the opposite of the helper's convention.
// It returns false when the duration matches no symbol.
func (b *decoderBase) manchesterFeed(level bool, d uint32, invert bool) bool {
	if invert {
		level = !level
	}
	ev, ok := b.timing.manchesterEvent(level, d)
	if !ok {
		return false
	}
	var bit, has bool
	b.manchester, bit, has = ManchesterAdvance(b.manchester, ev)
	if has {
		b.acc.Push(bit)
	}
	return true
}

// pushRaw appends a pulse to the raw buffer as one or two half-symbols of
// its level. It returns false on a duration mismatch or overflow.
func (b *decoderBase) pushRaw(level bool, d uint32) bool {
	n := 0
	switch {
	case b.timing.IsShort(d):
		n = 1
	case b.timing.IsLong(d):
		n = 2
	default:
		return false
	}
	for i := 0; i < n; i++ {
		if !b.raw.Push(level) {
			return false
		}
	}
	return true
}
