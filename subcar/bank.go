package subcar

import "sync/atomic"

// Emitter receives every packet the bank decodes. Emit is called from the
// decoding loop and must not block.
type Emitter interface {
	Emit(p Packet)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(p Packet)

func (f EmitterFunc) Emit(p Packet) { f(p) }

// Bank owns one decoder per protocol and feeds each of them every pulse.
// Decoders never see each other's state; several may be mid-frame, and
// several may emit for the same pulses.
//
// A Bank is driven by a single goroutine. Only Stats may be read
// concurrently.
type Bank struct {
	decoders [protoCount - 1]Decoder
	out      Emitter

	pulses  atomic.Uint64
	decoded [protoCount]atomic.Uint64
}

// NewBank builds the full decoder set and routes their output to out
func NewBank(out Emitter) *Bank {
	b := &Bank{
		out: out,
		decoders: [...]Decoder{
			NewSuzuki(),
			NewVW(),
			NewSubaru(),
			NewKiaV5(),
			NewKiaV3V4(),
			NewKiaV2(),
			NewKiaV1(),
			NewKiaV0(),
			NewFordV0(),
			NewFiatV0(),
			NewBMWV0(),
		},
	}
	for _, d := range b.decoders {
		d.SetCallback(b.emit)
	}
	return b
}

func (b *Bank) emit(p Packet) {
	if p.Protocol < protoCount {
		b.decoded[p.Protocol].Add(1)
	}
	if b.out != nil {
		b.out.Emit(p)
	}
}

// Feed hands one pulse to every decoder
func (b *Bank) Feed(level bool, duration uint32) {
	b.pulses.Add(1)
	for _, d := range b.decoders {
		d.Feed(level, duration)
	}
}

// Reset returns every decoder to its reset state
func (b *Bank) Reset() {
	for _, d := range b.decoders {
		d.Reset()
	}
}

// Decoders returns the decoders in protocol order
func (b *Bank) Decoders() []Decoder {
	return b.decoders[:]
}

// Decoder returns the decoder for id, or nil
func (b *Bank) Decoder(id ProtocolID) Decoder {
	for _, d := range b.decoders {
		if d.Protocol() == id {
			return d
		}
	}
	return nil
}

// BankStats is a snapshot of the bank's counters
type BankStats struct {
	Pulses  uint64                `json:"pulses"`
	Decoded map[ProtocolID]uint64 `json:"decoded"`
}

// Stats returns the pulse count and packets decoded per protocol
func (b *Bank) Stats() BankStats {
	s := BankStats{
		Pulses:  b.pulses.Load(),
		Decoded: make(map[ProtocolID]uint64, protoCount-1),
	}
	for _, p := range Protocols() {
		s.Decoded[p] = b.decoded[p].Load()
	}
	return s
}
