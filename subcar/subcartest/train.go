// Package subcartest builds canonical pulse trains for every protocol the
// subcar decoders understand. The trains are what a clean transmitter
// would produce, and feeding one to the matching decoder yields exactly
// the packet it was built from.
package subcartest

import "fmt"

// Pulse is one (level, duration) event in microseconds
type Pulse struct {
	Level    bool
	Duration uint32
}

func (p Pulse) String() string {
	if p.Level {
		return fmt.Sprintf("H%d", p.Duration)
	}
	return fmt.Sprintf("L%d", p.Duration)
}

// Sink is anything fed with pulse events
type Sink interface {
	Feed(level bool, duration uint32)
}

// Train is an ordered list of pulses
type Train []Pulse

// FeedTo plays every pulse into s
func (t Train) FeedTo(s Sink) {
	for _, p := range t {
		s.Feed(p.Level, p.Duration)
	}
}

// Duration is the total length of the train in microseconds
func (t Train) Duration() uint64 {
	var sum uint64
	for _, p := range t {
		sum += uint64(p.Duration)
	}
	return sum
}

// Clone returns a copy that can be modified freely
func (t Train) Clone() Train {
	return append(Train(nil), t...)
}

// builder appends pulses, merging consecutive ones of the same level
type builder struct {
	t Train
}

func (b *builder) add(level bool, d uint32) *builder {
	if n := len(b.t); n > 0 && b.t[n-1].Level == level {
		b.t[n-1].Duration += d
		return b
	}
	b.t = append(b.t, Pulse{Level: level, Duration: d})
	return b
}

func (b *builder) high(d uint32) *builder { return b.add(true, d) }
func (b *builder) low(d uint32) *builder  { return b.add(false, d) }

// pairs appends n (low, high) pairs of the given duration
func (b *builder) pairs(n int, lowD, highD uint32) *builder {
	for i := 0; i < n; i++ {
		b.low(lowD).high(highD)
	}
	return b
}

// manchester appends the half-symbols of the n low bits of v, most
// significant first. A 1 is high then low; invert swaps the polarity.
func (b *builder) manchester(v uint64, n int, half uint32, invert bool) *builder {
	for i := n - 1; i >= 0; i-- {
		one := v>>uint(i)&1 == 1
		first := one != invert
		b.add(first, half).add(!first, half)
	}
	return b
}

// end closes a frame with a low gap. When the frame already ends low its
// last half-symbol would merge into the gap, so a short high tail keeps
// it distinct.
func (b *builder) end(tail, gap uint32) Train {
	if n := len(b.t); n > 0 && !b.t[n-1].Level {
		b.high(tail)
	}
	b.low(gap)
	return b.t
}

func (b *builder) train() Train {
	return b.t
}

func bit(v uint64, i int) bool {
	return v>>uint(i)&1 == 1
}
