package subcar

import "sync/atomic"

// DefaultQueueSize is the queue capacity when none is given
const DefaultQueueSize = 64

// PacketQueue is the bounded hand-off between the decoding loop and its
// consumer. TryPush never blocks: when the consumer falls behind the
// packet is dropped and counted.
type PacketQueue struct {
	ch      chan Packet
	pushed  atomic.Uint64
	dropped atomic.Uint64
	closed  atomic.Bool
}

// NewPacketQueue creates a queue holding up to size packets
func NewPacketQueue(size int) *PacketQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &PacketQueue{ch: make(chan Packet, size)}
}

// TryPush enqueues p, reporting false if it was dropped
func (q *PacketQueue) TryPush(p Packet) bool {
	if q.closed.Load() {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.ch <- p:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Emit satisfies Emitter
func (q *PacketQueue) Emit(p Packet) {
	q.TryPush(p)
}

// C returns the receive side of the queue
func (q *PacketQueue) C() <-chan Packet {
	return q.ch
}

// Len returns the number of packets waiting
func (q *PacketQueue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *PacketQueue) Cap() int {
	return cap(q.ch)
}

// Pushed returns how many packets were accepted
func (q *PacketQueue) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns how many packets were lost to a full or closed queue
func (q *PacketQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close ends the queue. It must only be called by the producer, after its
// last TryPush.
func (q *PacketQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}
