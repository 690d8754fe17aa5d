package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

// PacketEvent is a decoded packet as it leaves the receiver
type PacketEvent struct {
	ID     string        `json:"id"`
	Time   time.Time     `json:"time"`
	Packet subcar.Packet `json:"packet"`
}

// PacketHandler consumes dispatched packets. Handlers run on the
// dispatcher goroutine, one after another.
type PacketHandler interface {
	HandlePacket(ev PacketEvent)
}

// PacketHandlerFunc adapts a function to PacketHandler
type PacketHandlerFunc func(ev PacketEvent)

func (f PacketHandlerFunc) HandlePacket(ev PacketEvent) { f(ev) }

// Dispatcher drains the packet queue and fans each packet out
type Dispatcher struct {
	queue    *subcar.PacketQueue
	handlers []PacketHandler
	logger   *log.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher reading from queue
func NewDispatcher(queue *subcar.PacketQueue, logger *log.Logger, handlers ...PacketHandler) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		handlers: handlers,
		logger:   logger.WithPrefix("Dispatch"),
		now:      time.Now,
	}
}

// Add registers another handler. It must be called before Run.
func (d *Dispatcher) Add(h PacketHandler) {
	d.handlers = append(d.handlers, h)
}

// Run returns once the queue is closed and drained
func (d *Dispatcher) Run() {
	for p := range d.queue.C() {
		ev := PacketEvent{
			ID:     uuid.NewString(),
			Time:   d.now(),
			Packet: p,
		}
		d.logger.Info("packet",
			"protocol", p.Protocol.String(), "bits", p.BitCount,
			"data", fmt.Sprintf("%016X", p.Data), "data2", fmt.Sprintf("%016X", p.Data2))
		for _, h := range d.handlers {
			h.HandlePacket(ev)
		}
	}
	d.logger.Debug("queue closed")
}
