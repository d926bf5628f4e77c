package inet

import (
	"sync/atomic"
	"time"

	"github.com/psaab/mrdisc/pkg/mrd"
)

// Stats is a point-in-time copy of a socket's counters.
type Stats struct {
	Sent       map[mrd.Type]uint64
	Received   map[mrd.Type]uint64
	SendErrors uint64
	RecvErrors uint64
	LastSend   time.Time // zero until the first successful send
	// LastSendFailed reports whether the most recent send failed.
	LastSendFailed bool
}

// counters are read by the metrics endpoints while the event loop
// updates them.
type counters struct {
	sentByType     [mrd.Terminate + 1]atomic.Uint64
	receivedByType [mrd.Terminate + 1]atomic.Uint64
	sendErrors     atomic.Uint64
	recvErrors     atomic.Uint64
	lastSend       atomic.Int64
	lastFailed     atomic.Bool
}

func (c *counters) sent(t mrd.Type) {
	c.sentByType[t].Add(1)
	c.lastSend.Store(time.Now().UnixNano())
	c.lastFailed.Store(false)
}

func (c *counters) sendFailed() {
	c.sendErrors.Add(1)
	c.lastFailed.Store(true)
}

func (c *counters) received(t mrd.Type) {
	c.receivedByType[t].Add(1)
}

func (c *counters) recvFailed() {
	c.recvErrors.Add(1)
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Sent:           make(map[mrd.Type]uint64, 3),
		Received:       make(map[mrd.Type]uint64, 3),
		SendErrors:     c.sendErrors.Load(),
		RecvErrors:     c.recvErrors.Load(),
		LastSendFailed: c.lastFailed.Load(),
	}
	for _, t := range []mrd.Type{mrd.Announce, mrd.Solicit, mrd.Terminate} {
		s.Sent[t] = c.sentByType[t].Load()
		s.Received[t] = c.receivedByType[t].Load()
	}
	if ns := c.lastSend.Load(); ns != 0 {
		s.LastSend = time.Unix(0, ns)
	}
	return s
}
