package iface

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/psaab/mrdisc/pkg/inet"
)

// ErrInterrupted is returned by Wait and Poll when the context was
// cancelled or a signal interrupted the wait. It ends the cycle early
// and is not a failure.
var ErrInterrupted = errors.New("poll interrupted")

const pollEvents = unix.POLLIN | unix.POLLPRI | unix.POLLHUP

// Handler is called for each readable socket.
type Handler func(c inet.Conn) error

// Poller waits for inbound datagrams on every registered socket. A
// cancelled context wakes a blocked wait through an eventfd.
type Poller struct {
	reg  *Registry
	wake int
}

// NewPoller creates a poller over the sockets in reg.
func NewPoller(reg *Registry) (*Poller, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &Poller{reg: reg, wake: fd}, nil
}

// Close releases the wakeup descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.wake)
}

// Poll runs one announce cycle: for interval seconds every solicitation
// received is answered with an announcement carrying interval. It
// returns the number of datagrams dispatched.
func (p *Poller) Poll(ctx context.Context, interval uint8) (int, error) {
	return p.Wait(ctx, time.Duration(interval)*time.Second, func(c inet.Conn) error {
		return c.Receive(interval)
	})
}

// Wait dispatches readable sockets to h until d has elapsed. IPv4
// sockets are dispatched before IPv6 ones, each in registration order.
// Handler errors are logged. Any poll error other than an interruption
// is returned and is fatal to the caller.
func (p *Poller) Wait(ctx context.Context, d time.Duration, h Handler) (int, error) {
	deadline := time.Now().Add(d)

	conns := p.reg.All()
	fds := make([]unix.PollFd, len(conns)+1)
	for i, c := range conns {
		fds[i] = unix.PollFd{Fd: int32(c.Fd()), Events: pollEvents}
	}
	wakeIdx := len(conns)
	fds[wakeIdx] = unix.PollFd{Fd: int32(p.wake), Events: unix.POLLIN}

	// Discard a wakeup left over from an earlier cancelled context.
	p.drain()
	stop := context.AfterFunc(ctx, p.wakeup)
	defer stop()

	dispatched := 0
	for {
		if ctx.Err() != nil {
			p.drain()
			return dispatched, ErrInterrupted
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return dispatched, nil
		}

		n, err := unix.Poll(fds, timeoutMillis(remaining))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				return dispatched, ErrInterrupted
			}
			return dispatched, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return dispatched, nil
		}

		for i := 0; n > 0 && i < len(conns); i++ {
			rev := fds[i].Revents
			if rev == 0 {
				continue
			}
			n--

			if rev&(unix.POLLIN|unix.POLLPRI|unix.POLLERR) == 0 {
				// Hangup or invalid descriptor with nothing to read:
				// stop watching it for the rest of the cycle.
				slog.Warn("iface: socket not readable, ignoring until next cycle",
					"interface", conns[i].Name(), "family", conns[i].Family(),
					"revents", fmt.Sprintf("0x%x", rev))
				fds[i].Fd = -1
				continue
			}

			if err := h(conns[i]); err != nil {
				slog.Warn("iface: failed reading from interface",
					"interface", conns[i].Name(), "family", conns[i].Family(), "err", err)
			}
			dispatched++
		}

		if fds[wakeIdx].Revents != 0 {
			p.drain()
			return dispatched, ErrInterrupted
		}
	}
}

func (p *Poller) wakeup() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	unix.Write(p.wake, b[:])
}

func (p *Poller) drain() {
	var b [8]byte
	unix.Read(p.wake, b[:])
}

// timeoutMillis rounds d up to whole milliseconds so the wait never
// wakes before the deadline.
func timeoutMillis(d time.Duration) int {
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
