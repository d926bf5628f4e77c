// Package inet owns the raw sockets that carry MRD messages: one socket
// per (interface, address family), bound to the interface, joined to the
// role's multicast group and sending with Router Alert.
package inet

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/psaab/mrdisc/pkg/bpf"
	"github.com/psaab/mrdisc/pkg/mrd"
)

const (
	// multicastTTL keeps MRD traffic on the local link.
	multicastTTL = 1

	recvBufLen = 1530
)

var (
	// ErrNoDevice is returned by Open when the interface does not exist.
	// Callers skip the interface and carry on with the rest.
	ErrNoDevice = errors.New("no such interface")

	ErrClosed = errors.New("socket closed")
)

// OpError describes a failure to set up a socket. Any OpError other than
// one wrapping ErrNoDevice means the host cannot run the protocol as
// configured.
type OpError struct {
	Op        string
	Interface string
	Family    mrd.Family
	Err       error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Interface, e.Family, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Options configures the sockets a Backend opens.
type Options struct {
	Role mrd.Role
	// Filter, when set, is attached to every IPv4 socket. A failed
	// attach is logged and the socket is used unfiltered.
	Filter *bpf.Filter
}

// Conn is an open MRD socket on one interface.
type Conn interface {
	Name() string
	Family() mrd.Family
	Index() int
	Fd() int

	// Send transmits one message of type t to the role's destination group.
	Send(t mrd.Type, interval uint8) error
	// Receive reads one datagram and answers a solicitation with an
	// announcement carrying interval. Other MRD types are ignored.
	Receive(interval uint8) error
	// ReadMessage reads and decodes one datagram.
	ReadMessage() (*mrd.Message, netip.Addr, error)

	Stats() Stats
	// Close sends Terminate (router role only), then closes the socket.
	// The socket is closed even when the farewell fails.
	Close() error
}

// Backend opens sockets of one address family.
type Backend interface {
	Family() mrd.Family
	Open(ifname string) (Conn, error)
}

// NewBackend returns the socket backend for family f.
func NewBackend(f mrd.Family, opts Options) Backend {
	if f == mrd.IPv6 {
		return &inet6{opts: opts}
	}
	return &inet4{opts: opts}
}

// variant is the family-specific part of a socket.
type variant interface {
	Backend
	// unwrap returns the MRD message and source address held in a
	// received datagram.
	unwrap(b []byte, from unix.Sockaddr) ([]byte, netip.Addr, error)
}

// openSocket creates a raw socket bound to ifname and hands it to
// configure. ENODEV, from either the bind or the index lookup, yields an
// OpError wrapping ErrNoDevice.
func openSocket(fam mrd.Family, ifname string, domain, proto int, configure func(fd, ifindex int) error) (int, int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return -1, 0, &OpError{Op: "open socket", Interface: ifname, Family: fam, Err: err}
	}
	fail := func(op string, err error) (int, int, error) {
		unix.Close(fd)
		if errors.Is(err, ErrNoDevice) {
			slog.Warn("inet: not a valid interface, skipping",
				"interface", ifname, "family", fam)
		}
		return -1, 0, &OpError{Op: op, Interface: ifname, Family: fam, Err: err}
	}

	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifname); err != nil {
		if errors.Is(err, unix.ENODEV) {
			err = ErrNoDevice
		}
		return fail("bind socket to interface", err)
	}

	ifindex, err := linkIndex(ifname)
	if err != nil {
		return fail("lookup interface", err)
	}

	if err := configure(fd, ifindex); err != nil {
		return fail("configure socket", err)
	}
	return fd, ifindex, nil
}

// linkIndex resolves the kernel index of ifname over netlink.
func linkIndex(ifname string) (int, error) {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return 0, ErrNoDevice
		}
		return 0, err
	}
	return link.Attrs().Index, nil
}
