package inet

import (
	"fmt"
	"log/slog"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/psaab/mrdisc/pkg/mrd"
)

// routerAlert4 is the IPv4 Router Alert option (RFC 2113).
var routerAlert4 = []byte{0x94, 0x04, 0x00, 0x00}

// inet4 is the IGMP backend.
type inet4 struct {
	opts Options
}

func (b *inet4) Family() mrd.Family {
	return mrd.IPv4
}

// Open creates a raw IGMP socket on ifname.
func (b *inet4) Open(ifname string) (Conn, error) {
	fd, ifindex, err := openSocket(mrd.IPv4, ifname, unix.AF_INET, unix.IPPROTO_IGMP, b.configure)
	if err != nil {
		return nil, err
	}
	return newConn(b, ifname, ifindex, b.opts.Role, &rawSocket{fd: fd}), nil
}

func (b *inet4) configure(fd, ifindex int) error {
	group := b.opts.Role.JoinGroup(mrd.IPv4)
	mreq := &unix.IPMreqn{
		Multiaddr: mrd.ComposeAddr4(group).Addr,
		Ifindex:   int32(ifindex),
	}
	if err := unix.SetsockoptIPMreqn(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("join group %s: %w", group, err)
	}
	if err := unix.SetsockoptIPMreqn(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_IF,
		&unix.IPMreqn{Ifindex: int32(ifindex)}); err != nil {
		return fmt.Errorf("set multicast interface: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, multicastTTL); err != nil {
		return fmt.Errorf("set TTL: %w", err)
	}
	if err := unix.SetsockoptByte(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 0); err != nil {
		return fmt.Errorf("disable multicast loop: %w", err)
	}
	if err := unix.SetsockoptString(fd, unix.IPPROTO_IP, unix.IP_OPTIONS, string(routerAlert4)); err != nil {
		return fmt.Errorf("set IP options: %w", err)
	}

	if b.opts.Filter != nil {
		if err := b.opts.Filter.Attach(fd); err != nil {
			slog.Warn("inet: socket filter not attached, filtering in userspace",
				"ifindex", ifindex, "err", err)
		}
	}
	return nil
}

// unwrap skips the IPv4 header, options included, that raw IGMP
// sockets deliver in front of the message.
func (b *inet4) unwrap(p []byte, _ unix.Sockaddr) ([]byte, netip.Addr, error) {
	h, err := ipv4.ParseHeader(p)
	if err != nil {
		return nil, netip.Addr{}, fmt.Errorf("%w: %w", mrd.ErrShortMessage, err)
	}
	src, _ := netip.AddrFromSlice(h.Src.To4())
	if h.Len < ipv4.HeaderLen || h.Len > len(p) {
		return nil, src, fmt.Errorf("%w: header length %d of %d bytes", mrd.ErrShortMessage, h.Len, len(p))
	}
	return p[h.Len:], src, nil
}
