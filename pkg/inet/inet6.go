package inet

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/psaab/mrdisc/pkg/mrd"
)

// hopByHop6 is the Hop-by-Hop extension header carrying a Router Alert
// option (RFC 2711, value 0 = MLD) padded to 8 bytes with PadN. The
// kernel fills in the next-header byte.
var hopByHop6 = []byte{0x00, 0x00, 0x05, 0x02, 0x00, 0x00, 0x01, 0x00}

// inet6 is the ICMPv6 backend.
type inet6 struct {
	opts Options
}

func (b *inet6) Family() mrd.Family {
	return mrd.IPv6
}

// Open creates a raw ICMPv6 socket on ifname.
func (b *inet6) Open(ifname string) (Conn, error) {
	fd, ifindex, err := openSocket(mrd.IPv6, ifname, unix.AF_INET6, unix.IPPROTO_ICMPV6, b.configure)
	if err != nil {
		return nil, err
	}
	return newConn(b, ifname, ifindex, b.opts.Role, &rawSocket{fd: fd}), nil
}

func (b *inet6) configure(fd, ifindex int) error {
	group := b.opts.Role.JoinGroup(mrd.IPv6)
	mreq := &unix.IPv6Mreq{
		Multiaddr: mrd.ComposeAddr6(group).Addr,
		Interface: uint32(ifindex),
	}
	if err := unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq); err != nil {
		return fmt.Errorf("join group %s: %w", group, err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_IF, ifindex); err != nil {
		return fmt.Errorf("set multicast interface: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, multicastTTL); err != nil {
		return fmt.Errorf("set hop limit: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_LOOP, 0); err != nil {
		return fmt.Errorf("disable multicast loop: %w", err)
	}
	if err := unix.SetsockoptString(fd, unix.IPPROTO_IPV6, unix.IPV6_HOPOPTS, string(hopByHop6)); err != nil {
		return fmt.Errorf("set hop-by-hop option: %w", err)
	}

	filter := icmpv6Filter(b.opts.Role.Accepts().Code(mrd.IPv6))
	if err := unix.SetsockoptICMPv6Filter(fd, unix.SOL_ICMPV6, unix.ICMPV6_FILTER, filter); err != nil {
		return fmt.Errorf("set ICMPv6 filter: %w", err)
	}
	return nil
}

// icmpv6Filter blocks every ICMPv6 type except pass. On Linux a set bit
// blocks the type.
func icmpv6Filter(pass uint8) *unix.ICMPv6Filter {
	var f unix.ICMPv6Filter
	for i := range f.Data {
		f.Data[i] = 0xffffffff
	}
	f.Data[pass>>5] &^= 1 << (pass & 31)
	return &f
}

// unwrap returns the datagram as is: raw ICMPv6 sockets deliver the
// ICMPv6 header at offset 0.
func (b *inet6) unwrap(p []byte, from unix.Sockaddr) ([]byte, netip.Addr, error) {
	var src netip.Addr
	if sa, ok := from.(*unix.SockaddrInet6); ok {
		src = netip.AddrFrom16(sa.Addr)
	}
	return p, src, nil
}
