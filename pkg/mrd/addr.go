package mrd

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Well-known MRD multicast groups (RFC 4286 §6).
const (
	AllRoutersV4  = "224.0.0.2"
	AllSnoopersV4 = "224.0.0.106"
	AllRoutersV6  = "ff02::2"
	AllSnoopersV6 = "ff02::6a"
)

// Role decides which group a socket listens on, where it sends, and
// which message type it reacts to.
type Role int

const (
	// RoleRouter announces to All-Snoopers and answers solicitations
	// arriving on All-Routers.
	RoleRouter Role = iota
	// RoleSolicitor probes All-Routers and listens on All-Snoopers for
	// the resulting announcements.
	RoleSolicitor
)

func (r Role) String() string {
	if r == RoleSolicitor {
		return "solicitor"
	}
	return "router"
}

// JoinGroup returns the group a socket of role r joins.
func (r Role) JoinGroup(f Family) string {
	if r == RoleSolicitor {
		return AllSnoopers(f)
	}
	return AllRouters(f)
}

// DestGroup returns the group a socket of role r sends to.
func (r Role) DestGroup(f Family) string {
	if r == RoleSolicitor {
		return AllRouters(f)
	}
	return AllSnoopers(f)
}

// Accepts returns the only inbound message type role r acts upon.
func (r Role) Accepts() Type {
	if r == RoleSolicitor {
		return Announce
	}
	return Solicit
}

// AllRouters returns the All-Routers group for f.
func AllRouters(f Family) string {
	if f == IPv6 {
		return AllRoutersV6
	}
	return AllRoutersV4
}

// AllSnoopers returns the All-Snoopers group for f.
func AllSnoopers(f Family) string {
	if f == IPv6 {
		return AllSnoopersV6
	}
	return AllSnoopersV4
}

// ComposeAddr4 returns the socket address of an IPv4 multicast group.
// The groups are compile-time constants, so an invalid one panics.
func ComposeAddr4(group string) *unix.SockaddrInet4 {
	addr := mustParse(group)
	if !addr.Is4() {
		panic(fmt.Sprintf("mrd: %s is not an IPv4 group", group))
	}
	return &unix.SockaddrInet4{Addr: addr.As4()}
}

// ComposeAddr6 returns the socket address of an IPv6 multicast group.
// The groups are compile-time constants, so an invalid one panics.
func ComposeAddr6(group string) *unix.SockaddrInet6 {
	addr := mustParse(group)
	if !addr.Is6() || addr.Is4In6() {
		panic(fmt.Sprintf("mrd: %s is not an IPv6 group", group))
	}
	return &unix.SockaddrInet6{Addr: addr.As16()}
}

// ComposeAddr returns the socket address of group for family f.
func ComposeAddr(f Family, group string) unix.Sockaddr {
	if f == IPv6 {
		return ComposeAddr6(group)
	}
	return ComposeAddr4(group)
}

func mustParse(group string) netip.Addr {
	addr, err := netip.ParseAddr(group)
	if err != nil {
		panic(fmt.Sprintf("mrd: failed preparing %s: %v", group, err))
	}
	if !addr.IsMulticast() {
		panic(fmt.Sprintf("mrd: %s is not a multicast group", group))
	}
	return addr
}
