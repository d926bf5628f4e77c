// Package mrd implements the Multicast Router Discovery (RFC 4286) wire
// format for IGMP (IPv4) and ICMPv6 (IPv6).
package mrd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

// IGMP message types (RFC 4286 §3).
const (
	IGMPAnnounce  = 0x30
	IGMPSolicit   = 0x31
	IGMPTerminate = 0x32
)

// ICMPv6 message types (RFC 4286 §3).
const (
	ICMPv6Announce  = uint8(ipv6.ICMPTypeMulticastRouterAdvertisement)
	ICMPv6Solicit   = uint8(ipv6.ICMPTypeMulticastRouterSolicitation)
	ICMPv6Terminate = uint8(ipv6.ICMPTypeMulticastRouterTermination)
)

const (
	// MessageLen is the size of every MRD message on the wire.
	MessageLen = 8

	// Announce interval bounds in seconds (RFC 4286 §4.1).
	MinInterval     = 4
	MaxInterval     = 180
	DefaultInterval = 20

	protoICMPv6 = 58
)

var (
	ErrShortMessage = errors.New("mrd: message too short")
	ErrUnknownType  = errors.New("mrd: not an MRD message")
	ErrChecksum     = errors.New("mrd: checksum mismatch")
)

// Family selects the IP version a message or socket belongs to.
type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Type is the family-independent MRD message kind.
type Type int

const (
	Announce Type = iota + 1
	Solicit
	Terminate
)

func (t Type) String() string {
	switch t {
	case Announce:
		return "announce"
	case Solicit:
		return "solicit"
	case Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Code returns the on-wire type byte of t for family f.
func (t Type) Code(f Family) uint8 {
	if f == IPv6 {
		switch t {
		case Announce:
			return ICMPv6Announce
		case Solicit:
			return ICMPv6Solicit
		case Terminate:
			return ICMPv6Terminate
		}
		return 0
	}
	switch t {
	case Announce:
		return IGMPAnnounce
	case Solicit:
		return IGMPSolicit
	case Terminate:
		return IGMPTerminate
	}
	return 0
}

// TypeFromCode maps an on-wire type byte back to a Type.
func TypeFromCode(f Family, code uint8) (Type, error) {
	for _, t := range []Type{Announce, Solicit, Terminate} {
		if t.Code(f) == code {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %s type 0x%02x", ErrUnknownType, f, code)
}

// Message is a single MRD message. Interval is carried in the code field.
type Message struct {
	Type     Type
	Interval uint8
	Checksum uint16
}

// NewMessage builds a message of type t. Terminate always carries a
// zero interval.
func NewMessage(t Type, interval uint8) *Message {
	if t == Terminate {
		interval = 0
	}
	return &Message{Type: t, Interval: interval}
}

// Marshal serializes the message for family f. IGMP messages carry an
// Internet checksum; the ICMPv6 checksum is left zero for the kernel to
// fill in over the pseudo-header.
func (m *Message) Marshal(f Family) []byte {
	buf := make([]byte, MessageLen)
	buf[0] = m.Type.Code(f)
	buf[1] = m.Interval

	if f == IPv4 {
		m.Checksum = Checksum(buf)
		binary.BigEndian.PutUint16(buf[2:4], m.Checksum)
	} else {
		m.Checksum = 0
	}
	return buf
}

// ParseMessage decodes an MRD message that starts at b[0]. For IPv4 the
// caller strips the IP header first.
func ParseMessage(f Family, b []byte) (*Message, error) {
	if f == IPv6 {
		return parseICMPv6(b)
	}
	return parseIGMP(b)
}

func parseIGMP(b []byte) (*Message, error) {
	if len(b) < MessageLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(b))
	}
	t, err := TypeFromCode(IPv4, b[0])
	if err != nil {
		return nil, err
	}
	if Checksum(b) != 0 {
		return nil, ErrChecksum
	}
	return &Message{
		Type:     t,
		Interval: b[1],
		Checksum: binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

func parseICMPv6(b []byte) (*Message, error) {
	if len(b) < MessageLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(b))
	}
	im, err := icmp.ParseMessage(protoICMPv6, b)
	if err != nil {
		return nil, fmt.Errorf("parse icmpv6: %w", err)
	}
	it, ok := im.Type.(ipv6.ICMPType)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, im.Type)
	}
	t, err := TypeFromCode(IPv6, uint8(it))
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:     t,
		Interval: uint8(im.Code),
		Checksum: uint16(im.Checksum),
	}, nil
}
