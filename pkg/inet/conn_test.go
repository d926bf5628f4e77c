package inet

import (
	"errors"
	"net"
	"testing"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/psaab/mrdisc/pkg/mrd"
)

// fakeSocket records sends and replays queued datagrams.
type fakeSocket struct {
	rx       [][]byte
	from     unix.Sockaddr
	sent     [][]byte
	dests    []unix.Sockaddr
	sendErr  error
	closeErr error
	closed   bool
}

func (s *fakeSocket) Fd() int { return 42 }

func (s *fakeSocket) Recvfrom(p []byte) (int, unix.Sockaddr, error) {
	if len(s.rx) == 0 {
		return 0, nil, unix.EAGAIN
	}
	n := copy(p, s.rx[0])
	s.rx = s.rx[1:]
	return n, s.from, nil
}

func (s *fakeSocket) Sendto(p []byte, to unix.Sockaddr) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), p...))
	s.dests = append(s.dests, to)
	return nil
}

func (s *fakeSocket) Close() error {
	s.closed = true
	return s.closeErr
}

func newTestConn(fam mrd.Family, role mrd.Role, sock *fakeSocket) *conn {
	return newConn(NewBackend(fam, Options{Role: role}).(variant), "eth0", 2, role, sock)
}

// igmpDatagram wraps an MRD message in an IPv4 header carrying the
// Router Alert option, the way a raw IGMP socket delivers it.
func igmpDatagram(t *testing.T, msg []byte) []byte {
	t.Helper()
	h := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen + len(routerAlert4),
		TotalLen: ipv4.HeaderLen + len(routerAlert4) + len(msg),
		TTL:      1,
		Protocol: 2,
		Src:      net.IPv4(192, 0, 2, 1),
		Dst:      net.IPv4(224, 0, 0, 2),
		Options:  routerAlert4,
	}
	b, err := h.Marshal()
	if err != nil {
		t.Fatalf("marshal IPv4 header: %v", err)
	}
	return append(b, msg...)
}

func TestReceive_SolicitTriggersAnnounce(t *testing.T) {
	tests := []struct {
		name string
		fam  mrd.Family
		rx   func(t *testing.T) []byte
		from unix.Sockaddr
	}{
		{
			name: "ipv4",
			fam:  mrd.IPv4,
			rx: func(t *testing.T) []byte {
				return igmpDatagram(t, mrd.NewMessage(mrd.Solicit, 0).Marshal(mrd.IPv4))
			},
		},
		{
			name: "ipv6",
			fam:  mrd.IPv6,
			rx: func(t *testing.T) []byte {
				return mrd.NewMessage(mrd.Solicit, 0).Marshal(mrd.IPv6)
			},
			from: &unix.SockaddrInet6{Addr: [16]byte{0xfe, 0x80, 15: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock := &fakeSocket{rx: [][]byte{tt.rx(t)}, from: tt.from}
			c := newTestConn(tt.fam, mrd.RoleRouter, sock)

			if err := c.Receive(30); err != nil {
				t.Fatalf("Receive: %v", err)
			}
			if len(sock.sent) != 1 {
				t.Fatalf("sends = %d, want 1", len(sock.sent))
			}
			msg, err := mrd.ParseMessage(tt.fam, sock.sent[0])
			if err != nil {
				t.Fatalf("parse sent message: %v", err)
			}
			if msg.Type != mrd.Announce {
				t.Errorf("sent type = %s, want announce", msg.Type)
			}
			if msg.Interval != 30 {
				t.Errorf("sent interval = %d, want 30", msg.Interval)
			}

			st := c.Stats()
			if st.Received[mrd.Solicit] != 1 {
				t.Errorf("solicits received = %d, want 1", st.Received[mrd.Solicit])
			}
			if st.Sent[mrd.Announce] != 1 {
				t.Errorf("announces sent = %d, want 1", st.Sent[mrd.Announce])
			}
		})
	}
}

func TestReceive_OtherTypesIgnored(t *testing.T) {
	membershipQuery := []byte{0x11, 0x64, 0, 0, 0, 0, 0, 0}
	membershipQuery[2], membershipQuery[3] = byte(mrd.Checksum(membershipQuery)>>8), byte(mrd.Checksum(membershipQuery))

	for name, payload := range map[string][]byte{
		"announce":   mrd.NewMessage(mrd.Announce, 20).Marshal(mrd.IPv4),
		"terminate":  mrd.NewMessage(mrd.Terminate, 0).Marshal(mrd.IPv4),
		"igmp query": membershipQuery,
	} {
		t.Run(name, func(t *testing.T) {
			sock := &fakeSocket{rx: [][]byte{igmpDatagram(t, payload)}}
			c := newTestConn(mrd.IPv4, mrd.RoleRouter, sock)

			if err := c.Receive(20); err != nil {
				t.Fatalf("Receive: %v", err)
			}
			if len(sock.sent) != 0 {
				t.Errorf("sends = %d, want 0", len(sock.sent))
			}
		})
	}
}

func TestReceive_ShortDatagram(t *testing.T) {
	tests := []struct {
		name string
		fam  mrd.Family
		rx   []byte
	}{
		{"ipv4 truncated header", mrd.IPv4, []byte{0x45, 0, 0}},
		{"ipv4 truncated message", mrd.IPv4, nil},
		{"ipv6 truncated message", mrd.IPv6, []byte{152, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rx := tt.rx
			if rx == nil {
				rx = igmpDatagram(t, []byte{0x31, 0})
			}
			sock := &fakeSocket{rx: [][]byte{rx}}
			c := newTestConn(tt.fam, mrd.RoleRouter, sock)

			err := c.Receive(20)
			if !errors.Is(err, mrd.ErrShortMessage) {
				t.Errorf("err = %v, want ErrShortMessage", err)
			}
			if len(sock.sent) != 0 {
				t.Errorf("sends = %d, want 0", len(sock.sent))
			}
			if c.Stats().RecvErrors != 1 {
				t.Errorf("RecvErrors = %d, want 1", c.Stats().RecvErrors)
			}
		})
	}
}

func TestReceive_ReadError(t *testing.T) {
	c := newTestConn(mrd.IPv4, mrd.RoleRouter, &fakeSocket{})
	if err := c.Receive(20); !errors.Is(err, unix.EAGAIN) {
		t.Errorf("err = %v, want EAGAIN", err)
	}
}

func TestSend_Destination(t *testing.T) {
	tests := []struct {
		fam  mrd.Family
		role mrd.Role
		want string
	}{
		{mrd.IPv4, mrd.RoleRouter, "224.0.0.106"},
		{mrd.IPv4, mrd.RoleSolicitor, "224.0.0.2"},
		{mrd.IPv6, mrd.RoleRouter, "ff02::6a"},
		{mrd.IPv6, mrd.RoleSolicitor, "ff02::2"},
	}
	for _, tt := range tests {
		sock := &fakeSocket{}
		c := newTestConn(tt.fam, tt.role, sock)
		if err := c.Send(mrd.Announce, 20); err != nil {
			t.Fatalf("Send: %v", err)
		}
		var got net.IP
		switch sa := sock.dests[0].(type) {
		case *unix.SockaddrInet4:
			got = net.IP(sa.Addr[:])
		case *unix.SockaddrInet6:
			got = net.IP(sa.Addr[:])
		}
		if !got.Equal(net.ParseIP(tt.want)) {
			t.Errorf("%s/%s dest = %s, want %s", tt.fam, tt.role, got, tt.want)
		}
	}
}

func TestSend_InvalidDescriptor(t *testing.T) {
	c := newTestConn(mrd.IPv4, mrd.RoleRouter, &fakeSocket{})
	c.sock = &rawSocket{fd: 1 << 20}

	err := c.Send(mrd.Announce, 20)
	if err == nil {
		t.Fatal("expected error sending on an invalid descriptor")
	}
	st := c.Stats()
	if st.SendErrors != 1 || !st.LastSendFailed {
		t.Errorf("SendErrors = %d, LastSendFailed = %t, want 1, true", st.SendErrors, st.LastSendFailed)
	}
}

func TestSend_AfterClose(t *testing.T) {
	c := newTestConn(mrd.IPv4, mrd.RoleRouter, &fakeSocket{})
	c.sock = &rawSocket{fd: -1}

	if err := c.Send(mrd.Announce, 20); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestClose_SendsTerminate(t *testing.T) {
	sock := &fakeSocket{}
	c := newTestConn(mrd.IPv4, mrd.RoleRouter, sock)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(sock.sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sock.sent))
	}
	msg, err := mrd.ParseMessage(mrd.IPv4, sock.sent[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != mrd.Terminate || msg.Interval != 0 {
		t.Errorf("sent %s interval %d, want terminate interval 0", msg.Type, msg.Interval)
	}
	if !sock.closed {
		t.Error("socket not closed")
	}
}

func TestClose_TerminateFailureStillCloses(t *testing.T) {
	sock := &fakeSocket{sendErr: unix.ENETDOWN}
	c := newTestConn(mrd.IPv6, mrd.RoleRouter, sock)

	err := c.Close()
	if !errors.Is(err, unix.ENETDOWN) {
		t.Errorf("err = %v, want ENETDOWN", err)
	}
	if !sock.closed {
		t.Error("socket not closed after failed terminate")
	}
}

func TestClose_BothFailuresReported(t *testing.T) {
	sock := &fakeSocket{sendErr: unix.ENETDOWN, closeErr: unix.EIO}
	c := newTestConn(mrd.IPv4, mrd.RoleRouter, sock)

	err := c.Close()
	if !errors.Is(err, unix.ENETDOWN) || !errors.Is(err, unix.EIO) {
		t.Errorf("err = %v, want both ENETDOWN and EIO", err)
	}
}

func TestClose_SolicitorNoTerminate(t *testing.T) {
	sock := &fakeSocket{}
	c := newTestConn(mrd.IPv4, mrd.RoleSolicitor, sock)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(sock.sent) != 0 {
		t.Errorf("sends = %d, want 0", len(sock.sent))
	}
}

func TestReadMessage_Source(t *testing.T) {
	sock := &fakeSocket{rx: [][]byte{igmpDatagram(t, mrd.NewMessage(mrd.Announce, 20).Marshal(mrd.IPv4))}}
	c := newTestConn(mrd.IPv4, mrd.RoleSolicitor, sock)

	msg, src, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if src.String() != "192.0.2.1" {
		t.Errorf("src = %s, want 192.0.2.1", src)
	}
	if msg.Type != mrd.Announce || msg.Interval != 20 {
		t.Errorf("got %s interval %d, want announce interval 20", msg.Type, msg.Interval)
	}
}

func TestICMPv6Filter(t *testing.T) {
	f := icmpv6Filter(mrd.ICMPv6Solicit)
	for typ := 0; typ < 256; typ++ {
		blocked := f.Data[typ>>5]&(1<<(uint(typ)&31)) != 0
		if typ == int(mrd.ICMPv6Solicit) && blocked {
			t.Errorf("type %d blocked, want pass", typ)
		}
		if typ != int(mrd.ICMPv6Solicit) && !blocked {
			t.Errorf("type %d passes, want blocked", typ)
		}
	}
}

func TestOpen_MissingInterface(t *testing.T) {
	for _, fam := range []mrd.Family{mrd.IPv4, mrd.IPv6} {
		c, err := NewBackend(fam, Options{}).Open("does-not-exist0")
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
			t.Skipf("raw sockets need CAP_NET_RAW: %v", err)
		}
		if c != nil {
			c.Close()
			t.Fatalf("%s: Open returned a socket for a missing interface", fam)
		}
		if !errors.Is(err, ErrNoDevice) {
			t.Errorf("%s: err = %v, want ErrNoDevice", fam, err)
		}
		var opErr *OpError
		if !errors.As(err, &opErr) || opErr.Interface != "does-not-exist0" {
			t.Errorf("%s: err = %v, want *OpError naming the interface", fam, err)
		}
	}
}
