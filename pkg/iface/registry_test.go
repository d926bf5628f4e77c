package iface

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/psaab/mrdisc/pkg/inet"
	"github.com/psaab/mrdisc/pkg/mrd"
)

// fakeConn is an inet.Conn backed by an arbitrary descriptor.
type fakeConn struct {
	name     string
	fam      mrd.Family
	fd       int
	sends    []mrd.Type
	sendErr  error
	closeErr error
	closed   bool
	recv     func() error
}

func (c *fakeConn) Name() string       { return c.name }
func (c *fakeConn) Family() mrd.Family { return c.fam }
func (c *fakeConn) Index() int         { return 1 }
func (c *fakeConn) Fd() int            { return c.fd }
func (c *fakeConn) Stats() inet.Stats  { return inet.Stats{} }

func (c *fakeConn) Send(t mrd.Type, interval uint8) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sends = append(c.sends, t)
	return nil
}

func (c *fakeConn) Receive(interval uint8) error {
	if c.recv != nil {
		return c.recv()
	}
	return nil
}

func (c *fakeConn) ReadMessage() (*mrd.Message, netip.Addr, error) {
	return nil, netip.Addr{}, errors.New("not implemented")
}

func (c *fakeConn) Close() error {
	c.closed = true
	if err := c.Send(mrd.Terminate, 0); err != nil {
		return errors.Join(err, c.closeErr)
	}
	return c.closeErr
}

// fakeBackend opens fakeConns; names listed in missing do not exist and
// names in broken fail fatally.
type fakeBackend struct {
	fam     mrd.Family
	missing map[string]bool
	broken  map[string]bool
	opened  []*fakeConn
}

func (b *fakeBackend) Family() mrd.Family { return b.fam }

func (b *fakeBackend) Open(name string) (inet.Conn, error) {
	if b.missing[name] {
		return nil, &inet.OpError{Op: "bind", Interface: name, Family: b.fam, Err: inet.ErrNoDevice}
	}
	if b.broken[name] {
		return nil, &inet.OpError{Op: "join", Interface: name, Family: b.fam, Err: unix.EPERM}
	}
	c := &fakeConn{name: name, fam: b.fam, fd: -1}
	b.opened = append(b.opened, c)
	return c, nil
}

func names(conns []inet.Conn) []string {
	out := make([]string, len(conns))
	for i, c := range conns {
		out[i] = c.Name()
	}
	return out
}

func TestInit_SkipsMissingInterfaces(t *testing.T) {
	b := &fakeBackend{fam: mrd.IPv4, missing: map[string]bool{"does-not-exist": true}}
	r := NewRegistry(b)

	n, err := r.Init([]string{"eth0", "does-not-exist", "eth1"}, mrd.IPv4)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if n != 2 {
		t.Errorf("registered = %d, want 2", n)
	}
	got := names(r.Handles(mrd.IPv4))
	if fmt.Sprint(got) != "[eth0 eth1]" {
		t.Errorf("handles = %v, want [eth0 eth1]", got)
	}
	if len(r.Handles(mrd.IPv6)) != 0 {
		t.Errorf("IPv6 handles = %d, want 0", len(r.Handles(mrd.IPv6)))
	}
}

func TestInit_FatalErrorStops(t *testing.T) {
	b := &fakeBackend{fam: mrd.IPv6, broken: map[string]bool{"eth1": true}}
	r := NewRegistry(b)

	n, err := r.Init([]string{"eth0", "eth1", "eth2"}, mrd.IPv6)
	if !errors.Is(err, unix.EPERM) {
		t.Fatalf("err = %v, want EPERM", err)
	}
	if n != 1 {
		t.Errorf("registered = %d, want 1", n)
	}
	// The socket opened before the failure is still owned by the registry.
	if err := r.CloseAll(); err != nil {
		t.Errorf("CloseAll: %v", err)
	}
	if !b.opened[0].closed {
		t.Error("eth0 not closed")
	}
}

func TestInit_NoBackend(t *testing.T) {
	r := NewRegistry(&fakeBackend{fam: mrd.IPv4})
	if _, err := r.Init([]string{"eth0"}, mrd.IPv6); err == nil {
		t.Error("expected error for family without a backend")
	}
}

func TestInit_TooManyInterfaces(t *testing.T) {
	r := NewRegistry(&fakeBackend{fam: mrd.IPv4})
	ifnames := make([]string, MaxInterfaces+1)
	for i := range ifnames {
		ifnames[i] = fmt.Sprintf("eth%d", i)
	}
	if _, err := r.Init(ifnames, mrd.IPv4); !errors.Is(err, ErrTooManyInterfaces) {
		t.Errorf("err = %v, want ErrTooManyInterfaces", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestAll_IPv4First(t *testing.T) {
	r := NewRegistry(&fakeBackend{fam: mrd.IPv4}, &fakeBackend{fam: mrd.IPv6})
	if _, err := r.Init([]string{"eth0", "eth1"}, mrd.IPv6); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Init([]string{"eth0", "eth1"}, mrd.IPv4); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, c := range r.All() {
		got = append(got, c.Name()+"/"+c.Family().String())
	}
	want := "[eth0/ipv4 eth1/ipv4 eth0/ipv6 eth1/ipv6]"
	if fmt.Sprint(got) != want {
		t.Errorf("All = %v, want %s", got, want)
	}
	if r.Len() != 4 {
		t.Errorf("Len = %d, want 4", r.Len())
	}
}

func TestAnnounce_ContinuesPastFailures(t *testing.T) {
	b := &fakeBackend{fam: mrd.IPv4}
	r := NewRegistry(b)
	if _, err := r.Init([]string{"eth0", "eth1", "eth2"}, mrd.IPv4); err != nil {
		t.Fatal(err)
	}
	b.opened[1].sendErr = unix.ENETDOWN

	if failed := r.Announce(mrd.IPv4, 20); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	for _, i := range []int{0, 2} {
		if len(b.opened[i].sends) != 1 || b.opened[i].sends[0] != mrd.Announce {
			t.Errorf("%s sends = %v, want [announce]", b.opened[i].name, b.opened[i].sends)
		}
	}
}

func TestCloseAll_ClosesEverything(t *testing.T) {
	b4 := &fakeBackend{fam: mrd.IPv4}
	b6 := &fakeBackend{fam: mrd.IPv6}
	r := NewRegistry(b4, b6)
	r.Init([]string{"eth0", "eth1"}, mrd.IPv4)
	r.Init([]string{"eth0", "eth1"}, mrd.IPv6)

	b4.opened[0].sendErr = unix.ENETDOWN
	b6.opened[1].closeErr = unix.EIO

	err := r.CloseAll()
	if !errors.Is(err, unix.ENETDOWN) || !errors.Is(err, unix.EIO) {
		t.Errorf("err = %v, want ENETDOWN and EIO", err)
	}
	for _, c := range append(b4.opened, b6.opened...) {
		if !c.closed {
			t.Errorf("%s/%s not closed", c.name, c.fam)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len after CloseAll = %d, want 0", r.Len())
	}
}

func TestCloseAll_Empty(t *testing.T) {
	if err := NewRegistry().CloseAll(); err != nil {
		t.Errorf("CloseAll on empty registry = %v, want nil", err)
	}
}
