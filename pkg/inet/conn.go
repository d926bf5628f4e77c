package inet

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/psaab/mrdisc/pkg/mrd"
)

// conn is the Conn shared by both families; the variant supplies the
// family-specific framing.
type conn struct {
	v       variant
	name    string
	ifindex int
	role    mrd.Role
	sock    sysSocket
	dest    unix.Sockaddr
	buf     []byte
	stats   counters
}

func newConn(v variant, name string, ifindex int, role mrd.Role, sock sysSocket) *conn {
	fam := v.Family()
	return &conn{
		v:       v,
		name:    name,
		ifindex: ifindex,
		role:    role,
		sock:    sock,
		dest:    mrd.ComposeAddr(fam, role.DestGroup(fam)),
		buf:     make([]byte, recvBufLen),
	}
}

func (c *conn) Name() string       { return c.name }
func (c *conn) Family() mrd.Family { return c.v.Family() }
func (c *conn) Index() int         { return c.ifindex }
func (c *conn) Fd() int            { return c.sock.Fd() }
func (c *conn) Stats() Stats       { return c.stats.snapshot() }

func (c *conn) Send(t mrd.Type, interval uint8) error {
	msg := mrd.NewMessage(t, interval)
	if err := c.sock.Sendto(msg.Marshal(c.Family()), c.dest); err != nil {
		c.stats.sendFailed()
		return fmt.Errorf("send %s on %s: %w", t, c.name, err)
	}
	c.stats.sent(t)
	return nil
}

func (c *conn) ReadMessage() (*mrd.Message, netip.Addr, error) {
	n, from, err := c.sock.Recvfrom(c.buf)
	if err != nil {
		return nil, netip.Addr{}, fmt.Errorf("read %s: %w", c.name, err)
	}

	payload, src, err := c.v.unwrap(c.buf[:n], from)
	if err != nil {
		return nil, src, fmt.Errorf("read %s: %w", c.name, err)
	}

	msg, err := mrd.ParseMessage(c.Family(), payload)
	if err != nil {
		return nil, src, fmt.Errorf("read %s from %s: %w", c.name, src, err)
	}
	c.stats.received(msg.Type)
	return msg, src, nil
}

func (c *conn) Receive(interval uint8) error {
	msg, src, err := c.ReadMessage()
	if err != nil {
		if errors.Is(err, mrd.ErrUnknownType) {
			return nil
		}
		c.stats.recvFailed()
		return err
	}
	if msg.Type != mrd.Solicit {
		return nil
	}

	slog.Debug("inet: solicitation received",
		"interface", c.name, "family", c.Family(), "src", src)
	return c.Send(mrd.Announce, interval)
}

func (c *conn) Close() error {
	var errs []error
	if c.role == mrd.RoleRouter {
		if err := c.Send(mrd.Terminate, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.sock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s (%s): %w", c.name, c.Family(), err))
	}
	return errors.Join(errs...)
}
