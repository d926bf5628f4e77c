// Package iface keeps the set of open MRD sockets and multiplexes their
// inbound traffic over one announce interval.
package iface

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/psaab/mrdisc/pkg/inet"
	"github.com/psaab/mrdisc/pkg/mrd"
)

// MaxInterfaces bounds the number of sockets per address family.
const MaxInterfaces = 100

var ErrTooManyInterfaces = fmt.Errorf("more than %d interfaces", MaxInterfaces)

// Registry owns every open socket. Handles are kept per family in the
// order their interfaces were requested.
type Registry struct {
	backends map[mrd.Family]inet.Backend
	v4       []inet.Conn
	v6       []inet.Conn
}

// NewRegistry creates an empty registry that opens sockets through the
// given backends, one per family.
func NewRegistry(backends ...inet.Backend) *Registry {
	r := &Registry{backends: make(map[mrd.Family]inet.Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Family()] = b
	}
	return r
}

// Init opens a socket on every named interface for family f, in input
// order. Interfaces that do not exist are skipped; any other failure is
// returned and leaves the sockets opened so far registered, so the
// caller can still CloseAll. Init returns the number of sockets added.
func (r *Registry) Init(names []string, f mrd.Family) (int, error) {
	b, ok := r.backends[f]
	if !ok {
		return 0, fmt.Errorf("no %s backend", f)
	}
	if len(r.list(f))+len(names) > MaxInterfaces {
		return 0, fmt.Errorf("%s: %w", f, ErrTooManyInterfaces)
	}

	added := 0
	for _, name := range names {
		c, err := b.Open(name)
		if err != nil {
			if errors.Is(err, inet.ErrNoDevice) {
				continue
			}
			return added, err
		}
		r.add(f, c)
		added++
	}
	return added, nil
}

// Handles returns the sockets of family f in registration order.
func (r *Registry) Handles(f mrd.Family) []inet.Conn {
	return r.list(f)
}

// All returns every socket, IPv4 before IPv6.
func (r *Registry) All() []inet.Conn {
	all := make([]inet.Conn, 0, len(r.v4)+len(r.v6))
	all = append(all, r.v4...)
	return append(all, r.v6...)
}

// Len returns the number of sockets across both families.
func (r *Registry) Len() int {
	return len(r.v4) + len(r.v6)
}

// SendAll sends one message of type t on every socket of family f. A
// failure on one interface is logged and does not stop the others. It
// returns the number of failed sends.
func (r *Registry) SendAll(f mrd.Family, t mrd.Type, interval uint8) int {
	failed := 0
	for _, c := range r.list(f) {
		if err := c.Send(t, interval); err != nil {
			slog.Warn("iface: failed sending control message",
				"interface", c.Name(), "family", f,
				"type", fmt.Sprintf("0x%x", t.Code(f)), "err", err)
			failed++
		}
	}
	return failed
}

// Announce sends an Announce carrying interval on every socket of f.
func (r *Registry) Announce(f mrd.Family, interval uint8) int {
	return r.SendAll(f, mrd.Announce, interval)
}

// CloseAll closes every socket, IPv4 first. Every socket is closed even
// if others fail; the failures are joined into the returned error.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, c := range r.All() {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.v4, r.v6 = nil, nil
	return errors.Join(errs...)
}

func (r *Registry) list(f mrd.Family) []inet.Conn {
	if f == mrd.IPv6 {
		return r.v6
	}
	return r.v4
}

func (r *Registry) add(f mrd.Family, c inet.Conn) {
	if f == mrd.IPv6 {
		r.v6 = append(r.v6, c)
		return
	}
	r.v4 = append(r.v4, c)
}
