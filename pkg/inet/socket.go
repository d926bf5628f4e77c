package inet

import (
	"golang.org/x/sys/unix"
)

// sysSocket is the descriptor-level surface a Conn needs.
type sysSocket interface {
	Fd() int
	Recvfrom(p []byte) (int, unix.Sockaddr, error)
	Sendto(p []byte, to unix.Sockaddr) error
	Close() error
}

// rawSocket is a non-blocking raw socket descriptor.
type rawSocket struct {
	fd int
}

func (s *rawSocket) Fd() int {
	return s.fd
}

func (s *rawSocket) Recvfrom(p []byte) (int, unix.Sockaddr, error) {
	if s.fd < 0 {
		return 0, nil, ErrClosed
	}
	return unix.Recvfrom(s.fd, p, 0)
}

func (s *rawSocket) Sendto(p []byte, to unix.Sockaddr) error {
	if s.fd < 0 {
		return ErrClosed
	}
	return unix.Sendto(s.fd, p, 0, to)
}

func (s *rawSocket) Close() error {
	if s.fd < 0 {
		return ErrClosed
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
