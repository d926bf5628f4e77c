package logging

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Syslog severity levels (RFC 3164).
const (
	SyslogError   = 3
	SyslogWarning = 4
	SyslogInfo    = 6
	SyslogDebug   = 7
)

// Syslog facilities.
const (
	FacilityUser   = 1
	FacilityDaemon = 3
	FacilityLocal0 = 16
	FacilityLocal7 = 23
)

const syslogTag = "mrdisc"

// SyslogClient sends RFC 3164 messages to a remote collector over UDP or TCP.
type SyslogClient struct {
	mu       sync.Mutex
	conn     net.Conn
	network  string
	addr     string
	hostname string
	pid      int

	Facility    int
	MinSeverity int // 0 = no filter
}

// NewSyslogClient dials a UDP syslog collector at host:port.
func NewSyslogClient(host string, port int) (*SyslogClient, error) {
	return NewSyslogClientTransport(host, port, "udp")
}

// NewSyslogClientTransport dials host:port over network ("udp" or "tcp",
// empty means udp).
func NewSyslogClientTransport(host string, port int, network string) (*SyslogClient, error) {
	if network == "" {
		network = "udp"
	}
	if network != "udp" && network != "tcp" {
		return nil, fmt.Errorf("unsupported syslog transport %q", network)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout(network, addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial syslog %s: %w", addr, err)
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = syslogTag
	}
	return &SyslogClient{
		conn:     conn,
		network:  network,
		addr:     addr,
		hostname: hostname,
		pid:      os.Getpid(),
		Facility: FacilityDaemon,
	}, nil
}

// ParseTarget splits a "[proto://]host[:port]" syslog target. The port
// defaults to 514 and the protocol to udp.
func ParseTarget(target string) (network, host string, port int, err error) {
	network = "udp"
	if i := strings.Index(target, "://"); i >= 0 {
		network, target = target[:i], target[i+3:]
	}
	host, p, err := net.SplitHostPort(target)
	if err != nil {
		// No port given.
		host, p = strings.Trim(target, "[]"), "514"
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("syslog target %q: missing host", target)
	}
	port, err = strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return "", "", 0, fmt.Errorf("syslog target %q: invalid port %q", target, p)
	}
	return network, host, port, nil
}

// Format renders msg as an RFC 3164 line at the given severity.
func (s *SyslogClient) Format(severity int, msg string) string {
	priority := s.Facility*8 + severity
	ts := time.Now().Format(time.Stamp)
	return fmt.Sprintf("<%d>%s %s %s[%d]: %s", priority, ts, s.hostname, syslogTag, s.pid, msg)
}

// Send sends a syslog message with the given severity. A TCP client
// redials once if the write fails.
func (s *SyslogClient) Send(severity int, msg string) error {
	line := s.Format(severity, msg)
	if s.network == "tcp" {
		// RFC 6587 octet counting.
		line = strconv.Itoa(len(line)) + " " + line
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Write([]byte(line))
	if err == nil || s.network != "tcp" {
		return err
	}
	s.conn.Close()
	conn, derr := net.DialTimeout(s.network, s.addr, 5*time.Second)
	if derr != nil {
		return fmt.Errorf("redial syslog %s: %w", s.addr, derr)
	}
	s.conn = conn
	_, err = s.conn.Write([]byte(line))
	return err
}

// ShouldSend returns true if the severity passes this client's filter.
// Lower severity number = higher priority.
func (s *SyslogClient) ShouldSend(severity int) bool {
	return s.MinSeverity == 0 || severity <= s.MinSeverity
}

// ParseSeverity converts a severity name to its numeric value.
// Returns 0 (no filter) for unrecognized names.
func ParseSeverity(name string) int {
	switch name {
	case "error":
		return SyslogError
	case "warning":
		return SyslogWarning
	case "info":
		return SyslogInfo
	case "debug":
		return SyslogDebug
	default:
		return 0
	}
}

// Close closes the underlying connection.
func (s *SyslogClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
