package logging

import (
	"fmt"
	"io"
	"log/slog"
)

// Options selects the daemon's log output.
type Options struct {
	Debug  bool
	Syslog string // optional "[proto://]host[:port]" collector
}

// Setup installs the default slog logger: a text handler on w, wrapped
// with syslog forwarding when opts.Syslog is set. The returned handler
// must be closed on shutdown; it is nil when no syslog target was given.
func Setup(w io.Writer, opts Options) (*SyslogSlogHandler, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})

	if opts.Syslog == "" {
		slog.SetDefault(slog.New(base))
		return nil, nil
	}

	network, host, port, err := ParseTarget(opts.Syslog)
	if err != nil {
		return nil, err
	}
	client, err := NewSyslogClientTransport(host, port, network)
	if err != nil {
		return nil, fmt.Errorf("syslog: %w", err)
	}
	if !opts.Debug {
		client.MinSeverity = SyslogInfo
	}

	h := NewSyslogSlogHandler(base)
	h.SetClients([]*SyslogClient{client})
	slog.SetDefault(slog.New(h))
	return h, nil
}
