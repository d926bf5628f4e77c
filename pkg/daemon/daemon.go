// Package daemon implements the mrdisc daemon lifecycle: open the MRD
// sockets, then announce and answer solicitations every interval until
// a signal arrives, then terminate on every interface.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/psaab/mrdisc/pkg/api"
	"github.com/psaab/mrdisc/pkg/bpf"
	"github.com/psaab/mrdisc/pkg/config"
	"github.com/psaab/mrdisc/pkg/grpcapi"
	"github.com/psaab/mrdisc/pkg/iface"
	"github.com/psaab/mrdisc/pkg/inet"
	"github.com/psaab/mrdisc/pkg/mrd"
)

// BackendFunc creates the socket backend for one family.
type BackendFunc func(f mrd.Family, opts inet.Options) inet.Backend

// Options configures the daemon.
type Options struct {
	Config  *config.Config
	Version string

	// NewBackend defaults to inet.NewBackend.
	NewBackend BackendFunc
}

// Daemon is the MRD router daemon.
type Daemon struct {
	opts Options
	reg  *iface.Registry
}

// New creates a new Daemon.
func New(opts Options) *Daemon {
	if opts.NewBackend == nil {
		opts.NewBackend = inet.NewBackend
	}
	return &Daemon{opts: opts}
}

// Registry returns the daemon's sockets. It is nil until Run has started.
func (d *Daemon) Registry() *iface.Registry {
	return d.reg
}

// Run opens a socket per configured interface and family and runs the
// announce loop until ctx is cancelled or SIGTERM, SIGINT, SIGHUP or
// SIGQUIT is received. Setup failures other than a missing interface
// and poll failures are returned. Close failures are joined into the
// returned error.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.opts.Config
	slog.Info("starting mrdisc daemon",
		"version", d.opts.Version,
		"interval", cfg.Interval,
		"interfaces", cfg.Interfaces,
		"pid", os.Getpid())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGQUIT)
	defer stop()

	opts := inet.Options{Role: mrd.RoleRouter}
	if cfg.BPFFilter && cfg.IPv4 {
		f, err := bpf.LoadIGMPFilter(mrd.IGMPSolicit)
		if err != nil {
			slog.Warn("daemon: failed to load eBPF IGMP filter, filtering in userspace", "err", err)
		} else {
			defer f.Close()
			opts.Filter = f
		}
	}

	var backends []inet.Backend
	for _, f := range cfg.Families() {
		backends = append(backends, d.opts.NewBackend(f, opts))
	}
	d.reg = iface.NewRegistry(backends...)

	for _, f := range cfg.Families() {
		n, err := d.reg.Init(cfg.Interfaces, f)
		if err != nil {
			return errors.Join(err, d.reg.CloseAll())
		}
		slog.Info("daemon: interfaces registered", "family", f, "count", n)
	}
	if d.reg.Len() == 0 {
		slog.Warn("daemon: no usable interfaces, waiting for signal")
	}

	poller, err := iface.NewPoller(d.reg)
	if err != nil {
		return errors.Join(err, d.reg.CloseAll())
	}
	defer poller.Close()

	// The outer services get their own context so they are stopped
	// before the sockets they report on are closed.
	svcCtx, cancelSvc := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if cfg.MetricsAddr != "" {
		srv := api.NewServer(api.Config{
			Addr:     cfg.MetricsAddr,
			Source:   d.reg,
			Interval: cfg.Interval,
			Version:  d.opts.Version,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(svcCtx); err != nil {
				slog.Error("daemon: HTTP API server failed", "err", err)
			}
		}()
	}

	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewServer(cfg.GRPCAddr)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := health.Run(svcCtx); err != nil {
				slog.Error("daemon: gRPC server failed", "err", err)
			}
		}()
	}

	runErr := d.loop(ctx, poller, health)

	cancelSvc()
	wg.Wait()

	slog.Info("daemon: shutting down, sending terminate")
	return errors.Join(runErr, d.reg.CloseAll())
}

func (d *Daemon) loop(ctx context.Context, poller *iface.Poller, health *grpcapi.Server) error {
	cfg := d.opts.Config
	for ctx.Err() == nil {
		for _, f := range cfg.Families() {
			d.reg.Announce(f, cfg.Interval)
		}
		if health != nil {
			health.Update(d.reg.All())
		}

		n, err := poller.Poll(ctx, cfg.Interval)
		if err != nil && !errors.Is(err, iface.ErrInterrupted) {
			return err
		}
		if n > 0 {
			slog.Debug("daemon: cycle done", "dispatched", n)
		}
	}
	return nil
}
