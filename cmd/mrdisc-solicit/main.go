// mrdisc-solicit sends one Multicast Router Discovery solicitation on an
// interface and optionally prints the announcements that answer it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/psaab/mrdisc/pkg/iface"
	"github.com/psaab/mrdisc/pkg/inet"
	"github.com/psaab/mrdisc/pkg/mrd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: mrdisc-solicit [-4|-6] [-wait DUR] IFNAME\n")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mrdisc-solicit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }
	v4only := fs.Bool("4", false, "solicit over IPv4 only")
	v6only := fs.Bool("6", false, "solicit over IPv6 only")
	wait := fs.Duration("wait", 0, "listen this long for announcements")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() != 1 || (*v4only && *v6only) {
		usage(stderr)
		return 1
	}
	ifname := fs.Arg(0)

	logLevel := slog.LevelWarn
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var fams []mrd.Family
	if !*v6only {
		fams = append(fams, mrd.IPv4)
	}
	if !*v4only {
		fams = append(fams, mrd.IPv6)
	}

	opts := inet.Options{Role: mrd.RoleSolicitor}
	var backends []inet.Backend
	for _, f := range fams {
		backends = append(backends, inet.NewBackend(f, opts))
	}
	return solicit(ctx, iface.NewRegistry(backends...), fams, ifname, *wait, stdout, stderr)
}

// solicit opens ifname for each family, sends one Solicit per socket and
// prints announcements heard within wait.
func solicit(ctx context.Context, reg *iface.Registry, fams []mrd.Family, ifname string, wait time.Duration, stdout, stderr io.Writer) int {
	for _, f := range fams {
		n, err := reg.Init([]string{ifname}, f)
		if err != nil {
			fmt.Fprintf(stderr, "mrdisc-solicit: %v\n", err)
			reg.CloseAll()
			return 1
		}
		if n == 0 {
			fmt.Fprintf(stderr, "mrdisc-solicit: no such interface %s\n", ifname)
			reg.CloseAll()
			return 1
		}
	}

	status := 0
	for _, f := range fams {
		if reg.SendAll(f, mrd.Solicit, 0) > 0 {
			status = 1
		}
	}

	if wait > 0 {
		p, err := iface.NewPoller(reg)
		if err != nil {
			fmt.Fprintf(stderr, "mrdisc-solicit: %v\n", err)
			reg.CloseAll()
			return 1
		}
		_, err = p.Wait(ctx, wait, func(c inet.Conn) error {
			msg, src, err := c.ReadMessage()
			if err != nil {
				if errors.Is(err, mrd.ErrUnknownType) {
					return nil
				}
				return err
			}
			if msg.Type == mrd.Announce {
				fmt.Fprintf(stdout, "%s %s %d\n", c.Family(), src, msg.Interval)
			}
			return nil
		})
		p.Close()
		if err != nil && !errors.Is(err, iface.ErrInterrupted) {
			fmt.Fprintf(stderr, "mrdisc-solicit: %v\n", err)
			status = 1
		}
	}

	if err := reg.CloseAll(); err != nil {
		fmt.Fprintf(stderr, "mrdisc-solicit: %v\n", err)
		status = 1
	}
	return status
}
