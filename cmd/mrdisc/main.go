// mrdisc is the Multicast Router Discovery (RFC 4286) daemon.
//
// It announces the host as a multicast router on the given interfaces
// and answers solicitations from hosts and snooping switches.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/psaab/mrdisc/pkg/config"
	"github.com/psaab/mrdisc/pkg/daemon"
	"github.com/psaab/mrdisc/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load("mrdisc", args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "mrdisc: %v\n", err)
		if errors.Is(err, config.ErrNoInterfaces) || errors.Is(err, config.ErrNoFamily) {
			config.Usage(os.Stderr, "mrdisc")
		}
		return 1
	}
	if cfg.ShowVersion {
		fmt.Fprintf(os.Stderr, "mrdisc v%s\n", version)
		return 0
	}

	sh, err := logging.Setup(os.Stderr, logging.Options{Debug: cfg.Debug, Syslog: cfg.Syslog})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mrdisc: %v\n", err)
		return 1
	}
	if sh != nil {
		defer sh.Close()
	}

	d := daemon.New(daemon.Options{Config: cfg, Version: version})
	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "mrdisc: %v\n", err)
		return 1
	}
	return 0
}
