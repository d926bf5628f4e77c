// Package config loads mrdisc settings from an optional env file, the
// MRDISC_* environment and the command line, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/psaab/mrdisc/pkg/mrd"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MRDISC"

// DefaultEnvFile is read when no -env-file is given.
const DefaultEnvFile = "/etc/default/mrdisc"

// MaxInterfaces bounds the interface list.
const MaxInterfaces = 100

// Config validation errors
var (
	ErrInvalidInterval   = fmt.Errorf("invalid announcement interval [%d,%d]", mrd.MinInterval, mrd.MaxInterval)
	ErrNoInterfaces      = errors.New("not enough arguments")
	ErrTooManyInterfaces = fmt.Errorf("too many interfaces, max %d", MaxInterfaces)
	ErrNoFamily          = errors.New("-4 and -6 are exclusive")
)

// Config is the daemon configuration.
type Config struct {
	Interfaces  []string `envconfig:"INTERFACES"`
	Interval    uint8    `envconfig:"INTERVAL" default:"20"`
	IPv4        bool     `envconfig:"IPV4" default:"true"`
	IPv6        bool     `envconfig:"IPV6" default:"true"`
	Debug       bool     `envconfig:"DEBUG"`
	MetricsAddr string   `envconfig:"METRICS_ADDR"`
	GRPCAddr    string   `envconfig:"GRPC_ADDR"`
	Syslog      string   `envconfig:"SYSLOG"`
	BPFFilter   bool     `envconfig:"BPF_FILTER"`

	EnvFile     string `ignored:"true"`
	ShowVersion bool   `ignored:"true"`
}

// Load parses args (without the program name). flag.ErrHelp is returned
// after printing usage for -h. The result is validated.
func Load(name string, args []string, output io.Writer) (*Config, error) {
	var (
		v4only, v6only bool
		interval       uint8
		flags          Config
	)

	set := flag.NewFlagSet(name, flag.ContinueOnError)
	set.SetOutput(output)
	set.Usage = func() { Usage(output, name) }
	set.BoolVar(&v4only, "4", false, "use IPv4 only")
	set.BoolVar(&v6only, "6", false, "use IPv6 only")
	set.Func("i", "announce interval in seconds", func(s string) error {
		n, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return ErrInvalidInterval
		}
		interval = uint8(n)
		return nil
	})
	set.BoolVar(&flags.ShowVersion, "v", false, "print version")
	set.BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	set.StringVar(&flags.MetricsAddr, "metrics-addr", "", "HTTP metrics/API listen address")
	set.StringVar(&flags.GRPCAddr, "grpc-addr", "", "gRPC health listen address")
	set.StringVar(&flags.Syslog, "syslog", "", "remote syslog target [proto://]host[:port]")
	set.BoolVar(&flags.BPFFilter, "bpf", false, "attach eBPF IGMP filter to IPv4 sockets")
	set.StringVar(&flags.EnvFile, "env-file", DefaultEnvFile, "environment file")
	if err := set.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{EnvFile: flags.EnvFile, ShowVersion: flags.ShowVersion}
	if cfg.ShowVersion {
		return cfg, nil
	}

	if err := loadEnvFile(cfg.EnvFile); err != nil {
		return nil, err
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	var famErr error
	set.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "4":
			if v6only {
				famErr = ErrNoFamily
			}
			cfg.IPv4, cfg.IPv6 = true, false
		case "6":
			if v4only {
				famErr = ErrNoFamily
			}
			cfg.IPv4, cfg.IPv6 = false, true
		case "i":
			cfg.Interval = interval
		case "debug":
			cfg.Debug = flags.Debug
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		case "grpc-addr":
			cfg.GRPCAddr = flags.GRPCAddr
		case "syslog":
			cfg.Syslog = flags.Syslog
		case "bpf":
			cfg.BPFFilter = flags.BPFFilter
		}
	})
	if famErr != nil {
		return nil, famErr
	}
	if set.NArg() > 0 {
		cfg.Interfaces = set.Args()
	}
	cfg.Interfaces = dedupe(cfg.Interfaces)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Interval < mrd.MinInterval || c.Interval > mrd.MaxInterval {
		return ErrInvalidInterval
	}
	if !c.IPv4 && !c.IPv6 {
		return ErrNoFamily
	}
	if len(c.Interfaces) == 0 {
		return ErrNoInterfaces
	}
	if len(c.Interfaces) > MaxInterfaces {
		return ErrTooManyInterfaces
	}
	return nil
}

// Families returns the enabled address families, IPv4 first.
func (c *Config) Families() []mrd.Family {
	var fams []mrd.Family
	if c.IPv4 {
		fams = append(fams, mrd.IPv4)
	}
	if c.IPv6 {
		fams = append(fams, mrd.IPv6)
	}
	return fams
}

// Usage writes the command-line help text.
func Usage(w io.Writer, name string) {
	fmt.Fprintf(w, `
Usage: %s [-4|-6] [-i SEC] IFACE [IFACE ...]

    -h             This help text
    -4             Use IPv4 only
    -6             Use IPv6 only
    -i SEC         Announce interval, %d-%d sec, default %d sec
    -v             Program version
    -debug         Enable debug logging
    -bpf           Filter IGMP in the kernel with an eBPF socket filter
    -metrics-addr  HTTP listen address for /metrics and /api/v1/interfaces
    -grpc-addr     gRPC health service listen address
    -syslog        Forward logs to [udp|tcp://]host[:port]
    -env-file      Environment file, default %s

Settings can also be given as %s_* environment variables.

`, name, mrd.MinInterval, mrd.MaxInterval, mrd.DefaultInterval, DefaultEnvFile, EnvPrefix)
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return names
	}
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
