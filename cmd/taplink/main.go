//go:build linux

// Command taplink bridges two TUN or TAP interfaces in userspace.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/irctrakz/taplink/pkg/capture"
	"github.com/irctrakz/taplink/pkg/config"
	"github.com/irctrakz/taplink/pkg/core"
	"github.com/irctrakz/taplink/pkg/daemon"
	"github.com/irctrakz/taplink/pkg/logging"
	"github.com/irctrakz/taplink/pkg/relay"
	"github.com/irctrakz/taplink/pkg/tun"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseArgs(args, os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		logging.Errorf("%v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logging.Errorf("config: %v", err)
		return 1
	}
	if err := cfg.ApplyLogging(); err != nil {
		logging.Errorf("logging: %v", err)
		return 1
	}

	upper, lower, err := acquire(cfg)
	if err != nil {
		logging.Errorf("%v", err)
		return 1
	}
	defer upper.Close()
	defer lower.Close()

	if !cfg.Daemon.Foreground && !daemon.IsChild() {
		if err := detach(cfg, upper, lower); err != nil {
			logging.Errorf("daemonize: %v", err)
			return 1
		}
		return 0
	}

	if err := serve(cfg, upper, lower); err != nil {
		logging.Errorf("%v", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, `taplink bridges two virtual network interfaces in userspace, relaying
every packet arriving on one to the other.

Usage:
  taplink [flags] [<iface-A> <iface-B>]

Without interface names the configured (default "upper" and "lower")
names are used. Traffic read from iface-A is reported as D(own), traffic
read from iface-B as U(p).

Flags:
`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// parseArgs builds the configuration: defaults, then the config file, then
// the environment, then explicitly set flags and positional names.
func parseArgs(args []string, stderr io.Writer) (*config.Config, error) {
	fs := pflag.NewFlagSet("taplink", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	foreground := fs.BoolP("foreground", "D", false, "stay in the foreground and print per-second traffic")
	logFile := fs.StringP("log", "l", "", "send output of the background process to `file` (default /dev/null)")
	pidFile := fs.StringP("pidfile", "p", "", "write the background process id to `file`")
	devType := fs.StringP("type", "t", "", "device type, tun or tap (default tap)")
	bufSize := fs.IntP("buffer", "b", 0, "largest packet forwarded in `bytes` (default 65536)")
	mtu := fs.IntP("mtu", "m", 0, "set the MTU of both interfaces")
	up := fs.Bool("up", false, "bring both interfaces up")
	configPath := fs.StringP("config", "c", "", "load configuration from `file` (.json, .jsonc, .yaml)")
	capturePath := fs.StringP("capture", "w", "", "write forwarded packets to a pcap `file`")
	health := fs.String("health", "", "serve /health and /metrics on `addr`")
	debug := fs.BoolP("debug", "v", false, "debug logging with a per-packet trace")
	help := fs.BoolP("help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stderr, fs)
		}
		return nil, err
	}
	if *help {
		printUsage(stderr, fs)
		return nil, pflag.ErrHelp
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath, cfg); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if fs.Changed("foreground") {
		cfg.Daemon.Foreground = *foreground
	}
	if fs.Changed("log") {
		cfg.Daemon.LogFile = *logFile
	}
	if fs.Changed("pidfile") {
		cfg.Daemon.PidFile = *pidFile
	}
	if fs.Changed("type") {
		cfg.Bridge.Type = *devType
	}
	if fs.Changed("buffer") {
		cfg.Bridge.BufferSize = *bufSize
	}
	if fs.Changed("mtu") {
		cfg.Bridge.MTU = *mtu
	}
	if fs.Changed("up") {
		cfg.Bridge.Up = *up
	}
	if fs.Changed("capture") {
		cfg.Capture.File = *capturePath
	}
	if fs.Changed("health") {
		cfg.Stats.HealthListen = *health
	}

	// Debug logging toggle via -v or DEBUG env (truthy parser)
	dval := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG")))
	if *debug || dval == "1" || dval == "true" || dval == "yes" || dval == "on" {
		cfg.Logging.Level = "debug"
		cfg.Capture.Trace = true
	}

	switch fs.NArg() {
	case 0:
	case 2:
		cfg.Bridge.Upper = fs.Arg(0)
		cfg.Bridge.Lower = fs.Arg(1)
	default:
		return nil, fmt.Errorf("expected two interface names, got %d", fs.NArg())
	}
	return cfg, nil
}

// acquire opens and configures both devices, or picks them up from the
// parent when running as the background child. Nothing is left open on
// error.
func acquire(cfg *config.Config) (*tun.Interface, *tun.Interface, error) {
	kind := cfg.Kind()

	if daemon.IsChild() {
		files, err := daemon.Inherited()
		if err != nil {
			return nil, nil, err
		}
		if len(files) != 2 {
			return nil, nil, fmt.Errorf("expected 2 inherited devices, got %d", len(files))
		}
		upper, err := tun.Inherit(files[0].Fd, files[0].Name, kind)
		if err != nil {
			return nil, nil, err
		}
		lower, err := tun.Inherit(files[1].Fd, files[1].Name, kind)
		if err != nil {
			upper.Close()
			return nil, nil, err
		}
		return upper, lower, nil
	}

	upper, lower, err := tun.OpenPair(
		core.DeviceConfig{Name: cfg.Bridge.Upper, Kind: kind},
		core.DeviceConfig{Name: cfg.Bridge.Lower, Kind: kind},
	)
	if err != nil {
		return nil, nil, err
	}
	for _, dev := range []*tun.Interface{upper, lower} {
		if err := tun.Configure(dev.Name(), cfg.Bridge.MTU, cfg.Bridge.Up); err != nil {
			upper.Close()
			lower.Close()
			return nil, nil, err
		}
	}
	return upper, lower, nil
}

// detach hands both devices to a background copy of this process.
func detach(cfg *config.Config, upper, lower *tun.Interface) error {
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, dev := range []*tun.Interface{upper, lower} {
		f, err := dev.Dup()
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	pid, err := daemon.Detach(daemon.Options{
		LogFile: cfg.Daemon.LogFile,
		PidFile: cfg.Daemon.PidFile,
		Files:   files,
	})
	if err != nil {
		return err
	}
	logging.Infof("Bridge %s <-> %s running in background, pid %d", upper.Name(), lower.Name(), pid)
	return nil
}

// serve runs the bridge until SIGINT or SIGTERM.
func serve(cfg *config.Config, upper, lower *tun.Interface) error {
	kind := cfg.Kind()

	var observers []relay.PacketObserver
	if cfg.Capture.File != "" {
		w, err := capture.Create(cfg.Capture.File, kind, cfg.Bridge.BufferSize)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				logging.Warnf("capture: %v", err)
			}
			logging.Infof("Captured %d packets to %s", w.Packets(), cfg.Capture.File)
		}()
		observers = append(observers, w)
	}
	if cfg.Capture.Trace {
		observers = append(observers, capture.NewTracer(kind))
	}

	interval, _ := cfg.MetricsInterval()
	opts := relay.Options{
		BufferSize:      cfg.Bridge.BufferSize,
		MetricsInterval: interval,
		MetricsFormat:   cfg.Stats.MetricsFormat,
		Observer:        relay.Observers(observers...),
	}
	if cfg.Daemon.Foreground {
		opts.Status = os.Stderr
		opts.Terminal = term.IsTerminal(int(os.Stderr.Fd()))
	}

	bridge, err := relay.New(upper, lower, opts)
	if err != nil {
		return err
	}
	defer bridge.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Stats.HealthListen != "" {
		hs, err := startHealth(cfg.Stats.HealthListen, bridge)
		if err != nil {
			return err
		}
		defer hs.Close()
	}

	err = bridge.Run(ctx)
	if opts.Terminal {
		fmt.Fprintln(os.Stderr)
	}
	down, upm := bridge.Down().Metrics(), bridge.Up().Metrics()
	logging.Infof("Stopped: down %d packets/%d bytes, up %d packets/%d bytes, %d faults",
		down.PacketsForwarded, down.BytesForwarded, upm.PacketsForwarded, upm.BytesForwarded,
		down.Faults+upm.Faults)
	return err
}
