// Command kvsbgpd runs a KVS-BGP node: an HTTP CRUD surface backed by a
// Store that replicates via an external BGP daemon's local control
// channel. Flags cover config path, api-address/api-port, bgp-address/
// bgp-port, and verbosity.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/kvsbgp/kvsbgp"
	"github.com/kvsbgp/kvsbgp/internal/config"
	"github.com/kvsbgp/kvsbgp/internal/discovery"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kvsbgpd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to kvsbgpd.toml (optional; flags override file values)")
		apiAddr    = flag.String("api-address", "127.0.0.1", "host address for the HTTP API")
		apiPort    = flag.Int("api-port", 3030, "host port for the HTTP API")
		bgpAddr    = flag.String("bgp-address", "", "BGP daemon control-channel address (empty: use the config file's bgp_control_addr, or mDNS when bgp_discover is set)")
		bgpPort    = flag.Int("bgp-port", 179, "BGP daemon control-channel port")
		verbose    = flag.Int("v", 0, "log verbosity: 0=info, 1=debug, 2+=debug with source")
	)
	flag.Parse()

	logger := newLogger(*verbose)
	slog.SetDefault(logger)

	var file config.File
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		file = loaded
	}

	opts := []kvsbgp.Option{
		kvsbgp.WithLogger(logger),
		kvsbgp.WithHTTPAddr(resolveHTTPAddr(file, *apiAddr, *apiPort)),
		kvsbgp.WithErrorHandler(func(err error) {
			logger.Warn("engine error", "error", err)
		}),
	}
	if file.SnapshotPath != "" {
		opts = append(opts, kvsbgp.WithSnapshotPath(file.SnapshotPath))
	}
	if age := file.GCAge(); age > 0 {
		opts = append(opts, kvsbgp.WithReassemblerGCAge(age))
	}
	if interval := file.GCInterval(); interval > 0 {
		opts = append(opts, kvsbgp.WithReassemblerGCInterval(interval))
	}

	controlAddr := resolveBGPAddr(file, *bgpAddr, *bgpPort)
	if controlAddr != "" {
		opts = append(opts, kvsbgp.WithPeerDialer(func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", controlAddr)
		}))
	} else if file.BGPDiscover {
		resolver := discovery.NewResolver("")
		opts = append(opts, kvsbgp.WithPeerDiscovery(resolver.Resolve))
	}

	engine, err := kvsbgp.New(opts...)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	defer func() {
		_ = engine.Close(context.Background())
	}()

	logger.Info("kvsbgpd started", "http_addr", resolveHTTPAddr(file, *apiAddr, *apiPort))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	return nil
}

func resolveHTTPAddr(file config.File, apiAddr string, apiPort int) string {
	flagSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "api-address" || f.Name == "api-port" {
			flagSet = true
		}
	})
	if file.HTTPAddr != "" && !flagSet {
		return file.HTTPAddr
	}
	return net.JoinHostPort(apiAddr, fmt.Sprintf("%d", apiPort))
}

func resolveBGPAddr(file config.File, bgpAddr string, bgpPort int) string {
	if bgpAddr != "" {
		return net.JoinHostPort(bgpAddr, fmt.Sprintf("%d", bgpPort))
	}
	return file.BGPControlAddr
}

func newLogger(verbosity int) *slog.Logger {
	level := slog.LevelInfo
	opts := &slog.HandlerOptions{}
	if verbosity >= 1 {
		level = slog.LevelDebug
	}
	if verbosity >= 2 {
		opts.AddSource = true
	}
	opts.Level = level
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
