package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"extmetrics/internal/app"
	"extmetrics/internal/config"
)

const (
	exitCodeFailure = 1
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// run starts the collector process.
// Params: none.
// Returns: process exit code.
func run() int {
	var (
		configPath string
		showInfo   bool
		checkOnly  bool
	)

	flag.StringVar(&configPath, "config", "config.toml", "path to TOML config file or directory")
	flag.BoolVar(&showInfo, "v", false, "show build information")
	flag.BoolVar(&showInfo, "version", false, "show build information")
	flag.BoolVar(&checkOnly, "check", false, "validate configuration and exit")
	flag.Parse()

	if showInfo {
		fmt.Printf("extmetrics version=%s commit=%s date=%s\n", version, commit, date)
		return 0
	}

	if checkOnly {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitCodeFailure
		}
		fmt.Printf(
			"config ok: external_metrics.enable=%t cadvisor=%s node_exporter=%s interval=%s\n",
			cfg.ExternalMetrics.Enable,
			cfg.ExternalMetrics.CAdvisorEndpoint,
			cfg.ExternalMetrics.NodeExporterEndpoint,
			cfg.ExternalMetrics.Interval.Duration,
		)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reloadSignal := make(chan os.Signal, 1)
	signal.Notify(reloadSignal, syscall.SIGHUP)
	defer signal.Stop(reloadSignal)

	reload := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadSignal:
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		}
	}()

	if err := app.Run(ctx, app.Runtime{ConfigPath: configPath, Reload: reload}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeFailure
	}

	return 0
}

func main() {
	os.Exit(run())
}
