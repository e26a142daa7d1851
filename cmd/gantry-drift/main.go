// gantry-drift runs one thermal drift measurement session against a
// printer's Moonraker API: home, level, heat, soak, timed hot sampling
// and cooldown, writing one structured JSON session record.
//
// Usage:
//
//	gantry-drift -config drift.yaml [options]
//
// Options:
//
//	-config string     Run configuration file (required)
//	-out string        Output directory (overrides config)
//	-metrics string    Prometheus listen address (overrides config)
//	-log-level string  debug, info, warn or error (default "info")
//	-log-json          Emit JSON log lines
//	-dry-run           Validate config and sensor resolution, then exit
//
// Exit codes: 0 success, 1 configuration error, 2 connectivity failure,
// 3 heating timeout, 4 session abort.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gantry-drift/pkg/config"
	"gantry-drift/pkg/engine"
	gderr "gantry-drift/pkg/errors"
	"gantry-drift/pkg/log"
	"gantry-drift/pkg/metrics"
	"gantry-drift/pkg/moonraker"
	"gantry-drift/pkg/sensors"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "Run configuration file (required)")
	outDir := flag.String("out", "", "Output directory (overrides config)")
	metricsAddr := flag.String("metrics", "", "Prometheus listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Emit JSON log lines")
	dryRun := flag.Bool("dry-run", false, "Validate config and sensor resolution, then exit")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		return gderr.ExitConfig
	}

	logger := log.New("gantry-drift")
	log.ConfigureFromEnv(logger)
	logger.SetLevel(log.ParseLevel(*logLevel))
	if *logJSON {
		logger.SetFormat(log.FormatJSON)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("configuration error: %v", err)
		return gderr.ExitCode(err)
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	client, err := moonraker.New(cfg, logger.WithPrefix("moonraker"))
	if err != nil {
		logger.Error("unable to create control-plane client: %v", err)
		return gderr.ExitCode(err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn("received %s, aborting at next wait point", sig)
		cancel()
	}()

	if *dryRun {
		if _, err := sensors.Resolve(ctx, client, cfg, logger); err != nil {
			logger.Error("dry run failed: %v", err)
			return gderr.ExitCode(err)
		}
		logger.Info("dry run ok: configuration valid, all sensors resolved")
		return gderr.ExitOK
	}

	m := metrics.New()
	client.OnRetry = m.ObserveRetry
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			logger.Info("metrics listening on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics listener stopped: %v", err)
			}
		}()
	}

	eng := engine.New(cfg, client, logger.WithPrefix("engine"))
	eng.SetMetrics(m)

	err = eng.Run(ctx)
	if path := eng.OutputPath(); path != "" {
		logger.Info("session record: %s", path)
	}
	if err != nil {
		logger.Error("session failed: %v", err)
	}
	return gderr.ExitCode(err)
}
