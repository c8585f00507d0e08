package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/migadu/milterfrom/config"
	"github.com/migadu/milterfrom/logger"
	"github.com/migadu/milterfrom/pkg/errors"
	"github.com/migadu/milterfrom/pkg/metrics"
	"github.com/migadu/milterfrom/pkg/pidfile"
	"github.com/migadu/milterfrom/server/httpapi"
	"github.com/migadu/milterfrom/server/milter"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = "usage: milterfrom -s socket [-d] [-p pidfile] [-config file]"

const shutdownTimeout = 10 * time.Second

func main() {
	errorHandler := errors.NewErrorHandler()
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "", "Path to TOML configuration file")
	socket := flag.String("s", "", "Milter socket: unix:/path, inet:port@host, inet6:port@host or a path")
	pidPath := flag.String("p", "", "Write the process id to this file")
	daemonize := flag.Bool("d", false, "Run in the background")
	flag.Parse()

	if *showVersion {
		fmt.Printf("milterfrom version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	loadConfig(*configPath, &cfg, errorHandler)

	// Command line flags win over the configuration file.
	if *socket != "" {
		cfg.Milter.Socket = *socket
	}
	if *pidPath != "" {
		cfg.Milter.PidFile = *pidPath
	}
	if *daemonize {
		cfg.Milter.Daemonize = true
	}

	if cfg.Milter.Socket == "" {
		errorHandler.UsageError(fmt.Errorf("missing required -s argument"), usage)
		os.Exit(errorHandler.WaitForExit())
	}
	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("configuration", err)
		os.Exit(errorHandler.WaitForExit())
	}

	if cfg.Milter.Daemonize {
		if cfg.Logging.Output == "stderr" || cfg.Logging.Output == "stdout" {
			// Standard streams point to /dev/null once detached.
			cfg.Logging.Output = "syslog"
		}
		parent, err := detach()
		if err != nil {
			errorHandler.FatalError("daemonize", err)
			os.Exit(errorHandler.WaitForExit())
		}
		if parent {
			os.Exit(0)
		}
	}

	os.Exit(run(cfg, errorHandler))
}

// loadConfig reads the configuration file if one was given.
func loadConfig(configPath string, cfg *config.Config, errorHandler *errors.ErrorHandler) {
	if configPath == "" {
		return
	}
	if err := config.LoadConfigFromFile(configPath, cfg); err != nil {
		errorHandler.ConfigError(configPath, err)
		os.Exit(errorHandler.WaitForExit())
	}
}

// run starts the services and blocks until a signal or a fatal error.
func run(cfg config.Config, errorHandler *errors.ErrorHandler) int {
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "milterfrom: warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info("milterfrom starting", "version", version, "commit", commit, "built", date)

	if cfg.Milter.PidFile != "" {
		pf, err := pidfile.Create(cfg.Milter.PidFile)
		if err != nil {
			errorHandler.FatalError("create pid file", err)
			return errorHandler.WaitForExit()
		}
		defer func() {
			if err := pf.Remove(); err != nil {
				logger.Warn("Failed to remove pid file", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	options, err := milter.OptionsFromConfig(&cfg)
	if err != nil {
		errorHandler.ValidationError("milter", err)
		return errorHandler.WaitForExit()
	}
	srv, err := milter.New(ctx, options)
	if err != nil {
		errorHandler.FatalError("create milter server", err)
		return errorHandler.WaitForExit()
	}
	if err := srv.Listen(); err != nil {
		errorHandler.FatalError("listen", err)
		return errorHandler.WaitForExit()
	}

	collector := metrics.NewCollector(srv.ConnectionLimiter(), srv.TransactionLimiter(), 0)
	go collector.Start(ctx)
	defer collector.Stop()

	errChan := make(chan error, 2)

	if cfg.Metrics.Enabled {
		go httpapi.Start(ctx, httpapi.ServerOptions{
			Addr:        cfg.Metrics.Addr,
			MetricsPath: cfg.Metrics.Path,
			Limiters: map[string]metrics.StatsProvider{
				"connections":  srv.ConnectionLimiter(),
				"transactions": srv.TransactionLimiter(),
			},
		}, errChan)
	}

	served := make(chan struct{})
	go func() {
		srv.Start(errChan)
		close(served)
	}()

	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Milter shutdown incomplete, closing connections", "error", err)
		}
		srv.Close()
		<-served
		logger.Info("milterfrom stopped")
		return 0
	case err := <-errChan:
		srv.Close()
		errorHandler.FatalError("server operation", err)
		return errorHandler.WaitForExit()
	}
}
