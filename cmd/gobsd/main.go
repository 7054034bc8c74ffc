package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/gobs/internal/config"
	"github.com/me/gobs/internal/httpapi"
	"github.com/me/gobs/internal/logging"
	"github.com/me/gobs/internal/notify"
	"github.com/me/gobs/internal/registry"
	"github.com/me/gobs/internal/rpc"
	"github.com/me/gobs/internal/scheduler"
	"github.com/me/gobs/internal/store"
	"github.com/me/gobs/internal/supervisor"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	flagAddr := flag.String("addr", "", "RPC listen address (overrides config)")
	flagHTTPAddr := flag.String("http-addr", "", "Status API listen address (overrides config, empty disables)")
	flagDB := flag.String("db", "", "Database path (default ~/.gobs/gobs.db)")
	flagNCPUs := flag.Int("ncpus", 0, "CPU capacity of this node (overrides config)")
	flagLogLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flagLogFormat := flag.String("log-format", "", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *flagAddr != "" {
		cfg.Addr = *flagAddr
	}
	if *flagHTTPAddr != "" {
		cfg.HTTPAddr = *flagHTTPAddr
	}
	if *flagDB != "" {
		cfg.DBPath = *flagDB
	}
	if *flagNCPUs > 0 {
		cfg.NCPUs = *flagNCPUs
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if *flagLogFormat != "" {
		cfg.LogFormat = *flagLogFormat
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Resolve database path.
	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".gobs")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dbPath = filepath.Join(dir, "gobs.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", dbPath)

	// Load jobs, recovering any left running by a previous daemon.
	reg, err := registry.New(context.Background(), st, cfg.GetNodename(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load registry: %v\n", err)
		os.Exit(1)
	}

	led := scheduler.NewLedger(func(node string) int {
		if node == cfg.GetNodename() {
			return cfg.GetNCPUs()
		}
		return 0
	})

	notifier := notify.Multi{
		notify.NewMailer(cfg, logger),
		notify.NewSlack(cfg, logger),
	}

	daemon := scheduler.NewDaemon(cfg, reg, led, supervisor.New(logger), notifier, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Dispatch any waiting jobs recovered from the store, then keep a
	// periodic pass going alongside the event-triggered ones.
	go daemon.Start(ctx)

	// Optional read-only status API.
	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: httpapi.New(daemon, logger),
		}
		go func() {
			logger.Info("status api starting", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status api failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	srv := rpc.NewServer(daemon, logger)
	if err := srv.Listen(cfg.Addr); err != nil {
		fmt.Fprintf(os.Stderr, "listen on %s: %v\n", cfg.Addr, err)
		os.Exit(1)
	}
	go func() {
		if err := srv.Serve(ctx); err != nil && err != context.Canceled {
			logger.Error("rpc server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("daemon ready", "node", cfg.GetNodename(), "ncpus", cfg.GetNCPUs(), "jobs", reg.Size())

	<-ctx.Done()
	logger.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		}
	}
	logger.Info("daemon stopped")
}
