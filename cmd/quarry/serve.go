package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/quarrytools/quarry/internal/archive"
	"github.com/quarrytools/quarry/internal/dataset"
	"github.com/quarrytools/quarry/internal/httpserver"
	"github.com/quarrytools/quarry/internal/metrics"
	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/runlog"
	"github.com/quarrytools/quarry/internal/service"
	"github.com/quarrytools/quarry/internal/socketrpc"
	"github.com/quarrytools/quarry/internal/worker"
)

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default is $HOME/.config/quarry/config.yml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.ParserCommand) == 0 {
		return fmt.Errorf("no parser command: set parser-command in the config file or QUARRY_PARSER_COMMAND")
	}

	return runServer(cfg)
}

// runServer starts the headless batch service with the HTTP API,
// socket RPC, and run registry.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	var collectors *metrics.Collectors
	var observer worker.Observer
	if cfg.MetricsEnabled {
		collectors = metrics.New()
		observer = collectors
	}

	pool, err := worker.NewPool(worker.Config{
		Size:     cfg.PoolSize,
		Command:  cfg.ParserCommand,
		Observer: observer,
	})
	if err != nil {
		return fmt.Errorf("failed to start parser pool: %w", err)
	}
	defer pool.Shutdown()

	svc := service.New(pool, service.Config{
		TaskLimit:  cfg.PoolSize * 2,
		Timeout:    cfg.ParseTimeout,
		ScanSample: cfg.ScanSample,
	})

	// Run registry: DuckDB store when enabled, with retention cleanup.
	var store *dataset.Store
	if cfg.RegistryEnabled {
		store, err = dataset.NewStore(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize run registry: %w", err)
		}
		defer store.Close()
		svc.AddSink(store)

		cleaner := dataset.NewRetentionCleaner(store, dataset.RetentionConfig{
			RetentionDays: cfg.RunRetention,
		})
		if cleaner != nil {
			defer cleaner.Stop()
		}
	}

	// Append-only run history. Always on, including when the registry
	// handles queries.
	runLog, err := runlog.Open(cfg.RunlogPath)
	if err != nil {
		return fmt.Errorf("failed to open runlog: %w", err)
	}
	defer runLog.Close()
	svc.AddSink(runLog)

	archiver, err := archive.NewManager(archive.Config{
		Enabled:        cfg.ArchiveEnabled,
		LocalDir:       cfg.ArchiveLocalDir,
		KeepLast:       cfg.ArchiveKeepLast,
		BucketURL:      cfg.ArchiveBucketURL,
		S3Endpoint:     cfg.ArchiveS3Endpoint,
		S3Region:       cfg.ArchiveS3Region,
		S3AccessKey:    cfg.ArchiveS3AccessKey,
		S3SecretKey:    cfg.ArchiveS3SecretKey,
		S3SessionToken: cfg.ArchiveS3SessionToken,
		S3UseSSL:       cfg.ArchiveS3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize archive: %w", err)
	}
	if archiver != nil {
		svc.AddSink(archiver)
	}

	var runs model.RunLister = runLog
	var schema model.SchemaQuerier
	if store != nil {
		runs = store
		schema = store
	}

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		deps := httpserver.Deps{
			Service: svc,
			Pool:    pool,
			Runs:    runs,
			Schema:  schema,
		}
		if collectors != nil {
			deps.Metrics = collectors.Handler()
		}
		apiServer := httpserver.NewServer(cfg.APIAddr, deps)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Start socket RPC server for dashboard IPC
	sockServer := socketrpc.NewServer(cfg.SocketPath, socketrpc.Backend{
		Pool:   pool,
		Batch:  svc,
		Runs:   runs,
		Schema: schema,
	})
	if err := sockServer.Start(); err != nil {
		log.Printf("Warning: failed to start socket server: %v", err)
	} else {
		defer sockServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now — not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	printStartupBanner(cfg)

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Feed batch progress into the metrics gauges.
	if collectors != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.UpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					st := svc.Status()
					collectors.BatchProgress(st.Current, st.Total)
				}
			}
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("serve: errgroup exited with error: %v", err)
	}

	cancel()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "quarry")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "quarry.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗ ╦ ╦╔═╗╦═╗╦═╗╦ ╦
    ║═╬╗║ ║╠═╣╠╦╝╠╦╝╚╦╝
    ╚═╝╚╚═╝╩ ╩╩╚═╩╚═ ╩`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Gateway
	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")

	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	if cfg.MetricsEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Metrics        %s", check, cyan.Render("/metrics")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Metrics        %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	// Parsing
	lines = append(lines, bold.Render("    Parsing"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Workers        %s", check, dim.Render(fmt.Sprintf("%d x %s", cfg.PoolSize, strings.Join(cfg.ParserCommand, " ")))))
	lines = append(lines, "")

	// Storage
	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")
	if cfg.RegistryEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Run Registry   %s", check, dim.Render(shortenPath(cfg.DBPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Run Registry   %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Runlog         %s", check, dim.Render(shortenPath(cfg.RunlogPath))))
	if cfg.ArchiveEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Archive        %s", check, dim.Render(shortenPath(cfg.ArchiveLocalDir))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Archive        %s", dot, dim.Render("disabled")))
	}

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
