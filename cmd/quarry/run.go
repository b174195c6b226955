package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/service"
	"github.com/quarrytools/quarry/internal/worker"
)

// commonFlags are shared by the one-shot scan and parse commands.
type commonFlags struct {
	configPath string
	statsPath  string
	pattern    string
	parserCmd  string
	workers    int
	timeout    time.Duration
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "config file (default is $HOME/.config/quarry/config.yml)")
	fs.StringVar(&f.statsPath, "stats", "", "directory containing simulation output (required)")
	fs.StringVar(&f.pattern, "pattern", "", "glob matching stats files under the stats directory")
	fs.StringVar(&f.parserCmd, "parser", "", "parser process command line, e.g. \"python3 parser.py\"")
	fs.IntVar(&f.workers, "workers", 0, "number of parser processes")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-file parse timeout")
}

// buildOneShot assembles a pool and coordinator from config plus flag
// overrides, for commands that run a single batch and exit.
func buildOneShot(f *commonFlags) (*service.Service, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if f.parserCmd != "" {
		cfg.ParserCommand = strings.Fields(f.parserCmd)
	}
	if f.workers > 0 {
		cfg.PoolSize = f.workers
	}
	if f.timeout > 0 {
		cfg.ParseTimeout = f.timeout
	}
	if f.pattern == "" {
		f.pattern = cfg.StatsPattern
	}

	if f.statsPath == "" {
		return nil, fmt.Errorf("-stats is required")
	}
	if len(cfg.ParserCommand) == 0 {
		return nil, fmt.Errorf("no parser command: set -parser or parser-command in the config file")
	}

	pool, err := worker.Default(worker.Config{
		Size:    cfg.PoolSize,
		Command: cfg.ParserCommand,
	})
	if err != nil {
		return nil, fmt.Errorf("starting parser pool: %w", err)
	}

	svc := service.New(pool, service.Config{
		TaskLimit:  cfg.PoolSize * 2,
		Timeout:    cfg.ParseTimeout,
		ScanSample: cfg.ScanSample,
	})
	return svc, nil
}

func runParseCommand(args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	var f commonFlags
	f.register(fs)
	varsPath := fs.String("vars", "", "variables file produced by quarry scan (required)")
	outDir := fs.String("out", ".", "directory for results.csv")
	if err := fs.Parse(args); err != nil {
		return err
	}

	vars, err := service.LoadVars(*varsPath)
	if err != nil {
		return err
	}

	svc, err := buildOneShot(&f)
	if err != nil {
		return err
	}
	defer worker.ShutdownDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	rec, _, err := svc.RunParse(ctx, model.ParseRequest{
		StatsPath: f.statsPath,
		Pattern:   f.pattern,
		Vars:      vars,
		OutputDir: *outDir,
	})
	if err != nil {
		return err
	}

	fmt.Printf("parsed %d/%d files in %s\n", rec.FilesParsed, rec.FilesTotal, time.Since(started).Round(time.Millisecond))
	for _, e := range rec.Errors {
		fmt.Fprintf(os.Stderr, "  failed: %s\n", e)
	}
	fmt.Printf("wrote %s\n", rec.CSVPath)
	return nil
}

func runScanCommand(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	var f commonFlags
	f.register(fs)
	sample := fs.Int("sample", 0, "number of files to inspect")
	outPath := fs.String("out", "", "write the discovered variables to this YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := buildOneShot(&f)
	if err != nil {
		return err
	}
	defer worker.ShutdownDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec, specs, err := svc.RunScan(ctx, model.ScanRequest{
		StatsPath: f.statsPath,
		Pattern:   f.pattern,
		Sample:    *sample,
	})
	if err != nil {
		return err
	}

	fmt.Printf("scanned %d files, found %d variables\n", rec.FilesParsed, len(specs))
	for _, sp := range specs {
		line := fmt.Sprintf("  %-12s %s", sp.Type, sp.Name)
		if len(sp.Entries) > 0 {
			line += fmt.Sprintf("  [%d entries]", len(sp.Entries))
		}
		fmt.Println(line)
	}

	if *outPath != "" {
		if err := service.SaveVars(*outPath, specs); err != nil {
			return err
		}
		log.Printf("quarry: wrote %d variables to %s", len(specs), *outPath)
		fmt.Printf("wrote %s\n", *outPath)
	}
	return nil
}
