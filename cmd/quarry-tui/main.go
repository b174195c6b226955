package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quarrytools/quarry/internal/socketrpc"
	"github.com/quarrytools/quarry/internal/tui"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

type cliFlags struct {
	configPath  string
	socketPath  string
	interval    time.Duration
	showVersion bool
}

func main() {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "config file (default is $HOME/.config/quarry/config.yml)")
	flag.StringVar(&f.socketPath, "socket", "", "override socket path to connect to the quarry service")
	flag.DurationVar(&f.interval, "interval", 0, "override dashboard refresh interval")
	flag.BoolVar(&f.showVersion, "version", false, "print version information")
	flag.Parse()

	if f.showVersion {
		fmt.Printf("Quarry - Dashboard Client\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(f cliFlags) error {
	cfg, err := loadCLIConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if f.socketPath != "" {
		cfg.SocketPath = f.socketPath
	}
	if f.interval > 0 {
		cfg.UpdateInterval = f.interval
	}

	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to quarry service at %s: %w\nIs the quarry service running? Start it with: quarry serve", cfg.SocketPath, err)
	}
	defer client.Close()

	program := tea.NewProgram(tui.NewModel(client, cfg.UpdateInterval), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return fmt.Errorf("dashboard requires a real terminal")
		}
		return fmt.Errorf("error running dashboard: %w", err)
	}
	return nil
}
