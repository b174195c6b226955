package main

import (
	"fmt"
	"os"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: quarry <command> [flags]

Commands:
  scan     discover variables in a sample of stats files
  parse    parse a directory of stats files into results.csv
  serve    run the batch service (HTTP API, unix socket, metrics)
  version  print version information

Run "quarry <command> -h" for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "scan":
		err = runScanCommand(os.Args[2:])
	case "parse":
		err = runParseCommand(os.Args[2:])
	case "serve":
		err = runServeCommand(os.Args[2:])
	case "version":
		fmt.Printf("Quarry - Simulation Stats Batch Parser\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
