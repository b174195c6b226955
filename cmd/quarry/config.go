package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/socketrpc"
)

const (
	defaultBindHost     = "127.0.0.1"
	defaultAPIPort      = 3000
	defaultQueryTimeout = 30 * time.Second
	defaultRunRetention = 30 // days, 0 = disabled
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	PoolSize       int           `mapstructure:"pool-size"`
	ParserCommand  []string      `mapstructure:"parser-command"`
	ParseTimeout   time.Duration `mapstructure:"parse-timeout"`
	ScanSample     int           `mapstructure:"scan-sample"`
	StatsPattern   string        `mapstructure:"stats-pattern"`
	UpdateInterval time.Duration `mapstructure:"update-interval"`

	RegistryEnabled bool          `mapstructure:"registry-enabled"`
	DBPath          string        `mapstructure:"db-path"`
	QueryTimeout    time.Duration `mapstructure:"query-timeout"`
	RunRetention    int           `mapstructure:"run-retention"`
	RunlogPath      string        `mapstructure:"runlog-path"`

	APIEnabled bool   `mapstructure:"api-enabled"`
	APIPort    int    `mapstructure:"api-port"`
	APIAddr    string `mapstructure:"api-addr"`
	SocketPath string `mapstructure:"socket-path"`

	MetricsEnabled bool `mapstructure:"metrics-enabled"`

	ArchiveEnabled        bool   `mapstructure:"archive-enabled"`
	ArchiveLocalDir       string `mapstructure:"archive-local-dir"`
	ArchiveKeepLast       int    `mapstructure:"archive-keep-last"`
	ArchiveBucketURL      string `mapstructure:"archive-bucket-url"`
	ArchiveS3Endpoint     string `mapstructure:"archive-s3-endpoint"`
	ArchiveS3Region       string `mapstructure:"archive-s3-region"`
	ArchiveS3AccessKey    string `mapstructure:"archive-s3-access-key"`
	ArchiveS3SecretKey    string `mapstructure:"archive-s3-secret-key"`
	ArchiveS3SessionToken string `mapstructure:"archive-s3-session-token"`
	ArchiveS3UseSSL       bool   `mapstructure:"archive-s3-use-ssl"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	defaultDBPath := filepath.Join(home, ".local", "share", "quarry", "quarry.duckdb")
	defaultRunlogPath := filepath.Join(home, ".local", "state", "quarry", "runs.jsonl")
	defaultArchiveDir := filepath.Join(home, ".local", "share", "quarry", "archive")

	v := viper.New()
	v.SetEnvPrefix("QUARRY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("pool-size", model.DefaultPoolSize)
	v.SetDefault("parser-command", []string{})
	v.SetDefault("parse-timeout", model.DefaultParseTimeout)
	v.SetDefault("scan-sample", model.DefaultScanSample)
	v.SetDefault("stats-pattern", model.DefaultStatsPattern)
	v.SetDefault("update-interval", model.DefaultUpdateInterval)
	v.SetDefault("registry-enabled", true)
	v.SetDefault("db-path", defaultDBPath)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("run-retention", defaultRunRetention)
	v.SetDefault("runlog-path", defaultRunlogPath)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("metrics-enabled", true)
	v.SetDefault("archive-enabled", false)
	v.SetDefault("archive-local-dir", defaultArchiveDir)
	v.SetDefault("archive-keep-last", 24)
	v.SetDefault("archive-s3-use-ssl", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "quarry", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if cfg.PoolSize < 1 {
		return cfg, fmt.Errorf("invalid pool-size: %d", cfg.PoolSize)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}

	// Expand ~ in filesystem paths
	for _, p := range []*string{&cfg.DBPath, &cfg.RunlogPath, &cfg.ArchiveLocalDir} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}
