package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/socketrpc"
)

// cliConfig is the dashboard-relevant slice of the service config
// file; the two binaries share one file and one QUARRY_ env namespace.
type cliConfig struct {
	UpdateInterval time.Duration `mapstructure:"update-interval"`
	SocketPath     string        `mapstructure:"socket-path"`
}

func loadCLIConfig(configPath string) (cliConfig, error) {
	var cfg cliConfig

	v := viper.New()
	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("update-interval", model.DefaultUpdateInterval)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("finding home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "quarry", "config.yml")
	}
	v.SetConfigFile(configPath)

	err := v.ReadInConfig()
	switch {
	case err == nil:
	case errors.As(err, new(viper.ConfigFileNotFoundError)), os.IsNotExist(err):
		// No config file is fine; defaults and env apply.
	default:
		return cfg, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
