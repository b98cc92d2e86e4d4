// Copyright (C) 2022 K2 Cyber Security Inc.

// Package config reads the run-time settings of the hooking engine from
// the environment and an optional configuration file. Compile-time bounds
// are constants of this package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/k2io/lochook/internal/plog"
	"github.com/k2io/lochook/internal/status"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Compile-time bounds.
const (
	// MaxHookCount is the number of hooks that can be installed at once.
	MaxHookCount = 1024
	// MaxThreadCount is the number of threads the barrier tracks at once.
	MaxThreadCount = 128
)

type Config struct {
	*viper.Viper
}

const (
	configEnvPrefix    = `lochook`
	configFileBasename = `lochook`
)

const (
	configEnvKeyConfigFile = `config_file`

	configKeyLogLevel            = `log_level`
	configKeyRemovalTimeout      = `removal_timeout`
	configKeyRemovalPollInterval = `removal_poll_interval`
	configKeyAddressing          = `addressing`
	configKeyIdentity            = `identity`
)

// User configuration's default values.
const (
	configDefaultLogLevel            = `error`
	configDefaultRemovalTimeout      = time.Second
	configDefaultRemovalPollInterval = 25 * time.Millisecond
	configDefaultAddressing          = `auto`
	configDefaultIdentity            = IdentityThread
)

// Identity values.
const (
	// IdentityThread keys the barrier and ACLs on OS thread ids.
	IdentityThread = `thread`
	// IdentityProcess keys them on process ids.
	IdentityProcess = `process`
)

// New reads the configuration. The file `lochook.{yaml,json,toml}` is
// searched in the current directory then next to the executable unless the
// LOCHOOK_CONFIG_FILE environment variable names it. Environment variables
// LOCHOOK_<KEY> override file values.
func New(logger *plog.Logger) (*Config, error) {
	manager := viper.New()
	manager.SetEnvPrefix(configEnvPrefix)
	manager.AutomaticEnv()
	manager.SetConfigName(configFileBasename)

	parameters := []struct {
		key          string
		defaultValue interface{}
	}{
		{key: configKeyLogLevel, defaultValue: configDefaultLogLevel},
		{key: configKeyRemovalTimeout, defaultValue: configDefaultRemovalTimeout},
		{key: configKeyRemovalPollInterval, defaultValue: configDefaultRemovalPollInterval},
		{key: configKeyAddressing, defaultValue: configDefaultAddressing},
		{key: configKeyIdentity, defaultValue: configDefaultIdentity},
	}
	for _, p := range parameters {
		manager.SetDefault(p.key, p.defaultValue)
	}

	configFileEnvVar := strings.ToUpper(configEnvPrefix + "_" + configEnvKeyConfigFile)
	if configFile := os.Getenv(configFileEnvVar); configFile != "" {
		manager.SetConfigFile(configFile)
		logger.Infof("config: configuration file enforced by the environment variable `%s` to `%s`", configFileEnvVar, configFile)
	} else {
		manager.AddConfigPath(`.`)
		if exec, err := os.Executable(); err != nil {
			logger.Error(errors.Wrap(err, "config: could not read the executable file path"))
		} else {
			manager.AddConfigPath(filepath.Dir(exec))
		}
	}
	if readErr, fileUsed := manager.ReadInConfig(), manager.ConfigFileUsed(); readErr != nil && fileUsed != "" {
		logger.Error(errors.Wrap(readErr, fmt.Sprintf("config: could not read the configuration file `%s`: falling back to environment variables", fileUsed)))
	} else if fileUsed != "" {
		logger.Infof("config: reading configuration settings from file `%s`", fileUsed)
	}

	cfg := &Config{Viper: manager}
	for _, p := range parameters {
		logger.Debugf("config: settings: %s = %q", p.key, cfg.GetString(p.key))
	}
	if err := cfg.health(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) health() error {
	if c.RemovalTimeout() < 0 {
		return status.Throwf(status.InvalidParameter, "config: %s must not be negative", configKeyRemovalTimeout)
	}
	if c.RemovalPollInterval() <= 0 {
		return status.Throwf(status.InvalidParameter, "config: %s must be positive", configKeyRemovalPollInterval)
	}
	switch c.Addressing() {
	case "auto", "relative32", "near64", "absolute64":
	default:
		return status.Throwf(status.InvalidParameter, "config: unknown %s `%s`", configKeyAddressing, c.Addressing())
	}
	switch c.Identity() {
	case IdentityThread, IdentityProcess:
	default:
		return status.Throwf(status.InvalidParameter, "config: unknown %s `%s`", configKeyIdentity, c.Identity())
	}
	return nil
}

// LogLevel returns the log level, `error` by default.
func (c *Config) LogLevel() plog.LogLevel {
	return plog.ParseLogLevel(c.GetString(configKeyLogLevel))
}

// RemovalTimeout bounds the total time one WaitForPendingRemovals call
// waits for hooks to stop executing.
func (c *Config) RemovalTimeout() time.Duration {
	return c.GetDuration(configKeyRemovalTimeout)
}

// RemovalPollInterval is the period of the execution counter polling.
func (c *Config) RemovalPollInterval() time.Duration {
	return c.GetDuration(configKeyRemovalPollInterval)
}

// Addressing returns the addressing mode name: auto, relative32, near64 or
// absolute64.
func (c *Config) Addressing() string {
	return strings.ToLower(strings.TrimSpace(c.GetString(configKeyAddressing)))
}

// Identity returns what the barrier and the ACLs identify callers by.
func (c *Config) Identity() string {
	return strings.ToLower(strings.TrimSpace(c.GetString(configKeyIdentity)))
}
