// Package config loads the duration knobs that govern queue polling and
// TCP transport timeouts (§6) from a TOML file, under the `Halibut` table,
// overlaying them onto sensible defaults.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the §6 table of configurable limits.
type Config struct {
	PollingRequestQueueTimeout                    time.Duration
	PollingRequestMaximumMessageProcessingTimeout time.Duration
	RetryListeningSleepInterval                   time.Duration
	ConnectionErrorRetryTimeout                   time.Duration
	TcpClientSendTimeout                          time.Duration
	TcpClientReceiveTimeout                       time.Duration
	TcpClientPooledConnectionTimeout              time.Duration
	TcpClientHeartbeatSendTimeout                 time.Duration
	TcpClientHeartbeatReceiveTimeout               time.Duration
	TcpClientConnectTimeout                       time.Duration
	PollingQueueWaitTimeout                       time.Duration
}

// Defaults returns the §6 table's default values.
func Defaults() Config {
	return Config{
		PollingRequestQueueTimeout:                    2 * time.Minute,
		PollingRequestMaximumMessageProcessingTimeout: 10 * time.Minute,
		RetryListeningSleepInterval:                   1 * time.Second,
		ConnectionErrorRetryTimeout:                   5 * time.Minute,
		TcpClientSendTimeout:                          10 * time.Minute,
		TcpClientReceiveTimeout:                        10 * time.Minute,
		TcpClientPooledConnectionTimeout:              9 * time.Minute,
		TcpClientHeartbeatSendTimeout:                  60 * time.Second,
		TcpClientHeartbeatReceiveTimeout:               60 * time.Second,
		TcpClientConnectTimeout:                       60 * time.Second,
		PollingQueueWaitTimeout:                        30 * time.Second,
	}
}

// fileConfig is the raw TOML shape, string durations under the Halibut
// table, parsed with time.ParseDuration once decoded.
type fileConfig struct {
	Halibut struct {
		PollingRequestQueueTimeout                    string `toml:"PollingRequestQueueTimeout"`
		PollingRequestMaximumMessageProcessingTimeout string `toml:"PollingRequestMaximumMessageProcessingTimeout"`
		RetryListeningSleepInterval                   string `toml:"RetryListeningSleepInterval"`
		ConnectionErrorRetryTimeout                   string `toml:"ConnectionErrorRetryTimeout"`
		TcpClientSendTimeout                          string `toml:"TcpClientSendTimeout"`
		TcpClientReceiveTimeout                       string `toml:"TcpClientReceiveTimeout"`
		TcpClientPooledConnectionTimeout              string `toml:"TcpClientPooledConnectionTimeout"`
		TcpClientHeartbeatSendTimeout                 string `toml:"TcpClientHeartbeatSendTimeout"`
		TcpClientHeartbeatReceiveTimeout               string `toml:"TcpClientHeartbeatReceiveTimeout"`
		TcpClientConnectTimeout                       string `toml:"TcpClientConnectTimeout"`
		PollingQueueWaitTimeout                       string `toml:"PollingQueueWaitTimeout"`
	} `toml:"Halibut"`
}

// Load reads path and overlays any key it defines onto Defaults(). A key
// absent from the file keeps the default; a missing or unreadable file is an
// error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %q: %w", path, err)
	}

	overlay := func(defined bool, key string, dst *time.Duration, raw string) error {
		if !defined {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: Halibut.%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	fields := []struct {
		key string
		dst *time.Duration
		raw string
	}{
		{"PollingRequestQueueTimeout", &cfg.PollingRequestQueueTimeout, raw.Halibut.PollingRequestQueueTimeout},
		{"PollingRequestMaximumMessageProcessingTimeout", &cfg.PollingRequestMaximumMessageProcessingTimeout, raw.Halibut.PollingRequestMaximumMessageProcessingTimeout},
		{"RetryListeningSleepInterval", &cfg.RetryListeningSleepInterval, raw.Halibut.RetryListeningSleepInterval},
		{"ConnectionErrorRetryTimeout", &cfg.ConnectionErrorRetryTimeout, raw.Halibut.ConnectionErrorRetryTimeout},
		{"TcpClientSendTimeout", &cfg.TcpClientSendTimeout, raw.Halibut.TcpClientSendTimeout},
		{"TcpClientReceiveTimeout", &cfg.TcpClientReceiveTimeout, raw.Halibut.TcpClientReceiveTimeout},
		{"TcpClientPooledConnectionTimeout", &cfg.TcpClientPooledConnectionTimeout, raw.Halibut.TcpClientPooledConnectionTimeout},
		{"TcpClientHeartbeatSendTimeout", &cfg.TcpClientHeartbeatSendTimeout, raw.Halibut.TcpClientHeartbeatSendTimeout},
		{"TcpClientHeartbeatReceiveTimeout", &cfg.TcpClientHeartbeatReceiveTimeout, raw.Halibut.TcpClientHeartbeatReceiveTimeout},
		{"TcpClientConnectTimeout", &cfg.TcpClientConnectTimeout, raw.Halibut.TcpClientConnectTimeout},
		{"PollingQueueWaitTimeout", &cfg.PollingQueueWaitTimeout, raw.Halibut.PollingQueueWaitTimeout},
	}
	for _, f := range fields {
		if err := overlay(meta.IsDefined("Halibut", f.key), f.key, f.dst, f.raw); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}
