package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default selects sensible local-development defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:   "127.0.0.1",
			Port:      8642,
			DBPath:    "./data",
			RateRPS:   50,
			RateBurst: 100,
		},
		Logging: LoggingConfig{Level: "info"},
		Sync: SyncConfig{
			HistoryLimit:      500,
			TypingQuiet:       Duration(time.Second),
			TypingExpiry:      Duration(5 * time.Second),
			HeartbeatInterval: Duration(30 * time.Second),
			PresenceFreshness: Duration(75 * time.Second),
			FailureThreshold:  3,
		},
		Broker: BrokerConfig{
			SubscriberCapacity: 1024,
			MaxPayloadBytes:    SizeBytes(1 << 20),
		},
		Retention: RetentionConfig{
			Enabled:     true,
			Cron:        "*/5 * * * *",
			TypingTTL:   Duration(time.Minute),
			PresenceTTL: Duration(5 * time.Minute),
		},
	}
}

// Load layers configuration: defaults, then the YAML file (when path is
// non-empty or ./convsync.yaml exists), then environment overrides. The
// returned string names the sources applied, for the startup banner.
func Load(path string) (Config, string, error) {
	cfg := Default()
	sources := []string{"defaults"}

	if path == "" {
		if _, err := os.Stat("convsync.yaml"); err == nil {
			path = "convsync.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, "", fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, "", fmt.Errorf("parse config %s: %w", path, err)
		}
		sources = append(sources, path)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, "", fmt.Errorf("env overrides: %w", err)
	}
	sources = append(sources, "env")

	return cfg, strings.Join(sources, ","), nil
}

// ListenAddr joins address and port for net listeners.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}
