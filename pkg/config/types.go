package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct. YAML provides the file form;
// env tags provide overrides on top of whatever the file set.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sync      SyncConfig      `yaml:"sync"`
	Broker    BrokerConfig    `yaml:"broker"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds the HTTP listener and storage path.
type ServerConfig struct {
	Address string `yaml:"address" env:"CONVSYNC_ADDRESS"`
	Port    int    `yaml:"port" env:"CONVSYNC_PORT"`
	DBPath  string `yaml:"db_path" env:"CONVSYNC_DB_PATH"`
	// RateRPS/RateBurst bound per-client request rates on the API.
	RateRPS   float64 `yaml:"rate_rps" env:"CONVSYNC_RATE_RPS"`
	RateBurst int     `yaml:"rate_burst" env:"CONVSYNC_RATE_BURST"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"CONVSYNC_LOG_LEVEL"`
}

// SyncConfig tunes the conversation synchronization core.
type SyncConfig struct {
	HistoryLimit      int      `yaml:"history_limit" env:"CONVSYNC_HISTORY_LIMIT"`
	TypingQuiet       Duration `yaml:"typing_quiet" env:"CONVSYNC_TYPING_QUIET"`
	TypingExpiry      Duration `yaml:"typing_expiry" env:"CONVSYNC_TYPING_EXPIRY"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval" env:"CONVSYNC_HEARTBEAT_INTERVAL"`
	PresenceFreshness Duration `yaml:"presence_freshness" env:"CONVSYNC_PRESENCE_FRESHNESS"`
	FailureThreshold  int      `yaml:"failure_threshold" env:"CONVSYNC_FAILURE_THRESHOLD"`
}

// BrokerConfig tunes the in-process pub/sub transport.
type BrokerConfig struct {
	SubscriberCapacity int       `yaml:"subscriber_capacity" env:"CONVSYNC_BROKER_CAPACITY"`
	MaxPayloadBytes    SizeBytes `yaml:"max_payload_bytes" env:"CONVSYNC_BROKER_MAX_PAYLOAD"`
}

// RetentionConfig holds configuration for the periodic sweep runner.
type RetentionConfig struct {
	Enabled     bool     `yaml:"enabled" env:"CONVSYNC_RETENTION_ENABLED"`
	Cron        string   `yaml:"cron" env:"CONVSYNC_RETENTION_CRON"`
	TypingTTL   Duration `yaml:"typing_ttl" env:"CONVSYNC_RETENTION_TYPING_TTL"`
	PresenceTTL Duration `yaml:"presence_ttl" env:"CONVSYNC_RETENTION_PRESENCE_TTL"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	return s.parse(node.Value)
}

// UnmarshalText lets env overrides use the same human-friendly forms.
func (s *SizeBytes) UnmarshalText(b []byte) error { return s.parse(string(b)) }

func (s *SizeBytes) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", raw)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration wraps time.Duration supporting parsing from strings like
// "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	return d.parse(node.Value)
}

// UnmarshalText lets env overrides use the same duration forms.
func (d *Duration) UnmarshalText(b []byte) error { return d.parse(string(b)) }

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", raw)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
