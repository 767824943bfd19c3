// Package config loads the service configuration: an optional YAML or JSON
// file, a .env file, then environment overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Database DatabaseConfig `json:"database"`
	Channel  ChannelConfig  `json:"channel"`
	Queue    QueueConfig    `json:"queue"`
	Dispatch DispatchConfig `json:"dispatch"`
	Reminder ReminderConfig `json:"reminder"`
	History  HistoryConfig  `json:"history"`
	Log      LogConfig      `json:"log"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `json:"driver"`
	URL    string `json:"url"`
}

type ChannelConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
	Timeout string `json:"timeout"`
}

type QueueConfig struct {
	// Driver is "memory" or "amqp".
	Driver string `json:"driver"`
	URL    string `json:"url"`
}

type DispatchConfig struct {
	TickSchedule           string `json:"tick_schedule"`
	BatchSize              int    `json:"batch_size"`
	Lease                  string `json:"lease"`
	SendDelay              string `json:"send_delay"`
	MaxContactsPerTick     int    `json:"max_contacts_per_tick"`
	MaxConcurrentInstances int    `json:"max_concurrent_instances"`
}

type ReminderConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone"`
}

type HistoryConfig struct {
	// SQLitePath, when set, journals history to a local SQLite file instead
	// of the main datastore.
	SQLitePath string `json:"sqlite_path"`
}

type LogConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Addr: ":8080"},
		Database: DatabaseConfig{Driver: "postgres"},
		Channel:  ChannelConfig{Timeout: "15s"},
		Queue:    QueueConfig{Driver: "memory"},
		Dispatch: DispatchConfig{
			TickSchedule:           "@every 30s",
			BatchSize:              50,
			Lease:                  "5m",
			SendDelay:              "500ms",
			MaxContactsPerTick:     20,
			MaxConcurrentInstances: 4,
		},
		Reminder: ReminderConfig{Enabled: true, Schedule: "5 0 * * *", Timezone: "Local"},
		Log:      LogConfig{Level: "info", Console: true},
	}
}

// Load reads path (skipped when empty), then .env, then the environment,
// and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if cfg, err = Parse(path, b); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML or JSON document (by file extension) over the
// defaults. Unknown fields are rejected.
func Parse(path string, data []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides the file values with the deployment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("HTTP_ADDR", &c.HTTP.Addr)
	set("DATABASE_URL", &c.Database.URL)
	set("DATABASE_DRIVER", &c.Database.Driver)
	set("CHANNEL_BASE_URL", &c.Channel.BaseURL)
	set("CHANNEL_TOKEN", &c.Channel.Token)
	set("LOG_LEVEL", &c.Log.Level)
	set("TICK_SCHEDULE", &c.Dispatch.TickSchedule)
	if v, ok := lookup("AMQP_URL"); ok && strings.TrimSpace(v) != "" {
		c.Queue.URL = strings.TrimSpace(v)
		c.Queue.Driver = "amqp"
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	switch c.Queue.Driver {
	case "memory":
	case "amqp":
		if c.Queue.URL == "" {
			errs = append(errs, errors.New("queue.url is required for the amqp driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.driver: unknown driver %q", c.Queue.Driver))
	}
	if _, err := ParseDurationField("channel.timeout", c.Channel.Timeout); err != nil {
		errs = append(errs, err)
	}
	if err := c.Dispatch.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Reminder.Enabled {
		if _, err := cron.ParseStandard(c.Reminder.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("reminder.schedule: %w", err))
		}
		if _, err := c.Reminder.Location(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d DispatchConfig) validate() error {
	var errs []error
	if _, err := cron.ParseStandard(d.TickSchedule); err != nil {
		errs = append(errs, fmt.Errorf("dispatch.tick_schedule: %w", err))
	}
	if _, err := ParseDurationField("dispatch.lease", d.Lease); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("dispatch.send_delay", d.SendDelay); err != nil {
		errs = append(errs, err)
	}
	if d.BatchSize < 0 || d.MaxContactsPerTick < 0 || d.MaxConcurrentInstances < 0 {
		errs = append(errs, errors.New("dispatch: counts must be >= 0"))
	}
	return errors.Join(errs...)
}

// LeaseDuration and SendDelayDuration return zero for unset values; the
// engine applies its own defaults.
func (d DispatchConfig) LeaseDuration() time.Duration {
	v, _ := ParseDurationField("dispatch.lease", d.Lease)
	return v
}

func (d DispatchConfig) SendDelayDuration() time.Duration {
	v, _ := ParseDurationOrDefault("dispatch.send_delay", d.SendDelay, 500*time.Millisecond)
	return v
}

func (c ChannelConfig) TimeoutDuration() time.Duration {
	v, _ := ParseDurationOrDefault("channel.timeout", c.Timeout, 15*time.Second)
	return v
}

func (r ReminderConfig) Location() (*time.Location, error) {
	if r.Timezone == "" || strings.EqualFold(r.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("reminder.timezone: %w", err)
	}
	return loc, nil
}
