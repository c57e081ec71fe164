// Package config provides YAML-based configuration loading with environment
// variable expansion, validation and relay-list hot reload.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"nostr-lanes/internal/nips"
	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/util"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Relays   []string          `yaml:"relays"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Cache    CacheConfig       `yaml:"cache"`
	Pipeline PipelineConfig    `yaml:"pipeline"`
	Nip05    Nip05Config       `yaml:"nip05"`
	Lanes    []LaneConfig      `yaml:"lanes"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := validation.Validate(c.Relays, validation.Required, validation.Each(validation.By(relayURL))); err != nil {
		return fmt.Errorf("relays: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Nip05.Validate(); err != nil {
		return fmt.Errorf("nip05: %w", err)
	}

	seen := make(map[string]bool, len(c.Lanes))
	for i := range c.Lanes {
		if err := c.Lanes[i].Validate(); err != nil {
			return fmt.Errorf("lanes[%d]: %w", i, err)
		}
		if seen[c.Lanes[i].Name] {
			return fmt.Errorf("lanes[%d]: duplicate name %q", i, c.Lanes[i].Name)
		}
		seen[c.Lanes[i].Name] = true
	}
	return nil
}

// RelayURLs returns the configured relays normalized and deduplicated
func (c *Config) RelayURLs() []string {
	return NormalizeRelays(c.Relays)
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// CacheConfig covers the downloaded resource directory and the persona cache.
// An empty RedisURL selects the in-memory persona cache.
type CacheConfig struct {
	Dir                string        `yaml:"dir"`
	MaxDownloadBytes   int64         `yaml:"max_download_bytes"`
	RedisURL           string        `yaml:"redis_url"`
	PersonaTTL         time.Duration `yaml:"persona_ttl"`
	PersonaNotFoundTTL time.Duration `yaml:"persona_not_found_ttl"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.MaxDownloadBytes, validation.Min(int64(0))),
		validation.Field(&c.PersonaTTL, validation.Required),
		validation.Field(&c.PersonaNotFoundTTL, validation.Min(time.Duration(0))),
	)
}

// PipelineConfig tunes the notification pipeline and its feedback loop.
type PipelineConfig struct {
	Concurrency             int           `yaml:"concurrency"`
	SubscriberBuffer        int           `yaml:"subscriber_buffer"`
	FeedbackCapacity        int           `yaml:"feedback_capacity"`
	MetadataRequestValidity time.Duration `yaml:"metadata_request_validity"`
	ReconnectDelay          time.Duration `yaml:"reconnect_delay"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.SubscriberBuffer, validation.Required, validation.Min(1)),
		validation.Field(&c.FeedbackCapacity, validation.Required, validation.Min(1)),
		validation.Field(&c.MetadataRequestValidity, validation.Required),
		validation.Field(&c.ReconnectDelay, validation.Required),
	)
}

// Nip05Config holds domain-identity verification settings. Verification age
// is kept in whole hours, so RevalidateAfter must be at least an hour.
type Nip05Config struct {
	RevalidateAfter time.Duration `yaml:"revalidate_after"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Validate validates the NIP-05 configuration.
func (c *Nip05Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RevalidateAfter, validation.Required, validation.Min(time.Hour)),
		validation.Field(&c.Timeout, validation.Required),
	)
}

// LaneConfig declares one conversation view. Central is an optional event id
// (hex or note1) pinned at the top of the lane.
type LaneConfig struct {
	Name    string `yaml:"name"`
	Central string `yaml:"central"`
}

// Validate validates the lane configuration.
func (c *LaneConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Central, validation.By(eventID)),
	)
}

// CentralID returns Central as hex, or "" when unset or invalid.
func (c *LaneConfig) CentralID() string {
	if c.Central == "" {
		return ""
	}
	id, err := nips.ParseEventID(c.Central)
	if err != nil {
		return ""
	}
	return id
}

// NewDefault returns the configuration used when no file overrides a value.
func NewDefault() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP:     HTTPConfig{Port: 8080},
		},
		SQLite: SQLiteConfig{Path: "data/lanes.db"},
		Cache: CacheConfig{
			Dir:                "data/resources",
			MaxDownloadBytes:   5 << 20,
			PersonaTTL:         time.Hour,
			PersonaNotFoundTTL: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Concurrency:             64,
			SubscriberBuffer:        256,
			FeedbackCapacity:        10,
			MetadataRequestValidity: 10 * time.Second,
			ReconnectDelay:          5 * time.Second,
		},
		Nip05: Nip05Config{
			RevalidateAfter: 12 * time.Hour,
			Timeout:         5 * time.Second,
		},
		Lanes: []LaneConfig{{Name: "global"}},
	}
}

// Load reads filename over the defaults, expanding ${VAR} references first.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// NormalizeRelays drops unusable relay URLs and duplicates, keeping order
func NormalizeRelays(relays []string) []string {
	normalized := make([]string, 0, len(relays))
	for _, r := range relays {
		normalized = append(normalized, nostr.NormalizeRelayURL(r))
	}
	return util.Dedupe(normalized)
}

func eventID(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := nips.ParseEventID(s); err != nil {
		return errors.New("must be a hex event id or note1 identifier")
	}
	return nil
}

func relayURL(value interface{}) error {
	s, _ := value.(string)
	if nostr.NormalizeRelayURL(s) == "" {
		return errors.New("must be a ws:// or wss:// relay URL")
	}
	return nil
}
