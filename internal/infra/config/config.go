// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Admin      AdminConfig    `yaml:"admin"`
	Spotify    SpotifyConfig  `yaml:"spotify"`
	Lastfm     LastfmConfig   `yaml:"lastfm"`
	Storage    StorageConfig  `yaml:"storage"`
	Gateway    GatewayConfig  `yaml:"gateway"`
	Connection ConnConfig     `yaml:"connection"`
	Queue      QueueConfig    `yaml:"queue"`
	Playback   PlaybackConfig `yaml:"playback"`
	Autoplay   AutoplayConfig `yaml:"autoplay"`
	Jobs       JobsConfig     `yaml:"jobs"`
	Stream     StreamConfig   `yaml:"stream"`
	Messages   MessagesConfig `yaml:"messages"`
}

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hook commands.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents operator authentication.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// SpotifyConfig represents Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RefreshToken string `yaml:"refresh_token" validate:"required"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// LastfmConfig represents the Last.fm API configuration. An empty key
// disables the recommendation source.
type LastfmConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url" default:"https://ws.audioscrobbler.com/2.0/"`
}

// StorageConfig represents the persistence layer configuration.
type StorageConfig struct {
	Path                 string `yaml:"path" default:"data/miu.db"`
	HistoryRetentionDays int    `yaml:"history_retention_days" default:"90" validate:"gte=1"`
}

// GatewayConfig represents the streaming gateway connection. An empty
// URL runs the server without a gateway connection.
type GatewayConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	Token         string `yaml:"token"`
	HomeChannelID string `yaml:"home_channel_id"`
}

// ConnConfig represents the connection supervisor timings.
type ConnConfig struct {
	ReadyTimeoutSec     int `yaml:"ready_timeout_sec" default:"20" validate:"gte=1"`
	RecoveryWindowSec   int `yaml:"recovery_window_sec" default:"5" validate:"gte=1"`
	ReconnectDelaySec   int `yaml:"reconnect_delay_sec" default:"5" validate:"gte=1"`
	PresenceIntervalSec int `yaml:"presence_interval_sec" default:"5" validate:"gte=1"`
	PauseDebounceSec    int `yaml:"pause_debounce_sec" default:"10" validate:"gte=0"`
}

// QueueConfig represents queue admission rules.
type QueueConfig struct {
	RequesterLimit  int `yaml:"requester_limit" default:"3" validate:"gte=1"`
	RecentWindowMin int `yaml:"recent_window_min" default:"60" validate:"gte=0"`
	AutoplayTarget  int `yaml:"autoplay_target" default:"5" validate:"gte=1"`
}

// PlaybackConfig represents playback behavior.
type PlaybackConfig struct {
	InitialVolume          float64 `yaml:"initial_volume" default:"1.0" validate:"gte=0,lte=1"`
	AutoplayEnabled        *bool   `yaml:"autoplay_enabled" default:"true"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures" default:"5" validate:"gte=1"`
	GapCorrectionMs        int     `yaml:"gap_correction_ms" default:"100" validate:"gte=0,lte=5000"`
}

// AutoplayOn reports whether autoplay starts enabled. A pointer keeps an
// explicit false in the file from being clobbered by the default.
func (p PlaybackConfig) AutoplayOn() bool {
	return p.AutoplayEnabled == nil || *p.AutoplayEnabled
}

// AutoplayConfig represents the autoplay selection policy.
type AutoplayConfig struct {
	CandidateCount int            `yaml:"candidate_count" default:"5" validate:"gte=1"`
	Weights        WeightsConfig  `yaml:"weights"`
	Cooldown       CooldownConfig `yaml:"cooldown"`
	Sources        []SourceConfig `yaml:"sources" validate:"required,min=1"`
}

// WeightsConfig represents the per-source selection weights. They should
// sum to 1.0; the selection normalizes over the configured mass either
// way and logs a warning on drift.
type WeightsConfig struct {
	Recommendation float64 `yaml:"recommendation" default:"0.65" validate:"gte=0,lte=1"`
	Playlist       float64 `yaml:"playlist" default:"0.15" validate:"gte=0,lte=1"`
	Random         float64 `yaml:"random" default:"0.10" validate:"gte=0,lte=1"`
	History        float64 `yaml:"history" default:"0.05" validate:"gte=0,lte=1"`
	Popular        float64 `yaml:"popular" default:"0.05" validate:"gte=0,lte=1"`
}

// CooldownConfig represents the tiered cooldown windows in hours.
type CooldownConfig struct {
	HighHours    int `yaml:"high_hours" default:"6" validate:"gte=1"`
	MediumHours  int `yaml:"medium_hours" default:"8" validate:"gte=1"`
	LowHours     int `yaml:"low_hours" default:"10" validate:"gte=1"`
	DefaultHours int `yaml:"default_hours" default:"5" validate:"gte=1"`
}

// SourceConfig represents a single autoplay source.
type SourceConfig struct {
	Type     string         `yaml:"type" validate:"required"`
	Settings map[string]any `yaml:"settings"`
}

// JobsConfig represents background job intervals.
type JobsConfig struct {
	CooldownSweepMin  int `yaml:"cooldown_sweep_min" default:"10" validate:"gte=1"`
	PoolRefreshMin    int `yaml:"pool_refresh_min" default:"30" validate:"gte=1"`
	HistoryPruneHours int `yaml:"history_prune_hours" default:"24" validate:"gte=1"`
}

// StreamConfig represents the event stream behavior.
type StreamConfig struct {
	HeartbeatSec int `yaml:"heartbeat_sec" default:"15" validate:"gte=1"`
}

// MessagesConfig represents operator-facing rejection messages.
type MessagesConfig struct {
	Success           string `yaml:"success" default:"OK"`
	DefaultError      string `yaml:"default_error" default:"Something went wrong, try again later"`
	TrackNotFound     string `yaml:"track_not_found" default:"Could not find that track"`
	QueueLimitReached string `yaml:"queue_limit_reached" default:"You already have the maximum number of tracks queued"`
	RecentlyPlayed    string `yaml:"recently_played" default:"That track was played recently, try again later"`
	NothingPlaying    string `yaml:"nothing_playing" default:"Nothing is playing right now"`
	InvalidPosition   string `yaml:"invalid_position" default:"No queued track at that position"`
	InvalidVolume     string `yaml:"invalid_volume" default:"Volume must be between 0 and 1"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.Lastfm.APIKey = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("GATEWAY_TOKEN"); v != "" {
		c.Gateway.Token = v
	}
	if v := os.Getenv("MIU_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
}

// GetMessage returns the operator-facing message for a rejection code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "", "success":
		return c.Messages.Success
	case "track_not_found":
		return c.Messages.TrackNotFound
	case "queue_limit_reached":
		return c.Messages.QueueLimitReached
	case "recently_played":
		return c.Messages.RecentlyPlayed
	case "nothing_playing":
		return c.Messages.NothingPlaying
	case "invalid_position":
		return c.Messages.InvalidPosition
	case "invalid_volume":
		return c.Messages.InvalidVolume
	default:
		return c.Messages.DefaultError
	}
}

// SourceSettings returns the settings map for the named source type, nil
// if the source is not configured.
func (c *Config) SourceSettings(sourceType string) map[string]any {
	for _, s := range c.Autoplay.Sources {
		if s.Type == sourceType {
			return s.Settings
		}
	}
	return nil
}

// HasSource reports whether the named source type is configured.
func (c *Config) HasSource(sourceType string) bool {
	for _, s := range c.Autoplay.Sources {
		if s.Type == sourceType {
			return true
		}
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Gateway.URL != "" && c.Gateway.HomeChannelID == "" {
		return errors.New("gateway.home_channel_id is required when gateway.url is set")
	}

	return nil
}
