package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()

	cfg := Config{
		Admin: AdminConfig{
			Token: "test-admin-token",
		},
		Spotify: SpotifyConfig{
			ClientID:     "test-client-id",
			ClientSecret: "test-client-secret",
			RefreshToken: "test-refresh-token",
			Market:       "JP",
		},
		Autoplay: AutoplayConfig{
			Sources: []SourceConfig{
				{
					Type:     "recommendation",
					Settings: map[string]any{"seed_count": 10},
				},
				{Type: "random"},
			},
		},
	}
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "missing spotify client id",
			mutate: func(c *Config) {
				c.Spotify.ClientID = ""
			},
			wantErr: true,
			errMsg:  "ClientID",
		},
		{
			name: "missing admin token",
			mutate: func(c *Config) {
				c.Admin.Token = ""
			},
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name: "invalid market length",
			mutate: func(c *Config) {
				c.Spotify.Market = "JAPAN"
			},
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name: "no autoplay sources",
			mutate: func(c *Config) {
				c.Autoplay.Sources = nil
			},
			wantErr: true,
			errMsg:  "Sources",
		},
		{
			name: "source without type",
			mutate: func(c *Config) {
				c.Autoplay.Sources = []SourceConfig{{Settings: map[string]any{}}}
			},
			wantErr: true,
			errMsg:  "Type",
		},
		{
			name: "gateway url without home channel",
			mutate: func(c *Config) {
				c.Gateway.URL = "wss://gateway.example.com"
				c.Gateway.HomeChannelID = ""
			},
			wantErr: true,
			errMsg:  "home_channel_id",
		},
		{
			name: "weight out of range",
			mutate: func(c *Config) {
				c.Autoplay.Weights.Recommendation = 1.5
			},
			wantErr: true,
			errMsg:  "Recommendation",
		},
		{
			name: "zero ready timeout",
			mutate: func(c *Config) {
				c.Connection.ReadyTimeoutSec = 0
			},
			wantErr: true,
			errMsg:  "ReadyTimeoutSec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
admin:
  token: test-admin-token
spotify:
  client_id: test-client-id
  client_secret: test-client-secret
  refresh_token: test-refresh-token
autoplay:
  sources:
    - type: random
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "US", cfg.Spotify.Market)
	assert.Equal(t, 3, cfg.Queue.RequesterLimit)
	assert.Equal(t, 60, cfg.Queue.RecentWindowMin)
	assert.Equal(t, 20, cfg.Connection.ReadyTimeoutSec)
	assert.Equal(t, 5, cfg.Connection.RecoveryWindowSec)
	assert.Equal(t, 5, cfg.Connection.ReconnectDelaySec)
	assert.Equal(t, 5, cfg.Connection.PresenceIntervalSec)
	assert.Equal(t, 10, cfg.Connection.PauseDebounceSec)
	assert.Equal(t, 5, cfg.Playback.MaxConsecutiveFailures)
	assert.True(t, cfg.Playback.AutoplayOn())
	assert.InDelta(t, 0.65, cfg.Autoplay.Weights.Recommendation, 0.001)
	assert.InDelta(t, 0.15, cfg.Autoplay.Weights.Playlist, 0.001)
	assert.InDelta(t, 0.10, cfg.Autoplay.Weights.Random, 0.001)
	assert.InDelta(t, 0.05, cfg.Autoplay.Weights.History, 0.001)
	assert.InDelta(t, 0.05, cfg.Autoplay.Weights.Popular, 0.001)
	assert.Equal(t, 6, cfg.Autoplay.Cooldown.HighHours)
	assert.Equal(t, 8, cfg.Autoplay.Cooldown.MediumHours)
	assert.Equal(t, 10, cfg.Autoplay.Cooldown.LowHours)
	assert.Equal(t, 5, cfg.Autoplay.Cooldown.DefaultHours)
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	path := writeConfigFile(t, `
admin:
  token: test-admin-token
spotify:
  client_id: test-client-id
  client_secret: test-client-secret
  refresh_token: test-refresh-token
queue:
  requester_limit: 5
  recent_window_min: 120
connection:
  pause_debounce_sec: 30
playback:
  autoplay_enabled: false
autoplay:
  weights:
    recommendation: 0.5
    playlist: 0.3
    random: 0.1
    history: 0.05
    popular: 0.05
  sources:
    - type: random
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.RequesterLimit)
	assert.Equal(t, 120, cfg.Queue.RecentWindowMin)
	assert.Equal(t, 30, cfg.Connection.PauseDebounceSec)
	assert.False(t, cfg.Playback.AutoplayOn(), "explicit false should survive defaults")
	assert.InDelta(t, 0.5, cfg.Autoplay.Weights.Recommendation, 0.001)
	assert.InDelta(t, 0.3, cfg.Autoplay.Weights.Playlist, 0.001)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "env-client-id")
	t.Setenv("ADMIN_TOKEN", "env-admin-token")
	t.Setenv("LASTFM_API_KEY", "env-lastfm-key")

	path := writeConfigFile(t, `
admin:
  token: file-admin-token
spotify:
  client_id: file-client-id
  client_secret: test-client-secret
  refresh_token: test-refresh-token
lastfm:
  api_key: file-lastfm-key
autoplay:
  sources:
    - type: random
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-client-id", cfg.Spotify.ClientID)
	assert.Equal(t, "env-admin-token", cfg.Admin.Token)
	assert.Equal(t, "env-lastfm-key", cfg.Lastfm.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_GetMessage(t *testing.T) {
	cfg := validConfig(t)

	tests := []struct {
		name string
		code string
		want string
	}{
		{"success", "success", cfg.Messages.Success},
		{"empty code means success", "", cfg.Messages.Success},
		{"track not found", "track_not_found", cfg.Messages.TrackNotFound},
		{"queue limit reached", "queue_limit_reached", cfg.Messages.QueueLimitReached},
		{"recently played", "recently_played", cfg.Messages.RecentlyPlayed},
		{"nothing playing", "nothing_playing", cfg.Messages.NothingPlaying},
		{"invalid position", "invalid_position", cfg.Messages.InvalidPosition},
		{"invalid volume", "invalid_volume", cfg.Messages.InvalidVolume},
		{"unknown code falls back", "some_new_code", cfg.Messages.DefaultError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.GetMessage(tt.code))
			assert.NotEmpty(t, cfg.GetMessage(tt.code))
		})
	}
}

func TestConfig_SourceSettings(t *testing.T) {
	cfg := validConfig(t)

	assert.True(t, cfg.HasSource("recommendation"))
	assert.True(t, cfg.HasSource("random"))
	assert.False(t, cfg.HasSource("popular"))

	settings := cfg.SourceSettings("recommendation")
	require.NotNil(t, settings)
	assert.Equal(t, 10, settings["seed_count"])

	assert.Nil(t, cfg.SourceSettings("popular"))
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
