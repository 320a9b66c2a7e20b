// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/gachaboo/miu/internal/api/rest"
	"github.com/gachaboo/miu/internal/app/autoplay"
	"github.com/gachaboo/miu/internal/app/connection"
	"github.com/gachaboo/miu/internal/app/notification"
	"github.com/gachaboo/miu/internal/app/orchestrator"
	"github.com/gachaboo/miu/internal/app/player"
	"github.com/gachaboo/miu/internal/app/queue"
	"github.com/gachaboo/miu/internal/domain/track"
	"github.com/gachaboo/miu/internal/infra/config"
	"github.com/gachaboo/miu/internal/infra/engine"
	"github.com/gachaboo/miu/internal/infra/gateway"
	"github.com/gachaboo/miu/internal/infra/lastfm"
	"github.com/gachaboo/miu/internal/infra/logger"
	"github.com/gachaboo/miu/internal/infra/musicsource"
	"github.com/gachaboo/miu/internal/infra/spotify"
	"github.com/gachaboo/miu/internal/infra/store"
	"github.com/gachaboo/miu/internal/jobs"
)

var (
	app        = kingpin.New("miu-server", "miu shared music queue server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Setup(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	catalog, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RefreshToken: cfg.Spotify.RefreshToken,
		Market:       cfg.Spotify.Market,
	})
	if err != nil {
		return fmt.Errorf("failed to create Spotify client: %w", err)
	}

	if err := validatePlaylist(ctx, cfg, catalog); err != nil {
		return fmt.Errorf("playlist validation failed: %w", err)
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	q := queue.New(queue.Config{
		RequesterLimit: cfg.Queue.RequesterLimit,
		RecentWindow:   time.Duration(cfg.Queue.RecentWindowMin) * time.Minute,
		AutoplayTarget: cfg.Queue.AutoplayTarget,
	})

	eng := engine.New(engine.Config{
		GapCorrection: time.Duration(cfg.Playback.GapCorrectionMs) * time.Millisecond,
	})
	eng.SetVolume(cfg.Playback.InitialVolume)

	notifier := notification.NewManager(notification.Config{
		HeartbeatInterval: time.Duration(cfg.Stream.HeartbeatSec) * time.Second,
	})
	notifier.AttachPosition(eng.PositionMs)
	defer notifier.Close()

	state := player.NewState(cfg.Playback.InitialVolume, cfg.Playback.AutoplayOn(), notifier.PublishState)

	sourceDeps := musicsource.Deps{
		Catalog:        catalog,
		Library:        st,
		ActivePlaylist: state.ActivePlaylistID,
	}
	if cfg.Lastfm.APIKey != "" {
		lfm, err := lastfm.New(lastfm.Config{
			APIKey:  cfg.Lastfm.APIKey,
			BaseURL: cfg.Lastfm.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to create Last.fm client: %w", err)
		}
		sourceDeps.Lastfm = lfm
	}

	sources, err := musicsource.Build(cfg, sourceDeps)
	if err != nil {
		return fmt.Errorf("failed to build autoplay sources: %w", err)
	}

	ap := autoplay.NewManager(autoplay.Config{
		TargetBuffer:   cfg.Queue.AutoplayTarget,
		CandidateCount: cfg.Autoplay.CandidateCount,
		Weights: autoplay.Weights{
			track.SourceRecommendation: cfg.Autoplay.Weights.Recommendation,
			track.SourcePlaylist:       cfg.Autoplay.Weights.Playlist,
			track.SourceRandom:         cfg.Autoplay.Weights.Random,
			track.SourceHistory:        cfg.Autoplay.Weights.History,
			track.SourcePopular:        cfg.Autoplay.Weights.Popular,
		},
		Cooldowns: autoplay.CooldownTiers{
			High:    time.Duration(cfg.Autoplay.Cooldown.HighHours) * time.Hour,
			Medium:  time.Duration(cfg.Autoplay.Cooldown.MediumHours) * time.Hour,
			Low:     time.Duration(cfg.Autoplay.Cooldown.LowHours) * time.Hour,
			Default: time.Duration(cfg.Autoplay.Cooldown.DefaultHours) * time.Hour,
		},
	}, sources, st, q)

	orch := orchestrator.New(orchestrator.Config{
		MaxConsecutiveFailures: cfg.Playback.MaxConsecutiveFailures,
	}, eng, state, q, ap, catalog, st, notifier)
	defer orch.Close()

	// SSE listeners count as remote presence.
	notifier.OnPresenceChange(orch.SetRemotePresence)
	notifier.Start()

	if cfg.Gateway.URL != "" {
		transport := gateway.New(gateway.Config{
			URL:        cfg.Gateway.URL,
			Token:      cfg.Gateway.Token,
			ClientName: "miu",
		})
		supervisor := connection.NewSupervisor(connection.Config{
			ChannelID:        cfg.Gateway.HomeChannelID,
			ReadyTimeout:     time.Duration(cfg.Connection.ReadyTimeoutSec) * time.Second,
			RecoveryWindow:   time.Duration(cfg.Connection.RecoveryWindowSec) * time.Second,
			ReconnectDelay:   time.Duration(cfg.Connection.ReconnectDelaySec) * time.Second,
			PresenceInterval: time.Duration(cfg.Connection.PresenceIntervalSec) * time.Second,
			PauseDebounce:    time.Duration(cfg.Connection.PauseDebounceSec) * time.Second,
		}, transport, eng)
		supervisor.AttachPlayer(orch)
		orch.AttachPresence(supervisor)
		if err := supervisor.Start(); err != nil {
			return fmt.Errorf("failed to start connection supervisor: %w", err)
		}
		defer supervisor.Stop()
	} else {
		zlog.Info().Msg("No gateway configured, playback runs without channel presence")
	}

	runner, err := jobs.Start(jobs.Config{
		CooldownSweep:    time.Duration(cfg.Jobs.CooldownSweepMin) * time.Minute,
		PoolRefresh:      time.Duration(cfg.Jobs.PoolRefreshMin) * time.Minute,
		HistoryPrune:     time.Duration(cfg.Jobs.HistoryPruneHours) * time.Hour,
		HistoryRetention: time.Duration(cfg.Storage.HistoryRetentionDays) * 24 * time.Hour,
	}, ap, st)
	if err != nil {
		return fmt.Errorf("failed to start background jobs: %w", err)
	}
	defer runner.Stop()

	api := rest.New(rest.Deps{
		Player:   orch,
		Library:  st,
		Registry: notifier.Registry(),
		Stream:   notifier.Handler(),
		Config:   cfg,
	})
	mux := http.NewServeMux()
	api.Register(mux)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	time.Sleep(100 * time.Millisecond)

	// Kick autoplay so the room has music without an operator command.
	if cfg.Playback.AutoplayOn() {
		orch.SetAutoplay(ctx, true)
	}

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Close the broadcaster first so live streams end and the server can
	// drain its handlers.
	notifier.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// validatePlaylist checks that the configured curated playlist exists.
// Retries smooth over transient failures during startup.
func validatePlaylist(ctx context.Context, cfg *config.Config, catalog *spotify.Client) error {
	if !cfg.HasSource("playlist") {
		zlog.Info().Msg("No curated playlist configured, autoplay uses the remaining sources")
		return nil
	}
	url, _ := cfg.SourceSettings("playlist")["playlist_url"].(string)
	if url == "" {
		return fmt.Errorf("playlist source configured without playlist_url")
	}

	zlog.Info().Msgf("Validating curated playlist: url=%s", url)

	maxRetries := 5
	baseDelay := 1 * time.Second

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			delay := baseDelay * time.Duration(1<<uint(i-1))
			zlog.Info().Msgf("Retrying playlist validation in %v...", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := catalog.CheckPlaylistExists(ctx, url); err != nil {
			lastErr = err
			zlog.Warn().Msgf("Failed to validate playlist (attempt %d/%d): %v", i+1, maxRetries, err)
			continue
		}

		zlog.Info().Msg("Curated playlist validated successfully")
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %v", maxRetries, lastErr)
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
