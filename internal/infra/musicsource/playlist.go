package musicsource

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/domain/track"
)

// PlaylistConfig tunes the curated playlist source.
type PlaylistConfig struct {
	PlaylistURL string `mapstructure:"playlist_url" validate:"required"`
	CacheSize   int    `mapstructure:"cache_size" default:"20" validate:"gte=1"`
}

// PlaylistSource draws random tracks from a curated playlist, keeping a
// small cache to minimize catalog calls. The operator can point it at a
// different playlist at runtime; the cache drops when that happens.
type PlaylistSource struct {
	catalog CatalogClient
	cfg     PlaylistConfig
	active  func() string

	mu       sync.Mutex
	cache    []track.QueueItem
	cacheFor string
}

// NewPlaylistSource creates a playlist source from provider settings.
// active may be nil when no runtime override is wired.
func NewPlaylistSource(catalog CatalogClient, active func() string, settings map[string]any) (*PlaylistSource, error) {
	var cfg PlaylistConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &PlaylistSource{
		catalog: catalog,
		cfg:     cfg,
		active:  active,
	}, nil
}

// Name returns the source name.
func (s *PlaylistSource) Name() string {
	return "playlist"
}

// Candidates returns up to n tracks from the active playlist.
func (s *PlaylistSource) Candidates(ctx context.Context, n int) ([]track.QueueItem, error) {
	if n <= 0 {
		return []track.QueueItem{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	playlist := s.activePlaylist()
	if playlist != s.cacheFor {
		s.cache = nil
		s.cacheFor = playlist
	}

	if len(s.cache) < n {
		fetched, err := s.catalog.GetPlaylistTracksRandom(ctx, playlist, s.cfg.CacheSize)
		if err != nil {
			if len(s.cache) == 0 {
				return nil, errors.Wrap(err, "failed to get playlist tracks")
			}
			zlog.Warn().Msgf("musicsource: playlist refill failed, serving from cache: error=%v", err)
		}
		for _, t := range fetched {
			if !containsID(s.cache, t.ContentID) {
				s.cache = append(s.cache, t)
			}
		}
	}

	count := n
	if count > len(s.cache) {
		count = len(s.cache)
	}
	result := s.cache[:count]
	s.cache = s.cache[count:]
	return result, nil
}

func (s *PlaylistSource) activePlaylist() string {
	if s.active != nil {
		if url := s.active(); url != "" {
			return url
		}
	}
	return s.cfg.PlaylistURL
}

func containsID(items []track.QueueItem, id string) bool {
	for _, t := range items {
		if t.ContentID == id {
			return true
		}
	}
	return false
}
