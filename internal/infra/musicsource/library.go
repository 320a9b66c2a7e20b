package musicsource

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/domain/track"
)

// HistoryConfig tunes the listening-history source.
type HistoryConfig struct {
	MinPlays int `mapstructure:"min_plays" default:"2" validate:"gte=1"`
}

// HistorySource picks old favorites: tracks played repeatedly and
// finished at least once.
type HistorySource struct {
	library LibraryReader
	cfg     HistoryConfig
}

// NewHistorySource creates a history source from provider settings.
func NewHistorySource(library LibraryReader, settings map[string]any) (*HistorySource, error) {
	var cfg HistoryConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &HistorySource{library: library, cfg: cfg}, nil
}

// Name returns the source name.
func (s *HistorySource) Name() string {
	return "history"
}

// Candidates returns up to n favorites from the library.
func (s *HistorySource) Candidates(ctx context.Context, n int) ([]track.QueueItem, error) {
	return s.library.Favorites(ctx, s.cfg.MinPlays, n)
}

// PopularConfig tunes the popularity source.
type PopularConfig struct {
	PoolSize int `mapstructure:"pool_size" default:"50" validate:"gte=1"`
}

// PopularSource picks high-popularity tracks from the library, falling
// back to the global Last.fm charts while the library is still thin.
type PopularSource struct {
	library  LibraryReader
	charts   SimilarityClient // may be nil, disables the chart fallback
	resolver *searchResolver
	cfg      PopularConfig
}

// NewPopularSource creates a popular source from provider settings.
func NewPopularSource(library LibraryReader, charts SimilarityClient, resolver *searchResolver, settings map[string]any) (*PopularSource, error) {
	var cfg PopularConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &PopularSource{
		library:  library,
		charts:   charts,
		resolver: resolver,
		cfg:      cfg,
	}, nil
}

// Name returns the source name.
func (s *PopularSource) Name() string {
	return "popular"
}

// Candidates returns up to n popular tracks.
func (s *PopularSource) Candidates(ctx context.Context, n int) ([]track.QueueItem, error) {
	items, err := s.library.Popular(ctx, s.cfg.PoolSize, n)
	if err != nil {
		return nil, err
	}
	if len(items) >= n || s.charts == nil {
		return items, nil
	}

	// Library too thin, top up from the global charts.
	chartTracks, err := s.charts.GetChartTopTracks(ctx, 20)
	if err != nil {
		zlog.Debug().Msgf("musicsource: chart fallback failed: error=%v", err)
		return items, nil
	}

	for _, ct := range chartTracks {
		if len(items) >= n {
			break
		}
		if item := s.resolver.resolve(ctx, ct.Name, ct.Artist); item != nil && !containsID(items, item.ContentID) {
			items = append(items, *item)
		}
	}
	return items, nil
}

// RandomSource picks uniformly from everything the library has seen.
type RandomSource struct {
	library LibraryReader
}

// NewRandomSource creates a random source.
func NewRandomSource(library LibraryReader) *RandomSource {
	return &RandomSource{library: library}
}

// Name returns the source name.
func (s *RandomSource) Name() string {
	return "random"
}

// Candidates returns up to n random library tracks.
func (s *RandomSource) Candidates(ctx context.Context, n int) ([]track.QueueItem, error) {
	return s.library.RandomSample(ctx, n)
}
