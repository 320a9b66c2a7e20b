// Package musicsource implements the autoplay content sources: the
// recommendation mix, the curated playlist, and the three library-backed
// picks (history, popular, random).
package musicsource

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/autoplay"
	"github.com/gachaboo/miu/internal/domain/track"
	"github.com/gachaboo/miu/internal/infra/config"
	"github.com/gachaboo/miu/internal/infra/lastfm"
	"github.com/gachaboo/miu/internal/infra/store"
)

// CatalogClient defines the catalog operations sources need.
type CatalogClient interface {
	Search(ctx context.Context, query string, limit int) ([]track.QueueItem, error)
	GetPlaylistTracksRandom(ctx context.Context, playlistRef string, count int) ([]track.QueueItem, error)
}

// SimilarityClient defines the Last.fm operations the recommendation and
// popular sources need.
type SimilarityClient interface {
	GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.SimilarTrack, error)
	GetTopTags(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.Tag, error)
	GetTopTracks(ctx context.Context, tagName string, limit int) ([]lastfm.TopTrack, error)
	GetChartTopTracks(ctx context.Context, limit int) ([]lastfm.TopTrack, error)
}

// LibraryReader defines the store lookups the library-backed sources need.
type LibraryReader interface {
	RecentSeeds(ctx context.Context, n int) ([]store.Seed, error)
	RandomSample(ctx context.Context, n int) ([]track.QueueItem, error)
	Favorites(ctx context.Context, minPlays, n int) ([]track.QueueItem, error)
	Popular(ctx context.Context, poolSize, n int) ([]track.QueueItem, error)
}

// Deps carries the shared clients the sources draw from.
type Deps struct {
	Catalog CatalogClient
	Lastfm  SimilarityClient // nil disables the recommendation source
	Library LibraryReader
	// ActivePlaylist returns the playlist the operator selected at
	// runtime, empty for the configured default.
	ActivePlaylist func() string
}

// Build constructs the configured autoplay sources. A recommendation
// source configured without a Last.fm client is skipped with a warning so
// the rest of autoplay keeps working.
func Build(cfg *config.Config, deps Deps) (map[track.Source]autoplay.ContentSource, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog client is required")
	}
	if deps.Library == nil {
		return nil, errors.New("library reader is required")
	}

	resolver := newSearchResolver(deps.Catalog)
	sources := make(map[track.Source]autoplay.ContentSource)

	for i, scfg := range cfg.Autoplay.Sources {
		zlog.Debug().Msgf("musicsource: creating source: index=%d type=%s", i+1, scfg.Type)

		switch scfg.Type {
		case "recommendation":
			if deps.Lastfm == nil {
				zlog.Warn().Msg("musicsource: recommendation source configured without a last.fm API key, skipping")
				continue
			}
			src, err := NewRecommendationSource(deps.Lastfm, resolver, deps.Library, scfg.Settings)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create source (index %d, type %s)", i, scfg.Type)
			}
			sources[track.SourceRecommendation] = src

		case "playlist":
			src, err := NewPlaylistSource(deps.Catalog, deps.ActivePlaylist, scfg.Settings)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create source (index %d, type %s)", i, scfg.Type)
			}
			sources[track.SourcePlaylist] = src

		case "history":
			src, err := NewHistorySource(deps.Library, scfg.Settings)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create source (index %d, type %s)", i, scfg.Type)
			}
			sources[track.SourceHistory] = src

		case "popular":
			src, err := NewPopularSource(deps.Library, deps.Lastfm, resolver, scfg.Settings)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create source (index %d, type %s)", i, scfg.Type)
			}
			sources[track.SourcePopular] = src

		case "random":
			sources[track.SourceRandom] = NewRandomSource(deps.Library)

		default:
			return nil, errors.Newf("unsupported source type: %s (source index %d)", scfg.Type, i)
		}

		zlog.Info().Msgf("musicsource: registered source: index=%d type=%s", i+1, scfg.Type)
	}

	if len(sources) == 0 {
		return nil, errors.New("no usable autoplay sources configured")
	}
	return sources, nil
}

// searchResolver turns (title, artist) pairs into catalog tracks, caching
// hits and misses so repeated lookups stay off the API.
type searchResolver struct {
	catalog CatalogClient

	mu    sync.RWMutex
	cache map[string]*track.QueueItem // nil entry records a known miss
}

func newSearchResolver(catalog CatalogClient) *searchResolver {
	return &searchResolver{
		catalog: catalog,
		cache:   make(map[string]*track.QueueItem),
	}
}

func (r *searchResolver) resolve(ctx context.Context, title, artist string) *track.QueueItem {
	key := title + ":" + artist

	r.mu.RLock()
	if cached, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return cached
	}
	r.mu.RUnlock()

	query := fmt.Sprintf("track:%s artist:%s", title, artist)
	results, err := r.catalog.Search(ctx, query, 1)

	var item *track.QueueItem
	if err == nil && len(results) > 0 {
		item = &results[0]
	}

	r.mu.Lock()
	r.cache[key] = item
	r.mu.Unlock()
	return item
}

// cryptoSeed returns a crypto-sourced seed, falling back to the clock.
func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err == nil {
		return int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return time.Now().UnixNano()
}
