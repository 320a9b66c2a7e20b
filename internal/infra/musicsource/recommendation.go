package musicsource

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/domain/track"
	"github.com/gachaboo/miu/internal/infra/store"
)

// RecommendationConfig tunes the recommendation mix.
type RecommendationConfig struct {
	SeedTrackCount int     `mapstructure:"seed_track_count" default:"3" validate:"gte=1"`
	TagCount       int     `mapstructure:"tag_count" default:"5" validate:"gte=1"`
	TagWeight      float64 `mapstructure:"tag_weight" default:"0.4" validate:"gte=0,lte=1"`
	SimilarWeight  float64 `mapstructure:"similar_weight" default:"0.6" validate:"gte=0,lte=1"`
	PoolSize       int     `mapstructure:"pool_size" default:"30" validate:"gte=1"`
}

// RecommendationSource builds a pool of tracks related to what listeners
// recently requested, using hybrid tag and similarity scoring. Candidates
// drain the pool; the pool rebuilds when it runs dry or on RefreshPool.
type RecommendationSource struct {
	lastfm   SimilarityClient
	resolver *searchResolver
	library  LibraryReader
	cfg      RecommendationConfig

	mu   sync.Mutex
	pool []track.QueueItem
	rng  *rand.Rand
}

type scoredTrack struct {
	item  track.QueueItem
	score float64
}

// NewRecommendationSource creates a recommendation source from provider
// settings.
func NewRecommendationSource(lfm SimilarityClient, resolver *searchResolver, library LibraryReader, settings map[string]any) (*RecommendationSource, error) {
	var cfg RecommendationConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	if math.Abs(cfg.TagWeight+cfg.SimilarWeight-1.0) > 0.01 {
		return nil, errors.New("tag_weight and similar_weight must sum to 1.0")
	}

	return &RecommendationSource{
		lastfm:   lfm,
		resolver: resolver,
		library:  library,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cryptoSeed())),
	}, nil
}

// Name returns the source name.
func (s *RecommendationSource) Name() string {
	return "recommendation"
}

// Candidates returns up to n tracks from the pool, rebuilding it first if
// it cannot cover the request.
func (s *RecommendationSource) Candidates(ctx context.Context, n int) ([]track.QueueItem, error) {
	if n <= 0 {
		return []track.QueueItem{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pool) < n {
		if err := s.rebuildLocked(ctx); err != nil && len(s.pool) == 0 {
			return nil, err
		}
	}

	count := n
	if count > len(s.pool) {
		count = len(s.pool)
	}
	result := s.pool[:count]
	s.pool = s.pool[count:]
	return result, nil
}

// RefreshPool discards the pool and rebuilds it from current seeds.
func (s *RecommendationSource) RefreshPool(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool = nil
	return s.rebuildLocked(ctx)
}

func (s *RecommendationSource) rebuildLocked(ctx context.Context) error {
	seeds, err := s.library.RecentSeeds(ctx, s.cfg.SeedTrackCount)
	if err != nil {
		zlog.Warn().Msgf("musicsource: seed lookup failed, falling back to charts: error=%v", err)
		seeds = nil
	}

	var pool []track.QueueItem
	if len(seeds) == 0 {
		// Nothing requested yet, fall back to the global charts.
		pool, err = s.chartPool(ctx)
		if err != nil {
			return err
		}
	} else {
		tagCandidates := s.tagBasedCandidates(ctx, seeds)
		similarCandidates := s.similarBasedCandidates(ctx, seeds)

		scored := s.scoreAndMerge(tagCandidates, similarCandidates)
		sort.Slice(scored, func(i, j int) bool {
			return scored[i].score > scored[j].score
		})

		if len(scored) > s.cfg.PoolSize {
			scored = scored[:s.cfg.PoolSize]
		}
		pool = make([]track.QueueItem, 0, len(scored))
		for _, st := range scored {
			pool = append(pool, st.item)
		}
	}

	// Shuffle so draining the pool does not always follow score order.
	s.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	s.pool = append(s.pool, pool...)
	zlog.Debug().Msgf("musicsource: recommendation pool rebuilt: size=%d seeds=%d", len(s.pool), len(seeds))
	return nil
}

// tagBasedCandidates expands seed tracks through their top tags into each
// tag's top tracks.
func (s *RecommendationSource) tagBasedCandidates(ctx context.Context, seeds []store.Seed) []track.QueueItem {
	tagCounts := make(map[string]int)
	for _, seed := range seeds {
		artist := primaryArtist(seed.ArtistLine)
		if artist == "" {
			continue
		}
		tags, err := s.lastfm.GetTopTags(ctx, seed.Title, artist, 10)
		if err != nil {
			continue
		}
		for _, tag := range tags {
			tagCounts[tag.Name] += tag.Count
		}
	}

	if len(tagCounts) == 0 {
		return nil
	}

	topTags := topTagNames(tagCounts, s.cfg.TagCount)

	var candidates []track.QueueItem
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, tagName := range topTags {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			tagTracks, err := s.lastfm.GetTopTracks(ctx, tag, 20)
			if err != nil {
				return
			}
			for _, t := range tagTracks {
				if item := s.resolver.resolve(ctx, t.Name, t.Artist); item != nil {
					mu.Lock()
					candidates = append(candidates, *item)
					mu.Unlock()
				}
			}
		}(tagName)
	}
	wg.Wait()

	return dedupeByID(candidates)
}

// similarBasedCandidates expands seed tracks through direct similarity.
func (s *RecommendationSource) similarBasedCandidates(ctx context.Context, seeds []store.Seed) []track.QueueItem {
	var candidates []track.QueueItem
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, seed := range seeds {
		artist := primaryArtist(seed.ArtistLine)
		if artist == "" {
			continue
		}

		wg.Add(1)
		go func(title, artist string) {
			defer wg.Done()
			similar, err := s.lastfm.GetSimilarTracks(ctx, title, artist, 10)
			if err != nil {
				return
			}
			for _, sim := range similar {
				if item := s.resolver.resolve(ctx, sim.Name, sim.Artist); item != nil {
					mu.Lock()
					candidates = append(candidates, *item)
					mu.Unlock()
				}
			}
		}(seed.Title, artist)
	}
	wg.Wait()

	return dedupeByID(candidates)
}

// scoreAndMerge combines the two strategies. A track found by both gets
// both weights.
func (s *RecommendationSource) scoreAndMerge(tagCandidates, similarCandidates []track.QueueItem) []scoredTrack {
	scoreMap := make(map[string]*scoredTrack)

	for _, t := range tagCandidates {
		scoreMap[t.ContentID] = &scoredTrack{item: t, score: s.cfg.TagWeight}
	}
	for _, t := range similarCandidates {
		if existing, ok := scoreMap[t.ContentID]; ok {
			existing.score += s.cfg.SimilarWeight
		} else {
			scoreMap[t.ContentID] = &scoredTrack{item: t, score: s.cfg.SimilarWeight}
		}
	}

	result := make([]scoredTrack, 0, len(scoreMap))
	for _, st := range scoreMap {
		result = append(result, *st)
	}
	return result
}

// chartPool resolves global chart tracks into a starter pool.
func (s *RecommendationSource) chartPool(ctx context.Context) ([]track.QueueItem, error) {
	chartTracks, err := s.lastfm.GetChartTopTracks(ctx, 50)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chart tracks")
	}

	s.rng.Shuffle(len(chartTracks), func(i, j int) {
		chartTracks[i], chartTracks[j] = chartTracks[j], chartTracks[i]
	})

	var pool []track.QueueItem
	for _, ct := range chartTracks {
		if item := s.resolver.resolve(ctx, ct.Name, ct.Artist); item != nil {
			pool = append(pool, *item)
		}
		if len(pool) >= s.cfg.PoolSize {
			break
		}
	}
	return dedupeByID(pool), nil
}

func topTagNames(tagCounts map[string]int, n int) []string {
	type tagCount struct {
		name  string
		count int
	}

	tags := make([]tagCount, 0, len(tagCounts))
	for name, count := range tagCounts {
		tags = append(tags, tagCount{name: name, count: count})
	}

	sort.Slice(tags, func(i, j int) bool {
		if tags[i].count == tags[j].count {
			return tags[i].name < tags[j].name
		}
		return tags[i].count > tags[j].count
	})

	result := make([]string, 0, n)
	for i := 0; i < n && i < len(tags); i++ {
		result = append(result, tags[i].name)
	}
	return result
}

func dedupeByID(items []track.QueueItem) []track.QueueItem {
	seen := make(map[string]bool)
	result := make([]track.QueueItem, 0, len(items))
	for _, t := range items {
		if !seen[t.ContentID] {
			seen[t.ContentID] = true
			result = append(result, t)
		}
	}
	return result
}

func primaryArtist(artistLine string) string {
	for i := 0; i < len(artistLine); i++ {
		if artistLine[i] == ',' {
			return artistLine[:i]
		}
	}
	return artistLine
}
