// Package autoplay keeps the autoplay sub-queue filled using weighted
// probabilistic source selection and per-track cooldown tiers.
package autoplay

import (
	"context"

	"github.com/gachaboo/miu/internal/domain/track"
)

// ContentSource supplies autoplay candidates for one selection source.
type ContentSource interface {
	// Name returns the source name for logging.
	Name() string
	// Candidates returns up to n candidate tracks. An empty slice means
	// the source has nothing to offer right now.
	Candidates(ctx context.Context, n int) ([]track.QueueItem, error)
}

// RefreshableSource is a ContentSource whose candidate pool can be rebuilt
// out of band.
type RefreshableSource interface {
	ContentSource
	RefreshPool(ctx context.Context) error
}

// QualityStats holds the historical play statistics of a track.
type QualityStats struct {
	PlayCount    int
	SkipCount    int
	QualityScore float64
}

// SkipRatio returns skips over plays, 0 when the track was never played.
func (s QualityStats) SkipRatio() float64 {
	if s.PlayCount == 0 {
		return 0
	}
	return float64(s.SkipCount) / float64(s.PlayCount)
}

// StatsStore provides the persistence-backed quality stats and blocklist
// lookups used during selection.
type StatsStore interface {
	QualityStats(ctx context.Context, contentID string) (QualityStats, error)
	IsBlocked(ctx context.Context, contentID string) (bool, error)
}
