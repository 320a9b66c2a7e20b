package autoplay

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Quality thresholds splitting tracks into cooldown tiers. Well-received
// tracks come off cooldown sooner.
const (
	highScoreMin     = 8.0
	highSkipRatioMax = 0.2
	midScoreMin      = 5.0
	midSkipRatioMax  = 0.3
)

// CooldownTiers holds the per-tier cooldown durations.
type CooldownTiers struct {
	High    time.Duration
	Medium  time.Duration
	Low     time.Duration
	Default time.Duration
}

// Cooldowns tracks which content is temporarily excluded from autoplay
// selection. Cooldowns never affect explicit user requests.
type Cooldowns struct {
	mu    sync.Mutex
	tiers CooldownTiers
	stats StatsStore
	until map[string]time.Time
	now   func() time.Time
}

// NewCooldowns builds an empty cooldown ledger. stats may be nil, in
// which case every track lands in the default tier.
func NewCooldowns(tiers CooldownTiers, stats StatsStore) *Cooldowns {
	return &Cooldowns{
		tiers: tiers,
		stats: stats,
		until: map[string]time.Time{},
		now:   time.Now,
	}
}

// Add places contentID on cooldown for the tier derived from its quality
// stats. Re-adding refreshes the expiry.
func (c *Cooldowns) Add(ctx context.Context, contentID string) {
	d := c.durationFor(ctx, contentID)

	c.mu.Lock()
	c.until[contentID] = c.now().Add(d)
	c.mu.Unlock()

	zlog.Debug().Msgf("autoplay: cooldown set: content_id=%s duration=%s", contentID, d)
}

// Blocked reports whether contentID is currently on cooldown. Expired
// entries are dropped on read.
func (c *Cooldowns) Blocked(contentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.until[contentID]
	if !ok {
		return false
	}
	if c.now().After(until) {
		delete(c.until, contentID)
		return false
	}
	return true
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cooldowns) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, until := range c.until {
		if now.After(until) {
			delete(c.until, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live cooldown entries, counting expired ones
// that have not been swept yet.
func (c *Cooldowns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}

func (c *Cooldowns) durationFor(ctx context.Context, contentID string) time.Duration {
	if c.stats == nil {
		return c.tiers.Default
	}
	stats, err := c.stats.QualityStats(ctx, contentID)
	if err != nil {
		zlog.Debug().Msgf("autoplay: quality stats unavailable, using default cooldown: content_id=%s error=%v", contentID, err)
		return c.tiers.Default
	}

	ratio := stats.SkipRatio()
	switch {
	case stats.QualityScore > highScoreMin && ratio < highSkipRatioMax:
		return c.tiers.High
	case stats.QualityScore > midScoreMin && ratio < midSkipRatioMax:
		return c.tiers.Medium
	default:
		return c.tiers.Low
	}
}
