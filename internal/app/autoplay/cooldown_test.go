package autoplay

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

type stubStats struct {
	stats   map[string]QualityStats
	statErr error
	blocked map[string]bool
}

func (s *stubStats) QualityStats(_ context.Context, contentID string) (QualityStats, error) {
	if s.statErr != nil {
		return QualityStats{}, s.statErr
	}
	st, ok := s.stats[contentID]
	if !ok {
		return QualityStats{}, errors.Newf("no stats for %s", contentID)
	}
	return st, nil
}

func (s *stubStats) IsBlocked(_ context.Context, contentID string) (bool, error) {
	return s.blocked[contentID], nil
}

func testTiers() CooldownTiers {
	return CooldownTiers{
		High:    6 * time.Hour,
		Medium:  8 * time.Hour,
		Low:     10 * time.Hour,
		Default: 5 * time.Hour,
	}
}

func TestCooldownTierSelection(t *testing.T) {
	tests := []struct {
		name  string
		stats QualityStats
		want  time.Duration
	}{
		{
			name:  "well received track gets short cooldown",
			stats: QualityStats{PlayCount: 20, SkipCount: 2, QualityScore: 9.0},
			want:  6 * time.Hour,
		},
		{
			name:  "decent track gets medium cooldown",
			stats: QualityStats{PlayCount: 10, SkipCount: 2, QualityScore: 6.0},
			want:  8 * time.Hour,
		},
		{
			name:  "high score but skipped often falls to medium",
			stats: QualityStats{PlayCount: 20, SkipCount: 5, QualityScore: 9.0},
			want:  8 * time.Hour,
		},
		{
			name:  "poor track gets long cooldown",
			stats: QualityStats{PlayCount: 10, SkipCount: 6, QualityScore: 2.0},
			want:  10 * time.Hour,
		},
		{
			name:  "never played defaults skip ratio to zero",
			stats: QualityStats{PlayCount: 0, SkipCount: 0, QualityScore: 8.5},
			want:  6 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := &stubStats{stats: map[string]QualityStats{"t1": tt.stats}}
			c := NewCooldowns(testTiers(), stats)
			assert.Equal(t, tt.want, c.durationFor(context.Background(), "t1"))
		})
	}
}

func TestCooldownDefaultTier(t *testing.T) {
	t.Run("stats error", func(t *testing.T) {
		stats := &stubStats{statErr: errors.New("db down")}
		c := NewCooldowns(testTiers(), stats)
		assert.Equal(t, 5*time.Hour, c.durationFor(context.Background(), "t1"))
	})

	t.Run("no stats store", func(t *testing.T) {
		c := NewCooldowns(testTiers(), nil)
		assert.Equal(t, 5*time.Hour, c.durationFor(context.Background(), "t1"))
	})

	t.Run("unknown track", func(t *testing.T) {
		stats := &stubStats{stats: map[string]QualityStats{}}
		c := NewCooldowns(testTiers(), stats)
		assert.Equal(t, 5*time.Hour, c.durationFor(context.Background(), "t1"))
	})
}

func TestCooldownBlockedAndLazyExpiry(t *testing.T) {
	c := NewCooldowns(testTiers(), nil)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Add(context.Background(), "t1")
	assert.True(t, c.Blocked("t1"))
	assert.False(t, c.Blocked("t2"))

	// Just inside the default window.
	c.now = func() time.Time { return base.Add(5*time.Hour - time.Minute) }
	assert.True(t, c.Blocked("t1"))

	// Past the window the entry is dropped on read.
	c.now = func() time.Time { return base.Add(5*time.Hour + time.Minute) }
	assert.False(t, c.Blocked("t1"))
	assert.Equal(t, 0, c.Len())
}

func TestCooldownReAddRefreshesExpiry(t *testing.T) {
	c := NewCooldowns(testTiers(), nil)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Add(context.Background(), "t1")
	c.now = func() time.Time { return base.Add(4 * time.Hour) }
	c.Add(context.Background(), "t1")

	c.now = func() time.Time { return base.Add(8 * time.Hour) }
	assert.True(t, c.Blocked("t1"))
}

func TestCooldownSweep(t *testing.T) {
	c := NewCooldowns(testTiers(), nil)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Add(context.Background(), "t1")
	c.Add(context.Background(), "t2")
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	c.Add(context.Background(), "t3")
	assert.Equal(t, 3, c.Len())

	c.now = func() time.Time { return base.Add(6 * time.Hour) }
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Blocked("t3"))
}
