package autoplay

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/queue"
	"github.com/gachaboo/miu/internal/domain/track"
)

// attemptsPerSlot bounds the work of a single fill pass: each missing
// buffer slot gets this many selection attempts before the pass gives up.
const attemptsPerSlot = 5

// Config holds the autoplay tuning knobs.
type Config struct {
	// TargetBuffer is the autoplay sub-queue size a fill pass aims for.
	TargetBuffer int
	// CandidateCount is how many candidates are requested from a source
	// per attempt.
	CandidateCount int
	Weights        Weights
	Cooldowns      CooldownTiers
}

// Manager refills the autoplay sub-queue from the configured content
// sources. At most one fill pass runs at a time; overlapping calls
// return immediately.
type Manager struct {
	cfg       Config
	sources   map[track.Source]ContentSource
	stats     StatsStore
	queue     *queue.Queue
	cooldowns *Cooldowns

	mu      sync.Mutex
	filling bool
	rng     *rand.Rand
}

// NewManager builds an autoplay manager over the given sources. Weight
// validation failures are logged and selection proceeds with the
// normalized weights.
func NewManager(cfg Config, sources map[track.Source]ContentSource, stats StatsStore, q *queue.Queue) *Manager {
	if err := cfg.Weights.Validate(); err != nil {
		zlog.Warn().Msgf("autoplay: %v, normalizing over configured mass", err)
	}
	return &Manager{
		cfg:       cfg,
		sources:   sources,
		stats:     stats,
		queue:     q,
		cooldowns: NewCooldowns(cfg.Cooldowns, stats),
		rng:       rand.New(rand.NewSource(cryptoSeed())),
	}
}

// Cooldowns exposes the manager's cooldown ledger.
func (m *Manager) Cooldowns() *Cooldowns {
	return m.cooldowns
}

// Fill tops the autoplay sub-queue up to the target buffer size. Safe to
// call from any goroutine; a pass already in flight makes this a no-op.
func (m *Manager) Fill(ctx context.Context) {
	m.mu.Lock()
	if m.filling {
		m.mu.Unlock()
		zlog.Debug().Msg("autoplay: fill already in progress, skipping")
		return
	}
	m.filling = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.filling = false
		m.mu.Unlock()
	}()

	needed := m.cfg.TargetBuffer - m.queue.AutoplayLen()
	if needed <= 0 {
		return
	}
	zlog.Debug().Msgf("autoplay: filling buffer: needed=%d target=%d", needed, m.cfg.TargetBuffer)

	added := 0
	lastSource := track.SourceNone
	for attempt := 0; attempt < needed*attemptsPerSlot && added < needed; attempt++ {
		if ctx.Err() != nil {
			zlog.Debug().Msgf("autoplay: fill cancelled: added=%d needed=%d", added, needed)
			return
		}

		source, ok := PickSource(m.cfg.Weights, m.draw(), m.sourceEligible)
		if !ok {
			zlog.Warn().Msg("autoplay: no eligible sources configured, aborting fill")
			return
		}
		lastSource = source

		item := m.drawCandidate(ctx, source)
		if item == nil {
			continue
		}

		m.stamp(item, source)
		m.cooldowns.Add(ctx, item.ContentID)
		if !m.queue.AddAutoplayTrack(*item) {
			continue
		}
		added++
		zlog.Info().Msgf("autoplay: queued track: title=%s source=%s", item.Title, source)
	}

	if added < needed {
		zlog.Warn().Msgf("autoplay: buffer fill incomplete: added=%d needed=%d last_source=%s", added, needed, lastSource)
		if lastSource == track.SourceRecommendation {
			m.refreshSource(ctx, lastSource)
		}
	}
}

// SweepCooldowns drops expired cooldown entries.
func (m *Manager) SweepCooldowns() {
	if removed := m.cooldowns.Sweep(); removed > 0 {
		zlog.Debug().Msgf("autoplay: swept expired cooldowns: removed=%d", removed)
	}
}

// PutOnCooldown places a track on cooldown so autoplay does not
// re-select it soon. Explicit user requests are never blocked by this.
func (m *Manager) PutOnCooldown(ctx context.Context, item track.QueueItem) {
	m.cooldowns.Add(ctx, item.ContentID)
}

// RefreshPools rebuilds every refreshable source's candidate pool.
func (m *Manager) RefreshPools(ctx context.Context) {
	for s := range m.sources {
		m.refreshSource(ctx, s)
	}
}

// drawCandidate pulls candidates from one source and picks a random
// eligible survivor. Returns nil when the attempt yields nothing; the
// caller just moves on to the next attempt.
func (m *Manager) drawCandidate(ctx context.Context, source track.Source) *track.QueueItem {
	src := m.sources[source]
	candidates, err := src.Candidates(ctx, m.cfg.CandidateCount)
	if err != nil {
		zlog.Warn().Msgf("autoplay: source failed: source=%s error=%v", source, err)
		return nil
	}
	if len(candidates) == 0 {
		zlog.Debug().Msgf("autoplay: source returned no candidates: source=%s", source)
		return nil
	}

	queued := m.queue.QueuedIDs()
	survivors := make([]track.QueueItem, 0, len(candidates))
	for _, c := range candidates {
		if c.ContentID == "" || queued[c.ContentID] || m.cooldowns.Blocked(c.ContentID) {
			continue
		}
		if m.isBlocked(ctx, c.ContentID) {
			continue
		}
		survivors = append(survivors, c)
	}
	if len(survivors) == 0 {
		zlog.Debug().Msgf("autoplay: all candidates filtered out: source=%s count=%d", source, len(candidates))
		return nil
	}

	pick := survivors[m.intn(len(survivors))]
	return &pick
}

func (m *Manager) stamp(item *track.QueueItem, source track.Source) {
	item.IsAutoplay = true
	item.AutoplaySource = source
	item.RequestedBy = track.AutoplayRequester(source)
	item.RequestedAt = time.Now()
}

func (m *Manager) refreshSource(ctx context.Context, s track.Source) {
	r, ok := m.sources[s].(RefreshableSource)
	if !ok {
		return
	}
	zlog.Info().Msgf("autoplay: refreshing source pool: source=%s", s)
	if err := r.RefreshPool(ctx); err != nil {
		zlog.Warn().Msgf("autoplay: pool refresh failed: source=%s error=%v", s, err)
	}
}

func (m *Manager) sourceEligible(s track.Source) bool {
	return m.sources[s] != nil
}

func (m *Manager) isBlocked(ctx context.Context, contentID string) bool {
	if m.stats == nil {
		return false
	}
	blocked, err := m.stats.IsBlocked(ctx, contentID)
	if err != nil {
		zlog.Debug().Msgf("autoplay: blocklist check failed: content_id=%s error=%v", contentID, err)
		return false
	}
	return blocked
}

func (m *Manager) draw() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

func (m *Manager) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err == nil {
		return int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return time.Now().UnixNano()
}
