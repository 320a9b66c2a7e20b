package autoplay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gachaboo/miu/internal/app/queue"
	"github.com/gachaboo/miu/internal/domain/track"
)

type stubSource struct {
	mu        sync.Mutex
	name      string
	items     []track.QueueItem
	err       error
	calls     int
	refreshes int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Candidates(_ context.Context, n int) ([]track.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if n > len(s.items) {
		n = len(s.items)
	}
	return append([]track.QueueItem(nil), s.items[:n]...), nil
}

func (s *stubSource) RefreshPool(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return nil
}

func (s *stubSource) counts() (calls, refreshes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.refreshes
}

func candidate(id, title string) track.QueueItem {
	return track.QueueItem{
		ContentID: id,
		Title:     title,
		Artists:   []string{"Artist"},
		Duration:  3 * time.Minute,
	}
}

func testConfig(target int) Config {
	return Config{
		TargetBuffer:   target,
		CandidateCount: 5,
		Weights:        defaultWeights(),
		Cooldowns:      testTiers(),
	}
}

func newTestQueue(target int) *queue.Queue {
	return queue.New(queue.Config{
		RequesterLimit: 3,
		RecentWindow:   time.Hour,
		AutoplayTarget: target,
	})
}

func TestFillTopsUpToTarget(t *testing.T) {
	src := &stubSource{name: "recommendation", items: []track.QueueItem{
		candidate("a", "Track A"),
		candidate("b", "Track B"),
		candidate("c", "Track C"),
		candidate("d", "Track D"),
		candidate("e", "Track E"),
	}}
	q := newTestQueue(3)
	m := NewManager(testConfig(3), map[track.Source]ContentSource{
		track.SourceRecommendation: src,
		track.SourcePlaylist:       src,
		track.SourceRandom:         src,
		track.SourceHistory:        src,
		track.SourcePopular:        src,
	}, nil, q)

	m.Fill(context.Background())

	assert.Equal(t, 3, q.AutoplayLen())
	for _, item := range q.Items() {
		assert.True(t, item.IsAutoplay)
		assert.NotEqual(t, track.SourceNone, item.AutoplaySource)
		assert.Equal(t, "autoplay", item.RequestedBy.ID)
		assert.True(t, m.Cooldowns().Blocked(item.ContentID))
	}
}

func TestFillNoopWhenBufferFull(t *testing.T) {
	src := &stubSource{name: "recommendation", items: []track.QueueItem{candidate("a", "Track A")}}
	q := newTestQueue(1)
	require.True(t, q.AddAutoplayTrack(track.QueueItem{ContentID: "existing", IsAutoplay: true}))

	m := NewManager(testConfig(1), map[track.Source]ContentSource{
		track.SourceRecommendation: src,
	}, nil, q)
	m.Fill(context.Background())

	calls, _ := src.counts()
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, q.AutoplayLen())
}

func TestFillSkipsQueuedAndCooldownTracks(t *testing.T) {
	src := &stubSource{name: "recommendation", items: []track.QueueItem{
		candidate("queued", "Already Queued"),
		candidate("cooling", "On Cooldown"),
		candidate("fresh", "Fresh Track"),
	}}
	q := newTestQueue(1)
	_, err := q.AddTrack(track.QueueItem{ContentID: "queued", Title: "Already Queued", RequestedBy: track.Requester{ID: "u1"}}, false)
	require.NoError(t, err)

	m := NewManager(testConfig(1), map[track.Source]ContentSource{
		track.SourceRecommendation: src,
	}, nil, q)
	m.Cooldowns().Add(context.Background(), "cooling")

	m.Fill(context.Background())

	require.Equal(t, 1, q.AutoplayLen())
	items := q.Items()
	assert.Equal(t, "fresh", items[len(items)-1].ContentID)
}

func TestFillRespectsBlocklist(t *testing.T) {
	src := &stubSource{name: "recommendation", items: []track.QueueItem{
		candidate("banned", "Blocked Track"),
	}}
	stats := &stubStats{blocked: map[string]bool{"banned": true}}
	q := newTestQueue(1)

	m := NewManager(testConfig(1), map[track.Source]ContentSource{
		track.SourceRecommendation: src,
	}, stats, q)
	m.Fill(context.Background())

	assert.Equal(t, 0, q.AutoplayLen())
}

func TestFillBoundedAttempts(t *testing.T) {
	src := &stubSource{name: "recommendation", err: errors.New("upstream down")}
	q := newTestQueue(2)

	m := NewManager(testConfig(2), map[track.Source]ContentSource{
		track.SourceRecommendation: src,
		track.SourcePlaylist:       src,
		track.SourceRandom:         src,
		track.SourceHistory:        src,
		track.SourcePopular:        src,
	}, nil, q)
	m.Fill(context.Background())

	calls, _ := src.counts()
	assert.Equal(t, 2*attemptsPerSlot, calls)
	assert.Equal(t, 0, q.AutoplayLen())
}

func TestFillRefreshesRecommendationPoolOnFailure(t *testing.T) {
	src := &stubSource{name: "recommendation", err: errors.New("pool exhausted")}
	q := newTestQueue(1)

	m := NewManager(Config{
		TargetBuffer:   1,
		CandidateCount: 5,
		Weights:        Weights{track.SourceRecommendation: 1.0},
		Cooldowns:      testTiers(),
	}, map[track.Source]ContentSource{
		track.SourceRecommendation: src,
	}, nil, q)
	m.Fill(context.Background())

	_, refreshes := src.counts()
	assert.Equal(t, 1, refreshes)
}

func TestFillNoRefreshForOtherSources(t *testing.T) {
	src := &stubSource{name: "playlist", err: errors.New("playlist empty")}
	q := newTestQueue(1)

	m := NewManager(Config{
		TargetBuffer:   1,
		CandidateCount: 5,
		Weights:        Weights{track.SourcePlaylist: 1.0},
		Cooldowns:      testTiers(),
	}, map[track.Source]ContentSource{
		track.SourcePlaylist: src,
	}, nil, q)
	m.Fill(context.Background())

	_, refreshes := src.counts()
	assert.Equal(t, 0, refreshes)
}

func TestFillAbortsWithNoSources(t *testing.T) {
	q := newTestQueue(2)
	m := NewManager(testConfig(2), map[track.Source]ContentSource{}, nil, q)
	m.Fill(context.Background())
	assert.Equal(t, 0, q.AutoplayLen())
}

func TestFillSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	src := &blockingSource{release: release, started: started}
	q := newTestQueue(1)

	m := NewManager(Config{
		TargetBuffer:   1,
		CandidateCount: 5,
		Weights:        Weights{track.SourceRecommendation: 1.0},
		Cooldowns:      testTiers(),
	}, map[track.Source]ContentSource{
		track.SourceRecommendation: src,
	}, nil, q)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Fill(context.Background())
	}()
	<-started

	// Second pass must bail out while the first is blocked in the source.
	m.Fill(context.Background())
	assert.Equal(t, 1, src.callCount())

	close(release)
	wg.Wait()
	assert.Equal(t, 1, q.AutoplayLen())
}

func TestFillCancelledContext(t *testing.T) {
	src := &stubSource{name: "recommendation", items: []track.QueueItem{candidate("a", "Track A")}}
	q := newTestQueue(1)
	m := NewManager(testConfig(1), map[track.Source]ContentSource{
		track.SourceRecommendation: src,
	}, nil, q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Fill(ctx)

	calls, _ := src.counts()
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, q.AutoplayLen())
}

func TestPutOnCooldown(t *testing.T) {
	q := newTestQueue(1)
	m := NewManager(testConfig(1), map[track.Source]ContentSource{}, nil, q)

	auto := candidate("a", "Track A")
	auto.IsAutoplay = true
	m.PutOnCooldown(context.Background(), auto)
	assert.True(t, m.Cooldowns().Blocked("a"))

	// Skipped user requests cool down too, keeping autoplay from
	// re-picking them right away.
	user := candidate("b", "Track B")
	m.PutOnCooldown(context.Background(), user)
	assert.True(t, m.Cooldowns().Blocked("b"))
}

type blockingSource struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) Name() string { return "blocking" }

func (s *blockingSource) Candidates(context.Context, int) ([]track.QueueItem, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		close(s.started)
		<-s.release
	}
	return []track.QueueItem{candidate("a", "Track A")}, nil
}

func (s *blockingSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
