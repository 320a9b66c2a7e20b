package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaintainer struct {
	sweeps    atomic.Int32
	refreshes atomic.Int32
}

func (f *fakeMaintainer) SweepCooldowns() {
	f.sweeps.Add(1)
}

func (f *fakeMaintainer) RefreshPools(ctx context.Context) {
	f.refreshes.Add(1)
}

type fakePruner struct {
	calls atomic.Int32

	mu     sync.Mutex
	cutoff time.Time
}

func (f *fakePruner) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	f.cutoff = before
	f.mu.Unlock()
	f.calls.Add(1)
	return 3, nil
}

func (f *fakePruner) lastCutoff() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cutoff
}

func testConfig() Config {
	return Config{
		CooldownSweep:    20 * time.Millisecond,
		PoolRefresh:      20 * time.Millisecond,
		HistoryPrune:     20 * time.Millisecond,
		HistoryRetention: 90 * 24 * time.Hour,
	}
}

func TestStartRunsAllJobs(t *testing.T) {
	maintainer := &fakeMaintainer{}
	pruner := &fakePruner{}

	r, err := Start(testConfig(), maintainer, pruner)
	require.NoError(t, err)
	defer r.Stop()

	require.Eventually(t, func() bool {
		return maintainer.sweeps.Load() >= 1 && maintainer.refreshes.Load() >= 1 && pruner.calls.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond)

	wantCutoff := time.Now().Add(-90 * 24 * time.Hour)
	assert.WithinDuration(t, wantCutoff, pruner.lastCutoff(), 5*time.Second)
}

func TestNilDependenciesAreSkipped(t *testing.T) {
	r, err := Start(testConfig(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, r.Stop())
}

func TestJobsKeepRunningAfterFirstFire(t *testing.T) {
	maintainer := &fakeMaintainer{}

	r, err := Start(testConfig(), maintainer, nil)
	require.NoError(t, err)
	defer r.Stop()

	require.Eventually(t, func() bool {
		return maintainer.sweeps.Load() >= 3
	}, 3*time.Second, 10*time.Millisecond)
}
