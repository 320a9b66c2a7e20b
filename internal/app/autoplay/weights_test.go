package autoplay

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gachaboo/miu/internal/domain/track"
)

func defaultWeights() Weights {
	return Weights{
		track.SourceRecommendation: 0.65,
		track.SourcePlaylist:       0.15,
		track.SourceRandom:         0.10,
		track.SourceHistory:        0.05,
		track.SourcePopular:        0.05,
	}
}

func allEligible(track.Source) bool { return true }

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{
			name:    "defaults sum to one",
			weights: defaultWeights(),
			wantErr: false,
		},
		{
			name: "within tolerance",
			weights: Weights{
				track.SourceRecommendation: 0.655,
				track.SourcePlaylist:       0.35,
			},
			wantErr: false,
		},
		{
			name: "sum too low",
			weights: Weights{
				track.SourceRecommendation: 0.5,
			},
			wantErr: true,
		},
		{
			name: "sum too high",
			weights: Weights{
				track.SourceRecommendation: 0.65,
				track.SourcePlaylist:       0.40,
			},
			wantErr: true,
		},
		{
			name:    "empty",
			weights: Weights{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPickSourceResolvesDraw(t *testing.T) {
	w := defaultWeights()

	tests := []struct {
		name string
		draw float64
		want track.Source
	}{
		{name: "start of recommendation band", draw: 0.0, want: track.SourceRecommendation},
		{name: "end of recommendation band", draw: 0.649, want: track.SourceRecommendation},
		{name: "start of playlist band", draw: 0.65, want: track.SourcePlaylist},
		{name: "end of playlist band", draw: 0.799, want: track.SourcePlaylist},
		{name: "random band", draw: 0.85, want: track.SourceRandom},
		{name: "history band", draw: 0.92, want: track.SourceHistory},
		{name: "popular band", draw: 0.999, want: track.SourcePopular},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PickSource(w, tt.draw, allEligible)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPickSourceRenormalizesOverEligible(t *testing.T) {
	w := defaultWeights()
	noRecommendation := func(s track.Source) bool {
		return s != track.SourceRecommendation
	}

	// With recommendation excluded the remaining mass is 0.35 and the
	// playlist band covers draws below 0.15/0.35.
	got, ok := PickSource(w, 0.42, noRecommendation)
	require.True(t, ok)
	assert.Equal(t, track.SourcePlaylist, got)

	got, ok = PickSource(w, 0.44, noRecommendation)
	require.True(t, ok)
	assert.Equal(t, track.SourceRandom, got)
}

func TestPickSourceNothingEligible(t *testing.T) {
	_, ok := PickSource(defaultWeights(), 0.5, func(track.Source) bool { return false })
	assert.False(t, ok)

	_, ok = PickSource(Weights{}, 0.5, allEligible)
	assert.False(t, ok)
}

func TestPickSourceZeroWeightExcluded(t *testing.T) {
	w := Weights{
		track.SourceRecommendation: 0,
		track.SourcePlaylist:       1.0,
	}
	for _, draw := range []float64{0.0, 0.5, 0.999} {
		got, ok := PickSource(w, draw, allEligible)
		require.True(t, ok)
		assert.Equal(t, track.SourcePlaylist, got)
	}
}

func TestPickSourceDistribution(t *testing.T) {
	w := defaultWeights()
	rng := rand.New(rand.NewSource(42))

	const trials = 100000
	counts := map[track.Source]int{}
	for i := 0; i < trials; i++ {
		s, ok := PickSource(w, rng.Float64(), allEligible)
		require.True(t, ok)
		counts[s]++
	}

	for source, weight := range w {
		freq := float64(counts[source]) / float64(trials)
		assert.InDelta(t, weight, freq, 0.02, "source %s drawn at %.4f, weight %.2f", source, freq, weight)
	}
}
