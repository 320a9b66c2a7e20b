package autoplay

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/gachaboo/miu/internal/domain/track"
)

// weightSumTolerance is the allowed drift of the configured weight sum
// from 1.0 before a warning is raised.
const weightSumTolerance = 0.01

// selectionOrder fixes the iteration order of the weighted draw so a
// given (weights, draw) pair always resolves to the same source.
var selectionOrder = []track.Source{
	track.SourceRecommendation,
	track.SourcePlaylist,
	track.SourceRandom,
	track.SourceHistory,
	track.SourcePopular,
}

// Weights maps each selection source to its probability mass.
type Weights map[track.Source]float64

// Sum returns the total configured probability mass.
func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// Validate reports whether the weights sum to 1.0 within tolerance.
// Selection normalizes over the eligible mass either way, so a failed
// validation is a warning condition rather than a hard error.
func (w Weights) Validate() error {
	sum := w.Sum()
	if math.Abs(sum-1.0) > weightSumTolerance {
		return errors.Newf("source weights sum to %.4f, expected 1.0", sum)
	}
	return nil
}

// PickSource resolves a weighted draw to a selection source. draw must be
// in [0, 1). Sources with no weight or rejected by eligible are excluded
// and the remaining mass is renormalized, so the relative odds between
// eligible sources are preserved. Returns false when nothing is eligible.
func PickSource(w Weights, draw float64, eligible func(track.Source) bool) (track.Source, bool) {
	var total float64
	for _, s := range selectionOrder {
		if w[s] <= 0 || !eligible(s) {
			continue
		}
		total += w[s]
	}
	if total <= 0 {
		return track.SourceNone, false
	}

	x := draw * total
	var acc float64
	last := track.SourceNone
	for _, s := range selectionOrder {
		if w[s] <= 0 || !eligible(s) {
			continue
		}
		acc += w[s]
		last = s
		if x < acc {
			return s, true
		}
	}
	// Float accumulation can leave x just short of the total.
	return last, true
}
