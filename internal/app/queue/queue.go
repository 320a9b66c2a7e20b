// Package queue provides the combined track queue: a user-requested
// sub-queue followed by an autoplay sub-queue.
package queue

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gachaboo/miu/internal/domain/track"
)

// Errors
var (
	ErrQueueLimitReached = errors.New("requester queue limit reached")
	ErrRecentlyPlayed    = errors.New("track was played recently")
	ErrInvalidPosition   = errors.New("invalid queue position")
)

// Config holds queue configuration.
type Config struct {
	RequesterLimit int           // Max outstanding items per requester
	RecentWindow   time.Duration // Repeat-rejection window
	AutoplayTarget int           // Target size of the autoplay sub-queue
}

// Queue maintains the two FIFO sub-queues and the recent-play ledger.
// The combined view is the user sub-queue followed by the autoplay
// sub-queue.
type Queue struct {
	mu sync.RWMutex

	cfg      Config
	user     []track.QueueItem
	autoplay []track.QueueItem

	// Recent-play ledger: content id -> last time it was requested or
	// dequeued for playback. Pruned lazily.
	recent map[string]time.Time
}

// New creates an empty queue.
func New(cfg Config) *Queue {
	return &Queue{
		cfg:    cfg,
		recent: make(map[string]time.Time),
	}
}

// AddTrack appends a user request and returns its combined position.
// Rejects with ErrQueueLimitReached when the requester already has the
// configured number of outstanding items, and with ErrRecentlyPlayed when
// the content id was requested or played within the recent window, unless
// override is set.
func (q *Queue) AddTrack(item track.QueueItem, override bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	outstanding := 0
	for _, it := range q.user {
		if it.RequestedBy.ID == item.RequestedBy.ID {
			outstanding++
		}
	}
	if q.cfg.RequesterLimit > 0 && outstanding >= q.cfg.RequesterLimit {
		return 0, ErrQueueLimitReached
	}

	if !override && q.playedRecentlyLocked(item.ContentID) {
		return 0, ErrRecentlyPlayed
	}

	q.user = append(q.user, item)
	q.recent[item.ContentID] = time.Now()

	return len(q.user) - 1, nil
}

// AddAutoplayTrack appends a system-selected track. It bypasses the
// per-requester limit; it is dropped when the content id is already queued
// or the autoplay sub-queue has reached its target size.
func (q *Queue) AddAutoplayTrack(item track.QueueItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.AutoplayTarget > 0 && len(q.autoplay) >= q.cfg.AutoplayTarget {
		return false
	}
	if q.containsLocked(item.ContentID) {
		return false
	}

	q.autoplay = append(q.autoplay, item)
	return true
}

// NextTrack pops the front of the user sub-queue, else the front of the
// autoplay sub-queue, else returns nil. The popped content id is recorded
// in the recent-play ledger.
func (q *Queue) NextTrack() *track.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var item track.QueueItem
	switch {
	case len(q.user) > 0:
		item = q.user[0]
		q.user = q.user[1:]
	case len(q.autoplay) > 0:
		item = q.autoplay[0]
		q.autoplay = q.autoplay[1:]
	default:
		return nil
	}

	q.recent[item.ContentID] = time.Now()
	q.pruneRecentLocked()
	return &item
}

// RemoveAt removes the item at the given combined position and returns it.
func (q *Queue) RemoveAt(pos int) (*track.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pos < 0 || pos >= len(q.user)+len(q.autoplay) {
		return nil, ErrInvalidPosition
	}

	if pos < len(q.user) {
		item := q.user[pos]
		q.user = append(q.user[:pos], q.user[pos+1:]...)
		return &item, nil
	}

	pos -= len(q.user)
	item := q.autoplay[pos]
	q.autoplay = append(q.autoplay[:pos], q.autoplay[pos+1:]...)
	return &item, nil
}

// Clear empties both sub-queues and returns the number of removed items.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.user) + len(q.autoplay)
	q.user = nil
	q.autoplay = nil
	return n
}

// Items returns a copy of the combined view, user items first.
func (q *Queue) Items() []track.QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]track.QueueItem, 0, len(q.user)+len(q.autoplay))
	items = append(items, q.user...)
	items = append(items, q.autoplay...)
	return items
}

// Len returns the combined queue length.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.user) + len(q.autoplay)
}

// UserLen returns the user sub-queue length.
func (q *Queue) UserLen() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.user)
}

// AutoplayLen returns the autoplay sub-queue length.
func (q *Queue) AutoplayLen() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.autoplay)
}

// Contains reports whether the content id is queued in either sub-queue.
func (q *Queue) Contains(contentID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.containsLocked(contentID)
}

// QueuedIDs returns the set of queued content ids, for candidate exclusion.
func (q *Queue) QueuedIDs() map[string]bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make(map[string]bool, len(q.user)+len(q.autoplay))
	for _, it := range q.user {
		ids[it.ContentID] = true
	}
	for _, it := range q.autoplay {
		ids[it.ContentID] = true
	}
	return ids
}

// PlayedRecently reports whether the content id is inside the recent
// window.
func (q *Queue) PlayedRecently(contentID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.playedRecentlyLocked(contentID)
}

func (q *Queue) containsLocked(contentID string) bool {
	for _, it := range q.user {
		if it.ContentID == contentID {
			return true
		}
	}
	for _, it := range q.autoplay {
		if it.ContentID == contentID {
			return true
		}
	}
	return false
}

func (q *Queue) playedRecentlyLocked(contentID string) bool {
	if q.cfg.RecentWindow <= 0 {
		return false
	}
	at, ok := q.recent[contentID]
	if !ok {
		return false
	}
	return time.Since(at) < q.cfg.RecentWindow
}

// pruneRecentLocked drops expired ledger entries. Must hold the lock.
func (q *Queue) pruneRecentLocked() {
	if q.cfg.RecentWindow <= 0 {
		return
	}
	cutoff := time.Now().Add(-q.cfg.RecentWindow)
	for id, at := range q.recent {
		if at.Before(cutoff) {
			delete(q.recent, id)
		}
	}
}
