// Package track provides the queue item domain entities.
package track

import (
	"strings"
	"time"
)

// Source identifies which autoplay source selected a track.
type Source int

const (
	SourceNone           Source = iota // User request, not autoplay
	SourceRecommendation               // Recommendation mix pool
	SourcePlaylist                     // Curated playlist
	SourceHistory                      // Listening history favorites
	SourcePopular                      // Global popularity
	SourceRandom                       // Random catalog sample
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceRecommendation:
		return "recommendation"
	case SourcePlaylist:
		return "playlist"
	case SourceHistory:
		return "history"
	case SourcePopular:
		return "popular"
	case SourceRandom:
		return "random"
	default:
		return "unknown"
	}
}

// ParseSource maps a source name back to its Source value.
func ParseSource(name string) (Source, bool) {
	switch name {
	case "recommendation":
		return SourceRecommendation, true
	case "playlist":
		return SourcePlaylist, true
	case "history":
		return SourceHistory, true
	case "popular":
		return SourcePopular, true
	case "random":
		return SourceRandom, true
	default:
		return SourceNone, false
	}
}

// Requester represents the person who requested a track.
type Requester struct {
	ID          string // Stable requester identity
	DisplayName string // Display name
	AvatarRef   string // Avatar reference (URL or external id)
}

// QueueItem represents one entry in the playback queue.
// It is read-only once enqueued.
type QueueItem struct {
	ContentID      string        // Stable catalog identifier
	Title          string        // Track title
	Artists        []string      // Artist names
	Album          string        // Album name
	Thumbnail      string        // Album art / thumbnail URL
	Duration       time.Duration // Track duration
	URL            string        // Catalog URL
	Popularity     int           // Catalog popularity score (0-100)
	RequestedBy    Requester     // Who requested it (system identity for autoplay)
	RequestedAt    time.Time     // When it was enqueued; dedup/ordering key
	IsAutoplay     bool          // True if system-initiated
	AutoplaySource Source        // Which autoplay source picked it
}

// ArtistLine returns the artists joined for display.
func (i QueueItem) ArtistLine() string {
	return strings.Join(i.Artists, ", ")
}

// Key returns the unique (ContentID, RequestedAt) identity of the entry.
func (i QueueItem) Key() string {
	return i.ContentID + "@" + i.RequestedAt.UTC().Format(time.RFC3339Nano)
}

// AutoplayRequester is the requester identity stamped on autoplay items.
func AutoplayRequester(source Source) Requester {
	return Requester{
		ID:          "autoplay",
		DisplayName: "Autoplay (" + source.String() + ")",
	}
}
