package notification

import (
	"time"

	"github.com/samber/lo"

	"github.com/gachaboo/miu/internal/app/player"
	"github.com/gachaboo/miu/internal/domain/track"
)

// TrackView is the wire representation of a queue item, shared by the
// live stream and the REST snapshots.
type TrackView struct {
	ContentID       string   `json:"contentId"`
	Title           string   `json:"title"`
	ArtistLine      string   `json:"artistLine"`
	Artists         []string `json:"artists,omitempty"`
	Album           string   `json:"album,omitempty"`
	Thumbnail       string   `json:"thumbnail,omitempty"`
	DurationMs      int64    `json:"durationMs"`
	URL             string   `json:"url,omitempty"`
	RequestedBy     string   `json:"requestedBy"`
	RequesterAvatar string   `json:"requesterAvatar,omitempty"`
	IsAutoplay      bool     `json:"isAutoplay"`
	AutoplaySource  string   `json:"autoplaySource,omitempty"`
}

// NewTrackView converts a queue item for the wire.
func NewTrackView(item track.QueueItem) TrackView {
	return TrackView{
		ContentID:       item.ContentID,
		Title:           item.Title,
		ArtistLine:      item.ArtistLine(),
		Artists:         item.Artists,
		Album:           item.Album,
		Thumbnail:       item.Thumbnail,
		DurationMs:      item.Duration.Milliseconds(),
		URL:             item.URL,
		RequestedBy:     item.RequestedBy.DisplayName,
		RequesterAvatar: item.RequestedBy.AvatarRef,
		IsAutoplay:      item.IsAutoplay,
		AutoplaySource:  string(item.AutoplaySource),
	}
}

// StateEvent is the combined player-plus-queue snapshot pushed on the
// `state` stream event and returned by the state endpoint.
type StateEvent struct {
	Status           string      `json:"status"`
	CurrentTrack     *TrackView  `json:"currentTrack"`
	PositionMs       int64       `json:"positionMs"`
	Volume           float64     `json:"volume"`
	AutoplayEnabled  bool        `json:"autoplayEnabled"`
	ActivePlaylistID string      `json:"activePlaylistId,omitempty"`
	Queue            []TrackView `json:"queue"`
	Listeners        int         `json:"listeners"`
}

// NewStateEvent builds the combined snapshot.
func NewStateEvent(snap player.Snapshot, queued []track.QueueItem, listeners int, positionMs int64) StateEvent {
	ev := StateEvent{
		Status:           snap.Status.String(),
		PositionMs:       positionMs,
		Volume:           snap.Volume,
		AutoplayEnabled:  snap.AutoplayEnabled,
		ActivePlaylistID: snap.ActivePlaylistID,
		Queue: lo.Map(queued, func(item track.QueueItem, _ int) TrackView {
			return NewTrackView(item)
		}),
		Listeners: listeners,
	}
	if snap.CurrentTrack != nil {
		tv := NewTrackView(*snap.CurrentTrack)
		ev.CurrentTrack = &tv
	}
	return ev
}

// SyncPlayEvent marks a track start so clients can align their local
// playback clocks.
type SyncPlayEvent struct {
	ContentID  string    `json:"contentId"`
	Title      string    `json:"title"`
	StartedAt  time.Time `json:"startedAt"`
	PositionMs int64     `json:"positionMs"`
}

// HeartbeatEvent keeps idle streams warm.
type HeartbeatEvent struct {
	At        time.Time `json:"at"`
	Listeners int       `json:"listeners"`
}
