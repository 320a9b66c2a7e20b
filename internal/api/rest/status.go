package rest

import (
	"net/http"
	"strconv"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/gachaboo/miu/internal/app/notification"
	"github.com/gachaboo/miu/internal/domain/track"
	"github.com/gachaboo/miu/internal/infra/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type minimalStatusResponse struct {
	Status      string `json:"status"`
	Title       string `json:"title,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

type queueResponse struct {
	Queue []notification.TrackView `json:"queue"`
	Count int                      `json:"count"`
}

type positionResponse struct {
	PositionMs int64 `json:"positionMs"`
	DurationMs int64 `json:"durationMs"`
}

type historyEntry struct {
	ContentID   string `json:"contentId"`
	Title       string `json:"title"`
	ArtistLine  string `json:"artistLine"`
	RequestedBy string `json:"requestedBy"`
	IsAutoplay  bool   `json:"isAutoplay"`
	Source      string `json:"source,omitempty"`
	Event       string `json:"event"`
	PlayedAt    string `json:"playedAt"`
}

type historyResponse struct {
	History []historyEntry `json:"history"`
	Count   int            `json:"count"`
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	snap := a.player.GetState()
	ev := notification.NewStateEvent(snap, a.player.GetQueue(), a.registry.Count(), a.player.GetPosition().Milliseconds())
	writeJSON(w, http.StatusOK, ev)
}

func (a *API) handleMinimalStatus(w http.ResponseWriter, r *http.Request) {
	snap := a.player.GetState()
	resp := minimalStatusResponse{Status: snap.Status.String()}
	if snap.CurrentTrack != nil {
		resp.Title = snap.CurrentTrack.Title
		resp.RequestedBy = snap.CurrentTrack.RequestedBy.DisplayName
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	items := a.player.GetQueue()
	writeJSON(w, http.StatusOK, queueResponse{
		Queue: lo.Map(items, func(item track.QueueItem, _ int) notification.TrackView {
			return notification.NewTrackView(item)
		}),
		Count: len(items),
	})
}

func (a *API) handlePosition(w http.ResponseWriter, r *http.Request) {
	resp := positionResponse{PositionMs: a.player.GetPosition().Milliseconds()}
	if cur := a.player.GetCurrentTrack(); cur != nil {
		resp.DurationMs = cur.Duration.Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	rows, err := a.library.RecentHistory(r.Context(), limit)
	if err != nil {
		zlog.Error().Msgf("rest: history query failed: error=%v", err)
		writeError(w, http.StatusInternalServerError, a.cfg.GetMessage("internal_error"))
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		History: lo.Map(rows, func(rec store.PlayRecord, _ int) historyEntry {
			return historyEntry{
				ContentID:   rec.ContentID,
				Title:       rec.Title,
				ArtistLine:  rec.ArtistLine,
				RequestedBy: rec.RequesterName,
				IsAutoplay:  rec.IsAutoplay,
				Source:      rec.Source,
				Event:       rec.Event,
				PlayedAt:    time.Unix(rec.PlayedAt, 0).UTC().Format(time.RFC3339),
			}
		}),
		Count: len(rows),
	})
}
