package rest

import (
	"net/http"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/gachaboo/miu/internal/app/notification"
	"github.com/gachaboo/miu/internal/infra/store"
)

type blockedEntry struct {
	ContentID string `json:"contentId"`
	Title     string `json:"title,omitempty"`
	Reason    string `json:"reason,omitempty"`
	BlockedAt string `json:"blockedAt"`
}

type blockedResponse struct {
	Blocked []blockedEntry `json:"blocked"`
	Count   int            `json:"count"`
}

type blockRequest struct {
	ContentID string `json:"contentId"`
	Title     string `json:"title,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type listenersResponse struct {
	Listeners []notification.Listener `json:"listeners"`
	Count     int                     `json:"count"`
}

func (a *API) handleBlockedList(w http.ResponseWriter, r *http.Request) {
	rows, err := a.library.BlockedTracks(r.Context())
	if err != nil {
		zlog.Error().Msgf("rest: blocklist query failed: error=%v", err)
		writeError(w, http.StatusInternalServerError, a.cfg.GetMessage("internal_error"))
		return
	}

	writeJSON(w, http.StatusOK, blockedResponse{
		Blocked: lo.Map(rows, func(rec store.BlockedTrack, _ int) blockedEntry {
			return blockedEntry{
				ContentID: rec.ContentID,
				Title:     rec.Title,
				Reason:    rec.Reason,
				BlockedAt: time.Unix(rec.BlockedAt, 0).UTC().Format(time.RFC3339),
			}
		}),
		Count: len(rows),
	})
}

func (a *API) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ContentID == "" {
		writeError(w, http.StatusBadRequest, "contentId is required")
		return
	}

	if err := a.library.Block(r.Context(), req.ContentID, req.Title, req.Reason); err != nil {
		zlog.Error().Msgf("rest: block failed: content_id=%s error=%v", req.ContentID, err)
		writeError(w, http.StatusInternalServerError, a.cfg.GetMessage("internal_error"))
		return
	}

	zlog.Info().Msgf("rest: track blocked: content_id=%s reason=%s", req.ContentID, req.Reason)
	writeJSON(w, http.StatusOK, commandResponse{Success: true, Message: a.cfg.GetMessage("success")})
}

func (a *API) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ContentID == "" {
		writeError(w, http.StatusBadRequest, "contentId is required")
		return
	}

	if err := a.library.Unblock(r.Context(), req.ContentID); err != nil {
		zlog.Error().Msgf("rest: unblock failed: content_id=%s error=%v", req.ContentID, err)
		writeError(w, http.StatusInternalServerError, a.cfg.GetMessage("internal_error"))
		return
	}

	zlog.Info().Msgf("rest: track unblocked: content_id=%s", req.ContentID)
	writeJSON(w, http.StatusOK, commandResponse{Success: true, Message: a.cfg.GetMessage("success")})
}

func (a *API) handleListeners(w http.ResponseWriter, r *http.Request) {
	all := a.registry.All()
	writeJSON(w, http.StatusOK, listenersResponse{Listeners: all, Count: len(all)})
}
