package rest

import (
	"net/http"

	"github.com/gachaboo/miu/internal/app/orchestrator"
	"github.com/gachaboo/miu/internal/domain/track"
)

type requesterPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type playRequest struct {
	Content   string           `json:"content"`
	Requester requesterPayload `json:"requester"`
	Source    string           `json:"source,omitempty"`
	Override  bool             `json:"override,omitempty"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

type autoplayRequest struct {
	Enabled *bool `json:"enabled"`
}

type playlistRequest struct {
	PlaylistID string `json:"playlistId"`
}

type removeRequest struct {
	Position *int `json:"position"`
}

type presenceRequest struct {
	Present *bool `json:"present"`
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Requester.ID == "" {
		writeError(w, http.StatusBadRequest, "requester.id is required")
		return
	}

	a.writeResult(w, a.player.Play(r.Context(), orchestrator.PlayRequest{
		ContentRef: req.Content,
		SourceHint: req.Source,
		Requester: track.Requester{
			ID:          req.Requester.ID,
			DisplayName: req.Requester.Name,
			AvatarRef:   req.Requester.Avatar,
		},
		Override: req.Override,
	}))
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	a.writeResult(w, a.player.Skip(r.Context()))
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.writeResult(w, a.player.Pause(r.Context()))
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	a.writeResult(w, a.player.Resume(r.Context()))
}

func (a *API) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Volume == nil {
		writeError(w, http.StatusBadRequest, "volume is required")
		return
	}
	a.writeResult(w, a.player.SetVolume(r.Context(), *req.Volume))
}

func (a *API) handleAutoplay(w http.ResponseWriter, r *http.Request) {
	var req autoplayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	a.writeResult(w, a.player.SetAutoplay(r.Context(), *req.Enabled))
}

// handlePlaylist switches the curated playlist autoplay draws from. An
// empty id clears the selection.
func (a *API) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a.writeResult(w, a.player.SetActivePlaylist(r.Context(), req.PlaylistID))
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Position == nil {
		writeError(w, http.StatusBadRequest, "position is required")
		return
	}
	a.writeResult(w, a.player.RemoveFromQueue(r.Context(), *req.Position))
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	a.writeResult(w, a.player.ClearQueue(r.Context()))
}

func (a *API) handlePresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Present == nil {
		writeError(w, http.StatusBadRequest, "present is required")
		return
	}
	a.player.SetRemotePresence(*req.Present)
	writeJSON(w, http.StatusOK, commandResponse{Success: true, Message: a.cfg.GetMessage("success")})
}
