package rest

import (
	"encoding/json"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/notification"
	"github.com/gachaboo/miu/internal/app/orchestrator"
)

// commandResponse is the envelope every command endpoint returns. Track
// and Position are set when an operation touched a specific queue entry.
type commandResponse struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message"`
	Track    *notification.TrackView `json:"track,omitempty"`
	Position int                     `json:"position,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Msgf("rest: response encoding failed: error=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, commandResponse{Success: false, Message: message})
}

// writeResult maps a command outcome to the envelope, translating the
// rejection code to the configured operator-facing message.
func (a *API) writeResult(w http.ResponseWriter, res orchestrator.Result) {
	resp := commandResponse{Success: res.Success, Message: a.cfg.GetMessage(res.Code)}
	if res.Item != nil {
		v := notification.NewTrackView(*res.Item)
		resp.Track = &v
		resp.Position = res.Position
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody reads a JSON request body, replying 400 on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
