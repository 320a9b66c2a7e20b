// Package rest exposes the player over HTTP: read-only state endpoints,
// the live SSE stream, and token-guarded command endpoints.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gachaboo/miu/internal/app/notification"
	"github.com/gachaboo/miu/internal/app/orchestrator"
	"github.com/gachaboo/miu/internal/app/player"
	"github.com/gachaboo/miu/internal/domain/track"
	"github.com/gachaboo/miu/internal/infra/config"
	"github.com/gachaboo/miu/internal/infra/store"
)

// Player is the command and query surface the API drives.
type Player interface {
	Play(ctx context.Context, req orchestrator.PlayRequest) orchestrator.Result
	Skip(ctx context.Context) orchestrator.Result
	Pause(ctx context.Context) orchestrator.Result
	Resume(ctx context.Context) orchestrator.Result
	SetVolume(ctx context.Context, v float64) orchestrator.Result
	SetAutoplay(ctx context.Context, enabled bool) orchestrator.Result
	SetActivePlaylist(ctx context.Context, id string) orchestrator.Result
	RemoveFromQueue(ctx context.Context, pos int) orchestrator.Result
	ClearQueue(ctx context.Context) orchestrator.Result
	SetRemotePresence(present bool)
	GetState() player.Snapshot
	GetQueue() []track.QueueItem
	GetCurrentTrack() *track.QueueItem
	GetPosition() time.Duration
}

// Library covers the persistence operations the API reads and writes
// directly: play history and the autoplay blocklist.
type Library interface {
	RecentHistory(ctx context.Context, n int) ([]store.PlayRecord, error)
	BlockedTracks(ctx context.Context) ([]store.BlockedTrack, error)
	Block(ctx context.Context, contentID, title, reason string) error
	Unblock(ctx context.Context, contentID string) error
}

// Deps bundles what the API serves from.
type Deps struct {
	Player   Player
	Library  Library
	Registry *notification.ListenerRegistry
	// Stream handles the live SSE endpoint. Nil disables it.
	Stream http.Handler
	Config *config.Config
}

// API holds the HTTP handlers.
type API struct {
	player   Player
	library  Library
	registry *notification.ListenerRegistry
	stream   http.Handler
	cfg      *config.Config
}

// New creates the API from its dependencies.
func New(deps Deps) *API {
	return &API{
		player:   deps.Player,
		library:  deps.Library,
		registry: deps.Registry,
		stream:   deps.Stream,
		cfg:      deps.Config,
	}
}

// Register mounts every endpoint on the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/backend/api/music/state", methodGuard(http.MethodGet, a.handleState))
	mux.HandleFunc("/backend/api/music/minimal-status", methodGuard(http.MethodGet, a.handleMinimalStatus))
	mux.HandleFunc("/backend/api/music/queue", methodGuard(http.MethodGet, a.handleQueue))
	mux.HandleFunc("/backend/api/music/position", methodGuard(http.MethodGet, a.handlePosition))
	mux.HandleFunc("/backend/api/music/history", methodGuard(http.MethodGet, a.handleHistory))
	if a.stream != nil {
		mux.Handle("/backend/api/music/state/live", a.stream)
	}

	mux.HandleFunc("/backend/api/music/command/play", a.requireAdmin(methodGuard(http.MethodPost, a.handlePlay)))
	mux.HandleFunc("/backend/api/music/command/skip", a.requireAdmin(methodGuard(http.MethodPost, a.handleSkip)))
	mux.HandleFunc("/backend/api/music/command/pause", a.requireAdmin(methodGuard(http.MethodPost, a.handlePause)))
	mux.HandleFunc("/backend/api/music/command/resume", a.requireAdmin(methodGuard(http.MethodPost, a.handleResume)))
	mux.HandleFunc("/backend/api/music/command/volume", a.requireAdmin(methodGuard(http.MethodPost, a.handleVolume)))
	mux.HandleFunc("/backend/api/music/command/autoplay", a.requireAdmin(methodGuard(http.MethodPost, a.handleAutoplay)))
	mux.HandleFunc("/backend/api/music/command/playlist", a.requireAdmin(methodGuard(http.MethodPost, a.handlePlaylist)))
	mux.HandleFunc("/backend/api/music/command/remove", a.requireAdmin(methodGuard(http.MethodPost, a.handleRemove)))
	mux.HandleFunc("/backend/api/music/command/clear", a.requireAdmin(methodGuard(http.MethodPost, a.handleClear)))
	mux.HandleFunc("/backend/api/music/command/presence", a.requireAdmin(methodGuard(http.MethodPost, a.handlePresence)))

	mux.HandleFunc("/backend/api/music/admin/blocked", a.requireAdmin(methodGuard(http.MethodGet, a.handleBlockedList)))
	mux.HandleFunc("/backend/api/music/admin/block", a.requireAdmin(methodGuard(http.MethodPost, a.handleBlock)))
	mux.HandleFunc("/backend/api/music/admin/unblock", a.requireAdmin(methodGuard(http.MethodPost, a.handleUnblock)))
	mux.HandleFunc("/backend/api/music/admin/listeners", a.requireAdmin(methodGuard(http.MethodGet, a.handleListeners)))
}

func methodGuard(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}
