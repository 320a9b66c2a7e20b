// Package main provides the control CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/gachaboo/miu/internal/app/notification"
)

const apiBase = "/backend/api/music"

var (
	app    = kingpin.New("miuctl", "miu shared music queue control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Show the player state")

	// queue command
	queueCmd = app.Command("queue", "Show the upcoming queue")

	// position command
	positionCmd = app.Command("position", "Show the playback position")

	// history command
	historyCmd   = app.Command("history", "Show recently played tracks")
	historyLimit = historyCmd.Flag("limit", "Number of entries").Default("20").Int()

	// play command
	playCmd           = app.Command("play", "Queue a track")
	playContent       = playCmd.Arg("content", "Track link, id or search terms").Required().String()
	playRequesterID   = playCmd.Flag("requester-id", "Requester id").Default("miuctl").String()
	playRequesterName = playCmd.Flag("requester-name", "Requester display name").Default("miuctl").String()
	playSource        = playCmd.Flag("source", "Resolution hint (track or search)").String()
	playOverride      = playCmd.Flag("override", "Bypass the recently-played guard").Bool()

	// skip command
	skipCmd = app.Command("skip", "Skip the current track")

	// pause command
	pauseCmd = app.Command("pause", "Pause playback")

	// resume command
	resumeCmd = app.Command("resume", "Resume playback")

	// volume command
	volumeCmd   = app.Command("volume", "Set the playback volume")
	volumeLevel = volumeCmd.Arg("level", "Volume between 0 and 1").Required().Float64()

	// autoplay command
	autoplayCmd   = app.Command("autoplay", "Turn autoplay on or off")
	autoplayState = autoplayCmd.Arg("state", "on or off").Required().Enum("on", "off")

	// playlist command
	playlistCmd = app.Command("playlist", "Switch the curated autoplay playlist")
	playlistID  = playlistCmd.Arg("playlist-id", "Playlist id (omit to clear)").String()

	// remove command
	removeCmd = app.Command("remove", "Remove a queued track")
	removePos = removeCmd.Arg("position", "Queue position (1-based)").Required().Int()

	// clear command
	clearCmd = app.Command("clear", "Clear user-queued tracks")

	// presence command
	presenceCmd   = app.Command("presence", "Override remote presence")
	presenceState = presenceCmd.Arg("state", "on or off").Required().Enum("on", "off")

	// blocked command
	blockedCmd = app.Command("blocked", "List blocked tracks")

	// block command
	blockCmd       = app.Command("block", "Block a track from playing")
	blockContentID = blockCmd.Arg("content-id", "Content id").Required().String()
	blockTitle     = blockCmd.Flag("title", "Track title for the listing").String()
	blockReason    = blockCmd.Flag("reason", "Why the track is blocked").String()

	// unblock command
	unblockCmd       = app.Command("unblock", "Remove a track from the blocklist")
	unblockContentID = unblockCmd.Arg("content-id", "Content id").Required().String()

	// listeners command
	listenersCmd = app.Command("listeners", "List live stream listeners").Alias("list")

	// watch command
	watchCmd = app.Command("watch", "Follow the live stream")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	c := &client{
		base:  strings.TrimRight(*server, "/"),
		token: *token,
		http:  http.DefaultClient,
	}

	// Execute command
	switch command {
	case statusCmd.FullCommand():
		showStatus(c)
	case queueCmd.FullCommand():
		showQueue(c)
	case positionCmd.FullCommand():
		showPosition(c)
	case historyCmd.FullCommand():
		showHistory(c, *historyLimit)
	case playCmd.FullCommand():
		play(c)
	case skipCmd.FullCommand():
		runCommand(c, "/command/skip", nil, "Track skipped")
	case pauseCmd.FullCommand():
		runCommand(c, "/command/pause", nil, "Playback paused")
	case resumeCmd.FullCommand():
		runCommand(c, "/command/resume", nil, "Playback resumed")
	case volumeCmd.FullCommand():
		runCommand(c, "/command/volume",
			map[string]any{"volume": *volumeLevel},
			fmt.Sprintf("Volume set to %.2f", *volumeLevel))
	case autoplayCmd.FullCommand():
		runCommand(c, "/command/autoplay",
			map[string]any{"enabled": *autoplayState == "on"},
			fmt.Sprintf("Autoplay turned %s", *autoplayState))
	case playlistCmd.FullCommand():
		msg := "Playlist cleared"
		if *playlistID != "" {
			msg = fmt.Sprintf("Playlist switched to %s", *playlistID)
		}
		runCommand(c, "/command/playlist", map[string]any{"playlistId": *playlistID}, msg)
	case removeCmd.FullCommand():
		removeTrack(c, *removePos)
	case clearCmd.FullCommand():
		runCommand(c, "/command/clear", nil, "Queue cleared")
	case presenceCmd.FullCommand():
		runCommand(c, "/command/presence",
			map[string]any{"present": *presenceState == "on"},
			fmt.Sprintf("Presence override set to %s", *presenceState))
	case blockedCmd.FullCommand():
		showBlocked(c)
	case blockCmd.FullCommand():
		runCommand(c, "/admin/block",
			map[string]any{"contentId": *blockContentID, "title": *blockTitle, "reason": *blockReason},
			"Track blocked")
	case unblockCmd.FullCommand():
		runCommand(c, "/admin/unblock",
			map[string]any{"contentId": *unblockContentID},
			"Track unblocked")
	case listenersCmd.FullCommand():
		showListeners(c)
	case watchCmd.FullCommand():
		watch(c)
	}
}

// client is a thin wrapper over the server's HTTP API.
type client struct {
	base  string
	token string
	http  *http.Client
}

// commandResult mirrors the command response envelope.
type commandResult struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message"`
	Track    *notification.TrackView `json:"track,omitempty"`
	Position int                     `json:"position,omitempty"`
}

func (c *client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.base+apiBase+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// post sends a command. Rejections come back as HTTP 200 with
// success=false, so a non-200 status is a transport or auth problem.
func (c *client) post(path string, body any) (*commandResult, error) {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.base+apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var result commandResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *client) statusError(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		return fmt.Errorf("%s (HTTP %d)", body.Message, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

// runCommand posts a command and prints the outcome.
func runCommand(c *client, path string, body any, done string) {
	res, err := c.post(path, body)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if res.Success {
		fmt.Println(done)
	} else {
		fmt.Printf("Failed: %s\n", res.Message)
	}
}

func showStatus(c *client) {
	var state notification.StateEvent
	if err := c.get("/state", &state); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n=== PLAYER STATUS ===")
	fmt.Printf("Status: %s\n", formatStatus(state.Status))
	fmt.Printf("Volume: %.2f\n", state.Volume)
	fmt.Printf("Autoplay: %v\n", state.AutoplayEnabled)
	if state.ActivePlaylistID != "" {
		fmt.Printf("Active Playlist: %s\n", state.ActivePlaylistID)
	}
	fmt.Printf("Listeners: %d\n", state.Listeners)
	fmt.Printf("Queue Size: %d\n", len(state.Queue))

	if state.CurrentTrack != nil {
		fmt.Println("\nCurrently Playing:")
		printTrack(*state.CurrentTrack, state.PositionMs)
	} else {
		fmt.Println("\nNo track currently playing")
	}
	fmt.Println()
}

func showQueue(c *client) {
	var resp struct {
		Queue []notification.TrackView `json:"queue"`
		Count int                      `json:"count"`
	}
	if err := c.get("/queue", &resp); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if resp.Count == 0 {
		fmt.Println("Queue is empty")
		return
	}

	fmt.Printf("Queue (%d):\n", resp.Count)
	for i, t := range resp.Queue {
		fmt.Printf("  %2d. %s - %s [%s] (%s)\n",
			i+1, t.Title, t.ArtistLine, formatDuration(t.DurationMs), requesterLabel(t))
	}
}

func showPosition(c *client) {
	var resp struct {
		PositionMs int64 `json:"positionMs"`
		DurationMs int64 `json:"durationMs"`
	}
	if err := c.get("/position", &resp); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s / %s\n", formatDuration(resp.PositionMs), formatDuration(resp.DurationMs))
}

func showHistory(c *client, limit int) {
	var resp struct {
		History []struct {
			ContentID   string `json:"contentId"`
			Title       string `json:"title"`
			ArtistLine  string `json:"artistLine"`
			RequestedBy string `json:"requestedBy"`
			IsAutoplay  bool   `json:"isAutoplay"`
			Source      string `json:"source"`
			Event       string `json:"event"`
			PlayedAt    string `json:"playedAt"`
		} `json:"history"`
		Count int `json:"count"`
	}
	if err := c.get(fmt.Sprintf("/history?limit=%d", limit), &resp); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if resp.Count == 0 {
		fmt.Println("No plays recorded yet")
		return
	}

	fmt.Printf("History (%d):\n", resp.Count)
	for _, e := range resp.History {
		requester := e.RequestedBy
		if e.IsAutoplay {
			requester = "autoplay"
			if e.Source != "" {
				requester = "autoplay/" + e.Source
			}
		}
		fmt.Printf("  %s  %-9s %s - %s (%s)\n",
			e.PlayedAt, e.Event, e.Title, e.ArtistLine, requester)
	}
}

func play(c *client) {
	body := map[string]any{
		"content": *playContent,
		"requester": map[string]any{
			"id":   *playRequesterID,
			"name": *playRequesterName,
		},
	}
	if *playSource != "" {
		body["source"] = *playSource
	}
	if *playOverride {
		body["override"] = true
	}

	res, err := c.post("/command/play", body)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if !res.Success {
		fmt.Printf("Rejected: %s\n", res.Message)
		return
	}

	if res.Track != nil {
		fmt.Printf("Queued at position %d: %s - %s\n", res.Position, res.Track.Title, res.Track.ArtistLine)
	} else {
		fmt.Printf("Queued at position %d\n", res.Position)
	}
}

func removeTrack(c *client, position int) {
	res, err := c.post("/command/remove", map[string]any{"position": position})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if !res.Success {
		fmt.Printf("Failed: %s\n", res.Message)
		return
	}

	if res.Track != nil {
		fmt.Printf("Removed: %s - %s\n", res.Track.Title, res.Track.ArtistLine)
	} else {
		fmt.Println("Track removed")
	}
}

func showBlocked(c *client) {
	var resp struct {
		Blocked []struct {
			ContentID string `json:"contentId"`
			Title     string `json:"title"`
			Reason    string `json:"reason"`
			BlockedAt string `json:"blockedAt"`
		} `json:"blocked"`
		Count int `json:"count"`
	}
	if err := c.get("/admin/blocked", &resp); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if resp.Count == 0 {
		fmt.Println("No blocked tracks")
		return
	}

	fmt.Printf("Blocked tracks (%d):\n", resp.Count)
	for _, b := range resp.Blocked {
		title := b.Title
		if title == "" {
			title = "(unknown title)"
		}
		line := fmt.Sprintf("  %s: %s (blocked: %s", b.ContentID, title, b.BlockedAt)
		if b.Reason != "" {
			line += ", reason: " + b.Reason
		}
		fmt.Println(line + ")")
	}
}

func showListeners(c *client) {
	var resp struct {
		Listeners []notification.Listener `json:"listeners"`
		Count     int                     `json:"count"`
	}
	if err := c.get("/admin/listeners", &resp); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Listeners (%d):\n", resp.Count)
	for _, l := range resp.Listeners {
		fmt.Printf("  %s (joined: %s, last seen: %s)\n",
			l.ID, l.JoinedAt.Format(time.RFC3339), l.LastSeen.Format(time.RFC3339))
	}
}

func watch(c *client) {
	req, err := http.NewRequest(http.MethodGet, c.base+apiBase+"/state/live", nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Error: %v\n", c.statusError(resp))
		os.Exit(1)
	}

	fmt.Println("Following the live stream. Press Ctrl+C to exit.")

	// Handle shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nDisconnecting...")
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event != "" || data != "" {
				printEvent(event, data)
			}
			event, data = "", ""
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printEvent(event, data string) {
	switch event {
	case "state":
		var state notification.StateEvent
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			fmt.Printf("Bad state payload: %v\n", err)
			return
		}
		fmt.Println("\n=== STATE ===")
		fmt.Printf("Status: %s\n", formatStatus(state.Status))
		if state.CurrentTrack != nil {
			fmt.Printf("Now: %s - %s (%s)\n",
				state.CurrentTrack.Title, state.CurrentTrack.ArtistLine, requesterLabel(*state.CurrentTrack))
		}
		fmt.Printf("Queue: %d  Listeners: %d  Volume: %.2f  Autoplay: %v\n",
			len(state.Queue), state.Listeners, state.Volume, state.AutoplayEnabled)
	case "sync_play":
		var sync notification.SyncPlayEvent
		if err := json.Unmarshal([]byte(data), &sync); err != nil {
			fmt.Printf("Bad sync payload: %v\n", err)
			return
		}
		fmt.Println("\n=== TRACK STARTED ===")
		fmt.Printf("Title: %s\n", sync.Title)
		fmt.Printf("Content ID: %s\n", sync.ContentID)
		fmt.Printf("Started at: %s (position %s)\n",
			sync.StartedAt.Format(time.RFC3339), formatDuration(sync.PositionMs))
	case "heartbeat":
		// Keepalive, nothing to show
	default:
		fmt.Printf("\n=== %s ===\n%s\n", strings.ToUpper(event), data)
	}
}

func printTrack(t notification.TrackView, positionMs int64) {
	fmt.Printf("  Title: %s\n", t.Title)
	fmt.Printf("  Artists: %s\n", t.ArtistLine)
	if t.Album != "" {
		fmt.Printf("  Album: %s\n", t.Album)
	}
	fmt.Printf("  Content ID: %s\n", t.ContentID)
	if t.URL != "" {
		fmt.Printf("  URL: %s\n", t.URL)
	}
	fmt.Printf("  Requested by: %s\n", requesterLabel(t))
	fmt.Printf("  Position: %s / %s\n", formatDuration(positionMs), formatDuration(t.DurationMs))
}

func requesterLabel(t notification.TrackView) string {
	if t.IsAutoplay {
		if t.AutoplaySource != "" {
			return "autoplay/" + t.AutoplaySource
		}
		return "autoplay"
	}
	return t.RequestedBy
}

func formatStatus(status string) string {
	switch status {
	case "playing":
		return "▶️  Playing"
	case "paused":
		return "⏸  Paused"
	case "idle":
		return "⏹  Idle"
	default:
		return status
	}
}

func formatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
