// Package spotify provides a read-only client for the Spotify catalog.
package spotify

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/gachaboo/miu/internal/domain/track"
)

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
}

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(
			spotifyauth.ScopePlaylistReadPrivate,
		),
	)

	// The refresh token alone is enough, access tokens renew on demand.
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	httpClient := auth.Client(ctx, token)
	client := spotify.New(httpClient)

	market := cfg.Market
	if market == "" {
		market = "US"
	}

	return &Client{
		client:     client,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Resolve turns a user-supplied content reference into a playable track.
// IDs, URLs, and URIs are looked up directly; anything else is treated as
// a search query and the best hit wins. A sourceHint of "search" forces
// the query path.
func (c *Client) Resolve(ctx context.Context, contentRef, sourceHint string) (*track.QueueItem, error) {
	ref := strings.TrimSpace(contentRef)
	if ref == "" {
		return nil, errors.New("content reference is required")
	}

	if sourceHint != "search" && looksLikeTrackRef(ref) {
		return c.GetTrack(ctx, ref)
	}

	hits, err := c.Search(ctx, ref, 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, errors.Newf("no tracks found for %q", ref)
	}
	item := hits[0]
	return &item, nil
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackRef string) (*track.QueueItem, error) {
	id := extractTrackID(trackRef)

	var result *spotify.FullTrack
	err := c.retry(func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	item := c.toQueueItem(result)
	return &item, nil
}

// Search searches the catalog for tracks.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]track.QueueItem, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	var result *spotify.SearchResult
	err := c.retry(func() error {
		r, err := c.client.Search(ctx, query, spotify.SearchTypeTrack,
			spotify.Limit(limit),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search")
	}

	if result.Tracks == nil {
		return []track.QueueItem{}, nil
	}

	tracks := make([]track.QueueItem, 0, len(result.Tracks.Tracks))
	for _, t := range result.Tracks.Tracks {
		tracks = append(tracks, c.toQueueItem(&t))
	}
	return tracks, nil
}

// CheckPlaylistExists checks that a playlist exists and is accessible
// without fetching its contents.
func (c *Client) CheckPlaylistExists(ctx context.Context, playlistRef string) error {
	playlistID := extractPlaylistID(playlistRef)
	if playlistID == "" {
		return errors.New("invalid playlist reference")
	}

	err := c.retry(func() error {
		_, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(1),
			spotify.Offset(0),
			spotify.Market(c.market),
		)
		return err
	})
	return errors.Wrap(err, "playlist does not exist or is not accessible")
}

// GetPlaylistTracksRandom retrieves up to count tracks sampled from a
// random window of the playlist. One page fetch regardless of playlist
// size, so large playlists stay cheap.
func (c *Client) GetPlaylistTracksRandom(ctx context.Context, playlistRef string, count int) ([]track.QueueItem, error) {
	playlistID := extractPlaylistID(playlistRef)
	if playlistID == "" {
		return nil, errors.New("invalid playlist reference")
	}

	var firstPage *spotify.PlaylistItemPage
	err := c.retry(func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(1),
			spotify.Offset(0),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		firstPage = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist info")
	}

	totalTracks := int(firstPage.Total)
	if totalTracks == 0 {
		return []track.QueueItem{}, nil
	}

	limit := 100 // Spotify page maximum
	maxOffset := totalTracks - limit
	if maxOffset < 0 {
		maxOffset = 0
	}

	rng := rand.New(rand.NewSource(cryptoSeed()))
	offset := 0
	if maxOffset > 0 {
		offset = rng.Intn(maxOffset + 1)
	}

	var page *spotify.PlaylistItemPage
	err = c.retry(func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(limit),
			spotify.Offset(offset),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist items")
	}

	var tracks []track.QueueItem
	for _, item := range page.Items {
		// Episodes come back with a nil Track.
		if item.Track.Track != nil && item.Track.Track.ID != "" {
			tracks = append(tracks, c.toQueueItem(item.Track.Track))
		}
	}

	if len(tracks) > count {
		rng.Shuffle(len(tracks), func(i, j int) {
			tracks[i], tracks[j] = tracks[j], tracks[i]
		})
		tracks = tracks[:count]
	}

	return tracks, nil
}

// toQueueItem converts a Spotify FullTrack to a queue item.
func (c *Client) toQueueItem(t *spotify.FullTrack) track.QueueItem {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var thumbnail string
	if len(t.Album.Images) > 0 {
		thumbnail = t.Album.Images[0].URL
	}

	return track.QueueItem{
		ContentID:  "spotify:track:" + string(t.ID),
		Title:      t.Name,
		Artists:    artists,
		Album:      t.Album.Name,
		Thumbnail:  thumbnail,
		Duration:   time.Duration(t.Duration) * time.Millisecond,
		URL:        trackURL(string(t.ID)),
		Popularity: int(t.Popularity),
	}
}

// trackURL returns the public Spotify URL for a track ID.
func trackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// retry retries an operation with linear backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// looksLikeTrackRef reports whether the input is a track ID, URL, or URI
// rather than free-text search terms.
func looksLikeTrackRef(input string) bool {
	if strings.HasPrefix(input, "spotify:track:") {
		return true
	}
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		return true
	}
	return isBase62ID(input)
}

// isBase62ID matches the 22-character base62 IDs Spotify uses.
func isBase62ID(s string) bool {
	if len(s) != 22 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func extractPlaylistID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:playlist:PLAYLIST_ID
	if strings.HasPrefix(input, "spotify:playlist:") {
		return strings.TrimPrefix(input, "spotify:playlist:")
	}

	// Handle URL format: https://open.spotify.com/playlist/PLAYLIST_ID or https://open.spotify.com/intl-XX/playlist/PLAYLIST_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/playlist/") {
		parts := strings.Split(input, "/playlist/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a playlist ID
	return input
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a track ID
	return input
}

// cryptoSeed returns a crypto-sourced seed, falling back to the clock.
func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err == nil {
		return int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return time.Now().UnixNano()
}
