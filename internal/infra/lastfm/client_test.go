package lastfm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTopTags(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "track.getTopTags", r.URL.Query().Get("method"))
		assert.Equal(t, "test_artist", r.URL.Query().Get("artist"))
		assert.Equal(t, "test_track", r.URL.Query().Get("track"))
		assert.Equal(t, "test_key", r.URL.Query().Get("api_key"))

		response := `{
			"toptags": {
				"tag": [
					{"name": "rock", "count": 100, "url": "http://last.fm/tag/rock"},
					{"name": "alternative", "count": 80, "url": "http://last.fm/tag/alternative"}
				]
			}
		}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	ctx := context.Background()
	tags, err := client.GetTopTags(ctx, "test_track", "test_artist", 5)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "rock", tags[0].Name)
	assert.Equal(t, 100, tags[0].Count)

	// Second lookup should come from the cache.
	tagsCached, err := client.GetTopTags(ctx, "test_track", "test_artist", 5)
	require.NoError(t, err)
	assert.Equal(t, tags, tagsCached)
	assert.EqualValues(t, 1, hits.Load(), "cached lookup should not hit the API")
}

func TestGetTopTracks(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "tag.getTopTracks", r.URL.Query().Get("method"))
		assert.Equal(t, "rock", r.URL.Query().Get("tag"))

		response := `{
			"tracks": {
				"track": [
					{
						"name": "Track 1",
						"mbid": "mbid1",
						"url": "url1",
						"artist": {"name": "Artist 1", "mbid": "ambid1", "url": "aurl1"},
						"listeners": "1000",
						"playcount": "5000"
					},
					{
						"name": "Track 2",
						"mbid": "mbid2",
						"url": "url2",
						"artist": {"name": "Artist 2", "mbid": "ambid2", "url": "aurl2"},
						"listeners": "500",
						"playcount": "2000"
					}
				]
			}
		}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	ctx := context.Background()
	tracks, err := client.GetTopTracks(ctx, "rock", 5)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "Track 1", tracks[0].Name)
	assert.Equal(t, "Artist 1", tracks[0].Artist)

	tracksCached, err := client.GetTopTracks(ctx, "rock", 5)
	require.NoError(t, err)
	assert.Equal(t, tracks, tracksCached)
	assert.EqualValues(t, 1, hits.Load(), "cached lookup should not hit the API")
}

func TestGetSimilarTracks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "track.getSimilar", r.URL.Query().Get("method"))
		assert.Equal(t, "Seed Artist", r.URL.Query().Get("artist"))
		assert.Equal(t, "Seed Track", r.URL.Query().Get("track"))
		assert.Equal(t, "1", r.URL.Query().Get("autocorrect"))

		response := `{
			"similartracks": {
				"track": [
					{"name": "Similar 1", "artist": {"name": "Artist 1"}},
					{"name": "Similar 2", "artist": {"name": "Artist 2"}}
				]
			}
		}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	similar, err := client.GetSimilarTracks(context.Background(), "Seed Track", "Seed Artist", 10)
	require.NoError(t, err)
	require.Len(t, similar, 2)
	assert.Equal(t, SimilarTrack{Name: "Similar 1", Artist: "Artist 1"}, similar[0])
}

func TestGetSimilarTracks_RequiresNames(t *testing.T) {
	client := newTestClient(t, "http://unused.example.com")

	_, err := client.GetSimilarTracks(context.Background(), "", "Artist", 10)
	assert.Error(t, err)

	_, err = client.GetSimilarTracks(context.Background(), "Track", "", 10)
	assert.Error(t, err)
}

func TestGetChartTopTracks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "chart.getTopTracks", r.URL.Query().Get("method"))

		response := `{
			"tracks": {
				"track": [
					{"name": "Global Hit", "artist": {"name": "Star"}}
				]
			}
		}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	tracks, err := client.GetChartTopTracks(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "Global Hit", tracks[0].Name)
	assert.Equal(t, "Star", tracks[0].Artist)
}

func TestAPIErrorIsSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error": 6, "message": "Track not found"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.GetSimilarTracks(context.Background(), "Nope", "Nobody", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Track not found")
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := New(Config{APIKey: "test_key", BaseURL: baseURL + "/"})
	require.NoError(t, err)
	return client
}
