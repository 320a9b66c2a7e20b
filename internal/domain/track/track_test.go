package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSource_String(t *testing.T) {
	tests := []struct {
		source   Source
		expected string
	}{
		{SourceNone, "none"},
		{SourceRecommendation, "recommendation"},
		{SourcePlaylist, "playlist"},
		{SourceHistory, "history"},
		{SourcePopular, "popular"},
		{SourceRandom, "random"},
		{Source(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.source.String())
		})
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Source
		ok       bool
	}{
		{"recommendation", "recommendation", SourceRecommendation, true},
		{"playlist", "playlist", SourcePlaylist, true},
		{"history", "history", SourceHistory, true},
		{"popular", "popular", SourcePopular, true},
		{"random", "random", SourceRandom, true},
		{"unknown name", "shuffle", SourceNone, false},
		{"empty", "", SourceNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := ParseSource(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, s)
		})
	}
}

func TestQueueItem_ArtistLine(t *testing.T) {
	tests := []struct {
		name     string
		artists  []string
		expected string
	}{
		{"single artist", []string{"Artist 1"}, "Artist 1"},
		{"multiple artists", []string{"Artist 1", "Artist 2"}, "Artist 1, Artist 2"},
		{"no artists", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := QueueItem{Title: "Test Song", Artists: tt.artists}
			assert.Equal(t, tt.expected, item.ArtistLine())
		})
	}
}

func TestQueueItem_Key(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := QueueItem{ContentID: "abc", RequestedAt: at}
	b := QueueItem{ContentID: "abc", RequestedAt: at.Add(time.Millisecond)}
	c := QueueItem{ContentID: "def", RequestedAt: at}

	assert.NotEqual(t, a.Key(), b.Key(), "same content at different times must differ")
	assert.NotEqual(t, a.Key(), c.Key(), "different content at same time must differ")
	assert.Equal(t, a.Key(), QueueItem{ContentID: "abc", RequestedAt: at}.Key())
}

func TestAutoplayRequester(t *testing.T) {
	r := AutoplayRequester(SourcePlaylist)
	assert.Equal(t, "autoplay", r.ID)
	assert.Contains(t, r.DisplayName, "playlist")
}
