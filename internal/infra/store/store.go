// Package store persists playback history, per-track statistics, and the
// autoplay blocklist in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/gachaboo/miu/internal/app/autoplay"
	"github.com/gachaboo/miu/internal/domain/track"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Event values recorded in play_history.
const (
	EventPlayed    = "played"
	EventSkipped   = "skipped"
	EventCompleted = "completed"
)

// Store wraps the SQLite database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (and creates if needed) the SQLite database at path.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create data directory")
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return errors.Wrap(err, "failed to set migration dialect")
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PlayRecord is one play_history row.
type PlayRecord struct {
	ID            int64  `db:"id"`
	ContentID     string `db:"content_id"`
	Title         string `db:"title"`
	ArtistLine    string `db:"artist_line"`
	RequesterID   string `db:"requester_id"`
	RequesterName string `db:"requester_name"`
	IsAutoplay    bool   `db:"is_autoplay"`
	Source        string `db:"source"`
	Event         string `db:"event"`
	PlayedAt      int64  `db:"played_at"`
}

// Seed identifies a previously requested track used to seed
// recommendation lookups.
type Seed struct {
	ContentID  string `db:"content_id"`
	Title      string `db:"title"`
	ArtistLine string `db:"artist_line"`
}

// BlockedTrack is one blocklist entry.
type BlockedTrack struct {
	ContentID string `db:"content_id"`
	Title     string `db:"title"`
	Reason    string `db:"reason"`
	BlockedAt int64  `db:"blocked_at"`
}

type trackRow struct {
	ContentID     string `db:"content_id"`
	Title         string `db:"title"`
	ArtistLine    string `db:"artist_line"`
	Album         string `db:"album"`
	Thumbnail     string `db:"thumbnail"`
	URL           string `db:"url"`
	DurationMs    int64  `db:"duration_ms"`
	Popularity    int    `db:"popularity"`
	PlayCount     int    `db:"play_count"`
	SkipCount     int    `db:"skip_count"`
	CompleteCount int    `db:"complete_count"`
	LastPlayedAt  int64  `db:"last_played_at"`
	CreatedAt     int64  `db:"created_at"`
}

func (r trackRow) toQueueItem() track.QueueItem {
	item := track.QueueItem{
		ContentID:  r.ContentID,
		Title:      r.Title,
		Album:      r.Album,
		Thumbnail:  r.Thumbnail,
		URL:        r.URL,
		Duration:   time.Duration(r.DurationMs) * time.Millisecond,
		Popularity: r.Popularity,
	}
	if r.ArtistLine != "" {
		item.Artists = strings.Split(r.ArtistLine, ", ")
	}
	return item
}

// RecordPlayed records a playback start for the item.
func (s *Store) RecordPlayed(ctx context.Context, item track.QueueItem) error {
	return s.record(ctx, item, EventPlayed)
}

// RecordSkipped records a skip for the item.
func (s *Store) RecordSkipped(ctx context.Context, item track.QueueItem) error {
	return s.record(ctx, item, EventSkipped)
}

// RecordCompleted records a natural completion for the item.
func (s *Store) RecordCompleted(ctx context.Context, item track.QueueItem) error {
	return s.record(ctx, item, EventCompleted)
}

func (s *Store) record(ctx context.Context, item track.QueueItem, event string) error {
	now := s.now().Unix()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO play_history (content_id, title, artist_line, requester_id, requester_name, is_autoplay, source, event, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ContentID,
		item.Title,
		item.ArtistLine(),
		item.RequestedBy.ID,
		item.RequestedBy.DisplayName,
		item.IsAutoplay,
		item.AutoplaySource.String(),
		event,
		now,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert history row")
	}

	if err := upsertStats(ctx, tx, item, event, now); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "failed to commit")
}

func upsertStats(ctx context.Context, tx *sqlx.Tx, item track.QueueItem, event string, now int64) error {
	plays, skips, completes := 0, 0, 0
	switch event {
	case EventPlayed:
		plays = 1
	case EventSkipped:
		skips = 1
	case EventCompleted:
		completes = 1
	}

	// Metadata refreshes on every event so the catalog stays current.
	// last_played_at only moves on playback start.
	query := `
		INSERT INTO track_stats (content_id, title, artist_line, album, thumbnail, url, duration_ms, popularity, play_count, skip_count, complete_count, last_played_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			title = excluded.title,
			artist_line = excluded.artist_line,
			album = excluded.album,
			thumbnail = excluded.thumbnail,
			url = excluded.url,
			duration_ms = excluded.duration_ms,
			popularity = excluded.popularity,
			play_count = play_count + excluded.play_count,
			skip_count = skip_count + excluded.skip_count,
			complete_count = complete_count + excluded.complete_count,
			last_played_at = MAX(last_played_at, excluded.last_played_at)`

	lastPlayed := int64(0)
	if event == EventPlayed {
		lastPlayed = now
	}

	_, err := tx.ExecContext(ctx, query,
		item.ContentID,
		item.Title,
		item.ArtistLine(),
		item.Album,
		item.Thumbnail,
		item.URL,
		item.Duration.Milliseconds(),
		item.Popularity,
		plays,
		skips,
		completes,
		lastPlayed,
		now,
	)
	return errors.Wrap(err, "failed to upsert track stats")
}

// QualityStats returns the play statistics for a track. A track with no
// recorded plays returns zero stats, not an error.
func (s *Store) QualityStats(ctx context.Context, contentID string) (autoplay.QualityStats, error) {
	var row struct {
		PlayCount     int `db:"play_count"`
		SkipCount     int `db:"skip_count"`
		CompleteCount int `db:"complete_count"`
	}
	err := s.db.GetContext(ctx, &row,
		"SELECT play_count, skip_count, complete_count FROM track_stats WHERE content_id = ?", contentID)
	if errors.Is(err, sql.ErrNoRows) {
		return autoplay.QualityStats{}, nil
	}
	if err != nil {
		return autoplay.QualityStats{}, errors.Wrap(err, "failed to query track stats")
	}

	return autoplay.QualityStats{
		PlayCount:    row.PlayCount,
		SkipCount:    row.SkipCount,
		QualityScore: qualityScore(row.PlayCount, row.SkipCount, row.CompleteCount),
	}, nil
}

// qualityScore maps raw counters to a 0-10 score. Tracks listeners let
// finish score high, tracks they skip score low.
func qualityScore(plays, skips, completes int) float64 {
	if plays == 0 {
		return 0
	}
	completeRatio := float64(completes) / float64(plays)
	skipRatio := float64(skips) / float64(plays)

	score := 10 * completeRatio * (1 - skipRatio)
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// IsBlocked reports whether the track is on the blocklist.
func (s *Store) IsBlocked(ctx context.Context, contentID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM blocked_tracks WHERE content_id = ?", contentID)
	if err != nil {
		return false, errors.Wrap(err, "failed to query blocklist")
	}
	return n > 0, nil
}

// Block adds a track to the blocklist. Blocking an already blocked track
// updates the reason.
func (s *Store) Block(ctx context.Context, contentID, title, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_tracks (content_id, title, reason, blocked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			title = excluded.title,
			reason = excluded.reason`,
		contentID, title, reason, s.now().Unix())
	return errors.Wrap(err, "failed to block track")
}

// Unblock removes a track from the blocklist.
func (s *Store) Unblock(ctx context.Context, contentID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM blocked_tracks WHERE content_id = ?", contentID)
	return errors.Wrap(err, "failed to unblock track")
}

// BlockedTracks returns the full blocklist, most recent first.
func (s *Store) BlockedTracks(ctx context.Context) ([]BlockedTrack, error) {
	blocked := []BlockedTrack{}
	err := s.db.SelectContext(ctx, &blocked,
		"SELECT content_id, title, reason, blocked_at FROM blocked_tracks ORDER BY blocked_at DESC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query blocklist")
	}
	return blocked, nil
}

// RecentSeeds returns the most recently user-requested tracks, one row
// per track, for seeding recommendation lookups.
func (s *Store) RecentSeeds(ctx context.Context, n int) ([]Seed, error) {
	rows := []struct {
		Seed
		LastPlayed int64 `db:"last_played"`
	}{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT content_id, title, artist_line, MAX(played_at) AS last_played
		FROM play_history
		WHERE is_autoplay = 0 AND event = ?
		GROUP BY content_id
		ORDER BY last_played DESC
		LIMIT ?`, EventPlayed, n)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query recent seeds")
	}

	seeds := make([]Seed, 0, len(rows))
	for _, r := range rows {
		seeds = append(seeds, r.Seed)
	}
	return seeds, nil
}

// RandomSample returns n random tracks from everything ever played.
func (s *Store) RandomSample(ctx context.Context, n int) ([]track.QueueItem, error) {
	return s.selectTracks(ctx, `
		SELECT * FROM track_stats
		ORDER BY RANDOM()
		LIMIT ?`, n)
}

// Favorites returns a random pick of tracks played at least minPlays
// times and finished at least once.
func (s *Store) Favorites(ctx context.Context, minPlays, n int) ([]track.QueueItem, error) {
	return s.selectTracks(ctx, `
		SELECT * FROM track_stats
		WHERE play_count >= ? AND complete_count > 0
		ORDER BY RANDOM()
		LIMIT ?`, minPlays, n)
}

// Popular returns a random pick from the poolSize tracks with the
// highest catalog popularity.
func (s *Store) Popular(ctx context.Context, poolSize, n int) ([]track.QueueItem, error) {
	return s.selectTracks(ctx, `
		SELECT * FROM (
			SELECT * FROM track_stats
			ORDER BY popularity DESC, play_count DESC
			LIMIT ?
		)
		ORDER BY RANDOM()
		LIMIT ?`, poolSize, n)
}

func (s *Store) selectTracks(ctx context.Context, query string, args ...any) ([]track.QueueItem, error) {
	rows := []trackRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query tracks")
	}

	items := make([]track.QueueItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toQueueItem())
	}
	return items, nil
}

// RecentHistory returns the latest n history rows.
func (s *Store) RecentHistory(ctx context.Context, n int) ([]PlayRecord, error) {
	records := []PlayRecord{}
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, content_id, title, artist_line, requester_id, requester_name, is_autoplay, source, event, played_at
		FROM play_history
		ORDER BY played_at DESC, id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	return records, nil
}

// PruneHistory deletes history rows older than before and returns how
// many were removed. Aggregated track stats are kept.
func (s *Store) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM play_history WHERE played_at < ?", before.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune history")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pruned rows")
	}
	return n, nil
}
