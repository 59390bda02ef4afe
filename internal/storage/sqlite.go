// Package storage provides SQLite-based persistence for finished matches and
// the leaderboard derived from them.
// Uses the pure-Go modernc.org/sqlite driver to avoid CGO dependencies.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store manages the SQLite database connection for match persistence.
type Store struct {
	db *sql.DB
}

// MatchRecord is one finished match.
type MatchRecord struct {
	ID           int64     `json:"-"`
	MatchID      string    `json:"matchId"`
	RoomID       string    `json:"roomId"`
	Winner       string    `json:"winner"`
	Loser        string    `json:"loser"`
	WinnerAI     bool      `json:"winnerAi,omitempty"`
	LoserAI      bool      `json:"loserAi,omitempty"`
	WinnerScore  int       `json:"winnerScore"`
	LoserScore   int       `json:"loserScore"`
	WinnerLines  int       `json:"winnerLines"`
	LoserLines   int       `json:"loserLines"`
	Reason       string    `json:"reason"` // "gameover" or "disconnect"
	DurationSecs int       `json:"durationSecs"`
	CreatedAt    time.Time `json:"createdAt"`
}

// LeaderboardEntry aggregates a human player's results.
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	Player     string `json:"player"`
	Wins       int    `json:"wins"`
	Losses     int    `json:"losses"`
	BestScore  int    `json:"bestScore"`
	TotalLines int    `json:"totalLines"`
}

// Games returns the number of matches played.
func (e LeaderboardEntry) Games() int {
	return e.Wins + e.Losses
}

// Open creates or opens a SQLite database at the given path.
// It creates the parent directories if needed and runs migrations.
func Open(dbPath string) (*Store, error) {
	// Expand ~ to home directory
	if dbPath != "" && dbPath[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("storage: cannot expand home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: cannot create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot open database: %w", err)
	}
	// Writes come from one saver goroutine at a time; a single connection
	// avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: cannot connect to database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migration failed: %w", err)
	}

	return store, nil
}

// migrate creates the database schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			match_id TEXT NOT NULL UNIQUE,
			room_id TEXT NOT NULL,
			winner TEXT NOT NULL,
			loser TEXT NOT NULL,
			winner_ai INTEGER NOT NULL DEFAULT 0,
			loser_ai INTEGER NOT NULL DEFAULT 0,
			winner_score INTEGER NOT NULL DEFAULT 0,
			loser_score INTEGER NOT NULL DEFAULT 0,
			winner_lines INTEGER NOT NULL DEFAULT 0,
			loser_lines INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL,
			duration_secs INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_matches_winner ON matches(winner);
		CREATE INDEX IF NOT EXISTS idx_matches_loser ON matches(loser);
		CREATE INDEX IF NOT EXISTS idx_matches_created ON matches(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveMatch records a finished match.
// Returns the ID of the inserted record.
func (s *Store) SaveMatch(m MatchRecord) (int64, error) {
	if m.MatchID == "" {
		return 0, errors.New("storage: match id is required")
	}
	res, err := s.db.Exec(
		`INSERT INTO matches
		 (match_id, room_id, winner, loser, winner_ai, loser_ai,
		  winner_score, loser_score, winner_lines, loser_lines, reason, duration_secs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MatchID,
		m.RoomID,
		m.Winner,
		m.Loser,
		m.WinnerAI,
		m.LoserAI,
		m.WinnerScore,
		m.LoserScore,
		m.WinnerLines,
		m.LoserLines,
		m.Reason,
		m.DurationSecs,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: cannot save match: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: cannot get inserted ID: %w", err)
	}

	return id, nil
}

const matchColumns = `id, match_id, room_id, winner, loser, winner_ai, loser_ai,
		        winner_score, loser_score, winner_lines, loser_lines, reason, duration_secs, created_at`

// MatchByID retrieves a match by its match ID. Returns nil if absent.
func (s *Store) MatchByID(matchID string) (*MatchRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+matchColumns+`
		 FROM matches
		 WHERE match_id = ?`,
		matchID,
	)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query match: %w", err)
	}
	return &m, nil
}

// RecentMatches retrieves the most recent matches.
func (s *Store) RecentMatches(limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT `+matchColumns+`
		 FROM matches
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query matches: %w", err)
	}
	return collectMatches(rows)
}

// PlayerMatchHistory retrieves the matches a player took part in, newest first.
func (s *Store) PlayerMatchHistory(player string, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT `+matchColumns+`
		 FROM matches
		 WHERE winner = ? OR loser = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		player, player, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query player matches: %w", err)
	}
	return collectMatches(rows)
}

// Leaderboard ranks human players by wins, then best score.
// AI seats never appear.
func (s *Store) Leaderboard(limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT player, SUM(win), SUM(loss), MAX(score), SUM(lines)
		 FROM (
		   SELECT winner AS player, 1 AS win, 0 AS loss, winner_score AS score, winner_lines AS lines
		   FROM matches WHERE winner_ai = 0
		   UNION ALL
		   SELECT loser, 0, 1, loser_score, loser_lines
		   FROM matches WHERE loser_ai = 0
		 )
		 GROUP BY player
		 ORDER BY SUM(win) DESC, MAX(score) DESC, player ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Player, &e.Wins, &e.Losses, &e.BestScore, &e.TotalLines); err != nil {
			return nil, fmt.Errorf("storage: cannot scan leaderboard row: %w", err)
		}
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: row iteration error: %w", err)
	}

	return entries, nil
}

// MatchCount returns the number of stored matches.
func (s *Store) MatchCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM matches").Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: cannot count matches: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(row scanner) (MatchRecord, error) {
	var m MatchRecord
	var createdAt any
	err := row.Scan(
		&m.ID,
		&m.MatchID,
		&m.RoomID,
		&m.Winner,
		&m.Loser,
		&m.WinnerAI,
		&m.LoserAI,
		&m.WinnerScore,
		&m.LoserScore,
		&m.WinnerLines,
		&m.LoserLines,
		&m.Reason,
		&m.DurationSecs,
		&createdAt,
	)
	if err != nil {
		return m, err
	}
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

func collectMatches(rows *sql.Rows) ([]MatchRecord, error) {
	defer rows.Close()

	var results []MatchRecord
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: cannot scan row: %w", err)
		}
		results = append(results, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: row iteration error: %w", err)
	}

	return results, nil
}

// parseTime handles both time.Time and string datetimes from the driver.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse("2006-01-02 15:04:05", t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
