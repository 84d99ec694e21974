package matchstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Delvin233/rps-onchain-sub000/internal/match"
	"github.com/Delvin233/rps-onchain-sub000/internal/obslog"
)

// PostgresStore is the production Store over an append-only matches table
// and the extended player_stats aggregate table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the matches table and extends the pre-existing
// player_stats table with match-level aggregate columns. Every statement is
// idempotent and additive: legacy columns and rows are never touched, new
// columns default to 0 for pre-existing rows, and running this repeatedly
// changes nothing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			player_address TEXT NOT NULL,
			status TEXT NOT NULL,
			player_score INT NOT NULL,
			ai_score INT NOT NULL,
			rounds JSONB NOT NULL DEFAULT '[]'::jsonb,
			winner TEXT NOT NULL,
			is_abandoned BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_player_completed
			ON matches (player_address, completed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_abandoned_activity
			ON matches (last_activity_at) WHERE is_abandoned`,
		`CREATE TABLE IF NOT EXISTS player_stats (
			player_address TEXT PRIMARY KEY,
			ai_games_total INT NOT NULL DEFAULT 0,
			ai_games_won INT NOT NULL DEFAULT 0,
			ai_games_lost INT NOT NULL DEFAULT 0,
			ai_games_tied INT NOT NULL DEFAULT 0,
			mp_games_total INT NOT NULL DEFAULT 0,
			mp_games_won INT NOT NULL DEFAULT 0,
			mp_games_lost INT NOT NULL DEFAULT 0,
			mp_games_tied INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`ALTER TABLE player_stats ADD COLUMN IF NOT EXISTS ai_matches_played INT NOT NULL DEFAULT 0`,
		`ALTER TABLE player_stats ADD COLUMN IF NOT EXISTS ai_matches_won INT NOT NULL DEFAULT 0`,
		`ALTER TABLE player_stats ADD COLUMN IF NOT EXISTS ai_matches_lost INT NOT NULL DEFAULT 0`,
		`ALTER TABLE player_stats ADD COLUMN IF NOT EXISTS ai_matches_tied INT NOT NULL DEFAULT 0`,
		`ALTER TABLE player_stats ADD COLUMN IF NOT EXISTS ai_matches_abandoned INT NOT NULL DEFAULT 0`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Commit inserts the terminal match row and then applies the aggregate
// delta. ON CONFLICT DO NOTHING keeps the row insert idempotent, and the
// aggregate update only runs when this call actually inserted the row, so
// accounting is at-most-once per match id. A failed aggregate update is
// logged and swallowed; the match row is already durable at that point.
func (s *PostgresStore) Commit(ctx context.Context, m *match.Match) error {
	if err := requireTerminal(m); err != nil {
		return err
	}
	rounds, err := json.Marshal(m.Rounds)
	if err != nil {
		return fmt.Errorf("marshal rounds: %w", err)
	}
	const q = `
		INSERT INTO matches (
			id, player_address, status, player_score, ai_score,
			rounds, winner, is_abandoned,
			started_at, last_activity_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q,
		m.ID, m.Player, string(m.Status), m.PlayerScore, m.AIScore,
		string(rounds), string(m.Winner), m.IsAbandoned,
		m.StartedAt, m.LastActivityAt, *m.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// already committed by an earlier call; do not double count
		obslog.L().Debug("match_commit_duplicate", zap.String("match_id", m.ID))
		return nil
	}
	if err := s.applyStatsDelta(ctx, m); err != nil {
		obslog.L().Warn("match_stats_update_failed",
			zap.String("match_id", m.ID),
			zap.String("player", m.Player),
			zap.Error(err),
		)
	}
	return nil
}

func (s *PostgresStore) applyStatsDelta(ctx context.Context, m *match.Match) error {
	played, won, lost, tied, abandoned := statsDelta(m)
	const q = `
		INSERT INTO player_stats (
			player_address,
			ai_matches_played, ai_matches_won, ai_matches_lost,
			ai_matches_tied, ai_matches_abandoned
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (player_address) DO UPDATE SET
			ai_matches_played = player_stats.ai_matches_played + EXCLUDED.ai_matches_played,
			ai_matches_won = player_stats.ai_matches_won + EXCLUDED.ai_matches_won,
			ai_matches_lost = player_stats.ai_matches_lost + EXCLUDED.ai_matches_lost,
			ai_matches_tied = player_stats.ai_matches_tied + EXCLUDED.ai_matches_tied,
			ai_matches_abandoned = player_stats.ai_matches_abandoned + EXCLUDED.ai_matches_abandoned,
			updated_at = NOW()`
	_, err := s.db.ExecContext(ctx, q, m.Player, played, won, lost, tied, abandoned)
	return err
}

const matchColumns = `
	id, player_address, status, player_score, ai_score,
	rounds, winner, is_abandoned,
	started_at, last_activity_at, completed_at`

func scanMatch(scan func(dest ...any) error) (*match.Match, error) {
	var (
		m         match.Match
		roundsRaw []byte
		status    string
		winner    string
		completed time.Time
	)
	if err := scan(
		&m.ID, &m.Player, &status, &m.PlayerScore, &m.AIScore,
		&roundsRaw, &winner, &m.IsAbandoned,
		&m.StartedAt, &m.LastActivityAt, &completed,
	); err != nil {
		return nil, err
	}
	m.Status = match.Status(status)
	m.Winner = match.RoundOutcome(winner)
	m.CompletedAt = &completed
	if err := json.Unmarshal(roundsRaw, &m.Rounds); err != nil {
		return nil, fmt.Errorf("unmarshal rounds: %w", err)
	}
	m.CurrentRound = len(m.Rounds) + 1
	return &m, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*match.Match, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)
	m, err := scanMatch(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select match: %w", err)
	}
	return m, nil
}

// History returns the player's terminal matches, most recently completed
// first, with the id as a deterministic tie-break so pagination never skips
// or repeats entries over stable data.
func (s *PostgresStore) History(ctx context.Context, player string, limit, offset int) ([]*match.Match, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matchColumns+`
		 FROM matches
		 WHERE player_address = $1
		 ORDER BY completed_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		strings.ToLower(strings.TrimSpace(player)), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select match history: %w", err)
	}
	defer rows.Close()

	out := make([]*match.Match, 0, limit)
	for rows.Next() {
		m, err := scanMatch(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Stats returns the player's aggregate counters, zeroed when the player has
// no row yet.
func (s *PostgresStore) Stats(ctx context.Context, player string) (*PlayerMatchStats, error) {
	addr := strings.ToLower(strings.TrimSpace(player))
	stats := &PlayerMatchStats{Player: addr}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			ai_matches_played, ai_matches_won, ai_matches_lost,
			ai_matches_tied, ai_matches_abandoned,
			ai_games_total, ai_games_won, ai_games_lost, ai_games_tied,
			mp_games_total, mp_games_won, mp_games_lost, mp_games_tied
		FROM player_stats
		WHERE player_address = $1`, addr,
	).Scan(
		&stats.MatchesPlayed, &stats.MatchesWon, &stats.MatchesLost,
		&stats.MatchesTied, &stats.MatchesAbandoned,
		&stats.LegacyAIGames, &stats.LegacyAIWins, &stats.LegacyAILosses, &stats.LegacyAITies,
		&stats.LegacyMPGames, &stats.LegacyMPWins, &stats.LegacyMPLosses, &stats.LegacyMPTies,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select player stats: %w", err)
	}
	return stats, nil
}

// PurgeAbandoned deletes abandoned match rows whose last activity precedes
// the cutoff and reports how many were removed.
func (s *PostgresStore) PurgeAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM matches WHERE is_abandoned AND last_activity_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge abandoned matches: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
