package matchstore

import (
	"context"
	"time"

	"github.com/Delvin233/rps-onchain-sub000/internal/match"
	"github.com/Delvin233/rps-onchain-sub000/pkg/rpsdto"
)

// Store is the durable home of terminal matches and per-player aggregate
// counters. Only completed or abandoned matches may be committed; the
// aggregate update is a best-effort secondary write that never blocks the
// match row itself.
type Store interface {
	Commit(ctx context.Context, m *match.Match) error
	Get(ctx context.Context, id string) (*match.Match, error)
	History(ctx context.Context, player string, limit, offset int) ([]*match.Match, error)
	Stats(ctx context.Context, player string) (*PlayerMatchStats, error)
	PurgeAbandoned(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// PlayerMatchStats carries the match-level aggregates alongside the legacy
// per-round counters that predate the match engine. Legacy columns are
// never written by this package.
type PlayerMatchStats struct {
	Player           string `json:"player"`
	MatchesPlayed    int    `json:"ai_matches_played"`
	MatchesWon       int    `json:"ai_matches_won"`
	MatchesLost      int    `json:"ai_matches_lost"`
	MatchesTied      int    `json:"ai_matches_tied"`
	MatchesAbandoned int    `json:"ai_matches_abandoned"`

	LegacyAIGames  int `json:"ai_games_total"`
	LegacyAIWins   int `json:"ai_games_won"`
	LegacyAILosses int `json:"ai_games_lost"`
	LegacyAITies   int `json:"ai_games_tied"`
	LegacyMPGames  int `json:"mp_games_total"`
	LegacyMPWins   int `json:"mp_games_won"`
	LegacyMPLosses int `json:"mp_games_lost"`
	LegacyMPTies   int `json:"mp_games_tied"`
}

// Combined merges legacy per-round games with match aggregates into the
// caller-facing statistics view. Abandoned matches are a disjoint bucket:
// they count toward the completion rate but never toward games played.
func (s *PlayerMatchStats) Combined() rpsdto.CombinedStats {
	totalGames := s.LegacyAIGames + s.MatchesPlayed
	totalWins := s.LegacyAIWins + s.MatchesWon
	winRate := 0.0
	if totalGames > 0 {
		winRate = float64(totalWins) / float64(totalGames) * 100
	}
	attempts := s.MatchesPlayed + s.MatchesAbandoned
	completionRate := 100.0
	if attempts > 0 {
		completionRate = float64(s.MatchesPlayed) / float64(attempts) * 100
	}
	return rpsdto.CombinedStats{
		Player:           s.Player,
		TotalGames:       totalGames,
		TotalWins:        totalWins,
		WinRate:          winRate,
		MatchesPlayed:    s.MatchesPlayed,
		MatchesWon:       s.MatchesWon,
		MatchesLost:      s.MatchesLost,
		MatchesTied:      s.MatchesTied,
		MatchesAbandoned: s.MatchesAbandoned,
		CompletionRate:   completionRate,
	}
}

// statsDelta computes the aggregate increments for one terminal match:
// exactly one of won/lost/tied plus played for completed matches, abandoned
// alone for abandoned ones.
func statsDelta(m *match.Match) (played, won, lost, tied, abandoned int) {
	if m.Status == match.StatusAbandoned {
		return 0, 0, 0, 0, 1
	}
	played = 1
	switch m.Winner {
	case match.OutcomePlayer:
		won = 1
	case match.OutcomeAI:
		lost = 1
	default:
		tied = 1
	}
	return
}

func requireTerminal(m *match.Match) error {
	if m == nil || !m.Terminal() {
		return rpsdto.NewDomainError(rpsdto.CodeInvalidInput,
			"only terminal matches may be committed to the durable store")
	}
	return nil
}
