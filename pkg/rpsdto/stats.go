package rpsdto

// CombinedStats is the caller-facing statistics view merging legacy
// per-round counters with match-level aggregates. Rates are percentages in
// [0,100]; the completion rate reports 100 when a player has no attempts.
type CombinedStats struct {
	Player           string  `json:"player"`
	TotalGames       int     `json:"total_games"`
	TotalWins        int     `json:"total_wins"`
	WinRate          float64 `json:"win_rate"`
	MatchesPlayed    int     `json:"matches_played"`
	MatchesWon       int     `json:"matches_won"`
	MatchesLost      int     `json:"matches_lost"`
	MatchesTied      int     `json:"matches_tied"`
	MatchesAbandoned int     `json:"matches_abandoned"`
	CompletionRate   float64 `json:"completion_rate"`
}
