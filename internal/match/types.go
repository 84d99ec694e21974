package match

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Move is one of the three playable hands.
type Move string

const (
	MoveRock     Move = "rock"
	MovePaper    Move = "paper"
	MoveScissors Move = "scissors"
)

// ParseMove normalizes and validates a raw move string.
func ParseMove(raw string) (Move, bool) {
	switch Move(strings.ToLower(strings.TrimSpace(raw))) {
	case MoveRock:
		return MoveRock, true
	case MovePaper:
		return MovePaper, true
	case MoveScissors:
		return MoveScissors, true
	}
	return "", false
}

// RoundOutcome is the result of a single round from the player's
// perspective. The same vocabulary doubles as the match winner.
type RoundOutcome string

const (
	OutcomePlayer RoundOutcome = "player"
	OutcomeAI     RoundOutcome = "ai"
	OutcomeTie    RoundOutcome = "tie"
)

// Status represents the match lifecycle state. completed and abandoned are
// terminal; there are no transitions out of them.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Round is an immutable record of one played round.
type Round struct {
	Sequence   int          `json:"sequence"`
	PlayerMove Move         `json:"player_move"`
	AIMove     Move         `json:"ai_move"`
	Outcome    RoundOutcome `json:"outcome"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Match is the central aggregate: a best-of-three player-vs-AI game.
// Version increases on every mutation and backs the cache bridge's
// conditional write.
type Match struct {
	ID             string       `json:"id"`
	Player         string       `json:"player"`
	Status         Status       `json:"status"`
	Rounds         []Round      `json:"rounds"`
	PlayerScore    int          `json:"player_score"`
	AIScore        int          `json:"ai_score"`
	CurrentRound   int          `json:"current_round"`
	StartedAt      time.Time    `json:"started_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Winner         RoundOutcome `json:"winner,omitempty"`
	IsAbandoned    bool         `json:"is_abandoned"`
	Version        int64        `json:"version"`
}

// Clone returns a deep copy; rounds are copied so the original snapshot
// stays immutable under the read-modify-write flow.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Rounds = append([]Round(nil), m.Rounds...)
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Terminal reports whether the match reached a sink state.
func (m *Match) Terminal() bool {
	return m.Status == StatusCompleted || m.Status == StatusAbandoned
}

var addressRe = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeAddress lowercases a wallet address and reports whether it is
// well-formed. Addresses are case-normalized at every boundary.
func NormalizeAddress(raw string) (string, bool) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	return addr, addressRe.MatchString(addr)
}

// Validate checks the standing match invariants. It is primarily exercised
// by tests but cheap enough to call anywhere a snapshot crosses a boundary.
func (m *Match) Validate() error {
	if len(m.Rounds) > 3 {
		return fmt.Errorf("match %s: %d rounds recorded", m.ID, len(m.Rounds))
	}
	player, ai := 0, 0
	for i, r := range m.Rounds {
		if r.Sequence != i+1 {
			return fmt.Errorf("match %s: round %d has sequence %d", m.ID, i, r.Sequence)
		}
		switch r.Outcome {
		case OutcomePlayer:
			player++
		case OutcomeAI:
			ai++
		}
	}
	if m.PlayerScore != player || m.AIScore != ai {
		return fmt.Errorf("match %s: scores %d-%d do not match rounds %d-%d", m.ID, m.PlayerScore, m.AIScore, player, ai)
	}
	if m.PlayerScore > 2 || m.AIScore > 2 {
		return fmt.Errorf("match %s: score out of range %d-%d", m.ID, m.PlayerScore, m.AIScore)
	}
	if m.CurrentRound != len(m.Rounds)+1 {
		return fmt.Errorf("match %s: current_round %d with %d rounds", m.ID, m.CurrentRound, len(m.Rounds))
	}
	if m.Terminal() != (m.CompletedAt != nil) {
		return fmt.Errorf("match %s: completed_at presence disagrees with status %s", m.ID, m.Status)
	}
	if m.Terminal() && m.Winner == "" {
		return fmt.Errorf("match %s: terminal without winner", m.ID)
	}
	if !m.Terminal() && m.Winner != "" {
		return fmt.Errorf("match %s: winner %q set while %s", m.ID, m.Winner, m.Status)
	}
	if m.IsAbandoned != (m.Status == StatusAbandoned) {
		return fmt.Errorf("match %s: is_abandoned flag disagrees with status %s", m.ID, m.Status)
	}
	if m.Status == StatusAbandoned && m.Winner != OutcomeAI {
		return fmt.Errorf("match %s: abandoned with winner %q", m.ID, m.Winner)
	}
	if m.LastActivityAt.Before(m.StartedAt) {
		return fmt.Errorf("match %s: last_activity_at precedes started_at", m.ID)
	}
	if m.CompletedAt != nil && m.CompletedAt.Before(m.LastActivityAt) {
		return fmt.Errorf("match %s: completed_at precedes last_activity_at", m.ID)
	}
	return nil
}
