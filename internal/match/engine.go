package match

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/Delvin233/rps-onchain-sub000/pkg/rpsdto"
)

const roundsPerMatch = 3

var allMoves = []Move{MoveRock, MovePaper, MoveScissors}

// Engine owns the match state machine. It is pure apart from its clock and
// AI move source, both injectable for tests.
type Engine struct {
	now    func() time.Time
	aiMove func() Move
}

func NewEngine() *Engine {
	return &Engine{now: time.Now, aiMove: drawMove}
}

// NewEngineWith builds an engine with a fixed clock and AI move source.
// Either argument may be nil to keep the default.
func NewEngineWith(now func() time.Time, aiMove func() Move) *Engine {
	e := NewEngine()
	if now != nil {
		e.now = now
	}
	if aiMove != nil {
		e.aiMove = aiMove
	}
	return e
}

// drawMove picks one of the three moves uniformly at random.
func drawMove() Move {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(allMoves))))
	if err != nil {
		return allMoves[time.Now().UnixNano()%int64(len(allMoves))]
	}
	return allMoves[n.Int64()]
}

// Create produces a fresh active match for the given player address.
func (e *Engine) Create(playerID string) (*Match, error) {
	addr, ok := NormalizeAddress(playerID)
	if !ok {
		return nil, rpsdto.NewDomainError(rpsdto.CodeInvalidInput,
			fmt.Sprintf("invalid player address %q", playerID))
	}
	now := e.now()
	return &Match{
		ID:             NewID(),
		Player:         addr,
		Status:         StatusActive,
		Rounds:         []Round{},
		CurrentRound:   1,
		StartedAt:      now,
		LastActivityAt: now,
		Version:        1,
	}, nil
}

// ApplyRound plays one round against the AI and returns the updated match
// plus the round record. The input match is not mutated.
func (e *Engine) ApplyRound(m *Match, playerMove Move) (*Match, *Round, error) {
	if err := requireActive(m); err != nil {
		return nil, nil, err
	}
	mv, ok := ParseMove(string(playerMove))
	if !ok {
		return nil, nil, rpsdto.NewDomainError(rpsdto.CodeInvalidInput,
			fmt.Sprintf("invalid move %q", playerMove))
	}
	// Unreachable when completion detection below is intact, but checked so
	// a corrupted snapshot can never grow a fourth round.
	if len(m.Rounds) >= roundsPerMatch || m.PlayerScore >= 2 || m.AIScore >= 2 {
		return nil, nil, rpsdto.NewDomainError(rpsdto.CodeInvalidMatchState,
			fmt.Sprintf("match %s has no rounds left", m.ID))
	}

	now := e.now()
	next := m.Clone()
	round := Round{
		Sequence:   len(next.Rounds) + 1,
		PlayerMove: mv,
		AIMove:     e.aiMove(),
		CreatedAt:  now,
	}
	round.Outcome = Resolve(round.PlayerMove, round.AIMove)

	next.Rounds = append(next.Rounds, round)
	switch round.Outcome {
	case OutcomePlayer:
		next.PlayerScore++
	case OutcomeAI:
		next.AIScore++
	}
	next.CurrentRound = len(next.Rounds) + 1
	next.LastActivityAt = now
	next.Version++

	if winner, done := evaluateCompletion(next); done {
		next.Status = StatusCompleted
		next.Winner = winner
		completed := now
		next.CompletedAt = &completed
	}
	return next, &round, nil
}

// evaluateCompletion applies the best-of-three rules: two wins take the
// match immediately; otherwise round exhaustion awards the higher score,
// with exact equality a tie.
func evaluateCompletion(m *Match) (RoundOutcome, bool) {
	switch {
	case m.PlayerScore >= 2:
		return OutcomePlayer, true
	case m.AIScore >= 2:
		return OutcomeAI, true
	case len(m.Rounds) == roundsPerMatch:
		switch {
		case m.PlayerScore > m.AIScore:
			return OutcomePlayer, true
		case m.AIScore > m.PlayerScore:
			return OutcomeAI, true
		default:
			return OutcomeTie, true
		}
	}
	return "", false
}

// Abandon moves an active match to the abandoned sink. The AI wins by
// policy, not by accident of a zero value.
func (e *Engine) Abandon(m *Match) (*Match, error) {
	if err := requireActive(m); err != nil {
		return nil, err
	}
	now := e.now()
	next := m.Clone()
	next.Status = StatusAbandoned
	next.IsAbandoned = true
	next.Winner = OutcomeAI
	next.LastActivityAt = now
	completed := now
	next.CompletedAt = &completed
	next.Version++
	return next, nil
}

// IsTimedOut reports whether an active match has been idle longer than the
// given window. Terminal matches never time out.
func (e *Engine) IsTimedOut(m *Match, timeout time.Duration) bool {
	if m == nil || m.Status != StatusActive {
		return false
	}
	return e.now().Sub(m.LastActivityAt) > timeout
}

func requireActive(m *Match) error {
	if m == nil {
		return rpsdto.NewDomainError(rpsdto.CodeNotFound, "match not found")
	}
	switch m.Status {
	case StatusActive:
		return nil
	case StatusCompleted:
		return rpsdto.NewDomainError(rpsdto.CodeMatchCompleted,
			fmt.Sprintf("match %s is already completed", m.ID))
	case StatusAbandoned:
		return rpsdto.NewDomainError(rpsdto.CodeMatchAbandoned,
			fmt.Sprintf("match %s was abandoned", m.ID))
	default:
		return rpsdto.NewDomainError(rpsdto.CodeInvalidMatchState,
			fmt.Sprintf("match %s is in state %q", m.ID, m.Status))
	}
}
