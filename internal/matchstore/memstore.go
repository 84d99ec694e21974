package matchstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Delvin233/rps-onchain-sub000/internal/match"
)

// MemoryStore is a development and test Store used when no DATABASE_URL is
// configured. Semantics mirror PostgresStore, including at-most-once
// aggregate accounting per match id.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string]*match.Match
	stats   map[string]*PlayerMatchStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches: make(map[string]*match.Match),
		stats:   make(map[string]*PlayerMatchStats),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Commit(ctx context.Context, m *match.Match) error {
	if err := requireTerminal(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.matches[m.ID]; exists {
		return nil
	}
	s.matches[m.ID] = m.Clone()

	st, ok := s.stats[m.Player]
	if !ok {
		st = &PlayerMatchStats{Player: m.Player}
		s.stats[m.Player] = st
	}
	played, won, lost, tied, abandoned := statsDelta(m)
	st.MatchesPlayed += played
	st.MatchesWon += won
	st.MatchesLost += lost
	st.MatchesTied += tied
	st.MatchesAbandoned += abandoned
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*match.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.matches[id]; ok {
		return m.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) History(ctx context.Context, player string, limit, offset int) ([]*match.Match, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	addr := strings.ToLower(strings.TrimSpace(player))

	s.mu.RLock()
	var items []*match.Match
	for _, m := range s.matches {
		if m.Player == addr {
			items = append(items, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CompletedAt.Equal(*items[j].CompletedAt) {
			return items[i].CompletedAt.After(*items[j].CompletedAt)
		}
		return items[i].ID > items[j].ID
	})
	if offset >= len(items) {
		return []*match.Match{}, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]*match.Match, 0, len(items))
	for _, m := range items {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context, player string) (*PlayerMatchStats, error) {
	addr := strings.ToLower(strings.TrimSpace(player))
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.stats[addr]; ok {
		cp := *st
		return &cp, nil
	}
	return &PlayerMatchStats{Player: addr}, nil
}

func (s *MemoryStore) PurgeAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.matches {
		if m.IsAbandoned && m.LastActivityAt.Before(cutoff) {
			delete(s.matches, id)
			n++
		}
	}
	return n, nil
}

// SeedLegacy installs legacy per-round counters for a player, standing in
// for rows the pre-engine game modes would have written.
func (s *MemoryStore) SeedLegacy(player string, games, won, lost, tied int) {
	addr := strings.ToLower(strings.TrimSpace(player))
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[addr]
	if !ok {
		st = &PlayerMatchStats{Player: addr}
		s.stats[addr] = st
	}
	st.LegacyAIGames = games
	st.LegacyAIWins = won
	st.LegacyAILosses = lost
	st.LegacyAITies = tied
}
