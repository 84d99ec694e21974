package matchcache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Delvin233/rps-onchain-sub000/internal/match"
)

const testPlayer = "0xabcdef0123456789abcdef0123456789abcdef01"

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, DefaultTTL), mr
}

func sampleMatch(t *testing.T) *match.Match {
	t.Helper()
	e := match.NewEngineWith(nil, func() match.Move { return match.MoveScissors })
	m, err := e.Create(testPlayer)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	m, _, err = e.ApplyRound(m, match.MoveRock)
	if err != nil {
		t.Fatalf("ApplyRound: %v", err)
	}
	return m
}

func matchesEqual(a, b *match.Match) bool {
	if a.ID != b.ID || a.Player != b.Player || a.Status != b.Status ||
		a.PlayerScore != b.PlayerScore || a.AIScore != b.AIScore ||
		a.CurrentRound != b.CurrentRound || a.Winner != b.Winner ||
		a.IsAbandoned != b.IsAbandoned || a.Version != b.Version ||
		len(a.Rounds) != len(b.Rounds) {
		return false
	}
	if !a.StartedAt.Equal(b.StartedAt) || !a.LastActivityAt.Equal(b.LastActivityAt) {
		return false
	}
	if (a.CompletedAt == nil) != (b.CompletedAt == nil) {
		return false
	}
	if a.CompletedAt != nil && !a.CompletedAt.Equal(*b.CompletedAt) {
		return false
	}
	for i := range a.Rounds {
		ra, rb := a.Rounds[i], b.Rounds[i]
		if ra.Sequence != rb.Sequence || ra.PlayerMove != rb.PlayerMove ||
			ra.AIMove != rb.AIMove || ra.Outcome != rb.Outcome || !ra.CreatedAt.Equal(rb.CreatedAt) {
			return false
		}
	}
	return true
}

func TestSaveGetRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	m := sampleMatch(t)

	if err := c.Save(ctx, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := c.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || !matchesEqual(m, got) {
		t.Fatalf("round trip mismatch:\nsaved %+v\ngot   %+v", m, got)
	}

	// both keys carry the TTL
	if ttl := mr.TTL("match:" + m.ID); ttl != DefaultTTL {
		t.Errorf("match key TTL = %v, want %v", ttl, DefaultTTL)
	}
	if ttl := mr.TTL("player:" + testPlayer); ttl != DefaultTTL {
		t.Errorf("player key TTL = %v, want %v", ttl, DefaultTTL)
	}
}

func TestGetAbsent(t *testing.T) {
	c, _ := newTestCache(t)
	got, err := c.Get(context.Background(), "missing")
	if err != nil || got != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestGetByPlayer(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	m := sampleMatch(t)
	if err := c.Save(ctx, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := c.GetByPlayer(ctx, testPlayer)
	if err != nil {
		t.Fatalf("GetByPlayer: %v", err)
	}
	if got == nil || got.ID != m.ID {
		t.Fatalf("GetByPlayer returned %+v", got)
	}
	none, err := c.GetByPlayer(ctx, "0x0000000000000000000000000000000000000000")
	if err != nil || none != nil {
		t.Fatalf("GetByPlayer(unknown) = %v, %v; want nil, nil", none, err)
	}
}

func TestDeleteRemovesBothKeys(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	m := sampleMatch(t)
	if err := c.Save(ctx, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists("match:" + m.ID) {
		t.Error("match key survived delete")
	}
	if mr.Exists("player:" + testPlayer) {
		t.Error("player pointer survived delete")
	}
	// deleting again is a no-op, not an error
	if err := c.Delete(ctx, m.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestListAllSkipsPlayerPointers(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	players := []string{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333",
	}
	e := match.NewEngine()
	want := make(map[string]bool)
	for _, p := range players {
		m, err := e.Create(p)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := c.Save(ctx, m); err != nil {
			t.Fatalf("Save: %v", err)
		}
		want[m.ID] = true
	}

	all, err := c.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != len(players) {
		t.Fatalf("ListAll returned %d matches, want %d", len(all), len(players))
	}
	for _, m := range all {
		if !want[m.ID] {
			t.Errorf("unexpected match %q in listing", m.ID)
		}
	}
}

func TestCompareAndSaveDetectsConflict(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	m := sampleMatch(t)
	if err := c.Save(ctx, m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// normal successor write goes through
	next := m.Clone()
	next.Version++
	next.LastActivityAt = next.LastActivityAt.Add(time.Second)
	if err := c.CompareAndSave(ctx, next); err != nil {
		t.Fatalf("CompareAndSave: %v", err)
	}

	// a stale writer racing on the old version is rejected
	stale := m.Clone()
	stale.Version++ // same target version as next
	if err := c.CompareAndSave(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale CompareAndSave err = %v, want ErrVersionConflict", err)
	}

	got, err := c.Get(ctx, m.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != next.Version {
		t.Fatalf("stored version %d, want %d", got.Version, next.Version)
	}
}

func TestCompareAndSaveOnEvictedSnapshot(t *testing.T) {
	c, _ := newTestCache(t)
	m := sampleMatch(t)
	next := m.Clone()
	next.Version++
	if err := c.CompareAndSave(context.Background(), next); !errors.Is(err, ErrNotCached) {
		t.Fatalf("err = %v, want ErrNotCached", err)
	}
}
