package sweeper

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Delvin233/rps-onchain-sub000/internal/match"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchcache"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchstore"
	"github.com/Delvin233/rps-onchain-sub000/internal/metrics"
)

const matchTimeout = 10 * time.Minute

type fixture struct {
	sweeper *Sweeper
	cache   *matchcache.Cache
	store   *matchstore.MemoryStore
	engine  *match.Engine
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := &fixture{
		cache: matchcache.New(rdb, matchcache.DefaultTTL),
		store: matchstore.NewMemoryStore(),
		now:   time.Now(),
	}
	f.engine = match.NewEngineWith(func() time.Time { return f.now }, nil)
	f.sweeper = New(f.engine, f.cache, f.store, metrics.New(rdb), matchTimeout)
	return f
}

func testAddr(i int) string {
	return "0x" + strings.Repeat(fmt.Sprintf("%02d", i%100), 20)
}

// cachedMatch creates an active match whose last activity is idle in the past.
func (f *fixture) cachedMatch(t *testing.T, player string, idle time.Duration) *match.Match {
	t.Helper()
	m, err := f.engine.Create(player)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	m.StartedAt = f.now.Add(-idle)
	m.LastActivityAt = f.now.Add(-idle)
	if err := f.cache.Save(context.Background(), m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return m
}

func TestSweepExpiresOnlyTimedOutMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.cachedMatch(t, testAddr(1), 15*time.Minute)
	fresh := f.cachedMatch(t, testAddr(2), 5*time.Minute)

	report, err := f.sweeper.Sweep(ctx, Options{SweepActive: true})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.ExpiredActiveMatches != 1 {
		t.Fatalf("expired %d, want 1", report.ExpiredActiveMatches)
	}

	// stale match is gone from cache and durable as abandoned
	if m, _ := f.cache.Get(ctx, stale.ID); m != nil {
		t.Error("stale match still cached")
	}
	committed, err := f.store.Get(ctx, stale.ID)
	if err != nil || committed == nil {
		t.Fatalf("stale match not committed: %v", err)
	}
	if committed.Status != match.StatusAbandoned || committed.Winner != match.OutcomeAI || !committed.IsAbandoned {
		t.Fatalf("committed match %+v", committed)
	}

	// fresh match untouched
	if m, _ := f.cache.Get(ctx, fresh.ID); m == nil {
		t.Error("fresh match evicted by sweep")
	}
	if m, _ := f.store.Get(ctx, fresh.ID); m != nil {
		t.Error("fresh match committed by sweep")
	}
}

func TestSweepSkipsActiveScanWhenDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.cachedMatch(t, testAddr(3), 15*time.Minute)

	report, err := f.sweeper.Sweep(ctx, Options{SweepActive: false})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.ExpiredActiveMatches != 0 {
		t.Fatalf("expired %d with SweepActive=false", report.ExpiredActiveMatches)
	}
	if m, _ := f.cache.Get(ctx, stale.ID); m == nil {
		t.Error("cached match touched with SweepActive=false")
	}
}

func TestSweepPurgesOldAbandonedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mk := func(player string, age time.Duration) {
		e := match.NewEngineWith(func() time.Time { return f.now.Add(-age) }, nil)
		m, err := e.Create(player)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		m, err = e.Abandon(m)
		if err != nil {
			t.Fatalf("Abandon: %v", err)
		}
		if err := f.store.Commit(ctx, m); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}
	mk(testAddr(4), 10*24*time.Hour) // beyond default retention
	mk(testAddr(5), 2*24*time.Hour)  // inside default, beyond emergency

	report, err := f.sweeper.Sweep(ctx, Options{AbandonedRetentionDays: DefaultRetentionDays})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.DeletedAbandonedMatches != 1 {
		t.Fatalf("deleted %d, want 1", report.DeletedAbandonedMatches)
	}

	// emergency cleanup applies one-day retention
	report, err = f.sweeper.EmergencyCleanup(ctx)
	if err != nil {
		t.Fatalf("EmergencyCleanup: %v", err)
	}
	if report.DeletedAbandonedMatches != 1 {
		t.Fatalf("emergency deleted %d, want 1", report.DeletedAbandonedMatches)
	}
}

func TestRecommendCleanupQuietSystem(t *testing.T) {
	f := newFixture(t)
	rec, err := f.sweeper.RecommendCleanup(context.Background())
	if err != nil {
		t.Fatalf("RecommendCleanup: %v", err)
	}
	if rec.Recommended || rec.Reason != "" {
		t.Fatalf("recommendation on empty cache: %+v", rec)
	}
}

func TestRecommendCleanupNearTimeoutPressure(t *testing.T) {
	f := newFixture(t)
	// a dozen matches half a minute away from timing out
	for i := 0; i < 12; i++ {
		f.cachedMatch(t, testAddr(i+10), matchTimeout-30*time.Second)
	}
	rec, err := f.sweeper.RecommendCleanup(context.Background())
	if err != nil {
		t.Fatalf("RecommendCleanup: %v", err)
	}
	if !rec.Recommended || rec.Reason == "" {
		t.Fatalf("expected near-timeout recommendation, got %+v", rec)
	}
}

func TestRecommendCleanupHighWaterMark(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < activeHighWaterMark+1; i++ {
		f.cachedMatch(t, testAddr(i), time.Minute)
	}
	rec, err := f.sweeper.RecommendCleanup(context.Background())
	if err != nil {
		t.Fatalf("RecommendCleanup: %v", err)
	}
	if !rec.Recommended {
		t.Fatalf("expected high-water recommendation, got %+v", rec)
	}
}
