package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Delvin233/rps-onchain-sub000/internal/match"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchcache"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchstore"
	"github.com/Delvin233/rps-onchain-sub000/internal/metrics"
	"github.com/Delvin233/rps-onchain-sub000/internal/obslog"
	"github.com/Delvin233/rps-onchain-sub000/internal/sweeper"
	"github.com/Delvin233/rps-onchain-sub000/pkg/rpsdto"
)

// DefaultMatchTimeout is the business-level inactivity window after which an
// active match is considered abandoned.
const DefaultMatchTimeout = 10 * time.Minute

// Throttle thresholds for the abandonment pattern: a player is blocked from
// starting new matches once they have at least minAttempts total attempts,
// at least minAbandoned of them abandoned, and an abandonment share of at
// least throttleRatio.
const (
	throttleMinAttempts  = 5
	throttleMinAbandoned = 3
	throttleRatio        = 0.5
)

// Manager is the facade orchestrating the state machine, the cache bridge,
// the durable store, the metrics recorder and the sweeper. Construct one at
// process start and inject it into request handlers; it holds no hidden
// global state and is safe for concurrent use across distinct match ids.
type Manager struct {
	engine  *match.Engine
	cache   *matchcache.Cache
	store   matchstore.Store
	metrics *metrics.Recorder
	sweeper *sweeper.Sweeper
	timeout time.Duration
}

func New(engine *match.Engine, cache *matchcache.Cache, store matchstore.Store, rec *metrics.Recorder, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	return &Manager{
		engine:  engine,
		cache:   cache,
		store:   store,
		metrics: rec,
		sweeper: sweeper.New(engine, cache, store, rec, timeout),
		timeout: timeout,
	}
}

// StartMatch creates a new active match for the player. Fails with
// already_active when the player owns a live match and with throttled when
// their abandonment pattern is excessive.
func (m *Manager) StartMatch(ctx context.Context, playerID string) (created *match.Match, err error) {
	defer m.observeOp(ctx, metrics.OpStart, time.Now(), &err)

	addr, ok := match.NormalizeAddress(playerID)
	if !ok {
		return nil, rpsdto.NewDomainError(rpsdto.CodeInvalidInput,
			fmt.Sprintf("invalid player address %q", playerID))
	}

	existing, err := m.timedCache(ctx, "get_by_player", func() (*match.Match, error) {
		return m.cache.GetByPlayer(ctx, addr)
	})
	if err != nil {
		return nil, storageErr("look up active match", err)
	}
	if existing != nil {
		// a timed-out leftover is reconciled instead of blocking the player
		if m.engine.IsTimedOut(existing, m.timeout) {
			if _, err := m.expire(ctx, existing); err != nil {
				return nil, err
			}
		} else if existing.Status == match.StatusActive {
			return nil, rpsdto.NewDomainError(rpsdto.CodeAlreadyActive,
				fmt.Sprintf("player already has an active match %s", existing.ID))
		}
	}

	if m.isThrottled(ctx, addr) {
		return nil, rpsdto.NewDomainError(rpsdto.CodeThrottled,
			"too many abandoned matches; finish your games before starting new ones")
	}

	created, err = m.engine.Create(addr)
	if err != nil {
		return nil, err
	}
	if err := m.timedCacheErr(ctx, "save", func() error {
		return m.cache.Save(ctx, created)
	}); err != nil {
		return nil, storageErr("persist new match", err)
	}
	m.metrics.AddActiveMatches(ctx, 1)

	obslog.L().Info("match_start",
		zap.String("match_id", created.ID),
		zap.String("player", created.Player),
	)
	return created, nil
}

// isThrottled applies the abandonment-pattern rule. A stats-read failure
// fails open: new or returning players are never blocked by a stats outage.
func (m *Manager) isThrottled(ctx context.Context, addr string) bool {
	stats, err := m.store.Stats(ctx, addr)
	if err != nil {
		obslog.L().Warn("throttle_stats_unavailable", zap.String("player", addr), zap.Error(err))
		return false
	}
	total := stats.MatchesPlayed + stats.MatchesAbandoned
	if total < throttleMinAttempts || stats.MatchesAbandoned < throttleMinAbandoned {
		return false
	}
	return float64(stats.MatchesAbandoned)/float64(total) >= throttleRatio
}

// PlayRound applies one round to the match. Still-active matches are
// re-persisted with a conditional write; terminal ones are committed
// durably and evicted from the cache.
func (m *Manager) PlayRound(ctx context.Context, matchID string, rawMove string) (updated *match.Match, round *match.Round, err error) {
	defer m.observeOp(ctx, metrics.OpPlayRound, time.Now(), &err)

	mv, ok := match.ParseMove(rawMove)
	if !ok {
		return nil, nil, rpsdto.NewDomainError(rpsdto.CodeInvalidInput,
			fmt.Sprintf("invalid move %q", rawMove))
	}
	cur, err := m.loadStatus(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if cur == nil {
		return nil, nil, rpsdto.NewDomainError(rpsdto.CodeNotFound,
			fmt.Sprintf("match %s was not found", matchID))
	}

	updated, round, err = m.engine.ApplyRound(cur, mv)
	if err != nil {
		return nil, nil, err
	}

	if updated.Status == match.StatusActive {
		err = m.timedCacheErr(ctx, "save", func() error {
			return m.cache.CompareAndSave(ctx, updated)
		})
		switch {
		case errors.Is(err, matchcache.ErrVersionConflict):
			return nil, nil, rpsdto.NewDomainError(rpsdto.CodeConflict,
				fmt.Sprintf("match %s was updated concurrently", updated.ID))
		case errors.Is(err, matchcache.ErrNotCached):
			return nil, nil, rpsdto.NewDomainError(rpsdto.CodeNotFound,
				fmt.Sprintf("match %s was not found", updated.ID))
		case err != nil:
			return nil, nil, storageErr("persist match", err)
		}
	} else {
		if err := m.commitTerminal(ctx, updated); err != nil {
			return nil, nil, err
		}
	}

	obslog.L().Info("match_round",
		zap.String("match_id", updated.ID),
		zap.String("player_move", string(round.PlayerMove)),
		zap.String("ai_move", string(round.AIMove)),
		zap.String("outcome", string(round.Outcome)),
		zap.String("status", string(updated.Status)),
	)
	return updated, round, nil
}

// GetMatchStatus returns the cached match, lazily reconciling a timed-out
// one into the abandoned state. Absent matches return (nil, nil); matches
// already evicted to the durable store are not re-fetched here.
func (m *Manager) GetMatchStatus(ctx context.Context, matchID string) (cur *match.Match, err error) {
	defer m.observeOp(ctx, metrics.OpStatus, time.Now(), &err)
	return m.loadStatus(ctx, matchID)
}

func (m *Manager) loadStatus(ctx context.Context, matchID string) (*match.Match, error) {
	cur, err := m.timedCache(ctx, "get", func() (*match.Match, error) {
		return m.cache.Get(ctx, matchID)
	})
	if err != nil {
		return nil, storageErr("load match", err)
	}
	if cur == nil {
		return nil, nil
	}
	if m.engine.IsTimedOut(cur, m.timeout) {
		return m.expire(ctx, cur)
	}
	return cur, nil
}

// expire force-abandons a timed-out match: commit durably, evict from
// cache, count the abandonment.
func (m *Manager) expire(ctx context.Context, cur *match.Match) (*match.Match, error) {
	ab, err := m.engine.Abandon(cur)
	if err != nil {
		return nil, err
	}
	if err := m.commitTerminal(ctx, ab); err != nil {
		return nil, err
	}
	obslog.L().Info("match_timeout",
		zap.String("match_id", ab.ID),
		zap.String("player", ab.Player),
	)
	return ab, nil
}

func (m *Manager) commitTerminal(ctx context.Context, term *match.Match) error {
	if err := m.timedStoreErr(ctx, "commit", func() error {
		return m.store.Commit(ctx, term)
	}); err != nil {
		return storageErr("commit match", err)
	}
	if err := m.timedCacheErr(ctx, "delete", func() error {
		return m.cache.Delete(ctx, term.ID)
	}); err != nil {
		return storageErr("evict match", err)
	}
	m.metrics.RecordTerminal(ctx, term.IsAbandoned)
	m.metrics.AddActiveMatches(ctx, -1)
	return nil
}

// GetActiveMatchForPlayer is a thin delegation to the cache bridge.
func (m *Manager) GetActiveMatchForPlayer(ctx context.Context, playerID string) (*match.Match, error) {
	addr, ok := match.NormalizeAddress(playerID)
	if !ok {
		return nil, rpsdto.NewDomainError(rpsdto.CodeInvalidInput,
			fmt.Sprintf("invalid player address %q", playerID))
	}
	cur, err := m.cache.GetByPlayer(ctx, addr)
	if err != nil {
		return nil, storageErr("look up active match", err)
	}
	return cur, nil
}

// AbandonMatchByID abandons an active match on the player's behalf.
func (m *Manager) AbandonMatchByID(ctx context.Context, matchID string) (ab *match.Match, err error) {
	defer m.observeOp(ctx, metrics.OpAbandon, time.Now(), &err)

	cur, err := m.timedCache(ctx, "get", func() (*match.Match, error) {
		return m.cache.Get(ctx, matchID)
	})
	if err != nil {
		return nil, storageErr("load match", err)
	}
	if cur == nil {
		return nil, rpsdto.NewDomainError(rpsdto.CodeNotFound,
			fmt.Sprintf("match %s was not found", matchID))
	}
	if cur.Status != match.StatusActive {
		return nil, rpsdto.NewDomainError(rpsdto.CodeInvalidMatchState,
			fmt.Sprintf("match %s is not active", matchID))
	}
	ab, err = m.engine.Abandon(cur)
	if err != nil {
		return nil, err
	}
	if err := m.commitTerminal(ctx, ab); err != nil {
		return nil, err
	}
	obslog.L().Info("match_abandon",
		zap.String("match_id", ab.ID),
		zap.String("player", ab.Player),
	)
	return ab, nil
}

// GetPlayerStats returns the combined legacy + match statistics view.
func (m *Manager) GetPlayerStats(ctx context.Context, playerID string) (*rpsdto.CombinedStats, error) {
	addr, ok := match.NormalizeAddress(playerID)
	if !ok {
		return nil, rpsdto.NewDomainError(rpsdto.CodeInvalidInput,
			fmt.Sprintf("invalid player address %q", playerID))
	}
	stats, err := m.store.Stats(ctx, addr)
	if err != nil {
		return nil, storageErr("load player stats", err)
	}
	combined := stats.Combined()
	return &combined, nil
}

// GetHistory pages through the player's terminal matches, most recently
// completed first.
func (m *Manager) GetHistory(ctx context.Context, playerID string, limit, offset int) ([]*match.Match, error) {
	addr, ok := match.NormalizeAddress(playerID)
	if !ok {
		return nil, rpsdto.NewDomainError(rpsdto.CodeInvalidInput,
			fmt.Sprintf("invalid player address %q", playerID))
	}
	out, err := m.store.History(ctx, addr, limit, offset)
	if err != nil {
		return nil, storageErr("load match history", err)
	}
	return out, nil
}

// PerformMatchCleanup runs one sweep, tagged with a run id for tracing.
func (m *Manager) PerformMatchCleanup(ctx context.Context, opts sweeper.Options) (*sweeper.Report, error) {
	runID := uuid.NewString()
	obslog.L().Info("cleanup_run", zap.String("run_id", runID), zap.Bool("sweep_active", opts.SweepActive))
	report, err := m.sweeper.Sweep(ctx, opts)
	if err != nil {
		obslog.L().Error("cleanup_run_failed", zap.String("run_id", runID), zap.Error(err))
		return nil, err
	}
	return report, nil
}

// EmergencyCleanup runs the aggressive one-day-retention sweep.
func (m *Manager) EmergencyCleanup(ctx context.Context) (*sweeper.Report, error) {
	return m.sweeper.EmergencyCleanup(ctx)
}

// GetAbandonmentMetrics shapes the cleanup recommendation and monitoring
// snapshot for operational consumers.
func (m *Manager) GetAbandonmentMetrics(ctx context.Context) (*rpsdto.AbandonmentMetrics, error) {
	rec, err := m.sweeper.RecommendCleanup(ctx)
	if err != nil {
		return nil, storageErr("inspect cached matches", err)
	}
	out := &rpsdto.AbandonmentMetrics{
		CleanupRecommended: rec.Recommended,
		Reason:             rec.Reason,
	}
	if mon, err := m.metrics.GetMonitoringMetrics(ctx); err == nil && mon != nil {
		out.ActiveMatches = mon.ActiveMatches
		out.CompletionRate = mon.CompletionRate
		out.ErrorRate = mon.ErrorRate
		out.Alerts = mon.Alerts
	}
	return out, nil
}

// GetMonitoringMetrics exposes the condensed metrics view.
func (m *Manager) GetMonitoringMetrics(ctx context.Context) (*metrics.Monitoring, error) {
	return m.metrics.GetMonitoringMetrics(ctx)
}

// GetMetrics exposes the full metrics snapshot.
func (m *Manager) GetMetrics(ctx context.Context) (*metrics.Snapshot, error) {
	return m.metrics.GetMetrics(ctx)
}

// observeOp records the operation sample, attributing each failure to one
// origin: caller-fault rejections count as API errors, storage failures
// were already counted by the backend recordings.
func (m *Manager) observeOp(ctx context.Context, op string, start time.Time, err *error) {
	res := metrics.ResultOK
	switch {
	case *err == nil:
	case rpsdto.IsCode(*err, rpsdto.CodeStorageUnavailable):
		res = metrics.ResultStorageError
	default:
		res = metrics.ResultClientError
	}
	m.metrics.RecordOperation(ctx, op, time.Since(start), res)
}

func (m *Manager) timedCache(ctx context.Context, op string, fn func() (*match.Match, error)) (*match.Match, error) {
	start := time.Now()
	out, err := fn()
	m.metrics.RecordBackend(ctx, metrics.BackendCache, op, time.Since(start), err == nil)
	return out, err
}

func (m *Manager) timedCacheErr(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	ok := err == nil || errors.Is(err, matchcache.ErrVersionConflict) || errors.Is(err, matchcache.ErrNotCached)
	m.metrics.RecordBackend(ctx, metrics.BackendCache, op, time.Since(start), ok)
	return err
}

func (m *Manager) timedStoreErr(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.metrics.RecordBackend(ctx, metrics.BackendStore, op, time.Since(start), err == nil)
	return err
}

// storageErr wraps an infrastructure failure so callers can distinguish it
// from domain-rule rejections. Domain errors pass through untouched.
func storageErr(action string, err error) error {
	var de rpsdto.DomainError
	if errors.As(err, &de) {
		return err
	}
	return fmt.Errorf("%w: %s: %s",
		rpsdto.NewDomainError(rpsdto.CodeStorageUnavailable, "storage unavailable"),
		action, err.Error())
}
