package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Delvin233/rps-onchain-sub000/internal/match"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchcache"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchstore"
	"github.com/Delvin233/rps-onchain-sub000/internal/metrics"
	"github.com/Delvin233/rps-onchain-sub000/internal/obslog"
)

const (
	// DefaultRetentionDays is how long abandoned rows stay in the durable
	// store before a sweep purges them.
	DefaultRetentionDays = 7
	// EmergencyRetentionDays is the aggressive retention used by
	// EmergencyCleanup.
	EmergencyRetentionDays = 1

	activeHighWaterMark  = 100
	nearTimeoutWindow    = time.Minute
	nearTimeoutThreshold = 10
	nearTimeoutCritical  = 20
)

// Options tunes one sweep run.
type Options struct {
	AbandonedRetentionDays int  `json:"abandoned_retention_days"`
	SweepActive            bool `json:"sweep_active"`
}

// Report is the outcome of one sweep run.
type Report struct {
	ExpiredActiveMatches    int `json:"expired_active_matches"`
	DeletedAbandonedMatches int `json:"deleted_abandoned_matches"`
}

// Recommendation is the advisory output of RecommendCleanup.
type Recommendation struct {
	Recommended bool   `json:"recommended"`
	Reason      string `json:"reason,omitempty"`
}

// Sweeper reconciles stale cache entries into the durable store and purges
// old abandoned rows. It has no scheduling of its own; an external trigger
// calls it.
type Sweeper struct {
	engine  *match.Engine
	cache   *matchcache.Cache
	store   matchstore.Store
	metrics *metrics.Recorder
	timeout time.Duration
}

func New(engine *match.Engine, cache *matchcache.Cache, store matchstore.Store, rec *metrics.Recorder, timeout time.Duration) *Sweeper {
	return &Sweeper{engine: engine, cache: cache, store: store, metrics: rec, timeout: timeout}
}

// Sweep walks the cached active matches and force-abandons every timed-out
// one, then purges durable abandoned rows older than the retention window.
// A single match failing to process is logged and skipped; only a failure
// to enumerate the cache fails the whole sweep.
func (s *Sweeper) Sweep(ctx context.Context, opts Options) (*Report, error) {
	if opts.AbandonedRetentionDays <= 0 {
		opts.AbandonedRetentionDays = DefaultRetentionDays
	}
	report := &Report{}

	if opts.SweepActive {
		all, err := s.cache.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("enumerate cached matches: %w", err)
		}
		active := 0
		for _, m := range all {
			if !s.engine.IsTimedOut(m, s.timeout) {
				if m.Status == match.StatusActive {
					active++
				}
				continue
			}
			if err := s.expire(ctx, m); err != nil {
				obslog.L().Warn("sweep_match_failed",
					zap.String("match_id", m.ID), zap.Error(err))
				continue
			}
			report.ExpiredActiveMatches++
		}
		s.metrics.SetActiveMatches(ctx, active)
	}

	cutoff := time.Now().AddDate(0, 0, -opts.AbandonedRetentionDays)
	deleted, err := s.store.PurgeAbandoned(ctx, cutoff)
	if err != nil {
		obslog.L().Error("sweep_purge_failed", zap.Error(err))
	} else {
		report.DeletedAbandonedMatches = deleted
	}

	obslog.L().Info("sweep_done",
		zap.Int("expired_active", report.ExpiredActiveMatches),
		zap.Int("deleted_abandoned", report.DeletedAbandonedMatches),
		zap.Int("retention_days", opts.AbandonedRetentionDays),
	)
	return report, nil
}

func (s *Sweeper) expire(ctx context.Context, m *match.Match) error {
	ab, err := s.engine.Abandon(m)
	if err != nil {
		return err
	}
	if err := s.store.Commit(ctx, ab); err != nil {
		return err
	}
	s.metrics.RecordTerminal(ctx, true)
	return s.cache.Delete(ctx, ab.ID)
}

// RecommendCleanup advises whether a sweep is worth triggering now: either
// the active-match count passed the high-water mark, or too many matches
// sit within a minute of timing out.
func (s *Sweeper) RecommendCleanup(ctx context.Context) (*Recommendation, error) {
	all, err := s.cache.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate cached matches: %w", err)
	}
	active, nearTimeout := 0, 0
	for _, m := range all {
		if m.Status != match.StatusActive {
			continue
		}
		active++
		if s.engine.IsTimedOut(m, s.timeout-nearTimeoutWindow) {
			nearTimeout++
		}
	}
	switch {
	case active > activeHighWaterMark:
		return &Recommendation{
			Recommended: true,
			Reason:      fmt.Sprintf("%d active matches exceed the high-water mark of %d", active, activeHighWaterMark),
		}, nil
	case nearTimeout > nearTimeoutCritical:
		return &Recommendation{
			Recommended: true,
			Reason:      fmt.Sprintf("%d matches are within a minute of timing out (critical)", nearTimeout),
		}, nil
	case nearTimeout > nearTimeoutThreshold:
		return &Recommendation{
			Recommended: true,
			Reason:      fmt.Sprintf("%d matches are within a minute of timing out", nearTimeout),
		}, nil
	}
	return &Recommendation{}, nil
}

// EmergencyCleanup runs a full sweep with the aggressive one-day retention.
func (s *Sweeper) EmergencyCleanup(ctx context.Context) (*Report, error) {
	return s.Sweep(ctx, Options{
		AbandonedRetentionDays: EmergencyRetentionDays,
		SweepActive:            true,
	})
}
