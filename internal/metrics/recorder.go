package metrics

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Delvin233/rps-onchain-sub000/internal/obslog"
)

// Operation categories recorded against the external surface.
const (
	OpStart     = "start"
	OpPlayRound = "play_round"
	OpStatus    = "status"
	OpAbandon   = "abandon"
)

// Backend categories.
const (
	BackendCache = "cache"
	BackendStore = "store"
)

const (
	seriesMax = 100
	seriesTTL = 24 * time.Hour
)

// Alert names emitted by the monitoring view.
const (
	AlertActiveMatchesHigh = "active_matches_high"
	AlertCompletionRateLow = "completion_rate_low"
	AlertErrorRateHigh     = "error_rate_high"
)

var operations = []string{OpStart, OpPlayRound, OpStatus, OpAbandon}
var backends = []string{BackendCache, BackendStore}

type sample struct {
	Op         string    `json:"op,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	OK         bool      `json:"ok"`
	At         time.Time `json:"at"`
}

// Result classifies one external operation for error accounting. Each
// failed operation is attributed to exactly one origin: caller-fault
// rejections count against the API error counter, storage-caused failures
// are counted once by the backend recording and not again here.
type Result int

const (
	ResultOK Result = iota
	ResultClientError
	ResultStorageError
)

// Recorder writes operational telemetry into Redis: bounded ring buffers of
// latency samples per category, scalar counters, and a live active-match
// gauge. The gauge is adjusted on start and terminal transitions and
// corrected to an absolute count by each active sweep. Every Record* method
// swallows backend errors — a metrics outage degrades to "metrics not
// recorded", never to a request failure. A nil Recorder is safe to call.
type Recorder struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Recorder { return &Recorder{rdb: rdb} }

func opKey(op string) string        { return "metrics:op:" + op }
func backendKey(b string) string    { return "metrics:backend:" + b }
func counterKey(name string) string { return "metrics:count:" + name }

// RecordOperation records one external operation's latency and outcome and
// bumps the request counter. Only client-fault failures bump errors_api;
// storage-caused failures were already counted by the backend recording.
func (r *Recorder) RecordOperation(ctx context.Context, op string, d time.Duration, res Result) {
	if r == nil || r.rdb == nil {
		return
	}
	raw, err := json.Marshal(sample{DurationMS: d.Milliseconds(), OK: res == ResultOK, At: time.Now()})
	if err != nil {
		return
	}
	pipe := r.rdb.Pipeline()
	pipe.LPush(ctx, opKey(op), raw)
	pipe.LTrim(ctx, opKey(op), 0, seriesMax-1)
	pipe.Expire(ctx, opKey(op), seriesTTL)
	pipe.Incr(ctx, counterKey("requests"))
	pipe.Expire(ctx, counterKey("requests"), seriesTTL)
	if res == ResultClientError {
		pipe.Incr(ctx, counterKey("errors_api"))
		pipe.Expire(ctx, counterKey("errors_api"), seriesTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		obslog.L().Warn("metrics_record_failed", zap.String("op", op), zap.Error(err))
	}
}

// RecordBackend records one storage-backend call (cache or durable store).
func (r *Recorder) RecordBackend(ctx context.Context, backend, op string, d time.Duration, ok bool) {
	if r == nil || r.rdb == nil {
		return
	}
	raw, err := json.Marshal(sample{Op: op, DurationMS: d.Milliseconds(), OK: ok, At: time.Now()})
	if err != nil {
		return
	}
	pipe := r.rdb.Pipeline()
	pipe.LPush(ctx, backendKey(backend), raw)
	pipe.LTrim(ctx, backendKey(backend), 0, seriesMax-1)
	pipe.Expire(ctx, backendKey(backend), seriesTTL)
	if !ok {
		pipe.Incr(ctx, counterKey("errors_storage"))
		pipe.Expire(ctx, counterKey("errors_storage"), seriesTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		obslog.L().Warn("metrics_record_failed", zap.String("backend", backend), zap.Error(err))
	}
}

// RecordTerminal counts a terminal transition toward the rolling
// completion-vs-abandonment ratio.
func (r *Recorder) RecordTerminal(ctx context.Context, abandoned bool) {
	if r == nil || r.rdb == nil {
		return
	}
	name := "completed"
	if abandoned {
		name = "abandoned"
	}
	pipe := r.rdb.Pipeline()
	pipe.Incr(ctx, counterKey(name))
	pipe.Expire(ctx, counterKey(name), seriesTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		obslog.L().Warn("metrics_record_failed", zap.String("counter", name), zap.Error(err))
	}
}

// SetActiveMatches overwrites the active-match gauge with an absolute
// count, resynchronizing it after a sweep enumerates the cache.
func (r *Recorder) SetActiveMatches(ctx context.Context, n int) {
	if r == nil || r.rdb == nil {
		return
	}
	if err := r.rdb.Set(ctx, "metrics:gauge:active_matches", n, seriesTTL).Err(); err != nil {
		obslog.L().Warn("metrics_record_failed", zap.String("gauge", "active_matches"), zap.Error(err))
	}
}

// AddActiveMatches shifts the active-match gauge as matches start and
// reach a terminal state, keeping it live between sweeps.
func (r *Recorder) AddActiveMatches(ctx context.Context, delta int) {
	if r == nil || r.rdb == nil {
		return
	}
	pipe := r.rdb.Pipeline()
	pipe.IncrBy(ctx, "metrics:gauge:active_matches", int64(delta))
	pipe.Expire(ctx, "metrics:gauge:active_matches", seriesTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		obslog.L().Warn("metrics_record_failed", zap.String("gauge", "active_matches"), zap.Error(err))
	}
}

// OpStats aggregates one ring-buffer series.
type OpStats struct {
	Count        int     `json:"count"`
	Successes    int     `json:"successes"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	MaxLatencyMS int64   `json:"max_latency_ms"`
}

// Snapshot is the aggregate view over everything recorded.
type Snapshot struct {
	Operations     map[string]OpStats `json:"operations"`
	Backends       map[string]OpStats `json:"backends"`
	ActiveMatches  int                `json:"active_matches"`
	Completed      int64              `json:"completed"`
	Abandoned      int64              `json:"abandoned"`
	CompletionRate float64            `json:"completion_rate"`
	Requests       int64              `json:"requests"`
	APIErrors      int64              `json:"api_errors"`
	StorageErrors  int64              `json:"storage_errors"`
	ErrorRate      float64            `json:"error_rate"`
}

// Monitoring is the condensed view with evaluated alert conditions.
type Monitoring struct {
	ActiveMatches  int      `json:"active_matches"`
	CompletionRate float64  `json:"completion_rate"`
	ErrorRate      float64  `json:"error_rate"`
	Alerts         []string `json:"alerts"`
}

// GetMetrics reads and aggregates the recorded series and counters. Unlike
// the Record* methods, reads surface their errors — the ops surface wants
// to know when telemetry is unreadable.
func (r *Recorder) GetMetrics(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Operations: make(map[string]OpStats, len(operations)),
		Backends:   make(map[string]OpStats, len(backends)),
	}
	for _, op := range operations {
		st, err := r.seriesStats(ctx, opKey(op))
		if err != nil {
			return nil, err
		}
		snap.Operations[op] = st
	}
	for _, b := range backends {
		st, err := r.seriesStats(ctx, backendKey(b))
		if err != nil {
			return nil, err
		}
		snap.Backends[b] = st
	}

	var err error
	if snap.ActiveMatches, err = r.intValue(ctx, "metrics:gauge:active_matches"); err != nil {
		return nil, err
	}
	// delta adjustments racing a sweep's absolute reset can drift below zero
	if snap.ActiveMatches < 0 {
		snap.ActiveMatches = 0
	}
	if snap.Completed, err = r.counter(ctx, "completed"); err != nil {
		return nil, err
	}
	if snap.Abandoned, err = r.counter(ctx, "abandoned"); err != nil {
		return nil, err
	}
	if snap.Requests, err = r.counter(ctx, "requests"); err != nil {
		return nil, err
	}
	if snap.APIErrors, err = r.counter(ctx, "errors_api"); err != nil {
		return nil, err
	}
	if snap.StorageErrors, err = r.counter(ctx, "errors_storage"); err != nil {
		return nil, err
	}

	snap.CompletionRate = 100
	if total := snap.Completed + snap.Abandoned; total > 0 {
		snap.CompletionRate = float64(snap.Completed) / float64(total) * 100
	}
	if snap.Requests > 0 {
		snap.ErrorRate = float64(snap.APIErrors+snap.StorageErrors) / float64(snap.Requests) * 100
	}
	return snap, nil
}

// GetMonitoringMetrics condenses the snapshot and evaluates the alert
// thresholds: too many active matches, completion rate below 70%, error
// rate above 5%.
func (r *Recorder) GetMonitoringMetrics(ctx context.Context) (*Monitoring, error) {
	snap, err := r.GetMetrics(ctx)
	if err != nil {
		return nil, err
	}
	mon := &Monitoring{
		ActiveMatches:  snap.ActiveMatches,
		CompletionRate: snap.CompletionRate,
		ErrorRate:      snap.ErrorRate,
	}
	if snap.ActiveMatches > 100 {
		mon.Alerts = append(mon.Alerts, AlertActiveMatchesHigh)
	}
	if snap.Completed+snap.Abandoned > 0 && snap.CompletionRate < 70 {
		mon.Alerts = append(mon.Alerts, AlertCompletionRateLow)
	}
	if snap.Requests > 0 && snap.ErrorRate > 5 {
		mon.Alerts = append(mon.Alerts, AlertErrorRateHigh)
	}
	return mon, nil
}

func (r *Recorder) seriesStats(ctx context.Context, key string) (OpStats, error) {
	var st OpStats
	items, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return st, err
	}
	var totalMS int64
	for _, raw := range items {
		var s sample
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		st.Count++
		if s.OK {
			st.Successes++
		}
		totalMS += s.DurationMS
		if s.DurationMS > st.MaxLatencyMS {
			st.MaxLatencyMS = s.DurationMS
		}
	}
	if st.Count > 0 {
		st.SuccessRate = float64(st.Successes) / float64(st.Count) * 100
		st.AvgLatencyMS = float64(totalMS) / float64(st.Count)
	}
	return st, nil
}

func (r *Recorder) counter(ctx context.Context, name string) (int64, error) {
	v, err := r.rdb.Get(ctx, counterKey(name)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n, nil
}

func (r *Recorder) intValue(ctx context.Context, key string) (int, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(v)
	return n, nil
}
