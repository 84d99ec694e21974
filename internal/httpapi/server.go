package httpapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Delvin233/rps-onchain-sub000/internal/manager"
	"github.com/Delvin233/rps-onchain-sub000/internal/match"
	"github.com/Delvin233/rps-onchain-sub000/internal/msgcat"
	"github.com/Delvin233/rps-onchain-sub000/internal/obslog"
	"github.com/Delvin233/rps-onchain-sub000/internal/sweeper"
	"github.com/Delvin233/rps-onchain-sub000/pkg/rpsdto"
)

// Server is the JSON surface over the match manager. Handlers stay thin:
// decode, call the manager, encode. All business rules live behind the
// manager; the only logic here is routing and error mapping.
type Server struct {
	mgr *manager.Manager
	cat *msgcat.Catalog
}

func New(mgr *manager.Manager, cat *msgcat.Catalog) *Server {
	return &Server{mgr: mgr, cat: cat}
}

// Handler returns the fasthttp entrypoint with request ids, access logging
// and panic recovery wrapped around the router.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		reqID := uuid.NewString()
		ctx.Response.Header.Set("X-Request-ID", reqID)

		defer func() {
			if r := recover(); r != nil {
				obslog.L().Error("handler_panic",
					zap.String("request_id", reqID),
					zap.Any("panic", r),
				)
				s.writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{
					Error: errorDetail{Code: "internal", Message: "internal server error"},
				})
			}
			obslog.L().Info("http_request",
				zap.String("request_id", reqID),
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Duration("duration", time.Since(start)),
			)
		}()

		s.route(ctx)
	}
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case path == "/healthz" && method == fasthttp.MethodGet:
		s.writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})

	case path == "/api/matches" && method == fasthttp.MethodPost:
		s.handleStart(ctx)

	case strings.HasPrefix(path, "/api/matches/"):
		s.routeMatch(ctx, strings.TrimPrefix(path, "/api/matches/"), method)

	case strings.HasPrefix(path, "/api/players/"):
		s.routePlayer(ctx, strings.TrimPrefix(path, "/api/players/"), method)

	case path == "/api/admin/cleanup" && method == fasthttp.MethodPost:
		s.handleCleanup(ctx)

	case path == "/api/admin/metrics" && method == fasthttp.MethodGet:
		s.handleMetrics(ctx)

	default:
		s.writeJSON(ctx, fasthttp.StatusNotFound, errorBody{
			Error: errorDetail{Code: rpsdto.CodeNotFound, Message: "no such route"},
		})
	}
}

func (s *Server) routeMatch(ctx *fasthttp.RequestCtx, rest, method string) {
	if id, ok := strings.CutSuffix(rest, "/rounds"); ok && method == fasthttp.MethodPost && !strings.Contains(id, "/") {
		s.handlePlayRound(ctx, id)
		return
	}
	if strings.Contains(rest, "/") {
		s.writeJSON(ctx, fasthttp.StatusNotFound, errorBody{
			Error: errorDetail{Code: rpsdto.CodeNotFound, Message: "no such route"},
		})
		return
	}
	switch method {
	case fasthttp.MethodGet:
		s.handleStatus(ctx, rest)
	case fasthttp.MethodDelete:
		s.handleAbandon(ctx, rest)
	default:
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	}
}

func (s *Server) routePlayer(ctx *fasthttp.RequestCtx, rest, method string) {
	addr, tail, ok := strings.Cut(rest, "/")
	if !ok || method != fasthttp.MethodGet {
		s.writeJSON(ctx, fasthttp.StatusNotFound, errorBody{
			Error: errorDetail{Code: rpsdto.CodeNotFound, Message: "no such route"},
		})
		return
	}
	switch tail {
	case "match":
		s.handlePlayerMatch(ctx, addr)
	case "stats":
		s.handlePlayerStats(ctx, addr)
	case "history":
		s.handlePlayerHistory(ctx, addr)
	default:
		s.writeJSON(ctx, fasthttp.StatusNotFound, errorBody{
			Error: errorDetail{Code: rpsdto.CodeNotFound, Message: "no such route"},
		})
	}
}

type startRequest struct {
	Player string `json:"player"`
}

func (s *Server) handleStart(ctx *fasthttp.RequestCtx) {
	var req startRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.writeError(ctx, rpsdto.NewDomainError(rpsdto.CodeInvalidInput, "malformed JSON body"), "")
		return
	}
	m, err := s.mgr.StartMatch(ctx, req.Player)
	if err != nil {
		s.writeError(ctx, err, "")
		return
	}
	s.writeJSON(ctx, fasthttp.StatusCreated, map[string]any{"match": m})
}

type playRequest struct {
	Move string `json:"move"`
}

func (s *Server) handlePlayRound(ctx *fasthttp.RequestCtx, id string) {
	var req playRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.writeError(ctx, rpsdto.NewDomainError(rpsdto.CodeInvalidInput, "malformed JSON body"), id)
		return
	}
	m, round, err := s.mgr.PlayRound(ctx, id, req.Move)
	if err != nil {
		s.writeError(ctx, err, id)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"match":   m,
		"round":   round,
		"message": s.narrate(m, round),
	})
}

// narrate builds the human-readable line for a played round, switching to
// the final result once the match ends.
func (s *Server) narrate(m *match.Match, round *match.Round) string {
	if m.Terminal() {
		key := "result." + string(m.Winner)
		if m.IsAbandoned {
			key = "result.abandoned"
		}
		return s.cat.RenderOr(key, map[string]any{
			"PlayerScore": m.PlayerScore,
			"AIScore":     m.AIScore,
		}, string(m.Winner))
	}
	return s.cat.RenderOr("round."+string(round.Outcome), map[string]any{
		"Sequence":   round.Sequence,
		"PlayerMove": string(round.PlayerMove),
		"AIMove":     string(round.AIMove),
	}, string(round.Outcome))
}

func (s *Server) handleStatus(ctx *fasthttp.RequestCtx, id string) {
	m, err := s.mgr.GetMatchStatus(ctx, id)
	if err != nil {
		s.writeError(ctx, err, id)
		return
	}
	if m == nil {
		s.writeError(ctx, rpsdto.NewDomainError(rpsdto.CodeNotFound, "match not found"), id)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{"match": m})
}

func (s *Server) handleAbandon(ctx *fasthttp.RequestCtx, id string) {
	m, err := s.mgr.AbandonMatchByID(ctx, id)
	if err != nil {
		s.writeError(ctx, err, id)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"match":   m,
		"message": s.cat.RenderOr("result.abandoned", nil, "match abandoned"),
	})
}

func (s *Server) handlePlayerMatch(ctx *fasthttp.RequestCtx, addr string) {
	m, err := s.mgr.GetActiveMatchForPlayer(ctx, addr)
	if err != nil {
		s.writeError(ctx, err, "")
		return
	}
	if m == nil {
		s.writeJSON(ctx, fasthttp.StatusNotFound, errorBody{
			Error: errorDetail{Code: rpsdto.CodeNotFound, Message: "no active match for " + addr},
		})
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{"match": m})
}

func (s *Server) handlePlayerStats(ctx *fasthttp.RequestCtx, addr string) {
	stats, err := s.mgr.GetPlayerStats(ctx, addr)
	if err != nil {
		s.writeError(ctx, err, "")
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, stats)
}

func (s *Server) handlePlayerHistory(ctx *fasthttp.RequestCtx, addr string) {
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	offset := ctx.QueryArgs().GetUintOrZero("offset")
	matches, err := s.mgr.GetHistory(ctx, addr, limit, offset)
	if err != nil {
		s.writeError(ctx, err, "")
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"matches": matches,
		"limit":   limit,
		"offset":  offset,
	})
}

type cleanupRequest struct {
	RetentionDays int   `json:"retention_days"`
	SweepActive   *bool `json:"sweep_active"`
}

func (s *Server) handleCleanup(ctx *fasthttp.RequestCtx) {
	if ctx.QueryArgs().Has("emergency") {
		report, err := s.mgr.EmergencyCleanup(ctx)
		if err != nil {
			s.writeError(ctx, err, "")
			return
		}
		s.writeJSON(ctx, fasthttp.StatusOK, report)
		return
	}

	var req cleanupRequest
	if body := ctx.PostBody(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(ctx, rpsdto.NewDomainError(rpsdto.CodeInvalidInput, "malformed JSON body"), "")
			return
		}
	}
	opts := sweeper.Options{
		AbandonedRetentionDays: req.RetentionDays,
		SweepActive:            true,
	}
	if req.SweepActive != nil {
		opts.SweepActive = *req.SweepActive
	}
	report, err := s.mgr.PerformMatchCleanup(ctx, opts)
	if err != nil {
		s.writeError(ctx, err, "")
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, report)
}

func (s *Server) handleMetrics(ctx *fasthttp.RequestCtx) {
	snap, err := s.mgr.GetMetrics(ctx)
	if err != nil {
		s.writeError(ctx, err, "")
		return
	}
	abandonment, err := s.mgr.GetAbandonmentMetrics(ctx)
	if err != nil {
		s.writeError(ctx, err, "")
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"snapshot":    snap,
		"abandonment": abandonment,
	})
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// statusFor maps domain error codes onto HTTP statuses. Lifecycle
// violations and concurrency conflicts are all 409: the request was
// well-formed but the match cannot accept it.
func statusFor(code string) int {
	switch code {
	case rpsdto.CodeInvalidInput:
		return fasthttp.StatusBadRequest
	case rpsdto.CodeNotFound:
		return fasthttp.StatusNotFound
	case rpsdto.CodeMatchCompleted, rpsdto.CodeMatchAbandoned,
		rpsdto.CodeInvalidMatchState, rpsdto.CodeAlreadyActive, rpsdto.CodeConflict:
		return fasthttp.StatusConflict
	case rpsdto.CodeThrottled:
		return fasthttp.StatusTooManyRequests
	default:
		return fasthttp.StatusInternalServerError
	}
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, err error, matchID string) {
	code := rpsdto.CodeOf(err)
	if code == "" {
		code = rpsdto.CodeStorageUnavailable
	}
	msg := s.cat.RenderOr("errors."+code, map[string]any{
		"MatchID": matchID,
		"Detail":  err.Error(),
	}, err.Error())
	s.writeJSON(ctx, statusFor(code), errorBody{
		Error: errorDetail{Code: code, Message: msg},
	})
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(raw)
}
