package httpapi

import (
	"encoding/json"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"github.com/Delvin233/rps-onchain-sub000/internal/manager"
	"github.com/Delvin233/rps-onchain-sub000/internal/match"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchcache"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchstore"
	"github.com/Delvin233/rps-onchain-sub000/internal/metrics"
	"github.com/Delvin233/rps-onchain-sub000/internal/msgcat"
)

const player = "0xabcdef0123456789abcdef0123456789abcdef01"

func newTestHandler(t *testing.T) fasthttp.RequestHandler {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	// scissors-playing AI keeps outcomes deterministic: rock always wins
	engine := match.NewEngineWith(nil, func() match.Move { return match.MoveScissors })
	mgr := manager.New(engine,
		matchcache.New(rdb, matchcache.DefaultTTL),
		matchstore.NewMemoryStore(),
		metrics.New(rdb),
		manager.DefaultMatchTimeout,
	)
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	return New(mgr, cat).Handler()
}

func do(t *testing.T, h fasthttp.RequestHandler, method, uri, body string) (int, map[string]any) {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.SetBodyString(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	h(ctx)

	out := map[string]any{}
	if raw := ctx.Response.Body(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: non-JSON body %q", method, uri, raw)
		}
	}
	return ctx.Response.StatusCode(), out
}

func errCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

func TestMatchLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	status, body := do(t, h, "POST", "/api/matches", `{"player":"`+player+`"}`)
	if status != fasthttp.StatusCreated {
		t.Fatalf("start status %d: %v", status, body)
	}
	m := body["match"].(map[string]any)
	id := m["id"].(string)
	if id == "" || m["status"] != "active" {
		t.Fatalf("started match %v", m)
	}

	// starting again while active conflicts
	status, body = do(t, h, "POST", "/api/matches", `{"player":"`+player+`"}`)
	if status != fasthttp.StatusConflict || errCode(t, body) != "already_active" {
		t.Fatalf("double start: %d %v", status, body)
	}

	// rock beats the scripted scissors twice; match completes
	status, body = do(t, h, "POST", "/api/matches/"+id+"/rounds", `{"move":"rock"}`)
	if status != fasthttp.StatusOK {
		t.Fatalf("round 1: %d %v", status, body)
	}
	if msg, _ := body["message"].(string); msg == "" {
		t.Error("round response has no message")
	}
	status, body = do(t, h, "POST", "/api/matches/"+id+"/rounds", `{"move":"rock"}`)
	if status != fasthttp.StatusOK {
		t.Fatalf("round 2: %d %v", status, body)
	}
	final := body["match"].(map[string]any)
	if final["status"] != "completed" || final["winner"] != "player" {
		t.Fatalf("final match %v", final)
	}

	// completed matches leave the hot path; status is now a 404
	status, body = do(t, h, "GET", "/api/matches/"+id, "")
	if status != fasthttp.StatusNotFound {
		t.Fatalf("status after completion: %d %v", status, body)
	}

	status, body = do(t, h, "GET", "/api/players/"+player+"/stats", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("stats: %d %v", status, body)
	}
	if body["matches_won"].(float64) != 1 || body["total_games"].(float64) != 1 {
		t.Fatalf("stats body %v", body)
	}

	status, body = do(t, h, "GET", "/api/players/"+player+"/history", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("history: %d %v", status, body)
	}
	if n := len(body["matches"].([]any)); n != 1 {
		t.Fatalf("history has %d matches", n)
	}
}

func TestAbandonOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	_, body := do(t, h, "POST", "/api/matches", `{"player":"`+player+`"}`)
	id := body["match"].(map[string]any)["id"].(string)

	status, body := do(t, h, "DELETE", "/api/matches/"+id, "")
	if status != fasthttp.StatusOK {
		t.Fatalf("abandon: %d %v", status, body)
	}
	if body["match"].(map[string]any)["status"] != "abandoned" {
		t.Fatalf("abandon body %v", body)
	}
	status, body = do(t, h, "DELETE", "/api/matches/"+id, "")
	if status != fasthttp.StatusNotFound {
		t.Fatalf("second abandon: %d %v", status, body)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestHandler(t)

	status, body := do(t, h, "POST", "/api/matches", `{"player":"not-an-address"}`)
	if status != fasthttp.StatusBadRequest || errCode(t, body) != "invalid_input" {
		t.Fatalf("bad address: %d %v", status, body)
	}
	status, body = do(t, h, "POST", "/api/matches", `{`)
	if status != fasthttp.StatusBadRequest {
		t.Fatalf("malformed JSON: %d %v", status, body)
	}
	status, body = do(t, h, "POST", "/api/matches/nope/rounds", `{"move":"rock"}`)
	if status != fasthttp.StatusNotFound || errCode(t, body) != "not_found" {
		t.Fatalf("unknown match: %d %v", status, body)
	}
	status, body = do(t, h, "GET", "/api/players/"+player+"/match", "")
	if status != fasthttp.StatusNotFound {
		t.Fatalf("no active match: %d %v", status, body)
	}
	status, _ = do(t, h, "GET", "/api/nope", "")
	if status != fasthttp.StatusNotFound {
		t.Fatalf("unknown route status %d", status)
	}
}

func TestAdminSurface(t *testing.T) {
	h := newTestHandler(t)

	status, body := do(t, h, "POST", "/api/admin/cleanup", `{"retention_days":7}`)
	if status != fasthttp.StatusOK {
		t.Fatalf("cleanup: %d %v", status, body)
	}
	status, body = do(t, h, "POST", "/api/admin/cleanup?emergency=1", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("emergency cleanup: %d %v", status, body)
	}
	status, body = do(t, h, "GET", "/api/admin/metrics", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("metrics: %d %v", status, body)
	}
	if _, ok := body["snapshot"]; !ok {
		t.Fatalf("metrics body %v", body)
	}

	status, _ = do(t, h, "GET", "/healthz", "")
	if status != fasthttp.StatusOK {
		t.Fatalf("healthz status %d", status)
	}
}
