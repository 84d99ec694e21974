package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRenderEmbeddedMessages(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("errors.not_found", map[string]any{"MatchID": "m-1"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Match m-1 was not found" {
		t.Fatalf("rendered %q", got)
	}
	if _, err := c.Render("errors.no_such_key", nil); err == nil {
		t.Fatal("missing key did not error")
	}
}

func TestRenderOrFallsBack(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.RenderOr("errors.no_such_key", nil, "fallback"); got != "fallback" {
		t.Fatalf("RenderOr = %q", got)
	}
	// template failure (missing data key) also falls back
	if got := c.RenderOr("errors.not_found", map[string]any{}, "fallback"); got != "fallback" {
		t.Fatalf("RenderOr with bad data = %q", got)
	}
	var nilCat *Catalog
	if got := nilCat.RenderOr("x", nil, "fallback"); got != "fallback" {
		t.Fatalf("nil catalog RenderOr = %q", got)
	}
}

func TestOverrideDirWins(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "messages.yaml"),
		[]byte("errors:\n  throttled: \"custom throttle text\"\n"), 0o644)
	if err != nil {
		t.Fatalf("write override: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("errors.throttled", nil)
	if err != nil || got != "custom throttle text" {
		t.Fatalf("override render = %q, %v", got, err)
	}
	// untouched keys keep their defaults
	if got := c.RenderOr("result.tie", nil, ""); got != "The match ended in a tie" {
		t.Fatalf("default render = %q", got)
	}
}
