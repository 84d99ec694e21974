package match

import "testing"

func TestResolveAllPairs(t *testing.T) {
	cases := []struct {
		player, ai Move
		want       RoundOutcome
	}{
		{MoveRock, MoveRock, OutcomeTie},
		{MoveRock, MovePaper, OutcomeAI},
		{MoveRock, MoveScissors, OutcomePlayer},
		{MovePaper, MoveRock, OutcomePlayer},
		{MovePaper, MovePaper, OutcomeTie},
		{MovePaper, MoveScissors, OutcomeAI},
		{MoveScissors, MoveRock, OutcomeAI},
		{MoveScissors, MovePaper, OutcomePlayer},
		{MoveScissors, MoveScissors, OutcomeTie},
	}
	for _, c := range cases {
		if got := Resolve(c.player, c.ai); got != c.want {
			t.Errorf("Resolve(%s, %s) = %s, want %s", c.player, c.ai, got, c.want)
		}
	}
}

func TestResolveMirror(t *testing.T) {
	mirror := map[RoundOutcome]RoundOutcome{
		OutcomePlayer: OutcomeAI,
		OutcomeAI:     OutcomePlayer,
		OutcomeTie:    OutcomeTie,
	}
	for _, a := range allMoves {
		for _, b := range allMoves {
			if got, want := Resolve(b, a), mirror[Resolve(a, b)]; got != want {
				t.Errorf("Resolve(%s, %s) = %s, want mirror %s", b, a, got, want)
			}
		}
	}
}

func TestParseMove(t *testing.T) {
	if mv, ok := ParseMove("  Rock "); !ok || mv != MoveRock {
		t.Fatalf("ParseMove(Rock) = %q, %v", mv, ok)
	}
	if _, ok := ParseMove("lizard"); ok {
		t.Fatal("expected lizard to be rejected")
	}
	if _, ok := ParseMove(""); ok {
		t.Fatal("expected empty move to be rejected")
	}
}
