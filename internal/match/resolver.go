package match

// beats maps each move to the move it defeats: rock > scissors > paper > rock.
var beats = map[Move]Move{
	MoveRock:     MoveScissors,
	MovePaper:    MoveRock,
	MoveScissors: MovePaper,
}

// Resolve compares the player's move against the AI's move and returns the
// round outcome from the player's perspective. Deterministic and total over
// the three moves.
func Resolve(playerMove, aiMove Move) RoundOutcome {
	if playerMove == aiMove {
		return OutcomeTie
	}
	if beats[playerMove] == aiMove {
		return OutcomePlayer
	}
	return OutcomeAI
}
