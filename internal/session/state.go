package session

import "github.com/park285/cheese-live/internal/record"

// State is the lifecycle position of one session. Implementations are
// Connecting, Queued, Matched and Terminated.
type State interface{ name() string }

// Connecting is the state between admission and the first matchmaking step.
type Connecting struct{}

// Queued means the participant waits in the matchmaking queue.
type Queued struct{}

// Matched carries the game the session is bound to.
type Matched struct {
	GameID   string
	Colour   record.Colour
	Opponent string
}

// Terminated is absorbing.
type Terminated struct{ Reason string }

func (Connecting) name() string { return "connecting" }
func (Queued) name() string     { return "queued" }
func (Matched) name() string    { return "matched" }
func (Terminated) name() string { return "terminated" }

// StateName returns a short label for logs.
func StateName(s State) string { return s.name() }

const (
	reasonGameOver     = "game_over"
	reasonOpponentGone = "opponent_gone"
	reasonBusy         = "game_in_progress"
)
