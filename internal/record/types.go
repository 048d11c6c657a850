package record

import (
	"time"

	"github.com/park285/cheese-live/internal/rules"
)

// DefaultTimeControl is the per-side thinking budget of a game.
const DefaultTimeControl = 10 * time.Minute

// Status represents a game lifecycle state. Ongoing is the only
// non-terminal status.
type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusAbandoned Status = "abandoned"
	StatusCheckmate Status = "checkmate"
	StatusTimeout   Status = "timeout"
	StatusDraw      Status = "draw"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOngoing, StatusAbandoned, StatusCheckmate, StatusTimeout, StatusDraw:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s != StatusOngoing }

// WinBy names the way a win-type status was reached; empty for draw/ongoing.
func (s Status) WinBy() string {
	switch s {
	case StatusCheckmate:
		return "checkmate"
	case StatusTimeout:
		return "timeout"
	case StatusAbandoned:
		return "abandonment"
	}
	return ""
}

// Clock holds per-side accumulated thinking time and last move instants.
type Clock struct {
	TimeControl   time.Duration `json:"time_control"`
	WhiteTimer    time.Duration `json:"white_timer"`
	BlackTimer    time.Duration `json:"black_timer"`
	WhiteLastMove *time.Time    `json:"white_last_move,omitempty"`
	BlackLastMove *time.Time    `json:"black_last_move,omitempty"`
}

// Record is the authoritative state of one match.
type Record struct {
	ID         string    `json:"id"`
	White      string    `json:"white"`
	Black      string    `json:"black"`
	FEN        string    `json:"fen"`
	MovesUCI   []string  `json:"moves_uci"`
	MovesSAN   []string  `json:"moves_san"`
	Status     Status    `json:"status"`
	Winner     string    `json:"winner,omitempty"`
	DrawReason string    `json:"draw_reason,omitempty"`
	Clock      Clock     `json:"clock"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// Colour aliases the rules side type so callers need one import.
type Colour = rules.Colour

const (
	White = rules.White
	Black = rules.Black
)

var (
	ErrNotFound     = errf("game not found")
	ErrFinished     = errf("game already finished")
	ErrNotPlayer    = errf("participant not in game")
	ErrInvalid      = errf("invalid game record")
	ErrNoChange     = errf("no change")
	ErrConflict     = errf("too many concurrent updates")
	ErrParticipants = errf("participants must be two distinct identities")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
