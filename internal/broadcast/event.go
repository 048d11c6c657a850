package broadcast

import (
	"strings"

	"github.com/park285/cheese-live/internal/record"
)

// Topic names a broadcast group.
type Topic string

// GameTopic is the group shared by both sessions of a game.
func GameTopic(gameID string) Topic { return Topic("chess:events:game:" + strings.TrimSpace(gameID)) }

// ClientTopic addresses one participant's connection.
func ClientTopic(participant string) Topic {
	return Topic("chess:events:client:" + strings.TrimSpace(participant))
}

// Kind discriminates Event payloads.
type Kind string

const (
	KindStart Kind = "start"
	KindMoved Kind = "moved"
	KindWin   Kind = "win"
	KindDraw  Kind = "draw"
)

// Event is a cross-session notification. Fields are filled per Kind.
type Event struct {
	Kind   Kind   `json:"kind"`
	GameID string `json:"game_id"`

	// start: the recipient's colour and opponent
	Colour   record.Colour `json:"colour,omitempty"`
	Opponent string        `json:"opponent,omitempty"`

	// moved: the mover's colour, the SAN and the clock after the move
	SAN   string        `json:"san,omitempty"`
	Clock *record.Clock `json:"clock,omitempty"`

	// win / draw
	Winner record.Colour `json:"winner,omitempty"`
	By     string        `json:"by,omitempty"`
	Reason string        `json:"reason,omitempty"`

	Topic Topic `json:"-"`
}

func StartEvent(gameID string, colour record.Colour, opponent string) Event {
	return Event{Kind: KindStart, GameID: gameID, Colour: colour, Opponent: opponent}
}

func MovedEvent(gameID, san string, mover record.Colour, clock record.Clock) Event {
	c := clock
	return Event{Kind: KindMoved, GameID: gameID, SAN: san, Colour: mover, Clock: &c}
}

func WinEvent(gameID string, winner record.Colour, by string) Event {
	return Event{Kind: KindWin, GameID: gameID, Winner: winner, By: by}
}

func DrawEvent(gameID, reason string) Event {
	return Event{Kind: KindDraw, GameID: gameID, Reason: reason}
}

// Outcome returns the terminal event for a finished record.
func Outcome(r *record.Record) (Event, bool) {
	switch r.Status {
	case record.StatusDraw:
		return DrawEvent(r.ID, r.DrawReason), true
	case record.StatusCheckmate, record.StatusTimeout, record.StatusAbandoned:
		c, _ := r.WinnerColour()
		return WinEvent(r.ID, c, r.Status.WinBy()), true
	}
	return Event{}, false
}

// Terminal reports whether e ends a game.
func (e Event) Terminal() bool { return e.Kind == KindWin || e.Kind == KindDraw }
