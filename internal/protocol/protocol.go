package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Command names shared by inbound and outbound frames.
const (
	CmdFindOpponent = "find_opponent"
	CmdMove         = "move"
	CmdEndIfTimeout = "end_if_timeout"

	CmdStart     = "start"
	CmdMoved     = "moved"
	CmdWin       = "win"
	CmdDraw      = "draw"
	CmdAbandoned = "abandoned"
)

var (
	ErrMalformed      = errf("malformed message")
	ErrUnknownCommand = errf("unknown command")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Command is an inbound client message. The set of implementations is closed.
type Command interface{ command() string }

type FindOpponent struct{}

type Move struct{ SAN string }

type EndIfTimeout struct{}

func (FindOpponent) command() string { return CmdFindOpponent }
func (Move) command() string         { return CmdMove }
func (EndIfTimeout) command() string { return CmdEndIfTimeout }

type wireCommand struct {
	Command string `json:"command"`
	SAN     string `json:"san,omitempty"`
}

// DecodeCommand parses one inbound frame.
func DecodeCommand(raw []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch w.Command {
	case CmdFindOpponent:
		return FindOpponent{}, nil
	case CmdMove:
		san := strings.TrimSpace(w.SAN)
		if san == "" {
			return nil, ErrMalformed
		}
		return Move{SAN: san}, nil
	case CmdEndIfTimeout:
		return EndIfTimeout{}, nil
	case "":
		return nil, ErrMalformed
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, w.Command)
	}
}

// EncodeCommand renders c as a client would send it.
func EncodeCommand(c Command) ([]byte, error) {
	w := wireCommand{Command: c.command()}
	if m, ok := c.(Move); ok {
		w.SAN = m.SAN
	}
	return json.Marshal(w)
}

// Event is an outbound server message. The set of implementations is closed.
type Event interface{ event() string }

// Start tells a session it has been matched.
type Start struct {
	Client   string
	GameID   string
	Colour   string
	Opponent string
}

// Moved relays an accepted move with the deadline of the side now to move.
type Moved struct {
	SAN      string
	Colour   string
	Deadline time.Time
}

type Win struct {
	WinnerColour string
	By           string
}

type Draw struct{ Reason string }

// Abandoned tells a session its opponent vanished before the game began.
type Abandoned struct{}

func (Start) event() string     { return CmdStart }
func (Moved) event() string     { return CmdMoved }
func (Win) event() string       { return CmdWin }
func (Draw) event() string      { return CmdDraw }
func (Abandoned) event() string { return CmdAbandoned }

// Name returns the wire command of e.
func Name(e Event) string { return e.event() }

type wireEvent struct {
	Command      string     `json:"command"`
	Client       string     `json:"client,omitempty"`
	Game         string     `json:"game,omitempty"`
	Colour       string     `json:"colour,omitempty"`
	Opponent     string     `json:"opponent,omitempty"`
	SAN          string     `json:"san,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	WinnerColour string     `json:"winner_colour,omitempty"`
	By           string     `json:"by,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// Wire returns the JSON-ready representation of e.
func Wire(e Event) any {
	w := wireEvent{Command: e.event()}
	switch v := e.(type) {
	case Start:
		w.Client, w.Game, w.Colour, w.Opponent = v.Client, v.GameID, v.Colour, v.Opponent
	case Moved:
		dl := v.Deadline.UTC()
		w.SAN, w.Colour, w.Deadline = v.SAN, v.Colour, &dl
	case Win:
		w.WinnerColour, w.By = v.WinnerColour, v.By
	case Draw:
		w.Reason = v.Reason
	}
	return w
}

func EncodeEvent(e Event) ([]byte, error) { return json.Marshal(Wire(e)) }

// DecodeEvent parses a server frame; used by clients.
func DecodeEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch w.Command {
	case CmdStart:
		return Start{Client: w.Client, GameID: w.Game, Colour: w.Colour, Opponent: w.Opponent}, nil
	case CmdMoved:
		m := Moved{SAN: w.SAN, Colour: w.Colour}
		if w.Deadline != nil {
			m.Deadline = *w.Deadline
		}
		return m, nil
	case CmdWin:
		return Win{WinnerColour: w.WinnerColour, By: w.By}, nil
	case CmdDraw:
		return Draw{Reason: w.Reason}, nil
	case CmdAbandoned:
		return Abandoned{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, w.Command)
	}
}
