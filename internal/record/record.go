package record

import (
	"strings"
	"time"

	"github.com/park285/cheese-live/internal/rules"
)

// New builds an Ongoing record at the initial position.
func New(id, white, black string, timeControl time.Duration, now time.Time) (*Record, error) {
	white, black = strings.TrimSpace(white), strings.TrimSpace(black)
	if white == "" || black == "" || white == black {
		return nil, ErrParticipants
	}
	if timeControl <= 0 {
		timeControl = DefaultTimeControl
	}
	return &Record{
		ID:       id,
		White:    white,
		Black:    black,
		FEN:      rules.StartFEN,
		MovesUCI: []string{},
		MovesSAN: []string{},
		Status:   StatusOngoing,
		Clock:    Clock{TimeControl: timeControl},
		Created:  now,
		Updated:  now,
	}, nil
}

// Applied is the outcome of an accepted move.
type Applied struct {
	SAN     string
	Colour  Colour
	Verdict rules.Verdict
}

// ApplyMove is the move-acceptance gate. On an illegal or null move, or when
// the game is over, it returns false and leaves the record untouched.
func (r *Record) ApplyMove(san string) (Applied, bool) {
	if r.Status != StatusOngoing {
		return Applied{}, false
	}
	board, err := rules.Replay(r.MovesUCI)
	if err != nil {
		return Applied{}, false
	}
	mover := board.Turn()
	played, err := board.PlaySAN(san)
	if err != nil {
		return Applied{}, false
	}
	r.MovesUCI = append(r.MovesUCI, played.UCI)
	r.MovesSAN = append(r.MovesSAN, played.SAN)
	r.FEN = board.FEN()
	return Applied{SAN: played.SAN, Colour: mover, Verdict: board.Verdict()}, true
}

// MoveIfLegal applies san when legal.
func (r *Record) MoveIfLegal(san string) bool {
	_, ok := r.ApplyMove(san)
	return ok
}

// TurnColour reads the side to move from the position string.
func (r *Record) TurnColour() Colour {
	fields := strings.Fields(r.FEN)
	if len(fields) > 1 && fields[1] == "b" {
		return Black
	}
	return White
}

// TurnParticipant returns the participant whose turn it is.
func (r *Record) TurnParticipant() string { return r.Participant(r.TurnColour()) }

func (r *Record) Participant(c Colour) string {
	if c == Black {
		return r.Black
	}
	return r.White
}

// ColourOf returns the side played by participant.
func (r *Record) ColourOf(participant string) (Colour, bool) {
	switch participant {
	case r.White:
		return White, true
	case r.Black:
		return Black, true
	}
	return "", false
}

func (r *Record) IsPlayer(participant string) bool {
	_, ok := r.ColourOf(participant)
	return ok
}

// Opponent returns the other participant, or "" if participant is not playing.
func (r *Record) Opponent(participant string) string {
	c, ok := r.ColourOf(participant)
	if !ok {
		return ""
	}
	return r.Participant(c.Opposite())
}

// UpdateTimer charges the mover for the time since the opponent's last move
// and records now as the mover's last move.
func (r *Record) UpdateTimer(c Colour, now time.Time) {
	t := now
	switch c {
	case White:
		r.Clock.WhiteLastMove = &t
		if r.Clock.BlackLastMove != nil {
			r.Clock.WhiteTimer += elapsed(*r.Clock.BlackLastMove, now)
		}
	case Black:
		r.Clock.BlackLastMove = &t
		if r.Clock.WhiteLastMove != nil {
			r.Clock.BlackTimer += elapsed(*r.Clock.WhiteLastMove, now)
		}
	}
}

func (r *Record) UpdateWhiteTimer(now time.Time) { r.UpdateTimer(White, now) }
func (r *Record) UpdateBlackTimer(now time.Time) { r.UpdateTimer(Black, now) }

// 시계가 뒤로 가더라도 누적 시간은 줄어들지 않는다.
func elapsed(from, to time.Time) time.Duration {
	if d := to.Sub(from); d > 0 {
		return d
	}
	return 0
}

// Deadline is the instant at which side c runs out of time if still to move.
// It is undefined until the opponent has moved once.
func (r *Record) Deadline(c Colour) (time.Time, bool) { return r.Clock.Deadline(c) }

// Deadline computes side c's deadline from a clock snapshot.
func (k Clock) Deadline(c Colour) (time.Time, bool) {
	tc := k.TimeControl
	if tc <= 0 {
		tc = DefaultTimeControl
	}
	switch c {
	case White:
		if k.BlackLastMove == nil {
			return time.Time{}, false
		}
		return k.BlackLastMove.Add(tc - k.WhiteTimer), true
	case Black:
		if k.WhiteLastMove == nil {
			return time.Time{}, false
		}
		return k.WhiteLastMove.Add(tc - k.BlackTimer), true
	}
	return time.Time{}, false
}

func (r *Record) WhiteDeadline() (time.Time, bool) { return r.Deadline(White) }
func (r *Record) BlackDeadline() (time.Time, bool) { return r.Deadline(Black) }

// IsTimeUp is true when it is c's turn, c's deadline is defined and now has
// reached it.
func (r *Record) IsTimeUp(c Colour, now time.Time) bool {
	if r.TurnColour() != c {
		return false
	}
	dl, ok := r.Deadline(c)
	return ok && !now.Before(dl)
}

func (r *Record) IsWhiteTimeUp(now time.Time) bool { return r.IsTimeUp(White, now) }
func (r *Record) IsBlackTimeUp(now time.Time) bool { return r.IsTimeUp(Black, now) }

// TimedOut returns the side that has run out of time, if any.
func (r *Record) TimedOut(now time.Time) (Colour, bool) {
	if r.Status != StatusOngoing {
		return "", false
	}
	if r.IsWhiteTimeUp(now) {
		return White, true
	}
	if r.IsBlackTimeUp(now) {
		return Black, true
	}
	return "", false
}

func (r *Record) finish(s Status, winner string) error {
	if r.Status != StatusOngoing {
		return ErrFinished
	}
	if winner != "" && !r.IsPlayer(winner) {
		return ErrNotPlayer
	}
	r.Status = s
	r.Winner = winner
	return nil
}

// Abandon ends the game in favour of winner.
func (r *Record) Abandon(winner string) error { return r.finish(StatusAbandoned, winner) }

func (r *Record) Checkmate(winner string) error { return r.finish(StatusCheckmate, winner) }

func (r *Record) Timeout(winner string) error { return r.finish(StatusTimeout, winner) }

// Draw ends the game without a winner.
func (r *Record) Draw(reason string) error {
	if err := r.finish(StatusDraw, ""); err != nil {
		return err
	}
	r.DrawReason = reason
	return nil
}

// WinnerColour returns the winner's side for win-type terminations.
func (r *Record) WinnerColour() (Colour, bool) {
	if r.Winner == "" {
		return "", false
	}
	return r.ColourOf(r.Winner)
}

// Validate checks structural invariants of a stored record.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrInvalid
	}
	if r.White == "" || r.Black == "" || r.White == r.Black {
		return ErrParticipants
	}
	if !r.Status.Valid() {
		return ErrInvalid
	}
	if r.Clock.WhiteTimer < 0 || r.Clock.BlackTimer < 0 {
		return ErrInvalid
	}
	if r.Winner != "" && !r.IsPlayer(r.Winner) {
		return ErrNotPlayer
	}
	return nil
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.MovesUCI = append([]string(nil), r.MovesUCI...)
	c.MovesSAN = append([]string(nil), r.MovesSAN...)
	if r.Clock.WhiteLastMove != nil {
		t := *r.Clock.WhiteLastMove
		c.Clock.WhiteLastMove = &t
	}
	if r.Clock.BlackLastMove != nil {
		t := *r.Clock.BlackLastMove
		c.Clock.BlackLastMove = &t
	}
	return &c
}
