package record

import (
	"errors"
	"testing"
	"time"

	"github.com/park285/cheese-live/internal/rules"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newRecord(t *testing.T) *Record {
	t.Helper()
	r, err := New("g1", "alice", "bob", 10*time.Minute, t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNewRejectsSameParticipant(t *testing.T) {
	if _, err := New("g", "alice", "alice", 0, t0); !errors.Is(err, ErrParticipants) {
		t.Fatalf("err=%v, want ErrParticipants", err)
	}
	if _, err := New("g", "", "bob", 0, t0); !errors.Is(err, ErrParticipants) {
		t.Fatalf("err=%v, want ErrParticipants", err)
	}
}

func TestMoveIfLegalMatchesOracleReplay(t *testing.T) {
	r := newRecord(t)
	seq := []string{"d4", "Nf6", "c4", "e6", "Nc3", "Bb4", "Qc2", "O-O"}
	for _, s := range seq {
		if !r.MoveIfLegal(s) {
			t.Fatalf("MoveIfLegal(%q) = false", s)
		}
	}
	b := rules.NewBoard()
	for _, s := range seq {
		if _, err := b.PlaySAN(s); err != nil {
			t.Fatalf("oracle %q: %v", s, err)
		}
	}
	if r.FEN != b.FEN() {
		t.Fatalf("fen mismatch %q vs %q", r.FEN, b.FEN())
	}
	if len(r.MovesSAN) != len(seq) || r.MovesSAN[7] != "O-O" {
		t.Fatalf("unexpected SAN history %v", r.MovesSAN)
	}
}

func TestIllegalMoveNeverMutates(t *testing.T) {
	r := newRecord(t)
	r.MoveIfLegal("e4")
	r.UpdateWhiteTimer(t0.Add(time.Second))
	before := r.Clone()
	for _, s := range []string{"e4", "--", "Qxf7", "", "Nf3 Nf6"} {
		if r.MoveIfLegal(s) {
			t.Fatalf("MoveIfLegal(%q) accepted", s)
		}
	}
	if r.FEN != before.FEN || r.Status != before.Status || r.Clock.WhiteTimer != before.Clock.WhiteTimer ||
		len(r.MovesUCI) != len(before.MovesUCI) {
		t.Fatalf("record mutated by illegal move")
	}
}

func TestTurnParticipant(t *testing.T) {
	r := newRecord(t)
	if r.TurnParticipant() != "alice" {
		t.Fatalf("white to move first")
	}
	r.MoveIfLegal("e4")
	if r.TurnParticipant() != "bob" || r.TurnColour() != Black {
		t.Fatalf("black to move after e4")
	}
}

func TestTimerAccounting(t *testing.T) {
	r := newRecord(t)

	// white's first move is free
	r.MoveIfLegal("e4")
	r.UpdateWhiteTimer(t0.Add(5 * time.Second))
	if r.Clock.WhiteTimer != 0 {
		t.Fatalf("white charged on first move: %v", r.Clock.WhiteTimer)
	}
	if _, ok := r.WhiteDeadline(); ok {
		t.Fatalf("white deadline defined before black moved")
	}

	// black thinks 20s
	r.MoveIfLegal("e5")
	r.UpdateBlackTimer(t0.Add(25 * time.Second))
	if r.Clock.BlackTimer != 20*time.Second {
		t.Fatalf("black timer = %v, want 20s", r.Clock.BlackTimer)
	}

	// white thinks 30s
	r.MoveIfLegal("Nf3")
	r.UpdateWhiteTimer(t0.Add(55 * time.Second))
	if r.Clock.WhiteTimer != 30*time.Second {
		t.Fatalf("white timer = %v, want 30s", r.Clock.WhiteTimer)
	}

	dl, ok := r.BlackDeadline()
	want := t0.Add(55*time.Second + 10*time.Minute - 20*time.Second)
	if !ok || !dl.Equal(want) {
		t.Fatalf("black deadline = %v (%v), want %v", dl, ok, want)
	}
	dl, ok = r.WhiteDeadline()
	want = t0.Add(25*time.Second + 10*time.Minute - 30*time.Second)
	if !ok || !dl.Equal(want) {
		t.Fatalf("white deadline = %v (%v), want %v", dl, ok, want)
	}
}

func TestTimerNeverNegative(t *testing.T) {
	r := newRecord(t)
	r.UpdateWhiteTimer(t0.Add(time.Minute))
	r.UpdateBlackTimer(t0) // clock skew
	if r.Clock.BlackTimer != 0 {
		t.Fatalf("black timer went negative: %v", r.Clock.BlackTimer)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTimeUpOnlyOnOwnTurn(t *testing.T) {
	r := newRecord(t)
	r.MoveIfLegal("e4")
	r.UpdateWhiteTimer(t0)
	r.MoveIfLegal("e5")
	r.UpdateBlackTimer(t0.Add(time.Minute))

	// white to move, budget 10m from black's move
	dl, _ := r.WhiteDeadline()
	if r.IsWhiteTimeUp(dl.Add(-time.Millisecond)) {
		t.Fatalf("white time up before deadline")
	}
	if !r.IsWhiteTimeUp(dl) {
		t.Fatalf("white not time up at deadline")
	}
	if r.IsBlackTimeUp(dl.Add(time.Hour)) {
		t.Fatalf("black cannot time out on white's turn")
	}
	if c, ok := r.TimedOut(dl); !ok || c != White {
		t.Fatalf("TimedOut = %v %v", c, ok)
	}
}

func TestBlackTimeUpRequiresWhiteMove(t *testing.T) {
	r := newRecord(t)
	r.MoveIfLegal("e4")
	if r.IsBlackTimeUp(t0.Add(time.Hour)) {
		t.Fatalf("black deadline undefined until white's move is timed")
	}
	r.UpdateWhiteTimer(t0)
	if !r.IsBlackTimeUp(t0.Add(10 * time.Minute)) {
		t.Fatalf("black should be out of time")
	}
}

func TestTerminalTransitionsAreOneWay(t *testing.T) {
	r := newRecord(t)
	if err := r.Checkmate("alice"); err != nil {
		t.Fatalf("Checkmate: %v", err)
	}
	if err := r.Abandon("bob"); !errors.Is(err, ErrFinished) {
		t.Fatalf("Abandon after finish: %v", err)
	}
	if err := r.Draw(rules.DrawStalemate); !errors.Is(err, ErrFinished) {
		t.Fatalf("Draw after finish: %v", err)
	}
	if r.Status != StatusCheckmate || r.Winner != "alice" {
		t.Fatalf("terminal state overwritten: %s %s", r.Status, r.Winner)
	}
	if r.MoveIfLegal("e4") {
		t.Fatalf("move accepted on finished game")
	}
	if c, ok := r.WinnerColour(); !ok || c != White {
		t.Fatalf("WinnerColour = %v %v", c, ok)
	}
}

func TestTerminalRejectsOutsider(t *testing.T) {
	r := newRecord(t)
	if err := r.Timeout("mallory"); !errors.Is(err, ErrNotPlayer) {
		t.Fatalf("err=%v, want ErrNotPlayer", err)
	}
	if r.Status != StatusOngoing {
		t.Fatalf("status changed")
	}
}

func TestApplyMoveReportsVerdict(t *testing.T) {
	r := newRecord(t)
	var last Applied
	for _, s := range []string{"f3", "e5", "g4", "Qh4#"} {
		a, ok := r.ApplyMove(s)
		if !ok {
			t.Fatalf("ApplyMove(%q) rejected", s)
		}
		last = a
	}
	if last.Colour != Black || last.SAN != "Qh4#" || last.Verdict.Kind != rules.Mate || last.Verdict.Winner != Black {
		t.Fatalf("unexpected applied %+v", last)
	}
}

func TestOpponentAndStatusHelpers(t *testing.T) {
	r := newRecord(t)
	if r.Opponent("alice") != "bob" || r.Opponent("bob") != "alice" || r.Opponent("x") != "" {
		t.Fatalf("Opponent broken")
	}
	if StatusTimeout.WinBy() != "timeout" || StatusAbandoned.WinBy() != "abandonment" || StatusDraw.WinBy() != "" {
		t.Fatalf("WinBy broken")
	}
}
