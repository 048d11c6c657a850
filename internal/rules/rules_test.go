package rules

import (
	"errors"
	"testing"
)

func playAll(t *testing.T, b *Board, sans ...string) []Played {
	t.Helper()
	out := make([]Played, 0, len(sans))
	for _, s := range sans {
		p, err := b.PlaySAN(s)
		if err != nil {
			t.Fatalf("PlaySAN(%q): %v", s, err)
		}
		out = append(out, p)
	}
	return out
}

func TestReplayMatchesSequentialPlay(t *testing.T) {
	b := NewBoard()
	played := playAll(t, b, "e4", "c5", "Nf3", "d6", "d4", "cxd4", "Nxd4", "Nf6", "Nc3", "a6")
	ucis := make([]string, 0, len(played))
	for _, p := range played {
		ucis = append(ucis, p.UCI)
	}
	r, err := Replay(ucis)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if r.FEN() != b.FEN() {
		t.Fatalf("fen mismatch: replay=%q play=%q", r.FEN(), b.FEN())
	}
	if r.Turn() != White || r.Plies() != 10 {
		t.Fatalf("unexpected turn=%s plies=%d", r.Turn(), r.Plies())
	}
}

func TestPlaySANRejectsIllegalWithoutMutation(t *testing.T) {
	b := NewBoard()
	playAll(t, b, "e4")
	before := b.FEN()
	for _, s := range []string{
		"e4", "Ke3", "Qh5", "xyz", "", "e5e6", "e3e6", "Nb1f6", "Ng1f6", "N1f6", "de6", "e7e5e4", "Nf6=Q", "O-O",
	} {
		if _, err := b.PlaySAN(s); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("PlaySAN(%q) err=%v, want ErrIllegalMove", s, err)
		}
	}
	if b.FEN() != before {
		t.Fatalf("position changed after rejected moves")
	}
}

func TestPlaySANRejectsNullMove(t *testing.T) {
	b := NewBoard()
	for _, s := range []string{"--", "Z0", "0000"} {
		if _, err := b.PlaySAN(s); !errors.Is(err, ErrNullMove) {
			t.Fatalf("PlaySAN(%q) err=%v, want ErrNullMove", s, err)
		}
	}
	if b.FEN() != StartFEN {
		t.Fatalf("null move mutated board: %s", b.FEN())
	}
}

func TestPlaySANAcceptsDisambiguatedAndAnnotated(t *testing.T) {
	b := NewBoard()
	playAll(t, b, "e4")
	if p := playAll(t, b, "Ng8f6")[0]; p.UCI != "g8f6" || p.SAN != "Nf6" {
		t.Fatalf("unexpected played %+v", p)
	}
	if p := playAll(t, b, "Nc3!?")[0]; p.UCI != "b1c3" {
		t.Fatalf("unexpected played %+v", p)
	}
	playAll(t, b, "d5")
	if p := playAll(t, b, "e4xd5")[0]; p.UCI != "e4d5" || p.SAN != "exd5" {
		t.Fatalf("unexpected capture %+v", p)
	}
}

func TestPlaySANRejectsAmbiguousMove(t *testing.T) {
	b := NewBoard()
	playAll(t, b, "Nf3", "a6", "Nc3", "a5", "Nd4", "a4")
	before := b.FEN()
	// both knights reach b5
	if _, err := b.PlaySAN("Nb5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("ambiguous Nb5 err=%v", err)
	}
	if b.FEN() != before {
		t.Fatalf("ambiguous move mutated board")
	}
	if p := playAll(t, b, "Ncb5")[0]; p.UCI != "c3b5" {
		t.Fatalf("unexpected played %+v", p)
	}
}

func TestPlaySANCastlingAndPromotion(t *testing.T) {
	b := NewBoard()
	playAll(t, b, "e4", "e5", "Nf3", "Nc6", "Bc4", "Bc5", "0-0")
	if b.Turn() != Black {
		t.Fatalf("castling not applied")
	}

	p := NewBoard()
	playAll(t, p, "h4", "g5", "hxg5", "Nf6", "g6", "Ng8", "g7", "Nf6")
	before := p.FEN()
	if _, err := p.PlaySAN("gxh8"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("promotion without piece err=%v", err)
	}
	if p.FEN() != before {
		t.Fatalf("rejected promotion mutated board")
	}
	if got := playAll(t, p, "gxh8=Q")[0]; got.UCI != "g7h8q" {
		t.Fatalf("unexpected promotion %+v", got)
	}
}

func TestPlaySANNormalisesNotation(t *testing.T) {
	b := NewBoard()
	p := playAll(t, b, "Nf3")[0]
	if p.UCI != "g1f3" || p.SAN != "Nf3" {
		t.Fatalf("unexpected played %+v", p)
	}
}

func TestVerdictCheckmate(t *testing.T) {
	b := NewBoard()
	playAll(t, b, "e4", "e5", "Qh5", "Nc6", "Bc4", "Nf6", "Qxf7#")
	v := b.Verdict()
	if v.Kind != Mate || v.Winner != White {
		t.Fatalf("want white mate, got %+v", v)
	}

	b = NewBoard()
	playAll(t, b, "f3", "e5", "g4", "Qh4#")
	v = b.Verdict()
	if v.Kind != Mate || v.Winner != Black {
		t.Fatalf("want black mate, got %+v", v)
	}
}

func TestVerdictStalemate(t *testing.T) {
	b := NewBoard()
	playAll(t, b,
		"e3", "a5", "Qh5", "Ra6", "Qxa5", "h5", "h4", "Rah6", "Qxc7", "f6",
		"Qxd7+", "Kf7", "Qxb7", "Qd3", "Qxb8", "Qh7", "Qxc8", "Kg6", "Qe6",
	)
	v := b.Verdict()
	if v.Kind != Drawn || v.Reason != DrawStalemate {
		t.Fatalf("want stalemate, got %+v", v)
	}
}

func TestVerdictThreefoldRepetition(t *testing.T) {
	b := NewBoard()
	playAll(t, b, "Nf3", "Nf6", "Ng1", "Ng8")
	if v := b.Verdict(); v.Kind != Undecided {
		t.Fatalf("two occurrences should not draw: %+v", v)
	}
	playAll(t, b, "Nf3", "Nf6", "Ng1", "Ng8")
	v := b.Verdict()
	if v.Kind != Drawn || v.Reason != DrawThreefold {
		t.Fatalf("want threefold, got %+v", v)
	}
}

func TestColourOpposite(t *testing.T) {
	if White.Opposite() != Black || Black.Opposite() != White {
		t.Fatalf("Opposite broken")
	}
	if Colour("red").Valid() {
		t.Fatalf("red should be invalid")
	}
}
