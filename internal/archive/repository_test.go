package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-live/internal/record"
)

func finishedGame(t *testing.T) *record.Record {
	t.Helper()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	r, err := record.New("g1", "alice", "bob \"the rook\"", 5*time.Minute, now)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, san := range []string{"f3", "e5", "g4", "Qh4#"} {
		if _, ok := r.ApplyMove(san); !ok {
			t.Fatalf("move %s rejected", san)
		}
	}
	if err := r.Checkmate(r.Black); err != nil {
		t.Fatalf("checkmate: %v", err)
	}
	r.Updated = now.Add(time.Minute)
	return r
}

func TestBuildPGN(t *testing.T) {
	g := finishedGame(t)
	pgn := buildPGN(g, resultOf(g))

	for _, want := range []string{
		"[Date \"2026.03.14\"]",
		"[Black \"bob 'the rook'\"]",
		"[TimeControl \"300\"]",
		"[Result \"0-1\"]",
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestResultOf(t *testing.T) {
	g := finishedGame(t)
	if got := resultOf(g); got != "0-1" {
		t.Fatalf("result = %s", got)
	}

	d, _ := record.New("g2", "a", "b", 0, time.Now())
	_ = d.Draw("stalemate")
	if got := resultOf(d); got != "1/2-1/2" {
		t.Fatalf("draw result = %s", got)
	}
	if got := termination(d); got != "normal (stalemate)" {
		t.Fatalf("termination = %s", got)
	}

	w, _ := record.New("g3", "a", "b", 0, time.Now())
	_ = w.Abandon("a")
	if resultOf(w) != "1-0" || termination(w) != "abandoned" {
		t.Fatalf("abandon mapping wrong: %s %s", resultOf(w), termination(w))
	}
}

func TestSaveResultNilSafe(t *testing.T) {
	var r *Repository
	if err := r.SaveResult(context.Background(), finishedGame(t)); err != nil {
		t.Fatalf("nil repository should be a no-op: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRepositoryRequiresURL(t *testing.T) {
	if _, err := NewRepository(context.Background(), " "); err == nil {
		t.Fatalf("expected error")
	}
}
