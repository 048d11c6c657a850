package protocol

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeCommand(t *testing.T) {
	cases := []struct {
		in   string
		want Command
		err  error
	}{
		{`{"command":"find_opponent"}`, FindOpponent{}, nil},
		{`{"command":"move","san":" e4 "}`, Move{SAN: "e4"}, nil},
		{`{"command":"end_if_timeout"}`, EndIfTimeout{}, nil},
		{`{"command":"move"}`, nil, ErrMalformed},
		{`{"command":"resign"}`, nil, ErrUnknownCommand},
		{`{}`, nil, ErrMalformed},
		{`not json`, nil, ErrMalformed},
		{`["move"]`, nil, ErrMalformed},
	}
	for _, c := range cases {
		got, err := DecodeCommand([]byte(c.in))
		if c.err != nil {
			if !errors.Is(err, c.err) {
				t.Fatalf("DecodeCommand(%s) err=%v, want %v", c.in, err, c.err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("DecodeCommand(%s) = %#v, %v", c.in, got, err)
		}
	}
}

func TestEncodeEventShapes(t *testing.T) {
	dl := time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC)
	cases := []struct {
		ev   Event
		want string
	}{
		{Start{Client: "p2", GameID: "g", Colour: "black", Opponent: "p1"},
			`{"command":"start","client":"p2","game":"g","colour":"black","opponent":"p1"}`},
		{Moved{SAN: "e4", Colour: "white", Deadline: dl},
			`{"command":"moved","colour":"white","san":"e4","deadline":"2024-05-01T12:10:00Z"}`},
		{Win{WinnerColour: "black", By: "timeout"}, `{"command":"win","winner_colour":"black","by":"timeout"}`},
		{Draw{}, `{"command":"draw"}`},
		{Abandoned{}, `{"command":"abandoned"}`},
	}
	for _, c := range cases {
		raw, err := EncodeEvent(c.ev)
		if err != nil {
			t.Fatalf("EncodeEvent: %v", err)
		}
		if string(raw) != c.want {
			t.Fatalf("EncodeEvent(%T)\n got %s\nwant %s", c.ev, raw, c.want)
		}
		back, err := DecodeEvent(raw)
		if err != nil {
			t.Fatalf("DecodeEvent: %v", err)
		}
		if Name(back) != Name(c.ev) {
			t.Fatalf("decoded %s, want %s", Name(back), Name(c.ev))
		}
	}
}

func TestEncodeCommand(t *testing.T) {
	raw, err := EncodeCommand(Move{SAN: "Nf3"})
	if err != nil || !strings.Contains(string(raw), `"san":"Nf3"`) {
		t.Fatalf("EncodeCommand = %s, %v", raw, err)
	}
	raw, _ = EncodeCommand(FindOpponent{})
	if string(raw) != `{"command":"find_opponent"}` {
		t.Fatalf("EncodeCommand(FindOpponent) = %s", raw)
	}
}
