package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Colour identifies a side.
type Colour string

const (
	White Colour = "white"
	Black Colour = "black"
)

// Opposite returns the other side.
func (c Colour) Opposite() Colour {
	if c == White {
		return Black
	}
	return White
}

func (c Colour) Valid() bool { return c == White || c == Black }

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrNullMove    = errors.New("null move")
)

// Board is a position with its full move history, rebuilt from UCI moves.
// History matters: repetition draws are derived from it.
type Board struct {
	game *nchess.Game
}

// Played describes an accepted move.
type Played struct {
	UCI string
	SAN string
}

// NewBoard returns the initial position.
func NewBoard() *Board { return &Board{game: nchess.NewGame()} }

// Replay applies stored UCI moves from the initial position.
func Replay(movesUCI []string) (*Board, error) {
	game := nchess.NewGame()
	for i, mv := range movesUCI {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, mv, err)
		}
	}
	return &Board{game: game}, nil
}

// PlaySAN parses san against the current position and applies it.
// The board is left untouched when an error is returned.
func (b *Board) PlaySAN(san string) (Played, error) {
	raw := strings.TrimSpace(san)
	if raw == "" {
		return Played{}, ErrIllegalMove
	}
	if isNullNotation(raw) {
		return Played{}, ErrNullMove
	}
	pos := b.game.Position()
	mv, err := resolveSAN(pos, raw)
	if err != nil {
		return Played{}, err
	}
	played := Played{UCI: mv.String(), SAN: nchess.AlgebraicNotation{}.Encode(pos, mv)}
	if err := b.game.PushNotationMove(played.UCI, nchess.UCINotation{}, nil); err != nil {
		return Played{}, ErrIllegalMove
	}
	return played, nil
}

// sanPattern accepts piece moves, pawn moves and captures with optional
// disambiguation. Check and annotation suffixes are stripped beforehand.
var sanPattern = regexp.MustCompile(`^([NBRQK])?([a-h])?([1-8])?[-x]?([a-h][1-8])(?:=?([NBRQ]))?$`)

var sanPieces = map[string]nchess.PieceType{
	"": nchess.Pawn, "N": nchess.Knight, "B": nchess.Bishop,
	"R": nchess.Rook, "Q": nchess.Queen, "K": nchess.King,
}

// resolveSAN maps san to exactly one legal move of pos. Any given origin file
// or rank must match the moving piece, a pawn without an origin file can only
// push along its file, and ambiguous input is rejected.
func resolveSAN(pos *nchess.Position, san string) (*nchess.Move, error) {
	s := strings.TrimRight(san, "+#!?")
	moves := pos.ValidMoves()

	var castle nchess.MoveTag
	switch s {
	case "O-O", "0-0":
		castle = nchess.KingSideCastle
	case "O-O-O", "0-0-0":
		castle = nchess.QueenSideCastle
	}
	if castle != 0 {
		for i := range moves {
			if moves[i].HasTag(castle) {
				return &moves[i], nil
			}
		}
		return nil, ErrIllegalMove
	}

	m := sanPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, ErrIllegalMove
	}
	piece, file, rank, to := sanPieces[m[1]], m[2], m[3], m[4]
	promo := nchess.NoPieceType
	if m[5] != "" {
		if piece != nchess.Pawn {
			return nil, ErrIllegalMove
		}
		promo = sanPieces[m[5]]
	}

	var found *nchess.Move
	for i := range moves {
		v := &moves[i]
		from := v.S1()
		if v.S2().String() != to || v.Promo() != promo {
			continue
		}
		if pos.Board().Piece(from).Type() != piece || v.HasTag(nchess.KingSideCastle) || v.HasTag(nchess.QueenSideCastle) {
			continue
		}
		if file != "" && from.File().String() != file {
			continue
		}
		if rank != "" && from.Rank().String() != rank {
			continue
		}
		if piece == nchess.Pawn && file == "" && from.File() != v.S2().File() {
			continue
		}
		if found != nil {
			return nil, ErrIllegalMove
		}
		found = v
	}
	if found == nil {
		return nil, ErrIllegalMove
	}
	if found.S1() == found.S2() {
		return nil, ErrNullMove
	}
	return found, nil
}

func isNullNotation(s string) bool {
	switch s {
	case "--", "Z0", "0000", "@@@@":
		return true
	}
	return false
}

// Turn returns the side to move.
func (b *Board) Turn() Colour {
	if b.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

func (b *Board) FEN() string { return b.game.FEN() }

// Plies returns the number of half-moves played.
func (b *Board) Plies() int { return len(b.game.Moves()) }

// VerdictKind classifies a position.
type VerdictKind int

const (
	Undecided VerdictKind = iota
	Mate
	Drawn
)

// Draw reasons.
const (
	DrawStalemate            = "stalemate"
	DrawInsufficientMaterial = "insufficient_material"
	DrawFiftyMove            = "fifty_move_rule"
	DrawThreefold            = "threefold_repetition"
	DrawFivefold             = "fivefold_repetition"
	DrawSeventyFiveMove      = "seventy_five_move_rule"
)

// Verdict is the terminal evaluation of a position.
type Verdict struct {
	Kind   VerdictKind
	Winner Colour
	Reason string
}

// Verdict reports checkmate or a draw condition. Threefold repetition and
// the fifty-move rule count as draws as soon as they become claimable.
func (b *Board) Verdict() Verdict {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		if b.game.Method() == nchess.Checkmate {
			return Verdict{Kind: Mate, Winner: White}
		}
	case nchess.BlackWon:
		if b.game.Method() == nchess.Checkmate {
			return Verdict{Kind: Mate, Winner: Black}
		}
	case nchess.Draw:
		if reason := drawReason(b.game.Method()); reason != "" {
			return Verdict{Kind: Drawn, Reason: reason}
		}
	}
	for _, m := range b.game.EligibleDraws() {
		switch m {
		case nchess.ThreefoldRepetition, nchess.FiftyMoveRule:
			return Verdict{Kind: Drawn, Reason: drawReason(m)}
		}
	}
	return Verdict{Kind: Undecided}
}

func drawReason(m nchess.Method) string {
	switch m {
	case nchess.Stalemate:
		return DrawStalemate
	case nchess.InsufficientMaterial:
		return DrawInsufficientMaterial
	case nchess.FiftyMoveRule:
		return DrawFiftyMove
	case nchess.ThreefoldRepetition:
		return DrawThreefold
	case nchess.FivefoldRepetition:
		return DrawFivefold
	case nchess.SeventyFiveMoveRule:
		return DrawSeventyFiveMove
	default:
		return ""
	}
}
