package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-live/internal/record"
)

const schema = `CREATE TABLE IF NOT EXISTS chess_games (
	game_id      TEXT PRIMARY KEY,
	white_id     TEXT NOT NULL,
	black_id     TEXT NOT NULL,
	time_control_ms BIGINT NOT NULL,
	status       TEXT NOT NULL,
	winner_id    TEXT,
	result       TEXT NOT NULL,
	draw_reason  TEXT,
	moves_uci    JSONB NOT NULL,
	moves_san    JSONB NOT NULL,
	final_fen    TEXT NOT NULL,
	pgn          TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL
)`

// Repository persists finished games to Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(pctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a finished game. Ongoing records are ignored.
func (r *Repository) SaveResult(ctx context.Context, g *record.Record) error {
	if r == nil || r.db == nil || g == nil || !g.Status.Terminal() {
		return nil
	}
	result := resultOf(g)
	pgn := buildPGN(g, result)

	movesUCIRaw, _ := json.Marshal(g.MovesUCI)
	movesSANRaw, _ := json.Marshal(g.MovesSAN)
	duration := g.Updated.Sub(g.Created).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO chess_games (
		game_id, white_id, black_id, time_control_ms,
		status, winner_id, result, draw_reason,
		moves_uci, moves_san, final_fen, pgn,
		started_at, ended_at, duration_ms
	  ) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	  ) ON CONFLICT (game_id) DO UPDATE SET
		status=EXCLUDED.status,
		winner_id=EXCLUDED.winner_id,
		result=EXCLUDED.result,
		draw_reason=EXCLUDED.draw_reason,
		moves_uci=EXCLUDED.moves_uci,
		moves_san=EXCLUDED.moves_san,
		final_fen=EXCLUDED.final_fen,
		pgn=EXCLUDED.pgn,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.ID, g.White, g.Black, g.Clock.TimeControl.Milliseconds(),
		string(g.Status), nullable(g.Winner), result, nullable(g.DrawReason),
		string(movesUCIRaw), string(movesSANRaw), g.FEN, pgn,
		g.Created, g.Updated, duration,
	)
	return err
}

func nullable(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

// resultOf returns the PGN result token.
func resultOf(g *record.Record) string {
	if g.Status == record.StatusDraw {
		return "1/2-1/2"
	}
	c, ok := g.WinnerColour()
	if !ok {
		return "*"
	}
	if c == record.White {
		return "1-0"
	}
	return "0-1"
}

func termination(g *record.Record) string {
	switch g.Status {
	case record.StatusTimeout:
		return "time forfeit"
	case record.StatusAbandoned:
		return "abandoned"
	case record.StatusDraw:
		if g.DrawReason != "" {
			return "normal (" + strings.ReplaceAll(g.DrawReason, "_", " ") + ")"
		}
	}
	return "normal"
}

func buildPGN(g *record.Record, result string) string {
	var b strings.Builder
	date := g.Created
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Live game\"]\n")
	b.WriteString("[Site \"cheese-live\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(g.White))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(g.Black))
	if tc := g.Clock.TimeControl; tc > 0 {
		fmt.Fprintf(&b, "[TimeControl \"%d\"]\n", int64(tc/time.Second))
	}
	fmt.Fprintf(&b, "[Termination \"%s\"]\n", termination(g))
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	for i := 0; i < len(g.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(g.MovesSAN[i]))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
			b.WriteString(" ")
		}
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
