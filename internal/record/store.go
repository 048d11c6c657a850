package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/obslog"
)

// Archiver receives records once they reach a terminal status.
type Archiver interface {
	SaveResult(ctx context.Context, r *Record) error
}

const maxTxRetries = 32

// ErrBusy is returned by Create when a participant already holds an
// Ongoing game.
var ErrBusy = errf("participant already has an ongoing game")

// Store keeps records in Redis as JSON. Every mutation runs as a WATCH/MULTI
// transaction on the game key, which serialises concurrent writers per game.
type Store struct {
	rdb         *redis.Client
	now         func() time.Time
	timeControl time.Duration
	archive     Archiver
}

type Option func(*Store)

// WithClock overrides the wall clock used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTimeControl(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeControl = d
		}
	}
}

func NewStore(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, now: time.Now, timeControl: DefaultTimeControl}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachArchive wires a durable archive for finished games.
func (s *Store) AttachArchive(a Archiver) {
	if s != nil {
		s.archive = a
	}
}

func (s *Store) TimeControl() time.Duration { return s.timeControl }

// Create stores a new Ongoing record. It fails with ErrBusy when either
// participant already points at an Ongoing game.
func (s *Store) Create(ctx context.Context, white, black string) (*Record, error) {
	rec, err := New(uuid.NewString(), white, black, s.timeControl, s.now())
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	wk, bk := ongoingKey(rec.White), ongoingKey(rec.Black)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, wk, bk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrBusy
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, gameKey(rec.ID), raw, 0)
			pipe.Set(ctx, wk, rec.ID, 0)
			pipe.Set(ctx, bk, rec.ID, 0)
			pipe.SAdd(ctx, ongoingSetKey, rec.ID)
			score := float64(rec.Created.UnixMilli())
			pipe.ZAdd(ctx, idxUserKey(rec.White), redis.Z{Score: score, Member: rec.ID})
			pipe.ZAdd(ctx, idxUserKey(rec.Black), redis.Z{Score: score, Member: rec.ID})
			return nil
		})
		return err
	}
	if err := s.watchRetry(ctx, txf, wk, bk); err != nil {
		return nil, err
	}
	obslog.L().Info("game_create",
		zap.String("game_id", rec.ID),
		zap.String("white", rec.White),
		zap.String("black", rec.Black),
		zap.Duration("time_control", rec.Clock.TimeControl),
	)
	return rec, nil
}

// Get loads a record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// Mutate applies fn to the current record inside an optimistic transaction
// and retries on write conflicts. fn may return ErrNoChange to abort without
// writing; any error from fn is returned as is.
func (s *Store) Mutate(ctx context.Context, id string, fn func(r *Record) error) (*Record, error) {
	gk := gameKey(id)
	var out *Record
	var finished bool
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, gk).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		wasOngoing := cur.Status == StatusOngoing
		if err := fn(cur); err != nil {
			return err
		}
		cur.Updated = s.now()
		if err := cur.Validate(); err != nil {
			return fmt.Errorf("mutate %s: %w", id, err)
		}
		next, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		ended := wasOngoing && cur.Status.Terminal()
		var stale []string
		if ended {
			for _, p := range []string{cur.White, cur.Black} {
				v, err := tx.Get(ctx, ongoingKey(p)).Result()
				if err != nil && err != redis.Nil {
					return err
				}
				if v == cur.ID {
					stale = append(stale, ongoingKey(p))
				}
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, gk, next, 0)
			if ended {
				if len(stale) > 0 {
					pipe.Del(ctx, stale...)
				}
				pipe.SRem(ctx, ongoingSetKey, cur.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out, finished = cur, ended
		return nil
	}
	if err := s.watchRetry(ctx, txf, gk); err != nil {
		return nil, err
	}
	if finished {
		obslog.L().Info("game_finish",
			zap.String("game_id", out.ID),
			zap.String("status", string(out.Status)),
			zap.String("winner", out.Winner),
			zap.String("draw_reason", out.DrawReason),
			zap.Int("plies", len(out.MovesUCI)),
		)
		s.persistIfFinal(ctx, out)
	}
	return out, nil
}

func (s *Store) watchRetry(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// Ongoing returns the participant's Ongoing record, or nil when none exists.
func (s *Store) Ongoing(ctx context.Context, participant string) (*Record, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return nil, nil
	}
	id, err := s.rdb.Get(ctx, ongoingKey(participant)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusOngoing {
		return nil, nil
	}
	return rec, nil
}

// HasOngoing reports whether participant currently holds an Ongoing record.
func (s *Store) HasOngoing(ctx context.Context, participant string) (bool, error) {
	rec, err := s.Ongoing(ctx, participant)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// OngoingIDs lists ids of all Ongoing games.
func (s *Store) OngoingIDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, ongoingSetKey).Result()
}

// History returns the participant's most recent games, newest first.
func (s *Store) History(ctx context.Context, participant string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := s.rdb.ZRevRange(ctx, idxUserKey(participant), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) persistIfFinal(ctx context.Context, r *Record) {
	if s.archive == nil || r == nil || !r.Status.Terminal() {
		return
	}
	if err := s.archive.SaveResult(ctx, r); err != nil {
		obslog.L().Error("game_archive_error", zap.String("game_id", r.ID), zap.Error(err))
		return
	}
	obslog.L().Debug("game_archive", zap.String("game_id", r.ID), zap.String("status", string(r.Status)))
}

func decode(raw []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode game: %w", err)
	}
	return &r, nil
}

const ongoingSetKey = "chess:games:ongoing"

func gameKey(id string) string        { return "chess:game:" + strings.TrimSpace(id) }
func ongoingKey(user string) string   { return "chess:ongoing:" + strings.TrimSpace(user) }
func idxUserKey(userID string) string { return "chess:index:user:" + strings.TrimSpace(userID) }
