package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/broadcast"
	"github.com/park285/cheese-live/internal/obslog"
	"github.com/park285/cheese-live/internal/record"
	"github.com/park285/cheese-live/internal/waitq"
)

var (
	ErrAlreadyQueued   = errf("participant is already waiting for an opponent")
	ErrGameInProgress  = errf("participant already has an ongoing game")
	ErrInvalidIdentity = errf("invalid participant")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Service owns the shared collaborators of all sessions on this instance.
type Service struct {
	queue     *waitq.Queue
	store     *record.Store
	bus       *broadcast.Bus
	now       func() time.Time
	autoMatch bool
}

type Option func(*Service)

// WithClock overrides the wall clock used for move timing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAutoMatch makes sessions look for an opponent as soon as they connect.
// When off, clients send find_opponent.
func WithAutoMatch(on bool) Option {
	return func(s *Service) { s.autoMatch = on }
}

func NewService(q *waitq.Queue, store *record.Store, bus *broadcast.Bus, opts ...Option) *Service {
	s := &Service{queue: q, store: store, bus: bus, now: time.Now, autoMatch: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open admits participant and subscribes its connection-scoped topic.
// A participant already queued or holding an Ongoing game is refused.
func (s *Service) Open(ctx context.Context, participant string) (*Session, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return nil, ErrInvalidIdentity
	}
	queued, err := s.queue.Search(ctx, participant)
	if err != nil {
		return nil, err
	}
	if queued {
		return nil, ErrAlreadyQueued
	}
	busy, err := s.store.HasOngoing(ctx, participant)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrGameInProgress
	}
	sub, err := s.bus.Subscribe(ctx, broadcast.ClientTopic(participant))
	if err != nil {
		return nil, err
	}
	obslog.L().Info("session_open", zap.String("participant", participant))
	return &Session{
		svc:         s,
		participant: participant,
		sub:         sub,
		state:       Connecting{},
		log:         obslog.L().With(zap.String("participant", participant)),
	}, nil
}

// ExpireTimeouts ends every Ongoing game whose side to move has run out of
// time and broadcasts the result. A failing game does not stop the sweep;
// the failures are joined into the returned error.
func (s *Service) ExpireTimeouts(ctx context.Context) (int, error) {
	ids, err := s.store.OngoingIDs(ctx)
	if err != nil {
		return 0, err
	}
	ended := 0
	var errs []error
	for _, id := range ids {
		rec, err := s.endIfTimeout(ctx, id)
		if rec != nil {
			ended++
		}
		if err != nil {
			if errors.Is(err, record.ErrNotFound) {
				continue
			}
			obslog.L().Error("expire_timeout_error", zap.String("game_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("expire %s: %w", id, err))
		}
	}
	return ended, errors.Join(errs...)
}

// endIfTimeout applies a timeout when a predicate holds. It returns the
// finished record, or nil when nothing happened.
func (s *Service) endIfTimeout(ctx context.Context, gameID string) (*record.Record, error) {
	rec, err := s.store.Mutate(ctx, gameID, func(r *record.Record) error {
		if r.Status != record.StatusOngoing {
			return record.ErrNoChange
		}
		loser, ok := r.TimedOut(s.now())
		if !ok {
			return record.ErrNoChange
		}
		return r.Timeout(r.Participant(loser.Opposite()))
	})
	if errors.Is(err, record.ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, s.publishOutcome(ctx, rec)
}

// abandon ends participant's Ongoing game in the opponent's favour.
func (s *Service) abandon(ctx context.Context, gameID, participant string) (*record.Record, error) {
	rec, err := s.store.Mutate(ctx, gameID, func(r *record.Record) error {
		if r.Status != record.StatusOngoing || !r.IsPlayer(participant) {
			return record.ErrNoChange
		}
		return r.Abandon(r.Opponent(participant))
	})
	if errors.Is(err, record.ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) publishOutcome(ctx context.Context, rec *record.Record) error {
	ev, ok := broadcast.Outcome(rec)
	if !ok {
		return nil
	}
	_, err := s.bus.Publish(ctx, broadcast.GameTopic(rec.ID), ev)
	return err
}
