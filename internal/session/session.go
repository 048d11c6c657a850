package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/broadcast"
	"github.com/park285/cheese-live/internal/protocol"
	"github.com/park285/cheese-live/internal/record"
	"github.com/park285/cheese-live/internal/rules"
)

// Conn is the transport side of a session. Write is only called from the
// goroutine running Session.Run.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, ev protocol.Event) error
}

const cleanupTimeout = 5 * time.Second

var errSubscriptionClosed = errors.New("event subscription closed")

// Session drives one connection from admission to termination.
type Session struct {
	svc         *Service
	participant string
	sub         *broadcast.Subscription
	log         *zap.Logger

	mu    sync.Mutex
	state State
	// engaged is set once the session queued or created a game; only then
	// can an Ongoing game of this participant belong to it.
	engaged bool
}

func (s *Session) engage() {
	s.mu.Lock()
	s.engaged = true
	s.mu.Unlock()
}

func (s *Session) isEngaged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engaged
}

func (s *Session) Participant() string { return s.participant }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.log.Debug("session_state", zap.String("from", StateName(prev)), zap.String("to", StateName(st)))
}

// Discard releases a session that was opened but never run, e.g. when the
// transport upgrade failed.
func (s *Session) Discard() error {
	s.setState(Terminated{Reason: "discarded"})
	return s.sub.Close()
}

// Run processes inbound commands and bus events until the game ends, the
// client goes away or ctx is cancelled. A client disconnect is not an error.
// Disconnect cleanup always runs before Run returns.
func (s *Session) Run(ctx context.Context, conn Conn) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer ccancel()
		if cerr := s.cleanup(cctx); cerr != nil {
			s.log.Error("session_cleanup_error", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}()

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			raw, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	if s.svc.autoMatch {
		if err := s.findOpponent(ctx, conn); err != nil {
			return err
		}
	}

	events := s.sub.Events()
	for {
		if _, done := s.State().(Terminated); done {
			return nil
		}
		select {
		case raw := <-inbound:
			cmd, err := protocol.DecodeCommand(raw)
			if err != nil {
				s.log.Debug("session_ignore_frame", zap.Error(err))
				continue
			}
			if err := s.handleCommand(ctx, conn, cmd); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				if err := s.sub.Err(); err != nil {
					return err
				}
				return errSubscriptionClosed
			}
			if err := s.handleEvent(ctx, conn, ev); err != nil {
				return err
			}
		case rerr := <-readErr:
			s.log.Info("session_disconnect", zap.String("state", StateName(s.State())), zap.NamedError("reason", rerr))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, conn Conn, cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.FindOpponent:
		if _, ok := s.State().(Connecting); ok {
			return s.findOpponent(ctx, conn)
		}
	case protocol.Move:
		if m, ok := s.State().(Matched); ok {
			return s.move(ctx, m, c.SAN)
		}
	case protocol.EndIfTimeout:
		if m, ok := s.State().(Matched); ok {
			_, err := s.svc.endIfTimeout(ctx, m.GameID)
			return err
		}
	}
	return nil
}

// findOpponent pairs with the head of the queue or enqueues this participant.
// The participant who waited plays white.
func (s *Session) findOpponent(ctx context.Context, conn Conn) error {
	for {
		waiter, ok, err := s.svc.queue.Pop(ctx)
		if err != nil {
			return err
		}
		if !ok || waiter == s.participant {
			s.engage()
			if err := s.svc.queue.Push(ctx, s.participant); err != nil {
				return err
			}
			s.setState(Queued{})
			return nil
		}
		rec, err := s.svc.store.Create(ctx, waiter, s.participant)
		if errors.Is(err, record.ErrBusy) {
			retry, err := s.resolveBusy(ctx, waiter)
			if err != nil || !retry {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		s.engage()
		return s.startAsConnector(ctx, conn, rec, waiter)
	}
}

// resolveBusy handles a refused pairing. When this participant already plays
// elsewhere the waiter goes back to the head of the queue and the session
// ends; a waiter that is itself busy is dropped.
func (s *Session) resolveBusy(ctx context.Context, waiter string) (retry bool, err error) {
	self, err := s.svc.store.HasOngoing(ctx, s.participant)
	if err != nil {
		return false, err
	}
	if self {
		if err := s.svc.queue.PushFront(ctx, waiter); err != nil {
			return false, err
		}
		s.log.Warn("matchmaking_self_busy", zap.String("waiter", waiter))
		s.setState(Terminated{Reason: reasonBusy})
		return false, nil
	}
	busy, err := s.svc.store.HasOngoing(ctx, waiter)
	if err != nil {
		return false, err
	}
	if busy {
		s.log.Warn("matchmaking_skip_busy", zap.String("waiter", waiter))
		return true, nil
	}
	// the conflicting game finished in between
	if err := s.svc.queue.PushFront(ctx, waiter); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) startAsConnector(ctx context.Context, conn Conn, rec *record.Record, waiter string) error {
	if err := s.sub.Join(ctx, broadcast.GameTopic(rec.ID)); err != nil {
		return err
	}
	n, err := s.svc.bus.Publish(ctx, broadcast.ClientTopic(waiter), broadcast.StartEvent(rec.ID, record.White, s.participant))
	if err != nil {
		return err
	}
	if n == 0 {
		// waiter left between the pop and the notification
		if _, err := s.svc.abandon(ctx, rec.ID, waiter); err != nil {
			return err
		}
		_ = s.sub.Leave(ctx, broadcast.GameTopic(rec.ID))
		s.setState(Terminated{Reason: reasonOpponentGone})
		s.log.Info("matchmaking_waiter_gone", zap.String("game_id", rec.ID), zap.String("waiter", waiter))
		return conn.Write(ctx, protocol.Abandoned{})
	}
	s.setState(Matched{GameID: rec.ID, Colour: record.Black, Opponent: waiter})
	return conn.Write(ctx, protocol.Start{
		Client:   s.participant,
		GameID:   rec.ID,
		Colour:   string(record.Black),
		Opponent: waiter,
	})
}

func (s *Session) move(ctx context.Context, m Matched, san string) error {
	var applied record.Applied
	var moved bool
	rec, err := s.svc.store.Mutate(ctx, m.GameID, func(r *record.Record) error {
		applied, moved = record.Applied{}, false
		if r.Status != record.StatusOngoing {
			return record.ErrNoChange
		}
		now := s.svc.now()
		if loser, late := r.TimedOut(now); late {
			return r.Timeout(r.Participant(loser.Opposite()))
		}
		if r.TurnParticipant() != s.participant {
			return record.ErrNoChange
		}
		a, ok := r.ApplyMove(san)
		if !ok {
			return record.ErrNoChange
		}
		r.UpdateTimer(a.Colour, now)
		applied, moved = a, true
		switch a.Verdict.Kind {
		case rules.Mate:
			return r.Checkmate(r.Participant(a.Verdict.Winner))
		case rules.Drawn:
			return r.Draw(a.Verdict.Reason)
		}
		return nil
	})
	if errors.Is(err, record.ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	if moved {
		ev := broadcast.MovedEvent(rec.ID, applied.SAN, applied.Colour, rec.Clock)
		if _, err := s.svc.bus.Publish(ctx, broadcast.GameTopic(rec.ID), ev); err != nil {
			return err
		}
	}
	return s.svc.publishOutcome(ctx, rec)
}

func (s *Session) handleEvent(ctx context.Context, conn Conn, ev broadcast.Event) error {
	switch ev.Kind {
	case broadcast.KindStart:
		if _, ok := s.State().(Queued); !ok {
			return nil
		}
		return s.startAsWaiter(ctx, conn, ev)
	case broadcast.KindMoved:
		m, ok := s.State().(Matched)
		if !ok || ev.GameID != m.GameID || ev.Clock == nil {
			return nil
		}
		deadline, _ := ev.Clock.Deadline(ev.Colour.Opposite())
		return conn.Write(ctx, protocol.Moved{SAN: ev.SAN, Colour: string(ev.Colour), Deadline: deadline})
	case broadcast.KindWin, broadcast.KindDraw:
		m, ok := s.State().(Matched)
		if !ok || ev.GameID != m.GameID {
			return nil
		}
		return s.finish(ctx, conn, m, ev)
	}
	return nil
}

func (s *Session) startAsWaiter(ctx context.Context, conn Conn, ev broadcast.Event) error {
	m := Matched{GameID: ev.GameID, Colour: ev.Colour, Opponent: ev.Opponent}
	if err := s.sub.Join(ctx, broadcast.GameTopic(m.GameID)); err != nil {
		return err
	}
	s.setState(m)
	if err := conn.Write(ctx, protocol.Start{
		Client:   s.participant,
		GameID:   m.GameID,
		Colour:   string(m.Colour),
		Opponent: m.Opponent,
	}); err != nil {
		return err
	}
	// the game may have ended before we joined its topic
	rec, err := s.svc.store.Get(ctx, m.GameID)
	if err != nil {
		return err
	}
	if out, over := broadcast.Outcome(rec); over {
		return s.finish(ctx, conn, m, out)
	}
	return nil
}

func (s *Session) finish(ctx context.Context, conn Conn, m Matched, ev broadcast.Event) error {
	var out protocol.Event
	if ev.Kind == broadcast.KindDraw {
		out = protocol.Draw{Reason: ev.Reason}
	} else {
		out = protocol.Win{WinnerColour: string(ev.Winner), By: ev.By}
	}
	s.setState(Terminated{Reason: reasonGameOver})
	_ = s.sub.Leave(ctx, broadcast.GameTopic(m.GameID))
	s.log.Info("session_game_over", zap.String("game_id", m.GameID), zap.String("result", protocol.Name(out)), zap.String("by", ev.By))
	return conn.Write(ctx, out)
}

// cleanup runs on every exit path regardless of how the connection closed.
func (s *Session) cleanup(ctx context.Context) error {
	_ = s.sub.Close()
	var errs []error
	if _, queued := s.State().(Queued); queued {
		if err := s.svc.queue.Remove(ctx, s.participant); err != nil {
			errs = append(errs, err)
		}
	}
	var rec *record.Record
	var err error
	if s.isEngaged() {
		rec, err = s.svc.store.Ongoing(ctx, s.participant)
	}
	if err != nil {
		errs = append(errs, err)
	} else if rec != nil {
		done, err := s.svc.abandon(ctx, rec.ID, s.participant)
		if err != nil {
			errs = append(errs, err)
		} else if done != nil {
			s.log.Info("session_abandon", zap.String("game_id", done.ID), zap.String("winner", done.Winner))
			if err := s.svc.publishOutcome(ctx, done); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if _, done := s.State().(Terminated); !done {
		s.setState(Terminated{Reason: "disconnected"})
	}
	return errors.Join(errs...)
}
