package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/obslog"
)

// Expirer ends games whose side to move has run out of time.
type Expirer interface {
	ExpireTimeouts(ctx context.Context) (int, error)
}

// Sweeper periodically expires timed-out games so a stalled game ends even
// when neither client asks for a timeout check.
type Sweeper struct {
	sched    gocron.Scheduler
	target   Expirer
	interval time.Duration
	timeout  time.Duration
}

// New returns nil when interval is not positive.
func New(target Expirer, interval time.Duration) (*Sweeper, error) {
	if interval <= 0 {
		return nil, nil
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("sweeper scheduler: %w", err)
	}
	s := &Sweeper{sched: sched, target: target, interval: interval, timeout: interval}
	if s.timeout < time.Second {
		s.timeout = time.Second
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.RunOnce),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("expire-timeouts"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("sweeper job: %w", err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	if s == nil {
		return
	}
	s.sched.Start()
	obslog.L().Info("sweeper_start", zap.Duration("interval", s.interval))
}

func (s *Sweeper) Stop() error {
	if s == nil {
		return nil
	}
	return s.sched.Shutdown()
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.target.ExpireTimeouts(ctx)
	if err != nil {
		obslog.L().Error("sweeper_error", zap.Error(err))
		return
	}
	if n > 0 {
		obslog.L().Info("sweeper_expired", zap.Int("games", n))
	}
}
