package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/obslog"
)

// Bus publishes events over Redis Pub/Sub so sessions on different server
// instances can reach each other.
type Bus struct {
	rdb *redis.Client
}

func NewBus(rdb *redis.Client) *Bus { return &Bus{rdb: rdb} }

// Publish sends ev to topic and returns the number of subscribers that
// received it.
func (b *Bus) Publish(ctx context.Context, topic Topic, ev Event) (int64, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	n, err := b.rdb.Publish(ctx, string(topic), raw).Result()
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", topic, err)
	}
	obslog.L().Debug("bus_publish", zap.String("topic", string(topic)), zap.String("kind", string(ev.Kind)), zap.Int64("receivers", n))
	return n, nil
}

// Subscribe opens a subscription confirmed on every initial topic.
func (b *Bus) Subscribe(ctx context.Context, topics ...Topic) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx)
	s := &Subscription{
		ps:      ps,
		events:  make(chan Event, 64),
		pending: map[string]chan struct{}{},
		done:    make(chan struct{}),
	}
	go s.loop()
	for _, t := range topics {
		if err := s.Join(ctx, t); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Subscription is one connection's membership in a set of topics.
type Subscription struct {
	ps     *redis.PubSub
	events chan Event

	mu      sync.Mutex
	pending map[string]chan struct{}
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Events delivers decoded events. It is closed when the subscription ends;
// Err then tells whether that was caused by a backend failure.
func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Join subscribes to topic and waits for the server's confirmation.
func (s *Subscription) Join(ctx context.Context, topic Topic) error {
	name := string(topic)
	ack := make(chan struct{})
	s.mu.Lock()
	s.pending[name] = ack
	s.mu.Unlock()

	if err := s.ps.Subscribe(ctx, name); err != nil {
		s.dropPending(name)
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	select {
	case <-ack:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return errClosed
	case <-ctx.Done():
		s.dropPending(name)
		return ctx.Err()
	}
}

// Leave unsubscribes from topic.
func (s *Subscription) Leave(ctx context.Context, topic Topic) error {
	return s.ps.Unsubscribe(ctx, string(topic))
}

func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

var errClosed = errors.New("subscription closed")

func (s *Subscription) dropPending(name string) {
	s.mu.Lock()
	delete(s.pending, name)
	s.mu.Unlock()
}

func (s *Subscription) loop() {
	defer close(s.events)
	ctx := context.Background()
	for {
		msg, err := s.ps.Receive(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.err = fmt.Errorf("pubsub receive: %w", err)
				s.mu.Unlock()
				s.closeOnce.Do(func() {
					close(s.done)
					_ = s.ps.Close()
				})
			}
			return
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind != "subscribe" {
				continue
			}
			s.mu.Lock()
			if ack, ok := s.pending[m.Channel]; ok {
				close(ack)
				delete(s.pending, m.Channel)
			}
			s.mu.Unlock()
		case *redis.Message:
			var ev Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				obslog.L().Warn("bus_decode_error", zap.String("topic", m.Channel), zap.Error(err))
				continue
			}
			ev.Topic = Topic(m.Channel)
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}
