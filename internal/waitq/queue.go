package waitq

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis list holding waiting participants.
const DefaultKey = "chess:waiting-queue"

// Queue is a FIFO of participant ids shared by every server instance.
// It performs no uniqueness checks; callers search before pushing.
type Queue struct {
	rdb *redis.Client
	key string
}

func New(rdb *redis.Client, key string) *Queue {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &Queue{rdb: rdb, key: key}
}

// Push appends participant to the tail.
func (q *Queue) Push(ctx context.Context, participant string) error {
	if err := q.rdb.RPush(ctx, q.key, participant).Err(); err != nil {
		return fmt.Errorf("waitq push: %w", err)
	}
	return nil
}

// PushFront returns participant to the head, ahead of everyone else.
func (q *Queue) PushFront(ctx context.Context, participant string) error {
	if err := q.rdb.LPush(ctx, q.key, participant).Err(); err != nil {
		return fmt.Errorf("waitq push front: %w", err)
	}
	return nil
}

// Pop removes and returns the head. LPOP is atomic, so concurrent callers
// never receive the same participant.
func (q *Queue) Pop(ctx context.Context) (string, bool, error) {
	v, err := q.rdb.LPop(ctx, q.key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("waitq pop: %w", err)
	}
	return v, true, nil
}

// Search reports whether participant is anywhere in the queue.
func (q *Queue) Search(ctx context.Context, participant string) (bool, error) {
	_, err := q.rdb.LPos(ctx, q.key, participant, redis.LPosArgs{}).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("waitq search: %w", err)
	}
	return true, nil
}

// Remove drops every occurrence of participant.
func (q *Queue) Remove(ctx context.Context, participant string) error {
	if err := q.rdb.LRem(ctx, q.key, 0, participant).Err(); err != nil {
		return fmt.Errorf("waitq remove: %w", err)
	}
	return nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
