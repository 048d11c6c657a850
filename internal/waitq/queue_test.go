package waitq

import (
	"context"
	"fmt"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, New(rdb, "")
}

func TestQueue_PushPopFIFO(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	_, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty queue pops nothing")

	require.NoError(t, q.Push(ctx, "A"))
	require.NoError(t, q.Push(ctx, "B"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", first)

	second, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", second)
}

func TestQueue_SearchRemove(t *testing.T) {
	mr, q := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "A"))
	require.NoError(t, q.Push(ctx, "B"))
	require.NoError(t, q.Push(ctx, "A"))

	found, err := q.Search(ctx, "A")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, q.Remove(ctx, "A"))
	found, err = q.Search(ctx, "A")
	require.NoError(t, err)
	assert.False(t, found, "all occurrences removed")

	items, err := mr.List(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, items)
}

func TestQueue_PushFrontJumpsAhead(t *testing.T) {
	mr, q := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "B"))
	require.NoError(t, q.PushFront(ctx, "A"))

	items, err := mr.List(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, items)

	got, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", got)
}

func TestQueue_ConcurrentPopDeliversOnce(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, q.Push(ctx, fmt.Sprintf("p%d", i)))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok, err := q.Pop(ctx)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for k, c := range seen {
		assert.Equal(t, 1, c, "participant %s delivered %d times", k, c)
	}
}

func TestQueue_BackendDownPropagates(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	q := New(rdb, "q")
	mr.Close()
	err = q.Push(context.Background(), "A")
	assert.Error(t, err)
}
