package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (c *countingExpirer) ExpireTimeouts(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestSweeperDisabled(t *testing.T) {
	s, err := New(&countingExpirer{}, 0)
	require.NoError(t, err)
	assert.Nil(t, s)
	s.Start()
	assert.NoError(t, s.Stop())
}

func TestSweeperRunsPeriodically(t *testing.T) {
	exp := &countingExpirer{}
	s, err := New(exp, 20*time.Millisecond)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return exp.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunOnceSurvivesErrors(t *testing.T) {
	exp := &countingExpirer{err: errors.New("redis down")}
	s, err := New(exp, time.Hour)
	require.NoError(t, err)
	defer s.Stop()
	s.RunOnce()
	assert.Equal(t, int32(1), exp.calls.Load())
}
