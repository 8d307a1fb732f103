package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	owing int
	err   error
}

func (c *countingSweeper) SweepFines(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return c.owing, c.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFineSweepScheduler_RunOnce(t *testing.T) {
	sw := &countingSweeper{owing: 3}
	s := NewFineSweepScheduler(sw, "0 1 * * *", time.Second, quietLogger())

	owing, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, owing)
	assert.Equal(t, int32(1), sw.calls.Load())
}

func TestFineSweepScheduler_RunOncePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	s := NewFineSweepScheduler(&countingSweeper{err: boom}, "0 1 * * *", 0, quietLogger())

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFineSweepScheduler_StartStop(t *testing.T) {
	s := NewFineSweepScheduler(&countingSweeper{}, "0 1 * * *", 0, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(ctx), "starting twice is a no-op")

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestFineSweepScheduler_StopsOnContextCancel(t *testing.T) {
	s := NewFineSweepScheduler(&countingSweeper{}, "0 1 * * *", 0, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestFineSweepScheduler_InvalidSchedule(t *testing.T) {
	s := NewFineSweepScheduler(&countingSweeper{}, "60 * * * *", 0, quietLogger())
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.False(t, s.IsRunning())
}
