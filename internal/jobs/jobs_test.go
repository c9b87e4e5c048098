package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type countingTarget struct {
	reconciles atomic.Int32
	rollovers  atomic.Int32
	err        error
}

func (c *countingTarget) Reconcile(context.Context) error {
	c.reconciles.Add(1)
	return c.err
}

func (c *countingTarget) RollOver(context.Context) error {
	c.rollovers.Add(1)
	return c.err
}

func TestNewRunner_RejectsZeroInterval(t *testing.T) {
	_, err := NewRunner(&countingTarget{}, Options{Logger: zerolog.Nop()})
	require.Error(t, err)
}

func TestRunner_ReconcilesPeriodically(t *testing.T) {
	target := &countingTarget{}
	r, err := NewRunner(target, Options{
		ReconcileInterval: 20 * time.Millisecond,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)

	r.Start()
	defer func() { require.NoError(t, r.Stop()) }()

	require.Eventually(t, func() bool {
		return target.reconciles.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Zero(t, target.rollovers.Load())
}

func TestRunner_RolloverAtMidnight(t *testing.T) {
	loc := time.FixedZone("test", 2*60*60)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 22, 30, 0, 0, loc))

	r, err := NewRunner(&countingTarget{}, Options{
		Clock:             clock,
		Location:          loc,
		ReconcileInterval: time.Minute,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)

	r.Start()
	defer func() { require.NoError(t, r.Stop()) }()

	require.Eventually(t, func() bool {
		next, err := r.NextRun(JobRollover)
		return err == nil && !next.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	next, err := r.NextRun(JobRollover)
	require.NoError(t, err)
	require.True(t, next.Equal(time.Date(2026, 6, 2, 0, 0, 0, 0, loc)), "next rollover %s", next)

	_, err = r.NextRun("missing")
	require.Error(t, err)
}

func TestRunJob_RecordsFailures(t *testing.T) {
	target := &countingTarget{err: errors.New("store unavailable")}
	r, err := NewRunner(target, Options{ReconcileInterval: time.Hour, Logger: zerolog.Nop()})
	require.NoError(t, err)

	r.runJob(JobRollover)
	r.runJob(JobReconcile)
	r.runJob("bogus")

	require.Equal(t, int32(1), target.rollovers.Load())
	require.Equal(t, int32(1), target.reconciles.Load())
	require.NoError(t, r.Stop())
}
