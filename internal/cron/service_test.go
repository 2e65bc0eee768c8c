package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
	"github.com/angelmondragon/promptcraft-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	foreign  bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held || f.foreign {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

func (f *fakeLock) Holder(context.Context) (string, error) {
	if f.foreign {
		return "other/1/x", nil
	}
	return "", nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func newTestCron(t *testing.T, lock Lock, clock *manualClock, reg *Registry) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: reg,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
		Now:      clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "success"}
	bad := &testJob{name: "fail", err: errors.New("boom")}
	reg := NewRegistry()
	require.NoError(t, reg.Register(ok, time.Hour))
	require.NoError(t, reg.Register(bad, 0))
	lock := &fakeLock{}

	svc := newTestCron(t, lock, &manualClock{now: time.Now()}, reg)
	require.NoError(t, svc.RunOnce(context.Background()))
	require.Equal(t, 1, ok.runs)
	require.Equal(t, 1, bad.runs)
	require.Equal(t, 1, lock.releases)
}

func TestTickRunsOnlyDueJobsAndRetriesFailures(t *testing.T) {
	sweep := &testJob{name: "sweep"}
	audit := &testJob{name: "audit", err: errors.New("db down")}
	reg := NewRegistry()
	require.NoError(t, reg.Register(sweep, 0))
	require.NoError(t, reg.Register(audit, time.Hour))
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestCron(t, &fakeLock{}, clock, reg)

	svc.tick(context.Background())
	require.Equal(t, 1, sweep.runs)
	require.Equal(t, 1, audit.runs)

	// failed jobs stay due on the next cycle
	clock.now = clock.now.Add(5 * time.Minute)
	audit.err = nil
	svc.tick(context.Background())
	require.Equal(t, 2, sweep.runs)
	require.Equal(t, 2, audit.runs)

	clock.now = clock.now.Add(5 * time.Minute)
	svc.tick(context.Background())
	require.Equal(t, 3, sweep.runs)
	require.Equal(t, 2, audit.runs)
}

func TestCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	job := &testJob{name: "sweep"}
	reg := NewRegistry()
	require.NoError(t, reg.Register(job, 0))
	lock := &fakeLock{foreign: true}
	svc := newTestCron(t, lock, &manualClock{now: time.Now()}, reg)

	require.NoError(t, svc.RunOnce(context.Background()))
	require.Zero(t, job.runs)
	require.Zero(t, lock.releases)
}
