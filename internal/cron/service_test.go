package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/piratar/members-sync/pkg/logger"
)

type fakeLock struct {
	acquired bool
	acquires int
	err      error
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	f.acquires++
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type testJob struct {
	name  string
	err   error
	runs  int
	onRun func()
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.onRun != nil {
		t.onRun()
	}
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.New(logger.Options{})})
	require.Error(t, err)

	svc := newTestService(t, &fakeLock{})
	require.Equal(t, defaultInterval, svc.interval)
}

func TestRunNowReportsEveryJobAndCombinesErrors(t *testing.T) {
	ok := &testJob{name: "ok"}
	failA := &testJob{name: "fail-a", err: errors.New("first")}
	failB := &testJob{name: "fail-b", err: errors.New("second")}
	lock := &fakeLock{}
	svc := newTestService(t, lock, ok, failA, failB)

	report, err := svc.RunNow(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, failA.err)
	require.ErrorIs(t, err, failB.err)
	require.Len(t, report.Results, 3)
	require.Equal(t, 2, report.Failed())
	require.Equal(t, "ok", report.Results[0].Job)
	require.NoError(t, report.Results[0].Err)
	require.Equal(t, 1, ok.runs)
	require.Equal(t, 1, failA.runs)
	require.Equal(t, 1, failB.runs)
	require.False(t, lock.acquired, "lock must be released")
}

func TestRunNowSelectsJobsByName(t *testing.T) {
	ok := &testJob{name: "ok"}
	other := &testJob{name: "other"}
	svc := newTestService(t, &fakeLock{}, ok, other)

	report, err := svc.RunNow(context.Background(), "other")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	require.Equal(t, 0, ok.runs)
	require.Equal(t, 1, other.runs)

	_, err = svc.RunNow(context.Background(), "missing")
	require.Error(t, err)
}

func TestRunNowRespectsHeldLock(t *testing.T) {
	job := &testJob{name: "ok"}
	svc := newTestService(t, &fakeLock{acquired: true}, job)

	_, err := svc.RunNow(context.Background())
	require.ErrorIs(t, err, ErrLockHeld)
	require.Zero(t, job.runs)
}

func TestRunNowSurfacesLockFailure(t *testing.T) {
	job := &testJob{name: "ok"}
	svc := newTestService(t, &fakeLock{err: errors.New("redis down")}, job)

	_, err := svc.RunNow(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrLockHeld)
	require.Zero(t, job.runs)
}

func TestSweepStopsStartingJobsOnceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &testJob{name: "first", onRun: cancel}
	second := &testJob{name: "second"}
	svc := newTestService(t, &fakeLock{}, first, second)

	report, err := svc.sweep(ctx, svc.registry.Jobs())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	require.Zero(t, second.runs)
}

func TestRunSweepsImmediatelyAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := &testJob{name: "ok", onRun: cancel}
	lock := &fakeLock{}
	svc := newTestService(t, lock, job)
	svc.interval = time.Hour

	err := svc.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, job.runs)
	require.Equal(t, 1, lock.acquires)
}
