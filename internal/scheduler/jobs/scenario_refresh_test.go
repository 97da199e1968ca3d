package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scengen/internal/brain"
	"github.com/wonny/scengen/internal/risk"
	"github.com/wonny/scengen/pkg/redis"
)

type fakeRunner struct {
	calls int
	input brain.RunConfig
	err   error
	id    uuid.UUID
}

func (r *fakeRunner) Run(_ context.Context, rc brain.RunConfig) (*brain.RunResult, error) {
	r.calls++
	r.input = rc
	if r.err != nil {
		return nil, r.err
	}
	return &brain.RunResult{
		Success:         true,
		CompletedStages: []string{brain.StageLoad},
		Summary:         &risk.Summary{RunID: r.id},
	}, nil
}

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func(context.Context) error { l.released++; return nil }, true, nil
}

type fakeCache struct {
	keys []string
}

func (c *fakeCache) Set(_ context.Context, key string, _ interface{}) error {
	c.keys = append(c.keys, key)
	return nil
}

func TestScenarioRefreshJob_Run(t *testing.T) {
	runner := &fakeRunner{id: uuid.New()}
	locker := &fakeLocker{}
	cache := &fakeCache{}
	input := brain.RunConfig{DataPath: "prices.csv", OutputDir: "out"}

	job := NewScenarioRefreshJob(runner, input, "0 0 6 * * *", nil).
		WithLock(locker, time.Minute).
		WithSummaryCache(cache)

	assert.Equal(t, ScenarioRefreshName, job.Name())
	assert.Equal(t, "0 0 6 * * *", job.Schedule())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, input.DataPath, runner.input.DataPath)
	assert.Equal(t, 1, locker.released)
	assert.Equal(t, []string{redis.RunSummaryKey(runner.id.String())}, cache.keys)
}

func TestScenarioRefreshJob_SkipsWhenLockHeld(t *testing.T) {
	runner := &fakeRunner{}
	job := NewScenarioRefreshJob(runner, brain.RunConfig{}, "@daily", nil).
		WithLock(&fakeLocker{held: true}, 0)

	require.NoError(t, job.Run(context.Background()))
	assert.Zero(t, runner.calls)
}

func TestScenarioRefreshJob_Errors(t *testing.T) {
	job := NewScenarioRefreshJob(&fakeRunner{}, brain.RunConfig{}, "@daily", nil).
		WithLock(&fakeLocker{err: errors.New("redis down")}, 0)
	assert.Error(t, job.Run(context.Background()))

	locker := &fakeLocker{}
	failing := NewScenarioRefreshJob(&fakeRunner{err: errors.New("calibrate failed")}, brain.RunConfig{}, "@daily", nil).
		WithLock(locker, 0)
	err := failing.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calibrate failed")
	assert.Equal(t, 1, locker.released, "lease is released after a failed run")
}
