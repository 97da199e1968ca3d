package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name     string
	schedule string
	failures int32 // 처음 N회 실패
	calls    atomic.Int32
	block    bool
}

func (j *stubJob) Name() string     { return j.name }
func (j *stubJob) Schedule() string { return j.schedule }

func (j *stubJob) Run(ctx context.Context) error {
	n := j.calls.Add(1)
	if j.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if n <= j.failures {
		return errors.New("boom")
	}
	return nil
}

func fastOptions() Options {
	return Options{MaxRetries: 2, RetryDelay: time.Millisecond}
}

func TestValidateSchedule(t *testing.T) {
	for _, expr := range []string{"0 0 6 * * *", "0 6 * * *", "@hourly", "@every 5m"} {
		assert.NoError(t, ValidateSchedule(expr), expr)
	}
	assert.Error(t, ValidateSchedule("not a schedule"))
	assert.Error(t, ValidateSchedule("61 * * * *"))
}

func TestAddRemoveJob(t *testing.T) {
	s := New(fastOptions(), nil)
	job := &stubJob{name: "refresh", schedule: "@hourly"}

	require.NoError(t, s.AddJob(job))
	assert.Error(t, s.AddJob(job), "duplicate names are rejected")
	assert.Equal(t, []string{"refresh"}, s.GetAllJobs())
	assert.Len(t, s.cron.Entries(), 1)

	require.NoError(t, s.RemoveJob("refresh"))
	assert.Empty(t, s.GetAllJobs())
	assert.Empty(t, s.cron.Entries())
	assert.Error(t, s.RemoveJob("refresh"))

	assert.Error(t, s.AddJob(&stubJob{name: "bad", schedule: "nope"}))
}

func TestRunJobSync_RetriesThenSucceeds(t *testing.T) {
	s := New(fastOptions(), nil)
	job := &stubJob{name: "flaky", schedule: "@daily", failures: 2}
	require.NoError(t, s.AddJob(job))

	result, err := s.RunJobSync(context.Background(), "flaky")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Empty(t, result.Error)

	_, err = s.RunJobSync(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRunJobSync_ExhaustsRetries(t *testing.T) {
	s := New(fastOptions(), nil)
	job := &stubJob{name: "broken", schedule: "@daily", failures: 100}
	require.NoError(t, s.AddJob(job))

	result, err := s.RunJobSync(context.Background(), "broken")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, "boom", result.Error)

	stats := s.GetJobStats()["broken"]
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.FailureCount)
	assert.NotNil(t, stats.LastFailure)
	assert.Nil(t, stats.LastSuccess)
}

func TestRunJobSync_TimeoutStopsRetrying(t *testing.T) {
	s := New(Options{MaxRetries: 5, RetryDelay: time.Hour, JobTimeout: 10 * time.Millisecond}, nil)
	job := &stubJob{name: "slow", schedule: "@daily", block: true}
	require.NoError(t, s.AddJob(job))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := s.RunJobSync(ctx, "slow")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Less(t, result.Duration, time.Hour)
}

func TestJobHistory(t *testing.T) {
	h := &JobHistory{}
	_, ok := h.Last()
	assert.False(t, ok)
	assert.Zero(t, h.GetSuccessRate())

	for i := 0; i < historyLimit+10; i++ {
		h.AddResult(JobResult{JobName: "x", Success: i%2 == 0})
	}
	assert.Len(t, h.Results, historyLimit)
	assert.Len(t, h.GetLatestResults(5), 5)
	assert.Len(t, h.GetFailedResults(), historyLimit/2)
	assert.InDelta(t, 0.5, h.GetSuccessRate(), 1e-12)
}

func TestGetJobHistory_ReturnsCopy(t *testing.T) {
	s := New(fastOptions(), nil)
	require.NoError(t, s.AddJob(&stubJob{name: "ok", schedule: "@daily"}))
	_, err := s.RunJobSync(context.Background(), "ok")
	require.NoError(t, err)

	h, err := s.GetJobHistory("ok")
	require.NoError(t, err)
	require.Len(t, h.Results, 1)
	h.Results[0].Success = false

	again, _ := s.GetJobHistory("ok")
	assert.True(t, again.Results[0].Success)
}
