package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/executor"
	"conductor/internal/models"
	"conductor/internal/retry"
)

func fastScheduler() *Scheduler {
	return New(&retry.Executor{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
}

func makeTasks(n int) []models.TaskInput {
	tasks := make([]models.TaskInput, n)
	for i := range tasks {
		tasks[i] = models.TaskInput{ID: fmt.Sprintf("task-%d", i+1)}
	}
	return tasks
}

func collect(ch <-chan models.TaskOutcome) []models.TaskOutcome {
	var out []models.TaskOutcome
	for o := range ch {
		out = append(out, o)
	}
	return out
}

func TestPrepareSortsByPriorityAndDedups(t *testing.T) {
	tasks := []models.TaskInput{
		{ID: "a", Priority: "low"},
		{ID: "b", Priority: "high"},
		{ID: "c", Priority: "weird"}, // unknown class sorts last
		{ID: "d", Priority: "normal"},
		{ID: "e", Priority: "high", DedupKey: "same"},
		{ID: "f", Priority: "high", DedupKey: "same"}, // duplicate, dropped
	}

	prepared := Prepare(tasks, []string{"high", "normal", "low"})

	var ids []string
	for _, p := range prepared {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"b", "e", "d", "a", "c"}, ids)
}

func TestPrepareDedupKeyFallsBackToID(t *testing.T) {
	tasks := []models.TaskInput{{ID: "x"}, {ID: "x"}, {ID: "y"}}
	prepared := Prepare(tasks, nil)
	assert.Len(t, prepared, 2)
}

func TestRunRespectsConcurrencyCap(t *testing.T) {
	const (
		taskCount   = 20
		concurrency = 3
	)

	var inFlight, peak int64
	exec := executor.Func(func(ctx context.Context, task models.TaskInput) (json.RawMessage, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return json.RawMessage(`"done"`), nil
	})

	outcomes := collect(fastScheduler().Run(context.Background(), makeTasks(taskCount), exec, Options{Concurrency: concurrency}))

	require.Len(t, outcomes, taskCount)
	for _, o := range outcomes {
		assert.True(t, o.Success, "task %s: %s", o.Input.ID, o.Error)
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(concurrency),
		"never more than %d tasks may execute simultaneously", concurrency)
	assert.Greater(t, atomic.LoadInt64(&peak), int64(1), "work should actually overlap")
}

func TestRunIsolatesPanics(t *testing.T) {
	exec := executor.Func(func(ctx context.Context, task models.TaskInput) (json.RawMessage, error) {
		if task.ID == "task-2" {
			panic("executor blew up")
		}
		return json.RawMessage(`"ok"`), nil
	})

	outcomes := collect(fastScheduler().Run(context.Background(), makeTasks(4), exec, Options{Concurrency: 2}))

	require.Len(t, outcomes, 4, "a panicking task must not abort the others")
	byID := outcomesByID(outcomes)
	assert.False(t, byID["task-2"].Success)
	assert.Contains(t, byID["task-2"].Error, "panic: executor blew up")
	for _, id := range []string{"task-1", "task-3", "task-4"} {
		assert.True(t, byID[id].Success, "task %s should be unaffected", id)
	}
}

func TestRunSkipsUnresolvedTasks(t *testing.T) {
	var executed sync.Map
	exec := executor.Func(func(ctx context.Context, task models.TaskInput) (json.RawMessage, error) {
		executed.Store(task.ID, true)
		return json.RawMessage(`"ok"`), nil
	})

	opts := Options{
		Concurrency: 2,
		Resolve: func(task models.TaskInput) error {
			if task.ID == "task-3" {
				return errors.New("reference missing from lookup table")
			}
			return nil
		},
	}
	outcomes := collect(fastScheduler().Run(context.Background(), makeTasks(5), exec, opts))

	require.Len(t, outcomes, 5)
	byID := outcomesByID(outcomes)
	assert.False(t, byID["task-3"].Success)
	assert.Contains(t, byID["task-3"].Error, "skipped: reference missing")

	_, ran := executed.Load("task-3")
	assert.False(t, ran, "skipped tasks must not invoke the executor")
}

func TestRunCancellationAccountsForAllTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := executor.Func(func(ctx context.Context, task models.TaskInput) (json.RawMessage, error) {
		time.Sleep(50 * time.Millisecond)
		return json.RawMessage(`"ok"`), nil
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	outcomes := collect(fastScheduler().Run(ctx, makeTasks(10), exec, Options{Concurrency: 2}))

	require.Len(t, outcomes, 10, "every task needs exactly one outcome even after cancellation")
	var cancelled int
	for _, o := range outcomes {
		if !o.Success {
			assert.Contains(t, o.Error, "cancelled before execution")
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0, "pending tasks should be reported as cancelled")
	assert.Less(t, cancelled, 10, "in-flight tasks should still finish")
}

// The reference scenario: 10 tasks at concurrency 3, task 4 always fails with
// a non-retryable error, task 7 fails twice with a transient error and then
// succeeds.
func TestRunScenarioMixedFailures(t *testing.T) {
	var mu sync.Mutex
	attempts := make(map[string]int)

	exec := executor.Func(func(ctx context.Context, task models.TaskInput) (json.RawMessage, error) {
		mu.Lock()
		attempts[task.ID]++
		n := attempts[task.ID]
		mu.Unlock()

		switch task.ID {
		case "task-4":
			return nil, errors.New("invalid item schema")
		case "task-7":
			if n <= 2 {
				return nil, errors.New("connection reset by peer")
			}
		}
		return json.RawMessage(`"validated"`), nil
	})

	outcomes := collect(fastScheduler().Run(context.Background(), makeTasks(10), exec, Options{Concurrency: 3}))

	require.Len(t, outcomes, 10)
	byID := outcomesByID(outcomes)

	var succeeded, failed int
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		} else {
			failed++
		}
	}
	assert.Equal(t, 9, succeeded)
	assert.Equal(t, 1, failed)

	assert.False(t, byID["task-4"].Success)
	assert.Contains(t, byID["task-4"].Error, "non-retryable")
	assert.Equal(t, 0, byID["task-4"].Retries)

	assert.True(t, byID["task-7"].Success)
	assert.Equal(t, 2, byID["task-7"].Retries, "task 7 must record exactly two retry attempts")
}

func outcomesByID(outcomes []models.TaskOutcome) map[string]models.TaskOutcome {
	byID := make(map[string]models.TaskOutcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.Input.ID] = o
	}
	return byID
}
