package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"conductor/internal/executor"
	"conductor/internal/models"
	"conductor/internal/retry"
)

// Options configures one scheduler run.
type Options struct {
	// Concurrency is the hard cap on simultaneously executing tasks.
	Concurrency int
	// PriorityOrder is the static ranking of priority classes; tasks whose
	// class is absent sort last.
	PriorityOrder []string
	// Resolve, when set, is a pre-flight check for each task's external
	// references. A task that fails to resolve is recorded as a failed
	// outcome without invoking the executor.
	Resolve func(models.TaskInput) error
}

// Scheduler runs a list of tasks through a bounded worker pool, mediating
// every executor call through the shared retry/rate-limit path.
type Scheduler struct {
	retrier *retry.Executor
}

// New creates a Scheduler around the given retry executor. A nil retrier
// gets the default policy with no rate limiting.
func New(retrier *retry.Executor) *Scheduler {
	if retrier == nil {
		retrier = retry.New(nil)
	}
	return &Scheduler{retrier: retrier}
}

// Prepare sorts tasks by priority class and collapses duplicate dedup keys,
// keeping the first occurrence. The sort is stable, so submission order is
// deterministic for a given input.
func Prepare(tasks []models.TaskInput, priorityOrder []string) []models.TaskInput {
	rank := make(map[string]int, len(priorityOrder))
	for i, class := range priorityOrder {
		rank[class] = i
	}
	rankOf := func(t models.TaskInput) int {
		if r, ok := rank[t.Priority]; ok {
			return r
		}
		return len(priorityOrder) // unknown classes sort last
	}

	ordered := make([]models.TaskInput, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rankOf(ordered[i]) < rankOf(ordered[j])
	})

	seen := make(map[string]bool, len(ordered))
	deduped := make([]models.TaskInput, 0, len(ordered))
	for _, t := range ordered {
		if seen[t.Key()] {
			log.Debugf("dropping duplicate task %s (dedup key %s)", t.ID, t.Key())
			continue
		}
		seen[t.Key()] = true
		deduped = append(deduped, t)
	}
	return deduped
}

// Run executes tasks through a pool of exactly opts.Concurrency workers and
// streams outcomes in completion order. The channel is closed once every task
// has been accounted for. Cancelling ctx stops admission of pending tasks
// (they are reported as failed outcomes); in-flight tasks run to completion,
// so the channel still drains to exactly one outcome per task.
func (s *Scheduler) Run(ctx context.Context, tasks []models.TaskInput, exec executor.TaskExecutor, opts Options) <-chan models.TaskOutcome {
	tasks = Prepare(tasks, opts.PriorityOrder)

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(tasks) && len(tasks) > 0 {
		concurrency = len(tasks)
	}

	queue := make(chan models.TaskInput)
	outcomes := make(chan models.TaskOutcome, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				outcomes <- s.runOne(ctx, task, exec, opts)
			}
		}()
	}

	go func() {
		next := 0
	feed:
		for ; next < len(tasks); next++ {
			select {
			case queue <- tasks[next]:
			case <-ctx.Done():
				break feed
			}
		}
		close(queue)
		// Account for tasks never admitted after cancellation. The outcome
		// channel is buffered to len(tasks), so this cannot block.
		for ; next < len(tasks); next++ {
			outcomes <- models.TaskOutcome{
				Input: tasks[next],
				Error: fmt.Sprintf("cancelled before execution: %v", ctx.Err()),
			}
		}
		wg.Wait()
		close(outcomes)
	}()

	return outcomes
}

// runOne executes a single task, converting panics and unexpected errors into
// a failed outcome so one bad task never takes down the pool.
func (s *Scheduler) runOne(ctx context.Context, task models.TaskInput, exec executor.TaskExecutor, opts Options) (out models.TaskOutcome) {
	out = models.TaskOutcome{Input: task}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("task %s panicked: %v", task.ID, r)
			out.Success = false
			out.Payload = nil
			out.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if opts.Resolve != nil {
		if err := opts.Resolve(task); err != nil {
			out.Error = fmt.Sprintf("skipped: %v", err)
			return out
		}
	}

	payload, retries, err := s.retrier.Do(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return exec.Execute(ctx, task)
	})
	out.Retries = retries
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Success = true
	out.Payload = payload
	return out
}
