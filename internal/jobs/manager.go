package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"conductor/internal/executor"
	"conductor/internal/models"
	"conductor/internal/scheduler"
	"conductor/internal/store"
)

// ApplyFunc is the domain-specific step run once, single-threaded, over the
// successful outcomes after a run has fully drained. Opaque to the core.
type ApplyFunc func(ctx context.Context, successes []models.TaskOutcome) error

// Options configures one job submission.
type Options struct {
	Concurrency   int
	PriorityOrder []string
	Resolve       func(models.TaskInput) error
	Apply         ApplyFunc
}

// Manager owns job lifecycle: registration, status transitions and counters.
// It is the single writer for every Job; the scheduler only reports outcomes
// back over a channel. Job history lives in memory and is lost on process
// restart; only the persisted batch records survive.
type Manager struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*models.Job
	sched *scheduler.Scheduler
	store store.BatchStore
	wg    sync.WaitGroup
}

// NewManager creates a Manager running jobs through sched and persisting
// finished batches to batchStore. A nil batchStore disables persistence.
func NewManager(sched *scheduler.Scheduler, batchStore store.BatchStore) *Manager {
	return &Manager{
		jobs:  make(map[uuid.UUID]*models.Job),
		sched: sched,
		store: batchStore,
	}
}

// Submit registers a new job and launches the scheduler run in the
// background, returning as soon as the job is registered. The run continues
// on the supplied context; cancel it for orderly shutdown.
//
// A nil executor is job-fatal: the job is registered with status failed so
// callers polling Status see why nothing ran, and the error is also returned.
func (m *Manager) Submit(ctx context.Context, tasks []models.TaskInput, exec executor.TaskExecutor, opts Options) (uuid.UUID, error) {
	if len(tasks) == 0 {
		return uuid.Nil, models.ErrNoTasks
	}

	prepared := scheduler.Prepare(tasks, opts.PriorityOrder)
	job := &models.Job{
		ID:     uuid.New(),
		Status: models.JobStatusCreated,
		Total:  len(prepared),
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if exec == nil {
		now := time.Now()
		m.update(job.ID, func(j *models.Job) {
			j.Status = models.JobStatusFailed
			j.InitError = models.ErrExecutorMissing.Error()
			j.CompletedAt = &now
		})
		log.Errorf("Job %s failed before start: %v", job.ID, models.ErrExecutorMissing)
		return job.ID, models.ErrExecutorMissing
	}

	log.Infof("Job %s submitted: %d tasks (%d after dedup), concurrency %d",
		job.ID, len(tasks), len(prepared), opts.Concurrency)

	m.wg.Add(1)
	go m.run(ctx, job.ID, prepared, exec, opts)
	return job.ID, nil
}

// Status returns a non-blocking snapshot of the job; safe to poll repeatedly
// and reflects partial progress while the job is running.
func (m *Manager) Status(id uuid.UUID) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return job.Snapshot(), nil
}

// RetryFailed loads the failed outcomes of the latest persisted batch and
// resubmits their original inputs as a fresh job. The superseded record's
// identifier is returned alongside the new job ID.
func (m *Manager) RetryFailed(ctx context.Context, exec executor.TaskExecutor, opts Options) (uuid.UUID, string, error) {
	if m.store == nil {
		return uuid.Nil, "", fmt.Errorf("no batch store configured")
	}
	failed, recordID, err := m.store.LoadFailedFromLatest(ctx)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("load failed outcomes: %w", err)
	}
	if len(failed) == 0 {
		return uuid.Nil, recordID, fmt.Errorf("batch %s: %w", recordID, models.ErrNoTasks)
	}

	tasks := make([]models.TaskInput, 0, len(failed))
	for _, o := range failed {
		tasks = append(tasks, o.Input)
	}
	log.Infof("Retrying %d failed tasks from batch %s", len(tasks), recordID)
	id, err := m.Submit(ctx, tasks, exec, opts)
	return id, recordID, err
}

// RetryJob resubmits the failed outcomes of a terminal in-memory job.
func (m *Manager) RetryJob(ctx context.Context, jobID uuid.UUID, exec executor.TaskExecutor, opts Options) (uuid.UUID, error) {
	job, err := m.Status(jobID)
	if err != nil {
		return uuid.Nil, err
	}
	if !job.Terminal() {
		return uuid.Nil, fmt.Errorf("job %s is still %s: %w", jobID, job.Status, models.ErrJobNotTerminal)
	}

	var tasks []models.TaskInput
	for _, o := range job.Results {
		if !o.Success {
			tasks = append(tasks, o.Input)
		}
	}
	if len(tasks) == 0 {
		return uuid.Nil, fmt.Errorf("job %s: %w", jobID, models.ErrNoTasks)
	}
	return m.Submit(ctx, tasks, exec, opts)
}

// Wait blocks until every background run launched so far has finished.
// Used for graceful shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// run drives one job to a terminal state. It is the only goroutine that
// mutates the job while it is running, so outcome arrival from concurrent
// workers is serialized here.
func (m *Manager) run(ctx context.Context, id uuid.UUID, tasks []models.TaskInput, exec executor.TaskExecutor, opts Options) {
	defer m.wg.Done()

	started := time.Now()
	m.update(id, func(j *models.Job) {
		j.Status = models.JobStatusRunning
		j.StartedAt = &started
	})

	outcomes := m.sched.Run(ctx, tasks, exec, scheduler.Options{
		Concurrency: opts.Concurrency,
		Resolve:     opts.Resolve,
	})

	all := make([]models.TaskOutcome, 0, len(tasks))
	for out := range outcomes {
		all = append(all, out)
		m.update(id, func(j *models.Job) {
			j.Completed++
			if out.Success {
				j.Succeeded++
			} else {
				j.Failed++
			}
			j.Results = append(j.Results, out)
		})
	}

	if opts.Apply != nil {
		var successes []models.TaskOutcome
		for _, o := range all {
			if o.Success {
				successes = append(successes, o)
			}
		}
		if err := opts.Apply(ctx, successes); err != nil {
			log.Errorf("Apply step failed for job %s: %v", id, err)
			m.update(id, func(j *models.Job) {
				j.ApplyError = err.Error()
			})
		}
	}

	if m.store != nil {
		recordID, err := m.store.Save(ctx, all)
		if err != nil {
			// A batch of all-successful tasks with a failed save must still
			// report the save failure, not swallow it.
			log.Errorf("Failed to persist batch for job %s: %v", id, err)
			m.update(id, func(j *models.Job) {
				j.SaveError = err.Error()
			})
		} else {
			m.update(id, func(j *models.Job) {
				j.RecordID = recordID
			})
		}
	}

	done := time.Now()
	m.update(id, func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.CompletedAt = &done
	})

	final, _ := m.Status(id)
	log.Infof("Job %s completed: %d/%d succeeded, %d failed (%.1fs)",
		id, final.Succeeded, final.Total, final.Failed, done.Sub(started).Seconds())
}

func (m *Manager) update(id uuid.UUID, fn func(*models.Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}
