// Package scheduler runs configured SQL texts on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ==================== Job Scheduler ====================
// Executes SQL jobs based on CRON expressions (with a seconds field)

// DefaultTimeout bounds a single job run when the job sets none.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrJobRunning is returned when a run is requested while the previous
	// run of the same job has not finished.
	ErrJobRunning = errors.New("job already running")
	// ErrUnknownJob is returned for names that were never added.
	ErrUnknownJob = errors.New("unknown job")
)

// Executor runs one SQL text and reports how many result tables it produced.
type Executor interface {
	ExecuteSQL(ctx context.Context, sql string) (tables int, err error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, sql string) (int, error)

func (f ExecutorFunc) ExecuteSQL(ctx context.Context, sql string) (int, error) { return f(ctx, sql) }

// Job is a named SQL text with a cron schedule.
type Job struct {
	Name    string
	Cron    string
	SQL     string
	Timeout time.Duration
}

// Run describes one execution of a job.
type Run struct {
	ID       uuid.UUID
	Job      string
	Start    time.Time
	Duration time.Duration
	Tables   int
	Err      error
}

type entry struct {
	job    Job
	id     cron.EntryID
	last   *Run
	cancel context.CancelFunc // set while running
}

// Scheduler manages scheduled job execution.
type Scheduler struct {
	cron     *cron.Cron
	parser   cron.Parser
	executor Executor
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*entry
}

// New creates a scheduler. Schedules are evaluated in loc; nil means UTC.
func New(executor Executor, logger *slog.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		parser:   cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		executor: executor,
		logger:   logger,
		jobs:     make(map[string]*entry),
	}
}

// Add registers a job. It starts firing once Start has been called.
func (s *Scheduler) Add(job Job) error {
	if job.Cron == "" {
		return fmt.Errorf("CRON expression empty for job %q", job.Name)
	}
	if _, err := s.parser.Parse(job.Cron); err != nil {
		return fmt.Errorf("invalid CRON expression %q: %w", job.Cron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %q already scheduled", job.Name)
	}
	name := job.Name
	id, err := s.cron.AddFunc(job.Cron, func() {
		if _, err := s.RunNow(context.Background(), name); err != nil && !errors.Is(err, ErrJobRunning) {
			s.logger.Debug("scheduled run failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.jobs[name] = &entry{job: job, id: id}
	return nil
}

// Remove unregisters a job and cancels its current run, if any.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	s.cron.Remove(e.id)
	if e.cancel != nil {
		e.cancel()
	}
	delete(s.jobs, name)
	return nil
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("job scheduler started", "jobs", len(s.Jobs()))
}

// Stop halts the scheduler, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.mu.Lock()
	for name, e := range s.jobs {
		if e.cancel != nil {
			s.logger.Info("canceling running job", "job", name)
			e.cancel()
		}
	}
	s.mu.Unlock()
	<-ctx.Done()
	s.logger.Info("job scheduler stopped")
}

// RunNow executes the named job synchronously. Overlapping runs of the same
// job are refused with ErrJobRunning.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Run, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return Run{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if e.cancel != nil {
		s.mu.Unlock()
		s.logger.Warn("job already running, skipping", "job", name)
		return Run{}, fmt.Errorf("%w: %q", ErrJobRunning, name)
	}
	timeout := e.job.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	e.cancel = cancel
	sql := e.job.SQL
	s.mu.Unlock()

	run := Run{ID: uuid.New(), Job: name, Start: time.Now()}
	log := s.logger.With("job", name, "run", run.ID)
	log.Info("executing job")
	run.Tables, run.Err = s.executor.ExecuteSQL(ctx, sql)
	run.Duration = time.Since(run.Start)
	cancel()

	s.mu.Lock()
	e.cancel = nil
	e.last = &run
	s.mu.Unlock()

	if run.Err != nil {
		log.Error("job failed", "error", run.Err, "duration", run.Duration)
	} else {
		log.Info("job completed", "tables", run.Tables, "duration", run.Duration)
	}
	return run, run.Err
}

// Last returns the most recent run of the named job.
func (s *Scheduler) Last(name string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok || e.last == nil {
		return Run{}, false
	}
	return *e.last, true
}

// Next returns the next scheduled time of the named job. It is zero before
// Start.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

// Jobs returns the registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
