package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/providers"
	"github.com/dohr-michael/fintellix/internal/subjects"
)

// DefaultWorkers sizes the pool when Config.Workers is not set.
const DefaultWorkers = 4

// ErrStopped is the failure recorded for tasks still queued at Stop.
var ErrStopped = errors.New("scheduler stopped before the job started")

// Runner executes one task. It may block for as long as the backend needs.
type Runner interface {
	Run(ctx context.Context, t Task) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, t Task) (string, error)

func (f RunnerFunc) Run(ctx context.Context, t Task) (string, error) { return f(ctx, t) }

// Config holds configuration for building a Scheduler.
type Config struct {
	Workers    int
	Runner     Runner
	Bus        *events.Bus  // optional
	OnComplete func(Result) // optional, called from the worker goroutine
}

// slot is the per-subject state: the live task until it finishes, then the
// result until it is drained.
type slot struct {
	task   *Task
	result *Result
}

// Scheduler owns in-flight tasks. Every method except Stop is non-blocking.
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	slots   map[subjects.Key]*slot
	queue   []*Task // pending, FIFO
	running int
	started bool
	stopped bool

	scheduleCh chan struct{} // wake-up signal for the schedule loop
	stopCh     chan struct{}
	loopDone   chan struct{}
	workers    sync.WaitGroup
}

// NewScheduler creates a Scheduler. Call Start before jobs can run.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Scheduler{
		cfg:        cfg,
		slots:      make(map[subjects.Key]*slot),
		scheduleCh: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
}

// Start launches the schedule loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.scheduleLoop()
	slog.Info("task scheduler started", "workers", s.cfg.Workers)
}

// Stop prevents new work from starting and waits for running jobs to finish.
// Running jobs are not cancelled. Jobs still queued fail with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	close(s.stopCh)
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	if started {
		<-s.loopDone
	}
	s.workers.Wait()

	for _, t := range queued {
		s.finish(t, "", ErrStopped)
	}
	slog.Info("task scheduler stopped", "abandoned", len(queued))
}

// Submit queues an analysis job for subject. It returns accepted=false when
// the subject already has a job pending, running or waiting to be drained.
func (s *Scheduler) Submit(subject subjects.Key, query string, sel providers.Selection) (string, bool) {
	return s.SubmitJob(subject, Job{Kind: KindAnalysis, Query: query, Selection: sel})
}

// SubmitJob queues job for subject under the same one-per-subject rule as
// Submit.
func (s *Scheduler) SubmitJob(subject subjects.Key, job Job) (string, bool) {
	if job.Kind == "" {
		job.Kind = KindAnalysis
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		slog.Warn("submit after scheduler stop", "subject", subject)
		return "", false
	}
	if existing, ok := s.slots[subject]; ok {
		s.mu.Unlock()
		slog.Debug("scheduling conflict: subject busy",
			"subject", subject, "task_id", existing.task.ID, "state", existing.state())
		return "", false
	}

	t := &Task{
		ID:          GenerateTaskID(),
		Subject:     subject,
		Kind:        job.Kind,
		Query:       job.Query,
		Competitors: append([]string(nil), job.Competitors...),
		Selection:   job.Selection,
		State:       StatePending,
		CreatedAt:   time.Now(),
	}
	s.slots[subject] = &slot{task: t}
	s.queue = append(s.queue, t)
	s.mu.Unlock()

	s.cfg.Bus.Publish(events.NewSubjectEvent(events.SourceScheduler, string(subject), events.TaskCreatedPayload{
		TaskID:   t.ID,
		Kind:     string(t.Kind),
		Provider: t.Selection.Provider,
		Model:    t.Selection.Model,
	}))
	slog.Debug("task submitted", "subject", subject, "task_id", t.ID, "kind", t.Kind)

	s.wakeScheduler()
	return t.ID, true
}

// Poll reports the subject's state without blocking. A job waiting for a
// free worker reports Running: from the subject's side it is in flight.
// Active keeps the Pending distinction.
func (s *Scheduler) Poll(subject subjects.Key) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[subject]
	if !ok {
		return Status{Subject: subject, State: StateIdle}
	}
	st := sl.status(subject)
	if st.State == StatePending {
		st.State = StateRunning
	}
	return st
}

// Drain returns the terminal result for subject and resets it to Idle. A
// result is handed out exactly once.
func (s *Scheduler) Drain(subject subjects.Key) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[subject]
	if !ok || sl.result == nil {
		return Result{}, false
	}
	delete(s.slots, subject)
	return *sl.result, true
}

// Active returns the status of every subject with outstanding work or an
// undrained result, ordered by subject.
func (s *Scheduler) Active() []Status {
	s.mu.Lock()
	out := make([]Status, 0, len(s.slots))
	for subject, sl := range s.slots {
		out = append(out, sl.status(subject))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// Terminal returns the subjects whose results are waiting to be drained.
func (s *Scheduler) Terminal() []subjects.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []subjects.Key
	for subject, sl := range s.slots {
		if sl.result != nil {
			out = append(out, subject)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (sl *slot) state() State {
	if sl.result != nil {
		return sl.result.State
	}
	return sl.task.State
}

func (sl *slot) status(subject subjects.Key) Status {
	st := Status{Subject: subject, State: sl.state(), TaskID: sl.task.ID}
	if sl.result != nil {
		r := *sl.result
		st.Result = &r
	}
	return st
}

// wakeScheduler sends a non-blocking signal to the schedule loop.
func (s *Scheduler) wakeScheduler() {
	select {
	case s.scheduleCh <- struct{}{}:
	default:
	}
}

// scheduleLoop is the main scheduler goroutine.
func (s *Scheduler) scheduleLoop() {
	defer close(s.loopDone)

	for {
		s.schedule()

		select {
		case <-s.stopCh:
			return
		case <-s.scheduleCh:
		}
	}
}

// schedule hands queued tasks to free workers, oldest first.
func (s *Scheduler) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.stopped && s.running < s.cfg.Workers && len(s.queue) > 0 {
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		t.State = StateRunning
		t.StartedAt = time.Now()
		s.running++
		s.startTask(*t)
	}
}

// startTask launches a goroutine to execute a task.
// Caller must hold s.mu.
func (s *Scheduler) startTask(t Task) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()

		s.cfg.Bus.Publish(events.NewSubjectEvent(events.SourceScheduler, string(t.Subject), events.TaskStartedPayload{
			TaskID: t.ID,
			Waited: t.StartedAt.Sub(t.CreatedAt),
		}))
		slog.Debug("task started", "subject", t.Subject, "task_id", t.ID)

		// Jobs are never cancelled once running; provider timeouts bound them.
		out, err := s.run(context.Background(), t)

		s.mu.Lock()
		s.running--
		s.mu.Unlock()

		s.finish(&t, out, err)
		s.wakeScheduler()
	}()
}

// run invokes the runner, converting a panic into an error.
func (s *Scheduler) run(ctx context.Context, t Task) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task worker panic", "subject", t.Subject, "task_id", t.ID,
				"panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	if s.cfg.Runner == nil {
		return "", errors.New("no runner configured")
	}
	return s.cfg.Runner.Run(ctx, t)
}

// finish records the terminal result in the subject's slot and reports it.
func (s *Scheduler) finish(t *Task, out string, runErr error) {
	res := Result{
		TaskID:      t.ID,
		Subject:     t.Subject,
		Kind:        t.Kind,
		Query:       t.Query,
		Selection:   t.Selection,
		State:       StateComplete,
		Response:    out,
		CreatedAt:   t.CreatedAt,
		CompletedAt: time.Now(),
	}
	if runErr != nil {
		res.State = StateFailed
		res.Response = ""
		res.Error = runErr.Error()
		if res.Error == "" {
			res.Error = "unknown error"
		}
	}

	s.mu.Lock()
	if sl, ok := s.slots[t.Subject]; ok && sl.task.ID == t.ID {
		sl.task.State = res.State
		r := res
		sl.result = &r
	}
	s.mu.Unlock()

	if res.Failed() {
		slog.Warn("task failed", "subject", t.Subject, "task_id", t.ID, "error", res.Error)
		s.cfg.Bus.Publish(events.NewSubjectEvent(events.SourceScheduler, string(t.Subject), events.TaskFailedPayload{
			TaskID:   t.ID,
			Duration: res.Duration(),
			Error:    res.Error,
		}))
	} else {
		slog.Info("task completed", "subject", t.Subject, "task_id", t.ID, "duration", res.Duration())
		s.cfg.Bus.Publish(events.NewSubjectEvent(events.SourceScheduler, string(t.Subject), events.TaskCompletedPayload{
			TaskID:   t.ID,
			Duration: res.Duration(),
			Length:   len(res.Response),
		}))
	}

	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete(res)
	}
}
