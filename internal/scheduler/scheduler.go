package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/store"
	"go.uber.org/zap"
)

// Policy decides what happens when a job is registered under a name that
// already exists.
type Policy string

const (
	// Keep leaves the existing job untouched.
	Keep Policy = "KEEP"
	// Update replaces the existing job definition in place.
	Update Policy = "UPDATE"
)

// ParsePolicy parses a policy name, case-insensitively. Empty means Keep.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(Keep):
		return Keep, nil
	case string(Update):
		return Update, nil
	default:
		return "", fmt.Errorf("unknown schedule policy %q", s)
	}
}

// Constraints gate a periodic run on device conditions.
type Constraints struct {
	RequireUnmetered bool
	RequireCharging  bool
}

// Conditions reports the current device conditions.
type Conditions interface {
	Unmetered() bool
	Charging() bool
}

// StaticConditions is a fixed set of device conditions.
type StaticConditions struct {
	OnUnmetered bool
	OnCharging  bool
}

func (c StaticConditions) Unmetered() bool { return c.OnUnmetered }
func (c StaticConditions) Charging() bool  { return c.OnCharging }

// Unmet returns the first unsatisfied constraint, or "".
func (c Constraints) Unmet(cond Conditions) string {
	if c.RequireUnmetered && !cond.Unmetered() {
		return "unmetered network required"
	}
	if c.RequireCharging && !cond.Charging() {
		return "charging required"
	}
	return ""
}

// JobSpec describes a periodic job.
type JobSpec struct {
	Name        string
	Interval    time.Duration
	Constraints Constraints
}

// JobStore persists job definitions.
type JobStore interface {
	UpsertJob(ctx context.Context, j store.Job, replace bool) (store.Job, bool, error)
	ListJobs(ctx context.Context) ([]store.Job, error)
}

// Runner performs one sync attempt.
type Runner interface {
	RunOnce(ctx context.Context, opts RunOptions) Result
}

// JobRegistered is the payload of bus.KindJobRegistered.
type JobRegistered struct {
	Job     store.Job
	Changed bool
}

// RunDeferred is the payload of bus.KindRunDeferred.
type RunDeferred struct {
	Job    string
	Reason string
}

// JobStatus describes a registered job and its next due time.
type JobStatus struct {
	Job      store.Job
	Next     time.Time
	Failures int
	Deferred string
}

// Options tunes the scheduler loop. Zero values use defaults.
type Options struct {
	IncludeCalls   bool
	Tick           time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

const (
	defaultTick           = time.Second
	defaultInitialBackoff = 30 * time.Second
	defaultMaxBackoff     = 5 * time.Hour
)

type entry struct {
	job      store.Job
	next     time.Time
	backoff  backoff.BackOff
	failures int
	deferred string
}

// Scheduler runs registered jobs on their interval, defers them while
// constraints are unmet and backs off exponentially after failures.
type Scheduler struct {
	jobs   JobStore
	runner Runner
	cond   Conditions
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. nil cond means every constraint is satisfied.
func New(jobs JobStore, runner Runner, cond Conditions, b *bus.Bus, logger *zap.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cond == nil {
		cond = StaticConditions{OnUnmetered: true, OnCharging: true}
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	return &Scheduler{
		jobs:    jobs,
		runner:  runner,
		cond:    cond,
		bus:     b,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Register persists spec under policy and schedules it. A new or replaced
// job is due immediately; a kept job keeps its current schedule.
func (s *Scheduler) Register(ctx context.Context, spec JobSpec, policy Policy) (store.Job, bool, error) {
	if spec.Name == "" {
		return store.Job{}, false, errors.New("job name is required")
	}
	if spec.Interval <= 0 {
		return store.Job{}, false, fmt.Errorf("job %s: interval must be positive", spec.Name)
	}
	if policy != Keep && policy != Update {
		return store.Job{}, false, fmt.Errorf("unknown schedule policy %q", policy)
	}

	job, changed, err := s.jobs.UpsertJob(ctx, store.Job{
		Name:             spec.Name,
		Interval:         spec.Interval,
		RequireUnmetered: spec.Constraints.RequireUnmetered,
		RequireCharging:  spec.Constraints.RequireCharging,
	}, policy == Update)
	if err != nil {
		return store.Job{}, false, err
	}

	s.mu.Lock()
	if _, ok := s.entries[job.Name]; !ok || changed {
		s.entries[job.Name] = s.newEntry(job, s.now())
	}
	s.mu.Unlock()

	s.logger.Info("job registered",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval),
		zap.String("policy", string(policy)),
		zap.Bool("changed", changed),
	)
	s.bus.Emit(bus.KindJobRegistered, JobRegistered{Job: job, Changed: changed})
	return job, changed, nil
}

// Load schedules every persisted job that is not registered yet.
func (s *Scheduler) Load(ctx context.Context) error {
	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		if _, ok := s.entries[j.Name]; !ok {
			s.entries[j.Name] = s.newEntry(j, now)
		}
	}
	return nil
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Trigger runs the default job now, outside its schedule. Constraints do
// not apply to on-demand runs.
func (s *Scheduler) Trigger(ctx context.Context, opts RunOptions) Result {
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	return s.runner.RunOnce(ctx, opts)
}

// Jobs returns the registered jobs ordered by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, JobStatus{Job: e.job, Next: e.next, Failures: e.failures, Deferred: e.deferred})
	}
	slices.SortFunc(out, func(a, b JobStatus) int {
		return strings.Compare(a.Job.Name, b.Job.Name)
	})
	return out
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runDue(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runDue runs every job whose next time has passed.
func (s *Scheduler) runDue(ctx context.Context) {
	for _, name := range s.due() {
		if ctx.Err() != nil {
			return
		}
		s.runJob(ctx, name)
	}
}

func (s *Scheduler) due() []string {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, e := range s.entries {
		if !now.Before(e.next) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (s *Scheduler) runJob(ctx context.Context, name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	job := e.job
	reason := Constraints{RequireUnmetered: job.RequireUnmetered, RequireCharging: job.RequireCharging}.Unmet(s.cond)
	if reason != "" {
		first := e.deferred == ""
		e.deferred = reason
		s.mu.Unlock()
		if first {
			s.logger.Info("run deferred", zap.String("job", name), zap.String("reason", reason))
			s.bus.Emit(bus.KindRunDeferred, RunDeferred{Job: name, Reason: reason})
		}
		return
	}
	e.deferred = ""
	s.mu.Unlock()

	res := s.runner.RunOnce(ctx, RunOptions{Job: name, Trigger: TriggerPeriodic, IncludeCalls: s.opts.IncludeCalls})

	s.mu.Lock()
	defer s.mu.Unlock()
	// The job may have been replaced while running.
	if cur, ok := s.entries[name]; !ok || cur != e {
		return
	}
	now := s.now()
	if res.Success {
		e.failures = 0
		e.backoff.Reset()
		e.next = now.Add(job.Interval)
		return
	}
	e.failures++
	wait := e.backoff.NextBackOff()
	if wait == backoff.Stop {
		wait = job.Interval
	}
	e.next = now.Add(wait)
	s.logger.Warn("run failed, retry scheduled",
		zap.String("job", name),
		zap.Int("failures", e.failures),
		zap.Duration("backoff", wait),
	)
}

func (s *Scheduler) newEntry(job store.Job, now time.Time) *entry {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return &entry{job: job, next: now, backoff: b}
}
