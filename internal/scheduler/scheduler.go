// Package scheduler drives the periodic lifecycle work of every community:
// expiry sweeps, roster refreshes and reconciliation passes.
//
// Each community has one token per task kind. A run requested while the same
// kind is already running for that community is folded into a single pending
// re-run. Different kinds run concurrently, bounded by a shared worker pool.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/party-roster/internal/logging"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// TaskKind identifies one of the periodic jobs.
type TaskKind string

const (
	TaskSweep     TaskKind = "sweep"
	TaskRefresh   TaskKind = "refresh"
	TaskReconcile TaskKind = "reconcile"
)

var taskKinds = []TaskKind{TaskSweep, TaskRefresh, TaskReconcile}

// ParseTaskKind converts a task name into a TaskKind.
func ParseTaskKind(name string) (TaskKind, bool) {
	kind := TaskKind(name)
	return kind, slices.Contains(taskKinds, kind)
}

// State is the lifecycle state of a community.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

var (
	// ErrNotRunning is returned when sweep or refresh is requested for a community
	// whose initial reconciliation has not made progress yet.
	ErrNotRunning = errors.New("scheduler: community is not running")
	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("scheduler: stopped")
	// ErrUnknownCommunity is returned for communities that were never added.
	ErrUnknownCommunity = errors.New("scheduler: unknown community")
	// ErrUnknownTask is returned for task kinds the scheduler does not run.
	ErrUnknownTask = errors.New("scheduler: unknown task")
)

// Jobs is the work the scheduler runs for a community.
type Jobs interface {
	SweepExpired(ctx context.Context, communityID string) (int, error)
	RefreshRoster(ctx context.Context, communityID string) error
	Reconcile(ctx context.Context, communityID string) (int, error)
}

// Config holds the tick intervals and the size of the worker pool.
type Config struct {
	SweepInterval     time.Duration
	RefreshInterval   time.Duration
	ReconcileInterval time.Duration
	TaskTimeout       time.Duration
	Workers           int
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		SweepInterval:     5 * time.Minute,
		RefreshInterval:   10 * time.Minute,
		ReconcileInterval: 30 * time.Minute,
		TaskTimeout:       2 * time.Minute,
		Workers:           4,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = def.ReconcileInterval
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	return c
}

func (c Config) interval(kind TaskKind) time.Duration {
	switch kind {
	case TaskSweep:
		return c.SweepInterval
	case TaskRefresh:
		return c.RefreshInterval
	default:
		return c.ReconcileInterval
	}
}

// TaskStatus describes the most recent run of one task kind.
type TaskStatus struct {
	Kind         TaskKind
	Runs         int
	Running      bool
	Pending      bool
	LastRun      time.Time
	LastDuration time.Duration
	LastError    string
}

// CommunityStatus is a point-in-time view of a community's scheduling state.
type CommunityStatus struct {
	ID    string
	State State
	Tasks []TaskStatus
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPromRegistry registers the scheduler metrics with registry.
func WithPromRegistry(registry prometheus.Registerer) Option {
	return func(s *Scheduler) {
		s.registry = registry
	}
}

// WithTicker replaces the ticker factory.
func WithTicker(newTicker TickerFunc) Option {
	return func(s *Scheduler) {
		if newTicker != nil {
			s.newTicker = newTicker
		}
	}
}

// WithRunID replaces the run identifier generator.
func WithRunID(runID func() string) Option {
	return func(s *Scheduler) {
		if runID != nil {
			s.runID = runID
		}
	}
}

// WithClock sets the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler runs the lifecycle jobs of every registered community.
type Scheduler struct {
	jobs      Jobs
	cfg       Config
	logger    *slog.Logger
	registry  prometheus.Registerer
	metrics   *schedulerMetrics
	newTicker TickerFunc
	runID     func() string
	now       func() time.Time
	pool      *semaphore.Weighted
	baseCtx   context.Context

	mu          sync.Mutex
	communities map[string]*community
	stopped     atomic.Bool
	wg          sync.WaitGroup
}

type community struct {
	id    string
	state State
	stop  chan struct{}
	slots map[TaskKind]*slot
}

func (c *community) closed() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

type slot struct {
	mu      sync.Mutex
	running bool
	pending bool
	waiters []chan error
	status  TaskStatus
}

// New builds a scheduler. Zero fields of cfg take their defaults.
func New(jobs Jobs, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:        jobs,
		cfg:         cfg.withDefaults(),
		logger:      slog.Default(),
		newTicker:   newTimeTicker,
		runID:       uuid.NewString,
		now:         time.Now,
		baseCtx:     context.Background(),
		communities: make(map[string]*community),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newSchedulerMetrics(s.registry)
	s.pool = semaphore.NewWeighted(int64(s.cfg.Workers))
	return s
}

// Start adds every community concurrently and returns once each has had its
// initial reconciliation attempt.
func (s *Scheduler) Start(ctx context.Context, communityIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range communityIDs {
		g.Go(func() error {
			return s.AddCommunity(gctx, id)
		})
	}
	return g.Wait()
}

// AddCommunity registers a community and runs its initial reconciliation.
// A community whose first pass makes no progress stays stopped and is retried
// on every reconcile tick. Adding a known community is a no-op.
func (s *Scheduler) AddCommunity(ctx context.Context, communityID string) error {
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, ok := s.communities[communityID]; ok {
		s.mu.Unlock()
		return nil
	}
	c := &community{
		id:    communityID,
		state: StateStopped,
		stop:  make(chan struct{}),
		slots: make(map[TaskKind]*slot, len(taskKinds)),
	}
	for _, kind := range taskKinds {
		c.slots[kind] = &slot{status: TaskStatus{Kind: kind}}
	}
	s.communities[communityID] = c
	s.metrics.communities.WithLabelValues(string(StateStopped)).Inc()
	s.startTickerLocked(c, TaskReconcile)
	s.mu.Unlock()

	err := s.RunNow(ctx, communityID, TaskReconcile)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStopped), ctx.Err() != nil:
		return err
	default:
		s.logger.WarnContext(ctx, "initial reconciliation made no progress, retrying on the next tick",
			"community_id", communityID, "error", err)
		return nil
	}
}

// RemoveCommunity stops scheduling a community. In-flight runs finish.
func (s *Scheduler) RemoveCommunity(communityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.communities[communityID]
	if !ok {
		return ErrUnknownCommunity
	}
	delete(s.communities, communityID)
	if !c.closed() {
		close(c.stop)
	}
	s.metrics.communities.WithLabelValues(string(c.state)).Dec()
	return nil
}

// Trigger schedules a run of kind for a community without waiting for it.
func (s *Scheduler) Trigger(communityID string, kind TaskKind) error {
	return s.dispatch(communityID, kind, nil)
}

// RunNow schedules a run of kind and waits for it to finish. When a run of the
// same kind is in progress, RunNow waits for the re-run that follows it.
func (s *Scheduler) RunNow(ctx context.Context, communityID string, kind TaskKind) error {
	done := make(chan error, 1)
	if err := s.dispatch(communityID, kind, done); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the state of a community.
func (s *Scheduler) State(communityID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.communities[communityID]
	if !ok {
		return "", ErrUnknownCommunity
	}
	return c.state, nil
}

// Status returns the state and last run of every task of a community.
func (s *Scheduler) Status(communityID string) (CommunityStatus, error) {
	s.mu.Lock()
	c, ok := s.communities[communityID]
	if !ok {
		s.mu.Unlock()
		return CommunityStatus{}, ErrUnknownCommunity
	}
	status := CommunityStatus{ID: c.id, State: c.state}
	s.mu.Unlock()

	for _, kind := range taskKinds {
		sl := c.slots[kind]
		sl.mu.Lock()
		task := sl.status
		task.Running = sl.running
		task.Pending = sl.pending
		sl.mu.Unlock()
		status.Tasks = append(status.Tasks, task)
	}
	return status, nil
}

// Communities lists the registered communities in sorted order.
func (s *Scheduler) Communities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.communities))
	for id := range s.communities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Stop prevents new runs and waits for in-flight runs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped.Swap(true) {
		for _, c := range s.communities {
			if !c.closed() {
				close(c.stop)
			}
			if c.state == StateRunning {
				s.metrics.communities.WithLabelValues(string(StateRunning)).Dec()
				s.metrics.communities.WithLabelValues(string(StateStopped)).Inc()
			}
			c.state = StateStopped
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) dispatch(communityID string, kind TaskKind, done chan error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return ErrStopped
	}
	c, ok := s.communities[communityID]
	if !ok {
		return ErrUnknownCommunity
	}
	sl, ok := c.slots[kind]
	if !ok {
		return ErrUnknownTask
	}
	if kind != TaskReconcile && c.state != StateRunning {
		return ErrNotRunning
	}

	sl.mu.Lock()
	if sl.running {
		sl.pending = true
		if done != nil {
			sl.waiters = append(sl.waiters, done)
		}
		sl.mu.Unlock()
		s.metrics.coalesced.WithLabelValues(string(kind)).Inc()
		return nil
	}
	sl.running = true
	sl.mu.Unlock()

	var waiters []chan error
	if done != nil {
		waiters = append(waiters, done)
	}
	s.wg.Add(1)
	go s.drain(c, kind, sl, waiters)
	return nil
}

// drain holds the token of one task kind until no re-run is pending.
func (s *Scheduler) drain(c *community, kind TaskKind, sl *slot, waiters []chan error) {
	defer s.wg.Done()
	for {
		err := s.execute(c, kind, sl)
		for _, w := range waiters {
			w <- err
		}

		sl.mu.Lock()
		if !sl.pending {
			sl.running = false
			sl.mu.Unlock()
			return
		}
		sl.pending = false
		waiters = sl.waiters
		sl.waiters = nil
		if s.stopped.Load() || c.closed() {
			sl.running = false
			sl.mu.Unlock()
			for _, w := range waiters {
				w <- ErrStopped
			}
			return
		}
		sl.mu.Unlock()
	}
}

func (s *Scheduler) execute(c *community, kind TaskKind, sl *slot) (err error) {
	logger := s.logger.With("community_id", c.id, "task", string(kind), "run_id", s.runID())
	ctx, cancel := context.WithTimeout(logging.ContextWithLogger(s.baseCtx, logger), s.cfg.TaskTimeout)
	defer cancel()

	if err = s.pool.Acquire(ctx, 1); err != nil {
		logger.WarnContext(ctx, "no worker became available", "error", err)
		s.metrics.runs.WithLabelValues(string(kind), outcomeFailure).Inc()
		return err
	}

	startedAt := s.now()
	start := time.Now()
	var refreshAfter bool
	switch kind {
	case TaskSweep:
		var swept int
		swept, err = s.jobs.SweepExpired(ctx, c.id)
		refreshAfter = swept > 0
	case TaskRefresh:
		err = s.jobs.RefreshRoster(ctx, c.id)
	case TaskReconcile:
		var created int
		created, err = s.jobs.Reconcile(ctx, c.id)
		refreshAfter = created > 0
	}
	elapsed := time.Since(start)
	s.pool.Release(1)

	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
		logger.ErrorContext(ctx, "task failed", "error", err, "duration", elapsed)
	} else {
		logger.DebugContext(ctx, "task finished", "duration", elapsed)
	}
	s.metrics.runs.WithLabelValues(string(kind), outcome).Inc()
	s.metrics.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())

	sl.mu.Lock()
	sl.status.Runs++
	sl.status.LastRun = startedAt
	sl.status.LastDuration = elapsed
	sl.status.LastError = ""
	if err != nil {
		sl.status.LastError = err.Error()
	}
	sl.mu.Unlock()

	if kind == TaskReconcile && err == nil {
		s.markRunning(c)
	}
	if refreshAfter {
		s.followUp(c, TaskRefresh)
	}
	return err
}

func (s *Scheduler) markRunning(c *community) {
	s.mu.Lock()
	if c.state == StateRunning || s.stopped.Load() || c.closed() {
		s.mu.Unlock()
		return
	}
	c.state = StateRunning
	s.metrics.communities.WithLabelValues(string(StateStopped)).Dec()
	s.metrics.communities.WithLabelValues(string(StateRunning)).Inc()
	s.startTickerLocked(c, TaskSweep)
	s.startTickerLocked(c, TaskRefresh)
	s.mu.Unlock()

	s.logger.Info("community running", "community_id", c.id)
	s.followUp(c, TaskSweep)
	s.followUp(c, TaskRefresh)
}

func (s *Scheduler) followUp(c *community, kind TaskKind) {
	if err := s.dispatch(c.id, kind, nil); err != nil && !errors.Is(err, ErrStopped) {
		s.logger.Debug("follow-up not scheduled", "community_id", c.id, "task", string(kind), "error", err)
	}
}

func (s *Scheduler) startTickerLocked(c *community, kind TaskKind) {
	ticker := s.newTicker(s.cfg.interval(kind))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C():
				if err := s.dispatch(c.id, kind, nil); err != nil && !errors.Is(err, ErrStopped) {
					s.logger.Debug("tick dropped", "community_id", c.id, "task", string(kind), "error", err)
				}
			}
		}
	}()
}
