package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/party-roster/internal/testfixtures"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"
)

var testConfig = Config{
	SweepInterval:     time.Minute,
	RefreshInterval:   2 * time.Minute,
	ReconcileInterval: 3 * time.Minute,
	TaskTimeout:       5 * time.Second,
	Workers:           4,
}

type fakeJobs struct {
	mu           sync.Mutex
	calls        map[TaskKind]int
	gates        map[TaskKind]chan struct{}
	swept        int
	created      int
	reconcileErr error
	refreshErr   error
	running      int
	maxRunning   int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		calls: make(map[TaskKind]int),
		gates: make(map[TaskKind]chan struct{}),
	}
}

// hold makes runs of kind block until release is called.
func (j *fakeJobs) hold(kind TaskKind) {
	j.mu.Lock()
	j.gates[kind] = make(chan struct{})
	j.mu.Unlock()
}

func (j *fakeJobs) release(kind TaskKind) {
	j.mu.Lock()
	gate := j.gates[kind]
	delete(j.gates, kind)
	j.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (j *fakeJobs) releaseAll() {
	for _, kind := range taskKinds {
		j.release(kind)
	}
}

func (j *fakeJobs) count(kind TaskKind) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls[kind]
}

func (j *fakeJobs) set(fn func(j *fakeJobs)) {
	j.mu.Lock()
	fn(j)
	j.mu.Unlock()
}

func (j *fakeJobs) run(ctx context.Context, kind TaskKind) {
	j.mu.Lock()
	j.calls[kind]++
	j.running++
	if j.running > j.maxRunning {
		j.maxRunning = j.running
	}
	gate := j.gates[kind]
	j.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	j.mu.Lock()
	j.running--
	j.mu.Unlock()
}

func (j *fakeJobs) SweepExpired(ctx context.Context, communityID string) (int, error) {
	j.run(ctx, TaskSweep)
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.swept, nil
}

func (j *fakeJobs) RefreshRoster(ctx context.Context, communityID string) error {
	j.run(ctx, TaskRefresh)
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.refreshErr
}

func (j *fakeJobs) Reconcile(ctx context.Context, communityID string) (int, error) {
	j.run(ctx, TaskReconcile)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.reconcileErr != nil {
		return 0, j.reconcileErr
	}
	return j.created, nil
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {}

type fakeTickers struct {
	mu      sync.Mutex
	tickers map[time.Duration][]*fakeTicker
}

func newFakeTickers() *fakeTickers {
	return &fakeTickers{tickers: make(map[time.Duration][]*fakeTicker)}
}

func (f *fakeTickers) New(interval time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	f.tickers[interval] = append(f.tickers[interval], t)
	return t
}

func (f *fakeTickers) fire(interval time.Duration) {
	f.mu.Lock()
	tickers := append([]*fakeTicker(nil), f.tickers[interval]...)
	f.mu.Unlock()
	for _, t := range tickers {
		t.ch <- time.Time{}
	}
}

type harness struct {
	jobs     *fakeJobs
	tickers  *fakeTickers
	registry *prometheus.Registry
	clock    *testfixtures.Clock
	sched    *Scheduler
}

func newHarness(cfg Config) *harness {
	h := &harness{
		jobs:     newFakeJobs(),
		tickers:  newFakeTickers(),
		registry: prometheus.NewRegistry(),
		clock:    testfixtures.NewClock(time.Time{}),
	}
	h.sched = New(h.jobs, cfg,
		WithTicker(h.tickers.New),
		WithPromRegistry(h.registry),
		WithClock(h.clock.Now),
		WithRunID(func() string { return "run-1" }),
	)
	return h
}

// shutdown releases every held job so Stop cannot block forever on a failed test.
func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	h.jobs.releaseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.sched.Stop(ctx); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}
}

func (h *harness) idle(kind TaskKind) func() bool {
	return func() bool {
		status, err := h.sched.Status("g")
		if err != nil {
			return false
		}
		for _, task := range status.Tasks {
			if task.Kind == kind {
				return !task.Running && !task.Pending
			}
		}
		return false
	}
}

func (h *harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerStart(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(testConfig)
	defer h.shutdown(t)
	h.jobs.created = 3

	if err := h.sched.Start(context.Background(), []string{"g", "h"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	for _, id := range []string{"g", "h"} {
		state, err := h.sched.State(id)
		if err != nil || state != StateRunning {
			t.Fatalf("expected %s to be running, got %s err=%v", id, state, err)
		}
	}
	if got := h.sched.Communities(); len(got) != 2 || got[0] != "g" || got[1] != "h" {
		t.Fatalf("unexpected communities %v", got)
	}
	waitFor(t, "initial sweep and refresh", func() bool {
		return h.jobs.count(TaskSweep) == 2 && h.jobs.count(TaskRefresh) >= 2
	})

	status, err := h.sched.Status("g")
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	for _, task := range status.Tasks {
		if task.Kind == TaskReconcile && (task.Runs != 1 || !task.LastRun.Equal(h.clock.Now())) {
			t.Fatalf("unexpected reconcile status %+v", task)
		}
	}
}

func TestSchedulerRetriesInitialReconcile(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(testConfig)
	defer h.shutdown(t)
	h.jobs.reconcileErr = errors.New("no progress")

	if err := h.sched.Start(context.Background(), []string{"g"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if state, _ := h.sched.State("g"); state != StateStopped {
		t.Fatalf("expected community to stay stopped, got %s", state)
	}
	if err := h.sched.Trigger("g", TaskRefresh); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := h.sched.RunNow(context.Background(), "g", TaskSweep); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning from RunNow, got %v", err)
	}

	h.jobs.set(func(j *fakeJobs) { j.reconcileErr = nil })
	h.tickers.fire(testConfig.ReconcileInterval)
	waitFor(t, "community to start running", func() bool {
		state, _ := h.sched.State("g")
		return state == StateRunning
	})
	waitFor(t, "first sweep", func() bool { return h.jobs.count(TaskSweep) == 1 })
}

func TestSchedulerCoalescesRuns(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(testConfig)
	defer h.shutdown(t)
	h.jobs.hold(TaskRefresh)

	if err := h.sched.Start(context.Background(), []string{"g"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, "refresh to start", func() bool { return h.jobs.count(TaskRefresh) == 1 })

	for range 3 {
		if err := h.sched.Trigger("g", TaskRefresh); err != nil {
			t.Fatalf("Trigger returned error: %v", err)
		}
	}
	h.tickers.fire(testConfig.RefreshInterval)
	waitFor(t, "tick to be coalesced", func() bool {
		return h.counter(t, "roster_scheduler_coalesced_total", map[string]string{"task": "refresh"}) == 4
	})

	h.jobs.release(TaskRefresh)
	waitFor(t, "refresh to go idle", h.idle(TaskRefresh))
	if got := h.jobs.count(TaskRefresh); got != 2 {
		t.Fatalf("expected one run plus one coalesced re-run, got %d", got)
	}
}

func TestSchedulerKindsRunConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(testConfig)
	defer h.shutdown(t)
	h.jobs.hold(TaskRefresh)

	if err := h.sched.Start(context.Background(), []string{"g"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, "refresh to start", func() bool { return h.jobs.count(TaskRefresh) == 1 })

	if err := h.sched.RunNow(context.Background(), "g", TaskSweep); err != nil {
		t.Fatalf("RunNow returned error while refresh was held: %v", err)
	}
}

func TestSchedulerWorkerPoolIsBounded(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig
	cfg.Workers = 1
	h := newHarness(cfg)
	defer h.shutdown(t)

	if err := h.sched.Start(context.Background(), []string{"g"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, "startup runs", func() bool {
		return h.idle(TaskSweep)() && h.idle(TaskRefresh)() && h.jobs.count(TaskRefresh) == 1
	})

	h.jobs.hold(TaskSweep)
	if err := h.sched.Trigger("g", TaskSweep); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	waitFor(t, "sweep to start", func() bool { return h.jobs.count(TaskSweep) == 2 })
	if err := h.sched.Trigger("g", TaskRefresh); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := h.jobs.count(TaskRefresh); got != 1 {
		t.Fatalf("expected refresh to wait for the only worker, got %d runs", got)
	}

	h.jobs.release(TaskSweep)
	waitFor(t, "refresh to run", func() bool { return h.jobs.count(TaskRefresh) == 2 })
	h.jobs.mu.Lock()
	defer h.jobs.mu.Unlock()
	if h.jobs.maxRunning != 1 {
		t.Fatalf("expected at most one concurrent job, got %d", h.jobs.maxRunning)
	}
}

func TestSchedulerFollowUpRefresh(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(testConfig)
	defer h.shutdown(t)

	if err := h.sched.Start(context.Background(), []string{"g"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, "startup runs", func() bool {
		return h.idle(TaskSweep)() && h.idle(TaskRefresh)() && h.jobs.count(TaskRefresh) == 1
	})

	t.Run("empty sweep does not refresh", func(t *testing.T) {
		if err := h.sched.RunNow(context.Background(), "g", TaskSweep); err != nil {
			t.Fatalf("RunNow returned error: %v", err)
		}
		if got := h.jobs.count(TaskRefresh); got != 1 {
			t.Fatalf("expected no follow-up refresh, got %d runs", got)
		}
	})

	t.Run("sweep that removed records refreshes", func(t *testing.T) {
		h.jobs.set(func(j *fakeJobs) { j.swept = 2 })
		if err := h.sched.RunNow(context.Background(), "g", TaskSweep); err != nil {
			t.Fatalf("RunNow returned error: %v", err)
		}
		waitFor(t, "follow-up refresh", func() bool { return h.jobs.count(TaskRefresh) == 2 })
	})

	t.Run("reconcile that created resources refreshes", func(t *testing.T) {
		h.jobs.set(func(j *fakeJobs) { j.created = 1 })
		if err := h.sched.RunNow(context.Background(), "g", TaskReconcile); err != nil {
			t.Fatalf("RunNow returned error: %v", err)
		}
		waitFor(t, "follow-up refresh", func() bool { return h.jobs.count(TaskRefresh) == 3 })
	})
}

func TestSchedulerRunNowReportsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(testConfig)
	defer h.shutdown(t)
	boom := errors.New("board channel missing")
	h.jobs.refreshErr = boom

	if err := h.sched.Start(context.Background(), []string{"g"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, "startup refresh", h.idle(TaskRefresh))

	if err := h.sched.RunNow(context.Background(), "g", TaskRefresh); !errors.Is(err, boom) {
		t.Fatalf("expected refresh error, got %v", err)
	}
	status, err := h.sched.Status("g")
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	for _, task := range status.Tasks {
		if task.Kind == TaskRefresh && task.LastError != boom.Error() {
			t.Fatalf("expected last error to be recorded, got %+v", task)
		}
	}
	if got := h.counter(t, "roster_scheduler_task_runs_total", map[string]string{"task": "refresh", "outcome": "failure"}); got < 2 {
		t.Fatalf("expected failed refresh runs to be counted, got %v", got)
	}

	if err := h.sched.RunNow(context.Background(), "nope", TaskRefresh); !errors.Is(err, ErrUnknownCommunity) {
		t.Fatalf("expected ErrUnknownCommunity, got %v", err)
	}
	if err := h.sched.Trigger("g", TaskKind("purge")); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestSchedulerRunNowHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(testConfig)
	defer h.shutdown(t)

	if err := h.sched.Start(context.Background(), []string{"g"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	h.jobs.hold(TaskReconcile)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.sched.RunNow(ctx, "g", TaskReconcile); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSchedulerStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(testConfig)
	defer h.shutdown(t)

	if err := h.sched.Start(context.Background(), []string{"g"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, "startup runs", func() bool { return h.idle(TaskSweep)() && h.idle(TaskRefresh)() })

	h.jobs.hold(TaskRefresh)
	if err := h.sched.Trigger("g", TaskRefresh); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	waitFor(t, "refresh to start", func() bool { return !h.idle(TaskRefresh)() && h.jobs.count(TaskRefresh) >= 2 })
	if err := h.sched.Trigger("g", TaskRefresh); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	runs := h.jobs.count(TaskRefresh)

	stopped := make(chan error, 1)
	go func() { stopped <- h.sched.Stop(context.Background()) }()
	select {
	case <-stopped:
		t.Fatalf("Stop returned while a refresh was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	h.jobs.release(TaskRefresh)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if got := h.jobs.count(TaskRefresh); got != runs {
		t.Fatalf("expected the pending re-run to be dropped, got %d runs want %d", got, runs)
	}
	if state, _ := h.sched.State("g"); state != StateStopped {
		t.Fatalf("expected stopped state, got %s", state)
	}
	if err := h.sched.Trigger("g", TaskSweep); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := h.sched.AddCommunity(context.Background(), "h"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped from AddCommunity, got %v", err)
	}
}

func TestSchedulerRemoveCommunity(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(testConfig)
	defer h.shutdown(t)

	if err := h.sched.Start(context.Background(), []string{"g"}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := h.sched.RemoveCommunity("g"); err != nil {
		t.Fatalf("RemoveCommunity returned error: %v", err)
	}
	if _, err := h.sched.State("g"); !errors.Is(err, ErrUnknownCommunity) {
		t.Fatalf("expected ErrUnknownCommunity, got %v", err)
	}
	if err := h.sched.RemoveCommunity("g"); !errors.Is(err, ErrUnknownCommunity) {
		t.Fatalf("expected ErrUnknownCommunity on second removal, got %v", err)
	}
}

func TestParseTaskKind(t *testing.T) {
	for _, name := range []string{"sweep", "refresh", "reconcile"} {
		if kind, ok := ParseTaskKind(name); !ok || string(kind) != name {
			t.Fatalf("ParseTaskKind(%q) = %q, %v", name, kind, ok)
		}
	}
	if _, ok := ParseTaskKind("purge"); ok {
		t.Fatalf("expected unknown task to be rejected")
	}
}
