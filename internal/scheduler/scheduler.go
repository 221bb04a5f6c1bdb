// Package scheduler implements the Scheduler component: an in-memory
// priority queue over due cron jobs, backed by a SQL CAS claim so crash
// recovery is driven entirely by the running_at/timeout column rather than
// in-memory locks.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

// Lane bounds concurrent runs per dispatch source, so a burst of cron fires
// can't starve an interactively-triggered run (or vice versa).
type Lane string

const (
	LaneCron        Lane = "cron"
	LaneInteractive Lane = "interactive"
)

// AgentTurnRequest is the payload scheduler hands to the Agent Runtime for
// payload_kind=agent_turn jobs.
type AgentTurnRequest struct {
	AgentID       string
	UserMessage   string
	SessionTarget string
	Model         string
}

// Dispatcher decouples the scheduler from the Agent Runtime's concrete
// types, so cmd/ wires the adapter and the two packages don't import each
// other directly.
type Dispatcher interface {
	RunAgentTurn(ctx context.Context, req AgentTurnRequest) error
	HandleSystemEvent(ctx context.Context, name, payload string) error
}

type Scheduler struct {
	cron       store.CronStore
	dispatcher Dispatcher

	mu    sync.Mutex
	queue jobHeap
	known map[uuid.UUID]bool

	lanes map[Lane]chan struct{}

	abandonedTimeout time.Duration
	minWake          time.Duration
}

func New(cronStore store.CronStore, dispatcher Dispatcher, laneCaps map[Lane]int) *Scheduler {
	lanes := make(map[Lane]chan struct{}, len(laneCaps))
	for lane, cap := range laneCaps {
		if cap <= 0 {
			cap = 1
		}
		lanes[lane] = make(chan struct{}, cap)
	}
	if _, ok := lanes[LaneCron]; !ok {
		lanes[LaneCron] = make(chan struct{}, 2)
	}
	if _, ok := lanes[LaneInteractive]; !ok {
		lanes[LaneInteractive] = make(chan struct{}, 4)
	}
	return &Scheduler{
		cron:             cronStore,
		dispatcher:       dispatcher,
		known:            make(map[uuid.UUID]bool),
		lanes:            lanes,
		abandonedTimeout: 5 * time.Minute,
		minWake:          1 * time.Second,
	}
}

// Enabled reports whether a CronStore backs this scheduler.
func (s *Scheduler) Enabled() bool { return s.cron != nil }

// Recover clears abandoned claims on startup, per crash-recovery semantics.
func (s *Scheduler) Recover(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	n, err := s.cron.ReleaseAbandoned(ctx, s.abandonedTimeout, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("scheduler: release abandoned: %w", err)
	}
	if n > 0 {
		slog.Warn("scheduler: released abandoned jobs", "count", n)
	}
	return nil
}

// Run is the background loop: every minWake (1s) it loads the jobs due by
// now, claims and dispatches them. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.cron == nil {
		return
	}
	if err := s.Recover(ctx); err != nil {
		slog.Error("scheduler: recovery failed", "error", err)
	}

	ticker := time.NewTicker(s.minWake)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.cron.DueBefore(ctx, time.Now().UTC(), 50)
	if err != nil {
		slog.Warn("scheduler: due query failed", "error", err)
		return
	}
	for _, job := range due {
		s.enqueueIfNew(job)
	}

	for {
		job := s.popDue()
		if job == nil {
			return
		}
		go s.claimAndRun(ctx, *job)
	}
}

func (s *Scheduler) enqueueIfNew(job *store.CronJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[job.ID] {
		return
	}
	s.known[job.ID] = true
	heap.Push(&s.queue, &queuedJob{job: job})
}

func (s *Scheduler) popDue() *store.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return nil
	}
	top := s.queue[0]
	if top.job.NextRunAt != nil && top.job.NextRunAt.After(time.Now().UTC()) {
		return nil
	}
	qj := heap.Pop(&s.queue).(*queuedJob)
	delete(s.known, qj.job.ID)
	return qj.job
}

func (s *Scheduler) claimAndRun(ctx context.Context, job store.CronJob) {
	lane := LaneCron
	sem := s.lanes[lane]
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return
	}

	claimed, ok, err := s.cron.Claim(ctx, job.ID, time.Now().UTC())
	if err != nil {
		slog.Warn("scheduler: claim failed", "job", job.ID, "error", err)
		return
	}
	if !ok {
		return // another runner already holds it
	}

	start := time.Now()
	runErr := s.dispatch(ctx, claimed)
	duration := time.Since(start)

	status := store.RunStatusOK
	errText := ""
	if runErr != nil {
		status = store.RunStatusError
		errText = runErr.Error()
	}

	next := s.computeNextRun(claimed)
	now := time.Now().UTC()
	if err := s.cron.Complete(ctx, claimed.ID, status, errText, duration, now, next); err != nil {
		slog.Warn("scheduler: complete failed", "job", claimed.ID, "error", err)
	}
	if err := s.cron.RecordRun(ctx, &store.CronJobRun{
		ID: uuid.New(), JobID: claimed.ID, Status: status, Error: errText,
		DurationMS: duration.Milliseconds(), RanAt: now,
	}); err != nil {
		slog.Warn("scheduler: record run failed", "job", claimed.ID, "error", err)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job *store.CronJob) error {
	if s.dispatcher == nil {
		return fmt.Errorf("scheduler: no dispatcher configured")
	}
	switch job.PayloadKind {
	case store.PayloadKindAgentTurn:
		return s.dispatcher.RunAgentTurn(ctx, AgentTurnRequest{
			AgentID: job.AgentID, UserMessage: job.PayloadText,
			SessionTarget: job.SessionTarget, Model: job.Model,
		})
	case store.PayloadKindSystemEvent:
		return s.dispatcher.HandleSystemEvent(ctx, job.Name, job.PayloadText)
	default:
		return fmt.Errorf("scheduler: unknown payload kind %q", job.PayloadKind)
	}
}

// computeNextRun recomputes next_run_at per schedule kind; nil disables the
// job (one-shot "at" jobs, or delete_after_run signaling "delete" upstream).
func (s *Scheduler) computeNextRun(job *store.CronJob) *time.Time {
	now := time.Now().UTC()
	switch job.ScheduleKind {
	case store.ScheduleKindAt:
		return nil
	case store.ScheduleKindEvery:
		next := now.Add(time.Duration(job.IntervalMS) * time.Millisecond)
		return &next
	case store.ScheduleKindCron:
		loc := time.UTC
		if job.Timezone != "" {
			if l, err := time.LoadLocation(job.Timezone); err == nil {
				loc = l
			}
		}
		next, err := gronx.NextTickAfter(job.CronExpr, now.In(loc), false)
		if err != nil {
			slog.Warn("scheduler: bad cron expr", "job", job.ID, "expr", job.CronExpr, "error", err)
			return nil
		}
		return &next
	default:
		return nil
	}
}

// Schedule submits an ad-hoc, lane-bounded dispatch outside the cron loop
// (e.g. an interactively-triggered re-run), mirroring the teacher's
// Schedule(ctx, lane, req) call shape used from cmd's cron subcommand.
func (s *Scheduler) Schedule(ctx context.Context, lane Lane, req AgentTurnRequest) error {
	sem, ok := s.lanes[lane]
	if !ok {
		return fmt.Errorf("scheduler: unknown lane %q", lane)
	}
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.dispatcher.RunAgentTurn(ctx, req)
}

// --- priority queue, keyed by next_run_at ---

type queuedJob struct {
	job *store.CronJob
}

type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	a, b := h[i].job.NextRunAt, h[j].job.NextRunAt
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*queuedJob)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
