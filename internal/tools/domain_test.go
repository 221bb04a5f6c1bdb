package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/memory"
	"github.com/itellico/joi-gateway/internal/review"
	"github.com/itellico/joi-gateway/internal/store"
)

// fakeCronStore is an in-memory store.CronStore sufficient to exercise
// cronCreateTool without a real database.
type fakeCronStore struct {
	jobs map[uuid.UUID]*store.CronJob
}

func newFakeCronStore() *fakeCronStore { return &fakeCronStore{jobs: make(map[uuid.UUID]*store.CronJob)} }

func (f *fakeCronStore) Create(_ context.Context, job *store.CronJob) (*store.CronJob, error) {
	job.ID = uuid.New()
	f.jobs[job.ID] = job
	return job, nil
}
func (f *fakeCronStore) Update(_ context.Context, job *store.CronJob) error { f.jobs[job.ID] = job; return nil }
func (f *fakeCronStore) Delete(_ context.Context, id uuid.UUID) error      { delete(f.jobs, id); return nil }
func (f *fakeCronStore) Get(_ context.Context, id uuid.UUID) (*store.CronJob, error) {
	return f.jobs[id], nil
}
func (f *fakeCronStore) List(_ context.Context, agentID string) ([]*store.CronJob, error) {
	return nil, nil
}
func (f *fakeCronStore) DueBefore(_ context.Context, at time.Time, limit int) ([]*store.CronJob, error) {
	return nil, nil
}
func (f *fakeCronStore) Claim(_ context.Context, id uuid.UUID, now time.Time) (*store.CronJob, bool, error) {
	return nil, false, nil
}
func (f *fakeCronStore) Complete(_ context.Context, id uuid.UUID, status, errText string, duration time.Duration, now time.Time, nextRunAt *time.Time) error {
	return nil
}
func (f *fakeCronStore) ReleaseAbandoned(_ context.Context, timeout time.Duration, now time.Time) (int, error) {
	return 0, nil
}
func (f *fakeCronStore) RecordRun(_ context.Context, run *store.CronJobRun) error { return nil }
func (f *fakeCronStore) Runs(_ context.Context, jobID uuid.UUID, limit int) ([]*store.CronJobRun, error) {
	return nil, nil
}

// fakeMemoryStore is an in-memory store.MemoryStore.
type fakeMemoryStore struct {
	written []*store.Memory
}

func (f *fakeMemoryStore) Write(_ context.Context, m *store.Memory) (*store.Memory, error) {
	m.ID = uuid.New()
	f.written = append(f.written, m)
	return m, nil
}
func (f *fakeMemoryStore) Search(_ context.Context, opts store.MemorySearchOpts) ([]store.MemorySearchResult, error) {
	var out []store.MemorySearchResult
	for _, m := range f.written {
		out = append(out, store.MemorySearchResult{Memory: m, Score: 1})
	}
	return out, nil
}
func (f *fakeMemoryStore) Get(_ context.Context, id uuid.UUID) (*store.Memory, error) { return nil, store.ErrNotFound }
func (f *fakeMemoryStore) Touch(_ context.Context, id uuid.UUID, at time.Time)        {}
func (f *fakeMemoryStore) Consolidate(_ context.Context) (store.ConsolidateReport, error) {
	return store.ConsolidateReport{}, nil
}

func TestMemorySearchTool_DisabledWithoutStore(t *testing.T) {
	tool := NewMemorySearchTool(memory.NewService(nil))
	res := tool.Execute(context.Background(), map[string]interface{}{"query": "x"})
	if !res.IsError {
		t.Fatal("expected error result when memory service has no store")
	}
}

func TestMemorySearchTool_FindsWrittenMemory(t *testing.T) {
	svc := memory.NewService(&fakeMemoryStore{})
	storeTool := NewMemoryStoreTool(svc)
	searchTool := NewMemorySearchTool(svc)

	res := storeTool.Execute(context.Background(), map[string]interface{}{"content": "the sky is blue", "area": "facts"})
	if res.IsError {
		t.Fatalf("store failed: %s", res.ForLLM)
	}

	res = searchTool.Execute(context.Background(), map[string]interface{}{"query": "sky"})
	if res.IsError {
		t.Fatalf("search failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "the sky is blue") {
		t.Fatalf("search result %q does not contain the written memory", res.ForLLM)
	}
}

func TestMemoryStoreTool_RequiresContentAndArea(t *testing.T) {
	svc := memory.NewService(&fakeMemoryStore{})
	tool := NewMemoryStoreTool(svc)
	res := tool.Execute(context.Background(), map[string]interface{}{"content": "missing area"})
	if !res.IsError {
		t.Fatal("expected error result when area is missing")
	}
}

func TestCronCreateTool_CreatesJob(t *testing.T) {
	cs := newFakeCronStore()
	tool := NewCronCreateTool(cs)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"name":         "reminder",
		"interval_ms":  float64(60000),
		"payload_text": "ping the user",
	})
	if res.IsError {
		t.Fatalf("cron create failed: %s", res.ForLLM)
	}
	if len(cs.jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(cs.jobs))
	}
	for _, job := range cs.jobs {
		if job.PayloadKind != store.PayloadKindAgentTurn {
			t.Fatalf("PayloadKind = %q, want %q", job.PayloadKind, store.PayloadKindAgentTurn)
		}
	}
}

func TestCronCreateTool_DisabledWithoutStore(t *testing.T) {
	tool := NewCronCreateTool(nil)
	res := tool.Execute(context.Background(), map[string]interface{}{"name": "x", "interval_ms": float64(1000), "payload_text": "y"})
	if !res.IsError {
		t.Fatal("expected error result with nil cron store")
	}
}

func TestReviewEnqueueTool_DisabledWithoutStore(t *testing.T) {
	tool := NewReviewEnqueueTool(review.NewService(nil, nil))
	res := tool.Execute(context.Background(), map[string]interface{}{"title": "x", "type": "decision"})
	if !res.IsError {
		t.Fatal("expected error result when review service has no store")
	}
}
