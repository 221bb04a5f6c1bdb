package memstore

import (
	"context"
	"testing"

	"github.com/itellico/joi-gateway/internal/store"
)

func TestAgentStore_SeedAndGet(t *testing.T) {
	s := NewAgentStore(&store.AgentRecord{ID: "default", Name: "default"})
	rec, err := s.Get(context.Background(), "default")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Name != "default" {
		t.Fatalf("Name = %q, want default", rec.Name)
	}
}

func TestAgentStore_GetMissingReturnsErrNotFound(t *testing.T) {
	s := NewAgentStore()
	_, err := s.Get(context.Background(), "nope")
	if err != store.ErrNotFound {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}
}

func TestAgentStore_UpsertThenList(t *testing.T) {
	s := NewAgentStore()
	if err := s.Upsert(context.Background(), &store.AgentRecord{ID: "a", Name: "a"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := s.Upsert(context.Background(), &store.AgentRecord{ID: "b", Name: "b"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestAgentStore_UpsertOverwritesExisting(t *testing.T) {
	s := NewAgentStore(&store.AgentRecord{ID: "a", Name: "old"})
	if err := s.Upsert(context.Background(), &store.AgentRecord{ID: "a", Name: "new"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	rec, _ := s.Get(context.Background(), "a")
	if rec.Name != "new" {
		t.Fatalf("Name = %q, want new", rec.Name)
	}
}

func TestAgentStore_Delete(t *testing.T) {
	s := NewAgentStore(&store.AgentRecord{ID: "a", Name: "a"})
	if err := s.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(context.Background(), "a"); err != store.ErrNotFound {
		t.Fatalf("err = %v, want store.ErrNotFound after delete", err)
	}
}
