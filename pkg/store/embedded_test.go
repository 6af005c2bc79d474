package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kafkaops/agent/pkg/model"
)

func newTestEmbeddedStore(t *testing.T) *EmbeddedStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := NewEmbeddedStore(path)
	if err != nil {
		t.Fatalf("NewEmbeddedStore: %v", err)
	}
	return s
}

func testInstance(id string) *model.ServiceInstance {
	now := time.Now().UTC()
	return &model.ServiceInstance{
		InstanceID:      id,
		ServiceID:       "kafka",
		PlanID:          "basic",
		TenantScope:     "org-1",
		Status:          model.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		RuntimeProvider: model.ProviderContainerEngine,
		Parameters:      map[string]any{},
		RuntimeConfig:   map[string]any{},
	}
}

func TestEmbeddedStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbeddedStore(t)

	if err := s.Create(ctx, testInstance("i-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(ctx, "i-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.InstanceID != "i-1" {
		t.Errorf("expected instance id i-1, got %s", got.InstanceID)
	}
}

func TestEmbeddedStoreCreateDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbeddedStore(t)

	if err := s.Create(ctx, testInstance("i-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, testInstance("i-1")); err != ErrAlreadyExists {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestEmbeddedStoreGetMissingReturnsNotFound(t *testing.T) {
	s := newTestEmbeddedStore(t)
	if _, err := s.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEmbeddedStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbeddedStore(t)
	inst := testInstance("i-1")
	_ = s.Create(ctx, inst)

	inst.Status = model.StatusRunning
	inst.ConnectionInfo = &model.ConnectionInfo{BootstrapEndpoints: []string{"broker:9092"}}
	if err := s.Update(ctx, inst); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := s.Get(ctx, "i-1")
	if got.Status != model.StatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
}

func TestEmbeddedStoreDeleteRemovesInstanceAndCascadesAudit(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbeddedStore(t)
	_ = s.Create(ctx, testInstance("i-1"))
	_ = s.Log(ctx, "i-1", model.OpProvisionStart, "user-1", nil)

	if err := s.Delete(ctx, "i-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "i-1"); err != ErrNotFound {
		t.Errorf("expected instance gone after delete")
	}
	entries, err := s.Query(ctx, "i-1", "", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected audit entries to cascade-delete, got %d", len(entries))
	}
}

func TestEmbeddedStoreListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbeddedStore(t)
	a := testInstance("i-1")
	b := testInstance("i-2")
	b.Status = model.StatusRunning
	b.ConnectionInfo = &model.ConnectionInfo{BootstrapEndpoints: []string{"broker:9092"}}
	_ = s.Create(ctx, a)
	_ = s.Create(ctx, b)

	running, err := s.ListByStatus(ctx, model.StatusRunning)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(running) != 1 || running[0].InstanceID != "i-2" {
		t.Errorf("expected only i-2 running, got %v", running)
	}
}

func TestEmbeddedStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	s1, err := NewEmbeddedStore(path)
	if err != nil {
		t.Fatalf("NewEmbeddedStore: %v", err)
	}
	_ = s1.Create(ctx, testInstance("i-1"))
	_ = s1.Log(ctx, "i-1", model.OpProvisionStart, "", nil)

	s2, err := NewEmbeddedStore(path)
	if err != nil {
		t.Fatalf("reopen NewEmbeddedStore: %v", err)
	}
	if _, err := s2.Get(ctx, "i-1"); err != nil {
		t.Fatalf("expected instance to survive reopen, got %v", err)
	}
	entries, _ := s2.Query(ctx, "", "", 0)
	if len(entries) != 1 {
		t.Errorf("expected 1 audit entry to survive reopen, got %d", len(entries))
	}
}

func TestEmbeddedStoreQueryMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestEmbeddedStore(t)
	_ = s.Create(ctx, testInstance("i-1"))
	_ = s.Log(ctx, "i-1", model.OpProvisionStart, "", nil)
	_ = s.Log(ctx, "i-1", model.OpProvisionSuccess, "", nil)

	entries, err := s.Query(ctx, "i-1", "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Operation != model.OpProvisionSuccess {
		t.Errorf("expected most-recent-first ordering, got %s first", entries[0].Operation)
	}
}

func TestEmbeddedStoreImplementsInterfaces(t *testing.T) {
	var _ MetadataStore = (*EmbeddedStore)(nil)
	var _ AuditStore = (*EmbeddedStore)(nil)
}
