package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kafkaops/agent/internal/errs"
	"github.com/kafkaops/agent/pkg/model"
	"github.com/kafkaops/agent/pkg/provider"
	"github.com/kafkaops/agent/pkg/store"
)

type memStore struct {
	mu        sync.Mutex
	instances map[string]*model.ServiceInstance
}

func newMemStore() *memStore {
	return &memStore{instances: map[string]*model.ServiceInstance{}}
}

func (s *memStore) Create(ctx context.Context, i *model.ServiceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[i.InstanceID]; ok {
		return store.ErrAlreadyExists
	}
	cp := *i
	s.instances[i.InstanceID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*model.ServiceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.instances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (s *memStore) Update(ctx context.Context, i *model.ServiceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[i.InstanceID]; !ok {
		return store.ErrNotFound
	}
	cp := *i
	s.instances[i.InstanceID] = &cp
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, id)
	return nil
}

func (s *memStore) List(ctx context.Context, f store.ListFilters) ([]*model.ServiceInstance, error) {
	return nil, nil
}

func (s *memStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.instances[id]
	return ok, nil
}

func (s *memStore) ListByStatus(ctx context.Context, status model.InstanceStatus) ([]*model.ServiceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ServiceInstance
	for _, i := range s.instances {
		if i.Status == status {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

type memAudit struct {
	mu      sync.Mutex
	entries []string
}

func (a *memAudit) Log(ctx context.Context, instanceID, operation, userID string, details map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, operation)
	return nil
}

func (a *memAudit) Query(ctx context.Context, instanceID, operation string, limit int) ([]*model.AuditEntry, error) {
	return nil, nil
}

func (a *memAudit) Close() error { return nil }

type fakeRuntime struct {
	provisionResult provider.ProvisionResult
	provisionErr    error
	deprovisionErr  error
}

func (r *fakeRuntime) Provision(ctx context.Context, instanceID string, cfg model.ClusterConfig) (provider.ProvisionResult, error) {
	return r.provisionResult, r.provisionErr
}

func (r *fakeRuntime) Deprovision(ctx context.Context, instanceID string) (provider.DeprovisionResult, error) {
	if r.deprovisionErr != nil {
		return provider.DeprovisionResult{Status: provider.StatusFailed, Error: r.deprovisionErr.Error()}, nil
	}
	return provider.DeprovisionResult{Status: provider.StatusSucceeded}, nil
}

func (r *fakeRuntime) GetStatus(ctx context.Context, instanceID string) (provider.ProvisionStatus, error) {
	return provider.StatusSucceeded, nil
}

func (r *fakeRuntime) GetConnectionInfo(ctx context.Context, instanceID string) (*model.ConnectionInfo, error) {
	return nil, errors.New("no live connection info in this fake")
}

func (r *fakeRuntime) HealthCheck(ctx context.Context, instanceID string) bool {
	return true
}

func testOrchestrator(t *testing.T, runtime provider.Runtime) (*Orchestrator, *memStore, *memAudit) {
	t.Helper()
	metadata := newMemStore()
	audit := &memAudit{}
	registry := provider.NewRegistry(map[provider.Kind]provider.Runtime{provider.KindContainerEngine: runtime})
	cfg := DefaultConfig()
	cfg.ProvisionTimeout = 2 * time.Second
	cfg.DeprovisionTimeout = 2 * time.Second
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, metadata, audit, registry, logger), metadata, audit
}

func waitForStatus(t *testing.T, metadata *memStore, id string, want model.InstanceStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := metadata.Get(context.Background(), id)
		if err == nil && inst.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instance %q never reached status %s", id, want)
}

func TestCreateInstanceProvisionsSuccessfully(t *testing.T) {
	runtime := &fakeRuntime{provisionResult: provider.ProvisionResult{
		Status:         provider.StatusSucceeded,
		ConnectionInfo: &model.ConnectionInfo{BootstrapEndpoints: []string{"127.0.0.1:9092"}},
	}}
	o, metadata, audit := testOrchestrator(t, runtime)

	inst, err := o.CreateInstance(context.Background(), CreateInstanceParams{
		InstanceID: "inst-1", ServiceID: "kafka-service", PlanID: "basic",
		RuntimeProvider: provider.KindContainerEngine,
	})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if inst.Status != model.StatusCreating {
		t.Fatalf("expected immediate status creating, got %s", inst.Status)
	}

	waitForStatus(t, metadata, "inst-1", model.StatusRunning)

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.entries) < 2 {
		t.Errorf("expected at least provision_start and provision_success audit entries, got %v", audit.entries)
	}
}

func TestCreateInstanceRejectsDuplicate(t *testing.T) {
	runtime := &fakeRuntime{provisionResult: provider.ProvisionResult{Status: provider.StatusSucceeded, ConnectionInfo: &model.ConnectionInfo{BootstrapEndpoints: []string{"x:1"}}}}
	o, _, _ := testOrchestrator(t, runtime)

	params := CreateInstanceParams{InstanceID: "inst-1", PlanID: "basic", RuntimeProvider: provider.KindContainerEngine}
	if _, err := o.CreateInstance(context.Background(), params); err != nil {
		t.Fatalf("first CreateInstance: %v", err)
	}
	if _, err := o.CreateInstance(context.Background(), params); errs.KindOf(err) != errs.KindInstanceAlreadyExists {
		t.Fatalf("expected INSTANCE_ALREADY_EXISTS, got %v", err)
	}
}

func TestCreateInstanceFailsOnProviderError(t *testing.T) {
	runtime := &fakeRuntime{provisionErr: errors.New("boom")}
	o, metadata, _ := testOrchestrator(t, runtime)

	_, err := o.CreateInstance(context.Background(), CreateInstanceParams{InstanceID: "inst-1", PlanID: "basic", RuntimeProvider: provider.KindContainerEngine})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	waitForStatus(t, metadata, "inst-1", model.StatusError)
}

func TestDeprovisionInstanceDeletesRowOnSuccess(t *testing.T) {
	runtime := &fakeRuntime{provisionResult: provider.ProvisionResult{Status: provider.StatusSucceeded, ConnectionInfo: &model.ConnectionInfo{BootstrapEndpoints: []string{"x:1"}}}}
	o, metadata, _ := testOrchestrator(t, runtime)

	_, _ = o.CreateInstance(context.Background(), CreateInstanceParams{InstanceID: "inst-1", PlanID: "basic", RuntimeProvider: provider.KindContainerEngine})
	waitForStatus(t, metadata, "inst-1", model.StatusRunning)

	if err := o.DeprovisionInstance(context.Background(), "inst-1"); err != nil {
		t.Fatalf("DeprovisionInstance: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := metadata.Get(context.Background(), "inst-1"); err == store.ErrNotFound {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected instance row to be deleted after successful deprovision")
}

func TestHealthCheckReturnsFalseForNonRunningInstance(t *testing.T) {
	runtime := &fakeRuntime{}
	o, metadata, _ := testOrchestrator(t, runtime)
	_ = metadata.Create(context.Background(), &model.ServiceInstance{InstanceID: "inst-1", Status: model.StatusCreating, RuntimeProvider: provider.KindContainerEngine})

	ok, err := o.HealthCheck(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if ok {
		t.Error("expected health check to be false for a non-running instance")
	}
}

func TestClusterConfigForAppliesPlanBaselineAndOverlay(t *testing.T) {
	cfg := clusterConfigFor("premium", map[string]any{"cluster_size": 7})
	if cfg.ClusterSize != 7 {
		t.Errorf("expected overlay to win, got cluster_size=%d", cfg.ClusterSize)
	}
	if cfg.ReplicationFactor != 3 {
		t.Errorf("expected premium baseline replication_factor=3, got %d", cfg.ReplicationFactor)
	}
}

func TestClusterConfigForUnknownPlanUsesMultiNodeDefault(t *testing.T) {
	cfg := clusterConfigFor("unknown-plan", nil)
	if cfg.ClusterSize != defaultBaseline.ClusterSize {
		t.Errorf("expected default baseline cluster_size, got %d", cfg.ClusterSize)
	}
}
