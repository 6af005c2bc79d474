package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kafkaops/agent/pkg/model"
	"github.com/kafkaops/agent/pkg/orchestrator"
	"github.com/kafkaops/agent/pkg/provider"
	"github.com/kafkaops/agent/pkg/store"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testHandler(t *testing.T) *Handler {
	t.Helper()
	embedded, err := store.NewEmbeddedStore(t.TempDir() + "/store.json")
	if err != nil {
		t.Fatalf("NewEmbeddedStore: %v", err)
	}
	registry := provider.NewRegistry(map[provider.Kind]provider.Runtime{})
	orch := orchestrator.New(orchestrator.DefaultConfig(), embedded, embedded, registry, testLogger())
	return NewHandler(testLogger(), orch)
}

// instantRuntime resolves Provision immediately, standing in for the
// container-engine default on a request fast enough to land within
// provisionSyncWindow.
type instantRuntime struct{}

func (instantRuntime) Provision(ctx context.Context, instanceID string, cfg model.ClusterConfig) (provider.ProvisionResult, error) {
	return provider.ProvisionResult{
		Status:         provider.StatusSucceeded,
		ConnectionInfo: &model.ConnectionInfo{BootstrapEndpoints: []string{"127.0.0.1:9092"}},
	}, nil
}

func (instantRuntime) Deprovision(ctx context.Context, instanceID string) (provider.DeprovisionResult, error) {
	return provider.DeprovisionResult{Status: provider.StatusSucceeded}, nil
}

func (instantRuntime) GetStatus(ctx context.Context, instanceID string) (provider.ProvisionStatus, error) {
	return provider.StatusSucceeded, nil
}

func (instantRuntime) GetConnectionInfo(ctx context.Context, instanceID string) (*model.ConnectionInfo, error) {
	return nil, nil
}

func (instantRuntime) HealthCheck(ctx context.Context, instanceID string) bool { return true }

func testHandlerWithRuntime(t *testing.T, kind provider.Kind, runtime provider.Runtime) *Handler {
	t.Helper()
	embedded, err := store.NewEmbeddedStore(t.TempDir() + "/store.json")
	if err != nil {
		t.Fatalf("NewEmbeddedStore: %v", err)
	}
	registry := provider.NewRegistry(map[provider.Kind]provider.Runtime{kind: runtime})
	cfg := orchestrator.DefaultConfig()
	cfg.DefaultProvider = kind
	orch := orchestrator.New(cfg, embedded, embedded, registry, testLogger())
	return NewHandler(testLogger(), orch)
}

func TestHandleCatalogListsPlans(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/catalog", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Services []catalogService `json:"services"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Services) != 1 || len(body.Services[0].Plans) != 3 {
		t.Fatalf("unexpected catalog shape: %+v", body)
	}
}

func TestHandleProvisionRejectsUnknownPlan(t *testing.T) {
	h := testHandler(t)
	body, _ := json.Marshal(provisionRequest{ServiceID: serviceID, PlanID: "enterprise"})
	req := httptest.NewRequest(http.MethodPut, "/service_instances/it-1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleProvisionAcceptsAsync(t *testing.T) {
	h := testHandler(t)
	body, _ := json.Marshal(provisionRequest{ServiceID: serviceID, PlanID: "basic", OrganizationGUID: "org", SpaceGUID: "space"})
	req := httptest.NewRequest(http.MethodPut, "/service_instances/it-1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleProvisionReturns201WhenProvisionResolvesWithinSyncWindow(t *testing.T) {
	h := testHandlerWithRuntime(t, provider.KindContainerEngine, instantRuntime{})
	body, _ := json.Marshal(provisionRequest{
		ServiceID: serviceID, PlanID: "basic", OrganizationGUID: "org", SpaceGUID: "space",
		Parameters: map[string]any{"cluster_size": 1},
	})
	req := httptest.NewRequest(http.MethodPut, "/service_instances/it-1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleDeprovisionRequiresQueryParams(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodDelete, "/service_instances/it-1", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleLastOperationGoneForUnknownInstance(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/service_instances/missing/last_operation", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
}

func TestHandleBindingRoutesAreNotSupported(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodPut, "/service_instances/it-1/service_bindings/b1", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestLastOperationState(t *testing.T) {
	cases := map[model.InstanceStatus]string{
		model.StatusCreating: "in progress",
		model.StatusStopping: "in progress",
		model.StatusRunning:  "succeeded",
		model.StatusError:    "failed",
	}
	for status, want := range cases {
		got, ok := lastOperationState(status)
		if !ok || got != want {
			t.Errorf("lastOperationState(%s) = %q, %v; want %q", status, got, ok, want)
		}
	}
	if _, ok := lastOperationState(model.StatusPending); ok {
		t.Errorf("expected pending to have no last_operation mapping")
	}
}
