package topic

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kafkaops/agent/internal/errs"
	"github.com/kafkaops/agent/pkg/adminpool"
	"github.com/kafkaops/agent/pkg/model"
	"github.com/kafkaops/agent/pkg/store"
)

type fakeMetadataStore struct {
	store.MetadataStore
	instance *model.ServiceInstance
	err      error
}

func (f *fakeMetadataStore) Get(ctx context.Context, instanceID string) (*model.ServiceInstance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.instance, nil
}

type fakeAuditStore struct {
	store.AuditStore
	entries []string
}

func (f *fakeAuditStore) Log(ctx context.Context, instanceID, operation, userID string, details map[string]any) error {
	f.entries = append(f.entries, operation)
	return nil
}

func testPool(t *testing.T) *adminpool.Pool {
	t.Helper()
	p := adminpool.New(adminpool.Config{MaxConnections: 10, HealthInterval: time.Hour, CleanupInterval: time.Hour, MaxIdleTime: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { p.Close() })
	return p
}

func runningInstance() *model.ServiceInstance {
	return &model.ServiceInstance{
		InstanceID:     "inst-1",
		Status:         model.StatusRunning,
		ConnectionInfo: &model.ConnectionInfo{BootstrapEndpoints: []string{"127.0.0.1:9092"}},
	}
}

func TestPreflightFailsClusterNotFound(t *testing.T) {
	metadata := &fakeMetadataStore{err: store.ErrNotFound}
	svc := New(metadata, &fakeAuditStore{}, testPool(t))

	_, err := svc.preflight(context.Background(), "inst-1")
	if errs.KindOf(err) != errs.KindClusterNotFound {
		t.Fatalf("expected CLUSTER_NOT_FOUND, got %v", err)
	}
}

func TestPreflightFailsClusterNotAvailableWhenNotRunning(t *testing.T) {
	metadata := &fakeMetadataStore{instance: &model.ServiceInstance{InstanceID: "inst-1", Status: model.StatusCreating}}
	svc := New(metadata, &fakeAuditStore{}, testPool(t))

	_, err := svc.preflight(context.Background(), "inst-1")
	if errs.KindOf(err) != errs.KindClusterNotAvailable {
		t.Fatalf("expected CLUSTER_NOT_AVAILABLE, got %v", err)
	}
}

func TestPreflightFailsConnectionFailedWhenNotPooled(t *testing.T) {
	metadata := &fakeMetadataStore{instance: runningInstance()}
	svc := New(metadata, &fakeAuditStore{}, testPool(t))

	_, err := svc.preflight(context.Background(), "inst-1")
	if errs.KindOf(err) != errs.KindConnectionFailed {
		t.Fatalf("expected CONNECTION_FAILED, got %v", err)
	}
}

func TestPreflightSucceedsWhenRunningAndPooled(t *testing.T) {
	metadata := &fakeMetadataStore{instance: runningInstance()}
	pool := testPool(t)
	if err := pool.Register(context.Background(), "inst-1", runningInstance().ConnectionInfo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	svc := New(metadata, &fakeAuditStore{}, pool)

	entry, err := svc.preflight(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if entry.InstanceID != "inst-1" {
		t.Errorf("expected entry for inst-1, got %s", entry.InstanceID)
	}
}

func TestCreateTopicRejectsInvalidSpecBeforeTouchingPool(t *testing.T) {
	metadata := &fakeMetadataStore{err: errors.New("should never be called")}
	svc := New(metadata, &fakeAuditStore{}, testPool(t))

	_, err := svc.CreateTopic(context.Background(), "inst-1", model.TopicSpec{Name: ""}, "user-1")
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestUpdateTopicConfigRejectsNonUpdatableKey(t *testing.T) {
	svc := New(&fakeMetadataStore{}, &fakeAuditStore{}, testPool(t))

	_, err := svc.UpdateTopicConfig(context.Background(), "inst-1", "my-topic", map[string]string{"unclean.leader.election.enable": "true"}, "user-1")
	if errs.KindOf(err) != errs.KindInvalidTopicConfig {
		t.Fatalf("expected INVALID_TOPIC_CONFIG, got %v", err)
	}
}

func TestPurgeTopicRejectsOutOfRangeRetention(t *testing.T) {
	svc := New(&fakeMetadataStore{}, &fakeAuditStore{}, testPool(t))

	if _, err := svc.PurgeTopic(context.Background(), "inst-1", "my-topic", 0, "user-1"); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("expected rejection of retention_ms=0, got %v", err)
	}
	if _, err := svc.PurgeTopic(context.Background(), "inst-1", "my-topic", 60001, "user-1"); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("expected rejection of retention_ms=60001, got %v", err)
	}
}

func TestBrokerConfigOverridesOnlyReportsNonDefaults(t *testing.T) {
	spec := model.TopicSpec{
		Name:              "t",
		Partitions:        1,
		ReplicationFactor: 1,
		RetentionMs:       defaultRetentionMs,
		CleanupPolicy:     model.CleanupDelete,
		Compression:       model.CompressionNone,
		MinInsyncReplicas: 1,
	}
	if got := brokerConfigOverrides(spec); len(got) != 0 {
		t.Errorf("expected no overrides for all-default spec, got %v", got)
	}

	spec.RetentionMs = 3600000
	spec.Compression = model.CompressionZstd
	got := brokerConfigOverrides(spec)
	if got["retention.ms"] != "3600000" {
		t.Errorf("expected retention.ms override, got %v", got)
	}
	if got["compression.type"] != "zstd" {
		t.Errorf("expected compression.type override, got %v", got)
	}
}

func TestIsUnknownTopicErrMatchesKadmErrorText(t *testing.T) {
	if !isUnknownTopicErr(errors.New("UNKNOWN_TOPIC_OR_PARTITION: this server does not host this topic-partition")) {
		t.Error("expected UNKNOWN_TOPIC_OR_PARTITION to be recognized")
	}
	if isUnknownTopicErr(errors.New("some other failure")) {
		t.Error("expected unrelated errors to not match")
	}
}
