package adminpool

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kafkaops/agent/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConnInfo() *model.ConnectionInfo {
	return &model.ConnectionInfo{BootstrapEndpoints: []string{"127.0.0.1:9092"}}
}

func TestRegisterRejectsMissingBootstrapEndpoints(t *testing.T) {
	p := New(Config{MaxConnections: 10, HealthInterval: time.Hour, CleanupInterval: time.Hour, MaxIdleTime: time.Hour}, testLogger())
	defer p.Close()

	err := p.Register(context.Background(), "inst-1", &model.ConnectionInfo{})
	if err == nil {
		t.Fatal("expected an error for missing bootstrap endpoints")
	}
}

func TestRegisterAndGetRoundTrips(t *testing.T) {
	p := New(Config{MaxConnections: 10, HealthInterval: time.Hour, CleanupInterval: time.Hour, MaxIdleTime: time.Hour}, testLogger())
	defer p.Close()

	if err := p.Register(context.Background(), "inst-1", testConnInfo()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	entry, ok := p.Get("inst-1")
	if !ok {
		t.Fatal("expected to find registered entry")
	}
	if entry.InstanceID != "inst-1" {
		t.Errorf("expected instance id inst-1, got %s", entry.InstanceID)
	}
	if entry.UseCount != 1 {
		t.Errorf("expected use count 1 after one Get, got %d", entry.UseCount)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	p := New(Config{MaxConnections: 10, HealthInterval: time.Hour, CleanupInterval: time.Hour, MaxIdleTime: time.Hour}, testLogger())
	defer p.Close()

	if _, ok := p.Get("missing"); ok {
		t.Error("expected Get on unregistered instance to return false")
	}
}

func TestGetEvictsUnhealthyEntries(t *testing.T) {
	p := New(Config{MaxConnections: 10, HealthInterval: time.Hour, CleanupInterval: time.Hour, MaxIdleTime: time.Hour}, testLogger())
	defer p.Close()

	_ = p.Register(context.Background(), "inst-1", testConnInfo())
	entry, _ := p.Get("inst-1")
	entry.setHealthy(false)

	if _, ok := p.Get("inst-1"); ok {
		t.Error("expected unhealthy entry to be evicted on Get")
	}
	if p.Size() != 0 {
		t.Errorf("expected pool to be empty after evicting unhealthy entry, got size %d", p.Size())
	}
}

func TestRemoveForgetsEntry(t *testing.T) {
	p := New(Config{MaxConnections: 10, HealthInterval: time.Hour, CleanupInterval: time.Hour, MaxIdleTime: time.Hour}, testLogger())
	defer p.Close()

	_ = p.Register(context.Background(), "inst-1", testConnInfo())
	p.Remove("inst-1")

	if _, ok := p.Get("inst-1"); ok {
		t.Error("expected entry to be gone after Remove")
	}
}

func TestEvictIdleRemovesStaleEntries(t *testing.T) {
	p := New(Config{MaxConnections: 10, HealthInterval: time.Hour, CleanupInterval: time.Hour, MaxIdleTime: time.Millisecond}, testLogger())
	defer p.Close()

	_ = p.Register(context.Background(), "inst-1", testConnInfo())
	time.Sleep(5 * time.Millisecond)

	p.evictIdle(context.Background())

	if p.Size() != 0 {
		t.Errorf("expected idle entry to be evicted, got size %d", p.Size())
	}
}

func TestRegisterRejectsUnsupportedSASLMechanism(t *testing.T) {
	connInfo := testConnInfo()
	connInfo.SASL = &model.SASLMaterial{Mechanism: model.SASLGSSAPI, Username: "u", Password: "p"}

	p := New(Config{MaxConnections: 10, HealthInterval: time.Hour, CleanupInterval: time.Hour, MaxIdleTime: time.Hour}, testLogger())
	defer p.Close()

	if err := p.Register(context.Background(), "inst-1", connInfo); err == nil {
		t.Fatal("expected an error for unsupported sasl mechanism")
	}
}

func TestRegisterAtCapacityFails(t *testing.T) {
	p := New(Config{MaxConnections: 1, HealthInterval: time.Hour, CleanupInterval: time.Hour, MaxIdleTime: time.Hour}, testLogger())
	defer p.Close()

	_ = p.Register(context.Background(), "inst-1", testConnInfo())
	if err := p.Register(context.Background(), "inst-2", testConnInfo()); err == nil {
		t.Fatal("expected registration beyond capacity to fail once eviction finds nothing stale")
	}
}
