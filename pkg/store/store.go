// Package store defines the metadata and audit storage abstractions of
// spec §4.3, with a PostgreSQL-backed implementation for production and a
// single-file embedded JSON implementation for dev/test.
package store

import (
	"context"

	"github.com/kafkaops/agent/pkg/model"
)

// ErrAlreadyExists is returned by MetadataStore.Create when an instance
// with the given id already exists.
var ErrAlreadyExists = newStoreError("instance already exists")

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = newStoreError("instance not found")

type storeError string

func (e storeError) Error() string { return string(e) }

func newStoreError(msg string) error { return storeError(msg) }

// ListFilters narrows MetadataStore.List results. Zero-value fields are
// not applied as filters.
type ListFilters struct {
	TenantScope string
	Status      model.InstanceStatus
	ServiceID   string
	Limit       int
	Offset      int
}

// MetadataStore persists ServiceInstance records (spec §4.3).
type MetadataStore interface {
	Create(ctx context.Context, instance *model.ServiceInstance) error
	Get(ctx context.Context, instanceID string) (*model.ServiceInstance, error)
	Update(ctx context.Context, instance *model.ServiceInstance) error
	Delete(ctx context.Context, instanceID string) error
	List(ctx context.Context, filters ListFilters) ([]*model.ServiceInstance, error)
	Exists(ctx context.Context, instanceID string) (bool, error)
	ListByStatus(ctx context.Context, status model.InstanceStatus) ([]*model.ServiceInstance, error)
	Close() error
}

// AuditStore persists AuditEntry records (spec §4.3).
type AuditStore interface {
	Log(ctx context.Context, instanceID, operation, userID string, details map[string]any) error
	Query(ctx context.Context, instanceID, operation string, limit int) ([]*model.AuditEntry, error)
	Close() error
}
