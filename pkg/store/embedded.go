package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kafkaops/agent/pkg/model"
)

// EmbeddedStore is the single-file embedded engine spec §4.3 requires for
// dev/test: both MetadataStore and AuditStore backed by one JSON file,
// serialized on every write. No third-party embedded-db library (sqlite,
// bbolt, badger) appears anywhere in the example pack, so this is built on
// encoding/json + os — justified in DESIGN.md as a stdlib exception.
type EmbeddedStore struct {
	mu   sync.Mutex
	path string

	instances map[string]*model.ServiceInstance
	audit     []*model.AuditEntry
	nextAudit int64
}

type embeddedDocument struct {
	Instances map[string]*model.ServiceInstance `json:"instances"`
	Audit     []*model.AuditEntry               `json:"audit"`
	NextAudit int64                              `json:"next_audit"`
}

// NewEmbeddedStore opens (or creates) the single JSON file at path.
func NewEmbeddedStore(path string) (*EmbeddedStore, error) {
	s := &EmbeddedStore{
		path:      path,
		instances: make(map[string]*model.ServiceInstance),
		nextAudit: 1,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, s.persistLocked()
		}
		return nil, fmt.Errorf("reading embedded store file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var doc embeddedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing embedded store file: %w", err)
	}
	if doc.Instances != nil {
		s.instances = doc.Instances
	}
	s.audit = doc.Audit
	if doc.NextAudit > 0 {
		s.nextAudit = doc.NextAudit
	}
	return s, nil
}

// persistLocked writes the full document to disk. Caller must hold s.mu.
func (s *EmbeddedStore) persistLocked() error {
	doc := embeddedDocument{Instances: s.instances, Audit: s.audit, NextAudit: s.nextAudit}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling embedded store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing embedded store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("renaming embedded store file into place: %w", err)
	}
	return nil
}

func cloneInstance(inst *model.ServiceInstance) *model.ServiceInstance {
	cp := *inst
	if inst.Parameters != nil {
		cp.Parameters = make(map[string]any, len(inst.Parameters))
		for k, v := range inst.Parameters {
			cp.Parameters[k] = v
		}
	}
	if inst.RuntimeConfig != nil {
		cp.RuntimeConfig = make(map[string]any, len(inst.RuntimeConfig))
		for k, v := range inst.RuntimeConfig {
			cp.RuntimeConfig[k] = v
		}
	}
	if inst.ConnectionInfo != nil {
		ci := *inst.ConnectionInfo
		cp.ConnectionInfo = &ci
	}
	return &cp
}

func (s *EmbeddedStore) Create(ctx context.Context, inst *model.ServiceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.InstanceID]; exists {
		return ErrAlreadyExists
	}
	s.instances[inst.InstanceID] = cloneInstance(inst)
	return s.persistLocked()
}

func (s *EmbeddedStore) Get(ctx context.Context, instanceID string) (*model.ServiceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInstance(inst), nil
}

func (s *EmbeddedStore) Update(ctx context.Context, inst *model.ServiceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.InstanceID]; !ok {
		return ErrNotFound
	}
	s.instances[inst.InstanceID] = cloneInstance(inst)
	return s.persistLocked()
}

func (s *EmbeddedStore) Delete(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[instanceID]; !ok {
		return ErrNotFound
	}
	delete(s.instances, instanceID)

	// Audit rows cascade-delete with the instance they reference (spec §4.3).
	kept := s.audit[:0:0]
	for _, e := range s.audit {
		if e.InstanceID != instanceID {
			kept = append(kept, e)
		}
	}
	s.audit = kept

	return s.persistLocked()
}

func (s *EmbeddedStore) List(ctx context.Context, f ListFilters) ([]*model.ServiceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.ServiceInstance
	for _, inst := range s.instances {
		if f.TenantScope != "" && inst.TenantScope != f.TenantScope {
			continue
		}
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		if f.ServiceID != "" && inst.ServiceID != f.ServiceID {
			continue
		}
		out = append(out, cloneInstance(inst))
	}

	sortInstancesByCreatedAt(out)

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortInstancesByCreatedAt(instances []*model.ServiceInstance) {
	for i := 1; i < len(instances); i++ {
		for j := i; j > 0 && instances[j].CreatedAt.Before(instances[j-1].CreatedAt); j-- {
			instances[j], instances[j-1] = instances[j-1], instances[j]
		}
	}
}

func (s *EmbeddedStore) Exists(ctx context.Context, instanceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.instances[instanceID]
	return ok, nil
}

func (s *EmbeddedStore) ListByStatus(ctx context.Context, status model.InstanceStatus) ([]*model.ServiceInstance, error) {
	return s.List(ctx, ListFilters{Status: status})
}

func (s *EmbeddedStore) Close() error { return nil }

func (s *EmbeddedStore) Log(ctx context.Context, instanceID, operation, userID string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &model.AuditEntry{
		ID:         s.nextAudit,
		InstanceID: instanceID,
		Operation:  operation,
		UserID:     userID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	s.nextAudit++
	s.audit = append(s.audit, e)
	return s.persistLocked()
}

func (s *EmbeddedStore) Query(ctx context.Context, instanceID, operation string, limit int) ([]*model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*model.AuditEntry
	for _, e := range s.audit {
		if instanceID != "" && e.InstanceID != instanceID {
			continue
		}
		if operation != "" && e.Operation != operation {
			continue
		}
		matched = append(matched, e)
	}

	// Most-recent-first (spec §4.3), i.e. the reverse of insertion/Before order.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}
