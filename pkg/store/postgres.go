package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kafkaops/agent/pkg/model"
)

var (
	_ MetadataStore = (*PostgresMetadataStore)(nil)
	_ AuditStore    = (*PostgresAuditStore)(nil)
)

// PostgresMetadataStore is the relational MetadataStore implementation
// (spec §4.3), serializing parameters/runtime_config/connection_info as
// JSONB columns.
type PostgresMetadataStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMetadataStore wraps an existing pool. The pool's lifecycle is
// owned by the caller; Close is a no-op here so multiple stores can share
// one pool (the audit store uses the same pool).
func NewPostgresMetadataStore(pool *pgxpool.Pool) *PostgresMetadataStore {
	return &PostgresMetadataStore{pool: pool}
}

func (s *PostgresMetadataStore) Create(ctx context.Context, inst *model.ServiceInstance) error {
	params, err := json.Marshal(inst.Parameters)
	if err != nil {
		return fmt.Errorf("marshaling parameters: %w", err)
	}
	runtimeConfig, err := json.Marshal(inst.RuntimeConfig)
	if err != nil {
		return fmt.Errorf("marshaling runtime_config: %w", err)
	}
	var connInfo []byte
	if inst.ConnectionInfo != nil {
		connInfo, err = json.Marshal(inst.ConnectionInfo)
		if err != nil {
			return fmt.Errorf("marshaling connection_info: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO service_instances (
			instance_id, service_id, plan_id, tenant_scope, parameters, status,
			created_at, updated_at, runtime_provider, runtime_config, connection_info, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		inst.InstanceID, inst.ServiceID, inst.PlanID, inst.TenantScope, params, inst.Status,
		inst.CreatedAt, inst.UpdatedAt, inst.RuntimeProvider, runtimeConfig, nullableBytes(connInfo), nullableString(inst.ErrorMessage),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting service instance: %w", err)
	}
	return nil
}

func (s *PostgresMetadataStore) Get(ctx context.Context, instanceID string) (*model.ServiceInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT instance_id, service_id, plan_id, tenant_scope, parameters, status,
		       created_at, updated_at, runtime_provider, runtime_config, connection_info, error_message
		FROM service_instances WHERE instance_id = $1
	`, instanceID)

	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying service instance: %w", err)
	}
	return inst, nil
}

func (s *PostgresMetadataStore) Update(ctx context.Context, inst *model.ServiceInstance) error {
	params, err := json.Marshal(inst.Parameters)
	if err != nil {
		return fmt.Errorf("marshaling parameters: %w", err)
	}
	runtimeConfig, err := json.Marshal(inst.RuntimeConfig)
	if err != nil {
		return fmt.Errorf("marshaling runtime_config: %w", err)
	}
	var connInfo []byte
	if inst.ConnectionInfo != nil {
		connInfo, err = json.Marshal(inst.ConnectionInfo)
		if err != nil {
			return fmt.Errorf("marshaling connection_info: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE service_instances SET
			service_id = $2, plan_id = $3, tenant_scope = $4, parameters = $5, status = $6,
			updated_at = $7, runtime_provider = $8, runtime_config = $9, connection_info = $10, error_message = $11
		WHERE instance_id = $1
	`,
		inst.InstanceID, inst.ServiceID, inst.PlanID, inst.TenantScope, params, inst.Status,
		inst.UpdatedAt, inst.RuntimeProvider, runtimeConfig, nullableBytes(connInfo), nullableString(inst.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("updating service instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresMetadataStore) Delete(ctx context.Context, instanceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM service_instances WHERE instance_id = $1`, instanceID)
	if err != nil {
		return fmt.Errorf("deleting service instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresMetadataStore) List(ctx context.Context, f ListFilters) ([]*model.ServiceInstance, error) {
	query := `
		SELECT instance_id, service_id, plan_id, tenant_scope, parameters, status,
		       created_at, updated_at, runtime_provider, runtime_config, connection_info, error_message
		FROM service_instances WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.TenantScope != "" {
		query += " AND tenant_scope = " + arg(f.TenantScope)
	}
	if f.Status != "" {
		query += " AND status = " + arg(f.Status)
	}
	if f.ServiceID != "" {
		query += " AND service_id = " + arg(f.ServiceID)
	}
	query += " ORDER BY created_at"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing service instances: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

func (s *PostgresMetadataStore) Exists(ctx context.Context, instanceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM service_instances WHERE instance_id = $1)`, instanceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking service instance existence: %w", err)
	}
	return exists, nil
}

func (s *PostgresMetadataStore) ListByStatus(ctx context.Context, status model.InstanceStatus) ([]*model.ServiceInstance, error) {
	return s.List(ctx, ListFilters{Status: status})
}

func (s *PostgresMetadataStore) Close() error { return nil }

// row is satisfied by both pgx.Row and pgx.Rows, letting scanInstance back
// both Get (single row) and List (row iteration).
type row interface {
	Scan(dest ...any) error
}

func scanInstance(r row) (*model.ServiceInstance, error) {
	var inst model.ServiceInstance
	var params, runtimeConfig []byte
	var connInfo []byte
	var errMsg *string

	err := r.Scan(
		&inst.InstanceID, &inst.ServiceID, &inst.PlanID, &inst.TenantScope, &params, &inst.Status,
		&inst.CreatedAt, &inst.UpdatedAt, &inst.RuntimeProvider, &runtimeConfig, &connInfo, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &inst.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshaling parameters: %w", err)
		}
	}
	if len(runtimeConfig) > 0 {
		if err := json.Unmarshal(runtimeConfig, &inst.RuntimeConfig); err != nil {
			return nil, fmt.Errorf("unmarshaling runtime_config: %w", err)
		}
	}
	if len(connInfo) > 0 {
		var ci model.ConnectionInfo
		if err := json.Unmarshal(connInfo, &ci); err != nil {
			return nil, fmt.Errorf("unmarshaling connection_info: %w", err)
		}
		inst.ConnectionInfo = &ci
	}
	if errMsg != nil {
		inst.ErrorMessage = *errMsg
	}

	return &inst, nil
}

func collectInstances(rows pgx.Rows) ([]*model.ServiceInstance, error) {
	var out []*model.ServiceInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning service instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// PostgresAuditStore is the relational AuditStore implementation.
type PostgresAuditStore struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditStore wraps an existing pool.
func NewPostgresAuditStore(pool *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{pool: pool}
}

func (s *PostgresAuditStore) Log(ctx context.Context, instanceID, operation, userID string, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshaling audit details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (instance_id, operation, user_id, details, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`, nullableString(instanceID), operation, nullableString(userID), detailsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting audit log entry: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) Query(ctx context.Context, instanceID, operation string, limit int) ([]*model.AuditEntry, error) {
	query := `SELECT id, instance_id, operation, user_id, details, timestamp FROM audit_logs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if instanceID != "" {
		query += " AND instance_id = " + arg(instanceID)
	}
	if operation != "" {
		query += " AND operation = " + arg(operation)
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if limit > 0 {
		query += " LIMIT " + arg(limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []*model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var instID, userID *string
		var details []byte
		if err := rows.Scan(&e.ID, &instID, &e.Operation, &userID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if instID != nil {
			e.InstanceID = *instID
		}
		if userID != nil {
			e.UserID = *userID
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshaling audit details: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresAuditStore) Close() error { return nil }
