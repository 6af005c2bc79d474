// Package orchestrator implements the provisioning state machine of spec
// §4.7: it persists ServiceInstance transitions before and after each
// provider call, offloading the (possibly minutes-long) provider call
// itself to a bounded worker pool so its own entry points stay async.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kafkaops/agent/internal/errs"
	"github.com/kafkaops/agent/pkg/model"
	"github.com/kafkaops/agent/pkg/provider"
	"github.com/kafkaops/agent/pkg/store"
)

// baselines maps a plan id to its ClusterConfig starting point (spec §4.7).
// Parameters supplied on the request overlay this baseline field by field.
var baselines = map[string]model.ClusterConfig{
	"basic": {
		ClusterSize: 1, ReplicationFactor: 1, DefaultPartitionCount: 3,
		RetentionHours: 168, StorageGiBPerBroker: 20,
	},
	"premium": {
		ClusterSize: 5, ReplicationFactor: 3, DefaultPartitionCount: 12,
		RetentionHours: 720, StorageGiBPerBroker: 200,
	},
}

// defaultBaseline is used for any plan id that isn't "basic" or "premium"
// (spec §4.7: "else -> multi-node").
var defaultBaseline = model.ClusterConfig{
	ClusterSize: 3, ReplicationFactor: 2, DefaultPartitionCount: 6,
	RetentionHours: 336, StorageGiBPerBroker: 50,
}

// Config tunes the orchestrator's worker pool and default provider choice.
type Config struct {
	MaxConcurrentOperations int64
	DefaultProvider         provider.Kind
	ProvisionTimeout        time.Duration
	DeprovisionTimeout      time.Duration
}

// DefaultConfig returns sane defaults: 10 concurrent provider calls, a
// container-engine default provider, and generous per-call timeouts.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentOperations: 10,
		DefaultProvider:         provider.KindContainerEngine,
		ProvisionTimeout:        15 * time.Minute,
		DeprovisionTimeout:      10 * time.Minute,
	}
}

// Notifier lets the orchestrator raise an ops alert on an error
// transition, without coupling this package to a specific chat backend.
type Notifier interface {
	NotifyFailure(ctx context.Context, title, instanceID, description string) error
}

// AdminPoolRegistrar hands a freshly provisioned cluster's connection
// details to the admin connection pool (C5), and forgets them again once a
// cluster is torn down, so topic management (C6) can reach a cluster
// without a separate registration step.
type AdminPoolRegistrar interface {
	Register(ctx context.Context, instanceID string, connInfo *model.ConnectionInfo) error
	Remove(instanceID string)
}

// Orchestrator owns the create/deprovision state machine.
type Orchestrator struct {
	cfg      Config
	metadata store.MetadataStore
	audit    store.AuditStore
	registry *provider.Registry
	logger   *slog.Logger
	sem      *semaphore.Weighted
	notifier Notifier
	pool     AdminPoolRegistrar
}

// New builds an Orchestrator.
func New(cfg Config, metadata store.MetadataStore, audit store.AuditStore, registry *provider.Registry, logger *slog.Logger) *Orchestrator {
	limit := cfg.MaxConcurrentOperations
	if limit < 1 {
		limit = 1
	}
	return &Orchestrator{
		cfg:      cfg,
		metadata: metadata,
		audit:    audit,
		registry: registry,
		logger:   logger,
		sem:      semaphore.NewWeighted(limit),
	}
}

// SetNotifier wires an ops-alert sink; failInstance calls it best-effort on
// every transition into status=error.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// SetAdminPool wires the admin connection pool so a successful provision
// registers a pooled connection and a completed deprovision forgets it.
func (o *Orchestrator) SetAdminPool(p AdminPoolRegistrar) {
	o.pool = p
}

// CreateInstanceParams is the caller-supplied request to provision a cluster.
type CreateInstanceParams struct {
	InstanceID      string
	ServiceID       string
	PlanID          string
	OrganizationID  string
	SpaceID         string
	Parameters      map[string]any
	RuntimeProvider provider.Kind // zero value means "use config default"
}

// CreateInstance persists a pending row and dispatches the provider's
// Provision call to the worker pool, returning immediately so the caller
// can poll last_operation (spec §4.7, §6's async PUT contract).
func (o *Orchestrator) CreateInstance(ctx context.Context, p CreateInstanceParams) (*model.ServiceInstance, error) {
	exists, err := o.metadata.Exists(ctx, p.InstanceID)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageOperationFailed, "checking instance existence", err)
	}
	if exists {
		return nil, errs.New(errs.KindInstanceAlreadyExists, fmt.Sprintf("instance %q already exists", p.InstanceID))
	}

	clusterCfg := clusterConfigFor(p.PlanID, p.Parameters)
	if err := clusterCfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "invalid cluster configuration", err)
	}

	kind := p.RuntimeProvider
	if kind == "" {
		kind = o.cfg.DefaultProvider
	}

	now := time.Now()
	instance := &model.ServiceInstance{
		InstanceID:      p.InstanceID,
		ServiceID:       p.ServiceID,
		PlanID:          p.PlanID,
		TenantScope:     p.OrganizationID + "/" + p.SpaceID,
		Parameters:      p.Parameters,
		Status:          model.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		RuntimeProvider: kind,
		RuntimeConfig:   clusterConfigToMap(clusterCfg),
	}
	if err := o.metadata.Create(ctx, instance); err != nil {
		return nil, errs.Wrap(errs.KindStorageOperationFailed, "creating instance row", err)
	}

	instance.Status = model.StatusCreating
	instance.Touch(time.Now())
	if err := o.metadata.Update(ctx, instance); err != nil {
		return nil, errs.Wrap(errs.KindStorageOperationFailed, "transitioning to creating", err)
	}
	o.logAudit(ctx, p.InstanceID, model.OpProvisionStart, "", map[string]any{"plan_id": p.PlanID, "runtime_provider": kind})

	go o.runProvision(p.InstanceID, kind, clusterCfg)

	return instance, nil
}

func (o *Orchestrator) runProvision(instanceID string, kind provider.Kind, clusterCfg model.ClusterConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ProvisionTimeout)
	defer cancel()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.failInstance(ctx, instanceID, fmt.Sprintf("worker pool unavailable: %v", err))
		return
	}
	defer o.sem.Release(1)

	runtime, err := o.registry.Get(kind)
	if err != nil {
		o.failInstance(ctx, instanceID, err.Error())
		return
	}

	result, err := runtime.Provision(ctx, instanceID, clusterCfg)
	if err != nil {
		o.logAudit(ctx, instanceID, model.OpProvisionFailed, "", map[string]any{"error": err.Error()})
		o.failInstance(ctx, instanceID, err.Error())
		return
	}
	if result.Status != provider.StatusSucceeded {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("provisioning ended in status %s", result.Status)
		}
		o.logAudit(ctx, instanceID, model.OpProvisionFailed, "", map[string]any{"error": msg})
		o.failInstance(ctx, instanceID, msg)
		return
	}

	instance, err := o.metadata.Get(ctx, instanceID)
	if err != nil {
		o.logger.Error("provision succeeded but could not reload instance row", "instance_id", instanceID, "error", err)
		return
	}
	instance.ConnectionInfo = result.ConnectionInfo
	if err := instance.TransitionTo(model.StatusRunning, "", time.Now()); err != nil {
		o.logger.Error("invalid transition to running", "instance_id", instanceID, "error", err)
		return
	}
	if err := o.metadata.Update(ctx, instance); err != nil {
		o.logger.Error("failed to persist running transition", "instance_id", instanceID, "error", err)
		return
	}
	if o.pool != nil && instance.ConnectionInfo != nil {
		if err := o.pool.Register(ctx, instanceID, instance.ConnectionInfo); err != nil {
			o.logger.Error("registering admin pool connection", "instance_id", instanceID, "error", err)
		}
	}
	o.logAudit(ctx, instanceID, model.OpProvisionSuccess, "", nil)
}

func (o *Orchestrator) failInstance(ctx context.Context, instanceID, reason string) {
	instance, err := o.metadata.Get(ctx, instanceID)
	if err != nil {
		o.logger.Error("cannot mark instance failed, row missing", "instance_id", instanceID, "error", err)
		return
	}
	if err := instance.TransitionTo(model.StatusError, reason, time.Now()); err != nil {
		o.logger.Error("invalid transition to error", "instance_id", instanceID, "error", err)
		return
	}
	if err := o.metadata.Update(ctx, instance); err != nil {
		o.logger.Error("failed to persist error transition", "instance_id", instanceID, "error", err)
		return
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyFailure(ctx, "instance entered error state", instanceID, reason); err != nil {
			o.logger.Warn("ops notification failed", "instance_id", instanceID, "error", err)
		}
	}
}

// DeprovisionInstance transitions running->stopping synchronously and
// dispatches the provider's Deprovision call asynchronously (spec §4.7).
func (o *Orchestrator) DeprovisionInstance(ctx context.Context, instanceID string) error {
	instance, err := o.metadata.Get(ctx, instanceID)
	if err != nil {
		if err == store.ErrNotFound {
			return errs.New(errs.KindInstanceNotFound, fmt.Sprintf("instance %q not found", instanceID))
		}
		return errs.Wrap(errs.KindStorageOperationFailed, "fetching instance", err)
	}

	instance.Status = model.StatusStopping
	instance.Touch(time.Now())
	if err := o.metadata.Update(ctx, instance); err != nil {
		return errs.Wrap(errs.KindStorageOperationFailed, "transitioning to stopping", err)
	}
	o.logAudit(ctx, instanceID, model.OpDeprovisionStart, "", nil)

	go o.runDeprovision(instanceID, instance.RuntimeProvider)
	return nil
}

func (o *Orchestrator) runDeprovision(instanceID string, kind provider.Kind) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.DeprovisionTimeout)
	defer cancel()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.failInstance(ctx, instanceID, fmt.Sprintf("worker pool unavailable: %v", err))
		return
	}
	defer o.sem.Release(1)

	runtime, err := o.registry.Get(kind)
	if err != nil {
		o.logAudit(ctx, instanceID, model.OpDeprovisionFailed, "", map[string]any{"error": err.Error()})
		o.failInstance(ctx, instanceID, err.Error())
		return
	}

	result, err := runtime.Deprovision(ctx, instanceID)
	if err != nil || result.Status != provider.StatusSucceeded {
		msg := "deprovision failed"
		if err != nil {
			msg = err.Error()
		} else if result.Error != "" {
			msg = result.Error
		}
		o.logAudit(ctx, instanceID, model.OpDeprovisionFailed, "", map[string]any{"error": msg})
		o.failInstance(ctx, instanceID, msg)
		return
	}

	if o.pool != nil {
		o.pool.Remove(instanceID)
	}

	if err := o.metadata.Delete(ctx, instanceID); err != nil {
		o.logger.Error("deprovision succeeded but row deletion failed", "instance_id", instanceID, "error", err)
		return
	}
	o.logAudit(ctx, instanceID, model.OpDeprovisionSuccess, "", nil)
}

// GetClusterStatus reconciles the stored status against a live provider
// GetStatus call, writing back on disagreement (spec §4.7).
func (o *Orchestrator) GetClusterStatus(ctx context.Context, instanceID string) (model.InstanceStatus, error) {
	instance, err := o.metadata.Get(ctx, instanceID)
	if err != nil {
		if err == store.ErrNotFound {
			return "", errs.New(errs.KindInstanceNotFound, fmt.Sprintf("instance %q not found", instanceID))
		}
		return "", errs.Wrap(errs.KindStorageOperationFailed, "fetching instance", err)
	}
	if instance.Status != model.StatusRunning && instance.Status != model.StatusCreating {
		return instance.Status, nil
	}

	runtime, err := o.registry.Get(instance.RuntimeProvider)
	if err != nil {
		return instance.Status, nil
	}
	live, err := runtime.GetStatus(ctx, instanceID)
	if err != nil {
		return instance.Status, nil
	}

	reconciled := reconcileStatus(instance.Status, live)
	if reconciled != instance.Status {
		errMsg := ""
		if reconciled == model.StatusError {
			errMsg = fmt.Sprintf("provider reports status %s", live)
		}
		if err := instance.TransitionTo(reconciled, errMsg, time.Now()); err == nil {
			_ = o.metadata.Update(ctx, instance)
		}
	}
	return reconciled, nil
}

// reconcileStatus maps a live provider status onto the stored status,
// only ever moving toward running, creating, or error (spec §4.7).
func reconcileStatus(stored model.InstanceStatus, live provider.ProvisionStatus) model.InstanceStatus {
	switch live {
	case provider.StatusSucceeded:
		return model.StatusRunning
	case provider.StatusInProgress, provider.StatusPending:
		return model.StatusCreating
	case provider.StatusFailed:
		return model.StatusError
	default:
		return stored
	}
}

// GetConnectionInfo prefers live provider info, falling back to stored
// (spec §4.7).
func (o *Orchestrator) GetConnectionInfo(ctx context.Context, instanceID string) (*model.ConnectionInfo, error) {
	instance, err := o.metadata.Get(ctx, instanceID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errs.New(errs.KindInstanceNotFound, fmt.Sprintf("instance %q not found", instanceID))
		}
		return nil, errs.Wrap(errs.KindStorageOperationFailed, "fetching instance", err)
	}

	runtime, err := o.registry.Get(instance.RuntimeProvider)
	if err == nil {
		if live, err := runtime.GetConnectionInfo(ctx, instanceID); err == nil && live != nil {
			return live, nil
		}
	}
	return instance.ConnectionInfo, nil
}

// HealthCheck reports false for any non-running instance (spec §4.7).
func (o *Orchestrator) HealthCheck(ctx context.Context, instanceID string) (bool, error) {
	instance, err := o.metadata.Get(ctx, instanceID)
	if err != nil {
		if err == store.ErrNotFound {
			return false, errs.New(errs.KindInstanceNotFound, fmt.Sprintf("instance %q not found", instanceID))
		}
		return false, errs.Wrap(errs.KindStorageOperationFailed, "fetching instance", err)
	}
	if instance.Status != model.StatusRunning {
		return false, nil
	}

	runtime, err := o.registry.Get(instance.RuntimeProvider)
	if err != nil {
		return false, nil
	}
	return runtime.HealthCheck(ctx, instanceID), nil
}

// CleanupFailedInstances iterates rows in error, best-effort deprovisions
// them, then deletes the row regardless of the deprovision outcome (spec
// §4.7).
func (o *Orchestrator) CleanupFailedInstances(ctx context.Context) (int, error) {
	failed, err := o.metadata.ListByStatus(ctx, model.StatusError)
	if err != nil {
		return 0, errs.Wrap(errs.KindStorageOperationFailed, "listing failed instances", err)
	}

	cleaned := 0
	for _, instance := range failed {
		if runtime, err := o.registry.Get(instance.RuntimeProvider); err == nil {
			if _, err := runtime.Deprovision(ctx, instance.InstanceID); err != nil {
				o.logger.Warn("best-effort deprovision during cleanup failed", "instance_id", instance.InstanceID, "error", err)
			}
		}
		if err := o.metadata.Delete(ctx, instance.InstanceID); err != nil {
			o.logger.Warn("failed to delete instance row during cleanup", "instance_id", instance.InstanceID, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

func (o *Orchestrator) logAudit(ctx context.Context, instanceID, operation, userID string, details map[string]any) {
	if err := o.audit.Log(ctx, instanceID, operation, userID, details); err != nil {
		o.logger.Warn("audit log write failed", "instance_id", instanceID, "operation", operation, "error", err)
	}
}

// clusterConfigFor picks the plan baseline and overlays caller parameters
// (spec §4.7).
func clusterConfigFor(planID string, params map[string]any) model.ClusterConfig {
	cfg, ok := baselines[planID]
	if !ok {
		cfg = defaultBaseline
	}

	if v, ok := intParam(params, "cluster_size"); ok {
		cfg.ClusterSize = v
	}
	if v, ok := intParam(params, "replication_factor"); ok {
		cfg.ReplicationFactor = v
	}
	if v, ok := intParam(params, "partition_count"); ok {
		cfg.DefaultPartitionCount = v
	}
	if v, ok := intParam(params, "retention_hours"); ok {
		cfg.RetentionHours = v
	}
	if v, ok := intParam(params, "storage_size_gb"); ok {
		cfg.StorageGiBPerBroker = v
	}
	if v, ok := params["enable_ssl"].(bool); ok {
		cfg.SSLEnabled = v
	}
	if v, ok := params["enable_sasl"].(bool); ok {
		cfg.SASLEnabled = v
	}
	if v, ok := params["custom_properties"].(map[string]any); ok {
		cfg.CustomBrokerProps = stringMap(v)
	}
	return cfg
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func clusterConfigToMap(c model.ClusterConfig) map[string]any {
	return map[string]any{
		"cluster_size":             c.ClusterSize,
		"replication_factor":       c.ReplicationFactor,
		"default_partition_count":  c.DefaultPartitionCount,
		"retention_hours":          c.RetentionHours,
		"storage_gib_per_broker":   c.StorageGiBPerBroker,
		"ssl_enabled":              c.SSLEnabled,
		"sasl_enabled":             c.SASLEnabled,
		"custom_broker_props":      c.CustomBrokerProps,
	}
}
