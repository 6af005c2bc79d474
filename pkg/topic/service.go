// Package topic implements the topic management service of spec §4.6:
// create/list/describe/update/delete/purge/bulk operations against a
// pooled Kafka admin connection, each one gated on the owning
// ServiceInstance being running. The create, update, delete, purge and bulk
// operations are audited; list, describe and cluster-info are not.
package topic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"

	"github.com/kafkaops/agent/internal/errs"
	"github.com/kafkaops/agent/pkg/adminpool"
	"github.com/kafkaops/agent/pkg/model"
	"github.com/kafkaops/agent/pkg/store"
)

// updatableConfigs is the exact set update_topic_config accepts (spec §4.6).
var updatableConfigs = map[string]bool{
	"retention.ms":           true,
	"retention.bytes":        true,
	"cleanup.policy":         true,
	"compression.type":       true,
	"max.message.bytes":      true,
	"min.insync.replicas":    true,
	"segment.ms":             true,
	"segment.bytes":          true,
	"delete.retention.ms":    true,
}

const defaultRetentionMs = 604800000 // spec §4.6: assumed when retention.ms absent.

// OpResult is the per-topic outcome of a bulk operation.
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ClusterInfo is the describe-cluster summary spec §4.6 returns.
type ClusterInfo struct {
	ClusterID    string        `json:"cluster_id"`
	BrokerCount  int           `json:"broker_count"`
	TopicCount   int           `json:"topic_count"`
	Brokers      []BrokerInfo  `json:"brokers"`
	ControllerID *int32        `json:"controller_id,omitempty"`
}

// BrokerInfo is one entry of ClusterInfo.Brokers.
type BrokerInfo struct {
	ID   int32  `json:"id"`
	Host string `json:"host"`
	Port int32  `json:"port"`
}

// Service implements spec §4.6 against a MetadataStore, AuditStore and
// admin connection pool.
type Service struct {
	metadata store.MetadataStore
	audit    store.AuditStore
	pool     *adminpool.Pool
}

// New builds a topic Service.
func New(metadata store.MetadataStore, audit store.AuditStore, pool *adminpool.Pool) *Service {
	return &Service{metadata: metadata, audit: audit, pool: pool}
}

// preflight implements the pre-check every operation shares: the owning
// instance must be running, and a pooled admin connection must be
// available (spec §4.6).
func (s *Service) preflight(ctx context.Context, clusterID string) (*adminpool.Entry, error) {
	inst, err := s.metadata.Get(ctx, clusterID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errs.New(errs.KindClusterNotFound, fmt.Sprintf("cluster %q not found", clusterID))
		}
		return nil, errs.Wrap(errs.KindStorageOperationFailed, "fetching service instance", err)
	}
	if inst.Status != model.StatusRunning {
		return nil, errs.New(errs.KindClusterNotAvailable, fmt.Sprintf("cluster %q is %s, not running", clusterID, inst.Status))
	}

	entry, ok := s.pool.Get(clusterID)
	if !ok {
		return nil, errs.New(errs.KindConnectionFailed, fmt.Sprintf("no pooled admin connection available for cluster %q", clusterID))
	}
	return entry, nil
}

func (s *Service) logAudit(ctx context.Context, clusterID, operation, userID string, details map[string]any) {
	if err := s.audit.Log(ctx, clusterID, operation, userID, details); err != nil {
		return
	}
}

// TopicCreatedAt reports the timestamp of name's most recent topic_create
// audit entry. Kafka's admin protocol carries no topic creation time, so
// this is the only observable age signal the scheduler's topic-cleanup
// max_age_hours rule (spec §4.8) can use.
func (s *Service) TopicCreatedAt(ctx context.Context, clusterID, name string) (time.Time, bool) {
	entries, err := s.audit.Query(ctx, clusterID, model.OpTopicCreate, 0)
	if err != nil {
		return time.Time{}, false
	}
	for _, e := range entries {
		if t, _ := e.Details["topic"].(string); t == name {
			return e.Timestamp, true
		}
	}
	return time.Time{}, false
}

// CreateTopic validates spec, invokes admin create, and follows up with
// alter_configs when the spec carries non-default broker configs.
func (s *Service) CreateTopic(ctx context.Context, clusterID string, spec model.TopicSpec, userID string) (OpResult, error) {
	if err := spec.Validate(); err != nil {
		s.logAudit(ctx, clusterID, model.OpTopicCreateFailed, userID, map[string]any{"topic": spec.Name, "error": err.Error()})
		return OpResult{}, errs.Wrap(errs.KindValidation, "invalid topic spec", err)
	}

	entry, err := s.preflight(ctx, clusterID)
	if err != nil {
		s.logAudit(ctx, clusterID, model.OpTopicCreateFailed, userID, map[string]any{"topic": spec.Name, "error": err.Error()})
		return OpResult{}, err
	}

	var resp kadm.CreateTopicResponses
	err = entry.Call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = entry.Admin.CreateTopics(ctx, int32(spec.Partitions), int16(spec.ReplicationFactor), nil, spec.Name)
		return callErr
	})
	if err != nil {
		s.logAudit(ctx, clusterID, model.OpTopicCreateFailed, userID, map[string]any{"topic": spec.Name, "error": err.Error()})
		return OpResult{}, errs.Wrap(errs.KindTopicCreationFailed, "creating topic", err)
	}
	if len(resp) != 1 || resp[0].Err != nil {
		msg := "unexpected create response"
		if len(resp) == 1 {
			msg = resp[0].Err.Error()
		}
		s.logAudit(ctx, clusterID, model.OpTopicCreateFailed, userID, map[string]any{"topic": spec.Name, "error": msg})
		return OpResult{}, errs.New(errs.KindTopicCreationFailed, msg)
	}

	if brokerConfigs := brokerConfigOverrides(spec); len(brokerConfigs) > 0 {
		alters := configsToAlters(brokerConfigs)
		if err := entry.Call(ctx, func(ctx context.Context) error {
			_, callErr := entry.Admin.AlterTopicConfigs(ctx, alters, spec.Name)
			return callErr
		}); err != nil {
			s.logAudit(ctx, clusterID, model.OpTopicCreateFailed, userID, map[string]any{"topic": spec.Name, "error": err.Error()})
			return OpResult{}, errs.Wrap(errs.KindTopicCreationFailed, "applying broker configs after create", err)
		}
	}

	s.logAudit(ctx, clusterID, model.OpTopicCreate, userID, map[string]any{"topic": spec.Name})
	return OpResult{Success: true, Message: fmt.Sprintf("topic %q created", spec.Name)}, nil
}

func configsToAlters(configs map[string]string) []kadm.AlterConfig {
	alters := make([]kadm.AlterConfig, 0, len(configs))
	for k, v := range configs {
		v := v
		alters = append(alters, kadm.AlterConfig{Op: kadm.SetConfig, Name: k, Value: &v})
	}
	return alters
}

// ListTopics enumerates topics, filtering internal (double-underscore
// prefixed) names unless includeInternal is set.
func (s *Service) ListTopics(ctx context.Context, clusterID string, includeInternal bool, userID string) ([]string, error) {
	entry, err := s.preflight(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	var details kadm.TopicDetails
	err = entry.Call(ctx, func(ctx context.Context) error {
		var callErr error
		details, callErr = entry.Admin.ListTopics(ctx)
		return callErr
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageOperationFailed, "listing topics", err)
	}

	names := make([]string, 0, len(details))
	for name := range details {
		if !includeInternal && strings.HasPrefix(name, "__") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// DescribeTopic returns TopicDescription, or nil if the topic doesn't exist.
func (s *Service) DescribeTopic(ctx context.Context, clusterID, name, userID string) (*model.TopicDescription, error) {
	entry, err := s.preflight(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	var details kadm.TopicDetails
	err = entry.Call(ctx, func(ctx context.Context) error {
		var callErr error
		details, callErr = entry.Admin.ListTopics(ctx, name)
		return callErr
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageOperationFailed, "describing topic", err)
	}
	detail, ok := details[name]
	if !ok || detail.Err != nil {
		return nil, nil
	}

	var configs kadm.ResourceConfigs
	err = entry.Call(ctx, func(ctx context.Context) error {
		var callErr error
		configs, callErr = entry.Admin.DescribeTopicConfigs(ctx, name)
		return callErr
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageOperationFailed, "describing topic configs", err)
	}

	desc := &model.TopicDescription{
		Name:              name,
		Partitions:        len(detail.Partitions),
		ReplicationFactor: replicationFactorOf(detail),
		Config:            configMapOf(configs, name),
		PartitionDetails:  partitionDetailsOf(detail),
	}
	return desc, nil
}

func replicationFactorOf(detail kadm.TopicDetail) int {
	for _, p := range detail.Partitions {
		return len(p.Replicas)
	}
	return 0
}

func partitionDetailsOf(detail kadm.TopicDetail) []model.PartitionDetail {
	out := make([]model.PartitionDetail, 0, len(detail.Partitions))
	for id, p := range detail.Partitions {
		out = append(out, model.PartitionDetail{
			Partition: int(id),
			Leader:    p.Leader,
			Replicas:  p.Replicas,
			ISR:       p.ISR,
		})
	}
	return out
}

func configMapOf(configs kadm.ResourceConfigs, name string) map[string]string {
	out := map[string]string{}
	for _, rc := range configs {
		if rc.Name != name {
			continue
		}
		for _, cfg := range rc.Configs {
			if cfg.Value != nil {
				out[cfg.Key] = *cfg.Value
			}
		}
	}
	return out
}

// UpdateTopicConfig accepts only the updatable key set (spec §4.6).
func (s *Service) UpdateTopicConfig(ctx context.Context, clusterID, name string, configs map[string]string, userID string) (OpResult, error) {
	for k := range configs {
		if !updatableConfigs[k] {
			return OpResult{}, errs.New(errs.KindInvalidTopicConfig, fmt.Sprintf("config key %q is not updatable", k))
		}
	}

	entry, err := s.preflight(ctx, clusterID)
	if err != nil {
		return OpResult{}, err
	}

	err = entry.Call(ctx, func(ctx context.Context) error {
		_, callErr := entry.Admin.AlterTopicConfigs(ctx, configsToAlters(configs), name)
		return callErr
	})
	if err != nil {
		s.logAudit(ctx, clusterID, model.OpTopicConfigUpdate, userID, map[string]any{"topic": name, "error": err.Error()})
		return OpResult{}, errs.Wrap(errs.KindTopicConfigUpdateFailed, "altering topic configs", err)
	}

	s.logAudit(ctx, clusterID, model.OpTopicConfigUpdate, userID, map[string]any{"topic": name, "configs": configs})
	return OpResult{Success: true, Message: fmt.Sprintf("topic %q config updated", name)}, nil
}

// DeleteTopic treats not-found as success (spec §4.6).
func (s *Service) DeleteTopic(ctx context.Context, clusterID, name, userID string) (OpResult, error) {
	entry, err := s.preflight(ctx, clusterID)
	if err != nil {
		return OpResult{}, err
	}

	var resp kadm.DeleteTopicResponses
	err = entry.Call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = entry.Admin.DeleteTopics(ctx, name)
		return callErr
	})
	if err != nil {
		s.logAudit(ctx, clusterID, model.OpTopicDeleteFailed, userID, map[string]any{"topic": name, "error": err.Error()})
		return OpResult{}, errs.Wrap(errs.KindTopicDeletionFailed, "deleting topic", err)
	}
	if len(resp) == 1 && resp[0].Err != nil && !isUnknownTopicErr(resp[0].Err) {
		s.logAudit(ctx, clusterID, model.OpTopicDeleteFailed, userID, map[string]any{"topic": name, "error": resp[0].Err.Error()})
		return OpResult{}, errs.Wrap(errs.KindTopicDeletionFailed, "deleting topic", resp[0].Err)
	}

	s.logAudit(ctx, clusterID, model.OpTopicDelete, userID, map[string]any{"topic": name})
	return OpResult{Success: true, Message: fmt.Sprintf("topic %q deleted", name)}, nil
}

func isUnknownTopicErr(err error) bool {
	return strings.Contains(err.Error(), "UNKNOWN_TOPIC_OR_PARTITION") || strings.Contains(err.Error(), "unknown topic")
}

// PurgeTopic exploits Kafka's retention-driven deletion: it temporarily
// lowers retention.ms, sleeps long enough for the broker to apply it, then
// restores the original value (spec §4.6). A restore failure is a
// warning, never an error — the purge itself already succeeded.
func (s *Service) PurgeTopic(ctx context.Context, clusterID, name string, retentionMs int64, userID string) (OpResult, error) {
	if retentionMs < 1 || retentionMs > 60000 {
		return OpResult{}, errs.New(errs.KindValidation, "purge retention_ms must be between 1 and 60000")
	}

	entry, err := s.preflight(ctx, clusterID)
	if err != nil {
		return OpResult{}, err
	}

	original, err := s.currentRetentionMs(ctx, entry, name)
	if err != nil {
		return OpResult{}, err
	}

	lowered := strconv.FormatInt(retentionMs, 10)
	err = entry.Call(ctx, func(ctx context.Context) error {
		_, callErr := entry.Admin.AlterTopicConfigs(ctx, []kadm.AlterConfig{
			{Op: kadm.SetConfig, Name: "retention.ms", Value: &lowered},
		}, name)
		return callErr
	})
	if err != nil {
		return OpResult{}, errs.Wrap(errs.KindTopicConfigUpdateFailed, "lowering retention.ms for purge", err)
	}

	sleepSeconds := retentionMs / 1000
	if sleepSeconds < 5 {
		sleepSeconds = 5
	}
	select {
	case <-time.After(time.Duration(sleepSeconds) * time.Second):
	case <-ctx.Done():
		return OpResult{}, ctx.Err()
	}

	restored := strconv.FormatInt(original, 10)
	err = entry.Call(ctx, func(ctx context.Context) error {
		_, callErr := entry.Admin.AlterTopicConfigs(ctx, []kadm.AlterConfig{
			{Op: kadm.SetConfig, Name: "retention.ms", Value: &restored},
		}, name)
		return callErr
	})
	if err != nil {
		// Per spec §4.6: failure to restore is a warning, not an error.
		s.logAudit(ctx, clusterID, model.OpTopicPurge, userID, map[string]any{
			"topic": name, "restore_warning": err.Error(),
		})
		return OpResult{Success: true, Message: fmt.Sprintf("topic %q purged (retention.ms restore failed: %v)", name, err)}, nil
	}

	s.logAudit(ctx, clusterID, model.OpTopicPurge, userID, map[string]any{"topic": name, "original_retention_ms": original})
	return OpResult{Success: true, Message: fmt.Sprintf("topic %q purged", name)}, nil
}

func (s *Service) currentRetentionMs(ctx context.Context, entry *adminpool.Entry, name string) (int64, error) {
	var configs kadm.ResourceConfigs
	err := entry.Call(ctx, func(ctx context.Context) error {
		var callErr error
		configs, callErr = entry.Admin.DescribeTopicConfigs(ctx, name)
		return callErr
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindStorageOperationFailed, "reading current retention.ms", err)
	}
	for _, rc := range configs {
		if rc.Name != name {
			continue
		}
		for _, cfg := range rc.Configs {
			if cfg.Key == "retention.ms" && cfg.Value != nil {
				v, err := strconv.ParseInt(*cfg.Value, 10, 64)
				if err == nil {
					return v, nil
				}
			}
		}
	}
	return defaultRetentionMs, nil
}

// BulkCreateTopics creates each spec, returning a per-topic outcome map
// and logging one audit entry for the whole batch (spec §4.6).
func (s *Service) BulkCreateTopics(ctx context.Context, clusterID string, specs []model.TopicSpec, userID string) (map[string]OpResult, error) {
	entry, err := s.preflight(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	results := make(map[string]OpResult, len(specs))
	successful, failed := 0, 0
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			results[spec.Name] = OpResult{Error: err.Error()}
			failed++
			continue
		}
		var resp kadm.CreateTopicResponses
		err := entry.Call(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = entry.Admin.CreateTopics(ctx, int32(spec.Partitions), int16(spec.ReplicationFactor), nil, spec.Name)
			return callErr
		})
		if err != nil || len(resp) != 1 || resp[0].Err != nil {
			msg := errMessage(err, resp)
			results[spec.Name] = OpResult{Error: msg}
			failed++
			continue
		}
		results[spec.Name] = OpResult{Success: true, Message: "created"}
		successful++
	}

	s.logAudit(ctx, clusterID, model.OpTopicBulkCreate, userID, map[string]any{
		"total": len(specs), "successful": successful, "failed": failed,
	})
	return results, nil
}

func errMessage(err error, resp kadm.CreateTopicResponses) string {
	if err != nil {
		return err.Error()
	}
	if len(resp) == 1 && resp[0].Err != nil {
		return resp[0].Err.Error()
	}
	return "unexpected response"
}

// BulkDeleteTopics deletes each name, not-found counting as success per
// topic (spec §4.6's delete_topic contract extended to the batch form).
func (s *Service) BulkDeleteTopics(ctx context.Context, clusterID string, names []string, userID string) (map[string]OpResult, error) {
	entry, err := s.preflight(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	results := make(map[string]OpResult, len(names))
	successful, failed := 0, 0
	var resp kadm.DeleteTopicResponses
	err = entry.Call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = entry.Admin.DeleteTopics(ctx, names...)
		return callErr
	})
	if err != nil {
		for _, n := range names {
			results[n] = OpResult{Error: err.Error()}
		}
		s.logAudit(ctx, clusterID, model.OpTopicBulkDelete, userID, map[string]any{
			"total": len(names), "successful": 0, "failed": len(names),
		})
		return results, nil
	}

	for _, r := range resp {
		if r.Err != nil && !isUnknownTopicErr(r.Err) {
			results[r.Topic] = OpResult{Error: r.Err.Error()}
			failed++
			continue
		}
		results[r.Topic] = OpResult{Success: true, Message: "deleted"}
		successful++
	}

	s.logAudit(ctx, clusterID, model.OpTopicBulkDelete, userID, map[string]any{
		"total": len(names), "successful": successful, "failed": failed,
	})
	return results, nil
}

// GetClusterInfo describes the cluster: broker list, topic count, controller.
func (s *Service) GetClusterInfo(ctx context.Context, clusterID string) (*ClusterInfo, error) {
	entry, err := s.preflight(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	var meta kadm.Metadata
	err = entry.Call(ctx, func(ctx context.Context) error {
		var callErr error
		meta, callErr = entry.Admin.Metadata(ctx)
		return callErr
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageOperationFailed, "describing cluster", err)
	}

	brokers := make([]BrokerInfo, 0, len(meta.Brokers))
	for _, b := range meta.Brokers {
		brokers = append(brokers, BrokerInfo{ID: b.NodeID, Host: b.Host, Port: b.Port})
	}

	info := &ClusterInfo{
		ClusterID:   clusterID,
		BrokerCount: len(meta.Brokers),
		TopicCount:  len(meta.Topics),
		Brokers:     brokers,
	}
	if meta.Controller >= 0 {
		c := meta.Controller
		info.ControllerID = &c
	}
	return info, nil
}

// brokerConfigOverrides reports which non-default broker configs a
// TopicSpec carries, used to decide whether create_topic needs a
// follow-up alter_configs call (spec §4.6).
func brokerConfigOverrides(t model.TopicSpec) map[string]string {
	out := map[string]string{}
	if t.RetentionMs != 0 && t.RetentionMs != defaultRetentionMs {
		out["retention.ms"] = strconv.FormatInt(t.RetentionMs, 10)
	}
	if t.CleanupPolicy != "" && t.CleanupPolicy != model.CleanupDelete {
		out["cleanup.policy"] = string(t.CleanupPolicy)
	}
	if t.Compression != "" && t.Compression != model.CompressionNone {
		out["compression.type"] = string(t.Compression)
	}
	if t.MaxMessageBytes != 0 {
		out["max.message.bytes"] = strconv.Itoa(t.MaxMessageBytes)
	}
	if t.MinInsyncReplicas != 0 && t.MinInsyncReplicas != 1 {
		out["min.insync.replicas"] = strconv.Itoa(t.MinInsyncReplicas)
	}
	for k, v := range t.CustomConfigs {
		out[k] = v
	}
	return out
}
