package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kafkaops/agent/pkg/model"
	"github.com/kafkaops/agent/pkg/orchestrator"
	"github.com/kafkaops/agent/pkg/store"
	"github.com/kafkaops/agent/pkg/topic"
)

// topicLister is the narrow slice of *topic.Service a cleanup handler needs.
type topicLister interface {
	ListTopics(ctx context.Context, clusterID string, includeInternal bool, userID string) ([]string, error)
	DescribeTopic(ctx context.Context, clusterID, name, userID string) (*model.TopicDescription, error)
	BulkDeleteTopics(ctx context.Context, clusterID string, names []string, userID string) (map[string]topic.OpResult, error)
	GetClusterInfo(ctx context.Context, clusterID string) (*topic.ClusterInfo, error)
	TopicCreatedAt(ctx context.Context, clusterID, name string) (time.Time, bool)
}

// TopicCleanupHandler implements the topic-cleanup task (spec §4.8): list
// topics in the target cluster, select candidates whose name matches
// retention_pattern or whose observable metadata (the topic's
// topic_create audit timestamp, the only age signal Kafka's admin
// protocol exposes) is older than max_age_hours, report-only when
// dry_run, else delete and count outcomes.
func TopicCleanupHandler(topics topicLister) Handler {
	return func(ctx context.Context, task *model.ScheduledTask) (map[string]any, error) {
		clusterID := paramString(task.Parameters, "target_cluster", task.TargetCluster)
		if clusterID == "" {
			return nil, fmt.Errorf("topic-cleanup requires target_cluster")
		}
		dryRun, _ := task.Parameters["dry_run"].(bool)
		pattern, _ := task.Parameters["retention_pattern"].(string)
		maxAgeHours, _ := task.Parameters["max_age_hours"].(float64)

		names, err := topics.ListTopics(ctx, clusterID, false, "scheduler")
		if err != nil {
			return nil, fmt.Errorf("listing topics: %w", err)
		}

		var threshold time.Time
		checkAge := maxAgeHours > 0
		if checkAge {
			threshold = time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
		}

		var candidates []string
		for _, name := range names {
			if pattern != "" && strings.Contains(name, pattern) {
				candidates = append(candidates, name)
				continue
			}
			if checkAge {
				if createdAt, ok := topics.TopicCreatedAt(ctx, clusterID, name); ok && createdAt.Before(threshold) {
					candidates = append(candidates, name)
				}
			}
		}

		result := map[string]any{
			"topics_evaluated":  len(names),
			"topics_identified": len(candidates),
			"dry_run":           dryRun,
			"topics_to_cleanup": candidates,
		}

		if dryRun || len(candidates) == 0 {
			result["topics_cleaned"] = 0
			return result, nil
		}

		outcomes, err := topics.BulkDeleteTopics(ctx, clusterID, candidates, "scheduler")
		if err != nil {
			return nil, fmt.Errorf("bulk-deleting candidates: %w", err)
		}
		cleaned := 0
		for _, o := range outcomes {
			if o.Success {
				cleaned++
			}
		}
		result["topics_cleaned"] = cleaned
		return result, nil
	}
}

// instanceLister is the narrow slice of *orchestrator.Orchestrator a
// cluster-cleanup handler needs.
type instanceLister interface {
	CleanupFailedInstances(ctx context.Context) (int, error)
}

// ClusterCleanupHandler implements the cluster-cleanup task (spec §4.8):
// enumerate instances with status=error, count those older than
// max_age_hours, and, unless dry_run, delegate the actual
// provider-deprovision-then-delete to the orchestrator (which already
// scopes CleanupFailedInstances to status=error rows).
func ClusterCleanupHandler(orch instanceLister, metadata store.MetadataStore) Handler {
	return func(ctx context.Context, task *model.ScheduledTask) (map[string]any, error) {
		maxAgeHours, _ := task.Parameters["max_age_hours"].(float64)
		dryRun, _ := task.Parameters["dry_run"].(bool)

		failed, err := metadata.ListByStatus(ctx, model.StatusError)
		if err != nil {
			return nil, fmt.Errorf("listing failed instances: %w", err)
		}

		threshold := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
		old := 0
		for _, inst := range failed {
			if inst.UpdatedAt.Before(threshold) {
				old++
			}
		}

		result := map[string]any{
			"failed_instances":     len(failed),
			"old_failed_instances": old,
			"dry_run":              dryRun,
		}
		if dryRun {
			result["cleaned_instances"] = 0
			return result, nil
		}

		cleaned, err := orch.CleanupFailedInstances(ctx)
		if err != nil {
			return nil, fmt.Errorf("cleaning up failed instances: %w", err)
		}
		result["cleaned_instances"] = cleaned
		return result, nil
	}
}

// clusterInfoGetter is the narrow slice of *topic.Service a health-check
// handler needs.
type clusterInfoGetter interface {
	GetClusterInfo(ctx context.Context, clusterID string) (*topic.ClusterInfo, error)
}

// HealthCheckHandler implements the health-check task (spec §4.8).
func HealthCheckHandler(topics clusterInfoGetter) Handler {
	return func(ctx context.Context, task *model.ScheduledTask) (map[string]any, error) {
		clusterID := paramString(task.Parameters, "target_cluster", task.TargetCluster)
		if clusterID == "" {
			return nil, fmt.Errorf("health-check requires target_cluster")
		}

		info, err := topics.GetClusterInfo(ctx, clusterID)
		if err != nil {
			return map[string]any{"cluster_accessible": false}, nil
		}
		return map[string]any{
			"cluster_accessible": true,
			"broker_count":       info.BrokerCount,
			"topic_count":        info.TopicCount,
		}, nil
	}
}

func paramString(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// compile-time interface satisfaction checks.
var (
	_ topicLister     = (*topic.Service)(nil)
	_ instanceLister  = (*orchestrator.Orchestrator)(nil)
	_ clusterInfoGetter = (*topic.Service)(nil)
)
