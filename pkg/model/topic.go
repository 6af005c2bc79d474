package model

import (
	"fmt"
	"strings"
)

// CleanupPolicy selects a topic's log cleanup strategy.
type CleanupPolicy string

const (
	CleanupDelete       CleanupPolicy = "delete"
	CleanupCompact      CleanupPolicy = "compact"
	CleanupCompactDelete CleanupPolicy = "compact+delete"
)

// Compression selects a topic's producer-side compression codec.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
	CompressionZstd   Compression = "zstd"
)

// RetentionInfinite is the sentinel retention_ms value meaning "never
// expire", distinct from an unset/zero value.
const RetentionInfinite = -1

// forbiddenTopicChars are the characters spec §3 disallows in a topic name.
const forbiddenTopicChars = "/\\,:\"';*?= \t\r\n\x00"

var validCleanupPolicies = map[CleanupPolicy]bool{
	CleanupDelete: true, CleanupCompact: true, CleanupCompactDelete: true,
}

var validCompressions = map[Compression]bool{
	CompressionNone: true, CompressionGzip: true, CompressionSnappy: true,
	CompressionLZ4: true, CompressionZstd: true,
}

// TopicSpec is a validated topic definition (spec §3).
type TopicSpec struct {
	Name              string            `json:"name"`
	Partitions        int               `json:"partitions"`
	ReplicationFactor int               `json:"replication_factor"`
	RetentionMs       int64             `json:"retention_ms"`
	CleanupPolicy     CleanupPolicy     `json:"cleanup_policy"`
	Compression       Compression       `json:"compression"`
	MaxMessageBytes   int               `json:"max_message_bytes"`
	MinInsyncReplicas int               `json:"min_insync_replicas"`
	CustomConfigs     map[string]string `json:"custom_configs,omitempty"`
}

const maxMessageBytesCeiling = 100 * 1024 * 1024 // 100 MiB

// Validate enforces every constraint spec §3 lists for TopicSpec. Every
// violation is returned together via a ValidationErrors so a caller can
// report the whole list, not just the first.
func (t *TopicSpec) Validate() error {
	var errs ValidationErrors

	if err := validateTopicName(t.Name); err != nil {
		errs = append(errs, err)
	}
	if t.Partitions < 1 || t.Partitions > 1000 {
		errs = append(errs, fmt.Errorf("partitions must be between 1 and 1000, got %d", t.Partitions))
	}
	if t.ReplicationFactor < 1 || t.ReplicationFactor > 10 {
		errs = append(errs, fmt.Errorf("replication_factor must be between 1 and 10, got %d", t.ReplicationFactor))
	}
	if t.RetentionMs != RetentionInfinite && t.RetentionMs < 1 {
		errs = append(errs, fmt.Errorf("retention_ms must be >=1 or the sentinel -1, got %d", t.RetentionMs))
	}
	if !validCleanupPolicies[t.CleanupPolicy] {
		errs = append(errs, fmt.Errorf("cleanup_policy %q is not one of delete, compact, compact+delete", t.CleanupPolicy))
	}
	if !validCompressions[t.Compression] {
		errs = append(errs, fmt.Errorf("compression %q is not a recognized codec", t.Compression))
	}
	if t.MaxMessageBytes < 1 || t.MaxMessageBytes > maxMessageBytesCeiling {
		errs = append(errs, fmt.Errorf("max_message_bytes must be between 1 and %d, got %d", maxMessageBytesCeiling, t.MaxMessageBytes))
	}
	if t.MinInsyncReplicas < 1 {
		errs = append(errs, fmt.Errorf("min_insync_replicas must be >=1, got %d", t.MinInsyncReplicas))
	} else if t.ReplicationFactor >= 1 && t.MinInsyncReplicas > t.ReplicationFactor {
		errs = append(errs, fmt.Errorf("min_insync_replicas (%d) must be <= replication_factor (%d)", t.MinInsyncReplicas, t.ReplicationFactor))
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// validateTopicName enforces spec §3's exact name rule: 1..249 chars,
// forbidden characters, forbidden literals "." and "..", and no "__"
// prefix (reserved for internal topics).
func validateTopicName(name string) error {
	if len(name) < 1 || len(name) > 249 {
		return fmt.Errorf("topic name length must be between 1 and 249 characters, got %d", len(name))
	}
	if name == "." || name == ".." {
		return fmt.Errorf("topic name %q is a forbidden literal", name)
	}
	if strings.HasPrefix(name, "__") {
		return fmt.Errorf("topic name %q uses the reserved __ prefix", name)
	}
	if strings.ContainsAny(name, forbiddenTopicChars) {
		return fmt.Errorf("topic name %q contains a forbidden character", name)
	}
	return nil
}

// ValidationErrors aggregates multiple validation failures into one error.
type ValidationErrors []error

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// PartitionDetail describes one partition's observable placement and
// replication state.
type PartitionDetail struct {
	Partition int     `json:"partition"`
	Leader    int32   `json:"leader"` // -1 when unassigned
	Replicas  []int32 `json:"replicas"`
	ISR       []int32 `json:"isr"`
}

// TopicDescription is observable topic state (spec §3).
type TopicDescription struct {
	Name              string            `json:"name"`
	Partitions        int               `json:"partitions"`
	ReplicationFactor int               `json:"replication_factor"`
	Config            map[string]string `json:"config"`
	PartitionDetails  []PartitionDetail `json:"partition_details"`
	MessageCount      *int64            `json:"message_count,omitempty"`
	TotalBytes        *int64            `json:"total_bytes,omitempty"`
}
