package model

import "fmt"

// ClusterConfig is validated provisioning input (spec §3).
type ClusterConfig struct {
	ClusterSize           int               `json:"cluster_size"`
	ReplicationFactor     int               `json:"replication_factor"`
	DefaultPartitionCount int               `json:"default_partition_count"`
	RetentionHours        int               `json:"retention_hours"`
	StorageGiBPerBroker   int               `json:"storage_gib_per_broker"`
	SSLEnabled            bool              `json:"ssl_enabled"`
	SASLEnabled           bool              `json:"sasl_enabled"`
	CustomBrokerProps     map[string]string `json:"custom_broker_props,omitempty"`
}

// Validate enforces spec §3's ClusterConfig constraints, including the
// cross-field invariant replication_factor <= cluster_size.
func (c *ClusterConfig) Validate() error {
	var errs ValidationErrors

	if c.ClusterSize < 1 || c.ClusterSize > 10 {
		errs = append(errs, fmt.Errorf("cluster_size must be between 1 and 10, got %d", c.ClusterSize))
	}
	if c.ReplicationFactor < 1 || c.ReplicationFactor > 10 {
		errs = append(errs, fmt.Errorf("replication_factor must be between 1 and 10, got %d", c.ReplicationFactor))
	}
	if c.ClusterSize >= 1 && c.ReplicationFactor > c.ClusterSize {
		errs = append(errs, fmt.Errorf("replication_factor (%d) must be <= cluster_size (%d)", c.ReplicationFactor, c.ClusterSize))
	}
	if c.DefaultPartitionCount < 1 || c.DefaultPartitionCount > 1000 {
		errs = append(errs, fmt.Errorf("default_partition_count must be between 1 and 1000, got %d", c.DefaultPartitionCount))
	}
	if c.RetentionHours < 1 || c.RetentionHours > 8760 {
		errs = append(errs, fmt.Errorf("retention_hours must be between 1 and 8760, got %d", c.RetentionHours))
	}
	if c.StorageGiBPerBroker < 1 {
		errs = append(errs, fmt.Errorf("storage_gib_per_broker must be >=1, got %d", c.StorageGiBPerBroker))
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
