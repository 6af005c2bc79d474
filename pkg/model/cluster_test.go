package model

import "testing"

func validClusterConfig() ClusterConfig {
	return ClusterConfig{
		ClusterSize:           3,
		ReplicationFactor:     3,
		DefaultPartitionCount: 6,
		RetentionHours:        168,
		StorageGiBPerBroker:   100,
	}
}

func TestClusterConfigValidateAccepts(t *testing.T) {
	cc := validClusterConfig()
	if err := cc.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestClusterConfigReplicationFactorMustNotExceedClusterSize(t *testing.T) {
	cc := validClusterConfig()
	cc.ClusterSize = 2
	cc.ReplicationFactor = 3
	if err := cc.Validate(); err == nil {
		t.Errorf("expected error when replication_factor exceeds cluster_size")
	}
}

func TestClusterConfigBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ClusterConfig)
		wantErr bool
	}{
		{"cluster_size zero", func(c *ClusterConfig) { c.ClusterSize = 0 }, true},
		{"cluster_size eleven", func(c *ClusterConfig) { c.ClusterSize = 11 }, true},
		{"retention_hours zero", func(c *ClusterConfig) { c.RetentionHours = 0 }, true},
		{"retention_hours over ceiling", func(c *ClusterConfig) { c.RetentionHours = 8761 }, true},
		{"storage zero", func(c *ClusterConfig) { c.StorageGiBPerBroker = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc := validClusterConfig()
			tt.mutate(&cc)
			err := cc.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}
