package model

import "testing"

func validTopicSpec() TopicSpec {
	return TopicSpec{
		Name:              "orders.events",
		Partitions:        6,
		ReplicationFactor: 3,
		RetentionMs:       604800000,
		CleanupPolicy:     CleanupDelete,
		Compression:       CompressionLZ4,
		MaxMessageBytes:   1024 * 1024,
		MinInsyncReplicas: 2,
	}
}

func TestTopicSpecValidateAccepts(t *testing.T) {
	ts := validTopicSpec()
	if err := ts.Validate(); err != nil {
		t.Fatalf("expected valid spec, got %v", err)
	}
}

func TestTopicSpecValidateAcceptsInfiniteRetention(t *testing.T) {
	ts := validTopicSpec()
	ts.RetentionMs = RetentionInfinite
	if err := ts.Validate(); err != nil {
		t.Fatalf("expected -1 retention to validate, got %v", err)
	}
}

func TestTopicSpecNameRules(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{"simple name ok", "orders", false},
		{"dotted name ok", "orders.events", false},
		{"single dot forbidden", ".", true},
		{"double dot forbidden", "..", true},
		{"reserved internal prefix", "__consumer_offsets", true},
		{"space forbidden", "orders events", true},
		{"slash forbidden", "orders/events", true},
		{"empty name", "", true},
		{"too long", string(make([]byte, 250)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := validTopicSpec()
			ts.Name = tt.topic
			err := ts.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("expected validation error for name %q", tt.topic)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error for name %q: %v", tt.topic, err)
			}
		})
	}
}

func TestTopicSpecPartitionBounds(t *testing.T) {
	ts := validTopicSpec()
	ts.Partitions = 0
	if err := ts.Validate(); err == nil {
		t.Errorf("expected error for 0 partitions")
	}
	ts.Partitions = 1001
	if err := ts.Validate(); err == nil {
		t.Errorf("expected error for 1001 partitions")
	}
}

func TestTopicSpecMinInsyncReplicasMustNotExceedReplicationFactor(t *testing.T) {
	ts := validTopicSpec()
	ts.ReplicationFactor = 2
	ts.MinInsyncReplicas = 3
	if err := ts.Validate(); err == nil {
		t.Errorf("expected error when min_insync_replicas exceeds replication_factor")
	}
}

func TestTopicSpecValidateReportsMultipleErrors(t *testing.T) {
	ts := TopicSpec{Name: "..", Partitions: 0, ReplicationFactor: 0, RetentionMs: 0, MaxMessageBytes: 0, MinInsyncReplicas: 0}
	err := ts.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) < 5 {
		t.Errorf("expected at least 5 violations reported together, got %d: %v", len(verrs), verrs)
	}
}
