// Package model holds the data types the core operates on: service
// instances, audit entries, topic specs, cluster configs and scheduled
// tasks (spec §3).
package model

import (
	"fmt"
	"time"
)

// InstanceStatus is one of a ServiceInstance's lifecycle states.
type InstanceStatus string

const (
	StatusPending  InstanceStatus = "pending"
	StatusCreating InstanceStatus = "creating"
	StatusRunning  InstanceStatus = "running"
	StatusStopping InstanceStatus = "stopping"
	StatusStopped  InstanceStatus = "stopped"
	StatusError    InstanceStatus = "error"
)

// RuntimeProviderKind identifies which provider backs a ServiceInstance.
// Kept distinct from provider.Runtime (the capability interface) per
// spec §9's open question: the enum and the interface are two things.
type RuntimeProviderKind string

const (
	ProviderContainerEngine RuntimeProviderKind = "container-engine"
	ProviderOrchestrator    RuntimeProviderKind = "orchestrator"
	ProviderIaaS            RuntimeProviderKind = "iaas"
)

// SASLMechanism enumerates the supported SASL authentication mechanisms.
type SASLMechanism string

const (
	SASLPlain       SASLMechanism = "PLAIN"
	SASLScramSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLScramSHA512 SASLMechanism = "SCRAM-SHA-512"
	SASLGSSAPI      SASLMechanism = "GSSAPI"
)

// SSLMaterial holds optional TLS material for cluster connections.
type SSLMaterial struct {
	KeystorePath   string `json:"keystore_path,omitempty"`
	TruststorePath string `json:"truststore_path,omitempty"`
	KeyPassword    string `json:"key_password,omitempty"`
}

// SASLMaterial holds optional SASL credentials for cluster connections.
type SASLMaterial struct {
	Mechanism SASLMechanism `json:"mechanism"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
}

// ConnectionInfo is present once a ServiceInstance has ever reached
// status=running, and is never cleared afterward even if the instance
// later errors (spec §3 invariant (a) only requires it be non-empty while
// running; it is intentionally retained through later transitions so an
// operator can see the last-known endpoints).
type ConnectionInfo struct {
	BootstrapEndpoints []string      `json:"bootstrap_endpoints"`
	CoordinatorConn    string        `json:"coordinator_conn"`
	SSL                *SSLMaterial  `json:"ssl,omitempty"`
	SASL               *SASLMaterial `json:"sasl,omitempty"`
}

// ServiceInstance represents one provisioned Kafka cluster (spec §3).
type ServiceInstance struct {
	InstanceID      string               `json:"instance_id"`
	ServiceID       string               `json:"service_id"`
	PlanID          string               `json:"plan_id"`
	TenantScope     string               `json:"tenant_scope"`
	Parameters      map[string]any       `json:"parameters"`
	Status          InstanceStatus       `json:"status"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	RuntimeProvider RuntimeProviderKind  `json:"runtime_provider"`
	RuntimeConfig   map[string]any       `json:"runtime_config"`
	ConnectionInfo  *ConnectionInfo      `json:"connection_info,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
}

// recognizedPlans enumerates the catalog's valid plan identifiers.
var recognizedPlans = map[string]bool{"basic": true, "standard": true, "premium": true}

// Validate checks the data-model invariants spec §3 calls out:
// (a) status=running implies non-nil ConnectionInfo,
// (b) status=error implies a non-empty ErrorMessage.
// It does not check (c) (deletion semantics), which is a store concern.
func (s *ServiceInstance) Validate() error {
	if s.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if s.PlanID != "" && !recognizedPlans[s.PlanID] {
		return fmt.Errorf("plan_id %q is not one of basic, standard, premium", s.PlanID)
	}
	if s.Status == StatusRunning && s.ConnectionInfo == nil {
		return fmt.Errorf("status=running requires non-empty connection_info")
	}
	if s.Status == StatusError && s.ErrorMessage == "" {
		return fmt.Errorf("status=error requires a non-empty error_message")
	}
	return nil
}

// Touch advances UpdatedAt. Callers should call this on every mutation so
// UpdatedAt stays monotonic across updates (spec §3: "monotonic at
// update").
func (s *ServiceInstance) Touch(now time.Time) {
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Nanosecond)
	}
	s.UpdatedAt = now
}

// TransitionTo moves the instance to a new status, enforcing the
// error_message invariant; callers are responsible for setting
// ConnectionInfo before transitioning to running.
func (s *ServiceInstance) TransitionTo(status InstanceStatus, errMsg string, now time.Time) error {
	if status == StatusRunning && s.ConnectionInfo == nil {
		return fmt.Errorf("cannot transition to running without connection_info")
	}
	if status == StatusError && errMsg == "" {
		return fmt.Errorf("cannot transition to error without an error_message")
	}
	s.Status = status
	if status == StatusError {
		s.ErrorMessage = errMsg
	}
	s.Touch(now)
	return nil
}
