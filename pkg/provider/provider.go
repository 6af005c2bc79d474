// Package provider implements the three runtime backends of spec §4.4:
// container-engine, orchestrator (Kubernetes) and IaaS. Each is polymorphic
// over the same five-method Runtime contract; Kind only identifies
// which one a ServiceInstance was provisioned with.
package provider

import (
	"context"
	"time"

	"github.com/kafkaops/agent/pkg/model"
)

// ProvisionStatus is the outcome of an asynchronous provisioning attempt.
type ProvisionStatus string

const (
	StatusPending    ProvisionStatus = "pending"
	StatusInProgress ProvisionStatus = "in_progress"
	StatusSucceeded  ProvisionStatus = "succeeded"
	StatusFailed     ProvisionStatus = "failed"
)

// ProvisionResult is returned by Provision.
type ProvisionResult struct {
	Status         ProvisionStatus
	InstanceID     string
	ConnectionInfo *model.ConnectionInfo
	Error          string
}

// DeprovisionResult is returned by Deprovision.
type DeprovisionResult struct {
	Status ProvisionStatus
	Error  string
}

// Runtime is the five-method contract every backend presents (spec
// §4.4). Kept distinct from Kind: Kind says which Runtime to build, Runtime
// is what a built provider does.
type Runtime interface {
	Provision(ctx context.Context, instanceID string, cfg model.ClusterConfig) (ProvisionResult, error)
	Deprovision(ctx context.Context, instanceID string) (DeprovisionResult, error)
	GetStatus(ctx context.Context, instanceID string) (ProvisionStatus, error)
	GetConnectionInfo(ctx context.Context, instanceID string) (*model.ConnectionInfo, error)
	HealthCheck(ctx context.Context, instanceID string) bool
}

// Kind names which Runtime backs a given instance. It is an alias of
// model.RuntimeProviderKind, and the constants below re-export model's
// values.
type Kind = model.RuntimeProviderKind

const (
	KindContainerEngine = model.ProviderContainerEngine
	KindOrchestrator    = model.ProviderOrchestrator
	KindIaaS            = model.ProviderIaaS
)

// Standard ports a Kafka-like cluster exposes (spec §4.4's firewall rule
// and broker/coordinator probes all reference these).
const (
	CoordinatorPort     = 2181
	CoordinatorPeerLow  = 2888
	CoordinatorPeerHigh = 3888
	BrokerBasePort      = 9092
	SSHPort             = 22
)

// readinessPoll is the base wait unit of the container-engine and
// orchestrator providers; both wait five times it (10s) between readiness
// checks while workloads come up.
const readinessPoll = 2 * time.Second
