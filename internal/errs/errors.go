// Package errs implements the agent's closed error taxonomy: every failure
// that crosses a subsystem boundary is an *Error carrying a stable Kind
// identifier, a human message, structured details, and an optional cause.
package errs

import "fmt"

// Kind is one of the closed set of error identifiers from spec §4.1. Kind
// strings are stable — they appear verbatim in HTTP bodies and must never
// be renamed once shipped.
type Kind string

const (
	// Generic
	KindInternal      Kind = "INTERNAL_ERROR"
	KindValidation    Kind = "VALIDATION_ERROR"
	KindConfiguration Kind = "CONFIGURATION_ERROR"

	// Identity
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindAuthorizationFailed  Kind = "AUTHORIZATION_FAILED"
	KindInvalidAPIKey        Kind = "INVALID_API_KEY"

	// Kafka transport
	KindKafkaConnectionError Kind = "KAFKA_CONNECTION_ERROR"
	KindKafkaTimeoutError    Kind = "KAFKA_TIMEOUT_ERROR"
	KindKafkaAuthNError      Kind = "KAFKA_AUTHN_ERROR"
	KindKafkaAuthZError      Kind = "KAFKA_AUTHZ_ERROR"

	// Topic
	KindTopicNotFound          Kind = "TOPIC_NOT_FOUND"
	KindTopicAlreadyExists     Kind = "TOPIC_ALREADY_EXISTS"
	KindTopicCreationFailed    Kind = "TOPIC_CREATION_FAILED"
	KindTopicDeletionFailed    Kind = "TOPIC_DELETION_FAILED"
	KindTopicConfigUpdateFailed Kind = "TOPIC_CONFIG_UPDATE_FAILED"
	KindInvalidTopicConfig     Kind = "INVALID_TOPIC_CONFIG"

	// Cluster
	KindClusterNotFound           Kind = "CLUSTER_NOT_FOUND"
	KindClusterNotAvailable       Kind = "CLUSTER_NOT_AVAILABLE"
	KindClusterProvisioningFailed Kind = "CLUSTER_PROVISIONING_FAILED"
	KindClusterDeprovisioningFailed Kind = "CLUSTER_DEPROVISIONING_FAILED"
	KindClusterHealthCheckFailed  Kind = "CLUSTER_HEALTH_CHECK_FAILED"
	KindInsufficientResources     Kind = "INSUFFICIENT_RESOURCES"
	KindConnectionFailed          Kind = "CONNECTION_FAILED"

	// Storage
	KindStorageConnectionFailed Kind = "STORAGE_CONNECTION_FAILED"
	KindStorageOperationFailed  Kind = "STORAGE_OPERATION_FAILED"
	KindMigrationFailed         Kind = "MIGRATION_FAILED"

	// Provider
	KindProviderNotFound            Kind = "PROVIDER_NOT_FOUND"
	KindProviderInitializationFailed Kind = "PROVIDER_INITIALIZATION_FAILED"
	KindProviderOperationFailed      Kind = "PROVIDER_OPERATION_FAILED"

	// Marketplace
	KindServiceNotFound       Kind = "SERVICE_NOT_FOUND"
	KindPlanNotFound          Kind = "PLAN_NOT_FOUND"
	KindInstanceNotFound      Kind = "INSTANCE_NOT_FOUND"
	KindInstanceAlreadyExists Kind = "INSTANCE_ALREADY_EXISTS"
	KindBindingNotSupported   Kind = "BINDING_NOT_SUPPORTED"
	KindOperationInProgress   Kind = "OPERATION_IN_PROGRESS"

	// Flow control
	KindRateLimitExceeded Kind = "RATE_LIMIT_EXCEEDED"
	KindRequestThrottled  Kind = "REQUEST_THROTTLED"

	// Cleanup / scheduling
	KindCleanupConflict Kind = "CLEANUP_CONFLICT"
	KindCleanupFailed   Kind = "CLEANUP_FAILED"
	KindSchedulerError  Kind = "SCHEDULER_ERROR"
)

// Error is the concrete type every taxonomy failure is represented as.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured details and returns the same error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Is reports whether err carries the given Kind. Non-*Error values never match.
func Is(err error, kind Kind) bool {
	var e *Error
	if err == nil {
		return false
	}
	if ae, ok := err.(*Error); ok {
		e = ae
	} else if u, ok := err.(interface{ Unwrap() error }); ok {
		return Is(u.Unwrap(), kind)
	} else {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, defaulting to KindInternal for
// non-taxonomy errors so every failure still maps to a valid wire status.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := err.(*Error); ok {
		return ae.Kind
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		if k := KindOf(u.Unwrap()); k != "" {
			return k
		}
	}
	return KindInternal
}

// nonRetryable is the set of kinds spec §4.1 names as never worth retrying.
var nonRetryable = map[Kind]bool{
	KindValidation:            true,
	KindAuthenticationFailed:  true,
	KindAuthorizationFailed:   true,
	KindTopicAlreadyExists:    true,
	KindInstanceAlreadyExists: true,
	KindTopicNotFound:         true,
	KindInstanceNotFound:      true,
}

// Retryable reports whether a failure of this kind should be retried by the
// resilience layer. All kinds not explicitly excluded are retryable.
func Retryable(kind Kind) bool {
	return !nonRetryable[kind]
}
