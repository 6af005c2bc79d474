package errs

import "net/http"

// httpStatus is the canonical Kind → HTTP status mapping from spec §4.1/§7.
var httpStatus = map[Kind]int{
	KindInternal:      http.StatusInternalServerError,
	KindValidation:    http.StatusBadRequest,
	KindConfiguration: http.StatusInternalServerError,

	KindAuthenticationFailed: http.StatusUnauthorized,
	KindAuthorizationFailed:  http.StatusForbidden,
	KindInvalidAPIKey:        http.StatusUnauthorized,

	KindKafkaConnectionError: http.StatusBadGateway,
	KindKafkaTimeoutError:    http.StatusGatewayTimeout,
	KindKafkaAuthNError:      http.StatusUnauthorized,
	KindKafkaAuthZError:      http.StatusForbidden,

	KindTopicNotFound:           http.StatusNotFound,
	KindTopicAlreadyExists:      http.StatusConflict,
	KindTopicCreationFailed:     http.StatusBadGateway,
	KindTopicDeletionFailed:     http.StatusBadGateway,
	KindTopicConfigUpdateFailed: http.StatusBadGateway,
	KindInvalidTopicConfig:      http.StatusBadRequest,

	KindClusterNotFound:             http.StatusNotFound,
	KindClusterNotAvailable:         http.StatusServiceUnavailable,
	KindClusterProvisioningFailed:   http.StatusBadGateway,
	KindClusterDeprovisioningFailed: http.StatusBadGateway,
	KindClusterHealthCheckFailed:    http.StatusServiceUnavailable,
	KindInsufficientResources:       http.StatusUnprocessableEntity,
	KindConnectionFailed:            http.StatusServiceUnavailable,

	KindStorageConnectionFailed: http.StatusServiceUnavailable,
	KindStorageOperationFailed:  http.StatusInternalServerError,
	KindMigrationFailed:         http.StatusInternalServerError,

	KindProviderNotFound:             http.StatusNotFound,
	KindProviderInitializationFailed: http.StatusInternalServerError,
	KindProviderOperationFailed:      http.StatusBadGateway,

	KindServiceNotFound:       http.StatusNotFound,
	KindPlanNotFound:          http.StatusNotFound,
	KindInstanceNotFound:      http.StatusGone,
	KindInstanceAlreadyExists: http.StatusConflict,
	KindBindingNotSupported:   http.StatusUnprocessableEntity,
	KindOperationInProgress:   http.StatusConflict,

	KindRateLimitExceeded: http.StatusTooManyRequests,
	KindRequestThrottled:  http.StatusTooManyRequests,

	KindCleanupConflict: http.StatusConflict,
	KindCleanupFailed:   http.StatusInternalServerError,
	KindSchedulerError:  http.StatusInternalServerError,
}

// HTTPStatus returns the canonical HTTP status code for a Kind, defaulting to
// 500 for unmapped or empty kinds.
func HTTPStatus(kind Kind) int {
	if status, ok := httpStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}
