package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kafkaops/agent/internal/errs"
)

// statusForKind maps a taxonomy Kind onto its canonical HTTP status (spec
// §4.1/§7: "status-code mapping is canonical").
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation, errs.KindInvalidTopicConfig, errs.KindConfiguration:
		return http.StatusBadRequest
	case errs.KindAuthenticationFailed, errs.KindInvalidAPIKey:
		return http.StatusUnauthorized
	case errs.KindAuthorizationFailed, errs.KindKafkaAuthZError:
		return http.StatusForbidden
	case errs.KindTopicNotFound, errs.KindClusterNotFound, errs.KindInstanceNotFound,
		errs.KindServiceNotFound, errs.KindPlanNotFound, errs.KindProviderNotFound:
		return http.StatusNotFound
	case errs.KindTopicAlreadyExists, errs.KindInstanceAlreadyExists, errs.KindOperationInProgress:
		return http.StatusConflict
	case errs.KindBindingNotSupported:
		return http.StatusUnprocessableEntity
	case errs.KindRateLimitExceeded, errs.KindRequestThrottled:
		return http.StatusTooManyRequests
	case errs.KindClusterNotAvailable, errs.KindConnectionFailed, errs.KindKafkaConnectionError,
		errs.KindKafkaTimeoutError, errs.KindStorageConnectionFailed, errs.KindInsufficientResources:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TopicAPIError is the topic-management adapter's error envelope (spec §7:
// `{success:false, error_code, message, details?, timestamp, http_status}`).
type TopicAPIError struct {
	Success    bool           `json:"success"`
	ErrorCode  string         `json:"error_code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  string         `json:"timestamp"`
	HTTPStatus int            `json:"http_status"`
}

// BrokerError is the service-marketplace adapter's error envelope: the
// widely-deployed service-broker protocol's plain `{error, description}`.
type BrokerError struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
}

// sensitiveKeyFragments are substrings that mark a details key as sensitive
// (spec §7: password/secret/key/token/credential substrings get masked).
var sensitiveKeyFragments = []string{"password", "secret", "key", "token", "credential"}

const maskedValue = "***MASKED***"

func maskDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	masked := make(map[string]any, len(details))
	for k, v := range details {
		lower := strings.ToLower(k)
		sensitive := false
		for _, frag := range sensitiveKeyFragments {
			if strings.Contains(lower, frag) {
				sensitive = true
				break
			}
		}
		if sensitive {
			masked[k] = maskedValue
		} else {
			masked[k] = v
		}
	}
	return masked
}

// RespondTopicAPIError converts err into the topic-API's JSON error shape
// and writes it with the matching HTTP status. Retry-relevant rate-limit
// errors also set Retry-After (spec §7).
func RespondTopicAPIError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()

	var details map[string]any
	if ae, ok := err.(*errs.Error); ok {
		message = ae.Message
		details = maskDetails(ae.Details)
		if retry, ok := details["retry_after_seconds"]; ok {
			if secs, ok := retry.(int); ok {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
	}

	Respond(w, status, TopicAPIError{
		Success:    false,
		ErrorCode:  string(kind),
		Message:    message,
		Details:    details,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		HTTPStatus: status,
	})
}

// RespondBrokerError converts err into the service-broker's `{error,
// description}` shape and writes it with the caller-supplied status; the
// broker handlers choose each status themselves (e.g. 410 Gone for
// INSTANCE_NOT_FOUND).
func RespondBrokerError(w http.ResponseWriter, status int, err error) {
	Respond(w, status, BrokerError{
		Error:       string(errs.KindOf(err)),
		Description: err.Error(),
	})
}
