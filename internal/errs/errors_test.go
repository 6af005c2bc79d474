package errs

import (
	"errors"
	"net/http"
	"testing"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindValidation, false},
		{KindAuthenticationFailed, false},
		{KindTopicAlreadyExists, false},
		{KindInstanceNotFound, false},
		{KindKafkaConnectionError, true},
		{KindInternal, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := Retryable(tt.kind); got != tt.want {
				t.Errorf("Retryable(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestIsAndWrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindTopicNotFound, "topic missing", cause)

	if !Is(err, KindTopicNotFound) {
		t.Fatalf("expected Is to match KindTopicNotFound")
	}
	if Is(err, KindInternal) {
		t.Fatalf("expected Is not to match KindInternal")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to unwrap to cause")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" {
		t.Errorf("KindOf(nil) should be empty")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Errorf("KindOf(plain error) should default to KindInternal")
	}
	wrapped := Wrap(KindValidation, "bad", errors.New("x"))
	if KindOf(wrapped) != KindValidation {
		t.Errorf("KindOf(wrapped) = %s, want %s", KindOf(wrapped), KindValidation)
	}
}

func TestHTTPStatus(t *testing.T) {
	if HTTPStatus(KindValidation) != http.StatusBadRequest {
		t.Errorf("expected 400 for VALIDATION_ERROR")
	}
	if HTTPStatus(KindInstanceNotFound) != http.StatusGone {
		t.Errorf("expected 410 for INSTANCE_NOT_FOUND")
	}
	if HTTPStatus("") != http.StatusInternalServerError {
		t.Errorf("expected 500 default for unmapped kind")
	}
}

func TestMaskDetails(t *testing.T) {
	details := map[string]any{
		"username": "alice",
		"password": "hunter2",
		"sasl": map[string]any{
			"auth_token": "abc123",
			"mechanism":  "PLAIN",
		},
	}

	masked := MaskDetails(details, false)
	if masked["password"] != maskedValue {
		t.Errorf("expected password to be masked")
	}
	if masked["username"] != "alice" {
		t.Errorf("expected username to be preserved")
	}
	nested := masked["sasl"].(map[string]any)
	if nested["auth_token"] != maskedValue {
		t.Errorf("expected nested auth_token to be masked")
	}
	if nested["mechanism"] != "PLAIN" {
		t.Errorf("expected nested mechanism to be preserved")
	}

	revealed := MaskDetails(details, true)
	if revealed["password"] != "hunter2" {
		t.Errorf("expected reveal=true to skip masking")
	}
}
