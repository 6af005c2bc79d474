package model

import (
	"testing"
	"time"
)

func TestServiceInstanceValidateRunningRequiresConnectionInfo(t *testing.T) {
	inst := &ServiceInstance{InstanceID: "i-1", Status: StatusRunning}
	if err := inst.Validate(); err == nil {
		t.Errorf("expected error: running without connection_info")
	}
	inst.ConnectionInfo = &ConnectionInfo{BootstrapEndpoints: []string{"broker:9092"}}
	if err := inst.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestServiceInstanceValidateErrorRequiresMessage(t *testing.T) {
	inst := &ServiceInstance{InstanceID: "i-1", Status: StatusError}
	if err := inst.Validate(); err == nil {
		t.Errorf("expected error: error status without error_message")
	}
	inst.ErrorMessage = "provisioning timed out"
	if err := inst.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestServiceInstanceTransitionToRunningRequiresConnectionInfo(t *testing.T) {
	inst := &ServiceInstance{InstanceID: "i-1", Status: StatusCreating}
	if err := inst.TransitionTo(StatusRunning, "", time.Now()); err == nil {
		t.Errorf("expected error transitioning to running without connection_info")
	}
}

func TestServiceInstanceTransitionToErrorRequiresMessage(t *testing.T) {
	inst := &ServiceInstance{InstanceID: "i-1", Status: StatusCreating}
	if err := inst.TransitionTo(StatusError, "", time.Now()); err == nil {
		t.Errorf("expected error transitioning to error without message")
	}
	if err := inst.TransitionTo(StatusError, "boom", time.Now()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if inst.ErrorMessage != "boom" {
		t.Errorf("expected error_message to be set")
	}
}

func TestServiceInstanceTouchIsMonotonic(t *testing.T) {
	now := time.Now()
	inst := &ServiceInstance{InstanceID: "i-1", UpdatedAt: now}
	inst.Touch(now)
	if !inst.UpdatedAt.After(now) {
		t.Errorf("expected Touch with same timestamp to still advance UpdatedAt")
	}
}
