package models

import (
	"errors"
	"fmt"
)

// FailureClass partitions delivery and device errors by how the system
// reacts to them.
type FailureClass string

const (
	// FailureTransient marks an unreachable target. Retried per the
	// dispatcher's budget; demotes the target state.
	FailureTransient FailureClass = "transient_unavailable"
	// FailureAuthRejected marks refused credentials. Logged, target marked
	// down, not retried within the same cycle.
	FailureAuthRejected FailureClass = "auth_rejected"
	// FailureValidation marks a payload/schema mismatch. Triggers a
	// transport fallback rather than a raw retry of the same transport.
	FailureValidation FailureClass = "validation_rejected"
	// FailureHardwareAbsent marks a missing printer/camera/gate. The
	// feature is skipped; never fatal to the event pipeline.
	FailureHardwareAbsent FailureClass = "hardware_absent"
	// FailureMalformed marks an unrecognized device line. Rejected and
	// logged, never raised up the ingestion loop.
	FailureMalformed FailureClass = "protocol_malformed"
)

// DeliveryError wraps an underlying error with its failure class and the
// target it concerns.
type DeliveryError struct {
	Class  FailureClass
	Target Target
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Target, e.Class)
	}
	return fmt.Sprintf("%s: %s: %v", e.Target, e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewDeliveryError builds a classified error for a target.
func NewDeliveryError(class FailureClass, target Target, err error) *DeliveryError {
	return &DeliveryError{Class: class, Target: target, Err: err}
}

// ClassOf extracts the failure class from err, defaulting to transient for
// unclassified errors so unknown failures stay retryable.
func ClassOf(err error) FailureClass {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Class
	}
	return FailureTransient
}
