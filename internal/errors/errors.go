package errors

import (
	"errors"
	"fmt"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Sentinel errors returned by the control plane.
var (
	ErrDailyLimitReached   = errors.New("daily action limit reached")
	ErrCrashUnacknowledged = errors.New("previous session crashed; acknowledge before resuming")
	ErrVacation            = errors.New("vacation mode is enabled")
)

// ConfigurationError reports invalid quota, window, or probability bounds.
// It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

// NewConfigurationError builds a ConfigurationError for a config key.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Envelope converts the error into a structured envelope for exit logging.
func (e *ConfigurationError) Envelope() *gferrors.ErrorEnvelope {
	envelope := gferrors.NewErrorEnvelope("CONFIG_INVALID", e.Error())
	return envelope.WithDetails(map[string]interface{}{
		"field":  e.Field,
		"reason": e.Reason,
	})
}

// PersistenceError wraps a state read/write failure. In-memory state stays
// authoritative when one occurs.
type PersistenceError struct {
	Op  string
	Err error
}

// NewPersistenceError wraps err for the named operation.
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ActionExecutionFailure is surfaced by the executor collaborator.
type ActionExecutionFailure struct {
	TargetID string
	Kind     string
	Err      error
}

func (e *ActionExecutionFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("action on %s failed (%s)", e.TargetID, e.Kind)
	}
	return fmt.Sprintf("action on %s failed (%s): %v", e.TargetID, e.Kind, e.Err)
}

func (e *ActionExecutionFailure) Unwrap() error {
	return e.Err
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
