package tactile

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientContact is matched by errors returned when a frame has
	// fewer contact pixels than MinContactPoints.
	ErrInsufficientContact = errors.New("insufficient contact")

	// ErrRegistrationFailed is matched by numerical failures inside a backend
	// and by insufficient contact.
	ErrRegistrationFailed = errors.New("registration failed")

	// ErrBackendUnavailable is returned for backend kinds with no implementation.
	ErrBackendUnavailable = errors.New("registration backend unavailable")

	// ErrShapeMismatch is returned when grids or sequences do not line up.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// InsufficientContactError reports a masked point set below the minimum size.
type InsufficientContactError struct {
	Role   string // "reference" or "target"
	Points int
	Min    int
}

func (e *InsufficientContactError) Error() string {
	return fmt.Sprintf("%s frame has %d contact points, need at least %d", e.Role, e.Points, e.Min)
}

// Is reports whether target is ErrInsufficientContact. Too little contact
// is also a registration failure.
func (e *InsufficientContactError) Is(target error) bool {
	return target == ErrInsufficientContact || target == ErrRegistrationFailed
}

// RegistrationError wraps a numerical failure from a backend stage.
type RegistrationError struct {
	Backend Kind
	Stage   string
	Err     error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s registration failed during %s: %v", e.Backend, e.Stage, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRegistrationFailed.
func (e *RegistrationError) Is(target error) bool {
	return target == ErrRegistrationFailed
}

func registrationError(kind Kind, stage string, err error) error {
	return &RegistrationError{Backend: kind, Stage: stage, Err: err}
}
