package execution

import "errors"

var (
	// ErrNilConfig is returned when the configuration is nil.
	ErrNilConfig = errors.New("execution mode config is nil")

	// ErrNilIterationFunc is returned when the iteration function is nil.
	ErrNilIterationFunc = errors.New("iteration function is nil")

	// ErrNegativeDuration is returned when a stage has a negative duration.
	ErrNegativeDuration = errors.New("stage duration must not be negative")

	// ErrNegativeTarget is returned when a stage or start target is negative.
	ErrNegativeTarget = errors.New("vu target must not be negative")

	// ErrModeAlreadyRunning is returned when trying to start a mode that is already running.
	ErrModeAlreadyRunning = errors.New("execution mode is already running")

	// ErrUnknownMode is returned by the registry for an unregistered mode name.
	ErrUnknownMode = errors.New("unknown execution mode")
)
