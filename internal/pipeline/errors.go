package pipeline

import (
	"errors"
	"fmt"
)

// notReadyError signals a request before the models are compiled (503).
type notReadyError struct{ state State }

func (e notReadyError) Error() string { return "pipeline not ready: " + string(e.state) }

// ErrNotReady is the sentinel matched by errors.Is for any not-ready state.
var ErrNotReady = notReadyError{}

func (e notReadyError) Is(target error) bool {
	_, ok := target.(notReadyError)
	return ok
}

// IsNotReady reports whether err indicates the pipeline cannot serve yet.
func IsNotReady(err error) bool { return errors.Is(err, ErrNotReady) }

// busyError signals that a generation or load is already in flight (429).
type busyError struct{ op string }

func (e busyError) Error() string { return "pipeline busy: " + e.op + " in progress" }

// ErrBusy is the sentinel matched by errors.Is for any busy rejection.
var ErrBusy = busyError{}

func (e busyError) Is(target error) bool {
	_, ok := target.(busyError)
	return ok
}

// IsBusy reports whether err indicates backpressure.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// GenerationError aborts one Generate call. Image is -1 when the failure
// happened before the per-image loop.
type GenerationError struct {
	ID    string
	Stage string
	Image int
	Err   error
}

func (e *GenerationError) Error() string {
	if e.Image < 0 {
		return fmt.Sprintf("generation %s: %s: %v", e.ID, e.Stage, e.Err)
	}
	return fmt.Sprintf("generation %s: image %d: %s: %v", e.ID, e.Image, e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationError reports whether err is or wraps a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// ErrInvalidRequest marks a request rejected before any session runs (400).
var ErrInvalidRequest = errors.New("invalid request")

// IsInvalidRequest reports whether err is or wraps ErrInvalidRequest.
func IsInvalidRequest(err error) bool { return errors.Is(err, ErrInvalidRequest) }
