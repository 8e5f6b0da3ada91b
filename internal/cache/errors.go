package cache

import (
	"errors"
	"fmt"
)

// FetchError reports a failed network fetch or a failed write to the local
// store. Loads are not retried.
type FetchError struct {
	Name   string
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s from %s: unexpected status %d", e.Name, e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s from %s: %v", e.Name, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is or wraps a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
