package topviews

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned by New when a required option is missing.
	ErrConfiguration = errors.New("topviews: invalid configuration")
	// ErrMissingAnalytics is returned by New when no analytics binding is supplied.
	ErrMissingAnalytics = errors.New("topviews: no analytics endpoint bound")
	// ErrBusy is returned by Refresh when a cycle is running and the busy
	// policy (or the single pending slot) does not allow another one.
	ErrBusy = errors.New("topviews: refresh already in progress")
)

// RenderError reports one record that could not be instantiated or
// initialized. The rest of the refresh is unaffected.
type RenderError struct {
	Index int
	URI   string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("topviews: render record %d (%s): %v", e.Index, e.URI, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
