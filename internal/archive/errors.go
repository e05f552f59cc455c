package archive

import (
	"errors"
	"fmt"
)

var (
	ErrNoFiles        = errors.New("no files provided")
	ErrCancelled      = errors.New("archive request cancelled")
	ErrNothingFetched = errors.New("no files could be fetched")
)

// FetchError reports that a single file could not be retrieved after all
// retry attempts.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BuildError reports that archive assembly failed on both the primary and
// the partial-recovery path.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("archive build failed (%s): %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }
