package job

import "errors"

var (
	ErrNoFiles        = errors.New("no files provided")
	ErrJobNotFound    = errors.New("job not found")
	ErrTooManyFiles   = errors.New("too many files per job")
	ErrNotCancellable = errors.New("job is not running")
)
