package archive

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// janitor tracks temporary resources created while building an archive and
// releases each of them exactly once. ReleaseAll is idempotent and is safe to
// call from the returned cleanup function as well as from failure paths.
type janitor struct {
	mu      sync.Mutex
	handles []handle
}

type handle struct {
	name    string
	release func() error
}

func newJanitor() *janitor { return &janitor{} }

// Register adds a resource to be released by ReleaseAll.
func (j *janitor) Register(name string, release func() error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.handles = append(j.handles, handle{name: name, release: release})
}

// Pending returns how many registered resources have not been released yet.
func (j *janitor) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.handles)
}

// ReleaseAll releases every registered resource exactly once; the handle list
// is drained under the lock, so concurrent or repeated calls are no-ops for
// resources already taken. The first release error is returned; remaining
// resources are still released.
func (j *janitor) ReleaseAll() error {
	j.mu.Lock()
	handles := j.handles
	j.handles = nil
	j.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := h.release(); err != nil {
			log.Warn().Str("resource", h.name).Err(err).Msg("resource release failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
