package archive

import (
	"math"
	"sync"
)

const progressBuffer = 64

// tracker is the single source of truth for a request's progress. The
// orchestrator is its only writer; consumers read snapshots from the bounded
// channel returned by channel(), or poll Latest().
//
// Percentage is recomputed from processed/total on every update, capped at 99
// until complete() transitions it to 100 exactly once, and never decreases.
type tracker struct {
	mu       sync.Mutex
	snapshot Progress
	ch       chan Progress
	closed   bool
}

func newTracker(totalFiles int) *tracker {
	return &tracker{
		snapshot: Progress{TotalFiles: totalFiles},
		ch:       make(chan Progress, progressBuffer),
	}
}

// channel returns the snapshot stream. It is closed after the terminal
// snapshot (complete, cancelled, or failed) is published.
func (t *tracker) channel() <-chan Progress { return t.ch }

// Latest returns the most recent snapshot.
func (t *tracker) Latest() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// setProcessed advances the processed-file counter and recomputes percentage.
func (t *tracker) setProcessed(processed int) {
	t.update(func(p *Progress) {
		p.ProcessedFiles = processed
		p.CurrentFile = ""
	})
}

func (t *tracker) setCurrentFile(name string) {
	t.update(func(p *Progress) { p.CurrentFile = name })
}

func (t *tracker) setEstimatedSize(bytes int64) {
	t.update(func(p *Progress) {
		p.EstimatedSizeMB = math.Round(float64(bytes)/(1<<20)*100) / 100
	})
}

// setError records a non-fatal error description (placeholder substitution,
// partial recovery, advisory timeout warning).
func (t *tracker) setError(msg string) {
	t.update(func(p *Progress) { p.Err = msg })
}

// complete marks the terminal successful state and jumps percentage to 100.
func (t *tracker) complete() {
	t.terminal(func(p *Progress) {
		p.Complete = true
		p.CurrentFile = ""
		p.Percentage = 100
	})
}

// cancelled marks the terminal cancelled state.
func (t *tracker) cancelled() {
	t.terminal(func(p *Progress) {
		p.Cancelled = true
		p.CurrentFile = ""
	})
}

// failed marks the terminal failed state with the given reason.
func (t *tracker) failed(msg string) {
	t.terminal(func(p *Progress) {
		p.Err = msg
		p.CurrentFile = ""
	})
}

func (t *tracker) update(mutate func(*Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	mutate(&t.snapshot)
	t.recompute()
	t.publish()
}

func (t *tracker) terminal(mutate func(*Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	mutate(&t.snapshot)
	if !t.snapshot.Complete {
		t.recompute()
	}
	t.publish()
	t.closed = true
	close(t.ch)
}

// recompute derives percentage from the counters, capped at 99 until the
// archive is assembled, and keeps it monotonic.
func (t *tracker) recompute() {
	if t.snapshot.TotalFiles <= 0 {
		return
	}
	pct := int(math.Round(float64(t.snapshot.ProcessedFiles) / float64(t.snapshot.TotalFiles) * 100))
	if pct > 99 {
		pct = 99
	}
	if pct > t.snapshot.Percentage {
		t.snapshot.Percentage = pct
	}
}

// publish sends the current snapshot without blocking. A slow consumer loses
// intermediate snapshots but can always recover the final state via Latest().
func (t *tracker) publish() {
	select {
	case t.ch <- t.snapshot:
	default:
	}
}
