// Package archive implements the bulk archive generation engine: it fetches
// a set of remotely stored media files with bounded concurrency and retries,
// degrades unreachable files to placeholder entries, reports progress over a
// bounded channel, honours cooperative cancellation, and assembles a single
// zip payload off the caller's goroutine.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Engine runs exactly one archive request. Construct with New, start with
// Run, observe via Progress, and abort with Cancel. The cleanup function
// returned by Run releases temporary resources and must be called once the
// archive bytes have been consumed; calling it more than once is harmless.
type Engine struct {
	files  []FileDescriptor
	label  string
	opts   Options
	client *http.Client
	pool   *BuildPool

	tracker *tracker
	jan     *janitor

	// retryBase is the fetch backoff base; tests shrink it.
	retryBase time.Duration

	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

// EngineOption customizes an Engine at construction.
type EngineOption func(*Engine)

// WithPool makes the engine offload archive assembly to the given pool. With
// no pool the engine assembles synchronously.
func WithPool(p *BuildPool) EngineOption {
	return func(e *Engine) { e.pool = p }
}

// WithHTTPClient overrides the HTTP client used for probes and fetches.
func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.client = c }
}

// New creates an engine for one request. Out-of-range options are clamped.
func New(files []FileDescriptor, label string, opts Options, extra ...EngineOption) *Engine {
	e := &Engine{
		files:     files,
		label:     label,
		opts:      opts.normalize(),
		client:    &http.Client{},
		tracker:   newTracker(len(files)),
		jan:       newJanitor(),
		retryBase: retryBaseDelay,
	}
	for _, opt := range extra {
		opt(e)
	}
	return e
}

// Progress returns the bounded snapshot stream for this request. The channel
// is closed after the terminal snapshot; slow consumers may miss intermediate
// snapshots but can always read the final state via Latest.
func (e *Engine) Progress() <-chan Progress { return e.tracker.channel() }

// Latest returns the most recent progress snapshot.
func (e *Engine) Latest() Progress { return e.tracker.Latest() }

// Cancel aborts the request cooperatively: work already in flight finishes
// naturally, future fetches and the archive build are skipped. A cancel
// issued before Run starts is remembered and makes Run abort immediately.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the request and returns the archive bytes together with a
// cleanup function. Partial failure is not an error: unreachable files become
// placeholder entries and the final Progress carries a description in Err.
// Terminal errors are ErrNoFiles, ErrCancelled, ErrNothingFetched, and
// *BuildError when even the partial-recovery assembly fails. The cleanup
// function is valid (and idempotent) on every path.
func (e *Engine) Run(ctx context.Context) ([]byte, func() error, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	requested := e.cancelled
	e.mu.Unlock()

	cleanup := e.jan.ReleaseAll

	if requested {
		return nil, cleanup, e.abortCancelled(cleanup)
	}

	if len(e.files) == 0 {
		e.tracker.failed(ErrNoFiles.Error())
		return nil, cleanup, ErrNoFiles
	}

	estimated := newSizeEstimator(e.client).estimate(runCtx, e.files)
	e.tracker.setEstimatedSize(estimated)
	log.Info().Int("files", len(e.files)).Int64("estimated_bytes", estimated).
		Str("label", e.label).Msg("archive request started")

	fet := newFetcher(e.client)
	fet.base = e.retryBase
	orch := newOrchestrator(fet, e.tracker, e.opts)
	outcomes, err := orch.process(runCtx, e.files)
	if errors.Is(err, ErrCancelled) {
		return nil, cleanup, e.abortCancelled(cleanup)
	}

	fetched := 0
	for _, out := range outcomes {
		if !out.Placeholder() {
			fetched++
		}
	}
	if fetched == 0 {
		e.tracker.failed(ErrNothingFetched.Error())
		_ = cleanup()
		return nil, cleanup, ErrNothingFetched
	}
	if failed := len(outcomes) - fetched; failed > 0 {
		e.tracker.setError(fmt.Sprintf(
			"%d of %d files could not be retrieved and were replaced with placeholders",
			failed, len(outcomes)))
	}

	if runCtx.Err() != nil {
		return nil, cleanup, e.abortCancelled(cleanup)
	}

	data, err := e.buildArchive(runCtx, outcomes, fetched)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return nil, cleanup, e.abortCancelled(cleanup)
		}
		e.tracker.failed(err.Error())
		_ = cleanup()
		return nil, cleanup, err
	}

	e.tracker.complete()
	return data, cleanup, nil
}

// buildArchive runs the primary build strategy and, if it fails, retries once
// with store-only compression on the successfully fetched subset.
func (e *Engine) buildArchive(ctx context.Context, outcomes []Outcome, fetched int) ([]byte, error) {
	direct := &syncBuilder{jan: e.jan}
	var b builder = direct
	if e.pool != nil {
		b = &poolBuilder{pool: e.pool, fallback: direct}
	}

	onEntry := func(name string) { e.tracker.setCurrentFile(name) }
	data, err := b.build(ctx, outcomes, e.label, e.opts.CompressionLevel, onEntry)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
		return nil, ErrCancelled
	}

	log.Warn().Err(err).Msg("archive build failed, attempting store-only partial recovery")
	partial := make([]Outcome, 0, fetched)
	for _, out := range outcomes {
		if !out.Placeholder() {
			partial = append(partial, out)
		}
	}
	data, rerr := direct.build(ctx, partial, e.label, 0, nil)
	if rerr != nil {
		if errors.Is(rerr, ErrCancelled) {
			return nil, ErrCancelled
		}
		return nil, &BuildError{Stage: "partial recovery", Err: rerr}
	}
	e.tracker.setError(fmt.Sprintf(
		"archive is partial: primary assembly failed (%v), recovered %d of %d files uncompressed",
		err, len(partial), len(outcomes)))
	return data, nil
}

func (e *Engine) abortCancelled(cleanup func() error) error {
	e.tracker.cancelled()
	_ = cleanup()
	log.Info().Str("label", e.label).Msg("archive request cancelled")
	return ErrCancelled
}
