package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	minOverallBudget = 30 * time.Second
	maxOverallBudget = 5 * time.Minute
	budgetWarnWindow = 10 * time.Second

	// assumedThroughput is the files-per-second rate used to derive the
	// advisory time budget from the file count.
	assumedThroughput = 2
)

// orchestrator drives the fetcher across the file list in ordered chunks.
// Chunks run sequentially; files within a chunk run with bounded parallelism,
// each writing its own output slot. Progress advances only at chunk
// boundaries, which keeps the chunk the atomicity unit for reporting.
type orchestrator struct {
	fetch   *fetcher
	tracker *tracker
	opts    Options
}

func newOrchestrator(fetch *fetcher, tracker *tracker, opts Options) *orchestrator {
	return &orchestrator{fetch: fetch, tracker: tracker, opts: opts}
}

// overallBudget returns the advisory time budget for fetching fileCount
// files: twice the estimated duration at the assumed throughput, floored at
// 30s and capped at 5 minutes. The budget is advisory only; crossing it
// surfaces a warning through the tracker but never aborts work.
func overallBudget(fileCount int) time.Duration {
	estimated := time.Duration(fileCount) * time.Second / assumedThroughput
	budget := 2 * estimated
	if budget < minOverallBudget {
		budget = minOverallBudget
	}
	if budget > maxOverallBudget {
		budget = maxOverallBudget
	}
	return budget
}

// process fetches every file and returns one outcome per file, in input
// order. Files that fail after retries become placeholder outcomes rather
// than aborting the chunk. If the context is cancelled before a chunk starts,
// only the outcomes gathered so far are returned alongside ErrCancelled.
func (o *orchestrator) process(ctx context.Context, files []FileDescriptor) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(files))
	budget := overallBudget(len(files))
	deadline := time.Now().Add(budget)
	warned := false

	for start := 0; start < len(files); start += o.opts.ChunkSize {
		if ctx.Err() != nil {
			return outcomes, ErrCancelled
		}
		if !warned && time.Until(deadline) <= budgetWarnWindow {
			warned = true
			log.Warn().Dur("budget", budget).Int("processed", len(outcomes)).
				Msg("approaching archive time budget")
			o.tracker.setError(fmt.Sprintf("processing is taking longer than expected (budget %s)", budget))
		}

		end := min(start+o.opts.ChunkSize, len(files))
		chunk, err := o.processChunk(ctx, files[start:end])
		outcomes = append(outcomes, chunk...)
		if err != nil {
			return outcomes, err
		}
		o.tracker.setProcessed(len(outcomes))
	}
	return outcomes, nil
}

// processChunk fetches one chunk with at most MaxParallel fetches in flight.
// Each goroutine writes only its own slot, so the slice needs no locking.
func (o *orchestrator) processChunk(ctx context.Context, chunk []FileDescriptor) ([]Outcome, error) {
	outcomes := make([]Outcome, len(chunk))

	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxParallel)
	for i, fd := range chunk {
		i, fd := i, fd
		g.Go(func() error {
			o.tracker.setCurrentFile(fd.Filename)
			data, err := o.fetch.fetch(ctx, fd.SourceURL)
			switch {
			case err == nil:
				outcomes[i] = Outcome{Filename: fd.Filename, Data: data}
			case errors.Is(err, ErrCancelled):
				return err
			default:
				log.Warn().Str("file", fd.Filename).Err(err).Msg("file degraded to placeholder")
				outcomes[i] = Outcome{Filename: fd.Filename, PlaceholderReason: err.Error()}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Cancellation mid-chunk: keep only outcomes that resolved.
		resolved := outcomes[:0]
		for _, out := range outcomes {
			if out.Filename != "" {
				resolved = append(resolved, out)
			}
		}
		return resolved, err
	}
	return outcomes, nil
}
