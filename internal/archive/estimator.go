package archive

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	probeTimeout = 5 * time.Second

	// Fallback sizes when a probe fails or the server omits Content-Length.
	defaultImageSize = 2 << 20  // 2 MiB
	defaultVideoSize = 50 << 20 // 50 MiB
)

// sizeEstimator probes remote files for their Content-Length to produce an
// aggregate size estimate. The estimate feeds the advisory time budget and
// the user-facing size display; it does not need to be exact, so each file
// gets a single probe attempt and failures degrade to per-type defaults.
type sizeEstimator struct {
	client *http.Client
}

func newSizeEstimator(client *http.Client) *sizeEstimator {
	return &sizeEstimator{client: client}
}

// estimate returns the total estimated byte size of all files. Probes run
// concurrently; a failed probe substitutes the media-type default and never
// fails the others.
func (e *sizeEstimator) estimate(ctx context.Context, files []FileDescriptor) int64 {
	var total atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for _, fd := range files {
		fd := fd
		g.Go(func() error {
			total.Add(e.probe(ctx, fd))
			return nil
		})
	}
	_ = g.Wait()
	return total.Load()
}

func (e *sizeEstimator) probe(ctx context.Context, fd FileDescriptor) int64 {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, fd.SourceURL, nil)
	if err != nil {
		return defaultSizeFor(fd.Type)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		log.Debug().Str("url", fd.SourceURL).Err(err).Msg("size probe failed, using default")
		return defaultSizeFor(fd.Type)
	}
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.ContentLength < 0 {
		return defaultSizeFor(fd.Type)
	}
	return resp.ContentLength
}

func defaultSizeFor(t MediaType) int64 {
	if t == MediaVideo {
		return defaultVideoSize
	}
	return defaultImageSize
}
