package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	maxFetchAttempts = 3
	attemptTimeout   = 15 * time.Second
	retryBaseDelay   = time.Second
)

// fetcher retrieves a single file's bytes with bounded retries. Each attempt
// is capped at attemptTimeout; between attempts it waits baseDelay multiplied
// by the attempt number. Cancellation is observed before every attempt and
// during the backoff wait, and does not consume an attempt.
type fetcher struct {
	client   *http.Client
	attempts int
	base     time.Duration
}

func newFetcher(client *http.Client) *fetcher {
	return &fetcher{client: client, attempts: maxFetchAttempts, base: retryBaseDelay}
}

func (f *fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= f.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, ErrCancelled
		}
		if attempt > 1 {
			if err := f.wait(ctx, attempt-1); err != nil {
				return nil, ErrCancelled
			}
		}

		data, err := f.attempt(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		log.Warn().Str("url", url).Int("attempt", attempt).Err(err).Msg("fetch attempt failed")
	}

	return nil, &FetchError{URL: url, Attempts: f.attempts, Err: lastErr}
}

func (f *fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// wait sleeps for base * multiplier unless the context is cancelled first.
func (f *fetcher) wait(ctx context.Context, multiplier int) error {
	timer := time.NewTimer(f.base * time.Duration(multiplier))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
