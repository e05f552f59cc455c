package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog/log"
)

// builder assembles fetched outcomes into a single zip payload.
type builder interface {
	build(ctx context.Context, outcomes []Outcome, label string, level int, onEntry func(string)) ([]byte, error)
}

// syncBuilder assembles the archive in the calling goroutine. It is both the
// standalone strategy when no pool is configured and the fallback when the
// pool rejects the job.
type syncBuilder struct {
	jan *janitor
}

func (b *syncBuilder) build(ctx context.Context, outcomes []Outcome, label string, level int, onEntry func(string)) ([]byte, error) {
	return assemble(ctx, b.jan, outcomes, label, level, onEntry)
}

// poolBuilder offloads assembly to a shared BuildPool so CPU-bound
// compression does not run on the caller's goroutine. If the pool has been
// closed it falls back to synchronous assembly; genuine build failures are
// returned as-is so the partial-recovery path can run.
type poolBuilder struct {
	pool     *BuildPool
	fallback *syncBuilder
}

func (b *poolBuilder) build(ctx context.Context, outcomes []Outcome, label string, level int, onEntry func(string)) ([]byte, error) {
	data, err := b.pool.Submit(ctx, func(ctx context.Context) ([]byte, error) {
		return assemble(ctx, b.fallback.jan, outcomes, label, level, onEntry)
	})
	if errors.Is(err, ErrPoolClosed) {
		log.Warn().Msg("build pool unavailable, assembling archive synchronously")
		return b.fallback.build(ctx, outcomes, label, level, onEntry)
	}
	return data, err
}

// assemble writes every outcome into a temporary zip file and returns its
// bytes. Placeholder outcomes become small text entries so the archive always
// holds one entry per requested file. The temp file is registered with the
// janitor and removed by the caller's cleanup function.
func assemble(ctx context.Context, jan *janitor, outcomes []Outcome, label string, level int, onEntry func(string)) ([]byte, error) {
	tmp, err := os.CreateTemp("", "mediapack-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	jan.Register("temp archive "+tmpName, func() error {
		return os.Remove(tmpName)
	})

	zw := zip.NewWriter(tmp)
	if level > 0 {
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
	}
	method := zip.Deflate
	if level == 0 {
		method = zip.Store
	}

	prefix := entryPrefix(label)
	for _, out := range outcomes {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return nil, ErrCancelled
		}

		name := prefix + out.Filename
		content := out.Data
		if out.Placeholder() {
			name += ".missing.txt"
			content = []byte(fmt.Sprintf("File %q could not be retrieved: %s\n", out.Filename, out.PlaceholderReason))
		}
		if onEntry != nil {
			onEntry(out.Filename)
		}

		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return nil, fmt.Errorf("create entry %s: %w", name, err)
		}
		if _, err := w.Write(content); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return nil, fmt.Errorf("write entry %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("close zip writer: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("rewind temp archive: %w", err)
	}
	data, err := io.ReadAll(tmp)
	if err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("read temp archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp archive: %w", err)
	}
	return data, nil
}

// entryPrefix turns the event label into a safe top-level directory inside
// the archive. An empty label means entries sit at the archive root.
func entryPrefix(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, label)
	if safe == "" {
		return ""
	}
	return safe + "/"
}
