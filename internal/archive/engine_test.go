package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newMediaServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/img/"):
			_, _ = w.Write([]byte("image bytes for " + r.URL.Path))
		case strings.HasPrefix(r.URL.Path, "/slow/"):
			time.Sleep(50 * time.Millisecond)
			_, _ = w.Write([]byte("slow bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
}

func testFiles(baseURL, prefix string, n int) []FileDescriptor {
	files := make([]FileDescriptor, n)
	for i := range files {
		name := fmt.Sprintf("photo-%02d.jpg", i+1)
		files[i] = FileDescriptor{
			Filename:  name,
			Type:      MediaImage,
			SourceURL: baseURL + prefix + name,
		}
	}
	return files
}

func newTestEngine(files []FileDescriptor, label string, opts Options, extra ...EngineOption) *Engine {
	e := New(files, label, opts, extra...)
	e.retryBase = 5 * time.Millisecond
	return e
}

func entryNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestRunAllFilesSucceed(t *testing.T) {
	srv := newMediaServer()
	defer srv.Close()

	engine := newTestEngine(testFiles(srv.URL, "/img/", 10), "summer party", DefaultOptions())
	data, cleanup, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer func() { _ = cleanup() }()

	names := entryNames(t, data)
	if len(names) != 10 {
		t.Fatalf("expected 10 entries, got %d: %v", len(names), names)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, "summer_party/") {
			t.Fatalf("entry %q missing label prefix", name)
		}
	}

	final := engine.Latest()
	if !final.Complete || final.Percentage != 100 || final.ProcessedFiles != 10 {
		t.Fatalf("unexpected final progress: %+v", final)
	}
	if final.Err != "" {
		t.Fatalf("expected no error in progress, got %q", final.Err)
	}
}

func TestRunPartialFailureProducesPlaceholders(t *testing.T) {
	srv := newMediaServer()
	defer srv.Close()

	files := testFiles(srv.URL, "/img/", 3)
	files = append(files,
		FileDescriptor{Filename: "clip-1.mp4", Type: MediaVideo, SourceURL: srv.URL + "/gone/clip-1.mp4"},
		FileDescriptor{Filename: "clip-2.mp4", Type: MediaVideo, SourceURL: srv.URL + "/gone/clip-2.mp4"},
	)

	engine := newTestEngine(files, "", DefaultOptions())
	data, cleanup, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer func() { _ = cleanup() }()

	names := entryNames(t, data)
	if len(names) != 5 {
		t.Fatalf("expected 5 entries, got %d: %v", len(names), names)
	}
	placeholders := 0
	for _, name := range names {
		if strings.HasSuffix(name, ".missing.txt") {
			placeholders++
		}
	}
	if placeholders != 2 {
		t.Fatalf("expected 2 placeholder entries, got %d: %v", placeholders, names)
	}

	final := engine.Latest()
	if !final.Complete {
		t.Fatalf("expected complete, got %+v", final)
	}
	if !strings.Contains(final.Err, "2 of 5") {
		t.Fatalf("expected partial-failure description, got %q", final.Err)
	}
}

func TestRunNothingFetched(t *testing.T) {
	srv := newMediaServer()
	defer srv.Close()

	engine := newTestEngine(testFiles(srv.URL, "/gone/", 2), "x", DefaultOptions())
	_, cleanup, err := engine.Run(context.Background())
	if !errors.Is(err, ErrNothingFetched) {
		t.Fatalf("expected ErrNothingFetched, got %v", err)
	}
	if cleanup == nil {
		t.Fatal("cleanup must be non-nil on failure paths")
	}
	if cerr := cleanup(); cerr != nil {
		t.Fatalf("cleanup: %v", cerr)
	}
}

func TestRunNoFiles(t *testing.T) {
	engine := newTestEngine(nil, "x", DefaultOptions())
	_, _, err := engine.Run(context.Background())
	if !errors.Is(err, ErrNoFiles) {
		t.Fatalf("expected ErrNoFiles, got %v", err)
	}
}

func TestRunClampsOutOfRangeOptions(t *testing.T) {
	srv := newMediaServer()
	defer srv.Close()

	opts := Options{CompressionLevel: 15, ChunkSize: -1, MaxParallel: 0}
	engine := newTestEngine(testFiles(srv.URL, "/img/", 2), "", opts)
	data, cleanup, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run with out-of-range options: %v", err)
	}
	defer func() { _ = cleanup() }()
	if len(entryNames(t, data)) != 2 {
		t.Fatalf("expected 2 entries")
	}
	if engine.opts.CompressionLevel != 9 {
		t.Fatalf("expected compression clamped to 9, got %d", engine.opts.CompressionLevel)
	}
}

func TestProgressPercentageMonotonic(t *testing.T) {
	srv := newMediaServer()
	defer srv.Close()

	engine := newTestEngine(testFiles(srv.URL, "/img/", 12), "evt", Options{ChunkSize: 3, MaxParallel: 2, CompressionLevel: 1})

	snapshots := make([]Progress, 0, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range engine.Progress() {
			snapshots = append(snapshots, p)
		}
	}()

	_, cleanup, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer func() { _ = cleanup() }()
	<-done

	last := -1
	for _, p := range snapshots {
		if p.Percentage < last {
			t.Fatalf("percentage decreased: %d -> %d", last, p.Percentage)
		}
		last = p.Percentage
		if !p.Complete && p.Percentage > 99 {
			t.Fatalf("percentage exceeded 99 before completion: %+v", p)
		}
	}
	if engine.Latest().Percentage != 100 {
		t.Fatalf("expected final percentage 100, got %d", engine.Latest().Percentage)
	}
}

func TestCleanupIdempotentAndReleasesTempFiles(t *testing.T) {
	srv := newMediaServer()
	defer srv.Close()

	engine := newTestEngine(testFiles(srv.URL, "/img/", 2), "", DefaultOptions())
	_, cleanup, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if engine.jan.Pending() == 0 {
		t.Fatal("expected a registered temp resource before cleanup")
	}
	if err := cleanup(); err != nil {
		t.Fatalf("first cleanup: %v", err)
	}
	if engine.jan.Pending() != 0 {
		t.Fatalf("expected no pending resources after cleanup, got %d", engine.jan.Pending())
	}
	if err := cleanup(); err != nil {
		t.Fatalf("second cleanup must be a no-op, got %v", err)
	}
}

func TestCancelMidProcessing(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	files := testFiles(srv.URL, "/img/", 20)
	engine := newTestEngine(files, "evt", Options{ChunkSize: 5, MaxParallel: 5, CompressionLevel: 6})

	type result struct {
		data []byte
		err  error
	}
	resC := make(chan result, 1)
	go func() {
		data, cleanup, err := engine.Run(context.Background())
		_ = cleanup()
		resC <- result{data: data, err: err}
	}()

	// Let the first chunk get in flight, cancel, then release the server.
	time.Sleep(20 * time.Millisecond)
	engine.Cancel()
	close(release)

	res := <-resC
	if !errors.Is(res.err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", res.err)
	}
	if res.data != nil {
		t.Fatal("no archive must be produced on cancellation")
	}

	final := engine.Latest()
	if !final.Cancelled || final.Complete {
		t.Fatalf("unexpected final progress: %+v", final)
	}
	if final.ProcessedFiles >= 20 {
		t.Fatalf("expected only a prefix of chunks processed, got %d", final.ProcessedFiles)
	}
	if engine.jan.Pending() != 0 {
		t.Fatalf("expected janitor drained after cancel, got %d pending", engine.jan.Pending())
	}
}

func TestCancelBeforeRunIsNotLost(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	engine := newTestEngine(testFiles(srv.URL, "/img/", 4), "evt", DefaultOptions())
	engine.Cancel()

	data, cleanup, err := engine.Run(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if data != nil {
		t.Fatal("no archive must be produced when cancelled before start")
	}
	if cerr := cleanup(); cerr != nil {
		t.Fatalf("cleanup: %v", cerr)
	}
	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Fatalf("expected no fetches after early cancel, got %d", got)
	}

	final := engine.Latest()
	if !final.Cancelled || final.Complete || final.ProcessedFiles != 0 {
		t.Fatalf("unexpected final progress: %+v", final)
	}
}

func TestStoreOnlyLevelZeroUsesStoreMethod(t *testing.T) {
	srv := newMediaServer()
	defer srv.Close()

	engine := newTestEngine(testFiles(srv.URL, "/img/", 1), "", Options{CompressionLevel: 0, ChunkSize: 1, MaxParallel: 1})
	data, cleanup, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer func() { _ = cleanup() }()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if got := zr.File[0].Method; got != zip.Store {
		t.Fatalf("expected Store method at level 0, got %d", got)
	}
}
