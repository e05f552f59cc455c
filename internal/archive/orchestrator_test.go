package archive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestOverallBudget(t *testing.T) {
	cases := []struct {
		files int
		want  time.Duration
	}{
		{1, 30 * time.Second},
		{10, 30 * time.Second},
		{60, 60 * time.Second},
		{1000, 5 * time.Minute},
	}
	for _, c := range cases {
		if got := overallBudget(c.files); got != c.want {
			t.Fatalf("overallBudget(%d)=%s want %s", c.files, got, c.want)
		}
	}
}

func TestProcessKeepsInputOrderAcrossChunks(t *testing.T) {
	srv := newMediaServer()
	defer srv.Close()

	files := testFiles(srv.URL, "/img/", 7)
	track := newTracker(len(files))
	orch := newOrchestrator(newTestFetcher(srv.Client()), track, Options{ChunkSize: 3, MaxParallel: 2}.normalize())

	outcomes, err := orch.process(context.Background(), files)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(outcomes) != 7 {
		t.Fatalf("expected 7 outcomes, got %d", len(outcomes))
	}
	for i, out := range outcomes {
		if out.Filename != files[i].Filename {
			t.Fatalf("outcome %d out of order: got %q want %q", i, out.Filename, files[i].Filename)
		}
		if out.Placeholder() {
			t.Fatalf("unexpected placeholder for %q: %s", out.Filename, out.PlaceholderReason)
		}
	}
	if got := track.Latest().ProcessedFiles; got != 7 {
		t.Fatalf("expected processed=7, got %d", got)
	}
}

func TestProcessBoundsParallelism(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	files := testFiles(srv.URL, "/img/", 8)
	orch := newOrchestrator(newTestFetcher(srv.Client()), newTracker(len(files)), Options{ChunkSize: 8, MaxParallel: 2}.normalize())
	if _, err := orch.process(context.Background(), files); err != nil {
		t.Fatalf("process: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Fatalf("parallelism exceeded limit: peak %d", peak)
	}
}

func TestProcessRecordsPlaceholdersAndContinues(t *testing.T) {
	srv := newMediaServer()
	defer srv.Close()

	files := []FileDescriptor{
		{Filename: "ok-1.jpg", Type: MediaImage, SourceURL: srv.URL + "/img/ok-1.jpg"},
		{Filename: "gone.jpg", Type: MediaImage, SourceURL: srv.URL + "/gone/gone.jpg"},
		{Filename: "ok-2.jpg", Type: MediaImage, SourceURL: srv.URL + "/img/ok-2.jpg"},
	}
	orch := newOrchestrator(newTestFetcher(srv.Client()), newTracker(len(files)), Options{ChunkSize: 2, MaxParallel: 2}.normalize())

	outcomes, err := orch.process(context.Background(), files)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Placeholder() || !outcomes[1].Placeholder() || outcomes[2].Placeholder() {
		t.Fatalf("unexpected placeholder pattern: %+v", outcomes)
	}
}

func TestProcessStopsAtChunkBoundaryWhenCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	files := testFiles(srv.URL, "/img/", 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	track := newTracker(len(files))
	orch := newOrchestrator(newTestFetcher(srv.Client()), track, Options{ChunkSize: 5, MaxParallel: 1}.normalize())

	// Cancel once the first chunk has reported.
	go func() {
		for p := range track.channel() {
			if p.ProcessedFiles >= 5 {
				cancel()
				return
			}
		}
	}()

	outcomes, err := orch.process(ctx, files)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(outcomes) == 0 || len(outcomes) >= 20 {
		t.Fatalf("expected a strict prefix of outcomes, got %d", len(outcomes))
	}
	if got := track.Latest().ProcessedFiles; got%5 != 0 {
		t.Fatalf("processed counter must advance in whole chunks, got %d", got)
	}
}
