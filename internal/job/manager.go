package job

import (
	"context"
	"sync"
	"time"

	"mediapack/internal/archive"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Runner is the slice of the archive engine the manager drives. The concrete
// implementation is archive.Engine; tests inject fakes via UseEngineFactory.
type Runner interface {
	Run(ctx context.Context) ([]byte, func() error, error)
	Cancel()
	Progress() <-chan archive.Progress
	Latest() archive.Progress
}

// EngineFactory builds one Runner per job.
type EngineFactory func(files []archive.FileDescriptor, label string, opts archive.Options) Runner

// Manager provides an in-memory store for archive jobs and runs one engine
// per job in the background, bounded by a semaphore.
type Manager struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	running   map[string]Runner
	dataDir   string
	semaphore chan struct{}
	pool      *archive.BuildPool
	archOpts  archive.Options
	newEngine EngineFactory
	workersWG sync.WaitGroup
	baseCtx   context.Context
	store     Store
}

// NewManager creates a manager with defaults suitable for tests.
func NewManager() *Manager {
	return NewManagerWithOptions(Options{
		DataDir:           "data",
		MaxConcurrentJobs: defaultMaxConcurrent,
		BuildWorkers:      defaultBuildWorkers,
		Archive:           archive.DefaultOptions(),
	})
}

// NewManagerWithOptions creates a manager with provided configuration.
func NewManagerWithOptions(opts Options) *Manager {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 1
	}
	if opts.BuildWorkers <= 0 {
		opts.BuildWorkers = defaultBuildWorkers
	}
	m := &Manager{
		jobs:      make(map[string]*Job),
		running:   make(map[string]Runner),
		dataDir:   opts.DataDir,
		semaphore: make(chan struct{}, opts.MaxConcurrentJobs),
		pool:      archive.NewBuildPool(opts.BuildWorkers),
		archOpts:  opts.Archive,
		baseCtx:   context.Background(),
		store:     NewFileStore(opts.DataDir),
	}
	m.newEngine = func(files []archive.FileDescriptor, label string, o archive.Options) Runner {
		return archive.New(files, label, o, archive.WithPool(m.pool))
	}
	return m
}

// IsBusy reports whether the manager is at max concurrent processing.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// CreateJob registers a job for the given file list and starts processing it
// in the background. A processing slot is acquired synchronously so busy
// state is visible immediately. Overrides are merged onto the configured
// engine defaults field by field.
func (m *Manager) CreateJob(label string, files []archive.FileDescriptor, overrides *Overrides) (*Job, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if len(files) > maxFilesPerJob {
		return nil, ErrTooManyFiles
	}

	archOpts := overrides.apply(m.archOpts)
	newJob := &Job{
		ID:        uuid.NewString(),
		Status:    StatusCreated,
		CreatedAt: time.Now(),
		Label:     label,
		Files:     files,
		Options:   archOpts,
	}

	m.mu.Lock()
	m.jobs[newJob.ID] = newJob
	m.mu.Unlock()

	if err := m.persistJob(newJob); err != nil { // best-effort
		log.Warn().Str("job_id", newJob.ID).Err(err).Msg("persist job failed")
	}

	// Copy before the worker starts mutating the stored job.
	snapshot := *newJob

	m.semaphore <- struct{}{}
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		m.startProcessing(newJob.ID, true)
	}()

	return &snapshot, nil
}

// GetJob returns a copy of a job by ID. For running jobs the progress
// snapshot is refreshed from the live engine. The copy keeps callers from
// observing fields while the processing goroutine updates them.
func (m *Manager) GetJob(jobID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	foundJob, jobFound := m.jobs[jobID]
	if !jobFound {
		return nil, false
	}
	if runner := m.running[jobID]; runner != nil {
		foundJob.Progress = runner.Latest()
	}
	snapshot := *foundJob
	return &snapshot, true
}

// CancelJob requests cooperative cancellation of a running job. Work already
// in flight finishes naturally; remaining files are skipped.
func (m *Manager) CancelJob(jobID string) error {
	m.mu.RLock()
	_, jobFound := m.jobs[jobID]
	runner := m.running[jobID]
	m.mu.RUnlock()
	if !jobFound {
		return ErrJobNotFound
	}
	if runner == nil {
		return ErrNotCancellable
	}
	runner.Cancel()
	log.Info().Str("job_id", jobID).Msg("job cancellation requested")
	return nil
}

// SetBaseContext sets the base context used to control running engines.
// Intended to be set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight job workers finish or the context is
// done. Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close releases the shared build pool. Engines started afterwards fall back
// to synchronous assembly.
func (m *Manager) Close() {
	m.pool.Close()
}

// UseEngineFactory allows tests to inject a fake engine. Intended for test
// setup only, before any jobs are created.
func (m *Manager) UseEngineFactory(factory EngineFactory) {
	m.mu.Lock()
	m.newEngine = factory
	m.mu.Unlock()
}

func (m *Manager) persistJob(j *Job) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveJob(context.Background(), j) //nolint:wrapcheck
}
