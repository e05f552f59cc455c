package job

import (
	"time"

	"mediapack/internal/archive"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Job is one archive request tracked by the service: the requested file list
// plus the engine's latest progress snapshot and the on-disk archive location
// once the engine finishes.
type Job struct {
	ID          string                   `json:"id"`
	Status      Status                   `json:"status"`
	CreatedAt   time.Time                `json:"created_at"`
	Label       string                   `json:"label"`
	Files       []archive.FileDescriptor `json:"files"`
	Options     archive.Options          `json:"options"`
	Progress    archive.Progress         `json:"progress"`
	ArchivePath string                   `json:"archive_path,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

type Options struct {
	DataDir           string
	MaxConcurrentJobs int
	BuildWorkers      int
	Archive           archive.Options
}

// Overrides carries optional per-job engine tuning. Nil fields keep the
// configured defaults, so a caller can set one knob without resetting the
// rest. An explicit compression_level of 0 selects store-only assembly.
type Overrides struct {
	CompressionLevel *int `json:"compression_level"`
	ChunkSize        *int `json:"chunk_size"`
	MaxParallel      *int `json:"max_parallel"`
}

func (o *Overrides) apply(base archive.Options) archive.Options {
	if o == nil {
		return base
	}
	if o.CompressionLevel != nil {
		base.CompressionLevel = *o.CompressionLevel
	}
	if o.ChunkSize != nil {
		base.ChunkSize = *o.ChunkSize
	}
	if o.MaxParallel != nil {
		base.MaxParallel = *o.MaxParallel
	}
	return base
}

const (
	maxFilesPerJob       = 500
	defaultMaxConcurrent = 3
	defaultBuildWorkers  = 2
)
