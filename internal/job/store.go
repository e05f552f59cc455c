package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	fileutil "mediapack/internal/file"
)

// Store abstracts persistence for jobs and archive destination resolution.
// Default implementation is file-based; the interface allows plugging a
// DB-backed store later.
type Store interface {
	SaveJob(ctx context.Context, j *Job) error
	LoadJobs(ctx context.Context) ([]*Job, error)
	EnsureJobDir(ctx context.Context, jobID string) (string, error)
	ArchivePath(jobID string) string
}

// fileStore implements Store using the local filesystem under dataDir.
type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) Store { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) jobDir(jobID string) string {
	return filepath.Join(s.dataDir, "jobs", jobID)
}

func (s *fileStore) statusPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "status.json")
}

func (s *fileStore) ArchivePath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "archive.zip")
}

func (s *fileStore) EnsureJobDir(_ context.Context, jobID string) (string, error) {
	dir := s.jobDir(jobID)
	if err := fileutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("ensure job dir: %w", err)
	}
	return dir, nil
}

func (s *fileStore) SaveJob(ctx context.Context, j *Job) error {
	if _, err := s.EnsureJobDir(ctx, j.ID); err != nil {
		return err
	}
	return fileutil.WriteJSONAtomic(s.statusPath(j.ID), j) //nolint:wrapcheck
}

func (s *fileStore) LoadJobs(_ context.Context) ([]*Job, error) {
	root := filepath.Join(s.dataDir, "jobs")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	jobs := make([]*Job, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(s.statusPath(e.Name())) //nolint:gosec // path is controlled by application
		if err != nil {
			continue
		}
		var j Job
		if err := json.Unmarshal(b, &j); err != nil {
			continue
		}
		jj := j
		jobs = append(jobs, &jj)
	}
	return jobs, nil
}
