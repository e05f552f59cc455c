package job

import (
	"context"
	"fmt"
)

// LoadFromDisk scans the data dir and loads persisted jobs into memory. A job
// that was running or freshly created when the previous process stopped is
// marked failed; its engine state is gone.
func (m *Manager) LoadFromDisk() error {
	if m.store == nil {
		return nil
	}
	loadedJobs, err := m.store.LoadJobs(context.Background())
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	for _, jobEntity := range loadedJobs {
		if jobEntity.Status == StatusRunning || jobEntity.Status == StatusCreated {
			jobEntity.Status = StatusFailed
			jobEntity.Error = "interrupted by restart"
			_ = m.persistJob(jobEntity)
		}
		m.mu.Lock()
		m.jobs[jobEntity.ID] = jobEntity
		m.mu.Unlock()
	}
	return nil
}
