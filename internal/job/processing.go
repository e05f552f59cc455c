package job

import (
	"bytes"
	"context"
	"errors"

	"mediapack/internal/archive"
	fileutil "mediapack/internal/file"

	"github.com/rs/zerolog/log"
)

// startProcessing runs the archive engine for one job. If slotAlreadyAcquired
// is false, the function acquires a processing slot and releases it on return.
func (m *Manager) startProcessing(jobID string, slotAlreadyAcquired bool) {
	if !slotAlreadyAcquired {
		m.semaphore <- struct{}{}
	}
	defer func() { <-m.semaphore }()

	m.mu.Lock()
	jobToProcess, jobFound := m.jobs[jobID]
	if !jobFound {
		m.mu.Unlock()
		return
	}
	engine := m.newEngine(jobToProcess.Files, jobToProcess.Label, jobToProcess.Options)
	jobToProcess.Status = StatusRunning
	m.running[jobID] = engine
	processingContext := m.baseCtx
	if processingContext == nil {
		processingContext = context.Background()
	}
	m.mu.Unlock()
	if err := m.persistJob(jobToProcess); err != nil {
		log.Warn().Str("job_id", jobID).Err(err).Msg("persist running state failed")
	}

	// Drain progress snapshots into the job while the engine runs. The channel
	// is closed by the engine on its terminal state.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for snapshot := range engine.Progress() {
			m.mu.Lock()
			jobToProcess.Progress = snapshot
			m.mu.Unlock()
		}
	}()

	data, cleanup, err := engine.Run(processingContext)
	<-drained

	m.mu.Lock()
	delete(m.running, jobID)
	jobToProcess.Progress = engine.Latest()
	m.mu.Unlock()

	switch {
	case err == nil:
		m.finishJob(jobToProcess, data)
	case errors.Is(err, archive.ErrCancelled):
		m.settleJob(jobToProcess, StatusCancelled, "")
	default:
		m.settleJob(jobToProcess, StatusFailed, err.Error())
	}
	if cleanup != nil {
		if cerr := cleanup(); cerr != nil {
			log.Warn().Str("job_id", jobID).Err(cerr).Msg("engine cleanup failed")
		}
	}
}

// finishJob writes the archive bytes to the job's directory and marks it done.
func (m *Manager) finishJob(jobEntity *Job, data []byte) {
	destination := m.store.ArchivePath(jobEntity.ID)
	if err := fileutil.CopyAtomic(destination, bytes.NewReader(data)); err != nil {
		log.Error().Str("job_id", jobEntity.ID).Err(err).Msg("write archive failed")
		m.settleJob(jobEntity, StatusFailed, "write archive: "+err.Error())
		return
	}

	m.mu.Lock()
	jobEntity.Status = StatusDone
	jobEntity.ArchivePath = destination
	jobEntity.Error = jobEntity.Progress.Err
	m.mu.Unlock()
	if err := m.persistJob(jobEntity); err != nil {
		log.Warn().Str("job_id", jobEntity.ID).Err(err).Msg("persist done state failed")
	}
	log.Info().Str("job_id", jobEntity.ID).Str("path", destination).
		Int("bytes", len(data)).Msg("archive job finished")
}

func (m *Manager) settleJob(jobEntity *Job, status Status, errMsg string) {
	m.mu.Lock()
	jobEntity.Status = status
	if errMsg != "" {
		jobEntity.Error = errMsg
	}
	m.mu.Unlock()
	if err := m.persistJob(jobEntity); err != nil {
		log.Warn().Str("job_id", jobEntity.ID).Err(err).Msg("persist final state failed")
	}
}
