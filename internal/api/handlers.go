package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mediapack/internal/archive"
	"mediapack/internal/job"
)

// createJobRequest carries optional engine overrides as pointers so an
// omitted field keeps the configured default while an explicit
// compression_level of 0 still means store-only.
type createJobRequest struct {
	Label   string                   `json:"label"`
	Files   []archive.FileDescriptor `json:"files"`
	Options *job.Overrides           `json:"options,omitempty"`
}

type createJobResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

type jobResponse struct {
	ID         string                   `json:"id"`
	Status     job.Status               `json:"status"`
	CreatedAt  string                   `json:"created_at"`
	Label      string                   `json:"label"`
	Files      []archive.FileDescriptor `json:"files"`
	Progress   archive.Progress         `json:"progress"`
	Error      string                   `json:"error,omitempty"`
	ArchiveURL string                   `json:"archive_url,omitempty"`
}

type API struct {
	jobManager *job.Manager
}

func NewAPI(jobManager *job.Manager) *API {
	return &API{jobManager: jobManager}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/jobs", a.CreateJob)
		api.GET("/jobs/:id", a.GetJob)
		api.POST("/jobs/:id/cancel", a.CancelJob)
		api.GET("/jobs/:id/archive", a.DownloadArchive)
	}
}

// CreateJob registers an archive job for a list of media files and starts it
func (a *API) CreateJob(c *gin.Context) {
	if a.jobManager.IsBusy() {
		log.Warn().Msg("rejecting job creation: server is at max concurrency")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		return
	}
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid create job request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	createdJob, err := a.jobManager.CreateJob(req.Label, req.Files, req.Options)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create job")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("job_id", createdJob.ID).Int("files", len(createdJob.Files)).
		Str("label", createdJob.Label).Msg("job created")
	c.JSON(http.StatusCreated, createJobResponse{JobID: createdJob.ID, Status: createdJob.Status})
}

// GetJob returns job status including the latest progress snapshot
func (a *API) GetJob(c *gin.Context) {
	id := c.Param("id")
	if foundJob, ok := a.jobManager.GetJob(id); ok {
		c.JSON(http.StatusOK, toJobResponse(foundJob))
		return
	}
	log.Warn().Str("job_id", id).Msg("job not found on get")
	c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
}

// CancelJob requests cooperative cancellation of a running job
func (a *API) CancelJob(c *gin.Context) {
	id := c.Param("id")
	err := a.jobManager.CancelJob(id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	case errors.Is(err, job.ErrJobNotFound):
		log.Warn().Str("job_id", id).Msg("job not found on cancel")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Warn().Str("job_id", id).Err(err).Msg("cancel rejected")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	}
}

// DownloadArchive serves the archive file when the job is done
func (a *API) DownloadArchive(c *gin.Context) {
	id := c.Param("id")
	foundJob, ok := a.jobManager.GetJob(id)
	if !ok {
		log.Warn().Str("job_id", id).Msg("job not found on download")
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if foundJob.Status != job.StatusDone || foundJob.ArchivePath == "" {
		log.Warn().Str("job_id", id).Str("status", string(foundJob.Status)).Msg("archive not ready to download")
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive not ready"})
		return
	}
	log.Info().Str("job_id", id).Str("path", foundJob.ArchivePath).Msg("serving archive download")
	c.FileAttachment(foundJob.ArchivePath, "archive-"+foundJob.ID+".zip")
}

func toJobResponse(jobEntity *job.Job) jobResponse {
	resp := jobResponse{
		ID:        jobEntity.ID,
		Status:    jobEntity.Status,
		CreatedAt: jobEntity.CreatedAt.UTC().Format(time.RFC3339),
		Label:     jobEntity.Label,
		Files:     jobEntity.Files,
		Progress:  jobEntity.Progress,
		Error:     jobEntity.Error,
	}
	if jobEntity.Status == job.StatusDone {
		resp.ArchiveURL = "/api/v1/jobs/" + jobEntity.ID + "/archive"
	}
	return resp
}
