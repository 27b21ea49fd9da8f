package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/motionforge/api/internal/client"
	"github.com/motionforge/api/internal/model"
)

const TaskTypeRender = "render:process"

// ErrNotOwner is returned when a caller reads a job they do not own
var ErrNotOwner = errors.New("job not owned by caller")

// downloadExpiry bounds how long a signed artifact URL stays valid
const downloadExpiry = time.Hour

// JobService owns render job records. It creates them at submission; every
// later mutation comes from the render worker and is funneled through the
// transition guards here, so terminal records never change and progress
// never moves backwards.
type JobService struct {
	repo        JobRepository
	asynqClient *asynq.Client
	storage     client.StorageClient
}

func NewJobService(repo JobRepository, asynqClient *asynq.Client, storage client.StorageClient) *JobService {
	return &JobService{
		repo:        repo,
		asynqClient: asynqClient,
		storage:     storage,
	}
}

// StartRender persists a queued job record and enqueues it for the worker.
// If the enqueue fails after the record was written, the record stays queued
// and the caller gets the error; there is no reconciliation sweep.
func (s *JobService) StartRender(ctx context.Context, ownerID string, req *model.RenderStartRequest) (*model.RenderStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	job := &model.RenderJob{
		ID:            jobID,
		OwnerID:       ownerID,
		Status:        model.JobStatusQueued,
		Progress:      0,
		CompositionID: req.CompositionID,
		Config:        req.Config,
		InputKey:      req.InputKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newRenderTask(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	info, err := s.asynqClient.Enqueue(task,
		asynq.Queue("render"),
		asynq.MaxRetry(3),
		asynq.Retention(jobRetention),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.RenderStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		TaskID:    info.ID,
		CreatedAt: now,
	}, nil
}

// GetStatus projects a job record into the client-facing status payload.
// The download URL is signed lazily, only for done jobs.
func (s *JobService) GetStatus(ctx context.Context, ownerID, jobID string) (*model.RenderStatusResponse, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	resp := &model.RenderStatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Error:     job.ErrorMessage,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}

	if job.Status == model.JobStatusDone && job.OutputKey != "" && s.storage != nil {
		url, err := s.storage.GetSignedURL(ctx, job.OutputKey, downloadExpiry)
		if err != nil {
			return nil, fmt.Errorf("failed to sign download URL: %w", err)
		}
		resp.DownloadURL = url
	}

	return resp, nil
}

// GetJob returns the raw record (worker use)
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.RenderJob, error) {
	return s.repo.Get(ctx, jobID)
}

// MarkRendering transitions a queued job to rendering (called by worker)
func (s *JobService) MarkRendering(ctx context.Context, jobID string) error {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}

	job.Status = model.JobStatusRendering
	job.Progress = 0
	job.UpdatedAt = time.Now()

	return s.repo.Save(ctx, job)
}

// UpdateProgress advances a rendering job's progress (called by worker).
// Terminal records are left alone and progress never decreases, so pollers
// observe a monotonic sequence regardless of sampling cadence.
func (s *JobService) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return nil
	}

	if progress <= job.Progress {
		return nil
	}
	if progress > 100 {
		progress = 100
	}

	job.Status = model.JobStatusRendering
	job.Progress = progress
	job.UpdatedAt = time.Now()

	return s.repo.Save(ctx, job)
}

// CompleteJob marks a job done with its artifact key (called by worker).
// The output key is written in the same save as the status flip: a done
// record always has an output and only done records ever have one.
func (s *JobService) CompleteJob(ctx context.Context, jobID, outputKey string) error {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return nil
	}

	job.Status = model.JobStatusDone
	job.Progress = 100
	job.OutputKey = outputKey
	job.UpdatedAt = time.Now()

	return s.repo.Save(ctx, job)
}

// FailJob marks a job failed with a human-readable reason (called by worker).
// Progress is left wherever it was.
func (s *JobService) FailJob(ctx context.Context, jobID, errMsg string) error {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return nil
	}

	job.Status = model.JobStatusError
	job.ErrorMessage = &errMsg
	job.UpdatedAt = time.Now()

	return s.repo.Save(ctx, job)
}

func newRenderTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.RenderJobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRender, data), nil
}
