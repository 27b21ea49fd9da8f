package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/motionforge/api/internal/client"
	"github.com/motionforge/api/internal/config"
	"github.com/motionforge/api/internal/model"
	"github.com/motionforge/api/internal/service"
	"github.com/motionforge/api/internal/websocket"
)

const (
	// publishedProgress is reported once the bundle is live for the render
	// function to fetch.
	publishedProgress = 20

	// renderProgressCap keeps the reported figure below 100 until the
	// artifact is actually persisted in our own storage.
	renderProgressCap = 95
)

// RenderWorker drives a render job through its pipeline: fetch the uploaded
// bundle, unpack it, publish it for the render function, invoke the render,
// poll its progress, then persist the artifact. Any stage failure becomes the
// job's terminal error; the worker itself never retries.
type RenderWorker struct {
	jobs       *service.JobService
	renderer   client.RemoteRenderer
	storage    client.StorageClient
	hub        *websocket.Hub
	httpClient *http.Client

	pollInterval  time.Duration
	renderTimeout time.Duration
}

// NewRenderWorker creates a new render worker
func NewRenderWorker(jobs *service.JobService, renderer client.RemoteRenderer, storage client.StorageClient, hub *websocket.Hub, cfg *config.RenderFnConfig) *RenderWorker {
	pollInterval := time.Duration(cfg.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	renderTimeout := time.Duration(cfg.Timeout) * time.Minute
	if renderTimeout <= 0 {
		renderTimeout = 30 * time.Minute
	}

	return &RenderWorker{
		jobs:          jobs,
		renderer:      renderer,
		storage:       storage,
		hub:           hub,
		httpClient:    &http.Client{Timeout: 120 * time.Second},
		pollInterval:  pollInterval,
		renderTimeout: renderTimeout,
	}
}

// ProcessTask handles one render job message from the queue
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.RenderJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := payload.JobID
	log.Printf("Starting render job: %s", jobID)

	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	// Redelivery after a terminal write changes nothing.
	if job.Status.IsTerminal() {
		log.Printf("Render job %s already %s, skipping", jobID, job.Status)
		return nil
	}

	if err := w.process(ctx, job); err != nil {
		w.failJob(ctx, jobID, err.Error())
		return err
	}

	log.Printf("Render job %s completed", jobID)
	return nil
}

// process runs the pipeline stages strictly in order. The scratch workspace
// is owned by this invocation alone and released on every exit path.
func (w *RenderWorker) process(ctx context.Context, job *model.RenderJob) error {
	if err := w.jobs.MarkRendering(ctx, job.ID); err != nil {
		return fmt.Errorf("mark rendering: %w", err)
	}
	w.broadcastProgress(job.ID, 0)

	scratch, err := os.MkdirTemp("", "render-"+job.ID+"-")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(scratch)

	zipPath := filepath.Join(scratch, "bundle.zip")
	if err := w.fetchBundle(ctx, job.InputKey, zipPath); err != nil {
		return fmt.Errorf("fetch bundle: %w", err)
	}

	siteDir := filepath.Join(scratch, "site")
	if err := unpackBundle(zipPath, siteDir); err != nil {
		return fmt.Errorf("unpack bundle: %w", err)
	}

	serveURL, err := w.publishSite(ctx, job.ID, siteDir)
	if err != nil {
		return fmt.Errorf("publish bundle: %w", err)
	}
	w.updateProgress(ctx, job.ID, publishedProgress)

	handle, err := w.renderer.StartRender(ctx, &client.StartRenderRequest{
		ServeURL:      serveURL,
		CompositionID: job.CompositionID,
		Config:        job.Config,
	})
	if err != nil {
		return fmt.Errorf("start render: %w", err)
	}

	outputURL, err := w.waitForRender(ctx, job.ID, handle)
	if err != nil {
		return err
	}

	outputKey, err := w.storeArtifact(ctx, job, outputURL)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}

	if err := w.jobs.CompleteJob(ctx, job.ID, outputKey); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	w.broadcastComplete(job.ID, outputKey)

	return nil
}

// fetchBundle downloads the caller's uploaded bundle into the workspace
func (w *RenderWorker) fetchBundle(ctx context.Context, inputKey, zipPath string) error {
	rc, err := w.storage.Download(ctx, inputKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// publishSite uploads the unpacked bundle under a per-job prefix so the
// render function can fetch it, rewriting root-absolute resource paths in
// the entry document on the way up. Returns the serve URL of the entry.
func (w *RenderWorker) publishSite(ctx context.Context, jobID, siteDir string) (string, error) {
	entryFound := false

	err := filepath.WalkDir(siteDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(siteDir, path)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("sites/%s/%s", jobID, filepath.ToSlash(rel))

		if rel == entryDocument {
			entryFound = true
			doc, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			_, err = w.storage.Upload(ctx, key, bytes.NewReader(rewriteRootPaths(doc)), contentTypeForFile(rel))
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = w.storage.Upload(ctx, key, f, contentTypeForFile(rel))
		return err
	})
	if err != nil {
		return "", err
	}

	if !entryFound {
		return "", fmt.Errorf("bundle has no %s", entryDocument)
	}

	return w.storage.GetPublicURL(fmt.Sprintf("sites/%s/%s", jobID, entryDocument)), nil
}

// waitForRender polls the render function at a fixed interval until the
// render finishes, reports a fatal error, or the deadline passes. Transport
// errors while polling are logged and polled through; only a remote-reported
// fatal error aborts early.
func (w *RenderWorker) waitForRender(ctx context.Context, jobID string, handle *client.RenderHandle) (string, error) {
	deadline := time.Now().Add(w.renderTimeout)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(w.pollInterval):
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("render timed out after %v", w.renderTimeout)
		}

		progress, err := w.renderer.GetRenderProgress(ctx, handle)
		if err != nil {
			log.Printf("Render job %s: progress poll failed: %v", jobID, err)
			continue
		}

		if progress.FatalError != "" {
			return "", fmt.Errorf("render failed: %s", progress.FatalError)
		}

		if progress.Done {
			if progress.OutputURL == "" {
				return "", fmt.Errorf("render completed without an output file")
			}
			return progress.OutputURL, nil
		}

		w.updateProgress(ctx, jobID, mapRenderProgress(progress.OverallProgress))
	}
}

// mapRenderProgress maps the remote 0..1 fraction into the 20..95 band.
// The cap holds until the artifact is persisted, so a client never sees
// 100% for a job whose output does not exist yet.
func mapRenderProgress(fraction float64) int {
	if fraction < 0 {
		fraction = 0
	}
	p := publishedProgress + int(fraction*75)
	if p > renderProgressCap {
		p = renderProgressCap
	}
	return p
}

// storeArtifact fetches the render output from the remote's result location
// and re-uploads it under an owner-scoped key in our own storage
func (w *RenderWorker) storeArtifact(ctx context.Context, job *model.RenderJob, outputURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch render output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("render output fetch returned status %d", resp.StatusCode)
	}

	key := fmt.Sprintf("renders/%s/%s%s", job.OwnerID, job.ID, artifactExt(outputURL))
	if _, err := w.storage.Upload(ctx, key, resp.Body, contentTypeForFile(key)); err != nil {
		return "", err
	}

	return key, nil
}

// artifactExt keeps the remote output's extension when it has one
func artifactExt(outputURL string) string {
	if u, err := url.Parse(outputURL); err == nil {
		if ext := filepath.Ext(u.Path); ext != "" {
			return ext
		}
	}
	return ".mp4"
}

// updateProgress writes progress to the record and pushes it to subscribers
func (w *RenderWorker) updateProgress(ctx context.Context, jobID string, progress int) {
	if err := w.jobs.UpdateProgress(ctx, jobID, progress); err != nil {
		log.Printf("Failed to update progress: %v", err)
	}
	w.broadcastProgress(jobID, progress)
}

func (w *RenderWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.jobs.FailJob(ctx, jobID, errMsg); err != nil {
		log.Printf("Failed to mark job as failed: %v", err)
	}
	if w.hub != nil {
		w.hub.BroadcastError(jobID, "RENDER_FAILED", errMsg)
	}
}

func (w *RenderWorker) broadcastProgress(jobID string, progress int) {
	if w.hub != nil {
		w.hub.BroadcastProgress(jobID, progress, model.JobStatusRendering)
	}
}

func (w *RenderWorker) broadcastComplete(jobID, outputKey string) {
	if w.hub != nil {
		w.hub.BroadcastComplete(jobID, outputKey)
	}
}
