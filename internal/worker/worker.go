package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/beatcut/internal/edit"
	"github.com/bobarin/beatcut/internal/models"
	"github.com/bobarin/beatcut/internal/queue"
	"github.com/bobarin/beatcut/internal/retry"
	"github.com/bobarin/beatcut/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// JobStore records job progress. *db.DB implements it.
type JobStore interface {
	GetEditJob(ctx context.Context, id uuid.UUID) (*models.EditJob, error)
	MarkEditJobRunning(ctx context.Context, id uuid.UUID) error
	CompleteEditJob(ctx context.Context, id uuid.UUID, payload models.JSONB) error
	FailEditJob(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// JobQueue hands out queued jobs. *queue.Queue implements it.
type JobQueue interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

// PayloadUploader publishes finished payloads. *storage.Storage implements it.
type PayloadUploader interface {
	UploadJSON(ctx context.Context, objectPath string, v interface{}) error
	PublishedURL(ctx context.Context, objectPath string) (string, error)
}

// Runner runs one edit. *edit.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req edit.Request) (*edit.Result, error)
}

type Worker struct {
	store     JobStore
	queue     JobQueue
	uploader  PayloadUploader // nil = payloads live only in the database
	pipeline  Runner
	uploadSem chan struct{} // Limits concurrent Supabase uploads
	pollWait  time.Duration
}

func New(store JobStore, q JobQueue, uploader PayloadUploader, pipeline Runner) *Worker {
	return &Worker{
		store:     store,
		queue:     q,
		uploader:  uploader,
		pipeline:  pipeline,
		uploadSem: make(chan struct{}, 2),
		pollWait:  5 * time.Second,
	}
}

// uploadWithLimit wraps an upload call with a semaphore to prevent Supabase congestion.
func (w *Worker) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	select {
	case w.uploadSem <- struct{}{}:
		// Acquired slot
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled while waiting for slot: %w", ctx.Err())
	}
	defer func() { <-w.uploadSem }()

	log.Printf("[Upload] %s uploading...", label)
	return fn()
}

// Start processes assembly jobs until ctx is cancelled and every in-flight
// job has finished.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	log.Printf("[Worker] Started with concurrency: %d", concurrency)

	var g errgroup.Group
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			w.processQueue(ctx)
			return nil
		})
	}
	g.Wait()

	log.Println("[Worker] Shut down")
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, queue.QueueAssembleEdit, w.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Worker] Error dequeuing from %s: %v", queue.QueueAssembleEdit, err)
			if sleepErr := retry.Sleep(ctx, time.Second); sleepErr != nil {
				return
			}
			continue
		}
		if job == nil {
			continue // No job available, retry
		}

		if job.Type != queue.JobTypeAssembleEdit {
			log.Printf("[Worker] Skipping job %s with unknown type %q", job.ID, job.Type)
			continue
		}

		w.HandleJob(ctx, job.ID)
	}
}

// HandleJob runs one edit job to completion and records the outcome. The
// returned error is the one stored on the job.
func (w *Worker) HandleJob(ctx context.Context, jobID uuid.UUID) error {
	log.Printf("[Worker] Processing edit job %s", jobID)

	if err := w.store.MarkEditJobRunning(ctx, jobID); err != nil {
		log.Printf("[Worker] Failed to mark job %s running: %v", jobID, err)
		return err
	}

	err := w.run(ctx, jobID)

	// Record the outcome even if we are shutting down.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		log.Printf("[Worker] Job %s failed: %v", jobID, err)
		if ferr := w.store.FailEditJob(finishCtx, jobID, err.Error()); ferr != nil {
			log.Printf("[Worker] Failed to record failure of job %s: %v", jobID, ferr)
		}
		return err
	}

	log.Printf("[Worker] Job %s completed successfully", jobID)
	return nil
}

func (w *Worker) run(ctx context.Context, jobID uuid.UUID) error {
	job, err := w.store.GetEditJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get edit job: %w", err)
	}

	res, err := w.pipeline.Run(ctx, edit.Request{
		JobID:     job.ID.String(),
		SongSlug:  job.SongSlug,
		Seed:      job.Seed,
		ProjectID: deref(job.ProjectID),
		SongURL:   deref(job.SongURL),
		Localize:  job.Localize,
	})
	if err != nil {
		return err
	}
	payload := res.Payload

	if w.uploader != nil {
		objectPath := storage.EditPayloadPath(job.ID)
		err := w.uploadWithLimit(ctx, objectPath, func() error {
			return w.uploader.UploadJSON(ctx, objectPath, payload)
		})
		if err != nil {
			log.Printf("[Worker] WARNING: payload upload for job %s failed: %v", job.ID, err)
			payload.Meta.Warnings = append(payload.Meta.Warnings, fmt.Sprintf("payload upload failed: %v", err))
		} else if u, err := w.uploader.PublishedURL(ctx, objectPath); err != nil {
			log.Printf("[Worker] WARNING: no published URL for job %s: %v", job.ID, err)
			payload.Meta.Warnings = append(payload.Meta.Warnings, fmt.Sprintf("payload URL unavailable: %v", err))
		} else {
			payload.Meta.RenderURL = u
		}
	}

	doc, err := models.ToJSONB(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.CompleteEditJob(finishCtx, job.ID, doc); err != nil {
		return fmt.Errorf("failed to save payload: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
