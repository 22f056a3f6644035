package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/ragline/raglined/internal/storage"
)

// JobTypeDocumentIngest is the queue type for document ingestion runs.
const JobTypeDocumentIngest = "document_ingest"

// DefaultConcurrency bounds simultaneous ingestion runs, which in turn
// bounds embedding-API and database load.
const DefaultConcurrency = 5

// JobQueue abstracts the durable job queue the worker drains.
type JobQueue interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	RequeueInterruptedJobs(types []string) (int, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) (exhausted bool, err error)
	FailJobPermanently(id string, errMsg string) error
	SaveJobCheckpoint(id string, raw []byte) error
}

// ingestPayload is the queue message: one document id per upload event.
type ingestPayload struct {
	DocumentID string `json:"documentId"`
}

// NewJob builds the ingestion job emitted at upload confirmation.
func NewJob(documentID string, maxAttempts int) (storage.Job, error) {
	payload, err := json.Marshal(ingestPayload{DocumentID: documentID})
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding ingest payload: %w", err)
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeDocumentIngest,
		PayloadJSON: string(payload),
		MaxAttempts: maxAttempts,
	}, nil
}

// Worker drains document_ingest jobs from the queue and runs the pipeline,
// with a bounded pool of concurrent runs. Runs for different documents are
// independent; the database is the only shared state.
type Worker struct {
	queue    JobQueue
	pipeline *Pipeline
	docs     DocumentStore
	notifier Notifier
	pool     *ants.Pool
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. concurrency <= 0 defaults to
// DefaultConcurrency; pollInterval <= 0 defaults to 500ms.
func NewWorker(queue JobQueue, pipeline *Pipeline, docs DocumentStore, notifier Notifier, concurrency int, pollInterval time.Duration) (*Worker, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	return &Worker{
		queue:    queue,
		pipeline: pipeline,
		docs:     docs,
		notifier: notifier,
		pool:     pool,
		poll:     pollInterval,
		logger:   slog.Default().With("component", "ingest-worker"),
	}, nil
}

// Run claims jobs until ctx is cancelled, dispatching each to the pool.
// Submit blocks when all pool workers are busy, which is the backpressure
// that keeps claims from outpacing processing.
func (w *Worker) Run(ctx context.Context) {
	defer w.pool.Release()

	// Jobs left running by a crashed process would never be claimed again;
	// their checkpoints make the redelivered run cheap.
	if n, err := w.queue.RequeueInterruptedJobs([]string{JobTypeDocumentIngest}); err != nil {
		w.logger.Error("requeueing interrupted jobs failed", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.ClaimNextJob([]string{JobTypeDocumentIngest})
		if err != nil {
			w.logger.Error("claiming job failed", "error", err)
		}
		if job != nil {
			wg.Add(1)
			claimed := job
			if err := w.pool.Submit(func() {
				defer wg.Done()
				w.process(ctx, claimed)
			}); err != nil {
				wg.Done()
				w.logger.Error("submitting job to pool failed", "job_id", claimed.ID, "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job synchronously. Used by tests and
// for drain-style invocations. Returns true if a job was processed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNextJob([]string{JobTypeDocumentIngest})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

// process runs the pipeline for one claimed job and settles the job row.
// The document-level failure handler runs exactly once per terminal failure:
// either on a terminal error or when the transient retry budget is spent.
func (w *Worker) process(ctx context.Context, job *storage.Job) {
	var payload ingestPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil || payload.DocumentID == "" {
		// No document id is resolvable from a malformed payload; there is
		// nothing to mark FAILED, so log and bury the job.
		w.logger.Error("ingest job payload malformed", "job_id", job.ID, "error", err)
		if failErr := w.queue.FailJobPermanently(job.ID, "malformed payload"); failErr != nil {
			w.logger.Error("failed to bury malformed job", "job_id", job.ID, "error", failErr)
		}
		return
	}

	cp, err := LoadCheckpoint(job.CheckpointJSON, func(raw []byte) error {
		return w.queue.SaveJobCheckpoint(job.ID, raw)
	})
	if err != nil {
		// A corrupt checkpoint means restarting the run from scratch.
		w.logger.Warn("discarding unreadable checkpoint", "job_id", job.ID, "error", err)
		cp, _ = LoadCheckpoint("", func(raw []byte) error {
			return w.queue.SaveJobCheckpoint(job.ID, raw)
		})
	}

	err = w.pipeline.Process(ctx, payload.DocumentID, cp)
	if err == nil {
		if err := w.queue.CompleteJob(job.ID); err != nil {
			w.logger.Error("completing job failed", "job_id", job.ID, "error", err)
		}
		return
	}

	if IsTerminal(err) {
		w.logger.Warn("ingestion failed terminally", "job_id", job.ID, "document_id", payload.DocumentID, "error", err)
		if failErr := w.queue.FailJobPermanently(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failing job failed", "job_id", job.ID, "error", failErr)
		}
		w.failDocument(payload.DocumentID, err)
		return
	}

	w.logger.Warn("ingestion failed, may retry", "job_id", job.ID, "document_id", payload.DocumentID, "error", err)
	exhausted, failErr := w.queue.FailJob(job.ID, err.Error())
	if failErr != nil {
		w.logger.Error("failing job failed", "job_id", job.ID, "error", failErr)
		return
	}
	if exhausted {
		w.failDocument(payload.DocumentID, err)
	}
}

func (w *Worker) failDocument(documentID string, cause error) {
	if err := w.docs.MarkDocumentFailed(documentID, cause.Error()); err != nil {
		w.logger.Error("marking document failed", "document_id", documentID, "error", err)
		return
	}
	if w.notifier != nil {
		w.notifier.DocumentCompleted(documentID, storage.StatusFailed)
	}
}
