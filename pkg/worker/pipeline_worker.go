package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
	"github.com/feichai0017/pdf-alttext/pkg/queue"
)

// StageHandler runs the pipeline stages for a session.
type StageHandler interface {
	HandleExtraction(ctx context.Context, sid string) error
	HandleAltText(ctx context.Context, sid string, images []string, lang string) error
}

// ExtractPayload is the payload of an extract:images task.
type ExtractPayload struct {
	SessionID string `json:"session_id"`
}

// AltTextPayload is the payload of an alttext:generate task.
type AltTextPayload struct {
	SessionID string   `json:"session_id"`
	Images    []string `json:"images"`
	Lang      string   `json:"lang"`
}

type PipelineWorker struct {
	BaseWorker
	stages StageHandler
}

func NewPipelineWorker(pool *queue.Pool, stages StageHandler, log logger.Logger) *PipelineWorker {
	return &PipelineWorker{
		BaseWorker: BaseWorker{
			pool:     pool,
			logger:   log.Named("worker"),
			stopChan: make(chan struct{}),
		},
		stages: stages,
	}
}

func (w *PipelineWorker) registerHandlers() {
	mux := w.pool.Mux()
	mux.HandleFunc(queue.TaskTypeExtractImages, w.tracked(w.handleExtract))
	mux.HandleFunc(queue.TaskTypeGenerateAltText, w.tracked(w.handleAltText))
}

// Start registers the stage handlers. The pool itself is owned by the caller.
func (w *PipelineWorker) Start(ctx context.Context) error {
	w.registerHandlers()
	w.logger.Info("Pipeline worker started", logger.Int("concurrency", w.pool.Size()))

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.Done():
		}
	}()
	return nil
}

func (w *PipelineWorker) handleExtract(ctx context.Context, task *queue.Task) error {
	var p ExtractPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	if p.SessionID == "" {
		return fmt.Errorf("invalid task data: missing session_id")
	}
	return w.stages.HandleExtraction(logger.WithSession(ctx, p.SessionID), p.SessionID)
}

func (w *PipelineWorker) handleAltText(ctx context.Context, task *queue.Task) error {
	var p AltTextPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	if p.SessionID == "" || p.Lang == "" {
		return fmt.Errorf("invalid task data: missing session_id or lang")
	}
	return w.stages.HandleAltText(logger.WithSession(ctx, p.SessionID), p.SessionID, p.Images, p.Lang)
}

// tracked records running, failed and completed status around fn and turns
// panics into failures.
func (w *PipelineWorker) tracked(fn queue.HandlerFunc) queue.HandlerFunc {
	return func(ctx context.Context, task *queue.Task) (err error) {
		log := w.logger.With(
			logger.String("taskId", task.ID),
			logger.String("type", task.Type),
		)
		log.Info("Processing task", logger.Any("payload", task.Payload))

		status := &queue.TaskStatus{
			TaskID:    task.ID,
			Type:      task.Type,
			SessionID: task.Metadata["session_id"],
			Status:    string(models.JobRunning),
			StartedAt: time.Now(),
		}
		w.save(ctx, status, log)

		defer func() {
			if r := recover(); r != nil {
				log.Error("Task handler panicked", logger.Any("panic", r), logger.Stack())
				err = fmt.Errorf("task %s panicked: %v", task.ID, r)
			}

			status.FinishedAt = time.Now()
			if err != nil {
				status.Status = string(models.JobFailed)
				status.Error = err.Error()
			} else {
				status.Status = string(models.JobCompleted)
				status.Progress = 100
			}
			w.save(ctx, status, log)
		}()

		return fn(ctx, task)
	}
}

func (w *PipelineWorker) save(ctx context.Context, status *queue.TaskStatus, log logger.Logger) {
	if err := w.pool.SaveFinalStatus(ctx, status); err != nil {
		log.Error("Failed to write task status", logger.Error(err))
	}
}
