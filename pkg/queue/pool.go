package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// Pool runs tasks in this process with bounded concurrency. Enqueue never
// blocks the caller: each task waits for a slot in its own goroutine.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	mux    *ServeMux
	store  StatusStore
	logger logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(size int, store StatusStore, log logger.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if store == nil {
		store = NewMemoryStatusStore(24 * time.Hour)
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		mux:    NewServeMux(),
		store:  store,
		logger: log.Named("queue"),
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Mux is where stage workers register their handlers.
func (p *Pool) Mux() *ServeMux {
	return p.mux
}

// Enqueue 将任务加入队列
func (p *Pool) Enqueue(ctx context.Context, task *Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	status := &TaskStatus{
		TaskID:    task.ID,
		Type:      task.Type,
		SessionID: task.Metadata["session_id"],
		Status:    "pending",
		StartedAt: task.CreatedAt,
	}
	if err := p.store.Save(ctx, status); err != nil {
		p.logger.Warn("Failed to save pending status",
			logger.String("taskId", task.ID),
			logger.Error(err),
		)
	}

	// jobs outlive the request that scheduled them
	jobCtx := context.WithoutCancel(ctx)
	go p.run(jobCtx, task)

	p.logger.Info("Task enqueued",
		logger.String("taskId", task.ID),
		logger.String("type", task.Type),
	)
	return nil
}

func (p *Pool) run(ctx context.Context, task *Task) {
	defer p.wg.Done()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.logger.Error("Failed to acquire job slot", logger.String("taskId", task.ID), logger.Error(err))
		return
	}
	defer p.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked",
				logger.String("taskId", task.ID),
				logger.Any("panic", r),
				logger.Stack(),
			)
		}
	}()

	start := time.Now()
	if err := p.mux.ProcessTask(ctx, task); err != nil {
		p.logger.Error("Task failed",
			logger.String("taskId", task.ID),
			logger.String("type", task.Type),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err),
		)
		return
	}
	p.logger.Info("Task finished",
		logger.String("taskId", task.ID),
		logger.String("type", task.Type),
		logger.Duration("elapsed", time.Since(start)),
	)
}

// GetTaskStatus 获取任务状态
func (p *Pool) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	return p.store.Get(ctx, taskID)
}

// SaveFinalStatus 保存任务状态
func (p *Pool) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
	return p.store.Save(ctx, status)
}

// Shutdown stops accepting tasks and waits for queued and running ones until ctx ends.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
}
