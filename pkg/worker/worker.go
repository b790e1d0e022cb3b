package worker

import (
	"context"

	"github.com/feichai0017/pdf-alttext/pkg/logger"
	"github.com/feichai0017/pdf-alttext/pkg/queue"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

// BaseWorker binds handlers to the in-process task pool.
type BaseWorker struct {
	pool     *queue.Pool
	logger   logger.Logger
	stopChan chan struct{}
}

func (w *BaseWorker) Stop() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	return nil
}

// Done is closed once Stop has been called.
func (w *BaseWorker) Done() <-chan struct{} {
	return w.stopChan
}
