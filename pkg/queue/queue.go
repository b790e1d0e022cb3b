package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TaskType 定义任务类型
const (
	TaskTypeExtractImages   = "extract:images"
	TaskTypeGenerateAltText = "alttext:generate"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrPoolClosed   = errors.New("pool is shut down")
	ErrNoHandler    = errors.New("no handler registered")
)

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	SaveFinalStatus(ctx context.Context, status *TaskStatus) error
}

// Task 定义任务结构
type Task struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]string      `json:"metadata"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Decode copies the payload into v through its JSON form.
func (t *Task) Decode(v interface{}) error {
	data, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// TaskStatus 定义任务状态
type TaskStatus struct {
	TaskID     string    `json:"taskId"`
	Type       string    `json:"type,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// HandlerFunc processes one task.
type HandlerFunc func(ctx context.Context, task *Task) error

// ServeMux 按任务类型分发
type ServeMux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewServeMux() *ServeMux {
	return &ServeMux{handlers: make(map[string]HandlerFunc)}
}

func (m *ServeMux) HandleFunc(taskType string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[taskType] = fn
}

func (m *ServeMux) ProcessTask(ctx context.Context, task *Task) error {
	m.mu.RLock()
	fn, ok := m.handlers[task.Type]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w for task type %q", ErrNoHandler, task.Type)
	}
	return fn(ctx, task)
}
