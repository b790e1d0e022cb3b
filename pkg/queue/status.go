package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusStore keeps the latest status of every task.
type StatusStore interface {
	Save(ctx context.Context, status *TaskStatus) error
	Get(ctx context.Context, taskID string) (*TaskStatus, error)
}

type memoryEntry struct {
	status  TaskStatus
	expires time.Time
}

// MemoryStatusStore 进程内状态存储
type MemoryStatusStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStatusStore(ttl time.Duration) *MemoryStatusStore {
	return &MemoryStatusStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStatusStore) Save(_ context.Context, status *TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, id)
		}
	}
	s.entries[status.TaskID] = memoryEntry{status: *status, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStatusStore) Get(_ context.Context, taskID string) (*TaskStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[taskID]
	if !ok || s.now().After(e.expires) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	status := e.status
	return &status, nil
}

// RedisStatusStore 使用 Redis 保存任务状态
type RedisStatusStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStatusStore(client *redis.Client, ttl time.Duration) *RedisStatusStore {
	return &RedisStatusStore{redis: client, ttl: ttl}
}

func statusKey(taskID string) string {
	return fmt.Sprintf("task_status:%s", taskID)
}

func (s *RedisStatusStore) Save(ctx context.Context, status *TaskStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	// 设置过期时间
	if err := s.redis.Set(ctx, statusKey(status.TaskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (s *RedisStatusStore) Get(ctx context.Context, taskID string) (*TaskStatus, error) {
	data, err := s.redis.Get(ctx, statusKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	var status TaskStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}
